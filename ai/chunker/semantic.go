package chunker

import (
	"context"
	"math"
	"strings"

	"github.com/pkg/errors"
)

// DefaultSemanticThreshold is the cosine-similarity floor below which a
// sentence starts a new semantic chunk.
const DefaultSemanticThreshold = 0.5

// Embedder is the slice of the embedding provider the semantic strategy
// needs.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// ChunkSemantic groups consecutive sentences whose embeddings stay close
// to the running chunk centroid. A similarity drop below the threshold,
// or the chunk growing past ChunkSize characters, starts a new chunk.
// Boundaries are deterministic for a deterministic embedder.
func (c *Chunker) ChunkSemantic(ctx context.Context, text string, emb Embedder) ([]Chunk, error) {
	if c.cfg.Strategy != Semantic {
		return nil, errors.Errorf("chunker: ChunkSemantic requires semantic strategy, have %q", c.cfg.Strategy)
	}
	if emb == nil {
		return nil, errors.New("chunker: semantic strategy requires an embedder")
	}

	units := splitSentences(text)
	if len(units) == 0 {
		return nil, nil
	}

	texts := make([]string, len(units))
	for i, u := range units {
		texts[i] = u.text
	}
	vectors, err := emb.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, errors.Wrap(err, "chunker: failed to embed sentences")
	}
	if len(vectors) != len(units) {
		return nil, errors.Errorf("chunker: embedder returned %d vectors for %d sentences", len(vectors), len(units))
	}

	threshold := c.cfg.SemanticThreshold
	if threshold <= 0 {
		threshold = DefaultSemanticThreshold
	}

	var chunks []Chunk
	group := []unit{units[0]}
	groupLen := len([]rune(units[0].text))
	centroid := append([]float32(nil), vectors[0]...)

	flush := func() {
		chunks = append(chunks, packUnits(group))
	}

	for i := 1; i < len(units); i++ {
		n := len([]rune(units[i].text))
		if cosine(centroid, vectors[i]) < threshold || groupLen+n > c.cfg.ChunkSize {
			flush()
			group = []unit{units[i]}
			groupLen = n
			centroid = append(centroid[:0], vectors[i]...)
			continue
		}
		group = append(group, units[i])
		groupLen += n
		for d := range centroid {
			centroid[d] += vectors[i][d]
		}
	}
	flush()
	return chunks, nil
}

func packUnits(group []unit) Chunk {
	texts := make([]string, len(group))
	for i, u := range group {
		texts[i] = u.text
	}
	return Chunk{
		Text:  strings.Join(texts, " "),
		Start: group[0].start,
		End:   group[len(group)-1].end,
	}
}

func cosine(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}
