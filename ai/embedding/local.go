package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
)

// localProvider is a deterministic hash-based embedder. It carries no
// semantic signal beyond token overlap, which is enough for tests and
// offline development where no embeddings endpoint is reachable.
type localProvider struct {
	dimensions int
}

// NewLocalProvider creates a deterministic local embedding provider.
func NewLocalProvider(dimensions int) Provider {
	return &localProvider{dimensions: dimensions}
}

func (p *localProvider) Embed(_ context.Context, text string) ([]float32, error) {
	return p.embed(text), nil
}

func (p *localProvider) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i, t := range texts {
		vectors[i] = p.embed(t)
	}
	return vectors, nil
}

func (p *localProvider) Dimensions() int {
	return p.dimensions
}

func (p *localProvider) embed(text string) []float32 {
	vec := make([]float32, p.dimensions)
	tokens := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9')
	})
	for _, token := range tokens {
		h := fnv.New64a()
		h.Write([]byte(token))
		sum := h.Sum64()
		idx := int(sum % uint64(p.dimensions))
		// Signed contribution keeps vectors from collapsing onto
		// the positive orthant.
		sign := float32(1)
		if sum&(1<<63) != 0 {
			sign = -1
		}
		vec[idx] += sign
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return vec
	}
	inv := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= inv
	}
	return vec
}
