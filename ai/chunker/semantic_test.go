package chunker

import (
	"context"
	"strings"
	"testing"
)

// stubEmbedder maps each sentence to a fixed vector.
type stubEmbedder struct {
	vectors map[string][]float32
}

func (s *stubEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = s.vectors[t]
	}
	return out, nil
}

func TestChunkSemanticGroupsByTopic(t *testing.T) {
	c, err := New(Config{Strategy: Semantic, ChunkSize: 200})
	if err != nil {
		t.Fatal(err)
	}

	emb := &stubEmbedder{vectors: map[string][]float32{
		"Sales rose in march.":     {1, 0},
		"Sales fell in april.":     {1, 0.1},
		"The server crashed once.": {0, 1},
	}}
	text := "Sales rose in march. Sales fell in april. The server crashed once."

	chunks, err := c.ChunkSemantic(context.Background(), text, emb)
	if err != nil {
		t.Fatal(err)
	}
	if len(chunks) != 2 {
		t.Fatalf("got %d chunks, want 2", len(chunks))
	}
	if !strings.Contains(chunks[0].Text, "march") || !strings.Contains(chunks[0].Text, "april") {
		t.Fatalf("first chunk = %q", chunks[0].Text)
	}
	if !strings.Contains(chunks[1].Text, "server") {
		t.Fatalf("second chunk = %q", chunks[1].Text)
	}
}

func TestChunkSemanticRespectsChunkSize(t *testing.T) {
	c, err := New(Config{Strategy: Semantic, ChunkSize: 25})
	if err != nil {
		t.Fatal(err)
	}

	// All sentences share a topic, so only the size cap splits them.
	emb := &stubEmbedder{vectors: map[string][]float32{
		"Alpha beta gamma delta.": {1, 0},
		"Beta gamma delta alpha.": {1, 0},
		"Gamma delta alpha beta.": {1, 0},
	}}
	text := "Alpha beta gamma delta. Beta gamma delta alpha. Gamma delta alpha beta."

	chunks, err := c.ChunkSemantic(context.Background(), text, emb)
	if err != nil {
		t.Fatal(err)
	}
	if len(chunks) != 3 {
		t.Fatalf("got %d chunks, want 3", len(chunks))
	}
}

func TestChunkSemanticRequiresEmbedder(t *testing.T) {
	c, err := New(Config{Strategy: Semantic, ChunkSize: 100})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.ChunkSemantic(context.Background(), "One. Two.", nil); err == nil {
		t.Fatal("expected error without an embedder")
	}
}

func TestChunkSemanticWrongStrategy(t *testing.T) {
	c, err := New(Config{Strategy: FixedSize, ChunkSize: 100})
	if err != nil {
		t.Fatal(err)
	}
	emb := &stubEmbedder{vectors: map[string][]float32{}}
	if _, err := c.ChunkSemantic(context.Background(), "One. Two.", emb); err == nil {
		t.Fatal("expected error for non-semantic strategy")
	}
}
