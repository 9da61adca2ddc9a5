package store_test

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/datasage-io/datasage/internal/profile"
	"github.com/datasage-io/datasage/store"
	"github.com/datasage-io/datasage/store/db/sqlite"
)

const testDims = 8

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	p := &profile.Profile{
		Driver:              "sqlite",
		DSN:                 filepath.Join(t.TempDir(), "store_test.db"),
		EmbeddingDimensions: testDims,
		SessionTTLHours:     24,
	}
	driver, err := sqlite.NewDB(p)
	if err != nil {
		t.Fatal(err)
	}
	if err := driver.Migrate(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { driver.Close() })
	return store.New(driver, p)
}

func TestDimensionMismatchRejected(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	session, err := s.CreateSession(ctx, &store.Session{})
	if err != nil {
		t.Fatal(err)
	}

	wrong := make([]float32, testDims+1)
	if _, err := s.SaveEmbedding(ctx, &store.MemoryEmbedding{
		SessionID: session.ID,
		Kind:      store.EmbeddingQuery,
		Embedding: wrong,
	}); err != store.ErrDimensionMismatch {
		t.Fatalf("SaveEmbedding err = %v, want ErrDimensionMismatch", err)
	}
	if _, err := s.SearchSimilar(ctx, &store.MemorySearchOptions{Vector: wrong}); err != store.ErrDimensionMismatch {
		t.Fatalf("SearchSimilar err = %v, want ErrDimensionMismatch", err)
	}
	if _, err := s.VectorSearch(ctx, &store.VectorSearchOptions{Vector: wrong}); err != store.ErrDimensionMismatch {
		t.Fatalf("VectorSearch err = %v, want ErrDimensionMismatch", err)
	}
}

func TestUpsertBatchRejectedWhole(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	good := make([]float32, testDims)
	bad := make([]float32, testDims-1)
	records := []*store.VectorRecord{
		{ChunkID: "src:0-9:v1", SourceID: "src", Text: "ok", Embedding: good, Version: 1},
		{ChunkID: "src:10-19:v1", SourceID: "src", Text: "bad", Embedding: bad, Version: 1},
	}
	if _, err := s.UpsertVectorRecords(ctx, records); err != store.ErrDimensionMismatch {
		t.Fatalf("err = %v, want ErrDimensionMismatch", err)
	}
	count, err := s.CountVectorRecords(ctx, "src")
	if err != nil {
		t.Fatal(err)
	}
	if count != 0 {
		t.Fatalf("count = %d after rejected batch, want 0", count)
	}
}

func TestSaveContextTruncatesOversizedValue(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	session, err := s.CreateSession(ctx, &store.Session{})
	if err != nil {
		t.Fatal(err)
	}

	huge := strings.Repeat("x", store.MaxContextValueBytes+100)
	entry, err := s.SaveContext(ctx, &store.ContextEntry{
		SessionID: session.ID,
		Type:      store.ContextAnalysisCache,
		Key:       "big",
		Value:     huge,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(entry.Value) != store.MaxContextValueBytes {
		t.Fatalf("value length = %d, want %d", len(entry.Value), store.MaxContextValueBytes)
	}
}

func TestSaveContextTruncatesAtRuneBoundary(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	session, err := s.CreateSession(ctx, &store.Session{})
	if err != nil {
		t.Fatal(err)
	}

	// A multi-byte rune straddles the byte budget; the clip must back
	// off to the previous boundary instead of splitting it.
	value := strings.Repeat("x", store.MaxContextValueBytes-1) + strings.Repeat("日", 40)
	entry, err := s.SaveContext(ctx, &store.ContextEntry{
		SessionID: session.ID,
		Type:      store.ContextAnalysisCache,
		Key:       "multibyte",
		Value:     value,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(entry.Value) > store.MaxContextValueBytes {
		t.Fatalf("value length = %d, want <= %d", len(entry.Value), store.MaxContextValueBytes)
	}
	if !utf8.ValidString(entry.Value) {
		t.Fatal("truncated value is not valid UTF-8")
	}
	if len(entry.Value) != store.MaxContextValueBytes-1 {
		t.Fatalf("value length = %d, want %d", len(entry.Value), store.MaxContextValueBytes-1)
	}
}

func TestGetContextServesFromCache(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	session, err := s.CreateSession(ctx, &store.Session{})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := s.SaveContext(ctx, &store.ContextEntry{
		SessionID: session.ID,
		Type:      store.ContextData,
		Key:       "k",
		Value:     "v1",
	}); err != nil {
		t.Fatal(err)
	}

	// First read comes from the database and bumps access_count;
	// the second is served by the LRU front and must not.
	first, err := s.GetContext(ctx, session.ID, store.ContextData, "k")
	if err != nil {
		t.Fatal(err)
	}
	second, err := s.GetContext(ctx, session.ID, store.ContextData, "k")
	if err != nil {
		t.Fatal(err)
	}
	if second.AccessCount != first.AccessCount {
		t.Fatalf("cached read changed access count: %d -> %d", first.AccessCount, second.AccessCount)
	}

	// A write invalidates the cached entry.
	if _, err := s.SaveContext(ctx, &store.ContextEntry{
		SessionID: session.ID,
		Type:      store.ContextData,
		Key:       "k",
		Value:     "v2",
	}); err != nil {
		t.Fatal(err)
	}
	fresh, err := s.GetContext(ctx, session.ID, store.ContextData, "k")
	if err != nil {
		t.Fatal(err)
	}
	if fresh.Value != "v2" {
		t.Fatalf("stale cache: %q", fresh.Value)
	}
}

type countingCacheMetrics struct {
	hits   int
	misses int
}

func (m *countingCacheMetrics) RecordCacheHit(string)  { m.hits++ }
func (m *countingCacheMetrics) RecordCacheMiss(string) { m.misses++ }

func TestGetContextRecordsCacheMetrics(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	recorder := &countingCacheMetrics{}
	s.SetCacheMetrics(recorder)

	session, err := s.CreateSession(ctx, &store.Session{})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.SaveContext(ctx, &store.ContextEntry{
		SessionID: session.ID,
		Type:      store.ContextData,
		Key:       "k",
		Value:     "v",
	}); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 3; i++ {
		if _, err := s.GetContext(ctx, session.ID, store.ContextData, "k"); err != nil {
			t.Fatal(err)
		}
	}

	// First read misses and fills the front; the rest hit.
	if recorder.misses != 1 || recorder.hits != 2 {
		t.Fatalf("hits = %d, misses = %d, want 2/1", recorder.hits, recorder.misses)
	}
}

func TestGetRecentContext(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	session, err := s.CreateSession(ctx, &store.Session{})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := s.AppendMessage(ctx, &store.ConversationMessage{
		SessionID: session.ID,
		Type:      store.MessageQuery,
		Content:   "recent",
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.SaveContext(ctx, &store.ContextEntry{
		SessionID: session.ID,
		Type:      store.ContextUserPreference,
		Key:       "tone",
		Value:     "terse",
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.SaveEmbedding(ctx, &store.MemoryEmbedding{
		SessionID:  session.ID,
		Kind:       store.EmbeddingQuery,
		SourceText: "recent",
		Embedding:  make([]float32, testDims),
	}); err != nil {
		t.Fatal(err)
	}

	recent, err := s.GetRecentContext(ctx, session.ID, 24)
	if err != nil {
		t.Fatal(err)
	}
	if len(recent.Messages) != 1 || len(recent.ContextEntries) != 1 {
		t.Fatalf("recent = %d messages, %d entries", len(recent.Messages), len(recent.ContextEntries))
	}
	if len(recent.Embeddings) != 1 || recent.Embeddings[0].SourceText != "recent" {
		t.Fatalf("recent embeddings = %+v", recent.Embeddings)
	}
}

func TestChunkKey(t *testing.T) {
	key := store.ChunkKey("sales.csv", store.Span{Start: 0, End: 99}, 2)
	if key != "sales.csv:0-99:v2" {
		t.Fatalf("ChunkKey = %q", key)
	}
}
