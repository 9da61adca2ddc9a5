package agents

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/datasage-io/datasage/ai/embedding"
	"github.com/datasage-io/datasage/ai/guard"
	"github.com/datasage-io/datasage/ai/llm"
	"github.com/datasage-io/datasage/ai/router"
	"github.com/datasage-io/datasage/internal/profile"
	"github.com/datasage-io/datasage/store"
	"github.com/datasage-io/datasage/store/db/sqlite"
)

const testDims = 64

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	p := &profile.Profile{
		Driver:              "sqlite",
		DSN:                 filepath.Join(t.TempDir(), "agents_test.db"),
		EmbeddingDimensions: testDims,
		SessionTTLHours:     24,
	}
	driver, err := sqlite.NewDB(p)
	require.NoError(t, err)
	require.NoError(t, driver.Migrate(context.Background()))
	t.Cleanup(func() { driver.Close() })
	return store.New(driver, p)
}

type fakeLLM struct {
	reply     string
	lastModel string
	calls     int
	err       error
}

func (f *fakeLLM) Generate(_ context.Context, _ []llm.Message, cfg llm.GenerationConfig) (*llm.Result, error) {
	f.calls++
	f.lastModel = cfg.Model
	if f.err != nil {
		return nil, f.err
	}
	return &llm.Result{Text: f.reply, TokensUsed: 10, LatencyMs: 5}, nil
}

func (f *fakeLLM) Warmup(context.Context, string) {}

const salesCSV = `id,region,amount
1,north,100
2,south,250
3,north,75
4,east,300
5,west,125
`

func testRouter() *router.Router {
	return router.New(&profile.Profile{
		ModelSimple:     "m-simple",
		ModelMedium:     "m-medium",
		ModelComplex:    "m-complex",
		ModelAdvanced:   "m-advanced",
		RouterSmallRows: 10_000,
		RouterLargeRows: 100_000,
	})
}

func TestIngestAndAnalyze(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	provider := embedding.NewLocalProvider(testDims)
	auth := guard.New()

	ingestion := NewIngestionAgent(s, provider, auth, nil, IngestionConfig{
		Policy:       PolicyOverwrite,
		RowChunkSize: 2,
	})

	result, err := ingestion.Ingest(ctx, &IngestRequest{
		SourceID: "sales.csv",
		Data:     strings.NewReader(salesCSV),
	})
	require.NoError(t, err)
	require.Equal(t, 5, result.Rows)
	require.Equal(t, 3, result.Chunks)
	require.Equal(t, 1, result.Version)

	count, err := s.CountVectorRecords(ctx, "sales.csv")
	require.NoError(t, err)
	require.Equal(t, 3, count)

	fake := &fakeLLM{reply: "The north region totals 175 across 2 rows."}
	analysis := NewAnalysisAgent(s, provider, fake, nil)

	decision := testRouter().Route("sum the amount column by region", 5)
	// The hash embedder carries far less signal than a real model,
	// so retrieval in tests runs with a low similarity floor.
	answer, err := analysis.Analyze(ctx, &AnalysisRequest{
		Query:         "north region amount",
		SourceID:      "sales.csv",
		Decision:      decision,
		MinSimilarity: 0.1,
	})
	require.NoError(t, err)
	require.Equal(t, fake.reply, answer.Answer)
	require.Equal(t, decision.Config.Model, fake.lastModel)
	require.Greater(t, answer.Chunks, 0)
}

func TestAnalyzeWithoutSourceIDSearchesAllSources(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	provider := embedding.NewLocalProvider(testDims)

	ingestion := NewIngestionAgent(s, provider, guard.New(), nil, IngestionConfig{
		Policy:       PolicyOverwrite,
		RowChunkSize: 2,
	})
	_, err := ingestion.Ingest(ctx, &IngestRequest{
		SourceID: "sales.csv",
		Data:     strings.NewReader(salesCSV),
	})
	require.NoError(t, err)

	// A chat turn without a file id must still see the ingested data.
	fake := &fakeLLM{reply: "The total amount is 850."}
	analysis := NewAnalysisAgent(s, provider, fake, nil)
	answer, err := analysis.Analyze(ctx, &AnalysisRequest{
		Query:         "north region amount",
		Decision:      testRouter().Route("north region amount", 5),
		MinSimilarity: 0.1,
	})
	require.NoError(t, err)
	require.NotEqual(t, NoDataAnswer, answer.Answer)
	require.Equal(t, fake.reply, answer.Answer)
	require.Equal(t, 1, fake.calls)
}

func TestIngestOverwriteIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	agent := NewIngestionAgent(s, embedding.NewLocalProvider(testDims), guard.New(), nil, IngestionConfig{
		Policy:       PolicyOverwrite,
		RowChunkSize: 2,
	})

	for i := 0; i < 3; i++ {
		result, err := agent.Ingest(ctx, &IngestRequest{
			SourceID: "sales.csv",
			Data:     strings.NewReader(salesCSV),
		})
		require.NoError(t, err)
		require.Equal(t, 1, result.Version)
	}

	count, err := s.CountVectorRecords(ctx, "sales.csv")
	require.NoError(t, err)
	require.Equal(t, 3, count)
}

func TestIngestVersionPolicy(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	agent := NewIngestionAgent(s, embedding.NewLocalProvider(testDims), guard.New(), nil, IngestionConfig{
		Policy:       PolicyVersion,
		RowChunkSize: 2,
	})

	first, err := agent.Ingest(ctx, &IngestRequest{SourceID: "sales.csv", Data: strings.NewReader(salesCSV)})
	require.NoError(t, err)
	require.Equal(t, 1, first.Version)

	second, err := agent.Ingest(ctx, &IngestRequest{SourceID: "sales.csv", Data: strings.NewReader(salesCSV)})
	require.NoError(t, err)
	require.Equal(t, 2, second.Version)

	count, err := s.CountVectorRecords(ctx, "sales.csv")
	require.NoError(t, err)
	require.Equal(t, 6, count)
}

func TestIngestEmptyInput(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	agent := NewIngestionAgent(s, embedding.NewLocalProvider(testDims), guard.New(), nil, IngestionConfig{})

	_, err := agent.Ingest(ctx, &IngestRequest{SourceID: "empty.csv", Data: strings.NewReader("")})
	require.Error(t, err)

	// Header-only input is valid but stores nothing.
	result, err := agent.Ingest(ctx, &IngestRequest{SourceID: "hdr.csv", Data: strings.NewReader("a,b,c\n")})
	require.NoError(t, err)
	require.Equal(t, 0, result.Chunks)
}

func TestAnalyzeWithoutData(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	fake := &fakeLLM{reply: "should not be called"}
	analysis := NewAnalysisAgent(s, embedding.NewLocalProvider(testDims), fake, nil)

	answer, err := analysis.Analyze(ctx, &AnalysisRequest{
		Query:    "what is the total",
		Decision: testRouter().Route("what is the total", 0),
	})
	require.NoError(t, err)
	require.Equal(t, NoDataAnswer, answer.Answer)
	require.Zero(t, fake.calls)
}

func TestSearchMemory(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	provider := embedding.NewLocalProvider(testDims)

	session, err := s.CreateSession(ctx, &store.Session{UserID: "u1", AgentName: "analysis"})
	require.NoError(t, err)

	vec, err := provider.Embed(ctx, "quarterly revenue went up twelve percent")
	require.NoError(t, err)
	_, err = s.SaveEmbedding(ctx, &store.MemoryEmbedding{
		SessionID:  session.ID,
		Kind:       store.EmbeddingResponse,
		SourceText: "quarterly revenue went up twelve percent",
		Embedding:  vec,
	})
	require.NoError(t, err)

	analysis := NewAnalysisAgent(s, provider, &fakeLLM{}, nil)
	matches, err := analysis.SearchMemory(ctx, session.ID, "quarterly revenue went up twelve percent")
	require.NoError(t, err)
	require.NotEmpty(t, matches)
	require.Equal(t, session.ID, matches[0].Embedding.SessionID)
}
