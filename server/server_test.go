package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"

	"github.com/datasage-io/datasage/ai/agents"
	"github.com/datasage-io/datasage/ai/embedding"
	"github.com/datasage-io/datasage/ai/guard"
	"github.com/datasage-io/datasage/ai/intent"
	"github.com/datasage-io/datasage/ai/llm"
	"github.com/datasage-io/datasage/ai/metrics"
	"github.com/datasage-io/datasage/ai/orchestrator"
	"github.com/datasage-io/datasage/ai/router"
	"github.com/datasage-io/datasage/internal/profile"
	"github.com/datasage-io/datasage/store"
	"github.com/datasage-io/datasage/store/db/sqlite"
)

const testDims = 64

type fakeLLM struct{}

func (fakeLLM) Generate(_ context.Context, _ []llm.Message, _ llm.GenerationConfig) (*llm.Result, error) {
	return &llm.Result{Text: "stub answer", TokensUsed: 3, LatencyMs: 1}, nil
}

func (fakeLLM) Warmup(context.Context, string) {}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	p := &profile.Profile{
		Mode:                "dev",
		Addr:                "127.0.0.1",
		Port:                0,
		Version:             "test",
		Driver:              "sqlite",
		DSN:                 filepath.Join(t.TempDir(), "server_test.db"),
		EmbeddingDimensions: testDims,
		SessionTTLHours:     24,
		ModelSimple:         "m-simple",
		ModelMedium:         "m-medium",
		ModelComplex:        "m-complex",
		ModelAdvanced:       "m-advanced",
		RouterSmallRows:     10_000,
		RouterLargeRows:     100_000,
	}
	driver, err := sqlite.NewDB(p)
	require.NoError(t, err)
	require.NoError(t, driver.Migrate(context.Background()))
	t.Cleanup(func() { driver.Close() })

	s := store.New(driver, p)
	provider := embedding.NewLocalProvider(testDims)
	exporter := metrics.NewPrometheusExporter(metrics.DefaultConfig())
	analysis := agents.NewAnalysisAgent(s, provider, fakeLLM{}, exporter)
	ingestion := agents.NewIngestionAgent(s, provider, guard.New(), exporter, agents.IngestionConfig{RowChunkSize: 2})
	orch := orchestrator.New(orchestrator.Config{
		Store:         s,
		LLM:           fakeLLM{},
		Embeddings:    provider,
		Router:        router.New(p),
		Classifier:    intent.New(),
		Analysis:      analysis,
		Exporter:      exporter,
		MinSimilarity: 0.05,
	})
	return NewServer(p, s, orch, ingestion, exporter)
}

func doRequest(srv *Server, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	srv.e.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(t)

	rec := doRequest(srv, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"ok"`)
}

func TestChatEndpoint(t *testing.T) {
	srv := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/chat",
		strings.NewReader(`{"message":"hello"}`))
	req.Header.Set(echo.HeaderContentType, "application/json")
	rec := doRequest(srv, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp chatResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Response)
	require.NotEmpty(t, resp.SessionID)
	require.Equal(t, "GENERAL", resp.Intent)
}

func TestChatEndpointRejectsEmptyMessage(t *testing.T) {
	srv := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/chat", strings.NewReader(`{"message":"  "}`))
	req.Header.Set(echo.HeaderContentType, "application/json")
	rec := doRequest(srv, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestIngestAndSessionMessages(t *testing.T) {
	srv := newTestServer(t)

	csv := "id,amount\n1,100\n2,250\n3,75\n"
	req := httptest.NewRequest(http.MethodPost, "/api/v1/ingest?source_id=sales.csv", strings.NewReader(csv))
	rec := doRequest(srv, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var ing ingestResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ing))
	require.Equal(t, 3, ing.Rows)
	require.Equal(t, 2, ing.Chunks)
	require.Equal(t, 1, ing.Version)

	// Chat about the ingested source, then read the transcript.
	chatReq := httptest.NewRequest(http.MethodPost, "/api/v1/chat",
		strings.NewReader(`{"message":"calculate the sum of the amount column","file_id":"sales.csv"}`))
	chatReq.Header.Set(echo.HeaderContentType, "application/json")
	chatRec := doRequest(srv, chatReq)
	require.Equal(t, http.StatusOK, chatRec.Code)

	var chat chatResponse
	require.NoError(t, json.Unmarshal(chatRec.Body.Bytes(), &chat))
	require.Equal(t, "stub answer", chat.Response)

	msgRec := doRequest(srv, httptest.NewRequest(http.MethodGet, "/api/v1/sessions/"+chat.SessionID+"/messages", nil))
	require.Equal(t, http.StatusOK, msgRec.Code)
	var msgs []messageResponse
	require.NoError(t, json.Unmarshal(msgRec.Body.Bytes(), &msgs))
	require.Len(t, msgs, 2)
	require.Equal(t, "query", msgs[0].Type)
	require.Equal(t, "response", msgs[1].Type)
}

func TestIngestRequiresSourceID(t *testing.T) {
	srv := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/ingest", strings.NewReader("a,b\n1,2\n"))
	rec := doRequest(srv, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSessionMessagesNotFound(t *testing.T) {
	srv := newTestServer(t)

	rec := doRequest(srv, httptest.NewRequest(http.MethodGet, "/api/v1/sessions/none/messages", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestServer(t)

	rec := doRequest(srv, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}


