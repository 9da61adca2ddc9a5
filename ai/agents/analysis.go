package agents

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/datasage-io/datasage/ai/embedding"
	"github.com/datasage-io/datasage/ai/llm"
	"github.com/datasage-io/datasage/ai/metrics"
	"github.com/datasage-io/datasage/ai/router"
	"github.com/datasage-io/datasage/store"
)

// NoDataAnswer is the reply when a data query arrives before anything
// was ingested. It is an answer, not an error.
const NoDataAnswer = "No data has been ingested yet. Load a dataset first, then ask me about it."

const analysisSystemPrompt = `You are a data analyst. Answer the user's question using ONLY the dataset excerpts provided below. Each excerpt shows the column header followed by rows. If the excerpts do not contain enough information to answer, say so plainly instead of guessing. Keep answers concise and cite concrete values from the excerpts.`

// AnalysisRequest asks the agent to answer one data question.
type AnalysisRequest struct {
	Query    string
	SourceID string // empty searches all sources
	Decision router.Decision
	// MinSimilarity overrides the store's retrieval threshold.
	// Zero keeps the default.
	MinSimilarity float32
	// History is recent conversation context, oldest first.
	History []llm.Message
}

// AnalysisResult is a completed analysis.
type AnalysisResult struct {
	Answer     string
	Confidence float32
	TokensUsed int
	// Chunks is the number of dataset excerpts that grounded the
	// answer.
	Chunks int
}

// AnalysisAgent answers data questions from retrieved chunks. It never
// sees raw dataset rows; everything it reads went through ingestion.
type AnalysisAgent struct {
	store    *store.Store
	provider embedding.Provider
	llm      llm.Service
	exporter *metrics.PrometheusExporter
}

// NewAnalysisAgent creates the analysis agent.
func NewAnalysisAgent(s *store.Store, p embedding.Provider, service llm.Service, exporter *metrics.PrometheusExporter) *AnalysisAgent {
	return &AnalysisAgent{store: s, provider: p, llm: service, exporter: exporter}
}

// Analyze retrieves relevant chunks for the query and generates a
// grounded answer with the routed model.
func (a *AnalysisAgent) Analyze(ctx context.Context, req *AnalysisRequest) (*AnalysisResult, error) {
	count, err := a.store.CountVectorRecords(ctx, req.SourceID)
	if err != nil {
		return nil, errors.Wrap(err, "count vector records")
	}
	if count == 0 {
		return &AnalysisResult{Answer: NoDataAnswer, Confidence: 1.0}, nil
	}

	queryVec, err := a.provider.Embed(ctx, req.Query)
	if err != nil {
		return nil, errors.Wrap(err, "embed query")
	}

	searchStart := time.Now()
	scored, err := a.store.VectorSearch(ctx, &store.VectorSearchOptions{
		Vector:        queryVec,
		SourceID:      req.SourceID,
		MinSimilarity: req.MinSimilarity,
	})
	if err != nil {
		return nil, errors.Wrap(err, "vector search")
	}
	if a.exporter != nil {
		a.exporter.RecordVectorSearch("chunk", time.Since(searchStart))
	}

	if len(scored) == 0 {
		return &AnalysisResult{
			Answer:     "I could not find anything in the ingested data relevant to that question.",
			Confidence: 0.3,
		}, nil
	}

	messages := buildAnalysisMessages(req, scored)
	result, err := a.llm.Generate(ctx, messages, req.Decision.Config)
	if err != nil {
		return nil, err
	}
	if a.exporter != nil {
		a.exporter.RecordLLMCall(req.Decision.Config.Model, req.Decision.Complexity.String(), result.TokensUsed, time.Duration(result.LatencyMs)*time.Millisecond)
	}

	return &AnalysisResult{
		Answer:     result.Text,
		Confidence: answerConfidence(result.Text, scored),
		TokensUsed: result.TokensUsed,
		Chunks:     len(scored),
	}, nil
}

// SearchMemory retrieves previously stored conversation embeddings
// similar to the query. Used for the recall route.
func (a *AnalysisAgent) SearchMemory(ctx context.Context, sessionID, query string) ([]*store.MemoryEmbeddingWithScore, error) {
	queryVec, err := a.provider.Embed(ctx, query)
	if err != nil {
		return nil, errors.Wrap(err, "embed query")
	}
	searchStart := time.Now()
	matches, err := a.store.SearchSimilar(ctx, &store.MemorySearchOptions{
		Vector:    queryVec,
		SessionID: sessionID,
	})
	if err != nil {
		return nil, errors.Wrap(err, "search memory")
	}
	if a.exporter != nil {
		a.exporter.RecordVectorSearch("memory", time.Since(searchStart))
	}
	return matches, nil
}

func buildAnalysisMessages(req *AnalysisRequest, scored []*store.ScoredChunk) []llm.Message {
	var sb strings.Builder
	sb.WriteString("Dataset excerpts:\n\n")
	for i, sc := range scored {
		fmt.Fprintf(&sb, "[excerpt %d, source %s, rows %s, similarity %.2f]\n%s\n",
			i+1, sc.Record.SourceID, sc.Record.Span.String(), sc.Score, sc.Record.Text)
	}
	sb.WriteString("\nQuestion: ")
	sb.WriteString(req.Query)

	messages := make([]llm.Message, 0, len(req.History)+2)
	messages = append(messages, llm.SystemPrompt(analysisSystemPrompt))
	messages = append(messages, req.History...)
	messages = append(messages, llm.UserMessage(sb.String()))
	return messages
}

// answerConfidence is a cheap grounding check: the share of numeric
// tokens in the answer that also appear in the retrieved excerpts.
// Answers without numbers fall back to the mean retrieval score.
func answerConfidence(answer string, scored []*store.ScoredChunk) float32 {
	var corpus strings.Builder
	for _, sc := range scored {
		corpus.WriteString(sc.Record.Text)
		corpus.WriteByte(' ')
	}
	facts := corpus.String()

	var numeric, grounded int
	for _, token := range strings.Fields(answer) {
		token = strings.Trim(token, ".,;:()%$")
		if token == "" || !isNumeric(token) {
			continue
		}
		numeric++
		if strings.Contains(facts, token) {
			grounded++
		}
	}
	if numeric == 0 {
		var sum float32
		for _, sc := range scored {
			sum += sc.Score
		}
		return sum / float32(len(scored))
	}
	return float32(grounded) / float32(numeric)
}

func isNumeric(s string) bool {
	var digits int
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			digits++
		case r == '.' || r == ',' || r == '-':
		default:
			return false
		}
	}
	return digits > 0
}
