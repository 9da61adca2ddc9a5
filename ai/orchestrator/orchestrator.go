// Package orchestrator routes user queries to the right agent and
// maintains conversational state around each turn.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/lithammer/shortuuid/v4"
	"github.com/pkg/errors"

	"github.com/datasage-io/datasage/ai/agents"
	"github.com/datasage-io/datasage/ai/embedding"
	"github.com/datasage-io/datasage/ai/intent"
	"github.com/datasage-io/datasage/ai/llm"
	"github.com/datasage-io/datasage/ai/metrics"
	"github.com/datasage-io/datasage/ai/router"
	"github.com/datasage-io/datasage/store"
)

// DefaultRequestTimeout bounds one end-to-end turn.
const DefaultRequestTimeout = 120 * time.Second

// historyTurns is how many recent messages are replayed into the
// prompt.
const historyTurns = 10

// Request is one user turn.
type Request struct {
	Message   string
	SessionID string // empty starts a new session
	UserID    string
	FileID    string // dataset in scope, if any
	// DatasetRows is the row count of the dataset in scope. Zero
	// lets the orchestrator estimate it from stored chunks.
	DatasetRows int64
}

// Response is the orchestrator's answer to one turn.
type Response struct {
	ResponseText    string
	SessionID       string
	TraceID         string
	Intent          intent.Intent
	AgentUsed       string
	ComplexityLevel string
	Confidence      float32
	// Error carries a user-facing failure description. The
	// response text still holds a degraded answer.
	Error string
}

// Config wires the orchestrator.
type Config struct {
	Store      *store.Store
	LLM        llm.Service
	Embeddings embedding.Provider
	Router     *router.Router
	Classifier *intent.Classifier
	Analysis   *agents.AnalysisAgent
	Exporter   *metrics.PrometheusExporter
	Timeout    time.Duration
	// RowChunkSize is used to estimate dataset rows from stored
	// chunk counts when the request does not carry a row count.
	RowChunkSize int
	// MinSimilarity overrides the retrieval threshold for chunk
	// search. Zero keeps the store default.
	MinSimilarity float32
}

// Orchestrator is the conversational entry point. One instance serves
// all sessions; turns within a session are serialized.
type Orchestrator struct {
	store         *store.Store
	llm           llm.Service
	embeddings    embedding.Provider
	router        *router.Router
	classifier    *intent.Classifier
	analysis      *agents.AnalysisAgent
	exporter      *metrics.PrometheusExporter
	timeout       time.Duration
	rowsPerChunk  int64
	minSimilarity float32

	locks *sessionLocks
}

// New creates an Orchestrator.
func New(cfg Config) *Orchestrator {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	rowsPerChunk := int64(cfg.RowChunkSize)
	if rowsPerChunk <= 0 {
		rowsPerChunk = agents.DefaultRowChunkSize
	}
	classifier := cfg.Classifier
	if classifier == nil {
		classifier = intent.New()
	}
	return &Orchestrator{
		store:         cfg.Store,
		llm:           cfg.LLM,
		embeddings:    cfg.Embeddings,
		router:        cfg.Router,
		classifier:    classifier,
		analysis:      cfg.Analysis,
		exporter:      cfg.Exporter,
		timeout:       timeout,
		rowsPerChunk:  rowsPerChunk,
		minSimilarity: cfg.MinSimilarity,
		locks:         newSessionLocks(),
	}
}

// Handle processes one turn. It never propagates agent failures; the
// caller always gets a response, possibly degraded, with Error set.
func (o *Orchestrator) Handle(ctx context.Context, req *Request) *Response {
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	trace := shortuuid.New()
	startTime := time.Now()
	if o.exporter != nil {
		o.exporter.QueryStarted()
		defer o.exporter.QueryFinished()
	}

	session, fresh, err := o.resolveSession(ctx, req)
	if err != nil {
		slog.Error("orchestrator: session resolution failed",
			"trace_id", trace, "session_id", req.SessionID, "error", err)
		return &Response{
			ResponseText: "Something went wrong starting your session. Please try again.",
			TraceID:      trace,
			Intent:       intent.Unknown,
			Error:        "session unavailable",
		}
	}
	if fresh && req.SessionID != "" {
		slog.Info("orchestrator: previous session unusable, started fresh",
			"trace_id", trace, "old_session_id", req.SessionID, "session_id", session.ID)
	}

	unlock := o.locks.lock(session.ID)
	defer unlock()

	if _, err := o.store.AppendMessage(ctx, &store.ConversationMessage{
		SessionID: session.ID,
		Type:      store.MessageQuery,
		Content:   req.Message,
	}); err != nil {
		slog.Error("orchestrator: append query failed",
			"trace_id", trace, "session_id", session.ID, "error", err)
	}

	classified := o.classifier.Classify(req.Message, req.FileID != "")
	decision := o.router.Route(req.Message, o.datasetRows(ctx, req))

	slog.Debug("orchestrator: turn routed",
		"trace_id", trace,
		"session_id", session.ID,
		"intent", string(classified.Intent),
		"complexity", decision.Complexity.String(),
		"model", decision.Config.Model,
	)

	resp := o.dispatch(ctx, trace, session, req, classified, decision)
	resp.SessionID = session.ID
	resp.TraceID = trace
	resp.Intent = classified.Intent
	resp.ComplexityLevel = decision.Complexity.String()

	elapsed := time.Since(startTime)
	o.recordTurn(ctx, trace, session.ID, req.Message, resp, elapsed)

	if o.exporter != nil {
		o.exporter.RecordQuery(string(classified.Intent), resp.AgentUsed, elapsed, resp.Error == "")
	}
	return resp
}

// dispatch executes the routed agent(s) and always returns a response.
func (o *Orchestrator) dispatch(ctx context.Context, trace string, session *store.Session, req *Request, classified intent.Result, decision router.Decision) *Response {
	switch classified.Intent {
	case intent.General:
		return &Response{ResponseText: generalAnswer(req.Message), AgentUsed: "general", Confidence: 1.0}
	case intent.Unknown:
		return &Response{
			ResponseText: "I'm not sure what you're asking. Try a question about your data, a memory search, or load a dataset first.",
			AgentUsed:    "general",
			Confidence:   0.5,
		}
	case intent.Hybrid:
		return o.runHybrid(ctx, trace, session, req, classified.Secondary, decision)
	default:
		return o.runSingle(ctx, trace, session, req, classified.Intent, decision)
	}
}

func (o *Orchestrator) runSingle(ctx context.Context, trace string, session *store.Session, req *Request, in intent.Intent, decision router.Decision) *Response {
	switch in {
	case intent.CSVAnalysis:
		return o.runAnalysis(ctx, trace, session, req, decision)
	case intent.RAGSearch:
		return o.runMemorySearch(ctx, trace, session, req, decision)
	case intent.DataLoading:
		return o.runDataStatus(ctx, trace, req)
	default:
		return &Response{
			ResponseText: "I can't handle that yet.",
			AgentUsed:    "general",
			Confidence:   0.3,
		}
	}
}

// runHybrid executes every clear intent in order and merges the
// answers, deduplicating near-identical sentences.
func (o *Orchestrator) runHybrid(ctx context.Context, trace string, session *store.Session, req *Request, ordered []intent.Intent, decision router.Decision) *Response {
	var parts []string
	var confSum float32
	var firstErr string
	agentsUsed := make([]string, 0, len(ordered))

	for _, in := range ordered {
		resp := o.runSingle(ctx, trace, session, req, in, decision)
		if resp.Error != "" && firstErr == "" {
			firstErr = resp.Error
		}
		if resp.ResponseText != "" {
			parts = append(parts, resp.ResponseText)
		}
		confSum += resp.Confidence
		agentsUsed = append(agentsUsed, resp.AgentUsed)
	}

	var conf float32
	if len(ordered) > 0 {
		conf = confSum / float32(len(ordered))
	}
	return &Response{
		ResponseText: mergeAnswers(parts),
		AgentUsed:    strings.Join(agentsUsed, "+"),
		Confidence:   conf,
		Error:        firstErr,
	}
}

func (o *Orchestrator) runAnalysis(ctx context.Context, trace string, session *store.Session, req *Request, decision router.Decision) *Response {
	history, err := o.loadHistory(ctx, session.ID)
	if err != nil {
		slog.Warn("orchestrator: history load failed",
			"trace_id", trace, "session_id", session.ID, "error", err)
	}

	result, err := o.analysis.Analyze(ctx, &agents.AnalysisRequest{
		Query:         req.Message,
		SourceID:      req.FileID,
		Decision:      decision,
		History:       history,
		MinSimilarity: o.minSimilarity,
	})
	if err != nil {
		result, err = o.retryWithFallback(ctx, trace, req, decision, history, err)
	}
	if err != nil {
		slog.Error("orchestrator: analysis failed",
			"trace_id", trace, "session_id", session.ID, "error", err)
		if o.exporter != nil {
			o.exporter.RecordLLMFailure(decision.Config.Model, errorType(err))
		}
		return &Response{
			ResponseText: "I couldn't complete the analysis right now. Your data is intact; please try again shortly.",
			AgentUsed:    "analysis",
			Error:        errorType(err),
		}
	}
	return &Response{
		ResponseText: result.Answer,
		AgentUsed:    "analysis",
		Confidence:   result.Confidence,
	}
}

// retryWithFallback retries a failed analysis once on the next tier
// down when the failure looks provider-side.
func (o *Orchestrator) retryWithFallback(ctx context.Context, trace string, req *Request, decision router.Decision, history []llm.Message, cause error) (*agents.AnalysisResult, error) {
	if !isProviderFailure(cause) {
		return nil, cause
	}
	fallback, ok := o.router.Fallback(decision)
	if !ok {
		return nil, cause
	}
	slog.Warn("orchestrator: provider failure, retrying one tier down",
		"trace_id", trace,
		"from_model", decision.Config.Model,
		"to_model", fallback.Config.Model,
		"error", cause,
	)
	if o.exporter != nil {
		o.exporter.RecordLLMFailure(decision.Config.Model, errorType(cause))
	}
	return o.analysis.Analyze(ctx, &agents.AnalysisRequest{
		Query:         req.Message,
		SourceID:      req.FileID,
		Decision:      fallback,
		History:       history,
		MinSimilarity: o.minSimilarity,
	})
}

func (o *Orchestrator) runMemorySearch(ctx context.Context, trace string, session *store.Session, req *Request, decision router.Decision) *Response {
	matches, err := o.analysis.SearchMemory(ctx, session.ID, req.Message)
	if err != nil {
		slog.Error("orchestrator: memory search failed",
			"trace_id", trace, "session_id", session.ID, "error", err)
		return &Response{
			ResponseText: "I couldn't search the conversation memory right now.",
			AgentUsed:    "memory",
			Error:        errorType(err),
		}
	}
	if len(matches) == 0 {
		return &Response{
			ResponseText: "I didn't find anything relevant in this conversation's memory.",
			AgentUsed:    "memory",
			Confidence:   0.6,
		}
	}

	var sb strings.Builder
	sb.WriteString("Previously stored context:\n\n")
	for i, m := range matches {
		fmt.Fprintf(&sb, "[%d, similarity %.2f] %s\n", i+1, m.Score, m.Embedding.SourceText)
	}
	sb.WriteString("\nQuestion: ")
	sb.WriteString(req.Message)

	messages := []llm.Message{
		llm.SystemPrompt("Answer the question using only the stored context snippets. Quote the snippet content where useful."),
		llm.UserMessage(sb.String()),
	}
	result, err := o.llm.Generate(ctx, messages, decision.Config)
	if err != nil {
		// Degrade to the raw matches rather than failing the
		// turn.
		slog.Warn("orchestrator: memory summarization failed, returning raw matches",
			"trace_id", trace, "error", err)
		return &Response{
			ResponseText: sb.String(),
			AgentUsed:    "memory",
			Confidence:   matches[0].Score,
			Error:        errorType(err),
		}
	}
	if o.exporter != nil {
		o.exporter.RecordLLMCall(decision.Config.Model, decision.Complexity.String(), result.TokensUsed, time.Duration(result.LatencyMs)*time.Millisecond)
	}
	return &Response{
		ResponseText: result.Text,
		AgentUsed:    "memory",
		Confidence:   matches[0].Score,
	}
}

// runDataStatus reports the ingestion state of the dataset in scope.
// Actual ingestion goes through the ingest endpoint; the chat path
// never reads raw rows.
func (o *Orchestrator) runDataStatus(ctx context.Context, trace string, req *Request) *Response {
	if req.FileID == "" {
		return &Response{
			ResponseText: "To load data, send your CSV to the ingest endpoint with a source id. Then ask me about it here.",
			AgentUsed:    "loading",
			Confidence:   0.9,
		}
	}
	count, err := o.store.CountVectorRecords(ctx, req.FileID)
	if err != nil {
		slog.Error("orchestrator: chunk count failed",
			"trace_id", trace, "source_id", req.FileID, "error", err)
		return &Response{
			ResponseText: "I couldn't check the ingestion state of that source.",
			AgentUsed:    "loading",
			Error:        "storage error",
		}
	}
	if count == 0 {
		return &Response{
			ResponseText: fmt.Sprintf("Source %q has not been ingested yet. Send it to the ingest endpoint first.", req.FileID),
			AgentUsed:    "loading",
			Confidence:   0.9,
		}
	}
	version, err := o.store.MaxVectorVersion(ctx, req.FileID)
	if err != nil {
		version = 0
	}
	return &Response{
		ResponseText: fmt.Sprintf("Source %q is loaded: %d chunks at version %d. Ask me anything about it.", req.FileID, count, version),
		AgentUsed:    "loading",
		Confidence:   1.0,
	}
}

// resolveSession returns a usable session, creating one when the
// request has none or names one that is gone, expired or terminal.
func (o *Orchestrator) resolveSession(ctx context.Context, req *Request) (session *store.Session, fresh bool, err error) {
	if req.SessionID != "" {
		existing, err := o.store.GetSession(ctx, req.SessionID)
		switch {
		case errors.Is(err, store.ErrSessionNotFound):
			// fall through to creation
		case err != nil:
			return nil, false, err
		case existing.Expired(time.Now().Unix()) || existing.Status.IsTerminal():
			if !existing.Status.IsTerminal() {
				if _, terr := o.store.TransitionSession(ctx, existing.ID, store.SessionExpired); terr != nil {
					slog.Warn("orchestrator: expire transition failed",
						"session_id", existing.ID, "error", terr)
				}
			}
			// fall through to creation
		default:
			return existing, false, nil
		}
	}

	created, err := o.store.CreateSession(ctx, &store.Session{
		UserID:    req.UserID,
		AgentName: "orchestrator",
	})
	if err != nil {
		return nil, false, err
	}
	return created, req.SessionID != "", nil
}

// recordTurn persists the response message and best-effort memory
// embeddings for later recall.
func (o *Orchestrator) recordTurn(ctx context.Context, trace, sessionID, query string, resp *Response, elapsed time.Duration) {
	msgType := store.MessageResponse
	if resp.Error != "" {
		msgType = store.MessageError
	}
	processingMs := elapsed.Milliseconds()
	confidence := resp.Confidence
	if _, err := o.store.AppendMessage(ctx, &store.ConversationMessage{
		SessionID:        sessionID,
		Type:             msgType,
		Content:          resp.ResponseText,
		Confidence:       &confidence,
		ProcessingTimeMs: &processingMs,
	}); err != nil {
		slog.Error("orchestrator: append response failed",
			"trace_id", trace, "session_id", sessionID, "error", err)
	}

	if o.embeddings == nil || resp.Error != "" {
		return
	}
	for _, item := range []struct {
		kind store.EmbeddingKind
		text string
	}{
		{store.EmbeddingQuery, query},
		{store.EmbeddingResponse, resp.ResponseText},
	} {
		kind, text := item.kind, item.text
		if strings.TrimSpace(text) == "" {
			continue
		}
		vec, err := o.embeddings.Embed(ctx, text)
		if err != nil {
			slog.Warn("orchestrator: memory embedding failed",
				"trace_id", trace, "session_id", sessionID, "kind", string(kind), "error", err)
			continue
		}
		if _, err := o.store.SaveEmbedding(ctx, &store.MemoryEmbedding{
			SessionID:  sessionID,
			Kind:       kind,
			SourceText: text,
			Embedding:  vec,
		}); err != nil {
			slog.Warn("orchestrator: memory embedding save failed",
				"trace_id", trace, "session_id", sessionID, "kind", string(kind), "error", err)
		}
	}
}

// loadHistory replays the most recent turns as chat messages, oldest
// first.
func (o *Orchestrator) loadHistory(ctx context.Context, sessionID string) ([]llm.Message, error) {
	msgs, err := o.store.ListMessages(ctx, &store.FindConversationMessages{
		SessionID: sessionID,
		Limit:     historyTurns,
	})
	if err != nil {
		return nil, err
	}
	history := make([]llm.Message, 0, len(msgs))
	for _, m := range msgs {
		switch m.Type {
		case store.MessageQuery:
			history = append(history, llm.UserMessage(m.Content))
		case store.MessageResponse:
			history = append(history, llm.AssistantMessage(m.Content))
		}
	}
	return history, nil
}

// datasetRows resolves the row count used for routing. When the
// request carries none, stored chunks give a floor estimate.
func (o *Orchestrator) datasetRows(ctx context.Context, req *Request) int64 {
	if req.DatasetRows > 0 {
		return req.DatasetRows
	}
	if req.FileID == "" {
		return 0
	}
	count, err := o.store.CountVectorRecords(ctx, req.FileID)
	if err != nil || count == 0 {
		return 0
	}
	return int64(count) * o.rowsPerChunk
}

func isProviderFailure(err error) bool {
	return errors.Is(err, llm.ErrProviderUnavailable) ||
		errors.Is(err, llm.ErrRateLimited) ||
		errors.Is(err, llm.ErrModelUnavailable) ||
		errors.Is(err, llm.ErrTimeout)
}

func errorType(err error) string {
	switch {
	case errors.Is(err, llm.ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, llm.ErrAuthFailed):
		return "auth_failed"
	case errors.Is(err, llm.ErrModelUnavailable):
		return "model_unavailable"
	case errors.Is(err, llm.ErrTimeout):
		return "timeout"
	case errors.Is(err, llm.ErrProviderUnavailable):
		return "provider_unavailable"
	default:
		return "internal"
	}
}

// generalAnswer handles small talk locally without an LLM round trip.
func generalAnswer(message string) string {
	m := strings.ToLower(message)
	switch {
	case strings.Contains(m, "thank"):
		return "You're welcome. Anything else about your data?"
	case strings.Contains(m, "bye"):
		return "Goodbye. Your session and memory are saved for next time."
	case strings.Contains(m, "help") || strings.Contains(m, "what can you do"):
		return "I answer questions about ingested tabular data, search our past conversation, and report dataset status. Load a CSV through the ingest endpoint to get started."
	default:
		return "Hello! Ask me about your data, or load a dataset to get started."
	}
}

// mergeAnswers joins partial answers, dropping sentences that repeat
// an earlier part nearly verbatim.
func mergeAnswers(parts []string) string {
	seen := make(map[string]bool)
	var out []string
	for _, part := range parts {
		var kept []string
		for _, sentence := range splitSentences(part) {
			key := normalizeSentence(sentence)
			if key == "" || seen[key] {
				continue
			}
			seen[key] = true
			kept = append(kept, sentence)
		}
		if len(kept) > 0 {
			out = append(out, strings.Join(kept, " "))
		}
	}
	return strings.Join(out, "\n\n")
}

func splitSentences(text string) []string {
	var sentences []string
	var cur strings.Builder
	for _, r := range text {
		cur.WriteRune(r)
		if r == '.' || r == '!' || r == '?' || r == '\n' {
			if s := strings.TrimSpace(cur.String()); s != "" {
				sentences = append(sentences, s)
			}
			cur.Reset()
		}
	}
	if s := strings.TrimSpace(cur.String()); s != "" {
		sentences = append(sentences, s)
	}
	return sentences
}

func normalizeSentence(s string) string {
	s = strings.ToLower(s)
	var sb strings.Builder
	for _, r := range s {
		if ('a' <= r && r <= 'z') || ('0' <= r && r <= '9') || r == ' ' {
			sb.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(sb.String()), " ")
}
