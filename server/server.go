// Package server exposes the orchestrator and ingestion pipeline over
// HTTP.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"

	"github.com/datasage-io/datasage/ai/agents"
	"github.com/datasage-io/datasage/ai/metrics"
	"github.com/datasage-io/datasage/ai/orchestrator"
	"github.com/datasage-io/datasage/internal/profile"
	"github.com/datasage-io/datasage/store"
)

// maxIngestBytes caps an uploaded CSV body.
const maxIngestBytes = 64 << 20

// Server is the HTTP front for the AI pipeline.
type Server struct {
	e *echo.Echo

	Profile   *profile.Profile
	Store     *store.Store
	Orch      *orchestrator.Orchestrator
	Ingestion *agents.IngestionAgent
	Exporter  *metrics.PrometheusExporter
}

// NewServer wires routes and middleware.
func NewServer(p *profile.Profile, s *store.Store, orch *orchestrator.Orchestrator, ingestion *agents.IngestionAgent, exporter *metrics.PrometheusExporter) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:    true,
		LogStatus: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			slog.Info("http request",
				"uri", v.URI,
				"status", v.Status,
				"method", c.Request().Method,
			)
			return nil
		},
	}))

	srv := &Server{
		e:         e,
		Profile:   p,
		Store:     s,
		Orch:      orch,
		Ingestion: ingestion,
		Exporter:  exporter,
	}

	v1 := e.Group("/api/v1")
	v1.POST("/chat", srv.handleChat)
	v1.POST("/ingest", srv.handleIngest)
	v1.GET("/sessions/:id/messages", srv.handleSessionMessages)

	e.GET("/healthz", srv.handleHealth)
	if exporter != nil {
		e.GET("/metrics", echo.WrapHandler(exporter.Handler()))
	}
	return srv
}

// Start serves until the context is canceled, then shuts down
// gracefully.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.Profile.Addr, s.Profile.Port)
	errCh := make(chan error, 1)
	go func() {
		if err := s.e.Start(addr); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()
	slog.Info("server started", "addr", addr, "mode", s.Profile.Mode)

	select {
	case err := <-errCh:
		return errors.Wrap(err, "serve")
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.e.Shutdown(shutdownCtx)
	}
}

type chatRequest struct {
	Message     string `json:"message"`
	SessionID   string `json:"session_id,omitempty"`
	UserID      string `json:"user_id,omitempty"`
	FileID      string `json:"file_id,omitempty"`
	DatasetRows int64  `json:"dataset_rows,omitempty"`
}

type chatResponse struct {
	Response        string  `json:"response"`
	SessionID       string  `json:"session_id"`
	TraceID         string  `json:"trace_id"`
	Intent          string  `json:"intent"`
	AgentUsed       string  `json:"agent_used"`
	ComplexityLevel string  `json:"complexity_level"`
	Confidence      float32 `json:"confidence"`
	Error           string  `json:"error,omitempty"`
}

func (s *Server) handleChat(c echo.Context) error {
	var req chatRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}
	if strings.TrimSpace(req.Message) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "message is required")
	}

	resp := s.Orch.Handle(c.Request().Context(), &orchestrator.Request{
		Message:     req.Message,
		SessionID:   req.SessionID,
		UserID:      req.UserID,
		FileID:      req.FileID,
		DatasetRows: req.DatasetRows,
	})
	return c.JSON(http.StatusOK, chatResponse{
		Response:        resp.ResponseText,
		SessionID:       resp.SessionID,
		TraceID:         resp.TraceID,
		Intent:          string(resp.Intent),
		AgentUsed:       resp.AgentUsed,
		ComplexityLevel: resp.ComplexityLevel,
		Confidence:      resp.Confidence,
		Error:           resp.Error,
	})
}

type ingestResponse struct {
	SourceID string `json:"source_id"`
	Rows     int    `json:"rows"`
	Chunks   int    `json:"chunks"`
	Version  int    `json:"version"`
}

// handleIngest accepts a raw CSV body. The source id comes from the
// source_id query parameter.
func (s *Server) handleIngest(c echo.Context) error {
	sourceID := c.QueryParam("source_id")
	if sourceID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "source_id is required")
	}

	body := http.MaxBytesReader(c.Response(), c.Request().Body, maxIngestBytes)
	defer body.Close()

	result, err := s.Ingestion.Ingest(c.Request().Context(), &agents.IngestRequest{
		SourceID: sourceID,
		Data:     body,
	})
	if err != nil {
		slog.Error("ingest failed", "source_id", sourceID, "error", err)
		return echo.NewHTTPError(http.StatusUnprocessableEntity, fmt.Sprintf("ingest failed: %v", err))
	}
	return c.JSON(http.StatusOK, ingestResponse{
		SourceID: result.SourceID,
		Rows:     result.Rows,
		Chunks:   result.Chunks,
		Version:  result.Version,
	})
}

type messageResponse struct {
	Turn      int    `json:"turn"`
	Type      string `json:"type"`
	Content   string `json:"content"`
	CreatedTs int64  `json:"created_ts"`
}

func (s *Server) handleSessionMessages(c echo.Context) error {
	sessionID := c.Param("id")
	if _, err := s.Store.GetSession(c.Request().Context(), sessionID); err != nil {
		if errors.Is(err, store.ErrSessionNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "session not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "storage error")
	}

	msgs, err := s.Store.ListMessages(c.Request().Context(), &store.FindConversationMessages{
		SessionID: sessionID,
	})
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "storage error")
	}

	out := make([]messageResponse, len(msgs))
	for i, m := range msgs {
		out[i] = messageResponse{
			Turn:      m.Turn,
			Type:      string(m.Type),
			Content:   m.Content,
			CreatedTs: m.CreatedTs,
		}
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "ok",
		"version": s.Profile.Version,
	})
}
