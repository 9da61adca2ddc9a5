// Package guard enforces the raw-dataset access policy. Only the
// ingestion path may read raw rows; every other caller works from
// retrieved chunks.
package guard

import (
	"log/slog"
	"sync"

	"github.com/pkg/errors"
)

// Identity names a caller requesting raw dataset access.
type Identity string

const (
	IngestionPipeline Identity = "ingestion_pipeline"
	TestHarness       Identity = "test_harness"
	AnalysisAgent     Identity = "analysis_agent"
	Orchestrator      Identity = "orchestrator"
)

// ErrUnauthorizedRawAccess is returned for every denied raw-data
// request.
var ErrUnauthorizedRawAccess = errors.New("guard: raw dataset access denied")

// Authorizer gates raw dataset reads with an allow-list.
type Authorizer struct {
	mu      sync.RWMutex
	allowed map[Identity]bool
}

// New creates an Authorizer permitting only the ingestion pipeline.
func New() *Authorizer {
	return &Authorizer{
		allowed: map[Identity]bool{IngestionPipeline: true},
	}
}

// Allow adds an identity to the allow-list. Intended for tests and
// controlled tooling, not for request-path callers.
func (a *Authorizer) Allow(id Identity) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.allowed[id] = true
}

// AuthorizeRawAccess checks whether the caller may read raw dataset
// rows. Every denial is logged with the caller identity and source.
func (a *Authorizer) AuthorizeRawAccess(caller Identity, sourceID string) error {
	a.mu.RLock()
	ok := a.allowed[caller]
	a.mu.RUnlock()

	if !ok {
		slog.Error("guard: raw dataset access denied",
			"caller", string(caller),
			"source_id", sourceID,
		)
		return errors.Wrapf(ErrUnauthorizedRawAccess, "caller %q, source %q", caller, sourceID)
	}
	return nil
}
