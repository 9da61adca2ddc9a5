// Package router selects the LLM tier for a query based on query
// complexity and dataset size.
package router

import (
	"strings"

	"github.com/datasage-io/datasage/ai/llm"
	"github.com/datasage-io/datasage/internal/profile"
)

// Complexity is an ordered tier. Higher tiers bind to stronger (and
// slower) models.
type Complexity int

const (
	Simple Complexity = iota
	Medium
	Complex
	Advanced
)

func (c Complexity) String() string {
	switch c {
	case Simple:
		return "SIMPLE"
	case Medium:
		return "MEDIUM"
	case Complex:
		return "COMPLEX"
	case Advanced:
		return "ADVANCED"
	default:
		return "UNKNOWN"
	}
}

// Decision binds a complexity tier to a concrete generation config.
type Decision struct {
	Complexity Complexity
	Config     llm.GenerationConfig
}

// tierParams are fixed per tier; only the model name comes from the
// profile.
var tierParams = map[Complexity]struct {
	Temperature float32
	MaxTokens   int
}{
	Simple:   {0.3, 512},
	Medium:   {0.5, 1024},
	Complex:  {0.7, 2048},
	Advanced: {0.8, 4096},
}

// advancedKeywords force the top tier regardless of dataset size.
var advancedKeywords = []string{
	"machine learning", "predictive", "comprehensive analysis",
	"statistical model", "regression", "time series", "forecast",
	"clustering", "deep dive",
}

// complexKeywords raise the floor to the Complex tier.
var complexKeywords = []string{
	"fraud", "anomaly", "anomalies", "correlation", "correlate",
	"outlier", "pattern", "trend", "distribution", "segment",
}

// Router maps queries to tier decisions. Routing is pure; two calls
// with the same inputs always produce the same decision.
type Router struct {
	models    map[Complexity]string
	smallRows int64
	largeRows int64
}

// New builds a Router from the profile's tier model bindings and size
// thresholds.
func New(p *profile.Profile) *Router {
	return &Router{
		models: map[Complexity]string{
			Simple:   p.ModelSimple,
			Medium:   p.ModelMedium,
			Complex:  p.ModelComplex,
			Advanced: p.ModelAdvanced,
		},
		smallRows: int64(p.RouterSmallRows),
		largeRows: int64(p.RouterLargeRows),
	}
}

// Route picks the tier for a query. datasetRows is the row count of
// the dataset in scope, or 0 when no dataset is attached. The final
// tier is the maximum of the keyword tier and the size tier, so a
// hard query over a small dataset still gets a strong model.
func (r *Router) Route(query string, datasetRows int64) Decision {
	tier := Simple
	if kw := keywordTier(query); kw > tier {
		tier = kw
	}
	if sz := r.sizeTier(datasetRows); sz > tier {
		tier = sz
	}
	return r.decision(tier)
}

// Fallback drops the decision one tier for a retry after a provider
// failure. Simple has nowhere to fall.
func (r *Router) Fallback(d Decision) (Decision, bool) {
	if d.Complexity == Simple {
		return d, false
	}
	return r.decision(d.Complexity - 1), true
}

func (r *Router) decision(tier Complexity) Decision {
	params := tierParams[tier]
	return Decision{
		Complexity: tier,
		Config: llm.GenerationConfig{
			Model:       r.models[tier],
			Temperature: params.Temperature,
			MaxTokens:   params.MaxTokens,
		},
	}
}

func (r *Router) sizeTier(rows int64) Complexity {
	switch {
	case rows <= 0:
		return Simple
	case rows < r.smallRows:
		return Medium
	case rows <= r.largeRows:
		return Complex
	default:
		return Advanced
	}
}

func keywordTier(query string) Complexity {
	q := strings.ToLower(query)
	for _, kw := range advancedKeywords {
		if strings.Contains(q, kw) {
			return Advanced
		}
	}
	for _, kw := range complexKeywords {
		if strings.Contains(q, kw) {
			return Complex
		}
	}
	return Simple
}
