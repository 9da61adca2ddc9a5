// Package intent classifies user queries into agent routes using a
// weighted keyword registry.
package intent

import (
	"sort"
	"strings"
)

// Intent names the agent route a query should take.
type Intent string

const (
	CSVAnalysis Intent = "CSV_ANALYSIS"
	RAGSearch   Intent = "RAG_SEARCH"
	DataLoading Intent = "DATA_LOADING"
	Hybrid      Intent = "HYBRID"
	General     Intent = "GENERAL"
	Unknown     Intent = "UNKNOWN"
)

// MinScore is the score an intent must reach to count as clear.
const MinScore = 1.0

// fileBoost is added to CSVAnalysis and DataLoading when the request
// carries an attached dataset.
const fileBoost = 0.5

// priority orders intents for tie-breaking. Lower wins.
var priority = map[Intent]int{
	CSVAnalysis: 0,
	RAGSearch:   1,
	DataLoading: 2,
}

// Keyword carries a classification signal with a weight.
type Keyword struct {
	Term   string
	Weight float64
}

// defaultRegistry is the built-in keyword registry. Weights below 1.0
// need a second hit (or the file boost) to clear MinScore.
var defaultRegistry = map[Intent][]Keyword{
	CSVAnalysis: {
		{"analyze", 1.0}, {"analysis", 1.0}, {"calculate", 1.0},
		{"sum", 0.8}, {"average", 0.8}, {"mean", 0.8}, {"median", 0.8},
		{"count", 0.6}, {"total", 0.6}, {"column", 0.8}, {"row", 0.6},
		{"csv", 1.0}, {"dataset", 0.8}, {"statistics", 1.0},
		{"correlation", 1.0}, {"trend", 0.8}, {"chart", 0.8},
		{"group by", 1.0}, {"aggregate", 1.0}, {"filter", 0.6},
	},
	RAGSearch: {
		{"search", 1.0}, {"find", 0.8}, {"look up", 1.0},
		{"what did", 0.8}, {"previously", 0.8}, {"earlier", 0.6},
		{"remember", 1.0}, {"recall", 1.0}, {"similar", 0.8},
		{"related", 0.8}, {"mentioned", 0.8}, {"document", 0.6},
	},
	DataLoading: {
		{"load", 1.0}, {"import", 1.0}, {"upload", 1.0},
		{"ingest", 1.0}, {"read file", 1.0}, {"open file", 1.0},
		{"parse", 0.8}, {"file", 0.5}, {"data source", 0.8},
	},
	General: {
		{"hello", 1.0}, {"hi", 1.0}, {"hey", 1.0}, {"thanks", 1.0},
		{"thank you", 1.0}, {"help", 0.8}, {"what can you do", 1.0},
		{"who are you", 1.0}, {"bye", 1.0}, {"goodbye", 1.0},
	},
}

// Result is a classification outcome.
type Result struct {
	Intent Intent
	// Scores holds the raw score of every intent that matched at
	// all, including ones below MinScore.
	Scores map[Intent]float64
	// Secondary lists all clear intents when Intent is Hybrid,
	// ordered by score with priority breaking ties.
	Secondary []Intent
}

// Classifier scores queries against the keyword registry. The zero
// value is not usable; use New.
type Classifier struct {
	registry map[Intent][]Keyword

	// StrictSingleIntent disables Hybrid. When set, ties resolve
	// to the highest-priority clear intent.
	StrictSingleIntent bool
}

// Option configures a Classifier.
type Option func(*Classifier)

// WithStrictSingleIntent disables the Hybrid route.
func WithStrictSingleIntent() Option {
	return func(c *Classifier) { c.StrictSingleIntent = true }
}

// WithKeywords replaces the registry entry for one intent.
func WithKeywords(intent Intent, keywords []Keyword) Option {
	return func(c *Classifier) { c.registry[intent] = keywords }
}

// New creates a Classifier with the default registry.
func New(opts ...Option) *Classifier {
	c := &Classifier{registry: make(map[Intent][]Keyword, len(defaultRegistry))}
	for intent, kws := range defaultRegistry {
		c.registry[intent] = kws
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Classify scores the query against all registered intents. hasFile
// reports whether the request carries an attached dataset, which
// boosts the data-oriented intents. Classification is deterministic.
func (c *Classifier) Classify(query string, hasFile bool) Result {
	q := strings.ToLower(query)

	scores := make(map[Intent]float64)
	for intent, keywords := range c.registry {
		var score float64
		for _, kw := range keywords {
			if containsTerm(q, kw.Term) {
				score += kw.Weight
			}
		}
		if score > 0 {
			scores[intent] = score
		}
	}
	if hasFile {
		if scores[CSVAnalysis] > 0 {
			scores[CSVAnalysis] += fileBoost
		}
		if scores[DataLoading] > 0 {
			scores[DataLoading] += fileBoost
		}
	}

	var clear []Intent
	for intent, score := range scores {
		if intent == General {
			continue
		}
		if score >= MinScore {
			clear = append(clear, intent)
		}
	}
	sort.Slice(clear, func(i, j int) bool {
		si, sj := scores[clear[i]], scores[clear[j]]
		if si != sj {
			return si > sj
		}
		return priority[clear[i]] < priority[clear[j]]
	})

	switch {
	case len(clear) >= 2 && !c.StrictSingleIntent:
		return Result{Intent: Hybrid, Scores: scores, Secondary: clear}
	case len(clear) >= 1:
		return Result{Intent: clear[0], Scores: scores}
	case scores[General] >= MinScore:
		return Result{Intent: General, Scores: scores}
	default:
		return Result{Intent: Unknown, Scores: scores}
	}
}

// containsTerm does word-boundary-ish matching. Multi-word terms use
// plain substring search; single words must match a whole token so
// "hi" does not fire inside "this".
func containsTerm(query, term string) bool {
	if strings.ContainsRune(term, ' ') {
		return strings.Contains(query, term)
	}
	for _, token := range strings.FieldsFunc(query, func(r rune) bool {
		return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9')
	}) {
		if token == term {
			return true
		}
	}
	return false
}
