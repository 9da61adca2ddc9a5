package router

import (
	"testing"

	"github.com/datasage-io/datasage/internal/profile"
)

func testRouter() *Router {
	return New(&profile.Profile{
		ModelSimple:     "model-simple",
		ModelMedium:     "model-medium",
		ModelComplex:    "model-complex",
		ModelAdvanced:   "model-advanced",
		RouterSmallRows: 10_000,
		RouterLargeRows: 100_000,
	})
}

func TestRoute(t *testing.T) {
	r := testRouter()

	tests := []struct {
		name        string
		query       string
		datasetRows int64
		want        Complexity
	}{
		{"greeting without dataset", "hello", 0, Simple},
		{"plain question without dataset", "what can you do?", 0, Simple},
		{"small dataset raises floor", "show the first rows", 500, Medium},
		{"mid-size dataset", "sum the revenue column", 50_000, Complex},
		{"large dataset", "sum the revenue column", 500_000, Advanced},
		{"complex keyword on small data", "find fraud in these transactions", 500, Complex},
		{"complex keyword on large data", "find fraud in these transactions", 500_000, Advanced},
		{"advanced keyword wins over small data", "build a predictive model for churn", 500, Advanced},
		{"correlation keyword", "is there a correlation between age and spend", 20_000, Complex},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := r.Route(tt.query, tt.datasetRows)
			if got.Complexity != tt.want {
				t.Fatalf("Route(%q, %d) = %s, want %s", tt.query, tt.datasetRows, got.Complexity, tt.want)
			}
		})
	}
}

func TestRouteDeterministic(t *testing.T) {
	r := testRouter()
	first := r.Route("detect anomalies in payments", 42_000)
	for i := 0; i < 10; i++ {
		if got := r.Route("detect anomalies in payments", 42_000); got != first {
			t.Fatalf("routing not deterministic: %+v vs %+v", got, first)
		}
	}
}

func TestDecisionConfig(t *testing.T) {
	r := testRouter()

	d := r.Route("hello", 0)
	if d.Config.Model != "model-simple" {
		t.Fatalf("model = %q, want model-simple", d.Config.Model)
	}
	if d.Config.Temperature != 0.3 || d.Config.MaxTokens != 512 {
		t.Fatalf("simple tier params = (%v, %d)", d.Config.Temperature, d.Config.MaxTokens)
	}

	d = r.Route("comprehensive analysis of sales", 500_000)
	if d.Config.Model != "model-advanced" {
		t.Fatalf("model = %q, want model-advanced", d.Config.Model)
	}
	if d.Config.Temperature != 0.8 || d.Config.MaxTokens != 4096 {
		t.Fatalf("advanced tier params = (%v, %d)", d.Config.Temperature, d.Config.MaxTokens)
	}
}

func TestFallback(t *testing.T) {
	r := testRouter()

	d := r.Route("comprehensive analysis of sales", 0)
	fb, ok := r.Fallback(d)
	if !ok || fb.Complexity != Complex {
		t.Fatalf("Fallback(Advanced) = %s, %v", fb.Complexity, ok)
	}
	if fb.Config.Model != "model-complex" {
		t.Fatalf("fallback model = %q", fb.Config.Model)
	}

	d = r.Route("hello", 0)
	if _, ok := r.Fallback(d); ok {
		t.Fatal("Fallback(Simple) should report no lower tier")
	}
}
