package intent

import "testing"

func TestClassify(t *testing.T) {
	c := New()

	tests := []struct {
		name    string
		query   string
		hasFile bool
		want    Intent
	}{
		{"greeting", "hello", false, General},
		{"thanks", "thanks, that was helpful", false, General},
		{"csv analysis", "calculate the average of the revenue column", false, CSVAnalysis},
		{"aggregate query", "group by region and aggregate sales", false, CSVAnalysis},
		{"rag search", "search for what we discussed about pricing", false, RAGSearch},
		{"memory recall", "do you remember the churn numbers", false, RAGSearch},
		{"data loading", "load the transactions file", false, DataLoading},
		{"import query", "import this csv", true, Hybrid},
		{"gibberish", "qwerty asdf zxcv", false, Unknown},
		{"empty query", "", false, Unknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := c.Classify(tt.query, tt.hasFile)
			if got.Intent != tt.want {
				t.Fatalf("Classify(%q, %v) = %s (scores %v), want %s",
					tt.query, tt.hasFile, got.Intent, got.Scores, tt.want)
			}
		})
	}
}

func TestClassifyHybrid(t *testing.T) {
	c := New()

	got := c.Classify("load the sales csv and analyze the totals", false)
	if got.Intent != Hybrid {
		t.Fatalf("intent = %s, want HYBRID (scores %v)", got.Intent, got.Scores)
	}
	if len(got.Secondary) < 2 {
		t.Fatalf("secondary = %v, want at least two clear intents", got.Secondary)
	}
}

func TestClassifyStrictSingleIntent(t *testing.T) {
	c := New(WithStrictSingleIntent())

	got := c.Classify("load the sales csv and analyze the totals", false)
	if got.Intent == Hybrid {
		t.Fatal("strict classifier must not return HYBRID")
	}
	if got.Intent != CSVAnalysis && got.Intent != DataLoading {
		t.Fatalf("intent = %s, want one of the clear data intents", got.Intent)
	}
}

func TestClassifyFileBoost(t *testing.T) {
	c := New()

	// "parse" alone scores 0.8; the attached file pushes
	// DataLoading over the threshold.
	without := c.Classify("parse this for me", false)
	if without.Intent != Unknown {
		t.Fatalf("without file: intent = %s, want UNKNOWN", without.Intent)
	}
	with := c.Classify("parse this for me", true)
	if with.Intent != DataLoading {
		t.Fatalf("with file: intent = %s, want DATA_LOADING", with.Intent)
	}
}

func TestClassifyWordBoundaries(t *testing.T) {
	c := New()

	// "hi" must not match inside "this".
	got := c.Classify("this quarter looked odd", false)
	if got.Intent == General {
		t.Fatalf("substring keyword leak: %v", got.Scores)
	}
}

func TestClassifyDeterministic(t *testing.T) {
	c := New()
	first := c.Classify("find similar anomalies in the dataset", false)
	for i := 0; i < 10; i++ {
		got := c.Classify("find similar anomalies in the dataset", false)
		if got.Intent != first.Intent {
			t.Fatalf("classification not deterministic: %s vs %s", got.Intent, first.Intent)
		}
	}
}

func TestWithKeywords(t *testing.T) {
	c := New(WithKeywords(CSVAnalysis, []Keyword{{"pivot", 1.0}}))

	if got := c.Classify("pivot the table", false); got.Intent != CSVAnalysis {
		t.Fatalf("intent = %s, want CSV_ANALYSIS", got.Intent)
	}
	// The replaced registry must not keep the defaults.
	if got := c.Classify("calculate the average", false); got.Intent == CSVAnalysis {
		t.Fatalf("default keywords survived replacement: %v", got.Scores)
	}
}
