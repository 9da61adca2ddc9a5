package guard

import (
	"errors"
	"testing"
)

func TestAuthorizeRawAccess(t *testing.T) {
	a := New()

	if err := a.AuthorizeRawAccess(IngestionPipeline, "sales.csv"); err != nil {
		t.Fatalf("ingestion pipeline denied: %v", err)
	}

	for _, caller := range []Identity{AnalysisAgent, Orchestrator, "random_caller"} {
		err := a.AuthorizeRawAccess(caller, "sales.csv")
		if err == nil {
			t.Fatalf("caller %q was allowed raw access", caller)
		}
		if !errors.Is(err, ErrUnauthorizedRawAccess) {
			t.Fatalf("caller %q: error %v is not ErrUnauthorizedRawAccess", caller, err)
		}
	}
}

func TestAllow(t *testing.T) {
	a := New()

	if err := a.AuthorizeRawAccess(TestHarness, "x.csv"); err == nil {
		t.Fatal("test harness allowed before Allow")
	}
	a.Allow(TestHarness)
	if err := a.AuthorizeRawAccess(TestHarness, "x.csv"); err != nil {
		t.Fatalf("test harness denied after Allow: %v", err)
	}
}
