package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestSanitizeSite(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"standard http", "http://example.org/path", "example.org"},
		{"standard https", "https://Example.org/path", "example.org"},
		{"no scheme", "example.org/path", "example.org"},
		{"just host", "example.org", "example.org"},
		{"host with port", "example.org:8080", "example.org"},
		{"invalid url", "http://%", "unknown"},
		{"empty string", "", "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := SanitizeSite(tc.input); got != tc.expected {
				t.Errorf("SanitizeSite(%q) = %q; want %q", tc.input, got, tc.expected)
			}
		})
	}
}

func TestInit(t *testing.T) {
	// Call Init multiple times to test idempotency.
	Init()
	Init()

	if crawlPagesTotal == nil || filesDownloadedTotal == nil ||
		dedupHitsTotal == nil || catalogOutcomesTotal == nil {
		t.Fatal("Init() did not initialize metrics collectors")
	}

	ObservePage("https://test.example", "success")
	if val := testutil.ToFloat64(crawlPagesTotal); val != 1 {
		t.Errorf("Expected crawlPagesTotal to be 1, got %f", val)
	}

	ObserveDownload("https://test.example", 2048, true)
	if val := testutil.ToFloat64(dedupHitsTotal); val != 1 {
		t.Errorf("Expected dedupHitsTotal to be 1, got %f", val)
	}

	ObserveOutcome("ok")
	ObserveOutcome("error")
	if val := testutil.ToFloat64(catalogOutcomesTotal); val != 2 {
		t.Errorf("Expected catalogOutcomesTotal to be 2, got %f", val)
	}
}
