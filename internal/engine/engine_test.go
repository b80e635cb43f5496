package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"docharvest/internal/harvest"
	"docharvest/internal/metrics"
)

type fakeClock struct{ now time.Time }

func (c fakeClock) Now() time.Time { return c.now }

// fakeState serves scripted candidate batches and records applied
// outcomes. Once the script is exhausted it keeps returning the last
// batch, mimicking a store where failing items stay selectable.
type fakeState struct {
	mu       sync.Mutex
	batches  [][]harvest.Candidate
	repeat   bool
	applied  [][]harvest.CatalogItem
	applyErr error
}

func (f *fakeState) SelectCandidates(_ context.Context, _ harvest.CandidateQuery) ([]harvest.Candidate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.batches) == 0 {
		return nil, nil
	}
	batch := f.batches[0]
	if !f.repeat || len(f.batches) > 1 {
		f.batches = f.batches[1:]
	}
	return batch, nil
}

func (f *fakeState) ApplyOutcomes(_ context.Context, items []harvest.CatalogItem) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.applyErr != nil {
		return f.applyErr
	}
	f.applied = append(f.applied, items)
	return nil
}

func (f *fakeState) CatalogItemByURL(context.Context, string) (*harvest.CatalogItem, error) {
	return nil, nil
}

func (f *fakeState) allApplied() []harvest.CatalogItem {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []harvest.CatalogItem
	for _, batch := range f.applied {
		out = append(out, batch...)
	}
	return out
}

// fakeExtractor returns scripted text or errors keyed by path basename.
type fakeExtractor struct {
	texts map[string]string
	errs  map[string]error
}

func (f *fakeExtractor) Extract(_ context.Context, path string, _ int) (string, error) {
	name := filepath.Base(path)
	if err, ok := f.errs[name]; ok {
		return "", err
	}
	if text, ok := f.texts[name]; ok {
		return text, nil
	}
	return "extracted text for " + name, nil
}

// fakeClassifier returns canned fields and marks texts containing
// "off-topic" irrelevant.
type fakeClassifier struct{}

func (fakeClassifier) Keywords(text, _ string) []string { return []string{"kw"} }
func (fakeClassifier) Summarize(string, []string) string {
	return "summary"
}
func (fakeClassifier) Categorize(string, string, []string) string { return "Category" }
func (fakeClassifier) Relevant(_, text string, _ []string) bool {
	return !strings.Contains(text, "off-topic")
}

type fakeSink struct {
	mu    sync.Mutex
	items []harvest.CatalogItem
}

func (f *fakeSink) Append(_ context.Context, items []harvest.CatalogItem) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items = append(f.items, items...)
	return nil
}

func writeLocalFile(t *testing.T, dir, name string) string {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("payload"), 0o600))
	return name
}

func candidate(seq int64, name, dir string) harvest.Candidate {
	return harvest.Candidate{
		Seq:              seq,
		URL:              "https://example.org/" + name,
		Fingerprint:      fmt.Sprintf("fp-%d", seq),
		Title:            "Doc " + name,
		SourceSite:       "soa",
		OriginalFilename: name,
		LocalPath:        name,
	}
}

func newTestEngine(t *testing.T, cfg Config, state *fakeState, ex *fakeExtractor, sink *fakeSink) *Engine {
	t.Helper()
	metrics.Init()
	if cfg.PipelineVersion == "" {
		cfg.PipelineVersion = "v1"
	}
	e, err := New(cfg, state, ex, fakeClassifier{}, sink,
		fakeClock{now: time.Unix(1700000000, 0).UTC()}, zap.NewNop())
	require.NoError(t, err)
	return e
}

func TestRunIsolatesPerItemErrors(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	a := writeLocalFile(t, dir, "a.txt")
	b := writeLocalFile(t, dir, "b.txt")
	c := writeLocalFile(t, dir, "c.txt")

	state := &fakeState{batches: [][]harvest.Candidate{{
		candidate(1, a, dir), candidate(2, b, dir), candidate(3, c, dir),
	}}}
	ex := &fakeExtractor{errs: map[string]error{"b.txt": errors.New("corrupt stream")}}
	sink := &fakeSink{}

	e := newTestEngine(t, Config{FilesBaseDir: dir}, state, ex, sink)
	stats, err := e.Run(context.Background())
	require.NoError(t, err)

	require.Equal(t, int64(3), stats.Scanned)
	require.Equal(t, int64(2), stats.Processed)
	require.Equal(t, int64(1), stats.Errors)
	require.Equal(t, int64(2), stats.Written)
	require.Len(t, sink.items, 2)

	applied := state.allApplied()
	require.Len(t, applied, 3)
	byURL := make(map[string]harvest.CatalogItem)
	for _, item := range applied {
		byURL[item.FileURL] = item
	}
	failed := byURL["https://example.org/b.txt"]
	require.Equal(t, harvest.StatusError, failed.Status)
	require.Equal(t, "(error)", failed.Category)
	require.Contains(t, failed.ErrorMessage, "corrupt stream")
	require.Equal(t, "v1", failed.PipelineVersion)
}

func TestRunCountsMissingFiles(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	state := &fakeState{batches: [][]harvest.Candidate{{
		candidate(1, "ghost.txt", dir),
	}}}
	sink := &fakeSink{}

	e := newTestEngine(t, Config{FilesBaseDir: dir}, state, &fakeExtractor{}, sink)
	stats, err := e.Run(context.Background())
	require.NoError(t, err)

	require.Equal(t, int64(1), stats.Errors)
	require.Equal(t, int64(1), stats.MissingFiles)
	require.Empty(t, sink.items)

	applied := state.allApplied()
	require.Len(t, applied, 1)
	require.Equal(t, harvest.StatusError, applied[0].Status)
	require.Contains(t, applied[0].ErrorMessage, "local file missing")
}

func TestRunSkipsOffTopicDocumentsDurably(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	a := writeLocalFile(t, dir, "relevant.txt")
	b := writeLocalFile(t, dir, "noise.txt")

	state := &fakeState{batches: [][]harvest.Candidate{{
		candidate(1, a, dir), candidate(2, b, dir),
	}}}
	ex := &fakeExtractor{texts: map[string]string{"noise.txt": "totally off-topic content"}}
	sink := &fakeSink{}

	e := newTestEngine(t, Config{FilesBaseDir: dir, FilterRelevance: true}, state, ex, sink)
	stats, err := e.Run(context.Background())
	require.NoError(t, err)

	require.Equal(t, int64(1), stats.Processed)
	require.Equal(t, int64(1), stats.Skipped)
	require.Len(t, sink.items, 1)
	require.Equal(t, "https://example.org/relevant.txt", sink.items[0].FileURL)

	byURL := make(map[string]harvest.CatalogItem)
	for _, item := range state.allApplied() {
		byURL[item.FileURL] = item
	}
	skipped := byURL["https://example.org/noise.txt"]
	require.Equal(t, harvest.StatusSkipped, skipped.Status)
	require.Equal(t, "(filtered: off-topic)", skipped.Category)
	require.Empty(t, skipped.Summary)
}

func TestRunTerminatesWhenOnlySeenCandidatesReturn(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	// repeat=true makes the store hand back the same failing candidate on
	// every selection, as a real store does with retry-errors enabled.
	state := &fakeState{
		batches: [][]harvest.Candidate{{candidate(1, "bad.txt", dir)}},
		repeat:  true,
	}
	ex := &fakeExtractor{errs: map[string]error{"bad.txt": errors.New("still broken")}}
	writeLocalFile(t, dir, "bad.txt")

	e := newTestEngine(t, Config{FilesBaseDir: dir, RetryErrors: true}, state, ex, &fakeSink{})

	done := make(chan struct{})
	var stats harvest.CatalogStats
	var err error
	go func() {
		stats, err = e.Run(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("engine looped instead of terminating on a repeating candidate")
	}

	require.NoError(t, err)
	require.Equal(t, int64(1), stats.Scanned)
	require.Equal(t, int64(1), stats.Errors)
}

func TestRunDrainsBacklogAcrossBatches(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	a := writeLocalFile(t, dir, "a.txt")
	b := writeLocalFile(t, dir, "b.txt")
	c := writeLocalFile(t, dir, "c.txt")

	state := &fakeState{batches: [][]harvest.Candidate{
		{candidate(1, a, dir), candidate(2, b, dir)},
		{candidate(3, c, dir)},
	}}
	sink := &fakeSink{}

	e := newTestEngine(t, Config{FilesBaseDir: dir, BatchSize: 2}, state, &fakeExtractor{}, sink)
	stats, err := e.Run(context.Background())
	require.NoError(t, err)

	require.Equal(t, int64(3), stats.Scanned)
	require.Equal(t, int64(3), stats.Processed)
	require.Len(t, state.applied, 2, "one transaction per batch")
}

func TestRunWithEmptyBacklogIsIdempotent(t *testing.T) {
	t.Parallel()

	state := &fakeState{}
	sink := &fakeSink{}
	e := newTestEngine(t, Config{}, state, &fakeExtractor{}, sink)

	stats, err := e.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, harvest.CatalogStats{}, stats)
	require.Empty(t, state.applied)
	require.Empty(t, sink.items)
}

func TestRunStoreFailureIsFatal(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	a := writeLocalFile(t, dir, "a.txt")
	state := &fakeState{
		batches:  [][]harvest.Candidate{{candidate(1, a, dir)}},
		applyErr: errors.New("disk full"),
	}

	e := newTestEngine(t, Config{FilesBaseDir: dir}, state, &fakeExtractor{}, &fakeSink{})
	_, err := e.Run(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "disk full")
}

func TestRunHonorsCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	e := newTestEngine(t, Config{}, &fakeState{}, &fakeExtractor{}, &fakeSink{})
	_, err := e.Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func TestRunReportsProgress(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	a := writeLocalFile(t, dir, "a.txt")
	state := &fakeState{batches: [][]harvest.Candidate{{candidate(1, a, dir)}}}

	e := newTestEngine(t, Config{FilesBaseDir: dir}, state, &fakeExtractor{}, &fakeSink{})
	var calls []harvest.CatalogStats
	e.Progress = func(s harvest.CatalogStats) { calls = append(calls, s) }

	_, err := e.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, calls, 1)
	require.Equal(t, int64(1), calls[0].Processed)
}

func TestNewRequiresPipelineVersion(t *testing.T) {
	t.Parallel()

	_, err := New(Config{}, &fakeState{}, &fakeExtractor{}, fakeClassifier{},
		&fakeSink{}, fakeClock{}, zap.NewNop())
	require.Error(t, err)
}
