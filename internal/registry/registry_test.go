package registry

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBeginAndGet(t *testing.T) {
	t.Parallel()

	r := New()
	id := r.Begin(KindCrawl, "soa")

	run, ok := r.Get(id)
	require.True(t, ok)
	require.Equal(t, KindCrawl, run.Kind)
	require.Equal(t, "soa", run.Target)
	require.Equal(t, StateRunning, run.State)
	require.Nil(t, run.FinishedAt)

	_, ok = r.Get("nope")
	require.False(t, ok)
}

func TestUpdateCounters(t *testing.T) {
	t.Parallel()

	r := New()
	id := r.Begin(KindCatalog, "")
	r.Update(id, "processed", 3)
	r.Update(id, "processed", 7)
	r.Update(id, "errors", 1)
	r.Update("nope", "processed", 99)

	run, _ := r.Get(id)
	require.Equal(t, int64(7), run.Counts["processed"])
	require.Equal(t, int64(1), run.Counts["errors"])
}

func TestAddErrorBoundsTheList(t *testing.T) {
	t.Parallel()

	r := New()
	id := r.Begin(KindCatalog, "")
	for i := 0; i < 25; i++ {
		r.AddError(id, fmt.Errorf("failure %d", i))
	}
	r.AddError(id, nil)

	run, _ := r.Get(id)
	require.Len(t, run.Errors, maxErrorsPerRun)
	require.Equal(t, "failure 0", run.Errors[0])
	require.Equal(t, int64(25), run.ErrorsSeen)
}

func TestFinishIsTerminal(t *testing.T) {
	t.Parallel()

	r := New()
	id := r.Begin(KindCrawl, "soa")

	require.NoError(t, r.Finish(id, StateDone))
	run, _ := r.Get(id)
	require.Equal(t, StateDone, run.State)
	require.NotNil(t, run.FinishedAt)

	// A second finish must not flip the state.
	require.NoError(t, r.Finish(id, StateFailed))
	run, _ = r.Get(id)
	require.Equal(t, StateDone, run.State)

	require.Error(t, r.Finish(id, StateRunning))
	require.Error(t, r.Finish("nope", StateDone))
}

func TestListNewestFirst(t *testing.T) {
	t.Parallel()

	r := New()
	now := time.Unix(1700000000, 0)
	r.now = func() time.Time {
		now = now.Add(time.Second)
		return now
	}

	first := r.Begin(KindCrawl, "a")
	second := r.Begin(KindCatalog, "b")

	runs := r.List()
	require.Len(t, runs, 2)
	require.Equal(t, second, runs[0].ID)
	require.Equal(t, first, runs[1].ID)
}

func TestSnapshotsAreIsolated(t *testing.T) {
	t.Parallel()

	r := New()
	id := r.Begin(KindCatalog, "")
	r.Update(id, "written", 1)
	r.AddError(id, errors.New("boom"))

	run, _ := r.Get(id)
	run.Counts["written"] = 999
	run.Errors[0] = "tampered"

	fresh, _ := r.Get(id)
	require.Equal(t, int64(1), fresh.Counts["written"])
	require.Equal(t, "boom", fresh.Errors[0])
}

func TestConcurrentAccess(t *testing.T) {
	t.Parallel()

	r := New()
	id := r.Begin(KindCrawl, "soa")

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			r.Update(id, "pages", int64(n))
			r.AddError(id, fmt.Errorf("err %d", n))
			r.Get(id)
			r.List()
		}(i)
	}
	wg.Wait()

	run, ok := r.Get(id)
	require.True(t, ok)
	require.Equal(t, int64(20), run.ErrorsSeen)
}
