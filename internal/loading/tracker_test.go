package loading

import (
	"errors"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestTrackerMultiset(t *testing.T) {
	t.Parallel()

	tr := New()
	require.False(t, tr.IsLoading())

	tr.Begin("posts", "create")
	tr.Begin("posts", "create")
	tr.Begin("posts", "list")
	require.True(t, tr.IsLoading())
	require.True(t, tr.IsCallLoading("posts", "create"))
	require.Equal(t, 2, tr.InFlight()[Key{Zome: "posts", Fn: "create"}])

	tr.End("posts", "create")
	require.True(t, tr.IsCallLoading("posts", "create"))

	tr.End("posts", "create")
	require.False(t, tr.IsCallLoading("posts", "create"))
	require.True(t, tr.IsLoading())

	tr.End("posts", "list")
	require.False(t, tr.IsLoading())

	// Unbalanced End must not go negative.
	tr.End("posts", "list")
	tr.Begin("posts", "list")
	require.True(t, tr.IsCallLoading("posts", "list"))
}

func TestTrackReleasesOnErrorPath(t *testing.T) {
	t.Parallel()

	tr := New()
	boom := errors.New("boom")

	call := func() error {
		defer tr.Track("posts", "create")()
		require.True(t, tr.IsCallLoading("posts", "create"))
		return boom
	}

	require.ErrorIs(t, call(), boom)
	require.False(t, tr.IsLoading())
}

func TestTrackReleaseIsIdempotent(t *testing.T) {
	t.Parallel()

	tr := New()
	tr.Begin("a", "b")
	release := tr.Track("a", "b")
	release()
	release()
	require.True(t, tr.IsCallLoading("a", "b"))
}

func TestTrackerMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	tr := New(WithMetrics(reg))

	tr.Begin("posts", "create")
	tr.Begin("posts", "create")
	require.Equal(t, 2.0, testutil.ToFloat64(tr.gauge.WithLabelValues("posts", "create")))

	tr.End("posts", "create")
	tr.End("posts", "create")
	tr.End("posts", "create")
	require.Equal(t, 0.0, testutil.ToFloat64(tr.gauge.WithLabelValues("posts", "create")))
}

func TestTrackerConcurrentUse(t *testing.T) {
	t.Parallel()

	tr := New()
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				release := tr.Track("z", "f")
				_ = tr.IsLoading()
				release()
			}
		}()
	}
	wg.Wait()
	require.False(t, tr.IsLoading())
}
