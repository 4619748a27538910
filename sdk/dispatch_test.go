package sdk

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mattyg/ui-common-library/internal/connection"
)

func TestDispatcherRunsInOrder(t *testing.T) {
	t.Parallel()

	d := newDispatcher(0)
	var got []int
	for i := 0; i < 10; i++ {
		i := i
		require.NoError(t, d.do(func() { got = append(got, i) }))
	}

	v, err := d.call(func() (interface{}, error) { return len(got), nil })
	require.NoError(t, err)
	require.Equal(t, 10, v)
	require.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, got)
}

func TestDispatcherClose(t *testing.T) {
	t.Parallel()

	d := newDispatcher(4)
	release := make(chan struct{})
	ran := make(chan int, 2)
	require.NoError(t, d.do(func() { <-release }))
	require.NoError(t, d.do(func() { ran <- 1 }))

	d.close()
	d.close()

	require.ErrorIs(t, d.do(func() { ran <- 2 }), errDispatcherClosed)
	_, err := d.call(func() (interface{}, error) { return nil, nil })
	require.ErrorIs(t, err, errDispatcherClosed)

	// Work queued before close still runs, then the goroutine exits.
	close(release)
	require.Equal(t, 1, <-ran)
	select {
	case <-d.done:
	case <-time.After(5 * time.Second):
		t.Fatal("dispatcher goroutine did not exit")
	}
	require.Empty(t, ran)
}

func TestNilDispatcher(t *testing.T) {
	t.Parallel()

	var d *dispatcher
	require.Error(t, d.do(func() {}))
	_, err := d.call(func() (interface{}, error) { return nil, nil })
	require.Error(t, err)
	require.NotPanics(t, d.close)
}

func TestClientSerializesConcurrentUpdates(t *testing.T) {
	fc := newFakeContainer()
	c := New[string](fc)
	_, err := c.Initialize(t.Context())
	require.NoError(t, err)

	const goroutines = 20
	const iterations = 20

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for g := 0; g < goroutines; g++ {
		go func(g int) {
			defer wg.Done()
			for i := 0; i < iterations; i++ {
				if (g+i)%2 == 0 {
					fc.set(readyInfo("k"))
				} else {
					fc.set(connection.Snapshot{})
				}
				c.SetListener(&recordingListener{})
				_ = c.IsReady()
			}
		}(g)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	require.Eventually(t, func() bool {
		select {
		case <-done:
			return true
		default:
			return false
		}
	}, 10*time.Second, 10*time.Millisecond)
}
