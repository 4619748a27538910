package sdk

import (
	"errors"
	"sync"
)

// errDispatcherClosed is returned when work is queued after close.
var errDispatcherClosed = errors.New("dispatcher closed")

type dispatchResult struct {
	value interface{}
	err   error
}

// dispatcher runs queued functions one at a time on a single goroutine.
// Listener callbacks go through it so they never overlap and arrive in the
// order the state changes happened.
type dispatcher struct {
	// mu guards closed and the send on q; close takes it exclusively so no
	// send races the channel close.
	mu     sync.RWMutex
	closed bool
	q      chan func()
	done   chan struct{}
}

func newDispatcher(queueSize int) *dispatcher {
	if queueSize <= 0 {
		queueSize = 256
	}
	d := &dispatcher{
		q:    make(chan func(), queueSize),
		done: make(chan struct{}),
	}
	go d.run()
	return d
}

func (d *dispatcher) run() {
	defer close(d.done)
	for fn := range d.q {
		if fn != nil {
			fn()
		}
	}
}

func (d *dispatcher) do(fn func()) error {
	if d == nil {
		return errors.New("dispatcher not initialized")
	}
	if fn == nil {
		return nil
	}
	return d.enqueue(fn)
}

// call runs fn on the dispatcher goroutine and waits for its result. It
// must not be called from queued work.
func (d *dispatcher) call(fn func() (interface{}, error)) (interface{}, error) {
	if d == nil {
		return nil, errors.New("dispatcher not initialized")
	}
	if fn == nil {
		return nil, nil
	}

	res := make(chan dispatchResult, 1)
	err := d.enqueue(func() {
		value, err := fn()
		res <- dispatchResult{value: value, err: err}
	})
	if err != nil {
		return nil, err
	}

	// Work queued before close still runs, so res is always written.
	r := <-res
	return r.value, r.err
}

func (d *dispatcher) enqueue(fn func()) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return errDispatcherClosed
	}
	d.q <- fn
	return nil
}

// close stops accepting work. Already queued work still runs, after which
// the goroutine exits. close does not wait for that to happen.
func (d *dispatcher) close() {
	if d == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.closed = true
	close(d.q)
}
