// Package loading tracks which zome calls are in flight so a UI can show a
// busy indicator.
package loading

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Key identifies a call by zome and function name.
type Key struct {
	Zome string
	Fn   string
}

// String returns "zome.fn".
func (k Key) String() string {
	return k.Zome + "." + k.Fn
}

// Tracker is a multiset of in-flight call keys. The zero value is not usable;
// use New.
type Tracker struct {
	mu       sync.RWMutex
	inFlight map[Key]int
	gauge    *prometheus.GaugeVec
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithMetrics registers a zome_calls_in_flight gauge on reg and keeps it in
// sync with the tracker.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(t *Tracker) {
		gauge := prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "zome_calls_in_flight",
			Help: "Number of zome calls currently awaiting a response.",
		}, []string{"zome", "fn"})
		if reg != nil {
			reg.MustRegister(gauge)
		}
		t.gauge = gauge
	}
}

// New creates an empty tracker.
func New(opts ...Option) *Tracker {
	t := &Tracker{inFlight: make(map[Key]int)}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Begin marks one call to zome.fn as in flight.
func (t *Tracker) Begin(zome, fn string) {
	key := Key{Zome: zome, Fn: fn}

	t.mu.Lock()
	t.inFlight[key]++
	t.mu.Unlock()

	if t.gauge != nil {
		t.gauge.WithLabelValues(zome, fn).Inc()
	}
}

// End releases one in-flight mark for zome.fn. Ending a call that was never
// begun is a no-op.
func (t *Tracker) End(zome, fn string) {
	key := Key{Zome: zome, Fn: fn}

	t.mu.Lock()
	n, ok := t.inFlight[key]
	switch {
	case !ok:
	case n <= 1:
		delete(t.inFlight, key)
	default:
		t.inFlight[key] = n - 1
	}
	t.mu.Unlock()

	if ok && t.gauge != nil {
		t.gauge.WithLabelValues(zome, fn).Dec()
	}
}

// Track begins zome.fn and returns the matching release. Call sites defer the
// release so it runs on every exit path:
//
//	defer tracker.Track(zome, fn)()
func (t *Tracker) Track(zome, fn string) func() {
	t.Begin(zome, fn)

	var once sync.Once
	return func() {
		once.Do(func() { t.End(zome, fn) })
	}
}

// IsLoading reports whether any call is in flight.
func (t *Tracker) IsLoading() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.inFlight) > 0
}

// IsCallLoading reports whether zome.fn is in flight.
func (t *Tracker) IsCallLoading(zome, fn string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.inFlight[Key{Zome: zome, Fn: fn}] > 0
}

// InFlight returns a snapshot of in-flight counts.
func (t *Tracker) InFlight() map[Key]int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[Key]int, len(t.inFlight))
	for k, v := range t.inFlight {
		out[k] = v
	}
	return out
}
