// Package debounce coalesces bursts of requests so only the last one runs.
package debounce

import (
	"sync"
	"time"

	logging "github.com/ipfs/go-log/v2"
)

var log = logging.Logger("debounce")

const DefaultDelay = time.Second

// Debouncer holds at most one pending value. Each Submit restarts the delay;
// when it elapses without another Submit, fire runs with the latest value.
type Debouncer[T any] struct {
	delay time.Duration
	fire  func(T)

	mu      sync.Mutex
	timer   *time.Timer
	pending bool
	gen     uint64
	stopped bool
}

func New[T any](delay time.Duration, fire func(T)) *Debouncer[T] {
	if delay < 0 {
		delay = 0
	}
	return &Debouncer[T]{delay: delay, fire: fire}
}

func (d *Debouncer[T]) Submit(v T) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}
	if d.pending {
		log.Warnf("got repeated request within %s, debouncing", d.delay)
		d.timer.Stop()
	}

	d.gen++
	gen := d.gen
	d.pending = true
	d.timer = time.AfterFunc(d.delay, func() { d.flush(gen, v) })
}

// flush runs fire unless a later Submit or Stop superseded this timer. A timer
// whose Stop lost the race still lands here, so the generation decides.
func (d *Debouncer[T]) flush(gen uint64, v T) {
	d.mu.Lock()
	if d.stopped || gen != d.gen {
		d.mu.Unlock()
		return
	}
	d.pending = false
	d.mu.Unlock()

	d.fire(v)
}

func (d *Debouncer[T]) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pending
}

// Stop drops any pending value and ignores later submits.
func (d *Debouncer[T]) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.stopped = true
	d.pending = false
	if d.timer != nil {
		d.timer.Stop()
	}
}
