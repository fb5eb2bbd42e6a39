package events

import (
	"sync"
	"time"

	"trading-sim/pkg/id"
)

// Handler receives records synchronously, in emission order.
type Handler func(Record)

// Sink is an append-only destination for records. Append must not block the
// caller for I/O.
type Sink interface {
	Append(Record)
}

// Emitter is a callback list. Handlers run on the emitting goroutine, so they
// must be quick and must not call back into the emitter's owner.
type Emitter struct {
	mu       sync.RWMutex
	nextKey  int
	handlers map[int]Handler
	order    []int
}

// NewEmitter creates an emitter with no handlers.
func NewEmitter() *Emitter {
	return &Emitter{handlers: make(map[int]Handler)}
}

// On registers h and returns a function that removes it.
func (e *Emitter) On(h Handler) func() {
	e.mu.Lock()
	defer e.mu.Unlock()
	key := e.nextKey
	e.nextKey++
	e.handlers[key] = h
	e.order = append(e.order, key)
	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		delete(e.handlers, key)
		for i, k := range e.order {
			if k == key {
				e.order = append(e.order[:i], e.order[i+1:]...)
				break
			}
		}
	}
}

// Attach registers a sink.
func (e *Emitter) Attach(s Sink) func() {
	return e.On(s.Append)
}

// Emit assigns an id when missing and calls every handler.
func (e *Emitter) Emit(r Record) Record {
	if r.Time.IsZero() {
		r.Time = time.Now()
	}
	if r.ID == "" {
		r.ID = id.At(r.Time)
	}
	e.mu.RLock()
	hs := make([]Handler, 0, len(e.order))
	for _, k := range e.order {
		hs = append(hs, e.handlers[k])
	}
	e.mu.RUnlock()

	for _, h := range hs {
		h(r)
	}
	return r
}

// Ring keeps the most recent records.
type Ring struct {
	mu   sync.RWMutex
	buf  []Record
	next int
	full bool
}

// NewRing creates a ring holding up to size records.
func NewRing(size int) *Ring {
	if size <= 0 {
		size = 500
	}
	return &Ring{buf: make([]Record, size)}
}

// Append stores r, evicting the oldest record when full.
func (r *Ring) Append(rec Record) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buf[r.next] = rec
	r.next = (r.next + 1) % len(r.buf)
	if r.next == 0 {
		r.full = true
	}
}

// List returns records oldest first; limit > 0 keeps only the newest limit.
func (r *Ring) List(limit int) []Record {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Record
	if r.full {
		out = append(out, r.buf[r.next:]...)
	}
	out = append(out, r.buf[:r.next]...)
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

// Reset drops all records.
func (r *Ring) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buf = make([]Record, len(r.buf))
	r.next = 0
	r.full = false
}
