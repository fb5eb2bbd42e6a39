package signal

import (
	"context"
	"errors"
)

// ErrQueueFull is returned by TryEnqueue when the buffer is full.
var ErrQueueFull = errors.New("signal queue full")

// Queue buffers signals before dispatch.
type Queue struct {
	ch chan Signal
}

func NewQueue(size int) *Queue {
	if size <= 0 {
		size = 100
	}
	return &Queue{ch: make(chan Signal, size)}
}

// Enqueue blocks until s is buffered or ctx is done.
func (q *Queue) Enqueue(ctx context.Context, s Signal) error {
	select {
	case q.ch <- s:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TryEnqueue buffers s without blocking.
func (q *Queue) TryEnqueue(s Signal) error {
	select {
	case q.ch <- s:
		return nil
	default:
		return ErrQueueFull
	}
}

func (q *Queue) Len() int { return len(q.ch) }

func (q *Queue) Close() {
	close(q.ch)
}

// Drain consumes signals with a handler until ctx is canceled or the queue is closed.
func (q *Queue) Drain(ctx context.Context, handler func(Signal)) {
	for {
		select {
		case <-ctx.Done():
			return
		case s, ok := <-q.ch:
			if !ok {
				return
			}
			handler(s)
		}
	}
}
