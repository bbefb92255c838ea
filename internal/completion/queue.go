// Package completion carries filled frames from the device callback thread to
// the pull path.
package completion

import (
	"sync"
	"time"

	"github.com/e7canasta/vimba-capture/device"
)

// Queue is an unbounded FIFO of filled frames.
//
// Push is called from the device callback thread and never blocks: it appends
// under the mutex and drops a token into a one-slot channel. Pop waits on the
// token with a bounded interval so the caller can re-check liveness between
// attempts. The queue never holds more entries than the pool has frames,
// because a frame is only queued to the device once per fill.
type Queue struct {
	mu     sync.Mutex
	frames []*device.Frame
	notify chan struct{}
}

// NewQueue creates an empty queue.
func NewQueue() *Queue {
	return &Queue{notify: make(chan struct{}, 1)}
}

// Push enqueues a filled frame (implements the callback side).
//
// Semantics:
//   - Non-blocking: lock, append, unlock, wake
//   - Never drops: every completion reaches the pull path
func (q *Queue) Push(f *device.Frame) {
	q.mu.Lock()
	q.frames = append(q.frames, f)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Pop returns the oldest frame, waiting up to interval per attempt.
//
// alive is checked before every attempt; once it reports false Pop returns
// (nil, false) without taking a frame, so cancellation is observed within
// one interval.
func (q *Queue) Pop(interval time.Duration, alive func() bool) (*device.Frame, bool) {
	timer := time.NewTimer(interval)
	defer timer.Stop()

	for {
		if !alive() {
			return nil, false
		}

		if f := q.take(); f != nil {
			return f, true
		}

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(interval)

		select {
		case <-q.notify:
		case <-timer.C:
		}
	}
}

func (q *Queue) take() *device.Frame {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.frames) == 0 {
		return nil
	}
	f := q.frames[0]
	q.frames[0] = nil
	q.frames = q.frames[1:]
	return f
}

// Len returns the number of frames waiting.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.frames)
}

// Reset drops every pending reference. Used once the device no longer owns
// any frame (after stop), so stale completions cannot surface later.
func (q *Queue) Reset() int {
	q.mu.Lock()
	n := len(q.frames)
	q.frames = nil
	q.mu.Unlock()

	select {
	case <-q.notify:
	default:
	}
	return n
}
