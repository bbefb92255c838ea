package completion

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/e7canasta/vimba-capture/device"
)

// Registry routes device callbacks to the queue of the session that owns the
// handle. The device callback carries no user context, only the handle.
type Registry struct {
	mu     sync.RWMutex
	queues map[device.Handle]*Queue

	orphans uint64 // atomic: completions for unregistered handles
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{queues: make(map[device.Handle]*Queue)}
}

// Default is the process-wide registry used by sessions.
var Default = NewRegistry()

// Register binds h to q, replacing any previous binding.
func (r *Registry) Register(h device.Handle, q *Queue) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.queues[h] = q
}

// Unregister removes the binding for h.
func (r *Registry) Unregister(h device.Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.queues, h)
}

// Dispatch is the device.FrameCallback: it pushes f to the queue bound to h.
// Completions for unknown handles are counted and discarded.
func (r *Registry) Dispatch(h device.Handle, f *device.Frame) {
	r.mu.RLock()
	q := r.queues[h]
	r.mu.RUnlock()

	if q == nil {
		atomic.AddUint64(&r.orphans, 1)
		slog.Debug("completion: frame for unregistered handle dropped", "handle", h, "frame_id", f.ID)
		return
	}
	q.Push(f)
}

// Orphans returns how many completions arrived for unregistered handles.
func (r *Registry) Orphans() uint64 {
	return atomic.LoadUint64(&r.orphans)
}
