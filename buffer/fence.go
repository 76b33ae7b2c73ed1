package buffer

import (
	"context"
	"sync"
)

// Fence is a one-shot synchronization point. The channel returned by
// Done is closed once the work the fence guards has finished.
type Fence interface {
	Done() <-chan struct{}
}

var ready = func() Fence {
	p := NewSyncPoint()
	p.Signal()
	return p
}()

// Ready returns a fence that is already signaled.
func Ready() Fence {
	return ready
}

// Signaled reports whether f has been signaled. A nil fence is always
// signaled.
func Signaled(f Fence) bool {
	if f == nil {
		return true
	}

	select {
	case <-f.Done():
		return true
	default:
		return false
	}
}

// Wait blocks until f is signaled or ctx is canceled.
func Wait(ctx context.Context, f Fence) error {
	if f == nil {
		return nil
	}

	select {
	case <-f.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SyncPoint is a Fence that is signaled manually. It is the in-process
// stand-in for a kernel sync file or timeline point.
type SyncPoint struct {
	done   chan struct{}
	signal sync.Once
}

func NewSyncPoint() *SyncPoint {
	return &SyncPoint{done: make(chan struct{})}
}

func (p *SyncPoint) Done() <-chan struct{} {
	return p.done
}

// Signal signals the fence. Calling it more than once has no effect.
func (p *SyncPoint) Signal() {
	p.signal.Do(func() { close(p.done) })
}
