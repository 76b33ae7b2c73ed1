// Package loop provides the event loop that a compositor's state is
// owned by. Everything that touches surfaces, registries or output
// pipelines runs on the loop, one function at a time. Other goroutines
// hand work to it with Post.
package loop

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"deedles.dev/wlkit/internal/ev"
	"deedles.dev/wlkit/internal/logger"
	"github.com/charmbracelet/log"
)

// Loop is an event loop. Its methods may be called from any goroutine.
type Loop struct {
	log   *log.Logger
	queue *ev.Queue

	stop    sync.Once
	done    chan struct{}
	running atomic.Bool
	workers sync.WaitGroup
}

func New(l *log.Logger) *Loop {
	return &Loop{
		log:   logger.Or(l).WithPrefix("loop"),
		queue: ev.NewQueue(),
		done:  make(chan struct{}),
	}
}

// Run dispatches posted functions until ctx is canceled. Errors
// returned by them are logged. Run may only be called once.
func (l *Loop) Run(ctx context.Context) error {
	if !l.running.CompareAndSwap(false, true) {
		panic("loop is already running")
	}
	defer l.shutdown()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case events := <-l.queue.Get():
			if err := events.Flush(); err != nil {
				l.log.Error("event failed", "err", err)
			}
		}
	}
}

func (l *Loop) shutdown() {
	l.stop.Do(func() {
		close(l.done)
		l.queue.Stop()
	})
	l.workers.Wait()
}

// Done is closed when the loop has stopped.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

// Post queues f to be run on the loop. Functions posted from a single
// goroutine run in the order they were posted. If the loop has stopped,
// f is dropped.
func (l *Loop) Post(f func() error) {
	select {
	case l.queue.Add() <- f:
	case <-l.done:
	}
}

// Go runs work on a new goroutine and then calls done with its result
// on the loop.
func (l *Loop) Go(work func() error, done func(error)) {
	l.workers.Add(1)
	go func() {
		defer l.workers.Done()

		err := work()
		l.Post(func() error {
			done(err)
			return nil
		})
	}()
}

// AfterFunc calls f on the loop once d has elapsed. If stop is called
// on the loop before f has run, f will not be run at all.
func (l *Loop) AfterFunc(d time.Duration, f func()) (stop func()) {
	var stopped atomic.Bool
	t := time.AfterFunc(d, func() {
		l.Post(func() error {
			if !stopped.Load() {
				f()
			}
			return nil
		})
	})

	return func() {
		stopped.Store(true)
		t.Stop()
	}
}

// Await calls f on the loop with the first value received from ch. If
// ch is closed first, f is not called.
func Await[T any](l *Loop, ch <-chan T, f func(T)) {
	go func() {
		select {
		case v, ok := <-ch:
			if ok {
				l.Post(func() error {
					f(v)
					return nil
				})
			}
		case <-l.done:
		}
	}()
}

// Listen calls f on the loop with every value received from ch until
// ch is closed or the loop stops.
func Listen[T any](l *Loop, ch <-chan T, f func(T)) {
	go func() {
		for {
			select {
			case v, ok := <-ch:
				if !ok {
					return
				}
				l.Post(func() error {
					f(v)
					return nil
				})
			case <-l.done:
				return
			}
		}
	}()
}
