// Package ev batches functions that are handed to an event loop. Any
// number of goroutines can add to a Queue without blocking on the
// loop, which receives everything added since its last receive as one
// Batch.
package ev

import (
	"errors"

	"deedles.dev/xsync/cq"
)

type Queue = cq.BulkQueue[func() error, *Batch]

func NewQueue() *Queue {
	return cq.New(func(funcs []func() error) *Batch {
		return &Batch{funcs: funcs}
	})
}

// Batch is a series of functions taken from a Queue at once.
type Batch struct {
	funcs []func() error
}

func (b *Batch) Len() int {
	return len(b.funcs)
}

// Flush calls every function of the batch in the order they were
// added. A failing function does not stop the ones after it. All of
// their errors are returned joined.
func (b *Batch) Flush() error {
	var errs []error
	for _, f := range b.funcs {
		if err := f(); err != nil {
			errs = append(errs, err)
		}
	}
	b.funcs = nil
	return errors.Join(errs...)
}
