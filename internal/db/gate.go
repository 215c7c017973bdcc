package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/semaphore"
)

// WriteGate serialises a store's write transactions inside the process.
// SQLite admits one writer at a time anyway; queueing here keeps waiting
// writers off the driver's busy handler and bounds how long they wait.
type WriteGate struct {
	sem     *semaphore.Weighted
	timeout time.Duration
}

func NewWriteGate(timeout time.Duration) *WriteGate {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &WriteGate{sem: semaphore.NewWeighted(1), timeout: timeout}
}

// Do runs fn holding the gate. It fails with ErrBusy if the gate is not
// acquired within the timeout; fn itself is not cancelled once started.
func (g *WriteGate) Do(ctx context.Context, fn func() error) error {
	actx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	if err := g.sem.Acquire(actx, 1); err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return fmt.Errorf("%w after %s", ErrBusy, g.timeout)
		}
		return err
	}
	defer g.sem.Release(1)
	return fn()
}
