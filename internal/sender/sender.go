// Package sender provides the in-flight window that bounds concurrent submissions.
package sender

import (
	"context"
	"errors"
	"sync"
)

// ErrAtCapacity is returned when the window cannot accept more work.
var ErrAtCapacity = errors.New("sender at capacity")

// Window is a fixed-capacity semaphore. A slot is freed as soon as the work
// holding it completes, so callers refill it immediately rather than waiting
// for a whole batch.
type Window struct {
	semaphore chan struct{}
	wg        sync.WaitGroup
}

// NewWindow creates a window with the given capacity (default: 200).
func NewWindow(capacity int) *Window {
	if capacity <= 0 {
		capacity = 200
	}
	return &Window{semaphore: make(chan struct{}, capacity)}
}

// TryAcquire takes a slot without blocking.
// Returns ErrAtCapacity if every slot is in use.
func (w *Window) TryAcquire() error {
	select {
	case w.semaphore <- struct{}{}:
		w.wg.Add(1)
		return nil
	default:
		return ErrAtCapacity
	}
}

// Acquire blocks until a slot is free or ctx ends.
func (w *Window) Acquire(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case w.semaphore <- struct{}{}:
		w.wg.Add(1)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release frees a slot taken by TryAcquire or Acquire.
func (w *Window) Release() {
	<-w.semaphore
	w.wg.Done()
}

// Go runs fn in a slot, blocking until one is free.
// The slot is released when fn returns.
func (w *Window) Go(ctx context.Context, fn func()) error {
	if err := w.Acquire(ctx); err != nil {
		return err
	}
	go func() {
		defer w.Release()
		fn()
	}()
	return nil
}

// TryGo runs fn in a slot if one is free, returning ErrAtCapacity otherwise.
func (w *Window) TryGo(fn func()) error {
	if err := w.TryAcquire(); err != nil {
		return err
	}
	go func() {
		defer w.Release()
		fn()
	}()
	return nil
}

// Wait blocks until every slot has been released or ctx ends.
func (w *Window) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Available returns the number of free slots.
func (w *Window) Available() int {
	return cap(w.semaphore) - len(w.semaphore)
}

// Capacity returns the total number of slots.
func (w *Window) Capacity() int {
	return cap(w.semaphore)
}

// InFlight returns the number of slots in use.
func (w *Window) InFlight() int {
	return len(w.semaphore)
}
