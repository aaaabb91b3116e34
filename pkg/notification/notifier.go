package notification

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"bothost/pkg/logger"
)

// Notifier delivers one user-facing message
type Notifier interface {
	Notify(ctx context.Context, userID int64, message string) error
}

// Multi fans a message out to every notifier, joining their errors
type Multi []Notifier

// Notify implements Notifier
func (m Multi) Notify(ctx context.Context, userID int64, message string) error {
	var errs []error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, userID, message); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Dispatcher sends notifications in the background so callers never block
type Dispatcher struct {
	notifier Notifier
	timeout  time.Duration
	wg       sync.WaitGroup
}

// NewDispatcher creates a dispatcher; timeout bounds each delivery
func NewDispatcher(notifier Notifier, timeout time.Duration) *Dispatcher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Dispatcher{notifier: notifier, timeout: timeout}
}

// Notify queues delivery and returns immediately. Failures are logged.
func (d *Dispatcher) Notify(userID int64, message string) {
	if d == nil || d.notifier == nil {
		return
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				logger.ErrorCtx(context.Background(), "notification panic for user %d: %v", userID, r)
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()
		if err := d.notifier.Notify(ctx, userID, message); err != nil {
			logger.WarnCtx(ctx, "failed to notify user %d: %v", userID, err)
		}
	}()
}

// Wait blocks until queued deliveries finish or ctx ends
func (d *Dispatcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("notifications still pending: %w", ctx.Err())
	}
}
