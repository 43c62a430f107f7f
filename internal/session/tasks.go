package session

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// Detached task names, used in logs and metrics.
const (
	taskProfileFetch = "profile_fetch"
	taskWelcomeEmail = "welcome_email"
)

// detach runs fn on the controller's lifetime context without awaiting it.
// Its error is logged and counted; it never reaches the caller.
func (c *Controller) detach(name string, fn func(ctx context.Context) error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		c.logger.Debug("detached task skipped after close", zap.String("task", name))
		return
	}
	c.tasks.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.tasks.Done()
		err := runRecovered(c.lifetime, fn)
		if err == nil {
			return
		}
		if errors.Is(err, context.Canceled) && c.lifetime.Err() != nil {
			c.logger.Debug("detached task canceled", zap.String("task", name))
			return
		}
		c.metrics.RecordDetachedFailure(name)
		c.logger.Warn("detached task failed",
			zap.String("task", name),
			zap.Error(err),
		)
	}()
}

func runRecovered(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("panic: %v", recovered)
		}
	}()
	return fn(ctx)
}
