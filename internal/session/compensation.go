package session

import (
	"sync"

	"go.uber.org/zap"
)

type compensation struct {
	name string
	fn   func() error
}

// compensations releases acquired handles in reverse acquisition order.
// Running it more than once is safe; each handle is released at most once.
type compensations struct {
	mu    sync.Mutex
	steps []compensation
}

func (c *compensations) add(name string, fn func() error) {
	c.mu.Lock()
	c.steps = append(c.steps, compensation{name: name, fn: fn})
	c.mu.Unlock()
}

func (c *compensations) run(logger *zap.Logger) {
	c.mu.Lock()
	steps := c.steps
	c.steps = nil
	c.mu.Unlock()

	for i := len(steps) - 1; i >= 0; i-- {
		if err := steps[i].fn(); err != nil {
			logger.Warn("Failed to release session resource",
				zap.String("resource", steps[i].name),
				zap.Error(err))
			continue
		}
		logger.Debug("Released session resource", zap.String("resource", steps[i].name))
	}
}
