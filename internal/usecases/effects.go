package usecases

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
)

// Effects runs best-effort derived writes after a primary operation has
// already reported its outcome. Failures are logged and never returned.
type Effects struct {
	wg     sync.WaitGroup
	logger *logrus.Logger
}

func NewEffects(logger *logrus.Logger) *Effects {
	return &Effects{logger: logger}
}

// Go starts fn on its own goroutine with a context detached from the
// caller's, so a caller that already returned does not cancel it.
func (e *Effects) Go(name string, fields logrus.Fields, fn func(ctx context.Context) error) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if err := fn(context.Background()); err != nil {
			e.logger.WithFields(fields).WithError(err).Warnf("best-effort %s failed", name)
		}
	}()
}

// Wait blocks until every started effect has finished.
func (e *Effects) Wait() {
	e.wg.Wait()
}
