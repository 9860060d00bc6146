// Package remind runs the cron-scheduled due-review reminder loop.
package remind

import (
	"context"
	"fmt"
	"time"

	"github.com/adhocore/gronx"

	"github.com/dotsetgreg/recite/pkg/logger"
	"github.com/dotsetgreg/recite/pkg/notify"
)

// DueCounter reports how many concepts are due at a point in time.
type DueCounter func(now time.Time) (int, error)

// Service fires a reminder on every tick of a cron expression.
type Service struct {
	expr     string
	notifier notify.Notifier
	dueCount DueCounter
}

// New validates the cron expression and builds the service.
func New(cronExpr string, n notify.Notifier, dueCount DueCounter) (*Service, error) {
	if !gronx.New().IsValid(cronExpr) {
		return nil, fmt.Errorf("remind: invalid cron expression %q", cronExpr)
	}
	return &Service{expr: cronExpr, notifier: n, dueCount: dueCount}, nil
}

// NextTick returns the first tick strictly after from.
func (s *Service) NextTick(from time.Time) (time.Time, error) {
	return gronx.NextTickAfter(s.expr, from, false)
}

// RunOnce checks the due count and sends a reminder when anything is
// waiting. Silent when the queue is empty.
func (s *Service) RunOnce(ctx context.Context) error {
	now := time.Now()
	n, err := s.dueCount(now)
	if err != nil {
		return fmt.Errorf("count due concepts: %w", err)
	}
	if n == 0 {
		logger.DebugC("remind", "Nothing due, skipping reminder")
		return nil
	}
	noun := "concepts"
	if n == 1 {
		noun = "concept"
	}
	return s.notifier.Notify(ctx, fmt.Sprintf("%d %s due for review. Run `recite review`.", n, noun))
}

// Run loops until the context is canceled, sleeping to each cron tick
// and firing RunOnce. Reminder failures are logged, not fatal.
func (s *Service) Run(ctx context.Context) error {
	logger.InfoCF("remind", "Reminder loop started", map[string]any{"cron": s.expr})
	for {
		next, err := s.NextTick(time.Now())
		if err != nil {
			return fmt.Errorf("compute next reminder tick: %w", err)
		}
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		if err := s.RunOnce(ctx); err != nil {
			logger.WarnCF("remind", "Reminder failed", map[string]any{"error": err.Error()})
		}
	}
}
