package payments

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// StartSweeper runs SweepIncomplete on schedule until the returned cron is
// stopped. It returns ErrNotConfigured when b has no processor.
func StartSweeper(b *Bridge, schedule string, age time.Duration) (*cron.Cron, error) {
	if !b.Configured() {
		return nil, ErrNotConfigured
	}
	c := cron.New()
	_, err := c.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		if _, err := b.SweepIncomplete(ctx, age); err != nil {
			b.log.Error("subscription sweep failed", "error", err)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", schedule, err)
	}
	c.Start()
	b.log.Info("subscription sweeper started", "schedule", schedule, "age", age)
	return c, nil
}
