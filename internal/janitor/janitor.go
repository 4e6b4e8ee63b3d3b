// Package janitor periodically deactivates sessions whose QR code has expired.
// Submissions already treat expired sessions as invalid; the sweep keeps the
// active-session count and cached entries honest for sessions nobody touches.
package janitor

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Expirer deactivates overdue sessions and returns their ids.
type Expirer interface {
	ExpireDue(ctx context.Context, now time.Time) ([]string, error)
}

type Janitor struct {
	store    Expirer
	interval time.Duration
	log      *zap.Logger
	now      func() time.Time
}

func New(store Expirer, interval time.Duration, log *zap.Logger) *Janitor {
	if log == nil {
		log = zap.NewNop()
	}
	if interval <= 0 {
		interval = time.Minute
	}
	return &Janitor{store: store, interval: interval, log: log.Named("janitor"), now: time.Now}
}

// Run sweeps once immediately and then on every tick until ctx is done.
func (j *Janitor) Run(ctx context.Context) error {
	tick := time.NewTicker(j.interval)
	defer tick.Stop()

	j.Sweep(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-tick.C:
			j.Sweep(ctx)
		}
	}
}

// Sweep runs a single pass. Errors are logged; the next tick tries again.
func (j *Janitor) Sweep(ctx context.Context) []string {
	ids, err := j.store.ExpireDue(ctx, j.now().UTC())
	if err != nil {
		if ctx.Err() == nil {
			j.log.Warn("expiry sweep failed", zap.Error(err))
		}
		return nil
	}
	if len(ids) > 0 {
		j.log.Info("sessions expired", zap.Int("count", len(ids)), zap.Strings("sessions", ids))
	}
	return ids
}
