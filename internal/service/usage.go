package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tidepress/mail-dispatch/internal/domain"
	"github.com/tidepress/mail-dispatch/internal/repository"
	"go.uber.org/zap"
)

// DefaultDailyLimit is the provider's free-tier daily send allowance.
const DefaultDailyLimit = 100

// UsageTracker answers how much of the daily provider quota is left and
// records every send attempt against it. Attempted counts toward the quota
// whether or not the provider accepted the message, so a day of failures can
// never overrun the provider.
type UsageTracker struct {
	usage  repository.UsageRepository
	limit  int
	logger *zap.Logger
	now    func() time.Time
}

// UsageSnapshot is a point-in-time view of today's quota consumption.
type UsageSnapshot struct {
	Day       string
	Attempted int
	Succeeded int
	Failed    int
	Limit     int
	Remaining int
}

func NewUsageTracker(usage repository.UsageRepository, limit int, logger *zap.Logger) (*UsageTracker, error) {
	if usage == nil {
		return nil, fmt.Errorf("usage repository is required")
	}
	if limit <= 0 {
		limit = DefaultDailyLimit
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &UsageTracker{
		usage:  usage,
		limit:  limit,
		logger: logger,
		now:    time.Now,
	}, nil
}

// Snapshot returns today's usage. A day with no attempts yet has no row, which
// reads as zero consumption. A failing read is logged and also reads as zero,
// so a storage outage never blocks a notification batch.
func (t *UsageTracker) Snapshot(ctx context.Context) (*UsageSnapshot, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	day := domain.DayKey(t.now())
	usage, err := t.usage.Get(ctx, day)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			t.logger.Error("failed to read daily usage, assuming zero consumption",
				zap.String("day", day),
				zap.Error(err),
			)
		}
		usage = &domain.DailyUsage{Day: day}
	}

	remaining := t.limit - usage.Attempted
	if remaining < 0 {
		remaining = 0
	}

	return &UsageSnapshot{
		Day:       usage.Day,
		Attempted: usage.Attempted,
		Succeeded: usage.Succeeded,
		Failed:    usage.Failed,
		Limit:     t.limit,
		Remaining: remaining,
	}, nil
}

func (t *UsageTracker) Remaining(ctx context.Context) (int, error) {
	snapshot, err := t.Snapshot(ctx)
	if err != nil {
		return 0, err
	}
	return snapshot.Remaining, nil
}

// RecordAttempt books one provider call against today's quota.
func (t *UsageTracker) RecordAttempt(ctx context.Context, success bool) error {
	if ctx == nil {
		ctx = context.Background()
	}

	day := domain.DayKey(t.now())
	if err := t.usage.RecordAttempt(ctx, day, success); err != nil {
		return fmt.Errorf("failed to record send attempt for %s: %w", day, err)
	}
	return nil
}
