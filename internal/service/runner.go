package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

const defaultDrainInterval = 5 * time.Minute

// DrainRunner drives the drainer on a fixed interval until shutdown.
type DrainRunner struct {
	drainer  *QueueDrainer
	interval time.Duration
	logger   *zap.Logger
}

func NewDrainRunner(drainer *QueueDrainer, interval time.Duration, logger *zap.Logger) (*DrainRunner, error) {
	if drainer == nil {
		return nil, fmt.Errorf("drainer is required")
	}
	if interval <= 0 {
		interval = defaultDrainInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &DrainRunner{
		drainer:  drainer,
		interval: interval,
		logger:   logger,
	}, nil
}

func (r *DrainRunner) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	// Run an initial pass so already-due mail does not wait for the first
	// ticker edge.
	if _, err := r.drainer.Drain(ctx); err != nil && ctx.Err() == nil {
		r.logger.Error("initial drain pass failed", zap.Error(err))
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := r.drainer.Drain(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				r.logger.Error("drain pass failed", zap.Error(err))
			}
		}
	}
}
