package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/tidepress/mail-dispatch/internal/domain"
	"github.com/tidepress/mail-dispatch/internal/mailer"
	"github.com/tidepress/mail-dispatch/internal/observability"
	"github.com/tidepress/mail-dispatch/internal/repository"
	"go.uber.org/zap"
)

// defaultDrainBatchCap bounds how many queued messages one drain pass may
// attempt, independent of the remaining quota.
const defaultDrainBatchCap = 10

// QueueDrainer works off the durable queue: each pass sends as many due
// messages as the daily quota and batch cap allow, highest priority first.
type QueueDrainer struct {
	queue     repository.QueueRepository
	usage     *UsageTracker
	transport mailer.Transport
	retries   *RetryScheduler
	gate      Gate
	metrics   *observability.Metrics
	logger    *zap.Logger

	batchCap int
	// retryPermanent keeps permanently rejected messages in the retry cycle
	// until their attempts run out instead of marking them dead on the first
	// rejection.
	retryPermanent bool

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

type DrainResult struct {
	Scanned   int
	Sent      int
	Retried   int
	Dead      int
	Remaining int
}

func NewQueueDrainer(
	queueRepo repository.QueueRepository,
	usage *UsageTracker,
	transport mailer.Transport,
	retries *RetryScheduler,
	gate Gate,
	batchCap int,
	retryPermanent bool,
	logger *zap.Logger,
) (*QueueDrainer, error) {
	if queueRepo == nil {
		return nil, fmt.Errorf("queue repository is required")
	}
	if usage == nil {
		return nil, fmt.Errorf("usage tracker is required")
	}
	if transport == nil {
		return nil, fmt.Errorf("mail transport is required")
	}
	if retries == nil {
		retries = NewRetryScheduler()
	}
	if batchCap <= 0 {
		batchCap = defaultDrainBatchCap
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &QueueDrainer{
		queue:          queueRepo,
		usage:          usage,
		transport:      transport,
		retries:        retries,
		gate:           gate,
		logger:         logger,
		batchCap:       batchCap,
		retryPermanent: retryPermanent,
		now:            time.Now,
		sleep:          sleepWithContext,
	}, nil
}

func (d *QueueDrainer) SetMetrics(metrics *observability.Metrics) {
	if d == nil {
		return
	}
	d.metrics = metrics
}

// Drain runs one pass over the due queue. The scan limit is the smaller of
// the remaining daily quota and the batch cap, and the quota is re-read
// between sends, so a pass cannot overrun the provider even while the api
// binary is consuming quota concurrently.
func (d *QueueDrainer) Drain(ctx context.Context) (*DrainResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	remaining, err := d.usage.Remaining(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read daily usage: %w", err)
	}
	if d.metrics != nil {
		d.metrics.SetQuotaRemaining(remaining)
	}

	result := &DrainResult{Remaining: remaining}
	if remaining <= 0 {
		d.logger.Info("drain skipped, daily quota exhausted")
		return result, nil
	}

	limit := min(remaining, d.batchCap)
	due, err := d.queue.Due(ctx, d.now().UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to scan due queue: %w", err)
	}
	if len(due) == 0 {
		return result, nil
	}

	for i := range due {
		if ctx.Err() != nil {
			break
		}
		if i > 0 {
			// The api binary shares the daily quota, so re-read it after
			// every send and stop as soon as it runs out.
			left, err := d.usage.Remaining(ctx)
			if err != nil {
				d.logger.Error("failed to re-check daily usage mid-pass", zap.Error(err))
				break
			}
			if left <= 0 {
				d.logger.Info("daily quota exhausted mid-pass, stopping early")
				break
			}
			if err := d.sleep(ctx, sendPacing); err != nil {
				break
			}
		}
		d.processOne(ctx, &due[i], result)
	}

	result.Remaining = remaining - result.Scanned
	if d.metrics != nil {
		d.metrics.AddDrainProcessed(result.Scanned)
		d.metrics.SetQuotaRemaining(result.Remaining)
	}

	d.logger.Info("drain pass complete",
		zap.Int("scanned", result.Scanned),
		zap.Int("sent", result.Sent),
		zap.Int("retried", result.Retried),
		zap.Int("dead", result.Dead),
		zap.Int("remaining", result.Remaining),
	)
	return result, nil
}

func (d *QueueDrainer) processOne(ctx context.Context, queued *domain.QueuedEmail, result *DrainResult) {
	logger := d.logger.With(zap.String("queueId", queued.ID))
	if queued.SubmissionRef != nil {
		logger = logger.With(zap.String("correlationId", *queued.SubmissionRef))
	}

	if d.gate != nil {
		if err := d.gate.Wait(ctx); err != nil {
			logger.Error("send gate wait failed", zap.Error(err))
			return
		}
	}

	email := mailer.Email{
		To:      queued.Recipient,
		Subject: queued.Subject,
		HTML:    queued.BodyHTML,
		Text:    queued.BodyText,
	}
	if queued.ReplyTo != nil {
		email.ReplyTo = *queued.ReplyTo
	}

	classLabel := strings.ToLower(queued.Class.String())
	sendStart := d.now()
	_, sendErr := d.transport.Send(ctx, email)
	if d.metrics != nil {
		d.metrics.ObserveSendDuration(classLabel, d.now().Sub(sendStart))
	}
	result.Scanned++

	if err := d.usage.RecordAttempt(ctx, sendErr == nil); err != nil {
		logger.Error("failed to record send attempt", zap.Error(err))
	}

	if sendErr == nil {
		if err := d.queue.Remove(ctx, queued.ID); err != nil {
			logger.Error("failed to remove sent message from queue", zap.Error(err))
			return
		}
		result.Sent++
		if d.metrics != nil {
			d.metrics.IncEmailSent(classLabel)
		}
		return
	}

	transient := mailer.IsTransient(sendErr)
	if d.metrics != nil {
		d.metrics.IncEmailFailed(classLabel, failureReason(sendErr))
	}

	if !transient && !d.retryPermanent {
		logger.Warn("permanent provider rejection, marking dead", zap.Error(sendErr))
		if err := d.queue.MarkDead(ctx, queued.ID); err != nil {
			logger.Error("failed to mark message dead", zap.Error(err))
			return
		}
		result.Dead++
		if d.metrics != nil {
			d.metrics.IncEmailDead(classLabel)
		}
		return
	}

	if err := d.queue.IncrementRetry(ctx, queued.ID, d.retries.NextAttempt()); err != nil {
		logger.Error("failed to schedule retry", zap.Error(err))
		return
	}

	if queued.RetryCount+1 >= domain.MaxRetries {
		logger.Warn("retries exhausted, message dead",
			zap.Int("retryCount", queued.RetryCount+1),
			zap.Error(sendErr),
		)
		result.Dead++
		if d.metrics != nil {
			d.metrics.IncEmailDead(classLabel)
		}
		return
	}

	logger.Warn("send failed, retry scheduled",
		zap.Int("retryCount", queued.RetryCount+1),
		zap.Error(sendErr),
	)
	result.Retried++
}
