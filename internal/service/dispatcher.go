package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tidepress/mail-dispatch/internal/attachment"
	"github.com/tidepress/mail-dispatch/internal/domain"
	"github.com/tidepress/mail-dispatch/internal/mailer"
	"github.com/tidepress/mail-dispatch/internal/observability"
	"github.com/tidepress/mail-dispatch/internal/repository"
	"github.com/tidepress/mail-dispatch/internal/strategy"
	"go.uber.org/zap"
)

// sendPacing is the pause between consecutive provider calls within one batch.
const sendPacing = 600 * time.Millisecond

// Gate admits provider calls under the cross-process per-second burst cap.
type Gate interface {
	Wait(ctx context.Context) error
}

// Renderer produces the per-class email bodies for a submission.
type Renderer interface {
	Render(class domain.MessageClass, sub domain.Submission) (*mailer.RenderedEmail, error)
}

// Fetcher resolves submission attachment references into sendable payloads.
type Fetcher interface {
	FetchAll(ctx context.Context, urls []string) attachment.Result
}

// ClassOutcome labels what happened to one class of the batch.
type ClassOutcome string

const (
	OutcomeSent         ClassOutcome = "sent"
	OutcomeDeferred     ClassOutcome = "deferred"
	OutcomeFailedQueued ClassOutcome = "failed_queued"
)

type ClassResult struct {
	Class        domain.MessageClass
	Recipient    string
	Outcome      ClassOutcome
	ProviderID   string
	QueueID      string
	ScheduledFor time.Time
}

type BatchResult struct {
	Strategy  strategy.Name
	Remaining int
	Results   []ClassResult
}

// BatchDispatcher turns one submission event into its notification batch:
// a confirmation to the submitter plus the two admin notices, each sent now
// or written to the durable queue depending on the remaining daily quota.
type BatchDispatcher struct {
	transport   mailer.Transport
	renderer    Renderer
	attachments Fetcher
	queue       repository.QueueRepository
	usage       *UsageTracker
	retries     *RetryScheduler
	gate        Gate
	metrics     *observability.Metrics
	logger      *zap.Logger

	adminPrimary   string
	adminSecondary string

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func NewBatchDispatcher(
	transport mailer.Transport,
	renderer Renderer,
	attachments Fetcher,
	queueRepo repository.QueueRepository,
	usage *UsageTracker,
	retries *RetryScheduler,
	gate Gate,
	adminPrimary string,
	adminSecondary string,
	logger *zap.Logger,
) (*BatchDispatcher, error) {
	if transport == nil {
		return nil, fmt.Errorf("mail transport is required")
	}
	if renderer == nil {
		return nil, fmt.Errorf("renderer is required")
	}
	if queueRepo == nil {
		return nil, fmt.Errorf("queue repository is required")
	}
	if usage == nil {
		return nil, fmt.Errorf("usage tracker is required")
	}
	if retries == nil {
		retries = NewRetryScheduler()
	}
	if err := domain.ValidateEmailAddress(adminPrimary); err != nil {
		return nil, fmt.Errorf("primary admin address: %w", err)
	}
	if err := domain.ValidateEmailAddress(adminSecondary); err != nil {
		return nil, fmt.Errorf("secondary admin address: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &BatchDispatcher{
		transport:      transport,
		renderer:       renderer,
		attachments:    attachments,
		queue:          queueRepo,
		usage:          usage,
		retries:        retries,
		gate:           gate,
		logger:         logger,
		adminPrimary:   adminPrimary,
		adminSecondary: adminSecondary,
		now:            time.Now,
		sleep:          sleepWithContext,
	}, nil
}

func (d *BatchDispatcher) SetMetrics(metrics *observability.Metrics) {
	if d == nil {
		return
	}
	d.metrics = metrics
}

type planItem struct {
	class           domain.MessageClass
	recipient       string
	replyTo         *string
	withAttachments bool
	rendered        *mailer.RenderedEmail
}

// Dispatch sends or queues the full notification batch for one submission.
// No class is ever dropped: whatever the quota cannot cover right now lands
// in the durable queue with a schedule slot after the quota reset.
func (d *BatchDispatcher) Dispatch(ctx context.Context, sub domain.Submission) (*BatchResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := sub.Validate(); err != nil {
		return nil, err
	}

	logger := d.logger
	if sub.CorrelationID != "" {
		logger = logger.With(zap.String("correlationId", sub.CorrelationID))
	}

	remaining, err := d.usage.Remaining(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read daily usage: %w", err)
	}
	decision := strategy.Decide(remaining)
	if d.metrics != nil {
		d.metrics.SetQuotaRemaining(remaining)
	}

	logger.Info("dispatch strategy selected",
		zap.String("kind", sub.Kind.String()),
		zap.String("strategy", decision.Strategy.String()),
		zap.Int("remaining", remaining),
	)

	// Render everything up front so a template failure rejects the whole
	// batch before any provider call or quota consumption.
	plan := []planItem{
		{class: domain.ClassUserConfirmation, recipient: sub.SubmitterEmail()},
		{class: domain.ClassAdminPrimary, recipient: d.adminPrimary, replyTo: sub.ReplyToEmail(), withAttachments: true},
		{class: domain.ClassAdminSecondary, recipient: d.adminSecondary, replyTo: sub.ReplyToEmail(), withAttachments: true},
	}
	for i := range plan {
		rendered, err := d.renderer.Render(plan[i].class, sub)
		if err != nil {
			return nil, fmt.Errorf("failed to render %s email: %w", plan[i].class, err)
		}
		plan[i].rendered = rendered
	}

	attachments := d.fetchAttachments(ctx, sub, decision, logger)

	result := &BatchResult{
		Strategy:  decision.Strategy,
		Remaining: remaining,
		Results:   make([]ClassResult, 0, len(plan)),
	}

	quota := remaining
	sentAny := false
	for _, item := range plan {
		if !decision.Allows(item.class) {
			classResult, err := d.deferToQueue(ctx, sub, item, logger)
			if err != nil {
				return result, err
			}
			result.Results = append(result.Results, *classResult)
			continue
		}

		if sentAny {
			if err := d.sleep(ctx, sendPacing); err != nil {
				return result, err
			}
		}
		sentAny = true

		quota--
		classResult, err := d.sendNow(ctx, sub, item, attachments, quota, logger)
		if err != nil {
			return result, err
		}
		result.Results = append(result.Results, *classResult)
	}

	return result, nil
}

// fetchAttachments resolves article files once per batch, and only when at
// least one admin notice will actually be sent now. Attachments are never
// persisted with deferred mail; a deferred admin notice goes out later
// without them, carrying the submission reference instead.
func (d *BatchDispatcher) fetchAttachments(
	ctx context.Context,
	sub domain.Submission,
	decision strategy.Decision,
	logger *zap.Logger,
) []domain.Attachment {
	if d.attachments == nil {
		return nil
	}
	if !decision.AdminPrimary && !decision.AdminSecondary {
		return nil
	}

	urls := sub.AttachmentURLs()
	if len(urls) == 0 {
		return nil
	}

	fetched := d.attachments.FetchAll(ctx, urls)
	if fetched.Skipped > 0 || fetched.Failed > 0 {
		logger.Warn("attachment set reduced",
			zap.Int("requested", len(urls)),
			zap.Int("fetched", len(fetched.Attachments)),
			zap.Int("skipped", fetched.Skipped),
			zap.Int("failed", fetched.Failed),
		)
	}
	return fetched.Attachments
}

func (d *BatchDispatcher) sendNow(
	ctx context.Context,
	sub domain.Submission,
	item planItem,
	attachments []domain.Attachment,
	quotaLeft int,
	logger *zap.Logger,
) (*ClassResult, error) {
	if d.gate != nil {
		if err := d.gate.Wait(ctx); err != nil {
			return nil, fmt.Errorf("send gate wait failed: %w", err)
		}
	}

	email := mailer.Email{
		To:      item.recipient,
		Subject: item.rendered.Subject,
		HTML:    item.rendered.HTML,
		Text:    item.rendered.Text,
	}
	if item.replyTo != nil {
		email.ReplyTo = *item.replyTo
	}
	if item.withAttachments {
		email.Attachments = attachments
	}

	classLabel := strings.ToLower(item.class.String())
	sendStart := d.now()
	sendResult, sendErr := d.transport.Send(ctx, email)
	if d.metrics != nil {
		d.metrics.ObserveSendDuration(classLabel, d.now().Sub(sendStart))
	}

	if err := d.usage.RecordAttempt(ctx, sendErr == nil); err != nil {
		logger.Error("failed to record send attempt", zap.Error(err))
	}

	if sendErr == nil {
		if d.metrics != nil {
			d.metrics.IncEmailSent(classLabel)
		}
		classResult := &ClassResult{
			Class:     item.class,
			Recipient: item.recipient,
			Outcome:   OutcomeSent,
		}
		if sendResult != nil {
			classResult.ProviderID = sendResult.ProviderID
		}
		return classResult, nil
	}

	logger.Warn("send failed, falling back to queue",
		zap.String("class", classLabel),
		zap.Error(sendErr),
	)
	if d.metrics != nil {
		d.metrics.IncEmailFailed(classLabel, failureReason(sendErr))
	}

	// The failed attempt still burned a quota unit. A retry within the hour
	// only makes sense while quota is left, otherwise the message waits for
	// the reset like any deferred mail.
	slot := d.retries.NextAttempt()
	if quotaLeft <= 0 {
		slot = d.retries.DeferredSlot()
	}
	queued, err := d.enqueue(ctx, sub, item, slot)
	if err != nil {
		return nil, fmt.Errorf("failed to queue %s after send failure: %w", item.class, err)
	}
	if d.metrics != nil {
		d.metrics.IncEmailQueued(classLabel, "send_failed")
	}

	return &ClassResult{
		Class:        item.class,
		Recipient:    item.recipient,
		Outcome:      OutcomeFailedQueued,
		QueueID:      queued.ID,
		ScheduledFor: queued.ScheduledFor,
	}, nil
}

func (d *BatchDispatcher) deferToQueue(
	ctx context.Context,
	sub domain.Submission,
	item planItem,
	logger *zap.Logger,
) (*ClassResult, error) {
	slot := d.retries.DeferredSlot()
	queued, err := d.enqueue(ctx, sub, item, slot)
	if err != nil {
		return nil, fmt.Errorf("failed to defer %s: %w", item.class, err)
	}

	classLabel := strings.ToLower(item.class.String())
	if d.metrics != nil {
		d.metrics.IncEmailQueued(classLabel, "quota_exhausted")
	}
	logger.Info("email deferred past quota reset",
		zap.String("class", classLabel),
		zap.Time("scheduledFor", slot),
	)

	return &ClassResult{
		Class:        item.class,
		Recipient:    item.recipient,
		Outcome:      OutcomeDeferred,
		QueueID:      queued.ID,
		ScheduledFor: queued.ScheduledFor,
	}, nil
}

func (d *BatchDispatcher) enqueue(
	ctx context.Context,
	sub domain.Submission,
	item planItem,
	scheduledFor time.Time,
) (*domain.QueuedEmail, error) {
	var ref *string
	if correlationID := strings.TrimSpace(sub.CorrelationID); correlationID != "" {
		ref = &correlationID
	}

	queued := &domain.QueuedEmail{
		ID:            uuid.NewString(),
		Recipient:     item.recipient,
		Subject:       item.rendered.Subject,
		BodyHTML:      item.rendered.HTML,
		BodyText:      item.rendered.Text,
		Priority:      item.class.DefaultPriority(),
		Class:         item.class,
		SubmissionRef: ref,
		ReplyTo:       item.replyTo,
		Status:        domain.QueueStatusPending,
		ScheduledFor:  scheduledFor,
	}
	if err := queued.Validate(); err != nil {
		return nil, err
	}
	if err := d.queue.Enqueue(ctx, queued); err != nil {
		return nil, err
	}
	return queued, nil
}

func failureReason(err error) string {
	if mailer.IsTransient(err) {
		return "transient_error"
	}
	return "permanent_error"
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
