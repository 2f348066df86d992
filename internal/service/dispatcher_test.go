package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tidepress/mail-dispatch/internal/attachment"
	"github.com/tidepress/mail-dispatch/internal/domain"
	"github.com/tidepress/mail-dispatch/internal/mailer"
	"github.com/tidepress/mail-dispatch/internal/strategy"
)

const (
	testAdminPrimary   = "editor@example.com"
	testAdminSecondary = "desk@example.com"
)

var testClock = time.Date(2025, 3, 10, 14, 0, 0, 0, time.UTC)

type dispatcherFixture struct {
	dispatcher *BatchDispatcher
	transport  *fakeTransport
	queue      *fakeQueueRepo
	usageRepo  *fakeUsageRepo
	gate       *fakeGate
	fetcher    *fakeFetcher
	sleeps     *int
}

func newDispatcherFixture(t *testing.T, remaining int) *dispatcherFixture {
	t.Helper()

	transport := &fakeTransport{}
	queueRepo := &fakeQueueRepo{}
	gate := &fakeGate{}
	fetcher := &fakeFetcher{}
	tracker, usageRepo := usageWithRemaining(remaining)
	tracker.now = func() time.Time { return testClock }

	retries := NewRetryScheduler()
	retries.now = func() time.Time { return testClock }

	dispatcher, err := NewBatchDispatcher(
		transport,
		&fakeRenderer{},
		fetcher,
		queueRepo,
		tracker,
		retries,
		gate,
		testAdminPrimary,
		testAdminSecondary,
		nil,
	)
	if err != nil {
		t.Fatalf("NewBatchDispatcher() error = %v", err)
	}

	sleeps := 0
	dispatcher.now = func() time.Time { return testClock }
	dispatcher.sleep = func(ctx context.Context, d time.Duration) error {
		if d != sendPacing {
			t.Fatalf("pacing sleep = %v, want %v", d, sendPacing)
		}
		sleeps++
		return nil
	}

	return &dispatcherFixture{
		dispatcher: dispatcher,
		transport:  transport,
		queue:      queueRepo,
		usageRepo:  usageRepo,
		gate:       gate,
		fetcher:    fetcher,
		sleeps:     &sleeps,
	}
}

func TestDispatchFullQuotaSendsAllThree(t *testing.T) {
	t.Parallel()

	fx := newDispatcherFixture(t, DefaultDailyLimit)

	result, err := fx.dispatcher.Dispatch(context.Background(), contactSubmission())
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}

	if result.Strategy != strategy.SendAll {
		t.Fatalf("strategy = %s, want send_all", result.Strategy)
	}
	if len(fx.transport.sent) != 3 {
		t.Fatalf("sent = %d, want 3", len(fx.transport.sent))
	}
	if len(fx.queue.enqueued) != 0 {
		t.Fatalf("enqueued = %d, want 0", len(fx.queue.enqueued))
	}
	if fx.gate.waits != 3 {
		t.Fatalf("gate waits = %d, want 3", fx.gate.waits)
	}
	if *fx.sleeps != 2 {
		t.Fatalf("pacing sleeps = %d, want 2", *fx.sleeps)
	}
	if len(fx.usageRepo.attempts) != 3 {
		t.Fatalf("usage attempts = %d, want 3", len(fx.usageRepo.attempts))
	}
	for _, attempt := range fx.usageRepo.attempts {
		if !attempt.success {
			t.Fatal("all attempts should be recorded as successful")
		}
	}

	if fx.transport.sent[0].To != "sam@example.com" {
		t.Fatalf("first recipient = %q, want submitter", fx.transport.sent[0].To)
	}
	if fx.transport.sent[1].To != testAdminPrimary || fx.transport.sent[2].To != testAdminSecondary {
		t.Fatal("admin notices should follow the confirmation")
	}
	// Contact submissions set the submitter as reply-to on admin mail only.
	if fx.transport.sent[0].ReplyTo != "" {
		t.Fatal("confirmation must not carry a reply-to")
	}
	if fx.transport.sent[1].ReplyTo != "sam@example.com" {
		t.Fatalf("admin reply-to = %q, want submitter", fx.transport.sent[1].ReplyTo)
	}

	for _, classResult := range result.Results {
		if classResult.Outcome != OutcomeSent {
			t.Fatalf("outcome for %s = %s, want sent", classResult.Class, classResult.Outcome)
		}
	}
}

func TestDispatchTightQuotaDefersSecondaryAdmin(t *testing.T) {
	t.Parallel()

	fx := newDispatcherFixture(t, 2)

	result, err := fx.dispatcher.Dispatch(context.Background(), contactSubmission())
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}

	if result.Strategy != strategy.UserAndPrimaryAdmin {
		t.Fatalf("strategy = %s, want user_and_primary_admin", result.Strategy)
	}
	if len(fx.transport.sent) != 2 {
		t.Fatalf("sent = %d, want 2", len(fx.transport.sent))
	}
	if len(fx.queue.enqueued) != 1 {
		t.Fatalf("enqueued = %d, want 1", len(fx.queue.enqueued))
	}

	queued := fx.queue.enqueued[0]
	if queued.Class != domain.ClassAdminSecondary {
		t.Fatalf("queued class = %s, want ADMIN_SECONDARY", queued.Class)
	}
	if queued.Priority != domain.PriorityLow {
		t.Fatalf("queued priority = %s, want LOW", queued.Priority)
	}
	wantSlot := time.Date(2025, 3, 11, 9, 0, 0, 0, time.UTC)
	if !queued.ScheduledFor.Equal(wantSlot) {
		t.Fatalf("scheduledFor = %v, want %v", queued.ScheduledFor, wantSlot)
	}
	// Deferrals consume no quota.
	if len(fx.usageRepo.attempts) != 2 {
		t.Fatalf("usage attempts = %d, want 2", len(fx.usageRepo.attempts))
	}
}

func TestDispatchExhaustedQuotaQueuesEverything(t *testing.T) {
	t.Parallel()

	fx := newDispatcherFixture(t, 0)

	result, err := fx.dispatcher.Dispatch(context.Background(), articleSubmission())
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}

	if result.Strategy != strategy.QueueAll {
		t.Fatalf("strategy = %s, want queue_all", result.Strategy)
	}
	if len(fx.transport.sent) != 0 {
		t.Fatalf("sent = %d, want 0", len(fx.transport.sent))
	}
	if len(fx.queue.enqueued) != 3 {
		t.Fatalf("enqueued = %d, want 3", len(fx.queue.enqueued))
	}
	if len(fx.usageRepo.attempts) != 0 {
		t.Fatalf("usage attempts = %d, want 0", len(fx.usageRepo.attempts))
	}
	if fx.fetcher.calls != 0 {
		t.Fatal("attachments must not be fetched when nothing sends")
	}

	// The confirmation is queued, never dropped, at the highest priority.
	if fx.queue.enqueued[0].Class != domain.ClassUserConfirmation {
		t.Fatalf("first queued class = %s, want USER_CONFIRMATION", fx.queue.enqueued[0].Class)
	}
	if fx.queue.enqueued[0].Priority != domain.PriorityHigh {
		t.Fatalf("confirmation priority = %s, want HIGH", fx.queue.enqueued[0].Priority)
	}
	for _, queued := range fx.queue.enqueued {
		if queued.SubmissionRef == nil || *queued.SubmissionRef != "sub-42" {
			t.Fatal("queued rows should carry the submission reference")
		}
	}
}

func TestDispatchSendFailureFallsBackToQueue(t *testing.T) {
	t.Parallel()

	fx := newDispatcherFixture(t, DefaultDailyLimit)
	fx.transport.sendFn = func(ctx context.Context, email mailer.Email) (*mailer.SendResult, error) {
		if email.To == testAdminPrimary {
			return nil, &mailer.TransportError{StatusCode: 500, Message: "internal error", Transient: true}
		}
		return &mailer.SendResult{StatusCode: 200, ProviderID: "prov-1"}, nil
	}

	result, err := fx.dispatcher.Dispatch(context.Background(), contactSubmission())
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}

	if len(fx.transport.sent) != 3 {
		t.Fatalf("send attempts = %d, want 3", len(fx.transport.sent))
	}
	if len(fx.queue.enqueued) != 1 {
		t.Fatalf("enqueued = %d, want 1", len(fx.queue.enqueued))
	}

	queued := fx.queue.enqueued[0]
	if queued.Class != domain.ClassAdminPrimary {
		t.Fatalf("queued class = %s, want ADMIN_PRIMARY", queued.Class)
	}
	wantSlot := testClock.Add(time.Hour)
	if !queued.ScheduledFor.Equal(wantSlot) {
		t.Fatalf("scheduledFor = %v, want %v", queued.ScheduledFor, wantSlot)
	}

	// The failed attempt still burned quota.
	if len(fx.usageRepo.attempts) != 3 {
		t.Fatalf("usage attempts = %d, want 3", len(fx.usageRepo.attempts))
	}
	failures := 0
	for _, attempt := range fx.usageRepo.attempts {
		if !attempt.success {
			failures++
		}
	}
	if failures != 1 {
		t.Fatalf("failed attempts = %d, want 1", failures)
	}

	var primaryResult *ClassResult
	for i := range result.Results {
		if result.Results[i].Class == domain.ClassAdminPrimary {
			primaryResult = &result.Results[i]
		}
	}
	if primaryResult == nil || primaryResult.Outcome != OutcomeFailedQueued {
		t.Fatal("primary admin outcome should be failed_queued")
	}
}

func TestDispatchProceedsWhenUsageReadFails(t *testing.T) {
	t.Parallel()

	fx := newDispatcherFixture(t, DefaultDailyLimit)
	fx.usageRepo.getFn = func(ctx context.Context, day string) (*domain.DailyUsage, error) {
		return nil, errors.New("storage outage")
	}

	result, err := fx.dispatcher.Dispatch(context.Background(), contactSubmission())
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}

	// A broken usage read reads as a fresh day, the batch must not be lost.
	if result.Strategy != strategy.SendAll {
		t.Fatalf("strategy = %s, want send_all", result.Strategy)
	}
	if len(fx.transport.sent) != 3 {
		t.Fatalf("sent = %d, want 3", len(fx.transport.sent))
	}
	if len(fx.queue.enqueued) != 0 {
		t.Fatalf("enqueued = %d, want 0", len(fx.queue.enqueued))
	}
}

func TestDispatchFailureOnLastQuotaUnitWaitsForReset(t *testing.T) {
	t.Parallel()

	fx := newDispatcherFixture(t, 1)
	fx.transport.sendFn = func(ctx context.Context, email mailer.Email) (*mailer.SendResult, error) {
		return nil, &mailer.TransportError{StatusCode: 500, Message: "internal error", Transient: true}
	}

	result, err := fx.dispatcher.Dispatch(context.Background(), contactSubmission())
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}

	if result.Strategy != strategy.UserOnly {
		t.Fatalf("strategy = %s, want user_only", result.Strategy)
	}
	if len(fx.transport.sent) != 1 {
		t.Fatalf("send attempts = %d, want 1", len(fx.transport.sent))
	}
	if len(fx.queue.enqueued) != 3 {
		t.Fatalf("enqueued = %d, want 3", len(fx.queue.enqueued))
	}

	// The failed attempt burned the last quota unit, so the retry cannot
	// land within the hour. It waits for the reset with the deferred mail.
	confirmation := fx.queue.enqueued[0]
	if confirmation.Class != domain.ClassUserConfirmation {
		t.Fatalf("first queued class = %s, want USER_CONFIRMATION", confirmation.Class)
	}
	wantSlot := time.Date(2025, 3, 11, 9, 0, 0, 0, time.UTC)
	if !confirmation.ScheduledFor.Equal(wantSlot) {
		t.Fatalf("scheduledFor = %v, want %v", confirmation.ScheduledFor, wantSlot)
	}
	if len(fx.usageRepo.attempts) != 1 || fx.usageRepo.attempts[0].success {
		t.Fatal("the failed attempt should be recorded against the quota")
	}
}

func TestDispatchAdminMailCarriesAttachments(t *testing.T) {
	t.Parallel()

	fx := newDispatcherFixture(t, DefaultDailyLimit)
	fx.fetcher.result = attachment.Result{
		Attachments: []domain.Attachment{
			{Filename: "on-tides.pdf", EncodedContent: "JVBERi0=", MimeType: "application/pdf", SizeBytes: 6},
		},
	}

	if _, err := fx.dispatcher.Dispatch(context.Background(), articleSubmission()); err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}

	if fx.fetcher.calls != 1 {
		t.Fatalf("fetch calls = %d, want 1", fx.fetcher.calls)
	}
	if len(fx.transport.sent[0].Attachments) != 0 {
		t.Fatal("confirmation must not carry attachments")
	}
	if len(fx.transport.sent[1].Attachments) != 1 || len(fx.transport.sent[2].Attachments) != 1 {
		t.Fatal("admin notices should carry the fetched attachments")
	}
}

func TestDispatchRejectsInvalidSubmission(t *testing.T) {
	t.Parallel()

	fx := newDispatcherFixture(t, DefaultDailyLimit)

	_, err := fx.dispatcher.Dispatch(context.Background(), domain.Submission{Kind: domain.KindContact})
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("error = %v, want validation error", err)
	}
	if len(fx.transport.sent) != 0 {
		t.Fatal("nothing should be sent for an invalid submission")
	}
}

func TestDispatchRenderFailureAbortsBeforeSending(t *testing.T) {
	t.Parallel()

	fx := newDispatcherFixture(t, DefaultDailyLimit)
	fx.dispatcher.renderer = &fakeRenderer{
		renderFn: func(class domain.MessageClass, sub domain.Submission) (*mailer.RenderedEmail, error) {
			if class == domain.ClassAdminSecondary {
				return nil, errors.New("missing template")
			}
			return &mailer.RenderedEmail{Subject: "s", HTML: "<p>b</p>", Text: "b"}, nil
		},
	}

	if _, err := fx.dispatcher.Dispatch(context.Background(), contactSubmission()); err == nil {
		t.Fatal("expected render error")
	}
	if len(fx.transport.sent) != 0 {
		t.Fatal("a render failure must abort before any provider call")
	}
	if len(fx.usageRepo.attempts) != 0 {
		t.Fatal("a render failure must not consume quota")
	}
}

func TestDispatchEnqueueFailureSurfaces(t *testing.T) {
	t.Parallel()

	fx := newDispatcherFixture(t, 0)
	fx.queue.enqueueFn = func(ctx context.Context, m *domain.QueuedEmail) error {
		return errors.New("disk full")
	}

	if _, err := fx.dispatcher.Dispatch(context.Background(), contactSubmission()); err == nil {
		t.Fatal("expected error when the queue write fails")
	}
}
