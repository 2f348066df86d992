package service

import (
	"context"
	"fmt"
	"time"

	"github.com/tidepress/mail-dispatch/internal/attachment"
	"github.com/tidepress/mail-dispatch/internal/domain"
	"github.com/tidepress/mail-dispatch/internal/mailer"
	"github.com/tidepress/mail-dispatch/internal/repository"
)

type fakeQueueRepo struct {
	enqueueFn        func(ctx context.Context, m *domain.QueuedEmail) error
	dueFn            func(ctx context.Context, now time.Time, limit int) ([]domain.QueuedEmail, error)
	removeFn         func(ctx context.Context, id string) error
	incrementRetryFn func(ctx context.Context, id string, next time.Time) error
	markDeadFn       func(ctx context.Context, id string) error

	enqueued []domain.QueuedEmail
	removed  []string
	retried  []string
	dead     []string
}

func (f *fakeQueueRepo) Enqueue(ctx context.Context, m *domain.QueuedEmail) error {
	if f.enqueueFn != nil {
		if err := f.enqueueFn(ctx, m); err != nil {
			return err
		}
	}
	f.enqueued = append(f.enqueued, *m)
	return nil
}

func (f *fakeQueueRepo) Due(ctx context.Context, now time.Time, limit int) ([]domain.QueuedEmail, error) {
	if f.dueFn != nil {
		return f.dueFn(ctx, now, limit)
	}
	return nil, nil
}

func (f *fakeQueueRepo) GetByID(ctx context.Context, id string) (*domain.QueuedEmail, error) {
	return nil, domain.ErrNotFound
}

func (f *fakeQueueRepo) List(ctx context.Context, params repository.ListParams) ([]domain.QueuedEmail, int64, error) {
	return nil, 0, nil
}

func (f *fakeQueueRepo) Remove(ctx context.Context, id string) error {
	f.removed = append(f.removed, id)
	if f.removeFn != nil {
		return f.removeFn(ctx, id)
	}
	return nil
}

func (f *fakeQueueRepo) IncrementRetry(ctx context.Context, id string, next time.Time) error {
	f.retried = append(f.retried, id)
	if f.incrementRetryFn != nil {
		return f.incrementRetryFn(ctx, id, next)
	}
	return nil
}

func (f *fakeQueueRepo) MarkDead(ctx context.Context, id string) error {
	f.dead = append(f.dead, id)
	if f.markDeadFn != nil {
		return f.markDeadFn(ctx, id)
	}
	return nil
}

func (f *fakeQueueRepo) CountByStatus(ctx context.Context, status domain.QueueStatus) (int64, error) {
	return 0, nil
}

type recordedAttempt struct {
	day     string
	success bool
}

type fakeUsageRepo struct {
	getFn    func(ctx context.Context, day string) (*domain.DailyUsage, error)
	recordFn func(ctx context.Context, day string, success bool) error

	attempts []recordedAttempt
}

func (f *fakeUsageRepo) Get(ctx context.Context, day string) (*domain.DailyUsage, error) {
	if f.getFn != nil {
		return f.getFn(ctx, day)
	}
	return nil, domain.ErrNotFound
}

func (f *fakeUsageRepo) RecordAttempt(ctx context.Context, day string, success bool) error {
	f.attempts = append(f.attempts, recordedAttempt{day: day, success: success})
	if f.recordFn != nil {
		return f.recordFn(ctx, day, success)
	}
	return nil
}

type fakeTransport struct {
	sendFn func(ctx context.Context, email mailer.Email) (*mailer.SendResult, error)

	sent []mailer.Email
}

func (f *fakeTransport) Send(ctx context.Context, email mailer.Email) (*mailer.SendResult, error) {
	f.sent = append(f.sent, email)
	if f.sendFn != nil {
		return f.sendFn(ctx, email)
	}
	return &mailer.SendResult{StatusCode: 200, ProviderID: "prov-1"}, nil
}

type fakeGate struct {
	waitFn func(ctx context.Context) error

	waits int
}

func (f *fakeGate) Wait(ctx context.Context) error {
	f.waits++
	if f.waitFn != nil {
		return f.waitFn(ctx)
	}
	return nil
}

type fakeRenderer struct {
	renderFn func(class domain.MessageClass, sub domain.Submission) (*mailer.RenderedEmail, error)
}

func (f *fakeRenderer) Render(class domain.MessageClass, sub domain.Submission) (*mailer.RenderedEmail, error) {
	if f.renderFn != nil {
		return f.renderFn(class, sub)
	}
	return &mailer.RenderedEmail{
		Subject: fmt.Sprintf("subject for %s", class),
		HTML:    fmt.Sprintf("<p>body for %s</p>", class),
		Text:    fmt.Sprintf("body for %s", class),
	}, nil
}

type fakeFetcher struct {
	result attachment.Result

	calls int
}

func (f *fakeFetcher) FetchAll(ctx context.Context, urls []string) attachment.Result {
	f.calls++
	return f.result
}

// usageWithRemaining builds a tracker whose snapshot reports the given
// remaining quota under the default limit.
func usageWithRemaining(remaining int) (*UsageTracker, *fakeUsageRepo) {
	repo := &fakeUsageRepo{}
	attempted := DefaultDailyLimit - remaining
	if attempted > 0 {
		repo.getFn = func(ctx context.Context, day string) (*domain.DailyUsage, error) {
			return &domain.DailyUsage{Day: day, Attempted: attempted, Succeeded: attempted}, nil
		}
	}
	tracker, err := NewUsageTracker(repo, DefaultDailyLimit, nil)
	if err != nil {
		panic(err)
	}
	return tracker, repo
}

func articleSubmission() domain.Submission {
	return domain.Submission{
		Kind:          domain.KindArticle,
		CorrelationID: "sub-42",
		Article: &domain.ArticleSubmission{
			Title:       "On Tides",
			AuthorName:  "Robin Doe",
			AuthorEmail: "robin@example.com",
			FileURLs:    []string{"/storage/v1/object/public/articles/on-tides.pdf"},
		},
	}
}

func contactSubmission() domain.Submission {
	return domain.Submission{
		Kind: domain.KindContact,
		Contact: &domain.ContactMessage{
			Name:    "Sam Reader",
			Email:   "sam@example.com",
			Subject: "Back issues",
			Body:    "Do you still sell back issues?",
		},
	}
}
