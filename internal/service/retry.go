package service

import "time"

const (
	// retryDelay spaces out redelivery attempts for messages that failed at
	// the provider.
	retryDelay = time.Hour

	// deferredSendHour is the UTC hour at which quota-deferred mail becomes
	// eligible, shortly after the provider's daily window resets.
	deferredSendHour = 9
)

// RetryScheduler computes when a queued message should next be attempted.
type RetryScheduler struct {
	now func() time.Time
}

func NewRetryScheduler() *RetryScheduler {
	return &RetryScheduler{now: time.Now}
}

// NextAttempt returns the schedule slot for a message that just failed.
func (s *RetryScheduler) NextAttempt() time.Time {
	return s.now().UTC().Add(retryDelay)
}

// DeferredSlot returns the schedule slot for mail deferred because today's
// quota could not cover it: tomorrow morning, after the quota resets.
func (s *RetryScheduler) DeferredSlot() time.Time {
	tomorrow := s.now().UTC().AddDate(0, 0, 1)
	return time.Date(tomorrow.Year(), tomorrow.Month(), tomorrow.Day(), deferredSendHour, 0, 0, 0, time.UTC)
}
