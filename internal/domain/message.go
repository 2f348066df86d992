package domain

import (
	"fmt"
	"net/mail"
	"strings"
	"time"
)

// MaxRetries is the number of delivery attempts a queued message gets before it
// is marked dead and excluded from draining.
const MaxRetries = 3

// MessageClass categorizes a notification by its audience.
type MessageClass string

const (
	ClassUserConfirmation MessageClass = "USER_CONFIRMATION"
	ClassAdminPrimary     MessageClass = "ADMIN_PRIMARY"
	ClassAdminSecondary   MessageClass = "ADMIN_SECONDARY"
)

func (c MessageClass) String() string { return string(c) }

func (c MessageClass) IsValid() bool {
	switch c {
	case ClassUserConfirmation, ClassAdminPrimary, ClassAdminSecondary:
		return true
	}
	return false
}

func ParseMessageClassFromString(s string) (MessageClass, error) {
	c := MessageClass(strings.ToUpper(strings.TrimSpace(s)))
	if !c.IsValid() {
		return "", fmt.Errorf("%w: invalid message class %q", ErrValidation, s)
	}
	return c, nil
}

// Priority governs drain order within the queue. It is derived from the
// message class: the submitter's confirmation always outranks internal mail.
func (c MessageClass) DefaultPriority() Priority {
	switch c {
	case ClassUserConfirmation:
		return PriorityHigh
	case ClassAdminPrimary:
		return PriorityMedium
	default:
		return PriorityLow
	}
}

// Priority represents the message priority level.
type Priority string

const (
	PriorityHigh   Priority = "HIGH"
	PriorityMedium Priority = "MEDIUM"
	PriorityLow    Priority = "LOW"
)

func (p Priority) String() string { return string(p) }

func (p Priority) IsValid() bool {
	switch p {
	case PriorityHigh, PriorityMedium, PriorityLow:
		return true
	}
	return false
}

func ParsePriorityFromString(s string) (Priority, error) {
	pr := Priority(strings.ToUpper(strings.TrimSpace(s)))
	if !pr.IsValid() {
		return "", fmt.Errorf("%w: invalid priority %q", ErrValidation, s)
	}
	return pr, nil
}

// QueueStatus represents the lifecycle state of a queued message. Successful
// sends remove the row, so there is no SENT state here.
type QueueStatus string

const (
	QueueStatusPending QueueStatus = "PENDING"
	QueueStatusDead    QueueStatus = "DEAD"
)

func (s QueueStatus) String() string { return string(s) }

func (s QueueStatus) IsValid() bool {
	switch s {
	case QueueStatusPending, QueueStatusDead:
		return true
	}
	return false
}

func ParseQueueStatusFromString(s string) (QueueStatus, error) {
	st := QueueStatus(strings.ToUpper(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid queue status %q", ErrValidation, s)
	}
	return st, nil
}

// QueuedEmail is a deferred or retry-pending notification in the durable queue.
type QueuedEmail struct {
	ID            string
	Recipient     string
	Subject       string
	BodyHTML      string
	BodyText      string
	Priority      Priority
	Class         MessageClass
	SubmissionRef *string
	ReplyTo       *string
	Status        QueueStatus
	RetryCount    int
	ScheduledFor  time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (m *QueuedEmail) Validate() error {
	if err := ValidateEmailAddress(m.Recipient); err != nil {
		return fmt.Errorf("%w: recipient: %v", ErrValidation, err)
	}
	if strings.TrimSpace(m.Subject) == "" {
		return fmt.Errorf("%w: subject is required", ErrValidation)
	}
	if strings.TrimSpace(m.BodyHTML) == "" && strings.TrimSpace(m.BodyText) == "" {
		return fmt.Errorf("%w: message body is required", ErrValidation)
	}
	if !m.Class.IsValid() {
		return fmt.Errorf("%w: invalid message class %q", ErrValidation, m.Class)
	}
	if !m.Priority.IsValid() {
		return fmt.Errorf("%w: invalid priority %q", ErrValidation, m.Priority)
	}
	if m.ReplyTo != nil {
		if err := ValidateEmailAddress(*m.ReplyTo); err != nil {
			return fmt.Errorf("%w: replyTo: %v", ErrValidation, err)
		}
	}
	if m.ScheduledFor.IsZero() {
		return fmt.Errorf("%w: scheduledFor is required", ErrValidation)
	}
	return nil
}

func ValidateEmailAddress(address string) error {
	trimmed := strings.TrimSpace(address)
	if trimmed == "" {
		return fmt.Errorf("address is required")
	}
	if _, err := mail.ParseAddress(trimmed); err != nil {
		return fmt.Errorf("invalid address %q", address)
	}
	return nil
}
