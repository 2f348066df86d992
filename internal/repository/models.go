package repository

import (
	"time"

	"github.com/tidepress/mail-dispatch/internal/domain"
)

// QueuedEmailModel is the persistence model for the email_queue table.
type QueuedEmailModel struct {
	ID            string              `gorm:"type:uuid;primaryKey"`
	Recipient     string              `gorm:"type:varchar(255);not null"`
	Subject       string              `gorm:"type:varchar(500);not null"`
	BodyHTML      string              `gorm:"column:body_html;type:text;not null"`
	BodyText      string              `gorm:"column:body_text;type:text;not null"`
	Priority      domain.Priority     `gorm:"type:varchar(10);not null"`
	Class         domain.MessageClass `gorm:"type:varchar(20);not null"`
	SubmissionRef *string             `gorm:"type:varchar(36)"`
	ReplyTo       *string             `gorm:"type:varchar(255)"`
	Status        domain.QueueStatus  `gorm:"type:varchar(10);not null"`
	RetryCount    int                 `gorm:"not null;default:0"`
	ScheduledFor  time.Time           `gorm:"type:timestamptz;not null"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (QueuedEmailModel) TableName() string {
	return "email_queue"
}

// DailyUsageModel is the persistence model for the email_usage table.
type DailyUsageModel struct {
	Day       string `gorm:"type:varchar(10);primaryKey"`
	Attempted int    `gorm:"not null;default:0"`
	Succeeded int    `gorm:"not null;default:0"`
	Failed    int    `gorm:"not null;default:0"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (DailyUsageModel) TableName() string {
	return "email_usage"
}

func queuedEmailModelFromDomain(m *domain.QueuedEmail) *QueuedEmailModel {
	if m == nil {
		return nil
	}

	return &QueuedEmailModel{
		ID:            m.ID,
		Recipient:     m.Recipient,
		Subject:       m.Subject,
		BodyHTML:      m.BodyHTML,
		BodyText:      m.BodyText,
		Priority:      m.Priority,
		Class:         m.Class,
		SubmissionRef: m.SubmissionRef,
		ReplyTo:       m.ReplyTo,
		Status:        m.Status,
		RetryCount:    m.RetryCount,
		ScheduledFor:  m.ScheduledFor,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
}

func queuedEmailModelToDomain(m *QueuedEmailModel) *domain.QueuedEmail {
	if m == nil {
		return nil
	}

	return &domain.QueuedEmail{
		ID:            m.ID,
		Recipient:     m.Recipient,
		Subject:       m.Subject,
		BodyHTML:      m.BodyHTML,
		BodyText:      m.BodyText,
		Priority:      m.Priority,
		Class:         m.Class,
		SubmissionRef: m.SubmissionRef,
		ReplyTo:       m.ReplyTo,
		Status:        m.Status,
		RetryCount:    m.RetryCount,
		ScheduledFor:  m.ScheduledFor,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
}

func dailyUsageModelToDomain(m *DailyUsageModel) *domain.DailyUsage {
	if m == nil {
		return nil
	}

	return &domain.DailyUsage{
		Day:       m.Day,
		Attempted: m.Attempted,
		Succeeded: m.Succeeded,
		Failed:    m.Failed,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}
