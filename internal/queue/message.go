package queue

import (
	"fmt"
	"time"

	"github.com/tidepress/mail-dispatch/internal/domain"
)

// SubmissionMessage is the broker payload announcing one site submission.
type SubmissionMessage struct {
	Submission  domain.Submission `json:"submission"`
	SubmittedAt time.Time         `json:"submittedAt,omitempty"`
}

func (m SubmissionMessage) Validate() error {
	if err := m.Submission.Validate(); err != nil {
		return fmt.Errorf("invalid submission payload: %w", err)
	}
	return nil
}
