package queue

import "context"

// Publisher publishes submission messages to the broker.
type Publisher interface {
	Publish(ctx context.Context, queue string, msg SubmissionMessage) error
	Close() error
}

// MessageHandler handles a consumed submission message.
type MessageHandler func(ctx context.Context, msg SubmissionMessage) error

// Consumer consumes submission messages from the broker.
type Consumer interface {
	Consume(ctx context.Context, queue string, handler MessageHandler) error
	Close() error
}

const (
	// SubmissionsQueue carries new submission events from the site backend.
	SubmissionsQueue = "submissions"

	dlxExchangeName = "mail.dlx"
	dlqRoutingKey   = "submissions"
)

// DLQName returns the dead-letter queue for submissions the consumer rejects.
func DLQName() string {
	return "dlq." + SubmissionsQueue
}
