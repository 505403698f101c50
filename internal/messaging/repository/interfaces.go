package repository

import (
	"context"
	"time"

	"github.com/lifecockpit/dispatch/internal/messaging/domain"
)

// QueueRepository is the scheduled-message queue surface the processor
// consumes. Implementations exist for Dataverse and for the in-memory
// sandbox.
type QueueRepository interface {
	// DueMessages returns up to limit records with status revised and a
	// scheduled time at or before now, earliest first.
	DueMessages(ctx context.Context, now time.Time, limit int) ([]*domain.ScheduledMessage, error)
	// MarkSent transitions a record revised -> sent, recording the send time
	// and the provider's external id.
	MarkSent(ctx context.Context, id string, sentAt time.Time, externalID string) error
	// MarkFailed transitions a record revised -> failed with the error text.
	MarkFailed(ctx context.Context, id string, errorMessage string) error
}

// MessageLogRepository appends audit records of dispatch attempts. Entries
// are write-once.
type MessageLogRepository interface {
	Append(ctx context.Context, entry *domain.MessageLogEntry) (string, error)
}
