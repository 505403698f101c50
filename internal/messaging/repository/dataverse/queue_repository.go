package dataverse

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	dv "github.com/lifecockpit/dispatch/internal/dataverse"
	"github.com/lifecockpit/dispatch/internal/messaging/domain"
	"github.com/lifecockpit/dispatch/internal/messaging/repository"
)

// Logical names and columns of the queue table in Dataverse.
const (
	scheduledMessageEntity = "cre92_scheduledmessage"

	colMessageID   = "cre92_scheduledmessageid"
	colSessionID   = "cre92_sessionid"
	colClientName  = "cre92_clientname"
	colType        = "cre92_messagetype"
	colEmail       = "cre92_email"
	colPhone       = "cre92_phonenumber"
	colTelegramID  = "cre92_telegramid"
	colWhatsAppID  = "cre92_whatsappid"
	colChannelID   = "cre92_channelid"
	colSubject     = "cre92_messagesubject"
	colBody        = "cre92_messagetext"
	colScheduledOn = "cre92_scheduledon"
	colStatus      = "cre92_messagestatus"
	colSentAt      = "cre92_sentat"
	colExternalID  = "cre92_externalid"
	colError       = "cre92_errormessage"
)

var queueSelectColumns = fmt.Sprintf("%s,%s,%s,%s,%s,%s,%s,%s,%s,%s,%s,%s,%s,%s,%s,%s",
	colMessageID, colSessionID, colClientName, colType, colEmail, colPhone,
	colTelegramID, colWhatsAppID, colChannelID, colSubject, colBody,
	colScheduledOn, colStatus, colSentAt, colExternalID, colError)

type queueRepository struct {
	ops    *dv.Operations
	logger *slog.Logger
}

// NewQueueRepository builds the Dataverse-backed scheduled-message queue.
func NewQueueRepository(ops *dv.Operations, logger *slog.Logger) repository.QueueRepository {
	return &queueRepository{ops: ops, logger: logger.With("component", "queue_repository")}
}

func (r *queueRepository) DueMessages(ctx context.Context, now time.Time, limit int) ([]*domain.ScheduledMessage, error) {
	setName, err := r.ops.EntitySet(ctx, scheduledMessageEntity)
	if err != nil {
		return nil, fmt.Errorf("resolve queue entity set: %w", err)
	}

	filter := fmt.Sprintf("%s eq '%s' and %s le %s",
		colStatus, domain.StatusRevised, colScheduledOn, now.UTC().Format(time.RFC3339))

	result, err := r.ops.Query(ctx, setName, dv.QueryOptions{
		Filter:  filter,
		Select:  queueSelectColumns,
		OrderBy: colScheduledOn + " asc",
		Top:     limit,
	})
	if err != nil {
		return nil, fmt.Errorf("query due messages: %w", err)
	}

	messages := make([]*domain.ScheduledMessage, 0, len(result.Records))
	for _, rec := range result.Records {
		messages = append(messages, fromRecord(rec))
	}
	r.logger.InfoContext(ctx, "queried due messages", "count", len(messages), "server_count", result.Count)
	return messages, nil
}

func (r *queueRepository) MarkSent(ctx context.Context, id string, sentAt time.Time, externalID string) error {
	setName, err := r.ops.EntitySet(ctx, scheduledMessageEntity)
	if err != nil {
		return fmt.Errorf("resolve queue entity set: %w", err)
	}

	payload := dv.Record{
		colStatus: string(domain.StatusSent),
		colSentAt: sentAt.UTC().Format(time.RFC3339),
	}
	if externalID != "" {
		payload[colExternalID] = externalID
	}

	if err := r.ops.Update(ctx, setName, id, payload); err != nil {
		return fmt.Errorf("mark message %s sent: %w", id, err)
	}
	r.logger.InfoContext(ctx, "marked message sent", "message_id", id, "external_id", externalID)
	return nil
}

func (r *queueRepository) MarkFailed(ctx context.Context, id string, errorMessage string) error {
	setName, err := r.ops.EntitySet(ctx, scheduledMessageEntity)
	if err != nil {
		return fmt.Errorf("resolve queue entity set: %w", err)
	}

	payload := dv.Record{
		colStatus: string(domain.StatusFailed),
		colError:  errorMessage,
	}
	if err := r.ops.Update(ctx, setName, id, payload); err != nil {
		return fmt.Errorf("mark message %s failed: %w", id, err)
	}
	r.logger.InfoContext(ctx, "marked message failed", "message_id", id, "error", errorMessage)
	return nil
}

func fromRecord(rec dv.Record) *domain.ScheduledMessage {
	msg := &domain.ScheduledMessage{
		ID:          str(rec, colMessageID),
		SessionID:   str(rec, colSessionID),
		ClientName:  str(rec, colClientName),
		Type:        domain.MessageType(str(rec, colType)),
		Email:       str(rec, colEmail),
		PhoneNumber: str(rec, colPhone),
		TelegramID:  str(rec, colTelegramID),
		WhatsAppID:  str(rec, colWhatsAppID),
		ChannelID:   str(rec, colChannelID),
		Subject:     str(rec, colSubject),
		Body:        str(rec, colBody),
		Status:      domain.MessageStatus(str(rec, colStatus)),
		ExternalID:  str(rec, colExternalID),
		ErrorText:   str(rec, colError),
	}
	if t, ok := timestamp(rec, colScheduledOn); ok {
		msg.ScheduledOn = t
	}
	if t, ok := timestamp(rec, colSentAt); ok {
		msg.SentAt = &t
	}
	return msg
}

func str(rec dv.Record, key string) string {
	if v, ok := rec[key].(string); ok {
		return v
	}
	return ""
}

func timestamp(rec dv.Record, key string) (time.Time, bool) {
	raw, ok := rec[key].(string)
	if !ok || raw == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
