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

const (
	messageLogEntity = "cre92_messagelog"

	logColMessageID  = "cre92_messageid"
	logColType       = "cre92_messagetype"
	logColRecipient  = "cre92_recipient"
	logColSubject    = "cre92_subject"
	logColBody       = "cre92_body"
	logColStatus     = "cre92_status"
	logColSentAt     = "cre92_sentat"
	logColProvider   = "cre92_provider"
	logColExternalID = "cre92_externalid"
	logColError      = "cre92_errortext"
)

type messageLogRepository struct {
	ops    *dv.Operations
	logger *slog.Logger
}

// NewMessageLogRepository builds the Dataverse-backed audit log. Appends may
// return dataverse.UnknownRecordID when the create response lacks a
// parseable id; the entry still exists.
func NewMessageLogRepository(ops *dv.Operations, logger *slog.Logger) repository.MessageLogRepository {
	return &messageLogRepository{ops: ops, logger: logger.With("component", "message_log_repository")}
}

func (r *messageLogRepository) Append(ctx context.Context, entry *domain.MessageLogEntry) (string, error) {
	setName, err := r.ops.EntitySet(ctx, messageLogEntity)
	if err != nil {
		return "", fmt.Errorf("resolve message log entity set: %w", err)
	}

	payload := dv.Record{
		logColMessageID: entry.MessageID,
		logColType:      string(entry.Type),
		logColRecipient: entry.Recipient,
		logColSubject:   entry.Subject,
		logColBody:      entry.Body,
		logColStatus:    entry.Status,
		logColSentAt:    entry.SentAt.UTC().Format(time.RFC3339),
	}
	if entry.Provider != "" {
		payload[logColProvider] = entry.Provider
	}
	if entry.ExternalID != "" {
		payload[logColExternalID] = entry.ExternalID
	}
	if entry.ErrorText != "" {
		payload[logColError] = entry.ErrorText
	}

	id, err := r.ops.Create(ctx, setName, payload)
	if err != nil {
		return "", fmt.Errorf("append message log entry: %w", err)
	}
	r.logger.InfoContext(ctx, "message log entry created",
		"message_id", entry.MessageID, "log_id", id, "status", entry.Status)
	return id, nil
}
