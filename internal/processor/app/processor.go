// Package app implements the scheduled-message processor: the batch pipeline
// that drains due queue records through the provider factory under guardrail
// control.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/lifecockpit/dispatch/internal/guardrails"
	"github.com/lifecockpit/dispatch/internal/messaging"
	"github.com/lifecockpit/dispatch/internal/messaging/domain"
	"github.com/lifecockpit/dispatch/internal/messaging/repository"
)

// OperationName is the guardrail operation identifier for a batch run.
const OperationName = "scheduled-message-process"

// Per-message terminal statuses within a batch summary.
const (
	ResultSuccess = "success"
	ResultFailed  = "failed"
	ResultDryRun  = "dry_run"
)

// Result is the per-message entry in a batch summary.
type Result struct {
	Status      string `json:"status"`
	MessageID   string `json:"message_id"`
	MessageType string `json:"message_type"`
	ExternalID  string `json:"external_id,omitempty"`
	Provider    string `json:"provider,omitempty"`
	Recipient   string `json:"recipient,omitempty"`
	Subject     string `json:"subject,omitempty"`
	Error       string `json:"error,omitempty"`
}

// Summary is the aggregate outcome of one batch run. SuccessCount and
// FailedCount count live dispatches only; dry-run entries count toward
// ProcessedCount but neither tally.
type Summary struct {
	Status         string   `json:"status"`
	ProcessedCount int      `json:"processed_count"`
	SuccessCount   int      `json:"success_count"`
	FailedCount    int      `json:"failed_count"`
	Results        []Result `json:"results"`
	RunID          string   `json:"run_id,omitempty"`
}

// Processor drains the scheduled-message queue in batches. It is
// deliberately sequential: messages within a batch are dispatched one at a
// time so a provider outage degrades to slow, ordered failures rather than a
// thundering herd.
type Processor struct {
	queue     repository.QueueRepository
	log       repository.MessageLogRepository
	factory   *messaging.Factory
	guard     *guardrails.Manager
	logger    *slog.Logger
	batchSize int
	now       func() time.Time
}

func NewProcessor(queue repository.QueueRepository, log repository.MessageLogRepository, factory *messaging.Factory, guard *guardrails.Manager, logger *slog.Logger, batchSize int) *Processor {
	if batchSize <= 0 {
		batchSize = 50
	}
	return &Processor{
		queue:     queue,
		log:       log,
		factory:   factory,
		guard:     guard,
		logger:    logger.With("component", "processor"),
		batchSize: batchSize,
		now:       time.Now,
	}
}

// ProcessScheduledMessages runs one guarded batch. The returned Outcome
// always carries the run id; its Result is a *Summary when the batch ran.
func (p *Processor) ProcessScheduledMessages(ctx context.Context, opts guardrails.ExecOptions) guardrails.Outcome {
	return p.guard.Execute(ctx, OperationName, guardrails.ClassificationPersonal, opts,
		func(ctx context.Context, runID string, dryRun bool) (any, error) {
			return p.processBatch(ctx, runID, dryRun)
		})
}

func (p *Processor) processBatch(ctx context.Context, runID string, dryRun bool) (*Summary, error) {
	started := p.now()
	defer func() {
		batchDurationHist.Observe(p.now().Sub(started).Seconds())
	}()

	due, err := p.queue.DueMessages(ctx, p.now().UTC(), p.batchSize)
	if err != nil {
		return nil, fmt.Errorf("fetch due messages: %w", err)
	}
	batchSizeHist.Observe(float64(len(due)))

	summary := &Summary{
		Status:  "completed",
		Results: make([]Result, 0, len(due)),
		RunID:   runID,
	}
	if len(due) == 0 {
		p.logger.InfoContext(ctx, "no due messages", "run_id", runID)
		return summary, nil
	}

	p.logger.InfoContext(ctx, "processing batch",
		"run_id", runID, "count", len(due), "dry_run", dryRun)

	for _, msg := range due {
		res := p.processOne(ctx, msg, dryRun)
		summary.Results = append(summary.Results, res)
		summary.ProcessedCount++
		switch res.Status {
		case ResultSuccess:
			summary.SuccessCount++
		case ResultFailed:
			summary.FailedCount++
		}
		messagesProcessedCounter.WithLabelValues(res.MessageType, res.Status).Inc()
	}

	p.logger.InfoContext(ctx, "batch complete", "run_id", runID,
		"processed", summary.ProcessedCount,
		"succeeded", summary.SuccessCount, "failed", summary.FailedCount)
	return summary, nil
}

// processOne handles a single queue record end to end. It never returns an
// error and never panics outward; any failure becomes a failed Result so the
// rest of the batch proceeds.
func (p *Processor) processOne(ctx context.Context, msg *domain.ScheduledMessage, dryRun bool) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.ErrorContext(ctx, "panic processing message", "message_id", msg.ID, "panic", r)
			res = Result{
				Status:      ResultFailed,
				MessageID:   msg.ID,
				MessageType: string(msg.Type),
				Error:       fmt.Sprintf("panic: %v", r),
			}
		}
	}()

	// Dry-run short-circuits before conversion and dispatch so the queue is
	// never mutated, not even for records that would fail to convert.
	if dryRun {
		p.logger.InfoContext(ctx, "dry-run, skipping dispatch",
			"message_id", msg.ID, "message_type", msg.Type, "recipient", msg.RecipientHint())
		return Result{
			Status:      ResultDryRun,
			MessageID:   msg.ID,
			MessageType: string(msg.Type),
			Recipient:   msg.RecipientHint(),
			Subject:     msg.Subject,
		}
	}

	outbound, err := msg.ToOutbound()
	if err != nil {
		p.logger.WarnContext(ctx, "unconvertible queue record",
			"message_id", msg.ID, "message_type", msg.Type, "error", err)
		p.markFailedBestEffort(ctx, msg.ID, err.Error())
		return Result{
			Status:      ResultFailed,
			MessageID:   msg.ID,
			MessageType: string(msg.Type),
			Recipient:   msg.RecipientHint(),
			Error:       err.Error(),
		}
	}

	sendResult := p.factory.Send(ctx, outbound)
	if !sendResult.Success {
		p.logger.WarnContext(ctx, "dispatch failed",
			"message_id", msg.ID, "provider", sendResult.Provider, "error", sendResult.ErrorMessage)
		p.markFailedBestEffort(ctx, msg.ID, sendResult.ErrorMessage)
		return Result{
			Status:      ResultFailed,
			MessageID:   msg.ID,
			MessageType: string(outbound.Type),
			Provider:    sendResult.Provider,
			Recipient:   outbound.Address(),
			Error:       sendResult.ErrorMessage,
		}
	}

	// The audit entry is best effort: a log table outage must not stop
	// deliveries, so append failures are logged and swallowed.
	p.appendLogBestEffort(ctx, msg, outbound, sendResult)

	if err := p.queue.MarkSent(ctx, msg.ID, sendResult.SentAt, sendResult.ExternalID); err != nil {
		// The message went out but the queue record still says revised;
		// flag it failed so a re-run does not double-send silently.
		p.logger.ErrorContext(ctx, "failed to mark message sent",
			"message_id", msg.ID, "external_id", sendResult.ExternalID, "error", err)
		markErr := fmt.Sprintf("sent but status update failed: %v", err)
		p.markFailedBestEffort(ctx, msg.ID, markErr)
		return Result{
			Status:      ResultFailed,
			MessageID:   msg.ID,
			MessageType: string(outbound.Type),
			ExternalID:  sendResult.ExternalID,
			Provider:    sendResult.Provider,
			Recipient:   outbound.Address(),
			Error:       markErr,
		}
	}

	p.logger.InfoContext(ctx, "message dispatched",
		"message_id", msg.ID, "message_type", outbound.Type,
		"provider", sendResult.Provider, "external_id", sendResult.ExternalID)
	return Result{
		Status:      ResultSuccess,
		MessageID:   msg.ID,
		MessageType: string(outbound.Type),
		ExternalID:  sendResult.ExternalID,
		Provider:    sendResult.Provider,
		Recipient:   outbound.Address(),
		Subject:     outbound.Subject,
	}
}

func (p *Processor) markFailedBestEffort(ctx context.Context, id, errorMessage string) {
	if err := p.queue.MarkFailed(ctx, id, errorMessage); err != nil {
		p.logger.ErrorContext(ctx, "failed to mark message failed", "message_id", id, "error", err)
	}
}

func (p *Processor) appendLogBestEffort(ctx context.Context, msg *domain.ScheduledMessage, outbound domain.OutboundMessage, result domain.MessageResult) {
	entry := &domain.MessageLogEntry{
		MessageID:  msg.ID,
		Type:       outbound.Type,
		Recipient:  outbound.Address(),
		Subject:    outbound.Subject,
		Body:       outbound.Body,
		Status:     "sent",
		SentAt:     result.SentAt,
		Provider:   result.Provider,
		ExternalID: result.ExternalID,
	}
	if _, err := p.log.Append(ctx, entry); err != nil {
		p.logger.ErrorContext(ctx, "failed to append message log entry",
			"message_id", msg.ID, "error", err)
	}
}
