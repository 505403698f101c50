package provider

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/lifecockpit/dispatch/internal/messaging/domain"
)

// RespondConfig carries the workspace credentials for the Respond-style API.
type RespondConfig struct {
	APIKey      string
	WorkspaceID string
	BaseURL     string
}

// RespondProvider delivers telegram, sms and whatsapp messages through a
// Respond.io-style API.
type RespondProvider struct {
	cfg       RespondConfig
	transport Transport
	logger    *slog.Logger
}

func NewRespondProvider(cfg RespondConfig, logger *slog.Logger) *RespondProvider {
	return NewRespondProviderWithTransport(cfg, newMockTransport("respond"), logger)
}

func NewRespondProviderWithTransport(cfg RespondConfig, transport Transport, logger *slog.Logger) *RespondProvider {
	return &RespondProvider{
		cfg:       cfg,
		transport: transport,
		logger:    logger.With("provider", "respond"),
	}
}

func (p *RespondProvider) Name() string { return "respond" }

func (p *RespondProvider) Supports(t domain.MessageType) bool {
	switch t {
	case domain.TypeTelegram, domain.TypeSMS, domain.TypeWhatsApp:
		return true
	default:
		return false
	}
}

func (p *RespondProvider) Send(ctx context.Context, msg domain.OutboundMessage) domain.MessageResult {
	if err := ValidateMessage(msg); err != nil {
		p.logger.ErrorContext(ctx, "message validation failed",
			"message_type", msg.Type, "message_id", msg.ID, "error", err)
		return domain.FailedResult(p.Name(), err.Error())
	}

	externalID, err := p.transport.Dispatch(ctx, msg)
	if err != nil {
		p.logger.ErrorContext(ctx, "respond dispatch failed",
			"message_type", msg.Type, "message_id", msg.ID, "error", err)
		return domain.FailedResult(p.Name(), err.Error())
	}

	p.logger.InfoContext(ctx, "message sent via respond",
		"message_type", msg.Type, "to", msg.Address(), "external_id", externalID)

	return domain.MessageResult{
		Success:    true,
		ExternalID: externalID,
		Provider:   p.Name(),
		SentAt:     time.Now().UTC(),
		Metadata: map[string]string{
			"message_type": string(msg.Type),
			"recipient":    msg.Address(),
			"platform":     "respond_io",
		},
	}
}

func (p *RespondProvider) Status(ctx context.Context, externalID string) domain.MessageResult {
	state, err := p.transport.DeliveryStatus(ctx, externalID)
	if err != nil {
		return domain.FailedResult(p.Name(), fmt.Sprintf("status lookup failed: %v", err))
	}
	return domain.MessageResult{
		Success:    true,
		ExternalID: externalID,
		Provider:   p.Name(),
		Metadata:   map[string]string{"status": state},
	}
}

func (p *RespondProvider) HealthCheck(ctx context.Context) (healthy bool) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.ErrorContext(ctx, "respond health check panicked", "panic", r)
			healthy = false
		}
	}()
	if err := p.transport.Ping(ctx); err != nil {
		p.logger.ErrorContext(ctx, "respond health check failed", "error", err)
		return false
	}
	return true
}
