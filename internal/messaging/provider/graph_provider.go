package provider

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/lifecockpit/dispatch/internal/messaging/domain"
)

// GraphConfig carries the app registration used against the Graph API.
type GraphConfig struct {
	TenantID     string
	ClientID     string
	ClientSecret string
}

// GraphProvider delivers email and Teams messages through a Microsoft
// Graph-style API.
type GraphProvider struct {
	cfg       GraphConfig
	transport Transport
	logger    *slog.Logger
}

// NewGraphProvider builds the provider with the in-repo mock transport.
func NewGraphProvider(cfg GraphConfig, logger *slog.Logger) *GraphProvider {
	return NewGraphProviderWithTransport(cfg, newMockTransport("graph"), logger)
}

// NewGraphProviderWithTransport injects a transport; production wiring and
// tests use this.
func NewGraphProviderWithTransport(cfg GraphConfig, transport Transport, logger *slog.Logger) *GraphProvider {
	return &GraphProvider{
		cfg:       cfg,
		transport: transport,
		logger:    logger.With("provider", "graph"),
	}
}

func (p *GraphProvider) Name() string { return "graph" }

func (p *GraphProvider) Supports(t domain.MessageType) bool {
	return t == domain.TypeEmail || t == domain.TypeTeams
}

func (p *GraphProvider) Send(ctx context.Context, msg domain.OutboundMessage) domain.MessageResult {
	if err := ValidateMessage(msg); err != nil {
		p.logger.ErrorContext(ctx, "message validation failed",
			"message_type", msg.Type, "message_id", msg.ID, "error", err)
		return domain.FailedResult(p.Name(), err.Error())
	}

	externalID, err := p.transport.Dispatch(ctx, msg)
	if err != nil {
		p.logger.ErrorContext(ctx, "graph dispatch failed",
			"message_type", msg.Type, "message_id", msg.ID, "error", err)
		return domain.FailedResult(p.Name(), err.Error())
	}

	p.logger.InfoContext(ctx, "message sent via graph",
		"message_type", msg.Type, "to", msg.Address(), "external_id", externalID)

	return domain.MessageResult{
		Success:    true,
		ExternalID: externalID,
		Provider:   p.Name(),
		SentAt:     time.Now().UTC(),
		Metadata: map[string]string{
			"message_type": string(msg.Type),
			"recipient":    msg.Address(),
		},
	}
}

func (p *GraphProvider) Status(ctx context.Context, externalID string) domain.MessageResult {
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

func (p *GraphProvider) HealthCheck(ctx context.Context) (healthy bool) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.ErrorContext(ctx, "graph health check panicked", "panic", r)
			healthy = false
		}
	}()
	if err := p.transport.Ping(ctx); err != nil {
		p.logger.ErrorContext(ctx, "graph health check failed", "error", err)
		return false
	}
	return true
}
