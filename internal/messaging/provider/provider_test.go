package provider

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lifecockpit/dispatch/internal/messaging/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// countingTransport records dispatch attempts and can be forced to fail.
type countingTransport struct {
	dispatches int
	failWith   error
	panicPing  bool
	externalID string
}

func (t *countingTransport) Dispatch(_ context.Context, msg domain.OutboundMessage) (string, error) {
	t.dispatches++
	if t.failWith != nil {
		return "", t.failWith
	}
	if t.externalID != "" {
		return t.externalID, nil
	}
	return "ext-1", nil
}

func (t *countingTransport) DeliveryStatus(_ context.Context, _ string) (string, error) {
	return "delivered", nil
}

func (t *countingTransport) Ping(_ context.Context) error {
	if t.panicPing {
		panic("transport exploded")
	}
	return t.failWith
}

func TestGraphSendValidEmail(t *testing.T) {
	transport := &countingTransport{}
	p := NewGraphProviderWithTransport(GraphConfig{}, transport, testLogger())

	msg := domain.NewEmailMessage("m1", "client@example.com", "Your appointment", "See you Tuesday")
	result := p.Send(context.Background(), msg)

	require.True(t, result.Success)
	assert.Equal(t, 1, transport.dispatches)
	assert.Equal(t, "graph", result.Provider)
	assert.Equal(t, "ext-1", result.ExternalID)
	assert.False(t, result.SentAt.IsZero())
	assert.Equal(t, "email", result.Metadata["message_type"])
	assert.Equal(t, "client@example.com", result.Metadata["recipient"])
}

func TestGraphSendInvalidMessageSkipsTransport(t *testing.T) {
	transport := &countingTransport{}
	p := NewGraphProviderWithTransport(GraphConfig{}, transport, testLogger())

	// Email without subject and recipient.
	msg := domain.OutboundMessage{ID: "m1", Type: domain.TypeEmail, Body: "hello"}
	result := p.Send(context.Background(), msg)

	require.False(t, result.Success)
	assert.Equal(t, 0, transport.dispatches, "invalid message must not reach the transport")
	assert.Equal(t, "graph", result.Provider)
	assert.Contains(t, result.ErrorMessage, "missing required fields")
	assert.Contains(t, result.ErrorMessage, "recipient")
	assert.Contains(t, result.ErrorMessage, "subject")
}

func TestGraphSendTransportFailureBecomesFailedResult(t *testing.T) {
	transport := &countingTransport{failWith: errors.New("graph api unavailable")}
	p := NewGraphProviderWithTransport(GraphConfig{}, transport, testLogger())

	msg := domain.NewTeamsMessage("m1", "channel-1", "standup moved")
	result := p.Send(context.Background(), msg)

	require.False(t, result.Success)
	assert.Equal(t, "graph api unavailable", result.ErrorMessage)
	assert.Equal(t, "graph", result.Provider)
}

func TestRespondSendTelegram(t *testing.T) {
	p := NewRespondProvider(RespondConfig{}, testLogger())

	msg := domain.NewTelegramMessage("m1", "chat-42", "reminder")
	result := p.Send(context.Background(), msg)

	require.True(t, result.Success)
	assert.Equal(t, "respond", result.Provider)
	assert.Equal(t, "respond_io", result.Metadata["platform"])
	assert.True(t, strings.HasPrefix(result.ExternalID, "respond_telegram_"),
		"external id %q must carry provider and type", result.ExternalID)
}

func TestSupportsMatrix(t *testing.T) {
	graph := NewGraphProvider(GraphConfig{}, testLogger())
	respond := NewRespondProvider(RespondConfig{}, testLogger())

	assert.True(t, graph.Supports(domain.TypeEmail))
	assert.True(t, graph.Supports(domain.TypeTeams))
	assert.False(t, graph.Supports(domain.TypeSMS))

	assert.True(t, respond.Supports(domain.TypeSMS))
	assert.True(t, respond.Supports(domain.TypeTelegram))
	assert.True(t, respond.Supports(domain.TypeWhatsApp))
	assert.False(t, respond.Supports(domain.TypeEmail))
}

func TestHealthCheckRecoversFromPanic(t *testing.T) {
	transport := &countingTransport{panicPing: true}
	p := NewGraphProviderWithTransport(GraphConfig{}, transport, testLogger())

	assert.False(t, p.HealthCheck(context.Background()))
}

func TestHealthCheckReportsTransportFailure(t *testing.T) {
	transport := &countingTransport{failWith: errors.New("down")}
	p := NewRespondProviderWithTransport(RespondConfig{}, transport, testLogger())

	assert.False(t, p.HealthCheck(context.Background()))
}

func TestValidateMessagePerType(t *testing.T) {
	cases := []struct {
		name    string
		msg     domain.OutboundMessage
		wantErr bool
	}{
		{"valid sms", domain.NewSMSMessage("m1", "+15551234567", "hi"), false},
		{"sms without recipient", domain.OutboundMessage{Type: domain.TypeSMS, Body: "hi"}, true},
		{"valid whatsapp", domain.NewWhatsAppMessage("m1", "+15551234567", "hi"), false},
		{"teams without channel", domain.OutboundMessage{Type: domain.TypeTeams, Body: "hi"}, true},
		{"telegram without chat", domain.OutboundMessage{Type: domain.TypeTelegram, Body: "hi"}, true},
		{"missing body", domain.OutboundMessage{Type: domain.TypeSMS, Recipient: "+15551234567"}, true},
		{"blank body", domain.OutboundMessage{Type: domain.TypeSMS, Recipient: "+15551234567", Body: "   "}, true},
		{"missing type", domain.OutboundMessage{Body: "hi"}, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateMessage(tc.msg)
			if tc.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
