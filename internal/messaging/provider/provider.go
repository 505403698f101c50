package provider

import (
	"context"
	"fmt"
	"time"

	"github.com/lifecockpit/dispatch/internal/messaging/domain"
)

// Provider is a concrete messaging backend capable of delivering one or more
// message types. Send and Status report every anticipated failure through
// the MessageResult, never through an error return; the factory and the
// processor rely on result-based propagation for per-message isolation.
type Provider interface {
	Name() string
	// Supports is a pure predicate over the message type.
	Supports(t domain.MessageType) bool
	// Send validates the message first; an invalid message yields a failed
	// result without any transport call. Transport failures are absorbed
	// into a failed result.
	Send(ctx context.Context, msg domain.OutboundMessage) domain.MessageResult
	// Status queries delivery state for a previously returned external id.
	// Best-effort.
	Status(ctx context.Context, externalID string) domain.MessageResult
	// HealthCheck probes liveness. It reports false on any failure and
	// never panics through.
	HealthCheck(ctx context.Context) bool
}

// Transport performs the vendor-side dispatch for a provider. The in-repo
// implementation is a deterministic mock; a production deployment swaps in
// the real vendor client behind the same interface.
type Transport interface {
	Dispatch(ctx context.Context, msg domain.OutboundMessage) (externalID string, err error)
	DeliveryStatus(ctx context.Context, externalID string) (string, error)
	Ping(ctx context.Context) error
}

// mockTransport simulates successful vendor dispatch. External ids keep the
// provider_type_timestamp placeholder shape; a real transport must return
// the vendor's actual id instead.
type mockTransport struct {
	prefix string
	now    func() time.Time
}

func newMockTransport(prefix string) *mockTransport {
	return &mockTransport{prefix: prefix, now: time.Now}
}

func (t *mockTransport) Dispatch(_ context.Context, msg domain.OutboundMessage) (string, error) {
	return fmt.Sprintf("%s_%s_%d", t.prefix, msg.Type, t.now().UnixNano()), nil
}

func (t *mockTransport) DeliveryStatus(_ context.Context, _ string) (string, error) {
	return "delivered", nil
}

func (t *mockTransport) Ping(_ context.Context) error {
	return nil
}
