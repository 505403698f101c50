package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/lifecockpit/dispatch/internal/messaging/domain"
	"github.com/lifecockpit/dispatch/internal/messaging/provider"
)

// Factory owns the provider registry and routes each outgoing message to
// exactly one provider. Registration order is significant: when two
// providers support the same type, the first registered wins, so construct
// providers in a fixed order (graph before respond).
type Factory struct {
	logger *slog.Logger

	mu        sync.Mutex
	order     []string
	providers map[string]provider.Provider
}

// NewFactory registers the given providers in argument order.
func NewFactory(logger *slog.Logger, providers ...provider.Provider) *Factory {
	f := &Factory{
		logger:    logger.With("component", "messaging_factory"),
		providers: make(map[string]provider.Provider),
	}
	for _, p := range providers {
		f.Add(p.Name(), p)
	}
	f.logger.Info("messaging factory initialized", "providers", len(f.providers))
	return f
}

// Route returns the first registered provider supporting the type, or nil.
func (f *Factory) Route(t domain.MessageType) provider.Provider {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, name := range f.order {
		if p := f.providers[name]; p.Supports(t) {
			return p
		}
	}
	return nil
}

// Send routes the message and delegates to the matched provider. Routing
// failures are reported as failed results, distinct from provider failures
// which carry the provider's name.
func (f *Factory) Send(ctx context.Context, msg domain.OutboundMessage) domain.MessageResult {
	if msg.Type == "" {
		return domain.FailedResult("", "message type is required")
	}

	p := f.Route(msg.Type)
	if p == nil {
		f.logger.ErrorContext(ctx, "no provider for message type", "message_type", msg.Type)
		return domain.FailedResult("", fmt.Sprintf("no provider available for message type: %s", msg.Type))
	}

	f.logger.InfoContext(ctx, "routing message",
		"message_type", msg.Type, "provider", p.Name(), "message_id", msg.ID)
	return p.Send(ctx, msg)
}

// Status queries delivery state from a specific provider by name.
func (f *Factory) Status(ctx context.Context, externalID, providerName string) domain.MessageResult {
	f.mu.Lock()
	p, ok := f.providers[providerName]
	f.mu.Unlock()
	if !ok {
		return domain.FailedResult("", fmt.Sprintf("provider not found: %s", providerName))
	}
	return p.Status(ctx, externalID)
}

// HealthCheckAll probes every provider independently; one provider's panic
// or failure never prevents the others from being checked.
func (f *Factory) HealthCheckAll(ctx context.Context) map[string]bool {
	f.mu.Lock()
	names := make([]string, len(f.order))
	copy(names, f.order)
	provs := make(map[string]provider.Provider, len(f.providers))
	for name, p := range f.providers {
		provs[name] = p
	}
	f.mu.Unlock()

	health := make(map[string]bool, len(names))
	for _, name := range names {
		health[name] = f.checkOne(ctx, name, provs[name])
	}
	return health
}

func (f *Factory) checkOne(ctx context.Context, name string, p provider.Provider) (healthy bool) {
	defer func() {
		if r := recover(); r != nil {
			f.logger.ErrorContext(ctx, "health check panicked", "provider", name, "panic", r)
			healthy = false
		}
	}()
	return p.HealthCheck(ctx)
}

// SupportedTypes reports, per provider, which of the candidate types it
// accepts.
func (f *Factory) SupportedTypes() map[string][]domain.MessageType {
	f.mu.Lock()
	defer f.mu.Unlock()

	supported := make(map[string][]domain.MessageType, len(f.providers))
	for _, name := range f.order {
		p := f.providers[name]
		var types []domain.MessageType
		for _, t := range domain.CandidateTypes() {
			if p.Supports(t) {
				types = append(types, t)
			}
		}
		supported[name] = types
	}
	return supported
}

// Add registers a provider, replacing any existing one under the same name
// (last write wins; the original registration position is kept).
func (f *Factory) Add(name string, p provider.Provider) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.providers[name]; !exists {
		f.order = append(f.order, name)
	}
	f.providers[name] = p
	f.logger.Info("provider registered", "provider", name)
}

// Remove unregisters a provider. Removing an absent name is a no-op with a
// warning.
func (f *Factory) Remove(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.providers[name]; !exists {
		f.logger.Warn("provider not found", "provider", name)
		return
	}
	delete(f.providers, name)
	for i, n := range f.order {
		if n == name {
			f.order = append(f.order[:i], f.order[i+1:]...)
			break
		}
	}
	f.logger.Info("provider removed", "provider", name)
}

// Providers lists registered provider names in registration order.
func (f *Factory) Providers() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	names := make([]string, len(f.order))
	copy(names, f.order)
	return names
}
