// Package sandbox is the in-memory stand-in for the Dataverse queue and
// audit tables. It implements the same repository interfaces the processor
// consumes, so local runs and tests exercise the full pipeline without
// touching a real environment.
package sandbox

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lifecockpit/dispatch/internal/messaging/domain"
)

// Store holds scheduled messages and log entries in memory. Safe for
// concurrent use.
type Store struct {
	logger *slog.Logger

	mu       sync.Mutex
	messages map[string]*domain.ScheduledMessage
	logs     []*domain.MessageLogEntry
}

func NewStore(logger *slog.Logger) *Store {
	return &Store{
		logger:   logger.With("component", "sandbox"),
		messages: make(map[string]*domain.ScheduledMessage),
	}
}

// SeedMessage inserts a queue record, assigning an id when absent, and
// returns the id.
func (s *Store) SeedMessage(msg *domain.ScheduledMessage) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Status == "" {
		msg.Status = domain.StatusRevised
	}
	clone := *msg
	s.messages[msg.ID] = &clone
	return msg.ID
}

// DueMessages implements repository.QueueRepository.
func (s *Store) DueMessages(_ context.Context, now time.Time, limit int) ([]*domain.ScheduledMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []*domain.ScheduledMessage
	for _, msg := range s.messages {
		if msg.Status == domain.StatusRevised && !msg.ScheduledOn.After(now) {
			clone := *msg
			due = append(due, &clone)
		}
	}
	// Earliest due first; id as the stable tie-break.
	sort.Slice(due, func(i, j int) bool {
		if due[i].ScheduledOn.Equal(due[j].ScheduledOn) {
			return due[i].ID < due[j].ID
		}
		return due[i].ScheduledOn.Before(due[j].ScheduledOn)
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

// MarkSent implements repository.QueueRepository.
func (s *Store) MarkSent(_ context.Context, id string, sentAt time.Time, externalID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, ok := s.messages[id]
	if !ok {
		return fmt.Errorf("scheduled message %s not found", id)
	}
	msg.Status = domain.StatusSent
	t := sentAt
	msg.SentAt = &t
	msg.ExternalID = externalID
	return nil
}

// MarkFailed implements repository.QueueRepository.
func (s *Store) MarkFailed(_ context.Context, id string, errorMessage string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, ok := s.messages[id]
	if !ok {
		return fmt.Errorf("scheduled message %s not found", id)
	}
	msg.Status = domain.StatusFailed
	msg.ErrorText = errorMessage
	return nil
}

// Append implements repository.MessageLogRepository.
func (s *Store) Append(_ context.Context, entry *domain.MessageLogEntry) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	clone := *entry
	if clone.ID == "" {
		clone.ID = uuid.NewString()
	}
	s.logs = append(s.logs, &clone)
	return clone.ID, nil
}

// Message returns a copy of one queue record.
func (s *Store) Message(id string) (*domain.ScheduledMessage, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.messages[id]
	if !ok {
		return nil, false
	}
	clone := *msg
	return &clone, true
}

// Logs returns a snapshot of the audit entries in append order.
func (s *Store) Logs() []*domain.MessageLogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*domain.MessageLogEntry, len(s.logs))
	for i, e := range s.logs {
		clone := *e
		out[i] = &clone
	}
	return out
}

// Reset drops all data.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = make(map[string]*domain.ScheduledMessage)
	s.logs = nil
	s.logger.Info("sandbox store reset")
}
