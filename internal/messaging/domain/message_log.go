package domain

import "time"

// MessageLogEntry is one append-only audit row recording a terminal dispatch
// attempt. Entries are written once and never updated or deleted.
type MessageLogEntry struct {
	ID         string
	MessageID  string
	Type       MessageType
	Recipient  string
	Subject    string
	Body       string
	Status     string
	SentAt     time.Time
	Provider   string
	ExternalID string
	ErrorText  string
}
