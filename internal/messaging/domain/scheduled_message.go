package domain

import "time"

// MessageStatus is the queue record lifecycle. Transitions are one-way:
// revised to sent, or revised to failed. A record that left revised is never
// picked up again by the pending filter.
type MessageStatus string

const (
	StatusRevised MessageStatus = "revised"
	StatusSent    MessageStatus = "sent"
	StatusFailed  MessageStatus = "failed"
)

// ScheduledMessage is one row of the Dataverse queue table. Records are
// created by the upstream business process; this service only flips their
// status, it never deletes them.
type ScheduledMessage struct {
	ID         string
	SessionID  string
	ClientName string
	Type       MessageType

	// Recipient identifiers; which one applies depends on Type.
	Email       string
	PhoneNumber string
	TelegramID  string
	WhatsAppID  string
	ChannelID   string

	Subject     string
	Body        string
	ScheduledOn time.Time
	Status      MessageStatus
	SentAt      *time.Time
	ExternalID  string
	ErrorText   string
}

// ToOutbound converts the stored record into the canonical dispatch shape,
// mapping the type-specific recipient field. A type no channel maps to is a
// conversion error; the caller records it against just that message. An
// empty type is treated as email, matching how the queue was populated
// before the type column existed.
func (m *ScheduledMessage) ToOutbound() (OutboundMessage, error) {
	msgType := m.Type
	if msgType == "" {
		msgType = TypeEmail
	}

	switch msgType {
	case TypeEmail:
		return NewEmailMessage(m.ID, m.Email, m.Subject, m.Body), nil
	case TypeSMS:
		return NewSMSMessage(m.ID, m.PhoneNumber, m.Body), nil
	case TypeTeams:
		return NewTeamsMessage(m.ID, m.ChannelID, m.Body), nil
	case TypeTelegram:
		return NewTelegramMessage(m.ID, m.TelegramID, m.Body), nil
	case TypeWhatsApp:
		return NewWhatsAppMessage(m.ID, m.WhatsAppID, m.Body), nil
	default:
		return OutboundMessage{}, &ErrUnknownMessageType{Type: msgType}
	}
}

// RecipientHint returns whichever recipient field is populated, for audit
// logging when the type is unknown or the message never dispatched.
func (m *ScheduledMessage) RecipientHint() string {
	for _, v := range []string{m.Email, m.PhoneNumber, m.TelegramID, m.WhatsAppID, m.ChannelID} {
		if v != "" {
			return v
		}
	}
	return ""
}
