package domain

import (
	"fmt"
	"time"
)

// MessageType identifies the outbound channel. The recipient semantics vary
// by type: email address, phone number, chat id or channel id.
type MessageType string

const (
	TypeEmail    MessageType = "email"
	TypeSMS      MessageType = "sms"
	TypeTeams    MessageType = "teams"
	TypeTelegram MessageType = "telegram"
	TypeWhatsApp MessageType = "whatsapp"
)

// CandidateTypes is the fixed set of message types the system routes.
func CandidateTypes() []MessageType {
	return []MessageType{TypeEmail, TypeSMS, TypeTeams, TypeTelegram, TypeWhatsApp}
}

// ErrUnknownMessageType marks a queue record whose type no channel maps to.
type ErrUnknownMessageType struct {
	Type MessageType
}

func (e *ErrUnknownMessageType) Error() string {
	return fmt.Sprintf("unknown message type: %s", e.Type)
}

// OutboundMessage is the canonical dispatch shape handed to providers. Only
// the fields matching Type are populated; constructors cover the common
// cases so callers get the required fields checked at the call site.
type OutboundMessage struct {
	// ID is the originating queue record's message id, carried for tracking.
	ID   string
	Type MessageType
	Body string

	// Recipient is the address for email, sms and whatsapp.
	Recipient string
	// Subject applies to email only.
	Subject string
	// ChannelID applies to teams only.
	ChannelID string
	// ChatID applies to telegram only.
	ChatID string
}

func NewEmailMessage(id, recipient, subject, body string) OutboundMessage {
	return OutboundMessage{ID: id, Type: TypeEmail, Recipient: recipient, Subject: subject, Body: body}
}

func NewSMSMessage(id, recipient, body string) OutboundMessage {
	return OutboundMessage{ID: id, Type: TypeSMS, Recipient: recipient, Body: body}
}

func NewTeamsMessage(id, channelID, body string) OutboundMessage {
	return OutboundMessage{ID: id, Type: TypeTeams, ChannelID: channelID, Body: body}
}

func NewTelegramMessage(id, chatID, body string) OutboundMessage {
	return OutboundMessage{ID: id, Type: TypeTelegram, ChatID: chatID, Body: body}
}

func NewWhatsAppMessage(id, recipient, body string) OutboundMessage {
	return OutboundMessage{ID: id, Type: TypeWhatsApp, Recipient: recipient, Body: body}
}

// Address returns the type-specific recipient identifier, whichever field
// carries it.
func (m OutboundMessage) Address() string {
	switch m.Type {
	case TypeTeams:
		return m.ChannelID
	case TypeTelegram:
		return m.ChatID
	default:
		return m.Recipient
	}
}

// MessageResult is the sole vehicle for reporting a dispatch outcome up the
// call chain. Providers and the factory return it in place of errors so a
// single bad message cannot abort a batch.
type MessageResult struct {
	Success      bool
	ExternalID   string
	Provider     string
	SentAt       time.Time
	ErrorMessage string
	Metadata     map[string]string
}

// FailedResult builds the failure shape providers return for validation,
// routing and dispatch errors.
func FailedResult(providerName, errorMessage string) MessageResult {
	return MessageResult{
		Success:      false,
		Provider:     providerName,
		ErrorMessage: errorMessage,
	}
}
