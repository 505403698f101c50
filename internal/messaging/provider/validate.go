package provider

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/lifecockpit/dispatch/internal/messaging/domain"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterStructValidation(outboundMessageValidation, domain.OutboundMessage{})
	return v
}

// outboundMessageValidation enforces the per-type required fields:
// every message needs a type and body; email additionally needs recipient
// and subject, sms/whatsapp a recipient, teams a channel id, telegram a
// chat id.
func outboundMessageValidation(sl validator.StructLevel) {
	msg := sl.Current().Interface().(domain.OutboundMessage)

	if msg.Type == "" {
		sl.ReportError(msg.Type, "message_type", "Type", "required", "")
	}
	if strings.TrimSpace(msg.Body) == "" {
		sl.ReportError(msg.Body, "body", "Body", "required", "")
	}

	switch msg.Type {
	case domain.TypeEmail:
		if msg.Recipient == "" {
			sl.ReportError(msg.Recipient, "recipient", "Recipient", "required", "")
		}
		if msg.Subject == "" {
			sl.ReportError(msg.Subject, "subject", "Subject", "required", "")
		}
	case domain.TypeSMS, domain.TypeWhatsApp:
		if msg.Recipient == "" {
			sl.ReportError(msg.Recipient, "recipient", "Recipient", "required", "")
		}
	case domain.TypeTeams:
		if msg.ChannelID == "" {
			sl.ReportError(msg.ChannelID, "channel_id", "ChannelID", "required", "")
		}
	case domain.TypeTelegram:
		if msg.ChatID == "" {
			sl.ReportError(msg.ChatID, "chat_id", "ChatID", "required", "")
		}
	}
}

// ValidateMessage reports the missing required fields for the message's
// type, or nil when the message is dispatchable.
func ValidateMessage(msg domain.OutboundMessage) error {
	err := validate.Struct(msg)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}

	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fe.Field())
	}
	return fmt.Errorf("message validation failed: missing required fields: %s", strings.Join(fields, ", "))
}
