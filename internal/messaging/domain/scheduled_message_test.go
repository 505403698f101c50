package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToOutboundMapsRecipientByType(t *testing.T) {
	base := ScheduledMessage{
		ID:          "m1",
		Email:       "a@example.com",
		PhoneNumber: "+15550001111",
		TelegramID:  "tg-1",
		WhatsAppID:  "wa-1",
		ChannelID:   "ch-1",
		Subject:     "subj",
		Body:        "body",
	}

	cases := []struct {
		msgType     MessageType
		wantAddress string
	}{
		{TypeEmail, "a@example.com"},
		{TypeSMS, "+15550001111"},
		{TypeTelegram, "tg-1"},
		{TypeWhatsApp, "wa-1"},
		{TypeTeams, "ch-1"},
	}

	for _, tc := range cases {
		msg := base
		msg.Type = tc.msgType
		out, err := msg.ToOutbound()
		require.NoError(t, err, "type %s", tc.msgType)
		assert.Equal(t, tc.msgType, out.Type)
		assert.Equal(t, tc.wantAddress, out.Address(), "type %s", tc.msgType)
		assert.Equal(t, "m1", out.ID)
		assert.Equal(t, "body", out.Body)
	}
}

func TestToOutboundEmptyTypeDefaultsToEmail(t *testing.T) {
	msg := ScheduledMessage{ID: "m1", Email: "a@example.com", Subject: "s", Body: "b"}
	out, err := msg.ToOutbound()
	require.NoError(t, err)
	assert.Equal(t, TypeEmail, out.Type)
	assert.Equal(t, "a@example.com", out.Recipient)
}

func TestToOutboundUnknownType(t *testing.T) {
	msg := ScheduledMessage{ID: "m1", Type: MessageType("pager"), Body: "b"}
	_, err := msg.ToOutbound()
	require.Error(t, err)

	var unknownErr *ErrUnknownMessageType
	require.ErrorAs(t, err, &unknownErr)
	assert.Equal(t, MessageType("pager"), unknownErr.Type)
}

func TestRecipientHint(t *testing.T) {
	assert.Equal(t, "a@example.com", (&ScheduledMessage{Email: "a@example.com", PhoneNumber: "+1555"}).RecipientHint())
	assert.Equal(t, "+1555", (&ScheduledMessage{PhoneNumber: "+1555"}).RecipientHint())
	assert.Equal(t, "", (&ScheduledMessage{}).RecipientHint())
}
