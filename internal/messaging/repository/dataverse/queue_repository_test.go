package dataverse

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lifecockpit/dispatch/internal/auth"
	dv "github.com/lifecockpit/dispatch/internal/dataverse"
	"github.com/lifecockpit/dispatch/internal/messaging/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestOps(serverURL string) *dv.Operations {
	retry := dv.DefaultRetryPolicy()
	retry.Sleep = func(time.Duration) {}
	client := dv.NewClient(dv.ClientConfig{BaseURL: serverURL, Retry: retry},
		auth.StaticTokenProvider{Value: "t"}, testLogger())
	return dv.NewOperations(client, testLogger())
}

func TestDueMessagesQueryShape(t *testing.T) {
	var gotQuery map[string]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.Contains(r.URL.Path, "EntityDefinitions"):
			w.Write([]byte(`{"EntitySetName":"cre92_scheduledmessages"}`))
		case strings.HasSuffix(r.URL.Path, "/cre92_scheduledmessages"):
			gotQuery = map[string]string{
				"$filter":  r.URL.Query().Get("$filter"),
				"$orderby": r.URL.Query().Get("$orderby"),
				"$top":     r.URL.Query().Get("$top"),
				"$count":   r.URL.Query().Get("$count"),
			}
			w.Write([]byte(`{"@odata.count":1,"value":[{
				"cre92_scheduledmessageid":"m1",
				"cre92_messagetype":"email",
				"cre92_email":"a@example.com",
				"cre92_messagesubject":"s",
				"cre92_messagetext":"b",
				"cre92_scheduledon":"2026-08-30T10:00:00Z",
				"cre92_messagestatus":"revised"
			}]}`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer server.Close()

	repo := NewQueueRepository(newTestOps(server.URL), testLogger())
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)

	msgs, err := repo.DueMessages(context.Background(), now, 50)
	require.NoError(t, err)

	assert.Equal(t, "cre92_messagestatus eq 'revised' and cre92_scheduledon le 2026-08-30T12:00:00Z",
		gotQuery["$filter"])
	assert.Equal(t, "cre92_scheduledon asc", gotQuery["$orderby"])
	assert.Equal(t, "50", gotQuery["$top"])
	assert.Equal(t, "true", gotQuery["$count"])

	require.Len(t, msgs, 1)
	msg := msgs[0]
	assert.Equal(t, "m1", msg.ID)
	assert.Equal(t, domain.TypeEmail, msg.Type)
	assert.Equal(t, "a@example.com", msg.Email)
	assert.Equal(t, domain.StatusRevised, msg.Status)
	assert.Equal(t, time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC), msg.ScheduledOn)
}

func TestMarkSentPayload(t *testing.T) {
	var payload map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.Contains(r.URL.Path, "EntityDefinitions"):
			w.Write([]byte(`{"EntitySetName":"cre92_scheduledmessages"}`))
		case r.Method == http.MethodPatch:
			assert.Contains(t, r.URL.Path, "cre92_scheduledmessages(m1)")
			body, _ := io.ReadAll(r.Body)
			require.NoError(t, json.Unmarshal(body, &payload))
			w.WriteHeader(http.StatusNoContent)
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
	}))
	defer server.Close()

	repo := NewQueueRepository(newTestOps(server.URL), testLogger())
	sentAt := time.Date(2026, 8, 30, 12, 30, 0, 0, time.UTC)

	require.NoError(t, repo.MarkSent(context.Background(), "m1", sentAt, "ext-7"))

	assert.Equal(t, "sent", payload["cre92_messagestatus"])
	assert.Equal(t, "2026-08-30T12:30:00Z", payload["cre92_sentat"])
	assert.Equal(t, "ext-7", payload["cre92_externalid"])
}

func TestMarkFailedPayload(t *testing.T) {
	var payload map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.Contains(r.URL.Path, "EntityDefinitions"):
			w.Write([]byte(`{"EntitySetName":"cre92_scheduledmessages"}`))
		case r.Method == http.MethodPatch:
			body, _ := io.ReadAll(r.Body)
			require.NoError(t, json.Unmarshal(body, &payload))
			w.WriteHeader(http.StatusNoContent)
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
	}))
	defer server.Close()

	repo := NewQueueRepository(newTestOps(server.URL), testLogger())
	require.NoError(t, repo.MarkFailed(context.Background(), "m1", "no provider"))

	assert.Equal(t, "failed", payload["cre92_messagestatus"])
	assert.Equal(t, "no provider", payload["cre92_errormessage"])
}

func TestMessageLogAppend(t *testing.T) {
	var payload map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.Contains(r.URL.Path, "EntityDefinitions"):
			w.Write([]byte(`{"EntitySetName":"cre92_messagelogs"}`))
		case r.Method == http.MethodPost:
			assert.Contains(t, r.URL.Path, "cre92_messagelogs")
			body, _ := io.ReadAll(r.Body)
			require.NoError(t, json.Unmarshal(body, &payload))
			w.Header().Set("OData-EntityId", "https://org/api/data/v9.2/cre92_messagelogs(log-1)")
			w.WriteHeader(http.StatusNoContent)
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
	}))
	defer server.Close()

	repo := NewMessageLogRepository(newTestOps(server.URL), testLogger())
	id, err := repo.Append(context.Background(), &domain.MessageLogEntry{
		MessageID:  "m1",
		Type:       domain.TypeEmail,
		Recipient:  "a@example.com",
		Status:     "sent",
		SentAt:     time.Date(2026, 8, 30, 12, 30, 0, 0, time.UTC),
		Provider:   "graph",
		ExternalID: "ext-7",
	})

	require.NoError(t, err)
	assert.Equal(t, "log-1", id)
	assert.Equal(t, "m1", payload["cre92_messageid"])
	assert.Equal(t, "email", payload["cre92_messagetype"])
	assert.Equal(t, "graph", payload["cre92_provider"])
	assert.Equal(t, "ext-7", payload["cre92_externalid"])
	assert.NotContains(t, payload, "cre92_errortext", "empty error must be omitted")
}
