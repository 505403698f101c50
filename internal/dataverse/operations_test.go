package dataverse

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestOperations(serverURL string) *Operations {
	return NewOperations(newTestClient(serverURL, 5, 30*time.Second), testLogger())
}

func TestEntitySetResolvesOnceThenCaches(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.Contains(t, r.URL.Path, "EntityDefinitions(LogicalName='account')")
		w.Write([]byte(`{"EntitySetName":"accounts"}`))
	}))
	defer server.Close()

	ops := newTestOperations(server.URL)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		setName, err := ops.EntitySet(ctx, "account")
		require.NoError(t, err)
		assert.Equal(t, "accounts", setName)
	}
	assert.Equal(t, int32(1), hits.Load(), "resolution must be cached after the first call")
}

func TestEntitySetUnknownEntity(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	ops := newTestOperations(server.URL)
	_, err := ops.EntitySet(context.Background(), "no_such_entity")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestCreateParsesEntityIDHeader(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("OData-EntityId",
			"https://org.crm.dynamics.com/api/data/v9.2/accounts(0e5e1ae9-9999-4444-aaaa-111111111111)")
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	ops := newTestOperations(server.URL)
	id, err := ops.Create(context.Background(), "accounts", Record{"name": "acme"})

	require.NoError(t, err)
	assert.Equal(t, "0e5e1ae9-9999-4444-aaaa-111111111111", id)
}

func TestCreateFallsBackToUnknownID(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	ops := newTestOperations(server.URL)
	id, err := ops.Create(context.Background(), "accounts", Record{"name": "acme"})

	require.NoError(t, err)
	assert.Equal(t, UnknownRecordID, id)
}

func TestQueryRequestsCountAndDefaultTop(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "true", q.Get("$count"))
		assert.Equal(t, "10", q.Get("$top"))
		assert.Equal(t, "statecode eq 0", q.Get("$filter"))
		w.Write([]byte(`{"@odata.count":42,"value":[{"name":"a"},{"name":"b"}]}`))
	}))
	defer server.Close()

	ops := newTestOperations(server.URL)
	result, err := ops.Query(context.Background(), "accounts", QueryOptions{Filter: "statecode eq 0"})

	require.NoError(t, err)
	assert.Equal(t, int64(42), result.Count)
	require.Len(t, result.Records, 2)
	assert.Equal(t, "a", result.Records[0]["name"])
}

func TestCreateNoteBindsRegardingRecord(t *testing.T) {
	var notePayload map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.Contains(r.URL.Path, "EntityDefinitions"):
			w.Write([]byte(`{"EntitySetName":"accounts"}`))
		case strings.HasSuffix(r.URL.Path, "/annotations"):
			body, _ := io.ReadAll(r.Body)
			require.NoError(t, json.Unmarshal(body, &notePayload))
			w.Header().Set("OData-EntityId",
				"https://org.crm.dynamics.com/api/data/v9.2/annotations(aaaa1111-0000-0000-0000-000000000000)")
			w.WriteHeader(http.StatusNoContent)
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer server.Close()

	ops := newTestOperations(server.URL)
	id, err := ops.CreateNote(context.Background(), "account", "rec-123", "subject line", "note body")

	require.NoError(t, err)
	assert.Equal(t, "aaaa1111-0000-0000-0000-000000000000", id)
	assert.Equal(t, "subject line", notePayload["subject"])
	assert.Equal(t, "note body", notePayload["notetext"])
	assert.Equal(t, "/accounts(rec-123)", notePayload["objectid_account@odata.bind"])
}

func TestWhoAmI(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/WhoAmI"))
		w.Write([]byte(`{"UserId":"u1","BusinessUnitId":"b1","OrganizationId":"o1"}`))
	}))
	defer server.Close()

	ops := newTestOperations(server.URL)
	id, err := ops.WhoAmI(context.Background())

	require.NoError(t, err)
	assert.Equal(t, "u1", id.UserID)
	assert.Equal(t, "b1", id.BusinessUnitID)
	assert.Equal(t, "o1", id.OrganizationID)
}

func TestParseEntityID(t *testing.T) {
	cases := []struct {
		header string
		want   string
	}{
		{"https://org.crm.dynamics.com/api/data/v9.2/accounts(abc-123)", "abc-123"},
		{"accounts(abc-123)", "abc-123"},
		{"", UnknownRecordID},
		{"no-parens-at-all", UnknownRecordID},
		{"unbalanced)", UnknownRecordID},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, parseEntityID(tc.header), "header %q", tc.header)
	}
}
