package dataverse

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
)

// UnknownRecordID is returned when a create succeeds but the response lacks
// a parseable OData-EntityId header. Callers must treat it as a
// non-fatal-but-suspect id: the record exists, its id is unknown.
const UnknownRecordID = "unknown"

// Record is one Dataverse row as returned by the Web API.
type Record map[string]any

// Identity is the WhoAmI response.
type Identity struct {
	UserID         string `json:"UserId"`
	BusinessUnitID string `json:"BusinessUnitId"`
	OrganizationID string `json:"OrganizationId"`
}

// EntityInfo is a summarized entity definition.
type EntityInfo struct {
	LogicalName string
	DisplayName string
	Description string
	IsCustom    bool
}

// QueryOptions shape an OData collection query.
type QueryOptions struct {
	Filter  string
	Select  string
	OrderBy string
	Top     int
}

// QueryResult carries the matched records plus the server-side count.
type QueryResult struct {
	Records []Record
	Count   int64
}

// GetOptions shape a single-record fetch.
type GetOptions struct {
	Select string
	Expand string
}

// Operations provides typed CRUD/query access over the resilient client.
// Entity set name resolutions are cached for the process lifetime and never
// invalidated; logical names do not change underneath a running service.
type Operations struct {
	client *Client
	logger *slog.Logger

	mu         sync.Mutex
	entitySets map[string]string
}

func NewOperations(client *Client, logger *slog.Logger) *Operations {
	return &Operations{
		client:     client,
		logger:     logger.With("component", "dataverse_ops"),
		entitySets: make(map[string]string),
	}
}

// WhoAmI returns the identity the calls execute as.
func (o *Operations) WhoAmI(ctx context.Context, opts ...CallOption) (*Identity, error) {
	resp, err := o.client.Do(ctx, http.MethodGet, "/WhoAmI", nil, nil, opts...)
	if err != nil {
		return nil, err
	}
	var id Identity
	if err := resp.JSON(&id); err != nil {
		return nil, fmt.Errorf("decode WhoAmI response: %w", err)
	}
	return &id, nil
}

// EntitySet resolves a logical name to its addressable collection name,
// hitting the metadata endpoint only on the first resolution.
func (o *Operations) EntitySet(ctx context.Context, logicalName string) (string, error) {
	o.mu.Lock()
	cached, ok := o.entitySets[logicalName]
	o.mu.Unlock()
	if ok {
		return cached, nil
	}

	query := url.Values{"$select": {"EntitySetName,PrimaryIdAttribute,PrimaryNameAttribute"}}
	path := fmt.Sprintf("/EntityDefinitions(LogicalName='%s')", logicalName)
	resp, err := o.client.Do(ctx, http.MethodGet, path, query, nil)
	if err != nil {
		var se *StatusError
		if errors.As(err, &se) && se.StatusCode == http.StatusNotFound {
			return "", fmt.Errorf("entity %q: %w", logicalName, ErrNotFound)
		}
		return "", err
	}

	var def struct {
		EntitySetName string `json:"EntitySetName"`
	}
	if err := resp.JSON(&def); err != nil {
		return "", fmt.Errorf("decode entity definition for %q: %w", logicalName, err)
	}
	if def.EntitySetName == "" {
		return "", fmt.Errorf("entity %q has no EntitySetName: %w", logicalName, ErrNotFound)
	}

	o.mu.Lock()
	o.entitySets[logicalName] = def.EntitySetName
	o.mu.Unlock()
	return def.EntitySetName, nil
}

// Get fetches one record by id with optional field selection and expansion.
func (o *Operations) Get(ctx context.Context, entitySet, id string, get GetOptions, opts ...CallOption) (Record, error) {
	query := url.Values{}
	if get.Select != "" {
		query.Set("$select", get.Select)
	}
	if get.Expand != "" {
		query.Set("$expand", get.Expand)
	}

	resp, err := o.client.Do(ctx, http.MethodGet, fmt.Sprintf("/%s(%s)", entitySet, id), query, nil, opts...)
	if err != nil {
		var se *StatusError
		if errors.As(err, &se) && se.StatusCode == http.StatusNotFound {
			return nil, fmt.Errorf("%s(%s): %w", entitySet, id, ErrNotFound)
		}
		return nil, err
	}

	var rec Record
	if err := resp.JSON(&rec); err != nil {
		return nil, fmt.Errorf("decode record %s(%s): %w", entitySet, id, err)
	}
	return rec, nil
}

// Query runs a filtered collection query. $count=true is always requested so
// the result carries the server-side total alongside the page.
func (o *Operations) Query(ctx context.Context, entitySet string, q QueryOptions, opts ...CallOption) (*QueryResult, error) {
	top := q.Top
	if top <= 0 {
		top = 10
	}
	query := url.Values{
		"$top":   {strconv.Itoa(top)},
		"$count": {"true"},
	}
	if q.Filter != "" {
		query.Set("$filter", q.Filter)
	}
	if q.Select != "" {
		query.Set("$select", q.Select)
	}
	if q.OrderBy != "" {
		query.Set("$orderby", q.OrderBy)
	}

	resp, err := o.client.Do(ctx, http.MethodGet, "/"+entitySet, query, nil, opts...)
	if err != nil {
		return nil, err
	}

	var payload struct {
		Count   int64    `json:"@odata.count"`
		Records []Record `json:"value"`
	}
	if err := resp.JSON(&payload); err != nil {
		return nil, fmt.Errorf("decode query response for %s: %w", entitySet, err)
	}
	return &QueryResult{Records: payload.Records, Count: payload.Count}, nil
}

// Create inserts a record and returns the new id parsed from the
// OData-EntityId header. An unparseable header yields UnknownRecordID
// rather than an error; see the constant's doc.
func (o *Operations) Create(ctx context.Context, entitySet string, payload Record, opts ...CallOption) (string, error) {
	resp, err := o.client.Do(ctx, http.MethodPost, "/"+entitySet, nil, payload, opts...)
	if err != nil {
		return "", err
	}
	id := parseEntityID(resp.Header.Get("OData-EntityId"))
	if id == UnknownRecordID {
		o.logger.WarnContext(ctx, "create response lacked a parseable record id", "entity_set", entitySet)
	}
	return id, nil
}

// Update applies a partial update to an existing record.
func (o *Operations) Update(ctx context.Context, entitySet, id string, payload Record, opts ...CallOption) error {
	_, err := o.client.Do(ctx, http.MethodPatch, fmt.Sprintf("/%s(%s)", entitySet, id), nil, payload, opts...)
	return err
}

// Delete removes a record.
func (o *Operations) Delete(ctx context.Context, entitySet, id string, opts ...CallOption) error {
	_, err := o.client.Do(ctx, http.MethodDelete, fmt.Sprintf("/%s(%s)", entitySet, id), nil, nil, opts...)
	return err
}

// CreateNote attaches an annotation to a parent record via its relationship
// reference. The parent's logical name is resolved to bind the objectid.
func (o *Operations) CreateNote(ctx context.Context, regardingLogical, regardingID, subject, noteText string, opts ...CallOption) (string, error) {
	setName, err := o.EntitySet(ctx, regardingLogical)
	if err != nil {
		return "", err
	}

	payload := Record{
		"subject":  subject,
		"notetext": noteText,
		fmt.Sprintf("objectid_%s@odata.bind", regardingLogical): fmt.Sprintf("/%s(%s)", setName, regardingID),
	}

	resp, err := o.client.Do(ctx, http.MethodPost, "/annotations", nil, payload, opts...)
	if err != nil {
		return "", err
	}
	id := parseEntityID(resp.Header.Get("OData-EntityId"))
	if id == UnknownRecordID {
		o.logger.WarnContext(ctx, "note create response lacked a parseable record id", "regarding", regardingLogical)
	}
	return id, nil
}

// EntityDefinitions lists user-visible entities. Metadata payloads are
// large, so the call runs under the extended timeout.
func (o *Operations) EntityDefinitions(ctx context.Context, opts ...CallOption) ([]EntityInfo, error) {
	opts = append(opts, withTimeout(o.client.MetadataTimeout()))
	resp, err := o.client.Do(ctx, http.MethodGet, "/EntityDefinitions", nil, nil, opts...)
	if err != nil {
		return nil, err
	}

	var payload struct {
		Value []struct {
			LogicalName string `json:"LogicalName"`
			IsCustom    bool   `json:"IsCustomEntity"`
			DisplayName struct {
				UserLocalizedLabel struct {
					Label string `json:"Label"`
				} `json:"UserLocalizedLabel"`
			} `json:"DisplayName"`
			Description struct {
				UserLocalizedLabel struct {
					Label string `json:"Label"`
				} `json:"UserLocalizedLabel"`
			} `json:"Description"`
		} `json:"value"`
	}
	if err := resp.JSON(&payload); err != nil {
		return nil, fmt.Errorf("decode entity definitions: %w", err)
	}

	entities := make([]EntityInfo, 0, len(payload.Value))
	for _, e := range payload.Value {
		if e.LogicalName == "" || strings.HasPrefix(e.LogicalName, "_") {
			continue
		}
		entities = append(entities, EntityInfo{
			LogicalName: e.LogicalName,
			DisplayName: e.DisplayName.UserLocalizedLabel.Label,
			Description: e.Description.UserLocalizedLabel.Label,
			IsCustom:    e.IsCustom,
		})
	}
	return entities, nil
}

// FindUserID looks up a systemuserid by UPN or domain name.
func (o *Operations) FindUserID(ctx context.Context, upnOrDomain string) (string, error) {
	filter := fmt.Sprintf("(userprincipalname eq '%s' or domainname eq '%s')", upnOrDomain, upnOrDomain)
	result, err := o.Query(ctx, "systemusers", QueryOptions{
		Filter: filter,
		Select: "systemuserid",
		Top:    1,
	})
	if err != nil {
		return "", err
	}
	if len(result.Records) == 0 {
		return "", fmt.Errorf("user %q: %w", upnOrDomain, ErrNotFound)
	}
	id, _ := result.Records[0]["systemuserid"].(string)
	return id, nil
}

// ProbeCheck is one probe step's outcome.
type ProbeCheck struct {
	OK    bool
	Error string
}

// ProbeResult is a connectivity smoke test across token, identity and
// metadata access.
type ProbeResult struct {
	WhoAmI   ProbeCheck
	Metadata ProbeCheck
}

// Probe smoke-tests the Dataverse connection.
func (o *Operations) Probe(ctx context.Context) ProbeResult {
	var result ProbeResult

	if id, err := o.WhoAmI(ctx); err != nil {
		result.WhoAmI = ProbeCheck{Error: err.Error()}
	} else {
		result.WhoAmI = ProbeCheck{OK: true}
		o.logger.InfoContext(ctx, "probe identity", "user_id", id.UserID)
	}

	if _, err := o.client.Do(ctx, http.MethodGet, "/$metadata", nil, nil,
		withAccept("application/xml"), withTimeout(o.client.MetadataTimeout())); err != nil {
		result.Metadata = ProbeCheck{Error: err.Error()}
	} else {
		result.Metadata = ProbeCheck{OK: true}
	}

	return result
}

// parseEntityID extracts the trailing guid from an OData-EntityId header of
// the form https://host/api/data/v9.2/accounts(guid).
func parseEntityID(header string) string {
	if !strings.HasSuffix(header, ")") {
		return UnknownRecordID
	}
	open := strings.LastIndex(header, "(")
	if open < 0 {
		return UnknownRecordID
	}
	return header[open+1 : len(header)-1]
}
