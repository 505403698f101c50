package auth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
)

// Token is a bearer token scoped to one resource.
type Token struct {
	Value     string
	ExpiresAt time.Time
}

// Expired reports whether the token is past (or within a minute of) expiry.
func (t Token) Expired(now time.Time) bool {
	return !t.ExpiresAt.After(now.Add(time.Minute))
}

// TokenProvider supplies bearer tokens for a resource scope. Implementations
// may cache; callers must not.
type TokenProvider interface {
	Token(ctx context.Context, scope string) (Token, error)
}

// ErrMisconfigured signals missing tenant/client/secret settings. It is
// fatal at call time; there is no point retrying it.
var ErrMisconfigured = errors.New("credential provider misconfigured")

const defaultAuthorityHost = "https://login.microsoftonline.com"

// ClientSecretCredential acquires tokens via the OAuth2 client-credentials
// flow and caches them per scope until shortly before expiry.
type ClientSecretCredential struct {
	tenantID     string
	clientID     string
	clientSecret string
	authority    string
	httpClient   *http.Client
	logger       *slog.Logger

	mu     sync.Mutex
	cached map[string]Token
}

func NewClientSecretCredential(tenantID, clientID, clientSecret string, logger *slog.Logger) (*ClientSecretCredential, error) {
	if tenantID == "" || clientID == "" || clientSecret == "" {
		return nil, fmt.Errorf("%w: tenant, client id and client secret are all required", ErrMisconfigured)
	}
	return &ClientSecretCredential{
		tenantID:     tenantID,
		clientID:     clientID,
		clientSecret: clientSecret,
		authority:    defaultAuthorityHost,
		httpClient:   &http.Client{Timeout: 15 * time.Second},
		logger:       logger.With("component", "credential"),
		cached:       make(map[string]Token),
	}, nil
}

func (c *ClientSecretCredential) Token(ctx context.Context, scope string) (Token, error) {
	c.mu.Lock()
	tok, ok := c.cached[scope]
	c.mu.Unlock()
	if ok && !tok.Expired(time.Now()) {
		return tok, nil
	}

	tok, err := c.fetch(ctx, scope)
	if err != nil {
		return Token{}, err
	}

	c.mu.Lock()
	c.cached[scope] = tok
	c.mu.Unlock()
	return tok, nil
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

func (c *ClientSecretCredential) fetch(ctx context.Context, scope string) (Token, error) {
	endpoint := fmt.Sprintf("%s/%s/oauth2/v2.0/token", c.authority, c.tenantID)
	form := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {c.clientID},
		"client_secret": {c.clientSecret},
		"scope":         {scope},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return Token{}, fmt.Errorf("build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Token{}, fmt.Errorf("token request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Token{}, fmt.Errorf("read token response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return Token{}, fmt.Errorf("token endpoint returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return Token{}, fmt.Errorf("decode token response: %w", err)
	}
	if tr.AccessToken == "" {
		return Token{}, errors.New("token endpoint returned empty access_token")
	}

	c.logger.DebugContext(ctx, "acquired token", "scope", scope, "expires_in", tr.ExpiresIn)
	return Token{
		Value:     tr.AccessToken,
		ExpiresAt: time.Now().Add(time.Duration(tr.ExpiresIn) * time.Second),
	}, nil
}

// StaticTokenProvider returns a fixed token for every scope. Used by the
// sandbox and by tests.
type StaticTokenProvider struct {
	Value string
}

func (p StaticTokenProvider) Token(_ context.Context, _ string) (Token, error) {
	return Token{Value: p.Value, ExpiresAt: time.Now().Add(time.Hour)}, nil
}
