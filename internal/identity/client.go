package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2/clientcredentials"
)

// DefaultRequestTimeout bounds every identity-provider call.
const DefaultRequestTimeout = 10 * time.Second

// ClientConfig configures the REST client for the identity provider.
type ClientConfig struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
	TokenURL     string
	Timeout      time.Duration
}

// Client is an HTTP implementation of Provider authenticated with OAuth2
// client credentials.
type Client struct {
	baseURL string
	http    *http.Client
	timeout time.Duration
}

// NewClient constructs an identity-provider client from the configuration.
func NewClient(cfg ClientConfig) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, errors.New("identity: base url is required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}

	httpClient := &http.Client{Timeout: timeout}
	if cfg.ClientID != "" && cfg.TokenURL != "" {
		creds := clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     cfg.TokenURL,
		}
		httpClient = creds.Client(context.Background())
		httpClient.Timeout = timeout
	}

	return &Client{
		baseURL: base,
		http:    httpClient,
		timeout: timeout,
	}, nil
}

// GetUser fetches the provider record for an external user ID.
func (c *Client) GetUser(ctx context.Context, externalID string) (*ExternalUser, error) {
	var user ExternalUser
	if err := c.do(ctx, http.MethodGet, "/users/"+url.PathEscape(externalID), nil, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// UpdateUser pushes profile fields to the provider record.
func (c *Client) UpdateUser(ctx context.Context, externalID string, update UserUpdate) error {
	return c.do(ctx, http.MethodPatch, "/users/"+url.PathEscape(externalID), update, nil)
}

// UpdateUserMetadata replaces the application metadata blob on the provider record.
func (c *Client) UpdateUserMetadata(ctx context.Context, externalID string, metadata map[string]any) error {
	payload := map[string]any{"metadata": metadata}
	return c.do(ctx, http.MethodPatch, "/users/"+url.PathEscape(externalID)+"/metadata", payload, nil)
}

// ListSessions returns the provider's view of a user's sessions.
func (c *Client) ListSessions(ctx context.Context, externalID string) ([]ExternalSession, error) {
	var sessions []ExternalSession
	if err := c.do(ctx, http.MethodGet, "/users/"+url.PathEscape(externalID)+"/sessions", nil, &sessions); err != nil {
		return nil, err
	}
	return sessions, nil
}

// RevokeSession revokes a provider-side session by token.
func (c *Client) RevokeSession(ctx context.Context, token string) error {
	return c.do(ctx, http.MethodDelete, "/sessions/"+url.PathEscape(token), nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("identity: encode request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("identity: build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrUserNotFound
	case resp.StatusCode >= 400:
		// Drain a short prefix for diagnostics; never surface provider bodies to clients.
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("%w: status %d: %s", ErrUnavailable, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	if out == nil {
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("identity: decode response: %w", err)
	}
	return nil
}
