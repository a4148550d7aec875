// Package authapi calls the backend login and refresh endpoints that exchange
// user credentials or an existing token for a fresh access token.
package authapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"evdash/internal/credential"
)

var (
	// ErrUnauthorized reports that the backend rejected the credentials.
	ErrUnauthorized = errors.New("authapi: unauthorized")
	// ErrInvalidRequest reports a malformed login/refresh request.
	ErrInvalidRequest = errors.New("authapi: invalid request")
	// ErrBadResponse reports a response that could not be parsed or that
	// lacked the expected token fields.
	ErrBadResponse = errors.New("authapi: unexpected response")
)

// HTTPDoer defines the http.Client interface subset.
type HTTPDoer interface {
	Do(*http.Request) (*http.Response, error)
}

// Client calls the evdash auth endpoints.
type Client struct {
	baseURL string
	client  HTTPDoer
}

// NewClient builds an auth client against the backend base URL.
func NewClient(baseURL string, httpClient HTTPDoer) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  httpClient,
	}
}

type tokenResponse struct {
	Success   bool            `json:"success"`
	Token     string          `json:"token"`
	ExpiresAt json.RawMessage `json:"expiresAt"`
	Error     string          `json:"error"`
}

// Login exchanges username/password for a credential.
func (c *Client) Login(ctx context.Context, username, password string) (credential.Credential, error) {
	cred, err := c.exchange(ctx, "/evdash/api/login", map[string]string{
		"username": username,
		"password": password,
	})
	if err != nil {
		return credential.Credential{}, err
	}
	cred.Username = username
	return cred, nil
}

// Refresh exchanges the current token for a fresh one.
func (c *Client) Refresh(ctx context.Context, token string) (credential.Credential, error) {
	return c.exchange(ctx, "/evdash/api/refresh", map[string]string{
		"token": token,
	})
}

func (c *Client) exchange(ctx context.Context, path string, payload map[string]string) (credential.Credential, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return credential.Credential{}, fmt.Errorf("authapi: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return credential.Credential{}, fmt.Errorf("authapi: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return credential.Credential{}, fmt.Errorf("authapi: request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return credential.Credential{}, fmt.Errorf("authapi: read response: %w", err)
	}

	var parsed tokenResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return credential.Credential{}, fmt.Errorf("%w: %v", ErrBadResponse, err)
	}

	if resp.StatusCode != http.StatusOK || !parsed.Success {
		return credential.Credential{}, protocolError(parsed.Error)
	}

	if parsed.Token == "" {
		return credential.Credential{}, fmt.Errorf("%w: missing token", ErrBadResponse)
	}

	expiresAt, err := credential.ParseExpiry(parsed.ExpiresAt)
	if err != nil {
		// Some backends only encode the expiry inside the JWT itself.
		expiresAt, err = credential.ExpiryFromToken(parsed.Token)
		if err != nil {
			return credential.Credential{}, fmt.Errorf("%w: missing expiresAt", ErrBadResponse)
		}
	}

	return credential.Credential{Token: parsed.Token, ExpiresAt: expiresAt}, nil
}

func protocolError(code string) error {
	switch code {
	case "unauthorized", "unauthenticated":
		return ErrUnauthorized
	case "invalidRequest":
		return ErrInvalidRequest
	case "":
		return fmt.Errorf("%w: request rejected", ErrBadResponse)
	default:
		return fmt.Errorf("authapi: request rejected: %s", code)
	}
}
