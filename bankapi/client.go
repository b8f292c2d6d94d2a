// Package bankapi is the client for the remote bank API. It encapsulates
// authenticated HTTP requests, request body construction, response parsing,
// and the mapping of transport and status failures onto the client error
// taxonomy.
package bankapi

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/meridianbank/mobilecore/models"
)

// TokenSource supplies the current bearer token for authenticated calls.
// An empty string means no session is active.
type TokenSource func() string

// Client is a client for the bank API
type Client struct {
	BaseURL    string
	HTTPClient *http.Client

	tokenSource TokenSource
	logger      *slog.Logger
}

// NewClient creates a new bank API client
func NewClient(baseURL string, timeout time.Duration, tokenSource TokenSource, logger *slog.Logger) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		BaseURL: baseURL,
		HTTPClient: &http.Client{
			Timeout: timeout,
		},
		tokenSource: tokenSource,
		logger:      logger,
	}
}

// SetTokenSource wires the bearer token supplier after construction. The
// session manager needs the client to exist before it can be built, so the
// token source is attached once both sides are up.
func (c *Client) SetTokenSource(source TokenSource) {
	c.tokenSource = source
}

// LoginRequest is the payload for POST /auth/login
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginResponse is the response from POST /auth/login
type LoginResponse struct {
	AccessToken  string             `json:"access_token"`
	RefreshToken string             `json:"refresh_token"`
	ExpiresIn    int64              `json:"expires_in"` // seconds
	User         models.UserProfile `json:"user"`
}

// ChangePasswordRequest is the payload for PUT /auth/password
type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

// VerifyFaceRequest carries the captured photo for a transfer verification
type VerifyFaceRequest struct {
	Photo string `json:"photo"` // base64-encoded JPEG
}

// VerifyFaceResponse is the verification outcome from the backend
type VerifyFaceResponse struct {
	Verified bool   `json:"verified"`
	Status   string `json:"status"`
}

// ErrorResponse represents an error body from the bank API
type ErrorResponse struct {
	Code    string `json:"error"`
	Message string `json:"message"`
}

func (e *ErrorResponse) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("bank api error: %s - %s", e.Code, e.Message)
	}
	return "unknown bank api error"
}

// Login authenticates with username and password
func (c *Client) Login(ctx context.Context, username, password string) (*LoginResponse, error) {
	var resp LoginResponse
	req := LoginRequest{Username: username, Password: password}
	if err := c.do(ctx, http.MethodPost, "/auth/login", req, &resp, false); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Logout revokes the current session on the backend
func (c *Client) Logout(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/auth/logout", nil, nil, true)
}

// ChangePassword changes the user's password. The backend may invalidate
// existing tokens; the caller is responsible for re-authenticating.
func (c *Client) ChangePassword(ctx context.Context, current, newPassword string) error {
	req := ChangePasswordRequest{CurrentPassword: current, NewPassword: newPassword}
	return c.do(ctx, http.MethodPut, "/auth/password", req, nil, true)
}

// VerifyFace submits a captured photo for transfer identity verification
func (c *Client) VerifyFace(ctx context.Context, transferID string, photo []byte) (*VerifyFaceResponse, error) {
	var resp VerifyFaceResponse
	req := VerifyFaceRequest{Photo: base64.StdEncoding.EncodeToString(photo)}
	path := fmt.Sprintf("/transfer/%s/verify-face", transferID)
	if err := c.do(ctx, http.MethodPost, path, req, &resp, true); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CancelTransfer cancels a pending transfer
func (c *Client) CancelTransfer(ctx context.Context, transferID string) error {
	path := fmt.Sprintf("/transfer/%s/cancel", transferID)
	return c.do(ctx, http.MethodPost, path, nil, nil, true)
}

// Notifications returns the user's notifications
func (c *Client) Notifications(ctx context.Context) ([]models.Notification, error) {
	var notifications []models.Notification
	if err := c.do(ctx, http.MethodGet, "/notifications", nil, &notifications, true); err != nil {
		return nil, err
	}
	return notifications, nil
}

// MarkNotificationRead marks a single notification as read
func (c *Client) MarkNotificationRead(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPut, fmt.Sprintf("/notifications/%s/read", id), nil, nil, true)
}

// MarkAllNotificationsRead marks every notification as read
func (c *Client) MarkAllNotificationsRead(ctx context.Context) error {
	return c.do(ctx, http.MethodPut, "/notifications/read-all", nil, nil, true)
}

// DeleteNotification deletes a notification
func (c *Client) DeleteNotification(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("/notifications/%s", id), nil, nil, true)
}

// do executes a JSON request and decodes the response into out (when non-nil).
// authed controls bearer-token attachment and how a 401 is classified: on the
// login endpoint it means invalid credentials, everywhere else it means the
// session has expired.
func (c *Client) do(ctx context.Context, method, path string, body, out any, authed bool) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	if authed && c.tokenSource != nil {
		if token := c.tokenSource(); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		c.logger.Warn("bank api request failed",
			slog.String("method", method),
			slog.String("path", path),
			slog.Any("error", err))
		return fmt.Errorf("%s %s: %w", method, path, models.ErrNetwork)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			c.logger.Warn("bank api response decode failed",
				slog.String("path", path), slog.Any("error", err))
			return fmt.Errorf("%s %s: invalid response: %w", method, path, models.ErrUnknown)
		}
		return nil
	}

	return c.statusError(resp, method, path, authed)
}

func (c *Client) statusError(resp *http.Response, method, path string, authed bool) error {
	var apiErr ErrorResponse
	detail := ""
	if err := json.NewDecoder(resp.Body).Decode(&apiErr); err == nil && apiErr.Message != "" {
		detail = apiErr.Message
	}

	c.logger.Info("bank api error response",
		slog.String("method", method),
		slog.String("path", path),
		slog.Int("status", resp.StatusCode),
		slog.String("detail", detail))

	switch {
	case resp.StatusCode == http.StatusUnauthorized && !authed:
		return fmt.Errorf("%s %s: %w", method, path, models.ErrInvalidCredentials)
	case resp.StatusCode == http.StatusUnauthorized:
		return fmt.Errorf("%s %s: %w", method, path, models.ErrSessionExpired)
	case detail != "":
		return fmt.Errorf("%s %s: %s: %w", method, path, detail, models.ErrUnknown)
	default:
		return fmt.Errorf("%s %s: status %d: %w", method, path, resp.StatusCode, models.ErrUnknown)
	}
}
