// Package dingtalk implements the DingTalk open platform HTTP calls used by the bridge:
// access tokens, media upload, interactive cards, robot messages and reply webhooks.
package dingtalk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const (
	// DefaultAPIBaseURL hosts the v1.0 open APIs (token, card, robot).
	DefaultAPIBaseURL = "https://api.dingtalk.com"
	// DefaultOAPIBaseURL hosts the legacy media upload API.
	DefaultOAPIBaseURL = "https://oapi.dingtalk.com"

	accessTokenHeader = "x-acs-dingtalk-access-token"
)

// APIError is a non-success response from a DingTalk endpoint.
type APIError struct {
	Op      string
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("dingtalk %s: status %d code %s: %s", e.Op, e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("dingtalk %s: status %d: %s", e.Op, e.Status, e.Message)
}

// Client issues DingTalk open platform requests. Every method carries its own timeout.
type Client struct {
	http            *http.Client
	apiBase         string
	oapiBase        string
	robotCode       string
	dispatchTimeout time.Duration
	uploadTimeout   time.Duration
	logger          *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithBaseURLs overrides the api.dingtalk.com and oapi.dingtalk.com hosts.
func WithBaseURLs(api, oapi string) Option {
	return func(c *Client) {
		if v := strings.TrimRight(strings.TrimSpace(api), "/"); v != "" {
			c.apiBase = v
		}
		if v := strings.TrimRight(strings.TrimSpace(oapi), "/"); v != "" {
			c.oapiBase = v
		}
	}
}

// WithTimeouts sets the per-call timeouts for message dispatch and uploads.
func WithTimeouts(dispatch, upload time.Duration) Option {
	return func(c *Client) {
		if dispatch > 0 {
			c.dispatchTimeout = dispatch
		}
		if upload > 0 {
			c.uploadTimeout = upload
		}
	}
}

// NewClient creates a client for the given robot code.
func NewClient(log *slog.Logger, robotCode string, opts ...Option) *Client {
	if log == nil {
		log = slog.Default()
	}
	c := &Client{
		http:            &http.Client{},
		apiBase:         DefaultAPIBaseURL,
		oapiBase:        DefaultOAPIBaseURL,
		robotCode:       strings.TrimSpace(robotCode),
		dispatchTimeout: 10 * time.Second,
		uploadTimeout:   60 * time.Second,
		logger:          log.With(slog.String("component", "dingtalk_client")),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RobotCode returns the robot code used for proactive sends and group card delivery.
func (c *Client) RobotCode() string {
	return c.robotCode
}

// doJSON sends body as JSON with the dispatch timeout and decodes a JSON response into out.
func (c *Client) doJSON(ctx context.Context, op, method, url, token string, body, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.dispatchTimeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("dingtalk %s: marshal: %w", op, err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return fmt.Errorf("dingtalk %s: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set(accessTokenHeader, token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("dingtalk %s: %w", op, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	return decodeResponse(op, resp, out)
}

// apiErrorBody covers both the v1.0 ({code, message}) and oapi ({errcode, errmsg}) error shapes.
type apiErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	ErrCode *int   `json:"errcode"`
	ErrMsg  string `json:"errmsg"`
}

func decodeResponse(op string, resp *http.Response, out any) error {
	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("dingtalk %s: read body: %w", op, err)
	}
	var errBody apiErrorBody
	_ = json.Unmarshal(data, &errBody)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := strings.TrimSpace(errBody.Message)
		if msg == "" {
			msg = strings.TrimSpace(errBody.ErrMsg)
		}
		if msg == "" {
			msg = strings.TrimSpace(string(data))
		}
		return &APIError{Op: op, Status: resp.StatusCode, Code: errBody.Code, Message: msg}
	}
	if errBody.ErrCode != nil && *errBody.ErrCode != 0 {
		return &APIError{
			Op:      op,
			Status:  resp.StatusCode,
			Code:    fmt.Sprintf("%d", *errBody.ErrCode),
			Message: errBody.ErrMsg,
		}
	}
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("dingtalk %s: decode response: %w", op, err)
	}
	return nil
}
