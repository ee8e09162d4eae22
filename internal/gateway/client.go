// Package gateway streams chat completions from an OpenAI-compatible LLM gateway over SSE.
package gateway

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"golang.org/x/oauth2"
)

// ErrStreamStatus marks a non-2xx response to the completion request.
var ErrStreamStatus = errors.New("gateway returned non-success status")

// Message is one chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is one streamed completion.
type Request struct {
	Text          string
	SystemPrompts []string
	SessionKey    string
}

type completionRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	Stream   bool      `json:"stream"`
	User     string    `json:"user,omitempty"`
}

type completionChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

// Client opens completion streams against a gateway.
type Client struct {
	baseURL string
	model   string
	http    *http.Client
	logger  *slog.Logger
}

// NewClient creates a client. A non-empty bearer token is attached to every request.
func NewClient(log *slog.Logger, baseURL, model, bearer string) *Client {
	if log == nil {
		log = slog.Default()
	}
	hc := &http.Client{}
	if bearer = strings.TrimSpace(bearer); bearer != "" {
		hc = oauth2.NewClient(context.Background(), oauth2.StaticTokenSource(&oauth2.Token{
			AccessToken: bearer,
			TokenType:   "Bearer",
		}))
	}
	return &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		model:   model,
		http:    hc,
		logger:  log.With(slog.String("component", "gateway")),
	}
}

// BuildMessages orders system prompts before the user message, dropping blank prompts.
func BuildMessages(req Request) []Message {
	msgs := make([]Message, 0, len(req.SystemPrompts)+1)
	for _, prompt := range req.SystemPrompts {
		if strings.TrimSpace(prompt) == "" {
			continue
		}
		msgs = append(msgs, Message{Role: "system", Content: prompt})
	}
	return append(msgs, Message{Role: "user", Content: req.Text})
}

// Stream issues the completion request. A non-2xx status is returned as an error wrapping
// ErrStreamStatus; no retry is attempted. The caller must Close the stream.
func (c *Client) Stream(ctx context.Context, req Request) (*Stream, error) {
	body, err := json.Marshal(completionRequest{
		Model:    c.model,
		Messages: BuildMessages(req),
		Stream:   true,
		User:     req.SessionKey,
	})
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("gateway request: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		_ = resp.Body.Close()
		return nil, fmt.Errorf("%w: %d %s", ErrStreamStatus, resp.StatusCode, strings.TrimSpace(string(payload)))
	}
	if resp.Body == nil || resp.Body == http.NoBody {
		return nil, fmt.Errorf("gateway response has no body")
	}
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 2*1024*1024)
	return &Stream{body: resp.Body, scanner: scanner, logger: c.logger}, nil
}

// Stream is a single-pass sequence of content deltas.
type Stream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
	logger  *slog.Logger
	delta   string
	err     error
	done    bool
}

// Next advances to the next non-empty delta. It returns false at [DONE], at end of body,
// or on a read error reported by Err.
func (s *Stream) Next() bool {
	if s.done {
		return false
	}
	for s.scanner.Scan() {
		line := strings.TrimSpace(s.scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "" {
			continue
		}
		if data == "[DONE]" {
			s.done = true
			return false
		}
		var chunk completionChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			s.logger.Debug("skip malformed stream frame", slog.Any("error", err))
			continue
		}
		if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == "" {
			continue
		}
		s.delta = chunk.Choices[0].Delta.Content
		return true
	}
	s.done = true
	s.err = s.scanner.Err()
	return false
}

// Delta returns the fragment read by the last successful Next.
func (s *Stream) Delta() string {
	return s.delta
}

// Err returns the read error that ended the stream, if any.
func (s *Stream) Err() error {
	return s.err
}

// Close releases the response body.
func (s *Stream) Close() error {
	s.done = true
	return s.body.Close()
}

// Collect drains a stream into one string.
func Collect(s *Stream) (string, error) {
	defer func() {
		_ = s.Close()
	}()
	var b strings.Builder
	for s.Next() {
		b.WriteString(s.Delta())
	}
	return b.String(), s.Err()
}
