package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memohai/dingtalk-bridge/internal/channel"
	"github.com/memohai/dingtalk-bridge/internal/conversation"
	"github.com/memohai/dingtalk-bridge/internal/dingtalk"
	"github.com/memohai/dingtalk-bridge/internal/logger"
	"github.com/memohai/dingtalk-bridge/internal/server"
)

type fakeDeliverer struct {
	mu     sync.Mutex
	target dingtalk.Target
	text   string
	err    error
}

func (d *fakeDeliverer) Deliver(_ context.Context, target dingtalk.Target, text string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.target = target
	d.text = text
	return d.err
}

func do(t *testing.T, srv *server.Server, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	srv.Echo().ServeHTTP(rec, req)
	return rec
}

func TestPing(t *testing.T) {
	srv := server.NewServer(logger.Discard(), "", "", NewPingHandler(logger.Discard()))

	rec := do(t, srv, http.MethodGet, "/ping", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var body PingResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body.Status)
	assert.NotEmpty(t, body.Version.Version)

	rec = do(t, srv, http.MethodHead, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSendMessage(t *testing.T) {
	d := &fakeDeliverer{}
	srv := server.NewServer(logger.Discard(), "", "", NewMessageHandler(logger.Discard(), d))

	rec := do(t, srv, http.MethodPost, "/api/messages", `{"target":{"kind":"Group","id":" cid-1 "},"text":"hello"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, dingtalk.Target{Group: true, ID: "cid-1"}, d.target)
	assert.Equal(t, "hello", d.text)
}

func TestSendMessageValidation(t *testing.T) {
	d := &fakeDeliverer{}
	srv := server.NewServer(logger.Discard(), "", "", NewMessageHandler(logger.Discard(), d))

	cases := []string{
		`{"target":{"kind":"channel","id":"x"},"text":"hi"}`,
		`{"target":{"kind":"user","id":""},"text":"hi"}`,
		`{"target":{"kind":"user","id":"u"},"text":""}`,
		`{not json`,
	}
	for _, body := range cases {
		rec := do(t, srv, http.MethodPost, "/api/messages", body, nil)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("body %s: expected 400, got %d", body, rec.Code)
		}
	}

	d.err = conversation.ErrEmptyText
	rec := do(t, srv, http.MethodPost, "/api/messages", `{"target":{"kind":"user","id":"u"},"text":"  "}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	d.err = errors.New("upstream down")
	rec = do(t, srv, http.MethodPost, "/api/messages", `{"target":{"kind":"user","id":"u"},"text":"hi"}`, nil)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestSendMessageRequiresAPIToken(t *testing.T) {
	d := &fakeDeliverer{}
	srv := server.NewServer(logger.Discard(), "", "s3cret", NewMessageHandler(logger.Discard(), d), NewPingHandler(logger.Discard()))
	body := `{"target":{"kind":"user","id":"u"},"text":"hi"}`

	rec := do(t, srv, http.MethodPost, "/api/messages", body, nil)
	assert.NotEqual(t, http.StatusOK, rec.Code)

	rec = do(t, srv, http.MethodPost, "/api/messages", body, map[string]string{"Authorization": "Bearer wrong"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(t, srv, http.MethodPost, "/api/messages", body, map[string]string{"Authorization": "Bearer s3cret"})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, srv, http.MethodGet, "/ping", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestWebhookCallback(t *testing.T) {
	got := make(chan channel.InboundMessage, 1)
	handler := func(_ context.Context, msg channel.InboundMessage) error {
		got <- msg
		return nil
	}
	h := NewWebhookHandler(logger.Discard(), context.Background(), "secret", handler)
	srv := server.NewServer(logger.Discard(), "", "", h)

	payload := `{"msgId":"m1","msgtype":"text","conversationType":"2","conversationId":"cid","senderStaffId":"s1","text":{"content":"hi"},"sessionWebhook":"https://hook"}`

	rec := do(t, srv, http.MethodPost, "/dingtalk/callback", payload, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	ts := strconv.FormatInt(time.Now().UnixMilli(), 10)
	rec = do(t, srv, http.MethodPost, "/dingtalk/callback", payload, map[string]string{
		"timestamp": ts,
		"sign":      dingtalk.SignCallback(ts, "secret"),
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{}`, rec.Body.String())

	select {
	case msg := <-got:
		assert.Equal(t, "hi", msg.Text)
		assert.Equal(t, channel.SourceWebhook, msg.Source)
		assert.True(t, msg.Conversation.IsGroup())
	case <-time.After(2 * time.Second):
		t.Fatalf("callback not dispatched")
	}
}

func TestWebhookRejectsBadJSON(t *testing.T) {
	h := NewWebhookHandler(logger.Discard(), context.Background(), "", func(context.Context, channel.InboundMessage) error { return nil })
	srv := server.NewServer(logger.Discard(), "", "", h)

	rec := do(t, srv, http.MethodPost, "/dingtalk/callback", `{bad`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
