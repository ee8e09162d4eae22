package handlers

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/memohai/dingtalk-bridge/internal/channel"
	dtadapter "github.com/memohai/dingtalk-bridge/internal/channel/adapters/dingtalk"
	"github.com/memohai/dingtalk-bridge/internal/dingtalk"
)

const maxCallbackBytes = 1 << 20

// WebhookHandler receives HTTP-mode robot callbacks on POST /dingtalk/callback.
type WebhookHandler struct {
	handler channel.InboundHandler
	secret  string
	// base outlives the request; callbacks are processed after the ack.
	base   context.Context
	now    func() time.Time
	logger *slog.Logger
}

// NewWebhookHandler creates a callback handler. A non-empty secret enables signature
// verification of the timestamp and sign headers. base bounds asynchronous processing.
func NewWebhookHandler(log *slog.Logger, base context.Context, secret string, handler channel.InboundHandler) *WebhookHandler {
	if base == nil {
		base = context.Background()
	}
	return &WebhookHandler{
		handler: handler,
		secret:  secret,
		base:    base,
		now:     time.Now,
		logger:  log.With(slog.String("handler", "dingtalk_webhook")),
	}
}

// Register mounts POST /dingtalk/callback.
func (h *WebhookHandler) Register(e *echo.Echo) {
	e.POST("/dingtalk/callback", h.Callback)
}

// Callback verifies and decodes the callback, acks with {} and processes it asynchronously.
func (h *WebhookHandler) Callback(c echo.Context) error {
	req := c.Request()
	if h.secret != "" {
		if err := dingtalk.VerifyCallback(req.Header.Get("timestamp"), req.Header.Get("sign"), h.secret, h.now()); err != nil {
			h.logger.Warn("callback rejected", slog.Any("error", err))
			return echo.NewHTTPError(http.StatusUnauthorized, err.Error())
		}
	}
	body, err := io.ReadAll(io.LimitReader(req.Body, maxCallbackBytes))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	event, err := dingtalk.ParseCallback(body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	dtadapter.Dispatch(h.base, h.logger, dtadapter.ToInbound(event, channel.SourceWebhook), h.handler)
	return c.JSON(http.StatusOK, map[string]any{})
}
