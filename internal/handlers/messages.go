package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"github.com/memohai/dingtalk-bridge/internal/conversation"
	"github.com/memohai/dingtalk-bridge/internal/dingtalk"
)

// Target kinds accepted by the send API.
const (
	TargetUser  = "user"
	TargetGroup = "group"
)

// Deliverer sends a proactive message.
type Deliverer interface {
	Deliver(ctx context.Context, target dingtalk.Target, text string) error
}

// MessageTarget addresses a user (staff id) or a group (open conversation id).
type MessageTarget struct {
	Kind string `json:"kind" validate:"required,oneof=user group"`
	ID   string `json:"id" validate:"required"`
}

// SendMessageRequest is the body of POST /api/messages.
type SendMessageRequest struct {
	Target MessageTarget `json:"target" validate:"required"`
	Text   string        `json:"text" validate:"required"`
}

// SendMessageResponse is returned after a delivery.
type SendMessageResponse struct {
	Status string `json:"status"`
}

// MessageHandler exposes proactive sends.
type MessageHandler struct {
	deliverer Deliverer
	validate  *validator.Validate
	logger    *slog.Logger
}

// NewMessageHandler creates a send API handler.
func NewMessageHandler(log *slog.Logger, deliverer Deliverer) *MessageHandler {
	return &MessageHandler{
		deliverer: deliverer,
		validate:  validator.New(validator.WithRequiredStructEnabled()),
		logger:    log.With(slog.String("handler", "messages")),
	}
}

// Register mounts POST /api/messages.
func (h *MessageHandler) Register(e *echo.Echo) {
	e.POST("/api/messages", h.Send)
}

// Send delivers text to the target. Media markers in text are sent as separate messages.
func (h *MessageHandler) Send(c echo.Context) error {
	var req SendMessageRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	req.Target.Kind = strings.ToLower(strings.TrimSpace(req.Target.Kind))
	req.Target.ID = strings.TrimSpace(req.Target.ID)
	if err := h.validate.Struct(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	target := dingtalk.Target{Group: req.Target.Kind == TargetGroup, ID: req.Target.ID}
	if err := h.deliverer.Deliver(c.Request().Context(), target, req.Text); err != nil {
		if errors.Is(err, conversation.ErrEmptyText) {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		h.logger.Error("deliver failed", slog.Any("error", err))
		return c.JSON(http.StatusBadGateway, ErrorResponse{Message: err.Error()})
	}
	return c.JSON(http.StatusOK, SendMessageResponse{Status: "sent"})
}
