// Package card drives the lifecycle of a streaming AI card: create, deliver, throttled
// content updates and a single finalize.
package card

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"github.com/memohai/dingtalk-bridge/internal/dingtalk"
	"github.com/memohai/dingtalk-bridge/internal/logger"
	"github.com/memohai/dingtalk-bridge/internal/markers"
)

// UpdateInterval is the minimum spacing of throttled content pushes.
const UpdateInterval = 300 * time.Millisecond

// ErrFinalized is returned when a card is updated after it was finalized.
var ErrFinalized = errors.New("card already finalized")

// API is the subset of the DingTalk card endpoints the controller calls.
type API interface {
	CreateCard(ctx context.Context, token, templateID, outTrackID string, target dingtalk.Target) error
	DeliverCard(ctx context.Context, token, outTrackID string, target dingtalk.Target) error
	UpdateCardStatus(ctx context.Context, token, outTrackID, flowStatus, content string) error
	StreamCard(ctx context.Context, token, outTrackID, content string, finalize bool) error
}

// Instance is one live card bound to one inbound message. It is owned by a single
// goroutine and never reused.
type Instance struct {
	// ID is the outTrackId the card was registered with.
	ID     string
	Token  string
	Target dingtalk.Target

	inputingStarted bool
	finalized       bool
	lastPushed      string
	throttle        *rate.Sometimes
}

// InputingStarted reports whether the card left its initial placeholder state.
func (i *Instance) InputingStarted() bool {
	return i.inputingStarted
}

// Finalized reports whether Finalize was attempted.
func (i *Instance) Finalized() bool {
	return i.finalized
}

// Controller creates and updates card instances against one template.
type Controller struct {
	api        API
	templateID string
	tokens     oauth2.TokenSource
	interval   time.Duration
	logger     *slog.Logger
}

// NewController creates a controller. An empty templateID disables cards: Create always
// returns nil.
func NewController(log *slog.Logger, api API, tokens oauth2.TokenSource, templateID string) *Controller {
	if log == nil {
		log = slog.Default()
	}
	return &Controller{
		api:        api,
		templateID: strings.TrimSpace(templateID),
		tokens:     tokens,
		interval:   UpdateInterval,
		logger:     log.With(slog.String("component", "card")),
	}
}

// Enabled reports whether a template is configured.
func (c *Controller) Enabled() bool {
	return c.templateID != ""
}

func (c *Controller) log(ctx context.Context) *slog.Logger {
	return logger.FromContextOr(ctx, c.logger)
}

// Create registers and delivers a new card to target. It returns nil on any failure,
// in which case the caller falls back to a plain message.
func (c *Controller) Create(ctx context.Context, target dingtalk.Target) *Instance {
	if !c.Enabled() {
		return nil
	}
	log := c.log(ctx)
	tok, err := dingtalk.TokenFor(ctx, c.tokens)
	if err != nil {
		log.Warn("card token unavailable", slog.Any("error", err))
		return nil
	}
	inst := &Instance{
		ID:       uuid.NewString(),
		Token:    tok.AccessToken,
		Target:   target,
		throttle: &rate.Sometimes{Interval: c.interval},
	}
	if err := c.api.CreateCard(ctx, inst.Token, c.templateID, inst.ID, target); err != nil {
		log.Warn("card create failed", slog.Any("error", err))
		return nil
	}
	if err := c.api.DeliverCard(ctx, inst.Token, inst.ID, target); err != nil {
		log.Warn("card deliver failed", slog.String("out_track_id", inst.ID), slog.Any("error", err))
		return nil
	}
	log.Debug("card delivered", slog.String("out_track_id", inst.ID), slog.Bool("group", target.Group))
	return inst
}

// Update writes text as the full card content. The first call on an instance switches
// the card into the inputing state with empty content before streaming.
func (c *Controller) Update(ctx context.Context, inst *Instance, text string, final bool) error {
	if inst == nil {
		return fmt.Errorf("card instance is nil")
	}
	if !inst.inputingStarted {
		if err := c.api.UpdateCardStatus(ctx, inst.Token, inst.ID, dingtalk.FlowStatusInputing, ""); err != nil {
			return fmt.Errorf("card inputing: %w", err)
		}
		inst.inputingStarted = true
	}
	if err := c.api.StreamCard(ctx, inst.Token, inst.ID, text, final); err != nil {
		return fmt.Errorf("card stream: %w", err)
	}
	return nil
}

// Push forwards accumulated streaming text to the card, at most once per UpdateInterval.
// The first push always goes out. Marker fragments are hidden from the preview, and
// failures are logged only.
func (c *Controller) Push(ctx context.Context, inst *Instance, accumulated string) {
	if inst == nil || inst.finalized {
		return
	}
	preview := markers.Preview(accumulated)
	if strings.TrimSpace(preview) == "" || preview == inst.lastPushed {
		return
	}
	inst.throttle.Do(func() {
		if err := c.Update(ctx, inst, preview, false); err != nil {
			c.log(ctx).Warn("card update failed", slog.String("out_track_id", inst.ID), slog.Any("error", err))
			return
		}
		inst.lastPushed = preview
	})
}

// Finalize closes the streaming channel with text and moves the card to the finished
// status. It is attempted once per instance; both calls are issued even if the first
// fails, and the joined error is returned for logging. A done ctx abandons the card
// without any call.
func (c *Controller) Finalize(ctx context.Context, inst *Instance, text string) error {
	if inst == nil {
		return fmt.Errorf("card instance is nil")
	}
	if inst.finalized {
		return ErrFinalized
	}
	inst.finalized = true
	if err := ctx.Err(); err != nil {
		c.log(ctx).Warn("card finalize abandoned", slog.String("out_track_id", inst.ID), slog.Any("error", err))
		return fmt.Errorf("card finalize: %w", err)
	}

	streamErr := c.Update(ctx, inst, text, true)
	statusErr := c.api.UpdateCardStatus(ctx, inst.Token, inst.ID, dingtalk.FlowStatusFinished, text)
	if statusErr != nil {
		statusErr = fmt.Errorf("card finish: %w", statusErr)
	}
	err := errors.Join(streamErr, statusErr)
	if err != nil {
		c.log(ctx).Warn("card finalize failed", slog.String("out_track_id", inst.ID), slog.Any("error", err))
	}
	return err
}
