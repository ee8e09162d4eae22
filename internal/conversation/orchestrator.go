// Package conversation runs the per-message pipeline between an inbound chat event and
// the LLM gateway: session resolution, streaming card updates, media post-processing and
// the plain message fallback.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/memohai/dingtalk-bridge/internal/card"
	"github.com/memohai/dingtalk-bridge/internal/channel"
	"github.com/memohai/dingtalk-bridge/internal/dingtalk"
	"github.com/memohai/dingtalk-bridge/internal/gateway"
	"github.com/memohai/dingtalk-bridge/internal/logger"
	"github.com/memohai/dingtalk-bridge/internal/markers"
	"github.com/memohai/dingtalk-bridge/internal/media"
	"github.com/memohai/dingtalk-bridge/internal/session"
)

// Chat replies sent outside the model output.
const (
	NewSessionReply   = "✅ 已开启新会话"
	interruptedPrefix = "⚠️ 响应中断: "
	failedPrefix      = "⚠️ 处理失败: "
)

// ErrEmptyText is returned by Deliver when there is nothing to send.
var ErrEmptyText = errors.New("message text is empty")

// Cards is the streaming card lifecycle used by the card path.
type Cards interface {
	Create(ctx context.Context, target dingtalk.Target) *card.Instance
	Push(ctx context.Context, inst *card.Instance, accumulated string)
	Finalize(ctx context.Context, inst *card.Instance, text string) error
}

// Gateway opens a streamed completion.
type Gateway interface {
	Stream(ctx context.Context, req gateway.Request) (*gateway.Stream, error)
}

// MediaProcessor scans a finished reply and delivers its media out of band.
type MediaProcessor interface {
	Process(ctx context.Context, text string, req media.Request) media.Result
}

// Options are the prompt settings applied to every gateway request.
type Options struct {
	UploadPrompt bool
	CustomPrompt string
	RobotCode    string
}

// Orchestrator handles inbound messages and proactive deliveries.
type Orchestrator struct {
	cards     Cards
	gateway   Gateway
	media     MediaProcessor
	messenger media.Messenger
	tokens    oauth2.TokenSource
	sessions  *session.Manager
	opts      Options
	now       func() time.Time
	logger    *slog.Logger
}

// NewOrchestrator wires an orchestrator. cards may be nil when card delivery is disabled.
func NewOrchestrator(
	log *slog.Logger,
	cards Cards,
	gw Gateway,
	processor MediaProcessor,
	messenger media.Messenger,
	tokens oauth2.TokenSource,
	sessions *session.Manager,
	opts Options,
) *Orchestrator {
	if log == nil {
		log = slog.Default()
	}
	return &Orchestrator{
		cards:     cards,
		gateway:   gw,
		media:     processor,
		messenger: messenger,
		tokens:    tokens,
		sessions:  sessions,
		opts:      opts,
		now:       time.Now,
		logger:    log.With(slog.String("service", "conversation")),
	}
}

// identity maps an inbound message onto the session identity.
func (o *Orchestrator) identity(msg channel.InboundMessage) session.Identity {
	convType := dingtalk.ConversationDirect
	if msg.Conversation.IsGroup() {
		convType = dingtalk.ConversationGroup
	}
	robot := strings.TrimSpace(msg.BotID)
	if robot == "" {
		robot = o.opts.RobotCode
	}
	return session.Identity{
		RobotCode:        robot,
		ConversationID:   msg.Conversation.ID,
		ConversationType: convType,
		SenderStaffID:    msg.Sender.Attribute(channel.AttrStaffID),
		SenderID:         msg.Sender.Attribute(channel.AttrSenderID),
	}
}

func (o *Orchestrator) token(ctx context.Context) string {
	if o.tokens == nil {
		return ""
	}
	tok, err := dingtalk.TokenFor(ctx, o.tokens)
	if err != nil {
		logger.FromContextOr(ctx, o.logger).Warn("access token unavailable", slog.Any("error", err))
		return ""
	}
	return tok.AccessToken
}

// HandleInbound answers one inbound message. Every failure is reported to the chat or
// logged; the returned error is only set when not even an error reply could be sent or
// when ctx ended first, in which case nothing more is sent.
func (o *Orchestrator) HandleInbound(ctx context.Context, msg channel.InboundMessage) error {
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	id := o.identity(msg)
	target := session.ResolveTarget(id)
	base := session.BaseKey(id)

	ctx, log := logger.Scope(ctx, o.logger,
		slog.String("msg_id", msg.MessageID),
		slog.String("conversation_type", msg.Conversation.Type),
		slog.String("session_base", base),
	)

	if o.sessions != nil && o.sessions.IsNewSessionCommand(text) {
		key := o.sessions.Reset(base)
		log.Info("session reset", slog.String("session_key", key))
		return o.reply(ctx, msg, target, dingtalk.TextMessage(NewSessionReply))
	}
	key := base
	if o.sessions != nil {
		key = o.sessions.Key(base)
	}
	ctx, log = logger.Scope(ctx, log, slog.String("session_key", key))

	req := gateway.Request{
		Text:          text,
		SystemPrompts: SystemPrompts(o.opts.UploadPrompt, o.opts.CustomPrompt),
		SessionKey:    key,
	}

	if o.cards != nil {
		if inst := o.cards.Create(ctx, target); inst != nil {
			o.runCard(ctx, inst, req)
			return nil
		}
		log.Info("card unavailable, falling back to plain message")
	}
	return o.runFallback(ctx, msg, target, req)
}

// runCard streams the reply into inst, post-processes media proactively and finalizes the
// card exactly once.
func (o *Orchestrator) runCard(ctx context.Context, inst *card.Instance, req gateway.Request) {
	log := logger.FromContextOr(ctx, o.logger)
	accumulated, streamErr := o.stream(ctx, req, func(acc string) {
		o.cards.Push(ctx, inst, acc)
	})
	if streamErr != nil {
		log.Warn("gateway stream failed", slog.Any("error", streamErr))
	}

	res := o.media.Process(ctx, accumulated, media.Request{
		Route: dingtalk.Route{Proactive: true, Target: inst.Target},
		Token: inst.Token,
	})
	final := o.compose(ctx, res, streamErr != nil)
	if streamErr != nil {
		final = joinBlocks(final, interruptedPrefix+streamErr.Error())
	}
	if strings.TrimSpace(final) == "" {
		final = MediaOnlyPlaceholder
	}
	if err := o.cards.Finalize(ctx, inst, final); err != nil {
		log.Warn("card finalize incomplete", slog.Any("error", err))
	}
}

// runFallback collects the whole reply, processes media through the reply webhook and
// sends a single message.
func (o *Orchestrator) runFallback(ctx context.Context, msg channel.InboundMessage, target dingtalk.Target, req gateway.Request) error {
	log := logger.FromContextOr(ctx, o.logger)
	accumulated, err := o.stream(ctx, req, nil)
	if ctxErr := ctx.Err(); ctxErr != nil {
		log.Info("message abandoned", slog.Any("error", ctxErr))
		return ctxErr
	}
	if err != nil {
		log.Warn("gateway request failed", slog.Any("error", err))
		return o.reply(ctx, msg, target, dingtalk.TextMessage(failedPrefix+err.Error()))
	}

	token := o.token(ctx)
	res := o.media.Process(ctx, accumulated, media.Request{Route: o.route(msg, target), Token: token})
	if err := ctx.Err(); err != nil {
		log.Info("message abandoned", slog.Any("error", err))
		return err
	}
	final := o.compose(ctx, res, false)
	if strings.TrimSpace(final) == "" {
		final = MediaOnlyPlaceholder
	}
	return o.reply(ctx, msg, target, ReplyMessage(final))
}

// stream reads the gateway reply. onDelta receives the accumulated text after every
// fragment. A failure returns whatever was accumulated with the error.
func (o *Orchestrator) stream(ctx context.Context, req gateway.Request, onDelta func(string)) (string, error) {
	s, err := o.gateway.Stream(ctx, req)
	if err != nil {
		return "", err
	}
	if onDelta == nil {
		return gateway.Collect(s)
	}
	defer func() { _ = s.Close() }()

	var b strings.Builder
	for s.Next() {
		b.WriteString(s.Delta())
		onDelta(b.String())
	}
	return b.String(), s.Err()
}

// route prefers the event's reply webhook while it is valid.
func (o *Orchestrator) route(msg channel.InboundMessage, target dingtalk.Target) dingtalk.Route {
	if msg.CanReply(o.now()) {
		return dingtalk.Route{Target: target, Webhook: msg.ReplyWebhook}
	}
	return dingtalk.Route{Proactive: true, Target: target}
}

func (o *Orchestrator) reply(ctx context.Context, msg channel.InboundMessage, target dingtalk.Target, out dingtalk.Message) error {
	route := o.route(msg, target)
	token := ""
	if route.Proactive {
		token = o.token(ctx)
	}
	if err := o.messenger.Send(ctx, token, route, out); err != nil {
		logger.FromContextOr(ctx, o.logger).Error("reply failed", slog.Bool("proactive", route.Proactive), slog.Any("error", err))
		return fmt.Errorf("send reply: %w", err)
	}
	return nil
}

// Deliver sends text to target proactively. Media referenced in text is delivered first
// and the cleaned text follows as one message.
func (o *Orchestrator) Deliver(ctx context.Context, target dingtalk.Target, text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyText
	}
	if strings.TrimSpace(target.ID) == "" {
		return fmt.Errorf("delivery target id is required")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	ctx, log := logger.Scope(ctx, o.logger, slog.Bool("group", target.Group), slog.String("target", target.ID))

	token := o.token(ctx)
	route := dingtalk.Route{Proactive: true, Target: target}
	res := o.media.Process(ctx, text, media.Request{Route: route, Token: token})
	if err := ctx.Err(); err != nil {
		log.Info("delivery abandoned", slog.Any("error", err))
		return err
	}
	final := o.compose(ctx, res, false)
	if strings.TrimSpace(final) == "" {
		final = MediaOnlyPlaceholder
	}
	if err := o.messenger.Send(ctx, token, route, ReplyMessage(final)); err != nil {
		log.Error("proactive send failed", slog.Any("error", err))
		return fmt.Errorf("proactive send: %w", err)
	}
	log.Info("proactive message delivered", slog.Int("statuses", len(res.Statuses)))
	return nil
}

// compose renders res for delivery. An opening tag that never closed is cut together with
// everything after it; an interrupted reply also loses any partial tag or image tail.
func (o *Orchestrator) compose(ctx context.Context, res media.Result, interrupted bool) string {
	if markers.Contains(res.Text) {
		logger.FromContextOr(ctx, o.logger).Warn("dropping unterminated marker")
		res.Text = markers.DropUnterminated(res.Text)
	}
	if interrupted {
		res.Text = markers.Preview(res.Text)
	}
	return res.Compose()
}

func joinBlocks(a, b string) string {
	a = strings.TrimSpace(a)
	if a == "" {
		return b
	}
	return a + "\n\n" + b
}
