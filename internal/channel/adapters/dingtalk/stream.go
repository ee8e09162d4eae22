package dingtalk

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/memohai/dingtalk-stream-sdk-go/chatbot"
	"github.com/memohai/dingtalk-stream-sdk-go/client"
	sdklogger "github.com/memohai/dingtalk-stream-sdk-go/logger"

	"github.com/memohai/dingtalk-bridge/internal/channel"
	"github.com/memohai/dingtalk-bridge/internal/channel/adapters/adapterutil"
	dtapi "github.com/memohai/dingtalk-bridge/internal/dingtalk"
)

// StreamAdapter receives robot callbacks over a stream-mode connection.
type StreamAdapter struct {
	clientID     string
	clientSecret string
	logger       *slog.Logger
}

// NewStreamAdapter creates a stream receiver for the app credential.
func NewStreamAdapter(log *slog.Logger, clientID, clientSecret string) *StreamAdapter {
	if log == nil {
		log = slog.Default()
	}
	return &StreamAdapter{
		clientID:     strings.TrimSpace(clientID),
		clientSecret: strings.TrimSpace(clientSecret),
		logger:       log.With(slog.String("adapter", "dingtalk")),
	}
}

// Type returns the DingTalk channel type.
func (a *StreamAdapter) Type() channel.ChannelType {
	return channel.TypeDingTalk
}

// FromSDK converts the SDK callback model to a CallbackEvent through its JSON form.
// The SDK model has no robotCode field, so the event's RobotCode is always empty and the
// message's BotID falls back to the configured robot code.
func FromSDK(data *chatbot.BotCallbackDataModel) (dtapi.CallbackEvent, error) {
	if data == nil {
		return dtapi.CallbackEvent{}, fmt.Errorf("callback data is nil")
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return dtapi.CallbackEvent{}, fmt.Errorf("encode callback: %w", err)
	}
	return dtapi.ParseCallback(raw)
}

// Connect opens the stream connection. Each callback is acknowledged at once and handled
// on its own goroutine bound to the connection context.
func (a *StreamAdapter) Connect(ctx context.Context, handler channel.InboundHandler) (channel.Connection, error) {
	if a.clientID == "" || a.clientSecret == "" {
		return nil, dtapi.ErrMissingCredentials
	}
	a.logger.Info("start", slog.String("client_id", a.clientID))
	sdklogger.SetLogger(newStreamSlogLogger(a.logger))

	connCtx, cancel := context.WithCancel(ctx)
	cli := client.NewStreamClient(client.WithAppCredential(client.NewAppCredentialConfig(a.clientID, a.clientSecret)))
	cli.RegisterChatBotCallbackRouter(func(_ context.Context, data *chatbot.BotCallbackDataModel) ([]byte, error) {
		event, err := FromSDK(data)
		if err != nil {
			a.logger.Warn("decode callback failed", slog.Any("error", err))
			return []byte(""), nil
		}
		a.dispatch(connCtx, ToInbound(event, channel.SourceStream), handler)
		return []byte(""), nil
	})

	if err := cli.Start(connCtx); err != nil {
		cancel()
		return nil, fmt.Errorf("dingtalk stream start: %w", err)
	}

	stop := func(context.Context) error {
		cancel()
		cli.Close()
		return nil
	}
	return channel.NewConnection(channel.TypeDingTalk, stop), nil
}

func (a *StreamAdapter) dispatch(ctx context.Context, msg channel.InboundMessage, handler channel.InboundHandler) {
	Dispatch(ctx, a.logger, msg, handler)
}

// Dispatch logs msg and hands it to handler on a new goroutine. Messages without text
// are dropped.
func Dispatch(ctx context.Context, log *slog.Logger, msg channel.InboundMessage, handler channel.InboundHandler) {
	if strings.TrimSpace(msg.Text) == "" {
		log.Debug("inbound skipped: no text", slog.String("msg_id", msg.MessageID), slog.String("msgtype", msg.MsgType))
		return
	}
	log.Info(
		"inbound received",
		slog.String("msg_id", msg.MessageID),
		slog.String("source", msg.Source),
		slog.String("conversation_type", msg.Conversation.Type),
		slog.String("text", adapterutil.SummarizeText(msg.Text)),
	)
	go func() {
		if err := handler(ctx, msg); err != nil {
			log.Error("handle inbound failed", slog.String("msg_id", msg.MessageID), slog.Any("error", err))
		}
	}()
}
