package main

import (
	"context"
	"fmt"
	"log/slog"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"golang.org/x/oauth2"

	"github.com/memohai/dingtalk-bridge/internal/card"
	"github.com/memohai/dingtalk-bridge/internal/channel"
	dtadapter "github.com/memohai/dingtalk-bridge/internal/channel/adapters/dingtalk"
	"github.com/memohai/dingtalk-bridge/internal/config"
	"github.com/memohai/dingtalk-bridge/internal/conversation"
	"github.com/memohai/dingtalk-bridge/internal/dingtalk"
	"github.com/memohai/dingtalk-bridge/internal/gateway"
	"github.com/memohai/dingtalk-bridge/internal/handlers"
	"github.com/memohai/dingtalk-bridge/internal/logger"
	"github.com/memohai/dingtalk-bridge/internal/media"
	"github.com/memohai/dingtalk-bridge/internal/server"
	"github.com/memohai/dingtalk-bridge/internal/session"
)

// baseContext lives from start to stop of the app and bounds background message handling.
type baseContext struct {
	context.Context
}

func newApp(cfg config.Config) *fx.App {
	return fx.New(
		fx.Supply(cfg),
		fx.Provide(
			provideLogger,
			provideBaseContext,

			provideDingTalkClient,
			provideTokenSource,
			provideCardController,
			provideGatewayClient,
			provideMediaProcessor,
			provideSessionManager,
			provideOrchestrator,

			provideServerHandler(handlers.NewPingHandler),
			provideServerHandler(provideMessageHandler),
			provideServerHandler(provideWebhookHandler),

			provideServer,
		),
		fx.Invoke(
			startStreamReceiver,
			startServer,
		),
		fx.WithLogger(func(logger *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: logger.With(slog.String("component", "fx"))}
		}),
	)
}

func provideServerHandler(fn any) any {
	return fx.Annotate(
		fn,
		fx.As(new(server.Handler)),
		fx.ResultTags(`group:"server_handlers"`),
	)
}

func provideLogger(cfg config.Config) *slog.Logger {
	logger.Init(cfg.Log.Level, cfg.Log.Format)
	return logger.L
}

func provideBaseContext(lc fx.Lifecycle) baseContext {
	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			cancel()
			return nil
		},
	})
	return baseContext{ctx}
}

func provideDingTalkClient(log *slog.Logger, cfg config.Config) *dingtalk.Client {
	dt := cfg.DingTalk
	return dingtalk.NewClient(log, dt.EffectiveRobotCode(),
		dingtalk.WithBaseURLs(dt.APIBaseURL, dt.OAPIBaseURL),
		dingtalk.WithTimeouts(dt.DispatchTimeout.Duration, dt.UploadTimeout.Duration),
	)
}

func provideTokenSource(log *slog.Logger, base baseContext, client *dingtalk.Client, cfg config.Config) oauth2.TokenSource {
	cache := dingtalk.NewTokenCache(log, client.FetchAccessToken)
	return cache.Source(base, cfg.DingTalk.ClientID, cfg.DingTalk.ClientSecret)
}

func provideCardController(log *slog.Logger, client *dingtalk.Client, tokens oauth2.TokenSource, cfg config.Config) *card.Controller {
	if !cfg.DingTalk.CardsEnabled() {
		log.Info("card_template_id not set, replies are sent as plain messages")
	}
	return card.NewController(log, client, tokens, cfg.DingTalk.CardTemplateID)
}

func provideGatewayClient(log *slog.Logger, cfg config.Config) *gateway.Client {
	return gateway.NewClient(log, cfg.Gateway.BaseURL, cfg.Gateway.Model, cfg.Gateway.BearerToken())
}

func provideMediaProcessor(log *slog.Logger, client *dingtalk.Client, cfg config.Config) *media.Processor {
	prober := media.FFmpeg{FFmpegPath: cfg.Media.FFmpegPath, FFprobePath: cfg.Media.FFprobePath}
	return media.NewProcessor(log, client, client, prober, media.Options{
		MaxBytes:        cfg.Media.MaxBytes,
		ThumbnailHeight: cfg.Media.ThumbnailHeight,
	})
}

func provideSessionManager(cfg config.Config) *session.Manager {
	return session.NewManager(cfg.Session.IdleTimeout.Duration, cfg.Session.NewSessionCommands)
}

func provideOrchestrator(
	log *slog.Logger,
	cards *card.Controller,
	gw *gateway.Client,
	processor *media.Processor,
	client *dingtalk.Client,
	tokens oauth2.TokenSource,
	sessions *session.Manager,
	cfg config.Config,
) *conversation.Orchestrator {
	return conversation.NewOrchestrator(log, cards, gw, processor, client, tokens, sessions, conversation.Options{
		UploadPrompt: cfg.Media.UploadPrompt,
		CustomPrompt: cfg.Prompt.Custom,
		RobotCode:    cfg.DingTalk.EffectiveRobotCode(),
	})
}

func provideMessageHandler(log *slog.Logger, orch *conversation.Orchestrator) *handlers.MessageHandler {
	return handlers.NewMessageHandler(log, orch)
}

// provideWebhookHandler mounts the signed callback route. Only HTTP-mode robots post to it.
func provideWebhookHandler(log *slog.Logger, base baseContext, orch *conversation.Orchestrator, cfg config.Config) *handlers.WebhookHandler {
	if cfg.DingTalk.InboundMode == config.InboundModeWebhook {
		log.Info("inbound mode webhook", slog.String("path", "/dingtalk/callback"))
	}
	return handlers.NewWebhookHandler(log, base, cfg.DingTalk.ClientSecret, orch.HandleInbound)
}

type serverParams struct {
	fx.In

	Logger         *slog.Logger
	Config         config.Config
	ServerHandlers []server.Handler `group:"server_handlers"`
}

func provideServer(params serverParams) *server.Server {
	return server.NewServer(params.Logger, params.Config.Server.Addr, params.Config.Server.APIToken, params.ServerHandlers...)
}

func startStreamReceiver(lc fx.Lifecycle, log *slog.Logger, base baseContext, orch *conversation.Orchestrator, cfg config.Config) {
	if cfg.DingTalk.InboundMode != config.InboundModeStream {
		return
	}
	var receiver channel.Receiver = dtadapter.NewStreamAdapter(log, cfg.DingTalk.ClientID, cfg.DingTalk.ClientSecret)
	var conn channel.Connection
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			c, err := receiver.Connect(base, orch.HandleInbound)
			if err != nil {
				return fmt.Errorf("connect %s stream: %w", receiver.Type(), err)
			}
			conn = c
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if conn == nil || !conn.Running() {
				return nil
			}
			return conn.Stop(ctx)
		},
	})
}

func startServer(lc fx.Lifecycle, log *slog.Logger, srv *server.Server, shutdowner fx.Shutdowner) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				if err := srv.Start(); err != nil {
					log.Error("server failed", slog.Any("error", err))
					_ = shutdowner.Shutdown()
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if err := srv.Stop(ctx); err != nil {
				return fmt.Errorf("server stop: %w", err)
			}
			return nil
		},
	})
}
