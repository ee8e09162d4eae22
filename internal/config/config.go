// Package config loads and exposes application configuration (TOML).
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
)

// Default configuration values used when a field is missing in TOML.
const (
	DefaultConfigPath      = "config.toml"
	DefaultHTTPAddr        = ":8080"
	DefaultAPIBaseURL      = "https://api.dingtalk.com"
	DefaultOAPIBaseURL     = "https://oapi.dingtalk.com"
	DefaultGatewayBaseURL  = "http://127.0.0.1:18789"
	DefaultGatewayModel    = "default"
	DefaultInboundMode     = InboundModeStream
	DefaultMaxUploadBytes  = 20 * 1024 * 1024
	DefaultThumbnailHeight = 360
	DefaultDispatchTimeout = 10 * time.Second
	DefaultUploadTimeout   = 60 * time.Second
	DefaultSessionIdle     = 30 * time.Minute
	DefaultFFmpegPath      = "ffmpeg"
	DefaultFFprobePath     = "ffprobe"

	InboundModeStream  = "stream"
	InboundModeWebhook = "webhook"
)

// DefaultNewSessionCommands are the chat phrases that start a fresh session.
var DefaultNewSessionCommands = []string{"/new", "/reset"}

// Config is the root application configuration loaded from TOML.
type Config struct {
	Log      LogConfig      `toml:"log"`
	Server   ServerConfig   `toml:"server"`
	DingTalk DingTalkConfig `toml:"dingtalk"`
	Gateway  GatewayConfig  `toml:"gateway"`
	Media    MediaConfig    `toml:"media"`
	Prompt   PromptConfig   `toml:"prompt"`
	Session  SessionConfig  `toml:"session"`
}

// LogConfig holds logging level and format (e.g. level=info, format=text).
type LogConfig struct {
	Level  string `toml:"level" validate:"omitempty,oneof=debug info warn warning error"`
	Format string `toml:"format" validate:"omitempty,oneof=text json"`
}

// ServerConfig holds the HTTP listen address used for health, webhook callbacks and the send API.
type ServerConfig struct {
	Addr string `toml:"addr" validate:"required"`
	// APIToken guards /api routes with a bearer token when set.
	APIToken string `toml:"api_token"`
}

// DingTalkConfig holds the robot application credentials and platform endpoints.
type DingTalkConfig struct {
	ClientID        string   `toml:"client_id" validate:"required"`
	ClientSecret    string   `toml:"client_secret" validate:"required"`
	RobotCode       string   `toml:"robot_code"`
	CardTemplateID  string   `toml:"card_template_id"`
	InboundMode     string   `toml:"inbound_mode" validate:"oneof=stream webhook"`
	APIBaseURL      string   `toml:"api_base_url" validate:"required,url"`
	OAPIBaseURL     string   `toml:"oapi_base_url" validate:"required,url"`
	DispatchTimeout Duration `toml:"dispatch_timeout"`
	UploadTimeout   Duration `toml:"upload_timeout"`
}

// EffectiveRobotCode returns the robot code, which defaults to the client id.
func (c DingTalkConfig) EffectiveRobotCode() string {
	if code := strings.TrimSpace(c.RobotCode); code != "" {
		return code
	}
	return strings.TrimSpace(c.ClientID)
}

// CardsEnabled reports whether a streaming card template is configured.
func (c DingTalkConfig) CardsEnabled() bool {
	return strings.TrimSpace(c.CardTemplateID) != ""
}

// GatewayConfig holds the LLM gateway endpoint and its optional credential.
type GatewayConfig struct {
	BaseURL  string `toml:"base_url" validate:"required,url"`
	Model    string `toml:"model" validate:"required"`
	Token    string `toml:"token"`
	Password string `toml:"password"`
}

// BearerToken returns the credential sent to the gateway; token wins over password.
func (c GatewayConfig) BearerToken() string {
	if token := strings.TrimSpace(c.Token); token != "" {
		return token
	}
	return strings.TrimSpace(c.Password)
}

// MediaConfig controls media marker handling and the executables used to inspect media.
type MediaConfig struct {
	UploadPrompt    bool   `toml:"upload_prompt"`
	MaxBytes        int64  `toml:"max_bytes" validate:"min=1"`
	FFmpegPath      string `toml:"ffmpeg_path" validate:"required"`
	FFprobePath     string `toml:"ffprobe_path" validate:"required"`
	ThumbnailHeight int    `toml:"thumbnail_height" validate:"min=16"`
}

// PromptConfig holds the operator supplied system prompt.
type PromptConfig struct {
	Custom string `toml:"custom"`
}

// SessionConfig controls conversation session rollover.
type SessionConfig struct {
	IdleTimeout        Duration `toml:"idle_timeout"`
	NewSessionCommands []string `toml:"new_session_commands"`
}

// Duration is a time.Duration that decodes from TOML strings such as "10s" or "30m".
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a configuration populated with every default value.
func Defaults() Config {
	return Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Server: ServerConfig{
			Addr: DefaultHTTPAddr,
		},
		DingTalk: DingTalkConfig{
			InboundMode:     DefaultInboundMode,
			APIBaseURL:      DefaultAPIBaseURL,
			OAPIBaseURL:     DefaultOAPIBaseURL,
			DispatchTimeout: Duration{DefaultDispatchTimeout},
			UploadTimeout:   Duration{DefaultUploadTimeout},
		},
		Gateway: GatewayConfig{
			BaseURL: DefaultGatewayBaseURL,
			Model:   DefaultGatewayModel,
		},
		Media: MediaConfig{
			MaxBytes:        DefaultMaxUploadBytes,
			FFmpegPath:      DefaultFFmpegPath,
			FFprobePath:     DefaultFFprobePath,
			ThumbnailHeight: DefaultThumbnailHeight,
		},
		Session: SessionConfig{
			IdleTimeout:        Duration{DefaultSessionIdle},
			NewSessionCommands: append([]string(nil), DefaultNewSessionCommands...),
		},
	}
}

// Load reads and parses the TOML config file at path, applies default values for missing
// fields, and validates the result. A missing file yields defaults, which fail validation
// because the application credentials are required.
func Load(path string) (Config, error) {
	cfg := Defaults()

	if path == "" {
		path = DefaultConfigPath
	}

	if _, err := os.Stat(path); err != nil {
		if !os.IsNotExist(err) {
			return cfg, err
		}
	} else if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, fmt.Errorf("decode %s: %w", path, err)
	}

	if err := Validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Decode parses TOML from a string on top of the defaults and validates it.
func Decode(data string) (Config, error) {
	cfg := Defaults()
	if _, err := toml.Decode(data, &cfg); err != nil {
		return cfg, err
	}
	if err := Validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// ErrInvalidConfig marks every validation failure returned by Validate.
var ErrInvalidConfig = errors.New("invalid config")

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints once at load time.
func Validate(cfg Config) error {
	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s (%s)", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(fields, ", "))
		}
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if cfg.DingTalk.DispatchTimeout.Duration <= 0 || cfg.DingTalk.UploadTimeout.Duration <= 0 {
		return fmt.Errorf("%w: dingtalk timeouts must be positive", ErrInvalidConfig)
	}
	if cfg.Session.IdleTimeout.Duration < 0 {
		return fmt.Errorf("%w: session idle_timeout must not be negative", ErrInvalidConfig)
	}
	return nil
}
