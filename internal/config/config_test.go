package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalConfig = `
[dingtalk]
client_id = "ding-app"
client_secret = "secret"
`

func TestDecodeAppliesDefaults(t *testing.T) {
	cfg, err := Decode(minimalConfig)
	require.NoError(t, err)

	assert.Equal(t, DefaultHTTPAddr, cfg.Server.Addr)
	assert.Equal(t, InboundModeStream, cfg.DingTalk.InboundMode)
	assert.Equal(t, DefaultDispatchTimeout, cfg.DingTalk.DispatchTimeout.Duration)
	assert.Equal(t, DefaultUploadTimeout, cfg.DingTalk.UploadTimeout.Duration)
	assert.Equal(t, int64(DefaultMaxUploadBytes), cfg.Media.MaxBytes)
	assert.Equal(t, []string{"/new", "/reset"}, cfg.Session.NewSessionCommands)
	assert.Equal(t, "ding-app", cfg.DingTalk.EffectiveRobotCode())
	assert.False(t, cfg.DingTalk.CardsEnabled())
}

func TestDecodeOverrides(t *testing.T) {
	cfg, err := Decode(minimalConfig + `
robot_code = "robot-1"
card_template_id = "tpl.schema"
inbound_mode = "webhook"
dispatch_timeout = "5s"

[gateway]
base_url = "http://gateway:9000"
model = "agent:main"
password = "pw"

[media]
upload_prompt = true

[session]
idle_timeout = "0s"
`)
	require.NoError(t, err)

	assert.Equal(t, "robot-1", cfg.DingTalk.EffectiveRobotCode())
	assert.True(t, cfg.DingTalk.CardsEnabled())
	assert.Equal(t, InboundModeWebhook, cfg.DingTalk.InboundMode)
	assert.Equal(t, 5*time.Second, cfg.DingTalk.DispatchTimeout.Duration)
	assert.Equal(t, "pw", cfg.Gateway.BearerToken())
	assert.True(t, cfg.Media.UploadPrompt)
	assert.Equal(t, time.Duration(0), cfg.Session.IdleTimeout.Duration)
}

func TestDecodeRequiresCredentials(t *testing.T) {
	_, err := Decode(``)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidConfig))
	assert.Contains(t, err.Error(), "ClientID")
}

func TestDecodeRejectsUnknownInboundMode(t *testing.T) {
	_, err := Decode(minimalConfig + `inbound_mode = "poll"`)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidConfig))
}

func TestDecodeRejectsBadDuration(t *testing.T) {
	_, err := Decode(minimalConfig + `upload_timeout = "soon"`)
	require.Error(t, err)
}

func TestGatewayBearerTokenPrefersToken(t *testing.T) {
	cfg := GatewayConfig{Token: " tok ", Password: "pw"}
	assert.Equal(t, "tok", cfg.BearerToken())
	assert.Equal(t, "", GatewayConfig{}.BearerToken())
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(minimalConfig), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "secret", cfg.DingTalk.ClientSecret)
}

func TestLoadMissingFileFailsValidation(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidConfig))
}
