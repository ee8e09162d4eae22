package media

import (
	"context"
	"strings"

	"github.com/memohai/dingtalk-bridge/internal/dingtalk"
)

// AudioFilePlaceholderDuration is the duration (ms) sent for voice files routed through
// the file marker pipeline, which does not probe the file.
const AudioFilePlaceholderDuration = "60000"

// Messenger dispatches a message along a route.
type Messenger interface {
	Send(ctx context.Context, token string, route dingtalk.Route, msg dingtalk.Message) error
}

// Request carries the per-message context of a post-processing run.
type Request struct {
	Route dingtalk.Route
	// Token is the access token snapshot used for uploads and sends.
	Token string
}

// Result is the cleaned reply text and the status lines produced for its media.
type Result struct {
	Text     string
	Statuses []string
}

// Compose joins the cleaned text and status lines for display.
func (r Result) Compose() string {
	parts := make([]string, 0, 2)
	if text := strings.TrimSpace(r.Text); text != "" {
		parts = append(parts, text)
	}
	if len(r.Statuses) > 0 {
		parts = append(parts, strings.Join(r.Statuses, "\n"))
	}
	return strings.Join(parts, "\n\n")
}

// VideoInfo is the probed metadata of a video file.
type VideoInfo struct {
	// DurationSeconds is truncated to whole seconds.
	DurationSeconds int
	Width           int
	Height          int
}

// Prober extracts media metadata and renders video thumbnails.
type Prober interface {
	ProbeVideo(ctx context.Context, path string) (VideoInfo, error)
	// ProbeAudioMillis returns the audio duration in milliseconds.
	ProbeAudioMillis(ctx context.Context, path string) (int64, error)
	// Thumbnail writes a single JPEG frame taken at the one second mark to dst.
	Thumbnail(ctx context.Context, path, dst string, height int) error
}
