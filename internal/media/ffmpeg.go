package media

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os/exec"
	"strconv"
	"strings"
)

// FFmpeg probes media with ffprobe and renders thumbnails with ffmpeg.
type FFmpeg struct {
	FFmpegPath  string
	FFprobePath string
}

type ffprobeOutput struct {
	Streams []struct {
		Width  int `json:"width"`
		Height int `json:"height"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

func (f FFmpeg) ffprobe(ctx context.Context, args ...string) (ffprobeOutput, error) {
	bin := f.FFprobePath
	if bin == "" {
		bin = "ffprobe"
	}
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, bin, args...) //nolint:gosec // executable is operator configured
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return ffprobeOutput{}, fmt.Errorf("ffprobe: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	var out ffprobeOutput
	if err := json.Unmarshal(stdout.Bytes(), &out); err != nil {
		return ffprobeOutput{}, fmt.Errorf("ffprobe: decode output: %w", err)
	}
	return out, nil
}

func parseSeconds(raw string) (float64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "N/A" {
		return 0, fmt.Errorf("duration unavailable")
	}
	secs, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("parse duration %q: %w", raw, err)
	}
	return secs, nil
}

// ProbeVideo reads duration and the first video stream's dimensions.
func (f FFmpeg) ProbeVideo(ctx context.Context, path string) (VideoInfo, error) {
	out, err := f.ffprobe(ctx, "-v", "error", "-select_streams", "v:0",
		"-show_entries", "stream=width,height:format=duration", "-of", "json", path)
	if err != nil {
		return VideoInfo{}, err
	}
	secs, err := parseSeconds(out.Format.Duration)
	if err != nil {
		return VideoInfo{}, err
	}
	info := VideoInfo{DurationSeconds: int(secs)}
	if len(out.Streams) > 0 {
		info.Width = out.Streams[0].Width
		info.Height = out.Streams[0].Height
	}
	return info, nil
}

// ProbeAudioMillis reads the container duration in milliseconds.
func (f FFmpeg) ProbeAudioMillis(ctx context.Context, path string) (int64, error) {
	out, err := f.ffprobe(ctx, "-v", "error", "-show_entries", "format=duration", "-of", "json", path)
	if err != nil {
		return 0, err
	}
	secs, err := parseSeconds(out.Format.Duration)
	if err != nil {
		return 0, err
	}
	return int64(math.Round(secs * 1000)), nil
}

// Thumbnail renders the frame at one second, scaled to height with the aspect ratio kept.
func (f FFmpeg) Thumbnail(ctx context.Context, path, dst string, height int) error {
	bin := f.FFmpegPath
	if bin == "" {
		bin = "ffmpeg"
	}
	if height <= 0 {
		height = 360
	}
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, bin, "-y", "-loglevel", "error", "-ss", "1", "-i", path, //nolint:gosec // executable is operator configured
		"-frames:v", "1", "-vf", fmt.Sprintf("scale=-2:%d", height), dst)
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("ffmpeg: %w: %s", err, strings.TrimSpace(stderr.String()))
	}
	return nil
}
