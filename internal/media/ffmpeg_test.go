package media

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseSeconds(t *testing.T) {
	t.Parallel()

	cases := []struct {
		raw     string
		want    float64
		wantErr bool
	}{
		{raw: "12.480000", want: 12.48},
		{raw: " 3 ", want: 3},
		{raw: "N/A", wantErr: true},
		{raw: "", wantErr: true},
		{raw: "abc", wantErr: true},
	}
	for _, tc := range cases {
		got, err := parseSeconds(tc.raw)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("expected error for %q", tc.raw)
			}
			continue
		}
		if err != nil || got != tc.want {
			t.Fatalf("parseSeconds(%q) = %v, %v", tc.raw, got, err)
		}
	}
}

// fakeTool writes an executable shell script that prints body.
func fakeTool(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script tools need a POSIX shell")
	}
	path := filepath.Join(t.TempDir(), "tool")
	script := "#!/bin/sh\ncat <<'EOF'\n" + body + "\nEOF\n"
	require.NoError(t, os.WriteFile(path, []byte(script), 0o700))
	return path
}

func TestFFmpegProbe(t *testing.T) {
	probe := fakeTool(t, `{"streams":[{"width":1280,"height":720}],"format":{"duration":"9.87"}}`)
	f := FFmpeg{FFprobePath: probe}

	info, err := f.ProbeVideo(context.Background(), "/tmp/clip.mp4")
	require.NoError(t, err)
	require.Equal(t, VideoInfo{DurationSeconds: 9, Width: 1280, Height: 720}, info)

	ms, err := f.ProbeAudioMillis(context.Background(), "/tmp/voice.mp3")
	require.NoError(t, err)
	require.Equal(t, int64(9870), ms)
}

func TestFFmpegProbeFailure(t *testing.T) {
	f := FFmpeg{FFprobePath: filepath.Join(t.TempDir(), "missing-ffprobe")}
	_, err := f.ProbeVideo(context.Background(), "/tmp/clip.mp4")
	require.Error(t, err)

	bad := fakeTool(t, `not json`)
	_, err = FFmpeg{FFprobePath: bad}.ProbeAudioMillis(context.Background(), "/tmp/a.mp3")
	require.Error(t, err)
}
