package media

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memohai/dingtalk-bridge/internal/attachment"
	"github.com/memohai/dingtalk-bridge/internal/dingtalk"
	"github.com/memohai/dingtalk-bridge/internal/logger"
	"github.com/memohai/dingtalk-bridge/internal/markers"
)

type uploadCall struct {
	Path string
	Kind attachment.Kind
}

type fakeUploader struct {
	mu    sync.Mutex
	calls []uploadCall
	fail  func(path string, kind attachment.Kind) error
}

func (u *fakeUploader) Upload(_ context.Context, localPath string, kind attachment.Kind, _ string, _ int64) (string, error) {
	u.mu.Lock()
	u.calls = append(u.calls, uploadCall{Path: localPath, Kind: kind})
	u.mu.Unlock()
	if u.fail != nil {
		if err := u.fail(localPath, kind); err != nil {
			return "", err
		}
	}
	return "@" + filepath.Base(localPath), nil
}

type sentMessage struct {
	Route dingtalk.Route
	Msg   dingtalk.Message
}

type fakeMessenger struct {
	mu   sync.Mutex
	sent []sentMessage
	err  error
}

func (m *fakeMessenger) Send(_ context.Context, _ string, route dingtalk.Route, msg dingtalk.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, sentMessage{Route: route, Msg: msg})
	return nil
}

type fakeProber struct {
	mu         sync.Mutex
	thumbnails []string
	videoErr   error
	thumbErr   error
	audioMS    int64
}

func (p *fakeProber) ProbeVideo(context.Context, string) (VideoInfo, error) {
	if p.videoErr != nil {
		return VideoInfo{}, p.videoErr
	}
	return VideoInfo{DurationSeconds: 12, Width: 640, Height: 360}, nil
}

func (p *fakeProber) ProbeAudioMillis(context.Context, string) (int64, error) {
	return p.audioMS, nil
}

func (p *fakeProber) Thumbnail(_ context.Context, _, dst string, _ int) error {
	p.mu.Lock()
	p.thumbnails = append(p.thumbnails, dst)
	p.mu.Unlock()
	if p.thumbErr != nil {
		return p.thumbErr
	}
	return os.WriteFile(dst, []byte("jpeg"), 0o600)
}

func touch(t *testing.T, dir, name string, size int) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, make([]byte, size), 0o600))
	return path
}

func newTestProcessor(u *fakeUploader, m *fakeMessenger, p *fakeProber, tempDir string) *Processor {
	return NewProcessor(logger.Discard(), u, m, p, Options{MaxBytes: 1024, TempDir: tempDir})
}

var proactiveReq = Request{
	Route: dingtalk.Route{Proactive: true, Target: dingtalk.Target{ID: "staff-1"}},
	Token: "tok",
}

func TestVideoThumbnailRemovedWhenUploadFails(t *testing.T) {
	dir := t.TempDir()
	thumbDir := t.TempDir()
	video := touch(t, dir, "clip.mp4", 10)

	uploader := &fakeUploader{fail: func(string, attachment.Kind) error { return dingtalk.ErrMissingMediaID }}
	prober := &fakeProber{}
	messenger := &fakeMessenger{}
	proc := newTestProcessor(uploader, messenger, prober, thumbDir)

	in := `[DINGTALK_VIDEO]{"path":"` + video + `"}[/DINGTALK_VIDEO]`
	res := proc.Process(context.Background(), in, proactiveReq)

	out := res.Compose()
	require.Len(t, res.Statuses, 1)
	assert.True(t, strings.HasPrefix(out, "⚠️ 视频上传失败: clip.mp4"), out)
	assert.Empty(t, res.Text)
	assert.False(t, markers.Contains(out))

	require.Len(t, prober.thumbnails, 1)
	_, err := os.Stat(prober.thumbnails[0])
	assert.True(t, errors.Is(err, os.ErrNotExist), "thumbnail must be removed")
	assert.Empty(t, messenger.sent)
}

func TestVideoThumbnailRemovedOnEveryPath(t *testing.T) {
	cases := []struct {
		name      string
		uploader  *fakeUploader
		prober    *fakeProber
		messenger *fakeMessenger
		status    string
	}{
		{
			name:      "success",
			uploader:  &fakeUploader{},
			prober:    &fakeProber{},
			messenger: &fakeMessenger{},
			status:    "✅ 视频已发送: clip.mp4",
		},
		{
			name:      "thumbnail fails",
			uploader:  &fakeUploader{},
			prober:    &fakeProber{thumbErr: errors.New("no frame")},
			messenger: &fakeMessenger{},
			status:    "⚠️ 视频封面生成失败: clip.mp4 (no frame)",
		},
		{
			name: "cover upload fails",
			uploader: &fakeUploader{fail: func(_ string, kind attachment.Kind) error {
				if kind == attachment.KindImage {
					return errors.New("quota")
				}
				return nil
			}},
			prober:    &fakeProber{},
			messenger: &fakeMessenger{},
			status:    "⚠️ 视频封面上传失败: clip.mp4 (quota)",
		},
		{
			name:      "send fails",
			uploader:  &fakeUploader{},
			prober:    &fakeProber{},
			messenger: &fakeMessenger{err: errors.New("denied")},
			status:    "⚠️ 视频发送失败: clip.mp4 (denied)",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			dir := t.TempDir()
			video := touch(t, dir, "clip.mp4", 10)
			proc := newTestProcessor(tc.uploader, tc.messenger, tc.prober, t.TempDir())

			res := proc.Process(context.Background(),
				`intro [DINGTALK_VIDEO]{"path":"`+video+`"}[/DINGTALK_VIDEO]`, proactiveReq)

			assert.Equal(t, []string{tc.status}, res.Statuses)
			assert.Equal(t, "intro", res.Text)
			for _, thumb := range tc.prober.thumbnails {
				_, err := os.Stat(thumb)
				assert.True(t, errors.Is(err, os.ErrNotExist), "thumbnail %s left behind", thumb)
			}
		})
	}
}

func TestVideoMessageCarriesHandlesAndDuration(t *testing.T) {
	dir := t.TempDir()
	video := touch(t, dir, "clip.mp4", 10)
	messenger := &fakeMessenger{}
	proc := newTestProcessor(&fakeUploader{}, messenger, &fakeProber{}, t.TempDir())

	proc.Process(context.Background(), `[DINGTALK_VIDEO]{"path":"file://`+video+`"}[/DINGTALK_VIDEO]`, proactiveReq)

	require.Len(t, messenger.sent, 1)
	msg := messenger.sent[0].Msg
	assert.Equal(t, dingtalk.MessageVideo, msg.Kind)
	assert.Equal(t, "@clip.mp4", msg.MediaID)
	assert.True(t, strings.HasPrefix(msg.ThumbMediaID, "@dingtalk-thumb-"))
	assert.Equal(t, "12", msg.Duration)
	assert.Equal(t, proactiveReq.Route, messenger.sent[0].Route)
}

func TestBatchContinuesAfterItemFailure(t *testing.T) {
	dir := t.TempDir()
	good := touch(t, dir, "good.mp4", 10)
	messenger := &fakeMessenger{}
	proc := newTestProcessor(&fakeUploader{}, messenger, &fakeProber{}, t.TempDir())

	in := `[DINGTALK_VIDEO]{"path":"/tmp/missing-clip-x.mp4"}[/DINGTALK_VIDEO]` +
		`[DINGTALK_VIDEO]{"path":"` + good + `"}[/DINGTALK_VIDEO]`
	res := proc.Process(context.Background(), in, proactiveReq)

	assert.Equal(t, []string{
		"⚠️ 视频文件不存在: missing-clip-x.mp4",
		"✅ 视频已发送: good.mp4",
	}, res.Statuses)
	assert.Len(t, messenger.sent, 1)
}

func TestAudioDurationProbedVersusPlaceholder(t *testing.T) {
	dir := t.TempDir()
	voice := touch(t, dir, "voice.mp3", 10)
	memo := touch(t, dir, "memo.wav", 10)
	uploader := &fakeUploader{}
	messenger := &fakeMessenger{}
	proc := newTestProcessor(uploader, messenger, &fakeProber{audioMS: 4321}, t.TempDir())

	in := `[DINGTALK_AUDIO]{"path":"` + voice + `"}[/DINGTALK_AUDIO]` +
		`[DINGTALK_FILE]{"path":"` + memo + `","fileName":"memo.wav","fileType":"wav"}[/DINGTALK_FILE]`
	res := proc.Process(context.Background(), in, proactiveReq)

	assert.Equal(t, []string{"✅ 音频已发送: voice.mp3", "✅ 文件已发送: memo.wav"}, res.Statuses)
	require.Len(t, messenger.sent, 2)

	probed := messenger.sent[0].Msg
	assert.Equal(t, dingtalk.MessageAudio, probed.Kind)
	assert.Equal(t, "4321", probed.Duration)

	placeholder := messenger.sent[1].Msg
	assert.Equal(t, dingtalk.MessageAudio, placeholder.Kind)
	assert.Equal(t, AudioFilePlaceholderDuration, placeholder.Duration)

	require.Len(t, uploader.calls, 2)
	assert.Equal(t, attachment.KindVoice, uploader.calls[0].Kind)
	assert.Equal(t, attachment.KindVoice, uploader.calls[1].Kind)
}

func TestFileMarker(t *testing.T) {
	dir := t.TempDir()
	report := touch(t, dir, "report.pdf", 10)
	big := touch(t, dir, "huge.zip", 2048)
	uploader := &fakeUploader{}
	messenger := &fakeMessenger{}
	proc := newTestProcessor(uploader, messenger, &fakeProber{}, t.TempDir())

	in := "Files:\n" +
		`[DINGTALK_FILE]{"path":"` + report + `","fileName":"Q3.pdf","fileType":"pdf"}[/DINGTALK_FILE]` + "\n" +
		`[DINGTALK_FILE]{"path":"` + big + `"}[/DINGTALK_FILE]`
	res := proc.Process(context.Background(), in, proactiveReq)

	assert.Equal(t, "Files:", res.Text)
	assert.Equal(t, []string{"✅ 文件已发送: Q3.pdf", "⚠️ 文件过大: huge.zip (2.0KB > 1.0KB)"}, res.Statuses)
	require.Len(t, uploader.calls, 1)
	assert.Equal(t, attachment.KindFile, uploader.calls[0].Kind)
	require.Len(t, messenger.sent, 1)
	assert.Equal(t, dingtalk.Message{
		Kind: dingtalk.MessageFile, MediaID: "@report.pdf", FileName: "Q3.pdf", FileType: "pdf",
	}, messenger.sent[0].Msg)
}

func TestNoMarkerLeaksOnFailure(t *testing.T) {
	proc := newTestProcessor(&fakeUploader{}, &fakeMessenger{}, &fakeProber{}, t.TempDir())
	in := `a [DINGTALK_VIDEO]{"path":"/tmp/nope-1.mp4"}[/DINGTALK_VIDEO] ` +
		`b [DINGTALK_AUDIO]{"path":"/tmp/nope-2.mp3"}[/DINGTALK_AUDIO] ` +
		`c [DINGTALK_FILE]{"path":"/tmp/nope-3.pdf"}[/DINGTALK_FILE] ` +
		`d [DINGTALK_FILE]{broken}[/DINGTALK_FILE]`
	res := proc.Process(context.Background(), in, proactiveReq)

	out := res.Compose()
	assert.False(t, markers.Contains(out), out)
	assert.Equal(t, []string{
		"⚠️ 视频文件不存在: nope-1.mp4",
		"⚠️ 音频文件不存在: nope-2.mp3",
		"⚠️ 文件不存在: nope-3.pdf",
	}, res.Statuses)
}

func TestImagesReplacedInPlace(t *testing.T) {
	dir := t.TempDir()
	chart := touch(t, dir, "chart.png", 10)
	uploader := &fakeUploader{fail: func(path string, _ attachment.Kind) error {
		if strings.HasSuffix(path, "gone.png") {
			return dingtalk.ErrFileNotFound
		}
		return nil
	}}
	proc := NewProcessor(logger.Discard(), uploader, &fakeMessenger{}, &fakeProber{}, Options{
		Scanner: markers.NewScanner(markers.PathRules{PosixRoots: []string{strings.Split(dir, "/")[1]}}),
	})

	in := "Look: ![sales](" + chart + ") and " + filepath.Join(dir, "gone.png") + " end"
	res := proc.Process(context.Background(), in, proactiveReq)

	assert.Equal(t, "Look: ![sales](@chart.png) and  end", res.Text)
	assert.Equal(t, []string{"⚠️ 图片上传失败: gone.png (file not found)"}, res.Statuses)
}

func TestProcessLeavesPlainTextUntouched(t *testing.T) {
	uploader := &fakeUploader{}
	proc := newTestProcessor(uploader, &fakeMessenger{}, &fakeProber{}, t.TempDir())
	in := "## Summary\n\n- one\n- two"
	res := proc.Process(context.Background(), in, proactiveReq)
	assert.Equal(t, in, res.Compose())
	assert.Empty(t, uploader.calls)
}

func TestComposeJoinsStatuses(t *testing.T) {
	assert.Equal(t, "body\n\n✅ a\n⚠️ b", Result{Text: "body ", Statuses: []string{"✅ a", "⚠️ b"}}.Compose())
	assert.Equal(t, "⚠️ b", Result{Statuses: []string{"⚠️ b"}}.Compose())
	assert.Equal(t, "", Result{}.Compose())
}

func TestProcessCancelledSendsNothing(t *testing.T) {
	dir := t.TempDir()
	chart := touch(t, dir, "chart.png", 10)
	video := touch(t, dir, "clip.mp4", 10)
	uploader := &fakeUploader{}
	messenger := &fakeMessenger{}
	proc := NewProcessor(logger.Discard(), uploader, messenger, &fakeProber{}, Options{
		TempDir: t.TempDir(),
		Scanner: markers.NewScanner(markers.PathRules{PosixRoots: []string{strings.Split(dir, "/")[1]}}),
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	in := "Look ![c](" + chart + ") " + `[DINGTALK_VIDEO]{"path":"` + video + `"}[/DINGTALK_VIDEO]`
	res := proc.Process(ctx, in, proactiveReq)

	assert.Empty(t, uploader.calls)
	assert.Empty(t, messenger.sent)
	assert.Equal(t, []string{
		"⚠️ 图片发送已取消: chart.png (context canceled)",
		"⚠️ 视频发送已取消: clip.mp4 (context canceled)",
	}, res.Statuses)
	assert.False(t, markers.Contains(res.Compose()))
}
