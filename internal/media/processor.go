// Package media runs the out-of-band delivery of media referenced in a reply: local images
// are uploaded and rewritten in place, video, audio and file markers are stripped and
// sent as separate messages. Every item fails independently into a status line.
package media

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"github.com/memohai/dingtalk-bridge/internal/attachment"
	"github.com/memohai/dingtalk-bridge/internal/dingtalk"
	"github.com/memohai/dingtalk-bridge/internal/logger"
	"github.com/memohai/dingtalk-bridge/internal/markers"
)

// Processor scans reply text for media and delivers it.
type Processor struct {
	uploader        dingtalk.Uploader
	messenger       Messenger
	prober          Prober
	scanner         *markers.Scanner
	maxBytes        int64
	thumbnailHeight int
	tempDir         string
	logger          *slog.Logger
}

// Options tunes a Processor. Zero values select the defaults.
type Options struct {
	MaxBytes        int64
	ThumbnailHeight int
	// TempDir holds generated thumbnails; empty means os.TempDir().
	TempDir string
	Scanner *markers.Scanner
}

// NewProcessor creates a processor.
func NewProcessor(log *slog.Logger, uploader dingtalk.Uploader, messenger Messenger, prober Prober, opts Options) *Processor {
	if log == nil {
		log = slog.Default()
	}
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = dingtalk.DefaultMaxUploadBytes
	}
	if opts.ThumbnailHeight <= 0 {
		opts.ThumbnailHeight = 360
	}
	if opts.Scanner == nil {
		opts.Scanner = markers.DefaultScanner
	}
	return &Processor{
		uploader:        uploader,
		messenger:       messenger,
		prober:          prober,
		scanner:         opts.Scanner,
		maxBytes:        opts.MaxBytes,
		thumbnailHeight: opts.ThumbnailHeight,
		tempDir:         opts.TempDir,
		logger:          log.With(slog.String("service", "media")),
	}
}

// Process runs the image, video, audio and file stages over text in that order.
// It never fails: every problem becomes a status line in the result.
func (p *Processor) Process(ctx context.Context, text string, req Request) Result {
	res := Result{Text: text}
	res.Text, res.Statuses = p.processImages(ctx, res.Text, req, res.Statuses)

	for _, kind := range markers.Kinds {
		ext := markers.Extract(res.Text, kind)
		res.Text = ext.Text
		for _, bad := range ext.Malformed {
			p.log(ctx).Warn("skip malformed marker", slog.String("kind", string(bad.Kind)), slog.Any("error", bad.Err))
		}
		for _, m := range ext.Markers {
			if ctx.Err() != nil {
				res.Statuses = append(res.Statuses, failure(kind, "发送已取消", m.Name(), ctx.Err()))
				continue
			}
			var status string
			switch kind {
			case markers.KindVideo:
				status = p.sendVideo(ctx, m, req)
			case markers.KindAudio:
				status = p.sendAudio(ctx, m, req)
			default:
				status = p.sendFile(ctx, m, req)
			}
			res.Statuses = append(res.Statuses, status)
		}
	}
	return res
}

func (p *Processor) log(ctx context.Context) *slog.Logger {
	return logger.FromContextOr(ctx, p.logger)
}

func (p *Processor) processImages(ctx context.Context, text string, req Request, statuses []string) (string, []string) {
	refs := p.scanner.FindImages(text)
	if len(refs) == 0 {
		return text, statuses
	}
	replacements := make(map[int]string, len(refs))
	for _, ref := range refs {
		name := filepath.Base(attachment.ResolveLocalPath(ref.RawPath))
		if err := ctx.Err(); err != nil {
			statuses = append(statuses, failure(kindImage, "发送已取消", name, err))
			replacements[ref.Start] = ""
			continue
		}
		mediaID, err := p.uploader.Upload(ctx, ref.RawPath, attachment.KindImage, req.Token, p.maxBytes)
		if err != nil {
			p.log(ctx).Warn("image upload failed", slog.String("path", ref.RawPath), slog.Any("error", err))
			statuses = append(statuses, failure(kindImage, "上传失败", name, err))
			replacements[ref.Start] = ""
			continue
		}
		replacements[ref.Start] = fmt.Sprintf("![%s](%s)", ref.Alt, mediaID)
	}
	out := markers.ReplaceImages(text, refs, func(ref markers.ImageRef) string {
		return replacements[ref.Start]
	})
	return out, statuses
}

// sendVideo runs the video pipeline for one marker. The thumbnail temp file is removed on
// every return path.
func (p *Processor) sendVideo(ctx context.Context, m markers.Marker, req Request) string {
	name := m.Name()
	path := attachment.ResolveLocalPath(m.Path)
	log := p.log(ctx).With(slog.String("path", path))

	if !exists(path) {
		return missing(markers.KindVideo, name)
	}
	info, err := p.prober.ProbeVideo(ctx, path)
	if err != nil {
		log.Warn("video probe failed", slog.Any("error", err))
		return failure(markers.KindVideo, "信息读取失败", name, err)
	}

	thumb, err := os.CreateTemp(p.tempDir, "dingtalk-thumb-*.jpg")
	if err != nil {
		return failure(markers.KindVideo, "封面生成失败", name, err)
	}
	thumbPath := thumb.Name()
	_ = thumb.Close()
	defer func() {
		if err := os.Remove(thumbPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			log.Warn("remove thumbnail failed", slog.String("thumbnail", thumbPath), slog.Any("error", err))
		}
	}()

	if err := p.prober.Thumbnail(ctx, path, thumbPath, p.thumbnailHeight); err != nil {
		log.Warn("thumbnail failed", slog.Any("error", err))
		return failure(markers.KindVideo, "封面生成失败", name, err)
	}
	videoID, err := p.uploader.Upload(ctx, path, attachment.KindVideo, req.Token, p.maxBytes)
	if err != nil {
		return failure(markers.KindVideo, "上传失败", name, err)
	}
	picID, err := p.uploader.Upload(ctx, thumbPath, attachment.KindImage, req.Token, p.maxBytes)
	if err != nil {
		return failure(markers.KindVideo, "封面上传失败", name, err)
	}
	msg := dingtalk.Message{
		Kind:         dingtalk.MessageVideo,
		MediaID:      videoID,
		ThumbMediaID: picID,
		Duration:     strconv.Itoa(info.DurationSeconds),
	}
	if err := p.messenger.Send(ctx, req.Token, req.Route, msg); err != nil {
		log.Warn("video send failed", slog.Any("error", err))
		return failure(markers.KindVideo, "发送失败", name, err)
	}
	log.Info("video sent", slog.Int("duration", info.DurationSeconds),
		slog.Int("width", info.Width), slog.Int("height", info.Height))
	return success(markers.KindVideo, name)
}

func (p *Processor) sendAudio(ctx context.Context, m markers.Marker, req Request) string {
	name := m.Name()
	path := attachment.ResolveLocalPath(m.Path)
	log := p.log(ctx).With(slog.String("path", path))

	if !exists(path) {
		return missing(markers.KindAudio, name)
	}
	millis, err := p.prober.ProbeAudioMillis(ctx, path)
	if err != nil {
		log.Warn("audio probe failed", slog.Any("error", err))
		return failure(markers.KindAudio, "信息读取失败", name, err)
	}
	mediaID, err := p.uploader.Upload(ctx, path, attachment.KindVoice, req.Token, p.maxBytes)
	if err != nil {
		return failure(markers.KindAudio, "上传失败", name, err)
	}
	msg := dingtalk.Message{
		Kind:     dingtalk.MessageAudio,
		MediaID:  mediaID,
		Duration: strconv.FormatInt(millis, 10),
	}
	if err := p.messenger.Send(ctx, req.Token, req.Route, msg); err != nil {
		log.Warn("audio send failed", slog.Any("error", err))
		return failure(markers.KindAudio, "发送失败", name, err)
	}
	return success(markers.KindAudio, name)
}

// sendFile uploads a file marker. Files with a voice extension are uploaded as voice and
// sent as audio with AudioFilePlaceholderDuration instead of a probed duration.
func (p *Processor) sendFile(ctx context.Context, m markers.Marker, req Request) string {
	name := m.Name()
	path := attachment.ResolveLocalPath(m.Path)
	log := p.log(ctx).With(slog.String("path", path))

	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return missing(markers.KindFile, name)
	}
	if info.Size() > p.maxBytes {
		return fmt.Sprintf("⚠️ 文件过大: %s (%s > %s)", name, humanSize(info.Size()), humanSize(p.maxBytes))
	}

	voice := attachment.IsAudioExt(m.FileType) || attachment.KindForFile(path) == attachment.KindVoice
	kind := attachment.KindFile
	if voice {
		kind = attachment.KindVoice
	}
	mediaID, err := p.uploader.Upload(ctx, path, kind, req.Token, p.maxBytes)
	if err != nil {
		return failure(markers.KindFile, "上传失败", name, err)
	}

	msg := dingtalk.Message{
		Kind:     dingtalk.MessageFile,
		MediaID:  mediaID,
		FileName: name,
		FileType: m.FileType,
	}
	if voice {
		msg = dingtalk.Message{
			Kind:     dingtalk.MessageAudio,
			MediaID:  mediaID,
			Duration: AudioFilePlaceholderDuration,
		}
	}
	if err := p.messenger.Send(ctx, req.Token, req.Route, msg); err != nil {
		log.Warn("file send failed", slog.Any("error", err))
		return failure(markers.KindFile, "发送失败", name, err)
	}
	return success(markers.KindFile, name)
}

func exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
