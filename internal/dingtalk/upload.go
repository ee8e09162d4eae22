package dingtalk

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"os"
	"path/filepath"

	"github.com/memohai/dingtalk-bridge/internal/attachment"
)

// DefaultMaxUploadBytes is the size ceiling applied to every upload kind.
const DefaultMaxUploadBytes int64 = 20 * 1024 * 1024

var (
	// ErrFileNotFound is returned when the local path does not exist.
	ErrFileNotFound = errors.New("file not found")
	// ErrFileTooLarge is returned when the file exceeds the upload ceiling.
	ErrFileTooLarge = errors.New("file too large")
	// ErrMissingMediaID is returned when the upload response carries no media_id.
	ErrMissingMediaID = errors.New("upload response missing media_id")
)

// Uploader stores a local file in the DingTalk media store and returns its media id.
type Uploader interface {
	Upload(ctx context.Context, localPath string, kind attachment.Kind, token string, maxBytes int64) (string, error)
}

type uploadResponse struct {
	MediaID string `json:"media_id"`
}

// Upload sends localPath to /media/upload. The path may carry a file://, MEDIA: or
// attachment:// prefix and percent-encoding. Existence and size are checked before
// any network call. The source file is never modified.
func (c *Client) Upload(ctx context.Context, localPath string, kind attachment.Kind, token string, maxBytes int64) (string, error) {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxUploadBytes
	}
	path := attachment.ResolveLocalPath(localPath)
	log := c.logger.With(slog.String("path", path), slog.String("kind", string(kind)))

	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			log.Warn("upload skipped: file not found")
			return "", fmt.Errorf("%w: %s", ErrFileNotFound, path)
		}
		return "", fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("%w: %s is a directory", ErrFileNotFound, path)
	}
	if info.Size() > maxBytes {
		log.Warn("upload skipped: file too large", slog.Int64("size", info.Size()), slog.Int64("max", maxBytes))
		return "", fmt.Errorf("%w: %d bytes exceeds %d", ErrFileTooLarge, info.Size(), maxBytes)
	}

	mediaID, err := c.postMedia(ctx, path, kind, token)
	if err != nil {
		log.Warn("upload failed", slog.Any("error", err))
		return "", err
	}
	log.Debug("upload succeeded", slog.String("media_id", mediaID))
	return mediaID, nil
}

func (c *Client) postMedia(ctx context.Context, path string, kind attachment.Kind, token string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.uploadTimeout)
	defer cancel()

	f, err := os.Open(path) //nolint:gosec // path comes from the model's own marker
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer func() {
		_ = f.Close()
	}()
	reader, mime, err := attachment.PrepareReaderAndMime(f, kind, "")
	if err != nil {
		return "", err
	}

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		header := make(textproto.MIMEHeader)
		header.Set("Content-Disposition",
			fmt.Sprintf(`form-data; name="media"; filename=%q`, filepath.Base(path)))
		header.Set("Content-Type", mime)
		part, err := mw.CreatePart(header)
		if err == nil {
			_, err = io.Copy(part, reader)
		}
		if err == nil {
			err = mw.Close()
		}
		_ = pw.CloseWithError(err)
	}()

	query := url.Values{}
	query.Set("access_token", token)
	query.Set("type", string(kind))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.oapiBase+"/media/upload?"+query.Encode(), pr)
	if err != nil {
		_ = pr.Close()
		return "", fmt.Errorf("dingtalk upload: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	resp, err := c.http.Do(req)
	if err != nil {
		_ = pr.Close()
		return "", fmt.Errorf("dingtalk upload: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	var out uploadResponse
	if err := decodeResponse("upload", resp, &out); err != nil {
		return "", err
	}
	if out.MediaID == "" {
		return "", ErrMissingMediaID
	}
	return out.MediaID, nil
}
