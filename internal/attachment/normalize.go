// Package attachment classifies local media files and normalizes the path and MIME forms
// they are referenced by.
package attachment

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"
)

// Kind is the upload category accepted by the DingTalk media store.
type Kind string

const (
	KindImage Kind = "image"
	KindVoice Kind = "voice"
	KindVideo Kind = "video"
	KindFile  Kind = "file"
)

// URI prefixes the model may use instead of a bare filesystem path.
const (
	PrefixFile       = "file://"
	PrefixMedia      = "MEDIA:"
	PrefixAttachment = "attachment://"
)

var uriPrefixes = []string{PrefixFile, PrefixMedia, PrefixAttachment}

var (
	imageExts = map[string]struct{}{
		"png": {}, "jpg": {}, "jpeg": {}, "gif": {}, "bmp": {}, "webp": {},
	}
	audioExts = map[string]struct{}{
		"mp3": {}, "wav": {}, "amr": {}, "m4a": {}, "aac": {}, "ogg": {},
	}
	videoExts = map[string]struct{}{
		"mp4": {}, "mov": {}, "avi": {}, "mkv": {}, "webm": {},
	}
)

// URIPrefixes returns the recognized URI prefixes in match order.
func URIPrefixes() []string {
	return append([]string(nil), uriPrefixes...)
}

// Ext returns the lowercase extension of name without the leading dot.
func Ext(name string) string {
	return strings.TrimPrefix(strings.ToLower(filepath.Ext(strings.TrimSpace(name))), ".")
}

// IsImageExt reports whether ext (with or without dot) is an image extension.
func IsImageExt(ext string) bool {
	_, ok := imageExts[strings.TrimPrefix(strings.ToLower(ext), ".")]
	return ok
}

// IsAudioExt reports whether ext (with or without dot) is routed as voice.
func IsAudioExt(ext string) bool {
	_, ok := audioExts[strings.TrimPrefix(strings.ToLower(ext), ".")]
	return ok
}

// KindForFile maps a file name to its upload kind.
func KindForFile(name string) Kind {
	ext := Ext(name)
	switch {
	case IsImageExt(ext):
		return KindImage
	case IsAudioExt(ext):
		return KindVoice
	default:
		if _, ok := videoExts[ext]; ok {
			return KindVideo
		}
		return KindFile
	}
}

// ResolveLocalPath strips a recognized URI prefix and percent-decodes the remainder.
// Values that fail to decode are returned with only the prefix removed.
func ResolveLocalPath(raw string) string {
	value := strings.TrimSpace(raw)
	for _, prefix := range uriPrefixes {
		if len(value) >= len(prefix) && strings.EqualFold(value[:len(prefix)], prefix) {
			value = value[len(prefix):]
			break
		}
	}
	if decoded, err := url.PathUnescape(value); err == nil {
		value = decoded
	}
	return value
}

// NormalizeMime normalizes MIME to lowercase token form.
func NormalizeMime(raw string) string {
	mime := strings.ToLower(strings.TrimSpace(raw))
	if mime == "" {
		return ""
	}
	if idx := strings.Index(mime, ";"); idx >= 0 {
		mime = strings.TrimSpace(mime[:idx])
	}
	return mime
}

// ResolveMime picks the MIME for a multipart part from the extension guess and sniffed bytes.
func ResolveMime(kind Kind, sourceMime, sniffedMime string) string {
	source := NormalizeMime(sourceMime)
	sniffed := NormalizeMime(sniffedMime)
	sourceGeneric := source == "" || source == "application/octet-stream"

	if kind == KindImage {
		if strings.HasPrefix(source, "image/") {
			return source
		}
		if strings.HasPrefix(sniffed, "image/") {
			return sniffed
		}
	}
	if !sourceGeneric {
		return source
	}
	if sniffed != "" {
		return sniffed
	}
	return "application/octet-stream"
}

// PrepareReaderAndMime reads a small prefix for MIME sniffing and replays it.
func PrepareReaderAndMime(reader io.Reader, kind Kind, sourceMime string) (io.Reader, string, error) {
	if reader == nil {
		return nil, "", fmt.Errorf("reader is required")
	}
	header := make([]byte, 512)
	n, err := io.ReadFull(reader, header)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return nil, "", fmt.Errorf("read mime sniff bytes: %w", err)
	}
	header = header[:n]
	sniffed := ""
	if len(header) > 0 {
		sniffed = NormalizeMime(http.DetectContentType(header))
	}
	finalMime := ResolveMime(kind, sourceMime, sniffed)
	return io.MultiReader(bytes.NewReader(header), reader), finalMime, nil
}
