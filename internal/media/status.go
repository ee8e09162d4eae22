package media

import (
	"fmt"
	"strings"

	"github.com/memohai/dingtalk-bridge/internal/markers"
)

// kindImage labels inline image references, which have no bracketed marker.
const kindImage markers.Kind = "image"

func label(kind markers.Kind) string {
	switch kind {
	case markers.KindVideo:
		return "视频"
	case markers.KindAudio:
		return "音频"
	case markers.KindFile:
		return "文件"
	default:
		return "图片"
	}
}

func success(kind markers.Kind, name string) string {
	return fmt.Sprintf("✅ %s已发送: %s", label(kind), name)
}

func missing(kind markers.Kind, name string) string {
	if kind == markers.KindFile {
		return "⚠️ 文件不存在: " + name
	}
	return fmt.Sprintf("⚠️ %s文件不存在: %s", label(kind), name)
}

func failure(kind markers.Kind, what, name string, err error) string {
	line := fmt.Sprintf("⚠️ %s%s: %s", label(kind), what, name)
	if err != nil {
		if cause := strings.TrimSpace(err.Error()); cause != "" {
			line += " (" + cause + ")"
		}
	}
	return line
}

func humanSize(n int64) string {
	const mib = 1024 * 1024
	if n >= mib {
		return fmt.Sprintf("%.1fMB", float64(n)/mib)
	}
	return fmt.Sprintf("%.1fKB", float64(n)/1024)
}
