package conversation

import (
	"strings"

	"github.com/memohai/dingtalk-bridge/internal/markers"
)

// MediaInstruction tells the model how to reference local media in its replies. The tag
// literals must match the ones the marker scanner extracts.
var MediaInstruction = strings.Join([]string{
	"## 钉钉媒体发送",
	"",
	"当你需要向用户发送本地文件时，请在回复中使用以下格式，系统会自动上传并单独发送：",
	"",
	"- 图片：`![描述](/absolute/path/image.png)`，图片会显示在原位置。",
	"- 视频：" + markers.VideoOpen + `{"path":"/absolute/path/video.mp4"}` + markers.VideoClose,
	"- 音频：" + markers.AudioOpen + `{"path":"/absolute/path/audio.mp3"}` + markers.AudioClose,
	"- 文件：" + markers.FileOpen + `{"path":"/absolute/path/report.pdf","fileName":"report.pdf","fileType":"pdf"}` + markers.FileClose,
	"",
	"要求：路径必须是绝对路径；标记内只能是一个 JSON 对象；单个文件不超过 20MB；不要对标记做额外解释。",
}, "\n")

// SystemPrompts builds the ordered system prompt list for one gateway request.
func SystemPrompts(uploadPrompt bool, custom string) []string {
	prompts := make([]string, 0, 2)
	if uploadPrompt {
		prompts = append(prompts, MediaInstruction)
	}
	if custom = strings.TrimSpace(custom); custom != "" {
		prompts = append(prompts, custom)
	}
	return prompts
}
