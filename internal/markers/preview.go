package markers

import (
	"strings"
)

// Preview returns text suitable for an in-progress card. Complete bracketed markers are
// hidden, and so is any trailing fragment that may still grow into a marker or a markdown
// image: an unterminated opening tag, a partial tag literal, or an unclosed "![".
// Nothing is extracted or acted on here.
func Preview(text string) string {
	for _, k := range Kinds {
		text = tagPatterns[k].ReplaceAllString(text, "")
	}
	text = cutUnterminated(text)
	text = cutPartialTag(text)
	text = cutOpenImage(text)
	return strings.TrimRight(text, " \t\n")
}

// DropUnterminated removes stray closing tags and cuts text at the first opening tag that
// never closed. Complete markers are expected to be extracted already.
func DropUnterminated(text string) string {
	return strings.TrimRight(cutUnterminated(text), " \t\n")
}

func cutUnterminated(text string) string {
	for _, k := range Kinds {
		_, closing := k.Tags()
		text = strings.ReplaceAll(text, closing, "")
	}
	cut := len(text)
	for _, k := range Kinds {
		open, _ := k.Tags()
		if idx := strings.Index(text, open); idx >= 0 && idx < cut {
			cut = idx
		}
	}
	return text[:cut]
}

// cutPartialTag drops a trailing prefix of any tag literal, e.g. "[DINGT" or "[/DINGTALK_V".
func cutPartialTag(text string) string {
	idx := strings.LastIndexByte(text, '[')
	if idx < 0 {
		return text
	}
	tail := text[idx:]
	for _, k := range Kinds {
		open, closing := k.Tags()
		if strings.HasPrefix(open, tail) || strings.HasPrefix(closing, tail) {
			return text[:idx]
		}
	}
	return text
}

func cutOpenImage(text string) string {
	idx := strings.LastIndex(text, "![")
	if idx < 0 {
		return text
	}
	tail := text[idx:]
	closeBracket := strings.Index(tail, "]")
	if closeBracket < 0 {
		return text[:idx]
	}
	rest := tail[closeBracket+1:]
	if rest == "" || (strings.HasPrefix(rest, "(") && !strings.Contains(rest, ")")) {
		return text[:idx]
	}
	return text
}
