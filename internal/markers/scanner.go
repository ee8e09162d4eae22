// Package markers locates and strips the media directives the model embeds in its replies:
// local image references and the bracketed DINGTALK_VIDEO, DINGTALK_AUDIO and DINGTALK_FILE
// tags. Every function here is pure text processing.
package markers

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/memohai/dingtalk-bridge/internal/attachment"
)

// Tag literals. The system prompt instructs the model with these exact strings.
const (
	VideoOpen  = "[DINGTALK_VIDEO]"
	VideoClose = "[/DINGTALK_VIDEO]"
	AudioOpen  = "[DINGTALK_AUDIO]"
	AudioClose = "[/DINGTALK_AUDIO]"
	FileOpen   = "[DINGTALK_FILE]"
	FileClose  = "[/DINGTALK_FILE]"
)

// Kind is a bracketed marker family.
type Kind string

const (
	KindVideo Kind = "video"
	KindAudio Kind = "audio"
	KindFile  Kind = "file"
)

// Kinds lists the bracketed marker families in processing order.
var Kinds = []Kind{KindVideo, KindAudio, KindFile}

// Tags returns the opening and closing literal for k.
func (k Kind) Tags() (string, string) {
	switch k {
	case KindVideo:
		return VideoOpen, VideoClose
	case KindAudio:
		return AudioOpen, AudioClose
	default:
		return FileOpen, FileClose
	}
}

// Marker is one parsed bracketed directive.
type Marker struct {
	Kind     Kind
	Path     string
	FileName string
	FileType string
	// Start is the byte offset of the opening tag in the scanned text.
	Start int
}

// Name returns the display name of the marked file.
func (m Marker) Name() string {
	if m.FileName != "" {
		return m.FileName
	}
	return filepath.Base(attachment.ResolveLocalPath(m.Path))
}

// Malformed is a bracketed marker whose body could not be used.
type Malformed struct {
	Kind Kind
	Raw  string
	Err  error
}

// Extraction is the outcome of stripping one marker family from a text.
type Extraction struct {
	Text      string
	Markers   []Marker
	Malformed []Malformed
}

type markerBody struct {
	Path     string `json:"path"`
	FileName string `json:"fileName"`
	FileType string `json:"fileType"`
}

var tagPatterns = map[Kind]*regexp.Regexp{}

func init() {
	for _, k := range Kinds {
		open, closing := k.Tags()
		tagPatterns[k] = regexp.MustCompile(regexp.QuoteMeta(open) + `([\s\S]*?)` + regexp.QuoteMeta(closing))
	}
}

// Extract removes every complete marker of kind k from text in a single forward pass.
// Malformed markers are removed too and reported separately. Text without markers of
// kind k is returned unchanged.
func Extract(text string, k Kind) Extraction {
	re := tagPatterns[k]
	matches := re.FindAllStringSubmatchIndex(text, -1)
	if len(matches) == 0 {
		return Extraction{Text: text}
	}
	out := Extraction{}
	var b strings.Builder
	last := 0
	for _, m := range matches {
		b.WriteString(text[last:m[0]])
		last = m[1]
		raw := text[m[2]:m[3]]
		marker, err := parseMarker(k, raw)
		if err != nil {
			out.Malformed = append(out.Malformed, Malformed{Kind: k, Raw: text[m[0]:m[1]], Err: err})
			continue
		}
		marker.Start = m[0]
		out.Markers = append(out.Markers, marker)
	}
	b.WriteString(text[last:])
	out.Text = tidy(b.String())
	return out
}

func parseMarker(k Kind, raw string) (Marker, error) {
	var body markerBody
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &body); err != nil {
		return Marker{}, fmt.Errorf("decode %s marker: %w", k, err)
	}
	body.Path = strings.TrimSpace(body.Path)
	if body.Path == "" {
		return Marker{}, fmt.Errorf("%s marker has no path", k)
	}
	m := Marker{Kind: k, Path: body.Path}
	if k == KindFile {
		m.FileName = strings.TrimSpace(body.FileName)
		if m.FileName == "" {
			m.FileName = filepath.Base(attachment.ResolveLocalPath(body.Path))
		}
		m.FileType = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(body.FileType), "."))
		if m.FileType == "" {
			m.FileType = attachment.Ext(m.FileName)
		}
	}
	return m, nil
}

// Contains reports whether text still holds any tag literal of any kind.
func Contains(text string) bool {
	for _, k := range Kinds {
		open, closing := k.Tags()
		if strings.Contains(text, open) || strings.Contains(text, closing) {
			return true
		}
	}
	return false
}

var blankRuns = regexp.MustCompile(`\n{3,}`)

func tidy(text string) string {
	return strings.TrimSpace(blankRuns.ReplaceAllString(text, "\n\n"))
}

// ImageRef is a local image reference found in text.
type ImageRef struct {
	Alt     string
	RawPath string
	// Markdown is true for ![alt](path) syntax and false for bare paths.
	Markdown bool
	Start    int
	End      int
}

var markdownImage = regexp.MustCompile(`!\[([^\]]*)\]\(\s*<?([^()<>\s]+)>?(?:\s+"[^"]*")?\s*\)`)

// Scanner finds local image references using a set of path rules.
type Scanner struct {
	rules PathRules
	bare  *regexp.Regexp
}

// NewScanner builds a scanner for rules.
func NewScanner(rules PathRules) *Scanner {
	return &Scanner{rules: rules, bare: rules.barePattern()}
}

// DefaultScanner uses DefaultPathRules.
var DefaultScanner = NewScanner(DefaultPathRules)

// FindImages returns markdown-image references with local paths followed by bare local
// image paths, in that order. A bare match is skipped when the ten bytes before it
// contain "](", or when it falls inside a markdown image or a bracketed marker span.
func (s *Scanner) FindImages(text string) []ImageRef {
	var refs []ImageRef
	var taken [][2]int
	for _, m := range markdownImage.FindAllStringSubmatchIndex(text, -1) {
		path := text[m[4]:m[5]]
		if !s.rules.IsLocal(path) {
			continue
		}
		refs = append(refs, ImageRef{
			Alt:      text[m[2]:m[3]],
			RawPath:  path,
			Markdown: true,
			Start:    m[0],
			End:      m[1],
		})
		taken = append(taken, [2]int{m[0], m[1]})
	}
	taken = append(taken, markerSpans(text)...)

	for _, m := range s.bare.FindAllStringIndex(text, -1) {
		start, end := m[0], m[1]
		lookback := text[max(0, start-10):start]
		if strings.Contains(lookback, "](") {
			continue
		}
		if within(taken, start, end) || !boundaryBefore(text, start) {
			continue
		}
		refs = append(refs, ImageRef{RawPath: text[start:end], Start: start, End: end})
	}
	return refs
}

// ReplaceImages rewrites each reference with the string returned by fn. Replacements are
// applied back to front by byte offset so earlier offsets stay valid.
func ReplaceImages(text string, refs []ImageRef, fn func(ImageRef) string) string {
	ordered := append([]ImageRef(nil), refs...)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Start > ordered[j].Start })
	limit := len(text)
	for _, ref := range ordered {
		if ref.Start < 0 || ref.End > limit || ref.Start > ref.End {
			continue
		}
		text = text[:ref.Start] + fn(ref) + text[ref.End:]
		limit = ref.Start
	}
	return text
}

func markerSpans(text string) [][2]int {
	var spans [][2]int
	for _, k := range Kinds {
		for _, m := range tagPatterns[k].FindAllStringIndex(text, -1) {
			spans = append(spans, [2]int{m[0], m[1]})
		}
	}
	return spans
}

func within(spans [][2]int, start, end int) bool {
	for _, span := range spans {
		if start < span[1] && end > span[0] {
			return true
		}
	}
	return false
}

// boundaryBefore rejects matches that continue a longer token, such as the path part of a URL.
func boundaryBefore(text string, start int) bool {
	if start == 0 {
		return true
	}
	c := text[start-1]
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		return false
	}
	return !strings.ContainsRune("_-./:~%\\", rune(c))
}
