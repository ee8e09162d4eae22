package markers

import (
	"regexp"
	"strings"

	"github.com/memohai/dingtalk-bridge/internal/attachment"
)

// PathRules enumerates the shapes treated as local filesystem references.
type PathRules struct {
	// PosixRoots are top-level directories an absolute POSIX path must start under.
	PosixRoots []string
	// WindowsDrives enables drive-letter paths such as C:\ or D:/.
	WindowsDrives bool
	// URIPrefixes are schemes that always denote a local file.
	URIPrefixes []string
}

// DefaultPathRules are the path shapes recognized in model output.
var DefaultPathRules = PathRules{
	PosixRoots:    []string{"tmp", "var", "private", "Users", "home", "root"},
	WindowsDrives: true,
	URIPrefixes:   attachment.URIPrefixes(),
}

var windowsDrive = regexp.MustCompile(`^[A-Za-z]:[\\/]`)

// IsLocal reports whether p refers to a local file under these rules.
func (r PathRules) IsLocal(p string) bool {
	p = strings.TrimSpace(p)
	if p == "" {
		return false
	}
	for _, prefix := range r.URIPrefixes {
		if len(p) > len(prefix) && strings.EqualFold(p[:len(prefix)], prefix) {
			return true
		}
	}
	if r.WindowsDrives && windowsDrive.MatchString(p) {
		return true
	}
	if !strings.HasPrefix(p, "/") {
		return false
	}
	for _, root := range r.PosixRoots {
		if strings.HasPrefix(p, "/"+root+"/") {
			return true
		}
	}
	return false
}

// barePattern compiles the pattern for local image paths appearing in plain prose.
func (r PathRules) barePattern() *regexp.Regexp {
	const body = `[^\s()\[\]"'<>]*`
	alts := make([]string, 0, len(r.URIPrefixes)+2)
	for _, prefix := range r.URIPrefixes {
		alts = append(alts, regexp.QuoteMeta(prefix)+`[^\s()\[\]"'<>]+?`)
	}
	if len(r.PosixRoots) > 0 {
		roots := make([]string, 0, len(r.PosixRoots))
		for _, root := range r.PosixRoots {
			roots = append(roots, regexp.QuoteMeta(root))
		}
		alts = append(alts, `/(?:`+strings.Join(roots, "|")+`)/`+body+`?`)
	}
	if r.WindowsDrives {
		alts = append(alts, `[A-Za-z]:[\\/]`+body+`?`)
	}
	return regexp.MustCompile(`(?:` + strings.Join(alts, "|") + `)\.(?i:png|jpe?g|gif|bmp|webp)\b`)
}
