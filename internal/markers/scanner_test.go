package markers

import (
	"strings"
	"testing"
)

func TestIsLocal(t *testing.T) {
	cases := []struct {
		path string
		want bool
	}{
		{"/tmp/a.png", true},
		{"/var/folders/x/b.jpg", true},
		{"/private/var/c.gif", true},
		{"/Users/me/Desktop/d.webp", true},
		{"/home/u/e.bmp", true},
		{"/root/f.jpeg", true},
		{"C:\\Users\\me\\g.png", true},
		{"d:/pics/h.png", true},
		{"file:///tmp/i.png", true},
		{"MEDIA:/tmp/j.png", true},
		{"attachment://k.png", true},
		{"/etc/passwd", false},
		{"/opt/app/l.png", false},
		{"relative/m.png", false},
		{"https://example.com/tmp/n.png", false},
		{"", false},
	}
	for _, tc := range cases {
		if got := DefaultPathRules.IsLocal(tc.path); got != tc.want {
			t.Fatalf("IsLocal(%q) = %v, want %v", tc.path, got, tc.want)
		}
	}
}

func TestIsLocalCustomRules(t *testing.T) {
	rules := PathRules{PosixRoots: []string{"data"}}
	if !rules.IsLocal("/data/x.png") {
		t.Fatalf("expected /data path to be local")
	}
	if rules.IsLocal("/tmp/x.png") || rules.IsLocal("C:\\x.png") {
		t.Fatalf("unexpected match outside custom rules")
	}
}

func TestExtractVideo(t *testing.T) {
	in := "Here you go.\n\n[DINGTALK_VIDEO]{\"path\":\"/tmp/clip.mp4\"}[/DINGTALK_VIDEO]\n\n\nBye"
	got := Extract(in, KindVideo)
	if len(got.Markers) != 1 || got.Markers[0].Path != "/tmp/clip.mp4" {
		t.Fatalf("unexpected markers: %+v", got.Markers)
	}
	if got.Markers[0].Name() != "clip.mp4" {
		t.Fatalf("unexpected name: %q", got.Markers[0].Name())
	}
	if got.Text != "Here you go.\n\nBye" {
		t.Fatalf("unexpected cleaned text: %q", got.Text)
	}
	if Contains(got.Text) {
		t.Fatalf("tag literal leaked: %q", got.Text)
	}
}

func TestExtractFileDefaults(t *testing.T) {
	in := `[DINGTALK_FILE]{"path":"/tmp/r.PDF"}[/DINGTALK_FILE][DINGTALK_FILE]{"path":"/tmp/x","fileName":"report.docx","fileType":".DOCX"}[/DINGTALK_FILE]`
	got := Extract(in, KindFile)
	if len(got.Markers) != 2 {
		t.Fatalf("expected 2 markers, got %d", len(got.Markers))
	}
	if got.Markers[0].FileName != "r.PDF" || got.Markers[0].FileType != "pdf" {
		t.Fatalf("unexpected defaults: %+v", got.Markers[0])
	}
	if got.Markers[1].FileName != "report.docx" || got.Markers[1].FileType != "docx" {
		t.Fatalf("unexpected explicit fields: %+v", got.Markers[1])
	}
	if got.Text != "" {
		t.Fatalf("expected empty text, got %q", got.Text)
	}
}

func TestExtractMalformedIsSkipped(t *testing.T) {
	in := "a [DINGTALK_AUDIO]{not json}[/DINGTALK_AUDIO] b [DINGTALK_AUDIO]{\"path\":\"/tmp/v.mp3\"}[/DINGTALK_AUDIO]"
	got := Extract(in, KindAudio)
	if len(got.Malformed) != 1 {
		t.Fatalf("expected one malformed marker, got %+v", got.Malformed)
	}
	if len(got.Markers) != 1 || got.Markers[0].Path != "/tmp/v.mp3" {
		t.Fatalf("expected the valid marker to survive: %+v", got.Markers)
	}
	if Contains(got.Text) {
		t.Fatalf("tag literal leaked: %q", got.Text)
	}
}

func TestExtractMissingPathIsMalformed(t *testing.T) {
	got := Extract(`[DINGTALK_VIDEO]{"file":"x"}[/DINGTALK_VIDEO]`, KindVideo)
	if len(got.Markers) != 0 || len(got.Malformed) != 1 {
		t.Fatalf("unexpected extraction: %+v", got)
	}
}

func TestExtractIdempotent(t *testing.T) {
	inputs := []string{
		"plain text\n\n\nwith blank runs  ",
		"see ![chart](https://example.com/a.png)",
		"",
	}
	for _, in := range inputs {
		for _, k := range Kinds {
			once := Extract(in, k).Text
			if once != in {
				t.Fatalf("Extract changed marker-free text %q -> %q", in, once)
			}
			if twice := Extract(once, k).Text; twice != once {
				t.Fatalf("second pass changed text %q -> %q", once, twice)
			}
		}
		if refs := DefaultScanner.FindImages(in); len(refs) != 0 {
			t.Fatalf("unexpected image refs in %q: %+v", in, refs)
		}
	}
}

func TestFindImages(t *testing.T) {
	in := "Chart: ![sales](/tmp/sales.png) and also /home/u/pie.JPG, " +
		"plus ![remote](https://x.io/a.png) and https://x.io/tmp/b.png and C:\\out\\c.gif"
	refs := DefaultScanner.FindImages(in)
	if len(refs) != 3 {
		t.Fatalf("expected 3 refs, got %+v", refs)
	}
	if !refs[0].Markdown || refs[0].Alt != "sales" || refs[0].RawPath != "/tmp/sales.png" {
		t.Fatalf("unexpected markdown ref: %+v", refs[0])
	}
	if refs[1].Markdown || refs[1].RawPath != "/home/u/pie.JPG" {
		t.Fatalf("unexpected bare ref: %+v", refs[1])
	}
	if refs[2].RawPath != "C:\\out\\c.gif" {
		t.Fatalf("unexpected windows ref: %+v", refs[2])
	}
}

func TestFindImagesSkipsAfterMarkdownSyntax(t *testing.T) {
	in := "[x](/tmp/a.png)"
	if refs := DefaultScanner.FindImages(in); len(refs) != 0 {
		t.Fatalf("expected link target to be skipped, got %+v", refs)
	}
}

func TestFindImagesSkipsInsideMarkers(t *testing.T) {
	in := `[DINGTALK_FILE]{"path":"/tmp/photo.png"}[/DINGTALK_FILE]`
	if refs := DefaultScanner.FindImages(in); len(refs) != 0 {
		t.Fatalf("expected marker body to be skipped, got %+v", refs)
	}
}

func TestReplaceImagesBackToFront(t *testing.T) {
	in := "/tmp/a.png then ![b](/tmp/b.png) then /tmp/c.png"
	refs := DefaultScanner.FindImages(in)
	if len(refs) != 3 {
		t.Fatalf("expected 3 refs, got %+v", refs)
	}
	out := ReplaceImages(in, refs, func(ref ImageRef) string {
		name := ref.RawPath[strings.LastIndex(ref.RawPath, "/")+1:]
		return "![" + ref.Alt + "](@" + name + ")"
	})
	want := "![](@a.png) then ![b](@b.png) then ![](@c.png)"
	if out != want {
		t.Fatalf("ReplaceImages = %q, want %q", out, want)
	}
}

func TestPreview(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"hello", "hello"},
		{"a [DINGTALK_VIDEO]{\"path\":\"/tmp/v.mp4\"}[/DINGTALK_VIDEO] b", "a  b"},
		{"text\n[DINGTALK_FILE]{\"path\":\"/tm", "text"},
		{"text [DINGT", "text"},
		{"text [/DINGTALK_AU", "text"},
		{"see ![chart](/tmp/a", "see"},
		{"see ![cha", "see"},
		{"see ![chart](/tmp/a.png) ok", "see ![chart](/tmp/a.png) ok"},
		{"[link] stays", "[link] stays"},
	}
	for _, tc := range cases {
		if got := Preview(tc.in); got != tc.want {
			t.Fatalf("Preview(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
