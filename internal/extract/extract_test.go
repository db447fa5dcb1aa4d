package extract

import (
	"reflect"
	"strings"
	"testing"
)

func TestFileExtension(t *testing.T) {
	cases := map[string]string{
		"report.final.pdf":  "pdf",
		"archive.tar.gz":    "gz",
		"no_extension_file": "",
		".htaccess":         "",
		"photo.jpeg":        "jpeg",
		"movie.mpeg4x":      "",
	}
	for in, want := range cases {
		if got := FileExtension(in); got != want {
			t.Errorf("FileExtension(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSanitizeFilename(t *testing.T) {
	cases := map[string]string{
		"my_photo.v2.jpg?ver=3": "my_photo.v2.jpg",
		"hello world!.png":      "hello-world.png",
		"a&b(1).gif":            "ab1.gif",
		"noext":                 "noext",
		"my photo (1).jpeg":     "my-photo-1.jpeg",
		"my photo (1).jpegxl":   "my-photo-1.jpegxl",
		"Summer Pic!.webp2":     "Summer-Pic.webp2",
	}
	for in, want := range cases {
		if got := SanitizeFilename(in); got != want {
			t.Errorf("SanitizeFilename(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNormalizedName(t *testing.T) {
	got := NormalizedName("https://old.example.com/uploads/My%20Photo.jpg?w=300#top")
	if got != "My-Photo.jpg" {
		t.Fatalf("NormalizedName: %q", got)
	}
}

func TestLinkExtension(t *testing.T) {
	if got := LinkExtension("https://x.test/files/Report.PDF?dl=1"); got != "pdf" {
		t.Fatalf("LinkExtension: %q", got)
	}
	if got := LinkExtension("https://x.test/page"); got != "" {
		t.Fatalf("LinkExtension no ext: %q", got)
	}
}

func TestSlugify(t *testing.T) {
	if got := Slugify("  Hello, World! 2024 "); got != "hello-world-2024" {
		t.Fatalf("Slugify: %q", got)
	}
}

func TestImages(t *testing.T) {
	content := `<p><img class="a" src="https://old.test/a.jpg" srcset="https://old.test/a-300.jpg 300w, https://old.test/a-600.jpg 600w"></p>` +
		`<IMG SRC='http://old.test/b.png'><img alt="x">`
	spans := Images(content)
	got := Unique(spans)
	want := []string{
		"https://old.test/a.jpg",
		"https://old.test/a-300.jpg",
		"https://old.test/a-600.jpg",
		"http://old.test/b.png",
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Images = %v, want %v", got, want)
	}
	for _, s := range spans {
		if content[s.Start:s.End] != s.Value {
			t.Errorf("span %+v does not cover its value", s)
		}
	}
}

func TestLinks(t *testing.T) {
	content := `<a href="https://old.test/doc.pdf">doc</a> <a class="x" href='/rel'>r</a> <abbr href="nope">`
	got := Unique(Links(content))
	want := []string{"https://old.test/doc.pdf", "/rel"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Links = %v, want %v", got, want)
	}
}

func TestGalleries(t *testing.T) {
	tok := EncodeGalleryImage(GalleryImage{URL: "https://old.test/g.jpg", Title: "G", Alt: "alt"})
	content := `[gallery columns="3" ids="12, ` + tok + `,34"]`
	refs := Galleries(content)
	if len(refs) != 1 {
		t.Fatalf("Galleries: want 1 ref, got %d", len(refs))
	}
	r := refs[0]
	if r.Image.URL != "https://old.test/g.jpg" || r.Image.Alt != "alt" {
		t.Fatalf("decoded image: %+v", r.Image)
	}
	if content[r.Span.Start:r.Span.End] != tok {
		t.Fatalf("span does not cover token")
	}
}

func TestGalleriesIgnoresGarbage(t *testing.T) {
	if refs := Galleries(`[gallery ids="not-base64!!,5"]`); len(refs) != 0 {
		t.Fatalf("want no refs, got %v", refs)
	}
}

func TestOccurrences(t *testing.T) {
	spans := Occurrences("a.jpg x a.jpg", []string{"a.jpg", "a.jpg", ""})
	if len(spans) != 2 || spans[1].Start != 8 {
		t.Fatalf("Occurrences = %+v", spans)
	}
}

func TestRewriteLongestWinsAndNoDoubleRewrite(t *testing.T) {
	content := "see http://old.test/a.jpg and http://old.test/a.jpg.bak"
	long := "http://old.test/a.jpg.bak"
	short := "http://old.test/a.jpg"
	spans := Occurrences(content, []string{short, long})
	out := Rewrite(content, spans, map[string]string{
		short: "https://new.test/media/a.jpg",
		long:  "https://new.test/media/a.bak",
	})
	want := "see https://new.test/media/a.jpg and https://new.test/media/a.bak"
	if out != want {
		t.Fatalf("Rewrite:\n got %q\nwant %q", out, want)
	}
}

func TestRewriteUnresolvedSpanBlocksShorter(t *testing.T) {
	content := "http://old.test/a.jpg.bak"
	spans := Occurrences(content, []string{"http://old.test/a.jpg", content})
	out := Rewrite(content, spans, map[string]string{"http://old.test/a.jpg": "X"})
	if out != content {
		t.Fatalf("unresolved longer span must protect its bytes, got %q", out)
	}
}

func TestRewriteReplacementContainingOriginal(t *testing.T) {
	content := "u=http://o.test/a.jpg"
	spans := Occurrences(content, []string{"http://o.test/a.jpg"})
	out := Rewrite(content, spans, map[string]string{"http://o.test/a.jpg": "http://o.test/a.jpg?v=2"})
	if strings.Count(out, "?v=2") != 1 {
		t.Fatalf("replacement rewritten twice: %q", out)
	}
}
