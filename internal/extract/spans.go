// Package extract locates asset references in content strings and rewrites
// them through non-overlapping spans.
package extract

import (
	"encoding/base64"
	"encoding/json"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode"
)

// Kind identifies where a reference was found.
type Kind int

const (
	KindImageSrc Kind = iota
	KindImageSrcset
	KindGallery
	KindLink
	KindText
)

// Span is a half-open byte range [Start, End) of content holding Value.
type Span struct {
	Start int
	End   int
	Value string
	Kind  Kind
}

// GalleryImage is the descriptor encoded inside a gallery marker.
type GalleryImage struct {
	URL         string `json:"url"`
	Title       string `json:"title"`
	Caption     string `json:"caption"`
	Alt         string `json:"alt"`
	Description string `json:"description"`
}

// GalleryRef is one encoded descriptor token inside a gallery marker.
type GalleryRef struct {
	Span  Span
	Image GalleryImage
}

var (
	imgSrcRe    = regexp.MustCompile(`(?is)<img(?:\s[^>]*?)?\ssrc\s*=\s*(?:"([^"]*)"|'([^']*)'|([^\s>"']+))`)
	imgSrcsetRe = regexp.MustCompile(`(?is)<img(?:\s[^>]*?)?\ssrcset\s*=\s*(?:"([^"]*)"|'([^']*)'|([^\s>"']+))`)
	anchorRe    = regexp.MustCompile(`(?is)<a(?:\s[^>]*?)?\shref\s*=\s*(?:"([^"]*)"|'([^']*)'|([^\s>"']+))`)
	galleryRe   = regexp.MustCompile(`(?is)\[gallery[^\]]*ids="([^\]"]*)"[^\]]*\]`)
)

// Images returns the src and srcset candidate URLs of every <img> tag.
func Images(content string) []Span {
	var out []Span
	for _, loc := range imgSrcRe.FindAllStringSubmatchIndex(content, -1) {
		if start, end, ok := attrValue(loc); ok && end > start {
			out = append(out, Span{Start: start, End: end, Value: content[start:end], Kind: KindImageSrc})
		}
	}
	for _, loc := range imgSrcsetRe.FindAllStringSubmatchIndex(content, -1) {
		start, end, ok := attrValue(loc)
		if !ok {
			continue
		}
		out = append(out, srcsetCandidates(content, start, end)...)
	}
	sortSpans(out)
	return out
}

// Links returns the href value of every <a> tag.
func Links(content string) []Span {
	var out []Span
	for _, loc := range anchorRe.FindAllStringSubmatchIndex(content, -1) {
		if start, end, ok := attrValue(loc); ok && end > start {
			out = append(out, Span{Start: start, End: end, Value: content[start:end], Kind: KindLink})
		}
	}
	return out
}

// Galleries returns the encoded descriptor tokens of every gallery marker.
// Numeric ids are already local and are not returned.
func Galleries(content string) []GalleryRef {
	var out []GalleryRef
	for _, loc := range galleryRe.FindAllStringSubmatchIndex(content, -1) {
		start, end := loc[2], loc[3]
		pos := start
		for _, tok := range strings.Split(content[start:end], ",") {
			tokStart := pos
			pos += len(tok) + 1

			trimmed := strings.TrimLeftFunc(tok, unicode.IsSpace)
			tokStart += len(tok) - len(trimmed)
			trimmed = strings.TrimRightFunc(trimmed, unicode.IsSpace)
			if trimmed == "" {
				continue
			}
			if _, err := strconv.ParseInt(trimmed, 10, 64); err == nil {
				continue
			}
			img, ok := decodeGalleryImage(trimmed)
			if !ok {
				continue
			}
			out = append(out, GalleryRef{
				Span:  Span{Start: tokStart, End: tokStart + len(trimmed), Value: trimmed, Kind: KindGallery},
				Image: img,
			})
		}
	}
	return out
}

// EncodeGalleryImage produces the token format Galleries decodes.
func EncodeGalleryImage(img GalleryImage) string {
	data, _ := json.Marshal(img)
	return base64.StdEncoding.EncodeToString(data)
}

func decodeGalleryImage(token string) (GalleryImage, bool) {
	raw, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		raw, err = base64.RawStdEncoding.DecodeString(token)
		if err != nil {
			return GalleryImage{}, false
		}
	}
	var img GalleryImage
	if err := json.Unmarshal(raw, &img); err != nil || img.URL == "" {
		return GalleryImage{}, false
	}
	return img, true
}

// Occurrences returns a span for every occurrence of each non-empty value.
func Occurrences(content string, values []string) []Span {
	var out []Span
	seen := make(map[string]struct{}, len(values))
	for _, v := range values {
		if v == "" {
			continue
		}
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		for pos := 0; pos < len(content); {
			i := strings.Index(content[pos:], v)
			if i < 0 {
				break
			}
			start := pos + i
			out = append(out, Span{Start: start, End: start + len(v), Value: v, Kind: KindText})
			pos = start + len(v)
		}
	}
	sortSpans(out)
	return out
}

// Unique returns the distinct span values in first-seen order.
func Unique(spans []Span) []string {
	seen := make(map[string]struct{}, len(spans))
	var out []string
	for _, s := range spans {
		if _, dup := seen[s.Value]; dup {
			continue
		}
		seen[s.Value] = struct{}{}
		out = append(out, s.Value)
	}
	return out
}

// Rewrite replaces each span whose value has a replacement. Overlapping
// spans are resolved before replacing: the earliest span wins, and on equal
// starts the longest span wins. A losing span is never rewritten, so no byte
// of content is rewritten twice.
func Rewrite(content string, spans []Span, replacements map[string]string) string {
	if len(spans) == 0 || len(replacements) == 0 {
		return content
	}
	sorted := append([]Span(nil), spans...)
	sortSpans(sorted)

	var b strings.Builder
	b.Grow(len(content))
	cursor := 0
	for _, s := range sorted {
		if s.Start < cursor || s.End > len(content) || s.Start >= s.End {
			continue
		}
		b.WriteString(content[cursor:s.Start])
		if repl, ok := replacements[s.Value]; ok && content[s.Start:s.End] == s.Value {
			b.WriteString(repl)
		} else {
			b.WriteString(content[s.Start:s.End])
		}
		cursor = s.End
	}
	b.WriteString(content[cursor:])
	return b.String()
}

func sortSpans(spans []Span) {
	sort.SliceStable(spans, func(i, j int) bool {
		if spans[i].Start != spans[j].Start {
			return spans[i].Start < spans[j].Start
		}
		return spans[i].End > spans[j].End
	})
}

// attrValue picks the populated quoting alternative of an attribute match.
func attrValue(loc []int) (int, int, bool) {
	for g := 1; g <= 3; g++ {
		if loc[2*g] >= 0 {
			return loc[2*g], loc[2*g+1], true
		}
	}
	return 0, 0, false
}

// srcsetCandidates splits "url 1x, url 2x" into absolute URL spans.
func srcsetCandidates(content string, start, end int) []Span {
	var out []Span
	i := start
	for i < end {
		for i < end && (unicode.IsSpace(rune(content[i])) || content[i] == ',') {
			i++
		}
		j := i
		for j < end && !unicode.IsSpace(rune(content[j])) && content[j] != ',' {
			j++
		}
		if j > i && IsAbsoluteURL(content[i:j]) {
			out = append(out, Span{Start: i, End: j, Value: content[i:j], Kind: KindImageSrcset})
		}
		i = j
	}
	return out
}

// IsAbsoluteURL reports whether s parses as a URL with a scheme and host.
func IsAbsoluteURL(s string) bool {
	u, err := url.Parse(s)
	return err == nil && u.Scheme != "" && u.Host != ""
}
