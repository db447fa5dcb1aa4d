package extract

import (
	"html"
	"net/url"
	"regexp"
	"strings"
	"unicode"
)

const (
	dotToken   = "zzdotzz"
	underToken = "zzunderzz"
)

var (
	queryRe      = regexp.MustCompile(`\?.*`)
	whitespaceRe = regexp.MustCompile(`[\s\r\n\t]+`)
	dashesRe     = regexp.MustCompile(`-{2,}`)
	specialChars = []string{
		"?", "[", "]", "/", "\\", "=", "<", ">", ":", ";", ",", "'", "\"", "&", "$", "#",
		"*", "(", ")", "|", "~", "`", "!", "{", "}", "%", "+", "’", "«", "»", "”", "“", "\x00",
	}
)

// FileExtension returns the text after the last '.' of name. Names without
// a dot, names whose only dot is the first character, and extensions longer
// than four characters yield "".
func FileExtension(name string) string {
	i := strings.LastIndex(name, ".")
	if i <= 0 {
		return ""
	}
	ext := name[i+1:]
	if len(ext) > 4 {
		return ""
	}
	return ext
}

// Basename returns the last '/'-separated segment of s.
func Basename(s string) string {
	if i := strings.LastIndex(s, "/"); i >= 0 {
		return s[i+1:]
	}
	return s
}

// SanitizeFilename normalizes a file name for storage lookups. The text after
// the last '.' is kept verbatim whatever its length; dots and underscores
// inside the stem survive the generic sanitizer.
func SanitizeFilename(name string) string {
	name = queryRe.ReplaceAllString(name, "")
	i := strings.LastIndex(name, ".")
	if i < 0 {
		return name
	}
	stem, ext := name[:i], name[i+1:]
	stem = strings.ReplaceAll(stem, ".", dotToken)
	stem = strings.ReplaceAll(stem, "_", underToken)
	stem = SanitizeName(stem)
	stem = strings.ReplaceAll(stem, underToken, "_")
	stem = strings.ReplaceAll(stem, dotToken, ".")
	return stem + "." + ext
}

// SanitizeName strips characters that are unsafe in file names, turns
// whitespace into dashes and trims leading and trailing punctuation.
func SanitizeName(name string) string {
	name = strings.ReplaceAll(name, "%20", "-")
	name = strings.ReplaceAll(name, "+", "-")
	for _, c := range specialChars {
		name = strings.ReplaceAll(name, c, "")
	}
	name = whitespaceRe.ReplaceAllString(name, "-")
	name = dashesRe.ReplaceAllString(name, "-")
	name = strings.Trim(name, ".-_")
	return name
}

// NormalizedName derives the lookup file name from an asset URL.
func NormalizedName(rawURL string) string {
	u := html.UnescapeString(strings.TrimSpace(rawURL))
	if i := strings.IndexAny(u, "?#"); i >= 0 {
		u = u[:i]
	}
	base := Basename(u)
	if dec, err := url.PathUnescape(base); err == nil {
		base = dec
	}
	return SanitizeFilename(base)
}

// LinkExtension returns the lower-cased extension of the path component of
// href, ignoring query and fragment.
func LinkExtension(href string) string {
	p := href
	if u, err := url.Parse(href); err == nil {
		p = u.Path
	}
	return strings.ToLower(FileExtension(Basename(p)))
}

// Slugify lower-cases s and joins its letter and digit runs with dashes.
func Slugify(s string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			dash = false
			continue
		}
		if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimRight(b.String(), "-")
}
