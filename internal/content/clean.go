// Package content cleans imported markup and builds block-editor markup.
package content

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// shortcodeRe matches bracketed markers such as [gallery ids="1,2"], which
// must survive HTML re-rendering byte for byte.
var shortcodeRe = regexp.MustCompile(`\[[^\[\]<>]*\]`)

const shortcodeToken = "kenazshortcode"

// Clean removes <script> and <style> elements and inline style attributes
// from an HTML fragment.
func Clean(fragment string) (string, error) {
	if strings.TrimSpace(fragment) == "" {
		return fragment, nil
	}

	var saved []string
	protected := shortcodeRe.ReplaceAllStringFunc(fragment, func(m string) string {
		saved = append(saved, m)
		return shortcodeToken + strconv.Itoa(len(saved)-1) + "x"
	})

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(protected))
	if err != nil {
		return "", fmt.Errorf("content: parse: %w", err)
	}
	body := doc.Find("body")
	body.Find("script, style").Remove()
	body.Find("[style]").RemoveAttr("style")

	out, err := body.Html()
	if err != nil {
		return "", fmt.Errorf("content: render: %w", err)
	}
	for i := len(saved) - 1; i >= 0; i-- {
		out = strings.ReplaceAll(out, shortcodeToken+strconv.Itoa(i)+"x", saved[i])
	}
	return strings.TrimSpace(out), nil
}
