package content

import (
	"encoding/json"
	"fmt"
	"html"
	"strings"
)

const blockMarker = "<!-- wp:"

// Paragraph wraps inner HTML in a paragraph block.
func Paragraph(inner string) string {
	return "<!-- wp:paragraph -->\n<p>" + inner + "</p>\n<!-- /wp:paragraph -->"
}

// Heading builds a heading block. Level 2 is the editor default and carries
// no attributes.
func Heading(text string, level int) string {
	if level < 1 || level > 6 {
		level = 2
	}
	open := "<!-- wp:heading -->"
	if level != 2 {
		open = fmt.Sprintf(`<!-- wp:heading {"level":%d} -->`, level)
	}
	return fmt.Sprintf("%s\n<h%d>%s</h%d>\n<!-- /wp:heading -->", open, level, text, level)
}

// List builds a list block from item HTML.
func List(items []string, ordered bool) string {
	tag, open := "ul", "<!-- wp:list -->"
	if ordered {
		tag, open = "ol", `<!-- wp:list {"ordered":true} -->`
	}
	var b strings.Builder
	b.WriteString(open)
	b.WriteString("\n<" + tag + ">")
	for _, it := range items {
		b.WriteString("<li>" + it + "</li>")
	}
	b.WriteString("</" + tag + ">\n<!-- /wp:list -->")
	return b.String()
}

// Image builds an image block referencing a media asset.
func Image(id int64, url, alt string) string {
	return fmt.Sprintf(
		"<!-- wp:image {\"id\":%d} -->\n<figure class=\"wp-block-image\"><img src=\"%s\" alt=\"%s\" class=\"wp-image-%d\"/></figure>\n<!-- /wp:image -->",
		id, html.EscapeString(url), html.EscapeString(alt), id)
}

// Custom builds a self-closing block of a registered custom block type.
func Custom(name string, data map[string]any) (string, error) {
	attrs, err := json.Marshal(map[string]any{
		"name": name,
		"data": data,
		"mode": "edit",
	})
	if err != nil {
		return "", fmt.Errorf("content: custom block %s: %w", name, err)
	}
	return "<!-- wp:" + name + " " + string(attrs) + " /-->", nil
}

// Paragraphs splits text on blank lines and wraps each chunk in a paragraph
// block. Text that already holds block markup is returned unchanged.
func Paragraphs(text string) string {
	if strings.Contains(text, blockMarker) {
		return text
	}
	normalized := strings.ReplaceAll(text, "\r\n", "\n")
	var blocks []string
	for _, chunk := range strings.Split(normalized, "\n\n") {
		chunk = strings.TrimSpace(chunk)
		if chunk == "" {
			continue
		}
		blocks = append(blocks, Paragraph(chunk))
	}
	return strings.Join(blocks, "\n\n")
}
