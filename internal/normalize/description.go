package normalize

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// CleanDescription strips HTML tags from a vendor job description, decodes
// entities and collapses whitespace. It is idempotent: cleaning already-clean
// text is a no-op.
func CleanDescription(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}

	text := raw
	if strings.ContainsAny(raw, "<&") {
		doc, err := goquery.NewDocumentFromReader(strings.NewReader(raw))
		if err == nil {
			// Block-level boundaries become spaces so words don't fuse.
			doc.Find("br, p, div, li").Each(func(_ int, s *goquery.Selection) {
				s.AppendHtml(" ")
			})
			text = doc.Text()
		}
	}

	text = strings.ReplaceAll(text, " ", " ")
	return strings.Join(strings.Fields(text), " ")
}
