package recipe

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// PlainText strips the rich-text markup stored in Recipe.Content.
func PlainText(html string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", fmt.Errorf("failed to parse recipe content: %w", err)
	}

	doc.Find("script, style, iframe").Each(func(i int, s *goquery.Selection) {
		s.Remove()
	})

	// Keep block boundaries as line breaks before flattening.
	doc.Find("p, li, h1, h2, h3, h4, br").Each(func(i int, s *goquery.Selection) {
		s.AppendHtml("\n")
	})

	var lines []string
	for _, line := range strings.Split(doc.Text(), "\n") {
		if fields := strings.Fields(line); len(fields) > 0 {
			lines = append(lines, strings.Join(fields, " "))
		}
	}
	return strings.Join(lines, "\n"), nil
}

// Summary returns at most n runes of the plain-text content.
func Summary(html string, n int) string {
	text, err := PlainText(html)
	if err != nil {
		return ""
	}
	text = strings.ReplaceAll(text, "\n", " ")
	runes := []rune(text)
	if len(runes) <= n {
		return text
	}
	return strings.TrimSpace(string(runes[:n])) + "…"
}
