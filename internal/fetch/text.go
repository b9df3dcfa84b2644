package fetch

import (
	"bytes"
	"context"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// ExcerptTimeout is the default timeout for product page excerpts.
const ExcerptTimeout = 8 * time.Second

// ExtractText returns the visible text of an HTML document with script,
// style and noscript content removed and whitespace collapsed to single spaces.
func ExtractText(html []byte) string {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return CollapseWhitespace(string(html))
	}
	doc.Find("script, style, noscript, template").Remove()

	var sb strings.Builder
	doc.Find("body").Each(func(_ int, s *goquery.Selection) {
		sb.WriteString(s.Text())
		sb.WriteByte(' ')
	})
	if sb.Len() == 0 {
		sb.WriteString(doc.Text())
	}
	return CollapseWhitespace(sb.String())
}

// CollapseWhitespace replaces every run of whitespace with a single space and trims the ends.
func CollapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// Truncate cuts s to at most max runes.
func Truncate(s string, max int) string {
	if max < 0 {
		return s
	}
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}

// Excerpt fetches a page and returns at most maxChars of its visible text.
// It never fails: a non-http URL or any fetch problem yields "".
func Excerpt(ctx context.Context, pageURL string, opts *Options, maxChars int) string {
	if !strings.HasPrefix(pageURL, "http") {
		return ""
	}
	if opts == nil {
		opts = &Options{Timeout: ExcerptTimeout, UserAgent: DefaultUserAgent}
	}
	res, err := URL(ctx, pageURL, opts)
	if err != nil {
		return ""
	}
	return Truncate(ExtractText(res.Body), maxChars)
}
