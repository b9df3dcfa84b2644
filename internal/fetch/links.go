package fetch

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// FeedExtension is the file extension that identifies the feed resource.
const FeedExtension = ".csv"

// LinkError represents a failure to discover the feed link inside a listing.
type LinkError struct {
	Listing string
	Message string
	Cause   error
}

func (e *LinkError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("link discovery error for %s: %s: %v", e.Listing, e.Message, e.Cause)
	}
	return fmt.Sprintf("link discovery error for %s: %s", e.Listing, e.Message)
}

func (e *LinkError) Unwrap() error {
	return e.Cause
}

// IsFeedResource reports whether rawURL points directly at a feed file,
// comparing the path extension case-insensitively and ignoring any query.
func IsFeedResource(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return strings.HasSuffix(strings.ToLower(rawURL), FeedExtension)
	}
	return strings.HasSuffix(strings.ToLower(u.Path), FeedExtension)
}

// DiscoverFeedLink returns the first anchor in a listing document whose target
// is a feed file, resolved against listingURL.
func DiscoverFeedLink(html []byte, listingURL string) (string, error) {
	base, err := url.Parse(listingURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return "", &LinkError{
			Listing: listingURL,
			Message: "invalid listing URL (must have scheme and host)",
			Cause:   err,
		}
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return "", &LinkError{
			Listing: listingURL,
			Message: "failed to parse listing HTML",
			Cause:   err,
		}
	}

	var found string
	doc.Find("a[href]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		href, _ := s.Attr("href")
		href = strings.TrimSpace(href)
		if href == "" {
			return true
		}
		linkURL, err := url.Parse(href)
		if err != nil {
			return true
		}
		if !strings.HasSuffix(strings.ToLower(linkURL.Path), FeedExtension) {
			return true
		}
		found = base.ResolveReference(linkURL).String()
		return false
	})

	if found == "" {
		return "", &LinkError{
			Listing: listingURL,
			Message: fmt.Sprintf("no %s link found", FeedExtension),
		}
	}
	return found, nil
}
