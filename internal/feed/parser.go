// Package feed turns raw feed bytes into normalized product records.
package feed

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"html"
	"io"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
	xunicode "golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// Separator is the field delimiter of the feed.
const Separator = ';'

// RawRow maps a header name to the trimmed cell value of one feed line.
type RawRow map[string]string

// ParseError is returned when the feed has no usable header row.
type ParseError struct {
	Message string
	Cause   error
}

func (e *ParseError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("parse error: %s: %v", e.Message, e.Cause)
	}
	return fmt.Sprintf("parse error: %s", e.Message)
}

func (e *ParseError) Unwrap() error {
	return e.Cause
}

var (
	scriptBlock = regexp.MustCompile(`(?is)<script\b[^>]*>.*?</script\s*>`)
	styleBlock  = regexp.MustCompile(`(?is)<style\b[^>]*>.*?</style\s*>`)
	anyTag      = regexp.MustCompile(`(?s)<[^>]+>`)
)

// Options tunes parsing.
type Options struct {
	// Charset names the source encoding (an HTML encoding label such as
	// "windows-1252"). Empty means UTF-8.
	Charset string
}

// Parse decodes, de-markups and splits the feed into rows keyed by the header line.
func Parse(data []byte) ([]RawRow, error) {
	return ParseWithOptions(data, Options{})
}

// ParseWithOptions is Parse with an explicit source charset.
func ParseWithOptions(data []byte, opts Options) ([]RawRow, error) {
	text, err := Decode(data, opts.Charset)
	if err != nil {
		return nil, &ParseError{Message: "failed to decode feed", Cause: err}
	}

	lines := DataLines(StripMarkup(text))
	if len(lines) == 0 {
		return nil, &ParseError{Message: "no header row found"}
	}

	r := csv.NewReader(strings.NewReader(strings.Join(lines, "\n")))
	r.Comma = Separator
	r.LazyQuotes = true
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err != nil {
		return nil, &ParseError{Message: "failed to read header row", Cause: err}
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}
	if !hasColumn(header) {
		return nil, &ParseError{Message: "header row has no columns"}
	}

	var rows []RawRow
	for {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, &ParseError{Message: fmt.Sprintf("failed to read row %d", len(rows)+1), Cause: err}
		}
		row := make(RawRow, len(header))
		for i, name := range header {
			if name == "" {
				continue
			}
			if i < len(record) {
				row[name] = strings.TrimSpace(record[i])
			} else {
				row[name] = ""
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// Decode converts raw bytes to a string. Invalid sequences become U+FFFD;
// decoding never fails for UTF-8 input.
func Decode(data []byte, charset string) (string, error) {
	var enc encoding.Encoding = xunicode.UTF8
	if c := strings.TrimSpace(charset); c != "" && !strings.EqualFold(c, "utf-8") && !strings.EqualFold(c, "utf8") {
		var err error
		enc, err = htmlindex.Get(c)
		if err != nil {
			return "", fmt.Errorf("unknown charset %q: %w", charset, err)
		}
	}
	out, _, err := transform.Bytes(enc.NewDecoder(), data)
	if err != nil {
		return "", err
	}
	// Strip a leading byte order mark so it does not leak into the first header.
	return strings.TrimPrefix(string(bytes.ToValidUTF8(out, []byte("\uFFFD"))), "\uFEFF"), nil
}

// StripMarkup removes script and style blocks, then every remaining tag, then
// decodes HTML entities and collapses runs of whitespace inside each line.
func StripMarkup(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = scriptBlock.ReplaceAllString(s, " ")
	s = styleBlock.ReplaceAllString(s, " ")
	s = anyTag.ReplaceAllString(s, "")
	s = html.UnescapeString(s)
	return collapseSpaces(s)
}

// collapseSpaces folds every run of Unicode whitespace other than a line
// break into one ASCII space.
func collapseSpaces(s string) string {
	var sb strings.Builder
	sb.Grow(len(s))
	inSpace := false
	for _, r := range s {
		if r != '\n' && unicode.IsSpace(r) {
			if !inSpace {
				sb.WriteByte(' ')
				inSpace = true
			}
			continue
		}
		inSpace = false
		sb.WriteRune(r)
	}
	return sb.String()
}

// DataLines keeps the trimmed lines that contain the separator.
func DataLines(s string) []string {
	var out []string
	for _, line := range strings.Split(s, "\n") {
		if strings.ContainsRune(line, Separator) {
			out = append(out, strings.TrimSpace(line))
		}
	}
	return out
}

func hasColumn(header []string) bool {
	for _, h := range header {
		if h != "" {
			return true
		}
	}
	return false
}
