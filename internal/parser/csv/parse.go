// Package csv parses the City open-data CSV feeds into header-keyed records.
//
// The feeds are parsed with a quote-toggle scanner rather than encoding/csv:
// a double quote flips the in-quotes state and is dropped, and a comma only
// separates fields outside quotes. Malformed input never fails; it degrades to
// empty or missing values that the normalizer resolves later.
package csv

import (
	"fmt"
	"io"
	"strings"
	"unicode"

	"golang.org/x/text/encoding/charmap"
	xunicode "golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// Record maps a trimmed header name to the trimmed field value.
type Record map[string]string

// Get returns the value for header, or "" when the record has no such field.
func (r Record) Get(header string) string { return r[header] }

const bom = "\uFEFF"

// Parse splits text into records keyed by the first non-blank line.
//
// Blank lines are skipped. Records shorter than the header get "" for the
// missing trailing fields; extra fields are ignored.
func Parse(text string) []Record {
	_, recs := ParseTable(text)
	return recs
}

// ParseTable is Parse that also returns the trimmed header row in source order.
func ParseTable(text string) (headers []string, out []Record) {
	lines := strings.Split(text, "\n")
	out = make([]Record, 0, len(lines))

	for _, line := range lines {
		if strings.TrimSpace(trimBOM(line)) == "" {
			continue
		}

		fields := SplitLine(line)

		if headers == nil {
			headers = make([]string, len(fields))
			for i, h := range fields {
				if i == 0 {
					h = trimBOM(h)
				}
				headers[i] = trim(h)
			}
			continue
		}

		rec := make(Record, len(headers))
		for i, h := range headers {
			if i < len(fields) {
				rec[h] = trim(fields[i])
			} else {
				rec[h] = ""
			}
		}
		out = append(out, rec)
	}

	return headers, out
}

// SplitLine scans one line into raw (untrimmed) fields.
func SplitLine(line string) []string {
	var (
		fields   []string
		cur      strings.Builder
		inQuotes bool
	)

	for _, r := range line {
		switch {
		case r == '"':
			inQuotes = !inQuotes
		case r == ',' && !inQuotes:
			fields = append(fields, cur.String())
			cur.Reset()
		default:
			cur.WriteRune(r)
		}
	}
	return append(fields, cur.String())
}

// Encoding names accepted by ParseReader.
const (
	EncodingUTF8        = "utf-8"
	EncodingWindows1252 = "windows-1252"
)

// ParseReader decodes r and parses it with Parse.
//
// UTF-8 input may carry a byte order mark; it is consumed by the decoder.
// Only read errors are returned.
func ParseReader(r io.Reader, encoding string) ([]Record, error) {
	text, err := Decode(r, encoding)
	if err != nil {
		return nil, err
	}
	return Parse(text), nil
}

// Decode reads r to the end and converts it from encoding to UTF-8.
func Decode(r io.Reader, encoding string) (string, error) {
	dec, err := decoder(encoding)
	if err != nil {
		return "", err
	}
	b, err := io.ReadAll(transform.NewReader(r, dec))
	if err != nil {
		return "", fmt.Errorf("read csv: %w", err)
	}
	return string(b), nil
}

func decoder(encoding string) (transform.Transformer, error) {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "", EncodingUTF8, "utf8":
		return xunicode.BOMOverride(xunicode.UTF8.NewDecoder()), nil
	case EncodingWindows1252, "cp1252":
		return charmap.Windows1252.NewDecoder(), nil
	default:
		return nil, fmt.Errorf("csv: unsupported encoding %q", encoding)
	}
}

func trimBOM(s string) string { return strings.TrimPrefix(s, bom) }

// trim matches the whitespace set of the feed tooling, which also treats a
// stray BOM as whitespace.
func trim(s string) string {
	return strings.TrimFunc(s, func(r rune) bool {
		return r == '\uFEFF' || unicode.IsSpace(r)
	})
}
