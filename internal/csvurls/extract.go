// Package csvurls pulls URL-like cells out of uploaded CSV files.
package csvurls

import (
	"encoding/csv"
	"errors"
	"io"
	"regexp"
	"strings"
)

var (
	domainPattern  = regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?\.([a-zA-Z]{2,}|[a-zA-Z]{2,}\.[a-zA-Z]{2,})$`)
	domainWithPath = regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?\.([a-zA-Z]{2,}|[a-zA-Z]{2,}\.[a-zA-Z]{2,})/.*$`)
)

// IsURLLike reports whether s looks like something a user meant as a URL:
// an http(s) address, a www. host, or a bare domain with an optional path.
func IsURLLike(s string) bool {
	s = strings.TrimSpace(s)
	switch {
	case s == "":
		return false
	case strings.HasPrefix(s, "http://"), strings.HasPrefix(s, "https://"):
		return true
	case strings.HasPrefix(s, "www.") && len(s) > len("www."):
		return true
	}
	return domainPattern.MatchString(s) || domainWithPath.MatchString(s)
}

// Extract reads every cell of every record and returns the URL-like ones,
// deduplicated in first-seen order. Malformed records are skipped.
func Extract(r io.Reader) ([]string, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.TrimLeadingSpace = true

	seen := make(map[string]bool)
	urls := []string{}
	first := true
	for {
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		var parseErr *csv.ParseError
		if errors.As(err, &parseErr) {
			continue
		}
		if err != nil {
			return nil, err
		}

		for _, cell := range record {
			if first {
				cell = strings.TrimPrefix(cell, "\ufeff")
				first = false
			}
			cell = strings.TrimSpace(cell)
			if !IsURLLike(cell) || seen[cell] {
				continue
			}
			seen[cell] = true
			urls = append(urls, cell)
		}
	}
	return urls, nil
}
