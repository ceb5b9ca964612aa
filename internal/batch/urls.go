package batch

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// MaxURLs is the largest batch any entry point accepts.
const MaxURLs = 50

var (
	ErrNoURLs      = errors.New("no valid URLs given")
	ErrTooManyURLs = fmt.Errorf("at most %d URLs are allowed", MaxURLs)
	ErrInvalidURL  = errors.New("invalid URL format")
)

// Task is one URL of a batch at its input position.
type Task struct {
	Index  int
	RawURL string
}

// ParseURLList splits a comma-joined list, trimming entries and dropping
// empty ones.
func ParseURLList(raw string) ([]string, error) {
	var urls []string
	for _, part := range strings.Split(raw, ",") {
		if u := strings.TrimSpace(part); u != "" {
			urls = append(urls, u)
		}
	}
	if err := CheckCount(len(urls)); err != nil {
		return nil, err
	}
	return urls, nil
}

// CheckCount applies the batch size limits.
func CheckCount(n int) error {
	switch {
	case n == 0:
		return ErrNoURLs
	case n > MaxURLs:
		return ErrTooManyURLs
	}
	return nil
}

// Tasks numbers urls in input order.
func Tasks(urls []string) []Task {
	tasks := make([]Task, len(urls))
	for i, u := range urls {
		tasks[i] = Task{Index: i, RawURL: u}
	}
	return tasks
}

// Normalize prefixes https:// when the URL carries no http(s) scheme.
func Normalize(raw string) string {
	if strings.HasPrefix(raw, "http://") || strings.HasPrefix(raw, "https://") {
		return raw
	}
	return "https://" + raw
}

// Validate checks that u is an absolute http(s) URL with a host.
func Validate(u string) error {
	parsed, err := url.Parse(u)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("%w: unsupported scheme %q", ErrInvalidURL, parsed.Scheme)
	}
	if parsed.Hostname() == "" {
		return fmt.Errorf("%w: missing host", ErrInvalidURL)
	}
	return nil
}
