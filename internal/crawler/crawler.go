// Package crawler fetches web pages and reduces them to plain text.
package crawler

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"dtkrag/internal/domain"
	"dtkrag/internal/extract"
	"dtkrag/internal/logger"
)

const (
	// UserAgent is sent with every request; some sites reject unknown clients.
	UserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"

	defaultTimeout  = 30 * time.Second
	maxBodyBytes    = 10 << 20
	maxTitleInFiles = 50
)

var unsafeTitleRe = regexp.MustCompile(`[^a-zA-Z0-9]`)

// Page is the readable content of a fetched URL.
type Page struct {
	URL   string
	Title string
	Text  string
}

// Fetcher downloads HTML pages.
type Fetcher struct {
	client *http.Client
	log    *logger.Logger
}

// New returns a Fetcher. A nil client gets a 30 second timeout.
func New(client *http.Client, log *logger.Logger) *Fetcher {
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Fetcher{client: client, log: log.With("service", "Crawler")}
}

// Fetch downloads rawURL and extracts its title and body text. The title
// falls back to the URL when the page has none.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*Page, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, &domain.ConfigError{Field: "url", Value: rawURL, Reason: "must be an absolute http(s) URL"}
	}
	target := u.String()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")

	start := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", target, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("failed to fetch %s: HTTP %d %s", target, resp.StatusCode, http.StatusText(resp.StatusCode))
	}

	title, text, err := extract.HTML(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, err
	}
	if title == "" {
		title = target
	}
	if text == "" {
		return nil, fmt.Errorf("%w: page %s has no readable text", domain.ErrEmptyContent, target)
	}
	f.log.Debug("page fetched", "url", target, "status", resp.StatusCode, "chars", len(text), "duration_ms", time.Since(start).Milliseconds())
	return &Page{URL: target, Title: title, Text: text}, nil
}

// SanitizeTitle makes a title usable in a file name: anything outside
// [a-zA-Z0-9] becomes '_' and the result is cut to 50 characters.
func SanitizeTitle(title string) string {
	s := unsafeTitleRe.ReplaceAllString(title, "_")
	if len(s) > maxTitleInFiles {
		s = s[:maxTitleInFiles]
	}
	return s
}

// FileName is the name a crawled page is saved under.
func FileName(documentID, title string) string {
	return documentID + "_" + SanitizeTitle(title) + ".txt"
}
