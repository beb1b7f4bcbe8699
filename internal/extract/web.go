package extract

import (
	"context"
	"fmt"
	"html"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"
)

// maxFetchBytes bounds how much of a fetched page is read.
const maxFetchBytes = 10 << 20

var (
	titleRe     = regexp.MustCompile(`(?is)<title[^>]*>(.*?)</title>`)
	scriptRe    = regexp.MustCompile(`(?is)<(script|style|noscript)[^>]*>.*?</(script|style|noscript)>`)
	commentRe   = regexp.MustCompile(`(?s)<!--.*?-->`)
	blockEndRe  = regexp.MustCompile(`(?i)</(p|div|h[1-6]|li|tr|section|article|blockquote)>|<br\s*/?>`)
	tagRe       = regexp.MustCompile(`<[^>]*>`)
	blankLineRe = regexp.MustCompile(`\n\s*\n\s*\n+`)
)

var webClient = &http.Client{Timeout: 30 * time.Second}

// FetchURL downloads a page and returns its title and extracted text. Non-HTML
// responses are returned as plain text with an empty title.
func FetchURL(ctx context.Context, url string) (title, content string, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", "kotae/1.0")

	resp, err := webClient.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", "", fmt.Errorf("fetch %s: status %d", url, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBytes))
	if err != nil {
		return "", "", fmt.Errorf("read %s: %w", url, err)
	}

	if !strings.Contains(resp.Header.Get("Content-Type"), "text/html") {
		text, err := extractPlain(body)
		return "", text, err
	}

	page := string(body)
	if m := titleRe.FindStringSubmatch(page); len(m) > 1 {
		title = strings.TrimSpace(html.UnescapeString(m[1]))
	}
	return title, stripHTML(page), nil
}

// stripHTML reduces an HTML page to readable text: scripts, styles, and
// comments are dropped, block element boundaries become newlines, and
// entities are unescaped.
func stripHTML(page string) string {
	page = scriptRe.ReplaceAllString(page, "")
	page = commentRe.ReplaceAllString(page, "")
	page = blockEndRe.ReplaceAllString(page, "\n")
	page = tagRe.ReplaceAllString(page, " ")
	page = html.UnescapeString(page)

	lines := strings.Split(page, "\n")
	for i, line := range lines {
		lines[i] = strings.Join(strings.Fields(line), " ")
	}
	out := strings.Join(lines, "\n")
	out = blankLineRe.ReplaceAllString(out, "\n\n")
	return strings.TrimSpace(out)
}
