package tools

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-shiori/go-readability"
	log "github.com/sirupsen/logrus"
)

const maxPageText = 8000

// ReadPage downloads a web page and returns its readable text so the assistant
// can summarize or quote it
type ReadPage struct {
	Timeout time.Duration
}

var _ Function = ReadPage{}

func (t ReadPage) Name() string {
	return "read_web_page"
}

func (t ReadPage) Description() string {
	return "Download a web page and return its main text. Use it to summarize or answer questions about a given URL."
}

func (t ReadPage) Parameters() map[string]any {
	return properties([]string{"url"}, map[string]any{
		"url": stringProperty("A valid http(s) URL to a web page"),
	})
}

func (t ReadPage) Call(ctx context.Context, input string) (string, error) {
	link := argument(input, "url")
	u, err := url.Parse(link)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", fmt.Errorf("invalid url: %q", link)
	}
	timeout := t.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	client := &http.Client{Timeout: timeout}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", err
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to download %s: %w", link, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("failed to download %s: %s", link, resp.Status)
	}

	article, err := readability.FromReader(resp.Body, u)
	if err != nil {
		return "", fmt.Errorf("failed to parse %s: %w", link, err)
	}
	log.WithField("url", link).WithField("length", len(article.TextContent)).Info("page downloaded")

	return fmt.Sprintf("Title: %s\n\n%s", article.Title, truncate(strings.TrimSpace(article.TextContent), maxPageText)), nil
}

// truncate cuts s to at most n bytes without splitting a rune
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}

	return s[:n]
}
