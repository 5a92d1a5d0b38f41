package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"
)

const (
	userAgent    = "toolbot/1.0 (+https://github.com/joebot/toolbot)"
	maxRedirects = 5
	maxBodyBytes = 2 << 20
)

// WebFetchTool fetches a URL and returns its readable text.
type WebFetchTool struct {
	maxChars int
	client   *http.Client
}

// NewWebFetchTool creates a web_fetch tool.
func NewWebFetchTool() *WebFetchTool {
	return &WebFetchTool{
		maxChars: 20000,
		client: &http.Client{
			Timeout: 30 * time.Second,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= maxRedirects {
					return fmt.Errorf("too many redirects (max %d)", maxRedirects)
				}
				return nil
			},
		},
	}
}

func (t *WebFetchTool) Name() string        { return "web_fetch" }
func (t *WebFetchTool) Description() string { return "Fetch a URL and return its readable text content." }
func (t *WebFetchTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"url":      map[string]any{"type": "string", "description": "http or https URL to fetch"},
			"maxChars": map[string]any{"type": "integer", "minimum": 100, "description": "Max content length"},
		},
		"required": []string{"url"},
	}
}

func (t *WebFetchTool) Execute(ctx context.Context, params map[string]any) (string, error) {
	rawURL, err := requireStringParam(params, "url")
	if err != nil {
		return "", err
	}
	if err := validateURL(rawURL); err != nil {
		return "", err
	}

	maxChars := t.maxChars
	if mc, ok := params["maxChars"].(float64); ok && int(mc) >= 100 {
		maxChars = int(mc)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := t.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return "", fmt.Errorf("read %s: %w", rawURL, err)
	}
	if resp.StatusCode >= 400 {
		return fmt.Sprintf("Error: HTTP %d from %s", resp.StatusCode, rawURL), nil
	}

	text := string(body)
	ctype := resp.Header.Get("Content-Type")
	switch {
	case strings.Contains(ctype, "application/json"):
		var j any
		if json.Unmarshal(body, &j) == nil {
			if pretty, err := json.MarshalIndent(j, "", "  "); err == nil {
				text = string(pretty)
			}
		}
	case strings.Contains(ctype, "text/html") || isHTMLContent(text):
		title, article := extractReadable(text)
		text = stripTags(article)
		if title != "" {
			text = title + "\n\n" + text
		}
	}

	return truncateString(text, maxChars), nil
}

var (
	reScript   = regexp.MustCompile(`(?is)<script[\s\S]*?</script>`)
	reStyle    = regexp.MustCompile(`(?is)<style[\s\S]*?</style>`)
	reNav      = regexp.MustCompile(`(?is)<(?:nav|header|footer|aside)[\s\S]*?</(?:nav|header|footer|aside)>`)
	reTag      = regexp.MustCompile(`<[^>]+>`)
	reBlockEnd = regexp.MustCompile(`(?is)</(p|div|section|article|li|h[1-6])>|<br\s*/?>`)
	reSpaces   = regexp.MustCompile(`[ \t]+`)
	reNewlines = regexp.MustCompile(`\n{3,}`)
	reTitle    = regexp.MustCompile(`(?is)<title[^>]*>(.*?)</title>`)
	reArticle  = regexp.MustCompile(`(?is)<(?:article|main)[^>]*>([\s\S]*?)</(?:article|main)>`)
	reBody     = regexp.MustCompile(`(?is)<body[^>]*>([\s\S]*?)</body>`)
)

func validateURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("only http/https allowed, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("missing host in %q", rawURL)
	}
	return nil
}

func isHTMLContent(text string) bool {
	prefix := text
	if len(prefix) > 256 {
		prefix = prefix[:256]
	}
	lower := strings.ToLower(strings.TrimSpace(prefix))
	return strings.HasPrefix(lower, "<!doctype") || strings.HasPrefix(lower, "<html")
}

// extractReadable prefers <article>/<main>, then <body>, and drops
// script, style and navigation blocks.
func extractReadable(rawHTML string) (title, content string) {
	if m := reTitle.FindStringSubmatch(rawHTML); len(m) > 1 {
		title = strings.TrimSpace(stripTags(m[1]))
	}
	switch {
	case reArticle.MatchString(rawHTML):
		content = reArticle.FindStringSubmatch(rawHTML)[1]
	case reBody.MatchString(rawHTML):
		content = reBody.FindStringSubmatch(rawHTML)[1]
	default:
		content = rawHTML
	}
	content = reScript.ReplaceAllString(content, "")
	content = reStyle.ReplaceAllString(content, "")
	content = reNav.ReplaceAllString(content, "")
	return title, content
}

func stripTags(s string) string {
	s = reScript.ReplaceAllString(s, "")
	s = reStyle.ReplaceAllString(s, "")
	s = reBlockEnd.ReplaceAllString(s, "\n")
	s = reTag.ReplaceAllString(s, "")
	s = html.UnescapeString(s)
	s = reSpaces.ReplaceAllString(s, " ")
	s = reNewlines.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}
