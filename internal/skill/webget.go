package skill

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"skillrun/internal/domain"
	"skillrun/internal/schema"

	"github.com/go-resty/resty/v2"
	readability "github.com/go-shiori/go-readability"
)

const (
	defaultFetchTimeout  = 15 * time.Second
	defaultFetchMaxChars = 10000
	defaultUserAgent     = "skillrun/0.1"
)

// FetchConfig tunes the HTTP-fetching skills.
type FetchConfig struct {
	UserAgent string
	MaxChars  int
	Timeout   time.Duration
}

func (c FetchConfig) withDefaults() FetchConfig {
	if c.UserAgent == "" {
		c.UserAgent = defaultUserAgent
	}
	if c.MaxChars <= 0 {
		c.MaxChars = defaultFetchMaxChars
	}
	if c.Timeout <= 0 {
		c.Timeout = defaultFetchTimeout
	}
	return c
}

func fetchParams(urlRequired bool) map[string]schema.Param {
	return map[string]schema.Param{
		"url": {
			Kind:        schema.String,
			Description: "The URL to fetch",
			Required:    urlRequired,
		},
		"extraction": {
			Kind:        schema.String,
			Description: "How to extract content: readable plain text, readable article HTML, or the raw body",
			Enum:        []string{"text", "html", "raw"},
			Default:     "text",
		},
		"main_content_only": {
			Kind:        schema.Boolean,
			Description: "Strip navigation and boilerplate, keeping only the main article content",
			Default:     true,
		},
		"max_chars": {
			Kind:        schema.Number,
			Description: "Truncate the extracted content to this many characters",
			Min:         schema.Float(256),
			Max:         schema.Float(262144),
		},
	}
}

// NewPageGet builds the page_get skill: a plain HTTP fetch with readability
// extraction for static pages.
func NewPageGet(cfg FetchConfig) domain.Skill {
	cfg = cfg.withDefaults()
	client := resty.New().
		SetTimeout(cfg.Timeout).
		SetHeader("User-Agent", cfg.UserAgent)

	return domain.Skill{
		Name:        "page_get",
		Description: "Fetch a static web page over HTTP and return its content. Fast; does not execute JavaScript.",
		Params:      schema.Parameters{Props: fetchParams(true)},
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			return fetchPage(ctx, client, cfg, args)
		},
	}
}

func fetchPage(ctx context.Context, client *resty.Client, cfg FetchConfig, args map[string]any) (string, error) {
	rawURL := args["url"].(string)
	if _, err := url.ParseRequestURI(rawURL); err != nil {
		return "", fmt.Errorf("invalid url %q: %w", rawURL, err)
	}

	resp, err := client.R().SetContext(ctx).Get(rawURL)
	if err != nil {
		return "", fmt.Errorf("fetch %s: %w", rawURL, err)
	}

	body := resp.Body()
	text := extractContent(body, rawURL, resp.Header().Get("Content-Type"), args)
	text = truncate(text, maxChars(args, cfg.MaxChars))

	return fmt.Sprintf("URL: %s\nStatus: %d\n\n%s", rawURL, resp.StatusCode(), text), nil
}

// extractContent turns a response body into transcript-friendly text
// according to the extraction and main_content_only arguments.
func extractContent(body []byte, rawURL, contentType string, args map[string]any) string {
	extraction, _ := args["extraction"].(string)
	mainOnly, _ := args["main_content_only"].(bool)

	if extraction == "raw" {
		return string(body)
	}

	if strings.Contains(contentType, "application/json") {
		var data any
		if err := json.Unmarshal(body, &data); err == nil {
			if pretty, err := json.MarshalIndent(data, "", "  "); err == nil {
				return string(pretty)
			}
		}
		return string(body)
	}

	isHTML := strings.Contains(contentType, "text/html") || looksLikeHTML(body)
	if !isHTML {
		return string(body)
	}

	if mainOnly {
		parsed, _ := url.Parse(rawURL)
		article, err := readability.FromReader(bytes.NewReader(body), parsed)
		if err == nil {
			content := article.TextContent
			if extraction == "html" {
				content = article.Content
			}
			if article.Title != "" {
				content = "# " + article.Title + "\n\n" + content
			}
			return content
		}
		// Fall through to tag stripping when readability gives up.
	}

	if extraction == "html" {
		return string(body)
	}
	return stripHTMLTags(string(body))
}

func looksLikeHTML(b []byte) bool {
	head := b
	if len(head) > 256 {
		head = head[:256]
	}
	prefix := strings.ToLower(strings.TrimSpace(string(head)))
	return strings.HasPrefix(prefix, "<!doctype") || strings.HasPrefix(prefix, "<html")
}

// stripHTMLTags is a crude fallback extractor for pages readability cannot parse.
func stripHTMLTags(s string) string {
	var sb strings.Builder
	inTag := false
	for _, r := range s {
		switch {
		case r == '<':
			inTag = true
		case r == '>':
			inTag = false
			sb.WriteRune(' ')
		case !inTag:
			sb.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(sb.String()), " ")
}

func maxChars(args map[string]any, fallback int) int {
	return intArg(args, "max_chars", fallback)
}

func truncate(s string, limit int) string {
	if limit > 0 && len(s) > limit {
		return s[:limit] + "\n[truncated]"
	}
	return s
}
