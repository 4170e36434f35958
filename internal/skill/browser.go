package skill

import (
	"context"
	"fmt"
	"time"

	"skillrun/internal/domain"
	"skillrun/internal/schema"

	"github.com/chromedp/chromedp"
)

const defaultRenderTimeout = 45 * time.Second

// BrowserConfig tunes the headless-Chrome rendering skill.
type BrowserConfig struct {
	Headless bool
	Timeout  time.Duration
}

// NewPageRender builds the page_render skill: fetch a page in headless
// Chrome so JavaScript-driven content is present before extraction. Much
// heavier than page_get; meant for single-page apps and dynamic sites.
func NewPageRender(cfg BrowserConfig) domain.Skill {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultRenderTimeout
	}

	return domain.Skill{
		Name:        "page_render",
		Description: "Fetch a web page in a headless browser, executing JavaScript before extracting content. Use for dynamic sites that page_get cannot read.",
		Params: schema.Parameters{Props: map[string]schema.Param{
			"url": {
				Kind:        schema.String,
				Description: "The URL to render",
				Required:    true,
			},
			"selector": {
				Kind:        schema.String,
				Description: "CSS selector to wait for before extracting; defaults to the document body",
			},
			"wait_seconds": {
				Kind:        schema.Number,
				Description: "Extra settle time after load, for late-rendering content",
				Min:         schema.Float(0),
				Max:         schema.Float(30),
				Default:     2.0,
			},
			"extraction": {
				Kind:        schema.String,
				Description: "Return the rendered text or the full outer HTML",
				Enum:        []string{"text", "html"},
				Default:     "text",
			},
		}},
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			return renderPage(ctx, cfg, args)
		},
	}
}

func renderPage(ctx context.Context, cfg BrowserConfig, args map[string]any) (string, error) {
	rawURL := args["url"].(string)
	selector, _ := args["selector"].(string)
	if selector == "" {
		selector = "body"
	}
	wait := time.Duration(intArg(args, "wait_seconds", 2)) * time.Second
	extraction, _ := args["extraction"].(string)

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
	)
	if cfg.Headless {
		opts = append(opts, chromedp.Headless)
	} else {
		opts = append(opts, chromedp.Flag("headless", false))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, opts...)
	defer allocCancel()
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	defer browserCancel()
	browserCtx, timeoutCancel := context.WithTimeout(browserCtx, cfg.Timeout)
	defer timeoutCancel()

	domain.ReportProgress(ctx, fmt.Sprintf("rendering %s", rawURL))

	var content string
	tasks := chromedp.Tasks{
		chromedp.Navigate(rawURL),
		chromedp.WaitVisible(selector, chromedp.ByQuery),
		chromedp.Sleep(wait),
	}
	if extraction == "html" {
		tasks = append(tasks, chromedp.OuterHTML("html", &content, chromedp.ByQuery))
	} else {
		tasks = append(tasks, chromedp.Text(selector, &content, chromedp.ByQuery))
	}

	if err := chromedp.Run(browserCtx, tasks); err != nil {
		return "", fmt.Errorf("render %s: %w", rawURL, err)
	}

	return fmt.Sprintf("URL: %s\n\n%s", rawURL, content), nil
}
