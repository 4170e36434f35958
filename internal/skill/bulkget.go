package skill

import (
	"context"
	"fmt"
	"strings"

	"skillrun/internal/domain"
	"skillrun/internal/schema"

	"github.com/go-resty/resty/v2"
	"golang.org/x/sync/errgroup"
)

const bulkConcurrency = 4

// NewBulkGet builds the bulk_get skill: fetch several static pages in
// parallel with bounded concurrency and return the results in input order.
func NewBulkGet(cfg FetchConfig) domain.Skill {
	cfg = cfg.withDefaults()
	client := resty.New().
		SetTimeout(cfg.Timeout).
		SetHeader("User-Agent", cfg.UserAgent)

	params := fetchParams(false)
	delete(params, "url")
	params["urls"] = schema.Param{
		Kind:        schema.Array,
		Description: "The URLs to fetch in parallel",
		Required:    true,
	}

	return domain.Skill{
		Name:        "bulk_get",
		Description: "Fetch several static web pages in parallel and return each page's content.",
		Params:      schema.Parameters{Props: params},
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			return fetchBulk(ctx, client, cfg, args)
		},
	}
}

func fetchBulk(ctx context.Context, client *resty.Client, cfg FetchConfig, args map[string]any) (string, error) {
	urls, err := stringSliceArg(args, "urls")
	if err != nil {
		return "", err
	}
	if len(urls) == 0 {
		return "", fmt.Errorf("urls must not be empty")
	}

	results := make([]string, len(urls))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(bulkConcurrency)

	for i, u := range urls {
		g.Go(func() error {
			perURL := map[string]any{"url": u}
			for k, v := range args {
				if k != "urls" {
					perURL[k] = v
				}
			}
			text, err := fetchPage(gctx, client, cfg, perURL)
			if err != nil {
				// One bad URL must not sink the batch; report it inline.
				results[i] = fmt.Sprintf("URL: %s\nError: %s", u, err)
				return nil
			}
			domain.ReportProgress(gctx, fmt.Sprintf("fetched %s", u))
			results[i] = text
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return "", err
	}

	return strings.Join(results, "\n\n---\n\n"), nil
}

// stringSliceArg reads an array argument whose elements must be strings.
// The validator only checks the array kind; element types are the skill's
// own concern.
func stringSliceArg(args map[string]any, key string) ([]string, error) {
	switch v := args[key].(type) {
	case []string:
		return v, nil
	case []any:
		out := make([]string, 0, len(v))
		for i, e := range v {
			s, ok := e.(string)
			if !ok {
				return nil, fmt.Errorf("%s[%d]: expected string, got %T", key, i, e)
			}
			out = append(out, s)
		}
		return out, nil
	}
	return nil, fmt.Errorf("%s: expected array of strings", key)
}
