package fetch

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/boil-wsb/trending-service/internal/trend"
)

const (
	arxivBiologySource     = "arxiv_biology"
	arxivBiologySourceName = "arXiv Biology"
	arxivAISource          = "arxiv_computer_ai"
	arxivAISourceName      = "arXiv Computer Science / AI"
	arxivDefaultBase       = "http://export.arxiv.org/api/query"
	arxivSummaryMaxRunes   = 300
)

// ArxivFetcher queries the arXiv export API for the latest papers in a set
// of categories. The API speaks Atom, so responses go through gofeed.
type ArxivFetcher struct {
	opts       Options
	source     string
	name       string
	categories []string
	baseURL    string
}

// NewArxivBiology creates the quantitative-biology fetcher.
func NewArxivBiology(opts Options, categories []string, baseURL string) (*ArxivFetcher, error) {
	return newArxiv(opts, arxivBiologySource, arxivBiologySourceName, categories, baseURL)
}

// NewArxivComputerAI creates the computer-science/AI fetcher.
func NewArxivComputerAI(opts Options, categories []string, baseURL string) (*ArxivFetcher, error) {
	return newArxiv(opts, arxivAISource, arxivAISourceName, categories, baseURL)
}

func newArxiv(opts Options, source, name string, categories []string, baseURL string) (*ArxivFetcher, error) {
	if len(categories) == 0 {
		return nil, fmt.Errorf("%s: at least one category is required", source)
	}
	if baseURL == "" {
		baseURL = arxivDefaultBase
	}
	return &ArxivFetcher{
		opts:       opts.withDefaults(),
		source:     source,
		name:       name,
		categories: categories,
		baseURL:    baseURL,
	}, nil
}

func (a *ArxivFetcher) Source() string {
	return a.source
}

func (a *ArxivFetcher) DisplayName() string {
	return a.name
}

func (a *ArxivFetcher) Fetch(ctx context.Context) ([]trend.Item, error) {
	return fetchWithRetry(ctx, a.opts.Attempts, a.opts.Backoff, a.fetchOnce)
}

func (a *ArxivFetcher) fetchOnce(ctx context.Context) ([]trend.Item, error) {
	terms := make([]string, len(a.categories))
	for i, cat := range a.categories {
		terms[i] = "cat:" + cat
	}
	query := url.Values{
		"search_query": {strings.Join(terms, " OR ")},
		"start":        {"0"},
		"max_results":  {fmt.Sprint(a.opts.Limit)},
		"sortBy":       {"submittedDate"},
		"sortOrder":    {"descending"},
	}

	fp := gofeed.NewParser()
	fp.Client = a.opts.Client
	feed, err := fp.ParseURLWithContext(a.baseURL+"?"+query.Encode(), ctx)
	if err != nil {
		return nil, classifyFeedErr(a.source, err)
	}

	now := time.Now()
	items := make([]trend.Item, 0, len(feed.Items))
	for i, entry := range feed.Items {
		if i >= a.opts.Limit {
			break
		}
		items = append(items, trend.Item{
			Title:      strings.Join(strings.Fields(entry.Title), " "),
			URL:        entry.Link,
			Rank:       i + 1,
			Summary:    truncateRunes(stripHTML(entry.Description), arxivSummaryMaxRunes),
			Source:     a.source,
			CapturedAt: now,
		})
	}
	if len(items) == 0 {
		return nil, trend.ParseErrf("%s: feed returned no entries", a.source)
	}
	return items, nil
}

// classifyFeedErr distinguishes transport failures from malformed feeds.
func classifyFeedErr(source string, err error) error {
	var httpErr gofeed.HTTPError
	var httpErrPtr *gofeed.HTTPError
	if errors.As(err, &httpErr) || errors.As(err, &httpErrPtr) {
		return trend.NetworkErrf("%s: fetch feed: %w", source, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return trend.NetworkErrf("%s: fetch feed: %w", source, err)
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return trend.NetworkErrf("%s: fetch feed: %w", source, err)
	}
	return trend.ParseErrf("%s: parse feed: %w", source, err)
}

func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return strings.TrimSpace(string(runes[:n])) + "…"
}
