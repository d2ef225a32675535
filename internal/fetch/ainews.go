package fetch

import (
	"context"
	"errors"
	"html"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/boil-wsb/trending-service/internal/trend"
)

const (
	aiNewsSource          = "ai_trending"
	aiNewsSourceName      = "AI News"
	aiNewsMaxWorkers      = 4
	aiNewsSummaryMaxRunes = 240
)

var (
	htmlTagRe    = regexp.MustCompile(`<[^>]*>`)
	whitespaceRe = regexp.MustCompile(`\s{2,}`)
)

// AINewsFetcher aggregates configured RSS/Atom feeds and keeps the entries
// matching the AI keyword list, newest first.
type AINewsFetcher struct {
	opts     Options
	feeds    []string
	keywords []string
}

// NewAINews creates the aggregated AI-news fetcher. At least one feed URL
// is required; keywords are matched case-insensitively against title and
// summary (empty keyword list keeps everything).
func NewAINews(opts Options, feeds, keywords []string) (*AINewsFetcher, error) {
	if len(feeds) == 0 {
		return nil, errors.New("ai_trending: at least one feed URL is required")
	}
	lowered := make([]string, len(keywords))
	for i, kw := range keywords {
		lowered[i] = strings.ToLower(kw)
	}
	return &AINewsFetcher{
		opts:     opts.withDefaults(),
		feeds:    feeds,
		keywords: lowered,
	}, nil
}

func (a *AINewsFetcher) Source() string {
	return aiNewsSource
}

func (a *AINewsFetcher) DisplayName() string {
	return aiNewsSourceName
}

func (a *AINewsFetcher) Fetch(ctx context.Context) ([]trend.Item, error) {
	type result struct {
		items []trend.Item
		err   error
	}

	jobs := make(chan string, len(a.feeds))
	results := make(chan result, len(a.feeds))

	workers := aiNewsMaxWorkers
	if len(a.feeds) < workers {
		workers = len(a.feeds)
	}

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for feedURL := range jobs {
				items, err := fetchWithRetry(ctx, a.opts.Attempts, a.opts.Backoff, func(ctx context.Context) ([]trend.Item, error) {
					return a.fetchFeed(ctx, feedURL)
				})
				results <- result{items: items, err: err}
			}
		}()
	}

	for _, feedURL := range a.feeds {
		jobs <- feedURL
	}
	close(jobs)

	go func() {
		wg.Wait()
		close(results)
	}()

	var items []trend.Item
	var firstErr error
	for r := range results {
		if r.err != nil {
			if firstErr == nil {
				firstErr = r.err
			}
			continue
		}
		items = append(items, r.items...)
	}

	// Every feed failing is a failure; partial feed coverage is success.
	if len(items) == 0 && firstErr != nil {
		return nil, firstErr
	}

	// CapturedAt carries the publication time until ranking is done,
	// then gets restamped with the fetch time.
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].CapturedAt.After(items[j].CapturedAt)
	})
	if len(items) > a.opts.Limit {
		items = items[:a.opts.Limit]
	}
	now := time.Now()
	for i := range items {
		items[i].Rank = i + 1
		items[i].CapturedAt = now
	}
	return items, nil
}

func (a *AINewsFetcher) fetchFeed(ctx context.Context, feedURL string) ([]trend.Item, error) {
	fp := gofeed.NewParser()
	fp.Client = a.opts.Client
	feed, err := fp.ParseURLWithContext(feedURL, ctx)
	if err != nil {
		return nil, classifyFeedErr(aiNewsSource, err)
	}

	var items []trend.Item
	for _, entry := range feed.Items {
		summary := stripHTML(entry.Description)
		if !a.matches(entry.Title, summary) {
			continue
		}
		items = append(items, trend.Item{
			Title:      strings.TrimSpace(entry.Title),
			URL:        entry.Link,
			Summary:    truncateRunes(summary, aiNewsSummaryMaxRunes),
			Source:     aiNewsSource,
			CapturedAt: entryPublishedTime(entry),
		})
	}
	return items, nil
}

func (a *AINewsFetcher) matches(title, summary string) bool {
	if len(a.keywords) == 0 {
		return true
	}
	text := strings.ToLower(title + " " + summary)
	for _, kw := range a.keywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}

func entryPublishedTime(entry *gofeed.Item) time.Time {
	if entry.PublishedParsed != nil {
		return *entry.PublishedParsed
	}
	if entry.UpdatedParsed != nil {
		return *entry.UpdatedParsed
	}
	return time.Time{}
}

func stripHTML(s string) string {
	s = htmlTagRe.ReplaceAllString(s, " ")
	s = html.UnescapeString(s)
	s = whitespaceRe.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}
