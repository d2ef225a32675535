package fetch

import (
	"context"
	"net/http"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/boil-wsb/trending-service/internal/trend"
)

const (
	githubSource       = "github_trending"
	githubSourceName   = "GitHub Trending"
	growthSource       = "github_weekly_growth"
	growthSourceName   = "GitHub Weekly Growth"
	githubDefaultBase  = "https://github.com"
	githubPageCacheTTL = 5 * time.Minute
)

var periodStarsRe = regexp.MustCompile(`([\d,]+)\s+stars`)

// githubRepo is one repository row parsed from the trending page.
type githubRepo struct {
	FullName    string
	URL         string
	Description string
	Language    string
	Stars       float64
	PeriodStars float64 // stars gained this week
}

// githubClient scrapes the weekly trending page once and serves both the
// total-stars and weekly-growth orderings from the same parse. The short
// cache keeps a fetch cycle at a single outbound request for both sources.
type githubClient struct {
	opts    Options
	baseURL string

	mu       sync.Mutex
	cached   []githubRepo
	cachedAt time.Time
	now      func() time.Time
}

// NewGitHubClient creates the shared trending-page client. baseURL is
// overridable for tests; empty means github.com.
func NewGitHubClient(opts Options, baseURL string) *GitHubClient {
	if baseURL == "" {
		baseURL = githubDefaultBase
	}
	return &GitHubClient{inner: &githubClient{
		opts:    opts.withDefaults(),
		baseURL: strings.TrimSuffix(baseURL, "/"),
		now:     time.Now,
	}}
}

// GitHubClient is the exported handle used to build the two GitHub-backed
// fetchers.
type GitHubClient struct {
	inner *githubClient
}

// Trending returns the github_trending fetcher (ranked by total stars).
func (c *GitHubClient) Trending() Fetcher {
	return &githubFetcher{
		client: c.inner,
		source: githubSource,
		name:   githubSourceName,
		rankBy: func(r githubRepo) float64 { return r.Stars },
	}
}

// WeeklyGrowth returns the github_weekly_growth fetcher (ranked by stars
// gained this week), derived from the same page scrape.
func (c *GitHubClient) WeeklyGrowth() Fetcher {
	return &githubFetcher{
		client: c.inner,
		source: growthSource,
		name:   growthSourceName,
		rankBy: func(r githubRepo) float64 { return r.PeriodStars },
	}
}

type githubFetcher struct {
	client *githubClient
	source string
	name   string
	rankBy func(githubRepo) float64
}

func (g *githubFetcher) Source() string {
	return g.source
}

func (g *githubFetcher) DisplayName() string {
	return g.name
}

func (g *githubFetcher) Fetch(ctx context.Context) ([]trend.Item, error) {
	repos, err := g.client.repos(ctx)
	if err != nil {
		return nil, err
	}

	ranked := make([]githubRepo, len(repos))
	copy(ranked, repos)
	sort.SliceStable(ranked, func(i, j int) bool {
		return g.rankBy(ranked[i]) > g.rankBy(ranked[j])
	})
	if limit := g.client.opts.Limit; len(ranked) > limit {
		ranked = ranked[:limit]
	}

	now := time.Now()
	items := make([]trend.Item, 0, len(ranked))
	for i, r := range ranked {
		summary := r.Description
		if r.Language != "" {
			summary = strings.TrimSpace(r.Language + " · " + summary)
		}
		items = append(items, trend.Item{
			Title:      r.FullName,
			URL:        r.URL,
			Rank:       i + 1,
			Metric:     g.rankBy(r),
			Summary:    summary,
			Source:     g.source,
			CapturedAt: now,
		})
	}
	return items, nil
}

// repos returns the parsed weekly trending page, reusing a recent parse
// when one is available. Failures are never cached.
func (c *githubClient) repos(ctx context.Context) ([]githubRepo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cached != nil && c.now().Sub(c.cachedAt) < githubPageCacheTTL {
		return c.cached, nil
	}

	repos, err := fetchWithRetry(ctx, c.opts.Attempts, c.opts.Backoff, c.fetchPage)
	if err != nil {
		return nil, err
	}

	c.cached = repos
	c.cachedAt = c.now()
	return c.cached, nil
}

// fetchPage downloads and parses /trending?since=weekly.
func (c *githubClient) fetchPage(ctx context.Context) ([]githubRepo, error) {
	url := c.baseURL + "/trending?since=weekly"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, trend.NetworkErrf("github: build request: %w", err)
	}

	resp, err := c.opts.Client.Do(req)
	if err != nil {
		return nil, trend.NetworkErrf("github: fetch trending: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, trend.NetworkErrf("github: fetch trending: HTTP %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, trend.ParseErrf("github: parse trending page: %w", err)
	}

	var repos []githubRepo
	doc.Find("article.Box-row").Each(func(_ int, row *goquery.Selection) {
		href, ok := row.Find("h2 a").First().Attr("href")
		if !ok {
			return
		}
		fullName := normalizeRepoName(href)
		if fullName == "" {
			return
		}

		period := 0.0
		if m := periodStarsRe.FindStringSubmatch(row.Find("span.d-inline-block.float-sm-right").Text()); m != nil {
			period = parseCount(m[1])
		}

		repos = append(repos, githubRepo{
			FullName:    fullName,
			URL:         c.baseURL + "/" + fullName,
			Description: strings.TrimSpace(row.Find("p").First().Text()),
			Language:    strings.TrimSpace(row.Find(`span[itemprop="programmingLanguage"]`).First().Text()),
			Stars:       parseCount(row.Find(`a[href$="/stargazers"]`).First().Text()),
			PeriodStars: period,
		})
	})

	if len(repos) == 0 {
		return nil, trend.ParseErrf("github: no repositories found on trending page")
	}
	return repos, nil
}

// normalizeRepoName turns an href like "/owner/repo" into "owner/repo",
// collapsing the whitespace GitHub scatters through the heading.
func normalizeRepoName(href string) string {
	name := strings.TrimPrefix(strings.TrimSpace(href), "/")
	return strings.Join(strings.Fields(name), "")
}

// parseCount parses counts like "12,345" and "1.2k".
func parseCount(s string) float64 {
	s = strings.ToLower(strings.ReplaceAll(strings.TrimSpace(s), ",", ""))
	mult := 1.0
	if strings.HasSuffix(s, "k") {
		mult = 1000
		s = strings.TrimSuffix(s, "k")
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return n * mult
}
