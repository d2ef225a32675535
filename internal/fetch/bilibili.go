package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/boil-wsb/trending-service/internal/trend"
)

const (
	bilibiliSource      = "bilibili_trending"
	bilibiliSourceName  = "Bilibili Hot"
	bilibiliDefaultBase = "https://api.bilibili.com"
)

// BilibiliFetcher pulls the popular-video list from the bilibili web API.
type BilibiliFetcher struct {
	opts    Options
	baseURL string
}

// NewBilibili creates the bilibili fetcher. baseURL is overridable for
// tests; empty means api.bilibili.com.
func NewBilibili(opts Options, baseURL string) *BilibiliFetcher {
	if baseURL == "" {
		baseURL = bilibiliDefaultBase
	}
	return &BilibiliFetcher{
		opts:    opts.withDefaults(),
		baseURL: strings.TrimSuffix(baseURL, "/"),
	}
}

func (b *BilibiliFetcher) Source() string {
	return bilibiliSource
}

func (b *BilibiliFetcher) DisplayName() string {
	return bilibiliSourceName
}

// bilibiliResponse mirrors the popular-video API payload.
type bilibiliResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    struct {
		List []struct {
			Title string `json:"title"`
			BVID  string `json:"bvid"`
			Desc  string `json:"desc"`
			Owner struct {
				Name string `json:"name"`
			} `json:"owner"`
			Stat struct {
				View int64 `json:"view"`
			} `json:"stat"`
		} `json:"list"`
	} `json:"data"`
}

func (b *BilibiliFetcher) Fetch(ctx context.Context) ([]trend.Item, error) {
	return fetchWithRetry(ctx, b.opts.Attempts, b.opts.Backoff, b.fetchOnce)
}

func (b *BilibiliFetcher) fetchOnce(ctx context.Context) ([]trend.Item, error) {
	url := fmt.Sprintf("%s/x/web-interface/popular?ps=%d&pn=1", b.baseURL, b.opts.Limit)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, trend.NetworkErrf("bilibili: build request: %w", err)
	}
	req.Header.Set("Referer", "https://www.bilibili.com/")
	req.Header.Set("Accept", "application/json")

	resp, err := b.opts.Client.Do(req)
	if err != nil {
		return nil, trend.NetworkErrf("bilibili: fetch popular: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, trend.NetworkErrf("bilibili: fetch popular: HTTP %d", resp.StatusCode)
	}

	var payload bilibiliResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, trend.ParseErrf("bilibili: decode popular: %w", err)
	}
	if payload.Code != 0 {
		return nil, trend.NetworkErrf("bilibili: API error %d: %s", payload.Code, payload.Message)
	}
	if len(payload.Data.List) == 0 {
		return nil, trend.ParseErrf("bilibili: empty popular list")
	}

	now := time.Now()
	items := make([]trend.Item, 0, len(payload.Data.List))
	for i, v := range payload.Data.List {
		if i >= b.opts.Limit {
			break
		}
		summary := strings.TrimSpace(v.Desc)
		if v.Owner.Name != "" {
			summary = strings.TrimSpace(v.Owner.Name + " · " + summary)
		}
		items = append(items, trend.Item{
			Title:      v.Title,
			URL:        "https://www.bilibili.com/video/" + v.BVID,
			Rank:       i + 1,
			Metric:     float64(v.Stat.View),
			Summary:    summary,
			Source:     bilibiliSource,
			CapturedAt: now,
		})
	}
	return items, nil
}
