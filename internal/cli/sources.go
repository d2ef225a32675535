package cli

import (
	"fmt"

	"github.com/boil-wsb/trending-service/internal/config"
	"github.com/boil-wsb/trending-service/internal/fetch"
)

// buildRegistry assembles the fetcher registry from the enabled sources.
// The registry is immutable after this point; any problem here is a fatal
// startup error.
func buildRegistry(cfg *config.Config) (*fetch.Registry, error) {
	reg := fetch.NewRegistry()
	client := fetch.NewHTTPClient(cfg.Fetch.Timeout.Duration)

	opts := func(limit int) fetch.Options {
		return fetch.Options{
			Client:   client,
			Limit:    limit,
			Attempts: cfg.Fetch.Attempts,
			Backoff:  cfg.Fetch.Backoff.Duration,
		}
	}

	if cfg.Sources.GitHub.Enabled || cfg.Sources.WeeklyGrowth.Enabled {
		// Both GitHub-backed sources share one trending-page scrape.
		limit := cfg.Sources.GitHub.Limit
		if cfg.Sources.WeeklyGrowth.Limit > limit {
			limit = cfg.Sources.WeeklyGrowth.Limit
		}
		gh := fetch.NewGitHubClient(opts(limit), "")
		if cfg.Sources.GitHub.Enabled {
			if err := reg.Register(gh.Trending()); err != nil {
				return nil, err
			}
		}
		if cfg.Sources.WeeklyGrowth.Enabled {
			if err := reg.Register(gh.WeeklyGrowth()); err != nil {
				return nil, err
			}
		}
	}

	if cfg.Sources.Bilibili.Enabled {
		if err := reg.Register(fetch.NewBilibili(opts(cfg.Sources.Bilibili.Limit), "")); err != nil {
			return nil, err
		}
	}

	if cfg.Sources.ArxivBiology.Enabled {
		f, err := fetch.NewArxivBiology(opts(cfg.Sources.ArxivBiology.Limit), cfg.Sources.ArxivBiology.Categories, "")
		if err != nil {
			return nil, fmt.Errorf("create arxiv biology fetcher: %w", err)
		}
		if err := reg.Register(f); err != nil {
			return nil, err
		}
	}

	if cfg.Sources.ArxivAI.Enabled {
		f, err := fetch.NewArxivComputerAI(opts(cfg.Sources.ArxivAI.Limit), cfg.Sources.ArxivAI.Categories, "")
		if err != nil {
			return nil, fmt.Errorf("create arxiv computer/ai fetcher: %w", err)
		}
		if err := reg.Register(f); err != nil {
			return nil, err
		}
	}

	if cfg.Sources.AINews.Enabled {
		f, err := fetch.NewAINews(opts(cfg.Sources.AINews.Limit), cfg.Sources.AINews.Feeds, cfg.Sources.AINews.Keywords)
		if err != nil {
			return nil, fmt.Errorf("create ai news fetcher: %w", err)
		}
		if err := reg.Register(f); err != nil {
			return nil, err
		}
	}

	if reg.Len() == 0 {
		return nil, fmt.Errorf("no sources enabled")
	}
	return reg, nil
}
