// Package scheduler drives periodic and on-demand fetch cycles over the
// registered sources.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/boil-wsb/trending-service/internal/config"
	"github.com/boil-wsb/trending-service/internal/fetch"
	"github.com/boil-wsb/trending-service/internal/store"
	"github.com/boil-wsb/trending-service/internal/trend"
)

// Summary describes one completed fetch cycle.
type Summary struct {
	Cycle      string    `json:"cycle"`
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`
	Succeeded  int       `json:"succeeded"`
	Failed     int       `json:"failed"`
	Failures   []Failure `json:"failures,omitempty"`
}

// Failure identifies one failing source within a cycle.
type Failure struct {
	Source string     `json:"source"`
	Kind   trend.Kind `json:"kind"`
	Error  string     `json:"error"`
}

// Scheduler runs at most one fetch cycle at a time. Triggers that arrive
// while a cycle is running coalesce into a single queued follow-up cycle.
type Scheduler struct {
	reg        *fetch.Registry
	store      *store.Store
	cron       *cron.Cron
	timeout    time.Duration
	maxWorkers int
	log        *slog.Logger

	triggerCh chan []string
	runMu     sync.Mutex // cycles are strictly sequential
	stopOnce  sync.Once
}

// New builds a scheduler with a daily wall-clock trigger from the given
// schedule config.
func New(reg *fetch.Registry, st *store.Store, schedule config.ScheduleConfig, timeout time.Duration, log *slog.Logger) (*Scheduler, error) {
	if log == nil {
		log = slog.Default()
	}

	hour, minute, err := config.ParseDailyAt(schedule.DailyAt)
	if err != nil {
		return nil, err
	}
	loc, err := time.LoadLocation(schedule.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", schedule.Timezone, err)
	}

	s := &Scheduler{
		reg:        reg,
		store:      st,
		cron:       cron.New(cron.WithLocation(loc)),
		timeout:    timeout,
		maxWorkers: schedule.MaxWorkers,
		log:        log,
		triggerCh:  make(chan []string, 1),
	}

	expr := fmt.Sprintf("%d %d * * *", minute, hour)
	if _, err := s.cron.AddFunc(expr, func() { s.Trigger(nil) }); err != nil {
		return nil, fmt.Errorf("add cron entry: %w", err)
	}
	log.Info("daily fetch scheduled", "at", schedule.DailyAt, "timezone", schedule.Timezone)

	return s, nil
}

// Start launches the cron timer and the cycle loop. The loop exits when
// ctx is canceled.
func (s *Scheduler) Start(ctx context.Context) {
	s.cron.Start()
	go s.loop(ctx)
}

// Stop halts the cron timer. The cycle loop itself exits when the context
// passed to Start is canceled.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		s.cron.Stop()
	})
}

// Trigger enqueues an on-demand cycle over the given sources (nil means
// all). It never blocks; it reports false when a cycle is already queued
// and the request was coalesced into it.
func (s *Scheduler) Trigger(sources []string) bool {
	select {
	case s.triggerCh <- sources:
		return true
	default:
		return false
	}
}

func (s *Scheduler) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case sources := <-s.triggerCh:
			s.RunOnce(ctx, sources)
		}
	}
}

// RunOnce executes one fetch cycle over the given sources (nil means all
// registered) and returns its summary. Cycles are mutually exclusive; a
// concurrent caller blocks until the running cycle completes.
func (s *Scheduler) RunOnce(ctx context.Context, sources []string) Summary {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	fetchers := s.selectFetchers(sources)
	summary := Summary{
		Cycle:     uuid.NewString(),
		StartedAt: time.Now(),
	}

	log := s.log.With("cycle", summary.Cycle)
	log.Info("fetch cycle started", "sources", len(fetchers))

	type outcome struct {
		source string
		items  int
		err    error
	}

	jobs := make(chan fetch.Fetcher, len(fetchers))
	results := make(chan outcome, len(fetchers))

	workers := s.maxWorkers
	if len(fetchers) < workers {
		workers = len(fetchers)
	}

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for f := range jobs {
				items, err := s.fetchOne(ctx, f)
				if uerr := s.store.Update(f.Source(), trend.FetchResult{Items: items, Err: err}); uerr != nil {
					log.Error("update snapshot", "source", f.Source(), "error", uerr)
				}
				results <- outcome{source: f.Source(), items: len(items), err: err}
			}
		}()
	}

	for _, f := range fetchers {
		jobs <- f
	}
	close(jobs)

	go func() {
		wg.Wait()
		close(results)
	}()

	for r := range results {
		if r.err != nil {
			summary.Failed++
			summary.Failures = append(summary.Failures, Failure{
				Source: r.source,
				Kind:   trend.KindOf(r.err),
				Error:  r.err.Error(),
			})
			log.Warn("source fetch failed", "source", r.source, "kind", trend.KindOf(r.err), "error", r.err)
			continue
		}
		summary.Succeeded++
		log.Info("source fetched", "source", r.source, "items", r.items)
	}

	summary.FinishedAt = time.Now()
	log.Info("fetch cycle finished",
		"succeeded", summary.Succeeded,
		"failed", summary.Failed,
		"duration", summary.FinishedAt.Sub(summary.StartedAt),
	)
	return summary
}

// fetchOne runs a single fetcher under the per-call deadline. A panicking
// fetcher is contained and reported as a parse failure.
func (s *Scheduler) fetchOne(ctx context.Context, f fetch.Fetcher) (items []trend.Item, err error) {
	defer func() {
		if r := recover(); r != nil {
			items = nil
			err = trend.ParseErrf("%s: fetcher panic: %v", f.Source(), r)
		}
	}()

	cctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	return f.Fetch(cctx)
}

func (s *Scheduler) selectFetchers(sources []string) []fetch.Fetcher {
	if len(sources) == 0 {
		return s.reg.All()
	}
	out := make([]fetch.Fetcher, 0, len(sources))
	for _, src := range sources {
		if f, ok := s.reg.Get(src); ok {
			out = append(out, f)
		} else {
			s.log.Warn("trigger for unknown source ignored", "source", src)
		}
	}
	return out
}
