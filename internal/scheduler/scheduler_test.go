package scheduler

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/boil-wsb/trending-service/internal/config"
	"github.com/boil-wsb/trending-service/internal/fetch"
	"github.com/boil-wsb/trending-service/internal/store"
	"github.com/boil-wsb/trending-service/internal/trend"
)

type fakeFetcher struct {
	source string

	mu    sync.Mutex
	calls int
	items []trend.Item
	err   error
	panic bool
	block chan struct{} // when set, Fetch waits for it to close
}

func (f *fakeFetcher) Source() string      { return f.source }
func (f *fakeFetcher) DisplayName() string { return f.source }

func (f *fakeFetcher) Fetch(context.Context) ([]trend.Item, error) {
	f.mu.Lock()
	f.calls++
	block := f.block
	f.mu.Unlock()
	if block != nil {
		<-block
	}
	if f.panic {
		panic("boom")
	}
	return f.items, f.err
}

func (f *fakeFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func newTestScheduler(t *testing.T, fetchers ...*fakeFetcher) (*Scheduler, *store.Store) {
	t.Helper()

	reg := fetch.NewRegistry()
	sources := make([]string, 0, len(fetchers))
	for _, f := range fetchers {
		if err := reg.Register(f); err != nil {
			t.Fatalf("register: %v", err)
		}
		sources = append(sources, f.source)
	}

	st, err := store.Open(filepath.Join(t.TempDir(), "trends.db"), sources, nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	schedule := config.ScheduleConfig{DailyAt: "08:00", Timezone: "UTC", MaxWorkers: 2}
	sched, err := New(reg, st, schedule, time.Second, nil)
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}
	t.Cleanup(sched.Stop)
	return sched, st
}

func TestRunOnceStoresResults(t *testing.T) {
	good := &fakeFetcher{
		source: "good",
		items: []trend.Item{
			{Title: "first", Rank: 1, Source: "good"},
			{Title: "second", Rank: 2, Source: "good"},
		},
	}
	bad := &fakeFetcher{source: "bad", err: trend.NetworkErrf("down")}
	sched, st := newTestScheduler(t, good, bad)

	summary := sched.RunOnce(context.Background(), nil)

	if summary.Succeeded != 1 || summary.Failed != 1 {
		t.Errorf("summary = %d ok / %d failed, want 1/1", summary.Succeeded, summary.Failed)
	}
	if summary.Cycle == "" {
		t.Error("cycle id missing")
	}
	if len(summary.Failures) != 1 || summary.Failures[0].Source != "bad" || summary.Failures[0].Kind != trend.KindNetwork {
		t.Errorf("failures = %+v", summary.Failures)
	}

	snap, err := st.Get("good")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(snap.Items) != 2 || snap.Items[0].Title != "first" || snap.Items[1].Title != "second" {
		t.Errorf("items = %+v, want fetcher output in order", snap.Items)
	}

	// One failing source must not disturb the other snapshot.
	badSnap, err := st.Get("bad")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if badSnap.Failures != 1 || badSnap.ErrorKind != trend.KindNetwork {
		t.Errorf("bad snapshot = %+v", badSnap)
	}
	if badSnap.LastAttemptAt == nil {
		t.Error("attempt not stamped on failure")
	}
}

func TestRunOnceFailureKeepsPreviousItems(t *testing.T) {
	f := &fakeFetcher{source: "flaky", items: []trend.Item{{Title: "kept", Rank: 1, Source: "flaky"}}}
	sched, st := newTestScheduler(t, f)

	sched.RunOnce(context.Background(), nil)

	f.mu.Lock()
	f.items = nil
	f.err = trend.ParseErrf("garbled")
	f.mu.Unlock()

	sched.RunOnce(context.Background(), nil)

	snap, err := st.Get("flaky")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(snap.Items) != 1 || snap.Items[0].Title != "kept" {
		t.Errorf("items = %+v, want previous items kept after failure", snap.Items)
	}
	if snap.Failures != 1 {
		t.Errorf("failures = %d, want 1", snap.Failures)
	}
	if snap.ErrorKind != trend.KindParse {
		t.Errorf("kind = %q", snap.ErrorKind)
	}
}

func TestRunOnceSubsetAndUnknownSources(t *testing.T) {
	a := &fakeFetcher{source: "a", items: []trend.Item{}}
	b := &fakeFetcher{source: "b", items: []trend.Item{}}
	sched, _ := newTestScheduler(t, a, b)

	summary := sched.RunOnce(context.Background(), []string{"b", "nope"})

	if summary.Succeeded != 1 || summary.Failed != 0 {
		t.Errorf("summary = %d ok / %d failed, want 1/0", summary.Succeeded, summary.Failed)
	}
	if a.callCount() != 0 {
		t.Error("source outside the subset was fetched")
	}
	if b.callCount() != 1 {
		t.Errorf("b fetched %d times", b.callCount())
	}
}

func TestRunOnceContainsPanics(t *testing.T) {
	p := &fakeFetcher{source: "panics", panic: true}
	ok := &fakeFetcher{source: "ok", items: []trend.Item{{Title: "fine"}}}
	sched, st := newTestScheduler(t, p, ok)

	summary := sched.RunOnce(context.Background(), nil)

	if summary.Succeeded != 1 || summary.Failed != 1 {
		t.Errorf("summary = %d ok / %d failed, want 1/1", summary.Succeeded, summary.Failed)
	}
	snap, err := st.Get("panics")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if snap.Failures != 1 || snap.ErrorKind != trend.KindParse {
		t.Errorf("panic snapshot = %+v, want one parse failure", snap)
	}
}

func TestTriggerCoalesces(t *testing.T) {
	f := &fakeFetcher{source: "slow", items: []trend.Item{}}
	sched, _ := newTestScheduler(t, f)

	// Nothing consumes the trigger channel; the second and third sends
	// find the one-slot queue occupied.
	if !sched.Trigger(nil) {
		t.Error("first trigger should queue")
	}
	if sched.Trigger(nil) {
		t.Error("second trigger should coalesce")
	}
	if sched.Trigger([]string{"slow"}) {
		t.Error("third trigger should coalesce")
	}
}

func TestStartRunsQueuedTrigger(t *testing.T) {
	f := &fakeFetcher{source: "src", items: []trend.Item{{Title: "x"}}}
	sched, st := newTestScheduler(t, f)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sched.Start(ctx)

	sched.Trigger(nil)

	deadline := time.After(2 * time.Second)
	for {
		snap, err := st.Get("src")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if snap.LastSuccessAt != nil {
			if f.callCount() != 1 {
				t.Errorf("fetch called %d times", f.callCount())
			}
			return
		}
		select {
		case <-deadline:
			t.Fatal("triggered cycle never ran")
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestNewRejectsBadSchedule(t *testing.T) {
	reg := fetch.NewRegistry()
	st, err := store.Open(filepath.Join(t.TempDir(), "trends.db"), nil, nil)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	tests := []config.ScheduleConfig{
		{DailyAt: "25:00", Timezone: "UTC", MaxWorkers: 1},
		{DailyAt: "08:00", Timezone: "Not/AZone", MaxWorkers: 1},
	}
	for _, schedule := range tests {
		if _, err := New(reg, st, schedule, time.Second, nil); err == nil {
			t.Errorf("New(%+v) accepted invalid schedule", schedule)
		}
	}
}

func TestRunOnceCyclesAreSequential(t *testing.T) {
	release := make(chan struct{})
	f := &fakeFetcher{source: "slow", items: []trend.Item{}, block: release}
	sched, _ := newTestScheduler(t, f)

	started := make(chan struct{})
	done := make(chan struct{})
	go func() {
		close(started)
		sched.RunOnce(context.Background(), nil)
		close(done)
	}()
	<-started

	// Wait until the first cycle is actually inside Fetch.
	for f.callCount() == 0 {
		time.Sleep(5 * time.Millisecond)
	}

	second := make(chan struct{})
	go func() {
		sched.RunOnce(context.Background(), nil)
		close(second)
	}()

	select {
	case <-second:
		t.Fatal("second cycle finished while the first was still running")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	<-done
	select {
	case <-second:
	case <-time.After(2 * time.Second):
		t.Fatal("second cycle never ran")
	}
}
