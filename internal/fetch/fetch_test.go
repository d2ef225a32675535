package fetch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/boil-wsb/trending-service/internal/trend"
)

type stubFetcher struct {
	source string
}

func (s *stubFetcher) Source() string      { return s.source }
func (s *stubFetcher) DisplayName() string { return s.source }

func (s *stubFetcher) Fetch(context.Context) ([]trend.Item, error) { return nil, nil }

func TestRegistryRegisterAndLookup(t *testing.T) {
	reg := NewRegistry()

	for _, id := range []string{"alpha", "beta", "gamma"} {
		if err := reg.Register(&stubFetcher{source: id}); err != nil {
			t.Fatalf("register %s: %v", id, err)
		}
	}

	if reg.Len() != 3 {
		t.Fatalf("len = %d, want 3", reg.Len())
	}
	if _, ok := reg.Get("beta"); !ok {
		t.Error("beta not found")
	}
	if _, ok := reg.Get("delta"); ok {
		t.Error("unexpected hit for unregistered id")
	}

	ids := reg.IDs()
	want := []string{"alpha", "beta", "gamma"}
	for i, id := range want {
		if ids[i] != id {
			t.Errorf("ids[%d] = %q, want %q (registration order)", i, ids[i], id)
		}
	}
	for i, f := range reg.All() {
		if f.Source() != want[i] {
			t.Errorf("all[%d] = %q, want %q", i, f.Source(), want[i])
		}
	}
}

func TestRegistryRejectsDuplicateAndEmpty(t *testing.T) {
	reg := NewRegistry()

	if err := reg.Register(&stubFetcher{source: "alpha"}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := reg.Register(&stubFetcher{source: "alpha"}); err == nil {
		t.Error("expected error for duplicate id")
	}
	if err := reg.Register(&stubFetcher{source: ""}); err == nil {
		t.Error("expected error for empty id")
	}
	if err := reg.Register(&stubFetcher{source: "  "}); err == nil {
		t.Error("expected error for blank id")
	}
}

func TestFetchWithRetryRecoversFromNetworkErrors(t *testing.T) {
	restore := sleepFunc
	sleepFunc = func(time.Duration) {}
	defer func() { sleepFunc = restore }()

	calls := 0
	items, err := fetchWithRetry(context.Background(), 3, time.Second, func(context.Context) ([]trend.Item, error) {
		calls++
		if calls < 3 {
			return nil, trend.NetworkErrf("boom")
		}
		return []trend.Item{{Title: "ok"}}, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
	if len(items) != 1 || items[0].Title != "ok" {
		t.Errorf("items = %v", items)
	}
}

func TestFetchWithRetryExhaustsAttempts(t *testing.T) {
	restore := sleepFunc
	var delays []time.Duration
	sleepFunc = func(d time.Duration) { delays = append(delays, d) }
	defer func() { sleepFunc = restore }()

	calls := 0
	_, err := fetchWithRetry(context.Background(), 3, time.Second, func(context.Context) ([]trend.Item, error) {
		calls++
		return nil, trend.NetworkErrf("always down")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
	// Exponential backoff: 1s, 2s.
	if len(delays) != 2 || delays[0] != time.Second || delays[1] != 2*time.Second {
		t.Errorf("delays = %v", delays)
	}
}

func TestFetchWithRetryParseErrorIsFinal(t *testing.T) {
	calls := 0
	_, err := fetchWithRetry(context.Background(), 3, 0, func(context.Context) ([]trend.Item, error) {
		calls++
		return nil, trend.ParseErrf("garbled")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1 (no retry on parse errors)", calls)
	}
	if trend.KindOf(err) != trend.KindParse {
		t.Errorf("kind = %q, want parse", trend.KindOf(err))
	}
}

func TestFetchWithRetryStopsOnCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	_, err := fetchWithRetry(ctx, 5, 0, func(context.Context) ([]trend.Item, error) {
		calls++
		cancel()
		return nil, trend.NetworkErrf("interrupted")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1 (no retry after cancellation)", calls)
	}
}

func TestKindOfUnclassified(t *testing.T) {
	if got := trend.KindOf(errors.New("plain")); got != trend.KindNetwork {
		t.Errorf("kind = %q, want network for unclassified errors", got)
	}
}

func TestParseCount(t *testing.T) {
	tests := []struct {
		in   string
		want float64
	}{
		{"12,345", 12345},
		{"1.2k", 1200},
		{" 987 ", 987},
		{"3K", 3000},
		{"", 0},
		{"n/a", 0},
	}
	for _, tt := range tests {
		if got := parseCount(tt.in); got != tt.want {
			t.Errorf("parseCount(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
