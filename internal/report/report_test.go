package report

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/boil-wsb/trending-service/internal/fetch"
	"github.com/boil-wsb/trending-service/internal/trend"
)

type stubFetcher struct {
	source string
	name   string
}

func (s *stubFetcher) Source() string      { return s.source }
func (s *stubFetcher) DisplayName() string { return s.name }

func (s *stubFetcher) Fetch(context.Context) ([]trend.Item, error) { return nil, nil }

func newTestRegistry(t *testing.T) *fetch.Registry {
	t.Helper()
	reg := fetch.NewRegistry()
	for _, f := range []*stubFetcher{
		{source: "alpha", name: "Alpha Source"},
		{source: "beta", name: "Beta Source"},
	} {
		if err := reg.Register(f); err != nil {
			t.Fatalf("register: %v", err)
		}
	}
	return reg
}

func TestRenderSectionsInRegistryOrder(t *testing.T) {
	reg := newTestRegistry(t)
	r, err := NewRenderer(reg)
	if err != nil {
		t.Fatalf("new renderer: %v", err)
	}

	now := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)
	success := now.Add(-2 * time.Hour)
	snaps := map[string]trend.Snapshot{
		"alpha": {
			Source:        "alpha",
			LastSuccessAt: &success,
			Items: []trend.Item{
				{Title: "Top item", URL: "http://x/1", Rank: 1, Metric: 12500, Summary: "a summary"},
				{Title: "Second item", URL: "http://x/2", Rank: 2},
			},
		},
		"beta": {Source: "beta", Items: []trend.Item{}},
	}

	var buf strings.Builder
	if err := r.Render(&buf, snaps, now); err != nil {
		t.Fatalf("render: %v", err)
	}
	out := buf.String()

	alphaAt := strings.Index(out, "Alpha Source")
	betaAt := strings.Index(out, "Beta Source")
	if alphaAt < 0 || betaAt < 0 || alphaAt > betaAt {
		t.Errorf("sections out of registry order (alpha %d, beta %d)", alphaAt, betaAt)
	}

	for _, want := range []string{
		"Generated at 2026-08-28 12:00:00 UTC",
		`<a href="http://x/1">Top item</a>`,
		"(12,500)",
		"a summary",
		"updated 2 hours ago",
		"No data fetched yet.",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q", want)
		}
	}
}

func TestRenderFailureNote(t *testing.T) {
	reg := newTestRegistry(t)
	r, err := NewRenderer(reg)
	if err != nil {
		t.Fatalf("new renderer: %v", err)
	}

	now := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)
	success := now.Add(-26 * time.Hour)
	snaps := map[string]trend.Snapshot{
		"alpha": {
			Source:        "alpha",
			LastSuccessAt: &success,
			Items:         []trend.Item{{Title: "stale but served", URL: "http://x/1", Rank: 1}},
			Failures:      3,
			ErrorKind:     trend.KindNetwork,
		},
	}

	var buf strings.Builder
	if err := r.Render(&buf, snaps, now); err != nil {
		t.Fatalf("render: %v", err)
	}
	out := buf.String()

	if !strings.Contains(out, "last attempt failed (network), 3 in a row") {
		t.Errorf("failure note missing:\n%s", out)
	}
	if !strings.Contains(out, "stale but served") {
		t.Error("previous items should still render after failures")
	}
}

func TestRenderEscapesItemText(t *testing.T) {
	reg := newTestRegistry(t)
	r, err := NewRenderer(reg)
	if err != nil {
		t.Fatalf("new renderer: %v", err)
	}

	now := time.Now()
	snaps := map[string]trend.Snapshot{
		"alpha": {
			Source:        "alpha",
			LastSuccessAt: &now,
			Items:         []trend.Item{{Title: "<script>alert(1)</script>", URL: "http://x/1", Rank: 1}},
		},
	}

	var buf strings.Builder
	if err := r.Render(&buf, snaps, now); err != nil {
		t.Fatalf("render: %v", err)
	}
	if strings.Contains(buf.String(), "<script>alert(1)</script>") {
		t.Error("item title rendered unescaped")
	}
}
