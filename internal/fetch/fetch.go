// Package fetch defines the fetcher contract, the source registry, and the
// concrete fetchers for each trending source.
package fetch

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/boil-wsb/trending-service/internal/trend"
)

const userAgent = "Mozilla/5.0 (compatible; trending-service/1.0; +https://github.com/boil-wsb/trending-service)"

// Fetcher retrieves and normalizes trending items from one source. Fetch
// must honor ctx and return items in rank order; failures are classified
// as trend.Error values.
type Fetcher interface {
	// Source returns the stable source identifier (e.g. "github_trending").
	Source() string

	// DisplayName returns the human-readable source name.
	DisplayName() string

	// Fetch returns the current trending items for this source.
	Fetch(ctx context.Context) ([]trend.Item, error)
}

// Options configures the HTTP behavior shared by the concrete fetchers.
type Options struct {
	Client   *http.Client
	Limit    int           // max items to return
	Attempts int           // total attempts including the first
	Backoff  time.Duration // base delay between internal retries
}

func (o Options) withDefaults() Options {
	if o.Client == nil {
		o.Client = &http.Client{Timeout: 60 * time.Second}
	}
	if o.Limit <= 0 {
		o.Limit = 20
	}
	if o.Attempts <= 0 {
		o.Attempts = 3
	}
	return o
}

// sleepFunc is the function used for retry backoff delays.
// It defaults to time.Sleep but can be overridden in tests.
var sleepFunc = time.Sleep

// fetchWithRetry runs fn up to attempts times, retrying network-classified
// failures with exponential backoff. Parse failures and context
// cancellation are final on the first occurrence.
func fetchWithRetry[T any](ctx context.Context, attempts int, backoff time.Duration, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		out, err := fn(ctx)
		if err == nil {
			return out, nil
		}
		if trend.KindOf(err) != trend.KindNetwork || ctx.Err() != nil {
			return zero, err
		}
		lastErr = err
		if attempt < attempts-1 && backoff > 0 {
			sleepFunc(backoff << uint(attempt))
		}
	}
	return zero, lastErr
}

// transport injects a User-Agent header into every request.
type transport struct {
	base http.RoundTripper
}

func (t *transport) RoundTrip(req *http.Request) (*http.Response, error) {
	req.Header.Set("User-Agent", userAgent)
	base := t.base
	if base == nil {
		base = http.DefaultTransport
	}
	return base.RoundTrip(req)
}

// NewHTTPClient returns the HTTP client used by fetchers when none is
// supplied: default User-Agent, given overall timeout.
func NewHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout:   timeout,
		Transport: &transport{base: http.DefaultTransport},
	}
}

// Registry maps source identifiers to fetchers. It is assembled once at
// startup and read-only afterwards, so lookups need no locking.
type Registry struct {
	order []string
	byID  map[string]Fetcher
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{byID: make(map[string]Fetcher)}
}

// Register adds f under its source identifier. Empty and duplicate
// identifiers are configuration errors.
func (r *Registry) Register(f Fetcher) error {
	id := f.Source()
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("register fetcher: empty source id")
	}
	if _, ok := r.byID[id]; ok {
		return fmt.Errorf("register fetcher: duplicate source id %q", id)
	}
	r.byID[id] = f
	r.order = append(r.order, id)
	return nil
}

// Get returns the fetcher for id.
func (r *Registry) Get(id string) (Fetcher, bool) {
	f, ok := r.byID[id]
	return f, ok
}

// All returns every fetcher in registration order.
func (r *Registry) All() []Fetcher {
	out := make([]Fetcher, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.byID[id])
	}
	return out
}

// IDs returns every source identifier in registration order.
func (r *Registry) IDs() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Len returns the number of registered fetchers.
func (r *Registry) Len() int {
	return len(r.order)
}
