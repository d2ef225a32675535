// Package trend defines the value types shared by the fetch, store, and
// serving layers: trending items, per-source snapshots, and classified
// fetch errors.
package trend

import (
	"errors"
	"fmt"
	"time"
)

// Item is one trending entry as normalized from an external source.
type Item struct {
	Title      string    `json:"title"`
	URL        string    `json:"url"`
	Rank       int       `json:"rank,omitempty"`
	Metric     float64   `json:"metric,omitempty"` // stars, views, or score depending on the source
	Summary    string    `json:"summary,omitempty"`
	Source     string    `json:"source,omitempty"`
	CapturedAt time.Time `json:"capturedAt,omitempty"`
}

// Snapshot is the latest known state for one source. Items survive failed
// fetch attempts; stale data beats no data.
type Snapshot struct {
	Source        string     `json:"source"`
	Items         []Item     `json:"items"`
	LastSuccessAt *time.Time `json:"lastSuccessAt"`
	LastAttemptAt *time.Time `json:"lastAttemptAt"`
	LastError     string     `json:"lastError,omitempty"`
	ErrorKind     Kind       `json:"errorKind,omitempty"`
	Failures      int        `json:"consecutiveFailures"`
}

// FetchResult is the outcome of one fetcher invocation. Err is nil on
// success; Items is the full replacement sequence in rank order.
type FetchResult struct {
	Items []Item
	Err   error
}

// Kind classifies a fetch failure for differentiated reporting.
type Kind string

const (
	// KindNetwork covers timeouts, connection failures, and non-2xx
	// upstream responses.
	KindNetwork Kind = "network"
	// KindParse covers unexpected page or feed structure.
	KindParse Kind = "parse"
)

// Error wraps a fetch failure with its classification.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NetworkErrf wraps a network-classified failure.
func NetworkErrf(format string, args ...any) error {
	return &Error{Kind: KindNetwork, Err: fmt.Errorf(format, args...)}
}

// ParseErrf wraps a parse-classified failure.
func ParseErrf(format string, args ...any) error {
	return &Error{Kind: KindParse, Err: fmt.Errorf(format, args...)}
}

// KindOf reports the classification of err. Unclassified errors (context
// cancellation, transport errors surfaced raw) count as network failures.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindNetwork
}
