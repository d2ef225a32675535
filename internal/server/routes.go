package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/boil-wsb/trending-service/internal/fetch"
	"github.com/boil-wsb/trending-service/internal/report"
	"github.com/boil-wsb/trending-service/internal/store"
	"github.com/boil-wsb/trending-service/internal/trend"
)

// Response models. Internal error text never leaves the process; clients
// only see the failure-kind label.

// ItemResponse is one trending entry in API responses.
type ItemResponse struct {
	Title   string  `json:"title"`
	URL     string  `json:"url"`
	Rank    int     `json:"rank,omitempty"`
	Metric  float64 `json:"metric,omitempty"`
	Summary string  `json:"summary,omitempty"`
}

// SnapshotResponse is one source's snapshot in API responses.
type SnapshotResponse struct {
	Source        string         `json:"source"`
	LastSuccessAt *time.Time     `json:"lastSuccessAt"`
	LastAttemptAt *time.Time     `json:"lastAttemptAt"`
	Items         []ItemResponse `json:"items"`
}

// StatusResponse is the per-source fetch status for observability.
type StatusResponse struct {
	Source        string     `json:"source"`
	DisplayName   string     `json:"displayName"`
	ItemCount     int        `json:"itemCount"`
	LastSuccessAt *time.Time `json:"lastSuccessAt"`
	LastAttemptAt *time.Time `json:"lastAttemptAt"`
	Failures      int        `json:"consecutiveFailures"`
	ErrorKind     trend.Kind `json:"errorKind,omitempty"`
}

// ErrorResponse is the standardized error payload.
type ErrorResponse struct {
	Error string `json:"error"`
}

// RefreshResponse acknowledges an enqueued refresh.
type RefreshResponse struct {
	Queued  bool   `json:"queued"`
	Message string `json:"message,omitempty"`
}

type handlers struct {
	store    *store.Store
	reg      *fetch.Registry
	renderer *report.Renderer
	trigger  Trigger
	log      *slog.Logger
}

func (h *handlers) root(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, "/report.html", http.StatusFound)
}

func (h *handlers) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (h *handlers) snapshot(w http.ResponseWriter, r *http.Request) {
	source := chi.URLParam(r, "source")
	snap, err := h.store.Get(source)
	if err != nil {
		writeError(w, http.StatusNotFound, "unknown source: "+source)
		return
	}
	writeJSON(w, http.StatusOK, toSnapshotResponse(snap))
}

func (h *handlers) allSnapshots(w http.ResponseWriter, _ *http.Request) {
	snaps := h.store.GetAll()
	out := make([]SnapshotResponse, 0, len(snaps))
	for _, f := range h.reg.All() {
		if snap, ok := snaps[f.Source()]; ok {
			out = append(out, toSnapshotResponse(snap))
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *handlers) status(w http.ResponseWriter, _ *http.Request) {
	snaps := h.store.GetAll()
	out := make([]StatusResponse, 0, len(snaps))
	for _, f := range h.reg.All() {
		snap, ok := snaps[f.Source()]
		if !ok {
			continue
		}
		out = append(out, StatusResponse{
			Source:        snap.Source,
			DisplayName:   f.DisplayName(),
			ItemCount:     len(snap.Items),
			LastSuccessAt: snap.LastSuccessAt,
			LastAttemptAt: snap.LastAttemptAt,
			Failures:      snap.Failures,
			ErrorKind:     snap.ErrorKind,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *handlers) report(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := h.renderer.Render(w, h.store.GetAll(), time.Now()); err != nil {
		h.log.Error("render report", "error", err)
	}
}

func (h *handlers) refreshAll(w http.ResponseWriter, _ *http.Request) {
	queued := h.trigger.Trigger(nil)
	msg := "fetch cycle queued"
	if !queued {
		msg = "fetch cycle already queued"
	}
	writeJSON(w, http.StatusAccepted, RefreshResponse{Queued: queued, Message: msg})
}

func (h *handlers) refreshSource(w http.ResponseWriter, r *http.Request) {
	source := chi.URLParam(r, "source")
	if _, ok := h.reg.Get(source); !ok {
		writeError(w, http.StatusNotFound, "unknown source: "+source)
		return
	}
	queued := h.trigger.Trigger([]string{source})
	msg := "fetch queued for " + source
	if !queued {
		msg = "a fetch cycle is already queued"
	}
	writeJSON(w, http.StatusAccepted, RefreshResponse{Queued: queued, Message: msg})
}

func toSnapshotResponse(snap trend.Snapshot) SnapshotResponse {
	items := make([]ItemResponse, len(snap.Items))
	for i, it := range snap.Items {
		items[i] = ItemResponse{
			Title:   it.Title,
			URL:     it.URL,
			Rank:    it.Rank,
			Metric:  it.Metric,
			Summary: it.Summary,
		}
	}
	return SnapshotResponse{
		Source:        snap.Source,
		LastSuccessAt: snap.LastSuccessAt,
		LastAttemptAt: snap.LastAttemptAt,
		Items:         items,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}
