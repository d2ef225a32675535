// Package report renders the current snapshot contents as a static HTML
// document. Rendering is a pure function of the snapshots and the clock:
// no network access, safe to run on every request.
package report

import (
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/boil-wsb/trending-service/internal/fetch"
	"github.com/boil-wsb/trending-service/internal/trend"
)

// Renderer builds the HTML report. The registry supplies display names and
// the stable section order.
type Renderer struct {
	reg  *fetch.Registry
	tmpl *template.Template
}

// NewRenderer creates a report renderer over the given registry.
func NewRenderer(reg *fetch.Registry) (*Renderer, error) {
	tmpl, err := template.New("report").Funcs(template.FuncMap{
		"metric": formatMetric,
	}).Parse(reportTemplate)
	if err != nil {
		return nil, fmt.Errorf("parse report template: %w", err)
	}
	return &Renderer{reg: reg, tmpl: tmpl}, nil
}

type section struct {
	Source    string
	Name      string
	Items     []trend.Item
	Freshness string
	FailNote  string
	Empty     bool
}

type page struct {
	GeneratedAt string
	Sections    []section
}

// Render writes the report for the given snapshots, using now for the
// generation timestamp and staleness annotations.
func (r *Renderer) Render(w io.Writer, snaps map[string]trend.Snapshot, now time.Time) error {
	p := page{GeneratedAt: now.Format("2006-01-02 15:04:05 MST")}

	for _, f := range r.reg.All() {
		sec := section{Source: f.Source(), Name: f.DisplayName()}
		snap, ok := snaps[f.Source()]
		if !ok || snap.LastSuccessAt == nil {
			sec.Empty = true
		} else {
			sec.Items = snap.Items
			sec.Freshness = "updated " + humanize.RelTime(*snap.LastSuccessAt, now, "ago", "from now")
		}
		if ok && snap.Failures > 0 {
			sec.FailNote = fmt.Sprintf("last attempt failed (%s), %d in a row", snap.ErrorKind, snap.Failures)
		}
		p.Sections = append(p.Sections, sec)
	}

	return r.tmpl.Execute(w, p)
}

func formatMetric(m float64) string {
	if m == 0 {
		return ""
	}
	return humanize.Comma(int64(m))
}

const reportTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>Trending Report</title>
<style>
body { font-family: -apple-system, "Segoe UI", sans-serif; margin: 2rem auto; max-width: 960px; color: #1f2328; }
h1 { border-bottom: 2px solid #d0d7de; padding-bottom: .4rem; }
h2 { margin-top: 2rem; }
ol { padding-left: 1.6rem; }
li { margin: .4rem 0; }
a { color: #0969da; text-decoration: none; }
a:hover { text-decoration: underline; }
.meta { color: #57606a; font-size: .85rem; }
.summary { color: #57606a; font-size: .9rem; display: block; }
.warn { color: #9a6700; font-size: .85rem; }
.empty { color: #57606a; font-style: italic; }
</style>
</head>
<body>
<h1>Trending Report</h1>
<p class="meta">Generated at {{.GeneratedAt}}</p>
{{range .Sections}}
<h2>{{.Name}}</h2>
{{- if .Freshness}}
<p class="meta">{{.Freshness}}</p>
{{- end}}
{{- if .FailNote}}
<p class="warn">{{.FailNote}}</p>
{{- end}}
{{- if .Empty}}
<p class="empty">No data fetched yet.</p>
{{- else}}
<ol>
{{- range .Items}}
<li><a href="{{.URL}}">{{.Title}}</a>{{with metric .Metric}} <span class="meta">({{.}})</span>{{end}}{{with .Summary}}<span class="summary">{{.}}</span>{{end}}</li>
{{- end}}
</ol>
{{- end}}
{{end}}
</body>
</html>
`
