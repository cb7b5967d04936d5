package digest

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/ibeckermayer/slidecrawl/internal/scraper"
)

// Run is the outcome of one crawl run across its datasets.
type Run struct {
	ID       string
	Started  time.Time
	Finished time.Time
	Reports  []scraper.Report
	Err      error
}

// OK reports whether every dataset was crawled without a fatal error.
func (r Run) OK() bool {
	return r.Err == nil
}

// Builder renders run summaries for email and terminal output.
type Builder struct {
	template *template.Template
}

// New creates a new digest builder
func New() (*Builder, error) {
	tmpl, err := template.New("summary").Funcs(template.FuncMap{
		"comma": func(n int) string { return humanize.Comma(int64(n)) },
	}).Parse(defaultTemplate)
	if err != nil {
		return nil, fmt.Errorf("failed to parse template: %w", err)
	}

	return &Builder{template: tmpl}, nil
}

// Digest represents a compiled summary ready for sending
type Digest struct {
	Subject   string
	HTMLBody  string
	PlainBody string
	CreatedAt time.Time
}

// SummaryData is the template data structure
type SummaryData struct {
	Title    string
	Date     string
	RunID    string
	Elapsed  string
	Error    string
	Datasets []DatasetData
}

// DatasetData represents one crawled dataset in the summary template
type DatasetData struct {
	Name      string
	Total     string
	Pages     int
	Stalls    int
	Saved     int
	Failed    int
	Unique    int
	SinkCount int
	Duration  string
}

// Build creates a summary from a finished run.
func (b *Builder) Build(run Run) (*Digest, error) {
	data := summaryData(run)

	var htmlBuf bytes.Buffer
	if err := b.template.Execute(&htmlBuf, data); err != nil {
		return nil, fmt.Errorf("failed to render template: %w", err)
	}

	status := "ok"
	if !run.OK() {
		status = "FAILED"
	}

	return &Digest{
		Subject:   fmt.Sprintf("slidecrawl %s - %s", status, run.Started.Format("Jan 2 15:04")),
		HTMLBody:  htmlBuf.String(),
		PlainBody: PlainText(run),
		CreatedAt: time.Now(),
	}, nil
}

func summaryData(run Run) SummaryData {
	data := SummaryData{
		Title:    "slidecrawl run summary",
		Date:     run.Started.Format("Monday, January 2 15:04"),
		RunID:    run.ID,
		Elapsed:  run.Finished.Sub(run.Started).Round(time.Second).String(),
		Datasets: make([]DatasetData, len(run.Reports)),
	}
	if run.Err != nil {
		data.Error = run.Err.Error()
	}

	for i, r := range run.Reports {
		data.Datasets[i] = DatasetData{
			Name:      r.Dataset,
			Total:     totalText(r),
			Pages:     r.Pages,
			Stalls:    r.Stalls,
			Saved:     r.Saved,
			Failed:    r.Failed,
			Unique:    r.Unique,
			SinkCount: r.SinkCount,
			Duration:  r.Duration.Round(time.Second).String(),
		}
	}
	return data
}

func totalText(r scraper.Report) string {
	if !r.TotalKnown {
		return "unknown"
	}
	return humanize.Comma(int64(r.Total))
}

// Table renders the per-dataset reports as a text table.
func Table(reports []scraper.Report) string {
	t := table.NewWriter()
	t.AppendHeader(table.Row{"Dataset", "Total", "Pages", "Stalls", "Saved", "Failed", "Unique", "In sink", "Took"})
	for _, r := range reports {
		t.AppendRow(table.Row{
			r.Dataset,
			totalText(r),
			r.Pages,
			r.Stalls,
			humanize.Comma(int64(r.Saved)),
			humanize.Comma(int64(r.Failed)),
			humanize.Comma(int64(r.Unique)),
			humanize.Comma(int64(r.SinkCount)),
			r.Duration.Round(time.Second),
		})
	}
	t.SetStyle(table.StyleLight)
	return t.Render()
}

// PlainText renders the whole run for terminals and plain-text mail parts.
func PlainText(run Run) string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "slidecrawl run %s\n", run.ID)
	fmt.Fprintf(&buf, "started %s, took %s\n\n",
		run.Started.Format(time.DateTime), run.Finished.Sub(run.Started).Round(time.Second))

	if len(run.Reports) > 0 {
		buf.WriteString(Table(run.Reports))
		buf.WriteString("\n")
	}
	if run.Err != nil {
		fmt.Fprintf(&buf, "\nerror: %v\n", run.Err)
	}
	return buf.String()
}

const defaultTemplate = `<!DOCTYPE html>
<html>
<head>
    <meta charset="utf-8">
    <meta name="viewport" content="width=device-width, initial-scale=1">
    <title>{{.Title}}</title>
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; max-width: 720px; margin: 0 auto; padding: 20px; background: #f5f5f5; }
        .container { background: white; border-radius: 8px; padding: 20px; }
        h1 { color: #2d8cf0; margin-bottom: 5px; }
        .date { color: #666; margin-bottom: 20px; }
        .error { background: #fdecea; color: #b3261e; padding: 10px; border-radius: 4px; margin-bottom: 15px; }
        table { border-collapse: collapse; width: 100%; font-size: 14px; }
        th, td { border-bottom: 1px solid #eee; padding: 6px 8px; text-align: right; }
        th:first-child, td:first-child { text-align: left; }
        .footer { margin-top: 20px; padding-top: 15px; border-top: 1px solid #eee; color: #999; font-size: 12px; text-align: center; }
    </style>
</head>
<body>
    <div class="container">
        <h1>{{.Title}}</h1>
        <div class="date">{{.Date}} · took {{.Elapsed}}</div>
        {{if .Error}}<div class="error">{{.Error}}</div>{{end}}

        <table>
            <tr><th>Dataset</th><th>Total</th><th>Pages</th><th>Stalls</th><th>Saved</th><th>Failed</th><th>Unique</th><th>In sink</th><th>Took</th></tr>
            {{range .Datasets}}
            <tr><td>{{.Name}}</td><td>{{.Total}}</td><td>{{.Pages}}</td><td>{{.Stalls}}</td><td>{{comma .Saved}}</td><td>{{comma .Failed}}</td><td>{{comma .Unique}}</td><td>{{comma .SinkCount}}</td><td>{{.Duration}}</td></tr>
            {{end}}
        </table>

        <div class="footer">
            Run {{.RunID}} · Generated by slidecrawl
        </div>
    </div>
</body>
</html>`
