package web

import (
	"io"
	"sort"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/sweeney/twin-monitor/internal/series"
)

// ChartBoard holds what the charts page plots for the selected asset: the
// rolling live series and the newest points of the last historical report,
// per metric. Both keep at most capacity points per metric.
type ChartBoard struct {
	live       *series.Buffer
	history    *series.Buffer
	assetsHost string
}

// NewChartBoard creates an empty board. assetsHost overrides where the
// charting scripts are served from.
func NewChartBoard(capacity int, assetsHost string) *ChartBoard {
	return &ChartBoard{
		live:       series.NewBuffer(capacity),
		history:    series.NewBuffer(capacity),
		assetsHost: assetsHost,
	}
}

// AppendPoint adds a live reading.
func (b *ChartBoard) AppendPoint(metric string, t time.Time, v float64) {
	b.live.Push(metric, t, v)
}

// ReplaceSeries swaps in the historical series for metric, keeping its
// newest points.
func (b *ChartBoard) ReplaceSeries(metric string, pts []series.Point) {
	b.history.Replace(metric, pts)
}

// Reset clears every series.
func (b *ChartBoard) Reset() {
	b.live.ResetAll()
	b.history.ResetAll()
}

// Live returns the live points for metric, oldest first.
func (b *ChartBoard) Live(metric string) []series.Point {
	return b.live.Points(metric)
}

// History returns the historical points for metric, oldest first.
func (b *ChartBoard) History(metric string) []series.Point {
	return b.history.Points(metric)
}

// Metrics lists every metric with live or historical data, sorted.
func (b *ChartBoard) Metrics() []string {
	seen := make(map[string]bool)
	for _, m := range b.live.Metrics() {
		seen[m] = true
	}
	for _, m := range b.history.Metrics() {
		seen[m] = true
	}

	out := make([]string, 0, len(seen))
	for m := range seen {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

// Render writes an HTML page with one line chart per metric.
func (b *ChartBoard) Render(w io.Writer, title string) error {
	page := components.NewPage()
	if b.assetsHost != "" {
		page.SetAssetsHost(b.assetsHost)
	}
	page.PageTitle = title

	for _, metric := range b.Metrics() {
		line := charts.NewLine()
		line.SetGlobalOptions(
			charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "320px", AssetsHost: b.assetsHost}),
			charts.WithTitleOpts(opts.Title{Title: metric}),
			charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
			charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
			charts.WithXAxisOpts(opts.XAxis{Type: "time"}),
		)
		line.AddSeries("history", lineData(b.History(metric)),
			charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)})).
			AddSeries("live", lineData(b.Live(metric)),
				charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false), Smooth: opts.Bool(true)}))
		page.AddCharts(line)
	}
	return page.Render(w)
}

func lineData(pts []series.Point) []opts.LineData {
	out := make([]opts.LineData, len(pts))
	for i, p := range pts {
		out[i] = opts.LineData{Value: []any{p.Time.UnixMilli(), p.Value}}
	}
	return out
}
