// Package report renders a standalone HTML analysis report with go-echarts:
// the per-frame rally confidence timeline and the detected segments.
package report

import (
	"fmt"
	"io"
	"os"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/courtside-data/rallycut/internal/rally"
)

// maxTimelinePoints caps the confidence series so hour-long videos do not
// produce multi-megabyte reports.
const maxTimelinePoints = 6000

// Report holds everything needed to render one run's HTML report.
type Report struct {
	VideoPath string
	Result    rally.Result
	Signals   []rally.RallySignal
}

// Render writes the full HTML report to w.
func (r *Report) Render(w io.Writer) error {
	page := components.NewPage()
	page.AddCharts(r.timelineChart(), r.segmentChart())

	if err := page.Render(w); err != nil {
		return fmt.Errorf("render report: %w", err)
	}
	return nil
}

// WriteFile renders the report into an HTML file at path.
func (r *Report) WriteFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create report file: %w", err)
	}
	defer f.Close()
	return r.Render(f)
}

// timelineChart plots gate confidence per frame with the in-rally verdict as
// a second series, downsampled by stride to stay readable.
func (r *Report) timelineChart() components.Charter {
	stride := 1
	if len(r.Signals) > maxTimelinePoints {
		stride = (len(r.Signals) + maxTimelinePoints - 1) / maxTimelinePoints
	}

	var labels []string
	var confidence, valid []opts.LineData
	for i := 0; i < len(r.Signals); i += stride {
		s := r.Signals[i]
		labels = append(labels, fmt.Sprintf("%.1fs", s.T))
		confidence = append(confidence, opts.LineData{Value: s.Confidence})
		v := 0.0
		if s.Valid {
			v = 1.0
		}
		valid = append(valid, opts.LineData{Value: v})
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "1200px", Height: "400px"}),
		charts.WithTitleOpts(opts.Title{
			Title:    "Rally confidence timeline",
			Subtitle: fmt.Sprintf("%s run=%s outcome=%s", r.VideoPath, r.Result.RunID, r.Result.Outcome),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithYAxisOpts(opts.YAxis{Min: 0, Max: 1, Name: "confidence"}),
	)
	line.SetXAxis(labels)
	line.AddSeries("confidence", confidence)
	line.AddSeries("valid", valid,
		charts.WithLineChartOpts(opts.LineChart{Step: "end"}))
	return line
}

// segmentChart plots each detected rally as a bar of its duration.
func (r *Report) segmentChart() components.Charter {
	var labels []string
	var durations []opts.BarData
	for i, seg := range r.Result.Segments {
		labels = append(labels, fmt.Sprintf("rally %d @ %.1fs", i+1, seg.Start))
		durations = append(durations, opts.BarData{Value: seg.Duration()})
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "1200px", Height: "320px"}),
		charts.WithTitleOpts(opts.Title{
			Title: "Detected rallies",
			Subtitle: fmt.Sprintf("%d segments, %.1fs of play, %.1f%% of video",
				r.Result.Export.SegmentCount, r.Result.Export.TotalRallySecs, r.Result.Export.CoveragePercent),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithYAxisOpts(opts.YAxis{Name: "seconds"}),
	)
	bar.SetXAxis(labels)
	bar.AddSeries("duration", durations)
	return bar
}
