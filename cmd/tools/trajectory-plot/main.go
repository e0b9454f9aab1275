// Command trajectory-plot renders a PNG of the tracked ball path for a
// detection log: the measured track points, predicted gap fills, and the
// fitted parabola of each trajectory the physics gate accepted.
package main

import (
	"context"
	"flag"
	"fmt"
	"image/color"
	"log"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/courtside-data/rallycut/internal/detect"
	"github.com/courtside-data/rallycut/internal/rally"
)

func main() {
	input := flag.String("i", "", "detection log (JSONL) to plot")
	output := flag.String("o", "trajectories.png", "output PNG path")
	flag.Parse()
	if *input == "" {
		log.Fatal("trajectory-plot: -i is required")
	}

	replay, err := detect.LoadReplay(*input)
	if err != nil {
		log.Fatalf("trajectory-plot: %v", err)
	}

	segments, err := collectSegments(replay)
	if err != nil {
		log.Fatalf("trajectory-plot: %v", err)
	}
	if len(segments) == 0 {
		log.Fatal("trajectory-plot: no trajectories found")
	}

	if err := renderPlot(segments, *output); err != nil {
		log.Fatalf("trajectory-plot: %v", err)
	}
	log.Printf("plotted %d trajectories to %s", len(segments), *output)
}

// collectSegments runs the tracker and gate over the log and keeps every
// completed trajectory.
func collectSegments(replay *detect.Replay) ([]*rally.TrajectorySegment, error) {
	tracker := rally.NewBallTracker(rally.DefaultTrackerConfig())
	gate := rally.NewPhysicsGate(rally.DefaultGateConfig(), rally.DefaultMotionThresholds())
	ctx := context.Background()

	var segments []*rally.TrajectorySegment
	for {
		frame, ok, err := replay.Next()
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		dets, err := replay.Detect(ctx, frame)
		if err != nil {
			return nil, err
		}
		_, _, closed := tracker.Observe(frame.T, dets)
		if closed != nil {
			gate.Validate(closed)
			segments = append(segments, closed)
		}
	}
	if closed := tracker.Flush(); closed != nil {
		gate.Validate(closed)
		segments = append(segments, closed)
	}
	return segments, nil
}

func renderPlot(segments []*rally.TrajectorySegment, path string) error {
	p := plot.New()
	p.Title.Text = "Ball trajectories"
	p.X.Label.Text = "time (s)"
	p.Y.Label.Text = "y (normalized, image down)"
	// Screen y grows downward; flip the axis so arcs look like arcs.
	p.Y.Min, p.Y.Max = 1, 0

	for i, seg := range segments {
		measured := make(plotter.XYs, 0, len(seg.Points))
		predicted := make(plotter.XYs, 0)
		for _, pt := range seg.Points {
			if pt.Predicted {
				predicted = append(predicted, plotter.XY{X: pt.T, Y: pt.Y})
			} else {
				measured = append(measured, plotter.XY{X: pt.T, Y: pt.Y})
			}
		}

		scatter, err := plotter.NewScatter(measured)
		if err != nil {
			return fmt.Errorf("trajectory %d: %w", i, err)
		}
		scatter.GlyphStyle.Radius = vg.Points(1.5)
		p.Add(scatter)

		if len(predicted) > 0 {
			gaps, err := plotter.NewScatter(predicted)
			if err != nil {
				return fmt.Errorf("trajectory %d gaps: %w", i, err)
			}
			gaps.GlyphStyle.Radius = vg.Points(1)
			gaps.GlyphStyle.Color = color.RGBA{R: 200, A: 255}
			p.Add(gaps)
		}

		if seg.FitOK && seg.Movement == rally.MovementAirborne {
			fitPts := make(plotter.XYs, 0, 50)
			for k := 0; k <= 50; k++ {
				t := seg.StartT + seg.Duration()*float64(k)/50
				fitPts = append(fitPts, plotter.XY{X: t, Y: seg.Fit.Eval(t - seg.StartT)})
			}
			line, err := plotter.NewLine(fitPts)
			if err != nil {
				return fmt.Errorf("trajectory %d fit: %w", i, err)
			}
			line.Width = vg.Points(1)
			line.Color = color.RGBA{B: 200, A: 255}
			p.Add(line)
		}
	}

	if err := p.Save(14*vg.Inch, 6*vg.Inch, path); err != nil {
		return fmt.Errorf("save plot: %w", err)
	}
	return nil
}
