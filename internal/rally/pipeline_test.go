package rally

import (
	"context"
	"errors"
	"math"
	"testing"
)

// scriptedSource serves pre-built frames, optionally failing at a given index.
type scriptedSource struct {
	frames []Frame
	pos    int
	failAt int // -1 for never
}

func newScriptedSource(n int) *scriptedSource {
	s := &scriptedSource{failAt: -1}
	for i := 0; i < n; i++ {
		s.frames = append(s.frames, Frame{Index: i, T: float64(i) * testDT})
	}
	return s
}

func (s *scriptedSource) Next() (Frame, bool, error) {
	if s.failAt >= 0 && s.pos == s.failAt {
		return Frame{}, false, errors.New("decode failed")
	}
	if s.pos >= len(s.frames) {
		return Frame{}, false, nil
	}
	f := s.frames[s.pos]
	s.pos++
	return f, true, nil
}

func (s *scriptedSource) TotalFrames() int { return len(s.frames) }

// funcDetector adapts a function to the Detector interface.
type funcDetector func(frame Frame) []Detection

func (f funcDetector) Detect(_ context.Context, frame Frame) ([]Detection, error) {
	return f(frame), nil
}

// bouncingBallDetector emits one exact detection per frame while the ball is
// in play: 1s ballistic arcs (gravity g) chained by bounces, drifting across
// the court.
func bouncingBallDetector(playStart, playEnd, g float64) funcDetector {
	return func(frame Frame) []Detection {
		if frame.T < playStart || frame.T >= playEnd {
			return nil
		}
		rel := frame.T - playStart
		u := math.Mod(rel, 1.0)
		y := 0.9 - 0.5*g*u + 0.5*g*u*u
		x := 0.1 + 0.08*rel
		return []Detection{{X: x, Y: y, Width: 0.02, Height: 0.02, Confidence: 0.9, T: frame.T}}
	}
}

func TestPipeline_DetectsSingleRally(t *testing.T) {
	cfg := DefaultPipelineConfig()
	src := newScriptedSource(300) // 10s at 30fps
	detector := bouncingBallDetector(2.0, 8.0, cfg.Motion.Gravity)

	res, err := NewPipeline(cfg).Process(context.Background(), src, detector, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Outcome != OutcomeCompleted {
		t.Fatalf("expected completed, got %s", res.Outcome)
	}
	if res.RunID == "" {
		t.Error("expected a run ID")
	}
	if len(res.Segments) != 1 {
		t.Fatalf("expected 1 rally segment, got %d: %+v", len(res.Segments), res.Segments)
	}

	seg := res.Segments[0]
	// Start confirms after filter convergence plus debounce, minus padding.
	if seg.Start < 1.4 || seg.Start > 3.2 {
		t.Errorf("segment start: expected within [1.4, 3.2], got %v", seg.Start)
	}
	if seg.End < 7.8 || seg.End > 9.6 {
		t.Errorf("segment end: expected within [7.8, 9.6], got %v", seg.End)
	}
	if seg.Confidence <= 0 {
		t.Errorf("expected positive segment confidence, got %v", seg.Confidence)
	}

	if res.Stats.FramesSeen != 300 {
		t.Errorf("FramesSeen: expected 300, got %d", res.Stats.FramesSeen)
	}
	if res.Stats.FramesWithDetections < 178 || res.Stats.FramesWithDetections > 182 {
		t.Errorf("FramesWithDetections: expected ≈180, got %d", res.Stats.FramesWithDetections)
	}
	if res.Stats.TracksClosed == 0 {
		t.Error("expected at least one closed track")
	}
	if res.Stats.RallyFrames == 0 {
		t.Error("expected rally frames to be counted")
	}
	if res.Export.SegmentCount != 1 {
		t.Errorf("export SegmentCount: expected 1, got %d", res.Export.SegmentCount)
	}
	if res.Export.TotalRallySecs <= 0 || res.Export.CompressionRatio <= 1 {
		t.Errorf("implausible export stats: %+v", res.Export)
	}
}

func TestPipeline_CarriedBallProducesNoRallies(t *testing.T) {
	cfg := DefaultPipelineConfig()
	src := newScriptedSource(300)
	// A ball carried across the court at constant velocity for 6s.
	detector := funcDetector(func(frame Frame) []Detection {
		if frame.T < 2.0 || frame.T >= 8.0 {
			return nil
		}
		rel := frame.T - 2.0
		return []Detection{{
			X: 0.1 + 0.1*rel, Y: 0.3 + 0.08*rel,
			Width: 0.02, Height: 0.02, Confidence: 0.9, T: frame.T,
		}}
	})

	res, err := NewPipeline(cfg).Process(context.Background(), src, detector, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Outcome != OutcomeNoRallies {
		t.Errorf("expected no_rallies, got %s", res.Outcome)
	}
	if len(res.Segments) != 0 {
		t.Errorf("expected no segments, got %+v", res.Segments)
	}
	if res.Stats.TotalDetections == 0 {
		t.Error("detections should still be counted")
	}
}

func TestPipeline_EmptyVideoProducesNoRallies(t *testing.T) {
	cfg := DefaultPipelineConfig()
	src := newScriptedSource(100)
	detector := funcDetector(func(Frame) []Detection { return nil })

	res, err := NewPipeline(cfg).Process(context.Background(), src, detector, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Outcome != OutcomeNoRallies {
		t.Errorf("expected no_rallies, got %s", res.Outcome)
	}
	if res.Stats.FramesWithDetections != 0 {
		t.Errorf("expected zero detection frames, got %d", res.Stats.FramesWithDetections)
	}
}

func TestPipeline_Cancellation(t *testing.T) {
	cfg := DefaultPipelineConfig()
	src := newScriptedSource(300)
	detector := bouncingBallDetector(2.0, 8.0, cfg.Motion.Gravity)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := NewPipeline(cfg).Process(ctx, src, detector, nil)
	if err != nil {
		t.Fatalf("cancellation must not be an error, got %v", err)
	}
	if res.Outcome != OutcomeCancelled {
		t.Errorf("expected cancelled, got %s", res.Outcome)
	}
	if res.Stats.FramesSeen != 0 {
		t.Errorf("pre-cancelled context should process nothing, got %d frames", res.Stats.FramesSeen)
	}
}

func TestPipeline_MidRunCancellationReturnsNoPartialResult(t *testing.T) {
	cfg := DefaultPipelineConfig()
	src := newScriptedSource(300)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Cancel late enough that a rally has already been confirmed.
	ball := bouncingBallDetector(2.0, 8.0, cfg.Motion.Gravity)
	frames := 0
	detector := funcDetector(func(frame Frame) []Detection {
		frames++
		if frames == 280 {
			cancel()
		}
		return ball(frame)
	})

	res, err := NewPipeline(cfg).Process(ctx, src, detector, nil)
	if err != nil {
		t.Fatalf("cancellation must not be an error, got %v", err)
	}
	if res.Outcome != OutcomeCancelled {
		t.Fatalf("expected cancelled, got %s", res.Outcome)
	}
	if len(res.Segments) != 0 {
		t.Errorf("a cancelled run must not return partial segments, got %+v", res.Segments)
	}
	if res.Export.SegmentCount != 0 {
		t.Errorf("a cancelled run must not report export stats, got %+v", res.Export)
	}
	if res.Stats.FramesSeen == 0 || res.Stats.FramesSeen >= 300 {
		t.Errorf("expected a mid-run stop, processed %d frames", res.Stats.FramesSeen)
	}
}

func TestPipeline_FrameSourceErrorIsFatal(t *testing.T) {
	cfg := DefaultPipelineConfig()
	src := newScriptedSource(300)
	src.failAt = 5
	detector := funcDetector(func(Frame) []Detection { return nil })

	_, err := NewPipeline(cfg).Process(context.Background(), src, detector, nil)
	if err == nil {
		t.Fatal("expected frame source failure to abort the run")
	}
}

// failingDetector fails on every frame.
type failingDetector struct{}

func (failingDetector) Detect(context.Context, Frame) ([]Detection, error) {
	return nil, errors.New("inference failed")
}

func TestPipeline_DetectorErrorsAreNotFatal(t *testing.T) {
	cfg := DefaultPipelineConfig()
	src := newScriptedSource(50)

	res, err := NewPipeline(cfg).Process(context.Background(), src, failingDetector{}, nil)
	if err != nil {
		t.Fatalf("detector errors must not abort the run, got %v", err)
	}
	if res.Stats.DetectorFailures != 50 {
		t.Errorf("DetectorFailures: expected 50, got %d", res.Stats.DetectorFailures)
	}
	if res.Outcome != OutcomeNoRallies {
		t.Errorf("expected no_rallies, got %s", res.Outcome)
	}
}

func TestPipeline_ProgressReporting(t *testing.T) {
	cfg := DefaultPipelineConfig()
	cfg.ProgressInterval = 0 // report every frame
	src := newScriptedSource(60)
	detector := funcDetector(func(Frame) []Detection { return nil })

	var values []float64
	_, err := NewPipeline(cfg).Process(context.Background(), src, detector, func(f float64) {
		values = append(values, f)
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(values) == 0 {
		t.Fatal("expected progress callbacks")
	}
	for i := 1; i < len(values); i++ {
		if values[i] < values[i-1] {
			t.Fatalf("progress must be monotonic: %v then %v", values[i-1], values[i])
		}
	}
	if values[len(values)-1] != 1 {
		t.Errorf("final progress must be 1, got %v", values[len(values)-1])
	}
}
