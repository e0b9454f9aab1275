package rally

import (
	"context"
	"fmt"
	"image"
	"time"

	"github.com/google/uuid"

	"github.com/courtside-data/rallycut/internal/monitoring"
)

// Frame is one decoded video frame handed to the detector.
type Frame struct {
	Index int
	T     float64 // seconds from video start
	Image image.Image
}

// FrameSource yields frames in presentation order. Next returns ok=false at
// end of stream; an error from Next aborts the run. TotalFrames may return 0
// when the source cannot know its length (progress is then reported as 0
// until completion).
type FrameSource interface {
	Next() (Frame, bool, error)
	TotalFrames() int
}

// Detector produces candidate ball detections for one frame. Detector errors
// are per-frame failures: the pipeline counts and logs them and continues
// with zero detections.
type Detector interface {
	Detect(ctx context.Context, frame Frame) ([]Detection, error)
}

// Outcome distinguishes how a pipeline run finished.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeNoRallies Outcome = "no_rallies"
	OutcomeCancelled Outcome = "cancelled"
)

// PipelineConfig aggregates the tuning of every pipeline stage.
type PipelineConfig struct {
	Tracker TrackerConfig
	Motion  MotionThresholds
	Gate    GateConfig
	Decider DeciderConfig
	Builder BuilderConfig

	// SignalWindow is the number of trailing track points the gate examines
	// for the per-frame verdict while a track is still open.
	SignalWindow int
	// ProgressInterval throttles progress callbacks.
	ProgressInterval time.Duration

	// OnSignal, when set, receives every per-frame signal as it is produced.
	// Report generation taps the timeline through it.
	OnSignal func(RallySignal)
}

// DefaultPipelineConfig returns the full default tuning.
func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		Tracker:          DefaultTrackerConfig(),
		Motion:           DefaultMotionThresholds(),
		Gate:             DefaultGateConfig(),
		Decider:          DefaultDeciderConfig(),
		Builder:          DefaultBuilderConfig(),
		SignalWindow:     12,
		ProgressInterval: 500 * time.Millisecond,
	}
}

// Result is the outcome of one pipeline run.
type Result struct {
	RunID         string
	Outcome       Outcome
	Segments      []RallySegment
	Export        ExportStats
	Stats         ProcessingStats
	VideoDuration float64
}

// Pipeline wires the tracker, physics gate, rally decider, and segment
// builder into a strict single-pass frame loop.
type Pipeline struct {
	cfg PipelineConfig
}

// NewPipeline creates a pipeline with the given tuning.
func NewPipeline(cfg PipelineConfig) *Pipeline {
	if cfg.SignalWindow <= 0 {
		cfg.SignalWindow = DefaultPipelineConfig().SignalWindow
	}
	return &Pipeline{cfg: cfg}
}

// Process consumes the frame source to exhaustion and returns the detected
// rally segments. Cancellation is cooperative: the context is checked once
// per frame and a cancelled run returns a Result with OutcomeCancelled, no
// segments, and a nil error; nothing partial is reported. Only a
// frame-source failure is a hard error. progress may be nil; when set it
// receives a fraction in [0,1], throttled.
func (p *Pipeline) Process(ctx context.Context, src FrameSource, det Detector, progress func(float64)) (Result, error) {
	res := Result{RunID: uuid.NewString(), Outcome: OutcomeCompleted}

	tracker := NewBallTracker(p.cfg.Tracker)
	gate := NewPhysicsGate(p.cfg.Gate, p.cfg.Motion)
	decider := NewRallyDecider(p.cfg.Decider)
	builder := NewSegmentBuilder(p.cfg.Builder)

	total := src.TotalFrames()
	lastProgress := time.Now()
	var lastT float64

	for {
		if ctx.Err() != nil {
			res.Outcome = OutcomeCancelled
			res.VideoDuration = lastT
			monitoring.Logf("run %s: cancelled after %d frames", res.RunID, res.Stats.FramesSeen)
			return res, nil
		}

		frame, ok, err := src.Next()
		if err != nil {
			return res, fmt.Errorf("frame source at frame %d: %w", res.Stats.FramesSeen, err)
		}
		if !ok {
			break
		}
		res.Stats.FramesSeen++
		lastT = frame.T

		detections, err := det.Detect(ctx, frame)
		if err != nil {
			res.Stats.DetectorFailures++
			monitoring.Logf("detector failed on frame %d: %v", frame.Index, err)
			detections = nil
		}
		if len(detections) > 0 {
			res.Stats.FramesWithDetections++
			res.Stats.TotalDetections += len(detections)
		}

		point, tracked, closed := tracker.Observe(frame.T, detections)
		if closed != nil {
			res.Stats.TracksClosed++
			if gate.Validate(closed).Valid {
				res.Stats.ValidTrajectories++
			}
			builder.ObserveSegmentClosed(closed)
		}

		sig := p.frameSignal(gate, tracker, frame)
		res.Stats.ObserveConfidence(sig.Confidence)
		if p.cfg.OnSignal != nil {
			p.cfg.OnSignal(sig)
		}

		for _, bd := range decider.Observe(sig) {
			builder.OnBoundary(bd)
		}
		if decider.State() == StateActive || decider.State() == StateEnding {
			res.Stats.RallyFrames++
		}
		builder.ObserveFrame(sig, len(detections), point, tracked)

		if progress != nil && total > 0 && time.Since(lastProgress) >= p.cfg.ProgressInterval {
			progress(float64(res.Stats.FramesSeen) / float64(total))
			lastProgress = time.Now()
		}
	}

	if progress != nil {
		progress(1)
	}
	return p.finish(res, tracker, decider, builder, lastT)
}

// finish flushes the stages and assembles the final result of a run that
// consumed its whole source.
func (p *Pipeline) finish(res Result, tracker *BallTracker, decider *RallyDecider, builder *SegmentBuilder, lastT float64) (Result, error) {
	gate := NewPhysicsGate(p.cfg.Gate, p.cfg.Motion)
	if closed := tracker.Flush(); closed != nil {
		res.Stats.TracksClosed++
		if gate.Validate(closed).Valid {
			res.Stats.ValidTrajectories++
		}
		builder.ObserveSegmentClosed(closed)
	}
	for _, bd := range decider.Finish(lastT) {
		builder.OnBoundary(bd)
	}

	res.VideoDuration = lastT
	res.Segments = builder.Finalize(lastT)
	res.Export = ComputeExportStats(res.Segments, lastT)

	if len(res.Segments) == 0 {
		res.Outcome = OutcomeNoRallies
	}
	monitoring.Logf("run %s: %s, %d segments over %.1fs (%d frames, %d tracks, %d valid)",
		res.RunID, res.Outcome, len(res.Segments), res.VideoDuration,
		res.Stats.FramesSeen, res.Stats.TracksClosed, res.Stats.ValidTrajectories)
	return res, nil
}

// frameSignal derives the per-frame verdict by running the gate over a
// sliding window of the open track's trailing points. An absent or
// too-young track yields an invalid signal.
func (p *Pipeline) frameSignal(gate *PhysicsGate, tracker *BallTracker, frame Frame) RallySignal {
	sig := RallySignal{FrameIndex: frame.Index, T: frame.T}

	points := tracker.ActivePoints()
	if len(points) == 0 {
		return sig
	}
	if len(points) > p.cfg.SignalWindow {
		points = points[len(points)-p.cfg.SignalWindow:]
	}
	v := gate.ValidatePoints(points)
	sig.Valid = v.Valid
	sig.Confidence = v.Confidence
	return sig
}
