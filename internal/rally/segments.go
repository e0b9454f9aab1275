package rally

import (
	"math"
	"sort"
)

// BuilderConfig holds the segment post-processing parameters, all in seconds.
type BuilderConfig struct {
	StartPadding float64 // pre-roll added before each rally start
	EndPadding   float64 // post-roll added after each rally end

	// Short rallies get a reduced pre-roll so a serve-only exchange does not
	// drag in half a second of dead time before it.
	ShortSegmentThreshold float64
	MaxPrerollForShort    float64

	MergeGap           float64 // segments closer than this merge into one
	MinSegmentDuration float64 // shorter segments are dropped after merging

	// Contact estimation.
	ContactSpeedJump     float64 // fractional speed change counted as a contact
	ContactMinSeparation float64 // minimum seconds between counted contacts
}

// DefaultBuilderConfig returns the segment post-processing defaults.
func DefaultBuilderConfig() BuilderConfig {
	return BuilderConfig{
		StartPadding:          0.5,
		EndPadding:            0.3,
		ShortSegmentThreshold: 2.5,
		MaxPrerollForShort:    0.5,
		MergeGap:              1.5,
		MinSegmentDuration:    2.0,
		ContactSpeedJump:      0.5,
		ContactMinSeparation:  0.25,
	}
}

// ExportStats summarises the final segment list relative to the source video.
type ExportStats struct {
	SegmentCount     int
	TotalRallySecs   float64
	VideoDuration    float64
	CoveragePercent  float64 // rally time as a percentage of the video
	CompressionRatio float64 // video duration over rally time
}

// ComputeExportStats derives export statistics from a finalized segment list.
func ComputeExportStats(segments []RallySegment, videoDuration float64) ExportStats {
	st := ExportStats{SegmentCount: len(segments), VideoDuration: videoDuration}
	for _, s := range segments {
		st.TotalRallySecs += s.Duration()
	}
	if videoDuration > 0 {
		st.CoveragePercent = 100 * st.TotalRallySecs / videoDuration
	}
	if st.TotalRallySecs > 0 {
		st.CompressionRatio = videoDuration / st.TotalRallySecs
	}
	return st
}

// SegmentBuilder accumulates rally boundaries and per-frame observations
// into the final segment list. Feed it OnBoundary for every decider event,
// ObserveFrame for every frame, and ObserveSegmentClosed for every completed
// trajectory, then call Finalize once.
type SegmentBuilder struct {
	cfg BuilderConfig

	segments []RallySegment
	open     bool
	openSeg  RallySegment

	// Accumulators for the currently open rally.
	confSum     float64
	confSamples int
	trajLenSum  float64
	trajCount   int
	contacts    int
	lastContact float64
	prevSpeed   float64
	prevSpeedOK bool
}

// NewSegmentBuilder creates an empty builder.
func NewSegmentBuilder(cfg BuilderConfig) *SegmentBuilder {
	return &SegmentBuilder{cfg: cfg, lastContact: math.Inf(-1)}
}

// OnBoundary records a confirmed rally boundary. Boundaries must arrive in
// timestamp order; a start while open or an end while closed is ignored.
func (b *SegmentBuilder) OnBoundary(bd Boundary) {
	switch bd.Kind {
	case BoundaryStart:
		if b.open {
			return
		}
		b.open = true
		b.openSeg = RallySegment{Start: bd.T}
		b.confSum, b.confSamples = 0, 0
		b.trajLenSum, b.trajCount = 0, 0
		b.contacts = 0
		b.lastContact = math.Inf(-1)
		b.prevSpeedOK = false

	case BoundaryEnd:
		if !b.open {
			return
		}
		b.openSeg.End = bd.T
		if b.confSamples > 0 {
			b.openSeg.Confidence = b.confSum / float64(b.confSamples)
		}
		if b.trajCount > 0 {
			b.openSeg.AvgTrajLength = b.trajLenSum / float64(b.trajCount)
		}
		b.openSeg.Contacts = b.contacts
		b.segments = append(b.segments, b.openSeg)
		b.open = false
	}
}

// ObserveFrame records per-frame data for the open rally: detection counts,
// gate confidence, and velocity discontinuities for contact estimation.
func (b *SegmentBuilder) ObserveFrame(sig RallySignal, detections int, point TrackPoint, tracked bool) {
	if !b.open {
		return
	}
	b.openSeg.DetectionCount += detections
	b.confSum += sig.Confidence
	b.confSamples++

	if !tracked {
		b.prevSpeedOK = false
		return
	}
	speed := point.Speed()
	if b.prevSpeedOK {
		base := math.Max(b.prevSpeed, 0.01)
		if math.Abs(speed-b.prevSpeed)/base >= b.cfg.ContactSpeedJump &&
			point.T-b.lastContact >= b.cfg.ContactMinSeparation {
			b.contacts++
			b.lastContact = point.T
		}
	}
	b.prevSpeed = speed
	b.prevSpeedOK = true
}

// ObserveSegmentClosed records a completed trajectory's contribution to the
// open rally's trajectory-length statistics.
func (b *SegmentBuilder) ObserveSegmentClosed(seg *TrajectorySegment) {
	if !b.open || seg == nil {
		return
	}
	b.trajLenSum += seg.PathLength()
	b.trajCount++
}

// Finalize applies padding, clamping, gap merging, and the minimum-duration
// filter, and returns the final segment list in ascending start order. The
// builder must not be reused afterward.
func (b *SegmentBuilder) Finalize(videoDuration float64) []RallySegment {
	// An end boundary always arrives before Finalize (the decider's Finish
	// guarantees it), but guard against a dangling open segment anyway.
	if b.open {
		b.OnBoundary(Boundary{Kind: BoundaryEnd, T: videoDuration})
	}

	padded := make([]RallySegment, 0, len(b.segments))
	for _, s := range b.segments {
		preroll := b.cfg.StartPadding
		if s.Duration() < b.cfg.ShortSegmentThreshold && preroll > b.cfg.MaxPrerollForShort {
			preroll = b.cfg.MaxPrerollForShort
		}
		s.Start = math.Max(0, s.Start-preroll)
		s.End = s.End + b.cfg.EndPadding
		if videoDuration > 0 {
			s.End = math.Min(videoDuration, s.End)
		}
		padded = append(padded, s)
	}

	sort.Slice(padded, func(i, j int) bool { return padded[i].Start < padded[j].Start })

	merged := mergeSegments(padded, b.cfg.MergeGap)

	out := merged[:0]
	for _, s := range merged {
		if s.Duration() >= b.cfg.MinSegmentDuration {
			s.Quality = scoreQuality(s)
			out = append(out, s)
		}
	}
	return out
}

// mergeSegments unions segments whose gap is strictly below maxGap; a gap at
// or above it leaves them distinct. Statistics of merged segments are
// combined weighted by duration so a long rally is not skewed by a brief
// tail fragment.
func mergeSegments(segments []RallySegment, maxGap float64) []RallySegment {
	if len(segments) == 0 {
		return nil
	}
	out := []RallySegment{segments[0]}
	for _, s := range segments[1:] {
		last := &out[len(out)-1]
		if s.Start-last.End >= maxGap {
			out = append(out, s)
			continue
		}
		dA, dB := last.Duration(), s.Duration()
		total := dA + dB
		if total > 0 {
			last.Confidence = (last.Confidence*dA + s.Confidence*dB) / total
			last.AvgTrajLength = (last.AvgTrajLength*dA + s.AvgTrajLength*dB) / total
		}
		last.DetectionCount += s.DetectionCount
		last.Contacts += s.Contacts
		if s.End > last.End {
			last.End = s.End
		}
	}
	return out
}

// scoreQuality combines duration, confidence, and contact activity into a
// single [0,1] score. A rally around ten seconds with several contacts and
// high gate confidence scores near 1.
func scoreQuality(s RallySegment) float64 {
	duration := clamp01(s.Duration() / 10.0)
	contacts := clamp01(float64(s.Contacts) / 6.0)
	return clamp01(0.3*duration + 0.5*s.Confidence + 0.2*contacts)
}
