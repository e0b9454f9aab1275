package rally

import (
	"math"
	"testing"
)

func buildSegments(cfg BuilderConfig, videoDuration float64, bounds [][2]float64) []RallySegment {
	b := NewSegmentBuilder(cfg)
	for _, span := range bounds {
		b.OnBoundary(Boundary{Kind: BoundaryStart, T: span[0], Confidence: 0.8})
		b.OnBoundary(Boundary{Kind: BoundaryEnd, T: span[1], Confidence: 0.8})
	}
	return b.Finalize(videoDuration)
}

func TestSegmentBuilder_Padding(t *testing.T) {
	cfg := DefaultBuilderConfig()
	segs := buildSegments(cfg, 100, [][2]float64{{10, 20}})
	if len(segs) != 1 {
		t.Fatalf("expected 1 segment, got %d", len(segs))
	}
	if want := 10 - cfg.StartPadding; segs[0].Start != want {
		t.Errorf("Start: expected %v, got %v", want, segs[0].Start)
	}
	if want := 20 + cfg.EndPadding; segs[0].End != want {
		t.Errorf("End: expected %v, got %v", want, segs[0].End)
	}
}

func TestSegmentBuilder_PaddingClamped(t *testing.T) {
	cfg := DefaultBuilderConfig()
	segs := buildSegments(cfg, 10.1, [][2]float64{{0.2, 10}})
	if len(segs) != 1 {
		t.Fatalf("expected 1 segment, got %d", len(segs))
	}
	if segs[0].Start != 0 {
		t.Errorf("Start must clamp to 0, got %v", segs[0].Start)
	}
	if segs[0].End != 10.1 {
		t.Errorf("End must clamp to the video duration, got %v", segs[0].End)
	}
}

func TestSegmentBuilder_ShortSegmentPrerollCap(t *testing.T) {
	cfg := DefaultBuilderConfig()
	cfg.StartPadding = 1.0
	cfg.MaxPrerollForShort = 0.2
	cfg.MinSegmentDuration = 0.5

	// 2.0s raw rally: below the 2.5s short threshold, gets the capped preroll.
	segs := buildSegments(cfg, 100, [][2]float64{{10, 12}})
	if len(segs) != 1 {
		t.Fatalf("expected 1 segment, got %d", len(segs))
	}
	if want := 10 - 0.2; segs[0].Start != want {
		t.Errorf("short rally preroll: expected start %v, got %v", want, segs[0].Start)
	}

	// 5s raw rally: full preroll applies.
	segs = buildSegments(cfg, 100, [][2]float64{{10, 15}})
	if want := 10 - 1.0; segs[0].Start != want {
		t.Errorf("long rally preroll: expected start %v, got %v", want, segs[0].Start)
	}
}

func TestSegmentBuilder_MergeCloseSegments(t *testing.T) {
	cfg := DefaultBuilderConfig()
	// Padded gap between 20.3 and 20.5 is far below the 1.5s merge gap.
	segs := buildSegments(cfg, 100, [][2]float64{{10, 20}, {21, 27}})
	if len(segs) != 1 {
		t.Fatalf("expected merged segment, got %d", len(segs))
	}
	if segs[0].Start != 9.5 || segs[0].End != 27.3 {
		t.Errorf("merged span: expected [9.5, 27.3], got [%v, %v]", segs[0].Start, segs[0].End)
	}
}

func TestSegmentBuilder_GapAtMergeThresholdStaysSeparate(t *testing.T) {
	cfg := DefaultBuilderConfig()
	cfg.StartPadding = 0
	cfg.EndPadding = 0

	// Gap of exactly MergeGap (1.5s): the segments stay distinct.
	segs := buildSegments(cfg, 100, [][2]float64{{10, 20}, {21.5, 30}})
	if len(segs) != 2 {
		t.Fatalf("gap equal to the threshold must not merge, got %d segments", len(segs))
	}

	// A hair below the threshold merges.
	segs = buildSegments(cfg, 100, [][2]float64{{10, 20}, {21.4, 30}})
	if len(segs) != 1 {
		t.Fatalf("gap below the threshold must merge, got %d segments", len(segs))
	}
	if segs[0].Start != 10 || segs[0].End != 30 {
		t.Errorf("merged span: expected [10, 30], got [%v, %v]", segs[0].Start, segs[0].End)
	}
}

func TestSegmentBuilder_DistantSegmentsStaySeparate(t *testing.T) {
	cfg := DefaultBuilderConfig()
	segs := buildSegments(cfg, 100, [][2]float64{{10, 20}, {30, 40}})
	if len(segs) != 2 {
		t.Fatalf("expected 2 segments, got %d", len(segs))
	}
}

func TestSegmentBuilder_MinDurationFilter(t *testing.T) {
	cfg := DefaultBuilderConfig()
	cfg.StartPadding = 0
	cfg.EndPadding = 0

	segs := buildSegments(cfg, 100, [][2]float64{{10, 11}, {30, 40}})
	if len(segs) != 1 {
		t.Fatalf("expected the short segment to be dropped, got %d", len(segs))
	}
	if segs[0].Start != 30 {
		t.Errorf("surviving segment: expected start 30, got %v", segs[0].Start)
	}
}

func TestSegmentBuilder_MergedStatsAreDurationWeighted(t *testing.T) {
	cfg := DefaultBuilderConfig()
	cfg.StartPadding = 0
	cfg.EndPadding = 0

	b := NewSegmentBuilder(cfg)
	// 8s rally at confidence 1.0 and a 2s tail at 0.5, 1s apart.
	b.OnBoundary(Boundary{Kind: BoundaryStart, T: 10})
	b.ObserveFrame(RallySignal{T: 10, Confidence: 1.0}, 1, TrackPoint{}, false)
	b.OnBoundary(Boundary{Kind: BoundaryEnd, T: 18})
	b.OnBoundary(Boundary{Kind: BoundaryStart, T: 19})
	b.ObserveFrame(RallySignal{T: 19, Confidence: 0.5}, 1, TrackPoint{}, false)
	b.OnBoundary(Boundary{Kind: BoundaryEnd, T: 21})

	segs := b.Finalize(100)
	if len(segs) != 1 {
		t.Fatalf("expected merged segment, got %d", len(segs))
	}
	// (1.0*8 + 0.5*2) / 10 = 0.9
	if math.Abs(segs[0].Confidence-0.9) > 1e-9 {
		t.Errorf("merged confidence: expected 0.9, got %v", segs[0].Confidence)
	}
	if segs[0].DetectionCount != 2 {
		t.Errorf("merged detections: expected 2, got %d", segs[0].DetectionCount)
	}
}

func TestSegmentBuilder_ContactEstimation(t *testing.T) {
	cfg := DefaultBuilderConfig()
	b := NewSegmentBuilder(cfg)
	b.OnBoundary(Boundary{Kind: BoundaryStart, T: 0})

	// Steady speed, one sharp jump, steady again: exactly one contact.
	speeds := []float64{0.3, 0.3, 0.3, 0.9, 0.9, 0.9}
	for i, s := range speeds {
		tm := float64(i) * 0.5 // spaced beyond ContactMinSeparation
		b.ObserveFrame(RallySignal{T: tm, Confidence: 0.8}, 1, TrackPoint{VX: s, T: tm}, true)
	}
	b.OnBoundary(Boundary{Kind: BoundaryEnd, T: 3})

	segs := b.Finalize(100)
	if len(segs) != 1 {
		t.Fatalf("expected 1 segment, got %d", len(segs))
	}
	if segs[0].Contacts != 1 {
		t.Errorf("expected 1 contact, got %d", segs[0].Contacts)
	}
}

func TestSegmentBuilder_ContactMinSeparation(t *testing.T) {
	cfg := DefaultBuilderConfig()
	cfg.ContactMinSeparation = 10 // effectively one contact max
	b := NewSegmentBuilder(cfg)
	b.OnBoundary(Boundary{Kind: BoundaryStart, T: 0})

	speeds := []float64{0.3, 0.9, 0.3, 0.9, 0.3}
	for i, s := range speeds {
		tm := float64(i) * 0.5
		b.ObserveFrame(RallySignal{T: tm, Confidence: 0.8}, 1, TrackPoint{VX: s, T: tm}, true)
	}
	b.OnBoundary(Boundary{Kind: BoundaryEnd, T: 3})

	segs := b.Finalize(100)
	if len(segs) != 1 {
		t.Fatalf("expected 1 segment, got %d", len(segs))
	}
	if segs[0].Contacts != 1 {
		t.Errorf("separation must suppress repeat contacts, got %d", segs[0].Contacts)
	}
}

func TestSegmentBuilder_IgnoresUnmatchedBoundaries(t *testing.T) {
	b := NewSegmentBuilder(DefaultBuilderConfig())
	b.OnBoundary(Boundary{Kind: BoundaryEnd, T: 5}) // end with nothing open
	b.OnBoundary(Boundary{Kind: BoundaryStart, T: 10})
	b.OnBoundary(Boundary{Kind: BoundaryStart, T: 12}) // double start
	b.OnBoundary(Boundary{Kind: BoundaryEnd, T: 20})

	segs := b.Finalize(100)
	if len(segs) != 1 {
		t.Fatalf("expected 1 segment, got %d", len(segs))
	}
	if segs[0].Start != 10-DefaultBuilderConfig().StartPadding {
		t.Errorf("first start must win, got %v", segs[0].Start)
	}
}

func TestSegmentBuilder_DanglingOpenSegmentClosedAtFinalize(t *testing.T) {
	b := NewSegmentBuilder(DefaultBuilderConfig())
	b.OnBoundary(Boundary{Kind: BoundaryStart, T: 90})
	segs := b.Finalize(100)
	if len(segs) != 1 {
		t.Fatalf("expected dangling segment to close, got %d", len(segs))
	}
	if segs[0].End != 100 {
		t.Errorf("expected close at video end, got %v", segs[0].End)
	}
}

func TestComputeExportStats(t *testing.T) {
	segs := []RallySegment{
		{Start: 0, End: 10},
		{Start: 50, End: 65},
	}
	st := ComputeExportStats(segs, 100)
	if st.SegmentCount != 2 {
		t.Errorf("SegmentCount: expected 2, got %d", st.SegmentCount)
	}
	if st.TotalRallySecs != 25 {
		t.Errorf("TotalRallySecs: expected 25, got %v", st.TotalRallySecs)
	}
	if st.CoveragePercent != 25 {
		t.Errorf("CoveragePercent: expected 25, got %v", st.CoveragePercent)
	}
	if st.CompressionRatio != 4 {
		t.Errorf("CompressionRatio: expected 4, got %v", st.CompressionRatio)
	}
}

func TestComputeExportStats_Empty(t *testing.T) {
	st := ComputeExportStats(nil, 100)
	if st.CoveragePercent != 0 || st.CompressionRatio != 0 {
		t.Errorf("empty stats must be zero, got %+v", st)
	}
}
