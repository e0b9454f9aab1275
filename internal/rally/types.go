// Package rally implements the detection-to-segment processing pipeline:
// ball tracking over noisy per-frame detections, physics validation of the
// resulting trajectories, and conversion of the per-frame verdict into
// stable rally time segments.
package rally

import "math"

// Detection is one candidate ball sighting in a single frame. Coordinates
// are normalized to [0,1] in image space (y grows downward), as produced by
// the detector.
type Detection struct {
	X          float64 // bounding box center X
	Y          float64 // bounding box center Y
	Width      float64 // bounding box width
	Height     float64 // bounding box height
	Confidence float64 // detector confidence [0,1]
	T          float64 // seconds from video start
}

// TrackPoint is one estimated ball position at a timestamp. Predicted marks
// points synthesised from the motion model during detection gaps.
type TrackPoint struct {
	X, Y       float64
	VX, VY     float64 // estimated velocity, units/s
	T          float64 // seconds from video start
	Confidence float64 // filter confidence [0,1]
	Predicted  bool
}

// Speed returns the velocity magnitude of the point.
func (p TrackPoint) Speed() float64 {
	return math.Hypot(p.VX, p.VY)
}

// Movement is the classified motion regime of a trajectory.
type Movement string

const (
	// MovementAirborne indicates free flight consistent with gravity.
	MovementAirborne Movement = "airborne"
	// MovementCarried indicates near-constant velocity, characteristic of a
	// held or carried object.
	MovementCarried Movement = "carried"
	// MovementRolling indicates near-zero vertical motion with friction-like
	// horizontal deceleration.
	MovementRolling Movement = "rolling"
	// MovementIndeterminate indicates too few points or an inconsistent signal.
	MovementIndeterminate Movement = "indeterminate"
)

// TrajectorySegment is the finalized point sequence of one completed track.
// The tracker creates it when a track closes; the physics gate annotates the
// fit and classification fields. It is read-only afterward.
type TrajectorySegment struct {
	Points []TrackPoint
	StartT float64
	EndT   float64

	// Filled in by the physics gate.
	Fit        QuadraticFit
	FitOK      bool
	Movement   Movement
	Confidence float64
	Quality    float64
}

// Duration returns the segment's time span in seconds.
func (s *TrajectorySegment) Duration() float64 {
	return s.EndT - s.StartT
}

// PathLength returns the summed point-to-point distance of the trajectory
// in normalized units.
func (s *TrajectorySegment) PathLength() float64 {
	var total float64
	for i := 1; i < len(s.Points); i++ {
		total += math.Hypot(s.Points[i].X-s.Points[i-1].X, s.Points[i].Y-s.Points[i-1].Y)
	}
	return total
}

// RallySignal is the per-frame verdict handed from the physics gate to the
// rally decider. Exactly one signal is produced per input frame, in
// timestamp order.
type RallySignal struct {
	FrameIndex int
	T          float64
	Valid      bool    // a valid ball trajectory is currently present
	Confidence float64 // gate confidence for this frame [0,1]
}

// RallySegment is one detected span of active play. Immutable once the
// pipeline finishes; merging replaces two segments with their union.
type RallySegment struct {
	Start float64 // seconds from video start
	End   float64

	Confidence     float64 // duration-weighted mean gate confidence
	Quality        float64 // composite quality score [0,1]
	DetectionCount int     // raw detections observed while active
	AvgTrajLength  float64 // mean path length of trajectories in the segment
	Contacts       int     // estimated ball contacts
}

// Duration returns the segment length in seconds.
func (s RallySegment) Duration() float64 {
	return s.End - s.Start
}

// ProcessingStats holds aggregate counters accumulated monotonically across
// one pipeline run.
type ProcessingStats struct {
	FramesSeen           int
	FramesWithDetections int
	RallyFrames          int // frames spent in the Active or Ending states
	TotalDetections      int
	DetectorFailures     int
	TracksClosed         int
	ValidTrajectories    int

	confidenceSum    float64
	confidenceFrames int
}

// ObserveConfidence accumulates a per-frame gate confidence sample.
func (st *ProcessingStats) ObserveConfidence(c float64) {
	st.confidenceSum += c
	st.confidenceFrames++
}

// AvgConfidence returns the mean per-frame gate confidence over the run.
func (st *ProcessingStats) AvgConfidence() float64 {
	if st.confidenceFrames == 0 {
		return 0
	}
	return st.confidenceSum / float64(st.confidenceFrames)
}
