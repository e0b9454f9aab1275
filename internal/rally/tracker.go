package rally

import (
	"math"

	"github.com/courtside-data/rallycut/internal/monitoring"
)

// TrackPhase represents the lifecycle state of the single active track.
type TrackPhase string

const (
	TrackEmpty    TrackPhase = "empty"    // No active track
	TrackTracking TrackPhase = "tracking" // Track updated by a detection this frame
	TrackLost     TrackPhase = "lost"     // Track coasting on predictions
)

// Tracker filter constants
const (
	// trackerMinDeterminant is the minimum determinant for innovation
	// covariance inversion.
	trackerMinDeterminant = 1e-12
	// nominalFrameInterval is the dt assumed for the first frame of a track
	// and for non-increasing timestamps.
	nominalFrameInterval = 1.0 / 30.0
	// initialPositionVariance / initialVelocityVariance seed the covariance
	// for a freshly acquired track.
	initialPositionVariance = 0.01
	initialVelocityVariance = 1.0
)

// TrackerConfig holds tuning parameters for the ball tracker. Distances are
// in normalized image units.
type TrackerConfig struct {
	ProcessNoisePos  float64 // Position process noise (σ²)
	ProcessNoiseVel  float64 // Velocity process noise (σ²)
	MeasurementNoise float64 // Measurement noise (σ²)

	// Gating: a detection is associated only when its distance to the
	// prediction is below BaseGateRadius + GateVelocityScale*speed*dt.
	BaseGateRadius    float64
	GateVelocityScale float64

	MaxMissedFrames        int     // consecutive misses before the track closes
	MinDetectionConfidence float64 // minimum confidence to seed a new track
	ConfidenceDecay        float64 // per-frame filter confidence decay
	ConfidenceBoost        float64 // confidence added on a real detection
	MinSegmentPoints       int     // minimum points for an emitted segment
}

// DefaultTrackerConfig returns tracker defaults tuned for 30fps volleyball
// footage with normalized coordinates.
func DefaultTrackerConfig() TrackerConfig {
	return TrackerConfig{
		ProcessNoisePos:        0.0005,
		ProcessNoiseVel:        0.01,
		MeasurementNoise:       0.001,
		BaseGateRadius:         0.08,
		GateVelocityScale:      2.0,
		MaxMissedFrames:        8,
		MinDetectionConfidence: 0.3,
		ConfidenceDecay:        0.95,
		ConfidenceBoost:        0.1,
		MinSegmentPoints:       4,
	}
}

// BallTracker maintains at most one active ball track, reflecting the
// single-ball assumption: simultaneous detections compete for the one track
// by proximity to the prediction and confidence; they never spawn parallel
// tracks.
//
// The filter is a constant-velocity Kalman filter over state [x y vx vy]
// with position-only measurements.
type BallTracker struct {
	cfg   TrackerConfig
	phase TrackPhase

	// Kalman state and covariance (4x4, row-major).
	x, y, vx, vy float64
	p            [16]float64

	confidence float64
	misses     int
	lastT      float64
	points     []TrackPoint
}

// NewBallTracker creates a tracker in the Empty phase.
func NewBallTracker(cfg TrackerConfig) *BallTracker {
	return &BallTracker{cfg: cfg, phase: TrackEmpty}
}

// Phase returns the current track lifecycle phase.
func (bt *BallTracker) Phase() TrackPhase { return bt.phase }

// ActivePoints returns the point sequence of the active track, or nil when
// no track is active. The returned slice is shared; callers must not mutate it.
func (bt *BallTracker) ActivePoints() []TrackPoint {
	if bt.phase == TrackEmpty {
		return nil
	}
	return bt.points
}

// Observe advances the tracker by one frame. It returns the track point
// estimated for this frame (present=false when no track is active after the
// frame) and, when the active track closes this frame, the completed
// trajectory segment.
func (bt *BallTracker) Observe(t float64, detections []Detection) (point TrackPoint, present bool, closed *TrajectorySegment) {
	if bt.phase == TrackEmpty {
		det, ok := bt.bestSeed(detections)
		if !ok {
			return TrackPoint{}, false, nil
		}
		bt.acquire(det, t)
		return bt.points[len(bt.points)-1], true, nil
	}

	dt := t - bt.lastT
	if dt <= 0 {
		dt = nominalFrameInterval
	}
	bt.predict(dt)
	bt.lastT = t

	if det, ok := bt.associate(detections, dt); ok {
		bt.update(det)
		bt.misses = 0
		bt.phase = TrackTracking
		bt.confidence = math.Min(1.0, bt.confidence*bt.cfg.ConfidenceDecay+bt.cfg.ConfidenceBoost)
		bt.appendPoint(t, false)
		return bt.points[len(bt.points)-1], true, nil
	}

	// No detection within the gate: coast on the prediction and age the track.
	bt.misses++
	bt.phase = TrackLost
	bt.confidence *= bt.cfg.ConfidenceDecay
	bt.appendPoint(t, true)

	if bt.misses >= bt.cfg.MaxMissedFrames {
		seg := bt.close()
		return TrackPoint{}, false, seg
	}
	return bt.points[len(bt.points)-1], true, nil
}

// Flush closes any active track, returning its segment if it has enough
// measured points. Call once after the final frame.
func (bt *BallTracker) Flush() *TrajectorySegment {
	if bt.phase == TrackEmpty {
		return nil
	}
	return bt.close()
}

// bestSeed picks the highest-confidence detection eligible to start a track.
func (bt *BallTracker) bestSeed(detections []Detection) (Detection, bool) {
	var best Detection
	found := false
	for _, d := range detections {
		if d.Confidence < bt.cfg.MinDetectionConfidence {
			continue
		}
		if !found || d.Confidence > best.Confidence {
			best = d
			found = true
		}
	}
	return best, found
}

// acquire initialises the filter from a seed detection.
func (bt *BallTracker) acquire(det Detection, t float64) {
	bt.x, bt.y = det.X, det.Y
	bt.vx, bt.vy = 0, 0
	bt.p = [16]float64{
		initialPositionVariance, 0, 0, 0,
		0, initialPositionVariance, 0, 0,
		0, 0, initialVelocityVariance, 0,
		0, 0, 0, initialVelocityVariance,
	}
	bt.confidence = det.Confidence
	bt.misses = 0
	bt.lastT = t
	bt.phase = TrackTracking
	bt.points = bt.points[:0]
	bt.appendPoint(t, false)
}

// associate selects the detection nearest the prediction within the gating
// distance. The gate scales with the track's recent speed and elapsed time
// so fast motion is not starved of candidates. Ties between close
// candidates are broken toward higher detector confidence.
func (bt *BallTracker) associate(detections []Detection, dt float64) (Detection, bool) {
	gate := bt.cfg.BaseGateRadius + bt.cfg.GateVelocityScale*math.Hypot(bt.vx, bt.vy)*dt

	var best Detection
	bestScore := math.MaxFloat64
	found := false
	for _, d := range detections {
		dist := math.Hypot(d.X-bt.x, d.Y-bt.y)
		if dist > gate {
			continue
		}
		// Small confidence bonus so a confident detection wins a near-tie.
		score := dist - 0.01*d.Confidence
		if score < bestScore {
			bestScore = score
			best = d
			found = true
		}
	}
	return best, found
}

// predict applies the constant-velocity prediction step.
func (bt *BallTracker) predict(dt float64) {
	// State transition F for constant velocity:
	// F = [1 0 dt 0; 0 1 0 dt; 0 0 1 0; 0 0 0 1]
	bt.x += bt.vx * dt
	bt.y += bt.vy * dt

	// P' = F*P*Fᵀ + Q, computed directly.
	P := bt.p
	var fp [16]float64
	for j := 0; j < 4; j++ {
		fp[0*4+j] = P[0*4+j] + dt*P[2*4+j]
		fp[1*4+j] = P[1*4+j] + dt*P[3*4+j]
		fp[2*4+j] = P[2*4+j]
		fp[3*4+j] = P[3*4+j]
	}
	for i := 0; i < 4; i++ {
		bt.p[i*4+0] = fp[i*4+0] + dt*fp[i*4+2]
		bt.p[i*4+1] = fp[i*4+1] + dt*fp[i*4+3]
		bt.p[i*4+2] = fp[i*4+2]
		bt.p[i*4+3] = fp[i*4+3]
	}

	bt.p[0*4+0] += bt.cfg.ProcessNoisePos
	bt.p[1*4+1] += bt.cfg.ProcessNoisePos
	bt.p[2*4+2] += bt.cfg.ProcessNoiseVel
	bt.p[3*4+3] += bt.cfg.ProcessNoiseVel
}

// update applies the Kalman update with a matched detection. The gain blends
// prediction and measurement according to the filter's current uncertainty.
func (bt *BallTracker) update(det Detection) {
	yX := det.X - bt.x
	yY := det.Y - bt.y

	// Innovation covariance S = H*P*Hᵀ + R with H extracting position.
	s00 := bt.p[0*4+0] + bt.cfg.MeasurementNoise
	s01 := bt.p[0*4+1]
	s10 := bt.p[1*4+0]
	s11 := bt.p[1*4+1] + bt.cfg.MeasurementNoise

	det2 := s00*s11 - s01*s10
	if det2 < trackerMinDeterminant {
		monitoring.Logf("tracker: singular innovation covariance, skipping update")
		return
	}
	invS00 := s11 / det2
	invS01 := -s01 / det2
	invS10 := -s10 / det2
	invS11 := s00 / det2

	// Kalman gain K = P*Hᵀ*S⁻¹ (4x2).
	var k [8]float64
	for i := 0; i < 4; i++ {
		k[i*2+0] = bt.p[i*4+0]*invS00 + bt.p[i*4+1]*invS10
		k[i*2+1] = bt.p[i*4+0]*invS01 + bt.p[i*4+1]*invS11
	}

	bt.x += k[0*2+0]*yX + k[0*2+1]*yY
	bt.y += k[1*2+0]*yX + k[1*2+1]*yY
	bt.vx += k[2*2+0]*yX + k[2*2+1]*yY
	bt.vy += k[3*2+0]*yX + k[3*2+1]*yY

	// P' = (I - K*H) * P. K*H only has entries in the first two columns.
	var ikh [16]float64
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			identity := 0.0
			if i == j {
				identity = 1
			}
			var kh float64
			switch j {
			case 0:
				kh = k[i*2+0]
			case 1:
				kh = k[i*2+1]
			}
			ikh[i*4+j] = identity - kh
		}
	}
	var newP [16]float64
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			var sum float64
			for kk := 0; kk < 4; kk++ {
				sum += ikh[i*4+kk] * bt.p[kk*4+j]
			}
			newP[i*4+j] = sum
		}
	}
	bt.p = newP
}

func (bt *BallTracker) appendPoint(t float64, predicted bool) {
	bt.points = append(bt.points, TrackPoint{
		X:          bt.x,
		Y:          bt.y,
		VX:         bt.vx,
		VY:         bt.vy,
		T:          t,
		Confidence: bt.confidence,
		Predicted:  predicted,
	})
}

// close ends the active track and emits its segment. Trailing predicted
// points are trimmed so the segment ends at the last real measurement.
// Tracking restarts fresh from Empty on the next detection.
func (bt *BallTracker) close() *TrajectorySegment {
	pts := bt.points
	for len(pts) > 0 && pts[len(pts)-1].Predicted {
		pts = pts[:len(pts)-1]
	}

	bt.phase = TrackEmpty
	bt.misses = 0
	bt.points = nil

	if len(pts) < bt.cfg.MinSegmentPoints {
		return nil
	}
	out := make([]TrackPoint, len(pts))
	copy(out, pts)
	return &TrajectorySegment{
		Points: out,
		StartT: out[0].T,
		EndT:   out[len(out)-1].T,
	}
}
