package rally

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// MotionThresholds holds the classification cutoffs for distinguishing
// airborne flight from carried and rolling motion. Units follow the
// normalized coordinate system (positions in [0,1] image units, velocities
// in units/s, accelerations in units/s²).
type MotionThresholds struct {
	// Gravity is the expected downward acceleration in normalized units/s².
	// Screen y grows downward, so free flight shows positive vertical
	// acceleration near this value.
	Gravity          float64
	GravityTolerance float64 // relative tolerance on the gravity match

	MinPoints int // below this the trajectory is indeterminate

	CarriedMaxVerticalAccel float64 // carried motion has |ay| below this
	CarriedSpeedVariance    float64 // and speed variance below this

	RollingMaxVerticalSpeed float64 // rolling motion keeps |vy| below this

	MaxAccelVariance float64 // airborne flight has consistent acceleration
}

// DefaultMotionThresholds returns thresholds tuned for volleyball footage in
// normalized coordinates at typical broadcast framing.
func DefaultMotionThresholds() MotionThresholds {
	return MotionThresholds{
		Gravity:                 0.98,
		GravityTolerance:        0.35,
		MinPoints:               5,
		CarriedMaxVerticalAccel: 0.25,
		CarriedSpeedVariance:    0.01,
		RollingMaxVerticalSpeed: 0.05,
		MaxAccelVariance:        1.5,
	}
}

// MotionStats summarises the kinematics of a point sequence for
// classification and reporting.
type MotionStats struct {
	MeanVerticalAccel float64 // mean ay over the interior points
	AccelVariance     float64 // variance of ay
	MeanSpeed         float64
	SpeedVariance     float64
	MeanVerticalSpeed float64 // mean |vy|
	MeanHorizAccel    float64 // mean ax (signed along initial direction)
	PointCount        int
}

// ComputeMotionStats derives per-point accelerations from consecutive
// velocity estimates and aggregates them. Predicted points are included;
// their velocities come from the same motion model as measured ones.
func ComputeMotionStats(points []TrackPoint) MotionStats {
	st := MotionStats{PointCount: len(points)}
	if len(points) < 2 {
		return st
	}

	speeds := make([]float64, len(points))
	var absVY float64
	for i, p := range points {
		speeds[i] = p.Speed()
		absVY += math.Abs(p.VY)
	}

	var ays, axs []float64
	for i := 1; i < len(points); i++ {
		dt := points[i].T - points[i-1].T
		if dt <= 0 {
			continue
		}
		ays = append(ays, (points[i].VY-points[i-1].VY)/dt)
		axs = append(axs, (points[i].VX-points[i-1].VX)/dt)
	}

	st.MeanSpeed = stat.Mean(speeds, nil)
	st.SpeedVariance = stat.Variance(speeds, nil)
	st.MeanVerticalSpeed = absVY / float64(len(points))
	if len(ays) > 0 {
		st.MeanVerticalAccel = stat.Mean(ays, nil)
		if len(ays) > 1 {
			st.AccelVariance = stat.Variance(ays, nil)
		}
		// Project horizontal acceleration onto the direction of initial
		// horizontal motion so deceleration is negative regardless of
		// travel direction.
		dir := 1.0
		if points[0].VX < 0 {
			dir = -1.0
		}
		st.MeanHorizAccel = dir * stat.Mean(axs, nil)
	}
	return st
}

// ClassifyMovement assigns a motion regime to a point sequence. Rules are
// checked in order: a gravity-consistent vertical acceleration wins over
// everything else, rolling requires a flat path with horizontal
// deceleration, carried requires near-constant velocity. Anything that
// matches none of these is indeterminate.
func ClassifyMovement(points []TrackPoint, th MotionThresholds) (Movement, MotionStats) {
	st := ComputeMotionStats(points)
	if len(points) < th.MinPoints {
		return MovementIndeterminate, st
	}

	gravityErr := math.Abs(st.MeanVerticalAccel-th.Gravity) / th.Gravity
	if gravityErr <= th.GravityTolerance && st.AccelVariance <= th.MaxAccelVariance {
		return MovementAirborne, st
	}

	if st.MeanVerticalSpeed <= th.RollingMaxVerticalSpeed && st.MeanHorizAccel < 0 {
		return MovementRolling, st
	}

	if math.Abs(st.MeanVerticalAccel) <= th.CarriedMaxVerticalAccel &&
		st.SpeedVariance <= th.CarriedSpeedVariance {
		return MovementCarried, st
	}

	return MovementIndeterminate, st
}
