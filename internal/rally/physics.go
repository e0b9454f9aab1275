package rally

import "math"

// GateConfig holds the physics gate's acceptance thresholds and the weights
// of the confidence score components. The weights should sum to 1.
type GateConfig struct {
	MinPointsForFit int
	MinRSquared     float64 // minimum R² on the vertical fit for a valid verdict
	MinConfidence   float64 // minimum composite confidence for a valid verdict
	MaxResidual     float64 // residual RMS above this zeroes the smoothness score

	TrajectoryWeight float64 // fit quality component
	PhysicsWeight    float64 // gravity consistency component
	SmoothnessWeight float64 // residual component
}

// DefaultGateConfig returns gate defaults matched to the default motion
// thresholds.
func DefaultGateConfig() GateConfig {
	return GateConfig{
		MinPointsForFit:  5,
		MinRSquared:      0.80,
		MinConfidence:    0.5,
		MaxResidual:      0.05,
		TrajectoryWeight: 0.4,
		PhysicsWeight:    0.4,
		SmoothnessWeight: 0.2,
	}
}

// Validation is the gate's verdict on one trajectory.
type Validation struct {
	Valid      bool
	Confidence float64 // composite score [0,1]
	Quality    float64 // fit quality component alone [0,1]
	Movement   Movement
	Fit        QuadraticFit // vertical fit y(t)
	FitOK      bool
}

// PhysicsGate decides whether a trajectory is consistent with a ball in
// free flight. It fits vertical position against time (the axis that
// carries the ballistic curvature), classifies the motion regime, and
// scores the result. Horizontal consistency is judged by the classifier's
// velocity statistics rather than a second fit.
type PhysicsGate struct {
	cfg GateConfig
	th  MotionThresholds
}

// NewPhysicsGate creates a gate with the given thresholds.
func NewPhysicsGate(cfg GateConfig, th MotionThresholds) *PhysicsGate {
	return &PhysicsGate{cfg: cfg, th: th}
}

// Validate scores the segment and annotates its fit and classification
// fields. Carried and rolling motion is rejected outright so warm-up
// handling and balls rolled off court never register as play.
func (g *PhysicsGate) Validate(seg *TrajectorySegment) Validation {
	v := g.ValidatePoints(seg.Points)
	seg.Fit = v.Fit
	seg.FitOK = v.FitOK
	seg.Movement = v.Movement
	seg.Confidence = v.Confidence
	seg.Quality = v.Quality
	return v
}

// ValidatePoints runs the gate on a raw point sequence without annotating a
// segment. The pipeline uses it for the per-frame verdict on the still-open
// track.
func (g *PhysicsGate) ValidatePoints(points []TrackPoint) Validation {
	movement, _ := ClassifyMovement(points, g.th)
	v := Validation{Movement: movement}

	if len(points) < g.cfg.MinPointsForFit {
		return v
	}

	ts := make([]float64, len(points))
	ys := make([]float64, len(points))
	for i, p := range points {
		// Fit against elapsed time so the normal equations stay well
		// conditioned for large video timestamps.
		ts[i] = p.T - points[0].T
		ys[i] = p.Y
	}
	fit, ok := FitQuadratic(ts, ys)
	v.Fit = fit
	v.FitOK = ok
	if !ok {
		return v
	}

	v.Quality = clamp01(fit.RSquared)

	// Gravity consistency from the fitted curvature: y = a*t² + ... has
	// vertical acceleration 2a.
	fittedAccel := 2 * fit.A
	gravityErr := math.Abs(fittedAccel-g.th.Gravity) / g.th.Gravity
	physicsScore := clamp01(1 - gravityErr/g.th.GravityTolerance)

	smoothness := clamp01(1 - fit.ResidualRMS/g.cfg.MaxResidual)

	v.Confidence = g.cfg.TrajectoryWeight*v.Quality +
		g.cfg.PhysicsWeight*physicsScore +
		g.cfg.SmoothnessWeight*smoothness

	v.Valid = movement == MovementAirborne &&
		fit.RSquared >= g.cfg.MinRSquared &&
		v.Confidence >= g.cfg.MinConfidence
	return v
}

func clamp01(x float64) float64 {
	if x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}
