package rally

// RallyState is the decider's hysteresis state.
type RallyState string

const (
	StateIdle      RallyState = "idle"      // no rally
	StateCandidate RallyState = "candidate" // valid frames accumulating toward start
	StateActive    RallyState = "active"    // rally in progress
	StateEnding    RallyState = "ending"    // invalid frames accumulating toward end
)

// DeciderConfig sets the debounce lengths in frames. Start and end debounce
// are independent so entry can be made quick while exit tolerates longer
// detection dropouts.
type DeciderConfig struct {
	StartDebounceFrames int // consecutive valid frames before a rally starts
	EndDebounceFrames   int // consecutive invalid frames before a rally ends
}

// DefaultDeciderConfig returns debounce defaults for 30fps footage: a third
// of a second to confirm a start, a full second to confirm an end.
func DefaultDeciderConfig() DeciderConfig {
	return DeciderConfig{
		StartDebounceFrames: 10,
		EndDebounceFrames:   30,
	}
}

// BoundaryKind marks a boundary event as a rally start or end.
type BoundaryKind string

const (
	BoundaryStart BoundaryKind = "start"
	BoundaryEnd   BoundaryKind = "end"
)

// Boundary is one confirmed rally edge. Start boundaries carry the timestamp
// of the first frame of the confirming valid run, end boundaries the first
// frame of the confirming invalid run, so debounce delay does not shift the
// reported rally edges.
type Boundary struct {
	Kind       BoundaryKind
	T          float64
	Confidence float64 // gate confidence at the boundary frame
}

// RallyDecider converts the per-frame validity signal into debounced rally
// boundaries. One Observe call per frame, in timestamp order.
type RallyDecider struct {
	cfg   DeciderConfig
	state RallyState

	runLength int // length of the current consecutive run
	// Pending boundary captured when the run began. Emitted only if the run
	// reaches the debounce length; discarded if the signal flips back.
	pending Boundary
}

// NewRallyDecider creates a decider in the Idle state.
func NewRallyDecider(cfg DeciderConfig) *RallyDecider {
	return &RallyDecider{cfg: cfg, state: StateIdle}
}

// State returns the current hysteresis state.
func (d *RallyDecider) State() RallyState { return d.state }

// Observe feeds one frame's signal and returns any boundaries confirmed this
// frame. A single frame can confirm at most one boundary.
func (d *RallyDecider) Observe(sig RallySignal) []Boundary {
	switch d.state {
	case StateIdle:
		if sig.Valid {
			d.state = StateCandidate
			d.runLength = 1
			d.pending = Boundary{Kind: BoundaryStart, T: sig.T, Confidence: sig.Confidence}
			return d.maybeConfirmStart()
		}

	case StateCandidate:
		if sig.Valid {
			d.runLength++
			return d.maybeConfirmStart()
		}
		// A single invalid frame resets the candidate run entirely.
		d.state = StateIdle
		d.runLength = 0

	case StateActive:
		if !sig.Valid {
			d.state = StateEnding
			d.runLength = 1
			d.pending = Boundary{Kind: BoundaryEnd, T: sig.T, Confidence: sig.Confidence}
			return d.maybeConfirmEnd()
		}

	case StateEnding:
		if !sig.Valid {
			d.runLength++
			return d.maybeConfirmEnd()
		}
		// The rally resumed; the pending end is discarded.
		d.state = StateActive
		d.runLength = 0
	}
	return nil
}

// Finish flushes the decider at end of input. A rally still open (Active or
// Ending) is closed at the given final timestamp; a Candidate run that never
// reached the debounce length produces nothing.
func (d *RallyDecider) Finish(t float64) []Boundary {
	var out []Boundary
	switch d.state {
	case StateActive:
		out = append(out, Boundary{Kind: BoundaryEnd, T: t})
	case StateEnding:
		// End at the already-captured first invalid frame.
		out = append(out, d.pending)
	}
	d.state = StateIdle
	d.runLength = 0
	return out
}

func (d *RallyDecider) maybeConfirmStart() []Boundary {
	if d.runLength < d.cfg.StartDebounceFrames {
		return nil
	}
	d.state = StateActive
	d.runLength = 0
	return []Boundary{d.pending}
}

func (d *RallyDecider) maybeConfirmEnd() []Boundary {
	if d.runLength < d.cfg.EndDebounceFrames {
		return nil
	}
	d.state = StateIdle
	d.runLength = 0
	return []Boundary{d.pending}
}
