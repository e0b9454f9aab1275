package detect

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/courtside-data/rallycut/internal/rally"
)

// LogFrame is one line of a detection log: the detections the model produced
// for one frame. Logs are JSONL, one frame per line, in frame order.
type LogFrame struct {
	Frame      int            `json:"frame"`
	T          float64        `json:"t"`
	Detections []LogDetection `json:"detections,omitempty"`
}

// LogDetection mirrors rally.Detection in its wire form.
type LogDetection struct {
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Width      float64 `json:"w"`
	Height     float64 `json:"h"`
	Confidence float64 `json:"confidence"`
}

// Replay serves a recorded detection log as both the frame source and the
// detector, so pipeline experiments can run without video decoding or
// inference.
type Replay struct {
	frames []LogFrame
	pos    int
}

// LoadReplay reads a JSONL detection log from path.
func LoadReplay(path string) (*Replay, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open detection log: %w", err)
	}
	defer f.Close()
	return ReadReplay(f)
}

// ReadReplay parses a JSONL detection log.
func ReadReplay(r io.Reader) (*Replay, error) {
	var frames []LogFrame
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var lf LogFrame
		if err := json.Unmarshal(raw, &lf); err != nil {
			return nil, fmt.Errorf("detection log line %d: %w", line, err)
		}
		frames = append(frames, lf)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read detection log: %w", err)
	}
	return &Replay{frames: frames}, nil
}

// Next implements rally.FrameSource. Replayed frames carry no image.
func (r *Replay) Next() (rally.Frame, bool, error) {
	if r.pos >= len(r.frames) {
		return rally.Frame{}, false, nil
	}
	lf := r.frames[r.pos]
	r.pos++
	return rally.Frame{Index: lf.Frame, T: lf.T}, true, nil
}

// TotalFrames implements rally.FrameSource.
func (r *Replay) TotalFrames() int { return len(r.frames) }

// Detect implements rally.Detector by looking up the recorded detections for
// the frame's index.
func (r *Replay) Detect(_ context.Context, frame rally.Frame) ([]rally.Detection, error) {
	// Frames replay in order; the cursor has already advanced past this
	// frame, so it is the previous entry. Fall back to a scan if the caller
	// interleaves differently.
	var lf *LogFrame
	if r.pos > 0 && r.frames[r.pos-1].Frame == frame.Index {
		lf = &r.frames[r.pos-1]
	} else {
		for i := range r.frames {
			if r.frames[i].Frame == frame.Index {
				lf = &r.frames[i]
				break
			}
		}
	}
	if lf == nil {
		return nil, nil
	}

	out := make([]rally.Detection, 0, len(lf.Detections))
	for _, d := range lf.Detections {
		out = append(out, rally.Detection{
			X:          d.X,
			Y:          d.Y,
			Width:      d.Width,
			Height:     d.Height,
			Confidence: d.Confidence,
			T:          lf.T,
		})
	}
	return out, nil
}

// LogWriter streams LogFrames to JSONL output.
type LogWriter struct {
	w   *bufio.Writer
	enc *json.Encoder
}

// NewLogWriter wraps w for detection-log writing.
func NewLogWriter(w io.Writer) *LogWriter {
	bw := bufio.NewWriter(w)
	return &LogWriter{w: bw, enc: json.NewEncoder(bw)}
}

// Write appends one frame to the log.
func (lw *LogWriter) Write(frame LogFrame) error {
	return lw.enc.Encode(frame)
}

// Flush flushes buffered log lines.
func (lw *LogWriter) Flush() error {
	return lw.w.Flush()
}
