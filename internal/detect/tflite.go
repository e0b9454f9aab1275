// Package detect provides the per-frame ball detectors: a TFLite model
// runner for live video and a JSONL replay for offline experiments.
package detect

import (
	"context"
	"fmt"
	"image"
	"os"
	"runtime"
	"sync"

	tflite "github.com/tphakala/go-tflite"

	"github.com/courtside-data/rallycut/internal/monitoring"
	"github.com/courtside-data/rallycut/internal/rally"
)

// valuesPerDetection is the stride of the model's output tensor: center x,
// center y, width, height, confidence, class index.
const valuesPerDetection = 6

// TFLiteConfig configures the ball detection model.
type TFLiteConfig struct {
	ModelPath     string
	MinConfidence float64 // detections below this are dropped
	BallClassID   int     // class index of the ball in the model output
	NumThreads    int     // 0 means all CPUs
}

// TFLiteDetector runs a TFLite object detection model on video frames. It
// implements rally.Detector. The interpreter is single-threaded per
// instance; a mutex serialises Detect calls.
type TFLiteDetector struct {
	cfg         TFLiteConfig
	model       *tflite.Model
	interpreter *tflite.Interpreter

	mu       sync.Mutex
	inputW   int
	inputH   int
	inputBuf []float32
}

// NewTFLiteDetector loads the model at cfg.ModelPath and prepares an
// interpreter for it.
func NewTFLiteDetector(cfg TFLiteConfig) (*TFLiteDetector, error) {
	data, err := os.ReadFile(cfg.ModelPath)
	if err != nil {
		return nil, fmt.Errorf("read model %s: %w", cfg.ModelPath, err)
	}

	model := tflite.NewModel(data)
	if model == nil {
		return nil, fmt.Errorf("cannot load model from %s", cfg.ModelPath)
	}

	threads := cfg.NumThreads
	if threads <= 0 {
		threads = runtime.NumCPU()
	}
	options := tflite.NewInterpreterOptions()
	options.SetNumThread(threads)
	options.SetErrorReporter(func(msg string, userData interface{}) {
		monitoring.Logf("tflite: %s", msg)
	}, nil)

	interpreter := tflite.NewInterpreter(model, options)
	if interpreter == nil {
		model.Delete()
		return nil, fmt.Errorf("cannot create interpreter for %s", cfg.ModelPath)
	}
	if status := interpreter.AllocateTensors(); status != tflite.OK {
		interpreter.Delete()
		model.Delete()
		return nil, fmt.Errorf("tensor allocation failed for %s", cfg.ModelPath)
	}

	input := interpreter.GetInputTensor(0)
	if input == nil || input.NumDims() != 4 {
		interpreter.Delete()
		model.Delete()
		return nil, fmt.Errorf("unexpected input tensor shape in %s", cfg.ModelPath)
	}

	d := &TFLiteDetector{
		cfg:         cfg,
		model:       model,
		interpreter: interpreter,
		// Input layout is NHWC.
		inputH: input.Dim(1),
		inputW: input.Dim(2),
	}
	d.inputBuf = make([]float32, d.inputH*d.inputW*3)

	monitoring.Logf("loaded detection model %s (input %dx%d, %d threads)",
		cfg.ModelPath, d.inputW, d.inputH, threads)
	return d, nil
}

// Detect runs the model on one frame and returns ball detections in
// normalized coordinates.
func (d *TFLiteDetector) Detect(ctx context.Context, frame rally.Frame) ([]rally.Detection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if frame.Image == nil {
		return nil, fmt.Errorf("frame %d has no image", frame.Index)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.fillInput(frame.Image)

	input := d.interpreter.GetInputTensor(0)
	if input == nil {
		return nil, fmt.Errorf("cannot get input tensor")
	}
	copy(input.Float32s(), d.inputBuf)

	if status := d.interpreter.Invoke(); status != tflite.OK {
		return nil, fmt.Errorf("inference failed on frame %d", frame.Index)
	}

	output := d.interpreter.GetOutputTensor(0)
	if output == nil {
		return nil, fmt.Errorf("cannot get output tensor")
	}
	raw := output.Float32s()

	return d.parseDetections(raw, frame.T), nil
}

// Close releases the interpreter and model.
func (d *TFLiteDetector) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.interpreter != nil {
		d.interpreter.Delete()
		d.interpreter = nil
	}
	if d.model != nil {
		d.model.Delete()
		d.model = nil
	}
}

// fillInput resamples the frame image into the model's input resolution with
// nearest-neighbour sampling, RGB float32 in [0,1].
func (d *TFLiteDetector) fillInput(img image.Image) {
	bounds := img.Bounds()
	srcW, srcH := bounds.Dx(), bounds.Dy()

	i := 0
	for y := 0; y < d.inputH; y++ {
		sy := bounds.Min.Y + y*srcH/d.inputH
		for x := 0; x < d.inputW; x++ {
			sx := bounds.Min.X + x*srcW/d.inputW
			r, g, b, _ := img.At(sx, sy).RGBA()
			d.inputBuf[i] = float32(r) / 65535.0
			d.inputBuf[i+1] = float32(g) / 65535.0
			d.inputBuf[i+2] = float32(b) / 65535.0
			i += 3
		}
	}
}

// parseDetections decodes the output tensor. Each detection is six values:
// normalized center x/y, width/height, confidence, class index.
func (d *TFLiteDetector) parseDetections(raw []float32, t float64) []rally.Detection {
	var out []rally.Detection
	for i := 0; i+valuesPerDetection <= len(raw); i += valuesPerDetection {
		conf := float64(raw[i+4])
		if conf < d.cfg.MinConfidence {
			continue
		}
		if int(raw[i+5]) != d.cfg.BallClassID {
			continue
		}
		out = append(out, rally.Detection{
			X:          float64(raw[i]),
			Y:          float64(raw[i+1]),
			Width:      float64(raw[i+2]),
			Height:     float64(raw[i+3]),
			Confidence: conf,
			T:          t,
		})
	}
	return out
}
