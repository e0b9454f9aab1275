// Command gen-detlog generates synthetic detection logs (JSONL) for testing
// the pipeline without a video or a detection model. The generated clip
// alternates dead time with rallies of bouncing ballistic arcs.
package main

import (
	"flag"
	"log"
	"math"
	"math/rand"
	"os"

	"github.com/courtside-data/rallycut/internal/detect"
)

func main() {
	output := flag.String("o", "sample.detlog", "output path")
	duration := flag.Float64("duration", 60, "clip length in seconds")
	fps := flag.Float64("fps", 30, "frame rate")
	rallyLen := flag.Float64("rally", 8, "rally length in seconds")
	gapLen := flag.Float64("gap", 12, "dead time between rallies in seconds")
	gravity := flag.Float64("gravity", 0.98, "vertical acceleration, normalized units/s²")
	noise := flag.Float64("noise", 0.002, "detection position noise, normalized units")
	seed := flag.Int64("seed", 1, "random seed")
	flag.Parse()

	f, err := os.Create(*output)
	if err != nil {
		log.Fatalf("gen-detlog: %v", err)
	}
	defer f.Close()

	rng := rand.New(rand.NewSource(*seed))
	lw := detect.NewLogWriter(f)

	period := *rallyLen + *gapLen
	total := int(*duration * *fps)
	written := 0
	for i := 0; i < total; i++ {
		t := float64(i) / *fps
		lf := detect.LogFrame{Frame: i, T: t}

		// Rallies start after an initial gap and repeat with the period.
		phase := math.Mod(t, period)
		if phase >= *gapLen {
			u := math.Mod(phase-*gapLen, 1.0) // 1s arcs chained by bounces
			rel := phase - *gapLen
			g := *gravity
			lf.Detections = []detect.LogDetection{{
				X:          0.1 + 0.08*rel + rng.NormFloat64()*(*noise),
				Y:          0.9 - 0.5*g*u + 0.5*g*u*u + rng.NormFloat64()*(*noise),
				Width:      0.02,
				Height:     0.02,
				Confidence: 0.7 + 0.25*rng.Float64(),
			}}
		}

		if err := lw.Write(lf); err != nil {
			log.Fatalf("gen-detlog: write frame %d: %v", i, err)
		}
		written++
	}
	if err := lw.Flush(); err != nil {
		log.Fatalf("gen-detlog: %v", err)
	}
	log.Printf("wrote %d frames to %s", written, *output)
}
