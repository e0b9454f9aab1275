// Package video decodes video files into pipeline frames using OpenCV.
package video

import (
	"fmt"

	"gocv.io/x/gocv"

	"github.com/courtside-data/rallycut/internal/rally"
)

// fallbackFPS is used when the container reports no frame rate.
const fallbackFPS = 30.0

// Source reads frames from a video file in presentation order. It implements
// rally.FrameSource. Not safe for concurrent use.
type Source struct {
	cap   *gocv.VideoCapture
	mat   gocv.Mat
	fps   float64
	total int
	index int
}

// Open opens the video file at path.
func Open(path string) (*Source, error) {
	cap, err := gocv.VideoCaptureFile(path)
	if err != nil {
		return nil, fmt.Errorf("open video %s: %w", path, err)
	}

	fps := cap.Get(gocv.VideoCaptureFPS)
	if fps <= 0 {
		fps = fallbackFPS
	}

	return &Source{
		cap:   cap,
		mat:   gocv.NewMat(),
		fps:   fps,
		total: int(cap.Get(gocv.VideoCaptureFrameCount)),
	}, nil
}

// FPS returns the container frame rate.
func (s *Source) FPS() float64 { return s.fps }

// TotalFrames returns the container frame count, or 0 when unknown.
func (s *Source) TotalFrames() int {
	if s.total < 0 {
		return 0
	}
	return s.total
}

// Duration returns the video length in seconds derived from the frame count.
func (s *Source) Duration() float64 {
	return float64(s.TotalFrames()) / s.fps
}

// Next decodes the next frame. It returns ok=false at end of stream.
func (s *Source) Next() (rally.Frame, bool, error) {
	if !s.cap.Read(&s.mat) {
		return rally.Frame{}, false, nil
	}
	if s.mat.Empty() {
		return rally.Frame{}, false, nil
	}

	img, err := s.mat.ToImage()
	if err != nil {
		return rally.Frame{}, false, fmt.Errorf("convert frame %d: %w", s.index, err)
	}

	frame := rally.Frame{
		Index: s.index,
		T:     float64(s.index) / s.fps,
		Image: img,
	}
	s.index++
	return frame, true, nil
}

// Close releases the decoder resources.
func (s *Source) Close() error {
	if err := s.mat.Close(); err != nil {
		return err
	}
	return s.cap.Close()
}
