// Package vision is the boundary to the external detector/classifier.
// The core treats both as replaceable collaborators: a Source yields
// per-frame classified regions, and the pipeline never sees image data.
package vision

import (
	"context"
	"errors"
	"time"
)

// ErrNoModel signals that the classifier has no trained model. The
// pipeline degrades to detection-only mode: frames are annotated as
// unrecognized and nothing reaches the ledger.
var ErrNoModel = errors.New("recognizer model not available")

// Point is a position in frame coordinates.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Rect is a detected bounding box in frame coordinates.
type Rect struct {
	X int `json:"x"`
	Y int `json:"y"`
	W int `json:"w"`
	H int `json:"h"`
}

// Center returns the box centre.
func (r Rect) Center() Point {
	return Point{X: float64(r.X) + float64(r.W)/2, Y: float64(r.Y) + float64(r.H)/2}
}

// Detection is one detected region in a frame, with the classifier's
// best candidate. Label is empty when the classifier is absent or
// produced no candidate; Distance is on the classifier's native scale,
// lower meaning more similar.
type Detection struct {
	Label    string  `json:"label"`
	Distance float64 `json:"distance"`
	Center   Point   `json:"center"`
	Quality  float64 `json:"quality"` // [0,1] crop quality; see ScoreQuality
	BBox     Rect    `json:"bbox"`
}

// Frame groups the detections observed in one captured frame.
type Frame struct {
	Timestamp  time.Time   `json:"timestamp"`
	Detections []Detection `json:"detections"`
}

// Source delivers frames strictly in capture order. Next blocks until
// a frame is available or ctx is done; io.EOF-style termination is
// signalled with a non-nil error.
type Source interface {
	Next(ctx context.Context) (Frame, error)
	// Degraded reports whether the source is running without a trained
	// classifier model.
	Degraded() bool
	Close() error
}

// ScoreQuality blends normalised brightness, contrast and sharpness
// measurements of a face crop into a [0,1] score. Brightness is the
// mean pixel value on [0,255]; contrast the pixel standard deviation;
// sharpness an edge-energy proxy on [0,1]. Mid-range brightness scores
// highest, washed-out or dark crops decay linearly.
func ScoreQuality(brightness, contrast, sharpness float64) float64 {
	// Brightness: peak at 128, zero at the extremes.
	b := 1 - abs(brightness-128)/128
	// Contrast: saturates at a stddev of 64.
	c := contrast / 64
	if c > 1 {
		c = 1
	}
	s := sharpness
	if s > 1 {
		s = 1
	}
	if s < 0 {
		s = 0
	}

	q := 0.4*b + 0.3*c + 0.3*s
	if q < 0 {
		return 0
	}
	if q > 1 {
		return 1
	}
	return q
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
