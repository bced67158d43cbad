//go:build !gocv
// +build !gocv

package vision

import (
	"context"
	"errors"
)

var errNoGocv = errors.New("camera capture requires the gocv build tag")

// CameraSource requires the gocv build tag.
type CameraSource struct{}

// NewCameraSource returns an error when built without the gocv tag.
// Dev and test builds use ScriptedSource instead.
func NewCameraSource(deviceID int, cascadePath, modelPath string) (*CameraSource, error) {
	return nil, errNoGocv
}

func (*CameraSource) Next(ctx context.Context) (Frame, error) { return Frame{}, errNoGocv }
func (*CameraSource) Degraded() bool                          { return true }
func (*CameraSource) Close() error                            { return nil }
