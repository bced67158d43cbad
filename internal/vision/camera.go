//go:build gocv
// +build gocv

package vision

import (
	"context"
	"fmt"
	"image"
	"os"
	"strconv"
	"time"

	"gocv.io/x/gocv"
	"gocv.io/x/gocv/contrib"
)

// faceSize is the edge length face crops are normalised to before
// classification. Must match the size the model was trained on.
const faceSize = 200

// CameraSource captures from a local camera device, detects faces with
// a Haar cascade and classifies crops with an LBPH recognizer. When no
// trained model exists the source runs degraded: detection only, every
// label empty.
type CameraSource struct {
	cap      *gocv.VideoCapture
	cascade  gocv.CascadeClassifier
	rec      contrib.LBPHFaceRecognizer
	degraded bool
	frame    gocv.Mat
	gray     gocv.Mat
}

// NewCameraSource opens the camera device and loads the cascade and,
// when present, the trained recognizer model.
func NewCameraSource(deviceID int, cascadePath, modelPath string) (*CameraSource, error) {
	cap, err := gocv.OpenVideoCapture(deviceID)
	if err != nil {
		return nil, fmt.Errorf("failed to open camera %d: %w", deviceID, err)
	}

	cascade := gocv.NewCascadeClassifier()
	if !cascade.Load(cascadePath) {
		cap.Close()
		cascade.Close()
		return nil, fmt.Errorf("failed to load cascade %q", cascadePath)
	}

	src := &CameraSource{
		cap:     cap,
		cascade: cascade,
		rec:     contrib.NewLBPHFaceRecognizer(),
		frame:   gocv.NewMat(),
		gray:    gocv.NewMat(),
	}

	if _, err := os.Stat(modelPath); err != nil {
		src.degraded = true
	} else {
		src.rec.LoadFile(modelPath)
	}

	return src, nil
}

// Degraded reports whether the source runs without a trained model.
func (s *CameraSource) Degraded() bool { return s.degraded }

// Next captures one frame and returns its classified detections.
func (s *CameraSource) Next(ctx context.Context) (Frame, error) {
	if err := ctx.Err(); err != nil {
		return Frame{}, err
	}

	if ok := s.cap.Read(&s.frame); !ok || s.frame.Empty() {
		return Frame{}, fmt.Errorf("camera read failed")
	}
	now := time.Now()

	gocv.CvtColor(s.frame, &s.gray, gocv.ColorBGRToGray)

	rects := s.cascade.DetectMultiScaleWithParams(
		s.gray, 1.2, 5, 0, image.Pt(30, 30), image.Pt(0, 0))

	out := Frame{Timestamp: now}
	for _, r := range rects {
		crop := s.gray.Region(r)
		det := s.classify(crop, r)
		crop.Close()
		out.Detections = append(out.Detections, det)
	}
	return out, nil
}

// classify normalises a face crop, scores its quality and, unless
// degraded, asks the recognizer for its nearest label.
func (s *CameraSource) classify(crop gocv.Mat, r image.Rectangle) Detection {
	face := gocv.NewMat()
	defer face.Close()
	gocv.Resize(crop, &face, image.Pt(faceSize, faceSize), 0, 0, gocv.InterpolationLinear)
	gocv.EqualizeHist(face, &face)

	det := Detection{
		Center: Point{
			X: float64(r.Min.X) + float64(r.Dx())/2,
			Y: float64(r.Min.Y) + float64(r.Dy())/2,
		},
		BBox:    Rect{X: r.Min.X, Y: r.Min.Y, W: r.Dx(), H: r.Dy()},
		Quality: s.quality(face),
	}

	if s.degraded {
		return det
	}

	resp := s.rec.PredictExtendedResponse(face)
	if resp.Label >= 0 {
		det.Label = strconv.Itoa(int(resp.Label))
		det.Distance = float64(resp.Confidence)
	}
	return det
}

// quality measures brightness, contrast and a Laplacian edge-energy
// proxy on the normalised crop.
func (s *CameraSource) quality(face gocv.Mat) float64 {
	mean := gocv.NewMat()
	stddev := gocv.NewMat()
	defer mean.Close()
	defer stddev.Close()
	gocv.MeanStdDev(face, &mean, &stddev)
	brightness := mean.GetDoubleAt(0, 0)
	contrast := stddev.GetDoubleAt(0, 0)

	lap := gocv.NewMat()
	defer lap.Close()
	gocv.Laplacian(face, &lap, gocv.MatTypeCV64F, 1, 1, 0, gocv.BorderDefault)
	lapMean := gocv.NewMat()
	lapStddev := gocv.NewMat()
	defer lapMean.Close()
	defer lapStddev.Close()
	gocv.MeanStdDev(lap, &lapMean, &lapStddev)
	lapVar := lapStddev.GetDoubleAt(0, 0) * lapStddev.GetDoubleAt(0, 0)

	// Laplacian variance above ~400 is sharp for a 200px face crop.
	sharpness := lapVar / 400

	return ScoreQuality(brightness, contrast, sharpness)
}

// Close releases the camera and OpenCV resources.
func (s *CameraSource) Close() error {
	s.gray.Close()
	s.frame.Close()
	s.cascade.Close()
	return s.cap.Close()
}
