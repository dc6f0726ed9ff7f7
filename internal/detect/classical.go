//go:build cgo
// +build cgo

package detect

import (
	"fmt"
	"math"

	"gocv.io/x/gocv"

	"github.com/MiFaceDEV/pitchcore/internal/types"
)

// Mode selects the classical detector's background model.
type Mode int

const (
	// ModeFrameDiff flags pixels that changed against the previous frame.
	ModeFrameDiff Mode = iota
	// ModeBackgroundSubtract flags pixels that differ from a running
	// exponential background average.
	ModeBackgroundSubtract
)

// FilterConfig bounds which blobs survive as candidate detections.
type FilterConfig struct {
	MinArea        float64
	MaxArea        float64
	MinCircularity float64
	MaxCircularity float64
}

// ClassicalDetectorConfig tunes the threshold-and-contour detector.
type ClassicalDetectorConfig struct {
	Mode Mode

	// FrameDiffThreshold is the absolute pixel delta, 0-255, above which a
	// pixel is considered changed in ModeFrameDiff.
	FrameDiffThreshold float64
	// BgDiffThreshold is the equivalent threshold for ModeBackgroundSubtract.
	BgDiffThreshold float64
	// BgAlpha is the background model's exponential update rate, 0-1.
	BgAlpha float64

	Filters FilterConfig
}

// DefaultClassicalDetectorConfig returns reasonable defaults for a
// well-lit indoor bullpen.
func DefaultClassicalDetectorConfig() ClassicalDetectorConfig {
	return ClassicalDetectorConfig{
		Mode:               ModeFrameDiff,
		FrameDiffThreshold: 25,
		BgDiffThreshold:    30,
		BgAlpha:            0.02,
		Filters: FilterConfig{
			MinArea:        9,
			MaxArea:        4000,
			MinCircularity: 0.55,
			MaxCircularity: 1.3,
		},
	}
}

// ClassicalDetector finds round, moving blobs via frame-differencing or
// background subtraction followed by contour extraction. It satisfies
// Detector and is stateful per camera: each instance tracks one previous
// frame (or running background) and must not be shared between cameras.
type ClassicalDetector struct {
	cfg ClassicalDetectorConfig

	prevGray gocv.Mat
	bgGray   gocv.Mat
	haveBg   bool
}

// NewClassicalDetector creates a detector with the given tuning.
func NewClassicalDetector(cfg ClassicalDetectorConfig) *ClassicalDetector {
	return &ClassicalDetector{
		cfg:      cfg,
		prevGray: gocv.NewMat(),
		bgGray:   gocv.NewMat(),
	}
}

// Close releases the detector's internal state Mats.
func (d *ClassicalDetector) Close() error {
	d.prevGray.Close()
	d.bgGray.Close()
	return nil
}

// Detect implements Detector.
func (d *ClassicalDetector) Detect(frame types.Frame) ([]types.Detection, error) {
	if frame.Image.Empty() {
		return nil, fmt.Errorf("classical detector: empty frame image")
	}

	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(frame.Image.Mat(), &gray, gocv.ColorBGRToGray)

	mask := gocv.NewMat()
	defer mask.Close()

	switch d.cfg.Mode {
	case ModeBackgroundSubtract:
		d.applyBackgroundSubtract(gray, &mask)
	default:
		d.applyFrameDiff(gray, &mask)
	}

	contours := gocv.FindContours(mask, gocv.RetrievalExternal, gocv.ChainApproxSimple)
	defer contours.Close()

	detections := make([]types.Detection, 0, contours.Size())
	for i := 0; i < contours.Size(); i++ {
		contour := contours.At(i)
		area := gocv.ContourArea(contour)
		if area < d.cfg.Filters.MinArea || area > d.cfg.Filters.MaxArea {
			continue
		}

		center, radius := gocv.MinEnclosingCircle(contour)
		circleArea := math.Pi * float64(radius) * float64(radius)
		if circleArea == 0 {
			continue
		}
		circularity := area / circleArea
		if circularity < d.cfg.Filters.MinCircularity || circularity > d.cfg.Filters.MaxCircularity {
			continue
		}

		detections = append(detections, types.Detection{
			CameraID:   frame.CameraID,
			FrameIndex: frame.FrameIndex,
			TCaptureNs: frame.TCaptureNs,
			U:          float64(center.X),
			V:          float64(center.Y),
			RadiusPx:   float64(radius),
			Confidence: clampUnit(circularity),
		})
	}

	return detections, nil
}

func (d *ClassicalDetector) applyFrameDiff(gray gocv.Mat, mask *gocv.Mat) {
	if d.prevGray.Empty() {
		gray.CopyTo(&d.prevGray)
		*mask = gocv.NewMatWithSize(gray.Rows(), gray.Cols(), gocv.MatTypeCV8U)
		return
	}

	diff := gocv.NewMat()
	defer diff.Close()
	gocv.AbsDiff(gray, d.prevGray, &diff)
	gocv.Threshold(diff, mask, float32(d.cfg.FrameDiffThreshold), 255, gocv.ThresholdBinary)

	gray.CopyTo(&d.prevGray)
}

func (d *ClassicalDetector) applyBackgroundSubtract(gray gocv.Mat, mask *gocv.Mat) {
	if !d.haveBg {
		gray.CopyTo(&d.bgGray)
		d.haveBg = true
		*mask = gocv.NewMatWithSize(gray.Rows(), gray.Cols(), gocv.MatTypeCV8U)
		return
	}

	diff := gocv.NewMat()
	defer diff.Close()
	gocv.AbsDiff(gray, d.bgGray, &diff)
	gocv.Threshold(diff, mask, float32(d.cfg.BgDiffThreshold), 255, gocv.ThresholdBinary)

	// Exponential background update: bg += alpha * (frame - bg).
	grayF := gocv.NewMat()
	defer grayF.Close()
	bgF := gocv.NewMat()
	defer bgF.Close()
	gray.ConvertTo(&grayF, gocv.MatTypeCV32F)
	d.bgGray.ConvertTo(&bgF, gocv.MatTypeCV32F)

	blended := gocv.NewMat()
	defer blended.Close()
	gocv.AddWeighted(bgF, 1-d.cfg.BgAlpha, grayF, d.cfg.BgAlpha, 0, &blended)
	blended.ConvertTo(&d.bgGray, gocv.MatTypeCV8U)
}

func clampUnit(v float64) float64 {
	if v > 1 {
		return 1
	}
	if v < 0 {
		return 0
	}
	return v
}
