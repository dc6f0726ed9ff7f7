//go:build cgo
// +build cgo

package detect

import (
	"image"
	"image/color"
	"testing"

	"gocv.io/x/gocv"

	"github.com/MiFaceDEV/pitchcore/internal/types"
)

func makeTestFrame(withBall bool, cx, cy, radius int) types.Frame {
	mat := gocv.NewMatWithSize(480, 640, gocv.MatTypeCV8UC3)
	if withBall {
		gocv.Circle(&mat, image.Pt(cx, cy), radius, color.RGBA{R: 255, G: 255, B: 255, A: 255}, -1)
	}
	return types.Frame{
		CameraID:   types.Left,
		FrameIndex: 1,
		TCaptureNs: 1_000_000,
		Image:      types.NewImageBuffer(mat),
		Width:      640,
		Height:     480,
	}
}

func TestClassicalDetector_FrameDiffFindsMovingBlob(t *testing.T) {
	d := NewClassicalDetector(DefaultClassicalDetectorConfig())
	defer d.Close()

	empty := makeTestFrame(false, 0, 0, 0)
	defer empty.Image.Release()
	if _, err := d.Detect(empty); err != nil {
		t.Fatalf("first Detect failed: %v", err)
	}

	withBall := makeTestFrame(true, 320, 240, 15)
	defer withBall.Image.Release()
	detections, err := d.Detect(withBall)
	if err != nil {
		t.Fatalf("second Detect failed: %v", err)
	}
	if len(detections) == 0 {
		t.Fatal("expected at least one detection for a newly-appeared blob")
	}

	found := false
	for _, det := range detections {
		if absFloat(det.U-320) < 20 && absFloat(det.V-240) < 20 {
			found = true
		}
	}
	if !found {
		t.Errorf("expected a detection near (320,240), got %+v", detections)
	}
}

func TestClassicalDetector_NoChangeProducesNoDetections(t *testing.T) {
	d := NewClassicalDetector(DefaultClassicalDetectorConfig())
	defer d.Close()

	frame1 := makeTestFrame(false, 0, 0, 0)
	defer frame1.Image.Release()
	if _, err := d.Detect(frame1); err != nil {
		t.Fatalf("first Detect failed: %v", err)
	}

	frame2 := makeTestFrame(false, 0, 0, 0)
	defer frame2.Image.Release()
	detections, err := d.Detect(frame2)
	if err != nil {
		t.Fatalf("second Detect failed: %v", err)
	}
	if len(detections) != 0 {
		t.Errorf("expected no detections on an unchanged frame, got %+v", detections)
	}
}

func TestClassicalDetector_EmptyImageReturnsError(t *testing.T) {
	d := NewClassicalDetector(DefaultClassicalDetectorConfig())
	defer d.Close()

	_, err := d.Detect(types.Frame{})
	if err == nil {
		t.Error("expected an error for an empty frame image")
	}
}

func absFloat(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
