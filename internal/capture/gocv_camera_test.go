//go:build cgo
// +build cgo

package capture

import (
	"context"
	"testing"
	"time"

	"github.com/MiFaceDEV/pitchcore/internal/config"
	"github.com/MiFaceDEV/pitchcore/internal/types"
)

func testCameraConfig() config.CameraConfig {
	return config.CameraConfig{DeviceID: 0, Width: 640, Height: 480, FPS: 30}
}

func TestOpenCVCamera_Open(t *testing.T) {
	camera := NewOpenCVCamera(types.Left)

	err := camera.Open(testCameraConfig())
	if err != nil {
		t.Skipf("Skipping test: no camera available: %v", err)
	}
	defer camera.Close()

	width, height := camera.GetActualResolution()
	if width <= 0 || height <= 0 {
		t.Errorf("Invalid resolution: %dx%d", width, height)
	}

	fps := camera.GetActualFPS()
	if fps <= 0 {
		t.Errorf("Invalid FPS: %d", fps)
	}
}

func TestOpenCVCamera_Read(t *testing.T) {
	camera := NewOpenCVCamera(types.Left)

	err := camera.Open(testCameraConfig())
	if err != nil {
		t.Skipf("Skipping test: no camera available: %v", err)
	}
	defer camera.Close()

	var frame types.Frame
	var readErr error
	maxRetries := 5
	for i := 0; i < maxRetries; i++ {
		time.Sleep(100 * time.Millisecond)
		frame, readErr = camera.Read(context.Background(), 200*time.Millisecond)
		if readErr == nil {
			break
		}
	}
	if readErr != nil {
		t.Fatalf("Failed to read frame after %d attempts: %v", maxRetries, readErr)
	}

	if frame.Width <= 0 || frame.Height <= 0 {
		t.Errorf("Invalid frame dimensions: %dx%d", frame.Width, frame.Height)
	}
	if frame.CameraID != types.Left {
		t.Errorf("expected camera id Left, got %v", frame.CameraID)
	}
	frame.Image.Release()
}

func TestOpenCVCamera_DoubleOpen(t *testing.T) {
	camera := NewOpenCVCamera(types.Left)

	err := camera.Open(testCameraConfig())
	if err != nil {
		t.Skipf("Skipping test: no camera available: %v", err)
	}
	defer camera.Close()

	err = camera.openOnce(testCameraConfig())
	if err == nil {
		t.Error("Expected error when opening already opened camera")
	}
}

func TestOpenCVCamera_ReadWithoutOpen(t *testing.T) {
	camera := NewOpenCVCamera(types.Left)

	_, err := camera.Read(context.Background(), 200*time.Millisecond)
	if err == nil {
		t.Error("Expected error when reading from unopened camera")
	}
}

func TestOpenCVCamera_Close(t *testing.T) {
	camera := NewOpenCVCamera(types.Left)

	err := camera.Open(testCameraConfig())
	if err != nil {
		t.Skipf("Skipping test: no camera available: %v", err)
	}

	if err := camera.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
	if err := camera.Close(); err != nil {
		t.Errorf("Second close failed: %v", err)
	}
}

func TestEnumerateCameras(t *testing.T) {
	devices := EnumerateCameras(5)
	t.Logf("Found %d camera device(s): %v", len(devices), devices)
}

func BenchmarkOpenCVCamera_Read(b *testing.B) {
	camera := NewOpenCVCamera(types.Left)

	err := camera.Open(testCameraConfig())
	if err != nil {
		b.Skipf("Skipping benchmark: no camera available: %v", err)
	}
	defer camera.Close()

	frame, err := camera.Read(context.Background(), 200*time.Millisecond)
	if err == nil {
		frame.Image.Release()
	}
	time.Sleep(100 * time.Millisecond)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		frame, err := camera.Read(context.Background(), 200*time.Millisecond)
		if err != nil {
			b.Fatalf("Read failed: %v", err)
		}
		frame.Image.Release()
	}
}
