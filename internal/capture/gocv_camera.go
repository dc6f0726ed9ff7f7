//go:build cgo
// +build cgo

package capture

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"gocv.io/x/gocv"

	"github.com/MiFaceDEV/pitchcore/internal/config"
	"github.com/MiFaceDEV/pitchcore/internal/types"
)

const (
	// fourccMJPEG is the FourCC code for Motion JPEG codec.
	// MJPEG is widely supported by USB webcams and provides good compression.
	// FourCC codes are 4-byte identifiers: 'MJPG' = 0x47504A4D
	fourccMJPEG = 0x47504A4D
)

// OpenCVCamera implements CameraReader using OpenCV via GoCV.
//
// Implementation notes:
// - Uses V4L2 backend on Linux to avoid GStreamer "Internal data stream error"
// - Sets MJPEG codec explicitly for maximum USB webcam compatibility
// - Supports 180-degree flip for cameras mounted upside down
// - Thread-safe: mu protects all fields and camera operations
type OpenCVCamera struct {
	mu sync.Mutex // Use Mutex instead of RWMutex - all ops modify state

	cameraID types.CameraID
	deviceID int
	width    int
	height   int
	fps      int
	flip180  bool

	webcam *gocv.VideoCapture
	opened bool

	frameIndex uint64
	stats      Stats

	consecutiveErrs atomic.Int32
}

// NewOpenCVCamera creates a new OpenCV-based camera reader for the given
// logical camera slot (Left or Right).
func NewOpenCVCamera(id types.CameraID) *OpenCVCamera {
	return &OpenCVCamera{cameraID: id}
}

// Open initializes the camera with the given configuration, retrying with
// exponential backoff.
func (c *OpenCVCamera) Open(cfg config.CameraConfig) error {
	return retryOpen(func(ctx context.Context) error {
		return c.openOnce(cfg)
	}, 3)
}

func (c *OpenCVCamera) openOnce(cfg config.CameraConfig) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.opened {
		return fmt.Errorf("camera already opened")
	}

	// Open video capture device with V4L2 backend (Linux)
	// This avoids GStreamer issues and provides better compatibility
	webcam, err := gocv.OpenVideoCaptureWithAPI(cfg.DeviceID, gocv.VideoCaptureV4L2)
	if err != nil {
		return fmt.Errorf("failed to open camera device %d: %w", cfg.DeviceID, err)
	}

	if !webcam.IsOpened() {
		webcam.Close()
		return fmt.Errorf("camera device %d not found or unavailable", cfg.DeviceID)
	}

	// Set MJPEG codec for better compatibility with USB webcams
	webcam.Set(gocv.VideoCaptureFOURCC, fourccMJPEG)

	if cfg.Width > 0 {
		webcam.Set(gocv.VideoCaptureFrameWidth, float64(cfg.Width))
	}
	if cfg.Height > 0 {
		webcam.Set(gocv.VideoCaptureFrameHeight, float64(cfg.Height))
	}
	if cfg.FPS > 0 {
		webcam.Set(gocv.VideoCaptureFPS, float64(cfg.FPS))
	}
	if cfg.ExposureUs > 0 {
		webcam.Set(gocv.VideoCaptureExposure, float64(cfg.ExposureUs))
	}
	if cfg.Gain > 0 {
		webcam.Set(gocv.VideoCaptureGain, cfg.Gain)
	}

	actualWidth := webcam.Get(gocv.VideoCaptureFrameWidth)
	actualHeight := webcam.Get(gocv.VideoCaptureFrameHeight)
	actualFPS := webcam.Get(gocv.VideoCaptureFPS)

	c.deviceID = cfg.DeviceID
	c.width = int(actualWidth)
	c.height = int(actualHeight)
	c.fps = int(actualFPS)
	c.flip180 = cfg.Flip180
	c.webcam = webcam
	c.opened = true
	c.frameIndex = 0

	// Warm up camera - read and discard first frame.
	// Some cameras need a moment to initialize.
	warmupMat := gocv.NewMat()
	c.webcam.Read(&warmupMat)
	warmupMat.Close()

	return nil
}

// Read captures a single frame from the camera, within timeout.
func (c *OpenCVCamera) Read(ctx context.Context, timeout time.Duration) (types.Frame, error) {
	readCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		frame types.Frame
		err   error
	}
	resultCh := make(chan result, 1)

	go func() {
		frame, err := c.readOnce()
		resultCh <- result{frame, err}
	}()

	select {
	case r := <-resultCh:
		c.recordOutcome(r.err)
		return r.frame, r.err
	case <-readCtx.Done():
		c.mu.Lock()
		c.stats.Timeouts++
		c.mu.Unlock()
		return types.Frame{}, ErrReadTimeout
	}
}

func (c *OpenCVCamera) recordOutcome(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.stats.Errors++
		return
	}
	c.stats.FramesRead++
}

func (c *OpenCVCamera) readOnce() (types.Frame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.opened {
		return types.Frame{}, fmt.Errorf("camera not opened")
	}

	mat := gocv.NewMat()
	if ok := c.webcam.Read(&mat); !ok {
		mat.Close()
		return types.Frame{}, fmt.Errorf("failed to read frame from camera")
	}
	if mat.Empty() {
		mat.Close()
		return types.Frame{}, fmt.Errorf("captured frame is empty")
	}

	if c.flip180 {
		gocv.Flip(mat, &mat, -1) //nolint:errcheck // gocv.Flip doesn't return error
	}

	width := mat.Cols()
	height := mat.Rows()
	if err := validateFrame(width, height, isAllZero(mat)); err != nil {
		mat.Close()
		c.stats.RejectedInvalid++
		return types.Frame{}, err
	}

	c.frameIndex++
	frame := types.Frame{
		CameraID:    c.cameraID,
		FrameIndex:  c.frameIndex,
		TCaptureNs:  time.Now().UnixNano(),
		Image:       types.NewImageBuffer(mat),
		Width:       width,
		Height:      height,
		PixelFormat: types.PixelFormatBGR8,
	}
	return frame, nil
}

// isAllZero is a best-effort check that the captured frame is not entirely
// black/empty, guarding against a camera that reports success but delivers
// a dead buffer.
func isAllZero(mat gocv.Mat) bool {
	sum := mat.Sum()
	return sum.Val1 == 0 && sum.Val2 == 0 && sum.Val3 == 0 && sum.Val4 == 0
}

// GetStats returns a snapshot of capture statistics.
func (c *OpenCVCamera) GetStats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// Close releases camera resources. Idempotent.
func (c *OpenCVCamera) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.opened {
		return nil
	}

	if c.webcam != nil {
		if err := c.webcam.Close(); err != nil {
			c.opened = false
			return fmt.Errorf("closing webcam: %w", err)
		}
	}

	c.opened = false
	return nil
}

// GetActualResolution returns the actual configured resolution.
func (c *OpenCVCamera) GetActualResolution() (width, height int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.width, c.height
}

// GetActualFPS returns the actual configured frame rate.
func (c *OpenCVCamera) GetActualFPS() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fps
}

// EnumerateCameras attempts to detect available camera devices.
// Returns a list of device IDs that can be opened. Best-effort.
func EnumerateCameras(maxDevices int) []int {
	var devices []int

	if maxDevices <= 0 {
		maxDevices = 10
	}

	for i := 0; i < maxDevices; i++ {
		cam, err := gocv.OpenVideoCaptureWithAPI(i, gocv.VideoCaptureV4L2)
		if err != nil {
			continue
		}
		if cam.IsOpened() {
			devices = append(devices, i)
		}
		cam.Close()
	}

	return devices
}
