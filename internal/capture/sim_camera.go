package capture

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/MiFaceDEV/pitchcore/internal/config"
	"github.com/MiFaceDEV/pitchcore/internal/types"
)

// SimCamera is a CameraReader backend that synthesizes frames instead of
// reading real hardware, for the --backend sim CLI mode and for tests that
// exercise the capture and detection pipeline without a camera attached.
//
// It does not produce a real gocv.Mat-backed ImageBuffer - callers that
// need pixel data (detection, preview) should use OpenCVCamera. SimCamera
// is for exercising timing, sequencing, and bus wiring.
type SimCamera struct {
	mu sync.Mutex

	cameraID   types.CameraID
	width      int
	height     int
	fps        int
	opened     bool
	frameIndex uint64
	startedAt  time.Time
	stats      Stats

	// ballSpeed (pixels per second along u) drives the synthetic
	// moving-dot trajectory reported by BallPosition; it is not drawn
	// into the frames Read returns.
	ballSpeed float64
}

// NewSimCamera creates a simulated camera reader for the given logical slot.
func NewSimCamera(id types.CameraID) *SimCamera {
	return &SimCamera{cameraID: id, ballSpeed: 600.0}
}

// Open "opens" the simulated camera; always succeeds.
func (c *SimCamera) Open(cfg config.CameraConfig) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.opened {
		return fmt.Errorf("sim camera already opened")
	}

	c.width = cfg.Width
	if c.width <= 0 {
		c.width = 1280
	}
	c.height = cfg.Height
	if c.height <= 0 {
		c.height = 720
	}
	c.fps = cfg.FPS
	if c.fps <= 0 {
		c.fps = 30
	}
	c.opened = true
	c.frameIndex = 0
	c.startedAt = time.Now()
	return nil
}

// Read synthesizes the next frame. It paces itself to roughly 1/fps so a sim
// run behaves like a real capture loop for timing-sensitive tests.
func (c *SimCamera) Read(ctx context.Context, timeout time.Duration) (types.Frame, error) {
	c.mu.Lock()
	if !c.opened {
		c.mu.Unlock()
		return types.Frame{}, fmt.Errorf("sim camera not opened")
	}
	fps := c.fps
	c.mu.Unlock()

	frameInterval := time.Second / time.Duration(fps)
	select {
	case <-time.After(frameInterval):
	case <-ctx.Done():
		c.mu.Lock()
		c.stats.Timeouts++
		c.mu.Unlock()
		return types.Frame{}, ErrReadTimeout
	}

	readCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	select {
	case <-readCtx.Done():
		c.mu.Lock()
		c.stats.Timeouts++
		c.mu.Unlock()
		return types.Frame{}, ErrReadTimeout
	default:
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.frameIndex++
	c.stats.FramesRead++

	frame := types.Frame{
		CameraID:    c.cameraID,
		FrameIndex:  c.frameIndex,
		TCaptureNs:  time.Now().UnixNano(),
		Image:       types.ImageBuffer{},
		Width:       c.width,
		Height:      c.height,
		PixelFormat: types.PixelFormatBGR8,
	}
	return frame, nil
}

// BallPosition returns the synthetic ball center for the given frame index,
// for a test detector that wants to report a moving target.
func (c *SimCamera) BallPosition(frameIndex uint64) (u, v float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := float64(frameIndex) / float64(c.fps)
	u = float64(c.width)/2 + c.ballSpeed*t*math.Cos(0.1)
	v = float64(c.height) / 2
	return u, v
}

// GetStats returns a snapshot of capture statistics.
func (c *SimCamera) GetStats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// Close marks the simulated camera as closed. Idempotent.
func (c *SimCamera) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.opened = false
	return nil
}
