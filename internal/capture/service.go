package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/MiFaceDEV/pitchcore/internal/bus"
	"github.com/MiFaceDEV/pitchcore/internal/config"
	"github.com/MiFaceDEV/pitchcore/internal/logging"
	"github.com/MiFaceDEV/pitchcore/internal/types"
)

// readTimeout bounds each per-frame Read call.
const readTimeout = 200 * time.Millisecond

// consecutiveErrThreshold is the number of back-to-back non-timeout read
// errors that trigger an Error event.
const consecutiveErrThreshold = 10

// ReaderFactory builds a CameraReader for a logical camera slot. The
// capture service calls it once per camera at Start, which lets callers
// choose the gocv, sim, or any future backend without the service knowing
// about build tags.
type ReaderFactory func(id types.CameraID) CameraReader

// Service is the capture service: it owns one CameraReader per camera,
// runs a capture loop goroutine for each, and publishes FrameCaptured on
// the shared bus. Both cameras' lifecycles are started and stopped
// together.
type Service struct {
	bus    *bus.Bus
	logger *logging.Logger
	newCam ReaderFactory

	mu       sync.Mutex
	running  bool
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	left     CameraReader
	right    CameraReader
	latest   map[types.CameraID]types.Frame
}

// NewService creates a capture service publishing onto b, using newCam to
// construct each camera's reader backend.
func NewService(b *bus.Bus, logger *logging.Logger, newCam ReaderFactory) *Service {
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{
		bus:    b,
		logger: logger,
		newCam: newCam,
		latest: make(map[types.CameraID]types.Frame),
	}
}

// Start opens both cameras and spawns their capture loops. Never blocks
// past camera-open (each open is itself bounded by retryOpen/withTimeout).
func (s *Service) Start(cfg config.CameraPairConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("capture service already running")
	}

	left := s.newCam(types.Left)
	if err := left.Open(cfg.Left); err != nil {
		return fmt.Errorf("opening left camera: %w", err)
	}
	right := s.newCam(types.Right)
	if err := right.Open(cfg.Right); err != nil {
		left.Close()
		return fmt.Errorf("opening right camera: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.left = left
	s.right = right
	s.running = true

	s.wg.Add(2)
	go s.captureLoop(ctx, types.Left, left)
	go s.captureLoop(ctx, types.Right, right)

	return nil
}

// Stop signals both capture loops, waits up to 1s for them to exit, and
// closes both cameras. Idempotent and best-effort.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	cancel := s.cancel
	left, right := s.left, s.right
	s.running = false
	s.mu.Unlock()

	cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(1 * time.Second):
		s.logger.Printf("capture: stop timed out waiting for capture loops to exit")
	}

	if left != nil {
		left.Close()
	}
	if right != nil {
		right.Close()
	}
}

// GetPreviewFrames returns the latest frame seen from each camera, without
// blocking. The returned frames' ImageBuffers are retained; callers must
// Release them when done.
func (s *Service) GetPreviewFrames() map[types.CameraID]types.Frame {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[types.CameraID]types.Frame, len(s.latest))
	for id, f := range s.latest {
		f.Image = f.Image.Retain()
		out[id] = f
	}
	return out
}

func (s *Service) captureLoop(ctx context.Context, id types.CameraID, reader CameraReader) {
	defer s.wg.Done()

	var consecutiveErrs int

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		frame, err := reader.Read(ctx, readTimeout)
		if err != nil {
			if errors.Is(err, ErrReadTimeout) || ctx.Err() != nil {
				continue
			}

			consecutiveErrs++
			if consecutiveErrs >= consecutiveErrThreshold {
				bus.Publish(s.bus, bus.ErrorEvent{
					Source:   fmt.Sprintf("capture.%s", id),
					Category: bus.CategoryTransientIO,
					Severity: bus.SeverityError,
					Message:  fmt.Sprintf("camera %s: %d consecutive read errors: %v", id, consecutiveErrs, err),
				})
			}
			continue
		}
		consecutiveErrs = 0

		s.mu.Lock()
		if prev, ok := s.latest[id]; ok {
			prev.Image.Release()
		}
		s.latest[id] = frame
		previewCopy := frame
		previewCopy.Image = frame.Image.Retain()
		s.mu.Unlock()

		bus.Publish(s.bus, bus.FrameCapturedEvent{
			CameraID: id,
			Frame:    previewCopy,
			TNs:      frame.TCaptureNs,
		})
	}
}
