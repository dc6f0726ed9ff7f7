// Package capture implements the camera-reading half of the capture
// service: the CameraReader abstraction, its OpenCV/gocv and
// simulated backends, a timeout-bounded open helper, and (on cgo builds) a
// debug preview window.
package capture

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MiFaceDEV/pitchcore/internal/config"
	"github.com/MiFaceDEV/pitchcore/internal/types"
)

// ErrReadTimeout is returned by CameraReader.Read when no frame arrived
// within the requested timeout. It is distinct from a hard read error: the
// capture loop treats it as "try again", not as a failure.
var ErrReadTimeout = errors.New("camera read timed out")

// CameraReader is the interface every capture backend implements:
// Open/Read/Close plus a stats accessor, with Read distinguishing timeout
// from error via ErrReadTimeout.
type CameraReader interface {
	// Open initializes the camera with the given configuration.
	Open(cfg config.CameraConfig) error
	// Read captures a single frame, blocking at most timeout. Returns
	// ErrReadTimeout (wrapped or sentinel-equal) on timeout.
	Read(ctx context.Context, timeout time.Duration) (types.Frame, error)
	// Close releases camera resources. Idempotent.
	Close() error
}

// Stats summarizes one camera's capture activity.
type Stats struct {
	FramesRead      uint64
	Timeouts        uint64
	Errors          uint64
	RejectedInvalid uint64
}

// retryOpen opens a camera with exponential backoff (base 0.5s, max 5s),
// up to maxAttempts tries. Each attempt itself is bounded by withTimeout
// so a hung driver call cannot block Open past the attempt's timeout; the
// goroutine running a timed-out attempt is not waited for.
func retryOpen(openOnce func(ctx context.Context) error, maxAttempts int) error {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}

	const baseDelay = 500 * time.Millisecond
	const maxDelay = 5 * time.Second

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		err := withTimeout(ctx, openOnce)
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err

		if attempt+1 >= maxAttempts {
			break
		}
		delay := baseDelay * time.Duration(1<<uint(attempt))
		if delay > maxDelay {
			delay = maxDelay
		}
		time.Sleep(delay)
	}
	return fmt.Errorf("camera open failed after %d attempts: %w", maxAttempts, lastErr)
}

// withTimeout runs fn on a dedicated goroutine and returns its error, or a
// timeout error if ctx expires first. On timeout the goroutine is not
// joined: it keeps running until fn returns, then writes to a buffered
// channel that nothing reads and exits, so it never blocks on that send.
// A call that never returns keeps its goroutine alive.
//
// Grounded on original_source/capture/timeout_utils.py's run_with_timeout,
// which documents the same rationale for moving off daemon threads.
func withTimeout(ctx context.Context, fn func(ctx context.Context) error) error {
	done := make(chan error, 1)
	go func() {
		done <- fn(ctx)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("operation timed out: %w", ctx.Err())
	}
}

// validateFrame rejects frames with no image, zero dimensions, or an
// all-zero image buffer.
func validateFrame(width, height int, allZero bool) error {
	if width <= 0 || height <= 0 {
		return fmt.Errorf("invalid frame dimensions %dx%d", width, height)
	}
	if allZero {
		return fmt.Errorf("frame image is all-zero")
	}
	return nil
}
