// Package types holds the shared, mostly-immutable data contracts that flow
// between the capture, detection, stereo, and pitch-tracking stages. It sits
// below every component package so none of them need to import one another
// just to share a struct definition.
package types

import (
	"sync/atomic"
	"time"

	"gocv.io/x/gocv"
)

// CameraID identifies one of the two cameras in the stereo rig.
type CameraID int

const (
	// Left is the left camera of the stereo pair.
	Left CameraID = iota
	// Right is the right camera of the stereo pair.
	Right
)

// String implements fmt.Stringer.
func (c CameraID) String() string {
	switch c {
	case Left:
		return "left"
	case Right:
		return "right"
	default:
		return "unknown"
	}
}

// PixelFormat names the in-memory layout of an ImageBuffer's pixels.
type PixelFormat int

const (
	// PixelFormatBGR8 is 8-bit-per-channel BGR, OpenCV's native order.
	PixelFormatBGR8 PixelFormat = iota
	// PixelFormatRGB8 is 8-bit-per-channel RGB.
	PixelFormatRGB8
	// PixelFormatGray8 is 8-bit single-channel grayscale.
	PixelFormatGray8
)

// ImageBuffer is a reference-counted, read-only-after-capture handle to a
// decoded frame. Any number of goroutines may hold a reference; the
// underlying gocv.Mat is released only once the last reference is dropped.
//
// The zero value is an empty handle: Retain and Release are no-ops on it
// and Empty reports true. Construct with NewImageBuffer to wrap a Mat.
type ImageBuffer struct {
	mat    gocv.Mat
	refs   *atomic.Int32
	closed *atomic.Bool
}

// NewImageBuffer takes ownership of mat and wraps it with a refcount of 1.
func NewImageBuffer(mat gocv.Mat) ImageBuffer {
	refs := &atomic.Int32{}
	refs.Store(1)
	return ImageBuffer{mat: mat, refs: refs, closed: &atomic.Bool{}}
}

// Retain increments the reference count and returns the same handle, so
// callers can write `held := buf.Retain()` to make the borrow explicit.
func (b ImageBuffer) Retain() ImageBuffer {
	if b.refs != nil {
		b.refs.Add(1)
	}
	return b
}

// Release decrements the reference count, closing the underlying Mat once
// it reaches zero. Safe to call multiple times on independently-retained
// handles; not safe to call twice on the exact same handle value.
func (b ImageBuffer) Release() {
	if b.refs == nil {
		return
	}
	if b.refs.Add(-1) == 0 && b.closed.CompareAndSwap(false, true) {
		b.mat.Close()
	}
}

// Mat returns the underlying gocv.Mat for read-only access. The caller must
// not close it; ownership remains with the ImageBuffer.
func (b ImageBuffer) Mat() gocv.Mat {
	return b.mat
}

// Empty reports whether the buffer holds no decoded pixels, e.g. after a
// zero-value construction in a test fixture.
func (b ImageBuffer) Empty() bool {
	return b.refs == nil || b.mat.Empty()
}

// Frame is an immutable record of one captured image from one camera.
//
// Invariant: within a single camera's stream, FrameIndex is strictly
// increasing and TCaptureNs is non-decreasing.
type Frame struct {
	CameraID    CameraID
	FrameIndex  uint64
	TCaptureNs  int64
	Image       ImageBuffer
	Width       int
	Height      int
	PixelFormat PixelFormat
}

// Detection is a single ball candidate found in one frame's image.
type Detection struct {
	CameraID   CameraID
	FrameIndex uint64
	TCaptureNs int64
	U, V       float64
	RadiusPx   float64
	Confidence float64
}

// StereoObservation is a triangulated 3D ball position from one matched
// left/right detection pair.
type StereoObservation struct {
	TNs                int64
	LeftU, LeftV       float64
	RightU, RightV     float64
	X, Y, Z            float64 // feet, camera-rig frame, +Z toward catcher
	Quality            float64 // 1 iff Z within configured range, else 0
	Confidence         float64 // min(left.Confidence, right.Confidence) when in range, else 0
	EpipolarErrorPx    float64
}

// PitchPhase is the current state of the pitch state machine.
type PitchPhase int

const (
	PhaseInactive PitchPhase = iota
	PhaseRampUp
	PhaseActive
	PhaseEnding
	PhaseFinalized
)

func (p PitchPhase) String() string {
	switch p {
	case PhaseInactive:
		return "inactive"
	case PhaseRampUp:
		return "ramp_up"
	case PhaseActive:
		return "active"
	case PhaseEnding:
		return "ending"
	case PhaseFinalized:
		return "finalized"
	default:
		return "unknown"
	}
}

// PreRollFrame pairs a buffered frame with the camera it came from.
type PreRollFrame struct {
	CameraID CameraID
	Frame    Frame
}

// PitchData is a snapshot of one pitch, passed by value through events.
type PitchData struct {
	PitchID         string
	PitchIndex      uint32
	Phase           PitchPhase
	StartNs         int64
	EndNs           int64
	FirstDetectNs   int64
	LastDetectNs    int64
	Observations    []StereoObservation
	PreRollFrames   []PreRollFrame
	ActiveFrames    int
	GapFrames       int
}

// DurationNs returns LastDetectNs - FirstDetectNs, or 0 if no detection has
// been recorded yet. EndNs is set to LastDetectNs at finalization so the
// two agree.
func (p PitchData) DurationNs() time.Duration {
	if p.LastDetectNs <= 0 || p.FirstDetectNs <= 0 {
		return 0
	}
	return time.Duration(p.LastDetectNs - p.FirstDetectNs)
}
