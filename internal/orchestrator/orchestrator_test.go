package orchestrator

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/MiFaceDEV/pitchcore/internal/analysis"
	"github.com/MiFaceDEV/pitchcore/internal/bus"
	"github.com/MiFaceDEV/pitchcore/internal/capture"
	"github.com/MiFaceDEV/pitchcore/internal/config"
	"github.com/MiFaceDEV/pitchcore/internal/detect"
	"github.com/MiFaceDEV/pitchcore/internal/types"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Camera.Left.FPS = 200
	cfg.Camera.Right.FPS = 200
	cfg.Queue.Capacity = 4
	return cfg
}

func simFactory(id types.CameraID) capture.CameraReader {
	return capture.NewSimCamera(id)
}

func noopDetector() detect.Detector {
	return detect.DetectorFunc(func(frame types.Frame) ([]types.Detection, error) {
		return nil, nil
	})
}

func testZone() analysis.StrikeZone {
	return analysis.NewStrikeZone(60.5, 17.0, 70.0, 0.5635, 0.2764)
}

func TestOrchestrator_StartCaptureTwiceFails(t *testing.T) {
	o := New(testConfig(), nil, simFactory, noopDetector(), nil, testZone(), 0.12)

	if err := o.StartCapture(); err != nil {
		t.Fatalf("first StartCapture failed: %v", err)
	}
	defer o.StopCapture()

	if err := o.StartCapture(); err == nil {
		t.Fatal("expected second StartCapture to fail while already running")
	}
}

func TestOrchestrator_StopCaptureIsIdempotent(t *testing.T) {
	o := New(testConfig(), nil, simFactory, noopDetector(), nil, testZone(), 0.12)

	// Stopping before ever starting must be a safe no-op.
	o.StopCapture()

	if err := o.StartCapture(); err != nil {
		t.Fatalf("StartCapture failed: %v", err)
	}
	o.StopCapture()
	o.StopCapture() // second stop must not panic or double-release resources
}

// TestOrchestrator_EndToEndSimPipelineProducesObservations exercises the
// full capture -> detect -> stereo -> pitch -> analysis wiring against the
// sim backend. The detector always reports the same synthetic point for
// both cameras so every paired frame triangulates into an accepted
// observation.
func TestOrchestrator_EndToEndSimPipelineProducesObservations(t *testing.T) {
	cfg := testConfig()
	cfg.Stereo.BaselineFt = 1.0
	cfg.Stereo.FocalLengthPx = 1000.0
	cfg.Stereo.Cx = 640
	cfg.Stereo.Cy = 360
	cfg.Stereo.ZMinFt = 1
	cfg.Stereo.ZMaxFt = 200
	cfg.Stereo.EpipolarEpsilonPx = 5
	cfg.Stereo.PairToleranceNs = int64(50 * time.Millisecond)

	// A fixed 20px left/right disparity puts the triangulated Z at 50ft,
	// inside [ZMinFt, ZMaxFt], regardless of which camera's frame this is.
	sameSpotDetector := detect.DetectorFunc(func(frame types.Frame) ([]types.Detection, error) {
		u := 630.0
		if frame.CameraID == types.Left {
			u = 650.0
		}
		return []types.Detection{{
			CameraID:   frame.CameraID,
			FrameIndex: frame.FrameIndex,
			TCaptureNs: frame.TCaptureNs,
			U:          u,
			V:          360,
			RadiusPx:   5,
			Confidence: 1,
		}}, nil
	})

	o := New(cfg, nil, simFactory, sameSpotDetector, nil, testZone(), 0.12)

	var mu sync.Mutex
	observed := 0
	done := make(chan struct{})
	var closeOnce sync.Once

	bus.Subscribe(o.Bus(), func(e bus.ObservationDetectedEvent) {
		mu.Lock()
		observed++
		n := observed
		mu.Unlock()
		if n >= 3 {
			closeOnce.Do(func() { close(done) })
		}
	})

	if err := o.StartCapture(); err != nil {
		t.Fatalf("StartCapture failed: %v", err)
	}
	defer o.StopCapture()

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		mu.Lock()
		n := observed
		mu.Unlock()
		t.Fatalf("timed out waiting for stereo observations, got %d", n)
	}
}

type fakeRecorder struct {
	mu       sync.Mutex
	startErr error
	stopErr  error
	started  []string
	stopped  []string
}

func (r *fakeRecorder) StartRecording(pitchID string, preRoll []types.PreRollFrame) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.startErr != nil {
		return r.startErr
	}
	r.started = append(r.started, pitchID)
	return nil
}

func (r *fakeRecorder) StopRecording(pitchID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopErr != nil {
		return r.stopErr
	}
	r.stopped = append(r.stopped, pitchID)
	return nil
}

// TestOrchestrator_RecorderStartFailurePropagates verifies onPitchStart
// forwards a failing recorder's error; the state machine's own rollback
// to RampUp on that error is covered by internal/pitch's own tests.
func TestOrchestrator_RecorderStartFailurePropagates(t *testing.T) {
	o := New(testConfig(), nil, simFactory, noopDetector(), nil, testZone(), 0.12)
	rec := &fakeRecorder{startErr: fmt.Errorf("disk full")}
	o.SetRecorder(rec)

	data := types.PitchData{PitchIndex: 1, StartNs: 1000}
	if err := o.onPitchStart(data); err == nil {
		t.Fatal("expected onPitchStart to propagate the recorder's start error")
	}
}

// TestOrchestrator_RecorderStopFailureIsNonFatal confirms a failing stop
// only publishes an ErrorEvent rather than panicking or blocking, since
// onPitchEnd has no error return to surface it through.
func TestOrchestrator_RecorderStopFailureIsNonFatal(t *testing.T) {
	o := New(testConfig(), nil, simFactory, noopDetector(), nil, testZone(), 0.12)
	rec := &fakeRecorder{stopErr: fmt.Errorf("network unreachable")}
	o.SetRecorder(rec)

	var gotErrorEvent bool
	bus.Subscribe(o.Bus(), func(e bus.ErrorEvent) {
		gotErrorEvent = true
	})

	data := types.PitchData{
		PitchIndex: 1,
		StartNs:    1000,
		EndNs:      2000,
	}
	o.onPitchEnd(data)

	rec.mu.Lock()
	stopped := len(rec.stopped)
	rec.mu.Unlock()

	if stopped != 0 {
		t.Errorf("expected no successful stop recorded, got %d", stopped)
	}
	if !gotErrorEvent {
		t.Error("expected a failing recorder stop to publish an ErrorEvent")
	}
}
