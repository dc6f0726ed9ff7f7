// Package orchestrator implements the orchestrator: it wires the
// capture service, detection pool, stereo pairer, pitch state machine, and
// analysis dispatcher together via the event bus, and exposes the single
// control surface the CLI (or any other frontend) drives.
package orchestrator

import (
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/MiFaceDEV/pitchcore/internal/analysis"
	"github.com/MiFaceDEV/pitchcore/internal/bus"
	"github.com/MiFaceDEV/pitchcore/internal/capture"
	"github.com/MiFaceDEV/pitchcore/internal/config"
	"github.com/MiFaceDEV/pitchcore/internal/detect"
	"github.com/MiFaceDEV/pitchcore/internal/logging"
	"github.com/MiFaceDEV/pitchcore/internal/pitch"
	"github.com/MiFaceDEV/pitchcore/internal/stereo"
	"github.com/MiFaceDEV/pitchcore/internal/syncmon"
	"github.com/MiFaceDEV/pitchcore/internal/types"
)

// Recorder is the external collaborator responsible for persisting a
// pitch's frames/observations to a bundle (video + metadata) once it
// finalizes. pitchcore's core does not implement storage; this interface
// is the seam a frontend wires a concrete implementation into.
//
// StartRecording receives its own retained copy of each preRoll frame's
// Image; the implementation must Release it once done encoding, the same
// convention GetPreviewFrames uses.
type Recorder interface {
	StartRecording(pitchID string, preRoll []types.PreRollFrame) error
	StopRecording(pitchID string) error
}

// Stats is a cross-component snapshot exposed to callers for observability.
type Stats struct {
	CaptureLeft  capture.Stats
	CaptureRight capture.Stats
	Sync         syncmon.Stats
	Phase        types.PitchPhase
	PitchIndex   uint32
}

// Orchestrator wires capture, detection, stereo pairing, the pitch state
// machine, sync monitoring, and analysis together via the shared bus, and
// exposes start/stop/config control methods. StartCapture starts the
// detection pool and the capture service concurrently through an errgroup
// and returns the first startup error; the background goroutines those
// components spawn are owned and joined by their own Stop methods.
type Orchestrator struct {
	mu sync.Mutex

	bus *bus.Bus

	captureSvc   *capture.Service
	detectPool   *detect.Pool
	pairer       *stereo.Pairer
	stateMachine *pitch.StateMachine
	analysisDp   *analysis.Dispatcher
	syncMon      *syncmon.Monitor

	recorder Recorder

	cfg *config.Config

	matcher *stereo.Matcher
	running bool

	frameBusTokens []int64
	detectBusToken int64

	detMu            sync.Mutex
	latestDetections map[types.CameraID][]types.Detection

	recordDir         string
	sessionRecording  bool
	sessionName       string
	sessionPitchCount int
}

// RecordingBundle summarizes a finished recording session, returned by
// StopRecording.
type RecordingBundle struct {
	SessionName string
	PitchCount  int
}

// lowDiskWarningBytes is the free-space threshold below which
// StartRecording returns a non-empty warning instead of failing outright.
const lowDiskWarningBytes = 1 << 30 // 1 GiB

// New creates an orchestrator from cfg, constructing every component but
// not yet starting capture. newCam selects the camera backend (gocv, sim).
func New(cfg *config.Config, logger *logging.Logger, newCam capture.ReaderFactory, detector detect.Detector, analyzer analysis.Analyzer, zone analysis.StrikeZone, ballRadiusFt float64) *Orchestrator {
	if logger == nil {
		logger = logging.Default()
	}

	b := bus.New(logger)
	syncMon := syncmon.New(logger)

	o := &Orchestrator{
		bus:              b,
		cfg:              cfg,
		syncMon:          syncMon,
		captureSvc:       capture.NewService(b, logger, newCam),
		detectPool:       detect.New(b, logger, detector, detect.PerCamera, 2, cfg.Queue.Capacity),
		stateMachine:     pitch.New(cfg.Pitch),
		analysisDp:       analysis.New(b, logger, analyzer, zone, ballRadiusFt),
		latestDetections: make(map[types.CameraID][]types.Detection),
		recordDir:        ".",
	}

	matcher := stereo.NewMatcher(stereo.Geometry{
		BaselineFt:        cfg.Stereo.BaselineFt,
		FocalLengthPx:     cfg.Stereo.FocalLengthPx,
		Cx:                cfg.Stereo.Cx,
		Cy:                cfg.Stereo.Cy,
		EpipolarEpsilonPx: cfg.Stereo.EpipolarEpsilonPx,
		ZMinFt:            cfg.Stereo.ZMinFt,
		ZMaxFt:            cfg.Stereo.ZMaxFt,
	})
	o.matcher = matcher
	o.pairer = stereo.NewPairer(b, stereo.Config{
		Matcher:     matcher,
		ToleranceNs: cfg.Stereo.PairToleranceNs,
		SyncMonitor: syncMon,
	})

	o.stateMachine.SetCallbacks(o.onPitchStart, o.onPitchEnd)

	return o
}

// SetLaneGate installs the lane ROI gate used by the stereo pairer. Must be
// called before StartCapture; without a gate, the pairer passes every
// detection through ungated.
func (o *Orchestrator) SetLaneGate(gate *stereo.LaneGate) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.pairer = stereo.NewPairer(o.bus, stereo.Config{
		Matcher:     o.matcher,
		LaneGate:    gate,
		ToleranceNs: o.cfg.Stereo.PairToleranceNs,
		SyncMonitor: o.syncMon,
	})
}

// SetRecorder installs the optional recording collaborator.
func (o *Orchestrator) SetRecorder(r Recorder) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.recorder = r
}

// SetRecordDirectory sets the base directory StartRecording checks for
// free disk space. Only affects future sessions, not one already active.
func (o *Orchestrator) SetRecordDirectory(path string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if path == "" {
		path = "."
	}
	o.recordDir = path
}

// SetDetectorConfig swaps the pool's detector. Intended to be called only
// while capture is stopped.
func (o *Orchestrator) SetDetectorConfig(detector detect.Detector) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.detectPool = detect.New(o.bus, logging.Default(), detector, detect.PerCamera, 2, o.cfg.Queue.Capacity)
}

// SetDetectionThreading reconfigures the detection pool's threading mode.
// Intended to be called only while capture is stopped.
func (o *Orchestrator) SetDetectionThreading(mode detect.ThreadingMode, workers int, detector detect.Detector) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.detectPool = detect.New(o.bus, logging.Default(), detector, mode, workers, o.cfg.Queue.Capacity)
}

// StartCapture wires every subscriber, opens both cameras, and starts the
// capture loops, detection pool, and analysis dispatcher. Returns an error
// if capture is already running.
func (o *Orchestrator) StartCapture() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.running {
		return fmt.Errorf("orchestrator already running")
	}

	o.frameBusTokens = append(o.frameBusTokens,
		bus.Subscribe(o.bus, o.onFrameCapturedForPreRoll),
	)
	o.detectBusToken = bus.Subscribe(o.bus, o.onDetectionResultForLatest)
	bus.Subscribe(o.bus, o.pairer.OnDetectionResult)
	bus.Subscribe(o.bus, o.onObservationDetected)

	o.analysisDp.Start()

	// Detection pool and camera capture have no startup-order dependency
	// on each other (both only need the bus subscriptions above, already
	// in place): open the cameras and spin up detector workers
	// concurrently and fail fast if either errors.
	var g errgroup.Group
	g.Go(o.detectPool.Start)
	g.Go(func() error {
		return o.captureSvc.Start(o.cfg.Camera)
	})
	if err := g.Wait(); err != nil {
		o.detectPool.Stop()
		o.captureSvc.Stop()
		o.analysisDp.Stop()
		return fmt.Errorf("starting orchestrator: %w", err)
	}

	o.running = true
	return nil
}

// StopCapture halts capture, the detection pool, and analysis. Best-effort
// and idempotent; the session summary remains available afterward.
func (o *Orchestrator) StopCapture() {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.running {
		return
	}

	if o.sessionRecording {
		bus.Publish(o.bus, bus.ErrorEvent{
			Source:   "orchestrator",
			Category: bus.CategoryProtocol,
			Severity: bus.SeverityWarning,
			Message:  fmt.Sprintf("stopping capture while recording session %q was still active", o.sessionName),
		})
		o.sessionRecording = false
		o.sessionName = ""
	}

	o.captureSvc.Stop()
	o.detectPool.Stop()
	o.analysisDp.Stop()
	o.stateMachine.ForceEnd(0)

	for _, tok := range o.frameBusTokens {
		bus.Unsubscribe[bus.FrameCapturedEvent](o.bus, tok)
	}
	o.frameBusTokens = nil
	bus.Unsubscribe[bus.DetectionResultEvent](o.bus, o.detectBusToken)

	o.running = false
}

// onFrameCapturedForPreRoll buffers a retained copy of the frame into the
// pre-roll ring. The detection pool owns and releases the Image reference
// that came with the event; this handler needs its own independent retain
// since the ring can outlive the event's processing and the detect pool's
// eventual release of its copy.
func (o *Orchestrator) onFrameCapturedForPreRoll(e bus.FrameCapturedEvent) {
	stored := e.Frame
	stored.Image = e.Frame.Image.Retain()
	o.stateMachine.BufferFrame(e.CameraID, stored)
}

// onDetectionResultForLatest records the most recent detection list per
// camera for GetLatestDetections. DetectionResultEvent's Frame.Image is
// already released by the detection pool before publish, so there is
// nothing here to retain or release.
func (o *Orchestrator) onDetectionResultForLatest(e bus.DetectionResultEvent) {
	o.detMu.Lock()
	defer o.detMu.Unlock()
	o.latestDetections[e.CameraID] = e.Detections
}

func (o *Orchestrator) onObservationDetected(e bus.ObservationDetectedEvent) {
	o.stateMachine.AddObservation(e.Observation)

	laneCount := 1 // a detection already survived the pairer's lane gate
	plateCount := 0
	if o.cfg.Pitch.UsePlateGate && e.Observation.Quality > 0 {
		plateCount = 1
	}
	o.stateMachine.Update(e.Observation.TNs, laneCount, plateCount, 1)
}

func (o *Orchestrator) onPitchStart(data types.PitchData) error {
	pitchID := fmt.Sprintf("pitch-%d", data.PitchIndex)
	bus.Publish(o.bus, bus.PitchStartEvent{
		PitchID:       pitchID,
		PitchIndex:    data.PitchIndex,
		TNs:           data.StartNs,
		PreRollFrames: data.PreRollFrames,
	})

	o.mu.Lock()
	if o.sessionRecording {
		o.sessionPitchCount++
	}
	o.mu.Unlock()

	if o.recorder != nil {
		if err := o.recorder.StartRecording(pitchID, data.PreRollFrames); err != nil {
			bus.Publish(o.bus, bus.ErrorEvent{
				Source:   "orchestrator.recorder",
				Category: bus.CategoryCallbackFailure,
				Severity: bus.SeverityError,
				Message:  fmt.Sprintf("recorder start failed for %s: %v", pitchID, err),
			})
			return fmt.Errorf("recorder start failed: %w", err)
		}
	} else {
		// No recorder installed to take ownership of the retained snapshot;
		// release it here instead of leaking it.
		for _, f := range data.PreRollFrames {
			f.Frame.Image.Release()
		}
	}
	return nil
}

func (o *Orchestrator) onPitchEnd(data types.PitchData) {
	pitchID := fmt.Sprintf("pitch-%d", data.PitchIndex)
	bus.Publish(o.bus, bus.PitchEndEvent{
		PitchID:      pitchID,
		PitchIndex:   data.PitchIndex,
		Observations: data.Observations,
		TNs:          data.EndNs,
		DurationNs:   int64(data.DurationNs()),
	})

	if o.recorder != nil {
		if err := o.recorder.StopRecording(pitchID); err != nil {
			bus.Publish(o.bus, bus.ErrorEvent{
				Source:   "orchestrator.recorder",
				Category: bus.CategoryCallbackFailure,
				Severity: bus.SeverityError,
				Message:  fmt.Sprintf("recorder stop failed for %s: %v", pitchID, err),
			})
		}
	}
}

// GetStats returns a cross-component observability snapshot of sync
// quality and pitch state. CaptureLeft and CaptureRight are not filled in
// and are always zero.
func (o *Orchestrator) GetStats() Stats {
	return Stats{
		Sync:       o.syncMon.Snapshot(),
		Phase:      o.stateMachine.Phase(),
		PitchIndex: o.stateMachine.PitchIndex(),
	}
}

// GetSessionSummary returns the current session's aggregate analysis
// summary.
func (o *Orchestrator) GetSessionSummary() analysis.SessionSummary {
	return o.analysisDp.Summary()
}

// GetLatestDetections returns the most recent detection list seen from
// each camera, independent of pitch phase.
func (o *Orchestrator) GetLatestDetections() map[types.CameraID][]types.Detection {
	o.detMu.Lock()
	defer o.detMu.Unlock()

	out := make(map[types.CameraID][]types.Detection, len(o.latestDetections))
	for id, d := range o.latestDetections {
		out[id] = append([]types.Detection(nil), d...)
	}
	return out
}

// GetPlateMetrics returns the most recently finalized pitch's
// plate-crossing classification (ball/strike, zone row/col), or ok=false
// before any pitch has finalized this session.
func (o *Orchestrator) GetPlateMetrics() (analysis.PlateMetrics, bool) {
	return o.analysisDp.LatestPlateMetrics()
}

// StartRecording begins a named recording session. Capture must already
// be running: recording follows capture and detection in the control
// surface's lifecycle. Returns a non-empty warning, rather than an error,
// when free disk space on the configured record directory looks low.
func (o *Orchestrator) StartRecording(sessionName string) (string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.running {
		return "", fmt.Errorf("cannot start recording: capture is not running")
	}
	if o.sessionRecording {
		return "", fmt.Errorf("a recording session is already active")
	}

	o.sessionRecording = true
	o.sessionName = sessionName
	o.sessionPitchCount = 0

	warning := ""
	if free, err := freeDiskBytes(o.recordDir); err == nil && free < lowDiskWarningBytes {
		warning = fmt.Sprintf("low disk space: %d bytes free", free)
		bus.Publish(o.bus, bus.ErrorEvent{
			Source:   "orchestrator.recording",
			Category: bus.CategoryResource,
			Severity: bus.SeverityWarning,
			Message:  warning,
		})
	}
	return warning, nil
}

// StopRecording ends the active recording session and returns a bundle
// summarizing it. Per-pitch persistence during the session already went
// through the installed Recorder collaborator; this only closes out the
// session-level bookkeeping.
func (o *Orchestrator) StopRecording() (RecordingBundle, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.sessionRecording {
		return RecordingBundle{}, fmt.Errorf("no recording session is active")
	}

	bundle := RecordingBundle{SessionName: o.sessionName, PitchCount: o.sessionPitchCount}
	o.sessionRecording = false
	o.sessionName = ""
	return bundle, nil
}

// GetPreviewFrames returns the latest frame from each camera, for a debug
// preview window. Caller must Release the returned frames' images.
func (o *Orchestrator) GetPreviewFrames() map[types.CameraID]types.Frame {
	return o.captureSvc.GetPreviewFrames()
}

// Bus exposes the underlying event bus, for callers that want to subscribe
// to raw events (e.g. a CLI's per-frame logger).
func (o *Orchestrator) Bus() *bus.Bus {
	return o.bus
}
