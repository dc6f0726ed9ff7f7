// Package pitchcore provides real-time stereo pitch tracking for a
// two-camera bullpen rig.
//
// pitchcore captures synchronized frames from a left/right camera pair,
// runs a pluggable ball detector on each, triangulates matched detections
// into 3D positions, and segments the resulting observation stream into
// discrete pitches with accurate start/end timestamps and a pre-roll
// buffer of frames captured before the pitch was known to have begun.
//
// # Quick Start
//
// Create a tracker with default configuration and a simulated camera
// backend (no hardware required):
//
//	tracker, err := pitchcore.New(nil, pitchcore.SimBackend(), myDetector, nil, pitchcore.DefaultStrikeZone())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer tracker.Stop()
//
//	if err := tracker.Start(); err != nil {
//	    log.Fatal(err)
//	}
//
// # Custom Configuration
//
// Load configuration from a TOML file:
//
//	cfg, _ := pitchcore.LoadConfig("config.toml")
//	tracker, err := pitchcore.New(cfg, pitchcore.GoCVBackend(), myDetector, myAnalyzer, zone)
//
// # Architecture
//
// pitchcore follows a library-first design for maximum reusability:
//
//   - Tracker: thin facade over the internal orchestrator
//   - Backend: camera reader selection (gocv, simulated)
//   - Detector: pluggable ball-detection strategy, injected by the caller
//   - Analyzer: optional pluggable pitch-metrics strategy
//   - Recorder: optional pluggable pitch-bundle persistence strategy
//
// All components are concurrent-safe and designed for real-time
// performance.
package pitchcore

import (
	"github.com/MiFaceDEV/pitchcore/internal/analysis"
	"github.com/MiFaceDEV/pitchcore/internal/bus"
	"github.com/MiFaceDEV/pitchcore/internal/capture"
	"github.com/MiFaceDEV/pitchcore/internal/config"
	"github.com/MiFaceDEV/pitchcore/internal/detect"
	"github.com/MiFaceDEV/pitchcore/internal/logging"
	"github.com/MiFaceDEV/pitchcore/internal/orchestrator"
	"github.com/MiFaceDEV/pitchcore/internal/stereo"
	"github.com/MiFaceDEV/pitchcore/internal/types"
)

// Re-exported types from internal packages, forming the library's public
// surface without requiring callers to import internal/ paths.
type (
	Config                   = config.Config
	CameraID                 = types.CameraID
	Frame                    = types.Frame
	Detection                = types.Detection
	Observation              = types.StereoObservation
	PitchData                = types.PitchData
	PitchPhase               = types.PitchPhase
	Detector                 = detect.Detector
	DetectorFunc             = detect.DetectorFunc
	ClassicalDetectorConfig  = detect.ClassicalDetectorConfig
	DetectorMode             = detect.Mode
	Analyzer                 = analysis.Analyzer
	Recorder                 = orchestrator.Recorder
	StrikeZone               = analysis.StrikeZone
	Stats                    = orchestrator.Stats
	SessionSummary           = analysis.SessionSummary
	PlateMetrics             = analysis.PlateMetrics
	RecordingBundle          = orchestrator.RecordingBundle
	EventBus                 = bus.Bus
	FrameCapturedEvent       = bus.FrameCapturedEvent
	DetectionResultEvent     = bus.DetectionResultEvent
	ObservationDetectedEvent = bus.ObservationDetectedEvent
)

// Background-model modes for NewClassicalDetector.
const (
	ModeFrameDiff          = detect.ModeFrameDiff
	ModeBackgroundSubtract = detect.ModeBackgroundSubtract
)

// DefaultClassicalDetectorConfig returns reasonable classical-detector
// tuning for a well-lit indoor bullpen.
func DefaultClassicalDetectorConfig() ClassicalDetectorConfig {
	return detect.DefaultClassicalDetectorConfig()
}

// NewClassicalDetector builds a Detector using frame-differencing or
// background subtraction plus contour/circularity filtering. Requires a
// cgo build. Each instance is stateful and must not be shared between
// cameras.
func NewClassicalDetector(cfg ClassicalDetectorConfig) *detect.ClassicalDetector {
	return detect.NewClassicalDetector(cfg)
}

// Subscribe registers handler for every event of type E published on b,
// returning a token for Unsubscribe.
func Subscribe[E any](b *EventBus, handler func(E)) int64 {
	return bus.Subscribe(b, handler)
}

// Left and Right identify the two cameras of the stereo pair.
const (
	Left  = types.Left
	Right = types.Right
)

// Backend selects a camera reader implementation for a logical camera
// slot. Use GoCVBackend for real USB/V4L2 cameras or SimBackend for
// hardware-free testing and demos.
type Backend = capture.ReaderFactory

// GoCVBackend opens real cameras via OpenCV/gocv. Requires a cgo build.
func GoCVBackend() Backend {
	return func(id types.CameraID) capture.CameraReader {
		return capture.NewOpenCVCamera(id)
	}
}

// SimBackend produces frames paced to the configured fps with no hardware
// dependency, suitable for tests and demos. The frames carry no image
// data, so only detectors that ignore pixels find anything in them.
func SimBackend() Backend {
	return func(id types.CameraID) capture.CameraReader {
		return capture.NewSimCamera(id)
	}
}

// DefaultStrikeZone returns a regulation strike zone for an average adult
// batter, at the standard plate depth.
func DefaultStrikeZone() StrikeZone {
	return analysis.NewStrikeZone(60.5, 17.0, 70.0, 0.5635, 0.2764)
}

// DefaultConfig returns pitchcore's default tuning.
func DefaultConfig() *Config {
	return config.Default()
}

// LoadConfig reads a TOML configuration file, falling back to defaults
// when path is empty or the file does not exist.
func LoadConfig(path string) (*Config, error) {
	return config.Load(path)
}

// Tracker is the top-level facade over pitchcore's pipeline: capture,
// detection, stereo pairing, pitch segmentation, and analysis.
type Tracker struct {
	orch *orchestrator.Orchestrator
}

// New constructs a Tracker. cfg may be nil to use DefaultConfig.
// detector is required; analyzer may be nil to skip metric enrichment.
func New(cfg *Config, backend Backend, detector Detector, analyzer Analyzer, zone StrikeZone) (*Tracker, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	orch := orchestrator.New(cfg, logging.Default(), backend, detector, analyzer, zone, defaultBallRadiusFt)
	return &Tracker{orch: orch}, nil
}

// defaultBallRadiusFt is a regulation baseball's radius, used to soften
// the strike-zone boundary test.
const defaultBallRadiusFt = 0.12

// SetLaneGate installs the lane ROI gate used by stereo pairing. Must be
// called before Start.
func (t *Tracker) SetLaneGate(gate *stereo.LaneGate) {
	t.orch.SetLaneGate(gate)
}

// SetRecorder installs an optional pitch-bundle recorder.
func (t *Tracker) SetRecorder(r Recorder) {
	t.orch.SetRecorder(r)
}

// SetRecordDirectory sets the base directory StartRecording checks for
// free disk space.
func (t *Tracker) SetRecordDirectory(path string) {
	t.orch.SetRecordDirectory(path)
}

// Start opens both cameras and begins the capture/detect/pair/track
// pipeline.
func (t *Tracker) Start() error {
	return t.orch.StartCapture()
}

// Stop halts the pipeline. Idempotent and safe to call even if Start
// failed or was never called.
func (t *Tracker) Stop() {
	t.orch.StopCapture()
}

// GetStats returns a cross-component observability snapshot.
func (t *Tracker) GetStats() Stats {
	return t.orch.GetStats()
}

// GetSessionSummary returns the current session's aggregate analysis
// summary (strike/ball tally, zone heatmap, per-pitch metrics).
func (t *Tracker) GetSessionSummary() SessionSummary {
	return t.orch.GetSessionSummary()
}

// GetPreviewFrames returns the latest frame from each camera, for a debug
// preview window. Callers must Release each frame's Image.
func (t *Tracker) GetPreviewFrames() map[CameraID]Frame {
	return t.orch.GetPreviewFrames()
}

// GetLatestDetections returns the most recent detection list seen from
// each camera, independent of pitch phase.
func (t *Tracker) GetLatestDetections() map[CameraID][]Detection {
	return t.orch.GetLatestDetections()
}

// GetPlateMetrics returns the most recently finalized pitch's
// plate-crossing classification, or ok=false before any pitch has
// finalized this session.
func (t *Tracker) GetPlateMetrics() (PlateMetrics, bool) {
	return t.orch.GetPlateMetrics()
}

// StartRecording begins a named recording session; capture must already
// be running. Returns a non-empty warning, rather than an error, when
// free disk space looks low.
func (t *Tracker) StartRecording(sessionName string) (string, error) {
	return t.orch.StartRecording(sessionName)
}

// StopRecording ends the active recording session and returns a bundle
// summarizing it.
func (t *Tracker) StopRecording() (RecordingBundle, error) {
	return t.orch.StopRecording()
}

// Bus returns the tracker's event bus, for callers that want to observe
// the pipeline directly (structured logging, custom dashboards) instead
// of polling GetStats/GetSessionSummary.
func (t *Tracker) Bus() *EventBus {
	return t.orch.Bus()
}
