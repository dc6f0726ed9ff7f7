// Package pitch implements the pitch state machine: it segments the
// continuous stereo observation stream into discrete pitches with accurate
// start/end timestamps and a pre-roll of frames captured before the pitch
// was known to have begun.
package pitch

import (
	"fmt"
	"sync"
	"time"

	"github.com/MiFaceDEV/pitchcore/internal/config"
	"github.com/MiFaceDEV/pitchcore/internal/types"
)

const eventLogCapacity = 1000

// OnPitchStart is invoked synchronously when RampUp confirms into Active.
// An error return reverts the state machine to RampUp instead of accepting
// the pitch.
type OnPitchStart func(data types.PitchData) error

// OnPitchEnd is invoked synchronously when an Active pitch finalizes and
// passes acceptance checks. It has no error return and cannot revert
// state: the pitch has already been accepted.
type OnPitchEnd func(data types.PitchData)

type event struct {
	ts   int64
	kind string
	note string
}

// StateMachine implements the Inactive -> RampUp -> Active -> Ending ->
// Finalized -> Inactive cycle. All exported methods are safe for
// concurrent use; they take an internal, non-reentrant mutex, so internal
// helpers never re-lock.
type StateMachine struct {
	mu sync.Mutex

	cfg config.PitchConfig

	phase            types.PitchPhase
	pitchIndex       uint32
	firstDetectionNs int64
	lastDetectionNs  int64
	activeFrameCount int
	gapFrameCount    int

	observations       []types.StereoObservation
	rampUpObservations []types.StereoObservation

	preRoll map[types.CameraID][]types.Frame

	onStart OnPitchStart
	onEnd   OnPitchEnd

	eventLog []event
}

// New creates a pitch state machine with the given configuration.
func New(cfg config.PitchConfig) *StateMachine {
	return &StateMachine{
		cfg:   cfg,
		phase: types.PhaseInactive,
		preRoll: map[types.CameraID][]types.Frame{
			types.Left:  nil,
			types.Right: nil,
		},
	}
}

// SetCallbacks installs the start/end notification callbacks.
func (s *StateMachine) SetCallbacks(onStart OnPitchStart, onEnd OnPitchEnd) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onStart = onStart
	s.onEnd = onEnd
}

// BufferFrame pushes frame into its camera's pre-roll ring, trimming
// entries older than the configured pre-roll window. Must be called for
// every captured frame, independent of phase.
func (s *StateMachine) BufferFrame(id types.CameraID, frame types.Frame) {
	s.mu.Lock()
	defer s.mu.Unlock()

	buf, ok := s.preRoll[id]
	if !ok {
		frame.Image.Release()
		return
	}
	buf = append(buf, frame)

	cutoff := frame.TCaptureNs - s.cfg.PreRollNs()
	start := 0
	for start < len(buf) && buf[start].TCaptureNs < cutoff {
		buf[start].Image.Release()
		start++
	}
	if start > 0 {
		buf = buf[start:]
	}
	s.preRoll[id] = buf
}

// AddObservation stores obs into the active pitch's observation list, or
// the ramp-up buffer during RampUp. Safe to call regardless of phase;
// observations arriving while Inactive/Ending/Finalized are dropped.
func (s *StateMachine) AddObservation(obs types.StereoObservation) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.phase {
	case types.PhaseActive:
		s.observations = append(s.observations, obs)
	case types.PhaseRampUp:
		s.rampUpObservations = append(s.rampUpObservations, obs)
	}
}

// Update advances the state machine for one frame tick. laneCount and
// plateCount are the gated-detection counts for this frame across both
// cameras; obsCount is the number of stereo observations produced for it.
func (s *StateMachine) Update(frameNs int64, laneCount, plateCount, obsCount int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	active := s.isFrameActive(laneCount, plateCount, obsCount)
	s.logEvent(frameNs, "update", fmt.Sprintf("phase=%s active=%v obs=%d", s.phase, active, obsCount))

	if active {
		s.handleActiveFrame(frameNs)
	} else {
		s.handleInactiveFrame(frameNs)
	}
}

// ForceEnd finalizes the current pitch immediately if Active or RampUp.
// currentNs, if zero, falls back to the last recorded detection time.
func (s *StateMachine) ForceEnd(currentNs int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.phase != types.PhaseActive && s.phase != types.PhaseRampUp {
		return
	}
	endNs := currentNs
	if endNs == 0 {
		endNs = s.lastDetectionNs
	}
	if endNs == 0 {
		endNs = time.Now().UnixNano()
	}
	s.logEvent(endNs, "force_end", "")
	s.transitionToFinalized(endNs)
}

// Reset clears all state, including pre-roll buffers, for a fresh session.
func (s *StateMachine) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.logEvent(0, "reset", "")
	s.phase = types.PhaseInactive
	s.pitchIndex = 0
	s.firstDetectionNs = 0
	s.lastDetectionNs = 0
	s.activeFrameCount = 0
	s.gapFrameCount = 0
	s.observations = nil
	s.rampUpObservations = nil
	for id, buf := range s.preRoll {
		for _, f := range buf {
			f.Image.Release()
		}
		s.preRoll[id] = nil
	}
}

// Phase returns the current phase.
func (s *StateMachine) Phase() types.PitchPhase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// PitchIndex returns the index of the most recently started pitch.
func (s *StateMachine) PitchIndex() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pitchIndex
}

// UpdateConfig replaces the tuning configuration. Rejected (returns false)
// while a pitch is in progress, to avoid changing acceptance thresholds
// mid-flight.
func (s *StateMachine) UpdateConfig(cfg config.PitchConfig) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.phase != types.PhaseInactive {
		return false
	}
	s.cfg = cfg
	s.logEvent(0, "config_updated", "")
	return true
}

// EventLog returns a copy of the bounded debug event log.
func (s *StateMachine) EventLog() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]string, len(s.eventLog))
	for i, e := range s.eventLog {
		out[i] = fmt.Sprintf("%d %s %s", e.ts, e.kind, e.note)
	}
	return out
}

func (s *StateMachine) isFrameActive(laneCount, plateCount, obsCount int) bool {
	if s.cfg.UsePlateGate {
		return plateCount > 0 || obsCount > 0
	}
	return laneCount > 0
}

func (s *StateMachine) handleActiveFrame(frameNs int64) {
	s.gapFrameCount = 0
	s.activeFrameCount++
	s.lastDetectionNs = frameNs

	if s.firstDetectionNs == 0 {
		s.firstDetectionNs = frameNs
	}

	switch s.phase {
	case types.PhaseInactive:
		s.transitionToRampUp(frameNs)

	case types.PhaseRampUp:
		if s.activeFrameCount >= s.cfg.MinActiveFrames {
			duration := frameNs - s.firstDetectionNs
			if duration >= s.cfg.MinDurationNs() {
				s.transitionToActive(frameNs)
			} else {
				s.logEvent(frameNs, "duration_check_failed", fmt.Sprintf("duration_ns=%d", duration))
			}
		}

	case types.PhaseActive:
		// continue recording

	case types.PhaseEnding:
		s.logEvent(frameNs, "ending_cancelled", "")
		s.phase = types.PhaseActive
	}
}

func (s *StateMachine) handleInactiveFrame(frameNs int64) {
	switch s.phase {
	case types.PhaseInactive:
		s.activeFrameCount = 0
		s.firstDetectionNs = 0

	case types.PhaseRampUp:
		s.logEvent(frameNs, "ramp_up_failed", fmt.Sprintf("frames=%d", s.activeFrameCount))
		s.phase = types.PhaseInactive
		s.activeFrameCount = 0
		s.gapFrameCount = 0
		s.firstDetectionNs = 0
		s.lastDetectionNs = 0
		s.rampUpObservations = nil

	case types.PhaseActive:
		s.gapFrameCount++
		if s.gapFrameCount >= s.cfg.EndGapFrames {
			s.transitionToFinalized(frameNs)
		}

	case types.PhaseEnding:
		// keep waiting for post-roll
	}
}

func (s *StateMachine) transitionToRampUp(frameNs int64) {
	s.logEvent(frameNs, "transition", "to=ramp_up")
	s.phase = types.PhaseRampUp
}

func (s *StateMachine) transitionToActive(frameNs int64) {
	s.logEvent(frameNs, "transition", "to=active")
	s.phase = types.PhaseActive
	s.pitchIndex++

	s.observations = append(s.observations, s.rampUpObservations...)
	s.rampUpObservations = nil

	startNs := s.firstDetectionNs
	preRoll := s.capturePreRoll()

	data := types.PitchData{
		PitchIndex:    s.pitchIndex,
		Phase:         s.phase,
		StartNs:       startNs,
		EndNs:         0,
		FirstDetectNs: s.firstDetectionNs,
		LastDetectNs:  s.lastDetectionNs,
		Observations:  append([]types.StereoObservation(nil), s.observations...),
		PreRollFrames: preRoll,
		ActiveFrames:  s.activeFrameCount,
		GapFrames:     0,
	}

	if s.onStart == nil {
		return
	}
	if err := s.onStart(data); err != nil {
		// Callback failure during pitch-start rolls the state machine back
		// to RampUp rather than leaving it stuck Active with a caller that
		// never saw the pitch begin.
		s.phase = types.PhaseRampUp
		s.pitchIndex--
		s.observations = append([]types.StereoObservation(nil), data.Observations...)
	}
}

func (s *StateMachine) transitionToFinalized(frameNs int64) {
	s.logEvent(frameNs, "transition", "to=finalized")

	endNs := s.lastDetectionNs
	if endNs == 0 {
		endNs = frameNs
	}

	data := types.PitchData{
		PitchIndex:    s.pitchIndex,
		Phase:         types.PhaseFinalized,
		StartNs:       s.firstDetectionNs,
		EndNs:         endNs,
		FirstDetectNs: s.firstDetectionNs,
		LastDetectNs:  s.lastDetectionNs,
		Observations:  append([]types.StereoObservation(nil), s.observations...),
		PreRollFrames: nil, // already delivered at start
		ActiveFrames:  s.activeFrameCount,
		GapFrames:     s.gapFrameCount,
	}

	if ok, reason := s.isValid(data); !ok {
		_ = reason
		s.resetForNextPitch()
		return
	}

	s.phase = types.PhaseFinalized

	if s.onEnd != nil {
		s.onEnd(data)
	}

	s.resetForNextPitch()
}

// isValid applies the finalization acceptance checks: minimum observation
// count, minimum duration, and a non-zero start timestamp.
func (s *StateMachine) isValid(data types.PitchData) (bool, string) {
	if len(data.Observations) < s.cfg.MinObservations {
		return false, fmt.Sprintf("too few observations: %d < %d", len(data.Observations), s.cfg.MinObservations)
	}
	duration := data.DurationNs()
	if duration < time.Duration(s.cfg.MinDurationNs()) {
		return false, fmt.Sprintf("too short: %s < %dms", duration, int64(s.cfg.MinDurationMs))
	}
	if data.StartNs <= 0 {
		return false, "invalid start timestamp"
	}
	return true, "valid"
}

// capturePreRoll snapshots the current ring contents for hand-off to
// onStart (bus.PitchStartEvent, the recorder). The ring keeps its own
// copies and keeps trimming/releasing them independently, so the
// snapshot needs its own retained Image per frame.
func (s *StateMachine) capturePreRoll() []types.PreRollFrame {
	var out []types.PreRollFrame
	for _, id := range []types.CameraID{types.Left, types.Right} {
		for _, f := range s.preRoll[id] {
			f.Image = f.Image.Retain()
			out = append(out, types.PreRollFrame{CameraID: id, Frame: f})
		}
	}
	return out
}

func (s *StateMachine) resetForNextPitch() {
	s.phase = types.PhaseInactive
	s.firstDetectionNs = 0
	s.lastDetectionNs = 0
	s.activeFrameCount = 0
	s.gapFrameCount = 0
	s.observations = nil
	s.rampUpObservations = nil
	// pitchIndex and pre-roll buffers persist across pitches.
}

func (s *StateMachine) logEvent(ts int64, kind, note string) {
	s.eventLog = append(s.eventLog, event{ts: ts, kind: kind, note: note})
	if len(s.eventLog) > eventLogCapacity {
		s.eventLog = s.eventLog[len(s.eventLog)-eventLogCapacity:]
	}
}
