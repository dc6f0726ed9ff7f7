package pitch

import (
	"fmt"
	"testing"
	"time"

	"github.com/MiFaceDEV/pitchcore/internal/config"
	"github.com/MiFaceDEV/pitchcore/internal/types"
)

func testConfig() config.PitchConfig {
	return config.PitchConfig{
		MinActiveFrames: 3,
		EndGapFrames:    3,
		UsePlateGate:    false,
		MinObservations: 2,
		MinDurationMs:   10.0,
		PreRollMs:       50.0,
	}
}

const frameStepNs = int64(10 * time.Millisecond)

func TestStateMachine_RampUpToActiveToEnd(t *testing.T) {
	sm := New(testConfig())

	var started, ended []types.PitchData
	sm.SetCallbacks(
		func(d types.PitchData) error { started = append(started, d); return nil },
		func(d types.PitchData) { ended = append(ended, d) },
	)

	t0 := int64(1_000_000_000)
	sm.AddObservation(types.StereoObservation{TNs: t0})
	sm.Update(t0, 1, 0, 1)
	sm.Update(t0+frameStepNs, 1, 0, 1)
	sm.AddObservation(types.StereoObservation{TNs: t0 + frameStepNs})
	sm.Update(t0+2*frameStepNs, 1, 0, 1)
	sm.AddObservation(types.StereoObservation{TNs: t0 + 2*frameStepNs})

	if sm.Phase() != types.PhaseActive {
		t.Fatalf("expected Active after 3 active frames with sufficient duration, got %s", sm.Phase())
	}
	if len(started) != 1 {
		t.Fatalf("expected exactly 1 pitch-start callback, got %d", len(started))
	}
	if started[0].PitchIndex != 1 {
		t.Errorf("expected pitch index 1, got %d", started[0].PitchIndex)
	}

	lastNs := t0 + 2*frameStepNs
	for i := 0; i < 3; i++ {
		lastNs += frameStepNs
		sm.Update(lastNs, 0, 0, 0)
	}

	if sm.Phase() != types.PhaseInactive {
		t.Fatalf("expected Inactive after end-gap frames, got %s", sm.Phase())
	}
	if len(ended) != 1 {
		t.Fatalf("expected exactly 1 pitch-end callback, got %d", len(ended))
	}
	if ended[0].EndNs != t0+2*frameStepNs {
		t.Errorf("expected end_ns to equal last detection time %d, got %d", t0+2*frameStepNs, ended[0].EndNs)
	}
}

func TestStateMachine_MinDurationFilterRejectsTooShortPitch(t *testing.T) {
	cfg := testConfig()
	cfg.MinDurationMs = 1000.0 // 1 second, far longer than the ramp-up window below
	sm := New(cfg)

	var started int
	sm.SetCallbacks(func(d types.PitchData) error { started++; return nil }, nil)

	t0 := int64(1_000_000_000)
	for i := 0; i < 5; i++ {
		sm.Update(t0+int64(i)*frameStepNs, 1, 0, 0)
	}

	if sm.Phase() != types.PhaseRampUp {
		t.Fatalf("expected to remain in RampUp when duration requirement unmet, got %s", sm.Phase())
	}
	if started != 0 {
		t.Errorf("expected no pitch-start while duration requirement unmet, got %d", started)
	}
}

func TestStateMachine_PreRollCaptureIncludedAtStart(t *testing.T) {
	sm := New(testConfig())

	var started types.PitchData
	sm.SetCallbacks(func(d types.PitchData) error { started = d; return nil }, nil)

	base := int64(1_000_000_000)
	for i := 0; i < 5; i++ {
		ts := base + int64(i)*frameStepNs
		sm.BufferFrame(types.Left, types.Frame{CameraID: types.Left, FrameIndex: uint64(i), TCaptureNs: ts})
		sm.BufferFrame(types.Right, types.Frame{CameraID: types.Right, FrameIndex: uint64(i), TCaptureNs: ts})
	}

	t0 := base + 5*frameStepNs
	sm.Update(t0, 1, 0, 0)
	sm.Update(t0+frameStepNs, 1, 0, 0)
	sm.Update(t0+2*frameStepNs, 1, 0, 0)

	if sm.Phase() != types.PhaseActive {
		t.Fatalf("expected Active, got %s", sm.Phase())
	}
	if len(started.PreRollFrames) == 0 {
		t.Fatal("expected pre-roll frames to be attached to pitch-start data")
	}
}

func TestStateMachine_CallbackFailureRevertsToRampUp(t *testing.T) {
	sm := New(testConfig())

	sm.SetCallbacks(func(d types.PitchData) error { return fmt.Errorf("callback exploded") }, nil)

	t0 := int64(1_000_000_000)
	sm.Update(t0, 1, 0, 0)
	sm.Update(t0+frameStepNs, 1, 0, 0)
	sm.Update(t0+2*frameStepNs, 1, 0, 0)

	if sm.Phase() != types.PhaseRampUp {
		t.Fatalf("expected state reverted to RampUp after callback failure, got %s", sm.Phase())
	}
	if sm.PitchIndex() != 0 {
		t.Errorf("expected pitch index reverted to 0, got %d", sm.PitchIndex())
	}
}

func TestStateMachine_RampUpFalseStartResets(t *testing.T) {
	sm := New(testConfig())

	t0 := int64(1_000_000_000)
	sm.Update(t0, 1, 0, 0)
	if sm.Phase() != types.PhaseRampUp {
		t.Fatalf("expected RampUp after first active frame, got %s", sm.Phase())
	}

	sm.Update(t0+frameStepNs, 0, 0, 0)
	if sm.Phase() != types.PhaseInactive {
		t.Fatalf("expected Inactive after false start, got %s", sm.Phase())
	}
}

func TestStateMachine_ForceEndFinalizesActivePitch(t *testing.T) {
	sm := New(testConfig())

	var ended int
	sm.SetCallbacks(nil, func(d types.PitchData) { ended++ })

	t0 := int64(1_000_000_000)
	sm.AddObservation(types.StereoObservation{TNs: t0})
	sm.Update(t0, 1, 0, 1)
	sm.AddObservation(types.StereoObservation{TNs: t0 + frameStepNs})
	sm.Update(t0+frameStepNs, 1, 0, 1)
	sm.AddObservation(types.StereoObservation{TNs: t0 + 2*frameStepNs})
	sm.Update(t0+2*frameStepNs, 1, 0, 1)

	if sm.Phase() != types.PhaseActive {
		t.Fatalf("expected Active before ForceEnd, got %s", sm.Phase())
	}

	sm.ForceEnd(0)

	if sm.Phase() != types.PhaseInactive {
		t.Fatalf("expected Inactive after ForceEnd, got %s", sm.Phase())
	}
	if ended != 1 {
		t.Fatalf("expected 1 pitch-end callback from ForceEnd, got %d", ended)
	}
}

func TestStateMachine_UpdateConfigRejectedDuringRampUp(t *testing.T) {
	sm := New(testConfig())

	t0 := int64(1_000_000_000)
	sm.Update(t0, 1, 0, 1)

	if sm.UpdateConfig(testConfig()) {
		t.Error("expected UpdateConfig to be rejected while not Inactive")
	}

	sm.Reset()
	if !sm.UpdateConfig(testConfig()) {
		t.Error("expected UpdateConfig to succeed once Inactive")
	}
}

func TestStateMachine_EventLogBounded(t *testing.T) {
	sm := New(testConfig())
	for i := 0; i < eventLogCapacity+100; i++ {
		sm.Update(int64(i), 0, 0, 0)
	}
	if len(sm.EventLog()) != eventLogCapacity {
		t.Errorf("expected event log capped at %d, got %d", eventLogCapacity, len(sm.EventLog()))
	}
}
