package pitchcore

import (
	"testing"

	"github.com/MiFaceDEV/pitchcore/internal/config"
)

func testConfig() *Config {
	cfg := config.Default()
	cfg.Queue.Capacity = 4
	return cfg
}

func noopDetector() Detector {
	return DetectorFunc(func(frame Frame) ([]Detection, error) {
		return nil, nil
	})
}

func TestNew_BuildsTrackerWithSimBackend(t *testing.T) {
	tracker, err := New(testConfig(), SimBackend(), noopDetector(), nil, DefaultStrikeZone())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if tracker == nil {
		t.Fatal("expected a non-nil tracker")
	}
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Stereo.ZMinFt = 100
	cfg.Stereo.ZMaxFt = 10

	_, err := New(cfg, SimBackend(), noopDetector(), nil, DefaultStrikeZone())
	if err == nil {
		t.Fatal("expected an error for an invalid config")
	}
}

func TestTracker_StartStopIsClean(t *testing.T) {
	tracker, err := New(testConfig(), SimBackend(), noopDetector(), nil, DefaultStrikeZone())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	if err := tracker.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer tracker.Stop()

	summary := tracker.GetSessionSummary()
	if len(summary.Pitches) != 0 {
		t.Errorf("expected no pitches recorded yet, got %+v", summary)
	}
}
