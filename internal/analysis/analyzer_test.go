package analysis

import (
	"fmt"
	"testing"

	"github.com/MiFaceDEV/pitchcore/internal/bus"
	"github.com/MiFaceDEV/pitchcore/internal/types"
)

func testZone() StrikeZone {
	return NewStrikeZone(60.5, 17.0, 72.0, 0.56, 0.28)
}

func TestClassify_EmptyObservationsYieldsZeroResult(t *testing.T) {
	result := Classify(nil, testZone(), 0.12)
	if result.SampleCount != 0 || result.IsStrike {
		t.Errorf("expected zero-value result for no observations, got %+v", result)
	}
}

func TestClassify_CenterOfZoneIsStrike(t *testing.T) {
	zone := testZone()
	center := types.StereoObservation{
		X: 0,
		Y: (zone.YBottom + zone.YTop) / 2,
		Z: zone.PlateZFt,
	}
	result := Classify([]types.StereoObservation{center}, zone, 0.12)
	if !result.IsStrike {
		t.Error("expected center-of-zone pitch to be classified a strike")
	}
	if result.ZoneRow != 2 || result.ZoneCol != 2 {
		t.Errorf("expected center zone cell (2,2), got (%d,%d)", result.ZoneRow, result.ZoneCol)
	}
}

func TestClassify_FarOutsideZoneIsBall(t *testing.T) {
	zone := testZone()
	wide := types.StereoObservation{X: zone.HalfWidth * 10, Y: (zone.YBottom + zone.YTop) / 2, Z: zone.PlateZFt}
	result := Classify([]types.StereoObservation{wide}, zone, 0.12)
	if result.IsStrike {
		t.Error("expected far-outside pitch to be classified a ball")
	}
}

type stubAnalyzer struct {
	fail bool
}

func (s *stubAnalyzer) Analyze(pitch types.PitchData, zone ZoneResult) (map[string]float64, error) {
	if s.fail {
		return nil, fmt.Errorf("analysis failed")
	}
	return map[string]float64{"speed_mph": 90.0}, nil
}

func TestDispatcher_RecordsSummaryOnPitchEnd(t *testing.T) {
	b := bus.New(nil)
	d := New(b, nil, &stubAnalyzer{}, testZone(), 0.12)
	d.Start()
	defer d.Stop()

	zone := testZone()
	obs := types.StereoObservation{X: 0, Y: (zone.YBottom + zone.YTop) / 2, Z: zone.PlateZFt}

	bus.Publish(b, bus.PitchEndEvent{
		PitchIndex:   1,
		Observations: []types.StereoObservation{obs},
		DurationNs:   int64(200_000_000),
	})

	summary := d.Summary()
	if len(summary.Pitches) != 1 {
		t.Fatalf("expected 1 recorded pitch, got %d", len(summary.Pitches))
	}
	if summary.Strikes != 1 || summary.Balls != 0 {
		t.Errorf("expected 1 strike 0 balls, got strikes=%d balls=%d", summary.Strikes, summary.Balls)
	}
	if summary.Heatmap[1][1] != 1 {
		t.Errorf("expected heatmap center cell incremented, got %+v", summary.Heatmap)
	}
	if summary.Pitches[0].Metrics["speed_mph"] != 90.0 {
		t.Errorf("expected analyzer metrics attached, got %+v", summary.Pitches[0].Metrics)
	}
}

func TestDispatcher_AnalyzerFailureStillRecordsPitch(t *testing.T) {
	b := bus.New(nil)
	d := New(b, nil, &stubAnalyzer{fail: true}, testZone(), 0.12)
	d.Start()
	defer d.Stop()

	bus.Publish(b, bus.PitchEndEvent{PitchIndex: 1, Observations: []types.StereoObservation{{Z: 60.5}}})

	summary := d.Summary()
	if len(summary.Pitches) != 1 {
		t.Fatalf("expected pitch still recorded despite analyzer failure, got %d", len(summary.Pitches))
	}
	if summary.Pitches[0].Metrics != nil {
		t.Errorf("expected no metrics on analyzer failure, got %+v", summary.Pitches[0].Metrics)
	}
}

func TestDispatcher_ResetClearsSummary(t *testing.T) {
	b := bus.New(nil)
	d := New(b, nil, nil, testZone(), 0.12)
	d.Start()
	defer d.Stop()

	bus.Publish(b, bus.PitchEndEvent{PitchIndex: 1, Observations: []types.StereoObservation{{Z: 60.5}}})
	d.Reset()

	summary := d.Summary()
	if len(summary.Pitches) != 0 || summary.Strikes != 0 || summary.Balls != 0 {
		t.Errorf("expected empty summary after Reset, got %+v", summary)
	}
}
