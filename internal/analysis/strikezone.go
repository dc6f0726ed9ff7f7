// Package analysis implements the analysis dispatcher: it subscribes
// to pitch-end events, runs pluggable external analyzers, and maintains a
// running session summary (strike/ball tally, 3x3 zone heatmap).
package analysis

import "github.com/MiFaceDEV/pitchcore/internal/types"

// StrikeZone is an axis-aligned box in the rig's X/Y frame at the plate's
// depth, used to classify a pitch's plate-crossing position into a 3x3
// zone grid and to decide ball/strike.
//
// This trades a pentagonal home-plate footprint for an axis-aligned box:
// it keeps batter-height-derived Y bounds and 3x3 zone numbering, but
// treats the plate's width as constant across depth, since nothing else
// in this system consumes a pentagon's corners.
type StrikeZone struct {
	PlateZFt  float64
	HalfWidth float64 // X half-width at the plate, feet
	YBottom   float64
	YTop      float64
}

// NewStrikeZone builds a StrikeZone from batter height and plate geometry,
// deriving the top/bottom bounds as ratios of batter height.
func NewStrikeZone(plateZFt, plateWidthIn, batterHeightIn, topRatio, bottomRatio float64) StrikeZone {
	return StrikeZone{
		PlateZFt:  plateZFt,
		HalfWidth: (plateWidthIn / 2.0) / 12.0,
		YBottom:   (batterHeightIn * bottomRatio) / 12.0,
		YTop:      (batterHeightIn * topRatio) / 12.0,
	}
}

// PlateMetrics is the plate-crossing classification exposed through the
// orchestrator's control surface, as a named alias of the same result the
// dispatcher computes internally.
type PlateMetrics = ZoneResult

// ZoneResult is the outcome of classifying one pitch's observations
// against a StrikeZone.
type ZoneResult struct {
	IsStrike    bool
	SampleCount int
	ZoneRow     int // 1-3, 0 if no crossing found
	ZoneCol     int // 1-3, 0 if no crossing found
}

// Classify finds the observation nearest the plate's Z depth (the
// plate-crossing point), and from it determines ball/strike and 3x3 zone
// cell. ballRadiusFt softens the strike boundary via a sphere-intersects-
// zone check against every observation, not just the crossing point.
func Classify(observations []types.StereoObservation, zone StrikeZone, ballRadiusFt float64) ZoneResult {
	if len(observations) == 0 {
		return ZoneResult{}
	}

	crossing := nearestToPlate(observations, zone.PlateZFt)

	row, col := zoneCell(crossing, zone)

	isStrike := false
	for _, obs := range observations {
		if sphereIntersectsZone(obs, zone, ballRadiusFt) {
			isStrike = true
			break
		}
	}

	return ZoneResult{
		IsStrike:    isStrike,
		SampleCount: len(observations),
		ZoneRow:     row,
		ZoneCol:     col,
	}
}

func nearestToPlate(observations []types.StereoObservation, plateZFt float64) types.StereoObservation {
	best := observations[0]
	bestDist := absFloat(best.Z - plateZFt)
	for _, obs := range observations[1:] {
		d := absFloat(obs.Z - plateZFt)
		if d < bestDist {
			best = obs
			bestDist = d
		}
	}
	return best
}

// zoneCell maps a crossing point into a 1-3 row/col grid over the strike
// zone's bounding box, clamped to the box. Row 1 is lowest, row 3 highest.
func zoneCell(obs types.StereoObservation, zone StrikeZone) (row, col int) {
	height := zone.YTop - zone.YBottom
	width := 2 * zone.HalfWidth
	if height <= 0 || width <= 0 {
		return 0, 0
	}

	yFrac := (obs.Y - zone.YBottom) / height
	xFrac := (obs.X + zone.HalfWidth) / width

	row = clampZone(int(yFrac*3) + 1)
	col = clampZone(int(xFrac*3) + 1)
	return row, col
}

func clampZone(v int) int {
	if v < 1 {
		return 1
	}
	if v > 3 {
		return 3
	}
	return v
}

func sphereIntersectsZone(obs types.StereoObservation, zone StrikeZone, radiusFt float64) bool {
	if obs.X+radiusFt < -zone.HalfWidth || obs.X-radiusFt > zone.HalfWidth {
		return false
	}
	if obs.Y+radiusFt < zone.YBottom || obs.Y-radiusFt > zone.YTop {
		return false
	}
	return absFloat(obs.Z-zone.PlateZFt) <= radiusFt*2
}

func absFloat(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
