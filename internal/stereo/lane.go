// Package stereo implements stereo pairing and triangulation: lane and
// plate ROI gating, epipolar pre-filtering, and the temporal ring-buffer
// pairing algorithm that turns two independent detection streams into a
// single ordered stream of StereoObservations.
package stereo

import "github.com/MiFaceDEV/pitchcore/internal/types"

// Point is a 2D image-coordinate point.
type Point struct {
	X, Y float64
}

// LaneRoi is a polygon in image coordinates used to gate detections to the
// region where the ball is expected to travel.
type LaneRoi struct {
	Polygon []Point
}

// Contains reports whether point lies inside the polygon, via standard
// ray casting. A degenerate polygon (fewer than 3 points) contains nothing.
func (r LaneRoi) Contains(x, y float64) bool {
	if len(r.Polygon) < 3 {
		return false
	}

	inside := false
	j := len(r.Polygon) - 1
	for i := range r.Polygon {
		xi, yi := r.Polygon[i].X, r.Polygon[i].Y
		xj, yj := r.Polygon[j].X, r.Polygon[j].Y

		intersects := (yi > y) != (yj > y) &&
			x < (xj-xi)*(y-yi)/(yj-yi+1e-9)+xi
		if intersects {
			inside = !inside
		}
		j = i
	}
	return inside
}

// LaneGate holds one LaneRoi per camera and filters detections to those
// that fall inside their camera's ROI.
type LaneGate struct {
	roiByCamera map[types.CameraID]LaneRoi
}

// NewLaneGate builds a gate from per-camera ROIs. At least one camera's ROI
// must be supplied; a nil or empty map produces a gate that rejects
// everything, which callers should treat as a configuration error.
func NewLaneGate(roiByCamera map[types.CameraID]LaneRoi) *LaneGate {
	return &LaneGate{roiByCamera: roiByCamera}
}

// FilterDetections returns the subset of detections whose camera has a
// configured ROI and whose (u, v) falls inside it.
func (g *LaneGate) FilterDetections(detections []types.Detection) []types.Detection {
	if g == nil {
		return detections
	}
	allowed := make([]types.Detection, 0, len(detections))
	for _, d := range detections {
		roi, ok := g.roiByCamera[d.CameraID]
		if !ok {
			continue
		}
		if roi.Contains(d.U, d.V) {
			allowed = append(allowed, d)
		}
	}
	return allowed
}

// StereoLaneGate filters stereo matches down to those whose left and right
// detections both pass the underlying LaneGate.
type StereoLaneGate struct {
	gate *LaneGate
}

// NewStereoLaneGate wraps a LaneGate for match-level filtering.
func NewStereoLaneGate(gate *LaneGate) *StereoLaneGate {
	return &StereoLaneGate{gate: gate}
}

// FilterMatches keeps only matches where both endpoints pass the lane gate.
func (g *StereoLaneGate) FilterMatches(matches []Match) []Match {
	if g == nil || g.gate == nil {
		return matches
	}
	allowed := make([]Match, 0, len(matches))
	for _, m := range matches {
		pair := []types.Detection{m.Left, m.Right}
		if len(g.gate.FilterDetections(pair)) == 2 {
			allowed = append(allowed, m)
		}
	}
	return allowed
}
