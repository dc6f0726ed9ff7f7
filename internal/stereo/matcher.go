package stereo

import (
	"sort"

	"github.com/MiFaceDEV/pitchcore/internal/types"
)

// Match is a candidate left/right detection pair that passed the epipolar
// pre-filter, not yet triangulated.
type Match struct {
	Left, Right     types.Detection
	EpipolarErrorPx float64
	Score           float64
}

// Geometry is the calibrated stereo rig geometry used for triangulation.
type Geometry struct {
	BaselineFt        float64
	FocalLengthPx     float64
	Cx, Cy            float64
	EpipolarEpsilonPx float64
	ZMinFt, ZMaxFt    float64
}

// BuildMatches finds epipolar-consistent candidate pairs between the two
// detection lists. Right detections are sorted by v so the scan can break
// out once it has passed the epipolar band.
func BuildMatches(left, right []types.Detection, epsilon float64) []Match {
	if len(left) == 0 || len(right) == 0 {
		return nil
	}

	rightSorted := make([]types.Detection, len(right))
	copy(rightSorted, right)
	sort.Slice(rightSorted, func(i, j int) bool { return rightSorted[i].V < rightSorted[j].V })

	var matches []Match
	for _, l := range left {
		for _, r := range rightSorted {
			errPx := r.V - l.V
			if errPx < 0 {
				errPx = -errPx
			}
			if errPx > epsilon {
				if r.V > l.V+epsilon {
					break
				}
				continue
			}
			matches = append(matches, Match{
				Left:            l,
				Right:           r,
				EpipolarErrorPx: errPx,
				Score:           minFloat(l.Confidence, r.Confidence),
			})
		}
	}
	return matches
}

// Matcher triangulates epipolar-filtered matches into 3D observations.
type Matcher struct {
	geom Geometry
}

// NewMatcher creates a triangulating matcher for the given rig geometry.
func NewMatcher(geom Geometry) *Matcher {
	return &Matcher{geom: geom}
}

// Triangulate computes a StereoObservation from a matched pair, using tNs
// as the observation's paired timestamp. Disparity is clamped to magnitude
// >= 0.5px to guard against division blowing up near zero. Triangulation
// never fails: an out-of-range Z is signaled purely through
// Quality/Confidence.
func (m *Matcher) Triangulate(match Match, tNs int64) types.StereoObservation {
	disparity := match.Left.U - match.Right.U
	if disparity >= 0 && disparity < 0.5 {
		disparity = 0.5
	} else if disparity < 0 && disparity > -0.5 {
		disparity = -0.5
	}

	z := (m.geom.FocalLengthPx * m.geom.BaselineFt) / disparity
	x := (match.Left.U - m.geom.Cx) * z / m.geom.FocalLengthPx
	y := (match.Left.V - m.geom.Cy) * z / m.geom.FocalLengthPx

	inRange := z >= m.geom.ZMinFt && z <= m.geom.ZMaxFt
	quality := 0.0
	confidence := 0.0
	if inRange {
		quality = 1.0
		confidence = match.Score
	}

	return types.StereoObservation{
		TNs:             tNs,
		LeftU:           match.Left.U,
		LeftV:           match.Left.V,
		RightU:          match.Right.U,
		RightV:          match.Right.V,
		X:               x,
		Y:               y,
		Z:               z,
		Quality:         quality,
		Confidence:      confidence,
		EpipolarErrorPx: match.EpipolarErrorPx,
	}
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
