package analysis

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/MiFaceDEV/pitchcore/internal/bus"
	"github.com/MiFaceDEV/pitchcore/internal/logging"
	"github.com/MiFaceDEV/pitchcore/internal/types"
)

// Analyzer is an external collaborator that can enrich a finalized pitch
// with additional metrics (trajectory fit, speed, spin). Analysis failure
// is non-fatal: the dispatcher still records the pitch in the session
// summary using the base classification.
type Analyzer interface {
	Analyze(pitch types.PitchData, zone ZoneResult) (map[string]float64, error)
}

// PitchSummary is one finalized, analyzed pitch, retained in session order.
type PitchSummary struct {
	PitchID    string
	PitchIndex uint32
	IsStrike   bool
	ZoneRow    int
	ZoneCol    int
	DurationNs int64
	Metrics    map[string]float64
}

// SessionSummary is a point-in-time aggregate over every pitch recorded so
// far in the session.
type SessionSummary struct {
	SessionID string
	Pitches   []PitchSummary
	Strikes   int
	Balls     int
	Heatmap   [3][3]int // [row][col], row 0 = bottom per original convention
}

// recentPathCapacity bounds how many raw observation paths are retained
// for replay/visualization.
const recentPathCapacity = 12

// Dispatcher is the analysis dispatcher. It subscribes to
// PitchEndEvent, classifies the pitch against a configured strike zone,
// runs an optional external Analyzer, and maintains a running
// SessionSummary.
type Dispatcher struct {
	bus      *bus.Bus
	logger   *logging.Logger
	analyzer Analyzer
	zone     StrikeZone
	ballRFt  float64

	mu          sync.Mutex
	sessionID   string
	pitches     []PitchSummary
	recentPaths [][]types.StereoObservation
	strikes     int
	balls       int
	heatmap     [3][3]int
	subscribed  bool
	busToken    int64
	latestZone  ZoneResult
	hasZone     bool
}

// New creates an analysis dispatcher. analyzer may be nil, in which case
// pitches are still classified and tallied but carry no extra metrics.
func New(b *bus.Bus, logger *logging.Logger, analyzer Analyzer, zone StrikeZone, ballRadiusFt float64) *Dispatcher {
	if logger == nil {
		logger = logging.Default()
	}
	return &Dispatcher{
		bus:      b,
		logger:   logger,
		analyzer: analyzer,
		zone:     zone,
		ballRFt:  ballRadiusFt,
	}
}

// Start begins a new session, resetting the summary, and subscribes to
// PitchEndEvent.
func (d *Dispatcher) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.subscribed {
		return
	}

	d.sessionID = uuid.NewString()
	d.pitches = nil
	d.recentPaths = nil
	d.strikes = 0
	d.balls = 0
	d.heatmap = [3][3]int{}
	d.latestZone = ZoneResult{}
	d.hasZone = false

	d.busToken = bus.Subscribe(d.bus, d.onPitchEnd)
	d.subscribed = true
}

// Stop unsubscribes from the bus. The accumulated session summary remains
// available via Summary.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.subscribed {
		return
	}
	bus.Unsubscribe[bus.PitchEndEvent](d.bus, d.busToken)
	d.subscribed = false
}

func (d *Dispatcher) onPitchEnd(e bus.PitchEndEvent) {
	pitchData := types.PitchData{
		PitchIndex:   e.PitchIndex,
		Observations: e.Observations,
		EndNs:        e.TNs,
	}

	zoneResult := Classify(e.Observations, d.zone, d.ballRFt)

	var metrics map[string]float64
	if d.analyzer != nil {
		m, err := d.analyzer.Analyze(pitchData, zoneResult)
		if err != nil {
			d.logger.Printf("analysis: analyzer failed for pitch %d: %v", e.PitchIndex, err)
			bus.Publish(d.bus, bus.ErrorEvent{
				Source:   "analysis.analyzer",
				Category: bus.CategoryCallbackFailure,
				Severity: bus.SeverityWarning,
				Message:  fmt.Sprintf("analyzer failed for pitch %d: %v", e.PitchIndex, err),
			})
		} else {
			metrics = m
		}
	}

	summary := PitchSummary{
		PitchID:    uuid.NewString(),
		PitchIndex: e.PitchIndex,
		IsStrike:   zoneResult.IsStrike,
		ZoneRow:    zoneResult.ZoneRow,
		ZoneCol:    zoneResult.ZoneCol,
		DurationNs: e.DurationNs,
		Metrics:    metrics,
	}

	d.record(summary, e.Observations, zoneResult)
}

func (d *Dispatcher) record(summary PitchSummary, observations []types.StereoObservation, zone ZoneResult) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.latestZone = zone
	d.hasZone = true

	d.pitches = append(d.pitches, summary)
	if len(observations) > 0 {
		d.recentPaths = append(d.recentPaths, observations)
		if len(d.recentPaths) > recentPathCapacity {
			d.recentPaths = d.recentPaths[len(d.recentPaths)-recentPathCapacity:]
		}
	}

	if summary.IsStrike {
		d.strikes++
	} else {
		d.balls++
	}

	if summary.ZoneRow >= 1 && summary.ZoneRow <= 3 && summary.ZoneCol >= 1 && summary.ZoneCol <= 3 {
		d.heatmap[summary.ZoneRow-1][summary.ZoneCol-1]++
	}
}

// LatestPlateMetrics returns the most recently finalized pitch's
// plate-crossing classification, or ok=false before any pitch has
// finalized this session.
func (d *Dispatcher) LatestPlateMetrics() (PlateMetrics, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.latestZone, d.hasZone
}

// Summary returns a snapshot of the current session's aggregate state.
func (d *Dispatcher) Summary() SessionSummary {
	d.mu.Lock()
	defer d.mu.Unlock()

	return SessionSummary{
		SessionID: d.sessionID,
		Pitches:   append([]PitchSummary(nil), d.pitches...),
		Strikes:   d.strikes,
		Balls:     d.balls,
		Heatmap:   d.heatmap,
	}
}

// Reset clears the session summary without touching the bus subscription.
func (d *Dispatcher) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.sessionID = uuid.NewString()
	d.pitches = nil
	d.recentPaths = nil
	d.strikes = 0
	d.balls = 0
	d.heatmap = [3][3]int{}
	d.latestZone = ZoneResult{}
	d.hasZone = false
}
