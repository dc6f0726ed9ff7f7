package stereo

import (
	"sync"

	"github.com/MiFaceDEV/pitchcore/internal/bus"
	"github.com/MiFaceDEV/pitchcore/internal/syncmon"
	"github.com/MiFaceDEV/pitchcore/internal/types"
)

// ringCapacity bounds each camera's pending-detection ring buffer.
const ringCapacity = 6

type bufferedDetection struct {
	frame      types.Frame
	detections []types.Detection
}

// Pairer implements temporal stereo pairing: two bounded per-camera ring
// buffers, drained head-first whenever both are non-empty, producing one
// ObservationDetectedEvent per surviving matched detection pair.
//
// The event bus delivers synchronously on the publisher's goroutine, so
// OnDetectionResult is called from both cameras' detection workers; an
// internal mutex serializes those calls, including the publishing of the
// resulting observations.
type Pairer struct {
	mu sync.Mutex

	bus         *bus.Bus
	matcher     *Matcher
	laneGate    *LaneGate
	plateGate   *LaneGate
	stereoGate  *StereoLaneGate
	syncMonitor *syncmon.Monitor
	toleranceNs int64

	leftBuf  []bufferedDetection
	rightBuf []bufferedDetection

	droppedSync uint64
}

// Config bundles the Pairer's collaborators and tuning values.
type Config struct {
	Matcher     *Matcher
	LaneGate    *LaneGate
	PlateGate   *LaneGate
	StereoGate  *StereoLaneGate
	SyncMonitor *syncmon.Monitor
	ToleranceNs int64
}

// NewPairer creates a stereo pairer publishing observations onto b.
func NewPairer(b *bus.Bus, cfg Config) *Pairer {
	syncMon := cfg.SyncMonitor
	if syncMon == nil {
		syncMon = syncmon.New(nil)
	}
	return &Pairer{
		bus:         b,
		matcher:     cfg.Matcher,
		laneGate:    cfg.LaneGate,
		plateGate:   cfg.PlateGate,
		stereoGate:  cfg.StereoGate,
		syncMonitor: syncMon,
		toleranceNs: cfg.ToleranceNs,
	}
}

// OnDetectionResult is the bus handler consuming DetectionResultEvent. It
// pushes the event into the appropriate per-camera ring (evicting the
// oldest entry if full) and then drains as many pairs as the buffers allow.
func (p *Pairer) OnDetectionResult(e bus.DetectionResultEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()

	entry := bufferedDetection{frame: e.Frame, detections: e.Detections}
	switch e.CameraID {
	case types.Left:
		p.leftBuf = pushRing(p.leftBuf, entry, ringCapacity)
	case types.Right:
		p.rightBuf = pushRing(p.rightBuf, entry, ringCapacity)
	}

	p.drain()
}

func pushRing(buf []bufferedDetection, entry bufferedDetection, capacity int) []bufferedDetection {
	buf = append(buf, entry)
	if len(buf) > capacity {
		buf = buf[len(buf)-capacity:]
	}
	return buf
}

// drain repeatedly pairs or drops ring-buffer heads until one side is
// empty.
func (p *Pairer) drain() {
	for len(p.leftBuf) > 0 && len(p.rightBuf) > 0 {
		lf := p.leftBuf[0]
		rf := p.rightBuf[0]

		delta := lf.frame.TCaptureNs - rf.frame.TCaptureNs
		if delta < 0 {
			delta = -delta
		}

		if delta > p.toleranceNs {
			p.droppedSync++
			p.syncMonitor.RecordDropped()
			if lf.frame.TCaptureNs < rf.frame.TCaptureNs {
				p.leftBuf = p.leftBuf[1:]
			} else {
				p.rightBuf = p.rightBuf[1:]
			}
			continue
		}

		p.leftBuf = p.leftBuf[1:]
		p.rightBuf = p.rightBuf[1:]
		p.syncMonitor.RecordAccepted(delta)
		p.processPair(lf, rf)
	}
}

// processPair gates, matches, and triangulates one accepted (left, right)
// frame/detections pair, publishing one ObservationDetectedEvent per
// surviving match.
func (p *Pairer) processPair(lf, rf bufferedDetection) {
	leftGated := p.laneGate.FilterDetections(lf.detections)
	rightGated := p.laneGate.FilterDetections(rf.detections)

	if p.plateGate != nil {
		leftGated = p.plateGate.FilterDetections(leftGated)
		rightGated = p.plateGate.FilterDetections(rightGated)
	}

	candidates := BuildMatches(leftGated, rightGated, p.matcher.geom.EpipolarEpsilonPx)
	if p.stereoGate != nil {
		candidates = p.stereoGate.FilterMatches(candidates)
	}

	pairTNs := lf.frame.TCaptureNs

	for _, match := range candidates {
		obs := p.matcher.Triangulate(match, pairTNs)
		bus.Publish(p.bus, bus.ObservationDetectedEvent{
			Observation: obs,
			Confidence:  obs.Confidence,
		})
	}
}

// DroppedSyncCount returns the number of frames dropped for exceeding the
// pairing time tolerance.
func (p *Pairer) DroppedSyncCount() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.droppedSync
}
