package detect

import (
	"fmt"
	"sync"
	"time"

	"github.com/MiFaceDEV/pitchcore/internal/bus"
	"github.com/MiFaceDEV/pitchcore/internal/logging"
	"github.com/MiFaceDEV/pitchcore/internal/types"
)

// Detector is the external collaborator that finds ball candidates in a
// single frame. Implementations may be classical CV or model-backed; the
// pool treats both identically and tolerates failure.
type Detector interface {
	Detect(frame types.Frame) ([]types.Detection, error)
}

// DetectorFunc adapts a plain function to Detector.
type DetectorFunc func(frame types.Frame) ([]types.Detection, error)

// Detect implements Detector.
func (f DetectorFunc) Detect(frame types.Frame) ([]types.Detection, error) {
	return f(frame)
}

// ThreadingMode selects how worker goroutines are organized across the two
// camera queues,.
type ThreadingMode int

const (
	// PerCamera runs one dedicated worker goroutine per camera queue.
	PerCamera ThreadingMode = iota
	// SharedPool runs N workers that round-robin both queues, keeping at
	// most one in-flight detection per camera to preserve ordering.
	SharedPool
)

// errorThreshold is the consecutive-failure count that escalates a
// Detector's failures to a Critical Error event,.
const errorThreshold = 10

// logThrottleWindow bounds how often a given camera's detector-failure log
// line may repeat.
const logThrottleWindow = 5 * time.Second

type queuedFrame struct {
	frame types.Frame
}

// OnErrorFunc is an optional callback invoked when a camera's consecutive
// detector failures reach errorThreshold.
type OnErrorFunc func(cameraID types.CameraID, err error)

// Pool is the detection pool. It subscribes to FrameCaptured, enqueues
// frames per camera with drop-oldest backpressure, runs a Detector over
// each, and publishes DetectionResult in frame-index order per camera.
type Pool struct {
	bus      *bus.Bus
	logger   *logging.Logger
	detector Detector
	mode     ThreadingMode
	workers  int
	onError  OnErrorFunc

	queues map[types.CameraID]*dropOldestQueue

	mu              sync.Mutex
	running         bool
	stop            chan struct{}
	wg              sync.WaitGroup
	busToken        int64
	consecutiveErrs map[types.CameraID]*atomicCounter
	busy            map[types.CameraID]*sync.Mutex
}

type atomicCounter struct {
	mu    sync.Mutex
	count int
}

func (c *atomicCounter) reset() {
	c.mu.Lock()
	c.count = 0
	c.mu.Unlock()
}

func (c *atomicCounter) increment() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.count++
	return c.count
}

// New creates a detection pool for the given cameras, publishing results on
// b and using detector to process frames. queueCapacity <= 0 defaults to 6.
func New(b *bus.Bus, logger *logging.Logger, detector Detector, mode ThreadingMode, workers, queueCapacity int) *Pool {
	if logger == nil {
		logger = logging.Default()
	}
	if workers <= 0 {
		workers = 2
	}
	p := &Pool{
		bus:      b,
		logger:   logger,
		detector: detector,
		mode:     mode,
		workers:  workers,
		queues: map[types.CameraID]*dropOldestQueue{
			types.Left:  newDropOldestQueue(queueCapacity),
			types.Right: newDropOldestQueue(queueCapacity),
		},
		consecutiveErrs: map[types.CameraID]*atomicCounter{
			types.Left:  {},
			types.Right: {},
		},
		busy: map[types.CameraID]*sync.Mutex{
			types.Left:  {},
			types.Right: {},
		},
	}
	return p
}

// SetOnError installs an optional callback fired when a camera's
// consecutive-failure counter reaches the escalation threshold.
func (p *Pool) SetOnError(fn OnErrorFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onError = fn
}

// Start subscribes to FrameCaptured and spawns worker goroutines per the
// configured threading mode.
func (p *Pool) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return fmt.Errorf("detection pool already running")
	}

	p.busToken = bus.Subscribe(p.bus, p.onFrameCaptured)
	p.stop = make(chan struct{})
	p.running = true

	switch p.mode {
	case SharedPool:
		for i := 0; i < p.workers; i++ {
			p.wg.Add(1)
			go p.sharedWorker()
		}
	default:
		p.wg.Add(2)
		go p.perCameraWorker(types.Left)
		go p.perCameraWorker(types.Right)
	}

	return nil
}

// Stop unsubscribes from the bus and halts all workers. Idempotent.
func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	bus.Unsubscribe[bus.FrameCapturedEvent](p.bus, p.busToken)
	close(p.stop)
	p.mu.Unlock()

	p.wg.Wait()
}

func (p *Pool) onFrameCaptured(e bus.FrameCapturedEvent) {
	q, ok := p.queues[e.CameraID]
	if !ok {
		e.Frame.Image.Release()
		return
	}
	q.push(queuedFrame{frame: e.Frame})
}

func (p *Pool) perCameraWorker(id types.CameraID) {
	defer p.wg.Done()
	q := p.queues[id]

	for {
		for {
			item, ok := q.pop()
			if !ok {
				break
			}
			p.processFrame(id, item)
		}

		select {
		case <-p.stop:
			p.drainQueue(q)
			return
		case <-q.notify:
		}
	}
}

// sharedWorker round-robins both camera queues, holding that camera's busy
// lock for the duration of one detection so at most one detection per
// camera is in flight, preserving per-camera ordering.
func (p *Pool) sharedWorker() {
	defer p.wg.Done()

	cameras := []types.CameraID{types.Left, types.Right}
	idx := 0
	ticker := time.NewTicker(time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-p.stop:
			p.drainQueue(p.queues[types.Left])
			p.drainQueue(p.queues[types.Right])
			return
		case <-ticker.C:
			id := cameras[idx]
			idx = (idx + 1) % len(cameras)

			busy := p.busy[id]
			if !busy.TryLock() {
				continue
			}
			item, ok := p.queues[id].pop()
			if !ok {
				busy.Unlock()
				continue
			}
			p.processFrame(id, item)
			busy.Unlock()
		}
	}
}

func (p *Pool) drainQueue(q *dropOldestQueue) {
	for {
		item, ok := q.pop()
		if !ok {
			return
		}
		item.frame.Image.Release()
	}
}

// processFrame runs the detector and publishes the result. The frame's
// image buffer is released here: detection is the last stage that needs
// pixels, so DetectionResultEvent carries the frame's metadata (indices,
// timestamps) but an already-released Image. Stereo pairing only
// reads timestamps and Detections; pre-roll buffering gets its own
// retained copy directly from FrameCaptured.
func (p *Pool) processFrame(id types.CameraID, item queuedFrame) {
	detections, err := p.detector.Detect(item.frame)
	item.frame.Image.Release()
	item.frame.Image = types.ImageBuffer{}

	if err != nil {
		p.handleDetectError(id, err)
		return
	}
	p.consecutiveErrs[id].reset()

	bus.Publish(p.bus, bus.DetectionResultEvent{
		CameraID:   id,
		Frame:      item.frame,
		Detections: detections,
	})
}

func (p *Pool) handleDetectError(id types.CameraID, err error) {
	source := fmt.Sprintf("detect.%s", id)
	p.logger.Throttled(source, logThrottleWindow, "detector failed for %s: %v", id, err)

	count := p.consecutiveErrs[id].increment()
	if count == errorThreshold {
		bus.Publish(p.bus, bus.ErrorEvent{
			Source:   source,
			Category: bus.CategoryDetectorFailure,
			Severity: bus.SeverityCritical,
			Message:  fmt.Sprintf("detector for %s failed %d consecutive times: %v", id, count, err),
		})
		p.mu.Lock()
		onError := p.onError
		p.mu.Unlock()
		if onError != nil {
			onError(id, err)
		}
	}
}
