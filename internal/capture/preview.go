//go:build cgo
// +build cgo

package capture

import (
	"runtime"
	"sync"

	"gocv.io/x/gocv"
)

// PreviewWindow provides a simple debug window showing the left and right
// camera feeds side by side. OpenCV UI functions must be called from the
// main thread on Linux/X11, so the window runs its own OS-thread-locked
// goroutine.
type PreviewWindow struct {
	window   *gocv.Window
	frameCh  chan stereoFrame
	closeCh  chan struct{}
	doneCh   chan struct{}
	once     sync.Once
	initDone chan struct{}
}

type stereoFrame struct {
	left, right gocv.Mat
}

// NewPreviewWindow creates a new preview window with the given title.
func NewPreviewWindow(title string) *PreviewWindow {
	p := &PreviewWindow{
		frameCh:  make(chan stereoFrame, 1),
		closeCh:  make(chan struct{}),
		doneCh:   make(chan struct{}),
		initDone: make(chan struct{}),
	}

	go p.previewLoop(title)
	<-p.initDone

	return p
}

// previewLoop runs the OpenCV UI loop on a dedicated OS thread.
func (p *PreviewWindow) previewLoop(title string) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	p.window = gocv.NewWindow(title)
	close(p.initDone)

	for {
		select {
		case pair := <-p.frameCh:
			combined := gocv.NewMat()
			gocv.Hconcat(pair.left, pair.right, &combined)
			p.window.IMShow(combined)
			p.window.WaitKey(1)
			combined.Close()
			pair.left.Close()
			pair.right.Close()

		case <-p.closeCh:
			if p.window != nil {
				p.window.Close()
			}
			close(p.doneCh)
			return
		}
	}
}

// Show displays a left/right frame pair in the preview window. Both frames
// are cloned internally, so the caller can close or release the originals.
func (p *PreviewWindow) Show(left, right gocv.Mat) {
	if left.Empty() || right.Empty() {
		return
	}

	pair := stereoFrame{left: left.Clone(), right: right.Clone()}

	select {
	case p.frameCh <- pair:
	default:
		pair.left.Close()
		pair.right.Close()
	}
}

// Close closes the preview window and releases resources.
func (p *PreviewWindow) Close() error {
	p.once.Do(func() {
		close(p.closeCh)
		<-p.doneCh
	})
	return nil
}
