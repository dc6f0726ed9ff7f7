package capture

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MiFaceDEV/pitchcore/internal/bus"
	"github.com/MiFaceDEV/pitchcore/internal/config"
	"github.com/MiFaceDEV/pitchcore/internal/types"
)

func simFactory(id types.CameraID) CameraReader {
	return NewSimCamera(id)
}

func testCameraPairConfig() config.CameraPairConfig {
	return config.CameraPairConfig{
		Left:  config.CameraConfig{DeviceID: 0, Width: 640, Height: 480, FPS: 60},
		Right: config.CameraConfig{DeviceID: 1, Width: 640, Height: 480, FPS: 60},
	}
}

func TestService_StartPublishesFrames(t *testing.T) {
	b := bus.New(nil)

	var leftCount, rightCount atomic.Int32
	var wg sync.WaitGroup
	wg.Add(2)

	bus.Subscribe(b, func(e bus.FrameCapturedEvent) {
		defer e.Frame.Image.Release()
		if e.CameraID == types.Left {
			if leftCount.Add(1) == 3 {
				wg.Done()
			}
		} else {
			if rightCount.Add(1) == 3 {
				wg.Done()
			}
		}
	})

	svc := NewService(b, nil, simFactory)
	if err := svc.Start(testCameraPairConfig()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer svc.Stop()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for frames: left=%d right=%d", leftCount.Load(), rightCount.Load())
	}
}

func TestService_StartTwiceFails(t *testing.T) {
	b := bus.New(nil)
	svc := NewService(b, nil, simFactory)

	if err := svc.Start(testCameraPairConfig()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer svc.Stop()

	if err := svc.Start(testCameraPairConfig()); err == nil {
		t.Error("expected error starting an already-running service")
	}
}

func TestService_StopIsIdempotent(t *testing.T) {
	b := bus.New(nil)
	svc := NewService(b, nil, simFactory)

	if err := svc.Start(testCameraPairConfig()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	svc.Stop()
	svc.Stop()
}

func TestService_GetPreviewFrames(t *testing.T) {
	b := bus.New(nil)
	svc := NewService(b, nil, simFactory)

	if err := svc.Start(testCameraPairConfig()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer svc.Stop()

	time.Sleep(150 * time.Millisecond)

	frames := svc.GetPreviewFrames()
	if len(frames) == 0 {
		t.Fatal("expected at least one preview frame")
	}
	for id, f := range frames {
		if f.Width <= 0 {
			t.Errorf("camera %s: invalid preview frame width %d", id, f.Width)
		}
		f.Image.Release()
	}
}
