// Package config provides TOML configuration loading for pitchcore.
//
// The configuration file supports the following structure:
//
//	[camera.left]
//	device_id = 0
//	width = 1280
//	height = 720
//	fps = 30
//
//	[camera.right]
//	device_id = 1
//	width = 1280
//	height = 720
//	fps = 30
//
//	[stereo]
//	baseline_ft = 1.0
//	focal_length_px = 1200.0
//	cx = 960.0
//	cy = 540.0
//	epipolar_epsilon_px = 3.0
//	z_min_ft = 5.0
//	z_max_ft = 65.0
//	pair_tolerance_ns = 8000000
//
//	[pitch]
//	min_active_frames = 5
//	end_gap_frames = 10
//	use_plate_gate = true
//	min_observations = 3
//	min_duration_ms = 100.0
//	pre_roll_ms = 300.0
//
//	[queue]
//	capacity = 6
//
// Example usage:
//
//	cfg, err := config.Load("config.toml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Printf("Left camera device: %d\n", cfg.Camera.Left.DeviceID)
package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// Config represents the complete configuration for pitchcore.
type Config struct {
	Camera CameraPairConfig `toml:"camera"`
	Stereo StereoConfig     `toml:"stereo"`
	Pitch  PitchConfig      `toml:"pitch"`
	Queue  QueueConfig      `toml:"queue"`
}

// CameraPairConfig holds the two physical camera configurations.
type CameraPairConfig struct {
	Left  CameraConfig `toml:"left"`
	Right CameraConfig `toml:"right"`
}

// CameraConfig holds capture settings for one camera.
type CameraConfig struct {
	// DeviceID is the camera device index (default: 0 for left, 1 for right).
	DeviceID int `toml:"device_id"`
	// Width is the capture width in pixels (default: 1280).
	Width int `toml:"width"`
	// Height is the capture height in pixels (default: 720).
	Height int `toml:"height"`
	// FPS is the target frame rate (default: 30).
	FPS int `toml:"fps"`
	// Flip180 rotates the captured image 180 degrees.
	Flip180 bool `toml:"flip_180"`
	// ExposureUs is the manual exposure time in microseconds (0 = auto).
	ExposureUs int `toml:"exposure_us"`
	// Gain is the manual sensor gain (0 = auto).
	Gain float64 `toml:"gain"`
}

// StereoConfig holds the stereo geometry and pairing parameters.
type StereoConfig struct {
	// BaselineFt is the horizontal distance between optical centers, in feet.
	BaselineFt float64 `toml:"baseline_ft"`
	// FocalLengthPx is the shared focal length of both cameras, in pixels.
	FocalLengthPx float64 `toml:"focal_length_px"`
	// Cx, Cy are the principal point coordinates, in pixels.
	Cx float64 `toml:"cx"`
	Cy float64 `toml:"cy"`
	// EpipolarEpsilonPx is the max allowed |l.v - r.v| for a candidate match.
	EpipolarEpsilonPx float64 `toml:"epipolar_epsilon_px"`
	// ZMinFt, ZMaxFt bound the acceptable triangulated depth range.
	ZMinFt float64 `toml:"z_min_ft"`
	ZMaxFt float64 `toml:"z_max_ft"`
	// PairToleranceNs is the maximum |left.t_ns - right.t_ns| for pairing.
	PairToleranceNs int64 `toml:"pair_tolerance_ns"`
}

// PitchConfig holds the pitch state machine's tuning parameters.
type PitchConfig struct {
	// MinActiveFrames is the number of consecutive active frames required
	// to confirm a pitch.
	MinActiveFrames int `toml:"min_active_frames"`
	// EndGapFrames is the number of consecutive inactive frames required
	// to end an active pitch.
	EndGapFrames int `toml:"end_gap_frames"`
	// UsePlateGate selects the activity test: plate+observations when true,
	// lane detections alone when false.
	UsePlateGate bool `toml:"use_plate_gate"`
	// MinObservations is the minimum stored observation count required for
	// acceptance at finalization.
	MinObservations int `toml:"min_observations"`
	// MinDurationMs is the minimum pitch duration (last - first detection)
	// required for acceptance.
	MinDurationMs float64 `toml:"min_duration_ms"`
	// PreRollMs is how far back the pre-roll ring buffer reaches.
	PreRollMs float64 `toml:"pre_roll_ms"`
}

// PreRollNs returns the pre-roll window in nanoseconds.
func (p PitchConfig) PreRollNs() int64 {
	return int64(p.PreRollMs * 1_000_000)
}

// MinDurationNs returns the minimum acceptance duration in nanoseconds.
func (p PitchConfig) MinDurationNs() int64 {
	return int64(p.MinDurationMs * 1_000_000)
}

// QueueConfig holds detection-queue sizing.
type QueueConfig struct {
	// Capacity is the bounded per-camera detection queue size.
	Capacity int `toml:"capacity"`
}

// Default returns the default configuration.
func Default() *Config {
	leftCam := CameraConfig{DeviceID: 0, Width: 1280, Height: 720, FPS: 30}
	rightCam := CameraConfig{DeviceID: 1, Width: 1280, Height: 720, FPS: 30}

	return &Config{
		Camera: CameraPairConfig{Left: leftCam, Right: rightCam},
		Stereo: StereoConfig{
			BaselineFt:        1.0,
			FocalLengthPx:     1200.0,
			Cx:                960.0,
			Cy:                540.0,
			EpipolarEpsilonPx: 3.0,
			ZMinFt:            5.0,
			ZMaxFt:            65.0,
			PairToleranceNs:   8_000_000,
		},
		Pitch: PitchConfig{
			MinActiveFrames: 5,
			EndGapFrames:    10,
			UsePlateGate:    true,
			MinObservations: 3,
			MinDurationMs:   100.0,
			PreRollMs:       300.0,
		},
		Queue: QueueConfig{Capacity: 6},
	}
}

// Load reads and parses a TOML configuration file.
// If the file does not exist, it returns the default configuration.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if _, err := toml.Decode(string(data), cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	for _, cam := range []struct {
		name string
		cfg  CameraConfig
	}{{"left", c.Camera.Left}, {"right", c.Camera.Right}} {
		if cam.cfg.Width <= 0 {
			return fmt.Errorf("camera %s width must be positive, got %d", cam.name, cam.cfg.Width)
		}
		if cam.cfg.Height <= 0 {
			return fmt.Errorf("camera %s height must be positive, got %d", cam.name, cam.cfg.Height)
		}
		if cam.cfg.FPS <= 0 {
			return fmt.Errorf("camera %s FPS must be positive, got %d", cam.name, cam.cfg.FPS)
		}
	}

	if c.Stereo.BaselineFt <= 0 {
		return fmt.Errorf("stereo baseline must be positive, got %f", c.Stereo.BaselineFt)
	}
	if c.Stereo.FocalLengthPx <= 0 {
		return fmt.Errorf("stereo focal length must be positive, got %f", c.Stereo.FocalLengthPx)
	}
	if c.Stereo.EpipolarEpsilonPx < 0 {
		return fmt.Errorf("stereo epipolar epsilon must be non-negative, got %f", c.Stereo.EpipolarEpsilonPx)
	}
	if c.Stereo.ZMinFt >= c.Stereo.ZMaxFt {
		return fmt.Errorf("stereo z_min_ft (%f) must be less than z_max_ft (%f)", c.Stereo.ZMinFt, c.Stereo.ZMaxFt)
	}
	if c.Stereo.PairToleranceNs <= 0 {
		return fmt.Errorf("stereo pair tolerance must be positive, got %d", c.Stereo.PairToleranceNs)
	}

	if c.Pitch.MinActiveFrames <= 0 {
		return fmt.Errorf("pitch min_active_frames must be positive, got %d", c.Pitch.MinActiveFrames)
	}
	if c.Pitch.EndGapFrames <= 0 {
		return fmt.Errorf("pitch end_gap_frames must be positive, got %d", c.Pitch.EndGapFrames)
	}
	if c.Pitch.MinObservations <= 0 {
		return fmt.Errorf("pitch min_observations must be positive, got %d", c.Pitch.MinObservations)
	}
	if c.Pitch.MinDurationMs < 0 {
		return fmt.Errorf("pitch min_duration_ms must be non-negative, got %f", c.Pitch.MinDurationMs)
	}
	if c.Pitch.PreRollMs < 0 {
		return fmt.Errorf("pitch pre_roll_ms must be non-negative, got %f", c.Pitch.PreRollMs)
	}

	if c.Queue.Capacity <= 0 {
		return fmt.Errorf("queue capacity must be positive, got %d", c.Queue.Capacity)
	}

	return nil
}
