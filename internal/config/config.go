// Package config loads coverframe's tunables from the environment,
// following the same "collect every missing required var, fail once"
// style as the relay's configuration loader, plus a set of optional
// tunables with spec-mandated defaults and ranges.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds every tunable named in spec.md §6, plus the demo binary's
// own wiring knobs (listen address, detector transport settings).
type Config struct {
	// Batch Collector
	BatchMaxWait     time.Duration
	BatchMaxSize     int
	BatchMaxInFlight int

	// Kalman Tracker Bank
	KalmanEnabled           bool
	KalmanProcessNoise      float64
	KalmanMeasurementNoise  float64
	KalmanMissBudget        int
	KalmanMaxAge            time.Duration

	// Confidence Decay Store
	DecayRate          float64
	DecayMinConfidence float64
	DecayDilationPx    int

	// Blur
	BlurMethod         string // "pixelation" | "gaussian"
	BlurPixelSize      int
	BlurGaussianRadius int
	BlurGaussianPasses int

	// Detector Client
	DetectorTimeout       time.Duration
	DetectorScoreThreshold float64

	// Detector transport (only required when using the real HTTP client)
	DetectorBaseURL string
	DetectorAPIKey  string
	DetectorModel   string

	// Demo / introspection
	ListenAddr string
}

// Default returns the spec-mandated defaults (§6 Configuration table).
func Default() *Config {
	return &Config{
		BatchMaxWait:     30 * time.Millisecond,
		BatchMaxSize:     8,
		BatchMaxInFlight: 15,

		KalmanEnabled:          true,
		KalmanProcessNoise:     0.01,
		KalmanMeasurementNoise: 0.1,
		KalmanMissBudget:       15,
		KalmanMaxAge:           2 * time.Second,

		DecayRate:          0.85,
		DecayMinConfidence: 0.3,
		DecayDilationPx:    8,

		BlurMethod:         "pixelation",
		BlurPixelSize:      20,
		BlurGaussianRadius: 15,
		BlurGaussianPasses: 3,

		DetectorTimeout:        5 * time.Second,
		DetectorScoreThreshold: 0.5,

		ListenAddr: ":8090",
	}
}

// Load reads overrides from the environment on top of Default, then
// validates the result. Every var is optional: unset vars keep the
// spec default. Set COVERFRAME_DETECTOR_BASE_URL to opt into the real
// HTTP detector client in cmd/coverframe; leaving it empty wires the
// mock client instead.
func Load() (*Config, error) {
	cfg := Default()
	var errs []string

	if v, ok := lookup("COVERFRAME_BATCH_MAX_WAIT_MS"); ok {
		if ms, err := strconv.Atoi(v); err == nil {
			cfg.BatchMaxWait = time.Duration(ms) * time.Millisecond
		} else {
			errs = append(errs, fmt.Sprintf("COVERFRAME_BATCH_MAX_WAIT_MS must be an integer, got %q", v))
		}
	}
	if v, ok := lookup("COVERFRAME_BATCH_MAX_SIZE"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.BatchMaxSize = n
		} else {
			errs = append(errs, fmt.Sprintf("COVERFRAME_BATCH_MAX_SIZE must be an integer, got %q", v))
		}
	}
	if v, ok := lookup("COVERFRAME_BATCH_MAX_IN_FLIGHT"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.BatchMaxInFlight = n
		} else {
			errs = append(errs, fmt.Sprintf("COVERFRAME_BATCH_MAX_IN_FLIGHT must be an integer, got %q", v))
		}
	}
	if v, ok := lookup("COVERFRAME_KALMAN_ENABLED"); ok {
		cfg.KalmanEnabled = v == "true" || v == "1"
	}
	if v, ok := lookup("COVERFRAME_KALMAN_PROCESS_NOISE"); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.KalmanProcessNoise = f
		} else {
			errs = append(errs, fmt.Sprintf("COVERFRAME_KALMAN_PROCESS_NOISE must be a float, got %q", v))
		}
	}
	if v, ok := lookup("COVERFRAME_KALMAN_MEASUREMENT_NOISE"); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.KalmanMeasurementNoise = f
		} else {
			errs = append(errs, fmt.Sprintf("COVERFRAME_KALMAN_MEASUREMENT_NOISE must be a float, got %q", v))
		}
	}
	if v, ok := lookup("COVERFRAME_KALMAN_MISS_BUDGET"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.KalmanMissBudget = n
		} else {
			errs = append(errs, fmt.Sprintf("COVERFRAME_KALMAN_MISS_BUDGET must be an integer, got %q", v))
		}
	}
	if v, ok := lookup("COVERFRAME_DECAY_RATE"); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.DecayRate = f
		} else {
			errs = append(errs, fmt.Sprintf("COVERFRAME_DECAY_RATE must be a float, got %q", v))
		}
	}
	if v, ok := lookup("COVERFRAME_DECAY_MIN_CONFIDENCE"); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.DecayMinConfidence = f
		} else {
			errs = append(errs, fmt.Sprintf("COVERFRAME_DECAY_MIN_CONFIDENCE must be a float, got %q", v))
		}
	}
	if v, ok := lookup("COVERFRAME_DECAY_DILATION_PX"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.DecayDilationPx = n
		} else {
			errs = append(errs, fmt.Sprintf("COVERFRAME_DECAY_DILATION_PX must be an integer, got %q", v))
		}
	}
	if v, ok := lookup("COVERFRAME_BLUR_METHOD"); ok {
		cfg.BlurMethod = v
	}
	if v, ok := lookup("COVERFRAME_BLUR_PIXEL_SIZE"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.BlurPixelSize = n
		} else {
			errs = append(errs, fmt.Sprintf("COVERFRAME_BLUR_PIXEL_SIZE must be an integer, got %q", v))
		}
	}
	if v, ok := lookup("COVERFRAME_BLUR_GAUSSIAN_RADIUS"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.BlurGaussianRadius = n
		} else {
			errs = append(errs, fmt.Sprintf("COVERFRAME_BLUR_GAUSSIAN_RADIUS must be an integer, got %q", v))
		}
	}
	if v, ok := lookup("COVERFRAME_DETECTOR_TIMEOUT_MS"); ok {
		if ms, err := strconv.Atoi(v); err == nil {
			cfg.DetectorTimeout = time.Duration(ms) * time.Millisecond
		} else {
			errs = append(errs, fmt.Sprintf("COVERFRAME_DETECTOR_TIMEOUT_MS must be an integer, got %q", v))
		}
	}
	if v, ok := lookup("COVERFRAME_DETECTOR_SCORE_THRESHOLD"); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.DetectorScoreThreshold = f
		} else {
			errs = append(errs, fmt.Sprintf("COVERFRAME_DETECTOR_SCORE_THRESHOLD must be a float, got %q", v))
		}
	}
	if v, ok := lookup("COVERFRAME_LISTEN_ADDR"); ok {
		cfg.ListenAddr = v
	}

	cfg.DetectorBaseURL = os.Getenv("COVERFRAME_DETECTOR_BASE_URL")
	cfg.DetectorAPIKey = os.Getenv("COVERFRAME_DETECTOR_API_KEY")
	cfg.DetectorModel = os.Getenv("COVERFRAME_DETECTOR_MODEL")

	if len(errs) > 0 {
		return nil, fmt.Errorf("invalid configuration:\n  %s", strings.Join(errs, "\n  "))
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate enforces the ranges spec.md §6 documents for each tunable.
func (c *Config) Validate() error {
	var errs []string

	if c.BatchMaxWait < 10*time.Millisecond || c.BatchMaxWait > 50*time.Millisecond {
		errs = append(errs, fmt.Sprintf("batch.max_wait_ms out of range [10,50]: %v", c.BatchMaxWait))
	}
	if c.BatchMaxSize < 1 || c.BatchMaxSize > 16 {
		errs = append(errs, fmt.Sprintf("batch.max_size out of range [1,16]: %d", c.BatchMaxSize))
	}
	if c.BatchMaxInFlight < 1 {
		errs = append(errs, fmt.Sprintf("batch.max_in_flight must be positive: %d", c.BatchMaxInFlight))
	}
	if c.DecayRate < 0.7 || c.DecayRate > 0.95 {
		errs = append(errs, fmt.Sprintf("decay.rate out of range [0.7,0.95]: %v", c.DecayRate))
	}
	if c.DecayMinConfidence < 0.1 || c.DecayMinConfidence > 0.5 {
		errs = append(errs, fmt.Sprintf("decay.min_confidence out of range [0.1,0.5]: %v", c.DecayMinConfidence))
	}
	if c.DecayDilationPx < 0 || c.DecayDilationPx > 32 {
		errs = append(errs, fmt.Sprintf("decay.dilation_px out of range [0,32]: %d", c.DecayDilationPx))
	}
	if c.BlurMethod != "pixelation" && c.BlurMethod != "gaussian" {
		errs = append(errs, fmt.Sprintf("blur.method must be pixelation or gaussian: %q", c.BlurMethod))
	}
	if c.BlurPixelSize < 4 || c.BlurPixelSize > 64 {
		errs = append(errs, fmt.Sprintf("blur.pixel_size out of range [4,64]: %d", c.BlurPixelSize))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration:\n  %s", strings.Join(errs, "\n  "))
	}
	return nil
}

func lookup(key string) (string, bool) {
	v := os.Getenv(key)
	return v, v != ""
}
