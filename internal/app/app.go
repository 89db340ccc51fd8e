// Package app runs the live camera loop: frames are gated on motion,
// turned into observations, classified and smoothed before a decision is
// published.
package app

import (
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/ayusman/senas/internal/capture"
	"github.com/ayusman/senas/internal/detector"
	"github.com/ayusman/senas/internal/inference"
)

// Pipeline timing.
const (
	// IdleFPS is the frame rate while no motion is seen.
	IdleFPS = 5
	// ActiveFPS is the frame rate while the motion gate is open.
	ActiveFPS = 15
	// IdleTimeout is how long the gate stays open after the last motion.
	IdleTimeout = 2 * time.Second
)

// Defaults for the decision stage.
const (
	DefaultSmoothing = 0.6
	DefaultThreshold = 0.7
)

// Publisher receives every live event. server.Hub implements it.
type Publisher interface {
	Broadcast(v interface{})
}

// Event is one processed frame.
type Event struct {
	// Prediction is set once the smoothed confidence reaches the threshold.
	Prediction string  `json:"prediction,omitempty"`
	Confidence float64 `json:"confidence"`
	// Raw is the unsmoothed best label of this frame.
	Raw           string    `json:"raw,omitempty"`
	Hand          bool      `json:"hand"`
	Labels        []string  `json:"labels,omitempty"`
	Probabilities []float64 `json:"probabilities,omitempty"`
	Timestamp     int64     `json:"timestamp"`
}

// Config holds the live loop's collaborators and tuning.
type Config struct {
	Camera   capture.Camera
	Detector detector.Detector
	Service  *inference.Service

	// Publisher is optional.
	Publisher Publisher

	MotionThreshold float64
	Smoothing       float64
	Threshold       float64

	Logger *zap.Logger
}

// App is the live classification loop.
type App struct {
	config   Config
	log      *zap.Logger
	camera   capture.Camera
	motion   *capture.MotionDetector
	detector detector.Detector
	service  *inference.Service
	smoother *Smoother
	// smoothed names the classes of the smoother history.
	smoothed []string

	mu         sync.RWMutex
	enabled    bool
	stopCh     chan struct{}
	done       chan struct{}
	last       *Event
	snapshot   []byte
	onDecision []func(Event)
}

// New validates config and returns a stopped, enabled App.
func New(config Config) (*App, error) {
	if config.Camera == nil {
		return nil, errors.New("app: camera is required")
	}
	if config.Service == nil {
		return nil, errors.New("app: inference service is required")
	}
	if config.Smoothing == 0 {
		config.Smoothing = DefaultSmoothing
	}
	if config.Threshold == 0 {
		config.Threshold = DefaultThreshold
	}
	if config.Threshold < 0 || config.Threshold > 1 {
		return nil, errors.Errorf("app: threshold %v outside [0, 1]", config.Threshold)
	}
	log := config.Logger
	if log == nil {
		log = zap.NewNop()
	}

	return &App{
		config:   config,
		log:      log,
		camera:   config.Camera,
		motion:   capture.NewMotionDetector(config.MotionThreshold),
		detector: config.Detector,
		service:  config.Service,
		smoother: NewSmoother(config.Smoothing),
		enabled:  true,
	}, nil
}

// SetEnabled pauses or resumes classification. A paused loop keeps
// reading frames so the stream stays live.
func (a *App) SetEnabled(enabled bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.enabled = enabled
}

// IsEnabled returns whether classification is running.
func (a *App) IsEnabled() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.enabled
}

// OnDecision registers fn for events that carry a Prediction.
func (a *App) OnDecision(fn func(Event)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.onDecision = append(a.onDecision, fn)
}

// Last returns the most recent event.
func (a *App) Last() (Event, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.last == nil {
		return Event{}, false
	}
	return *a.last, true
}

// Snapshot returns the latest frame as JPEG. The returned slice is never
// modified afterwards.
func (a *App) Snapshot() []byte {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.snapshot
}

// Start opens the camera and starts the loop. Starting a running App is a
// no-op.
func (a *App) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.stopCh != nil {
		return nil
	}
	if err := a.camera.Open(); err != nil {
		return err
	}
	a.camera.SetFPS(IdleFPS)

	a.stopCh = make(chan struct{})
	a.done = make(chan struct{})
	go a.run(a.stopCh, a.done)

	a.log.Info("live loop started", zap.String("mode", string(a.service.Mode())))
	return nil
}

// Stop halts the loop and waits for it to exit, then releases the camera,
// motion detector and hand detector.
func (a *App) Stop() {
	a.mu.Lock()
	stopCh, done := a.stopCh, a.done
	a.stopCh, a.done = nil, nil
	a.mu.Unlock()

	if stopCh == nil {
		return
	}
	close(stopCh)
	<-done

	if err := a.camera.Close(); err != nil {
		a.log.Warn("failed to close camera", zap.Error(err))
	}
	a.motion.Close()
	if a.detector != nil {
		if err := a.detector.Close(); err != nil {
			a.log.Warn("failed to close detector", zap.Error(err))
		}
	}
	a.log.Info("live loop stopped")
}

// Done is closed when a started loop exits, for example at the end of a
// video file. It is nil before Start.
func (a *App) Done() <-chan struct{} {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.done
}
