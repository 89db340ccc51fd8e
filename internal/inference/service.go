// Package inference serves predictions from a loaded model artifact.
package inference

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/ayusman/senas/internal/features"
	"github.com/ayusman/senas/internal/metrics"
	"github.com/ayusman/senas/internal/model"
)

// UnknownLabel is reported when the classifier's best index has no name.
const UnknownLabel = "Unknown"

// State is the service lifecycle state.
type State string

const (
	StateUninitialized State = "uninitialized"
	StateReady         State = "ready"
)

// ErrModelNotLoaded is matched by errors.Is on every ModelNotLoadedError.
var ErrModelNotLoaded = errors.New("model not loaded")

// ModelNotLoadedError is returned by Predict before a successful Load.
// Cause is the most recent load failure, if any.
type ModelNotLoadedError struct {
	Cause error
}

func (e *ModelNotLoadedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%v: %v", ErrModelNotLoaded, e.Cause)
	}
	return ErrModelNotLoaded.Error()
}

func (e *ModelNotLoadedError) Unwrap() error { return ErrModelNotLoaded }

// InvalidInputError wraps an observation the encoder rejected.
type InvalidInputError struct {
	Err error
}

func (e *InvalidInputError) Error() string { return "invalid input: " + e.Err.Error() }

func (e *InvalidInputError) Unwrap() error { return e.Err }

// Result is one prediction.
type Result struct {
	Label      string  `json:"prediction"`
	Confidence float64 `json:"confidence"`

	// Index and Probabilities are the raw classifier output. Labels names
	// each probability and comes from the same loaded model.
	Index         int       `json:"-"`
	Probabilities []float64 `json:"-"`
	Labels        []string  `json:"-"`
}

// Info describes the service for status endpoints.
type Info struct {
	State     State         `json:"state"`
	Dir       string        `json:"dir,omitempty"`
	Kind      string        `json:"kind,omitempty"`
	Mode      features.Mode `json:"mode,omitempty"`
	Shape     []int         `json:"shape,omitempty"`
	Labels    []string      `json:"labels,omitempty"`
	RunID     string        `json:"run_id,omitempty"`
	LoadedAt  *time.Time    `json:"loaded_at,omitempty"`
	LastError string        `json:"last_error,omitempty"`
}

// loaded is immutable once published.
type loaded struct {
	dir      string
	artifact *model.Artifact
	encoder  features.Encoder
	at       time.Time
}

// Service holds at most one loaded artifact. Predict only reads the
// published artifact and never blocks on Load.
type Service struct {
	log *zap.Logger

	current atomic.Pointer[loaded]

	mu      sync.Mutex // serialises loads
	dir     string
	lastErr error
}

// New returns an uninitialized service. A nil logger discards output.
func New(log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{log: log}
}

// Load reads the artifact in dir. On success the service becomes Ready and
// serves the new artifact; on failure the previous state is kept and the
// error is recorded. There is no automatic retry.
func (s *Service) Load(dir string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dir = dir
	return s.loadLocked()
}

// Reload re-reads the directory given to the last Load.
func (s *Service) Reload() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dir == "" {
		return errors.New("no model directory configured")
	}
	return s.loadLocked()
}

func (s *Service) loadLocked() error {
	l, err := open(s.dir)
	if err != nil {
		s.lastErr = err
		metrics.SetModelReady(s.current.Load() != nil)
		s.log.Error("model load failed", zap.String("dir", s.dir), zap.Error(err))
		return err
	}

	s.lastErr = nil
	s.current.Store(l)
	metrics.SetModelReady(true)
	s.log.Info("model loaded",
		zap.String("dir", s.dir),
		zap.String("kind", l.artifact.Manifest.Kind),
		zap.String("mode", string(l.artifact.Manifest.Mode)),
		zap.Strings("labels", l.artifact.Labels.Names()),
		zap.String("run_id", l.artifact.Manifest.RunID))
	return nil
}

func open(dir string) (*loaded, error) {
	a, err := model.Load(dir)
	if err != nil {
		return nil, err
	}
	enc, err := a.Encoder()
	if err != nil {
		return nil, err
	}
	return &loaded{dir: dir, artifact: a, encoder: enc, at: time.Now()}, nil
}

// State reports whether a model is loaded.
func (s *Service) State() State {
	if s.current.Load() == nil {
		return StateUninitialized
	}
	return StateReady
}

// Ready is State() == StateReady.
func (s *Service) Ready() bool {
	return s.State() == StateReady
}

// Mode is the loaded encoder's mode, or "" when uninitialized.
func (s *Service) Mode() features.Mode {
	if l := s.current.Load(); l != nil {
		return l.encoder.Mode()
	}
	return ""
}

// Labels returns the loaded label names in index order, or nil when
// uninitialized.
func (s *Service) Labels() []string {
	if l := s.current.Load(); l != nil {
		return l.artifact.Labels.Names()
	}
	return nil
}

// Info returns a snapshot of the service state.
func (s *Service) Info() Info {
	s.mu.Lock()
	lastErr := s.lastErr
	dir := s.dir
	s.mu.Unlock()

	info := Info{State: StateUninitialized, Dir: dir}
	if lastErr != nil {
		info.LastError = lastErr.Error()
	}
	l := s.current.Load()
	if l == nil {
		return info
	}
	m := l.artifact.Manifest
	at := l.at
	info.State = StateReady
	info.Dir = l.dir
	info.Kind = m.Kind
	info.Mode = m.Mode
	info.Shape = m.Shape
	info.Labels = l.artifact.Labels.Names()
	info.RunID = m.RunID
	info.LoadedAt = &at
	return info
}

// Predict encodes obs, classifies it and names the most probable class.
func (s *Service) Predict(obs features.Observation) (*Result, error) {
	start := time.Now()
	res, err := s.predict(obs)
	metrics.ObservePrediction(outcome(err), time.Since(start))
	return res, err
}

// PredictLandmarks is Predict for a landmark-only observation.
func (s *Service) PredictLandmarks(points [][]float64) (*Result, error) {
	return s.Predict(features.Observation{Landmarks: points})
}

func (s *Service) predict(obs features.Observation) (*Result, error) {
	l := s.current.Load()
	if l == nil {
		s.mu.Lock()
		cause := s.lastErr
		s.mu.Unlock()
		return nil, &ModelNotLoadedError{Cause: cause}
	}

	x, err := l.encoder.Encode(obs)
	if err != nil {
		return nil, &InvalidInputError{Err: err}
	}

	p, err := l.artifact.Classifier.Predict(x)
	if err != nil {
		var se *features.ShapeError
		if errors.As(err, &se) {
			return nil, &InvalidInputError{Err: err}
		}
		return nil, errors.Wrap(err, "classify")
	}
	best, err := model.Argmax(p)
	if err != nil {
		return nil, err
	}
	label, err := l.artifact.Labels.Decode(best)
	if err != nil {
		label = UnknownLabel
	}
	return &Result{
		Label:         label,
		Confidence:    p[best],
		Index:         best,
		Probabilities: p,
		Labels:        l.artifact.Labels.Names(),
	}, nil
}

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	var ie *InvalidInputError
	switch {
	case errors.Is(err, ErrModelNotLoaded):
		return "not_loaded"
	case errors.As(err, &ie):
		return "invalid_input"
	}
	return "error"
}
