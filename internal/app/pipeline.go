package app

import (
	"slices"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gocv.io/x/gocv"

	"github.com/ayusman/senas/internal/capture"
	"github.com/ayusman/senas/internal/features"
	"github.com/ayusman/senas/internal/inference"
)

// run is the capture loop. It starts idle at IdleFPS; motion opens the
// gate and raises the rate to ActiveFPS, and IdleTimeout without motion
// closes it again and forgets the smoothed history.
func (a *App) run(stopCh <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	gate := capture.NewGate(IdleTimeout)
	ticker := time.NewTicker(time.Second / IdleFPS)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
		}

		frame, err := a.camera.ReadFrame()
		if errors.Is(err, capture.ErrEndOfStream) {
			a.log.Info("capture ended")
			return
		}
		if err != nil {
			a.log.Warn("failed to read frame", zap.Error(err))
			continue
		}

		now := time.Now()
		moved, changed := a.motion.Detect(frame)
		if gate.Observe(moved, now) {
			fps := IdleFPS
			if gate.Active() {
				fps = ActiveFPS
			} else {
				a.smoother.Reset()
			}
			a.camera.SetFPS(fps)
			ticker.Reset(time.Second / time.Duration(fps))
			a.log.Debug("motion gate changed",
				zap.Bool("active", gate.Active()),
				zap.Float64("changed_pct", changed))
		}

		a.keepSnapshot(*frame)
		if gate.Active() && a.IsEnabled() {
			if _, err := a.Process(frame, now); err != nil {
				a.log.Debug("frame not classified", zap.Error(err))
			}
		}
		frame.Close()
	}
}

// Process classifies one frame and publishes the resulting event. In
// landmark mode the first detected hand is normalized and classified; a
// frame without a hand resets the smoothed history. In image mode the
// frame itself is the observation.
func (a *App) Process(frame *gocv.Mat, now time.Time) (*Event, error) {
	ev := &Event{Timestamp: now.UnixMilli()}

	var obs features.Observation
	switch a.service.Mode() {
	case features.ModeLandmark:
		if a.detector == nil {
			return nil, errors.New("landmark model needs a hand detector")
		}
		hands, err := a.detector.Detect(frame)
		if err != nil {
			return nil, errors.Wrap(err, "detect hands")
		}
		if len(hands) == 0 {
			a.smoother.Reset()
			a.publish(ev)
			return ev, nil
		}
		obs.Landmarks = hands[0].Normalize().Rows()
	case features.ModeImage:
		obs.Frame = frame
	default:
		return nil, &inference.ModelNotLoadedError{}
	}
	ev.Hand = true

	res, err := a.service.Predict(obs)
	if err != nil {
		return nil, err
	}

	// A reloaded model restarts the average.
	if !slices.Equal(res.Labels, a.smoothed) {
		a.smoother.Reset()
		a.smoothed = res.Labels
	}

	ev.Raw = res.Label
	ev.Labels = res.Labels
	ev.Probabilities = a.smoother.Update(res.Probabilities)
	ev.Prediction, ev.Confidence, _ = Decide(ev.Labels, ev.Probabilities, a.config.Threshold)

	a.publish(ev)
	return ev, nil
}

func (a *App) publish(ev *Event) {
	a.mu.Lock()
	prev := a.last
	a.last = ev
	callbacks := a.onDecision
	a.mu.Unlock()

	if a.config.Publisher != nil {
		a.config.Publisher.Broadcast(ev)
	}

	if ev.Prediction == "" {
		return
	}
	if prev == nil || prev.Prediction != ev.Prediction {
		a.log.Info("gesture recognized",
			zap.String("label", ev.Prediction),
			zap.Float64("confidence", ev.Confidence))
	}
	for _, fn := range callbacks {
		fn(*ev)
	}
}

func (a *App) keepSnapshot(frame gocv.Mat) {
	buf, err := gocv.IMEncode(gocv.JPEGFileExt, frame)
	if err != nil {
		return
	}
	jpeg := append([]byte(nil), buf.GetBytes()...)
	buf.Close()

	a.mu.Lock()
	a.snapshot = jpeg
	a.mu.Unlock()
}
