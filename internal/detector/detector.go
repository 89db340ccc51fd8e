package detector

import "gocv.io/x/gocv"

// Detector finds hands in a video frame.
type Detector interface {
	// Detect returns the hands found in frame, or an empty slice.
	Detect(frame *gocv.Mat) ([]HandLandmarks, error)

	// Close releases any resources held by the detector.
	Close() error
}

// Config holds hand detection settings.
type Config struct {
	// MaxHands is the maximum number of hands to report. The live loop only
	// classifies the first one.
	MaxHands int `yaml:"max_hands"`

	// MinConfidence drops hands scored below this value (0.0-1.0).
	MinConfidence float64 `yaml:"min_confidence"`

	// ScriptPath overrides the MediaPipe helper script location.
	ScriptPath string `yaml:"script_path"`

	// Python overrides the interpreter used to run the helper.
	Python string `yaml:"python"`
}

// DefaultConfig returns the detection defaults.
func DefaultConfig() Config {
	return Config{
		MaxHands:      1,
		MinConfidence: 0.5,
	}
}

// filter applies MaxHands and MinConfidence to a detection result.
func (c Config) filter(hands []HandLandmarks) []HandLandmarks {
	out := hands[:0]
	for _, h := range hands {
		if h.Score < c.MinConfidence {
			continue
		}
		out = append(out, h)
		if c.MaxHands > 0 && len(out) == c.MaxHands {
			break
		}
	}
	return out
}
