// Package features converts raw hand observations into the flat numeric
// vectors consumed by a classifier. The same encoder is used when building
// training data and when serving predictions.
package features

import (
	"fmt"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"
)

// Mode selects which observation representation an encoder consumes.
type Mode string

const (
	// ModeLandmark encodes 21 hand landmarks with x, y, z coordinates.
	ModeLandmark Mode = "landmark"
	// ModeImage encodes a colour video frame.
	ModeImage Mode = "image"
)

// Vector is a fixed-length feature vector.
type Vector []float64

// Observation is one raw hand pose. Landmark encoders read Landmarks,
// image encoders read Frame.
type Observation struct {
	Landmarks [][]float64
	Frame     *gocv.Mat
}

// Encoder turns an Observation into a Vector of length Dim.
type Encoder interface {
	Mode() Mode

	// Dim is the length of every vector returned by Encode.
	Dim() int

	// Shape is the tensor shape handed to the classifier, including a
	// leading batch dimension of 1.
	Shape() []int

	Encode(obs Observation) (Vector, error)
}

// ShapeError reports an observation or vector with the wrong dimensions.
type ShapeError struct {
	Want   string
	Got    string
	Reason string
}

func (e *ShapeError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("shape error: want %s, got %s: %s", e.Want, e.Got, e.Reason)
	}
	return fmt.Sprintf("shape error: want %s, got %s", e.Want, e.Got)
}

// DecodeError reports a frame that could not be decoded or resized.
type DecodeError struct {
	Source string
	Err    error
}

func (e *DecodeError) Error() string {
	msg := "decode error"
	if e.Source != "" {
		msg += " (" + e.Source + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// CheckDim rejects a vector whose length is not dim.
func CheckDim(v Vector, dim int) error {
	if len(v) != dim {
		return &ShapeError{
			Want: fmt.Sprintf("%d features", dim),
			Got:  fmt.Sprintf("%d features", len(v)),
		}
	}
	return nil
}

// NewEncoder rebuilds an encoder from a mode, the shape it reported at
// training time and its landmark normalization. Model artifacts record all
// three so that serving uses the exact training-time preprocessing.
func NewEncoder(mode Mode, shape []int, norm Normalization) (Encoder, error) {
	switch mode {
	case ModeLandmark:
		enc, err := NewNormalizingLandmarkEncoder(norm)
		if err != nil {
			return nil, err
		}
		if len(shape) != 2 || shape[1] != enc.Dim() {
			return nil, errors.Errorf("landmark encoder shape %v does not match [1 %d]", shape, enc.Dim())
		}
		return enc, nil
	case ModeImage:
		if norm != NormNone {
			return nil, errors.Errorf("image encoder does not take landmark normalization %q", norm)
		}
		if len(shape) != 4 || shape[3] != Channels {
			return nil, errors.Errorf("image encoder shape %v is not [1 H W %d]", shape, Channels)
		}
		return NewImageEncoder(shape[2], shape[1])
	default:
		return nil, errors.Errorf("unknown feature mode %q", mode)
	}
}

// ParseMode validates a mode name from configuration.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeLandmark, ModeImage:
		return Mode(s), nil
	}
	return "", errors.Errorf("unknown feature mode %q (want %q or %q)", s, ModeLandmark, ModeImage)
}
