package features

import (
	"fmt"
	"math"
)

const (
	// NumLandmarks is the number of hand keypoints in a landmark observation.
	NumLandmarks = 21
	// Coords is the number of coordinates per keypoint.
	Coords = 3
	// LandmarkDim is the length of a landmark feature vector.
	LandmarkDim = NumLandmarks * Coords
)

// LandmarkEncoder flattens 21 (x, y, z) points into a 63-value vector in
// point order, then applies its Normalization.
type LandmarkEncoder struct {
	norm Normalization
}

// NewLandmarkEncoder returns an encoder that passes coordinates through.
func NewLandmarkEncoder() *LandmarkEncoder {
	return &LandmarkEncoder{}
}

// NewNormalizingLandmarkEncoder returns an encoder that applies norm after
// flattening.
func NewNormalizingLandmarkEncoder(norm Normalization) (*LandmarkEncoder, error) {
	if _, err := ParseNormalization(string(norm)); err != nil {
		return nil, err
	}
	return &LandmarkEncoder{norm: norm}, nil
}

// Normalization reports the transform applied after flattening.
func (e *LandmarkEncoder) Normalization() Normalization { return e.norm }

func (e *LandmarkEncoder) Mode() Mode { return ModeLandmark }

func (e *LandmarkEncoder) Dim() int { return LandmarkDim }

func (e *LandmarkEncoder) Shape() []int { return []int{1, LandmarkDim} }

// Encode validates the landmark array, concatenates its coordinates and
// normalizes the result.
func (e *LandmarkEncoder) Encode(obs Observation) (Vector, error) {
	v, err := EncodeLandmarks(obs.Landmarks)
	if err != nil {
		return nil, err
	}
	return e.Prepare(v)
}

// Prepare applies the encoder's normalization to an already flattened
// vector, such as a row of an exported feature file.
func (e *LandmarkEncoder) Prepare(v Vector) (Vector, error) {
	if err := CheckDim(v, LandmarkDim); err != nil {
		return nil, err
	}
	switch e.norm {
	case NormWristScale:
		return NormalizeLandmarks(v)
	default:
		return v, nil
	}
}

// EncodeLandmarks is the landmark transform without the Encoder wrapper.
func EncodeLandmarks(points [][]float64) (Vector, error) {
	if len(points) != NumLandmarks {
		return nil, &ShapeError{
			Want: fmt.Sprintf("%d points", NumLandmarks),
			Got:  fmt.Sprintf("%d points", len(points)),
		}
	}

	out := make(Vector, 0, LandmarkDim)
	for i, p := range points {
		if len(p) != Coords {
			return nil, &ShapeError{
				Want:   fmt.Sprintf("%d coordinates", Coords),
				Got:    fmt.Sprintf("%d coordinates", len(p)),
				Reason: fmt.Sprintf("point %d", i),
			}
		}
		for _, c := range p {
			if math.IsNaN(c) || math.IsInf(c, 0) {
				return nil, &ShapeError{
					Want:   "finite coordinates",
					Got:    fmt.Sprint(c),
					Reason: fmt.Sprintf("point %d", i),
				}
			}
		}
		out = append(out, p...)
	}
	return out, nil
}
