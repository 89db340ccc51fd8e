package features

import (
	"math"

	"github.com/pkg/errors"
)

// Normalization names the transform a landmark encoder applies after
// flattening. Artifacts record it so serving repeats the training transform.
type Normalization string

const (
	// NormNone passes coordinates through unchanged.
	NormNone Normalization = ""
	// NormWristScale moves the wrist to the origin and divides by the mean
	// wrist distance.
	NormWristScale Normalization = "wrist_scale"
)

// MinScale guards normalization against collapsed hands.
const MinScale = 1e-6

// ParseNormalization validates a normalization name read from a manifest.
func ParseNormalization(s string) (Normalization, error) {
	switch Normalization(s) {
	case NormNone, NormWristScale:
		return Normalization(s), nil
	}
	return "", errors.Errorf("unknown landmark normalization %q", s)
}

// NormalizeLandmarks returns a wrist-relative copy of a flattened landmark
// vector scaled so the mean point distance from the wrist is 1. The wrist is
// point 0.
func NormalizeLandmarks(v Vector) (Vector, error) {
	if err := CheckDim(v, LandmarkDim); err != nil {
		return nil, err
	}

	out := make(Vector, LandmarkDim)
	wx, wy, wz := v[0], v[1], v[2]
	var total float64
	for i := 0; i < LandmarkDim; i += Coords {
		x, y, z := v[i]-wx, v[i+1]-wy, v[i+2]-wz
		out[i], out[i+1], out[i+2] = x, y, z
		total += math.Sqrt(x*x + y*y + z*z)
	}

	scale := total / NumLandmarks
	if scale < MinScale {
		scale = MinScale
	}
	for i := range out {
		out[i] /= scale
	}
	return out, nil
}
