// Package detector finds hands in video frames and describes them as 21
// MediaPipe landmarks.
package detector

import (
	"math"

	"github.com/pkg/errors"

	"github.com/ayusman/senas/internal/features"
)

// Hand landmark indices following MediaPipe convention.
// See: https://developers.google.com/mediapipe/solutions/vision/hand_landmarker
const (
	Wrist        = 0
	ThumbCMC     = 1
	ThumbMCP     = 2
	ThumbIP      = 3
	ThumbTip     = 4
	IndexMCP     = 5
	IndexPIP     = 6
	IndexDIP     = 7
	IndexTip     = 8
	MiddleMCP    = 9
	MiddlePIP    = 10
	MiddleDIP    = 11
	MiddleTip    = 12
	RingMCP      = 13
	RingPIP      = 14
	RingDIP      = 15
	RingTip      = 16
	PinkyMCP     = 17
	PinkyPIP     = 18
	PinkyDIP     = 19
	PinkyTip     = 20
	NumLandmarks = 21
)

// Point3D is one landmark position.
type Point3D struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

func (p Point3D) norm() float64 {
	return math.Sqrt(p.X*p.X + p.Y*p.Y + p.Z*p.Z)
}

// HandLandmarks is one detected hand.
type HandLandmarks struct {
	Points     [NumLandmarks]Point3D `json:"points"`
	Handedness string                `json:"handedness"` // "Left" or "Right"
	Score      float64               `json:"score"`
}

// Normalize moves the wrist to the origin and divides every point by the
// mean wrist distance over all 21 points, the features.NormWristScale
// transform. A nil hand returns nil.
func (h *HandLandmarks) Normalize() *HandLandmarks {
	if h == nil {
		return nil
	}

	flat := make(features.Vector, 0, features.LandmarkDim)
	for _, p := range h.Points {
		flat = append(flat, p.X, p.Y, p.Z)
	}
	// The length is fixed by Points, so normalization cannot fail.
	v, _ := features.NormalizeLandmarks(flat)

	out := &HandLandmarks{
		Handedness: h.Handedness,
		Score:      h.Score,
	}
	for i := range out.Points {
		out.Points[i] = Point3D{X: v[3*i], Y: v[3*i+1], Z: v[3*i+2]}
	}
	return out
}

// Finite reports whether every coordinate is a finite number.
func (h *HandLandmarks) Finite() bool {
	for _, p := range h.Points {
		for _, v := range [...]float64{p.X, p.Y, p.Z} {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return false
			}
		}
	}
	return true
}

// Rows returns the landmarks as 21 [x, y, z] rows, the layout used by
// feature encoding and the HTTP API.
func (h *HandLandmarks) Rows() [][]float64 {
	rows := make([][]float64, NumLandmarks)
	for i, p := range h.Points {
		rows[i] = []float64{p.X, p.Y, p.Z}
	}
	return rows
}

// FromRows is the inverse of Rows.
func FromRows(rows [][]float64) (HandLandmarks, error) {
	var h HandLandmarks
	if len(rows) != NumLandmarks {
		return h, errors.Errorf("expected %d landmarks, got %d", NumLandmarks, len(rows))
	}
	for i, r := range rows {
		if len(r) != 3 {
			return h, errors.Errorf("landmark %d has %d coordinates, expected 3", i, len(r))
		}
		h.Points[i] = Point3D{X: r[0], Y: r[1], Z: r[2]}
	}
	return h, nil
}
