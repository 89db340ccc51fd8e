// Package fixtures builds synthetic frames and landmark observations for tests.
package fixtures

import (
	"math/rand"

	"gocv.io/x/gocv"

	"github.com/ayusman/senas/internal/detector"
	"github.com/ayusman/senas/internal/features"
)

// SolidFrame returns a rows x cols BGR frame filled with one colour.
func SolidFrame(rows, cols int, b, g, r uint8) gocv.Mat {
	return gocv.NewMatWithSizeFromScalar(
		gocv.NewScalar(float64(b), float64(g), float64(r), 0),
		rows, cols, gocv.MatTypeCV8UC3,
	)
}

// GradientFrame returns a BGR frame whose bytes vary with position so that
// geometric transforms produce visibly different output.
func GradientFrame(rows, cols int) (gocv.Mat, error) {
	data := make([]byte, rows*cols*3)
	for y := 0; y < rows; y++ {
		for x := 0; x < cols; x++ {
			i := (y*cols + x) * 3
			data[i] = uint8(x * 255 / max(cols-1, 1))
			data[i+1] = uint8(y * 255 / max(rows-1, 1))
			data[i+2] = uint8((x + y) % 256)
		}
	}
	view, err := gocv.NewMatFromBytes(rows, cols, gocv.MatTypeCV8UC3, data)
	if err != nil {
		return gocv.NewMat(), err
	}
	defer view.Close()
	return view.Clone(), nil
}

// Landmarks converts a HandLandmarks value into the [][]float64 form used in
// requests and observations.
func Landmarks(h detector.HandLandmarks) [][]float64 {
	return h.Rows()
}

// Cluster returns n noisy copies of center. Each coordinate is perturbed by
// a uniform value in [-spread, spread].
func Cluster(rng *rand.Rand, center [][]float64, n int, spread float64) [][][]float64 {
	out := make([][][]float64, n)
	for i := range out {
		pts := make([][]float64, len(center))
		for j, p := range center {
			q := make([]float64, len(p))
			for k, c := range p {
				q[k] = c + (rng.Float64()*2-1)*spread
			}
			pts[j] = q
		}
		out[i] = pts
	}
	return out
}

// ThumbsUp is the normalized thumbs-up pose.
func ThumbsUp() [][]float64 {
	h := detector.ThumbsUpLandmarks()
	return h.Normalize().Rows()
}

// OpenPalm is the normalized open-palm pose.
func OpenPalm() [][]float64 {
	h := detector.OpenPalmLandmarks()
	return h.Normalize().Rows()
}

// ClusterVectors is Cluster flattened into landmark feature vectors.
func ClusterVectors(rng *rand.Rand, center [][]float64, n int, spread float64) []features.Vector {
	hands := Cluster(rng, center, n, spread)
	out := make([]features.Vector, len(hands))
	for i, h := range hands {
		v := make(features.Vector, 0, len(h)*features.Coords)
		for _, p := range h {
			v = append(v, p...)
		}
		out[i] = v
	}
	return out
}
