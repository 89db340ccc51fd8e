package model

import (
	"encoding/json"
	"math"

	"github.com/pkg/errors"

	"github.com/ayusman/senas/internal/features"
)

// pointSize groups vector values into points for the distance measure:
// landmark x,y,z or pixel R,G,B.
const pointSize = 3

// Centroid scores each class by 1/(1+d), where d is the summed per-point
// Euclidean distance to the class mean, and normalises the scores into a
// distribution. Classes without training samples score zero.
type Centroid struct {
	dim    int
	sums   [][]float64
	counts []int
}

// NewCentroid returns an empty model.
func NewCentroid(spec Spec) (*Centroid, error) {
	c := &Centroid{
		dim:    spec.InputDim(),
		sums:   make([][]float64, spec.Classes),
		counts: make([]int, spec.Classes),
	}
	for k := range c.sums {
		c.sums[k] = make([]float64, c.dim)
	}
	return c, nil
}

func (c *Centroid) Kind() string { return KindCentroid }

func (c *Centroid) InputDim() int { return c.dim }

func (c *Centroid) NumClasses() int { return len(c.counts) }

func (c *Centroid) Predict(x features.Vector) ([]float64, error) {
	if err := checkInput(x, c.dim); err != nil {
		return nil, err
	}
	return c.scores(x)
}

func (c *Centroid) scores(x features.Vector) ([]float64, error) {
	out := make([]float64, len(c.counts))
	var total float64
	for k, n := range c.counts {
		if n == 0 {
			continue
		}
		d := pointDistance(x, c.sums[k], float64(n))
		out[k] = 1 / (1 + d)
		total += out[k]
	}
	if total == 0 {
		return nil, errors.New("centroid model has no trained classes")
	}
	for k := range out {
		out[k] /= total
	}
	return out, nil
}

// pointDistance sums the Euclidean distances between corresponding points of
// x and sum/n.
func pointDistance(x []float64, sum []float64, n float64) float64 {
	var total float64
	for i := 0; i < len(x); i += pointSize {
		var sq float64
		for j := i; j < i+pointSize && j < len(x); j++ {
			d := x[j] - sum[j]/n
			sq += d * d
		}
		total += math.Sqrt(sq)
	}
	return total
}

// TrainBatch folds the batch into the running class means. The returned loss
// is measured against the means before the update.
func (c *Centroid) TrainBatch(xs []features.Vector, ys []int) (float64, error) {
	if err := checkBatch(xs, ys, c.dim, len(c.counts)); err != nil {
		return 0, err
	}

	var loss float64
	scored := 0
	for i, x := range xs {
		if p, err := c.scores(x); err == nil {
			loss += CrossEntropy(p, ys[i])
			scored++
		}
	}
	for i, x := range xs {
		s := c.sums[ys[i]]
		for j, v := range x {
			s[j] += v
		}
		c.counts[ys[i]]++
	}

	if scored == 0 {
		return 0, nil
	}
	return loss / float64(scored), nil
}

func (c *Centroid) Snapshot() Classifier {
	s := &Centroid{
		dim:    c.dim,
		sums:   make([][]float64, len(c.sums)),
		counts: append([]int(nil), c.counts...),
	}
	for k := range c.sums {
		s.sums[k] = append([]float64(nil), c.sums[k]...)
	}
	return s
}

type centroidWeights struct {
	Centroids [][]float64 `json:"centroids"`
	Counts    []int       `json:"counts"`
}

func (c *Centroid) Serialize() ([]byte, error) {
	out := centroidWeights{
		Centroids: make([][]float64, len(c.sums)),
		Counts:    c.counts,
	}
	for k, s := range c.sums {
		mean := make([]float64, len(s))
		if n := c.counts[k]; n > 0 {
			for j, v := range s {
				mean[j] = v / float64(n)
			}
		}
		out.Centroids[k] = mean
	}
	return json.Marshal(out)
}

// DeserializeCentroid reads Serialize output.
func DeserializeCentroid(data []byte) (*Centroid, error) {
	var in centroidWeights
	if err := json.Unmarshal(data, &in); err != nil {
		return nil, errors.Wrap(err, "decode centroid weights")
	}
	if len(in.Centroids) == 0 || len(in.Centroids) != len(in.Counts) {
		return nil, errors.Errorf("centroid model has %d centroids and %d counts", len(in.Centroids), len(in.Counts))
	}

	c := &Centroid{
		dim:    len(in.Centroids[0]),
		sums:   make([][]float64, len(in.Centroids)),
		counts: in.Counts,
	}
	for k, mean := range in.Centroids {
		if c.dim == 0 || len(mean) != c.dim || !allFinite(mean) {
			return nil, errors.Errorf("centroid %d is malformed", k)
		}
		if in.Counts[k] < 0 {
			return nil, errors.Errorf("centroid %d has negative count", k)
		}
		sum := make([]float64, c.dim)
		for j, v := range mean {
			sum[j] = v * float64(in.Counts[k])
		}
		c.sums[k] = sum
	}
	return c, nil
}
