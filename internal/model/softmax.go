package model

import (
	"encoding/json"
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/ayusman/senas/internal/features"
)

const defaultSoftmaxRate = 0.5

// Softmax is multinomial logistic regression: p = softmax(Wx + b).
type Softmax struct {
	w  *mat.Dense // classes x dim
	b  []float64
	lr float64
}

// NewSoftmax returns a zero-initialised model.
func NewSoftmax(spec Spec) (*Softmax, error) {
	lr := spec.LearningRate
	if lr <= 0 {
		lr = defaultSoftmaxRate
	}
	return &Softmax{
		w:  mat.NewDense(spec.Classes, spec.InputDim(), nil),
		b:  make([]float64, spec.Classes),
		lr: lr,
	}, nil
}

func (s *Softmax) Kind() string { return KindSoftmax }

func (s *Softmax) InputDim() int {
	_, c := s.w.Dims()
	return c
}

func (s *Softmax) NumClasses() int { return len(s.b) }

func (s *Softmax) Predict(x features.Vector) ([]float64, error) {
	if err := checkInput(x, s.InputDim()); err != nil {
		return nil, err
	}
	var z mat.VecDense
	z.MulVec(s.w, mat.NewVecDense(len(x), x))

	out := make([]float64, len(s.b))
	for k := range out {
		out[k] = z.AtVec(k) + s.b[k]
	}
	softmaxInPlace(out)
	return out, nil
}

// TrainBatch takes one gradient descent step on the batch cross-entropy.
func (s *Softmax) TrainBatch(xs []features.Vector, ys []int) (float64, error) {
	classes, dim := s.w.Dims()
	if err := checkBatch(xs, ys, dim, classes); err != nil {
		return 0, err
	}

	n := len(xs)
	x := mat.NewDense(n, dim, nil)
	for i, v := range xs {
		x.SetRow(i, v)
	}

	var z mat.Dense
	z.Mul(x, s.w.T())

	// g holds dLoss/dLogits = p - onehot(y).
	g := mat.NewDense(n, classes, nil)
	row := make([]float64, classes)
	var loss float64
	for i := 0; i < n; i++ {
		for k := range row {
			row[k] = z.At(i, k) + s.b[k]
		}
		softmaxInPlace(row)
		loss += CrossEntropy(row, ys[i])
		row[ys[i]]--
		g.SetRow(i, row)
	}

	step := s.lr / float64(n)

	var gw mat.Dense
	gw.Mul(g.T(), x)
	gw.Scale(step, &gw)
	s.w.Sub(s.w, &gw)

	col := make([]float64, n)
	for k := range s.b {
		s.b[k] -= step * floats.Sum(mat.Col(col, k, g))
	}
	return loss / float64(n), nil
}

func (s *Softmax) Snapshot() Classifier {
	return &Softmax{
		w:  mat.DenseCopyOf(s.w),
		b:  append([]float64(nil), s.b...),
		lr: s.lr,
	}
}

// softmaxWeights is the weights.json layout: W is classes x features.
type softmaxWeights struct {
	W [][]float64 `json:"W"`
	B []float64   `json:"b"`
}

func (s *Softmax) Serialize() ([]byte, error) {
	classes, _ := s.w.Dims()
	out := softmaxWeights{
		W: make([][]float64, classes),
		B: s.b,
	}
	for k := 0; k < classes; k++ {
		out.W[k] = mat.Row(nil, k, s.w)
	}
	return json.Marshal(out)
}

// DeserializeSoftmax reads Serialize output.
func DeserializeSoftmax(data []byte) (*Softmax, error) {
	var in softmaxWeights
	if err := json.Unmarshal(data, &in); err != nil {
		return nil, errors.Wrap(err, "decode softmax weights")
	}
	if len(in.W) == 0 || len(in.W[0]) == 0 {
		return nil, errors.New("softmax weights are empty")
	}
	if len(in.B) != len(in.W) {
		return nil, errors.Errorf("softmax has %d weight rows and %d biases", len(in.W), len(in.B))
	}

	dim := len(in.W[0])
	w := mat.NewDense(len(in.W), dim, nil)
	for k, r := range in.W {
		if len(r) != dim {
			return nil, errors.Errorf("softmax weight row %d has %d values, want %d", k, len(r), dim)
		}
		if !allFinite(r) {
			return nil, errors.Errorf("softmax weight row %d is not finite", k)
		}
		w.SetRow(k, r)
	}
	if !allFinite(in.B) {
		return nil, errors.New("softmax biases are not finite")
	}
	return &Softmax{w: w, b: in.B, lr: defaultSoftmaxRate}, nil
}

func allFinite(v []float64) bool {
	for _, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return true
}
