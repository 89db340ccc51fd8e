// Package model holds the classifiers that map feature vectors to class
// probabilities, and the on-disk artifact that pairs trained weights with
// their label index.
package model

import (
	"fmt"
	"math"
	"sort"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"

	"github.com/ayusman/senas/internal/features"
)

// Classifier kinds.
const (
	KindSoftmax  = "softmax"
	KindConvNet  = "convnet"
	KindCentroid = "centroid"
)

// Classifier maps one feature vector to a probability distribution over
// NumClasses classes. Implementations are safe for concurrent Predict calls.
type Classifier interface {
	Kind() string
	InputDim() int
	NumClasses() int
	Predict(x features.Vector) ([]float64, error)
	Serialize() ([]byte, error)
}

// Trainable is a Classifier that can be fitted batch by batch.
type Trainable interface {
	Classifier

	// TrainBatch runs one optimisation step and returns the mean
	// cross-entropy of the batch before the update.
	TrainBatch(xs []features.Vector, ys []int) (float64, error)

	// Snapshot returns an independent copy of the current parameters.
	Snapshot() Classifier
}

// Spec describes the classifier to build.
type Spec struct {
	// Shape is the encoder shape including the leading batch dimension.
	Shape        []int
	Classes      int
	LearningRate float64
	Seed         int64
	// Filters is the number of convolution filters (convnet only).
	Filters int
}

// InputDim is the product of Shape without the batch dimension.
func (s Spec) InputDim() int {
	if len(s.Shape) < 2 {
		return 0
	}
	n := 1
	for _, d := range s.Shape[1:] {
		n *= d
	}
	return n
}

func (s Spec) validate() error {
	if s.InputDim() <= 0 {
		return errors.Errorf("invalid input shape %v", s.Shape)
	}
	if s.Classes < 1 {
		return errors.Errorf("invalid class count %d", s.Classes)
	}
	return nil
}

// Maker builds an untrained classifier.
type Maker func(spec Spec) (Trainable, error)

// Deserializer rebuilds a classifier from Serialize output.
type Deserializer func(data []byte) (Classifier, error)

// Makers lists the trainable classifier kinds.
var Makers = map[string]Maker{
	KindSoftmax: func(s Spec) (Trainable, error) {
		return NewSoftmax(s)
	},
	KindConvNet: func(s Spec) (Trainable, error) {
		return NewConvNet(s)
	},
	KindCentroid: func(s Spec) (Trainable, error) {
		return NewCentroid(s)
	},
}

// Deserializers lists the loadable classifier kinds.
var Deserializers = map[string]Deserializer{
	KindSoftmax: func(d []byte) (Classifier, error) {
		return DeserializeSoftmax(d)
	},
	KindConvNet: func(d []byte) (Classifier, error) {
		return DeserializeConvNet(d)
	},
	KindCentroid: func(d []byte) (Classifier, error) {
		return DeserializeCentroid(d)
	},
}

// Kinds returns the registered kinds in sorted order.
func Kinds() []string {
	out := make([]string, 0, len(Makers))
	for k := range Makers {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// New builds an untrained classifier of the given kind.
func New(kind string, spec Spec) (Trainable, error) {
	maker, ok := Makers[kind]
	if !ok {
		return nil, fmt.Errorf("unknown classifier type: %s", kind)
	}
	if err := spec.validate(); err != nil {
		return nil, err
	}
	return maker(spec)
}

// Decode rebuilds a classifier of the given kind.
func Decode(kind string, data []byte) (Classifier, error) {
	d, ok := Deserializers[kind]
	if !ok {
		return nil, fmt.Errorf("unknown classifier type: %s", kind)
	}
	return d(data)
}

// softmaxInPlace turns logits into probabilities.
func softmaxInPlace(z []float64) {
	m := math.Inf(-1)
	for _, v := range z {
		if v > m {
			m = v
		}
	}
	var sum float64
	for i, v := range z {
		z[i] = math.Exp(v - m)
		sum += z[i]
	}
	for i := range z {
		z[i] /= sum
	}
}

// Argmax returns the index of the largest probability; the lowest index wins
// ties. It fails on an empty or non-finite distribution.
func Argmax(p []float64) (int, error) {
	if len(p) == 0 {
		return -1, errors.New("empty probability distribution")
	}
	if !allFinite(p) {
		return -1, errors.Errorf("non-finite probability distribution %v", p)
	}
	return floats.MaxIdx(p), nil
}

const minProb = 1e-12

// CrossEntropy is -log p[y], clamped away from infinity.
func CrossEntropy(p []float64, y int) float64 {
	return -math.Log(math.Max(p[y], minProb))
}

func checkInput(x features.Vector, dim int) error {
	if err := features.CheckDim(x, dim); err != nil {
		return err
	}
	for i, v := range x {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return &features.ShapeError{
				Want:   "finite features",
				Got:    fmt.Sprintf("%v at %d", v, i),
				Reason: "non-finite feature",
			}
		}
	}
	return nil
}

func checkBatch(xs []features.Vector, ys []int, dim, classes int) error {
	if len(xs) == 0 {
		return errors.New("empty batch")
	}
	if len(xs) != len(ys) {
		return errors.Errorf("batch has %d vectors and %d labels", len(xs), len(ys))
	}
	for i, x := range xs {
		if err := checkInput(x, dim); err != nil {
			return errors.Wrapf(err, "batch item %d", i)
		}
		if ys[i] < 0 || ys[i] >= classes {
			return errors.Errorf("batch item %d: class %d out of range [0, %d)", i, ys[i], classes)
		}
	}
	return nil
}
