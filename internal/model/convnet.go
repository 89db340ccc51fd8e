package model

import (
	"encoding/json"
	"math"
	"math/rand"

	"github.com/pkg/errors"
	"github.com/unixpickle/autofunc"
	"github.com/unixpickle/num-analysis/linalg"
	"github.com/unixpickle/weakai/neuralnet"

	"github.com/ayusman/senas/internal/features"
)

const (
	kernelSize = 3
	poolSize   = 2

	defaultFilters     = 8
	defaultConvNetRate = 0.01
)

// ConvNet is a small image classifier built from neuralnet layers: one
// valid 3x3 convolution with ReLU, 2x2 max pooling and a dense log-softmax
// output. Input vectors are laid out height x width x channel.
type ConvNet struct {
	height, width, channels int
	filters                 int
	classes                 int

	net neuralnet.Network
	lr  float64
}

// buildConvNet lays out the network for a geometry. Parameters are
// allocated but not meaningful until initialised or copied in.
func buildConvNet(h, w, c, filters, classes int) (neuralnet.Network, *neuralnet.ConvLayer, *neuralnet.DenseLayer) {
	conv := &neuralnet.ConvLayer{
		FilterCount:  filters,
		FilterWidth:  kernelSize,
		FilterHeight: kernelSize,
		Stride:       1,
		InputWidth:   w,
		InputHeight:  h,
		InputDepth:   c,
	}
	pool := &neuralnet.MaxPoolingLayer{
		XSpan:       poolSize,
		YSpan:       poolSize,
		InputWidth:  conv.OutputWidth(),
		InputHeight: conv.OutputHeight(),
		InputDepth:  filters,
	}
	dense := &neuralnet.DenseLayer{
		InputCount:  pool.OutputWidth() * pool.OutputHeight() * filters,
		OutputCount: classes,
	}
	net := neuralnet.Network{conv, &neuralnet.ReLU{}, pool, dense, &neuralnet.LogSoftmaxLayer{}}
	net.Randomize()
	return net, conv, dense
}

func checkGeometry(h, w, c, filters, classes int) error {
	if h < kernelSize+1 || w < kernelSize+1 || c < 1 || filters < 1 {
		return errors.Errorf("invalid convnet geometry %dx%dx%d with %d filters", h, w, c, filters)
	}
	if classes < 1 {
		return errors.New("convnet has no output classes")
	}
	return nil
}

// NewConvNet builds a He-initialised network for an image Shape [1 H W C].
func NewConvNet(spec Spec) (*ConvNet, error) {
	if len(spec.Shape) != 4 {
		return nil, errors.Errorf("convnet needs an image shape [1 H W C], got %v", spec.Shape)
	}
	h, w, c := spec.Shape[1], spec.Shape[2], spec.Shape[3]
	filters := spec.Filters
	if filters <= 0 {
		filters = defaultFilters
	}
	if err := checkGeometry(h, w, c, filters, spec.Classes); err != nil {
		return nil, errors.Wrapf(err, "image shape %v", spec.Shape)
	}
	lr := spec.LearningRate
	if lr <= 0 {
		lr = defaultConvNetRate
	}

	net, conv, dense := buildConvNet(h, w, c, filters, spec.Classes)

	// Randomize draws from the global source; redraw from the seed.
	rng := rand.New(rand.NewSource(spec.Seed))
	heInit(rng, conv.Parameters(), kernelSize*kernelSize*c)
	heInit(rng, dense.Parameters(), dense.InputCount)

	return &ConvNet{
		height:   h,
		width:    w,
		channels: c,
		filters:  filters,
		classes:  spec.Classes,
		net:      net,
		lr:       lr,
	}, nil
}

func heInit(rng *rand.Rand, params []*autofunc.Variable, fanIn int) {
	std := math.Sqrt(2 / float64(fanIn))
	for _, p := range params {
		for i := range p.Vector {
			p.Vector[i] = rng.NormFloat64() * std
		}
	}
}

func (n *ConvNet) Kind() string { return KindConvNet }

func (n *ConvNet) InputDim() int { return n.height * n.width * n.channels }

func (n *ConvNet) NumClasses() int { return n.classes }

func (n *ConvNet) apply(x features.Vector) autofunc.Result {
	return n.net.Apply(&autofunc.Variable{Vector: linalg.Vector(x)})
}

// Predict runs a forward pass. The network is only read, so concurrent
// calls are safe.
func (n *ConvNet) Predict(x features.Vector) ([]float64, error) {
	if err := checkInput(x, n.InputDim()); err != nil {
		return nil, err
	}
	logProbs := n.apply(x).Output()
	p := make([]float64, len(logProbs))
	for i, v := range logProbs {
		p[i] = math.Exp(v)
	}
	return p, nil
}

// TrainBatch backpropagates the batch cross-entropy and takes one gradient
// descent step.
func (n *ConvNet) TrainBatch(xs []features.Vector, ys []int) (float64, error) {
	if err := checkBatch(xs, ys, n.InputDim(), n.NumClasses()); err != nil {
		return 0, err
	}

	// DotCost against a one-hot target is the cross-entropy of the
	// log-softmax output.
	var cost neuralnet.DotCost
	grad := autofunc.NewGradient(n.net.Parameters())
	var loss float64
	for i, x := range xs {
		target := make(linalg.Vector, n.classes)
		target[ys[i]] = 1
		c := cost.Cost(target, n.apply(x))
		loss += c.Output()[0]
		c.PropagateGradient(linalg.Vector{1}, grad)
	}
	if math.IsNaN(loss) || math.IsInf(loss, 0) {
		return 0, errors.Errorf("convnet loss diverged: %v", loss)
	}

	grad.AddToVars(-n.lr / float64(len(xs)))
	return loss / float64(len(xs)), nil
}

func (n *ConvNet) params() [][]float64 {
	vars := n.net.Parameters()
	out := make([][]float64, len(vars))
	for i, v := range vars {
		out[i] = v.Vector
	}
	return out
}

// Snapshot copies the parameters into a freshly built network of the same
// geometry.
func (n *ConvNet) Snapshot() Classifier {
	net, _, _ := buildConvNet(n.height, n.width, n.channels, n.filters, n.classes)
	dst := net.Parameters()
	for i, v := range n.net.Parameters() {
		copy(dst[i].Vector, v.Vector)
	}
	c := *n
	c.net = net
	return &c
}

type convNetWeights struct {
	Height   int `json:"height"`
	Width    int `json:"width"`
	Channels int `json:"channels"`
	Filters  int `json:"filters"`
	Classes  int `json:"classes"`
	// Network is the neuralnet serialization of the layers.
	Network []byte `json:"network"`
}

func (n *ConvNet) Serialize() ([]byte, error) {
	data, err := n.net.Serialize()
	if err != nil {
		return nil, errors.Wrap(err, "serialize convnet")
	}
	return json.Marshal(convNetWeights{
		Height:   n.height,
		Width:    n.width,
		Channels: n.channels,
		Filters:  n.filters,
		Classes:  n.classes,
		Network:  data,
	})
}

// DeserializeConvNet reads Serialize output. The decoded network must have
// exactly the parameters of a network built for the recorded geometry.
func DeserializeConvNet(data []byte) (*ConvNet, error) {
	var in convNetWeights
	if err := json.Unmarshal(data, &in); err != nil {
		return nil, errors.Wrap(err, "decode convnet weights")
	}
	if err := checkGeometry(in.Height, in.Width, in.Channels, in.Filters, in.Classes); err != nil {
		return nil, err
	}
	if len(in.Network) == 0 {
		return nil, errors.New("convnet weights have no network")
	}

	net, err := neuralnet.DeserializeNetwork(in.Network)
	if err != nil {
		return nil, errors.Wrap(err, "decode convnet network")
	}

	ref, _, _ := buildConvNet(in.Height, in.Width, in.Channels, in.Filters, in.Classes)
	want, got := ref.Parameters(), net.Parameters()
	if len(want) != len(got) {
		return nil, errors.Errorf("convnet has %d parameter blocks, want %d", len(got), len(want))
	}
	for i := range want {
		if len(got[i].Vector) != len(want[i].Vector) {
			return nil, errors.Errorf("convnet parameter block %d has %d values, want %d",
				i, len(got[i].Vector), len(want[i].Vector))
		}
		if !allFinite(got[i].Vector) {
			return nil, errors.New("convnet weights are not finite")
		}
	}

	return &ConvNet{
		height:   in.Height,
		width:    in.Width,
		channels: in.Channels,
		filters:  in.Filters,
		classes:  in.Classes,
		net:      net,
		lr:       defaultConvNetRate,
	}, nil
}
