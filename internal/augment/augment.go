// Package augment expands a labeled frame corpus with simple photometric and
// geometric variations.
package augment

import (
	"image"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gocv.io/x/gocv"

	"github.com/ayusman/senas/internal/features"
)

// Number of frames produced by Augment for every input frame.
const NumVariants = 4

// Config holds augmentation parameters.
type Config struct {
	// Angle is the rotation in degrees; negative rotates clockwise.
	Angle float64 `yaml:"angle"`
	// Alpha and Beta are the brightness gain and offset.
	Alpha float64 `yaml:"alpha"`
	Beta  float64 `yaml:"beta"`
	// NoiseStdDev is the standard deviation of the additive Gaussian noise.
	NoiseStdDev float64 `yaml:"noise_stddev"`
	// Seed seeds the noise generator. Zero uses system entropy.
	Seed int64 `yaml:"seed"`
	// Workers bounds how many videos PrepareCorpus decodes at once.
	Workers int `yaml:"workers"`
}

// DefaultConfig returns the standard augmentation settings.
func DefaultConfig() Config {
	return Config{
		Angle:       -15,
		Alpha:       1.2,
		Beta:        30,
		NoiseStdDev: 25,
		Workers:     4,
	}
}

// Augmenter produces augmented copies of frames.
type Augmenter struct {
	config Config
	log    *zap.Logger

	mu  sync.Mutex
	rng *rand.Rand
}

// New creates an Augmenter. A nil logger discards output.
func New(config Config, log *zap.Logger) *Augmenter {
	if log == nil {
		log = zap.NewNop()
	}
	if config.Workers <= 0 {
		config.Workers = 1
	}
	seed := config.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Augmenter{
		config: config,
		log:    log,
		rng:    rand.New(rand.NewSource(seed)),
	}
}

// Augment returns exactly NumVariants new frames, in order: horizontal flip,
// rotation about the centre, brightness adjustment, Gaussian noise. Every
// output has the input's size and type. frame is not modified. The caller
// closes the returned Mats.
func (a *Augmenter) Augment(frame gocv.Mat) ([]gocv.Mat, error) {
	if frame.Empty() {
		return nil, &features.DecodeError{Err: errors.New("empty frame")}
	}
	if frame.Type() != gocv.MatTypeCV8UC1 && frame.Type() != gocv.MatTypeCV8UC3 {
		return nil, &features.DecodeError{Err: errors.Errorf("unsupported mat type %v", frame.Type())}
	}

	out := make([]gocv.Mat, 0, NumVariants)
	closeAll := func() {
		for _, m := range out {
			m.Close()
		}
	}

	flipped := gocv.NewMat()
	gocv.Flip(frame, &flipped, 1)
	out = append(out, flipped)

	rotated, err := a.rotate(frame)
	if err != nil {
		closeAll()
		return nil, err
	}
	out = append(out, rotated)

	bright := gocv.NewMat()
	gocv.ConvertScaleAbs(frame, &bright, a.config.Alpha, a.config.Beta)
	out = append(out, bright)

	noisy, err := a.noise(frame)
	if err != nil {
		closeAll()
		return nil, err
	}
	out = append(out, noisy)

	for _, m := range out {
		if m.Empty() || m.Rows() != frame.Rows() || m.Cols() != frame.Cols() {
			closeAll()
			return nil, errors.New("augmentation produced a frame of the wrong size")
		}
	}
	return out, nil
}

// rotate turns frame by config.Angle degrees about its centre, keeping the
// original size. Uncovered corners are filled with black.
func (a *Augmenter) rotate(frame gocv.Mat) (gocv.Mat, error) {
	m := rotationMatrix(a.config.Angle, float64(frame.Cols())/2, float64(frame.Rows())/2)
	defer m.Close()
	if m.Empty() {
		return gocv.NewMat(), errors.New("allocate rotation matrix")
	}

	dst := gocv.NewMat()
	gocv.WarpAffine(frame, &dst, m, image.Pt(frame.Cols(), frame.Rows()))
	return dst, nil
}

// rotationMatrix builds the 2x3 affine matrix for a counter-clockwise
// rotation by deg degrees about (cx, cy), unit scale.
func rotationMatrix(deg, cx, cy float64) gocv.Mat {
	rad := deg * math.Pi / 180
	alpha, beta := math.Cos(rad), math.Sin(rad)

	m := gocv.NewMatWithSize(2, 3, gocv.MatTypeCV64F)
	m.SetDoubleAt(0, 0, alpha)
	m.SetDoubleAt(0, 1, beta)
	m.SetDoubleAt(0, 2, (1-alpha)*cx-beta*cy)
	m.SetDoubleAt(1, 0, -beta)
	m.SetDoubleAt(1, 1, alpha)
	m.SetDoubleAt(1, 2, beta*cx+(1-alpha)*cy)
	return m
}

// noise adds N(0, NoiseStdDev) to every byte, saturating at 0 and 255.
func (a *Augmenter) noise(frame gocv.Mat) (gocv.Mat, error) {
	src := frame.ToBytes()
	data := make([]byte, len(src))

	a.mu.Lock()
	for i, b := range src {
		v := math.Round(float64(b) + a.rng.NormFloat64()*a.config.NoiseStdDev)
		data[i] = uint8(math.Max(0, math.Min(255, v)))
	}
	a.mu.Unlock()

	view, err := gocv.NewMatFromBytes(frame.Rows(), frame.Cols(), frame.Type(), data)
	if err != nil {
		return gocv.NewMat(), errors.Wrap(err, "build noisy frame")
	}
	defer view.Close()
	// view may alias data; hand back an owned copy.
	return view.Clone(), nil
}
