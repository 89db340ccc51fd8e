// Package trainer fits a classifier on a labeled train/test split, keeping
// the best epoch seen so far.
package trainer

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/ayusman/senas/internal/dataset"
	"github.com/ayusman/senas/internal/features"
	"github.com/ayusman/senas/internal/labels"
	"github.com/ayusman/senas/internal/metrics"
	"github.com/ayusman/senas/internal/model"
)

// Monitored quantities for checkpointing. Only the validation values are
// configurable; a run without test samples falls back to the matching
// training value.
const (
	MonitorValAccuracy = "val_accuracy"
	MonitorValLoss     = "val_loss"
	MonitorAccuracy    = "accuracy"
	MonitorLoss        = "loss"
)

// Config holds training parameters.
type Config struct {
	Kind         string        `yaml:"kind"`
	Mode         features.Mode `yaml:"mode"`
	ImageWidth   int           `yaml:"image_width"`
	ImageHeight  int           `yaml:"image_height"`
	Epochs       int           `yaml:"epochs"`
	BatchSize    int           `yaml:"batch_size"`
	LearningRate float64       `yaml:"learning_rate"`
	// Seed drives shuffling and weight initialisation. Zero uses the clock.
	Seed    int64  `yaml:"seed"`
	Monitor string `yaml:"monitor"`
	Filters int    `yaml:"filters"`
}

// DefaultConfig returns the standard training settings.
func DefaultConfig() Config {
	return Config{
		Kind:        model.KindSoftmax,
		Mode:        features.ModeLandmark,
		ImageWidth:  features.DefaultImageSize,
		ImageHeight: features.DefaultImageSize,
		Epochs:      10,
		BatchSize:   32,
		Monitor:     MonitorValAccuracy,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if _, ok := model.Makers[c.Kind]; !ok {
		return errors.Errorf("unknown classifier kind %q (want one of %s)", c.Kind, strings.Join(model.Kinds(), ", "))
	}
	if _, err := features.ParseMode(string(c.Mode)); err != nil {
		return err
	}
	if c.Epochs < 1 {
		return errors.Errorf("epochs must be positive, got %d", c.Epochs)
	}
	if c.BatchSize < 1 {
		return errors.Errorf("batch size must be positive, got %d", c.BatchSize)
	}
	if c.Monitor != MonitorValAccuracy && c.Monitor != MonitorValLoss {
		return errors.Errorf("unknown monitor %q", c.Monitor)
	}
	return nil
}

// LabelMismatchError reports test classes that have no training samples.
type LabelMismatchError struct {
	Classes []string
}

func (e *LabelMismatchError) Error() string {
	return fmt.Sprintf("classes %s have test samples but no training samples", strings.Join(e.Classes, ", "))
}

// SampleError reports a sample that could not be encoded. Counts are the
// per-class sample counts of the split being read.
type SampleError struct {
	Source string
	Counts map[string]int
	Err    error
}

func (e *SampleError) Error() string {
	return fmt.Sprintf("sample %s: %v (class counts %v)", e.Source, e.Err, e.Counts)
}

func (e *SampleError) Unwrap() error { return e.Err }

// EpochMetrics is the per-epoch training log entry.
type EpochMetrics struct {
	Epoch       int     `csv:"epoch" json:"epoch"`
	Loss        float64 `csv:"loss" json:"loss"`
	Accuracy    float64 `csv:"accuracy" json:"accuracy"`
	ValLoss     float64 `csv:"val_loss" json:"val_loss"`
	ValAccuracy float64 `csv:"val_accuracy" json:"val_accuracy"`
	Improved    bool    `csv:"improved" json:"improved"`
	Seconds     float64 `csv:"seconds" json:"seconds"`
}

// RunInfo describes a run when it starts.
type RunInfo struct {
	ID           string
	Kind         string
	Mode         features.Mode
	Monitor      string
	TrainSamples int
	TestSamples  int
}

// MetricsSink receives the run log as training progresses. Sink errors are
// logged and never abort training.
type MetricsSink interface {
	StartRun(run RunInfo) error
	RecordEpoch(runID string, m EpochMetrics) error
	FinishRun(runID string, res *Result, runErr error) error
}

// Result is the outcome of a training run.
type Result struct {
	RunID      string
	Artifact   *model.Artifact
	History    []EpochMetrics
	BestEpoch  int
	BestValue  float64
	// Monitor is the value BestValue measures. It differs from the
	// configured monitor when the test set is empty.
	Monitor    string
	TrainCount map[string]int
	TestCount  map[string]int
}

// Trainer runs training. Training is synchronous and single-threaded.
type Trainer struct {
	config Config
	log    *zap.Logger
	sink   MetricsSink
}

// New creates a Trainer. A nil logger discards output.
func New(config Config, log *zap.Logger) (*Trainer, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Trainer{config: config, log: log}, nil
}

// WithSink sets the epoch metrics sink.
func (t *Trainer) WithSink(sink MetricsSink) *Trainer {
	t.sink = sink
	return t
}

type item struct {
	sample dataset.Sample
	class  int
}

// Train fits a new classifier. The label index is built from the classes
// that have at least one training sample. For every epoch the train set is
// shuffled, fed in batches and then scored on the test set; an epoch
// replaces the kept weights only if the monitored value strictly improves.
func (t *Trainer) Train(ctx context.Context, train, test map[string][]dataset.Sample) (*Result, error) {
	res := &Result{
		RunID:      uuid.NewString(),
		Monitor:    t.config.Monitor,
		TrainCount: dataset.Counts(train),
		TestCount:  dataset.Counts(test),
	}
	log := t.log.With(zap.String("run_id", res.RunID))

	if t.sink != nil {
		info := RunInfo{
			ID:      res.RunID,
			Kind:    t.config.Kind,
			Mode:    t.config.Mode,
			Monitor: t.config.Monitor,
		}
		for _, n := range res.TrainCount {
			info.TrainSamples += n
		}
		for _, n := range res.TestCount {
			info.TestSamples += n
		}
		if err := t.sink.StartRun(info); err != nil {
			log.Warn("failed to record run start", zap.Error(err))
		}
	}

	err := t.train(ctx, log, res, train, test)
	if t.sink != nil {
		if serr := t.sink.FinishRun(res.RunID, res, err); serr != nil {
			log.Warn("failed to record run result", zap.Error(serr))
		}
	}
	if err != nil {
		log.Error("training failed", zap.Error(err))
		return nil, err
	}
	return res, nil
}

func (t *Trainer) train(ctx context.Context, log *zap.Logger, res *Result, train, test map[string][]dataset.Sample) error {
	idx, err := buildIndex(train, test)
	if err != nil {
		return err
	}

	enc, err := t.encoder()
	if err != nil {
		return err
	}

	trainItems := flatten(train, idx)
	testItems := flatten(test, idx)

	seed := t.config.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))

	clf, err := model.New(t.config.Kind, model.Spec{
		Shape:        enc.Shape(),
		Classes:      idx.Len(),
		LearningRate: t.config.LearningRate,
		Seed:         seed,
		Filters:      t.config.Filters,
	})
	if err != nil {
		return err
	}

	log.Info("training started",
		zap.String("kind", t.config.Kind),
		zap.String("mode", string(enc.Mode())),
		zap.Strings("classes", idx.Names()),
		zap.Int("train_samples", len(trainItems)),
		zap.Int("test_samples", len(testItems)),
		zap.Int("epochs", t.config.Epochs))

	useTrain := len(testItems) == 0
	maximize := t.config.Monitor == MonitorValAccuracy
	if useTrain {
		res.Monitor = MonitorLoss
		if maximize {
			res.Monitor = MonitorAccuracy
		}
		log.Warn("test set is empty, monitoring training metrics instead", zap.String("monitor", res.Monitor))
	}

	var (
		best    model.Classifier
		bestVal float64
	)

	for epoch := 1; epoch <= t.config.Epochs; epoch++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		start := time.Now()

		m := EpochMetrics{Epoch: epoch}
		m.Loss, m.Accuracy, err = t.runEpoch(ctx, clf, enc, trainItems, rng, res.TrainCount)
		if err != nil {
			return err
		}
		if !useTrain {
			m.ValLoss, m.ValAccuracy, err = evaluate(ctx, clf, enc, testItems, res.TestCount)
			if err != nil {
				return err
			}
		}

		val := m.ValAccuracy
		switch {
		case useTrain && maximize:
			val = m.Accuracy
		case useTrain:
			val = m.Loss
		case !maximize:
			val = m.ValLoss
		}
		if best == nil || (maximize && val > bestVal) || (!maximize && val < bestVal) {
			best = clf.Snapshot()
			bestVal = val
			res.BestEpoch = epoch
			m.Improved = true
		}
		m.Seconds = time.Since(start).Seconds()

		res.History = append(res.History, m)
		metrics.ObserveEpoch(res.Monitor, val)
		if t.sink != nil {
			if err := t.sink.RecordEpoch(res.RunID, m); err != nil {
				log.Warn("failed to record epoch", zap.Int("epoch", epoch), zap.Error(err))
			}
		}
		log.Info("epoch done",
			zap.Int("epoch", epoch),
			zap.Float64("loss", m.Loss),
			zap.Float64("accuracy", m.Accuracy),
			zap.Float64("val_loss", m.ValLoss),
			zap.Float64("val_accuracy", m.ValAccuracy),
			zap.Bool("improved", m.Improved))
	}

	res.BestValue = bestVal
	res.Artifact = &model.Artifact{
		Manifest: model.Manifest{
			Mode:         enc.Mode(),
			Shape:        enc.Shape(),
			LandmarkNorm: landmarkNorm(enc),
			RunID:        res.RunID,
			Monitor:      res.Monitor,
			BestEpoch:    res.BestEpoch,
			BestValue:    bestVal,
		},
		Classifier: best,
		Labels:     idx,
	}
	log.Info("training finished",
		zap.Int("best_epoch", res.BestEpoch),
		zap.String("monitor", res.Monitor),
		zap.Float64("best_value", bestVal))
	return nil
}

func buildIndex(train, test map[string][]dataset.Sample) (*labels.Index, error) {
	var names []string
	for class, samples := range train {
		if len(samples) > 0 {
			names = append(names, class)
		}
	}
	if len(names) == 0 {
		return nil, errors.New("no training samples")
	}
	idx, err := labels.Build(names)
	if err != nil {
		return nil, err
	}

	var missing []string
	for class, samples := range test {
		if len(samples) == 0 {
			continue
		}
		if _, err := idx.Encode(class); err != nil {
			missing = append(missing, class)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, &LabelMismatchError{Classes: missing}
	}
	return idx, nil
}

func (t *Trainer) encoder() (features.Encoder, error) {
	if t.config.Mode == features.ModeImage {
		return features.NewImageEncoder(t.config.ImageWidth, t.config.ImageHeight)
	}
	return features.NewNormalizingLandmarkEncoder(features.NormWristScale)
}

func landmarkNorm(enc features.Encoder) features.Normalization {
	if le, ok := enc.(*features.LandmarkEncoder); ok {
		return le.Normalization()
	}
	return features.NormNone
}

// flatten lists samples in sorted class order. Classes absent from idx are
// empty here; buildIndex has already rejected any that were not.
func flatten(groups map[string][]dataset.Sample, idx *labels.Index) []item {
	var out []item
	for _, class := range idx.Names() {
		y, _ := idx.Encode(class)
		for _, s := range groups[class] {
			out = append(out, item{sample: s, class: y})
		}
	}
	return out
}

func encode(enc features.Encoder, s dataset.Sample, counts map[string]int) (features.Vector, error) {
	var (
		v   features.Vector
		err error
	)
	switch {
	case s.Vector != nil:
		if le, ok := enc.(*features.LandmarkEncoder); ok {
			v, err = le.Prepare(s.Vector)
		} else {
			v, err = s.Vector, features.CheckDim(s.Vector, enc.Dim())
		}
	case s.Path != "":
		img, ok := enc.(*features.ImageEncoder)
		if !ok {
			err = errors.Errorf("%s encoder cannot read image files", enc.Mode())
		} else {
			v, err = img.EncodeImageFile(s.Path)
		}
	default:
		err = errors.New("sample has neither a vector nor a path")
	}
	if err != nil {
		return nil, &SampleError{Source: s.Source(), Counts: counts, Err: err}
	}
	return v, nil
}

func (t *Trainer) runEpoch(ctx context.Context, clf model.Trainable, enc features.Encoder, items []item, rng *rand.Rand, counts map[string]int) (loss, acc float64, err error) {
	order := rng.Perm(len(items))

	var (
		lossSum float64
		correct int
	)
	for lo := 0; lo < len(order); lo += t.config.BatchSize {
		if err := ctx.Err(); err != nil {
			return 0, 0, err
		}
		hi := min(lo+t.config.BatchSize, len(order))

		batch := order[lo:hi]
		xs := make([]features.Vector, 0, len(batch))
		ys := make([]int, 0, len(batch))
		for _, i := range batch {
			v, err := encode(enc, items[i].sample, counts)
			if err != nil {
				return 0, 0, err
			}
			xs = append(xs, v)
			ys = append(ys, items[i].class)
		}

		// Accuracy is measured on the weights the batch sees, before the
		// update.
		for i, x := range xs {
			ok, err := predicts(clf, x, ys[i])
			if err != nil {
				return 0, 0, &SampleError{Source: items[batch[i]].sample.Source(), Counts: counts, Err: err}
			}
			if ok {
				correct++
			}
		}

		l, err := clf.TrainBatch(xs, ys)
		if err != nil {
			return 0, 0, errors.Wrapf(err, "train batch at %d", lo)
		}
		lossSum += l * float64(len(xs))
	}
	n := float64(len(items))
	return lossSum / n, float64(correct) / n, nil
}

func predicts(clf model.Classifier, x features.Vector, y int) (bool, error) {
	p, err := clf.Predict(x)
	if err != nil {
		return false, err
	}
	best, err := model.Argmax(p)
	if err != nil {
		return false, err
	}
	return best == y, nil
}

func evaluate(ctx context.Context, clf model.Classifier, enc features.Encoder, items []item, counts map[string]int) (loss, acc float64, err error) {
	var correct int
	for _, it := range items {
		if err := ctx.Err(); err != nil {
			return 0, 0, err
		}
		x, err := encode(enc, it.sample, counts)
		if err != nil {
			return 0, 0, err
		}
		p, err := clf.Predict(x)
		if err != nil {
			return 0, 0, &SampleError{Source: it.sample.Source(), Counts: counts, Err: err}
		}
		best, err := model.Argmax(p)
		if err != nil {
			return 0, 0, &SampleError{Source: it.sample.Source(), Counts: counts, Err: err}
		}
		loss += model.CrossEntropy(p, it.class)
		if best == it.class {
			correct++
		}
	}
	if math.IsNaN(loss) {
		return 0, 0, errors.New("validation loss is NaN")
	}
	n := float64(len(items))
	return loss / n, float64(correct) / n, nil
}
