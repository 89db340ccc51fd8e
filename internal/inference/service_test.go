package inference

import (
	"context"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ayusman/senas/internal/dataset"
	"github.com/ayusman/senas/internal/features"
	"github.com/ayusman/senas/internal/fixtures"
	"github.com/ayusman/senas/internal/labels"
	"github.com/ayusman/senas/internal/model"
	"github.com/ayusman/senas/internal/trainer"
)

// trainArtifact trains a landmark model on the given label -> pose map and
// saves it to a fresh directory.
func trainArtifact(t *testing.T, poses map[string][][]float64) string {
	t.Helper()
	rng := rand.New(rand.NewSource(1))
	groups := make(map[string][]dataset.Sample)
	for label, center := range poses {
		for _, v := range fixtures.ClusterVectors(rng, center, 20, 0.05) {
			groups[label] = append(groups[label], dataset.Sample{Label: label, Vector: v})
		}
	}

	cfg := trainer.DefaultConfig()
	cfg.Epochs = 5
	cfg.BatchSize = 8
	cfg.Seed = 1
	tr, err := trainer.New(cfg, nil)
	require.NoError(t, err)
	res, err := tr.Train(context.Background(), groups, groups)
	require.NoError(t, err)

	dir := filepath.Join(t.TempDir(), "model")
	require.NoError(t, res.Artifact.Save(dir))
	return dir
}

func defaultArtifact(t *testing.T) string {
	return trainArtifact(t, map[string][][]float64{
		"A": fixtures.ThumbsUp(),
		"B": fixtures.OpenPalm(),
	})
}

func TestPredictBeforeLoad(t *testing.T) {
	s := New(nil)
	assert.Equal(t, StateUninitialized, s.State())
	assert.Nil(t, s.Labels())

	_, err := s.PredictLandmarks(fixtures.ThumbsUp())
	var nl *ModelNotLoadedError
	require.True(t, errors.As(err, &nl))
	assert.True(t, errors.Is(err, ErrModelNotLoaded))
	assert.Nil(t, nl.Cause)
}

func TestLoadFailureStaysUninitialized(t *testing.T) {
	s := New(nil)
	err := s.Load(filepath.Join(t.TempDir(), "missing"))
	require.Error(t, err)
	assert.False(t, s.Ready())

	_, err = s.PredictLandmarks(fixtures.ThumbsUp())
	var nl *ModelNotLoadedError
	require.True(t, errors.As(err, &nl))
	assert.Error(t, nl.Cause)
	assert.NotEmpty(t, s.Info().LastError)
}

func TestLoadWithoutLabelsFails(t *testing.T) {
	dir := defaultArtifact(t)
	require.NoError(t, os.Remove(filepath.Join(dir, model.LabelsFile)))

	s := New(nil)
	err := s.Load(dir)
	var me *model.MissingLabelIndexError
	assert.True(t, errors.As(err, &me))
	assert.Equal(t, StateUninitialized, s.State())
}

func TestPredict(t *testing.T) {
	s := New(nil)
	require.NoError(t, s.Load(defaultArtifact(t)))
	require.Equal(t, StateReady, s.State())
	assert.Equal(t, features.ModeLandmark, s.Mode())

	for label, pose := range map[string][][]float64{
		"A": fixtures.ThumbsUp(),
		"B": fixtures.OpenPalm(),
	} {
		res, err := s.PredictLandmarks(pose)
		require.NoError(t, err)
		assert.Equal(t, label, res.Label)
		assert.Greater(t, res.Confidence, 0.5)
		assert.Equal(t, res.Probabilities[res.Index], res.Confidence)
		assert.Equal(t, []string{"A", "B"}, res.Labels)

		var sum float64
		for _, p := range res.Probabilities {
			sum += p
		}
		assert.InDelta(t, 1, sum, 1e-9)
	}

	info := s.Info()
	assert.Equal(t, []string{"A", "B"}, info.Labels)
	assert.Equal(t, model.KindSoftmax, info.Kind)
	assert.NotNil(t, info.LoadedAt)
	assert.Equal(t, info.Labels, s.Labels())
}

func TestPredictInvalidInput(t *testing.T) {
	s := New(nil)
	require.NoError(t, s.Load(defaultArtifact(t)))

	inputs := map[string][][]float64{
		"20 points": fixtures.ThumbsUp()[:20],
		"nil":       nil,
		"2 coords":  func() [][]float64 { p := fixtures.ThumbsUp(); p[3] = p[3][:2]; return p }(),
		"nan":       func() [][]float64 { p := fixtures.ThumbsUp(); p[0][0] = math.NaN(); return p }(),
	}
	for name, pts := range inputs {
		_, err := s.PredictLandmarks(pts)
		var ie *InvalidInputError
		require.True(t, errors.As(err, &ie), name)
		var se *features.ShapeError
		assert.True(t, errors.As(err, &se), name)
		assert.Equal(t, StateReady, s.State(), "state unchanged after %s", name)
	}

	// Still serving.
	res, err := s.PredictLandmarks(fixtures.ThumbsUp())
	require.NoError(t, err)
	assert.Equal(t, "A", res.Label)
}

// fixed returns the same distribution for every input.
type fixed struct {
	p []float64
}

func (f fixed) Kind() string                               { return "fixed" }
func (f fixed) InputDim() int                              { return features.LandmarkDim }
func (f fixed) NumClasses() int                            { return len(f.p) }
func (f fixed) Predict(features.Vector) ([]float64, error) { return append([]float64(nil), f.p...), nil }
func (f fixed) Serialize() ([]byte, error)                 { return nil, nil }

func withClassifier(t *testing.T, c model.Classifier, names ...string) *Service {
	t.Helper()
	idx, err := labels.Build(names)
	require.NoError(t, err)
	s := New(nil)
	s.current.Store(&loaded{
		artifact: &model.Artifact{Classifier: c, Labels: idx},
		encoder:  features.NewLandmarkEncoder(),
	})
	return s
}

func TestPredictTieGoesToLowestIndex(t *testing.T) {
	s := withClassifier(t, fixed{p: []float64{0.4, 0.2, 0.4}}, "A", "B", "C")
	res, err := s.PredictLandmarks(fixtures.ThumbsUp())
	require.NoError(t, err)
	assert.Equal(t, "A", res.Label)
	assert.Equal(t, 0.4, res.Confidence)
}

func TestPredictUnknownIndex(t *testing.T) {
	s := withClassifier(t, fixed{p: []float64{0.1, 0.2, 0.7}}, "A", "B")
	res, err := s.PredictLandmarks(fixtures.ThumbsUp())
	require.NoError(t, err)
	assert.Equal(t, UnknownLabel, res.Label)
	assert.Equal(t, 0.7, res.Confidence)
}

func TestPredictRejectsBadDistribution(t *testing.T) {
	for name, p := range map[string][]float64{
		"empty":      {},
		"non-finite": {math.NaN(), 0.5},
	} {
		s := withClassifier(t, fixed{p: p}, "A", "B")
		_, err := s.PredictLandmarks(fixtures.ThumbsUp())
		require.Error(t, err, name)
		var ie *InvalidInputError
		assert.False(t, errors.As(err, &ie), name)
	}
}

func TestReload(t *testing.T) {
	dir := defaultArtifact(t)
	s := New(nil)
	require.NoError(t, s.Load(dir))

	// Replace the artifact in place with one that has different labels.
	other := trainArtifact(t, map[string][][]float64{
		"hola": fixtures.ThumbsUp(),
		"chao": fixtures.OpenPalm(),
	})
	for _, f := range []string{model.ManifestFile, model.WeightsFile, model.LabelsFile} {
		data, err := os.ReadFile(filepath.Join(other, f))
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(filepath.Join(dir, f), data, 0o644))
	}

	require.NoError(t, s.Reload())
	res, err := s.PredictLandmarks(fixtures.ThumbsUp())
	require.NoError(t, err)
	assert.Equal(t, "hola", res.Label)
	assert.Equal(t, []string{"chao", "hola"}, res.Labels)

	// A broken artifact keeps the previous model serving.
	require.NoError(t, os.WriteFile(filepath.Join(dir, model.ManifestFile), []byte("{"), 0o644))
	assert.Error(t, s.Reload())
	assert.True(t, s.Ready())
	assert.NotEmpty(t, s.Info().LastError)
	res, err = s.PredictLandmarks(fixtures.OpenPalm())
	require.NoError(t, err)
	assert.Equal(t, "chao", res.Label)
}

func TestReloadWithoutDir(t *testing.T) {
	assert.Error(t, New(nil).Reload())
}

func TestConcurrentPredictDuringReload(t *testing.T) {
	dirs := []string{
		defaultArtifact(t),
		trainArtifact(t, map[string][][]float64{
			"hola": fixtures.ThumbsUp(),
			"chao": fixtures.OpenPalm(),
		}),
	}
	s := New(nil)
	require.NoError(t, s.Load(dirs[0]))

	var wg sync.WaitGroup
	errs := make(chan error, 64)
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				res, err := s.PredictLandmarks(fixtures.ThumbsUp())
				if err != nil {
					errs <- err
					return
				}
				// The label and the label list come from one model.
				if res.Labels[res.Index] != res.Label {
					errs <- errors.Errorf("label %q is not %v[%d]", res.Label, res.Labels, res.Index)
					return
				}
			}
		}()
	}
	for i := 0; i < 6; i++ {
		require.NoError(t, s.Load(dirs[i%2]))
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}
