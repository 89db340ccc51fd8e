package model

import (
	"encoding/json"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ayusman/senas/internal/detector"
	"github.com/ayusman/senas/internal/features"
	"github.com/ayusman/senas/internal/fixtures"
	"github.com/ayusman/senas/internal/labels"
)

var landmarkShape = []int{1, features.LandmarkDim}

// poseData returns labeled thumbs-up (0) and open-palm (1) vectors.
func poseData(seed int64, perClass int) ([]features.Vector, []int) {
	rng := rand.New(rand.NewSource(seed))
	var xs []features.Vector
	var ys []int
	for class, center := range [][][]float64{fixtures.ThumbsUp(), fixtures.OpenPalm()} {
		for _, v := range fixtures.ClusterVectors(rng, center, perClass, 0.05) {
			xs = append(xs, v)
			ys = append(ys, class)
		}
	}
	return xs, ys
}

func accuracy(t *testing.T, c Classifier, xs []features.Vector, ys []int) float64 {
	t.Helper()
	correct := 0
	for i, x := range xs {
		p, err := c.Predict(x)
		require.NoError(t, err)
		best := 0
		for k := range p {
			if p[k] > p[best] {
				best = k
			}
		}
		if best == ys[i] {
			correct++
		}
	}
	return float64(correct) / float64(len(xs))
}

func assertDistribution(t *testing.T, p []float64, classes int) {
	t.Helper()
	require.Len(t, p, classes)
	var sum float64
	for _, v := range p {
		assert.False(t, math.IsNaN(v))
		assert.GreaterOrEqual(t, v, 0.0)
		sum += v
	}
	assert.InDelta(t, 1, sum, 1e-9)
}

func fit(t *testing.T, c Trainable, xs []features.Vector, ys []int, steps, batch int) {
	t.Helper()
	for s := 0; s < steps; s++ {
		lo := (s * batch) % len(xs)
		hi := min(lo+batch, len(xs))
		_, err := c.TrainBatch(xs[lo:hi], ys[lo:hi])
		require.NoError(t, err)
	}
}

func shuffled(xs []features.Vector, ys []int, seed int64) ([]features.Vector, []int) {
	rng := rand.New(rand.NewSource(seed))
	xs = append([]features.Vector(nil), xs...)
	ys = append([]int(nil), ys...)
	rng.Shuffle(len(xs), func(i, j int) {
		xs[i], xs[j] = xs[j], xs[i]
		ys[i], ys[j] = ys[j], ys[i]
	})
	return xs, ys
}

func TestRegistry(t *testing.T) {
	assert.Equal(t, []string{KindCentroid, KindConvNet, KindSoftmax}, Kinds())

	for _, kind := range []string{KindSoftmax, KindCentroid} {
		c, err := New(kind, Spec{Shape: landmarkShape, Classes: 3})
		require.NoError(t, err, kind)
		assert.Equal(t, kind, c.Kind())
		assert.Equal(t, features.LandmarkDim, c.InputDim())
		assert.Equal(t, 3, c.NumClasses())
	}

	_, err := New("forest", Spec{Shape: landmarkShape, Classes: 2})
	assert.Error(t, err)
	_, err = New(KindSoftmax, Spec{Shape: landmarkShape})
	assert.Error(t, err)
	_, err = New(KindSoftmax, Spec{Classes: 2})
	assert.Error(t, err)
	_, err = New(KindConvNet, Spec{Shape: landmarkShape, Classes: 2})
	assert.Error(t, err, "convnet needs an image shape")
	_, err = Decode("forest", []byte("{}"))
	assert.Error(t, err)
}

func TestSoftmaxLearnsPoses(t *testing.T) {
	xs, ys := poseData(1, 40)
	xs, ys = shuffled(xs, ys, 2)

	c, err := New(KindSoftmax, Spec{Shape: landmarkShape, Classes: 2})
	require.NoError(t, err)

	first, err := c.TrainBatch(xs[:16], ys[:16])
	require.NoError(t, err)
	assert.InDelta(t, math.Log(2), first, 1e-9, "zero weights give a uniform distribution")

	fit(t, c, xs, ys, 100, 16)
	assert.Equal(t, 1.0, accuracy(t, c, xs, ys))

	p, err := c.Predict(xs[0])
	require.NoError(t, err)
	assertDistribution(t, p, 2)
}

func TestPredictRejectsBadInput(t *testing.T) {
	for _, kind := range []string{KindSoftmax, KindCentroid} {
		c, err := New(kind, Spec{Shape: landmarkShape, Classes: 2})
		require.NoError(t, err)

		_, err = c.Predict(make(features.Vector, 60))
		var se *features.ShapeError
		assert.True(t, errors.As(err, &se), kind)

		bad := make(features.Vector, features.LandmarkDim)
		bad[5] = math.NaN()
		_, err = c.Predict(bad)
		assert.True(t, errors.As(err, &se), kind)
	}
}

func TestTrainBatchValidates(t *testing.T) {
	c, err := New(KindSoftmax, Spec{Shape: landmarkShape, Classes: 2})
	require.NoError(t, err)

	x := make(features.Vector, features.LandmarkDim)
	_, err = c.TrainBatch(nil, nil)
	assert.Error(t, err)
	_, err = c.TrainBatch([]features.Vector{x}, []int{0, 1})
	assert.Error(t, err)
	_, err = c.TrainBatch([]features.Vector{x}, []int{2})
	assert.Error(t, err)
	_, err = c.TrainBatch([]features.Vector{x[:10]}, []int{0})
	assert.Error(t, err)
}

func TestSnapshotIsIndependent(t *testing.T) {
	xs, ys := poseData(3, 10)
	for _, kind := range []string{KindSoftmax, KindCentroid} {
		c, err := New(kind, Spec{Shape: landmarkShape, Classes: 2})
		require.NoError(t, err)
		fit(t, c, xs, ys, 1, len(xs))

		snap := c.Snapshot()
		before, err := snap.Predict(xs[0])
		require.NoError(t, err)

		fit(t, c, []features.Vector{xs[len(xs)-1]}, []int{ys[len(ys)-1]}, 5, 1)

		after, err := snap.Predict(xs[0])
		require.NoError(t, err)
		assert.Equal(t, before, after, kind)
	}
}

func TestSerializeRoundTrip(t *testing.T) {
	xs, ys := poseData(4, 10)
	for _, kind := range []string{KindSoftmax, KindCentroid} {
		c, err := New(kind, Spec{Shape: landmarkShape, Classes: 2})
		require.NoError(t, err)
		fit(t, c, xs, ys, 5, len(xs))

		data, err := c.Serialize()
		require.NoError(t, err)
		back, err := Decode(kind, data)
		require.NoError(t, err)

		for _, x := range xs[:4] {
			want, err := c.Predict(x)
			require.NoError(t, err)
			got, err := back.Predict(x)
			require.NoError(t, err)
			assert.InDeltaSlice(t, want, got, 1e-12, kind)
		}
	}
}

func TestDeserializeRejectsMalformed(t *testing.T) {
	cases := map[string][]string{
		KindSoftmax: {
			`{"W":[],"b":[]}`,
			`{"W":[[1,2],[3]],"b":[0,0]}`,
			`{"W":[[1,2]],"b":[0,0]}`,
			`not json`,
		},
		KindCentroid: {
			`{"centroids":[],"counts":[]}`,
			`{"centroids":[[1,2,3]],"counts":[1,2]}`,
			`{"centroids":[[1,2,3],[1]],"counts":[1,1]}`,
		},
		KindConvNet: {
			`{"height":2,"width":2,"channels":3,"filters":1,"classes":2}`,
			`{"height":6,"width":6,"channels":3,"filters":1,"classes":2}`,
			`{"height":6,"width":6,"channels":3,"filters":1,"classes":0,"network":"AA=="}`,
			`{"height":6,"width":6,"channels":3,"filters":1,"classes":2,"network":"bm90IGEgbmV0d29yaw=="}`,
		},
	}
	for kind, inputs := range cases {
		for _, in := range inputs {
			_, err := Decode(kind, []byte(in))
			assert.Error(t, err, "%s %s", kind, in)
		}
	}
}

func TestCentroid(t *testing.T) {
	c, err := NewCentroid(Spec{Shape: []int{1, 6}, Classes: 3})
	require.NoError(t, err)

	_, err = c.Predict(make(features.Vector, 6))
	assert.Error(t, err, "untrained model has no distribution")

	_, err = c.TrainBatch(
		[]features.Vector{
			{0, 0, 0, 0, 0, 0},
			{2, 0, 0, 0, 0, 0},
			{10, 10, 10, 10, 10, 10},
		},
		[]int{0, 0, 1},
	)
	require.NoError(t, err)

	// Class 0 mean is (1,0,0,0,0,0): distance 0 gives score 1. Class 1 is far
	// away and class 2 was never seen.
	p, err := c.Predict(features.Vector{1, 0, 0, 0, 0, 0})
	require.NoError(t, err)
	assertDistribution(t, p, 3)
	assert.Greater(t, p[0], 0.9)
	assert.Equal(t, 0.0, p[2])

	// Per-point distance: two points, each 3-4-5 away.
	assert.InDelta(t, 10, pointDistance([]float64{3, 4, 0, 0, 3, 4}, make([]float64, 6), 1), 1e-12)
}

func TestCentroidLearnsPoses(t *testing.T) {
	xs, ys := poseData(5, 20)
	c, err := New(KindCentroid, Spec{Shape: landmarkShape, Classes: 2})
	require.NoError(t, err)
	fit(t, c, xs, ys, 1, len(xs))
	assert.Equal(t, 1.0, accuracy(t, c, xs, ys))
}

// brightness returns h x w x 3 images: class 0 dark, class 1 bright.
func brightness(seed int64, h, w, perClass int) ([]features.Vector, []int) {
	rng := rand.New(rand.NewSource(seed))
	var xs []features.Vector
	var ys []int
	for class, level := range []float64{0.15, 0.85} {
		for i := 0; i < perClass; i++ {
			v := make(features.Vector, h*w*3)
			for j := range v {
				v[j] = level + (rng.Float64()-0.5)*0.1
			}
			xs = append(xs, v)
			ys = append(ys, class)
		}
	}
	return shuffled(xs, ys, seed+1)
}

func TestConvNetLearnsBrightness(t *testing.T) {
	shape := []int{1, 8, 8, 3}
	xs, ys := brightness(1, 8, 8, 12)

	c, err := New(KindConvNet, Spec{Shape: shape, Classes: 2, LearningRate: 0.05, Seed: 3})
	require.NoError(t, err)
	assert.Equal(t, 8*8*3, c.InputDim())

	initial, err := c.TrainBatch(xs, ys)
	require.NoError(t, err)
	fit(t, c, xs, ys, 200, 8)
	final, err := c.TrainBatch(xs, ys)
	require.NoError(t, err)

	assert.Less(t, final, initial)
	assert.Equal(t, 1.0, accuracy(t, c, xs, ys))

	p, err := c.Predict(xs[0])
	require.NoError(t, err)
	assertDistribution(t, p, 2)

	data, err := c.Serialize()
	require.NoError(t, err)
	back, err := Decode(KindConvNet, data)
	require.NoError(t, err)
	q, err := back.Predict(xs[0])
	require.NoError(t, err)
	assert.InDeltaSlice(t, p, q, 1e-12)
}

func TestConvNetIsSeeded(t *testing.T) {
	spec := Spec{Shape: []int{1, 6, 6, 3}, Classes: 2, Seed: 9}
	a, err := NewConvNet(spec)
	require.NoError(t, err)
	b, err := NewConvNet(spec)
	require.NoError(t, err)
	assert.Equal(t, a.params(), b.params())

	spec.Seed = 10
	c, err := NewConvNet(spec)
	require.NoError(t, err)
	assert.NotEqual(t, a.params(), c.params())
}

func TestConvNetSnapshotIsIndependent(t *testing.T) {
	xs, ys := brightness(2, 6, 6, 4)
	c, err := NewConvNet(Spec{Shape: []int{1, 6, 6, 3}, Classes: 2, LearningRate: 0.1, Seed: 1})
	require.NoError(t, err)

	snap := c.Snapshot()
	before, err := snap.Predict(xs[0])
	require.NoError(t, err)

	fit(t, c, xs, ys, 5, len(xs))
	after, err := snap.Predict(xs[0])
	require.NoError(t, err)
	assert.Equal(t, before, after)

	now, err := c.Predict(xs[0])
	require.NoError(t, err)
	assert.NotEqual(t, before, now)
}

func TestConvNetRejectsForeignGeometry(t *testing.T) {
	small, err := NewConvNet(Spec{Shape: []int{1, 6, 6, 3}, Classes: 2, Seed: 1})
	require.NoError(t, err)
	data, err := small.Serialize()
	require.NoError(t, err)

	// Same network under a header that claims a larger input.
	var w convNetWeights
	require.NoError(t, json.Unmarshal(data, &w))
	w.Height, w.Width = 8, 8
	forged, err := json.Marshal(w)
	require.NoError(t, err)

	_, err = DeserializeConvNet(forged)
	assert.Error(t, err)
}

func trainedArtifact(t *testing.T) *Artifact {
	t.Helper()
	xs, ys := poseData(6, 20)
	c, err := New(KindSoftmax, Spec{Shape: landmarkShape, Classes: 2})
	require.NoError(t, err)
	fit(t, c, xs, ys, 20, 10)

	idx, err := labels.Build([]string{"A", "B"})
	require.NoError(t, err)
	return &Artifact{
		Manifest:   Manifest{Mode: features.ModeLandmark, Shape: landmarkShape, RunID: "run-1"},
		Classifier: c,
		Labels:     idx,
	}
}

func TestArtifactRoundTrip(t *testing.T) {
	a := trainedArtifact(t)
	dir := filepath.Join(t.TempDir(), "model")
	require.NoError(t, a.Save(dir))

	for _, f := range []string{ManifestFile, WeightsFile, LabelsFile} {
		assert.FileExists(t, filepath.Join(dir, f))
	}

	loaded, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, KindSoftmax, loaded.Manifest.Kind)
	assert.Equal(t, 2, loaded.Manifest.Classes)
	assert.Equal(t, "run-1", loaded.Manifest.RunID)
	assert.NotEmpty(t, loaded.Manifest.LabelsSHA256)
	assert.NotEmpty(t, loaded.Manifest.WeightsSHA256)
	assert.True(t, a.Labels.Equal(loaded.Labels))

	enc, err := loaded.Encoder()
	require.NoError(t, err)
	assert.Equal(t, features.ModeLandmark, enc.Mode())

	x, err := enc.Encode(features.Observation{Landmarks: fixtures.OpenPalm()})
	require.NoError(t, err)
	want, err := a.Classifier.Predict(x)
	require.NoError(t, err)
	got, err := loaded.Classifier.Predict(x)
	require.NoError(t, err)
	assert.InDeltaSlice(t, want, got, 1e-12)
}

func TestArtifactRecordsLandmarkNorm(t *testing.T) {
	a := trainedArtifact(t)
	a.Manifest.LandmarkNorm = features.NormWristScale
	dir := filepath.Join(t.TempDir(), "model")
	require.NoError(t, a.Save(dir))

	loaded, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, features.NormWristScale, loaded.Manifest.LandmarkNorm)

	enc, err := loaded.Encoder()
	require.NoError(t, err)
	raw := detector.ThumbsUpLandmarks()
	got, err := enc.Encode(features.Observation{Landmarks: raw.Rows()})
	require.NoError(t, err)
	want, err := features.EncodeLandmarks(fixtures.ThumbsUp())
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64(want), []float64(got), 1e-12)

	// An unknown normalization in the manifest fails the load.
	var m map[string]interface{}
	data, err := os.ReadFile(filepath.Join(dir, ManifestFile))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &m))
	m["landmark_norm"] = "minmax"
	data, err = json.Marshal(m)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ManifestFile), data, 0o644))
	_, err = Load(dir)
	assert.Error(t, err)
}

func TestLoadWithoutLabels(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, trainedArtifact(t).Save(dir))
	require.NoError(t, os.Remove(filepath.Join(dir, LabelsFile)))

	_, err := Load(dir)
	var me *MissingLabelIndexError
	require.True(t, errors.As(err, &me))
	assert.Equal(t, dir, me.Dir)
}

func TestLoadWithForeignLabels(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, trainedArtifact(t).Save(dir))

	other, err := labels.Build([]string{"X", "Y"})
	require.NoError(t, err)
	require.NoError(t, other.Save(filepath.Join(dir, LabelsFile)))

	_, err = Load(dir)
	var me *MissingLabelIndexError
	assert.True(t, errors.As(err, &me))
}

func TestLoadWithForeignWeights(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, trainedArtifact(t).Save(dir))

	// Same kind and width, different parameters.
	xs, ys := poseData(99, 5)
	c, err := New(KindSoftmax, Spec{Shape: landmarkShape, Classes: 2})
	require.NoError(t, err)
	fit(t, c, xs, ys, 3, len(xs))
	data, err := c.Serialize()
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, WeightsFile), data, 0o644))

	_, err = Load(dir)
	var we *WeightsMismatchError
	require.True(t, errors.As(err, &we), "%v", err)
	assert.Equal(t, dir, we.Dir)
}

func TestSaveReplacesArtifact(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "model")
	require.NoError(t, trainedArtifact(t).Save(dir))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "stale.txt"), []byte("x"), 0o644))

	next := trainedArtifact(t)
	idx, err := labels.Build([]string{"A", "C"})
	require.NoError(t, err)
	next.Labels = idx
	require.NoError(t, next.Save(dir))

	loaded, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "C"}, loaded.Labels.Names())
	assert.NoFileExists(t, filepath.Join(dir, "stale.txt"))

	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	require.Len(t, entries, 1, "no staging or backup dirs left behind")
	assert.Equal(t, "model", entries[0].Name())
}

func TestSaveRejectsMismatchedLabels(t *testing.T) {
	a := trainedArtifact(t)
	idx, err := labels.Build([]string{"A", "B", "C"})
	require.NoError(t, err)
	a.Labels = idx
	assert.Error(t, a.Save(t.TempDir()))

	a = trainedArtifact(t)
	a.Manifest.Shape = []int{1, 10}
	assert.Error(t, a.Save(t.TempDir()))
}

func TestLoadMissingDir(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestArgmax(t *testing.T) {
	i, err := Argmax([]float64{0.1, 0.6, 0.3})
	require.NoError(t, err)
	assert.Equal(t, 1, i)

	i, err = Argmax([]float64{0.4, 0.2, 0.4})
	require.NoError(t, err)
	assert.Equal(t, 0, i, "ties go to the lowest index")

	_, err = Argmax(nil)
	assert.Error(t, err)
	_, err = Argmax([]float64{0.5, math.NaN()})
	assert.Error(t, err)
}
