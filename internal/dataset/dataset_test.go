package dataset

import (
	"bytes"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seq(prefix string, n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = prefix + string(rune('a'+i))
	}
	return out
}

func TestSplitSizes(t *testing.T) {
	groups := map[string][]string{
		"A": seq("A", 10),
		"B": seq("B", 5),
		"C": seq("C", 1),
	}

	train, test, err := Split(groups, 0.8, rand.New(rand.NewSource(1)))
	require.NoError(t, err)

	assert.Len(t, train["A"], 8)
	assert.Len(t, test["A"], 2)
	assert.Len(t, train["B"], 4)
	assert.Len(t, test["B"], 1)
	assert.Len(t, train["C"], 0)
	assert.Len(t, test["C"], 1)

	for class, items := range groups {
		_, inTrain := train[class]
		_, inTest := test[class]
		assert.True(t, inTrain && inTest, "class %s must appear on both sides", class)

		union := append(append([]string(nil), train[class]...), test[class]...)
		sort.Strings(union)
		assert.Equal(t, items, union, "class %s partition", class)

		seen := make(map[string]bool)
		for _, s := range train[class] {
			seen[s] = true
		}
		for _, s := range test[class] {
			assert.False(t, seen[s], "%s in both train and test", s)
		}
	}
}

func TestSplitDoesNotMutateInput(t *testing.T) {
	groups := map[string][]string{"A": seq("A", 10)}
	orig := append([]string(nil), groups["A"]...)

	train, _, err := Split(groups, 0.5, rand.New(rand.NewSource(3)))
	require.NoError(t, err)
	train["A"] = append(train["A"], "extra")

	assert.Equal(t, orig, groups["A"])
}

func TestSplitIsSeeded(t *testing.T) {
	groups := map[string][]string{"A": seq("A", 20), "B": seq("B", 20)}

	a, _, err := Split(groups, 0.8, rand.New(rand.NewSource(7)))
	require.NoError(t, err)
	b, _, err := Split(groups, 0.8, rand.New(rand.NewSource(7)))
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestSplitInvalidRatio(t *testing.T) {
	for _, ratio := range []float64{0, 1, -0.1, 1.5} {
		_, _, err := Split(map[string][]int{"A": {1, 2}}, ratio, rand.New(rand.NewSource(1)))
		var re *InvalidRatioError
		require.True(t, errors.As(err, &re), "ratio %v", ratio)
		assert.Equal(t, ratio, re.Ratio)
	}
}

func TestReport(t *testing.T) {
	train := map[string][]int{"A": {1}, "B": {}, "C": {1}}
	test := map[string][]int{"A": {2}, "B": {2}, "C": {}}

	r := Report(train, test)
	assert.Equal(t, []string{"B"}, r.EmptyTrain)
	assert.Equal(t, []string{"C"}, r.EmptyTest)
	assert.False(t, r.OK())

	assert.True(t, Report(map[string][]int{"A": {1}}, map[string][]int{"A": {2}}).OK())
}

func writeFiles(t *testing.T, root string, files ...string) {
	t.Helper()
	for _, f := range files {
		p := filepath.Join(root, f)
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(f), 0o644))
	}
}

func TestScan(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root,
		"A/1.jpg", "A/2.PNG", "A/readme.txt",
		"B/1.jpeg",
		"stray.jpg",
	)
	require.NoError(t, os.MkdirAll(filepath.Join(root, "C"), 0o755))

	got, err := Scan(root, DefaultImageExts)
	require.NoError(t, err)

	assert.Equal(t, []string{filepath.Join(root, "A/1.jpg"), filepath.Join(root, "A/2.PNG")}, got["A"])
	assert.Equal(t, []string{filepath.Join(root, "B/1.jpeg")}, got["B"])
	assert.Empty(t, got["C"])
	assert.Len(t, got, 3)

	_, err = Scan(t.TempDir(), nil)
	assert.Error(t, err)
}

func TestLoadImageSamples(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, "hola/a.jpg", "hola/b.jpg", "adios/c.png")

	got, err := LoadImageSamples(root)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"hola": 2, "adios": 1}, Counts(got))
	assert.Equal(t, "hola", got["hola"][0].Label)
	assert.Equal(t, filepath.Join(root, "hola/a.jpg"), got["hola"][0].Source())
}

func TestMaterialize(t *testing.T) {
	src := t.TempDir()
	writeFiles(t, src, "A/1.jpg", "A/2.jpg", "B/3.jpg")
	groups, err := Scan(src, nil)
	require.NoError(t, err)

	train, test, err := Split(groups, 0.5, rand.New(rand.NewSource(1)))
	require.NoError(t, err)

	out := t.TempDir()
	require.NoError(t, Materialize(train, test, out))

	copied, err := Scan(filepath.Join(out, "train"), nil)
	require.NoError(t, err)
	held, err := Scan(filepath.Join(out, "test"), nil)
	require.NoError(t, err)

	assert.Equal(t, map[string]int{"A": 1, "B": 0}, Counts(copied))
	assert.Equal(t, map[string]int{"A": 1, "B": 1}, Counts(held))

	data, err := os.ReadFile(held["B"][0])
	require.NoError(t, err)
	assert.Equal(t, "B/3.jpg", string(data))
}

func TestFeatureFileRoundTrip(t *testing.T) {
	samples := []Sample{
		{Label: "A", Vector: []float64{0, 0.5, -1}},
		{Label: "B", Vector: []float64{1e-9, 2, 3.25}},
		{Label: "A", Vector: []float64{0.1, 0.2, 0.3}},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteFeatureFile(&buf, samples))
	assert.True(t, strings.HasPrefix(buf.String(), "label,f0,f1,f2\n"))

	got, err := ReadFeatureFile(&buf, 3)
	require.NoError(t, err)
	require.Len(t, got["A"], 2)
	assert.Equal(t, samples[0].Vector, []float64(got["A"][0].Vector))
	assert.Equal(t, samples[2].Vector, []float64(got["A"][1].Vector))
	assert.Equal(t, samples[1].Vector, []float64(got["B"][0].Vector))
}

func TestReadFeatureFileErrors(t *testing.T) {
	cases := map[string]string{
		"empty":        "",
		"bad header":   "name,f0,f1\nA,1,2\n",
		"short row":    "label,f0,f1\nA,1\n",
		"long row":     "label,f0,f1\nA,1,2,3\n",
		"non numeric":  "label,f0,f1\nA,1,x\n",
		"non finite":   "label,f0,f1\nA,1,NaN\n",
		"empty label":  "label,f0,f1\n,1,2\n",
		"header only":  "label,f0,f1\n",
		"dim mismatch": "label,f0\nA,1\n",
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ReadFeatureFile(strings.NewReader(in), 2)
			assert.Error(t, err)
		})
	}

	_, err := ReadFeatureFile(strings.NewReader("label,f0,f1\nA,1,2\nB,3,x\n"), 2)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "row 3")
}

func TestReadFeatureFileInfersDim(t *testing.T) {
	got, err := ReadFeatureFile(strings.NewReader("label,f0,f1,f2,f3\nA,1,2,3,4\n"), 0)
	require.NoError(t, err)
	assert.Len(t, got["A"][0].Vector, 4)
}

func TestWriteFeatureFileRejectsRaggedVectors(t *testing.T) {
	err := WriteFeatureFile(&bytes.Buffer{}, []Sample{
		{Label: "A", Vector: []float64{1, 2}},
		{Label: "B", Vector: []float64{1}},
	})
	assert.Error(t, err)
}
