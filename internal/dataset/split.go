// Package dataset organises labeled samples: directory scanning, the
// train/test split and the derived feature file.
package dataset

import (
	"fmt"
	"io"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"

	"github.com/ayusman/senas/internal/features"
)

// DefaultTrainRatio is the share of each class assigned to the train set.
const DefaultTrainRatio = 0.8

// Sample is one labeled training example. Image samples carry Path and are
// decoded when needed; feature-file rows carry Vector.
type Sample struct {
	Label  string
	Path   string
	Vector features.Vector
}

// Source names the sample for error messages.
func (s Sample) Source() string {
	if s.Path != "" {
		return s.Path
	}
	return "label " + s.Label + " vector"
}

// InvalidRatioError reports a split ratio outside (0, 1).
type InvalidRatioError struct {
	Ratio float64
}

func (e *InvalidRatioError) Error() string {
	return fmt.Sprintf("invalid train ratio %v: must be strictly between 0 and 1", e.Ratio)
}

// Split partitions every class independently: a shuffled copy of the class's
// items is cut at floor(n*ratio), the head going to train and the tail to
// test. Every input class appears as a key in both outputs, possibly with an
// empty slice. Inputs are not modified.
func Split[T any](groups map[string][]T, ratio float64, rng *rand.Rand) (train, test map[string][]T, err error) {
	if math.IsNaN(ratio) || ratio <= 0 || ratio >= 1 {
		return nil, nil, &InvalidRatioError{Ratio: ratio}
	}

	train = make(map[string][]T, len(groups))
	test = make(map[string][]T, len(groups))

	// Map order is random; shuffle classes in sorted order so that a seeded
	// rng gives the same split every time.
	for _, class := range sortedKeys(groups) {
		items := append([]T(nil), groups[class]...)
		rng.Shuffle(len(items), func(i, j int) { items[i], items[j] = items[j], items[i] })

		cut := int(float64(len(items)) * ratio)
		train[class] = items[:cut:cut]
		test[class] = items[cut:]
	}
	return train, test, nil
}

// SplitReport lists classes that ended up with an empty side.
type SplitReport struct {
	EmptyTrain []string
	EmptyTest  []string
}

// Report inspects a split result.
func Report[T any](train, test map[string][]T) SplitReport {
	var r SplitReport
	for _, class := range sortedKeys(train) {
		if len(train[class]) == 0 {
			r.EmptyTrain = append(r.EmptyTrain, class)
		}
	}
	for _, class := range sortedKeys(test) {
		if len(test[class]) == 0 {
			r.EmptyTest = append(r.EmptyTest, class)
		}
	}
	return r
}

// OK reports whether every class has at least one train and one test item.
func (r SplitReport) OK() bool {
	return len(r.EmptyTrain) == 0 && len(r.EmptyTest) == 0
}

func sortedKeys[T any](m map[string][]T) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Counts returns the number of items per class.
func Counts[T any](groups map[string][]T) map[string]int {
	out := make(map[string]int, len(groups))
	for k, v := range groups {
		out[k] = len(v)
	}
	return out
}

// DefaultImageExts are the file types picked up by Scan for image corpora.
var DefaultImageExts = []string{".jpg", ".jpeg", ".png"}

// Scan reads a root/<class>/<file> layout. Only files whose lower-cased
// extension is in exts are returned; an empty exts accepts every file.
// Paths within a class are sorted.
func Scan(root string, exts []string) (map[string][]string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, errors.Wrapf(err, "read dataset root %s", root)
	}

	out := make(map[string][]string)
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		dir := filepath.Join(root, e.Name())
		files, err := os.ReadDir(dir)
		if err != nil {
			return nil, errors.Wrapf(err, "read class dir %s", dir)
		}
		paths := []string{}
		for _, f := range files {
			if f.IsDir() || !matchExt(f.Name(), exts) {
				continue
			}
			paths = append(paths, filepath.Join(dir, f.Name()))
		}
		out[e.Name()] = paths
	}
	if len(out) == 0 {
		return nil, errors.Errorf("no class directories under %s", root)
	}
	return out, nil
}

func matchExt(name string, exts []string) bool {
	if len(exts) == 0 {
		return true
	}
	ext := strings.ToLower(filepath.Ext(name))
	for _, e := range exts {
		if ext == e {
			return true
		}
	}
	return false
}

// LoadImageSamples scans root for images and wraps them as Samples.
func LoadImageSamples(root string) (map[string][]Sample, error) {
	paths, err := Scan(root, DefaultImageExts)
	if err != nil {
		return nil, err
	}
	out := make(map[string][]Sample, len(paths))
	for class, ps := range paths {
		samples := make([]Sample, len(ps))
		for i, p := range ps {
			samples[i] = Sample{Label: class, Path: p}
		}
		out[class] = samples
	}
	return out, nil
}

// Materialize copies a split to out/train/<class>/ and out/test/<class>/.
// Every class directory is created even when it receives no files.
func Materialize(train, test map[string][]string, out string) error {
	for _, part := range []struct {
		name   string
		groups map[string][]string
	}{
		{"train", train},
		{"test", test},
	} {
		for class, paths := range part.groups {
			dir := filepath.Join(out, part.name, class)
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return errors.Wrapf(err, "create %s", dir)
			}
			for _, p := range paths {
				if err := copyFile(p, filepath.Join(dir, filepath.Base(p))); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return errors.Wrapf(err, "open %s", src)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return errors.Wrapf(err, "create %s", dst)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return errors.Wrapf(err, "copy %s", src)
	}
	return errors.Wrapf(out.Close(), "close %s", dst)
}
