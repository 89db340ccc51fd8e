package model

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"

	"github.com/ayusman/senas/internal/features"
	"github.com/ayusman/senas/internal/labels"
)

// Artifact file names.
const (
	ManifestFile = "model.json"
	WeightsFile  = "weights.json"
	LabelsFile   = "labels.json"
)

// FormatVersion is written to every manifest. Version 2 added the weights
// checksum, version 3 the landmark normalization.
const FormatVersion = 3

// MissingLabelIndexError is returned when an artifact has weights but no
// usable label index.
type MissingLabelIndexError struct {
	Dir string
	Err error
}

func (e *MissingLabelIndexError) Error() string {
	msg := fmt.Sprintf("model artifact %s has no label index", e.Dir)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *MissingLabelIndexError) Unwrap() error { return e.Err }

// WeightsMismatchError is returned when weights.json is not the file the
// manifest was written for.
type WeightsMismatchError struct {
	Dir string
}

func (e *WeightsMismatchError) Error() string {
	return fmt.Sprintf("model artifact %s: weights.json does not match the manifest checksum", e.Dir)
}

// Manifest describes an artifact. It records everything needed to rebuild
// the training-time encoder and to check that weights and labels belong
// together.
type Manifest struct {
	Format        int                    `json:"format"`
	Kind          string                 `json:"kind"`
	Mode          features.Mode          `json:"mode"`
	Shape         []int                  `json:"shape"`
	LandmarkNorm  features.Normalization `json:"landmark_norm,omitempty"`
	Classes       int                    `json:"classes"`
	LabelsSHA256  string                 `json:"labels_sha256"`
	WeightsSHA256 string                 `json:"weights_sha256"`
	RunID         string                 `json:"run_id,omitempty"`
	Monitor       string                 `json:"monitor,omitempty"`
	BestEpoch     int                    `json:"best_epoch,omitempty"`
	BestValue     float64                `json:"best_value,omitempty"`
	CreatedAt     time.Time              `json:"created_at"`
}

// Artifact is a trained classifier together with its label index.
type Artifact struct {
	Manifest   Manifest
	Classifier Classifier
	Labels     *labels.Index
}

// Encoder rebuilds the feature encoder the classifier was trained with.
func (a *Artifact) Encoder() (features.Encoder, error) {
	return features.NewEncoder(a.Manifest.Mode, a.Manifest.Shape, a.Manifest.LandmarkNorm)
}

func (a *Artifact) check() error {
	if a.Classifier == nil {
		return errors.New("artifact has no classifier")
	}
	if a.Labels == nil {
		return errors.New("artifact has no label index")
	}
	if n := a.Classifier.NumClasses(); n != a.Labels.Len() {
		return errors.Errorf("classifier has %d outputs but label index has %d classes", n, a.Labels.Len())
	}
	enc, err := a.Encoder()
	if err != nil {
		return err
	}
	if enc.Dim() != a.Classifier.InputDim() {
		return errors.Errorf("classifier expects %d features but %s encoder produces %d",
			a.Classifier.InputDim(), enc.Mode(), enc.Dim())
	}
	return nil
}

// Save writes the artifact to dir. The files are written into a sibling
// temporary directory which then replaces dir, so a reader never sees
// weights from one run next to labels from another. Anything else in dir is
// discarded.
func (a *Artifact) Save(dir string) error {
	a.Manifest.Kind = a.Classifier.Kind()
	a.Manifest.Classes = a.Classifier.NumClasses()
	a.Manifest.Format = FormatVersion
	if a.Manifest.CreatedAt.IsZero() {
		a.Manifest.CreatedAt = time.Now().UTC()
	}
	if err := a.check(); err != nil {
		return err
	}

	dir = filepath.Clean(dir)
	parent := filepath.Dir(dir)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return errors.Wrapf(err, "create artifact parent %s", parent)
	}
	tmp, err := os.MkdirTemp(parent, "."+filepath.Base(dir)+".tmp-")
	if err != nil {
		return errors.Wrap(err, "create staging dir")
	}
	defer os.RemoveAll(tmp)

	if err := a.writeFiles(tmp); err != nil {
		return err
	}
	if err := os.Chmod(tmp, 0o755); err != nil {
		return err
	}
	return replaceDir(tmp, dir)
}

func (a *Artifact) writeFiles(dir string) error {
	weights, err := a.Classifier.Serialize()
	if err != nil {
		return errors.Wrap(err, "serialize classifier")
	}
	if err := os.WriteFile(filepath.Join(dir, WeightsFile), weights, 0o644); err != nil {
		return errors.Wrap(err, "write weights")
	}
	a.Manifest.WeightsSHA256 = sha256Hex(weights)

	labelsPath := filepath.Join(dir, LabelsFile)
	if err := a.Labels.Save(labelsPath); err != nil {
		return err
	}
	sum, err := fileSHA256(labelsPath)
	if err != nil {
		return err
	}
	a.Manifest.LabelsSHA256 = sum

	manifest, err := json.MarshalIndent(a.Manifest, "", "  ")
	if err != nil {
		return err
	}
	return errors.Wrap(os.WriteFile(filepath.Join(dir, ManifestFile), append(manifest, '\n'), 0o644), "write manifest")
}

// replaceDir moves src to dst. An existing dst is moved aside first and
// removed once src is in place; a failed swap restores it.
func replaceDir(src, dst string) error {
	old := ""
	if _, err := os.Stat(dst); err == nil {
		old = dst + ".old-" + filepath.Base(src)
		if err := os.Rename(dst, old); err != nil {
			return errors.Wrapf(err, "move aside %s", dst)
		}
	}
	if err := os.Rename(src, dst); err != nil {
		if old != "" {
			_ = os.Rename(old, dst)
		}
		return errors.Wrapf(err, "install artifact %s", dst)
	}
	if old != "" {
		return errors.Wrap(os.RemoveAll(old), "remove previous artifact")
	}
	return nil
}

// Load reads an artifact written by Save. Weights are never returned without
// the label index they were trained with, and both files must match the
// checksums in the manifest.
func Load(dir string) (*Artifact, error) {
	data, err := os.ReadFile(filepath.Join(dir, ManifestFile))
	if err != nil {
		return nil, errors.Wrap(err, "read manifest")
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, errors.Wrap(err, "parse manifest")
	}
	if m.Format != FormatVersion {
		return nil, errors.Errorf("unsupported artifact format %d", m.Format)
	}

	labelsPath := filepath.Join(dir, LabelsFile)
	sum, err := fileSHA256(labelsPath)
	if err != nil {
		return nil, &MissingLabelIndexError{Dir: dir, Err: err}
	}
	if sum != m.LabelsSHA256 {
		return nil, &MissingLabelIndexError{Dir: dir, Err: errors.New("labels.json does not match the manifest checksum")}
	}
	idx, err := labels.Load(labelsPath)
	if err != nil {
		return nil, &MissingLabelIndexError{Dir: dir, Err: err}
	}

	weights, err := os.ReadFile(filepath.Join(dir, WeightsFile))
	if err != nil {
		return nil, errors.Wrap(err, "read weights")
	}
	if sha256Hex(weights) != m.WeightsSHA256 {
		return nil, &WeightsMismatchError{Dir: dir}
	}
	c, err := Decode(m.Kind, weights)
	if err != nil {
		return nil, err
	}

	a := &Artifact{Manifest: m, Classifier: c, Labels: idx}
	if err := a.check(); err != nil {
		return nil, errors.Wrapf(err, "artifact %s", dir)
	}
	return a, nil
}

func fileSHA256(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return sha256Hex(data), nil
}

func sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
