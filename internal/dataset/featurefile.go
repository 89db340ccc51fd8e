package dataset

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"strconv"

	"github.com/pkg/errors"
)

// FeatureHeader returns the feature file header for vectors of length dim.
func FeatureHeader(dim int) []string {
	h := make([]string, dim+1)
	h[0] = "label"
	for i := 0; i < dim; i++ {
		h[i+1] = "f" + strconv.Itoa(i)
	}
	return h
}

// ReadFeatureFile parses a label,f0..f{dim-1} table grouped by label. When
// dim is zero it is taken from the header. A row with the wrong number of
// columns or a non-numeric cell aborts the read.
func ReadFeatureFile(r io.Reader, dim int) (map[string][]Sample, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err == io.EOF {
		return nil, errors.New("feature file is empty")
	}
	if err != nil {
		return nil, errors.Wrap(err, "read feature header")
	}
	if dim == 0 {
		dim = len(header) - 1
	}
	if dim <= 0 || len(header) != dim+1 || header[0] != "label" {
		return nil, errors.Errorf("feature header has %d columns, want label plus %d features", len(header), dim)
	}

	out := make(map[string][]Sample)
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrapf(err, "row %d", line)
		}
		if len(rec) != dim+1 {
			return nil, errors.Errorf("row %d: %d columns, want %d", line, len(rec), dim+1)
		}
		label := rec[0]
		if label == "" {
			return nil, errors.Errorf("row %d: empty label", line)
		}
		vec := make([]float64, dim)
		for i, cell := range rec[1:] {
			v, err := strconv.ParseFloat(cell, 64)
			if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, errors.Errorf("row %d column %s: invalid value %q", line, header[i+1], cell)
			}
			vec[i] = v
		}
		out[label] = append(out[label], Sample{Label: label, Vector: vec})
	}
	if len(out) == 0 {
		return nil, errors.New("feature file has no rows")
	}
	return out, nil
}

// WriteFeatureFile writes samples as a label,f0.. table. All vectors must have
// the same length.
func WriteFeatureFile(w io.Writer, samples []Sample) error {
	if len(samples) == 0 {
		return errors.New("no samples to write")
	}
	dim := len(samples[0].Vector)
	if dim == 0 {
		return errors.New("samples have empty vectors")
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(FeatureHeader(dim)); err != nil {
		return err
	}
	rec := make([]string, dim+1)
	for i, s := range samples {
		if len(s.Vector) != dim {
			return fmt.Errorf("sample %d (%s) has %d features, want %d", i, s.Label, len(s.Vector), dim)
		}
		rec[0] = s.Label
		for j, v := range s.Vector {
			rec[j+1] = strconv.FormatFloat(v, 'g', -1, 64)
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
