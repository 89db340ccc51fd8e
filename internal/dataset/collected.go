package dataset

import (
	"github.com/pkg/errors"

	"github.com/ayusman/senas/internal/features"
	"github.com/ayusman/senas/internal/store"
)

// FromCollected encodes landmark samples recorded through the collection
// API. The result keeps the input order.
func FromCollected(rows []*store.Sample) ([]Sample, error) {
	out := make([]Sample, 0, len(rows))
	for _, r := range rows {
		v, err := features.EncodeLandmarks(r.Landmarks)
		if err != nil {
			return nil, errors.Wrapf(err, "sample %s", r.ID)
		}
		out = append(out, Sample{Label: r.Label, Vector: v})
	}
	return out, nil
}

// Group buckets samples by label.
func Group(samples []Sample) map[string][]Sample {
	out := make(map[string][]Sample)
	for _, s := range samples {
		out[s.Label] = append(out[s.Label], s)
	}
	return out
}
