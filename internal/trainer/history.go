package trainer

import (
	"io"

	"github.com/gocarina/gocsv"
	"github.com/pkg/errors"
)

// WriteHistoryCSV writes the epoch log as CSV with a header row.
func WriteHistoryCSV(w io.Writer, history []EpochMetrics) error {
	return errors.Wrap(gocsv.Marshal(&history, w), "write training history")
}

// ReadHistoryCSV reads a log written by WriteHistoryCSV.
func ReadHistoryCSV(r io.Reader) ([]EpochMetrics, error) {
	var out []EpochMetrics
	if err := gocsv.Unmarshal(r, &out); err != nil {
		return nil, errors.Wrap(err, "read training history")
	}
	return out, nil
}
