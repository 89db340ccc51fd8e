package trainer

import (
	"github.com/ayusman/senas/internal/store"
)

// StoreSink writes the run log to the SQLite run repository.
type StoreSink struct {
	runs *store.RunRepository
}

// NewStoreSink returns a sink backed by runs.
func NewStoreSink(runs *store.RunRepository) *StoreSink {
	return &StoreSink{runs: runs}
}

func (s *StoreSink) StartRun(run RunInfo) error {
	return s.runs.Create(&store.Run{
		ID:           run.ID,
		Kind:         run.Kind,
		Mode:         string(run.Mode),
		Monitor:      run.Monitor,
		TrainSamples: run.TrainSamples,
		TestSamples:  run.TestSamples,
	})
}

func (s *StoreSink) RecordEpoch(runID string, m EpochMetrics) error {
	return s.runs.AddEpoch(runID, store.Epoch{
		Epoch:       m.Epoch,
		Loss:        m.Loss,
		Accuracy:    m.Accuracy,
		ValLoss:     m.ValLoss,
		ValAccuracy: m.ValAccuracy,
		Improved:    m.Improved,
		Seconds:     m.Seconds,
	})
}

func (s *StoreSink) FinishRun(runID string, res *Result, runErr error) error {
	return s.runs.Finish(runID, res.BestEpoch, res.BestValue, "", runErr)
}
