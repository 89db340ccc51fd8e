package store

import (
	"database/sql"
	"time"

	"github.com/pkg/errors"
)

// RunStatus is the lifecycle state of a training run.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
)

// Run is one training run.
type Run struct {
	ID           string     `json:"id"`
	Kind         string     `json:"kind"`
	Mode         string     `json:"mode"`
	Monitor      string     `json:"monitor"`
	Status       RunStatus  `json:"status"`
	TrainSamples int        `json:"train_samples"`
	TestSamples  int        `json:"test_samples"`
	BestEpoch    int        `json:"best_epoch"`
	BestValue    float64    `json:"best_value"`
	ArtifactDir  string     `json:"artifact_dir,omitempty"`
	Error        string     `json:"error,omitempty"`
	StartedAt    time.Time  `json:"started_at"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
}

// Epoch is one row of a run's metrics log.
type Epoch struct {
	Epoch       int     `json:"epoch"`
	Loss        float64 `json:"loss"`
	Accuracy    float64 `json:"accuracy"`
	ValLoss     float64 `json:"val_loss"`
	ValAccuracy float64 `json:"val_accuracy"`
	Improved    bool    `json:"improved"`
	Seconds     float64 `json:"seconds"`
}

// RunRepository records training runs and their epochs.
type RunRepository struct {
	db *sql.DB
}

// Runs returns the run repository for this store.
func (s *Store) Runs() *RunRepository {
	return &RunRepository{db: s.db}
}

// Create inserts a run in the running state.
func (r *RunRepository) Create(run *Run) error {
	if run.ID == "" {
		return errors.New("run has no id")
	}
	run.Status = RunRunning
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now()
	}

	_, err := r.db.Exec(
		`INSERT INTO training_runs (id, kind, mode, monitor, status, train_samples, test_samples, started_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Kind, run.Mode, run.Monitor, string(run.Status), run.TrainSamples, run.TestSamples, run.StartedAt,
	)
	return err
}

// Finish marks a run as succeeded, or failed when runErr is non-nil.
func (r *RunRepository) Finish(id string, bestEpoch int, bestValue float64, artifactDir string, runErr error) error {
	status, msg := RunSucceeded, ""
	if runErr != nil {
		status, msg = RunFailed, runErr.Error()
	}

	result, err := r.db.Exec(
		`UPDATE training_runs
		 SET status = ?, best_epoch = ?, best_value = ?, artifact_dir = ?, error = ?, finished_at = ?
		 WHERE id = ?`,
		string(status), bestEpoch, bestValue, artifactDir, msg, time.Now(), id,
	)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}

// SetArtifactDir records where a finished run's artifact was saved.
func (r *RunRepository) SetArtifactDir(id, dir string) error {
	result, err := r.db.Exec(`UPDATE training_runs SET artifact_dir = ? WHERE id = ?`, dir, id)
	if err != nil {
		return err
	}
	if n, err := result.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return ErrNotFound
	}
	return nil
}

// AddEpoch appends an epoch to a run's log.
func (r *RunRepository) AddEpoch(runID string, e Epoch) error {
	_, err := r.db.Exec(
		`INSERT INTO epoch_metrics (run_id, epoch, loss, accuracy, val_loss, val_accuracy, improved, seconds)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, e.Epoch, e.Loss, e.Accuracy, e.ValLoss, e.ValAccuracy, e.Improved, e.Seconds,
	)
	return err
}

const runColumns = `id, kind, mode, monitor, status, train_samples, test_samples,
	best_epoch, best_value, artifact_dir, error, started_at, finished_at`

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(s scanner) (*Run, error) {
	run := &Run{}
	var status string
	var finished sql.NullTime
	err := s.Scan(&run.ID, &run.Kind, &run.Mode, &run.Monitor, &status, &run.TrainSamples, &run.TestSamples,
		&run.BestEpoch, &run.BestValue, &run.ArtifactDir, &run.Error, &run.StartedAt, &finished)
	if err != nil {
		return nil, err
	}
	run.Status = RunStatus(status)
	if finished.Valid {
		t := finished.Time
		run.FinishedAt = &t
	}
	return run, nil
}

// GetByID retrieves a run by its ID.
func (r *RunRepository) GetByID(id string) (*Run, error) {
	run, err := scanRun(r.db.QueryRow(`SELECT `+runColumns+` FROM training_runs WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return run, nil
}

// List returns runs, most recent first. A positive limit caps the result.
func (r *RunRepository) List(limit int) ([]*Run, error) {
	query := `SELECT ` + runColumns + ` FROM training_runs ORDER BY started_at DESC, rowid DESC`
	var args []interface{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return runs, nil
}

// Epochs returns a run's log in epoch order.
func (r *RunRepository) Epochs(runID string) ([]Epoch, error) {
	rows, err := r.db.Query(
		`SELECT epoch, loss, accuracy, val_loss, val_accuracy, improved, seconds
		 FROM epoch_metrics WHERE run_id = ? ORDER BY epoch`,
		runID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var epochs []Epoch
	for rows.Next() {
		var e Epoch
		if err := rows.Scan(&e.Epoch, &e.Loss, &e.Accuracy, &e.ValLoss, &e.ValAccuracy, &e.Improved, &e.Seconds); err != nil {
			return nil, err
		}
		epochs = append(epochs, e)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return epochs, nil
}

// Delete removes a run and its epochs.
func (r *RunRepository) Delete(id string) error {
	result, err := r.db.Exec(`DELETE FROM training_runs WHERE id = ?`, id)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}
