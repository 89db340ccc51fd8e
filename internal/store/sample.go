package store

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Sample is one labeled hand pose stored for training.
type Sample struct {
	ID        string      `json:"id"`
	Label     string      `json:"label"`
	Landmarks [][]float64 `json:"landmarks"`
	Source    string      `json:"source"`
	CreatedAt time.Time   `json:"created_at"`
}

// SampleRepository provides CRUD operations for samples.
type SampleRepository struct {
	db *sql.DB
}

// Samples returns the sample repository for this store.
func (s *Store) Samples() *SampleRepository {
	return &SampleRepository{db: s.db}
}

// Create inserts samples in a single transaction. Missing IDs, sources and
// timestamps are filled in.
func (r *SampleRepository) Create(samples ...*Sample) error {
	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`INSERT INTO samples (id, label, landmarks, source, created_at) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	now := time.Now()
	for _, s := range samples {
		if s.Label == "" {
			return errors.New("sample has no label")
		}
		if s.ID == "" {
			s.ID = uuid.NewString()
		}
		if s.Source == "" {
			s.Source = "api"
		}
		if s.CreatedAt.IsZero() {
			s.CreatedAt = now
		}
		data, err := json.Marshal(s.Landmarks)
		if err != nil {
			return errors.Wrapf(err, "encode landmarks of sample %s", s.ID)
		}
		if _, err := stmt.Exec(s.ID, s.Label, string(data), s.Source, s.CreatedAt); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// List returns samples in insertion order. An empty label lists every
// sample.
func (r *SampleRepository) List(label string) ([]*Sample, error) {
	query := `SELECT id, label, landmarks, source, created_at FROM samples`
	var args []interface{}
	if label != "" {
		query += ` WHERE label = ?`
		args = append(args, label)
	}
	query += ` ORDER BY created_at, rowid`

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var samples []*Sample
	for rows.Next() {
		s := &Sample{}
		var data string
		if err := rows.Scan(&s.ID, &s.Label, &data, &s.Source, &s.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(data), &s.Landmarks); err != nil {
			return nil, errors.Wrapf(err, "decode landmarks of sample %s", s.ID)
		}
		samples = append(samples, s)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return samples, nil
}

// CountByLabel returns the number of samples per label.
func (r *SampleRepository) CountByLabel() (map[string]int, error) {
	rows, err := r.db.Query(`SELECT label, COUNT(*) FROM samples GROUP BY label`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var label string
		var n int
		if err := rows.Scan(&label, &n); err != nil {
			return nil, err
		}
		counts[label] = n
	}

	return counts, rows.Err()
}

// Delete removes a sample by ID.
func (r *SampleRepository) Delete(id string) error {
	result, err := r.db.Exec(`DELETE FROM samples WHERE id = ?`, id)
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

// DeleteByLabel removes every sample with label and returns how many were
// removed.
func (r *SampleRepository) DeleteByLabel(label string) (int64, error) {
	result, err := r.db.Exec(`DELETE FROM samples WHERE label = ?`, label)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
