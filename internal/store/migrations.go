package store

// runMigrations executes all database migrations.
func (s *Store) runMigrations() error {
	migrations := []string{
		// Samples table - labeled, normalized hand landmarks collected for training
		`CREATE TABLE IF NOT EXISTS samples (
			id TEXT PRIMARY KEY,
			label TEXT NOT NULL,
			landmarks TEXT NOT NULL,
			source TEXT NOT NULL DEFAULT 'api',
			created_at DATETIME NOT NULL
		)`,

		// Training runs table - one row per trainer invocation
		`CREATE TABLE IF NOT EXISTS training_runs (
			id TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			mode TEXT NOT NULL,
			monitor TEXT NOT NULL,
			status TEXT NOT NULL CHECK(status IN ('running', 'succeeded', 'failed')),
			train_samples INTEGER NOT NULL DEFAULT 0,
			test_samples INTEGER NOT NULL DEFAULT 0,
			best_epoch INTEGER NOT NULL DEFAULT 0,
			best_value REAL NOT NULL DEFAULT 0,
			artifact_dir TEXT NOT NULL DEFAULT '',
			error TEXT NOT NULL DEFAULT '',
			started_at DATETIME NOT NULL,
			finished_at DATETIME
		)`,

		// Epoch metrics table - per-epoch log of a training run
		`CREATE TABLE IF NOT EXISTS epoch_metrics (
			run_id TEXT NOT NULL REFERENCES training_runs(id) ON DELETE CASCADE,
			epoch INTEGER NOT NULL,
			loss REAL NOT NULL,
			accuracy REAL NOT NULL,
			val_loss REAL NOT NULL,
			val_accuracy REAL NOT NULL,
			improved INTEGER NOT NULL DEFAULT 0,
			seconds REAL NOT NULL DEFAULT 0,
			PRIMARY KEY (run_id, epoch)
		)`,

		// Indexes for better query performance
		`CREATE INDEX IF NOT EXISTS idx_samples_label ON samples(label)`,
		`CREATE INDEX IF NOT EXISTS idx_training_runs_started_at ON training_runs(started_at)`,
	}

	for _, migration := range migrations {
		if _, err := s.db.Exec(migration); err != nil {
			return err
		}
	}

	return nil
}
