package sqlite_db

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"

	_ "github.com/glebarez/go-sqlite" // Pure Go SQLite driver
)

// InitDB initializes an SQLite database at the given path.
// It creates the database file if it doesn't exist and sets up the
// 'training_runs' and 'epoch_metrics' tables.
func InitDB(dataSourceName string) (*sql.DB, error) {
	dir := filepath.Dir(dataSourceName)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	// The driver registers itself as "sqlite"
	db, err := sql.Open("sqlite", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	schema := []string{
		`CREATE TABLE IF NOT EXISTS training_runs (
			"id" INTEGER PRIMARY KEY AUTOINCREMENT,
			"phase" TEXT NOT NULL,
			"config" TEXT NOT NULL,
			"started_at" DATETIME DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE TABLE IF NOT EXISTS epoch_metrics (
			"run_id" INTEGER NOT NULL REFERENCES training_runs(id),
			"epoch" INTEGER NOT NULL,
			"loss" REAL NOT NULL,
			"grad_norm" REAL NOT NULL,
			"skipped" INTEGER NOT NULL DEFAULT 0,
			"recorded_at" DATETIME DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY ("run_id", "epoch")
		);`,
	}
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to create tables: %w", err)
		}
	}

	log.Printf("SQLite database initialized at %s", dataSourceName)
	return db, nil
}

// StartRun records a new training phase and returns its run ID.
func StartRun(db *sql.DB, phase, configJSON string) (int64, error) {
	result, err := db.Exec(`INSERT INTO training_runs(phase, config) VALUES (?, ?)`, phase, configJSON)
	if err != nil {
		return 0, fmt.Errorf("failed to insert training run: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID: %w", err)
	}
	return id, nil
}

// RecordEpoch stores the statistics of one epoch of a run.
func RecordEpoch(db *sql.DB, runID int64, epoch int, loss, gradNorm float32, skipped int) error {
	_, err := db.Exec(`INSERT OR REPLACE INTO epoch_metrics(run_id, epoch, loss, grad_norm, skipped) VALUES (?, ?, ?, ?, ?)`,
		runID, epoch, float64(loss), float64(gradNorm), skipped)
	if err != nil {
		return fmt.Errorf("failed to record epoch %d of run %d: %w", epoch, runID, err)
	}
	return nil
}

// Run represents a training run stored in the database.
type Run struct {
	ID        int64
	Phase     string
	Config    string
	StartedAt string
}

// GetRuns retrieves all training runs, oldest first.
func GetRuns(db *sql.DB) ([]Run, error) {
	rows, err := db.Query(`SELECT id, phase, config, started_at FROM training_runs ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query training runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		if err := rows.Scan(&r.ID, &r.Phase, &r.Config, &r.StartedAt); err != nil {
			return nil, fmt.Errorf("failed to scan training run: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// EpochLosses returns the per-epoch losses of a run in epoch order.
func EpochLosses(db *sql.DB, runID int64) ([]float32, error) {
	rows, err := db.Query(`SELECT loss FROM epoch_metrics WHERE run_id = ? ORDER BY epoch ASC`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query epoch metrics: %w", err)
	}
	defer rows.Close()

	var losses []float32
	for rows.Next() {
		var loss float64
		if err := rows.Scan(&loss); err != nil {
			return nil, fmt.Errorf("failed to scan epoch loss: %w", err)
		}
		losses = append(losses, float32(loss))
	}
	return losses, rows.Err()
}
