package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/mamori-ai/mamori/internal/model"
)

// ReportStore persists resilience reports in a local SQLite file so runs
// can be compared over time without any server infrastructure.
type ReportStore struct {
	db *sql.DB
}

const reportSchema = `
CREATE TABLE IF NOT EXISTS resilience_reports (
	id           TEXT PRIMARY KEY,
	generated_at TEXT NOT NULL,
	overall      REAL NOT NULL,
	verdict      TEXT NOT NULL,
	payload      TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_reports_generated ON resilience_reports (generated_at DESC);
`

// OpenReportStore opens (creating if needed) the report database at path.
func OpenReportStore(path string) (*ReportStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("storage: open report db: %w", err)
	}
	// SQLite handles one writer at a time; serialize access at the pool level.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(reportSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: create report schema: %w", err)
	}
	return &ReportStore{db: db}, nil
}

// Close releases the underlying database handle.
func (s *ReportStore) Close() error {
	return s.db.Close()
}

// SaveReport persists one resilience report.
func (s *ReportStore) SaveReport(report model.ResilienceReport) error {
	payload, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("storage: encode report: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT INTO resilience_reports (id, generated_at, overall, verdict, payload)
		 VALUES (?, ?, ?, ?, ?)`,
		report.ID.String(),
		report.GeneratedAt.UTC().Format(time.RFC3339Nano),
		report.OverallResilienceScore,
		report.Verdict,
		string(payload),
	)
	if err != nil {
		return fmt.Errorf("storage: save report: %w", err)
	}
	return nil
}

// LatestReport returns the most recently generated report, or ErrNotFound
// when none has been saved.
func (s *ReportStore) LatestReport() (model.ResilienceReport, error) {
	var payload string
	err := s.db.QueryRow(
		`SELECT payload FROM resilience_reports ORDER BY generated_at DESC LIMIT 1`,
	).Scan(&payload)
	if err == sql.ErrNoRows {
		return model.ResilienceReport{}, ErrNotFound
	}
	if err != nil {
		return model.ResilienceReport{}, fmt.Errorf("storage: load latest report: %w", err)
	}
	return decodeReport(payload)
}

// ListReports returns up to limit reports, newest first.
func (s *ReportStore) ListReports(limit int) ([]model.ResilienceReport, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(
		`SELECT payload FROM resilience_reports ORDER BY generated_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("storage: list reports: %w", err)
	}
	defer rows.Close()

	var reports []model.ResilienceReport
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("storage: scan report: %w", err)
		}
		report, err := decodeReport(payload)
		if err != nil {
			return nil, err
		}
		reports = append(reports, report)
	}
	return reports, rows.Err()
}

func decodeReport(payload string) (model.ResilienceReport, error) {
	var report model.ResilienceReport
	if err := json.Unmarshal([]byte(payload), &report); err != nil {
		return model.ResilienceReport{}, fmt.Errorf("storage: decode report: %w", err)
	}
	return report, nil
}
