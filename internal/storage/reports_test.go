package storage_test

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mamori-ai/mamori/internal/model"
	"github.com/mamori-ai/mamori/internal/storage"
)

func openStore(t *testing.T) *storage.ReportStore {
	t.Helper()
	store, err := storage.OpenReportStore(filepath.Join(t.TempDir(), "reports.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func reportAt(generatedAt time.Time, overall float64) model.ResilienceReport {
	return model.ResilienceReport{
		ID:                     uuid.New(),
		GeneratedAt:            generatedAt,
		OverallResilienceScore: overall,
		Verdict:                "pass",
		WarnBelow:              0.7,
	}
}

func TestReportStoreSaveAndLatest(t *testing.T) {
	store := openStore(t)

	report := reportAt(time.Now().UTC(), 0.85)
	require.NoError(t, store.SaveReport(report))

	got, err := store.LatestReport()
	require.NoError(t, err)
	assert.Equal(t, report.ID, got.ID)
	assert.InDelta(t, 0.85, got.OverallResilienceScore, 1e-9)
	assert.Equal(t, "pass", got.Verdict)
}

func TestReportStoreLatestEmpty(t *testing.T) {
	store := openStore(t)

	_, err := store.LatestReport()
	assert.True(t, errors.Is(err, storage.ErrNotFound), "got %v", err)
}

func TestReportStoreLatestPicksNewest(t *testing.T) {
	store := openStore(t)

	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	older := reportAt(base, 0.5)
	newer := reportAt(base.Add(time.Hour), 0.9)
	// Insert out of order; GeneratedAt decides, not insertion order.
	require.NoError(t, store.SaveReport(newer))
	require.NoError(t, store.SaveReport(older))

	got, err := store.LatestReport()
	require.NoError(t, err)
	assert.Equal(t, newer.ID, got.ID)
}

func TestReportStoreList(t *testing.T) {
	store := openStore(t)

	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	var saved []model.ResilienceReport
	for i := 0; i < 5; i++ {
		r := reportAt(base.Add(time.Duration(i)*time.Minute), 0.8)
		require.NoError(t, store.SaveReport(r))
		saved = append(saved, r)
	}

	reports, err := store.ListReports(3)
	require.NoError(t, err)
	require.Len(t, reports, 3)
	assert.Equal(t, saved[4].ID, reports[0].ID)
	assert.Equal(t, saved[3].ID, reports[1].ID)
	assert.Equal(t, saved[2].ID, reports[2].ID)

	// Non-positive limit falls back to the default cap.
	reports, err = store.ListReports(0)
	require.NoError(t, err)
	assert.Len(t, reports, 5)
}

func TestReportStoreListEmpty(t *testing.T) {
	store := openStore(t)

	reports, err := store.ListReports(10)
	require.NoError(t, err)
	assert.Empty(t, reports)
}

func TestReportStoreRejectsDuplicateID(t *testing.T) {
	store := openStore(t)

	report := reportAt(time.Now().UTC(), 0.8)
	require.NoError(t, store.SaveReport(report))
	assert.Error(t, store.SaveReport(report))
}
