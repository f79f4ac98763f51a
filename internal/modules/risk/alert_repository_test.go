package risk

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/aristath/vaultkeeper/internal/database"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createTestDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.New(database.Config{
		Path:    filepath.Join(t.TempDir(), "engine.db"),
		Profile: database.ProfileStandard,
		Name:    "engine",
	})
	require.NoError(t, err)
	require.NoError(t, db.Migrate())
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestAlertRepository_RoundTrip(t *testing.T) {
	db := createTestDB(t)
	repo := NewAlertRepository(db.Conn(), zerolog.Nop())
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	older := Alert{ID: "a1", UserID: "u", Category: CategoryStopLoss, Severity: SeverityCritical, Timestamp: base, SuggestedActions: []string{"x"}}
	newer := Alert{ID: "a2", UserID: "u", Category: CategoryLiquidity, Severity: SeverityMedium, Timestamp: base.Add(time.Minute)}
	other := Alert{ID: "a3", UserID: "v", Category: CategoryStopLoss, Severity: SeverityCritical, Timestamp: base}

	for _, a := range []Alert{older, newer, other} {
		require.NoError(t, repo.Save(ctx, a))
	}

	got, err := repo.Get(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, older.Category, got.Category)
	assert.Equal(t, []string{"x"}, got.SuggestedActions)
	assert.True(t, got.Timestamp.Equal(base))

	list, err := repo.ListByUser(ctx, "u", true)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "a2", list[0].ID)

	open, err := repo.FindOpen(ctx, "u", CategoryStopLoss)
	require.NoError(t, err)
	require.NotNil(t, open)
	assert.Equal(t, "a1", open.ID)

	overdue, err := repo.ListOverdue(ctx, base.Add(time.Second))
	require.NoError(t, err)
	assert.Len(t, overdue, 2)

	// Acknowledge through an upsert
	now := base.Add(time.Hour)
	got.Acknowledged = true
	got.AcknowledgedAt = &now
	require.NoError(t, repo.Save(ctx, *got))

	open, err = repo.FindOpen(ctx, "u", CategoryStopLoss)
	require.NoError(t, err)
	assert.Nil(t, open)

	list, err = repo.ListByUser(ctx, "u", false)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "a2", list[0].ID)

	_, err = repo.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrAlertNotFound)
}

func TestAlertManager_WithSQLiteStore(t *testing.T) {
	db := createTestDB(t)
	log := zerolog.Nop()
	notifier := &recordingNotifier{}
	m := NewAlertManager(NewAlertRepository(db.Conn(), log), notifier, nil, nil, time.Hour, log)
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := &fakeClock{t: start}
	m.now = clock.Now
	ctx := context.Background()

	a, err := m.Raise(ctx, AlertRequest{UserID: "u", Category: CategoryExecutionFailure, Severity: SeverityCritical})
	require.NoError(t, err)
	b, err := m.Raise(ctx, AlertRequest{UserID: "u", Category: CategoryExecutionFailure, Severity: SeverityCritical})
	require.NoError(t, err)
	assert.Equal(t, a.ID, b.ID)

	clock.t = start.Add(2 * time.Hour)
	n, err := m.EscalateOverdue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
