package guests

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/strefethen/hotel-hub-go/internal/db"
)

func setupRepository(t *testing.T) *Repository {
	t.Helper()
	dbPair, err := db.Init(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { dbPair.Close() })
	return NewRepository(dbPair)
}

func TestReplaceRoomWritesStayAndBills(t *testing.T) {
	repo := setupRepository(t)
	ctx := context.Background()
	now := time.Date(2026, 5, 1, 15, 0, 0, 0, time.UTC)
	checkOut := now.Add(48 * time.Hour)

	stay := &Stay{GuestName: "A. Smith", CheckIn: now.Add(-time.Hour), CheckOut: &checkOut}
	bills := []Bill{
		{Label: "Minibar", Amount: 12.5, BillDate: now.Add(-30 * time.Minute)},
		{Label: "Room service", Amount: 40, BillDate: now.Add(-10 * time.Minute)},
	}
	require.NoError(t, repo.ReplaceRoom(ctx, "301", stay, bills, now))

	got, err := repo.CurrentStay(ctx, "301")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "A. Smith", got.GuestName)
	assert.True(t, got.CheckIn.Equal(now.Add(-time.Hour)))
	require.NotNil(t, got.CheckOut)
	assert.True(t, got.CheckOut.Equal(checkOut))
	assert.True(t, got.LastPMSSync.Equal(now))

	gotBills, err := repo.Bills(ctx, "301")
	require.NoError(t, err)
	require.Len(t, gotBills, 2)
	assert.Equal(t, "Minibar", gotBills[0].Label)
}

func TestReplaceRoomOverwritesFolio(t *testing.T) {
	repo := setupRepository(t)
	ctx := context.Background()
	now := time.Now().UTC()
	stay := &Stay{GuestName: "A. Smith", CheckIn: now}

	require.NoError(t, repo.ReplaceRoom(ctx, "301", stay, []Bill{{Label: "Spa", Amount: 80, BillDate: now}}, now))
	require.NoError(t, repo.ReplaceRoom(ctx, "301", stay, []Bill{{Label: "Spa", Amount: 80, BillDate: now}}, now))

	bills, err := repo.Bills(ctx, "301")
	require.NoError(t, err)
	assert.Len(t, bills, 1, "repeated fetches must not duplicate bills")
}

func TestReplaceRoomWithNoGuestClears(t *testing.T) {
	repo := setupRepository(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, repo.ReplaceRoom(ctx, "301", &Stay{GuestName: "A. Smith", CheckIn: now},
		[]Bill{{Label: "Spa", Amount: 80, BillDate: now}}, now))
	require.NoError(t, repo.ReplaceRoom(ctx, "302", &Stay{GuestName: "B. Jones", CheckIn: now}, nil, now))

	require.NoError(t, repo.ReplaceRoom(ctx, "301", nil, nil, now))

	stay, err := repo.CurrentStay(ctx, "301")
	require.NoError(t, err)
	assert.Nil(t, stay)
	bills, err := repo.Bills(ctx, "301")
	require.NoError(t, err)
	assert.Empty(t, bills)

	other, err := repo.CurrentStay(ctx, "302")
	require.NoError(t, err)
	assert.NotNil(t, other, "other rooms untouched")
}
