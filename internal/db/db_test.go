package db

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestInitCreatesSchemaAndSettingsRow(t *testing.T) {
	dbPair, err := Init(filepath.Join(t.TempDir(), "nested", "hub.db"))
	require.NoError(t, err)
	t.Cleanup(func() { dbPair.Close() })

	var count int
	require.NoError(t, dbPair.Reader().QueryRow("SELECT COUNT(*) FROM system_settings").Scan(&count))
	require.Equal(t, 1, count)

	var status string
	require.NoError(t, dbPair.Reader().QueryRow("SELECT pms_connection_status FROM system_settings WHERE id = 1").Scan(&status))
	require.Equal(t, "disconnected", status)
}

func TestInitIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hub.db")

	first, err := Init(path)
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second, err := Init(path)
	require.NoError(t, err)
	t.Cleanup(func() { second.Close() })

	columns, err := tableColumns(second.Writer(), "devices")
	require.NoError(t, err)
	require.True(t, columns["is_room_evacuated"])
}

func TestActiveDeviceRequiresRoom(t *testing.T) {
	dbPair, err := Init(filepath.Join(t.TempDir(), "hub.db"))
	require.NoError(t, err)
	t.Cleanup(func() { dbPair.Close() })

	now := NowISO()
	_, err = dbPair.Writer().Exec(`
		INSERT INTO devices (device_id, status, created_at, updated_at)
		VALUES ('tv-1', 'active', ?, ?)
	`, now, now)
	require.Error(t, err)
}

func TestTimeLayoutOrdersLexically(t *testing.T) {
	base := time.Date(2026, 3, 1, 10, 0, 5, 0, time.UTC)
	earlier := FormatTime(base)
	later := FormatTime(base.Add(100 * time.Millisecond))

	require.Less(t, earlier, later)

	parsed, err := ParseTime(later)
	require.NoError(t, err)
	require.True(t, parsed.Equal(base.Add(100*time.Millisecond)))
}

func TestParseTimeAcceptsRFC3339(t *testing.T) {
	parsed, err := ParseTime("2026-03-01T10:00:05+02:00")
	require.NoError(t, err)
	require.Equal(t, 8, parsed.UTC().Hour())
}
