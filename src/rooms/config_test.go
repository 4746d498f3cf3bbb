package rooms

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMonitoredMissingFile(t *testing.T) {
	rooms, err := loadMonitored(filepath.Join(t.TempDir(), "monitored_rooms.json"))
	require.NoError(t, err)
	assert.Empty(t, rooms)
}

func TestLoadMonitoredLegacyArray(t *testing.T) {
	path := filepath.Join(t.TempDir(), "monitored_rooms.json")
	// 旧版格式：裸的房间号数组（可能混着字符串写法）
	require.NoError(t, os.WriteFile(path, []byte(`[92613, 21452505]`), 0o644))

	rooms, err := loadMonitored(path)
	require.NoError(t, err)
	require.Len(t, rooms, 2)
	assert.False(t, rooms[92613].Paused)
	assert.NotZero(t, rooms[92613].AddedAt)
	assert.Contains(t, rooms, int64(21452505))
}

func TestLoadMonitoredObjectFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "monitored_rooms.json")
	content := `{
  "92613": {"paused": true, "addedAt": 1700000000000, "uname": "主播甲", "face": "https://i0.hdslb.com/f.jpg"},
  "21452505": {"paused": false, "addedAt": 1700000001000}
}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	rooms, err := loadMonitored(path)
	require.NoError(t, err)
	require.Len(t, rooms, 2)
	assert.True(t, rooms[92613].Paused)
	assert.Equal(t, "主播甲", rooms[92613].Uname)
	assert.EqualValues(t, 1700000001000, rooms[21452505].AddedAt)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "monitored_rooms.json")
	in := map[int64]*MonitorConfig{
		92613: {Paused: true, AddedAt: 1700000000000, Uname: "主播甲"},
		1:     {AddedAt: 1700000002000},
	}
	require.NoError(t, saveMonitored(path, in))

	out, err := loadMonitored(path)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestLoadMonitoredEmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "monitored_rooms.json")
	require.NoError(t, os.WriteFile(path, []byte("  \n"), 0o644))
	rooms, err := loadMonitored(path)
	require.NoError(t, err)
	assert.Empty(t, rooms)
}
