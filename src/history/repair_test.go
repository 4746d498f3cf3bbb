package history

import (
	"fmt"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/chenguaself/blive-danmaku/src/danmaku"
)

func appendChat(t *testing.T, store *Store, roomID, sessionID, uid, ts int64, content string) {
	t.Helper()
	store.Append(roomID, sessionID, &danmaku.Chat{
		User:      danmaku.User{UID: uid, Username: fmt.Sprintf("用户%d", uid)},
		Content:   content,
		Timestamp: ts,
	})
}

func sessionTimes(t *testing.T, store *Store, roomID, sessionID int64) []int64 {
	t.Helper()
	loaded, err := store.Load(roomID, sessionID)
	require.NoError(t, err)
	var times []int64
	for _, kind := range Kinds {
		for _, line := range loaded[kind] {
			times = append(times, recordTime(line))
		}
	}
	return times
}

func TestRepairGapsSplitsSession(t *testing.T) {
	store := NewStore(t.TempDir())
	base := int64(1700000000)

	// 前半段连续，随后 20 分钟空窗，再来后半段
	appendChat(t, store, 92613, base, 1, base+10, "一")
	appendChat(t, store, 92613, base, 1, base+20, "二")
	splitAt := base + 20 + 1250 // 相隔 1250s > 15min
	appendChat(t, store, 92613, base, 2, splitAt, "三")
	appendChat(t, store, 92613, base, 2, splitAt+30, "四")

	require.NoError(t, store.RepairGaps(92613))

	sessions, err := store.ListSessions(92613)
	require.NoError(t, err)
	require.Equal(t, []int64{splitAt, base}, sessions)

	assert.Equal(t, []int64{base + 10, base + 20}, sessionTimes(t, store, 92613, base))
	assert.Equal(t, []int64{splitAt, splitAt + 30}, sessionTimes(t, store, 92613, splitAt))
}

func TestRepairGapsHandlesMultipleGaps(t *testing.T) {
	store := NewStore(t.TempDir())
	base := int64(1700000000)

	// 两个断层：拆出来的新场次要继续进扫描队列再拆一次
	second := base + 2000
	third := second + 2000
	appendChat(t, store, 1, base, 1, base+1, "a")
	appendChat(t, store, 1, base, 1, second, "b")
	appendChat(t, store, 1, base, 1, third, "c")

	require.NoError(t, store.RepairGaps(1))

	sessions, err := store.ListSessions(1)
	require.NoError(t, err)
	assert.Equal(t, []int64{third, second, base}, sessions)
	assert.Equal(t, []int64{base + 1}, sessionTimes(t, store, 1, base))
	assert.Equal(t, []int64{second}, sessionTimes(t, store, 1, second))
	assert.Equal(t, []int64{third}, sessionTimes(t, store, 1, third))
}

func TestRepairGapsNoGap(t *testing.T) {
	store := NewStore(t.TempDir())
	base := int64(1700000000)
	for i := int64(0); i < 5; i++ {
		appendChat(t, store, 2, base, 1, base+i*60, "x")
	}
	require.NoError(t, store.RepairGaps(2))

	sessions, err := store.ListSessions(2)
	require.NoError(t, err)
	assert.Equal(t, []int64{base}, sessions)
	assert.Len(t, sessionTimes(t, store, 2, base), 5)
}

func TestRepairGapsSpansKinds(t *testing.T) {
	store := NewStore(t.TempDir())
	base := int64(1700000000)

	appendChat(t, store, 3, base, 1, base+10, "弹幕")
	store.Append(3, base, &danmaku.Gift{
		User: danmaku.User{UID: 2}, GiftID: 1, GiftName: "礼物", Num: 1,
		Timestamp: base + 2000,
	})

	require.NoError(t, store.RepairGaps(3))

	newID := base + 2000
	loaded, err := store.Load(3, newID)
	require.NoError(t, err)
	require.Len(t, loaded[KindGift], 1)
	// 原场次里的 gift.jsonl 已整个搬走
	loaded, err = store.Load(3, base)
	require.NoError(t, err)
	assert.Empty(t, loaded[KindGift])
	assert.Len(t, loaded[KindDanmaku], 1)
}

func TestRepairOverlapsMovesLateRecords(t *testing.T) {
	store := NewStore(t.TempDir())
	first := int64(1700000000)
	second := int64(1700010000)

	// 第一场次里混进了两条时间上属于第二场次的记录
	appendChat(t, store, 4, first, 1, first+10, "本场")
	appendChat(t, store, 4, first, 1, second+5, "串场一")
	appendChat(t, store, 4, first, 1, second+15, "串场二")
	appendChat(t, store, 4, second, 2, second+10, "第二场")

	require.NoError(t, store.RepairOverlaps(4))

	assert.Equal(t, []int64{first + 10}, sessionTimes(t, store, 4, first))
	// 搬过去之后按时间重新排好
	assert.Equal(t, []int64{second + 5, second + 10, second + 15}, sessionTimes(t, store, 4, second))
}

func TestRepairOverlapsPreservesRawBytes(t *testing.T) {
	store := NewStore(t.TempDir())
	first := int64(1700000000)
	second := int64(1700010000)

	appendChat(t, store, 5, first, 7, second+1, "要搬走的")
	appendChat(t, store, 5, second, 8, second+2, "原有的")

	require.NoError(t, store.RepairOverlaps(5))

	loaded, err := store.Load(5, second)
	require.NoError(t, err)
	require.Len(t, loaded[KindDanmaku], 2)
	moved := loaded[KindDanmaku][0]
	assert.Equal(t, "要搬走的", gjson.GetBytes(moved, "content").String())
	assert.EqualValues(t, 7, gjson.GetBytes(moved, "user.uid").Int())
	assert.Equal(t, "danmaku", gjson.GetBytes(moved, "type").String())
}

// appendRawLine 直接往类别文件里塞一行，模拟落盘时写坏的记录
func appendRawLine(t *testing.T, store *Store, roomID, sessionID int64, kind Kind, line string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(store.sessionDir(roomID, sessionID), 0o755))
	f, err := os.OpenFile(store.kindFile(roomID, sessionID, kind), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	require.NoError(t, err)
	defer f.Close()
	_, err = f.WriteString(line + "\n")
	require.NoError(t, err)
}

func TestRepairKeepsUnparsableLines(t *testing.T) {
	store := NewStore(t.TempDir())
	first := int64(1700000000)
	second := int64(1700010000)

	// 坏行取不出时间戳，修复重写后必须还留在原场次里
	appendChat(t, store, 9, first, 1, first+10, "本场")
	appendRawLine(t, store, 9, first, KindDanmaku, `{"type":"danmaku","content":"写坏的`)
	appendChat(t, store, 9, first, 1, second+5, "串场")
	appendChat(t, store, 9, second, 2, second+10, "第二场")

	require.NoError(t, store.RepairOverlaps(9))

	loaded, err := store.Load(9, first)
	require.NoError(t, err)
	require.Len(t, loaded[KindDanmaku], 2)
	found := false
	for _, line := range loaded[KindDanmaku] {
		if string(line) == `{"type":"danmaku","content":"写坏的` {
			found = true
		}
	}
	assert.True(t, found, "坏行不应在修复中被丢弃")
	assert.Equal(t, []int64{second + 5, second + 10}, sessionTimes(t, store, 9, second))
}

func TestRepairGapsIgnoresUnparsableLines(t *testing.T) {
	store := NewStore(t.TempDir())
	base := int64(1700000000)

	// 坏行既不参与断层判定（不然 0 到首条记录必然超阈值），
	// 拆分后也要留在原场次
	appendRawLine(t, store, 10, base, KindDanmaku, `not even json`)
	appendChat(t, store, 10, base, 1, base+10, "一")
	appendChat(t, store, 10, base, 1, base+20, "二")
	splitAt := base + 20 + 1250
	appendChat(t, store, 10, base, 2, splitAt, "三")

	require.NoError(t, store.RepairGaps(10))

	sessions, err := store.ListSessions(10)
	require.NoError(t, err)
	require.Equal(t, []int64{splitAt, base}, sessions)

	loaded, err := store.Load(10, base)
	require.NoError(t, err)
	require.Len(t, loaded[KindDanmaku], 3)
	assert.Contains(t, loaded[KindDanmaku], []byte(`not even json`))
	assert.Equal(t, []int64{splitAt}, sessionTimes(t, store, 10, splitAt))
}

func TestSortSession(t *testing.T) {
	store := NewStore(t.TempDir())
	base := int64(1700000000)
	// 乱序写入
	appendChat(t, store, 6, base, 1, base+30, "三")
	appendChat(t, store, 6, base, 1, base+10, "一")
	appendChat(t, store, 6, base, 1, base+20, "二")

	require.NoError(t, store.SortSession(6, base))
	assert.Equal(t, []int64{base + 10, base + 20, base + 30}, sessionTimes(t, store, 6, base))
}
