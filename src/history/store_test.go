package history

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/chenguaself/blive-danmaku/src/danmaku"
)

func TestAppendAndLoad(t *testing.T) {
	store := NewStore(t.TempDir())

	store.Append(92613, 1700000000, &danmaku.Chat{
		User:      danmaku.User{UID: 1, Username: "甲"},
		Content:   "第一条",
		Timestamp: 1700000001,
	})
	store.Append(92613, 1700000000, &danmaku.Gift{
		User:      danmaku.User{UID: 2, Username: "乙"},
		GiftID:    31036, GiftName: "小花花", Num: 1, Price: 100,
		Timestamp: 1700000002,
	})
	// 场次号缺失时静默丢弃
	store.Append(92613, 0, &danmaku.Chat{User: danmaku.User{UID: 3}, Content: "x", Timestamp: 1})
	// 不落盘的事件类型
	store.Append(92613, 1700000000, &danmaku.Popularity{Value: 99, Timestamp: 1700000003})

	loaded, err := store.Load(92613, 1700000000)
	require.NoError(t, err)
	require.Len(t, loaded[KindDanmaku], 1)
	require.Len(t, loaded[KindGift], 1)
	assert.Empty(t, loaded[KindGuard])

	line := loaded[KindDanmaku][0]
	assert.Equal(t, "danmaku", gjson.GetBytes(line, "type").String())
	assert.Equal(t, "第一条", gjson.GetBytes(line, "content").String())
}

func TestLoadMissingSession(t *testing.T) {
	store := NewStore(t.TempDir())
	_, err := store.Load(1, 1700000000)
	assert.True(t, os.IsNotExist(err))
}

func TestLoadDeduplicates(t *testing.T) {
	store := NewStore(t.TempDir())
	chat := &danmaku.Chat{
		User:      danmaku.User{UID: 1, Username: "甲"},
		Content:   "重复写入",
		Timestamp: 1700000001,
	}
	// 同一条写三遍（重连后补写会造成这种情况）
	for i := 0; i < 3; i++ {
		store.Append(92613, 1700000000, chat)
	}
	store.Append(92613, 1700000000, &danmaku.Chat{
		User:      danmaku.User{UID: 1, Username: "甲"},
		Content:   "另一条",
		Timestamp: 1700000001,
	})

	loaded, err := store.Load(92613, 1700000000)
	require.NoError(t, err)
	require.Len(t, loaded[KindDanmaku], 2)
	assert.Equal(t, "重复写入", gjson.GetBytes(loaded[KindDanmaku][0], "content").String())
	assert.Equal(t, "另一条", gjson.GetBytes(loaded[KindDanmaku][1], "content").String())
}

func TestListSessionsDescending(t *testing.T) {
	store := NewStore(t.TempDir())
	for _, sid := range []int64{1700000000, 1700100000, 1699900000} {
		store.Append(92613, sid, &danmaku.Chat{User: danmaku.User{UID: 1}, Content: "x", Timestamp: sid + 1})
	}

	sessions, err := store.ListSessions(92613)
	require.NoError(t, err)
	assert.Equal(t, []int64{1700100000, 1700000000, 1699900000}, sessions)

	// 不存在的房间：空表不报错
	sessions, err = store.ListSessions(404)
	require.NoError(t, err)
	assert.Empty(t, sessions)
}

func TestListSessionsIgnoresJunk(t *testing.T) {
	root := t.TempDir()
	store := NewStore(root)
	store.Append(92613, 1700000000, &danmaku.Chat{User: danmaku.User{UID: 1}, Content: "x", Timestamp: 1700000001})
	require.NoError(t, os.MkdirAll(filepath.Join(root, "92613", "not-a-session"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "92613", "stray.txt"), []byte("x"), 0o644))

	sessions, err := store.ListSessions(92613)
	require.NoError(t, err)
	assert.Equal(t, []int64{1700000000}, sessions)
}

func TestRecordTime(t *testing.T) {
	assert.EqualValues(t, 1700000001, recordTime([]byte(`{"timestamp":1700000001}`)))
	assert.EqualValues(t, 1700000002, recordTime([]byte(`{"time":1700000002}`)))
	// 毫秒归一成秒
	assert.EqualValues(t, 1700000003, recordTime([]byte(`{"timestamp":1700000003456}`)))
	// timestamp 优先于 time
	assert.EqualValues(t, 5, recordTime([]byte(`{"timestamp":5,"time":9}`)))
	assert.EqualValues(t, 0, recordTime([]byte(`{"content":"没有时间"}`)))
}
