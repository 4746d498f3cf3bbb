package servers

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/chenguaself/blive-danmaku/src/configs"
	"github.com/chenguaself/blive-danmaku/src/danmaku"
	"github.com/chenguaself/blive-danmaku/src/history"
	"github.com/chenguaself/blive-danmaku/src/live"
	"github.com/chenguaself/blive-danmaku/src/notify"
	"github.com/chenguaself/blive-danmaku/src/rooms"
)

func newTestServer(t *testing.T) (*Server, *history.Store) {
	cfg := configs.NewConfig()
	cfg.DataPath = t.TempDir()
	store := history.NewStore(cfg.HistoryPath())
	manager, err := rooms.NewManager(cfg, nil, store, nil, notify.New(configs.Email{}))
	require.NoError(t, err)
	return NewServer(cfg, manager, store, live.NewClient(nil)), store
}

func doRequest(s *Server, method, path string, body io.Reader) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, body)
	rec := httptest.NewRecorder()
	s.server.Handler.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doRequest(s, http.MethodGet, "/api/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", gjson.Get(rec.Body.String(), "status").String())
}

func TestMonitoredRoomsEmpty(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doRequest(s, http.MethodGet, "/api/monitor/rooms", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.EqualValues(t, 0, gjson.Get(body, "err_no").Int())
	data := gjson.Get(body, "data")
	assert.True(t, data.IsArray())
	assert.Empty(t, data.Array())
}

func TestAddMonitoredRoomBadRequest(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doRequest(s, http.MethodPost, "/api/monitor/rooms", strings.NewReader(`{}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.EqualValues(t, http.StatusBadRequest, gjson.Get(rec.Body.String(), "err_no").Int())
}

func TestRemoveMonitoredRoomNotFound(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doRequest(s, http.MethodDelete, "/api/monitor/rooms/92613", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPauseRoomNotMonitored(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doRequest(s, http.MethodPost, "/api/monitor/rooms/92613/pause", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListSessionsUnknownRoom(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doRequest(s, http.MethodGet, "/api/history/92613/sessions", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	sessions := gjson.Get(rec.Body.String(), "data.sessions")
	assert.True(t, sessions.IsArray())
	assert.Empty(t, sessions.Array())
}

func TestGetSessionHistoryNotFound(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doRequest(s, http.MethodGet, "/api/history/92613/1700000000", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetSessionHistory(t *testing.T) {
	s, store := newTestServer(t)
	store.Append(92613, 1700000000, &danmaku.Chat{
		User:      danmaku.User{UID: 7, Username: "观众甲"},
		Content:   "前排",
		Timestamp: 1700000100,
	})

	rec := doRequest(s, http.MethodGet, "/api/history/92613/1700000000", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	records := gjson.Get(body, "data.danmaku")
	require.Len(t, records.Array(), 1)
	assert.Equal(t, "前排", records.Array()[0].Get("content").String())

	sessions := doRequest(s, http.MethodGet, "/api/history/92613/sessions", nil)
	assert.EqualValues(t, 1700000000,
		gjson.Get(sessions.Body.String(), "data.sessions.0").Int())
}

func TestDanmakuWSRequiresRoomID(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doRequest(s, http.MethodGet, "/ws/danmaku", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
