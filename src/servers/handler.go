package servers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/chenguaself/blive-danmaku/src/consts"
	"github.com/chenguaself/blive-danmaku/src/log"
)

type commonResp struct {
	ErrNo  int    `json:"err_no"`
	ErrMsg string `json:"err_msg"`
	Data   any    `json:"data,omitempty"`
}

func writeJSON(writer http.ResponseWriter, data any) {
	writeJsonWithStatusCode(writer, http.StatusOK, data)
}

func writeJsonWithStatusCode(writer http.ResponseWriter, code int, data any) {
	b, err := json.Marshal(data)
	if err != nil {
		writer.WriteHeader(http.StatusInternalServerError)
		return
	}
	writer.Header().Set("Content-Type", "application/json")
	writer.WriteHeader(code)
	writer.Write(b)
}

func writeError(writer http.ResponseWriter, code int, format string, args ...any) {
	writeJsonWithStatusCode(writer, code, commonResp{
		ErrNo:  code,
		ErrMsg: fmt.Sprintf(format, args...),
	})
}

// pathID 从路径变量里取数字 ID，非法时返回 0
func pathID(r *http.Request, name string) int64 {
	id, err := strconv.ParseInt(mux.Vars(r)[name], 10, 64)
	if err != nil || id <= 0 {
		return 0
	}
	return id
}

func (s *Server) health(writer http.ResponseWriter, r *http.Request) {
	writeJSON(writer, map[string]string{"status": "ok"})
}

func (s *Server) info(writer http.ResponseWriter, r *http.Request) {
	writeJSON(writer, map[string]string{
		"app_name":   consts.AppName,
		"version":    consts.AppVersion,
		"build_time": consts.BuildTime,
		"git_hash":   consts.GitHash,
	})
}

func (s *Server) getMonitoredRooms(writer http.ResponseWriter, r *http.Request) {
	writeJSON(writer, commonResp{Data: s.manager.MonitoredRooms()})
}

func (s *Server) addMonitoredRoom(writer http.ResponseWriter, r *http.Request) {
	var body struct {
		RoomID int64 `json:"roomId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.RoomID <= 0 {
		writeError(writer, http.StatusBadRequest, "缺少 roomId 参数")
		return
	}

	added, err := s.manager.AddMonitored(r.Context(), body.RoomID)
	if err != nil {
		writeError(writer, http.StatusInternalServerError, "添加失败: %v", err)
		return
	}
	msg := "房间已在监控列表中"
	if added {
		msg = "已加入监控列表"
	}
	writeJSON(writer, commonResp{Data: map[string]any{"roomId": body.RoomID, "message": msg}})
}

func (s *Server) removeMonitoredRoom(writer http.ResponseWriter, r *http.Request) {
	roomID := pathID(r, "roomId")
	if roomID == 0 {
		writeError(writer, http.StatusBadRequest, "无效的房间号")
		return
	}
	removed, err := s.manager.RemoveMonitored(roomID)
	if err != nil {
		writeError(writer, http.StatusInternalServerError, "移除失败: %v", err)
		return
	}
	if !removed {
		writeError(writer, http.StatusNotFound, "房间 %d 不在监控列表中", roomID)
		return
	}
	writeJSON(writer, commonResp{Data: map[string]any{"roomId": roomID}})
}

func (s *Server) pauseRoom(writer http.ResponseWriter, r *http.Request) {
	s.toggleRoom(writer, r, s.manager.Pause)
}

func (s *Server) resumeRoom(writer http.ResponseWriter, r *http.Request) {
	s.toggleRoom(writer, r, func(roomID int64) (bool, error) {
		return s.manager.Resume(r.Context(), roomID)
	})
}

func (s *Server) toggleRoom(writer http.ResponseWriter, r *http.Request, action func(int64) (bool, error)) {
	roomID := pathID(r, "roomId")
	if roomID == 0 {
		writeError(writer, http.StatusBadRequest, "无效的房间号")
		return
	}
	ok, err := action(roomID)
	if err != nil {
		writeError(writer, http.StatusInternalServerError, "操作失败: %v", err)
		return
	}
	if !ok {
		writeError(writer, http.StatusNotFound, "房间 %d 不在监控列表中", roomID)
		return
	}
	writeJSON(writer, commonResp{Data: map[string]any{"roomId": roomID}})
}

func (s *Server) listSessions(writer http.ResponseWriter, r *http.Request) {
	roomID := pathID(r, "roomId")
	if roomID == 0 {
		writeError(writer, http.StatusBadRequest, "无效的房间号")
		return
	}
	sessions, err := s.store.ListSessions(roomID)
	if err != nil {
		log.GetLogger().WithError(err).Error("读取场次列表失败")
		writeError(writer, http.StatusInternalServerError, "读取场次列表失败")
		return
	}
	if sessions == nil {
		sessions = []int64{}
	}
	writeJSON(writer, commonResp{Data: map[string]any{"sessions": sessions}})
}

func (s *Server) getSessionHistory(writer http.ResponseWriter, r *http.Request) {
	roomID := pathID(r, "roomId")
	sessionID := pathID(r, "sessionId")
	if roomID == 0 || sessionID == 0 {
		writeError(writer, http.StatusBadRequest, "无效的房间号或场次号")
		return
	}

	loaded, err := s.store.Load(roomID, sessionID)
	if os.IsNotExist(err) {
		writeError(writer, http.StatusNotFound, "场次不存在")
		return
	}
	if err != nil {
		log.GetLogger().WithError(err).Error("读取历史记录失败")
		writeError(writer, http.StatusInternalServerError, "读取历史记录失败")
		return
	}

	data := make(map[string][]json.RawMessage, len(loaded))
	for kind, lines := range loaded {
		list := make([]json.RawMessage, 0, len(lines))
		for _, line := range lines {
			list = append(list, json.RawMessage(line))
		}
		data[string(kind)] = list
	}
	writeJSON(writer, commonResp{Data: data})
}
