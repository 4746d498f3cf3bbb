// Package servers 控制 API 与下游弹幕 WebSocket 推送。
package servers

import (
	"context"
	"net/http"

	"github.com/bluele/gcache"
	"github.com/gorilla/mux"

	"github.com/chenguaself/blive-danmaku/src/configs"
	"github.com/chenguaself/blive-danmaku/src/history"
	"github.com/chenguaself/blive-danmaku/src/live"
	"github.com/chenguaself/blive-danmaku/src/log"
	"github.com/chenguaself/blive-danmaku/src/metrics"
	"github.com/chenguaself/blive-danmaku/src/pkg/sentry"
	"github.com/chenguaself/blive-danmaku/src/rooms"
)

type Server struct {
	cfg     *configs.Config
	manager *rooms.Manager
	store   *history.Store
	client  *live.Client
	// snapshots 房间快照缓存，接入高峰时不用每个订阅者都打一遍上游
	snapshots gcache.Cache
	server    *http.Server
}

func NewServer(cfg *configs.Config, manager *rooms.Manager, store *history.Store, client *live.Client) *Server {
	s := &Server{
		cfg:       cfg,
		manager:   manager,
		store:     store,
		client:    client,
		snapshots: gcache.New(1024).LRU().Build(),
	}

	r := mux.NewRouter()
	r.Use(logRequest)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/health", s.health).Methods(http.MethodGet)
	api.HandleFunc("/info", s.info).Methods(http.MethodGet)
	api.HandleFunc("/monitor/rooms", s.getMonitoredRooms).Methods(http.MethodGet)
	api.HandleFunc("/monitor/rooms", s.addMonitoredRoom).Methods(http.MethodPost)
	api.HandleFunc("/monitor/rooms/{roomId}", s.removeMonitoredRoom).Methods(http.MethodDelete)
	api.HandleFunc("/monitor/rooms/{roomId}/pause", s.pauseRoom).Methods(http.MethodPost)
	api.HandleFunc("/monitor/rooms/{roomId}/resume", s.resumeRoom).Methods(http.MethodPost)
	api.HandleFunc("/history/{roomId}/sessions", s.listSessions).Methods(http.MethodGet)
	api.HandleFunc("/history/{roomId}/{sessionId}", s.getSessionHistory).Methods(http.MethodGet)

	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/ws/danmaku", s.serveDanmakuWS).Methods(http.MethodGet)

	s.server = &http.Server{Addr: cfg.RPC.Bind, Handler: r}
	return s
}

func (s *Server) Start() error {
	log.GetLogger().WithField("bind", s.cfg.RPC.Bind).Info("HTTP 服务已启动")
	sentry.Go(func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.GetLogger().WithError(err).Error("HTTP 服务异常退出")
		}
	})
	return nil
}

func (s *Server) Close(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func logRequest(handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log.GetLogger().WithFields(map[string]any{
			"Method":     r.Method,
			"Path":       r.RequestURI,
			"RemoteAddr": r.RemoteAddr,
		}).Debug("Http Request")
		handler.ServeHTTP(w, r)
	})
}
