package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/chenguaself/blive-danmaku/src/cmd/danmaku/internal/flag"
	"github.com/chenguaself/blive-danmaku/src/configs"
	"github.com/chenguaself/blive-danmaku/src/consts"
	"github.com/chenguaself/blive-danmaku/src/facecache"
	"github.com/chenguaself/blive-danmaku/src/history"
	"github.com/chenguaself/blive-danmaku/src/live"
	"github.com/chenguaself/blive-danmaku/src/log"
	"github.com/chenguaself/blive-danmaku/src/notify"
	"github.com/chenguaself/blive-danmaku/src/pkg/sentry"
	"github.com/chenguaself/blive-danmaku/src/rooms"
	"github.com/chenguaself/blive-danmaku/src/servers"
)

var (
	// SentryDSN 编译时注入（-ldflags="-X main.SentryDSN=..."），
	// 或通过环境变量 SENTRY_DSN 提供
	SentryDSN = ""
	// SentryEnv Sentry Environment（编译时注入）
	SentryEnv = "production"
)

func getConfig() (*configs.Config, error) {
	var config *configs.Config
	if *flag.Conf != "" {
		c, err := configs.NewConfigWithFile(*flag.Conf)
		if err != nil {
			return nil, err
		}
		config = c
	} else {
		config = flag.GenConfigFromFlags()
	}
	return config, config.Verify()
}

func main() {
	// 程序退出时刷新 Sentry 事件队列
	defer sentry.Flush(2 * time.Second)
	// 捕获主 goroutine 的 panic
	defer sentry.Recover()

	// .env 用于本地开发注入 SENTRY_DSN 等环境变量，不存在时静默跳过
	godotenv.Load()

	config, err := getConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}

	logger := log.New(config)
	logger.Infof("%s Version: %s Link Start", consts.AppName, consts.AppVersion)
	if config.File != "" {
		logger.Debugf("config path: %s.", config.File)
		logger.Debugf("other flags have been ignored.")
	} else {
		logger.Debugf("config file is not used.")
		logger.Debugf("flag: %s used.", os.Args)
	}

	dsn := SentryDSN
	if dsn == "" {
		dsn = os.Getenv("SENTRY_DSN")
	}
	environment := SentryEnv
	if config.Debug {
		environment = "development"
	}
	if err := sentry.Init(dsn, environment, consts.AppVersion); err != nil {
		// Sentry 初始化失败不影响程序运行
		logger.WithError(err).Warn("Sentry 初始化失败")
	}

	store := history.NewStore(config.HistoryPath())
	// 上次异常退出可能留下重叠或断裂的场次，启动时先修一遍
	store.RepairAll()

	cookieKVs := configs.ParseCookieKVs(config.Cookies)
	client := live.NewClient(cookieKVs)

	faces, err := facecache.NewStore(config.FaceCachePath(), cookieKVs)
	if err != nil {
		logger.WithError(err).Error("头像缓存初始化失败")
		os.Exit(1)
	}
	defer faces.Close()

	manager, err := rooms.NewManager(config, client, store, faces, notify.New(config.Notify.Email))
	if err != nil {
		logger.WithError(err).Error("房间管理器初始化失败")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	manager.Init(ctx)

	server := servers.NewServer(config, manager, store, client)
	if config.RPC.Enable {
		if err := server.Start(); err != nil {
			logger.WithError(err).Error("HTTP 服务启动失败")
			os.Exit(1)
		}
	}

	c := make(chan os.Signal, 1)
	signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
	logger.Infof("收到信号 %v，正在退出", <-c)

	if config.RPC.Enable {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := server.Close(shutdownCtx); err != nil {
			logger.WithError(err).Warn("HTTP 服务关闭异常")
		}
		shutdownCancel()
	}
	manager.Close()
	logger.Info("Bye")
}
