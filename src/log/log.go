package log

import (
	"github.com/sirupsen/logrus"

	"github.com/chenguaself/blive-danmaku/src/configs"
)

// New 配置全局 logrus Logger 并返回
func New(cfg *configs.Config) *logrus.Logger {
	logLevel := logrus.InfoLevel
	if cfg != nil && cfg.Debug {
		logLevel = logrus.DebugLevel
	}
	logrus.SetFormatter(&logrus.TextFormatter{
		DisableColors:   true,
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})
	logrus.SetLevel(logLevel)
	if cfg != nil && cfg.Debug {
		logrus.SetReportCaller(true)
	}
	return logrus.StandardLogger()
}

// GetLogger 返回全局唯一的 logrus Logger。
func GetLogger() *logrus.Logger {
	return logrus.StandardLogger()
}

// WithFields 是对全局 Logger 的便捷封装，返回带字段的 Entry。
func WithFields(fields logrus.Fields) *logrus.Entry {
	return logrus.StandardLogger().WithFields(fields)
}
