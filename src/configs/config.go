package configs

import (
	"fmt"
	"net"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// RPC info.
type RPC struct {
	Enable bool   `yaml:"enable" json:"enable"`
	Bind   string `yaml:"bind" json:"bind"`
}

var defaultRPC = RPC{
	Enable: true,
	Bind:   ":3001",
}

func (r *RPC) verify() error {
	if r == nil || !r.Enable {
		return nil
	}
	if _, err := net.ResolveTCPAddr("tcp", r.Bind); err != nil {
		return fmt.Errorf("无效的RPC绑定地址: %w", err)
	}
	return nil
}

// Notify 邮件通知配置（监控中的直播间开播/下播时发送）
type Notify struct {
	Email Email `yaml:"email" json:"email"`
}

type Email struct {
	Enable   bool   `yaml:"enable" json:"enable"`
	SMTPHost string `yaml:"smtp_host" json:"smtp_host"`
	SMTPPort int    `yaml:"smtp_port" json:"smtp_port"`
	Sender   string `yaml:"sender" json:"sender"`
	Password string `yaml:"password" json:"-"`
	To       string `yaml:"to" json:"to"`
}

// Config 全局配置
type Config struct {
	File string `yaml:"-" json:"-"`

	RPC   RPC  `yaml:"rpc" json:"rpc"`
	Debug bool `yaml:"debug" json:"debug"`
	// DataPath 数据目录：历史记录、监控房间列表、头像缓存数据库
	DataPath string `yaml:"data_path" json:"data_path"`
	// Cookies B站登录Cookie串（"SESSDATA=..; DedeUserID=..; bili_jct=.."）
	// 留空时以游客身份（uid=0）连接，上游会对用户信息脱敏
	Cookies string `yaml:"cookies" json:"-"`
	// SubscriberBuffer 每个订阅者的事件缓冲区大小，写满时丢弃（不阻塞读循环）
	SubscriberBuffer int    `yaml:"subscriber_buffer" json:"subscriber_buffer"`
	Notify           Notify `yaml:"notify" json:"notify"`
}

func NewConfig() *Config {
	return &Config{
		RPC:              defaultRPC,
		DataPath:         "./data",
		SubscriberBuffer: 256,
	}
}

// NewConfigWithFile 从 yaml 文件加载配置
func NewConfigWithFile(file string) (*Config, error) {
	b, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	config := NewConfig()
	if err := yaml.Unmarshal(b, config); err != nil {
		return nil, err
	}
	config.File = file
	return config, nil
}

func (c *Config) Verify() error {
	if c == nil {
		return fmt.Errorf("config is null")
	}
	if err := c.RPC.verify(); err != nil {
		return err
	}
	if c.DataPath == "" {
		return fmt.Errorf("data_path is empty")
	}
	if c.SubscriberBuffer <= 0 {
		return fmt.Errorf("subscriber_buffer must be positive")
	}
	return nil
}

// HistoryPath 历史记录根目录
func (c *Config) HistoryPath() string {
	return filepath.Join(c.DataPath, "history")
}

// MonitorFile 监控房间持久化文件
func (c *Config) MonitorFile() string {
	return filepath.Join(c.DataPath, "monitored_rooms.json")
}

// FaceCachePath 头像缓存数据库
func (c *Config) FaceCachePath() string {
	return filepath.Join(c.DataPath, "face-cache.db")
}

// UID 从 Cookie 串中提取 DedeUserID，缺失时返回 0（游客身份）
func (c *Config) UID() int64 {
	return parseCookieUID(c.Cookies)
}

func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}
