// Package rooms 房间连接复用：订阅者接入、监控列表、闲置回收、断线重连。
package rooms

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// MonitorConfig 单个监控房间的配置与缓存的主播信息
type MonitorConfig struct {
	Paused bool `json:"paused"`
	// AddedAt 加入监控的时间（毫秒），沿用既有数据文件的格式
	AddedAt int64  `json:"addedAt"`
	Uname   string `json:"uname,omitempty"`
	Face    string `json:"face,omitempty"`
}

// loadMonitored 读取监控房间文件。
// 旧版文件是裸的房间号数组，读到时就地升级成对象格式。
func loadMonitored(path string) (map[int64]*MonitorConfig, error) {
	out := make(map[int64]*MonitorConfig)
	b, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return out, nil
	}
	if err != nil {
		return nil, err
	}

	trimmed := bytes.TrimSpace(b)
	if len(trimmed) == 0 {
		return out, nil
	}
	if trimmed[0] == '[' {
		var legacy []json.Number
		if err := json.Unmarshal(trimmed, &legacy); err != nil {
			return nil, fmt.Errorf("解析旧版监控列表失败: %w", err)
		}
		now := time.Now().UnixMilli()
		for _, n := range legacy {
			id, err := strconv.ParseInt(n.String(), 10, 64)
			if err != nil || id == 0 {
				continue
			}
			out[id] = &MonitorConfig{AddedAt: now}
		}
		return out, nil
	}

	var raw map[string]*MonitorConfig
	if err := json.Unmarshal(trimmed, &raw); err != nil {
		return nil, fmt.Errorf("解析监控列表失败: %w", err)
	}
	for key, cfg := range raw {
		id, err := strconv.ParseInt(key, 10, 64)
		if err != nil || id == 0 || cfg == nil {
			continue
		}
		out[id] = cfg
	}
	return out, nil
}

// saveMonitored 整体重写监控房间文件
func saveMonitored(path string, rooms map[int64]*MonitorConfig) error {
	raw := make(map[string]*MonitorConfig, len(rooms))
	for id, cfg := range rooms {
		raw[strconv.FormatInt(id, 10)] = cfg
	}
	b, err := json.MarshalIndent(raw, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}
