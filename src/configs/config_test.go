package configs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRPC_Verify(t *testing.T) {
	var rpc *RPC
	assert.NoError(t, rpc.verify())
	rpc = new(RPC)
	rpc.Bind = "foo@bar"
	assert.NoError(t, rpc.verify())
	rpc.Enable = true
	assert.Error(t, rpc.verify())
}

func TestConfig_Verify(t *testing.T) {
	var cfg *Config
	assert.Error(t, cfg.Verify())
	cfg = NewConfig()
	assert.NoError(t, cfg.Verify())
	cfg.DataPath = ""
	assert.Error(t, cfg.Verify())
	cfg.DataPath = "./data"
	cfg.SubscriberBuffer = 0
	assert.Error(t, cfg.Verify())
}

func TestNewConfigWithFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(file, []byte("rpc:\n  enable: true\n  bind: \":4000\"\ndata_path: /tmp/dd\n"), 0o644))
	cfg, err := NewConfigWithFile(file)
	require.NoError(t, err)
	assert.Equal(t, file, cfg.File)
	assert.Equal(t, ":4000", cfg.RPC.Bind)
	assert.Equal(t, "/tmp/dd", cfg.DataPath)
	// 未显式配置的字段保留默认值
	assert.Equal(t, 256, cfg.SubscriberBuffer)
}

func TestParseCookieKVs(t *testing.T) {
	kvs := ParseCookieKVs("SESSDATA=abc; DedeUserID=42;bili_jct=x")
	assert.Equal(t, "abc", kvs["SESSDATA"])
	assert.Equal(t, "42", kvs["DedeUserID"])
	assert.Equal(t, "x", kvs["bili_jct"])
	assert.Empty(t, ParseCookieKVs(""))
}

func TestConfig_UID(t *testing.T) {
	cfg := NewConfig()
	assert.EqualValues(t, 0, cfg.UID())
	cfg.Cookies = "DedeUserID=10086"
	assert.EqualValues(t, 10086, cfg.UID())
	cfg.Cookies = "DedeUserID=oops"
	assert.EqualValues(t, 0, cfg.UID())
}
