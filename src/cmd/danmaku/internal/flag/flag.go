package flag

import (
	"os"

	"github.com/alecthomas/kingpin"

	"github.com/chenguaself/blive-danmaku/src/configs"
	"github.com/chenguaself/blive-danmaku/src/consts"
)

var (
	app = kingpin.New(consts.AppName, "Bilibili 直播弹幕采集与转发服务")

	Conf             = app.Flag("config", "配置文件路径").Short('c').String()
	Debug            = app.Flag("debug", "开启调试日志").Default("false").Bool()
	RPCBind          = app.Flag("rpc-bind", "HTTP 服务监听地址").Default(":3001").String()
	DataPath         = app.Flag("data-path", "数据目录").Default("./data").String()
	Cookies          = app.Flag("cookies", "B站登录 Cookie 串").String()
	SubscriberBuffer = app.Flag("subscriber-buffer", "订阅者事件缓冲区大小").Default("256").Int()
)

func init() {
	app.Version(consts.AppVersion)
	app.HelpFlag.Short('h')
	kingpin.MustParse(app.Parse(os.Args[1:]))
}

// GenConfigFromFlags 没有配置文件时由命令行参数合成配置
func GenConfigFromFlags() *configs.Config {
	config := configs.NewConfig()
	config.Debug = *Debug
	config.RPC.Bind = *RPCBind
	config.DataPath = *DataPath
	config.Cookies = *Cookies
	config.SubscriberBuffer = *SubscriberBuffer
	return config
}
