package consts

const (
	AppName = "blive-danmaku"
)

// 直播间状态（room/v1/Room/get_info 的 live_status 字段）
const (
	LiveStatusOff      = 0 // 未开播
	LiveStatusLive     = 1 // 直播中
	LiveStatusCarousel = 2 // 轮播
)

var (
	BuildTime  string
	AppVersion string
	GitHash    string
)
