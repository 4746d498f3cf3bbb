package danmaku

// giftMergeWindow 同一用户连刷同一礼物的合并窗口（秒）。
// 窗口随每次合并滑动：只要间隔不超过 60s，连续的细流永远合在一条。
const giftMergeWindow = 60

// GiftAggregate 连击合并后的一条礼物展示记录
type GiftAggregate struct {
	Gift
	// TotalNum 累计数量；Gift.Num 保持为最近一批的数量
	TotalNum int64 `json:"totalNum"`
}

func (e *GiftAggregate) EventKind() Kind  { return KindGift }
func (e *GiftAggregate) EventTime() int64 { return e.Timestamp }

// AppendGift 把一个新的礼物事件并入已聚合的事件序列。
// 从尾部向前找最近的一条礼物聚合（不越过场次分隔符）：同一发送者、
// 同一礼物、且时间间隔在窗口内时合并，否则追加新聚合。
// 增量调用与对整段历史单趟遍历的结果完全一致。
func AppendGift(list []Event, gift *Gift) []Event {
	for i := len(list) - 1; i >= 0; i-- {
		switch prev := list[i].(type) {
		case *SessionDivider:
			// 不跨场次合并
			return append(list, newAggregate(gift))
		case *GiftAggregate:
			if prev.User.UID == gift.User.UID && prev.GiftID == gift.GiftID {
				if gift.Timestamp-prev.Timestamp <= giftMergeWindow {
					prev.TotalNum += gift.Num
					prev.Num = gift.Num
					prev.Timestamp = gift.Timestamp
					return list
				}
				// 同一礼物但超出窗口：新开一条
				return append(list, newAggregate(gift))
			}
			// 最近的礼物来自别人/别的礼物，继续向前找
		}
	}
	return append(list, newAggregate(gift))
}

func newAggregate(gift *Gift) *GiftAggregate {
	agg := &GiftAggregate{Gift: *gift}
	agg.TotalNum = gift.Num
	if agg.TotalNum == 0 {
		agg.TotalNum = 1
	}
	return agg
}

// AggregateGifts 对一段已按时间排好的礼物序列做单趟聚合，
// 用于历史回放时生成与实时流一致的展示记录。
func AggregateGifts(gifts []*Gift) []Event {
	out := make([]Event, 0, len(gifts))
	for _, g := range gifts {
		out = AppendGift(out, g)
	}
	return out
}
