// Package notify 监控房间开播/下播时的邮件通知。
package notify

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"gopkg.in/gomail.v2"

	"github.com/chenguaself/blive-danmaku/src/configs"
)

// 直播状态通知类型
const (
	StatusStart = "start"
	StatusStop  = "stop"
)

// Notifier 邮件通知器。未启用时所有方法都是空操作。
type Notifier struct {
	cfg configs.Email
}

func New(cfg configs.Email) *Notifier {
	return &Notifier{cfg: cfg}
}

// SendLiveStatus 发送开播/下播通知。失败只记日志，不影响主流程。
func (n *Notifier) SendLiveStatus(roomID int64, anchorName, status string) {
	if !n.cfg.Enable {
		return
	}

	var statusText string
	switch status {
	case StatusStart:
		statusText = "已开始直播"
	case StatusStop:
		statusText = "已结束直播"
	default:
		statusText = "直播状态未知"
	}
	if anchorName == "" {
		anchorName = fmt.Sprintf("房间 %d", roomID)
	}

	subject := fmt.Sprintf("%s %s", anchorName, statusText)
	body := fmt.Sprintf("主播：%s\n状态：%s\n直播地址：https://live.bilibili.com/%d",
		anchorName, statusText, roomID)

	if err := n.send(subject, body); err != nil {
		logrus.WithError(err).WithField("room", roomID).Error("发送邮件通知失败")
		return
	}
	logrus.WithFields(logrus.Fields{"room": roomID, "status": status}).Info("邮件通知已发送")
}

func (n *Notifier) send(subject, body string) error {
	m := gomail.NewMessage()
	m.SetHeader("From", n.cfg.Sender)
	m.SetHeader("To", n.cfg.To)
	m.SetHeader("Subject", subject)
	m.SetBody("text/plain", body)

	d := gomail.NewDialer(n.cfg.SMTPHost, n.cfg.SMTPPort, n.cfg.Sender, n.cfg.Password)
	return d.DialAndSend(m)
}
