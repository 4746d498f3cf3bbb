// Package protocol 实现B站弹幕长连接的二进制分帧编解码。
//
// 帧头 16 字节，大端序：
//
//	totalLength   u32  帧总长（含头）
//	headerLength  u16  固定 16
//	version       u16  0=明文JSON 1=出站 2=zlib 3=brotli
//	operation     u32  操作码
//	sequence      u32  固定 1
//
// version 2/3 的消息体解压后本身是一串嵌套帧（递归容器）。
package protocol

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"io"

	"github.com/andybalholm/brotli"
	"github.com/sirupsen/logrus"
)

const (
	headerLength = 16

	// maxDecompressDepth 限制嵌套压缩帧的递归深度，防御病态输入
	maxDecompressDepth = 8
)

// 操作码
const (
	OpHeartbeat      uint32 = 2 // 心跳包（出站，空消息体）
	OpHeartbeatReply uint32 = 3 // 心跳回复，消息体为 4 字节人气值
	OpMessage        uint32 = 5 // 普通消息
	OpAuth           uint32 = 7 // 认证包（出站）
	OpAuthReply      uint32 = 8 // 认证回复
)

// 协议版本
const (
	VersionPlain  uint16 = 0
	VersionSend   uint16 = 1
	VersionZlib   uint16 = 2
	VersionBrotli uint16 = 3
)

// Frame 一个解码后的帧。version 2/3 的容器帧不会出现在解码结果里，
// 只有其展开后的内层帧。
type Frame struct {
	Version   uint16
	Operation uint32
	Body      []byte
}

// EncodeFrame 编码一个出站帧。
func EncodeFrame(body []byte, operation uint32) []byte {
	packet := make([]byte, headerLength+len(body))
	binary.BigEndian.PutUint32(packet[0:], uint32(len(packet)))
	binary.BigEndian.PutUint16(packet[4:], headerLength)
	binary.BigEndian.PutUint16(packet[6:], VersionSend)
	binary.BigEndian.PutUint32(packet[8:], operation)
	binary.BigEndian.PutUint32(packet[12:], 1)
	copy(packet[headerLength:], body)
	return packet
}

// DecodeFrames 解码一段缓冲区里的所有帧，递归展开压缩容器。
// 残缺或损坏的数据只会截断解析，绝不返回错误。
func DecodeFrames(buf []byte) []Frame {
	return decodeFrames(buf, 0)
}

func decodeFrames(buf []byte, depth int) []Frame {
	frames := make([]Frame, 0, 4)
	offset := 0
	for offset < len(buf) {
		remaining := len(buf) - offset
		if remaining < headerLength {
			if remaining > 0 {
				logrus.WithField("remaining", remaining).Debug("丢弃不足一个包头的尾部数据")
			}
			break
		}
		packLen := int(binary.BigEndian.Uint32(buf[offset:]))
		headerLen := int(binary.BigEndian.Uint16(buf[offset+4:]))
		version := binary.BigEndian.Uint16(buf[offset+6:])
		operation := binary.BigEndian.Uint32(buf[offset+8:])

		// 包头字段异常说明数据损坏或边界错位，放弃缓冲区剩余部分
		if packLen < headerLength || packLen > remaining {
			logrus.WithFields(logrus.Fields{
				"pack_len":  packLen,
				"remaining": remaining,
			}).Warn("非法的包长度，停止解析")
			break
		}
		if headerLen < headerLength || headerLen > packLen {
			logrus.WithFields(logrus.Fields{
				"header_len": headerLen,
				"pack_len":   packLen,
			}).Warn("非法的包头长度，停止解析")
			break
		}

		body := buf[offset+headerLen : offset+packLen]
		if operation == OpMessage && (version == VersionZlib || version == VersionBrotli) {
			frames = append(frames, expand(body, version, depth)...)
		} else {
			frames = append(frames, Frame{Version: version, Operation: operation, Body: body})
		}
		offset += packLen
	}
	return frames
}

// expand 解压一个容器消息体并递归解析其中的嵌套帧。
func expand(body []byte, version uint16, depth int) []Frame {
	if depth >= maxDecompressDepth {
		logrus.WithField("depth", depth).Warn("压缩帧嵌套过深，丢弃")
		return nil
	}
	var (
		inflated []byte
		err      error
	)
	switch version {
	case VersionZlib:
		inflated, err = inflateZlib(body)
	case VersionBrotli:
		inflated, err = io.ReadAll(brotli.NewReader(bytes.NewReader(body)))
	}
	if err != nil {
		logrus.WithError(err).WithField("version", version).Warn("解压消息体失败，丢弃")
		return nil
	}
	return decodeFrames(inflated, depth+1)
}

func inflateZlib(body []byte) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

// Popularity 从心跳回复的消息体中取出人气值。
func Popularity(body []byte) (uint32, bool) {
	if len(body) < 4 {
		return 0, false
	}
	return binary.BigEndian.Uint32(body), true
}
