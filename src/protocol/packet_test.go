package protocol

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"testing"

	"github.com/andybalholm/brotli"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	body := []byte(`{"cmd":"TEST"}`)
	packet := EncodeFrame(body, OpMessage)

	frames := DecodeFrames(packet)
	require.Len(t, frames, 1)
	assert.Equal(t, OpMessage, frames[0].Operation)
	assert.Equal(t, VersionSend, frames[0].Version)
	assert.Equal(t, body, frames[0].Body)
}

func TestEncodeFrameHeader(t *testing.T) {
	packet := EncodeFrame(nil, OpHeartbeat)
	require.Len(t, packet, 16)
	assert.EqualValues(t, 16, binary.BigEndian.Uint32(packet[0:]))
	assert.EqualValues(t, 16, binary.BigEndian.Uint16(packet[4:]))
	assert.Equal(t, VersionSend, binary.BigEndian.Uint16(packet[6:]))
	assert.Equal(t, OpHeartbeat, binary.BigEndian.Uint32(packet[8:]))
	assert.EqualValues(t, 1, binary.BigEndian.Uint32(packet[12:]))
}

func TestDecodeTruncatedBuffer(t *testing.T) {
	packet := EncodeFrame([]byte("hello"), OpMessage)
	for i := 0; i < 16; i++ {
		assert.Empty(t, DecodeFrames(packet[:i]), "truncated to %d bytes", i)
	}
}

func TestDecodeOversizedLength(t *testing.T) {
	packet := EncodeFrame([]byte("hello"), OpMessage)
	// 声明的总长超出缓冲区：停止解析，不 panic 不报错
	binary.BigEndian.PutUint32(packet[0:], uint32(len(packet)+100))
	assert.Empty(t, DecodeFrames(packet))
}

func TestDecodeBadHeaderLength(t *testing.T) {
	packet := EncodeFrame([]byte("hello"), OpMessage)
	binary.BigEndian.PutUint16(packet[4:], 8) // < 16
	assert.Empty(t, DecodeFrames(packet))

	packet = EncodeFrame(nil, OpMessage)
	binary.BigEndian.PutUint16(packet[4:], 64) // > totalLength
	assert.Empty(t, DecodeFrames(packet))
}

func TestDecodeTinyTotalLength(t *testing.T) {
	packet := EncodeFrame(nil, OpMessage)
	binary.BigEndian.PutUint32(packet[0:], 8)
	assert.Empty(t, DecodeFrames(packet))
}

func TestDecodeMultipleFrames(t *testing.T) {
	buf := append(EncodeFrame([]byte("one"), OpMessage), EncodeFrame([]byte("two"), OpMessage)...)
	frames := DecodeFrames(buf)
	require.Len(t, frames, 2)
	assert.Equal(t, []byte("one"), frames[0].Body)
	assert.Equal(t, []byte("two"), frames[1].Body)
}

// makeContainer 把两个明文帧拼起来压缩，包成一个 version=ver 的容器帧。
func makeContainer(t *testing.T, ver uint16) []byte {
	t.Helper()
	inner := append(EncodeFrame([]byte("first"), OpMessage), EncodeFrame([]byte("second"), OpMessage)...)

	var compressed bytes.Buffer
	switch ver {
	case VersionZlib:
		w := zlib.NewWriter(&compressed)
		_, err := w.Write(inner)
		require.NoError(t, err)
		require.NoError(t, w.Close())
	case VersionBrotli:
		w := brotli.NewWriter(&compressed)
		_, err := w.Write(inner)
		require.NoError(t, err)
		require.NoError(t, w.Close())
	}

	packet := EncodeFrame(compressed.Bytes(), OpMessage)
	binary.BigEndian.PutUint16(packet[6:], ver)
	return packet
}

func TestDecodeZlibContainer(t *testing.T) {
	frames := DecodeFrames(makeContainer(t, VersionZlib))
	require.Len(t, frames, 2)
	assert.Equal(t, []byte("first"), frames[0].Body)
	assert.Equal(t, []byte("second"), frames[1].Body)
}

func TestDecodeBrotliContainer(t *testing.T) {
	frames := DecodeFrames(makeContainer(t, VersionBrotli))
	require.Len(t, frames, 2)
	assert.Equal(t, []byte("first"), frames[0].Body)
	assert.Equal(t, []byte("second"), frames[1].Body)
}

func TestDecodeCorruptContainer(t *testing.T) {
	packet := EncodeFrame([]byte("definitely not zlib"), OpMessage)
	binary.BigEndian.PutUint16(packet[6:], VersionZlib)
	assert.Empty(t, DecodeFrames(packet))
}

func TestDecodeNestedContainers(t *testing.T) {
	// 容器套容器：zlib 里面是一个 brotli 容器
	inner := makeContainer(t, VersionBrotli)
	var compressed bytes.Buffer
	w := zlib.NewWriter(&compressed)
	_, err := w.Write(inner)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	packet := EncodeFrame(compressed.Bytes(), OpMessage)
	binary.BigEndian.PutUint16(packet[6:], VersionZlib)

	frames := DecodeFrames(packet)
	require.Len(t, frames, 2)
	assert.Equal(t, []byte("first"), frames[0].Body)
}

func TestPopularity(t *testing.T) {
	body := make([]byte, 4)
	binary.BigEndian.PutUint32(body, 123456)
	v, ok := Popularity(body)
	assert.True(t, ok)
	assert.EqualValues(t, 123456, v)

	_, ok = Popularity([]byte{1, 2})
	assert.False(t, ok)
}

func TestDecodeUnknownOperation(t *testing.T) {
	packet := EncodeFrame([]byte("x"), 42)
	frames := DecodeFrames(packet)
	// 未知操作码不是错误，原样交给上层分类
	require.Len(t, frames, 1)
	assert.EqualValues(t, 42, frames[0].Operation)
}
