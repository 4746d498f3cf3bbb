package utils

import (
	"net"
	"sync/atomic"
)

// ByteCounter 累计一条连接上收发的字节数，可并发读取
type ByteCounter struct {
	readBytes  atomic.Int64
	writeBytes atomic.Int64
}

func (b *ByteCounter) ReadBytes() int64  { return b.readBytes.Load() }
func (b *ByteCounter) WriteBytes() int64 { return b.writeBytes.Load() }

type connCounter struct {
	net.Conn
	counter *ByteCounter
	onRead  func(n int)
	onWrite func(n int)
}

func (c *connCounter) Read(b []byte) (n int, err error) {
	n, err = c.Conn.Read(b)
	c.counter.readBytes.Add(int64(n))
	if c.onRead != nil && n > 0 {
		c.onRead(n)
	}
	return
}

func (c *connCounter) Write(b []byte) (n int, err error) {
	n, err = c.Conn.Write(b)
	c.counter.writeBytes.Add(int64(n))
	if c.onWrite != nil && n > 0 {
		c.onWrite(n)
	}
	return
}

// CountConn 包装一条连接，按字节计数。onRead/onWrite 可为 nil，
// 非 nil 时在每次读写后回调（用于对接指标）。
func CountConn(conn net.Conn, counter *ByteCounter, onRead, onWrite func(n int)) net.Conn {
	if counter == nil {
		counter = &ByteCounter{}
	}
	return &connCounter{Conn: conn, counter: counter, onRead: onRead, onWrite: onWrite}
}
