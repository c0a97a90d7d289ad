package server

import (
	"bufio"
	"errors"
	"io"
	"net"
	"strings"
	"sync"
)

// Transport 抽象一条双向的行式文本流。底层可以是明文 TCP、TLS
// 或 WebSocket 包装,协议层对此不感知。
type Transport interface {
	ReadLine() (string, error)
	WriteLine(line string) error
	RemoteAddr() string
	Close() error
}

// netTransport 是基于 net.Conn 的行式传输。写端由互斥锁串行化,
// 使处理器自身的回复和其他连接的广播可以安全交错;
// 首个写错误会闭锁连接,其后的发送立即失败而不触碰底层连接。
type netTransport struct {
	conn net.Conn
	r    *bufio.Reader

	wmu    sync.Mutex
	closed bool
}

func newNetTransport(conn net.Conn) *netTransport {
	return &netTransport{conn: conn, r: bufio.NewReader(conn)}
}

func (t *netTransport) ReadLine() (string, error) {
	line, err := t.r.ReadString('\n')
	if err != nil {
		// 流在行中途结束:先交付残行,下一次读取返回 EOF
		if errors.Is(err, io.EOF) && line != "" {
			return strings.TrimRight(line, "\r\n"), nil
		}
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func (t *netTransport) WriteLine(line string) error {
	t.wmu.Lock()
	defer t.wmu.Unlock()
	if t.closed {
		return net.ErrClosed
	}
	if _, err := t.conn.Write([]byte(line + "\n")); err != nil {
		t.closed = true
		return err
	}
	return nil
}

func (t *netTransport) RemoteAddr() string {
	return t.conn.RemoteAddr().String()
}

func (t *netTransport) Close() error {
	t.wmu.Lock()
	t.closed = true
	t.wmu.Unlock()
	return t.conn.Close()
}
