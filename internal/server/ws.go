package server

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// serveWS 把一条 WebSocket 连接包装成行式传输,交给同一套协议处理器:
// 每个文本帧即一行协议文本,协议层把它当作又一种流包装。
func (s *Server) serveWS(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Debug().Err(err).Msg("websocket upgrade")
		return
	}
	h := NewHandler(&wsTransport{conn: conn}, s.creds, s.tokens, s.sessions, s.rooms)
	go h.Run()
}

// wsTransport 实现 Transport:读端取文本帧,写端由互斥锁串行化,
// 首个写错误后闭锁,与 netTransport 的死连接策略一致。
type wsTransport struct {
	conn *websocket.Conn

	wmu    sync.Mutex
	closed bool
}

func (t *wsTransport) ReadLine() (string, error) {
	for {
		mt, data, err := t.conn.ReadMessage()
		if err != nil {
			return "", err
		}
		if mt != websocket.TextMessage {
			continue
		}
		return strings.TrimRight(string(data), "\r\n"), nil
	}
}

func (t *wsTransport) WriteLine(line string) error {
	t.wmu.Lock()
	defer t.wmu.Unlock()
	if t.closed {
		return websocket.ErrCloseSent
	}
	t.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if err := t.conn.WriteMessage(websocket.TextMessage, []byte(line)); err != nil {
		t.closed = true
		return err
	}
	return nil
}

func (t *wsTransport) RemoteAddr() string {
	return t.conn.RemoteAddr().String()
}

func (t *wsTransport) Close() error {
	t.wmu.Lock()
	t.closed = true
	t.wmu.Unlock()
	return t.conn.Close()
}
