package server

import (
	"bufio"
	"net"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/danielgsilva/feup-cpd/internal/auth"
	"github.com/danielgsilva/feup-cpd/internal/config"
	"github.com/danielgsilva/feup-cpd/internal/room"
	"github.com/danielgsilva/feup-cpd/internal/session"
	"github.com/danielgsilva/feup-cpd/internal/token"
)

func startTestServer(t *testing.T, defaultRooms ...string) (*Server, string) {
	t.Helper()
	cfg := config.Config{Port: "0", Env: "dev", SweepMinutes: 60}
	s := New(cfg,
		auth.NewStore(filepath.Join(t.TempDir(), "users.txt")),
		token.NewService(time.Hour),
		session.NewRegistry(),
		room.NewRegistry(defaultRooms...),
	)
	if err := s.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(s.Stop)

	_, port, err := net.SplitHostPort(s.Addr())
	if err != nil {
		t.Fatalf("SplitHostPort(%q) error = %v", s.Addr(), err)
	}
	return s, "127.0.0.1:" + port
}

// client 是测试用的最小协议客户端。
type client struct {
	t    *testing.T
	conn net.Conn
	r    *bufio.Reader
}

func dial(t *testing.T, addr string) *client {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return &client{t: t, conn: conn, r: bufio.NewReader(conn)}
}

func (c *client) send(line string) {
	c.t.Helper()
	if _, err := c.conn.Write([]byte(line + "\n")); err != nil {
		c.t.Fatalf("write %q: %v", line, err)
	}
}

func (c *client) readLine() string {
	c.t.Helper()
	c.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	line, err := c.r.ReadString('\n')
	if err != nil {
		c.t.Fatalf("read: %v", err)
	}
	return strings.TrimRight(line, "\r\n")
}

func (c *client) expect(want string) {
	c.t.Helper()
	if got := c.readLine(); got != want {
		c.t.Fatalf("reply = %q, want %q", got, want)
	}
}

func (c *client) expectPrefix(prefix string) string {
	c.t.Helper()
	got := c.readLine()
	if !strings.HasPrefix(got, prefix) {
		c.t.Fatalf("reply = %q, want prefix %q", got, prefix)
	}
	return strings.TrimPrefix(got, prefix)
}

// TestServer_EndToEndReconnect 覆盖完整场景:注册、登录、进房、互发消息、
// 突然断开后凭令牌重连,并恢复原有房间成员身份。
func TestServer_EndToEndReconnect(t *testing.T) {
	_, addr := startTestServer(t, "lobby")

	b := dial(t, addr)
	b.send("REGISTER bob pw2")
	b.expect("REGISTER_SUCCESS")
	b.send("LOGIN bob pw2")
	b.expectPrefix("LOGIN_SUCCESS ")
	b.send("JOIN_ROOM lobby")
	b.expect("JOINED lobby")
	b.expect("MESSAGE lobby SYSTEM [bob enters the room]")

	a := dial(t, addr)
	a.send("REGISTER alice pw1")
	a.expect("REGISTER_SUCCESS")
	a.send("LOGIN alice pw1")
	tok := a.expectPrefix("LOGIN_SUCCESS ")
	if tok == "" {
		t.Fatal("empty token")
	}
	a.send("JOIN_ROOM lobby")
	a.expect("JOINED lobby")
	a.expect("MESSAGE lobby SYSTEM [alice enters the room]")
	b.expect("MESSAGE lobby SYSTEM [alice enters the room]")

	a.send("MESSAGE lobby hi")
	a.expect("MESSAGE lobby alice hi")
	b.expect("MESSAGE lobby alice hi")

	// 突然断开:不发 LOGOUT,直接关闭连接
	a.conn.Close()

	a2 := dial(t, addr)
	a2.send("RECONNECT " + tok)
	a2.expect("RECONNECT_SUCCESS")
	a2.expect("JOINED lobby")

	// 重连后双向收发都要恢复
	a2.send("MESSAGE lobby back")
	a2.expect("MESSAGE lobby alice back")
	b.expect("MESSAGE lobby alice back")

	b.send("MESSAGE lobby wb")
	b.expect("MESSAGE lobby bob wb")
	a2.expect("MESSAGE lobby bob wb")
}

func TestServer_ConcurrentCreateRoom(t *testing.T) {
	_, addr := startTestServer(t)

	clients := []*client{dial(t, addr), dial(t, addr)}
	for i, c := range clients {
		user := []string{"alice", "bob"}[i]
		c.send("REGISTER " + user + " pw")
		c.expect("REGISTER_SUCCESS")
		c.send("LOGIN " + user + " pw")
		c.expectPrefix("LOGIN_SUCCESS ")
	}

	for _, c := range clients {
		c.send("CREATE_ROOM projeto")
	}

	created, exists := 0, 0
	for _, c := range clients {
		switch got := c.readLine(); got {
		case "ROOM_CREATED projeto":
			created++
		case "ROOM_EXISTS projeto":
			exists++
		default:
			t.Errorf("reply = %q, want ROOM_CREATED or ROOM_EXISTS", got)
		}
	}
	if created != 1 || exists != 1 {
		t.Errorf("replies = (%d created, %d exists), want (1, 1)", created, exists)
	}
}

func TestServer_MessageScopedToRoom(t *testing.T) {
	_, addr := startTestServer(t, "library", "cpd")

	a := dial(t, addr)
	a.send("REGISTER alice pw1")
	a.expect("REGISTER_SUCCESS")
	a.send("LOGIN alice pw1")
	a.expectPrefix("LOGIN_SUCCESS ")
	a.send("JOIN_ROOM library")
	a.expect("JOINED library")
	a.expect("MESSAGE library SYSTEM [alice enters the room]")

	c := dial(t, addr)
	c.send("REGISTER carol pw3")
	c.expect("REGISTER_SUCCESS")
	c.send("LOGIN carol pw3")
	c.expectPrefix("LOGIN_SUCCESS ")
	c.send("JOIN_ROOM cpd")
	c.expect("JOINED cpd")
	c.expect("MESSAGE cpd SYSTEM [carol enters the room]")

	a.send("MESSAGE library hi")
	a.expect("MESSAGE library alice hi")

	// carol 在另一个房间,不应收到;用她自己的消息作同步点
	c.send("MESSAGE cpd ola")
	c.expect("MESSAGE cpd carol ola")
}

func TestServer_StopClosesListener(t *testing.T) {
	s, addr := startTestServer(t)
	s.Stop()

	if _, err := net.DialTimeout("tcp", addr, 500*time.Millisecond); err == nil {
		t.Error("Dial() after Stop() succeeded, want connection refused")
	}
}
