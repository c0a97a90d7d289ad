package session

import (
	"sync"

	"github.com/danielgsilva/feup-cpd/internal/room"
)

// Session 记录用户最近所在的房间和当前活跃连接,独立于任何具体连接存活:
// 连接断开后会话被有意保留,等待重连恢复。
type Session struct {
	username string

	mu   sync.RWMutex
	room string
	conn room.Conn
}

func (s *Session) Username() string { return s.username }

func (s *Session) Room() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.room
}

func (s *Session) Conn() room.Conn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.conn
}

// Registry 维护用户名到会话的映射。
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Upsert 创建或更新用户会话的房间与连接引用。
func (r *Registry) Upsert(username, roomName string, c room.Conn) *Session {
	r.mu.Lock()
	s, ok := r.sessions[username]
	if !ok {
		s = &Session{username: username}
		r.sessions[username] = s
	}
	r.mu.Unlock()

	s.mu.Lock()
	s.room = roomName
	s.conn = c
	s.mu.Unlock()
	return s
}

// Get 按用户名查找会话。
func (r *Registry) Get(username string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[username]
	return s, ok
}

// Remove 删除用户会话。
func (r *Registry) Remove(username string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, username)
}

// Count 返回当前会话数。
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Reattach 以新连接恢复既有会话:替换连接引用,并把原房间成员列表中的
// 旧连接原位换成新连接。两处更新在会话锁内完成,对该用户而言
// 不存在会话与房间成员不一致的窗口。返回恢复的房间名(可能为空)。
func (r *Registry) Reattach(username string, c room.Conn, rooms *room.Registry) (string, bool) {
	r.mu.RLock()
	s := r.sessions[username]
	r.mu.RUnlock()
	if s == nil {
		return "", false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.conn
	s.conn = c
	if s.room != "" {
		rm, ok := rooms.Get(s.room)
		if !ok {
			// 不变式:会话指向的房间必须存在
			s.room = ""
			return "", true
		}
		rm.ReplaceMember(prev, c)
	}
	return s.room, true
}
