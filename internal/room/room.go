package room

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/danielgsilva/feup-cpd/internal/metrics"
)

// ErrRoomExists 表示重名房间创建冲突,handler 据此回复 ROOM_EXISTS。
var ErrRoomExists = errors.New("room already exists")

// SystemSender 是系统进出场通告使用的保留发送者身份。
const SystemSender = "SYSTEM"

// Conn 是房间成员的出站发送原语:一个非拥有的连接引用,仅用于派发。
// 底层连接关闭后 SendLine 返回错误,广播按尽力交付处理。
type Conn interface {
	Username() string
	SendLine(line string) error
}

// Message 表示一条不可变的聊天消息。
type Message struct {
	Sender  string
	Content string
}

// Room 是命名广播域,持有按到达顺序排列的消息日志和当前在线成员列表。
// 两者由两把独立的读写锁保护:广播不得持有日志锁做成员 I/O,
// 但要在成员读锁内完成整个扇出,保证派发集合的一致性。
type Room struct {
	name string

	logMu sync.RWMutex
	log   []Message

	memberMu sync.RWMutex
	members  []Conn
}

func New(name string) *Room {
	return &Room{name: name}
}

func (r *Room) Name() string { return r.name }

// AddMember 把连接加入成员列表(已在场时为空操作),并广播系统入场通告。
func (r *Room) AddMember(c Conn) {
	r.memberMu.Lock()
	for _, m := range r.members {
		if m == c {
			r.memberMu.Unlock()
			return
		}
	}
	r.members = append(r.members, c)
	r.memberMu.Unlock()

	r.Post(Message{Sender: SystemSender, Content: fmt.Sprintf("[%s enters the room]", c.Username())})
}

// RemoveMember 把连接移出成员列表,并广播系统离场通告;不在场时为空操作。
func (r *Room) RemoveMember(c Conn) {
	r.memberMu.Lock()
	found := false
	for i, m := range r.members {
		if m == c {
			r.members = append(r.members[:i], r.members[i+1:]...)
			found = true
			break
		}
	}
	r.memberMu.Unlock()
	if !found {
		return
	}

	r.Post(Message{Sender: SystemSender, Content: fmt.Sprintf("[%s leaves the room]", c.Username())})
}

// ReplaceMember 将成员列表中的旧连接原位替换为新连接,保持注册顺序,
// 不产生系统通告;旧连接不在场时追加新连接。重连路径专用。
func (r *Room) ReplaceMember(prev, next Conn) {
	r.memberMu.Lock()
	defer r.memberMu.Unlock()
	for i, m := range r.members {
		if m == prev {
			r.members[i] = next
			return
		}
	}
	r.members = append(r.members, next)
}

// MemberCount 返回当前在场成员数。
func (r *Room) MemberCount() int {
	r.memberMu.RLock()
	defer r.memberMu.RUnlock()
	return len(r.members)
}

// Messages 返回消息日志的副本。
func (r *Room) Messages() []Message {
	r.logMu.RLock()
	defer r.logMu.RUnlock()
	out := make([]Message, len(r.log))
	copy(out, r.log)
	return out
}

// Post 先把消息追加到日志,再向全体成员广播。日志锁在广播开始前释放。
func (r *Room) Post(m Message) {
	r.logMu.Lock()
	r.log = append(r.log, m)
	r.logMu.Unlock()

	r.broadcast(m)
}

// broadcast 在成员读锁内按注册顺序同步派发。交付是尽力而为:
// 发送失败只计数并留下 debug 日志,绝不在扇出途中修改成员列表。
func (r *Room) broadcast(m Message) {
	line := "MESSAGE " + r.name + " " + m.Sender + " " + m.Content
	start := time.Now()

	r.memberMu.RLock()
	for _, c := range r.members {
		if err := c.SendLine(line); err != nil {
			metrics.BroadcastMisses.Inc()
			log.Debug().Err(err).Str("room", r.name).Str("member", c.Username()).Msg("broadcast send")
		}
	}
	r.memberMu.RUnlock()

	metrics.BroadcastDuration.Observe(time.Since(start).Seconds())
	metrics.MessagesTotal.Inc()
}

// Registry 按名字管理房间的创建与查找。
type Registry struct {
	mu    sync.RWMutex
	rooms map[string]*Room
}

// NewRegistry 创建房间注册表并预创建给定的默认房间。
func NewRegistry(defaults ...string) *Registry {
	g := &Registry{rooms: make(map[string]*Room)}
	for _, name := range defaults {
		if _, err := g.Create(name); err != nil {
			log.Warn().Str("room", name).Msg("duplicate default room")
		}
	}
	return g
}

// Create 新建房间;重名时返回 ErrRoomExists。
func (g *Registry) Create(name string) (*Room, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, exists := g.rooms[name]; exists {
		return nil, ErrRoomExists
	}
	r := New(name)
	g.rooms[name] = r
	return r, nil
}

// Get 按名字查找房间。
func (g *Registry) Get(name string) (*Room, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	r, ok := g.rooms[name]
	return r, ok
}

// Names 返回全部房间名,按字典序排序。
func (g *Registry) Names() []string {
	g.mu.RLock()
	names := make([]string, 0, len(g.rooms))
	for name := range g.rooms {
		names = append(names, name)
	}
	g.mu.RUnlock()
	sort.Strings(names)
	return names
}

// Remove 删除空房间;房间不存在或仍有成员时返回 false。
func (g *Registry) Remove(name string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	r, ok := g.rooms[name]
	if !ok || r.MemberCount() > 0 {
		return false
	}
	delete(g.rooms, name)
	return true
}
