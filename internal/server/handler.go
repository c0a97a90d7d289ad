package server

import (
	"errors"
	"io"
	"net"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/danielgsilva/feup-cpd/internal/auth"
	"github.com/danielgsilva/feup-cpd/internal/metrics"
	"github.com/danielgsilva/feup-cpd/internal/room"
	"github.com/danielgsilva/feup-cpd/internal/session"
	"github.com/danielgsilva/feup-cpd/internal/token"
)

// knownCommands 限定指标的 label 取值,未知动词统一计入 unknown。
var knownCommands = map[string]bool{
	"REGISTER": true, "LOGIN": true, "RECONNECT": true,
	"LIST_ROOMS": true, "CREATE_ROOM": true, "JOIN_ROOM": true,
	"LEAVE_ROOM": true, "MESSAGE": true, "LOGOUT": true,
}

// Handler 是按连接的协议状态机,把入站文本命令桥接到各共享服务。
// 状态由 username(空=未认证)和 roomName(空=不在房间)表达,
// 同一连接上的命令严格串行处理。
type Handler struct {
	t        Transport
	creds    *auth.Store
	tokens   *token.Service
	sessions *session.Registry
	rooms    *room.Registry

	username string
	token    string
	roomName string
}

func NewHandler(t Transport, creds *auth.Store, tokens *token.Service, sessions *session.Registry, rooms *room.Registry) *Handler {
	return &Handler{t: t, creds: creds, tokens: tokens, sessions: sessions, rooms: rooms}
}

// Username 实现 room.Conn。
func (h *Handler) Username() string { return h.username }

// SendLine 实现 room.Conn:把一行协议文本写往对端。
func (h *Handler) SendLine(line string) error { return h.t.WriteLine(line) }

// Run 驱动连接的读循环,直到传输层错误或流结束。
// 断开时只释放连接级资源:会话、房间成员与令牌被有意保留,
// 使后续 RECONNECT 能恢复完全一致的状态。
func (h *Handler) Run() {
	defer h.t.Close()

	metrics.ActiveConnections.Inc()
	defer metrics.ActiveConnections.Dec()
	log.Info().Str("remote", h.t.RemoteAddr()).Msg("client connected")

	for {
		line, err := h.t.ReadLine()
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				log.Debug().Err(err).Str("remote", h.t.RemoteAddr()).Msg("read")
			}
			break
		}
		if line == "" {
			continue
		}
		h.dispatch(line)
	}

	log.Info().Str("remote", h.t.RemoteAddr()).Str("user", h.username).Msg("client disconnected")
}

func (h *Handler) dispatch(line string) {
	parts := strings.SplitN(line, " ", 3)
	cmd := parts[0]

	if knownCommands[cmd] {
		metrics.CommandsTotal.WithLabelValues(cmd).Inc()
	} else {
		metrics.CommandsTotal.WithLabelValues("unknown").Inc()
	}

	if h.username == "" {
		h.handleUnauthenticated(cmd, parts)
	} else {
		h.handleAuthenticated(cmd, parts)
	}
}

func (h *Handler) send(line string) {
	if err := h.t.WriteLine(line); err != nil {
		log.Debug().Err(err).Str("remote", h.t.RemoteAddr()).Msg("write reply")
	}
}

func (h *Handler) handleUnauthenticated(cmd string, parts []string) {
	switch cmd {
	case "REGISTER":
		if len(parts) < 3 {
			h.send("INVALID_COMMAND")
			return
		}
		if err := h.creds.Register(parts[1], parts[2]); err != nil {
			log.Debug().Err(err).Str("user", parts[1]).Msg("register rejected")
			h.send("REGISTER_FAILURE")
			return
		}
		log.Info().Str("user", parts[1]).Msg("user registered")
		h.send("REGISTER_SUCCESS")

	case "LOGIN":
		if len(parts) < 3 {
			h.send("INVALID_COMMAND")
			return
		}
		user, pass := parts[1], parts[2]
		if !h.creds.Authenticate(user, pass) {
			log.Debug().Str("user", user).Msg("login rejected")
			h.send("LOGIN_FAILURE")
			return
		}
		tok, err := h.tokens.Generate(user)
		if err != nil {
			log.Error().Err(err).Str("user", user).Msg("token generation")
			h.send("LOGIN_FAILURE")
			return
		}
		h.dropStalePresence(user)
		h.username, h.token = user, tok
		h.sessions.Upsert(user, "", h)
		log.Info().Str("user", user).Msg("user logged in")
		h.send("LOGIN_SUCCESS " + tok)

	case "RECONNECT":
		if len(parts) != 2 {
			h.send("INVALID_COMMAND")
			return
		}
		tok := parts[1]
		user, ok := h.tokens.Validate(tok)
		if !ok {
			log.Debug().Msg("reconnect rejected")
			h.send("RECONNECT_FAILURE")
			return
		}
		h.tokens.Refresh(tok)
		h.username, h.token = user, tok

		roomName, ok := h.sessions.Reattach(user, h, h.rooms)
		if !ok {
			// 令牌尚在而会话已不存在:按无房间的已认证状态恢复
			h.sessions.Upsert(user, "", h)
		}
		h.roomName = roomName
		log.Info().Str("user", user).Str("room", roomName).Msg("user reconnected")
		h.send("RECONNECT_SUCCESS")
		if roomName != "" {
			h.send("JOINED " + roomName)
		}

	default:
		h.send("UNAUTHENTICATED")
	}
}

func (h *Handler) handleAuthenticated(cmd string, parts []string) {
	switch cmd {
	case "LIST_ROOMS":
		reply := "ROOMS"
		for _, name := range h.rooms.Names() {
			reply += " " + name
		}
		h.send(reply)

	case "CREATE_ROOM":
		if len(parts) != 2 {
			h.send("INVALID_COMMAND")
			return
		}
		name := parts[1]
		if _, err := h.rooms.Create(name); err != nil {
			h.send("ROOM_EXISTS " + name)
			return
		}
		log.Info().Str("room", name).Str("user", h.username).Msg("room created")
		h.send("ROOM_CREATED " + name)

	case "JOIN_ROOM":
		if len(parts) != 2 {
			h.send("INVALID_COMMAND")
			return
		}
		// 先确认目标房间存在,再离开旧房间:失败的加入不得扰动现有状态
		target, ok := h.rooms.Get(parts[1])
		if !ok {
			h.send("ROOM_NOT_FOUND " + parts[1])
			return
		}
		h.leaveCurrentRoom()
		h.roomName = target.Name()
		h.sessions.Upsert(h.username, h.roomName, h)
		h.send("JOINED " + h.roomName)
		target.AddMember(h)

	case "LEAVE_ROOM":
		if h.roomName == "" {
			h.send("NOT_IN_ROOM")
			return
		}
		name := h.roomName
		h.leaveCurrentRoom()
		h.sessions.Upsert(h.username, "", h)
		h.send("LEFT_ROOM " + name)

	case "MESSAGE":
		if len(parts) < 3 {
			h.send("INVALID_COMMAND")
			return
		}
		roomName, text := parts[1], parts[2]
		if roomName != h.roomName {
			h.send("NOT_IN_ROOM " + roomName)
			return
		}
		rm, ok := h.rooms.Get(roomName)
		if !ok {
			h.send("NOT_IN_ROOM " + roomName)
			return
		}
		rm.Post(room.Message{Sender: h.username, Content: text})

	case "LOGOUT":
		h.leaveCurrentRoom()
		h.sessions.Remove(h.username)
		h.tokens.Invalidate(h.token)
		log.Info().Str("user", h.username).Msg("user logged out")
		h.username, h.token, h.roomName = "", "", ""
		h.send("LOGOUT_SUCCESS")

	default:
		h.send("UNKNOWN_COMMAND")
	}
}

// leaveCurrentRoom 把本连接移出当前房间并清空房间状态;不在房间时为空操作。
func (h *Handler) leaveCurrentRoom() {
	if h.roomName == "" {
		return
	}
	if rm, ok := h.rooms.Get(h.roomName); ok {
		rm.RemoveMember(h)
	}
	h.roomName = ""
}

// dropStalePresence 在全新登录时清理同名用户上一条连接遗留的在场状态:
// 旧会话若仍指向某个房间,把旧连接移出该房间,避免重复的陈旧成员项。
// 重连恢复走 RECONNECT 的原位替换路径,不经过这里。
func (h *Handler) dropStalePresence(user string) {
	prev, ok := h.sessions.Get(user)
	if !ok {
		return
	}
	if roomName := prev.Room(); roomName != "" {
		if rm, ok := h.rooms.Get(roomName); ok {
			rm.RemoveMember(prev.Conn())
		}
	}
}
