package auth

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
)

// 业务层通用错误,handler 可根据错误类型映射到协议回复。
var (
	ErrInvalidCredential = errors.New("invalid username or password")
	ErrUsernameTaken     = errors.New("username taken")
)

// Store 持有用户名到口令摘要的映射,负责校验与落盘持久化。
// 凭据在启动时整表加载,每次注册成功后整表重写。
type Store struct {
	mu    sync.RWMutex
	users map[string]string
	path  string
}

// NewStore 从指定文件加载凭据表;文件不存在时引导默认管理员账号。
// 文件不可读只记录日志,服务降级为纯内存运行。
func NewStore(path string) *Store {
	s := &Store{users: make(map[string]string), path: path}
	s.load()
	return s
}

func (s *Store) load() {
	f, err := os.Open(s.path)
	if errors.Is(err, os.ErrNotExist) {
		// 首次启动:引导默认管理员账号
		if err := s.Register("admin", "admin"); err != nil {
			log.Error().Err(err).Msg("bootstrap admin credential")
		}
		return
	}
	if err != nil {
		log.Error().Err(err).Str("path", s.path).Msg("load credentials, continuing in-memory only")
		return
	}
	defer f.Close()

	s.mu.Lock()
	defer s.mu.Unlock()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		name, hash, ok := strings.Cut(sc.Text(), ":")
		if !ok || name == "" {
			continue
		}
		s.users[name] = hash
	}
	if err := sc.Err(); err != nil {
		log.Error().Err(err).Str("path", s.path).Msg("read credentials")
		return
	}
	log.Info().Int("users", len(s.users)).Str("path", s.path).Msg("credentials loaded")
}

// saveLocked 按用户名排序整表重写凭据文件,调用方需持有锁。
// 写失败只记录日志:新注册的凭据在内存中仍然有效。
func (s *Store) saveLocked() {
	var b strings.Builder
	names := make([]string, 0, len(s.users))
	for name := range s.users {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		b.WriteString(name)
		b.WriteByte(':')
		b.WriteString(s.users[name])
		b.WriteByte('\n')
	}
	if err := os.WriteFile(s.path, []byte(b.String()), 0o600); err != nil {
		log.Error().Err(err).Str("path", s.path).Msg("save credentials")
	}
}

// Register 注册新用户并持久化整张凭据表。
// 用户名或口令为空、用户名已存在时注册失败。
func (s *Store) Register(username, password string) error {
	if username == "" || password == "" {
		return ErrInvalidCredential
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.users[username]; exists {
		return ErrUsernameTaken
	}
	s.users[username] = hashPassword(password)
	s.saveLocked()
	return nil
}

// Authenticate 重新计算口令摘要并与存储值比对。
func (s *Store) Authenticate(username, password string) bool {
	if username == "" || password == "" {
		return false
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	stored, ok := s.users[username]
	if !ok {
		return false
	}
	return stored == hashPassword(password)
}

// Count 返回当前凭据条目数。
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.users)
}

// hashPassword 计算口令的 SHA-256 摘要并做 hex 编码。
// 摘要原语不可用时退化为明文比对,并留下警告日志。
func hashPassword(password string) string {
	h := sha256.New()
	if _, err := h.Write([]byte(password)); err != nil {
		log.Warn().Err(err).Msg("password hashing unavailable, falling back to plaintext comparison")
		return password
	}
	return hex.EncodeToString(h.Sum(nil))
}
