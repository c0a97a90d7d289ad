package token

import (
	"crypto/rand"
	"encoding/base64"
	"sync"
	"time"
)

const tokenBytes = 32

// Service 管理不透明会话令牌:签发、校验、续期、作废与周期清理。
// 不变式:同一用户至多持有一枚有效令牌。
type Service struct {
	mu        sync.RWMutex
	tokens    map[string]entry
	userToken map[string]string
	ttl       time.Duration
	now       func() time.Time
}

type entry struct {
	username string
	expiry   time.Time
}

// NewService 创建令牌服务,ttl 非正时使用默认的 24 小时。
func NewService(ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Service{
		tokens:    make(map[string]entry),
		userToken: make(map[string]string),
		ttl:       ttl,
		now:       time.Now,
	}
}

// Generate 为用户签发新令牌;该用户此前的令牌立即失效。
func (s *Service) Generate(username string) (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	tok := base64.RawURLEncoding.EncodeToString(buf)

	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.userToken[username]; ok {
		delete(s.tokens, old)
	}
	s.tokens[tok] = entry{username: username, expiry: s.now().Add(s.ttl)}
	s.userToken[username] = tok
	return tok, nil
}

// Validate 返回令牌对应的用户名;未知或过期的令牌返回 false,
// 过期条目在查询时被惰性清除。
func (s *Service) Validate(tok string) (string, bool) {
	if tok == "" {
		return "", false
	}

	s.mu.RLock()
	e, ok := s.tokens[tok]
	s.mu.RUnlock()
	if !ok {
		return "", false
	}
	if s.now().After(e.expiry) {
		s.mu.Lock()
		if cur, ok := s.tokens[tok]; ok && s.now().After(cur.expiry) {
			delete(s.tokens, tok)
			if s.userToken[cur.username] == tok {
				delete(s.userToken, cur.username)
			}
		}
		s.mu.Unlock()
		return "", false
	}
	return e.username, true
}

// Refresh 延长既有令牌的有效期,令牌值保持不变。
func (s *Service) Refresh(tok string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.tokens[tok]
	if !ok {
		return false
	}
	e.expiry = s.now().Add(s.ttl)
	s.tokens[tok] = e
	return true
}

// Invalidate 显式作废令牌。
func (s *Service) Invalidate(tok string) {
	if tok == "" {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.tokens[tok]
	if !ok {
		return
	}
	delete(s.tokens, tok)
	if s.userToken[e.username] == tok {
		delete(s.userToken, e.username)
	}
}

// SweepExpired 清除全部过期令牌并返回清除数量,由外部定时任务周期触发。
func (s *Service) SweepExpired() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	removed := 0
	for tok, e := range s.tokens {
		if now.After(e.expiry) {
			delete(s.tokens, tok)
			if s.userToken[e.username] == tok {
				delete(s.userToken, e.username)
			}
			removed++
		}
	}
	return removed
}
