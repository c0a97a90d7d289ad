package token

import (
	"testing"
	"time"
)

func TestGenerateValidate(t *testing.T) {
	s := NewService(time.Hour)

	tok, err := s.Generate("alice")
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if tok == "" {
		t.Fatal("Generate() returned empty token")
	}

	user, ok := s.Validate(tok)
	if !ok || user != "alice" {
		t.Errorf("Validate() = (%v, %v), want (alice, true)", user, ok)
	}
}

func TestValidate_UnknownToken(t *testing.T) {
	s := NewService(time.Hour)

	if _, ok := s.Validate("no-such-token"); ok {
		t.Error("Validate() unknown token = true, want false")
	}
	if _, ok := s.Validate(""); ok {
		t.Error("Validate() empty token = true, want false")
	}
}

func TestGenerate_InvalidatesPreviousToken(t *testing.T) {
	s := NewService(time.Hour)

	first, _ := s.Generate("alice")
	second, _ := s.Generate("alice")

	if first == second {
		t.Fatal("Generate() returned the same token twice")
	}
	if _, ok := s.Validate(first); ok {
		t.Error("Validate() first token = true, want false after second login")
	}
	if user, ok := s.Validate(second); !ok || user != "alice" {
		t.Errorf("Validate() second token = (%v, %v), want (alice, true)", user, ok)
	}
}

func TestInvalidate(t *testing.T) {
	s := NewService(time.Hour)

	tok, _ := s.Generate("alice")
	s.Invalidate(tok)

	if _, ok := s.Validate(tok); ok {
		t.Error("Validate() after Invalidate() = true, want false")
	}
}

func TestValidate_ExpiredTokenEvicted(t *testing.T) {
	s := NewService(time.Hour)
	now := time.Now()
	s.now = func() time.Time { return now }

	tok, _ := s.Generate("alice")

	// 越过有效期
	now = now.Add(2 * time.Hour)
	if _, ok := s.Validate(tok); ok {
		t.Error("Validate() expired token = true, want false")
	}

	// 惰性清除后内部表中不应残留条目
	s.mu.RLock()
	_, inTokens := s.tokens[tok]
	_, inUsers := s.userToken["alice"]
	s.mu.RUnlock()
	if inTokens || inUsers {
		t.Errorf("expired token still stored: tokens=%v userToken=%v", inTokens, inUsers)
	}
}

func TestRefresh_ExtendsExpiryKeepsValue(t *testing.T) {
	s := NewService(time.Hour)
	now := time.Now()
	s.now = func() time.Time { return now }

	tok, _ := s.Generate("alice")

	now = now.Add(50 * time.Minute)
	if !s.Refresh(tok) {
		t.Fatal("Refresh() = false, want true")
	}

	// 原 TTL 已过,续期后的同一令牌仍然有效
	now = now.Add(30 * time.Minute)
	if user, ok := s.Validate(tok); !ok || user != "alice" {
		t.Errorf("Validate() after refresh = (%v, %v), want (alice, true)", user, ok)
	}
}

func TestRefresh_UnknownToken(t *testing.T) {
	s := NewService(time.Hour)
	if s.Refresh("no-such-token") {
		t.Error("Refresh() unknown token = true, want false")
	}
}

func TestSweepExpired(t *testing.T) {
	s := NewService(time.Hour)
	now := time.Now()
	s.now = func() time.Time { return now }

	expired1, _ := s.Generate("alice")
	expired2, _ := s.Generate("bob")
	now = now.Add(2 * time.Hour)
	live, _ := s.Generate("carol")

	if got := s.SweepExpired(); got != 2 {
		t.Errorf("SweepExpired() = %d, want 2", got)
	}
	if _, ok := s.Validate(expired1); ok {
		t.Error("Validate() swept token = true, want false")
	}
	if _, ok := s.Validate(expired2); ok {
		t.Error("Validate() swept token = true, want false")
	}
	if user, ok := s.Validate(live); !ok || user != "carol" {
		t.Errorf("Validate() live token = (%v, %v), want (carol, true)", user, ok)
	}
}
