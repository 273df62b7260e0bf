package entity

import (
	"testing"
	"time"
)

func TestNewSession_FirstTurnInvariant(t *testing.T) {
	s := NewSession("fp", "chat-1", "hello", 30*time.Minute)

	if s.ParentID != nil {
		t.Error("fresh session must have nil ParentID")
	}
	if s.MessageCount != 0 {
		t.Errorf("fresh session MessageCount: got %d, want 0", s.MessageCount)
	}
	if s.Expired(time.Now()) {
		t.Error("fresh session must not be expired")
	}
}

func TestSession_Advance(t *testing.T) {
	s := NewSession("fp", "chat-1", "hello", 30*time.Minute)
	before := s.ExpiresAt

	time.Sleep(2 * time.Millisecond)
	s.Advance("parent-abc", 30*time.Minute)

	if s.ParentID == nil || *s.ParentID != "parent-abc" {
		t.Errorf("ParentID after advance: got %v", s.ParentID)
	}
	if s.MessageCount != 1 {
		t.Errorf("MessageCount after advance: got %d, want 1", s.MessageCount)
	}
	if s.ExpiresAt <= before {
		t.Error("advance must push the expiry forward")
	}
}

func TestSession_Expired(t *testing.T) {
	s := NewSession("fp", "chat-1", "hello", time.Millisecond)
	if !s.Expired(time.Now().Add(time.Second)) {
		t.Error("session past its TTL must report expired")
	}
}
