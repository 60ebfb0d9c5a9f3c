package models

import (
	"sync"
	"testing"
)

func TestSelector_Defaults(t *testing.T) {
	s := NewSelector("chat-m", "image-m", "video-m")

	if got := s.Current(Chat); got != "chat-m" {
		t.Errorf("Current(Chat) = %q", got)
	}
	if got := s.Current(Image); got != "image-m" {
		t.Errorf("Current(Image) = %q", got)
	}
	if got := s.Current(Video); got != "video-m" {
		t.Errorf("Current(Video) = %q", got)
	}
}

func TestSelector_UnknownKindFallsBackToChat(t *testing.T) {
	s := NewSelector("chat-m", "image-m", "video-m")
	if got := s.Current(Kind("audio")); got != "chat-m" {
		t.Errorf("Current(audio) = %q, want chat fallback", got)
	}
}

func TestSelector_Set(t *testing.T) {
	s := NewSelector("chat-m", "image-m", "video-m")

	if err := s.Set(Chat, "chat-m2"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if got := s.Current(Chat); got != "chat-m2" {
		t.Errorf("Current(Chat) = %q after Set", got)
	}

	if err := s.Set(Kind("audio"), "x"); err == nil {
		t.Error("Set(unknown kind) succeeded, want error")
	}
	if err := s.Set(Chat, ""); err == nil {
		t.Error("Set(empty model) succeeded, want error")
	}
}

func TestSelector_ConcurrentAccess(t *testing.T) {
	s := NewSelector("a", "b", "c")
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.Set(Chat, "m")
			_ = s.Current(Chat)
		}()
	}
	wg.Wait()
}
