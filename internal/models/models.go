// Package models tracks the currently selected backend model per
// capability. The selection is process-scoped mutable state, owned by a
// single Selector created at startup and passed by reference to the
// components that need it.
package models

import (
	"fmt"
	"sync"
)

// Kind names a model capability slot.
type Kind string

const (
	Chat  Kind = "chat"
	Image Kind = "image"
	Video Kind = "video"
)

// Selector holds the current model identifier per capability.
// It is safe for concurrent use.
type Selector struct {
	mu      sync.RWMutex
	current map[Kind]string
}

// NewSelector creates a Selector with the given defaults.
func NewSelector(chatModel, imageModel, videoModel string) *Selector {
	return &Selector{
		current: map[Kind]string{
			Chat:  chatModel,
			Image: imageModel,
			Video: videoModel,
		},
	}
}

// Current returns the model identifier for kind. Unknown kinds fall back
// to the chat model.
func (s *Selector) Current(kind Kind) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if m, ok := s.current[kind]; ok {
		return m
	}
	return s.current[Chat]
}

// Set replaces the model for kind. Unknown kinds are rejected.
func (s *Selector) Set(kind Kind, model string) error {
	if model == "" {
		return fmt.Errorf("model name cannot be empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.current[kind]; !ok {
		return fmt.Errorf("unknown model kind %q", kind)
	}
	s.current[kind] = model
	return nil
}
