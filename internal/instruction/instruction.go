// Package instruction manages system-instruction override records.
//
// Resolution order for a user is: personal override, then global
// override, then the built-in fallback. Records are stored as JSON
// through the pluggable record store.
package instruction

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/gemgate/gemgate/internal/log"
	"github.com/gemgate/gemgate/internal/storage"
)

var (
	// ErrEmptyInstruction indicates an attempt to store blank text.
	ErrEmptyInstruction = errors.New("instruction text cannot be empty")

	// ErrNoOverride indicates no override record exists.
	ErrNoOverride = errors.New("no instruction override")
)

// Record is one stored instruction override.
type Record struct {
	Instruction string    `json:"instruction"`
	Title       string    `json:"title,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Manager reads and writes instruction records and resolves the effective
// instruction for a user.
type Manager struct {
	records  storage.Store
	logger   log.Logger
	fallback string
	now      func() time.Time
}

// New creates a Manager. fallback is the built-in instruction used when no
// override record exists.
func New(records storage.Store, logger log.Logger, fallback string) (*Manager, error) {
	if records == nil {
		return nil, fmt.Errorf("record storage is required")
	}
	if fallback == "" {
		return nil, fmt.Errorf("fallback instruction is required")
	}
	if logger == nil {
		logger = log.NewNop()
	}
	return &Manager{
		records:  records,
		logger:   logger,
		fallback: fallback,
		now:      time.Now,
	}, nil
}

func userKey(userID int64) string {
	return "instructions/user_" + strconv.FormatInt(userID, 10)
}

const globalKey = "instructions/default"

// SetUser stores a personal instruction override for userID.
func (m *Manager) SetUser(ctx context.Context, userID int64, text, title string) error {
	return m.set(ctx, userKey(userID), text, title)
}

// SetGlobal stores the global instruction override.
func (m *Manager) SetGlobal(ctx context.Context, text, title string) error {
	return m.set(ctx, globalKey, text, title)
}

func (m *Manager) set(ctx context.Context, key, text, title string) error {
	if isBlank(text) {
		return ErrEmptyInstruction
	}
	rec := Record{Instruction: text, Title: title, CreatedAt: m.now()}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding instruction record: %w", err)
	}
	if err := m.records.Save(ctx, key, data); err != nil {
		return fmt.Errorf("saving instruction record: %w", err)
	}
	m.logger.Info("instruction override saved", "key", key, "title", title)
	return nil
}

// DeleteUser removes the personal override for userID.
func (m *Manager) DeleteUser(ctx context.Context, userID int64) error {
	if _, err := m.load(ctx, userKey(userID)); err != nil {
		return err
	}
	if err := m.records.Delete(ctx, userKey(userID)); err != nil {
		return fmt.Errorf("deleting instruction record: %w", err)
	}
	return nil
}

// User returns the personal override record for userID, or ErrNoOverride.
func (m *Manager) User(ctx context.Context, userID int64) (*Record, error) {
	return m.load(ctx, userKey(userID))
}

// Global returns the global override record, or ErrNoOverride.
func (m *Manager) Global(ctx context.Context) (*Record, error) {
	return m.load(ctx, globalKey)
}

// Resolve returns the effective instruction for userID: personal override,
// else global override, else the built-in fallback. Unreadable records
// degrade to the next level rather than failing the request.
func (m *Manager) Resolve(ctx context.Context, userID int64) string {
	if rec, err := m.load(ctx, userKey(userID)); err == nil {
		return rec.Instruction
	}
	if rec, err := m.load(ctx, globalKey); err == nil {
		return rec.Instruction
	}
	return m.fallback
}

// Summary describes the instruction currently in effect for a user.
type Summary struct {
	// Source is "user", "global", or "builtin".
	Source string
	Title  string
	Text   string
}

// Info reports which instruction applies to userID and where it came from.
func (m *Manager) Info(ctx context.Context, userID int64) Summary {
	if rec, err := m.load(ctx, userKey(userID)); err == nil {
		return Summary{Source: "user", Title: rec.Title, Text: rec.Instruction}
	}
	if rec, err := m.load(ctx, globalKey); err == nil {
		return Summary{Source: "global", Title: rec.Title, Text: rec.Instruction}
	}
	return Summary{Source: "builtin", Text: m.fallback}
}

func (m *Manager) load(ctx context.Context, key string) (*Record, error) {
	data, err := m.records.Load(ctx, key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrNoOverride
	}
	if err != nil {
		m.logger.Warn("unreadable instruction record", "key", key, "error", err)
		return nil, ErrNoOverride
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		m.logger.Warn("corrupt instruction record", "key", key, "error", err)
		return nil, ErrNoOverride
	}
	if isBlank(rec.Instruction) {
		return nil, ErrNoOverride
	}
	return &rec, nil
}

func isBlank(s string) bool {
	for _, r := range s {
		if r != ' ' && r != '\t' && r != '\n' && r != '\r' {
			return false
		}
	}
	return true
}
