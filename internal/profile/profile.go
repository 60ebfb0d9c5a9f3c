// Package profile implements the per-user profile and usage tracker.
//
// A profile holds a map of named conversation slots plus the active slot
// selection. Each slot accumulates token usage and monetary cost for the
// conversations it carries. Profiles are created lazily on first contact
// and persisted as JSON records, one per user. Legacy records in which a
// slot is a bare name string are migrated to the structured form on load
// and the migration is persisted.
package profile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gemgate/gemgate/internal/log"
	"github.com/gemgate/gemgate/internal/storage"
)

var (
	// ErrSlotExists indicates a slot with that name (case-insensitive)
	// already exists.
	ErrSlotExists = errors.New("slot already exists")

	// ErrSlotNotFound indicates no slot carries the requested name.
	ErrSlotNotFound = errors.New("slot not found")

	// ErrLastSlot indicates an attempt to delete a profile's only slot.
	ErrLastSlot = errors.New("cannot delete the only slot")
)

// DefaultSlotName is the name given to the slot created with a profile.
const DefaultSlotName = "Default chat"

// Stats is the cumulative usage accounting for one slot. All fields are
// running totals; see DESIGN.md for the accumulation policy decision.
type Stats struct {
	PromptTokens int64   `json:"prompt_tokens"`
	OutputTokens int64   `json:"output_tokens"`
	TotalTokens  int64   `json:"total_tokens"`
	TotalCost    float64 `json:"total_cost"`
}

// Slot is one named conversation within a profile.
type Slot struct {
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	Stats     Stats     `json:"stats"`
}

// Profile is one user's durable record. Wire names keep the legacy field
// spelling so existing records remain readable.
type Profile struct {
	UserID      int64            `json:"user_id"`
	Username    string           `json:"username"`
	DisplayName string           `json:"first_name"`
	ActiveSlot  string           `json:"active_session_id"`
	Slots       map[string]*Slot `json:"sessions"`
}

// SlotInfo is a slot augmented with live conversation data for listings.
type SlotInfo struct {
	ID        string
	Name      string
	CreatedAt time.Time
	Stats     Stats
	Active    bool
	Messages  int
	Modified  time.Time
}

// DeleteResult reports the outcome of a slot deletion.
type DeleteResult struct {
	Deleted string // name of the removed slot
	// NewActive is the name of the slot promoted to active, empty when
	// the deleted slot was not the active one.
	NewActive string
}

// Price is the cost per million tokens for one model.
type Price struct {
	Input  float64
	Output float64
}

// DefaultPrices is the built-in price table, keyed by model identifier.
var DefaultPrices = map[string]Price{
	"gemini-2.5-pro":   {Input: 2.50, Output: 10.00},
	"gemini-2.5-flash": {Input: 1.25, Output: 2.50},
}

// Histories is the subset of the history store used for slot accounting.
type Histories interface {
	MessageCount(ctx context.Context, key string) int
	Modified(ctx context.Context, key string) (time.Time, error)
	Delete(ctx context.Context, key string) error
}

// Manager loads, mutates, and persists user profiles. It is safe for
// concurrent use; mutations for one user are serialized.
type Manager struct {
	records   storage.Store
	histories Histories
	logger    log.Logger
	prices    map[string]Price
	chatModel func() string // current chat model id, for pricing
	now       func() time.Time
	newSlotID func() string

	mu sync.Mutex // serializes read-modify-write of profile records
}

// Config collects Manager dependencies.
type Config struct {
	Records   storage.Store
	Histories Histories
	Logger    log.Logger

	// ChatModel returns the currently selected chat model identifier,
	// used to price token usage.
	ChatModel func() string

	// Prices overrides DefaultPrices when non-nil.
	Prices map[string]Price
}

// NewManager creates a profile Manager.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Records == nil {
		return nil, fmt.Errorf("record storage is required")
	}
	if cfg.Histories == nil {
		return nil, fmt.Errorf("history store is required")
	}
	if cfg.ChatModel == nil {
		return nil, fmt.Errorf("chat model source is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.NewNop()
	}
	prices := cfg.Prices
	if prices == nil {
		prices = DefaultPrices
	}
	return &Manager{
		records:   cfg.Records,
		histories: cfg.Histories,
		logger:    logger,
		prices:    prices,
		chatModel: cfg.ChatModel,
		now:       time.Now,
		newSlotID: func() string { return "slot_" + uuid.NewString() },
	}, nil
}

func profileKey(userID int64) string {
	return "users/" + strconv.FormatInt(userID, 10) + "/profile"
}

// HistoryKey returns the conversation key for one slot of one user.
func HistoryKey(userID int64, slotID string) string {
	return "users/" + strconv.FormatInt(userID, 10) + "/slots/" + slotID
}

// GetOrCreate loads the profile for userID, creating it on first contact.
// Legacy string-valued slots are migrated to the structured form, stale
// identity fields are refreshed, and any such repair is persisted.
func (m *Manager) GetOrCreate(ctx context.Context, userID int64, username, displayName string) (*Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getOrCreateLocked(ctx, userID, username, displayName)
}

func (m *Manager) getOrCreateLocked(ctx context.Context, userID int64, username, displayName string) (*Profile, error) {
	data, err := m.records.Load(ctx, profileKey(userID))
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			m.logger.Warn("unreadable profile record, recreating",
				"user_id", userID, "error", err)
		}
		return m.createProfile(ctx, userID, username, displayName)
	}

	p, migrated, err := decodeProfile(data, m.now)
	if err != nil {
		m.logger.Warn("corrupt profile record, recreating",
			"user_id", userID, "error", err)
		return m.createProfile(ctx, userID, username, displayName)
	}
	if migrated {
		m.logger.Info("migrated legacy slot records", "user_id", userID)
	}

	dirty := migrated
	if username != "" && p.Username != username {
		p.Username = username
		dirty = true
	}
	if displayName != "" && p.DisplayName != displayName {
		p.DisplayName = displayName
		dirty = true
	}
	if _, ok := p.Slots[p.ActiveSlot]; !ok && len(p.Slots) > 0 {
		p.ActiveSlot = anySlotID(p.Slots)
		dirty = true
	}
	if len(p.Slots) == 0 {
		id := m.newSlotID()
		p.Slots = map[string]*Slot{id: {Name: DefaultSlotName, CreatedAt: m.now()}}
		p.ActiveSlot = id
		dirty = true
	}

	if dirty {
		if err := m.save(ctx, p); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func (m *Manager) createProfile(ctx context.Context, userID int64, username, displayName string) (*Profile, error) {
	id := m.newSlotID()
	p := &Profile{
		UserID:      userID,
		Username:    username,
		DisplayName: displayName,
		ActiveSlot:  id,
		Slots: map[string]*Slot{
			id: {Name: DefaultSlotName, CreatedAt: m.now()},
		},
	}
	if err := m.save(ctx, p); err != nil {
		return nil, err
	}
	m.logger.Info("created user profile", "user_id", userID, "username", username)
	return p, nil
}

func (m *Manager) save(ctx context.Context, p *Profile) error {
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding profile %d: %w", p.UserID, err)
	}
	if err := m.records.Save(ctx, profileKey(p.UserID), data); err != nil {
		return fmt.Errorf("persisting profile %d: %w", p.UserID, err)
	}
	return nil
}

// CreateSlot adds a named slot and makes it active. Slot names are unique
// per profile, compared case-insensitively.
func (m *Manager) CreateSlot(ctx context.Context, userID int64, username, displayName, name string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, err := m.getOrCreateLocked(ctx, userID, username, displayName)
	if err != nil {
		return "", err
	}
	if findSlotByName(p.Slots, name) != "" {
		return "", fmt.Errorf("%w: %q", ErrSlotExists, name)
	}

	id := m.newSlotID()
	p.Slots[id] = &Slot{Name: name, CreatedAt: m.now()}
	p.ActiveSlot = id
	if err := m.save(ctx, p); err != nil {
		return "", err
	}
	return id, nil
}

// SwitchSlot makes the named slot active and returns its canonical name.
func (m *Manager) SwitchSlot(ctx context.Context, userID int64, username, displayName, name string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, err := m.getOrCreateLocked(ctx, userID, username, displayName)
	if err != nil {
		return "", err
	}
	id := findSlotByName(p.Slots, name)
	if id == "" {
		return "", fmt.Errorf("%w: %q", ErrSlotNotFound, name)
	}
	p.ActiveSlot = id
	if err := m.save(ctx, p); err != nil {
		return "", err
	}
	return p.Slots[id].Name, nil
}

// DeleteSlot removes the named slot and its conversation history. The last
// remaining slot cannot be deleted. Deleting the active slot promotes the
// most recently created survivor.
func (m *Manager) DeleteSlot(ctx context.Context, userID int64, username, displayName, name string) (DeleteResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, err := m.getOrCreateLocked(ctx, userID, username, displayName)
	if err != nil {
		return DeleteResult{}, err
	}
	id := findSlotByName(p.Slots, name)
	if id == "" {
		return DeleteResult{}, fmt.Errorf("%w: %q", ErrSlotNotFound, name)
	}
	if len(p.Slots) <= 1 {
		return DeleteResult{}, ErrLastSlot
	}

	res := DeleteResult{Deleted: p.Slots[id].Name}
	wasActive := p.ActiveSlot == id
	delete(p.Slots, id)

	if wasActive {
		newActive := newestSlotID(p.Slots)
		p.ActiveSlot = newActive
		res.NewActive = p.Slots[newActive].Name
	}

	if err := m.save(ctx, p); err != nil {
		return DeleteResult{}, err
	}
	if err := m.histories.Delete(ctx, HistoryKey(userID, id)); err != nil {
		m.logger.Warn("failed to remove slot history",
			"user_id", userID, "slot", id, "error", err)
	}
	return res, nil
}

// RenameSlot changes a slot's name, keeping per-profile uniqueness.
func (m *Manager) RenameSlot(ctx context.Context, userID int64, username, displayName, oldName, newName string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, err := m.getOrCreateLocked(ctx, userID, username, displayName)
	if err != nil {
		return err
	}
	if findSlotByName(p.Slots, newName) != "" {
		return fmt.Errorf("%w: %q", ErrSlotExists, newName)
	}
	id := findSlotByName(p.Slots, oldName)
	if id == "" {
		return fmt.Errorf("%w: %q", ErrSlotNotFound, oldName)
	}
	p.Slots[id].Name = newName
	return m.save(ctx, p)
}

// UpdateUsage adds one model response's token usage to the active slot and
// accumulates monetary cost using the price table keyed by the current
// chat model. An unknown model leaves cost unchanged with a warning.
func (m *Manager) UpdateUsage(ctx context.Context, userID int64, username, displayName string, promptTokens, outputTokens int64) error {
	if promptTokens < 0 {
		promptTokens = 0
	}
	if outputTokens < 0 {
		outputTokens = 0
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	p, err := m.getOrCreateLocked(ctx, userID, username, displayName)
	if err != nil {
		return err
	}
	slot, ok := p.Slots[p.ActiveSlot]
	if !ok {
		return fmt.Errorf("%w: active slot %q", ErrSlotNotFound, p.ActiveSlot)
	}

	slot.Stats.PromptTokens += promptTokens
	slot.Stats.OutputTokens += outputTokens
	slot.Stats.TotalTokens += promptTokens + outputTokens

	model := m.chatModel()
	if price, ok := m.prices[model]; ok {
		slot.Stats.TotalCost += float64(promptTokens)/1_000_000*price.Input +
			float64(outputTokens)/1_000_000*price.Output
	} else {
		m.logger.Warn("no price entry for model, cost unchanged", "model", model)
	}

	return m.save(ctx, p)
}

// ListSlots returns every slot with live message counts and modification
// times, active slot first, then by most recent modification descending.
func (m *Manager) ListSlots(ctx context.Context, userID int64, username, displayName string) ([]SlotInfo, error) {
	m.mu.Lock()
	p, err := m.getOrCreateLocked(ctx, userID, username, displayName)
	m.mu.Unlock()
	if err != nil {
		return nil, err
	}

	infos := make([]SlotInfo, 0, len(p.Slots))
	for id, slot := range p.Slots {
		key := HistoryKey(userID, id)
		info := SlotInfo{
			ID:        id,
			Name:      slot.Name,
			CreatedAt: slot.CreatedAt,
			Stats:     slot.Stats,
			Active:    id == p.ActiveSlot,
			Messages:  m.histories.MessageCount(ctx, key),
		}
		if mod, err := m.histories.Modified(ctx, key); err == nil {
			info.Modified = mod
		}
		infos = append(infos, info)
	}

	sort.Slice(infos, func(i, j int) bool {
		if infos[i].Active != infos[j].Active {
			return infos[i].Active
		}
		return infos[i].Modified.After(infos[j].Modified)
	})
	return infos, nil
}

// ActiveKey returns the conversation key of the user's active slot.
func (m *Manager) ActiveKey(ctx context.Context, userID int64, username, displayName string) (string, error) {
	p, err := m.GetOrCreate(ctx, userID, username, displayName)
	if err != nil {
		return "", err
	}
	return HistoryKey(userID, p.ActiveSlot), nil
}

// ActiveSlotName returns the display name of the user's active slot.
func (m *Manager) ActiveSlotName(ctx context.Context, userID int64, username, displayName string) (string, error) {
	p, err := m.GetOrCreate(ctx, userID, username, displayName)
	if err != nil {
		return "", err
	}
	if slot, ok := p.Slots[p.ActiveSlot]; ok {
		return slot.Name, nil
	}
	return "", fmt.Errorf("%w: active slot %q", ErrSlotNotFound, p.ActiveSlot)
}

func findSlotByName(slots map[string]*Slot, name string) string {
	for id, slot := range slots {
		if strings.EqualFold(slot.Name, name) {
			return id
		}
	}
	return ""
}

func anySlotID(slots map[string]*Slot) string {
	for id := range slots {
		return id
	}
	return ""
}

// newestSlotID returns the id of the slot with the latest creation time,
// breaking ties by id so promotion is deterministic.
func newestSlotID(slots map[string]*Slot) string {
	var best string
	for id, slot := range slots {
		if best == "" {
			best = id
			continue
		}
		b := slots[best]
		if slot.CreatedAt.After(b.CreatedAt) ||
			(slot.CreatedAt.Equal(b.CreatedAt) && id > best) {
			best = id
		}
	}
	return best
}

// decodeProfile parses a stored profile record, migrating legacy records
// in which a slot value is a bare name string.
func decodeProfile(data []byte, now func() time.Time) (*Profile, bool, error) {
	var raw struct {
		UserID      int64                      `json:"user_id"`
		Username    string                     `json:"username"`
		DisplayName string                     `json:"first_name"`
		ActiveSlot  string                     `json:"active_session_id"`
		Slots       map[string]json.RawMessage `json:"sessions"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, false, err
	}

	p := &Profile{
		UserID:      raw.UserID,
		Username:    raw.Username,
		DisplayName: raw.DisplayName,
		ActiveSlot:  raw.ActiveSlot,
		Slots:       make(map[string]*Slot, len(raw.Slots)),
	}

	migrated := false
	for id, rawSlot := range raw.Slots {
		var slot Slot
		if err := json.Unmarshal(rawSlot, &slot); err == nil && slot.Name != "" {
			p.Slots[id] = &slot
			continue
		}
		// Legacy format: the slot is just its name.
		var name string
		if err := json.Unmarshal(rawSlot, &name); err != nil {
			return nil, false, fmt.Errorf("slot %s: unrecognized record format", id)
		}
		p.Slots[id] = &Slot{Name: name, CreatedAt: now()}
		migrated = true
	}
	return p, migrated, nil
}
