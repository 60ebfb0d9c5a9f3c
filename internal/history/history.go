// Package history implements the durable, append-only conversation log.
//
// Each conversation key owns one record holding an ordered list of turns.
// A turn is role-tagged (user, model, tool) and carries typed parts: text,
// inline binary data, a tool call, or a tool result. Records are stored as
// human-inspectable JSON through a storage.Store; binary payloads are
// base64-encoded for durability and decoded back to raw bytes on load.
//
// Writes for one key are serialized by a per-key mutex so concurrent turns
// on the same conversation never lose updates; different keys append
// concurrently.
package history

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gemgate/gemgate/internal/log"
	"github.com/gemgate/gemgate/internal/storage"
)

// Role tags a turn's author.
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
	RoleTool  Role = "tool"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleModel || r == RoleTool
}

// Default limits, matching the gateway's wire format expectations.
const (
	// DefaultMaxTurns caps stored turns per conversation; oldest turns
	// are evicted first.
	DefaultMaxTurns = 1_000_000

	// DefaultMaxContentLen caps the rune length of a single text part.
	DefaultMaxContentLen = 150_000

	// TruncationMarker is appended to text parts cut at MaxContentLen.
	TruncationMarker = "… [content truncated]"
)

// Part is one typed fragment of a turn. Exactly one field is set.
type Part struct {
	Text   string
	Inline *Inline
	Call   *Call
	Result *Result
}

// Inline is a mime-tagged binary payload (image, audio, document).
type Inline struct {
	MIMEType string
	Data     []byte
}

// Call records a model-requested tool invocation.
type Call struct {
	Name string
	Args map[string]any
}

// Result records a tool's returned value.
type Result struct {
	Name     string
	Response map[string]any
}

// IsZero reports whether the part carries no content at all.
func (p Part) IsZero() bool {
	return p.Text == "" && p.Inline == nil && p.Call == nil && p.Result == nil
}

// TextPart builds a text part.
func TextPart(text string) Part { return Part{Text: text} }

// InlinePart builds a binary part.
func InlinePart(mimeType string, data []byte) Part {
	return Part{Inline: &Inline{MIMEType: mimeType, Data: data}}
}

// CallPart builds a tool-call part.
func CallPart(name string, args map[string]any) Part {
	return Part{Call: &Call{Name: name, Args: args}}
}

// ResultPart builds a tool-result part.
func ResultPart(name string, response map[string]any) Part {
	return Part{Result: &Result{Name: name, Response: response}}
}

// Turn is one exchange unit in a conversation.
type Turn struct {
	Role  Role
	Parts []Part
}

// Options tunes a Store. Zero values select the defaults above.
type Options struct {
	MaxTurns      int
	MaxContentLen int
}

// Store is the durable history store. It is safe for concurrent use.
type Store struct {
	records       storage.Store
	logger        log.Logger
	maxTurns      int
	maxContentLen int

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New creates a history store over the given record storage.
func New(records storage.Store, logger log.Logger, opts Options) (*Store, error) {
	if records == nil {
		return nil, fmt.Errorf("record storage is required")
	}
	if logger == nil {
		logger = log.NewNop()
	}
	maxTurns := opts.MaxTurns
	if maxTurns <= 0 {
		maxTurns = DefaultMaxTurns
	}
	maxContentLen := opts.MaxContentLen
	if maxContentLen <= 0 {
		maxContentLen = DefaultMaxContentLen
	}
	return &Store{
		records:       records,
		logger:        logger,
		maxTurns:      maxTurns,
		maxContentLen: maxContentLen,
		locks:         make(map[string]*sync.Mutex),
	}, nil
}

// keyLock returns the write mutex for key, creating it on first use.
func (s *Store) keyLock(key string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[key]
	if !ok {
		l = &sync.Mutex{}
		s.locks[key] = l
	}
	return l
}

// Append loads the history for key, appends one turn built from parts
// (oversized text truncated, binary base64-encoded), trims to the turn
// cap, and persists the record atomically.
func (s *Store) Append(ctx context.Context, key string, role Role, parts []Part) error {
	if !role.Valid() {
		return fmt.Errorf("invalid turn role %q", role)
	}

	lock := s.keyLock(key)
	lock.Lock()
	defer lock.Unlock()

	turns := s.loadStored(ctx, key)

	stored := storedTurn{Role: string(role)}
	for _, p := range parts {
		if p.IsZero() {
			continue
		}
		stored.Parts = append(stored.Parts, s.serializePart(p))
	}
	turns = append(turns, mustRaw(stored))

	if len(turns) > s.maxTurns {
		turns = turns[len(turns)-s.maxTurns:]
	}

	data, err := json.MarshalIndent(turns, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding history %s: %w", key, err)
	}
	if err := s.records.Save(ctx, key, data); err != nil {
		return fmt.Errorf("persisting history %s: %w", key, err)
	}
	return nil
}

// Load returns every stored turn for key in append order, with binary
// payloads decoded. Malformed turns are skipped with a warning; a missing
// or corrupt record yields an empty history.
func (s *Store) Load(ctx context.Context, key string) []Turn {
	return s.decode(ctx, key, false)
}

// LoadForReplay returns the turns used to reconstruct a backend session:
// everything except tool turns, which the backend's session-replay format
// does not carry.
func (s *Store) LoadForReplay(ctx context.Context, key string) []Turn {
	return s.decode(ctx, key, true)
}

// Clear replaces the record for key with an empty history.
func (s *Store) Clear(ctx context.Context, key string) error {
	lock := s.keyLock(key)
	lock.Lock()
	defer lock.Unlock()

	if err := s.records.Save(ctx, key, []byte("[]")); err != nil {
		return fmt.Errorf("clearing history %s: %w", key, err)
	}
	return nil
}

// Delete removes the backing record for key entirely.
func (s *Store) Delete(ctx context.Context, key string) error {
	lock := s.keyLock(key)
	lock.Lock()
	defer lock.Unlock()

	if err := s.records.Delete(ctx, key); err != nil {
		return fmt.Errorf("deleting history %s: %w", key, err)
	}
	return nil
}

// MessageCount returns the number of non-tool turns stored for key.
func (s *Store) MessageCount(ctx context.Context, key string) int {
	n := 0
	for _, raw := range s.loadStored(ctx, key) {
		var t storedTurn
		if err := json.Unmarshal(raw, &t); err != nil {
			continue
		}
		if normalizeRole(t.Role) != RoleTool {
			n++
		}
	}
	return n
}

// Modified returns the last time the record for key was written.
func (s *Store) Modified(ctx context.Context, key string) (time.Time, error) {
	info, err := s.records.Stat(ctx, key)
	if err != nil {
		return time.Time{}, err
	}
	return info.ModTime, nil
}

// loadStored reads the raw turn list for key. A missing, empty, or corrupt
// record degrades to an empty history with a warning; storage corruption
// never blocks the conversation.
func (s *Store) loadStored(ctx context.Context, key string) []json.RawMessage {
	data, err := s.records.Load(ctx, key)
	if err != nil {
		return nil
	}
	if len(data) == 0 {
		return nil
	}
	var turns []json.RawMessage
	if err := json.Unmarshal(data, &turns); err != nil {
		s.logger.Warn("corrupt history record, treating as empty",
			"key", key, "error", err)
		return nil
	}
	return turns
}

func (s *Store) decode(ctx context.Context, key string, excludeTool bool) []Turn {
	raws := s.loadStored(ctx, key)
	turns := make([]Turn, 0, len(raws))
	for i, raw := range raws {
		var st storedTurn
		if err := json.Unmarshal(raw, &st); err != nil {
			s.logger.Warn("skipping malformed history turn",
				"key", key, "index", i, "error", err)
			continue
		}
		role := normalizeRole(st.Role)
		if !role.Valid() {
			s.logger.Warn("skipping history turn with unknown role",
				"key", key, "index", i, "role", st.Role)
			continue
		}
		if excludeTool && role == RoleTool {
			continue
		}
		turn := Turn{Role: role}
		for j, sp := range st.Parts {
			p, err := s.deserializePart(sp)
			if err != nil {
				s.logger.Warn("skipping malformed history part",
					"key", key, "turn", i, "part", j, "error", err)
				continue
			}
			turn.Parts = append(turn.Parts, p)
		}
		turns = append(turns, turn)
	}
	return turns
}

// Wire format. Field names match the gateway's on-disk records so existing
// histories remain readable.

type storedTurn struct {
	Role  string       `json:"role"`
	Parts []storedPart `json:"parts"`
}

type storedPart struct {
	Text             string        `json:"text,omitempty"`
	FunctionCall     *storedCall   `json:"function_call,omitempty"`
	FunctionResponse *storedResult `json:"function_response,omitempty"`
	InlineData       *storedInline `json:"inline_data,omitempty"`
}

type storedCall struct {
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

type storedResult struct {
	Name     string         `json:"name"`
	Response map[string]any `json:"response"`
}

type storedInline struct {
	MIMEType   string `json:"mime_type"`
	DataBase64 string `json:"data_base64"`
}

func (s *Store) serializePart(p Part) storedPart {
	var sp storedPart
	if p.Text != "" {
		sp.Text = truncate(p.Text, s.maxContentLen)
	}
	if p.Call != nil {
		sp.FunctionCall = &storedCall{Name: p.Call.Name, Args: p.Call.Args}
	}
	if p.Result != nil {
		sp.FunctionResponse = &storedResult{Name: p.Result.Name, Response: p.Result.Response}
	}
	if p.Inline != nil {
		sp.InlineData = &storedInline{
			MIMEType:   p.Inline.MIMEType,
			DataBase64: base64.StdEncoding.EncodeToString(p.Inline.Data),
		}
	}
	return sp
}

func (s *Store) deserializePart(sp storedPart) (Part, error) {
	var p Part
	p.Text = sp.Text
	if sp.FunctionCall != nil {
		p.Call = &Call{Name: sp.FunctionCall.Name, Args: sp.FunctionCall.Args}
	}
	if sp.FunctionResponse != nil {
		p.Result = &Result{Name: sp.FunctionResponse.Name, Response: sp.FunctionResponse.Response}
	}
	if sp.InlineData != nil {
		data, err := base64.StdEncoding.DecodeString(sp.InlineData.DataBase64)
		if err != nil {
			return Part{}, fmt.Errorf("decoding inline data: %w", err)
		}
		p.Inline = &Inline{MIMEType: sp.InlineData.MIMEType, Data: data}
	}
	return p, nil
}

// normalizeRole maps the legacy "assistant" role to "model".
func normalizeRole(role string) Role {
	if role == "assistant" {
		return RoleModel
	}
	return Role(role)
}

// truncate cuts s at limit runes, appending the truncation marker.
func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + TruncationMarker
}

// mustRaw marshals v, which is built from marshalable values only.
func mustRaw(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("history: marshal stored turn: %v", err))
	}
	return data
}
