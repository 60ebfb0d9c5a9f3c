package backend

import (
	"context"
	"fmt"
	"sync"

	"google.golang.org/genai"

	"github.com/gemgate/gemgate/internal/history"
	"github.com/gemgate/gemgate/internal/log"
)

// Replayer supplies the replayable transcript of a conversation.
type Replayer interface {
	LoadForReplay(ctx context.Context, key string) []history.Turn
}

// Instructions resolves the system instruction for a user.
type Instructions interface {
	Resolve(ctx context.Context, userID int64) string
}

// Config collects Registry dependencies.
type Config struct {
	Rotator      *Rotator
	Histories    Replayer
	Instructions Instructions
	Logger       log.Logger

	// ChatModel returns the currently selected chat model identifier.
	ChatModel func() string

	// Declarations returns the tool surface exposed to the model. Nil
	// means no tool calling.
	Declarations func() []*genai.FunctionDeclaration

	// Temperature for chat generation.
	Temperature float32

	// Dial overrides the production dialer, for tests.
	Dial DialFunc
}

// Registry caches one live Session per conversation key, creating them
// lazily from the durable transcript. It is safe for concurrent use;
// session creation for one key never blocks other keys.
type Registry struct {
	rotator      *Rotator
	histories    Replayer
	instructions Instructions
	chatModel    func() string
	declarations func() []*genai.FunctionDeclaration
	temperature  float32
	dial         DialFunc
	logger       log.Logger

	mu       sync.Mutex
	sessions map[string]*Session
	creating map[string]*sync.Mutex
}

// NewRegistry creates a session registry.
func NewRegistry(cfg Config) (*Registry, error) {
	if cfg.Rotator == nil {
		return nil, fmt.Errorf("credential rotator is required")
	}
	if cfg.Histories == nil {
		return nil, fmt.Errorf("history store is required")
	}
	if cfg.Instructions == nil {
		return nil, fmt.Errorf("instruction source is required")
	}
	if cfg.ChatModel == nil {
		return nil, fmt.Errorf("chat model source is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.NewNop()
	}
	dial := cfg.Dial
	if dial == nil {
		dial = Dial
	}
	return &Registry{
		rotator:      cfg.Rotator,
		histories:    cfg.Histories,
		instructions: cfg.Instructions,
		chatModel:    cfg.ChatModel,
		declarations: cfg.Declarations,
		temperature:  cfg.Temperature,
		dial:         dial,
		logger:       logger,
		sessions:     make(map[string]*Session),
		creating:     make(map[string]*sync.Mutex),
	}, nil
}

// GetOrCreate returns the live session for key, creating it from the
// durable transcript on first use. userID selects the system instruction.
func (r *Registry) GetOrCreate(ctx context.Context, key string, userID int64) (*Session, error) {
	r.mu.Lock()
	if s, ok := r.sessions[key]; ok {
		r.mu.Unlock()
		return s, nil
	}
	create, ok := r.creating[key]
	if !ok {
		create = &sync.Mutex{}
		r.creating[key] = create
	}
	r.mu.Unlock()

	// Serialize creation per key without blocking the registry.
	create.Lock()
	defer create.Unlock()

	r.mu.Lock()
	if s, ok := r.sessions[key]; ok {
		r.mu.Unlock()
		return s, nil
	}
	r.mu.Unlock()

	s, err := r.open(ctx, key, userID)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.sessions[key] = s
	delete(r.creating, key)
	r.mu.Unlock()
	return s, nil
}

func (r *Registry) open(ctx context.Context, key string, userID int64) (*Session, error) {
	model := r.chatModel()
	cfg := r.chatConfig(r.instructions.Resolve(ctx, userID))
	seed := Seed(r.histories.LoadForReplay(ctx, key))

	apiKey := r.rotator.Next()
	chat, err := r.dial(ctx, apiKey, model, cfg, seed)
	if err != nil {
		return nil, fmt.Errorf("opening session for %s: %w", key, err)
	}
	r.logger.Info("opened chat session",
		"key", key, "model", model, "replayed_turns", len(seed))
	return &Session{
		chat:   chat,
		apiKey: apiKey,
		model:  model,
		cfg:    cfg,
		dial:   r.dial,
	}, nil
}

// Rotate moves the session for key onto the next credential, preserving
// its accumulated chat state.
func (r *Registry) Rotate(ctx context.Context, key string) error {
	r.mu.Lock()
	s, ok := r.sessions[key]
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("no live session for %s", key)
	}
	next := r.rotator.Next()
	if err := s.Rebind(ctx, next); err != nil {
		return err
	}
	r.logger.Warn("rotated session credential", "key", key)
	return nil
}

// Invalidate drops the live session for key. The next GetOrCreate
// rebuilds it from the durable transcript.
func (r *Registry) Invalidate(key string) {
	r.mu.Lock()
	delete(r.sessions, key)
	r.mu.Unlock()
}

// InvalidateAll drops every live session, forcing rebuilds that pick up
// changed instructions or model selection.
func (r *Registry) InvalidateAll() {
	r.mu.Lock()
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()
}

// chatConfig builds the generation config for chat sessions. Safety
// filtering is disabled; the gateway's admission control decides who may
// talk to the model.
func (r *Registry) chatConfig(systemInstruction string) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{
		Temperature:    genai.Ptr(r.temperature),
		SafetySettings: permissiveSafety(),
	}
	if systemInstruction != "" {
		cfg.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: systemInstruction}},
		}
	}
	if r.declarations != nil {
		if decls := r.declarations(); len(decls) > 0 {
			cfg.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
			cfg.ToolConfig = &genai.ToolConfig{
				FunctionCallingConfig: &genai.FunctionCallingConfig{
					Mode: genai.FunctionCallingConfigModeAuto,
				},
			}
		}
	}
	return cfg
}

func permissiveSafety() []*genai.SafetySetting {
	categories := []genai.HarmCategory{
		genai.HarmCategoryHarassment,
		genai.HarmCategoryHateSpeech,
		genai.HarmCategorySexuallyExplicit,
		genai.HarmCategoryDangerousContent,
	}
	settings := make([]*genai.SafetySetting, 0, len(categories))
	for _, c := range categories {
		settings = append(settings, &genai.SafetySetting{
			Category:  c,
			Threshold: genai.HarmBlockThresholdBlockNone,
		})
	}
	return settings
}
