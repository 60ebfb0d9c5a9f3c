// Package app assembles the gateway from its components: storage,
// history, instructions, models, profiles, credential rotation, tools,
// backend sessions, and the conversation orchestrator.
package app

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"

	"golang.org/x/time/rate"

	"github.com/gemgate/gemgate/internal/backend"
	"github.com/gemgate/gemgate/internal/chat"
	"github.com/gemgate/gemgate/internal/config"
	"github.com/gemgate/gemgate/internal/history"
	"github.com/gemgate/gemgate/internal/instruction"
	"github.com/gemgate/gemgate/internal/log"
	"github.com/gemgate/gemgate/internal/models"
	"github.com/gemgate/gemgate/internal/profile"
	"github.com/gemgate/gemgate/internal/storage"
	"github.com/gemgate/gemgate/internal/tools"
)

// App holds the wired application. Create with Setup, release with
// Close.
type App struct {
	Config *config.Config
	Logger log.Logger

	Records      storage.Store
	Histories    *history.Store
	Transcripts  *history.TranscriptLog
	Instructions *instruction.Manager
	Models       *models.Selector
	Profiles     *profile.Manager
	Rotator      *backend.Rotator
	Tools        *tools.Registry
	Sessions     *backend.Registry
	Orchestrator *chat.Orchestrator

	storeCleanup func() error
}

// Setup creates and wires the application.
func Setup(ctx context.Context, cfg *config.Config, logger log.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = log.NewNop()
	}
	a := &App{Config: cfg, Logger: logger}

	records, cleanup, err := provideStore(cfg)
	if err != nil {
		return nil, err
	}
	a.Records = records
	a.storeCleanup = cleanup

	a.Histories, err = history.New(records, logger, history.Options{
		MaxTurns:      cfg.MaxHistoryTurns,
		MaxContentLen: cfg.MaxContentLen,
	})
	if err != nil {
		return nil, fmt.Errorf("creating history store: %w", err)
	}

	a.Transcripts, err = history.NewTranscriptLog(records, logger, 0)
	if err != nil {
		return nil, fmt.Errorf("creating transcript log: %w", err)
	}

	a.Instructions, err = instruction.New(records, logger, config.DefaultInstruction)
	if err != nil {
		return nil, fmt.Errorf("creating instruction manager: %w", err)
	}

	a.Models = models.NewSelector(cfg.ChatModel, cfg.ImageModel, cfg.VideoModel)

	a.Rotator, err = backend.NewRotator(cfg.APIKeys)
	if err != nil {
		return nil, err
	}

	a.Profiles, err = profile.NewManager(profile.Config{
		Records:   records,
		Histories: a.Histories,
		Logger:    logger,
		ChatModel: a.chatModel,
	})
	if err != nil {
		return nil, fmt.Errorf("creating profile manager: %w", err)
	}

	a.Tools, err = tools.NewBuiltinRegistry(tools.Deps{
		Caller:       &tools.APICaller{},
		Creds:        a.Rotator,
		Transcripts:  a.Transcripts,
		Sources:      transcriptSources(cfg.HistorySources),
		ChatModel:    a.chatModel,
		ImageModel:   func() string { return a.Models.Current(models.Image) },
		VideoModel:   func() string { return a.Models.Current(models.Video) },
		MediaDir:     cfg.MediaDir,
		VideoEnabled: cfg.VideoGeneration,
		Logger:       logger,
	})
	if err != nil {
		return nil, fmt.Errorf("creating tool registry: %w", err)
	}

	a.Sessions, err = backend.NewRegistry(backend.Config{
		Rotator:      a.Rotator,
		Histories:    a.Histories,
		Instructions: a.Instructions,
		Logger:       logger,
		ChatModel:    a.chatModel,
		Declarations: a.Tools.Declarations,
		Temperature:  cfg.Temperature,
	})
	if err != nil {
		return nil, fmt.Errorf("creating session registry: %w", err)
	}

	a.Orchestrator, err = chat.New(chat.Config{
		Sessions:  sessionSource{a.Sessions},
		Histories: a.Histories,
		Tools:     a.Tools,
		Usage:     a.Profiles,
		Logger:    logger,
		Limiter:   rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst),
		MaxRounds: cfg.MaxRounds,
	})
	if err != nil {
		return nil, fmt.Errorf("creating orchestrator: %w", err)
	}

	logger.Info("application wired",
		"storage", cfg.StorageBackend,
		"chat_model", cfg.ChatModel,
		"credentials", a.Rotator.Len(),
		"tools", len(a.Tools.Names()))
	return a, nil
}

// Close releases held resources.
func (a *App) Close() error {
	if a.storeCleanup != nil {
		return a.storeCleanup()
	}
	return nil
}

func (a *App) chatModel() string {
	return a.Models.Current(models.Chat)
}

func provideStore(cfg *config.Config) (storage.Store, func() error, error) {
	switch cfg.StorageBackend {
	case config.StorageSQLite:
		s, err := storage.NewSQLiteStore(filepath.Join(cfg.DataDir, "records.db"))
		if err != nil {
			return nil, nil, fmt.Errorf("opening sqlite store: %w", err)
		}
		return s, s.Close, nil
	default:
		s, err := storage.NewFileStore(cfg.DataDir)
		if err != nil {
			return nil, nil, fmt.Errorf("opening file store: %w", err)
		}
		return s, func() error { return nil }, nil
	}
}

// transcriptSources derives display names and transcript keys for the
// monitored group ids.
func transcriptSources(ids []int64) map[string]string {
	out := make(map[string]string, len(ids))
	for _, id := range ids {
		s := strconv.FormatInt(id, 10)
		out["group_"+s] = TranscriptKey(id)
	}
	return out
}

// sessionSource adapts the backend registry to the orchestrator's
// session interface.
type sessionSource struct {
	reg *backend.Registry
}

func (s sessionSource) GetOrCreate(ctx context.Context, key string, userID int64) (chat.Session, error) {
	return s.reg.GetOrCreate(ctx, key, userID)
}

func (s sessionSource) Rotate(ctx context.Context, key string) error {
	return s.reg.Rotate(ctx, key)
}
