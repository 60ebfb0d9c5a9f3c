// Package config provides application configuration with multi-source
// priority.
//
// Configuration sources (highest to lowest priority):
//  1. Environment variables (GEMGATE_* runtime override)
//  2. Config file (~/.gemgate/config.yaml, or ./config.yaml)
//  3. Default values
//
// Categories: backend credentials and model defaults, conversation limits
// (history cap, content cap, tool-round budget), monitored transcript
// sources, identity lists, storage selection, and logging.
//
// Sensitive data (API keys) is never logged; the config directory uses
// 0750 permissions. Validation uses sentinel errors checkable with
// errors.Is().
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

var (
	// ErrConfigNil indicates the configuration is nil.
	ErrConfigNil = errors.New("configuration is nil")

	// ErrNoAPIKeys indicates the backend credential pool is empty.
	ErrNoAPIKeys = errors.New("no API keys configured")

	// ErrInvalidModelName indicates a model identifier is empty.
	ErrInvalidModelName = errors.New("invalid model name")

	// ErrInvalidTemperature indicates the temperature is out of range.
	ErrInvalidTemperature = errors.New("invalid temperature")

	// ErrInvalidMaxRounds indicates the tool-round budget is out of range.
	ErrInvalidMaxRounds = errors.New("invalid max rounds")

	// ErrInvalidMaxHistoryTurns indicates the history cap is out of range.
	ErrInvalidMaxHistoryTurns = errors.New("invalid max history turns")

	// ErrInvalidStorageBackend indicates an unknown storage backend name.
	ErrInvalidStorageBackend = errors.New("invalid storage backend")

	// ErrInvalidDataDir indicates the data directory is empty.
	ErrInvalidDataDir = errors.New("invalid data directory")
)

// Storage backend identifiers used in Config.StorageBackend.
const (
	StorageFile   = "file"
	StorageSQLite = "sqlite"
)

// Default model identifiers per capability.
const (
	DefaultChatModel  = "gemini-2.5-pro"
	DefaultImageModel = "imagen-4.0-generate-preview-06-06"
	DefaultVideoModel = "veo-3.0-generate-preview"
)

// DefaultInstruction is the hardcoded system-instruction fallback used
// when neither a per-user nor a global override record exists.
const DefaultInstruction = "You are a tool for completing tasks and for entertainment."

// Config stores application configuration.
// SECURITY: APIKeys are sensitive; never log this struct verbatim.
type Config struct {
	// Backend credential pool, cycled round-robin. The last key is
	// reserved for the search specialist when the pool has two or more.
	APIKeys []string `mapstructure:"api_keys"`

	// Model defaults per capability.
	ChatModel  string `mapstructure:"chat_model"`
	ImageModel string `mapstructure:"image_model"`
	VideoModel string `mapstructure:"video_model"`

	// Temperature for chat generation.
	Temperature float32 `mapstructure:"temperature"`

	// Conversation limits.
	MaxRounds       int `mapstructure:"max_rounds"`        // tool-calling round budget
	MaxHistoryTurns int `mapstructure:"max_history_turns"` // stored turns per conversation
	MaxContentLen   int `mapstructure:"max_content_len"`   // runes per stored text part

	// Identity lists.
	AdminIDs      []int64 `mapstructure:"admin_ids"`
	AuthorizedIDs []int64 `mapstructure:"authorized_ids"`

	// Monitored transcript sources for the chat-history tool.
	HistorySources []int64 `mapstructure:"history_sources"`

	// Storage.
	StorageBackend string `mapstructure:"storage_backend"` // "file" or "sqlite"
	DataDir        string `mapstructure:"data_dir"`        // record storage root
	MediaDir       string `mapstructure:"media_dir"`       // downloads and generated artifacts

	// Feature switches.
	VideoGeneration bool `mapstructure:"video_generation"`

	// Submit rate limiting (requests/sec sustained, burst).
	RateLimit float64 `mapstructure:"rate_limit"`
	RateBurst int     `mapstructure:"rate_burst"`

	// Logging.
	LogLevel string `mapstructure:"log_level"`
	LogJSON  bool   `mapstructure:"log_json"`
}

// Load reads configuration from file and environment and validates it.
func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting user home directory: %w", err)
	}

	configDir := filepath.Join(home, ".gemgate")
	if err := os.MkdirAll(configDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating config directory: %w", err)
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configDir)
	v.AddConfigPath(".")

	setDefaults(v, filepath.Join(configDir, "data"))

	v.SetEnvPrefix("GEMGATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		slog.Debug("configuration file not found, using defaults",
			"search_paths", []string{configDir, "."})
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}

	applyEnvLists(v, &cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating configuration: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper, dataDir string) {
	v.SetDefault("chat_model", DefaultChatModel)
	v.SetDefault("image_model", DefaultImageModel)
	v.SetDefault("video_model", DefaultVideoModel)
	v.SetDefault("temperature", 0.8)
	v.SetDefault("max_rounds", 5)
	v.SetDefault("max_history_turns", 1_000_000)
	v.SetDefault("max_content_len", 150_000)
	v.SetDefault("storage_backend", StorageFile)
	v.SetDefault("data_dir", dataDir)
	v.SetDefault("media_dir", filepath.Join(dataDir, "media"))
	v.SetDefault("video_generation", false)
	v.SetDefault("rate_limit", 10.0)
	v.SetDefault("rate_burst", 30)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_json", false)
}

// applyEnvLists fills list-valued fields from comma-separated environment
// variables, which viper's Unmarshal does not split on its own.
func applyEnvLists(v *viper.Viper, cfg *Config) {
	if len(cfg.APIKeys) == 0 {
		cfg.APIKeys = SplitList(v.GetString("api_keys"))
	}
	if len(cfg.AdminIDs) == 0 {
		cfg.AdminIDs = splitIDList(v.GetString("admin_ids"))
	}
	if len(cfg.AuthorizedIDs) == 0 {
		cfg.AuthorizedIDs = splitIDList(v.GetString("authorized_ids"))
	}
	if len(cfg.HistorySources) == 0 {
		cfg.HistorySources = splitIDList(v.GetString("history_sources"))
	}
}

// SplitList splits a comma-separated string, trimming whitespace and
// dropping empty elements.
func SplitList(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func splitIDList(s string) []int64 {
	var out []int64
	for _, part := range SplitList(s) {
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			slog.Warn("ignoring malformed id in list", "value", part)
			continue
		}
		out = append(out, id)
	}
	return out
}

// IsAdmin reports whether id is in the administrator list.
func (c *Config) IsAdmin(id int64) bool {
	for _, a := range c.AdminIDs {
		if a == id {
			return true
		}
	}
	return false
}

// Validate checks configuration values. Returns sentinel errors that can
// be checked with errors.Is().
func (c *Config) Validate() error {
	if c == nil {
		return ErrConfigNil
	}

	if len(c.APIKeys) == 0 {
		return fmt.Errorf("%w: set GEMGATE_API_KEYS (comma-separated) or api_keys in config.yaml",
			ErrNoAPIKeys)
	}

	if c.ChatModel == "" {
		return fmt.Errorf("%w: chat_model cannot be empty", ErrInvalidModelName)
	}
	if c.ImageModel == "" {
		return fmt.Errorf("%w: image_model cannot be empty", ErrInvalidModelName)
	}
	if c.VideoModel == "" {
		return fmt.Errorf("%w: video_model cannot be empty", ErrInvalidModelName)
	}

	// Temperature range per the Gemini API.
	if c.Temperature < 0.0 || c.Temperature > 2.0 {
		return fmt.Errorf("%w: must be between 0.0 and 2.0, got %.2f", ErrInvalidTemperature, c.Temperature)
	}

	if c.MaxRounds < 1 || c.MaxRounds > 25 {
		return fmt.Errorf("%w: must be between 1 and 25, got %d", ErrInvalidMaxRounds, c.MaxRounds)
	}

	if c.MaxHistoryTurns < 1 {
		return fmt.Errorf("%w: must be positive, got %d", ErrInvalidMaxHistoryTurns, c.MaxHistoryTurns)
	}

	if c.StorageBackend != StorageFile && c.StorageBackend != StorageSQLite {
		return fmt.Errorf("%w: %q (want %q or %q)",
			ErrInvalidStorageBackend, c.StorageBackend, StorageFile, StorageSQLite)
	}

	if c.DataDir == "" {
		return fmt.Errorf("%w: data_dir cannot be empty", ErrInvalidDataDir)
	}

	return nil
}
