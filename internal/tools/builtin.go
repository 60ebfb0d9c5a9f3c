package tools

import (
	"errors"
	"fmt"

	"github.com/gemgate/gemgate/internal/log"
)

// Deps collects everything the built-in tool set needs.
type Deps struct {
	Caller      Caller
	Creds       Credentials
	Transcripts Transcripts

	// Sources maps monitored group display names to transcript keys.
	Sources map[string]string

	ChatModel  func() string
	ImageModel func() string
	VideoModel func() string

	MediaDir     string
	VideoEnabled bool

	Logger log.Logger
}

// NewBuiltinRegistry assembles the full built-in tool set. The search
// specialist is skipped with a warning when the credential pool cannot
// spare a reserved key.
func NewBuiltinRegistry(d Deps) (*Registry, error) {
	logger := d.Logger
	if logger == nil {
		logger = log.NewNop()
	}
	reg := NewRegistry(logger)

	chatHistory, err := NewChatHistory(d.Sources, d.Transcripts, logger)
	if err != nil {
		return nil, fmt.Errorf("building chat history tool: %w", err)
	}
	viewYT, err := NewViewYouTube(d.Caller, d.Creds, d.ChatModel, logger)
	if err != nil {
		return nil, fmt.Errorf("building youtube viewer: %w", err)
	}
	downloadYT, err := NewDownloadYouTube(DownloadConfig{MediaDir: d.MediaDir, Logger: logger})
	if err != nil {
		return nil, fmt.Errorf("building youtube downloader: %w", err)
	}
	mediaCfg := MediaConfig{
		Caller:       d.Caller,
		Creds:        d.Creds,
		ImageModel:   d.ImageModel,
		VideoModel:   d.VideoModel,
		MediaDir:     d.MediaDir,
		VideoEnabled: d.VideoEnabled,
		Logger:       logger,
	}
	photo, err := NewGeneratePhoto(mediaCfg)
	if err != nil {
		return nil, fmt.Errorf("building photo generator: %w", err)
	}
	video, err := NewGenerateVideo(mediaCfg)
	if err != nil {
		return nil, fmt.Errorf("building video generator: %w", err)
	}
	webpage, err := NewFetchWebpage(nil, logger)
	if err != nil {
		return nil, fmt.Errorf("building webpage reader: %w", err)
	}

	if err := reg.Register(chatHistory, viewYT, downloadYT, photo, video, webpage); err != nil {
		return nil, err
	}

	search, err := NewSearchSpecialist(d.Caller, d.Creds, d.ChatModel, logger)
	switch {
	case errors.Is(err, ErrNoReservedCredential):
		logger.Warn("search specialist disabled", "reason", err)
	case err != nil:
		return nil, fmt.Errorf("building search specialist: %w", err)
	default:
		if err := reg.Register(search); err != nil {
			return nil, err
		}
	}

	return reg, nil
}
