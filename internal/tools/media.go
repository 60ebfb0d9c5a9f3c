package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/gemgate/gemgate/internal/log"
)

// Aspect ratios applied when the model omits the parameter.
const (
	defaultPhotoAspectRatio = "1:1"
	defaultVideoAspectRatio = "16:9"
)

type photoInput struct {
	Prompt      string `json:"prompt" jsonschema:"Description of the image to generate."`
	AspectRatio string `json:"aspect_ratio,omitempty" jsonschema:"Aspect ratio of the image, for example 1:1, 16:9, 9:16. Defaults to 1:1."`
}

// MediaConfig configures the image and video generation tools.
type MediaConfig struct {
	Caller Caller
	Creds  Credentials

	// ImageModel and VideoModel return the current model identifiers.
	ImageModel func() string
	VideoModel func() string

	// MediaDir receives generated artifacts.
	MediaDir string

	// VideoEnabled gates video generation. When false the tool stays
	// declared but refuses, so the model can tell the user why.
	VideoEnabled bool

	Logger log.Logger
}

func (c *MediaConfig) validate() error {
	if c.Caller == nil || c.Creds == nil {
		return fmt.Errorf("caller and credentials are required")
	}
	if c.MediaDir == "" {
		return fmt.Errorf("media directory is required")
	}
	if c.Logger == nil {
		c.Logger = log.NewNop()
	}
	return nil
}

// NewGeneratePhoto builds the generate_photo tool.
func NewGeneratePhoto(cfg MediaConfig) (Tool, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.ImageModel == nil {
		return nil, fmt.Errorf("image model source is required")
	}

	handler := func(ctx context.Context, in photoInput) (Result, error) {
		ratio := in.AspectRatio
		if ratio == "" {
			ratio = defaultPhotoAspectRatio
		}
		images, err := cfg.Caller.GenerateImages(ctx, cfg.Creds.Next(), cfg.ImageModel(), in.Prompt, ratio)
		if err != nil {
			return Result{}, fmt.Errorf("generating image: %w", err)
		}
		path, err := saveArtifact(cfg.MediaDir, "image", ".png", images[0])
		if err != nil {
			return Result{}, err
		}
		cfg.Logger.Info("generated image", "path", path)
		return Result{
			Text: "Image generated.",
			File: &FileSend{Path: path, Caption: in.Prompt},
		}, nil
	}

	return New("generate_photo",
		"Generate an image from a text description and send it to the user.",
		handler)
}

type videoInput struct {
	Prompt      string `json:"prompt" jsonschema:"Description of the video to generate."`
	AspectRatio string `json:"aspect_ratio,omitempty" jsonschema:"Aspect ratio of the video, for example 16:9 or 9:16. Defaults to 16:9."`
}

// NewGenerateVideo builds the generate_video tool.
func NewGenerateVideo(cfg MediaConfig) (Tool, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.VideoModel == nil {
		return nil, fmt.Errorf("video model source is required")
	}

	handler := func(ctx context.Context, in videoInput) (Result, error) {
		if !cfg.VideoEnabled {
			return Result{Text: "Video generation is currently disabled."}, nil
		}
		ratio := in.AspectRatio
		if ratio == "" {
			ratio = defaultVideoAspectRatio
		}
		videos, err := cfg.Caller.GenerateVideos(ctx, cfg.Creds.Next(), cfg.VideoModel(), in.Prompt, ratio)
		if err != nil {
			return Result{}, fmt.Errorf("generating video: %w", err)
		}
		path, err := saveArtifact(cfg.MediaDir, "video", ".mp4", videos[0])
		if err != nil {
			return Result{}, err
		}
		cfg.Logger.Info("generated video", "path", path)
		return Result{
			Text: "Video generated.",
			File: &FileSend{Path: path, Caption: in.Prompt},
		}, nil
	}

	return New("generate_video",
		"Generate a short video from a text description and send it to the user.",
		handler)
}

func saveArtifact(dir, prefix, ext string, data []byte) (string, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("creating media directory: %w", err)
	}
	path := filepath.Join(dir, prefix+"_"+uuid.NewString()+ext)
	if err := os.WriteFile(path, data, 0o640); err != nil {
		return "", fmt.Errorf("saving %s: %w", prefix, err)
	}
	return path, nil
}
