package tools

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/genai"
)

// Credentials hands out API keys for one-shot calls. The backend
// rotator satisfies this.
type Credentials interface {
	Next() string
	Reserved() string
	Len() int
}

// Caller performs one-shot model calls, a fresh client per call so each
// invocation can use a different credential. Tests substitute a scripted
// implementation.
type Caller interface {
	Generate(ctx context.Context, apiKey, model string, contents []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
	GenerateImages(ctx context.Context, apiKey, model, prompt, aspectRatio string) ([][]byte, error)
	GenerateVideos(ctx context.Context, apiKey, model, prompt, aspectRatio string) ([][]byte, error)
}

// DefaultPollInterval paces long-running generation operation polls.
const DefaultPollInterval = 10 * time.Second

// APICaller is the production Caller.
type APICaller struct {
	// PollInterval between operation status checks. Zero selects
	// DefaultPollInterval.
	PollInterval time.Duration
}

func (c *APICaller) client(ctx context.Context, apiKey string) (*genai.Client, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("creating genai client: %w", err)
	}
	return client, nil
}

func (c *APICaller) Generate(ctx context.Context, apiKey, model string, contents []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	client, err := c.client(ctx, apiKey)
	if err != nil {
		return nil, err
	}
	return client.Models.GenerateContent(ctx, model, contents, cfg)
}

func (c *APICaller) GenerateImages(ctx context.Context, apiKey, model, prompt, aspectRatio string) ([][]byte, error) {
	client, err := c.client(ctx, apiKey)
	if err != nil {
		return nil, err
	}
	resp, err := client.Models.GenerateImages(ctx, model, prompt,
		&genai.GenerateImagesConfig{NumberOfImages: 1, AspectRatio: aspectRatio})
	if err != nil {
		return nil, fmt.Errorf("generating images: %w", err)
	}
	var out [][]byte
	for _, img := range resp.GeneratedImages {
		if img.Image != nil && len(img.Image.ImageBytes) > 0 {
			out = append(out, img.Image.ImageBytes)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no image returned")
	}
	return out, nil
}

func (c *APICaller) GenerateVideos(ctx context.Context, apiKey, model, prompt, aspectRatio string) ([][]byte, error) {
	client, err := c.client(ctx, apiKey)
	if err != nil {
		return nil, err
	}
	op, err := client.Models.GenerateVideos(ctx, model, prompt, nil,
		&genai.GenerateVideosConfig{AspectRatio: aspectRatio})
	if err != nil {
		return nil, fmt.Errorf("starting video generation: %w", err)
	}

	poll := c.PollInterval
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	ticker := time.NewTicker(poll)
	defer ticker.Stop()
	for !op.Done {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("waiting for video generation: %w", ctx.Err())
		case <-ticker.C:
		}
		op, err = client.Operations.GetVideosOperation(ctx, op, nil)
		if err != nil {
			return nil, fmt.Errorf("polling video generation: %w", err)
		}
	}
	if op.Response == nil || len(op.Response.GeneratedVideos) == 0 {
		return nil, fmt.Errorf("no video returned")
	}

	var out [][]byte
	for _, v := range op.Response.GeneratedVideos {
		if v.Video == nil {
			continue
		}
		data, err := client.Files.Download(ctx, v.Video, nil)
		if err != nil {
			return nil, fmt.Errorf("downloading generated video: %w", err)
		}
		if len(data) == 0 {
			data = v.Video.VideoBytes
		}
		if len(data) > 0 {
			out = append(out, data)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no video returned")
	}
	return out, nil
}

// replyText concatenates the text parts of a one-shot response.
func replyText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var out string
	for _, p := range resp.Candidates[0].Content.Parts {
		if p != nil {
			out += p.Text
		}
	}
	return out
}
