package tools

import (
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"

	"google.golang.org/genai"

	"github.com/gemgate/gemgate/internal/log"
)

// youtubeURLPattern matches watch, shorts, live and short-form YouTube
// links embedded in free text.
var youtubeURLPattern = regexp.MustCompile(
	`https?://(?:www\.|m\.)?(?:youtube\.com/(?:watch\?\S*v=|shorts/|live/)|youtu\.be/)[\w\-?&=%.]+`)

// ExtractYouTubeURL returns the first YouTube link found in text, empty
// when there is none.
func ExtractYouTubeURL(text string) string {
	return youtubeURLPattern.FindString(text)
}

type viewYouTubeInput struct {
	URL      string `json:"url" jsonschema:"The YouTube video URL, or text containing one."`
	Question string `json:"question,omitempty" jsonschema:"What to answer about the video. Defaults to a summary."`
}

// NewViewYouTube builds the view_youtube_video tool: the model watches a
// video by reference and answers a question about it in one shot.
func NewViewYouTube(caller Caller, creds Credentials, model func() string, logger log.Logger) (Tool, error) {
	if caller == nil || creds == nil || model == nil {
		return nil, fmt.Errorf("caller, credentials and model source are required")
	}
	if logger == nil {
		logger = log.NewNop()
	}

	handler := func(ctx context.Context, in viewYouTubeInput) (Result, error) {
		url := ExtractYouTubeURL(in.URL)
		if url == "" {
			return Result{Text: "Error: no YouTube link found in the request."}, nil
		}
		question := in.Question
		if question == "" {
			question = "Summarize this video."
		}

		contents := []*genai.Content{{
			Role: genai.RoleUser,
			Parts: []*genai.Part{
				{FileData: &genai.FileData{FileURI: url, MIMEType: "video/mp4"}},
				{Text: question},
			},
		}}
		resp, err := caller.Generate(ctx, creds.Next(), model(), contents, nil)
		if err != nil {
			return Result{}, fmt.Errorf("analyzing video: %w", err)
		}
		text := replyText(resp)
		if text == "" {
			return Result{Text: "The model returned no answer about the video."}, nil
		}
		logger.Info("analyzed youtube video", "url", url)
		return Result{Text: text}, nil
	}

	return New("view_youtube_video",
		"Watch a YouTube video and answer a question about its content.",
		handler)
}

// qualityFormats maps the requested quality to a yt-dlp format selector.
var qualityFormats = map[string]string{
	"best":  "bestvideo+bestaudio/best",
	"1080p": "bestvideo[height<=1080]+bestaudio/best[height<=1080]",
	"720p":  "bestvideo[height<=720]+bestaudio/best[height<=720]",
	"480p":  "bestvideo[height<=480]+bestaudio/best[height<=480]",
}

// CommandRunner executes an external command and returns its stdout.
// The default runs the command directly; tests substitute a fake.
type CommandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

func runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

type downloadYouTubeInput struct {
	Request   string `json:"request" jsonschema:"Text containing the YouTube link to download."`
	Quality   string `json:"quality,omitempty" jsonschema:"Video quality: best, 1080p, 720p or 480p. Defaults to best."`
	AudioOnly bool   `json:"audio_only,omitempty" jsonschema:"Download audio only, as mp3."`
}

// DownloadConfig configures the download_youtube_video tool.
type DownloadConfig struct {
	// MediaDir receives downloaded files.
	MediaDir string

	// Runner overrides the subprocess runner, for tests.
	Runner CommandRunner

	Logger log.Logger
}

// NewDownloadYouTube builds the download_youtube_video tool, a yt-dlp
// subprocess wrapper returning the downloaded file for delivery.
func NewDownloadYouTube(cfg DownloadConfig) (Tool, error) {
	if cfg.MediaDir == "" {
		return nil, fmt.Errorf("media directory is required")
	}
	runner := cfg.Runner
	if runner == nil {
		runner = runCommand
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.NewNop()
	}

	handler := func(ctx context.Context, in downloadYouTubeInput) (Result, error) {
		url := ExtractYouTubeURL(in.Request)
		if url == "" {
			return Result{Text: "Error: no YouTube link found in the request."}, nil
		}

		args := []string{
			"--no-progress",
			"--print", "after_move:filepath",
			"-o", filepath.Join(cfg.MediaDir, "%(title)s.%(ext)s"),
		}
		if in.AudioOnly {
			args = append(args, "-x", "--audio-format", "mp3")
		} else {
			format, ok := qualityFormats[strings.ToLower(in.Quality)]
			if !ok {
				format = qualityFormats["best"]
			}
			args = append(args, "-f", format)
		}
		args = append(args, url)

		out, err := runner(ctx, "yt-dlp", args...)
		if err != nil {
			return Result{}, fmt.Errorf("downloading video: %w", err)
		}

		// yt-dlp prints the final path as the last non-empty line.
		var path string
		for _, line := range strings.Split(strings.TrimSpace(string(out)), "\n") {
			if line = strings.TrimSpace(line); line != "" {
				path = line
			}
		}
		if path == "" {
			return Result{}, fmt.Errorf("downloader reported no output file")
		}

		logger.Info("downloaded youtube video", "url", url, "path", path)
		return Result{
			Text: fmt.Sprintf("Downloaded %s", filepath.Base(path)),
			File: &FileSend{Path: path, Caption: filepath.Base(path)},
		}, nil
	}

	return New("download_youtube_video",
		"Download a YouTube video (or its audio as mp3) and send the file to the user.",
		handler)
}
