package tools

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"google.golang.org/genai"

	"github.com/gemgate/gemgate/internal/log"
)

type echoInput struct {
	Message string `json:"message" jsonschema:"Text to echo back."`
	Times   int    `json:"times,omitempty" jsonschema:"Repeat count."`
}

func newEchoTool(t *testing.T) Tool {
	t.Helper()
	tool, err := New("echo", "Echo a message.",
		func(ctx context.Context, in echoInput) (Result, error) {
			times := in.Times
			if times <= 0 {
				times = 1
			}
			return Result{Text: strings.Repeat(in.Message, times)}, nil
		})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return tool
}

func TestTool_Declaration(t *testing.T) {
	tool := newEchoTool(t)
	decl := tool.Declaration()

	if decl.Name != "echo" {
		t.Errorf("Name = %q", decl.Name)
	}
	if decl.Parameters == nil || decl.Parameters.Type != genai.TypeObject {
		t.Fatalf("Parameters = %+v", decl.Parameters)
	}
	msg, ok := decl.Parameters.Properties["message"]
	if !ok || msg.Type != genai.TypeString {
		t.Errorf("message property = %+v", msg)
	}
	if times, ok := decl.Parameters.Properties["times"]; !ok || times.Type != genai.TypeInteger {
		t.Errorf("times property = %+v", times)
	}
	found := false
	for _, r := range decl.Parameters.Required {
		if r == "message" {
			found = true
		}
	}
	if !found {
		t.Errorf("message not required: %v", decl.Parameters.Required)
	}
}

func TestTool_InvokeValidatesArgs(t *testing.T) {
	tool := newEchoTool(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		args    map[string]any
		wantErr bool
		want    string
	}{
		{"valid", map[string]any{"message": "hi"}, false, "hi"},
		{"valid with count", map[string]any{"message": "a", "times": float64(3)}, false, "aaa"},
		{"missing required", map[string]any{"times": float64(2)}, true, ""},
		{"wrong type", map[string]any{"message": float64(5)}, true, ""},
		{"nil args", nil, true, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := tool.Invoke(ctx, tt.args)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidArgs) {
					t.Fatalf("Invoke = %v, want ErrInvalidArgs", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Invoke: %v", err)
			}
			if res.Text != tt.want {
				t.Errorf("Text = %q, want %q", res.Text, tt.want)
			}
		})
	}
}

func TestRegistry_InvokeUnknownTool(t *testing.T) {
	reg := NewRegistry(log.NewNop())
	res := reg.Invoke(context.Background(), "nope", nil)
	if !strings.Contains(res.Text, "unknown tool") {
		t.Errorf("Text = %q", res.Text)
	}
	if res.File != nil {
		t.Error("unknown tool produced a file")
	}
}

func TestRegistry_InvokeFoldsErrors(t *testing.T) {
	failing, err := New("boom", "Always fails.",
		func(ctx context.Context, in struct{}) (Result, error) {
			return Result{}, errors.New("exploded")
		})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	reg := NewRegistry(log.NewNop())
	if err := reg.Register(failing); err != nil {
		t.Fatalf("Register: %v", err)
	}

	res := reg.Invoke(context.Background(), "boom", map[string]any{})
	if !strings.Contains(res.Text, "boom failed") {
		t.Errorf("Text = %q", res.Text)
	}
}

func TestRegistry_RejectsDuplicates(t *testing.T) {
	reg := NewRegistry(log.NewNop())
	if err := reg.Register(newEchoTool(t)); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := reg.Register(newEchoTool(t)); err == nil {
		t.Error("duplicate registration accepted")
	}
}

func TestRegistry_DeclarationsInOrder(t *testing.T) {
	reg := NewRegistry(log.NewNop())
	a, _ := New("alpha", "", func(ctx context.Context, in struct{}) (Result, error) { return Result{}, nil })
	b, _ := New("beta", "", func(ctx context.Context, in struct{}) (Result, error) { return Result{}, nil })
	if err := reg.Register(a, b); err != nil {
		t.Fatalf("Register: %v", err)
	}
	decls := reg.Declarations()
	if len(decls) != 2 || decls[0].Name != "alpha" || decls[1].Name != "beta" {
		t.Errorf("Declarations = %v", decls)
	}
}

func TestExtractYouTubeURL(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
	}{
		{"watch link", "see https://www.youtube.com/watch?v=dQw4w9WgXcQ ok", "https://www.youtube.com/watch?v=dQw4w9WgXcQ"},
		{"short link", "https://youtu.be/dQw4w9WgXcQ", "https://youtu.be/dQw4w9WgXcQ"},
		{"shorts", "https://youtube.com/shorts/abc123XYZ_-", "https://youtube.com/shorts/abc123XYZ_-"},
		{"mobile", "https://m.youtube.com/watch?v=abc", "https://m.youtube.com/watch?v=abc"},
		{"embedded in text", "download this: https://www.youtube.com/watch?v=x1&t=10s please", "https://www.youtube.com/watch?v=x1&t=10s"},
		{"no link", "download this cat video", ""},
		{"other site", "https://vimeo.com/12345", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExtractYouTubeURL(tt.text); got != tt.want {
				t.Errorf("ExtractYouTubeURL(%q) = %q, want %q", tt.text, got, tt.want)
			}
		})
	}
}

// fakeCaller scripts one-shot model calls.
type fakeCaller struct {
	mu       sync.Mutex
	apiKeys  []string
	models   []string
	contents []*genai.Content
	cfgs     []*genai.GenerateContentConfig
	ratios   []string
	text     string
	images   [][]byte
	videos   [][]byte
	err      error
}

func (f *fakeCaller) record(apiKey, model string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.apiKeys = append(f.apiKeys, apiKey)
	f.models = append(f.models, model)
}

func (f *fakeCaller) Generate(ctx context.Context, apiKey, model string, contents []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	f.record(apiKey, model)
	f.mu.Lock()
	f.contents = contents
	f.cfgs = append(f.cfgs, cfg)
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{
				Role:  genai.RoleModel,
				Parts: []*genai.Part{{Text: f.text}},
			},
		}},
	}, nil
}

func (f *fakeCaller) GenerateImages(ctx context.Context, apiKey, model, prompt, aspectRatio string) ([][]byte, error) {
	f.record(apiKey, model)
	f.mu.Lock()
	f.ratios = append(f.ratios, aspectRatio)
	f.mu.Unlock()
	return f.images, f.err
}

func (f *fakeCaller) GenerateVideos(ctx context.Context, apiKey, model, prompt, aspectRatio string) ([][]byte, error) {
	f.record(apiKey, model)
	f.mu.Lock()
	f.ratios = append(f.ratios, aspectRatio)
	f.mu.Unlock()
	return f.videos, f.err
}

type fakeCreds struct {
	keys   []string
	cursor int
}

func (f *fakeCreds) Next() string {
	k := f.keys[f.cursor%len(f.keys)]
	f.cursor++
	return k
}
func (f *fakeCreds) Reserved() string { return f.keys[len(f.keys)-1] }
func (f *fakeCreds) Len() int         { return len(f.keys) }

func TestSearchSpecialist_RequiresReservedKey(t *testing.T) {
	caller := &fakeCaller{}
	creds := &fakeCreds{keys: []string{"only"}}
	if _, err := NewSearchSpecialist(caller, creds, func() string { return "m" }, log.NewNop()); !errors.Is(err, ErrNoReservedCredential) {
		t.Errorf("NewSearchSpecialist = %v, want ErrNoReservedCredential", err)
	}
}

func TestSearchSpecialist_UsesReservedKey(t *testing.T) {
	caller := &fakeCaller{text: "grounded answer"}
	creds := &fakeCreds{keys: []string{"k1", "k2", "reserved"}}
	tool, err := NewSearchSpecialist(caller, creds, func() string { return "gemini-2.5-pro" }, log.NewNop())
	if err != nil {
		t.Fatalf("NewSearchSpecialist: %v", err)
	}

	res, err := tool.Invoke(context.Background(), map[string]any{"query": "latest go release"})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if res.Text != "grounded answer" {
		t.Errorf("Text = %q", res.Text)
	}
	if len(caller.apiKeys) != 1 || caller.apiKeys[0] != "reserved" {
		t.Errorf("apiKeys = %v, want the reserved key", caller.apiKeys)
	}
	cfg := caller.cfgs[0]
	if cfg == nil || len(cfg.Tools) != 2 || cfg.Tools[0].GoogleSearch == nil {
		t.Errorf("grounding config = %+v", cfg)
	}
	if cfg.Temperature == nil || *cfg.Temperature != 0 {
		t.Errorf("temperature = %v, want 0", cfg.Temperature)
	}
}

func TestViewYouTube(t *testing.T) {
	caller := &fakeCaller{text: "a video about trains"}
	creds := &fakeCreds{keys: []string{"k1"}}
	tool, err := NewViewYouTube(caller, creds, func() string { return "gemini-2.5-pro" }, log.NewNop())
	if err != nil {
		t.Fatalf("NewViewYouTube: %v", err)
	}

	res, err := tool.Invoke(context.Background(), map[string]any{
		"url":      "check https://youtu.be/abc123 out",
		"question": "what is it about?",
	})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if res.Text != "a video about trains" {
		t.Errorf("Text = %q", res.Text)
	}
	parts := caller.contents[0].Parts
	if parts[0].FileData == nil || parts[0].FileData.FileURI != "https://youtu.be/abc123" {
		t.Errorf("file part = %+v", parts[0])
	}
	if parts[1].Text != "what is it about?" {
		t.Errorf("question part = %+v", parts[1])
	}
}

func TestViewYouTube_NoLink(t *testing.T) {
	tool, err := NewViewYouTube(&fakeCaller{}, &fakeCreds{keys: []string{"k"}}, func() string { return "m" }, log.NewNop())
	if err != nil {
		t.Fatalf("NewViewYouTube: %v", err)
	}
	res, err := tool.Invoke(context.Background(), map[string]any{"url": "watch my cat video"})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if !strings.Contains(res.Text, "no YouTube link") {
		t.Errorf("Text = %q", res.Text)
	}
}

func TestDownloadYouTube(t *testing.T) {
	var gotArgs []string
	runner := func(ctx context.Context, name string, args ...string) ([]byte, error) {
		if name != "yt-dlp" {
			t.Errorf("command = %q", name)
		}
		gotArgs = args
		return []byte("/media/Cool Video.mp4\n"), nil
	}
	tool, err := NewDownloadYouTube(DownloadConfig{MediaDir: "/media", Runner: runner, Logger: log.NewNop()})
	if err != nil {
		t.Fatalf("NewDownloadYouTube: %v", err)
	}

	res, err := tool.Invoke(context.Background(), map[string]any{
		"request": "grab https://youtu.be/abc in 720p",
		"quality": "720p",
	})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if res.File == nil || res.File.Path != "/media/Cool Video.mp4" {
		t.Fatalf("File = %+v", res.File)
	}
	joined := strings.Join(gotArgs, " ")
	if !strings.Contains(joined, "height<=720") {
		t.Errorf("args missing quality selector: %v", gotArgs)
	}
	if !strings.Contains(joined, "https://youtu.be/abc") {
		t.Errorf("args missing url: %v", gotArgs)
	}
}

func TestDownloadYouTube_AudioOnly(t *testing.T) {
	var gotArgs []string
	runner := func(ctx context.Context, name string, args ...string) ([]byte, error) {
		gotArgs = args
		return []byte("/media/song.mp3\n"), nil
	}
	tool, err := NewDownloadYouTube(DownloadConfig{MediaDir: "/media", Runner: runner, Logger: log.NewNop()})
	if err != nil {
		t.Fatalf("NewDownloadYouTube: %v", err)
	}

	res, err := tool.Invoke(context.Background(), map[string]any{
		"request":    "https://youtu.be/abc",
		"audio_only": true,
	})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if res.File == nil || res.File.Path != "/media/song.mp3" {
		t.Fatalf("File = %+v", res.File)
	}
	joined := strings.Join(gotArgs, " ")
	if !strings.Contains(joined, "-x") || !strings.Contains(joined, "mp3") {
		t.Errorf("args missing audio extraction: %v", gotArgs)
	}
	if strings.Contains(joined, "-f ") {
		t.Errorf("audio-only download passed a video format: %v", gotArgs)
	}
}

func TestGeneratePhoto(t *testing.T) {
	dir := t.TempDir()
	caller := &fakeCaller{images: [][]byte{{0x89, 'P', 'N', 'G'}}}
	tool, err := NewGeneratePhoto(MediaConfig{
		Caller:     caller,
		Creds:      &fakeCreds{keys: []string{"k1"}},
		ImageModel: func() string { return "imagen-4.0-generate-preview-06-06" },
		VideoModel: func() string { return "veo" },
		MediaDir:   dir,
		Logger:     log.NewNop(),
	})
	if err != nil {
		t.Fatalf("NewGeneratePhoto: %v", err)
	}

	res, err := tool.Invoke(context.Background(), map[string]any{"prompt": "a red fox"})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if res.File == nil {
		t.Fatal("no file returned")
	}
	if filepath.Ext(res.File.Path) != ".png" {
		t.Errorf("Path = %q", res.File.Path)
	}
	if res.File.Caption != "a red fox" {
		t.Errorf("Caption = %q", res.File.Caption)
	}
	data, err := os.ReadFile(res.File.Path)
	if err != nil {
		t.Fatalf("reading artifact: %v", err)
	}
	if string(data) != string(caller.images[0]) {
		t.Error("artifact bytes differ from generated image")
	}
	// No aspect_ratio argument: the default applies.
	if len(caller.ratios) != 1 || caller.ratios[0] != "1:1" {
		t.Errorf("ratios = %v, want [1:1]", caller.ratios)
	}
}

func TestGeneratePhoto_AspectRatio(t *testing.T) {
	caller := &fakeCaller{images: [][]byte{{1}}}
	tool, err := NewGeneratePhoto(MediaConfig{
		Caller:     caller,
		Creds:      &fakeCreds{keys: []string{"k1"}},
		ImageModel: func() string { return "imagen" },
		VideoModel: func() string { return "veo" },
		MediaDir:   t.TempDir(),
		Logger:     log.NewNop(),
	})
	if err != nil {
		t.Fatalf("NewGeneratePhoto: %v", err)
	}

	if _, err := tool.Invoke(context.Background(), map[string]any{
		"prompt":       "a wide valley",
		"aspect_ratio": "16:9",
	}); err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if len(caller.ratios) != 1 || caller.ratios[0] != "16:9" {
		t.Errorf("ratios = %v, want [16:9]", caller.ratios)
	}
}

func TestGenerateVideo_AspectRatio(t *testing.T) {
	caller := &fakeCaller{videos: [][]byte{{1}}}
	tool, err := NewGenerateVideo(MediaConfig{
		Caller:       caller,
		Creds:        &fakeCreds{keys: []string{"k1"}},
		ImageModel:   func() string { return "i" },
		VideoModel:   func() string { return "veo" },
		MediaDir:     t.TempDir(),
		VideoEnabled: true,
		Logger:       log.NewNop(),
	})
	if err != nil {
		t.Fatalf("NewGenerateVideo: %v", err)
	}

	// Default first, then an explicit portrait ratio.
	if _, err := tool.Invoke(context.Background(), map[string]any{"prompt": "a storm"}); err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if _, err := tool.Invoke(context.Background(), map[string]any{
		"prompt":       "a storm",
		"aspect_ratio": "9:16",
	}); err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if len(caller.ratios) != 2 || caller.ratios[0] != "16:9" || caller.ratios[1] != "9:16" {
		t.Errorf("ratios = %v, want [16:9 9:16]", caller.ratios)
	}
}

func TestGenerateVideo_Disabled(t *testing.T) {
	caller := &fakeCaller{videos: [][]byte{{1}}}
	tool, err := NewGenerateVideo(MediaConfig{
		Caller:       caller,
		Creds:        &fakeCreds{keys: []string{"k1"}},
		ImageModel:   func() string { return "i" },
		VideoModel:   func() string { return "veo-3.0-generate-preview" },
		MediaDir:     t.TempDir(),
		VideoEnabled: false,
		Logger:       log.NewNop(),
	})
	if err != nil {
		t.Fatalf("NewGenerateVideo: %v", err)
	}

	res, err := tool.Invoke(context.Background(), map[string]any{"prompt": "a storm"})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if !strings.Contains(res.Text, "disabled") {
		t.Errorf("Text = %q", res.Text)
	}
	if len(caller.apiKeys) != 0 {
		t.Error("disabled tool still called the backend")
	}
}

func TestFetchWebpage(t *testing.T) {
	reader := func(url string, timeout time.Duration) (string, string, error) {
		return "Title", strings.Repeat("x", maxArticleRunes+100), nil
	}
	tool, err := NewFetchWebpage(reader, log.NewNop())
	if err != nil {
		t.Fatalf("NewFetchWebpage: %v", err)
	}

	res, err := tool.Invoke(context.Background(), map[string]any{"url": "https://example.com/post"})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if !strings.HasPrefix(res.Text, "Title\n\n") {
		t.Errorf("Text prefix = %q", res.Text[:20])
	}
	if !strings.HasSuffix(res.Text, "…") {
		t.Error("long article not truncated")
	}

	res, err = tool.Invoke(context.Background(), map[string]any{"url": "ftp://example.com"})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if !strings.Contains(res.Text, "http") {
		t.Errorf("Text = %q", res.Text)
	}
}

type fakeTranscripts struct {
	tails map[string]string
	errs  map[string]error
}

func (f *fakeTranscripts) Tail(ctx context.Context, key string, limit int) (string, error) {
	if err := f.errs[key]; err != nil {
		return "", err
	}
	return f.tails[key], nil
}

func TestChatHistory(t *testing.T) {
	transcripts := &fakeTranscripts{
		tails: map[string]string{
			"groups/100": "[12:00] ann: hello",
			"groups/200": "[12:01] bob: hi",
		},
		errs: map[string]error{"groups/300": errors.New("disk gone")},
	}
	sources := map[string]string{
		"General": "groups/100",
		"Random":  "groups/200",
		"Broken":  "groups/300",
	}
	tool, err := NewChatHistory(sources, transcripts, log.NewNop())
	if err != nil {
		t.Fatalf("NewChatHistory: %v", err)
	}
	ctx := context.Background()

	// Named group, case-insensitive.
	res, err := tool.Invoke(ctx, map[string]any{"groups": []any{"general"}})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if !strings.Contains(res.Text, "ann: hello") || strings.Contains(res.Text, "bob") {
		t.Errorf("Text = %q", res.Text)
	}

	// No groups reads all; broken source degrades partially.
	res, err = tool.Invoke(ctx, nil)
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	for _, want := range []string{"ann: hello", "bob: hi", "transcript unavailable"} {
		if !strings.Contains(res.Text, want) {
			t.Errorf("Text missing %q:\n%s", want, res.Text)
		}
	}

	// Unknown group names the monitored ones.
	res, err = tool.Invoke(ctx, map[string]any{"groups": []any{"nope"}})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if !strings.Contains(res.Text, "unknown group") {
		t.Errorf("Text = %q", res.Text)
	}
}

func TestChatHistory_AdvertisedCountLimit(t *testing.T) {
	tool, err := NewChatHistory(map[string]string{"General": "groups/100"}, &fakeTranscripts{}, log.NewNop())
	if err != nil {
		t.Fatalf("NewChatHistory: %v", err)
	}

	desc := tool.Declaration().Parameters.Properties["count"].Description
	if !strings.Contains(desc, fmt.Sprintf("max %d", maxHistoryCount)) {
		t.Errorf("count description %q does not state the enforced cap %d", desc, maxHistoryCount)
	}
}

func TestBuiltinRegistry(t *testing.T) {
	deps := Deps{
		Caller:      &fakeCaller{},
		Creds:       &fakeCreds{keys: []string{"k1", "k2"}},
		Transcripts: &fakeTranscripts{},
		Sources:     map[string]string{"General": "groups/100"},
		ChatModel:   func() string { return "gemini-2.5-pro" },
		ImageModel:  func() string { return "imagen" },
		VideoModel:  func() string { return "veo" },
		MediaDir:    t.TempDir(),
		Logger:      log.NewNop(),
	}
	reg, err := NewBuiltinRegistry(deps)
	if err != nil {
		t.Fatalf("NewBuiltinRegistry: %v", err)
	}
	names := reg.Names()
	want := []string{
		"get_chat_history", "view_youtube_video", "download_youtube_video",
		"generate_photo", "generate_video", "fetch_webpage", "run_search_specialist",
	}
	if len(names) != len(want) {
		t.Fatalf("Names = %v", names)
	}
	for i, n := range want {
		if names[i] != n {
			t.Errorf("Names[%d] = %q, want %q", i, names[i], n)
		}
	}

	// Single credential drops only the search specialist.
	deps.Creds = &fakeCreds{keys: []string{"only"}}
	reg, err = NewBuiltinRegistry(deps)
	if err != nil {
		t.Fatalf("NewBuiltinRegistry: %v", err)
	}
	if len(reg.Names()) != len(want)-1 {
		t.Errorf("Names = %v", reg.Names())
	}
}
