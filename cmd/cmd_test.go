package cmd

import (
	"bytes"
	"strings"
	"testing"

	"github.com/gemgate/gemgate/internal/app"
	"github.com/gemgate/gemgate/internal/backend"
	"github.com/gemgate/gemgate/internal/config"
	"github.com/gemgate/gemgate/internal/history"
	"github.com/gemgate/gemgate/internal/instruction"
	"github.com/gemgate/gemgate/internal/log"
	"github.com/gemgate/gemgate/internal/models"
	"github.com/gemgate/gemgate/internal/profile"
	"github.com/gemgate/gemgate/internal/testutil"
)

// testApp wires just enough of the application to run management
// commands; the backend is never dialed.
func testApp(t *testing.T) *app.App {
	t.Helper()
	logger := log.NewNop()
	records := testutil.ScratchStore(t)

	histories, err := history.New(records, logger, history.Options{})
	if err != nil {
		t.Fatalf("history.New: %v", err)
	}
	instructions, err := instruction.New(records, logger, config.DefaultInstruction)
	if err != nil {
		t.Fatalf("instruction.New: %v", err)
	}
	profiles, err := profile.NewManager(profile.Config{
		Records:   records,
		Histories: histories,
		Logger:    logger,
		ChatModel: func() string { return "gemini-2.5-pro" },
	})
	if err != nil {
		t.Fatalf("profile.NewManager: %v", err)
	}
	rotator, err := backend.NewRotator([]string{"k1", "k2"})
	if err != nil {
		t.Fatalf("backend.NewRotator: %v", err)
	}
	sessions, err := backend.NewRegistry(backend.Config{
		Rotator:      rotator,
		Histories:    histories,
		Instructions: instructions,
		Logger:       logger,
		ChatModel:    func() string { return "gemini-2.5-pro" },
	})
	if err != nil {
		t.Fatalf("backend.NewRegistry: %v", err)
	}

	return &app.App{
		Config: &config.Config{
			AdminIDs:       []int64{1},
			Temperature:    1.0,
			StorageBackend: config.StorageFile,
		},
		Logger:       logger,
		Records:      records,
		Histories:    histories,
		Instructions: instructions,
		Models:       models.NewSelector("gemini-2.5-pro", "imagen-4.0", "veo-3.0"),
		Profiles:     profiles,
		Rotator:      rotator,
		Sessions:     sessions,
	}
}

// run executes the root command tree with args and returns its output.
func run(t *testing.T, a *app.App, args ...string) string {
	t.Helper()
	root := NewRootCmd(a)
	root.AddCommand(NewSlotsCmd(a), NewInstructionCmd(a), NewModelsCmd(a), NewVersionCmd(a))

	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	if err := root.Execute(); err != nil {
		t.Fatalf("Execute(%v): %v\n%s", args, err, out.String())
	}
	return out.String()
}

func TestNewRootCmd(t *testing.T) {
	root := NewRootCmd(&app.App{})

	if root.Use != "gemgate" {
		t.Errorf("Use = %q, want gemgate", root.Use)
	}
	if root.Short == "" || root.Long == "" {
		t.Error("expected non-empty descriptions")
	}
	for _, flag := range []string{"user", "username", "name"} {
		if root.PersistentFlags().Lookup(flag) == nil {
			t.Errorf("missing persistent flag %q", flag)
		}
	}
}

func TestIdentityFromFlags_Defaults(t *testing.T) {
	root := NewRootCmd(&app.App{})
	if err := root.ParseFlags(nil); err != nil {
		t.Fatalf("ParseFlags: %v", err)
	}
	id := identityFromFlags(root)
	if id.UserID != 1 || id.Username != "operator" || id.DisplayName != "Operator" {
		t.Errorf("identity = %+v", id)
	}
}

func TestSlotsCommands(t *testing.T) {
	a := testApp(t)

	out := run(t, a, "slots", "list")
	if !strings.Contains(out, profile.DefaultSlotName) {
		t.Errorf("list output missing default slot:\n%s", out)
	}

	run(t, a, "slots", "new", "work")
	out = run(t, a, "slots", "list")
	if !strings.Contains(out, "work") {
		t.Errorf("list output missing created slot:\n%s", out)
	}
}

func TestInstructionShowAndSet(t *testing.T) {
	a := testApp(t)

	out := run(t, a, "instruction", "show")
	if !strings.Contains(out, "builtin instruction") {
		t.Errorf("show = %q, want builtin source", out)
	}

	run(t, a, "instruction", "set", "answer", "in", "haiku")
	out = run(t, a, "instruction", "show")
	if !strings.Contains(out, "user instruction") || !strings.Contains(out, "answer in haiku") {
		t.Errorf("show after set = %q", out)
	}
}

func TestInstructionSetGlobal_AdminGate(t *testing.T) {
	a := testApp(t)

	root := NewRootCmd(a)
	root.AddCommand(NewInstructionCmd(a))
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs([]string{"--user", "7", "instruction", "set-global", "text"})
	if err := root.Execute(); err == nil {
		t.Error("expected non-admin set-global to fail")
	}

	// Admin id from the test config.
	run(t, a, "--user", "1", "instruction", "set-global", "be terse")
	show := run(t, a, "--user", "7", "instruction", "show")
	if !strings.Contains(show, "global instruction") || !strings.Contains(show, "be terse") {
		t.Errorf("show = %q, want global override", show)
	}
}

func TestModelsCommands(t *testing.T) {
	a := testApp(t)

	out := run(t, a, "models", "show")
	for _, want := range []string{"gemini-2.5-pro", "imagen-4.0", "veo-3.0"} {
		if !strings.Contains(out, want) {
			t.Errorf("show output missing %q:\n%s", want, out)
		}
	}
}

func TestVersionCmd(t *testing.T) {
	a := testApp(t)

	out := run(t, a, "version")
	for _, want := range []string{"Gemgate", "gemini-2.5-pro", "API keys: 2 configured"} {
		if !strings.Contains(out, want) {
			t.Errorf("version output missing %q:\n%s", want, out)
		}
	}
	// Key values never appear, only the count.
	for _, key := range []string{"k1", "k2"} {
		if strings.Contains(out, key) {
			t.Errorf("version output leaks credential %q:\n%s", key, out)
		}
	}
}
