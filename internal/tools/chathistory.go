package tools

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/gemgate/gemgate/internal/log"
)

// Transcripts supplies the rolling transcript of a monitored source.
type Transcripts interface {
	Tail(ctx context.Context, key string, limit int) (string, error)
}

const (
	defaultHistoryCount = 50
	maxHistoryCount     = 15000
)

type chatHistoryInput struct {
	Groups []string `json:"groups,omitempty" jsonschema:"Names of the chat groups to read. Omit to read every monitored group."`
	Count  int      `json:"count,omitempty" jsonschema:"Number of recent messages per group (default 50, max 15000)."`
}

// NewChatHistory builds the get_chat_history tool over the monitored
// sources, a map of display name to transcript key.
func NewChatHistory(sources map[string]string, transcripts Transcripts, logger log.Logger) (Tool, error) {
	if transcripts == nil {
		return nil, fmt.Errorf("transcript source is required")
	}
	if logger == nil {
		logger = log.NewNop()
	}

	names := make([]string, 0, len(sources))
	for name := range sources {
		names = append(names, name)
	}
	sort.Strings(names)

	handler := func(ctx context.Context, in chatHistoryInput) (Result, error) {
		count := in.Count
		if count <= 0 {
			count = defaultHistoryCount
		}
		if count > maxHistoryCount {
			count = maxHistoryCount
		}

		wanted := in.Groups
		if len(wanted) == 0 {
			wanted = names
		}

		var b strings.Builder
		for _, name := range wanted {
			key, ok := lookupSource(sources, name)
			if !ok {
				fmt.Fprintf(&b, "=== %s ===\n(unknown group; monitored groups: %s)\n\n",
					name, strings.Join(names, ", "))
				continue
			}
			transcript, err := transcripts.Tail(ctx, key, count)
			if err != nil {
				logger.Warn("transcript read failed", "group", name, "error", err)
				fmt.Fprintf(&b, "=== %s ===\n(transcript unavailable)\n\n", name)
				continue
			}
			if transcript == "" {
				transcript = "(no messages recorded)"
			}
			fmt.Fprintf(&b, "=== %s ===\n%s\n\n", name, transcript)
		}
		return Result{Text: strings.TrimRight(b.String(), "\n")}, nil
	}

	return New("get_chat_history",
		"Read the recent message transcript of one or more monitored chat groups.",
		handler)
}

func lookupSource(sources map[string]string, name string) (string, bool) {
	if key, ok := sources[name]; ok {
		return key, true
	}
	for n, key := range sources {
		if strings.EqualFold(n, name) {
			return key, true
		}
	}
	return "", false
}
