package history

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gemgate/gemgate/internal/log"
	"github.com/gemgate/gemgate/internal/storage"
)

// DefaultMaxTranscriptLen caps a monitored source's rolling transcript,
// in bytes. Oldest lines are dropped first.
const DefaultMaxTranscriptLen = 15_000

// TranscriptLog keeps a rolling plain-text transcript per monitored
// source, one timestamped line per message. It backs chat recall for
// group conversations the gateway observes but does not participate in.
type TranscriptLog struct {
	records storage.Store
	logger  log.Logger
	maxLen  int
	now     func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewTranscriptLog creates a transcript log. maxLen <= 0 selects
// DefaultMaxTranscriptLen.
func NewTranscriptLog(records storage.Store, logger log.Logger, maxLen int) (*TranscriptLog, error) {
	if records == nil {
		return nil, fmt.Errorf("record storage is required")
	}
	if logger == nil {
		logger = log.NewNop()
	}
	if maxLen <= 0 {
		maxLen = DefaultMaxTranscriptLen
	}
	return &TranscriptLog{
		records: records,
		logger:  logger,
		maxLen:  maxLen,
		now:     time.Now,
		locks:   make(map[string]*sync.Mutex),
	}, nil
}

func (t *TranscriptLog) sourceLock(key string) *sync.Mutex {
	t.mu.Lock()
	defer t.mu.Unlock()
	l, ok := t.locks[key]
	if !ok {
		l = &sync.Mutex{}
		t.locks[key] = l
	}
	return l
}

// Record appends one message line to the source's transcript, evicting
// the oldest lines once the cap is exceeded.
func (t *TranscriptLog) Record(ctx context.Context, key, sender, text string) error {
	text = strings.ReplaceAll(strings.TrimSpace(text), "\n", " ")
	if text == "" {
		return nil
	}

	lock := t.sourceLock(key)
	lock.Lock()
	defer lock.Unlock()

	existing, err := t.records.Load(ctx, key)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		t.logger.Warn("unreadable transcript, restarting",
			"key", key, "error", err)
		existing = nil
	}

	line := fmt.Sprintf("[%s] %s: %s\n", t.now().Format("15:04"), sender, text)
	buf := string(existing) + line
	for len(buf) > t.maxLen {
		nl := strings.IndexByte(buf, '\n')
		if nl < 0 {
			buf = buf[len(buf)-t.maxLen:]
			break
		}
		buf = buf[nl+1:]
	}

	if err := t.records.Save(ctx, key, []byte(buf)); err != nil {
		return fmt.Errorf("persisting transcript %s: %w", key, err)
	}
	return nil
}

// Tail returns up to limit most recent lines of the source's transcript,
// oldest first. limit <= 0 returns the whole transcript.
func (t *TranscriptLog) Tail(ctx context.Context, key string, limit int) (string, error) {
	data, err := t.records.Load(ctx, key)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return "", nil
		}
		return "", fmt.Errorf("loading transcript %s: %w", key, err)
	}

	text := strings.TrimRight(string(data), "\n")
	if text == "" || limit <= 0 {
		return text, nil
	}
	lines := strings.Split(text, "\n")
	if len(lines) > limit {
		lines = lines[len(lines)-limit:]
	}
	return strings.Join(lines, "\n"), nil
}
