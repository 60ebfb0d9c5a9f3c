// Package chat implements the conversation orchestrator: one inbound
// turn in, exactly one outbound outcome out.
//
// Each inbound turn runs a bounded loop of model rounds. A round submits
// to the live session, records token usage, and either finishes with the
// model's text or dispatches the first tool call the model requested and
// feeds the result back in. Tool results that carry a file short-circuit
// the loop: the file goes straight to the user and the model is not
// consulted again.
package chat

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
	"google.golang.org/genai"

	"github.com/gemgate/gemgate/internal/backend"
	"github.com/gemgate/gemgate/internal/history"
	"github.com/gemgate/gemgate/internal/log"
	"github.com/gemgate/gemgate/internal/tools"
)

// DefaultMaxRounds bounds the tool-calling loop per inbound turn.
const DefaultMaxRounds = 5

// Identity names the author of an inbound turn.
type Identity struct {
	UserID      int64
	Username    string
	DisplayName string
}

// Outcome is the single outbound result of one inbound turn.
type Outcome struct {
	Text string
	File *tools.FileSend
}

// Notify delivers a best-effort progress note to the user while a slow
// tool runs. Failures are the transport's concern.
type Notify func(text string)

// Session is the live chat surface the orchestrator submits to.
type Session interface {
	Send(ctx context.Context, parts []history.Part) (*backend.Reply, error)
}

// Sessions supplies live sessions per conversation key.
type Sessions interface {
	GetOrCreate(ctx context.Context, key string, userID int64) (Session, error)
	Rotate(ctx context.Context, key string) error
}

// Histories records conversation turns durably.
type Histories interface {
	Append(ctx context.Context, key string, role history.Role, parts []history.Part) error
}

// Usage accumulates token usage on the author's active slot.
type Usage interface {
	UpdateUsage(ctx context.Context, userID int64, username, displayName string, promptTokens, outputTokens int64) error
}

// Invoker dispatches model-requested tool calls.
type Invoker interface {
	Invoke(ctx context.Context, name string, args map[string]any) tools.Result
}

// Config collects Orchestrator dependencies.
type Config struct {
	Sessions  Sessions
	Histories Histories
	Tools     Invoker
	Logger    log.Logger

	// Usage is optional; nil disables usage accounting (group mode).
	Usage Usage

	// Limiter paces submits across all conversations. Nil disables
	// pacing.
	Limiter *rate.Limiter

	// MaxRounds bounds the tool loop. Zero selects DefaultMaxRounds.
	MaxRounds int
}

// Orchestrator drives the per-turn conversation state machine. It is
// safe for concurrent use across keys.
type Orchestrator struct {
	sessions  Sessions
	histories Histories
	tools     Invoker
	usage     Usage
	limiter   *rate.Limiter
	maxRounds int
	logger    log.Logger
}

// New creates an orchestrator.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Sessions == nil {
		return nil, fmt.Errorf("session source is required")
	}
	if cfg.Histories == nil {
		return nil, fmt.Errorf("history store is required")
	}
	if cfg.Tools == nil {
		return nil, fmt.Errorf("tool invoker is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.NewNop()
	}
	maxRounds := cfg.MaxRounds
	if maxRounds <= 0 {
		maxRounds = DefaultMaxRounds
	}
	return &Orchestrator{
		sessions:  cfg.Sessions,
		histories: cfg.Histories,
		tools:     cfg.Tools,
		usage:     cfg.Usage,
		limiter:   cfg.Limiter,
		maxRounds: maxRounds,
		logger:    logger,
	}, nil
}

// Process runs one inbound turn to completion and returns its outcome.
// Every path yields exactly one outcome.
func (o *Orchestrator) Process(ctx context.Context, key string, parts []history.Part, id Identity, notify Notify) Outcome {
	if notify == nil {
		notify = func(string) {}
	}

	// Resolve the session before recording the turn: a cold session is
	// seeded from stored history, and the inbound parts must not appear
	// both in the seed and in the submit.
	session, err := o.sessions.GetOrCreate(ctx, key, id.UserID)
	if err != nil {
		o.logger.Error("opening session failed", "key", key, "error", err)
		return Outcome{Text: MsgBackendUnavailable}
	}

	if err := o.histories.Append(ctx, key, history.RoleUser, parts); err != nil {
		o.logger.Warn("recording user turn failed", "key", key, "error", err)
	}

	send := parts
	for round := 0; round < o.maxRounds; round++ {
		if o.limiter != nil {
			if err := o.limiter.Wait(ctx); err != nil {
				return Outcome{Text: MsgCanceled}
			}
		}

		reply, err := session.Send(ctx, send)
		if err != nil {
			if backend.IsTransient(err) {
				o.logger.Warn("transient backend failure, rotating credential",
					"key", key, "round", round, "error", err)
				if rerr := o.sessions.Rotate(ctx, key); rerr != nil {
					o.logger.Error("credential rotation failed", "key", key, "error", rerr)
					return Outcome{Text: MsgBackendBusy}
				}
				continue // resubmit the same parts on the new credential
			}
			o.logger.Error("backend submit failed", "key", key, "error", err)
			return Outcome{Text: MsgFailed}
		}

		o.recordUsage(ctx, id, reply.Usage)

		if len(reply.Parts) == 0 {
			o.logger.Warn("model returned no content",
				"key", key, "finish_reason", reply.FinishReason)
			return Outcome{Text: blockedMessage(reply.FinishReason)}
		}

		if err := o.histories.Append(ctx, key, history.RoleModel, reply.Parts); err != nil {
			o.logger.Warn("recording model turn failed", "key", key, "error", err)
		}

		calls := reply.Calls()
		if len(calls) == 0 {
			return Outcome{Text: reply.Text()}
		}

		// First requested call wins; the rest are dropped.
		call := calls[0]
		if len(calls) > 1 {
			o.logger.Warn("model requested multiple tools, taking the first",
				"key", key, "tool", call.Name, "dropped", len(calls)-1)
		}
		notify(statusFor(call.Name))
		res := o.tools.Invoke(ctx, call.Name, call.Args)

		if res.File != nil {
			// The file goes straight out; the model is done for this
			// turn and no tool result is recorded.
			return Outcome{Text: res.Text, File: res.File}
		}

		resultPart := history.ResultPart(call.Name, map[string]any{"result": res.Text})
		if err := o.histories.Append(ctx, key, history.RoleTool, []history.Part{resultPart}); err != nil {
			o.logger.Warn("recording tool turn failed", "key", key, "error", err)
		}
		send = []history.Part{resultPart}
	}

	o.logger.Warn("round budget exhausted", "key", key, "rounds", o.maxRounds)
	return Outcome{Text: MsgRoundBudget}
}

func (o *Orchestrator) recordUsage(ctx context.Context, id Identity, usage backend.Usage) {
	if o.usage == nil || id.UserID == 0 {
		return
	}
	if usage.PromptTokens == 0 && usage.OutputTokens == 0 {
		return
	}
	err := o.usage.UpdateUsage(ctx, id.UserID, id.Username, id.DisplayName,
		usage.PromptTokens, usage.OutputTokens)
	if err != nil {
		o.logger.Warn("recording usage failed", "user_id", id.UserID, "error", err)
	}
}

func blockedMessage(reason genai.FinishReason) string {
	switch reason {
	case genai.FinishReasonSafety:
		return MsgBlockedSafety
	case genai.FinishReasonRecitation:
		return MsgBlockedRecitation
	default:
		return MsgEmptyResponse
	}
}
