package app

import (
	"context"
	"fmt"
	"strconv"

	"github.com/gemgate/gemgate/internal/chat"
	"github.com/gemgate/gemgate/internal/history"
	"github.com/gemgate/gemgate/internal/models"
	"github.com/gemgate/gemgate/internal/profile"
)

// GroupKey returns the shared conversation key for a monitored group.
func GroupKey(groupID int64) string {
	return "groups/" + strconv.FormatInt(groupID, 10)
}

// TranscriptKey returns the rolling-transcript key for a monitored
// group. Kept distinct from GroupKey so the transcript record never
// collides with the group's turn history.
func TranscriptKey(groupID int64) string {
	return GroupKey(groupID) + "/transcript"
}

// Process routes one inbound user message through the orchestrator on
// the author's active slot.
func (a *App) Process(ctx context.Context, id chat.Identity, parts []history.Part, notify chat.Notify) (chat.Outcome, error) {
	key, err := a.Profiles.ActiveKey(ctx, id.UserID, id.Username, id.DisplayName)
	if err != nil {
		return chat.Outcome{}, fmt.Errorf("resolving active slot: %w", err)
	}
	return a.Orchestrator.Process(ctx, key, parts, id, notify), nil
}

// ProcessGroup handles one turn of a shared group conversation. The
// message is also recorded on the group's rolling transcript so the
// chat-history tool can quote it later.
func (a *App) ProcessGroup(ctx context.Context, groupID int64, id chat.Identity, text string, notify chat.Notify) chat.Outcome {
	sender := id.DisplayName
	if sender == "" {
		sender = id.Username
	}
	if err := a.Transcripts.Record(ctx, TranscriptKey(groupID), sender, text); err != nil {
		a.Logger.Warn("recording group transcript failed", "group", groupID, "error", err)
	}
	return a.Orchestrator.Process(ctx, GroupKey(groupID),
		[]history.Part{history.TextPart(sender + ": " + text)}, id, notify)
}

// ObserveGroup records a group message the gateway was not addressed
// by, transcript only.
func (a *App) ObserveGroup(ctx context.Context, groupID int64, sender, text string) {
	if err := a.Transcripts.Record(ctx, TranscriptKey(groupID), sender, text); err != nil {
		a.Logger.Warn("recording group transcript failed", "group", groupID, "error", err)
	}
}

// ClearConversation wipes a conversation's durable history and drops
// its live session.
func (a *App) ClearConversation(ctx context.Context, key string) error {
	if err := a.Histories.Clear(ctx, key); err != nil {
		return err
	}
	a.Sessions.Invalidate(key)
	return nil
}

// SetUserInstruction stores a per-user instruction override and drops
// the user's live session so the next turn picks it up.
func (a *App) SetUserInstruction(ctx context.Context, id chat.Identity, text, title string) error {
	if err := a.Instructions.SetUser(ctx, id.UserID, text, title); err != nil {
		return err
	}
	a.invalidateUserSession(ctx, id)
	return nil
}

// ResetUserInstruction removes a per-user instruction override.
func (a *App) ResetUserInstruction(ctx context.Context, id chat.Identity) error {
	if err := a.Instructions.DeleteUser(ctx, id.UserID); err != nil {
		return err
	}
	a.invalidateUserSession(ctx, id)
	return nil
}

// SetGlobalInstruction stores the global instruction override and drops
// every live session.
func (a *App) SetGlobalInstruction(ctx context.Context, text, title string) error {
	if err := a.Instructions.SetGlobal(ctx, text, title); err != nil {
		return err
	}
	a.Sessions.InvalidateAll()
	return nil
}

// SetModel switches the current model for a capability and drops every
// live session so new ones bind to it.
func (a *App) SetModel(kind models.Kind, name string) error {
	if err := a.Models.Set(kind, name); err != nil {
		return err
	}
	a.Sessions.InvalidateAll()
	a.Logger.Info("model switched", "kind", string(kind), "model", name)
	return nil
}

// SwitchSlot changes the user's active slot and reports its canonical
// name. The previous slot's live session stays cached for switching
// back.
func (a *App) SwitchSlot(ctx context.Context, id chat.Identity, name string) (string, error) {
	return a.Profiles.SwitchSlot(ctx, id.UserID, id.Username, id.DisplayName, name)
}

// DeleteSlot removes a slot, its history, and its live session.
func (a *App) DeleteSlot(ctx context.Context, id chat.Identity, name string) (profile.DeleteResult, error) {
	res, err := a.Profiles.DeleteSlot(ctx, id.UserID, id.Username, id.DisplayName, name)
	if err != nil {
		return res, err
	}
	a.Sessions.InvalidateAll()
	return res, nil
}

func (a *App) invalidateUserSession(ctx context.Context, id chat.Identity) {
	key, err := a.Profiles.ActiveKey(ctx, id.UserID, id.Username, id.DisplayName)
	if err != nil {
		a.Logger.Warn("resolving active slot for invalidation failed",
			"user_id", id.UserID, "error", err)
		a.Sessions.InvalidateAll()
		return
	}
	a.Sessions.Invalidate(key)
}
