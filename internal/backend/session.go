// Package backend owns the connection to the Gemini API: credential
// rotation, per-conversation chat sessions, transcript replay, and the
// classification of transient failures.
//
// A Session wraps one live multi-turn chat bound to a single credential.
// When that credential degrades, Rebind carries the accumulated chat
// state over to a fresh client on the next key so the conversation
// continues without losing context.
package backend

import (
	"context"
	"fmt"
	"sync"

	"google.golang.org/genai"

	"github.com/gemgate/gemgate/internal/history"
)

// Usage is the token accounting for one model response.
type Usage struct {
	PromptTokens int64
	OutputTokens int64
}

// Reply is one model response, decoded to transport-neutral parts. Text
// and tool-call parts preserve the order the model produced them in.
type Reply struct {
	Parts        []history.Part
	Usage        Usage
	FinishReason genai.FinishReason
}

// Text concatenates the reply's text parts.
func (r *Reply) Text() string {
	var out string
	for _, p := range r.Parts {
		out += p.Text
	}
	return out
}

// Calls returns the tool invocations the model requested, in order.
func (r *Reply) Calls() []*history.Call {
	var calls []*history.Call
	for _, p := range r.Parts {
		if p.Call != nil {
			calls = append(calls, p.Call)
		}
	}
	return calls
}

// conn is the live chat surface of the SDK, seam for tests.
type conn interface {
	SendMessage(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error)
	History(curated bool) []*genai.Content
}

// DialFunc opens a chat session on the given credential, seeded with the
// replayed transcript. The production dialer creates a genai client and
// chat; tests substitute a scripted one.
type DialFunc func(ctx context.Context, apiKey, model string, cfg *genai.GenerateContentConfig, seed []*genai.Content) (conn, error)

// Dial is the production DialFunc.
func Dial(ctx context.Context, apiKey, model string, cfg *genai.GenerateContentConfig, seed []*genai.Content) (conn, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("creating genai client: %w", err)
	}
	chat, err := client.Chats.Create(ctx, model, cfg, seed)
	if err != nil {
		return nil, fmt.Errorf("creating chat session: %w", err)
	}
	return chat, nil
}

// Session is one conversation's live chat, bound to a credential. It is
// safe for concurrent use; sends on one session are serialized.
type Session struct {
	mu     sync.Mutex
	chat   conn
	apiKey string
	model  string
	cfg    *genai.GenerateContentConfig
	dial   DialFunc
}

// Send delivers parts to the model and decodes the response.
func (s *Session) Send(ctx context.Context, parts []history.Part) (*Reply, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	gparts := ToGenAI(parts)
	if len(gparts) == 0 {
		return nil, fmt.Errorf("nothing to send")
	}
	resp, err := s.chat.SendMessage(ctx, gparts...)
	if err != nil {
		return nil, fmt.Errorf("sending message: %w", err)
	}
	return decodeResponse(resp)
}

// Rebind moves the session onto a new credential, carrying the curated
// chat state over so the conversation resumes where it left off.
func (s *Session) Rebind(ctx context.Context, apiKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	seed := s.chat.History(true)
	chat, err := s.dial(ctx, apiKey, s.model, s.cfg, seed)
	if err != nil {
		return fmt.Errorf("rebinding session: %w", err)
	}
	s.chat = chat
	s.apiKey = apiKey
	return nil
}

// Credential returns the API key the session is currently bound to.
func (s *Session) Credential() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.apiKey
}

func decodeResponse(resp *genai.GenerateContentResponse) (*Reply, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return nil, fmt.Errorf("empty response from model")
	}
	cand := resp.Candidates[0]
	reply := &Reply{FinishReason: cand.FinishReason}

	if cand.Content != nil {
		for _, p := range cand.Content.Parts {
			if part, ok := fromGenAIPart(p); ok {
				reply.Parts = append(reply.Parts, part)
			}
		}
	}
	if u := resp.UsageMetadata; u != nil {
		reply.Usage = Usage{
			PromptTokens: int64(u.PromptTokenCount),
			OutputTokens: int64(u.CandidatesTokenCount),
		}
	}
	return reply, nil
}

// ToGenAI converts transport-neutral parts to SDK parts, skipping empty
// ones.
func ToGenAI(parts []history.Part) []genai.Part {
	out := make([]genai.Part, 0, len(parts))
	for _, p := range parts {
		switch {
		case p.Inline != nil:
			out = append(out, genai.Part{InlineData: &genai.Blob{
				MIMEType: p.Inline.MIMEType,
				Data:     p.Inline.Data,
			}})
		case p.Call != nil:
			out = append(out, genai.Part{FunctionCall: &genai.FunctionCall{
				Name: p.Call.Name,
				Args: p.Call.Args,
			}})
		case p.Result != nil:
			out = append(out, genai.Part{FunctionResponse: &genai.FunctionResponse{
				Name:     p.Result.Name,
				Response: p.Result.Response,
			}})
		case p.Text != "":
			out = append(out, genai.Part{Text: p.Text})
		}
	}
	return out
}

func fromGenAIPart(p *genai.Part) (history.Part, bool) {
	if p == nil {
		return history.Part{}, false
	}
	switch {
	case p.FunctionCall != nil:
		return history.CallPart(p.FunctionCall.Name, p.FunctionCall.Args), true
	case p.InlineData != nil:
		return history.InlinePart(p.InlineData.MIMEType, p.InlineData.Data), true
	case p.Text != "":
		return history.TextPart(p.Text), true
	}
	return history.Part{}, false
}

// Seed converts replayed transcript turns to SDK contents for seeding a
// new chat session.
func Seed(turns []history.Turn) []*genai.Content {
	out := make([]*genai.Content, 0, len(turns))
	for _, t := range turns {
		role := genai.RoleUser
		if t.Role == history.RoleModel {
			role = genai.RoleModel
		}
		gparts := ToGenAI(t.Parts)
		if len(gparts) == 0 {
			continue
		}
		content := &genai.Content{Role: role}
		for i := range gparts {
			content.Parts = append(content.Parts, &gparts[i])
		}
		out = append(out, content)
	}
	return out
}
