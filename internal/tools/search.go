package tools

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/genai"

	"github.com/gemgate/gemgate/internal/log"
)

// ErrNoReservedCredential indicates the credential pool is too small to
// set one key aside for grounded search.
var ErrNoReservedCredential = errors.New("search specialist needs at least two credentials")

type searchInput struct {
	Query string `json:"query" jsonschema:"The question to research on the live web."`
}

// NewSearchSpecialist builds the run_search_specialist tool: a one-shot
// grounded call with live web search and URL reading enabled, always
// issued on the pool's designated search credential.
func NewSearchSpecialist(caller Caller, creds Credentials, model func() string, logger log.Logger) (Tool, error) {
	if caller == nil || creds == nil || model == nil {
		return nil, fmt.Errorf("caller, credentials and model source are required")
	}
	if creds.Len() < 2 {
		return nil, ErrNoReservedCredential
	}
	if logger == nil {
		logger = log.NewNop()
	}

	cfg := &genai.GenerateContentConfig{
		Temperature: genai.Ptr[float32](0),
		Tools: []*genai.Tool{
			{GoogleSearch: &genai.GoogleSearch{}},
			{URLContext: &genai.URLContext{}},
		},
	}

	handler := func(ctx context.Context, in searchInput) (Result, error) {
		contents := []*genai.Content{{
			Role:  genai.RoleUser,
			Parts: []*genai.Part{{Text: in.Query}},
		}}
		resp, err := caller.Generate(ctx, creds.Reserved(), model(), contents, cfg)
		if err != nil {
			return Result{}, fmt.Errorf("running search: %w", err)
		}
		text := replyText(resp)
		if text == "" {
			return Result{Text: "The search returned no results."}, nil
		}
		logger.Info("search specialist answered", "query", in.Query)
		return Result{Text: text}, nil
	}

	return New("run_search_specialist",
		"Research a question on the live web with search grounding and URL reading.",
		handler)
}
