package tools

import (
	"context"
	"fmt"
	"strings"
	"time"

	readability "github.com/go-shiori/go-readability"

	"github.com/gemgate/gemgate/internal/log"
)

const (
	fetchTimeout    = 30 * time.Second
	maxArticleRunes = 20_000
)

type fetchWebpageInput struct {
	URL string `json:"url" jsonschema:"The page URL to read."`
}

// PageReader extracts the readable content of a page. The default uses
// readability extraction; tests substitute a fake.
type PageReader func(url string, timeout time.Duration) (title, text string, err error)

func readPage(url string, timeout time.Duration) (string, string, error) {
	article, err := readability.FromURL(url, timeout)
	if err != nil {
		return "", "", err
	}
	return article.Title, article.TextContent, nil
}

// NewFetchWebpage builds the fetch_webpage tool: readable-content
// extraction of a single page for the model to quote from.
func NewFetchWebpage(reader PageReader, logger log.Logger) (Tool, error) {
	if reader == nil {
		reader = readPage
	}
	if logger == nil {
		logger = log.NewNop()
	}

	handler := func(ctx context.Context, in fetchWebpageInput) (Result, error) {
		url := strings.TrimSpace(in.URL)
		if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
			return Result{Text: "Error: the URL must start with http:// or https://."}, nil
		}

		title, text, err := reader(url, fetchTimeout)
		if err != nil {
			return Result{}, fmt.Errorf("reading page: %w", err)
		}
		text = strings.TrimSpace(text)
		if text == "" {
			return Result{Text: "The page had no readable content."}, nil
		}
		if runes := []rune(text); len(runes) > maxArticleRunes {
			text = string(runes[:maxArticleRunes]) + "…"
		}

		logger.Info("fetched webpage", "url", url, "title", title)
		if title != "" {
			return Result{Text: title + "\n\n" + text}, nil
		}
		return Result{Text: text}, nil
	}

	return New("fetch_webpage",
		"Read the main content of a web page by URL.",
		handler)
}
