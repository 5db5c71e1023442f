package ai

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/charmbracelet/log"

	"chat-sync/internal/logging"
	"chat-sync/internal/model"
)

const (
	MaxFollowups   = 5
	maxTitleLength = 80
)

// Fallback wraps a Generator so callers never see an error: a failed title
// becomes model.DefaultTitle and failed suggestions become an empty list.
type Fallback struct {
	next Generator
	log  *log.Logger
}

func WithFallback(next Generator, logger *log.Logger) *Fallback {
	return &Fallback{next: next, log: logging.OrDiscard(logger)}
}

func (f *Fallback) GenerateTitle(ctx context.Context, transcript []model.Message) (string, error) {
	if f.next == nil {
		return model.DefaultTitle, nil
	}
	raw, err := f.next.GenerateTitle(ctx, transcript)
	if err != nil {
		f.log.Warn("title generation failed", "err", err)
		return model.DefaultTitle, nil
	}
	title := CleanTitle(raw)
	if title == "" {
		return model.DefaultTitle, nil
	}
	return title, nil
}

func (f *Fallback) SuggestFollowups(ctx context.Context, transcript []model.Message) ([]string, error) {
	if f.next == nil {
		return []string{}, nil
	}
	raw, err := f.next.SuggestFollowups(ctx, transcript)
	if err != nil {
		f.log.Warn("followup generation failed", "err", err)
		return []string{}, nil
	}
	return CleanFollowups(raw), nil
}

// CleanTitle keeps the first line, strips list markers and wrapping quotes,
// and bounds the length.
func CleanTitle(raw string) string {
	title := strings.TrimSpace(raw)
	if i := strings.IndexByte(title, '\n'); i >= 0 {
		title = title[:i]
	}
	title = strings.TrimPrefix(title, "Title:")
	title = strings.Trim(strings.TrimSpace(title), "\"'`*#")
	title = strings.TrimSpace(strings.TrimRight(title, "."))
	if utf8.RuneCountInString(title) > maxTitleLength {
		title = string([]rune(title)[:maxTitleLength])
	}
	return title
}

// CleanFollowups drops blanks and list markers and keeps at most
// MaxFollowups entries.
func CleanFollowups(raw []string) []string {
	out := make([]string, 0, MaxFollowups)
	for _, s := range raw {
		s = strings.TrimSpace(s)
		s = strings.TrimLeft(s, "-*•0123456789.) ")
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		out = append(out, s)
		if len(out) == MaxFollowups {
			break
		}
	}
	return out
}
