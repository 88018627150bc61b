// Package summary turns meeting transcripts into minutes, either through a
// remote summarization agent or directly against an OpenAI-compatible chat
// completion endpoint.
package summary

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"
)

// ErrEmptyConversation is returned when the transcript is blank.
var ErrEmptyConversation = errors.New("conversation must not be empty")

// Minutes is the generated output. Reasoning is only filled by backends that
// expose the model's reasoning trace.
type Minutes struct {
	Content   string
	Reasoning string
}

// Generator produces minutes for a non-empty conversation.
type Generator interface {
	Generate(ctx context.Context, conversation string) (Minutes, error)
}

// Result is the non-throwing outcome of a synchronous summarization. On
// failure Content carries the error text.
type Result struct {
	Success bool   `json:"success"`
	Content string `json:"content"`
}

// Service validates input and delegates to a Generator.
type Service struct {
	gen    Generator
	logger *slog.Logger
}

// NewService creates a Service backed by gen.
func NewService(gen Generator) *Service {
	return &Service{gen: gen, logger: slog.Default()}
}

// Minutes generates minutes including any reasoning trace.
func (s *Service) Minutes(ctx context.Context, conversation string) (Minutes, error) {
	if strings.TrimSpace(conversation) == "" {
		return Minutes{}, ErrEmptyConversation
	}
	start := time.Now()
	m, err := s.gen.Generate(ctx, conversation)
	if err != nil {
		s.logger.Warn("summary generation failed", "error", err, "duration_ms", time.Since(start).Milliseconds())
		return Minutes{}, err
	}
	s.logger.Debug("summary generated", "duration_ms", time.Since(start).Milliseconds(), "chars", len(m.Content))
	return m, nil
}

// Generate returns the minutes text only. It is the contract used by the
// background task runner.
func (s *Service) Generate(ctx context.Context, conversation string) (string, error) {
	m, err := s.Minutes(ctx, conversation)
	if err != nil {
		return "", err
	}
	return m.Content, nil
}

// Summarize never fails: errors are folded into an unsuccessful Result.
func (s *Service) Summarize(ctx context.Context, conversation string) Result {
	content, err := s.Generate(ctx, conversation)
	if err != nil {
		return Result{Success: false, Content: err.Error()}
	}
	return Result{Success: true, Content: content}
}
