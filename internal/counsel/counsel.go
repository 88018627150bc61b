// Package counsel answers questions about uploaded meeting transcripts. It
// uploads transcripts into the remote knowledge base, streams answers from the
// counseling agent and manages the per-meeting chat history.
package counsel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/kalambet/minutes/internal/agno"
	"github.com/kalambet/minutes/internal/ingest"
	"github.com/kalambet/minutes/internal/storage"
)

var (
	ErrEmptyMeetingID    = errors.New("meeting_id must not be empty")
	ErrEmptyMessage      = errors.New("message must not be empty")
	ErrEmptyConversation = errors.New("conversation must not be empty")
	// ErrStreamConsumed is yielded when an answer sequence is iterated twice.
	ErrStreamConsumed = errors.New("counsel stream already consumed")
)

const filterDirective = "\n\nSearch knowledge with filters: meeting_id="

// FilterSuffix is appended to every question so the agent restricts
// knowledge retrieval to the given meeting.
func FilterSuffix(meetingID string) string {
	return filterDirective + meetingID
}

// Backend is the subset of the agent API the counsel flow needs.
// *agno.Client satisfies it.
type Backend interface {
	StreamAgent(ctx context.Context, agentID string, req agno.RunRequest) (io.ReadCloser, error)
	UploadContent(ctx context.Context, dbID string, content agno.Content) (string, error)
	ContentStatus(ctx context.Context, contentID string) (string, error)
	GetSession(ctx context.Context, sessionID string) (agno.Session, error)
	DeleteSession(ctx context.Context, sessionID string) error
}

// Ledger records knowledge uploads locally. *storage.Store satisfies it.
type Ledger interface {
	SaveUpload(ctx context.Context, u storage.Upload) error
	UpdateUploadStatus(ctx context.Context, contentID, status string) error
}

// Options configures a Service.
type Options struct {
	AgentID      string
	KnowledgeDB  string
	PollInterval time.Duration
	// Ledger is optional.
	Ledger Ledger
}

// Service runs the counsel flow against a Backend.
type Service struct {
	backend      Backend
	agentID      string
	knowledgeDB  string
	pollInterval time.Duration
	ledger       Ledger
	logger       *slog.Logger
}

// New creates a Service.
func New(backend Backend, opts Options) *Service {
	return &Service{
		backend:      backend,
		agentID:      opts.AgentID,
		knowledgeDB:  opts.KnowledgeDB,
		pollInterval: opts.PollInterval,
		ledger:       opts.Ledger,
		logger:       slog.Default(),
	}
}

// Ask validates the question and returns the answer as a lazy sequence. The
// upstream request is issued when iteration starts; a failure to open or read
// the stream is yielded as the final element. The sequence can be iterated
// only once, and stopping early closes the upstream stream.
func (s *Service) Ask(ctx context.Context, meetingID, message string) (iter.Seq2[Record, error], error) {
	if strings.TrimSpace(meetingID) == "" {
		return nil, ErrEmptyMeetingID
	}
	if strings.TrimSpace(message) == "" {
		return nil, ErrEmptyMessage
	}

	req := agno.RunRequest{
		Message:   message + FilterSuffix(meetingID),
		SessionID: meetingID,
	}
	var used atomic.Bool
	return func(yield func(Record, error) bool) {
		if used.Swap(true) {
			yield(Record{}, ErrStreamConsumed)
			return
		}

		body, err := s.backend.StreamAgent(ctx, s.agentID, req)
		if err != nil {
			yield(Record{}, err)
			return
		}
		defer body.Close()

		for rec, err := range ParseStream(body, s.logger) {
			if err != nil {
				yield(Record{}, fmt.Errorf("reading counsel stream: %w", err))
				return
			}
			if !yield(rec, nil) {
				return
			}
		}
	}, nil
}

// Upload submits conversation to the knowledge base tagged with meetingID and
// waits until the backend has processed it or timeout elapses. The content id
// is returned whenever the upload itself was accepted, even if processing
// later failed or timed out.
func (s *Service) Upload(ctx context.Context, meetingID, conversation string, timeout time.Duration) (string, error) {
	if strings.TrimSpace(meetingID) == "" {
		return "", ErrEmptyMeetingID
	}
	if strings.TrimSpace(conversation) == "" {
		return "", ErrEmptyConversation
	}

	name := "meeting_transcripts_" + meetingID
	contentID, err := s.backend.UploadContent(ctx, s.knowledgeDB, agno.Content{
		Name:     name,
		Metadata: map[string]string{"meeting_id": meetingID},
		Text:     conversation,
	})
	if err != nil {
		return "", err
	}
	s.logger.Info("transcript uploaded", "meeting_id", meetingID, "content_id", contentID)
	s.record(ctx, storage.Upload{ContentID: contentID, MeetingID: meetingID, Name: name, Status: "processing"})

	poller := ingest.NewPoller(s.backend, s.pollInterval)
	poller.OnStatus = func(id, status string) {
		if status != "" {
			s.updateStatus(ctx, id, status)
		}
	}
	if err := poller.Wait(ctx, contentID, timeout); err != nil {
		if errors.Is(err, ingest.ErrTimeout) {
			s.updateStatus(ctx, contentID, "timeout")
		}
		return contentID, err
	}
	return contentID, nil
}

// HistoryEntry is one user or assistant turn.
type HistoryEntry struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// History returns the meeting's chat history restricted to non-empty user and
// assistant turns, with the retrieval directive removed from user turns.
func (s *Service) History(ctx context.Context, meetingID string) ([]HistoryEntry, error) {
	if strings.TrimSpace(meetingID) == "" {
		return nil, ErrEmptyMeetingID
	}
	session, err := s.backend.GetSession(ctx, meetingID)
	if err != nil {
		return nil, err
	}
	return filterHistory(session.ChatHistory, meetingID), nil
}

func filterHistory(msgs []agno.Message, meetingID string) []HistoryEntry {
	suffix := FilterSuffix(meetingID)
	out := make([]HistoryEntry, 0, len(msgs))
	for _, m := range msgs {
		if m.Content == "" {
			continue
		}
		switch m.Role {
		case "user":
			out = append(out, HistoryEntry{Role: "user", Content: strings.ReplaceAll(m.Content, suffix, "")})
		case "assistant":
			out = append(out, HistoryEntry{Role: "assistant", Content: m.Content})
		}
	}
	return out
}

// ClearHistory deletes the meeting's session on the backend.
func (s *Service) ClearHistory(ctx context.Context, meetingID string) error {
	if strings.TrimSpace(meetingID) == "" {
		return ErrEmptyMeetingID
	}
	if err := s.backend.DeleteSession(ctx, meetingID); err != nil {
		return err
	}
	s.logger.Info("counsel history cleared", "meeting_id", meetingID)
	return nil
}

func (s *Service) record(ctx context.Context, u storage.Upload) {
	if s.ledger == nil {
		return
	}
	if err := s.ledger.SaveUpload(context.WithoutCancel(ctx), u); err != nil {
		s.logger.Warn("recording upload failed", "content_id", u.ContentID, "error", err)
	}
}

func (s *Service) updateStatus(ctx context.Context, contentID, status string) {
	if s.ledger == nil {
		return
	}
	if err := s.ledger.UpdateUploadStatus(context.WithoutCancel(ctx), contentID, status); err != nil {
		s.logger.Warn("updating upload status failed", "content_id", contentID, "status", status, "error", err)
	}
}
