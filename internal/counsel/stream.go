package counsel

import (
	"bufio"
	"encoding/json"
	"errors"
	"io"
	"iter"
	"log/slog"
	"strings"
)

// Record statuses.
const (
	StatusThinking = "thinking"
	StatusEnd      = "end"
)

// Record is one normalized unit of a counsel answer. Thinking records carry
// only reasoning; end records carry only answer text.
type Record struct {
	Content          string `json:"content"`
	ReasoningContent string `json:"reason_content"`
	Status           string `json:"status"`
}

const dataPrefix = "data:"

// Normalized upstream event names.
const (
	eventRunContent        = "runcontent"
	eventToolCallCompleted = "toolcallcompleted"
)

type streamEvent struct {
	Event            string `json:"event"`
	Content          string `json:"content"`
	ReasoningContent string `json:"reasoning_content"`
}

// normalizeEvent folds case and drops separators so "run-content",
// "run_content" and "RunContent" compare equal.
func normalizeEvent(name string) string {
	return strings.Map(func(r rune) rune {
		if r == '-' || r == '_' {
			return -1
		}
		return r
	}, strings.ToLower(name))
}

// ParseStream reads an agent event stream and yields records in stream order.
// Blank lines, non-data lines, malformed payloads and unrecognized events are
// skipped. A read error ends the sequence with that error; io.EOF ends it
// cleanly. Stopping iteration early stops reading.
func ParseStream(r io.Reader, logger *slog.Logger) iter.Seq2[Record, error] {
	if logger == nil {
		logger = slog.Default()
	}
	return func(yield func(Record, error) bool) {
		reader := bufio.NewReader(r)
		for {
			line, err := reader.ReadString('\n')
			if rec, ok := parseLine(line, logger); ok {
				if !yield(rec, nil) {
					return
				}
			}
			if err != nil {
				if !errors.Is(err, io.EOF) {
					yield(Record{}, err)
				}
				return
			}
		}
	}
}

func parseLine(line string, logger *slog.Logger) (Record, bool) {
	line = strings.TrimRight(line, "\r\n")
	if line == "" || !strings.HasPrefix(line, dataPrefix) {
		return Record{}, false
	}
	payload := strings.TrimPrefix(strings.TrimPrefix(line, dataPrefix), " ")

	var ev streamEvent
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		logger.Debug("skipping malformed counsel event", "error", err)
		return Record{}, false
	}

	switch normalizeEvent(ev.Event) {
	case eventToolCallCompleted:
		logger.Info("counsel tool call completed", "content", ev.Content)
	case eventRunContent:
		if ev.ReasoningContent != "" {
			return Record{ReasoningContent: ev.ReasoningContent, Status: StatusThinking}, true
		}
		if ev.Content != "" {
			return Record{Content: ev.Content, Status: StatusEnd}, true
		}
	}
	return Record{}, false
}
