package api

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/minutes/internal/counsel"
)

const recentTasksLimit = 20

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Summarizer Summarizer
	Tasks      TaskRunner
	Counsel    Counselor

	// UploadTimeout is used when upload_transcript carries no timeout.
	UploadTimeout time.Duration
}

// NewMCPServer creates an MCP server exposing summarization, task tracking
// and meeting counsel as tools.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	if deps.UploadTimeout <= 0 {
		deps.UploadTimeout = defaultUploadTimeout
	}

	s := server.NewMCPServer(
		"minutes",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("minutes: meeting minutes generation and Q&A over uploaded meeting transcripts."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("summarize_meeting",
			mcp.WithDescription("Generate meeting minutes from a transcript and return them as Markdown. Blocks until the minutes are ready."),
			mcp.WithString("conversation", mcp.Description("Raw meeting transcript"), mcp.Required()),
		),
		mcpSummarizeMeeting(deps),
	)

	s.AddTool(
		mcp.NewTool("submit_summary",
			mcp.WithDescription("Queue a transcript for background minutes generation. Returns a task id to poll with get_task."),
			mcp.WithString("conversation", mcp.Description("Raw meeting transcript"), mcp.Required()),
		),
		mcpSubmitSummary(deps),
	)

	s.AddTool(
		mcp.NewTool("get_task",
			mcp.WithDescription("Return the current status of a summary task, including the minutes once completed."),
			mcp.WithString("task_id", mcp.Description("Task id returned by submit_summary"), mcp.Required()),
		),
		mcpGetTask(deps),
	)

	s.AddTool(
		mcp.NewTool("upload_transcript",
			mcp.WithDescription("Upload a meeting transcript into the knowledge base so questions can be asked about it."),
			mcp.WithString("meeting_id", mcp.Description("Meeting identifier"), mcp.Required()),
			mcp.WithString("conversation", mcp.Description("Raw meeting transcript"), mcp.Required()),
			mcp.WithNumber("timeout", mcp.Description("Seconds to wait for processing (default from config)")),
		),
		mcpUploadTranscript(deps),
	)

	s.AddTool(
		mcp.NewTool("ask_counsel",
			mcp.WithDescription("Ask a question about an uploaded meeting. The answer is grounded in that meeting's transcript."),
			mcp.WithString("meeting_id", mcp.Description("Meeting identifier"), mcp.Required()),
			mcp.WithString("message", mcp.Description("Question to ask"), mcp.Required()),
			mcp.WithBoolean("include_reasoning", mcp.Description("Prepend the model's reasoning to the answer")),
		),
		mcpAskCounsel(deps),
	)

	s.AddTool(
		mcp.NewTool("get_history",
			mcp.WithDescription("Return the question and answer history of a meeting as JSON."),
			mcp.WithString("meeting_id", mcp.Description("Meeting identifier"), mcp.Required()),
		),
		mcpGetHistory(deps),
	)

	s.AddTool(
		mcp.NewTool("clear_history",
			mcp.WithDescription("Delete the question and answer history of a meeting."),
			mcp.WithString("meeting_id", mcp.Description("Meeting identifier"), mcp.Required()),
		),
		mcpClearHistory(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"tasks://recent",
			"Recent Summary Tasks",
			mcp.WithResourceDescription(fmt.Sprintf("Last %d summary tasks (status only)", recentTasksLimit)),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceRecentTasks(deps),
	)

	return s
}

func mcpSummarizeMeeting(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		conversation, err := req.RequireString("conversation")
		if err != nil || strings.TrimSpace(conversation) == "" {
			return mcpError("conversation is required"), nil
		}
		res := deps.Summarizer.Summarize(ctx, conversation)
		if !res.Success {
			return mcpError(fmt.Sprintf("summarization failed: %s", res.Content)), nil
		}
		return mcpText(res.Content), nil
	}
}

func mcpSubmitSummary(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		conversation, err := req.RequireString("conversation")
		if err != nil {
			return mcpError("conversation is required"), nil
		}
		t, err := deps.Tasks.Submit(conversation)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to submit: %v", err)), nil
		}
		return mcpJSON(taskCreated{
			TaskID:    t.ID,
			Status:    t.Status,
			Message:   t.Message,
			CreatedAt: t.CreatedAt,
		})
	}
}

func mcpGetTask(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("task_id")
		if err != nil {
			return mcpError("task_id is required"), nil
		}
		t, err := deps.Tasks.Get(id)
		if err != nil {
			return mcpError(fmt.Sprintf("task %s: %v", id, err)), nil
		}
		return mcpJSON(t)
	}
}

func mcpUploadTranscript(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		meetingID, err := req.RequireString("meeting_id")
		if err != nil {
			return mcpError("meeting_id is required"), nil
		}
		conversation, err := req.RequireString("conversation")
		if err != nil {
			return mcpError("conversation is required"), nil
		}

		timeout := deps.UploadTimeout
		if secs := req.GetInt("timeout", 0); secs > 0 {
			timeout = time.Duration(secs) * time.Second
		}

		contentID, err := deps.Counsel.Upload(ctx, meetingID, conversation, timeout)
		if err != nil {
			return mcpError(fmt.Sprintf("upload failed: %v", err)), nil
		}
		return mcpText(fmt.Sprintf("Transcript for meeting %s processed (content %s)", meetingID, contentID)), nil
	}
}

func mcpAskCounsel(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		meetingID, err := req.RequireString("meeting_id")
		if err != nil {
			return mcpError("meeting_id is required"), nil
		}
		message, err := req.RequireString("message")
		if err != nil {
			return mcpError("message is required"), nil
		}
		withReasoning := req.GetBool("include_reasoning", false)

		seq, err := deps.Counsel.Ask(ctx, meetingID, message)
		if err != nil {
			return mcpError(err.Error()), nil
		}

		var answer, reasoning strings.Builder
		for rec, err := range seq {
			if err != nil {
				return mcpError(fmt.Sprintf("counsel failed: %v", err)), nil
			}
			switch rec.Status {
			case counsel.StatusThinking:
				reasoning.WriteString(rec.ReasoningContent)
			case counsel.StatusEnd:
				answer.WriteString(rec.Content)
			}
		}

		if withReasoning && reasoning.Len() > 0 {
			return mcpText("Reasoning:\n" + reasoning.String() + "\n\nAnswer:\n" + answer.String()), nil
		}
		return mcpText(answer.String()), nil
	}
}

func mcpGetHistory(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		meetingID, err := req.RequireString("meeting_id")
		if err != nil {
			return mcpError("meeting_id is required"), nil
		}
		history, err := deps.Counsel.History(ctx, meetingID)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to get history: %v", err)), nil
		}
		return mcpJSON(history)
	}
}

func mcpClearHistory(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		meetingID, err := req.RequireString("meeting_id")
		if err != nil {
			return mcpError("meeting_id is required"), nil
		}
		if err := deps.Counsel.ClearHistory(ctx, meetingID); err != nil {
			return mcpError(fmt.Sprintf("failed to clear history: %v", err)), nil
		}
		return mcpText(fmt.Sprintf("Cleared history of meeting %s", meetingID)), nil
	}
}

func mcpResourceRecentTasks(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		tasks := deps.Tasks.List()
		if len(tasks) > recentTasksLimit {
			tasks = tasks[len(tasks)-recentTasksLimit:]
		}

		b, err := json.Marshal(tasks)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal tasks: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpJSON(v any) (*mcp.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcpText(string(b)), nil
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
