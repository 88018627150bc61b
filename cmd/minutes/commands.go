package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/kalambet/minutes/internal/agno"
	"github.com/kalambet/minutes/internal/config"
	"github.com/kalambet/minutes/internal/counsel"
	"github.com/kalambet/minutes/internal/storage"
	"github.com/kalambet/minutes/internal/summary"
	"github.com/kalambet/minutes/internal/task"
	"github.com/kalambet/minutes/internal/transcript"
)

// --- summarize ---

var summarizeCmd = &cobra.Command{
	Use:   "summarize <file>",
	Short: "Generate meeting minutes for a transcript file",
	Long: `Generate meeting minutes for a transcript file (.txt, .md or .pdf).

The minutes are written next to the transcript as <name>_summary.md.

Examples:
  minutes summarize ./standup.txt
  minutes summarize ./board.pdf --async
  minutes summarize ./retro.md --direct --thinking`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		thinking, _ := cmd.Flags().GetBool("thinking")
		async, _ := cmd.Flags().GetBool("async")
		direct, _ := cmd.Flags().GetBool("direct")
		output, _ := cmd.Flags().GetString("output")
		poll, _ := cmd.Flags().GetDuration("poll")

		if async && direct {
			return fmt.Errorf("--async and --direct are mutually exclusive")
		}

		path := args[0]
		conversation, err := transcript.Read(path)
		if err != nil {
			return err
		}
		if output == "" {
			output = transcript.SummaryPath(path)
		}

		ctx := cmd.Context()
		var minutes summary.Minutes
		switch {
		case direct:
			printStep("Generating minutes in-process")
			minutes, err = summarizeDirect(ctx, conversation)
		case async:
			client, cerr := newAPIClient()
			if cerr != nil {
				return cerr
			}
			minutes.Content, err = client.summarizeAsync(ctx, conversation, poll, func(s task.Status) {
				printStep("Task %s", s)
			})
		default:
			client, cerr := newAPIClient()
			if cerr != nil {
				return cerr
			}
			printStep("Generating minutes")
			minutes.Content, err = client.summarize(ctx, conversation)
		}
		if err != nil {
			return err
		}

		if thinking {
			if minutes.Reasoning == "" {
				printWarning("no reasoning available (reasoning is only returned with --direct)")
			} else {
				fmt.Fprintln(os.Stdout, colorize(colorCyan, minutes.Reasoning))
				fmt.Fprintln(os.Stdout)
			}
		}

		if err := os.WriteFile(output, []byte(minutes.Content), 0o644); err != nil {
			return fmt.Errorf("writing minutes: %w", err)
		}
		printSuccess("Minutes written to %s", output)
		return nil
	},
}

func init() {
	summarizeCmd.Flags().Bool("thinking", false, "print the model's reasoning before writing the minutes")
	summarizeCmd.Flags().Bool("async", false, "submit as a background task and poll until it finishes")
	summarizeCmd.Flags().Bool("direct", false, "summarize in-process using the configured backend instead of the server")
	summarizeCmd.Flags().StringP("output", "o", "", "output file (default <name>_summary.md next to the transcript)")
	summarizeCmd.Flags().Duration("poll", time.Second, "task polling interval for --async")
}

func summarizeDirect(ctx context.Context, conversation string) (summary.Minutes, error) {
	cfg, err := config.Load()
	if err != nil {
		return summary.Minutes{}, err
	}
	client := agno.New(cfg.Agno.BaseURL,
		agno.WithSecurityKey(cfg.Agno.SecurityKey),
		agno.WithRequestTimeout(cfg.RequestTimeout()),
	)
	gen, err := newGenerator(cfg, client)
	if err != nil {
		return summary.Minutes{}, err
	}
	return summary.NewService(gen).Minutes(ctx, conversation)
}

func (c *apiClient) summarize(ctx context.Context, conversation string) (string, error) {
	resp, err := c.postForm(ctx, "/summary", url.Values{"conversation": {conversation}})
	if err != nil {
		return "", err
	}
	var res summary.Result
	if err := decodeOutcome(resp, &res); err != nil {
		return "", err
	}
	if !res.Success {
		return "", fmt.Errorf("summarization failed: %s", res.Content)
	}
	return res.Content, nil
}

// summarizeAsync submits a task and polls it until it reaches a terminal
// status. onStatus sees every status change.
func (c *apiClient) summarizeAsync(ctx context.Context, conversation string, every time.Duration, onStatus func(task.Status)) (string, error) {
	resp, err := c.postForm(ctx, "/api/summary", url.Values{"conversation": {conversation}})
	if err != nil {
		return "", err
	}
	var created struct {
		TaskID string      `json:"task_id"`
		Status task.Status `json:"status"`
	}
	if err := decodeJSON(resp, &created); err != nil {
		return "", err
	}
	if onStatus != nil {
		onStatus(created.Status)
	}

	ticker := time.NewTicker(every)
	defer ticker.Stop()

	last := created.Status
	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
		}

		resp, err := c.get(ctx, "/api/tasks/"+url.PathEscape(created.TaskID))
		if err != nil {
			return "", err
		}
		var t task.Task
		if err := decodeJSON(resp, &t); err != nil {
			return "", err
		}
		if t.Status != last && onStatus != nil {
			onStatus(t.Status)
		}
		last = t.Status

		switch t.Status {
		case task.StatusCompleted:
			if t.Result == nil {
				return "", fmt.Errorf("task %s completed without a result", t.ID)
			}
			return t.Result.Content, nil
		case task.StatusFailed:
			return "", fmt.Errorf("task %s failed: %s", t.ID, t.Error)
		}
	}
}

// --- knowledge ---

var uploadCmd = &cobra.Command{
	Use:   "upload <meeting-id> <file>",
	Short: "Upload a transcript into the knowledge base",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		meetingID, path := args[0], args[1]
		timeout, _ := cmd.Flags().GetInt("timeout")

		conversation, err := transcript.Read(path)
		if err != nil {
			return err
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		printStep("Uploading %s for meeting %s", path, meetingID)
		contentID, err := client.upload(cmd.Context(), meetingID, conversation, timeout)
		if err != nil {
			return err
		}
		printSuccess("Transcript processed (content %s)", contentID)
		return nil
	},
}

var uploadsCmd = &cobra.Command{
	Use:   "uploads <meeting-id>",
	Short: "List recorded knowledge uploads of a meeting",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/knowledge/"+url.PathEscape(args[0]))
		if err != nil {
			return err
		}
		var out struct {
			Uploads []storage.Upload `json:"uploads"`
		}
		if err := decodeJSON(resp, &out); err != nil {
			return err
		}
		if len(out.Uploads) == 0 {
			fmt.Println("No uploads recorded.")
			return nil
		}
		for _, u := range out.Uploads {
			fmt.Printf("%s  %-10s  %s\n", colorize(colorBold, u.ContentID), u.Status, u.UpdatedAt.Format(time.RFC3339))
		}
		return nil
	},
}

func init() {
	uploadCmd.Flags().Int("timeout", 0, "seconds to wait for processing (default knowledge.upload_timeout)")
}

func (c *apiClient) upload(ctx context.Context, meetingID, conversation string, timeout int) (string, error) {
	form := url.Values{
		"meeting_id":   {meetingID},
		"conversation": {conversation},
	}
	if timeout > 0 {
		form.Set("timeout", strconv.Itoa(timeout))
	}
	resp, err := c.postForm(ctx, "/knowledge", form)
	if err != nil {
		return "", err
	}
	var out struct {
		Success   bool   `json:"success"`
		Message   string `json:"message"`
		ContentID string `json:"content_id"`
	}
	if err := decodeOutcome(resp, &out); err != nil {
		return "", err
	}
	if !out.Success {
		return out.ContentID, fmt.Errorf("upload failed: %s", out.Message)
	}
	return out.ContentID, nil
}

// --- counsel ---

var askCmd = &cobra.Command{
	Use:   "ask <meeting-id> <question>",
	Short: "Ask a question about an uploaded meeting",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		thinking, _ := cmd.Flags().GetBool("thinking")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.postForm(cmd.Context(), "/counsel", url.Values{
			"meeting_id": {args[0]},
			"message":    {args[1]},
		})
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(resp.Body)
			return fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
		}
		return renderCounsel(resp.Body, os.Stdout, thinking)
	},
}

func init() {
	askCmd.Flags().Bool("thinking", false, "show the model's reasoning as it streams")
}

// counselEvent is one data line of the /counsel event stream.
type counselEvent struct {
	counsel.Record
	Error string `json:"error,omitempty"`
}

// renderCounsel prints the answer of a counsel event stream as it arrives.
// Reasoning is printed only when showThinking is set. An error event ends
// rendering with that error.
func renderCounsel(r io.Reader, w io.Writer, showThinking bool) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64<<10), 4<<20)

	inThinking := false
	for sc.Scan() {
		payload, ok := strings.CutPrefix(sc.Text(), "data:")
		if !ok {
			continue
		}
		var ev counselEvent
		if err := json.Unmarshal([]byte(strings.TrimSpace(payload)), &ev); err != nil {
			continue
		}

		switch ev.Status {
		case counsel.StatusThinking:
			if showThinking {
				inThinking = true
				fmt.Fprint(w, colorize(colorCyan, ev.ReasoningContent))
			}
		case counsel.StatusEnd:
			if inThinking {
				fmt.Fprint(w, "\n\n")
				inThinking = false
			}
			fmt.Fprint(w, ev.Content)
		case "error":
			fmt.Fprintln(w)
			return errors.New(ev.Error)
		}
	}
	fmt.Fprintln(w)
	return sc.Err()
}

// --- history ---

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show or clear the Q&A history of a meeting",
}

var historyShowCmd = &cobra.Command{
	Use:   "show <meeting-id>",
	Short: "Show the Q&A history of a meeting",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		history, err := client.history(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if len(history) == 0 {
			fmt.Println("No history.")
			return nil
		}
		for _, h := range history {
			fmt.Printf("%s %s\n\n", colorize(colorBold, h.Role+":"), h.Content)
		}
		return nil
	},
}

var historyClearCmd = &cobra.Command{
	Use:   "clear <meeting-id>",
	Short: "Delete the Q&A history of a meeting",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.delete(cmd.Context(), "/history/"+url.PathEscape(args[0]))
		if err != nil {
			return err
		}
		var out struct {
			Success bool   `json:"success"`
			Message string `json:"message"`
		}
		if err := decodeOutcome(resp, &out); err != nil {
			return err
		}
		if !out.Success {
			return fmt.Errorf("clearing history failed: %s", out.Message)
		}
		printSuccess("Cleared history of meeting %s", args[0])
		return nil
	},
}

func init() {
	historyCmd.AddCommand(historyShowCmd)
	historyCmd.AddCommand(historyClearCmd)
}

func (c *apiClient) history(ctx context.Context, meetingID string) ([]counsel.HistoryEntry, error) {
	resp, err := c.get(ctx, "/history/"+url.PathEscape(meetingID))
	if err != nil {
		return nil, err
	}
	var out struct {
		Success bool                   `json:"success"`
		History []counsel.HistoryEntry `json:"history"`
		Message string                 `json:"message"`
	}
	if err := decodeOutcome(resp, &out); err != nil {
		return nil, err
	}
	if !out.Success {
		return nil, fmt.Errorf("fetching history failed: %s", out.Message)
	}
	return out.History, nil
}

// --- tasks ---

var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "Inspect background summary tasks",
}

var tasksListCmd = &cobra.Command{
	Use:   "list",
	Short: "List summary tasks",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/api/tasks")
		if err != nil {
			return err
		}
		var out struct {
			Tasks []task.Summary `json:"tasks"`
			Total int            `json:"total"`
		}
		if err := decodeJSON(resp, &out); err != nil {
			return err
		}

		if out.Total == 0 {
			fmt.Println("No tasks.")
			return nil
		}
		for _, t := range out.Tasks {
			fmt.Printf("%s  %s  %s\n",
				colorize(colorBold, t.ID),
				t.CreatedAt.Format(time.RFC3339),
				colorize(statusColor(t.Status), string(t.Status)),
			)
		}
		return nil
	},
}

var tasksShowCmd = &cobra.Command{
	Use:   "show <task-id>",
	Short: "Show a summary task, including its minutes once completed",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/api/tasks/"+url.PathEscape(args[0]))
		if err != nil {
			return err
		}
		var t task.Task
		if err := decodeJSON(resp, &t); err != nil {
			return err
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(t)
	},
}

func init() {
	tasksCmd.AddCommand(tasksListCmd)
	tasksCmd.AddCommand(tasksShowCmd)
}

func statusColor(s task.Status) string {
	switch s {
	case task.StatusCompleted:
		return colorGreen
	case task.StatusFailed:
		return colorRed
	default:
		return colorYellow
	}
}

// decodeOutcome decodes endpoints that report failures in their JSON body,
// falling back to decodeJSON's error when the body is not JSON.
func decodeOutcome(resp *http.Response, v any) error {
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	if err := json.Unmarshal(body, v); err != nil {
		if resp.StatusCode >= 400 {
			return fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
		}
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		keys := config.ShowAll(cfg)
		for _, k := range keys {
			fmt.Printf("  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

var configSetSecretCmd = &cobra.Command{
	Use:   "set-secret <key> [value]",
	Short: "Store a secret in the platform secret store (reads stdin when value is omitted)",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key := args[0]
		var value string
		if len(args) == 2 {
			value = args[1]
		} else {
			line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
			if err != nil && !errors.Is(err, io.EOF) {
				return fmt.Errorf("reading secret: %w", err)
			}
			value = strings.TrimSpace(line)
		}
		if value == "" {
			return fmt.Errorf("secret value must not be empty")
		}

		if err := config.SetSecret(key, value); err != nil {
			return err
		}
		printSuccess("Stored %s", key)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configSetSecretCmd)
}
