package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/kalambet/minutes/internal/agno"
	"github.com/kalambet/minutes/internal/api"
	"github.com/kalambet/minutes/internal/config"
	"github.com/kalambet/minutes/internal/counsel"
	"github.com/kalambet/minutes/internal/metrics"
	"github.com/kalambet/minutes/internal/prompt"
	"github.com/kalambet/minutes/internal/storage"
	"github.com/kalambet/minutes/internal/summary"
	"github.com/kalambet/minutes/internal/task"
)

const shutdownTimeout = 5 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer(cmd.Context())
	},
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the MCP tools over stdio",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMCP(cmd.Context())
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show server and agent backend status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus(cmd.Context())
	},
}

// components is the wired service graph shared by serve and mcp.
type components struct {
	agno    *agno.Client
	summary *summary.Service
	runner  *task.Runner
	counsel *counsel.Service
	store   *storage.Store
	metrics *metrics.Metrics
}

func buildComponents(cfg config.Config, withMetrics bool) (*components, error) {
	client := agno.New(cfg.Agno.BaseURL,
		agno.WithSecurityKey(cfg.Agno.SecurityKey),
		agno.WithRequestTimeout(cfg.RequestTimeout()),
	)

	gen, err := newGenerator(cfg, client)
	if err != nil {
		return nil, err
	}

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}

	c := &components{
		agno:    client,
		summary: summary.NewService(gen),
		store:   store,
	}
	if withMetrics && cfg.Metrics.Enabled {
		c.metrics = metrics.New()
	}

	c.runner = task.NewRunner(task.NewRegistry(), c.summary, cfg.Tasks.Workers)
	c.runner.OnDone = func(t task.Task) {
		elapsed := t.UpdatedAt.Sub(t.CreatedAt)
		slog.Info("summary task finished", "task_id", t.ID, "status", t.Status, "duration_ms", elapsed.Milliseconds())
		if c.metrics != nil {
			c.metrics.ObserveTask(string(t.Status), elapsed)
		}
	}

	c.counsel = counsel.New(client, counsel.Options{
		AgentID:      cfg.Agno.CounselAgent,
		KnowledgeDB:  cfg.Agno.KnowledgeDB,
		PollInterval: cfg.PollInterval(),
		Ledger:       store,
	})
	return c, nil
}

// close stops the task runner, then releases storage.
func (c *components) close(ctx context.Context) error {
	err := c.runner.Close(ctx)
	if cerr := c.store.Close(); cerr != nil {
		err = errors.Join(err, fmt.Errorf("closing storage: %w", cerr))
	}
	return err
}

// newGenerator picks the summary backend named by summary.backend.
func newGenerator(cfg config.Config, client *agno.Client) (summary.Generator, error) {
	if cfg.Summary.Backend != config.BackendOpenAI {
		return summary.NewAgentGenerator(client, cfg.Agno.SummaryAgent), nil
	}
	p, err := prompt.Load(cfg.Summary.PromptDir)
	if err != nil {
		return nil, fmt.Errorf("loading prompts: %w", err)
	}
	return summary.NewOpenAIGenerator(summary.OpenAIConfig{
		BaseURL: cfg.Summary.OpenAIBaseURL,
		APIKey:  cfg.Summary.OpenAIAPIKey,
		Model:   cfg.Summary.OpenAIModel,
		Prompt:  p,
	}), nil
}

func runServer(ctx context.Context) error {
	fmt.Fprintf(os.Stderr, "minutes version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	setupLogging(cfg.Log.Level)

	c, err := buildComponents(cfg, true)
	if err != nil {
		return err
	}

	if !c.agno.IsRunning(ctx) {
		printWarning("agent backend not reachable at %s", c.agno.BaseURL())
	}

	handler := api.NewHandler(api.Deps{
		Summarizer:    c.summary,
		Tasks:         c.runner,
		Counsel:       c.counsel,
		Uploads:       c.store,
		Metrics:       c.metrics,
		UploadTimeout: time.Duration(cfg.Knowledge.UploadTimeout) * time.Second,
	})

	addr := net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port))
	srv := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("minutes listening", "addr", addr, "summary_backend", cfg.Summary.Backend, "agno", cfg.Agno.BaseURL)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		fmt.Fprintln(os.Stderr, "shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)
		if cerr := c.close(shutdownCtx); cerr != nil {
			slog.Warn("shutdown incomplete", "error", cerr)
		}
		return err
	})
	return g.Wait()
}

func runMCP(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	setupLogging(cfg.Log.Level)

	c, err := buildComponents(cfg, false)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := c.close(closeCtx); err != nil {
			slog.Warn("shutdown incomplete", "error", err)
		}
	}()

	mcpSrv := api.NewMCPServer(api.MCPDeps{
		Summarizer:    c.summary,
		Tasks:         c.runner,
		Counsel:       c.counsel,
		UploadTimeout: time.Duration(cfg.Knowledge.UploadTimeout) * time.Second,
	})
	slog.Info("MCP server started (stdio transport)")

	err = server.NewStdioServer(mcpSrv).Listen(ctx, os.Stdin, os.Stdout)
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("mcp stdio server: %w", err)
	}
	return nil
}

func showStatus(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		// Still show partial status even if config fails.
		printError("config error: %v", err)
		return nil
	}

	base := serverURL
	if base == "" {
		base = localServerURL(cfg.Server)
	}
	client := &apiClient{baseURL: base, httpClient: &http.Client{Timeout: 2 * time.Second}}

	var health struct {
		Status string `json:"status"`
	}
	if resp, err := client.get(ctx, "/health"); err != nil {
		printStatus("Server", "stopped")
	} else if err := decodeJSON(resp, &health); err != nil {
		printStatus("Server", "error (%v)", err)
	} else {
		printStatus("Server", "%s at %s", health.Status, base)
	}

	backend := agno.New(cfg.Agno.BaseURL, agno.WithSecurityKey(cfg.Agno.SecurityKey))
	if backend.IsRunning(ctx) {
		printStatus("Agent backend", "running at %s", cfg.Agno.BaseURL)
	} else {
		printStatus("Agent backend", "not reachable at %s", cfg.Agno.BaseURL)
	}

	printStatus("Summary backend", "%s", cfg.Summary.Backend)
	printStatus("Summary agent", "%s", cfg.Agno.SummaryAgent)
	printStatus("Counsel agent", "%s", cfg.Agno.CounselAgent)
	printStatus("Knowledge DB", "%s", cfg.Agno.KnowledgeDB)
	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}
