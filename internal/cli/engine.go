package cli

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/exiw-ai/proofloop/internal/agent"
	"github.com/exiw-ai/proofloop/internal/checks"
	"github.com/exiw-ai/proofloop/internal/config"
	"github.com/exiw-ai/proofloop/internal/events"
	"github.com/exiw-ai/proofloop/internal/mcpsel"
	"github.com/exiw-ai/proofloop/internal/notify"
	otelx "github.com/exiw-ai/proofloop/internal/otel"
	"github.com/exiw-ai/proofloop/internal/pipeline"
	"github.com/exiw-ai/proofloop/internal/state"
	"github.com/exiw-ai/proofloop/internal/store"
	"github.com/exiw-ai/proofloop/internal/store/postgres"
)

// defaultAgentCommand is the agent binary used when config.yaml names none.
const defaultAgentCommand = "proofloop-agent"

// engine bundles the orchestrator with the process-wide wiring the commands
// share: event hub, run index, and the optional metrics listener.
type engine struct {
	Orch     *pipeline.Orchestrator
	Hub      *events.Hub
	Repo     *state.TaskRepo
	Settings *config.Settings

	index      store.Store
	metricsSrv *http.Server
}

// openEngine builds a fully wired engine from the settings under home.
func openEngine(ctx context.Context, home string) (*engine, error) {
	settings, err := config.LoadSettings(home)
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	stateDir := config.StateDir(home)

	command := settings.Agent.Command
	if command == "" {
		command = defaultAgentCommand
	}
	runner := agent.Subprocess{
		Command: command,
		Args:    settings.Agent.Args,
		Timeout: settings.Agent.Timeout,
	}

	repo := state.NewTaskRepo(stateDir)
	evidence := state.NewEvidenceStore(stateDir)
	orch := pipeline.New(runner, repo, evidence, &checks.Runner{})
	orch.AllowDangerous = settings.AllowDangerous

	hub := events.NewHub()
	orch.Hub = hub

	var index store.Store
	switch settings.Store.Driver {
	case "", "sqlite":
		index, err = store.Open(stateDir)
	case "postgres":
		index, err = postgres.Open(settings.Store.DSN)
	default:
		err = fmt.Errorf("unknown store driver %q", settings.Store.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("open run index: %w", err)
	}
	orch.Index = index

	registry, err := mcpsel.LoadRegistry(settings.MCPRegistry)
	if err != nil {
		return nil, fmt.Errorf("load mcp registry: %w", err)
	}
	orch.MCP = registry

	if settings.Notify.SlackWebhookURL != "" {
		notifiers := notify.NewRegistry()
		notifiers.Register(notify.SlackWebhook{
			WebhookURL: settings.Notify.SlackWebhookURL,
			Channel:    settings.Notify.SlackChannel,
			Username:   "proofloop",
		})
		orch.Notifiers = notifiers
	}

	e := &engine{Orch: orch, Hub: hub, Repo: repo, Settings: settings, index: index}
	if settings.Metrics.Listen != "" {
		if err := e.startMetrics(ctx, settings.Metrics.Listen); err != nil {
			_ = index.Close()
			return nil, err
		}
	}
	return e, nil
}

func (e *engine) startMetrics(ctx context.Context, listen string) error {
	handler, err := otelx.InitMeterProvider(ctx, "proofloop")
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}
	if err := otelx.InitMetrics(ctx); err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)
	e.metricsSrv = &http.Server{Addr: listen, Handler: mux}
	go func() {
		if err := e.metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Warn("metrics listener stopped", "addr", listen, "err", err)
		}
	}()
	slog.Info("metrics listening", "addr", listen)
	return nil
}

func (e *engine) Close() error {
	if e.metricsSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = e.metricsSrv.Shutdown(ctx)
	}
	if e.index != nil {
		return e.index.Close()
	}
	return nil
}
