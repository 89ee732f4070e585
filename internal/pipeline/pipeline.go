// Package pipeline drives a task through the staged engine: intake, strategy,
// verification inventory, planning, conditions, approval, delivery with
// supervised retries, optional quality review, and finalization. The
// orchestrator owns the task exclusively for the duration of a run and
// persists it after every transition.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/exiw-ai/proofloop/internal/agent"
	"github.com/exiw-ai/proofloop/internal/checks"
	"github.com/exiw-ai/proofloop/internal/events"
	"github.com/exiw-ai/proofloop/internal/gate"
	"github.com/exiw-ai/proofloop/internal/gitx"
	"github.com/exiw-ai/proofloop/internal/mcpsel"
	"github.com/exiw-ai/proofloop/internal/notify"
	otelx "github.com/exiw-ai/proofloop/internal/otel"
	"github.com/exiw-ai/proofloop/internal/state"
	"github.com/exiw-ai/proofloop/internal/store"
	"github.com/exiw-ai/proofloop/internal/supervise"
	"github.com/exiw-ai/proofloop/internal/verify"
	"github.com/exiw-ai/proofloop/pkg/models"
)

// DefaultPlanRefineLimit caps the reject-with-feedback refinement loop.
const DefaultPlanRefineLimit = 5

// Orchestrator coordinates one task run end to end. The exported fields after
// Runner are optional wiring: nil hub, index, notifier, or MCP registry just
// disables that concern.
type Orchestrator struct {
	Repo     *state.TaskRepo
	Evidence *state.EvidenceStore
	Runner   *checks.Runner

	Analyzer  *verify.Analyzer
	MCP       *mcpsel.Registry
	Hub       *events.Hub
	Index     store.Store
	Notifiers *notify.Registry

	AllowDangerous  bool
	PlanRefineLimit int

	agent      agent.Agent
	supervisor *supervise.Supervisor
	workspace  *gitx.Workspace
	commands   *commandLog
	activeMCP  []string
	stopReason string
}

// New wires an orchestrator around the given collaborators. The agent is
// wrapped so transient stalls are retried at the call boundary without
// consuming iteration budget.
func New(a agent.Agent, repo *state.TaskRepo, evidence *state.EvidenceStore, runner *checks.Runner) *Orchestrator {
	return &Orchestrator{
		Repo:            repo,
		Evidence:        evidence,
		Runner:          runner,
		Analyzer:        &verify.Analyzer{Agent: a},
		PlanRefineLimit: DefaultPlanRefineLimit,
		agent:           agent.WithStallRetry(a, 0),
		supervisor:      supervise.New(),
		commands:        &commandLog{},
	}
}

// Run executes the full pipeline for a new task and returns its terminal
// result. Storage and workspace failures propagate as errors; everything else
// ends in a DONE, BLOCKED, or STOPPED result.
func (o *Orchestrator) Run(ctx context.Context, input models.TaskInput, cb Callbacks) (*models.FinalResult, error) {
	if err := input.Normalize(); err != nil {
		return nil, err
	}
	ws, err := gitx.DiscoverWorkspace(ctx, input.WorkspacePath)
	if err != nil {
		return nil, fmt.Errorf("discover workspace: %w", err)
	}
	o.workspace = ws

	task, err := o.intake(ctx, input)
	if err != nil {
		return nil, err
	}
	slog.Info("task created", "task_id", task.ID, "workspace", input.WorkspacePath)

	strategy := selectStrategy(task, input.Baseline)
	slog.Info("strategy selected", "task_id", task.ID, "planning", strategy.PlanningDepth, "rationale", strategy.Rationale)

	done := o.stageStart(ctx, task, "inventory")
	if err := o.buildInventory(ctx, task, strategy.IncludeBaseline); err != nil {
		return nil, err
	}
	done()

	if input.MCPEnabled {
		if err := o.selectMCPServers(ctx, task, input, cb); err != nil {
			return nil, err
		}
	}

	var clarifications []ClarificationAnswer
	if cb.Clarifier != nil && !input.AutoApprove {
		done := o.stageStart(ctx, task, "clarification")
		questions, err := o.askClarifications(ctx, task)
		if err != nil {
			return nil, err
		}
		if len(questions) > 0 {
			clarifications, err = cb.Clarifier.Clarify(questions)
			if err != nil {
				return nil, fmt.Errorf("clarification callback: %w", err)
			}
		}
		done()
	}

	done = o.stageStart(ctx, task, "planning")
	if err := o.createPlan(ctx, task, clarifications); err != nil {
		return nil, err
	}
	done()

	if err := o.defineConditions(ctx, task, input.UserConditions); err != nil {
		return nil, err
	}

	approved, err := o.runApprovalGate(ctx, task, input, cb)
	if err != nil {
		return nil, err
	}
	if !approved {
		slog.Info("plan not approved, blocking", "task_id", task.ID)
		task.TransitionTo(models.StatusBlocked)
		if err := o.Repo.Save(task); err != nil {
			return nil, err
		}
		return o.finalize(ctx, task)
	}

	if err := o.runDelivery(ctx, task); err != nil {
		return nil, err
	}

	if task.CanMarkDone() && strategy.IncludeQualityLoop {
		if err := o.runQuality(ctx, task); err != nil {
			return nil, err
		}
	}

	return o.finalize(ctx, task)
}

// Resume continues a persisted task from its saved stage, re-running only the
// stages that follow it.
func (o *Orchestrator) Resume(ctx context.Context, task *models.Task, input models.TaskInput, cb Callbacks) (*models.FinalResult, error) {
	if err := input.Normalize(); err != nil {
		return nil, err
	}
	ws, err := gitx.DiscoverWorkspace(ctx, input.WorkspacePath)
	if err != nil {
		return nil, fmt.Errorf("discover workspace: %w", err)
	}
	o.workspace = ws
	slog.Info("resuming task", "task_id", task.ID, "status", task.Status)

	switch task.Status {
	case models.StatusIntake, models.StatusStrategy:
		strategy := selectStrategy(task, input.Baseline)
		if err := o.buildInventory(ctx, task, strategy.IncludeBaseline); err != nil {
			return nil, err
		}
		fallthrough
	case models.StatusVerificationInventory:
		if err := o.createPlan(ctx, task, nil); err != nil {
			return nil, err
		}
		fallthrough
	case models.StatusPlanning:
		if err := o.defineConditions(ctx, task, input.UserConditions); err != nil {
			return nil, err
		}
		fallthrough
	case models.StatusConditions, models.StatusApprovalConditions, models.StatusApprovalPlan:
		approved, err := o.runApprovalGate(ctx, task, input, cb)
		if err != nil {
			return nil, err
		}
		if !approved {
			task.TransitionTo(models.StatusBlocked)
			if err := o.Repo.Save(task); err != nil {
				return nil, err
			}
			return o.finalize(ctx, task)
		}
		fallthrough
	case models.StatusExecuting, models.StatusQuality:
		if err := o.runDelivery(ctx, task); err != nil {
			return nil, err
		}
		if task.CanMarkDone() {
			if err := o.runQuality(ctx, task); err != nil {
				return nil, err
			}
		}
	}
	return o.finalize(ctx, task)
}

func (o *Orchestrator) intake(ctx context.Context, input models.TaskInput) (*models.Task, error) {
	budget := models.NewBudget()
	budget.WallTimeLimit = input.Timeout
	budget.MaxIterations = input.MaxIterations

	task := &models.Task{
		ID:          uuid.New(),
		Description: input.Description,
		Goals:       input.Goals,
		Sources:     input.Sources,
		Constraints: input.Constraints,
		Status:      models.StatusIntake,
		Budget:      budget,
	}
	if err := o.Repo.Save(task); err != nil {
		return nil, err
	}
	o.publish(events.Event{Kind: events.KindTaskCreated, TaskID: task.ID, Message: task.Description})
	o.indexRun(ctx, task, "")
	return task, nil
}

func (o *Orchestrator) buildInventory(ctx context.Context, task *models.Task, runBaseline bool) error {
	source := task.Sources[0]
	analysis, err := o.Analyzer.AnalyzeProject(ctx, source, o.emit(ctx, task))
	if err != nil {
		return fmt.Errorf("analyze project: %w", err)
	}
	inv := verify.BuildInventory(analysis, source)

	if runBaseline {
		inv.Baseline = make(map[uuid.UUID]models.CheckRunResult, len(inv.Checks))
		for _, check := range inv.Checks {
			result := o.Runner.Run(ctx, check, source)
			inv.Baseline[check.ID] = result
			log := fmt.Sprintf("STDOUT:\n%s\n\nSTDERR:\n%s", result.Stdout, result.Stderr)
			if _, _, err := o.Evidence.SaveBaselineEvidence(task.ID, check.ID, result, log); err != nil {
				return fmt.Errorf("save baseline evidence: %w", err)
			}
			slog.Debug("baseline check complete", "check", check.Name, "status", result.Status)
		}
	}

	task.Inventory = inv
	task.TransitionTo(models.StatusVerificationInventory)
	if err := o.Repo.SaveInventory(task.ID, inv); err != nil {
		return err
	}
	if err := o.Repo.Save(task); err != nil {
		return err
	}
	slog.Info("inventory built", "task_id", task.ID, "checks", len(inv.Checks))
	return nil
}

func (o *Orchestrator) selectMCPServers(ctx context.Context, task *models.Task, input models.TaskInput, cb Callbacks) error {
	registry := o.MCP
	if registry == nil {
		registry = mcpsel.DefaultRegistry()
	}
	active := make(map[string]struct{})
	for _, name := range input.MCPServers {
		if _, ok := registry.Get(name); ok {
			active[name] = struct{}{}
		} else {
			slog.Warn("requested mcp server not in registry", "server", name)
		}
	}

	if cb.MCPSelector != nil && !input.AutoApprove {
		done := o.stageStart(ctx, task, "mcp_selection")
		selector := &mcpsel.Selector{Agent: o.agent, Registry: registry}
		suggestions, err := selector.Suggest(ctx, task, o.emit(ctx, task))
		if err != nil {
			return fmt.Errorf("mcp suggestion: %w", err)
		}
		if len(suggestions) > 0 {
			for _, name := range cb.MCPSelector.SelectServers(suggestions) {
				if _, ok := registry.Get(name); ok {
					active[name] = struct{}{}
				}
			}
		}
		done()
	}

	o.activeMCP = o.activeMCP[:0]
	for name := range active {
		o.activeMCP = append(o.activeMCP, name)
	}
	if len(o.activeMCP) > 0 {
		slog.Info("active mcp servers", "task_id", task.ID, "servers", o.activeMCP)
	}
	return nil
}

// runApprovalGate takes the task through condition and plan approval.
// Returns false when the run must block instead of delivering.
func (o *Orchestrator) runApprovalGate(ctx context.Context, task *models.Task, input models.TaskInput, cb Callbacks) (bool, error) {
	if input.AutoApprove {
		if err := o.approveAll(task); err != nil {
			return false, err
		}
		return true, nil
	}
	if cb.Approver == nil || task.Plan == nil {
		return false, nil
	}

	for round := 0; round < o.planRefineLimit(); round++ {
		o.publish(events.Event{Kind: events.KindApprovalAsked, TaskID: task.ID, Stage: string(task.Status)})
		resp, err := cb.Approver.ReviewPlan(task.Plan, task.Conditions)
		if err != nil {
			return false, fmt.Errorf("approval callback: %w", err)
		}
		if resp.Conditions != nil {
			task.Conditions = resp.Conditions
			if err := o.Repo.Save(task); err != nil {
				return false, err
			}
			slog.Info("conditions updated by reviewer", "task_id", task.ID, "count", len(task.Conditions))
		}
		if resp.Approved {
			if err := o.approveAll(task); err != nil {
				return false, err
			}
			slog.Info("plan approved", "task_id", task.ID, "goal", task.Plan.Goal)
			return true, nil
		}
		if resp.Feedback == "" {
			return false, nil
		}
		slog.Info("refining plan", "task_id", task.ID, "feedback", truncate(resp.Feedback, 100))
		if err := o.refinePlan(ctx, task, resp.Feedback); err != nil {
			return false, err
		}
	}
	slog.Warn("plan refinement limit reached", "task_id", task.ID, "limit", o.planRefineLimit())
	return false, nil
}

func (o *Orchestrator) approveAll(task *models.Task) error {
	for _, c := range task.Conditions {
		c.Approve()
	}
	task.TransitionTo(models.StatusApprovalConditions)
	if err := o.Repo.SaveConditionsApproval(task.ID, task.Conditions); err != nil {
		return err
	}
	if task.Plan != nil {
		task.Plan.Approve()
		task.TransitionTo(models.StatusApprovalPlan)
		if err := o.Repo.SavePlanApproval(task.ID, task.Plan); err != nil {
			return err
		}
	}
	return o.Repo.Save(task)
}

func (o *Orchestrator) planRefineLimit() int {
	if o.PlanRefineLimit > 0 {
		return o.PlanRefineLimit
	}
	return DefaultPlanRefineLimit
}

// runAgent performs one gated agent turn for the task's current stage.
func (o *Orchestrator) runAgent(ctx context.Context, task *models.Task, prompt string, tools []string) (agent.Result, error) {
	if tools == nil {
		tools = gate.AllowedTools(task.Status)
	}
	res, err := o.agent.Execute(ctx, agent.Request{
		Prompt:       prompt,
		AllowedTools: tools,
		WorkDir:      task.Sources[0],
		MCPServers:   o.activeMCP,
	}, o.emit(ctx, task))
	otelx.RecordAgentTurn(ctx, string(task.Status))
	return res, err
}

// emit builds the streaming callback for one task: it records tool calls for
// manual-condition verification, flags stage policy violations, and fans the
// message out to subscribers.
func (o *Orchestrator) emit(ctx context.Context, task *models.Task) func(agent.Message) {
	return func(m agent.Message) {
		o.commands.observe(m)
		if m.Type == "tool_use" && m.Tool == gate.ToolBash && m.Input != "" {
			if err := gate.ValidateBashCommand(m.Input, task.Status, o.AllowDangerous); err != nil {
				slog.Warn("command violates stage policy", "task_id", task.ID, "stage", task.Status, "err", err)
				otelx.RecordGateRejection(ctx, string(task.Status))
				o.publish(events.Event{
					Kind:    events.KindAgentMessage,
					TaskID:  task.ID,
					Stage:   string(task.Status),
					Message: "policy violation: " + err.Error(),
				})
			}
		}
		o.publish(events.Event{
			Kind:    events.KindAgentMessage,
			TaskID:  task.ID,
			Stage:   string(task.Status),
			Message: m.Text,
			Data:    map[string]any{"type": m.Type, "tool": m.Tool},
		})
	}
}

func (o *Orchestrator) publish(ev events.Event) {
	if o.Hub != nil {
		o.Hub.Publish(ev)
	}
}

// stageStart announces a stage and returns the matching completion func.
func (o *Orchestrator) stageStart(ctx context.Context, task *models.Task, name string) func() {
	start := time.Now()
	o.publish(events.Event{Kind: events.KindStageStarted, TaskID: task.ID, Stage: name})
	return func() {
		d := time.Since(start)
		otelx.RecordStageDuration(ctx, name, d)
		o.publish(events.Event{
			Kind:   events.KindStageEnded,
			TaskID: task.ID,
			Stage:  name,
			Data:   map[string]any{"duration_seconds": d.Seconds()},
		})
	}
}

func (o *Orchestrator) indexRun(ctx context.Context, task *models.Task, stoppedReason string) {
	if o.Index == nil {
		return
	}
	now := time.Now().UTC()
	run := store.Run{
		TaskID:         task.ID.String(),
		Description:    task.Description,
		Status:         string(task.Status),
		IterationCount: len(task.Iterations),
		Workspace:      task.Sources[0],
		StoppedReason:  stoppedReason,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := o.Index.UpsertRun(ctx, run); err != nil {
		slog.Warn("run index update failed", "task_id", task.ID, "err", err)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// Strategy is the lightweight execution profile chosen at the strategy stage.
type Strategy struct {
	PlanningDepth      string // quick or phased
	IncludeBaseline    bool
	IncludeQualityLoop bool
	DiscoveryDepth     string // standard or extended
	Rationale          string
}

func selectStrategy(task *models.Task, includeBaseline bool) Strategy {
	isLarge := len(task.Goals) > 3 || strings.Contains(strings.ToLower(task.Description), "multi")
	depth := "quick"
	if isLarge {
		depth = "phased"
	}
	discovery := "standard"
	if len(task.Sources) > 1 {
		discovery = "extended"
	}
	task.TransitionTo(models.StatusStrategy)
	kind := "focused"
	if isLarge {
		kind = "multi-goal"
	}
	return Strategy{
		PlanningDepth:      depth,
		IncludeBaseline:    includeBaseline,
		IncludeQualityLoop: true,
		DiscoveryDepth:     discovery,
		Rationale:          fmt.Sprintf("Selected %s planning for %s task", depth, kind),
	}
}
