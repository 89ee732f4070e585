package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/exiw-ai/proofloop/internal/agent"
	"github.com/exiw-ai/proofloop/internal/events"
	"github.com/exiw-ai/proofloop/internal/gate"
	"github.com/exiw-ai/proofloop/internal/gitx"
	otelx "github.com/exiw-ai/proofloop/internal/otel"
	"github.com/exiw-ai/proofloop/pkg/models"
)

// evidenceTailLimit is how much check output the retry prompt carries.
const evidenceTailLimit = 500

// attemptOutcome is the explicit result of one retry decision: either a new
// iteration was produced, or the supervisor stopped the loop and the last
// iteration stands.
type attemptOutcome struct {
	Iteration models.Iteration
	Stopped   bool
	Reason    string
}

// runDelivery performs the delivery stage: one full attempt covering every
// plan step, then supervised retries until the task is done, the budget is
// exhausted, or the supervisor stops the loop. Every attempt appends exactly
// one iteration and persists the task.
func (o *Orchestrator) runDelivery(ctx context.Context, task *models.Task) error {
	done := o.stageStart(ctx, task, "delivery")
	defer done()

	task.Budget.StartTracking()
	if task.CanMarkDone() {
		slog.Info("task already satisfies completion conditions, skipping delivery", "task_id", task.ID)
		return nil
	}

	iteration, err := o.deliverAttempt(ctx, task, o.fullPlanPrompt(task), fmt.Sprintf("Complete %d plan steps", planStepCount(task)))
	if err != nil {
		return err
	}
	slog.Info("delivery attempt complete", "task_id", task.ID, "decision", iteration.Decision)

	for !task.CanMarkDone() && !task.Budget.IsExhausted() {
		outcome, err := o.handleRetry(ctx, task, &iteration)
		if err != nil {
			return err
		}
		if outcome.Stopped {
			o.stopReason = outcome.Reason
			slog.Warn("supervisor stopped delivery", "task_id", task.ID, "reason", outcome.Reason)
			break
		}
		iteration = outcome.Iteration
	}
	return nil
}

// handleRetry consults the supervisor about the last iteration and executes
// its chosen strategy.
func (o *Orchestrator) handleRetry(ctx context.Context, task *models.Task, prev *models.Iteration) (attemptOutcome, error) {
	analysis := o.supervisor.Analyze(task, prev)
	otelx.RecordSupervisorDecision(ctx, string(analysis.Decision))
	switch analysis.Decision {
	case models.SuperviseStop, models.SuperviseBlock:
		return attemptOutcome{Iteration: *prev, Stopped: true, Reason: analysis.Reason}, nil
	case models.SuperviseReplan:
		// A regression or stagnation replan wipes anomaly memory so the
		// fresh approach is judged on its own failures. A loop-detected
		// replan must keep the repeat counter, or the stop threshold is
		// never reached.
		if analysis.Anomaly != models.AnomalyLoopDetected {
			o.supervisor.ResetErrorHistory()
		}
	}

	strategy, reason := o.supervisor.DecideRetryStrategy(task, prev)
	failed := 0
	for _, c := range task.Conditions {
		if c.CheckStatus != models.CheckPass {
			failed++
		}
	}
	slog.Warn("retry strategy", "task_id", task.ID, "strategy", strategy, "failed_conditions", failed, "reason", reason)

	switch strategy {
	case models.RetryStop:
		return attemptOutcome{Iteration: *prev, Stopped: true, Reason: reason}, nil

	case models.RetryRollbackAndRetry:
		slog.Info("rolling back workspace", "task_id", task.ID, "iteration", prev.Number)
		if err := o.workspace.RollbackAll(ctx); err != nil {
			return attemptOutcome{}, fmt.Errorf("rollback workspace: %w", err)
		}
		otelx.RecordRollback(ctx)
		prompt := "WARNING: Previous approach failed repeatedly. Try a different approach.\n\n" + o.fullPlanPrompt(task)
		it, err := o.deliverAttempt(ctx, task, prompt, "Fresh retry with different approach")
		if err != nil {
			// The rolled-back work is still in the stash. Put it back so a
			// resumed run starts from the last attempt, not a bare tree.
			if popErr := o.workspace.PopAll(ctx); popErr != nil {
				slog.Warn("restoring stashed changes failed", "task_id", task.ID, "error", popErr)
			}
			return attemptOutcome{}, err
		}
		return attemptOutcome{Iteration: it}, nil

	default:
		it, err := o.deliverAttempt(ctx, task, o.retryPrompt(task, prev, analysis.Reason), "Fix failed checks from previous attempt")
		if err != nil {
			return attemptOutcome{}, err
		}
		return attemptOutcome{Iteration: it}, nil
	}
}

// deliverAttempt runs one agent turn in the delivery regime, runs every
// blocking check, appends the resulting iteration, and persists the task.
func (o *Orchestrator) deliverAttempt(ctx context.Context, task *models.Task, prompt, goal string) (models.Iteration, error) {
	task.TransitionTo(models.StatusExecuting)
	iterationNum := len(task.Iterations) + 1
	o.commands.clear()

	if _, err := o.runAgent(ctx, task, prompt, nil); err != nil {
		return models.Iteration{}, fmt.Errorf("delivery turn: %w", err)
	}

	diff, err := o.safeDiff(ctx, task)
	if err != nil {
		return models.Iteration{}, err
	}
	checkResults, err := o.runAllChecks(ctx, task, iterationNum)
	if err != nil {
		return models.Iteration{}, err
	}

	decision := models.DecisionContinue
	reason := "Checks not passing"
	if task.CanMarkDone() {
		decision = models.DecisionDone
		reason = "All checks passing"
	}
	iteration := models.Iteration{
		Number:       iterationNum,
		Goal:         goal,
		Changes:      diff.FilesChanged,
		CheckResults: checkResults,
		Decision:     decision,
		Reason:       reason,
		Timestamp:    time.Now().UTC(),
	}
	task.AddIteration(iteration)
	task.Budget.RecordIteration(len(diff.FilesChanged) > 0)
	if err := o.Repo.Save(task); err != nil {
		return models.Iteration{}, err
	}

	otelx.RecordIteration(ctx, string(decision))
	o.publish(events.Event{
		Kind:   events.KindIterationDone,
		TaskID: task.ID,
		Stage:  string(task.Status),
		Data:   map[string]any{"number": iterationNum, "decision": string(decision), "changes": len(diff.FilesChanged)},
	})
	return iteration, nil
}

// safeDiff tolerates a workspace that disappeared mid-run.
func (o *Orchestrator) safeDiff(ctx context.Context, task *models.Task) (gitx.DiffResult, error) {
	if _, err := os.Stat(task.Sources[0]); err != nil {
		slog.Warn("workspace no longer exists", "path", task.Sources[0])
		return gitx.DiffResult{}, nil
	}
	return o.workspace.CombinedDiff(ctx)
}

// runAllChecks runs or verifies every blocking condition and records
// evidence for each outcome, FAIL included.
func (o *Orchestrator) runAllChecks(ctx context.Context, task *models.Task, iterationNum int) (map[uuid.UUID]models.CheckStatus, error) {
	results := make(map[uuid.UUID]models.CheckStatus)
	for _, condition := range task.BlockingConditions() {
		switch {
		case condition.CheckID != nil && task.Inventory != nil:
			check := task.Inventory.Check(*condition.CheckID)
			if check == nil {
				continue
			}
			run := o.Runner.Run(ctx, *check, task.Sources[0])
			otelx.RecordCheckDuration(ctx, check.Name, string(run.Status), run.Duration)
			ref, summary, err := o.recordEvidence(task, iterationNum, condition.ID, run, check.Command)
			if err != nil {
				return nil, err
			}
			condition.RecordCheckResult(run.Status, ref, summary)
			results[condition.ID] = run.Status
			o.publish(events.Event{
				Kind:   events.KindCheckResult,
				TaskID: task.ID,
				Stage:  string(task.Status),
				Data:   map[string]any{"check": check.Name, "status": string(run.Status)},
			})

		case condition.CheckID == nil && condition.CheckStatus != models.CheckPass:
			status, ref, summary, err := o.verifyManualCondition(ctx, task, iterationNum, condition)
			if err != nil {
				return nil, err
			}
			condition.RecordCheckResult(status, ref, summary)
			results[condition.ID] = status
			slog.Info("manual condition verified", "condition", condition.Description, "status", status)
		}
	}
	return results, nil
}

func (o *Orchestrator) recordEvidence(task *models.Task, iterationNum int, conditionID uuid.UUID, run models.CheckRunResult, command string) (models.EvidenceRef, models.EvidenceSummary, error) {
	log := fmt.Sprintf("STDOUT:\n%s\n\nSTDERR:\n%s", run.Stdout, run.Stderr)
	artifact, logPath, err := o.Evidence.SaveCheckEvidence(task.ID, iterationNum, conditionID, run, log)
	if err != nil {
		return models.EvidenceRef{}, models.EvidenceSummary{}, fmt.Errorf("save evidence: %w", err)
	}
	output := run.Stdout
	if output == "" {
		output = run.Stderr
	}
	checkID := run.CheckID
	return models.EvidenceRef{
			TaskID:       task.ID,
			ConditionID:  conditionID,
			CheckID:      &checkID,
			ArtifactPath: artifact,
			LogPath:      logPath,
		}, models.EvidenceSummary{
			Command:    command,
			Cwd:        task.Sources[0],
			ExitCode:   run.ExitCode,
			Duration:   run.Duration,
			OutputTail: tail(output, evidenceTailLimit),
			Timestamp:  run.Timestamp,
		}, nil
}

const manualVerifyPrompt = `You are an INDEPENDENT VERIFIER checking if a condition is satisfied.

## Condition to verify:
%s

## Task context:
%s

## Working directory:
%s
%s
## Facts from implementation (use these to inform your verification):
%s

## Instructions:
1. Analyze what the condition requires
2. Run appropriate commands to verify it
3. IMPORTANT: If similar commands were run during implementation, use the SAME commands
4. Check the output against the condition's criteria

After verification, respond with EXACTLY one of these on a single line:
- CONDITION_PASS - if the condition is satisfied
- CONDITION_FAIL - if the condition is NOT satisfied

Include a brief explanation before the verdict.`

// verifyManualCondition asks the agent to act as an independent verifier for
// a condition with no automated check. The agent's verdict and transcript
// become the condition's evidence.
func (o *Orchestrator) verifyManualCondition(ctx context.Context, task *models.Task, iterationNum int, condition *models.Condition) (models.CheckStatus, models.EvidenceRef, models.EvidenceSummary, error) {
	filesContext := ""
	if latest := task.LatestIteration(); latest != nil && len(latest.Changes) > 0 {
		filesContext = "\n## Files changed during implementation:\n- " + strings.Join(latest.Changes, "\n- ") + "\n"
	}
	prompt := fmt.Sprintf(manualVerifyPrompt, condition.Description, task.Description, task.Sources[0], filesContext, o.commands.formatForVerification())

	start := time.Now()
	res, err := o.runAgent(ctx, task, prompt, nil)
	if err != nil {
		return "", models.EvidenceRef{}, models.EvidenceSummary{}, fmt.Errorf("verification turn: %w", err)
	}
	duration := time.Since(start)

	status := models.CheckFail
	if strings.Contains(strings.ToUpper(res.FinalText), "CONDITION_PASS") {
		status = models.CheckPass
	}
	exitCode := 1
	if status == models.CheckPass {
		exitCode = 0
	}

	var tools []string
	for _, tc := range res.ToolCalls {
		tools = append(tools, tc.Tool)
	}
	toolsUsed := "none"
	if len(tools) > 0 {
		toolsUsed = strings.Join(tools, ", ")
	}

	run := models.CheckRunResult{
		CheckID:   condition.ID,
		Status:    status,
		ExitCode:  exitCode,
		Stdout:    res.FinalText,
		Duration:  duration,
		Timestamp: time.Now().UTC(),
	}
	log := fmt.Sprintf("VERIFICATION PROMPT:\n%s\n\nAGENT RESPONSE:\n%s\n\nTOOLS USED: %s\nVERDICT: %s", prompt, res.FinalText, toolsUsed, status)
	artifact, logPath, err := o.Evidence.SaveCheckEvidence(task.ID, iterationNum, condition.ID, run, log)
	if err != nil {
		return "", models.EvidenceRef{}, models.EvidenceSummary{}, fmt.Errorf("save evidence: %w", err)
	}

	ref := models.EvidenceRef{
		TaskID:       task.ID,
		ConditionID:  condition.ID,
		ArtifactPath: artifact,
		LogPath:      logPath,
	}
	summary := models.EvidenceSummary{
		Command:    "[agent verification: " + toolsUsed + "]",
		Cwd:        task.Sources[0],
		ExitCode:   exitCode,
		Duration:   duration,
		OutputTail: tail(res.FinalText, evidenceTailLimit),
		Timestamp:  run.Timestamp,
	}
	return status, ref, summary, nil
}

const qualityPrompt = `Review the changes made for this task: %s

Check for:
- Code quality and conventions
- Edge cases
- Potential issues

If improvements are needed, make them. Otherwise respond with "QUALITY_OK".`

// runQuality runs bounded quality-review turns after the task is done.
func (o *Orchestrator) runQuality(ctx context.Context, task *models.Task) error {
	done := o.stageStart(ctx, task, "quality")
	defer done()
	task.TransitionTo(models.StatusQuality)

	for task.Budget.QualityLoopCount < task.Budget.QualityLoopLimit {
		res, err := o.runAgent(ctx, task, fmt.Sprintf(qualityPrompt, task.Description), nil)
		if err != nil {
			return fmt.Errorf("quality turn: %w", err)
		}
		if strings.Contains(res.FinalText, "QUALITY_OK") {
			break
		}
		task.Budget.QualityLoopCount++
	}
	return o.Repo.Save(task)
}

func (o *Orchestrator) fullPlanPrompt(task *models.Task) string {
	workspace := task.Sources[0]
	if task.Plan == nil {
		return "Complete the following task: " + task.Description
	}
	var steps []string
	for _, s := range task.Plan.Steps {
		steps = append(steps, fmt.Sprintf("%d. %s", s.Number, s.Description))
	}
	constraints := "None"
	if len(task.Constraints) > 0 {
		constraints = strings.Join(task.Constraints, ", ")
	}
	conditions := "None"
	if blocking := task.BlockingConditions(); len(blocking) > 0 {
		var lines []string
		for _, c := range blocking {
			lines = append(lines, "- "+c.Description)
		}
		conditions = strings.Join(lines, "\n")
	}
	return fmt.Sprintf(`Complete the following task: %s

## CRITICAL: AUTONOMOUS EXECUTION
You MUST complete this task autonomously without asking questions.
- NEVER ask for confirmation or clarification
- Make reasonable decisions when information is ambiguous
- Just execute - do not wait for user input

## CRITICAL WORKSPACE RESTRICTION
You MUST only create, modify, or delete files within: %s
- DO NOT run git restore, git checkout, or commands that affect files outside this directory
- DO NOT delete or move the workspace directory itself

## Steps to complete (in order):
%s

## Constraints:
%s

## Blocking conditions (MUST be satisfied):
%s

Work through each step systematically. After completing all steps,
verify that all blocking conditions are met by running appropriate checks.
If a check fails, fix the issue before concluding.`,
		task.Description, workspace, strings.Join(steps, "\n"), constraints, conditions)
}

func (o *Orchestrator) retryPrompt(task *models.Task, prev *models.Iteration, supervisorNote string) string {
	var failures []string
	for _, c := range task.BlockingConditions() {
		if c.CheckStatus != models.CheckFail {
			continue
		}
		if c.EvidenceSummary != nil {
			failures = append(failures, fmt.Sprintf("### %s\n- Status: FAILED\n- Exit code: %d\n- Output:\n```\n%s\n```",
				c.Description, c.EvidenceSummary.ExitCode, c.EvidenceSummary.OutputTail))
		} else {
			failures = append(failures, fmt.Sprintf("### %s\n- Status: FAILED\n- No evidence available", c.Description))
		}
	}
	changes := "none"
	if len(prev.Changes) > 0 {
		changes = strings.Join(prev.Changes, ", ")
	}
	note := ""
	if supervisorNote != "" {
		note = "\n## Supervisor note\n" + supervisorNote + "\n"
	}
	return fmt.Sprintf(`You are continuing work on a task. The previous attempt completed but some checks failed.

## CRITICAL: AUTONOMOUS EXECUTION
You MUST complete this task autonomously without asking questions.

## CRITICAL WORKSPACE RESTRICTION
You MUST only create, modify, or delete files within: %s

## Task: %s

## Previous Attempt Summary
- Files changed: %s
- Decision: %s
- Reason: %s
%s
## Failed Checks (MUST FIX)
%s

## Instructions
1. Analyze why each check failed based on the output above
2. Fix the issues - do NOT repeat the same mistakes
3. Run the checks again to verify fixes

Focus on fixing the failures, not re-implementing everything from scratch.`,
		task.Sources[0], task.Description, changes, prev.Decision, prev.Reason, note, strings.Join(failures, "\n"))
}

func planStepCount(task *models.Task) int {
	if task.Plan == nil {
		return 0
	}
	return len(task.Plan.Steps)
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

// commandLog captures the Bash commands an agent turn ran so manual-condition
// verification can reference them.
type commandLog struct {
	mu       sync.Mutex
	commands []string
}

func (l *commandLog) observe(m agent.Message) {
	if m.Type != "tool_use" || m.Tool != gate.ToolBash || m.Input == "" {
		return
	}
	l.mu.Lock()
	l.commands = append(l.commands, m.Input)
	l.mu.Unlock()
}

func (l *commandLog) clear() {
	l.mu.Lock()
	l.commands = nil
	l.mu.Unlock()
}

func (l *commandLog) formatForVerification() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.commands) == 0 {
		return "No commands were run during implementation."
	}
	var lines []string
	for i, cmd := range l.commands {
		lines = append(lines, fmt.Sprintf("%d. %s", i+1, cmd))
	}
	return "Commands run during implementation:\n" + strings.Join(lines, "\n")
}
