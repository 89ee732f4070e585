package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/exiw-ai/proofloop/internal/agent"
	"github.com/exiw-ai/proofloop/internal/gate"
	"github.com/exiw-ai/proofloop/pkg/models"
)

// planningTools includes web access so the agent can research approaches
// before committing to a plan. Never write-capable.
var planningTools = []string{gate.ToolRead, gate.ToolGlob, gate.ToolGrep, gate.ToolWebSearch, gate.ToolWebFetch}

const clarifyPrompt = `Analyze this task and identify key decisions that need user clarification.

Task: %s
Goals: %v
Constraints: %v
Project conventions: %v

IMPORTANT - Before generating questions:
1. Extract key domain terms from the task description
2. Search for existing implementation:
   - Use Grep to search code CONTENT (classes, functions, patterns)
   - Use Glob to find files BY NAME (e.g., "docker-compose*", "*config*")
3. Read any existing implementation files you find
4. Only ask about genuinely ambiguous decisions

Return JSON array (empty if task is clear or existing code answers the questions):
[
    {
        "id": "unique_id",
        "question": "What should X be?",
        "context": "Brief explanation why this matters",
        "options": [
            {"key": "opt1", "label": "Option 1", "description": "What this means"},
            {"key": "opt2", "label": "Option 2", "description": "What this means"}
        ]
    }
]

If the task is clear - return empty array [].
Limit to 3-5 most important questions.`

// askClarifications asks the agent to surface ambiguous decisions. An
// unparsable answer means no questions, not an error.
func (o *Orchestrator) askClarifications(ctx context.Context, task *models.Task) ([]ClarificationQuestion, error) {
	var conventions []string
	if task.Inventory != nil {
		conventions = task.Inventory.Conventions
	}
	res, err := o.runAgent(ctx, task, fmt.Sprintf(clarifyPrompt, task.Description, task.Goals, task.Constraints, conventions), planningTools)
	if err != nil {
		return nil, err
	}
	raw := agent.ExtractJSONArray(res.FinalText)
	if raw == "" || !gjson.Valid(raw) {
		slog.Warn("clarification questions not parseable, proceeding without", "task_id", task.ID)
		return nil, nil
	}
	var questions []ClarificationQuestion
	for _, item := range gjson.Parse(raw).Array() {
		q := ClarificationQuestion{
			ID:       item.Get("id").String(),
			Question: item.Get("question").String(),
			Context:  item.Get("context").String(),
		}
		if q.ID == "" || q.Question == "" {
			continue
		}
		for _, opt := range item.Get("options").Array() {
			q.Options = append(q.Options, ClarificationOption{
				Key:         opt.Get("key").String(),
				Label:       opt.Get("label").String(),
				Description: opt.Get("description").String(),
			})
		}
		q.Options = append(q.Options, ClarificationOption{Key: DecideForMe, Label: "Decide for me", Description: "Let the agent pick per best practices"})
		questions = append(questions, q)
	}
	slog.Info("clarification questions generated", "task_id", task.ID, "count", len(questions))
	return questions, nil
}

const planPromptFormat = `Create an execution plan for this task:

Description: %s
Goals: %v
Constraints: %v
Project conventions: %v
%s%s%s
IMPORTANT - Before creating the plan:
1. Extract key domain terms from the task description
2. Search for existing implementation:
   - Use Grep to search code CONTENT (classes, functions, patterns)
   - Use Glob to find files BY NAME
3. Read any existing implementation files you find
4. Build on existing code where it exists; treat as greenfield only when
   nothing relevant is found

Return JSON:
{
    "goal": "main objective",
    "approach": "2-3 sentences explaining your reasoning and what will be done",
    "boundaries": ["what we will NOT do"],
    "steps": [
        {"number": 1, "description": "...", "target_files": [...]},
        ...
    ],
    "risks": ["potential issues"],
    "assumptions": ["what we assume"],
    "replan_conditions": ["when to replan"]
}`

// createPlan runs the planning turn and transitions the task to PLANNING.
func (o *Orchestrator) createPlan(ctx context.Context, task *models.Task, clarifications []ClarificationAnswer) error {
	var conventions []string
	structureSection := ""
	if task.Inventory != nil {
		conventions = task.Inventory.Conventions
		structureSection = formatStructure(task.Inventory.Structure)
	}

	clarificationSection := ""
	if len(clarifications) > 0 {
		var lines []string
		for _, ans := range clarifications {
			switch {
			case ans.SelectedOption == DecideForMe:
				lines = append(lines, fmt.Sprintf("- %s: Let agent decide (best practices)", ans.QuestionID))
			case ans.CustomValue != "":
				lines = append(lines, fmt.Sprintf("- %s: %s", ans.QuestionID, ans.CustomValue))
			default:
				lines = append(lines, fmt.Sprintf("- %s: %s", ans.QuestionID, ans.SelectedOption))
			}
		}
		clarificationSection = fmt.Sprintf("\nUser decisions on ambiguous points:\n%s\n\nThese decisions are REQUIREMENTS - incorporate them into the plan.\n", strings.Join(lines, "\n"))
	}

	research := discoverResearchContext(task.Sources[0])
	if len(research.Refs) > 0 {
		task.ContextRefs = research.Refs
		slog.Info("research context found", "task_id", task.ID, "artifacts", len(research.Refs))
	}

	prompt := fmt.Sprintf(planPromptFormat, task.Description, task.Goals, task.Constraints, conventions, structureSection, research.Section, clarificationSection)
	res, err := o.runAgent(ctx, task, prompt, planningTools)
	if err != nil {
		return fmt.Errorf("planning turn: %w", err)
	}
	plan, err := parsePlan(res.FinalText, 1)
	if err != nil {
		return fmt.Errorf("parse plan: %w", err)
	}
	task.Plan = plan
	task.TransitionTo(models.StatusPlanning)
	if err := o.Repo.Save(task); err != nil {
		return err
	}
	slog.Info("plan created", "task_id", task.ID, "goal", plan.Goal, "steps", len(plan.Steps))
	return nil
}

const refinePromptFormat = `Refine the execution plan based on user feedback.

Current plan:
Goal: %s
Steps:
%s

User feedback:
%s

Task description: %s

Return an UPDATED JSON plan addressing the feedback:
{
    "goal": "main objective",
    "approach": "...",
    "boundaries": ["what we will NOT do"],
    "steps": [
        {"number": 1, "description": "...", "target_files": [...]},
        ...
    ],
    "risks": ["potential issues"],
    "assumptions": ["what we assume"],
    "replan_conditions": ["when to replan"]
}`

// refinePlan replaces the plan with a new version built from reviewer
// feedback.
func (o *Orchestrator) refinePlan(ctx context.Context, task *models.Task, feedback string) error {
	if task.Plan == nil {
		return o.createPlan(ctx, task, nil)
	}
	var steps []string
	for _, s := range task.Plan.Steps {
		steps = append(steps, fmt.Sprintf("  %d. %s", s.Number, s.Description))
	}
	prompt := fmt.Sprintf(refinePromptFormat, task.Plan.Goal, strings.Join(steps, "\n"), feedback, task.Description)
	res, err := o.runAgent(ctx, task, prompt, planningTools)
	if err != nil {
		return fmt.Errorf("refinement turn: %w", err)
	}
	plan, err := parsePlan(res.FinalText, task.Plan.Version+1)
	if err != nil {
		return fmt.Errorf("parse refined plan: %w", err)
	}
	task.Plan = plan
	if err := o.Repo.Save(task); err != nil {
		return err
	}
	slog.Info("plan refined", "task_id", task.ID, "version", plan.Version, "steps", len(plan.Steps))
	return nil
}

// parsePlan decodes the agent's plan JSON. A plan without steps is rejected.
func parsePlan(text string, version int) (*models.Plan, error) {
	raw := agent.ExtractJSON(text)
	if raw == "" || !gjson.Valid(raw) {
		return nil, fmt.Errorf("no plan JSON in agent response")
	}
	plan := &models.Plan{
		Goal:             gjson.Get(raw, "goal").String(),
		Approach:         gjson.Get(raw, "approach").String(),
		Boundaries:       stringList(gjson.Get(raw, "boundaries")),
		Risks:            stringList(gjson.Get(raw, "risks")),
		Assumptions:      stringList(gjson.Get(raw, "assumptions")),
		ReplanConditions: stringList(gjson.Get(raw, "replan_conditions")),
		Version:          version,
	}
	for _, s := range gjson.Get(raw, "steps").Array() {
		plan.Steps = append(plan.Steps, models.PlanStep{
			Number:      int(s.Get("number").Int()),
			Description: s.Get("description").String(),
			TargetFiles: stringList(s.Get("target_files")),
		})
	}
	if plan.Goal == "" || len(plan.Steps) == 0 {
		return nil, fmt.Errorf("plan missing goal or steps")
	}
	return plan, nil
}

func stringList(r gjson.Result) []string {
	var out []string
	for _, item := range r.Array() {
		out = append(out, item.String())
	}
	return out
}

func formatStructure(structure map[string][]string) string {
	if len(structure) == 0 {
		return ""
	}
	var lines []string
	if files := structure["root_files"]; len(files) > 0 {
		if len(files) > 10 {
			files = files[:10]
		}
		lines = append(lines, "Root files: "+strings.Join(files, ", "))
	}
	if dirs := structure["src_dirs"]; len(dirs) > 0 {
		lines = append(lines, "Source dirs: "+strings.Join(dirs, ", "))
	}
	if dirs := structure["test_dirs"]; len(dirs) > 0 {
		lines = append(lines, "Test dirs: "+strings.Join(dirs, ", "))
	}
	if len(lines) == 0 {
		return ""
	}
	return "\nProject structure (pre-analyzed):\n" + strings.Join(lines, "\n") + "\n"
}

// researchContext is what a prior research run left in the workspace for the
// planner to build on.
type researchContext struct {
	Refs    []models.ContextRef
	Section string
}

// discoverResearchContext looks for research artifacts under
// .proofloop/research in the workspace. The derive payload is the anchor:
// without it, any stray report files are ignored.
func discoverResearchContext(workspace string) researchContext {
	payloadRel := filepath.Join(".proofloop", "research", "derive_payload.json")
	if _, err := os.Stat(filepath.Join(workspace, payloadRel)); err != nil {
		return researchContext{}
	}

	refs := []models.ContextRef{{Kind: models.ContextKindHandoff, RelPath: payloadRel}}
	var b strings.Builder
	b.WriteString("\n## Research Context Available\n\n")
	b.WriteString("Research artifacts found at: .proofloop/research/\n")
	b.WriteString("Key files to read:\n")
	b.WriteString("- " + payloadRel + " (canonical source for implementation)\n")
	for _, name := range []string{"findings.md", "recommendations.md"} {
		rel := filepath.Join(".proofloop", "research", "reports", name)
		if _, err := os.Stat(filepath.Join(workspace, rel)); err != nil {
			continue
		}
		refs = append(refs, models.ContextRef{Kind: models.ContextKindReports, RelPath: rel})
		b.WriteString("- " + rel + "\n")
	}
	b.WriteString(`
Use Read tool to access this context for your plan.
The derive_payload.json contains structured information about:
- Goals and constraints from research
- Key findings with citations
- Recommended approach
- Suggested blocking conditions
`)
	return researchContext{Refs: refs, Section: b.String()}
}

const selectChecksPrompt = `Select the MINIMUM automatic verification checks needed for this task.

Task: %s

Available checks:
%s

STRICT RULES:
- Documentation-only changes (README, docs/*) -> NO checks or just "lint"
- Config changes -> usually NO checks
- Code logic changes -> "test" is usually enough
- Add "typecheck" ONLY if task involves type annotations or API contracts
- Add "lint" ONLY if task involves code style or formatting
- Add "build" ONLY if explicitly building/compiling artifacts
- Prefer FEWER checks - 1 is often enough, max 2

If you select a test check, consider narrowing the scope to relevant tests.

Respond with JSON:
{
    "selected_checks": [],
    "modified_commands": {},
    "reasoning": "Why these specific checks"
}

IMPORTANT: selected_checks CAN be empty for simple tasks!`

const semanticConditionsPrompt = `Based on this PLAN, propose 1-3 KEY acceptance conditions.

PLAN:
Goal: %s
Steps:
%s
Boundaries (what we will NOT do): %s

Original task: %s

IMPORTANT: Generate conditions based on the PLAN, not the original task.

Rules:
- Focus on the OUTCOME of the plan, not implementation details
- Each condition should be independently verifiable
- Maximum 3 conditions (ideally 1-2)
- DO NOT include generic checks like "tests pass" or "code compiles"
- DO include plan-specific outcomes

If plan is simple (typo fix, docs update, config change) -> return empty list []

Respond with JSON:
{
    "conditions": [],
    "reasoning": "How these conditions verify the plan's success"
}`

// defineConditions builds the definition of done from three sources: a
// minimal set of automatic checks picked from the inventory, semantic
// conditions derived from the plan, and user-supplied signal conditions.
func (o *Orchestrator) defineConditions(ctx context.Context, task *models.Task, userConditions []string) error {
	var conditions []*models.Condition

	if task.Inventory != nil && len(task.Inventory.Checks) > 0 {
		selected, err := o.selectAutomaticChecks(ctx, task)
		if err != nil {
			return err
		}
		for i := range task.Inventory.Checks {
			check := &task.Inventory.Checks[i]
			if _, ok := selected[check.Name]; !ok {
				continue
			}
			c := models.NewCondition(check.Name+" passes", models.RoleBlocking)
			id := check.ID
			c.CheckID = &id
			conditions = append(conditions, c)
		}
	}

	semantic, err := o.generateSemanticConditions(ctx, task)
	if err != nil {
		return err
	}
	for _, desc := range semantic {
		conditions = append(conditions, models.NewCondition(desc, models.RoleBlocking))
	}

	for _, desc := range userConditions {
		conditions = append(conditions, models.NewCondition(desc, models.RoleSignal))
	}

	task.Conditions = conditions
	task.TransitionTo(models.StatusConditions)
	if err := o.Repo.Save(task); err != nil {
		return err
	}

	auto, manual, signal := 0, 0, 0
	for _, c := range conditions {
		switch {
		case c.CheckID != nil:
			auto++
		case c.Role == models.RoleBlocking:
			manual++
		default:
			signal++
		}
	}
	slog.Info("conditions defined", "task_id", task.ID, "automatic", auto, "semantic", manual, "signal", signal)
	return nil
}

// selectAutomaticChecks asks the agent which inventory checks matter for this
// task, capped at two. Unparsable answers select nothing.
func (o *Orchestrator) selectAutomaticChecks(ctx context.Context, task *models.Task) (map[string]struct{}, error) {
	var info []string
	for _, c := range task.Inventory.Checks {
		info = append(info, fmt.Sprintf("- name=%s kind=%s command=%q", c.Name, c.Kind, c.Command))
	}
	res, err := o.runAgent(ctx, task, fmt.Sprintf(selectChecksPrompt, task.Description, strings.Join(info, "\n")), []string{})
	if err != nil {
		return nil, fmt.Errorf("check selection turn: %w", err)
	}

	selected := make(map[string]struct{})
	raw := agent.ExtractJSON(res.FinalText)
	if raw == "" || !gjson.Valid(raw) {
		slog.Warn("check selection not parseable, selecting none", "task_id", task.ID)
		return selected, nil
	}
	names := stringList(gjson.Get(raw, "selected_checks"))
	if len(names) > 2 {
		slog.Warn("agent selected too many checks, limiting to 2", "selected", len(names))
		var capped []string
		for _, name := range []string{"test", "typecheck", "lint", "build"} {
			for _, s := range names {
				if s == name && len(capped) < 2 {
					capped = append(capped, s)
				}
			}
		}
		names = capped
	}
	for _, name := range names {
		selected[name] = struct{}{}
	}

	gjson.Get(raw, "modified_commands").ForEach(func(k, v gjson.Result) bool {
		for i := range task.Inventory.Checks {
			check := &task.Inventory.Checks[i]
			if check.Name == k.String() && v.String() != "" {
				slog.Info("check command modified", "check", check.Name, "command", v.String())
				check.Command = v.String()
			}
		}
		return true
	})
	return selected, nil
}

// generateSemanticConditions derives outcome-level conditions from the plan.
func (o *Orchestrator) generateSemanticConditions(ctx context.Context, task *models.Task) ([]string, error) {
	if task.Plan == nil {
		return nil, nil
	}
	var steps []string
	for _, s := range task.Plan.Steps {
		steps = append(steps, fmt.Sprintf("  %d. %s", s.Number, s.Description))
	}
	boundaries := "none"
	if len(task.Plan.Boundaries) > 0 {
		boundaries = strings.Join(task.Plan.Boundaries, ", ")
	}
	res, err := o.runAgent(ctx, task, fmt.Sprintf(semanticConditionsPrompt, task.Plan.Goal, strings.Join(steps, "\n"), boundaries, task.Description), []string{})
	if err != nil {
		return nil, fmt.Errorf("semantic conditions turn: %w", err)
	}
	raw := agent.ExtractJSON(res.FinalText)
	if raw == "" || !gjson.Valid(raw) {
		return nil, nil
	}
	out := stringList(gjson.Get(raw, "conditions"))
	if len(out) > 3 {
		out = out[:3]
	}
	return out, nil
}
