// Package verify discovers how a project is verified: its test, lint, build,
// and typecheck commands, structure, and conventions. The inventory it
// produces is frozen before any code change is allowed and is the source of
// every automated check the engine runs later.
package verify

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"github.com/exiw-ai/proofloop/internal/agent"
	"github.com/exiw-ai/proofloop/internal/gate"
	"github.com/exiw-ai/proofloop/pkg/models"
)

// Analysis is what project analysis yields before it becomes an inventory.
type Analysis struct {
	Structure   map[string][]string
	Commands    map[string]string // kind -> command
	Conventions []string
	Frameworks  []string
}

// Analyzer asks the agent to read the project's config files and report the
// verification commands. When the agent's answer cannot be parsed, the
// filesystem detector fills in.
type Analyzer struct {
	Agent agent.Agent
}

const analyzePrompt = `Analyze the project at %s and return a JSON with:
{
    "structure": {"root_files": [...], "src_dirs": [...], "test_dirs": [...]},
    "commands": {
        "test": "<command>" or null,
        "lint": "<command>" or null,
        "build": "<command>" or null,
        "typecheck": "<command>" or null
    },
    "conventions": ["<discovered convention>", ...],
    "frameworks": ["<discovered framework>", ...]
}

Read project config files to discover actual commands, conventions and frameworks used.
Return ONLY the JSON, no explanation or markdown code blocks.`

// AnalyzeProject runs the analysis turn with read-only tools.
func (a *Analyzer) AnalyzeProject(ctx context.Context, path string, emit func(agent.Message)) (Analysis, error) {
	req := agent.Request{
		Prompt:       fmt.Sprintf(analyzePrompt, path),
		AllowedTools: []string{gate.ToolRead, gate.ToolGlob, gate.ToolGrep, gate.ToolBash},
		WorkDir:      path,
	}
	res, err := a.Agent.Execute(ctx, req, emit)
	if err != nil {
		return Analysis{}, err
	}
	analysis, ok := parseAnalysis(res.FinalText)
	if !ok {
		slog.Warn("agent analysis not parseable, falling back to detection", "path", path)
		return DetectProject(path), nil
	}
	if len(analysis.Commands) == 0 {
		detected := DetectProject(path)
		analysis.Commands = detected.Commands
	}
	return analysis, nil
}

// parseAnalysis extracts the analysis JSON from the agent's final text,
// tolerating markdown fences and surrounding prose.
func parseAnalysis(text string) (Analysis, bool) {
	raw := agent.ExtractJSON(text)
	if raw == "" || !gjson.Valid(raw) {
		return Analysis{}, false
	}
	a := Analysis{
		Structure: map[string][]string{},
		Commands:  map[string]string{},
	}
	gjson.Get(raw, "structure").ForEach(func(k, v gjson.Result) bool {
		var items []string
		v.ForEach(func(_, item gjson.Result) bool {
			items = append(items, item.String())
			return true
		})
		a.Structure[k.String()] = items
		return true
	})
	gjson.Get(raw, "commands").ForEach(func(k, v gjson.Result) bool {
		if v.Type == gjson.String && v.String() != "" {
			a.Commands[k.String()] = v.String()
		}
		return true
	})
	for _, c := range gjson.Get(raw, "conventions").Array() {
		a.Conventions = append(a.Conventions, c.String())
	}
	for _, f := range gjson.Get(raw, "frameworks").Array() {
		a.Frameworks = append(a.Frameworks, f.String())
	}
	return a, true
}

// DetectProject inspects well-known config files and returns standard
// commands for the toolchains it finds.
func DetectProject(dir string) Analysis {
	a := Analysis{
		Structure: map[string][]string{},
		Commands:  map[string]string{},
	}
	exists := func(name string) bool {
		_, err := os.Stat(filepath.Join(dir, name))
		return err == nil
	}

	switch {
	case exists("go.mod"):
		a.Frameworks = append(a.Frameworks, "go")
		a.Commands["test"] = "go test ./..."
		a.Commands["build"] = "go build ./..."
		a.Commands["lint"] = "go vet ./..."
	case exists("package.json"):
		a.Frameworks = append(a.Frameworks, "node")
		data, err := os.ReadFile(filepath.Join(dir, "package.json"))
		if err == nil {
			scripts := gjson.GetBytes(data, "scripts")
			for _, kind := range []string{"test", "lint", "build", "typecheck"} {
				if scripts.Get(kind).Exists() {
					a.Commands[kind] = "npm run " + kind
				}
			}
		}
	case exists("pyproject.toml") || exists("setup.py"):
		a.Frameworks = append(a.Frameworks, "python")
		a.Commands["test"] = "pytest"
		a.Commands["lint"] = "ruff check ."
	case exists("Cargo.toml"):
		a.Frameworks = append(a.Frameworks, "rust")
		a.Commands["test"] = "cargo test"
		a.Commands["build"] = "cargo build"
		a.Commands["lint"] = "cargo clippy"
	}

	if exists("Makefile") {
		data, err := os.ReadFile(filepath.Join(dir, "Makefile"))
		if err == nil {
			for _, kind := range []string{"test", "lint", "build"} {
				if _, taken := a.Commands[kind]; taken {
					continue
				}
				if strings.Contains(string(data), "\n"+kind+":") || strings.HasPrefix(string(data), kind+":") {
					a.Commands[kind] = "make " + kind
				}
			}
		}
	}

	if entries, err := os.ReadDir(dir); err == nil {
		for _, e := range entries {
			if !e.IsDir() {
				a.Structure["root_files"] = append(a.Structure["root_files"], e.Name())
			}
		}
	}
	return a
}

// BuildInventory turns an analysis into the verification inventory, one
// check per discovered command.
func BuildInventory(a Analysis, workDir string) *models.VerificationInventory {
	inv := &models.VerificationInventory{
		Structure:   a.Structure,
		Conventions: a.Conventions,
	}
	kinds := map[string]models.CheckKind{
		"test":      models.CheckKindTest,
		"lint":      models.CheckKindLint,
		"build":     models.CheckKindBuild,
		"typecheck": models.CheckKindTypecheck,
	}
	// Fixed order keeps inventories stable across runs.
	for _, name := range []string{"test", "lint", "build", "typecheck"} {
		cmd, ok := a.Commands[name]
		if !ok || cmd == "" {
			continue
		}
		inv.Checks = append(inv.Checks, models.CheckSpec{
			ID:      uuid.New(),
			Name:    name,
			Kind:    kinds[name],
			Command: cmd,
			Cwd:     workDir,
		})
	}
	return inv
}
