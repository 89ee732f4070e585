package mcpsel

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/exiw-ai/proofloop/internal/agent"
	"github.com/exiw-ai/proofloop/pkg/models"
)

func TestDefaultRegistry(t *testing.T) {
	r := DefaultRegistry()
	if _, ok := r.Get("playwright"); !ok {
		t.Fatal("playwright must be registered")
	}
	if _, ok := r.Get("nope"); ok {
		t.Fatal("unknown server must not resolve")
	}
	all := r.ListAll()
	for i := 1; i < len(all); i++ {
		if all[i-1].Name >= all[i].Name {
			t.Fatalf("ListAll not sorted at %d: %s >= %s", i, all[i-1].Name, all[i].Name)
		}
	}
	vcs := r.ListByCategory("vcs")
	if len(vcs) != 2 {
		t.Fatalf("vcs category = %v", vcs)
	}
}

func TestLoadRegistryMergesOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mcp.yaml")
	content := `servers:
  - name: internal-docs
    description: Company documentation search
    category: search
    command: /usr/local/bin/docs-mcp
  - name: github
    description: Overridden
    category: vcs
    command: /opt/github-mcp
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	r, err := LoadRegistry(path)
	if err != nil {
		t.Fatal(err)
	}
	if custom, ok := r.Get("internal-docs"); !ok || custom.Command != "/usr/local/bin/docs-mcp" {
		t.Fatalf("custom server = %+v, %v", custom, ok)
	}
	if gh, _ := r.Get("github"); gh.Command != "/opt/github-mcp" {
		t.Fatalf("override not applied: %+v", gh)
	}
	if _, ok := r.Get("playwright"); !ok {
		t.Fatal("defaults must survive the merge")
	}
}

func TestLoadRegistryMissingFile(t *testing.T) {
	r, err := LoadRegistry(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := r.Get("fetch"); !ok {
		t.Fatal("missing file must yield the default registry")
	}
}

func TestSuggestParsesAgentAnswer(t *testing.T) {
	stub := &agent.Stub{Results: []agent.Result{{FinalText: `Here are my picks:
[
  {"name": "playwright", "reason": "task mentions browser testing", "confidence": 0.9},
  {"name": "made-up-server", "reason": "x", "confidence": 0.9},
  {"name": "fetch", "reason": "needs HTTP calls"}
]`}}}
	sel := &Selector{Agent: stub, Registry: DefaultRegistry()}
	task := &models.Task{Description: "add browser tests", Sources: []string{t.TempDir()}}

	got, err := sel.Suggest(context.Background(), task, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("suggestions = %+v", got)
	}
	if got[0].ServerName != "playwright" || got[0].Confidence != 0.9 {
		t.Fatalf("first = %+v", got[0])
	}
	if got[1].ServerName != "fetch" || got[1].Confidence != 0.5 {
		t.Fatalf("default confidence not applied: %+v", got[1])
	}
	if got[0].Template.Command != "npx" {
		t.Fatalf("template not attached: %+v", got[0].Template)
	}
}

func TestSuggestUnparsableAnswer(t *testing.T) {
	stub := &agent.Stub{Results: []agent.Result{{FinalText: "no servers needed, plain prose"}}}
	sel := &Selector{Agent: stub, Registry: DefaultRegistry()}
	got, err := sel.Suggest(context.Background(), &models.Task{Description: "x"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Fatalf("expected no suggestions, got %+v", got)
	}
}

func TestMissingCredentials(t *testing.T) {
	t.Setenv("GITHUB_TOKEN", "")
	tmpl, _ := DefaultRegistry().Get("github")
	if missing := MissingCredentials(tmpl); len(missing) != 1 || missing[0] != "GITHUB_TOKEN" {
		t.Fatalf("missing = %v", missing)
	}
	t.Setenv("GITHUB_TOKEN", "tok")
	if missing := MissingCredentials(tmpl); missing != nil {
		t.Fatalf("missing = %v", missing)
	}
}
