// Package mcpsel holds the registry of known MCP servers and suggests which
// ones a task would benefit from. Suggestions are advisory; the caller decides
// which servers actually get enabled for the run.
package mcpsel

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"

	"github.com/tidwall/gjson"
	"gopkg.in/yaml.v3"

	"github.com/exiw-ai/proofloop/internal/agent"
	"github.com/exiw-ai/proofloop/internal/gate"
	"github.com/exiw-ai/proofloop/pkg/models"
)

// ServerTemplate describes one MCP server that can be offered to the agent.
type ServerTemplate struct {
	Name                string            `yaml:"name"`
	Description         string            `yaml:"description"`
	Category            string            `yaml:"category"`
	Command             string            `yaml:"command"`
	Args                []string          `yaml:"args"`
	RequiredCredentials []string          `yaml:"required_credentials"`
	CredentialHelp      map[string]string `yaml:"credential_help"`
}

// Registry is a name-indexed set of server templates.
type Registry struct {
	mu      sync.RWMutex
	servers map[string]ServerTemplate
}

func NewRegistry() *Registry {
	return &Registry{servers: make(map[string]ServerTemplate)}
}

func (r *Registry) Register(t ServerTemplate) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.servers[t.Name] = t
}

// Get returns the template and whether it exists.
func (r *Registry) Get(name string) (ServerTemplate, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.servers[name]
	return t, ok
}

// ListAll returns every template sorted by name.
func (r *Registry) ListAll() []ServerTemplate {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ServerTemplate, 0, len(r.servers))
	for _, t := range r.servers {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ListByCategory returns templates in the category, sorted by name.
func (r *Registry) ListByCategory(category string) []ServerTemplate {
	var out []ServerTemplate
	for _, t := range r.ListAll() {
		if t.Category == category {
			out = append(out, t)
		}
	}
	return out
}

// DefaultRegistry returns the built-in set of well-known servers.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	for _, t := range []ServerTemplate{
		{Name: "playwright", Description: "Browser automation for web testing and scraping", Category: "browser", Command: "npx", Args: []string{"@anthropic/mcp-server-playwright"}},
		{Name: "puppeteer", Description: "Browser automation with Puppeteer for web scraping", Category: "browser", Command: "npx", Args: []string{"@anthropic/mcp-server-puppeteer"}},
		{Name: "filesystem", Description: "Read and write files with extended access", Category: "files", Command: "npx", Args: []string{"@anthropic/mcp-server-filesystem"}},
		{Name: "github", Description: "GitHub API integration for issues, PRs, repos", Category: "vcs", Command: "npx", Args: []string{"@anthropic/mcp-server-github"}, RequiredCredentials: []string{"GITHUB_TOKEN"}},
		{Name: "gitlab", Description: "GitLab API integration for issues, MRs, repos", Category: "vcs", Command: "npx", Args: []string{"@anthropic/mcp-server-gitlab"}, RequiredCredentials: []string{"GITLAB_TOKEN", "GITLAB_URL"}},
		{Name: "jira", Description: "Jira integration for issues and projects", Category: "project-management", Command: "npx", Args: []string{"@anthropic/mcp-server-jira"}, RequiredCredentials: []string{"JIRA_URL", "JIRA_EMAIL", "JIRA_API_TOKEN"}},
		{Name: "linear", Description: "Linear integration for issues and projects", Category: "project-management", Command: "npx", Args: []string{"@anthropic/mcp-server-linear"}, RequiredCredentials: []string{"LINEAR_API_KEY"}},
		{Name: "postgres", Description: "PostgreSQL database access", Category: "database", Command: "npx", Args: []string{"@anthropic/mcp-server-postgres"}, RequiredCredentials: []string{"POSTGRES_CONNECTION_STRING"}},
		{Name: "sqlite", Description: "SQLite database access", Category: "database", Command: "npx", Args: []string{"@anthropic/mcp-server-sqlite"}},
		{Name: "slack", Description: "Slack workspace integration", Category: "communication", Command: "npx", Args: []string{"@anthropic/mcp-server-slack"}, RequiredCredentials: []string{"SLACK_BOT_TOKEN"}},
		{Name: "memory", Description: "Persistent memory and knowledge storage", Category: "storage", Command: "npx", Args: []string{"@anthropic/mcp-server-memory"}},
		{Name: "brave-search", Description: "Web search using Brave Search API", Category: "search", Command: "npx", Args: []string{"@anthropic/mcp-server-brave-search"}, RequiredCredentials: []string{"BRAVE_API_KEY"}},
		{Name: "fetch", Description: "HTTP requests and web content fetching", Category: "network", Command: "npx", Args: []string{"@anthropic/mcp-server-fetch"}},
		{Name: "sentry", Description: "Sentry error tracking integration", Category: "monitoring", Command: "npx", Args: []string{"@anthropic/mcp-server-sentry"}, RequiredCredentials: []string{"SENTRY_AUTH_TOKEN", "SENTRY_ORG"}},
	} {
		r.Register(t)
	}
	return r
}

// LoadRegistry reads a yaml file of server templates. Entries merge over the
// defaults so users can add or override servers without restating the list.
func LoadRegistry(path string) (*Registry, error) {
	r := DefaultRegistry()
	if path == "" {
		return r, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return r, nil
		}
		return nil, err
	}
	var file struct {
		Servers []ServerTemplate `yaml:"servers"`
	}
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse mcp registry %s: %w", path, err)
	}
	for _, t := range file.Servers {
		if t.Name == "" {
			continue
		}
		r.Register(t)
	}
	return r, nil
}

// Suggestion names one server the task would benefit from.
type Suggestion struct {
	ServerName string
	Reason     string
	Confidence float64
	Template   ServerTemplate
}

// Selector asks the agent which registered servers fit a task.
type Selector struct {
	Agent    agent.Agent
	Registry *Registry
}

const suggestPrompt = `Analyze this task and determine which MCP (Model Context Protocol) servers would be helpful.

Task: %s
Goals: %v
Constraints: %v

Available MCP servers:
%s

Consider:
1. Does the task involve web browsing/testing? -> playwright or puppeteer
2. Does it need external API data (Jira, GitHub, GitLab)? -> corresponding servers
3. Does it involve database operations? -> postgres or sqlite
4. Does it need web search or fetch? -> brave-search or fetch
5. Does it involve file operations outside the workspace? -> filesystem

Return JSON array of suggested servers (empty if none needed):
[
    {
        "name": "server_name",
        "reason": "Brief explanation why this server would help",
        "confidence": 0.8
    }
]

Only suggest servers that would CLEARLY help with the task.
Confidence should be 0.0-1.0 (0.8+ = highly recommended, 0.5-0.8 = useful, <0.5 = optional).
If the task can be completed with standard file operations, return empty array [].`

// Suggest runs one read-only agent turn and maps its answer back to
// registered templates. Unknown names and unparsable answers yield no
// suggestions rather than an error; the stage is advisory.
func (s *Selector) Suggest(ctx context.Context, task *models.Task, emit func(agent.Message)) ([]Suggestion, error) {
	available := make([]map[string]any, 0)
	for _, t := range s.Registry.ListAll() {
		available = append(available, map[string]any{
			"name":                 t.Name,
			"description":          t.Description,
			"category":             t.Category,
			"requires_credentials": len(t.RequiredCredentials) > 0,
		})
	}
	catalog, err := json.MarshalIndent(available, "", "  ")
	if err != nil {
		return nil, err
	}

	workDir := "."
	if len(task.Sources) > 0 {
		workDir = task.Sources[0]
	}
	res, err := s.Agent.Execute(ctx, agent.Request{
		Prompt:       fmt.Sprintf(suggestPrompt, task.Description, task.Goals, task.Constraints, catalog),
		AllowedTools: []string{gate.ToolRead, gate.ToolGlob, gate.ToolGrep},
		WorkDir:      workDir,
	}, emit)
	if err != nil {
		return nil, err
	}

	raw := agent.ExtractJSONArray(res.FinalText)
	if raw == "" || !gjson.Valid(raw) {
		slog.Warn("mcp suggestions not parseable, proceeding without", "task_id", task.ID)
		return nil, nil
	}
	var suggestions []Suggestion
	for _, item := range gjson.Parse(raw).Array() {
		name := item.Get("name").String()
		tmpl, ok := s.Registry.Get(name)
		if !ok {
			slog.Warn("suggested mcp server not in registry", "server", name)
			continue
		}
		confidence := 0.5
		if c := item.Get("confidence"); c.Exists() {
			confidence = c.Float()
		}
		suggestions = append(suggestions, Suggestion{
			ServerName: name,
			Reason:     item.Get("reason").String(),
			Confidence: confidence,
			Template:   tmpl,
		})
	}
	slog.Info("mcp analysis complete", "task_id", task.ID, "suggested", len(suggestions))
	return suggestions, nil
}

// MissingCredentials reports which required credentials are not present in
// the environment for a template.
func MissingCredentials(t ServerTemplate) []string {
	var missing []string
	for _, key := range t.RequiredCredentials {
		if os.Getenv(key) == "" {
			missing = append(missing, key)
		}
	}
	return missing
}
