package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestResolveHomeOverrideWins(t *testing.T) {
	t.Setenv("PROOFLOOP_HOME", "/env/home")
	home, err := ResolveHome("/explicit/home")
	if err != nil {
		t.Fatal(err)
	}
	if home != "/explicit/home" {
		t.Fatalf("home = %q", home)
	}
}

func TestResolveHomeEnv(t *testing.T) {
	t.Setenv("PROOFLOOP_HOME", "/env/home")
	home, err := ResolveHome("")
	if err != nil {
		t.Fatal(err)
	}
	if home != "/env/home" {
		t.Fatalf("home = %q", home)
	}
}

func TestResolveHomeDefault(t *testing.T) {
	t.Setenv("PROOFLOOP_HOME", "")
	home, err := ResolveHome("")
	if err != nil {
		t.Fatal(err)
	}
	userHome, _ := os.UserHomeDir()
	if home != filepath.Join(userHome, ".proofloop") {
		t.Fatalf("home = %q", home)
	}
}

func TestHomeContext(t *testing.T) {
	ctx := WithHome(context.Background(), "/h")
	if got, ok := HomeFrom(ctx); !ok || got != "/h" {
		t.Fatalf("HomeFrom = %q, %v", got, ok)
	}
	if _, ok := HomeFrom(context.Background()); ok {
		t.Fatal("HomeFrom on empty context must report not set")
	}
}

func TestLoadSettingsMissingFile(t *testing.T) {
	s, err := LoadSettings(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if s == nil {
		t.Fatal("missing config file must yield defaults")
	}
	if s.Agent.Command != "" || s.Budget.MaxIterations != 0 {
		t.Fatalf("defaults = %+v", s)
	}
}

func TestSettingsRoundTrip(t *testing.T) {
	home := t.TempDir()
	var s Settings
	s.Agent.Command = "claude"
	s.Agent.Args = []string{"-p", "--output-format", "stream-json"}
	s.Agent.Timeout = 10 * time.Minute
	s.Budget.WallTimeLimit = 2 * time.Hour
	s.Budget.MaxIterations = 25
	s.Store.Driver = "postgres"
	s.Store.DSN = "postgres://localhost/proofloop"
	s.Metrics.Listen = ":9464"
	s.AutoApprove = true

	if err := SaveSettings(home, &s); err != nil {
		t.Fatal(err)
	}
	got, err := LoadSettings(home)
	if err != nil {
		t.Fatal(err)
	}
	if got.Agent.Command != "claude" || len(got.Agent.Args) != 3 {
		t.Fatalf("agent = %+v", got.Agent)
	}
	if got.Budget.MaxIterations != 25 || got.Budget.WallTimeLimit != 2*time.Hour {
		t.Fatalf("budget = %+v", got.Budget)
	}
	if got.Store.Driver != "postgres" || !got.AutoApprove {
		t.Fatalf("got = %+v", got)
	}
}

func TestLoadSettingsMalformed(t *testing.T) {
	home := t.TempDir()
	if err := os.WriteFile(SettingsPath(home), []byte("agent: [not a map"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadSettings(home); err == nil {
		t.Fatal("expected parse error")
	}
}
