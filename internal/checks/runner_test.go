package checks

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/exiw-ai/proofloop/pkg/models"
)

func TestRunPass(t *testing.T) {
	r := Runner{}
	check := models.CheckSpec{ID: uuid.New(), Name: "echo", Command: "echo hello"}
	res := r.Run(context.Background(), check, t.TempDir())
	if res.Status != models.CheckPass || res.ExitCode != 0 {
		t.Fatalf("status=%s exit=%d, want pass/0", res.Status, res.ExitCode)
	}
	if strings.TrimSpace(res.Stdout) != "hello" {
		t.Fatalf("stdout = %q", res.Stdout)
	}
	if res.CheckID != check.ID {
		t.Fatal("check id must round-trip")
	}
}

func TestRunFailIsData(t *testing.T) {
	r := Runner{}
	check := models.CheckSpec{ID: uuid.New(), Name: "fail", Command: "echo boom >&2; exit 3"}
	res := r.Run(context.Background(), check, t.TempDir())
	if res.Status != models.CheckFail || res.ExitCode != 3 {
		t.Fatalf("status=%s exit=%d, want fail/3", res.Status, res.ExitCode)
	}
	if !strings.Contains(res.Stderr, "boom") {
		t.Fatalf("stderr = %q", res.Stderr)
	}
}

func TestRunTimeout(t *testing.T) {
	r := Runner{}
	check := models.CheckSpec{
		ID: uuid.New(), Name: "slow",
		Command: "sleep 5",
		Timeout: 50 * time.Millisecond,
	}
	res := r.Run(context.Background(), check, t.TempDir())
	if res.Status != models.CheckFail || res.ExitCode != -1 {
		t.Fatalf("status=%s exit=%d, want fail/-1", res.Status, res.ExitCode)
	}
	if !strings.Contains(res.Stderr, "Timeout") {
		t.Fatalf("stderr = %q", res.Stderr)
	}
}

func TestRunUsesCheckCwd(t *testing.T) {
	dir := t.TempDir()
	r := Runner{}
	check := models.CheckSpec{ID: uuid.New(), Name: "pwd", Command: "pwd", Cwd: dir}
	res := r.Run(context.Background(), check, t.TempDir())
	if strings.TrimSpace(res.Stdout) != dir {
		t.Fatalf("stdout = %q, want %q", res.Stdout, dir)
	}
}

func TestRunEnv(t *testing.T) {
	r := Runner{}
	check := models.CheckSpec{
		ID: uuid.New(), Name: "env",
		Command: "echo $PROOF_X",
		Env:     map[string]string{"PROOF_X": "42"},
	}
	res := r.Run(context.Background(), check, t.TempDir())
	if strings.TrimSpace(res.Stdout) != "42" {
		t.Fatalf("stdout = %q, want 42", res.Stdout)
	}
}
