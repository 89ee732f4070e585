package state

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/exiw-ai/proofloop/pkg/models"
)

// EvidenceStore persists check run artifacts under the task directory:
// iterations/<n>/checks/<condition>/<ts>.json plus a matching .log, with a
// last.json index pointing at the newest pair.
type EvidenceStore struct {
	StateDir string
}

// NewEvidenceStore returns a store rooted at stateDir.
func NewEvidenceStore(stateDir string) *EvidenceStore {
	return &EvidenceStore{StateDir: stateDir}
}

func (s *EvidenceStore) taskDir(id uuid.UUID) string {
	return filepath.Join(s.StateDir, "tasks", taskDirName(id))
}

func (s *EvidenceStore) lockPath(id uuid.UUID) string {
	return filepath.Join(s.taskDir(id), ".lock")
}

func timestampName(t time.Time) string {
	return t.UTC().Format("20060102T150405.000000000")
}

// SaveCheckEvidence writes one check result and its log for an iteration.
// Returns the artifact and log paths relative to the state directory, fit
// for an EvidenceRef.
func (s *EvidenceStore) SaveCheckEvidence(taskID uuid.UUID, iterationNum int, conditionID uuid.UUID, result models.CheckRunResult, logContent string) (artifactRel, logRel string, err error) {
	checksDir := filepath.Join(
		s.taskDir(taskID),
		"iterations", iterationDirName(iterationNum),
		"checks", taskDirName(conditionID),
	)
	return s.writePair(taskID, checksDir, result, logContent, true)
}

// SaveBaselineEvidence writes a pre-delivery baseline run of a check under
// inventory/baseline/<check>/.
func (s *EvidenceStore) SaveBaselineEvidence(taskID, checkID uuid.UUID, result models.CheckRunResult, logContent string) (artifactRel, logRel string, err error) {
	baselineDir := filepath.Join(s.taskDir(taskID), "inventory", "baseline", taskDirName(checkID))
	return s.writePair(taskID, baselineDir, result, logContent, false)
}

func (s *EvidenceStore) writePair(taskID uuid.UUID, dir string, result models.CheckRunResult, logContent string, index bool) (artifactRel, logRel string, err error) {
	lock, err := acquireLock(s.lockPath(taskID))
	if err != nil {
		return "", "", err
	}
	defer lock.release()

	ts := timestampName(time.Now())
	artifactPath := filepath.Join(dir, ts+".json")
	logPath := filepath.Join(dir, ts+".log")

	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return "", "", err
	}
	if err := atomicWrite(artifactPath, data); err != nil {
		return "", "", err
	}
	if err := atomicWrite(logPath, []byte(logContent)); err != nil {
		return "", "", err
	}

	if index {
		last, err := json.MarshalIndent(map[string]any{
			"latest_result": ts + ".json",
			"latest_log":    ts + ".log",
			"timestamp":     time.Now().UTC().Format(time.RFC3339Nano),
		}, "", "  ")
		if err != nil {
			return "", "", err
		}
		if err := atomicWrite(filepath.Join(dir, "last.json"), last); err != nil {
			return "", "", err
		}
	}

	artifactRel, err = filepath.Rel(s.StateDir, artifactPath)
	if err != nil {
		return "", "", err
	}
	logRel, err = filepath.Rel(s.StateDir, logPath)
	if err != nil {
		return "", "", err
	}
	slog.Debug("saved check evidence", "task", taskID, "artifact", artifactRel)
	return artifactRel, logRel, nil
}

func iterationDirName(n int) string {
	return fmt.Sprintf("%04d", n)
}
