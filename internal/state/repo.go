// Package state persists the task aggregate and its evidence as JSON files
// under a state directory. Writes are atomic (temp file then rename) and
// serialized by an exclusive per-task lock, so concurrent engine processes
// can share one state directory.
package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/exiw-ai/proofloop/pkg/models"
)

// TaskRepo stores tasks at <state>/tasks/<id>/task.json plus three
// independently versioned side logs under the task directory.
type TaskRepo struct {
	StateDir string
}

// NewTaskRepo returns a repo rooted at stateDir.
func NewTaskRepo(stateDir string) *TaskRepo {
	return &TaskRepo{StateDir: stateDir}
}

func taskDirName(id uuid.UUID) string {
	return strings.ReplaceAll(id.String(), "-", "")
}

func (r *TaskRepo) taskDir(id uuid.UUID) string {
	return filepath.Join(r.StateDir, "tasks", taskDirName(id))
}

func (r *TaskRepo) lockPath(id uuid.UUID) string {
	return filepath.Join(r.taskDir(id), ".lock")
}

// Save writes the task snapshot atomically under the task lock.
func (r *TaskRepo) Save(task *models.Task) error {
	lock, err := acquireLock(r.lockPath(task.ID))
	if err != nil {
		return err
	}
	defer lock.release()

	data, err := json.MarshalIndent(task, "", "  ")
	if err != nil {
		return err
	}
	if err := atomicWrite(filepath.Join(r.taskDir(task.ID), "task.json"), data); err != nil {
		return err
	}
	slog.Debug("saved task snapshot", "task", task.ID)
	return nil
}

// ErrNotFound is returned when no snapshot exists for a task id.
var ErrNotFound = errors.New("task not found")

// Load reads a task snapshot.
func (r *TaskRepo) Load(id uuid.UUID) (*models.Task, error) {
	path := filepath.Join(r.taskDir(id), "task.json")
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	lock, err := acquireLock(r.lockPath(id))
	if err != nil {
		return nil, err
	}
	defer lock.release()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var task models.Task
	if err := json.Unmarshal(data, &task); err != nil {
		return nil, fmt.Errorf("decode task %s: %w", id, err)
	}
	return &task, nil
}

// List returns the ids of all stored tasks.
func (r *TaskRepo) List() ([]uuid.UUID, error) {
	tasksDir := filepath.Join(r.StateDir, "tasks")
	entries, err := os.ReadDir(tasksDir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var ids []uuid.UUID
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, err := os.Stat(filepath.Join(tasksDir, e.Name(), "task.json")); err != nil {
			continue
		}
		id, err := uuid.Parse(e.Name())
		if err != nil {
			slog.Warn("invalid task directory name", "name", e.Name())
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// versionedLog is the on-disk shape of an append-only approval history.
type versionedLog struct {
	CurrentVersion  int            `json:"current_version"`
	ApprovedVersion *int           `json:"approved_version"`
	Versions        []versionEntry `json:"versions"`
}

type versionEntry struct {
	Version   int             `json:"version"`
	Data      json.RawMessage `json:"data"`
	Timestamp time.Time       `json:"timestamp"`
}

// SaveConditionsApproval appends a new version of the condition set to the
// conditions side log. The approved pointer advances when any condition in
// the set is approved.
func (r *TaskRepo) SaveConditionsApproval(taskID uuid.UUID, conditions []*models.Condition) error {
	approved := false
	for _, c := range conditions {
		if c.ApprovalStatus == models.ApprovalApproved {
			approved = true
			break
		}
	}
	return r.appendVersion(taskID, filepath.Join("approvals", "conditions.json"), conditions, approved)
}

// SavePlanApproval appends a new version of the plan to the plan side log.
func (r *TaskRepo) SavePlanApproval(taskID uuid.UUID, plan *models.Plan) error {
	return r.appendVersion(taskID, filepath.Join("approvals", "plan.json"), plan, plan.Approved)
}

func (r *TaskRepo) appendVersion(taskID uuid.UUID, rel string, payload any, approved bool) error {
	lock, err := acquireLock(r.lockPath(taskID))
	if err != nil {
		return err
	}
	defer lock.release()

	path := filepath.Join(r.taskDir(taskID), rel)
	var log versionedLog
	if data, err := os.ReadFile(path); err == nil {
		if err := json.Unmarshal(data, &log); err != nil {
			return fmt.Errorf("decode %s: %w", rel, err)
		}
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	log.CurrentVersion++
	log.Versions = append(log.Versions, versionEntry{
		Version:   log.CurrentVersion,
		Data:      raw,
		Timestamp: time.Now().UTC(),
	})
	if approved {
		v := log.CurrentVersion
		log.ApprovedVersion = &v
	}

	data, err := json.MarshalIndent(log, "", "  ")
	if err != nil {
		return err
	}
	if err := atomicWrite(path, data); err != nil {
		return err
	}
	slog.Debug("saved approval version", "task", taskID, "log", rel, "version", log.CurrentVersion)
	return nil
}

// SaveInventory writes the verification inventory snapshot.
func (r *TaskRepo) SaveInventory(taskID uuid.UUID, inv *models.VerificationInventory) error {
	lock, err := acquireLock(r.lockPath(taskID))
	if err != nil {
		return err
	}
	defer lock.release()

	data, err := json.MarshalIndent(inv, "", "  ")
	if err != nil {
		return err
	}
	return atomicWrite(filepath.Join(r.taskDir(taskID), "inventory", "inventory.json"), data)
}

// atomicWrite writes data to a temp file in the target directory and renames
// it into place. The temp file lands on the same filesystem so the rename is
// atomic.
func atomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".tmp_*"+filepath.Ext(path))
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return nil
}
