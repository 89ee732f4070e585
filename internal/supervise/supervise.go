// Package supervise watches delivery iterations for anomalies and decides how
// a failed attempt should be retried. A Supervisor is owned by exactly one
// orchestrator run; its anomaly memory is explicit state with explicit resets.
package supervise

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/exiw-ai/proofloop/pkg/models"
)

// Default limits. Rollback is bounded separately from the loop limit so a
// repeating failure gets at most two fresh starts before the run stops.
const (
	DefaultStagnationLimit = 3
	DefaultLoopLimit       = 5
	DefaultFlakyRetryLimit = 2
	DefaultRollbackLimit   = 2
)

// Result is the outcome of one Analyze pass.
type Result struct {
	Decision models.SupervisionDecision
	Anomaly  models.AnomalyType // empty when no anomaly was detected
	Reason   string
}

// Supervisor detects stagnation, loops, regressions, and flaky checks across
// the iteration history of a single task.
type Supervisor struct {
	StagnationLimit int
	LoopLimit       int
	FlakyRetryLimit int
	RollbackLimit   int

	errorHistory  map[string]int
	rollbackCount int
}

// New returns a Supervisor with the default limits.
func New() *Supervisor {
	return &Supervisor{
		StagnationLimit: DefaultStagnationLimit,
		LoopLimit:       DefaultLoopLimit,
		FlakyRetryLimit: DefaultFlakyRetryLimit,
		RollbackLimit:   DefaultRollbackLimit,
		errorHistory:    make(map[string]int),
	}
}

// Analyze inspects the task after an iteration has been appended. Checks run
// in a fixed order and the first finding wins; a clean pass means CONTINUE.
// The loop check registers the iteration's fingerprint as a side effect, so
// Analyze must be called before DecideRetryStrategy for the same iteration.
func (s *Supervisor) Analyze(task *models.Task, latest *models.Iteration) Result {
	if r, ok := s.checkBudgetRisk(task); ok {
		return r
	}
	if r, ok := s.checkRegression(task.Iterations); ok {
		return r
	}
	if r, ok := s.checkLoop(task, latest); ok {
		return r
	}
	if r, ok := s.checkStagnation(task.Iterations); ok {
		return r
	}
	if r, ok := s.checkFlaky(task.Iterations); ok {
		return r
	}
	return Result{Decision: models.SuperviseContinue, Reason: "Progress detected, continuing"}
}

func (s *Supervisor) checkBudgetRisk(task *models.Task) (Result, bool) {
	b := task.Budget
	if float64(b.IterationCount) >= float64(b.MaxIterations)*0.8 {
		return Result{
			Decision: models.SuperviseStop,
			Anomaly:  models.AnomalyContractRisk,
			Reason:   fmt.Sprintf("Budget nearly exhausted: %d/%d iterations", b.IterationCount, b.MaxIterations),
		}, true
	}
	return Result{}, false
}

func (s *Supervisor) checkRegression(iterations []models.Iteration) (Result, bool) {
	if len(iterations) < 2 {
		return Result{}, false
	}
	current := iterations[len(iterations)-1]
	prev := iterations[len(iterations)-2]
	for checkID, status := range current.CheckResults {
		if prev.CheckResults[checkID] == models.CheckPass && status == models.CheckFail {
			return Result{
				Decision: models.SuperviseReplan,
				Anomaly:  models.AnomalyRegression,
				Reason:   fmt.Sprintf("Check %s regressed from PASS to FAIL", checkID),
			}, true
		}
	}
	return Result{}, false
}

func (s *Supervisor) checkLoop(task *models.Task, latest *models.Iteration) (Result, bool) {
	fp := Fingerprint(task, latest)
	if fp == "" {
		return Result{}, false
	}
	s.errorHistory[fp]++
	count := s.errorHistory[fp]

	if count >= s.LoopLimit {
		return Result{
			Decision: models.SuperviseStop,
			Anomaly:  models.AnomalyLoopDetected,
			Reason:   fmt.Sprintf("Same error pattern repeated %d times, stopping", count),
		}, true
	}
	if count >= 3 {
		return Result{
			Decision: models.SuperviseReplan,
			Anomaly:  models.AnomalyLoopDetected,
			Reason:   fmt.Sprintf("Same error pattern repeated %d times, replanning", count),
		}, true
	}
	return Result{}, false
}

func (s *Supervisor) checkStagnation(iterations []models.Iteration) (Result, bool) {
	if len(iterations) < 2 {
		return Result{}, false
	}
	stagnant := trailingStagnant(iterations)
	if stagnant >= s.StagnationLimit {
		return Result{
			Decision: models.SuperviseReplan,
			Anomaly:  models.AnomalyStagnation,
			Reason:   fmt.Sprintf("No progress for %d iterations, replanning", stagnant),
		}, true
	}
	if stagnant >= 2 {
		return Result{
			Decision: models.SuperviseDeepenContext,
			Anomaly:  models.AnomalyStagnation,
			Reason:   fmt.Sprintf("No progress for %d iterations, deepening context", stagnant),
		}, true
	}
	return Result{}, false
}

// trailingStagnant counts the run of most recent iterations with no changes.
func trailingStagnant(iterations []models.Iteration) int {
	count := 0
	for i := len(iterations) - 1; i >= 0; i-- {
		if len(iterations[i].Changes) > 0 {
			break
		}
		count++
	}
	return count
}

func (s *Supervisor) checkFlaky(iterations []models.Iteration) (Result, bool) {
	if len(iterations) < 3 {
		return Result{}, false
	}
	recent := iterations[len(iterations)-3:]
	for checkID := range recent[2].CheckResults {
		var statuses []models.CheckStatus
		for _, it := range recent {
			if st, ok := it.CheckResults[checkID]; ok {
				statuses = append(statuses, st)
			}
		}
		if isFlakyPattern(statuses) {
			return Result{
				Decision: models.SuperviseBlock,
				Anomaly:  models.AnomalyFlakyCheck,
				Reason:   fmt.Sprintf("Check %s appears flaky: %v", checkID, statuses),
			}, true
		}
	}
	return Result{}, false
}

func isFlakyPattern(statuses []models.CheckStatus) bool {
	if len(statuses) < 3 {
		return false
	}
	pass, fail := models.CheckPass, models.CheckFail
	return (statuses[0] == pass && statuses[1] == fail && statuses[2] == pass) ||
		(statuses[0] == fail && statuses[1] == pass && statuses[2] == fail)
}

// Fingerprint hashes the set of currently-failing check and condition ids.
// Task conditions are folded in so a manual condition that was not re-checked
// this round still contributes. An empty set has no fingerprint.
// Deterministic: the same set yields the same value regardless of map order.
func Fingerprint(task *models.Task, iteration *models.Iteration) string {
	failed := make(map[string]struct{})
	for checkID, status := range iteration.CheckResults {
		if status == models.CheckFail {
			failed[checkID.String()] = struct{}{}
		}
	}
	for _, c := range task.Conditions {
		if c.CheckStatus == models.CheckFail {
			failed[c.ID.String()] = struct{}{}
		}
	}
	if len(failed) == 0 {
		return ""
	}
	ids := make([]string, 0, len(failed))
	for id := range failed {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	sum := sha256.Sum256([]byte(strings.Join(ids, "|")))
	return hex.EncodeToString(sum[:])[:16]
}

// DecideRetryStrategy picks how to retry after a failed delivery attempt.
// It reads the fingerprint count registered by the preceding Analyze call.
func (s *Supervisor) DecideRetryStrategy(task *models.Task, iteration *models.Iteration) (models.RetryStrategy, string) {
	if fp := Fingerprint(task, iteration); fp != "" {
		repeat := s.errorHistory[fp]
		if repeat >= s.LoopLimit {
			return models.RetryStop, fmt.Sprintf("Same error %d times, stopping", repeat)
		}
		if repeat >= 2 && s.rollbackCount < s.RollbackLimit {
			s.rollbackCount++
			return models.RetryRollbackAndRetry, "Same error repeated, trying fresh"
		}
	}
	if len(iteration.Changes) == 0 {
		return models.RetryStop, "No changes made, stopping"
	}
	return models.RetryContinueWithContext, "Providing failure feedback"
}

// ResetErrorHistory clears the fingerprint memory, typically after a replan.
func (s *Supervisor) ResetErrorHistory() {
	s.errorHistory = make(map[string]int)
}

// ResetRollbackCount clears the rollback budget.
func (s *Supervisor) ResetRollbackCount() {
	s.rollbackCount = 0
}
