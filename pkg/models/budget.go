package models

import "time"

// Default budget limits.
const (
	DefaultWallTimeLimit    = 10 * time.Hour
	DefaultMaxIterations    = 50
	DefaultStagnationLimit  = 3
	DefaultQualityLoopLimit = 3
)

// Budget tracks resource, time, and iteration accounting for one task run.
// Counters only ever move toward exhaustion; IsExhausted never flips back
// without an explicit reset of the underlying fields.
type Budget struct {
	WallTimeLimit    time.Duration `json:"wall_time_limit_ns"`
	MaxIterations    int           `json:"max_iterations"`
	StagnationLimit  int           `json:"stagnation_limit"`
	QualityLoopLimit int           `json:"quality_loop_limit"`

	Elapsed          time.Duration `json:"elapsed_ns"`
	IterationCount   int           `json:"iteration_count"`
	StagnationCount  int           `json:"stagnation_count"`
	QualityLoopCount int           `json:"quality_loop_count"`
	StartTimestamp   time.Time     `json:"start_timestamp,omitempty"`

	now func() time.Time
}

// NewBudget returns a budget with default limits.
func NewBudget() *Budget {
	return &Budget{
		WallTimeLimit:    DefaultWallTimeLimit,
		MaxIterations:    DefaultMaxIterations,
		StagnationLimit:  DefaultStagnationLimit,
		QualityLoopLimit: DefaultQualityLoopLimit,
	}
}

// SetClock injects the time source. Tests use it to control elapsed time
// deterministically; nil restores time.Now.
func (b *Budget) SetClock(now func() time.Time) { b.now = now }

func (b *Budget) clock() time.Time {
	if b.now != nil {
		return b.now()
	}
	return time.Now()
}

// StartTracking records the wall-time start instant. Only the first call has
// an effect.
func (b *Budget) StartTracking() {
	if b.StartTimestamp.IsZero() {
		b.StartTimestamp = b.clock()
	}
}

// RecordIteration recomputes elapsed wall time, increments the iteration
// counter, and resets or advances the stagnation streak depending on whether
// the iteration made progress.
func (b *Budget) RecordIteration(progress bool) {
	if !b.StartTimestamp.IsZero() {
		b.Elapsed = b.clock().Sub(b.StartTimestamp)
	}
	b.IterationCount++
	if progress {
		b.StagnationCount = 0
	} else {
		b.StagnationCount++
	}
}

// IsExhausted reports whether any budget threshold has been reached.
func (b *Budget) IsExhausted() bool {
	return b.Elapsed >= b.WallTimeLimit ||
		b.IterationCount >= b.MaxIterations ||
		b.StagnationCount >= b.StagnationLimit ||
		b.QualityLoopCount >= b.QualityLoopLimit
}
