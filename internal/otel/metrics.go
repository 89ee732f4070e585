package otel

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"
)

var (
	initMetricsOnce    sync.Once
	iterationsCounter  metric.Int64Counter
	rollbacksCounter   metric.Int64Counter
	gateRejections     metric.Int64Counter
	supervisorOutcomes metric.Int64Counter
	agentTurnsCounter  metric.Int64Counter
	stageDuration      metric.Float64Histogram
	checkDuration      metric.Float64Histogram
)

// InitMetrics creates the meter instruments. Safe to call multiple times;
// only runs once. Call after InitMeterProvider.
func InitMetrics(ctx context.Context) error {
	var err error
	initMetricsOnce.Do(func() {
		m := Meter()
		iterationsCounter, err = m.Int64Counter("proofloop_iterations_total", metric.WithDescription("Total delivery iterations executed"))
		if err != nil {
			return
		}
		rollbacksCounter, err = m.Int64Counter("proofloop_rollbacks_total", metric.WithDescription("Total workspace rollbacks performed"))
		if err != nil {
			return
		}
		gateRejections, err = m.Int64Counter("proofloop_gate_rejections_total", metric.WithDescription("Total commands rejected by the tool gate"))
		if err != nil {
			return
		}
		supervisorOutcomes, err = m.Int64Counter("proofloop_supervisor_decisions_total", metric.WithDescription("Supervisor decisions by kind"))
		if err != nil {
			return
		}
		agentTurnsCounter, err = m.Int64Counter("proofloop_agent_turns_total", metric.WithDescription("Total agent turns executed"))
		if err != nil {
			return
		}
		stageDuration, err = m.Float64Histogram("proofloop_stage_duration_seconds", metric.WithDescription("Pipeline stage duration in seconds"))
		if err != nil {
			return
		}
		checkDuration, err = m.Float64Histogram("proofloop_check_duration_seconds", metric.WithDescription("Verification check duration in seconds"))
	})
	return err
}

// RecordIteration counts one delivery iteration with its decision.
func RecordIteration(ctx context.Context, decision string) {
	if iterationsCounter != nil {
		iterationsCounter.Add(ctx, 1, metric.WithAttributes(AttrDecision.String(decision)))
	}
}

// RecordRollback counts one workspace rollback.
func RecordRollback(ctx context.Context) {
	if rollbacksCounter != nil {
		rollbacksCounter.Add(ctx, 1)
	}
}

// RecordGateRejection counts one blocked command per stage.
func RecordGateRejection(ctx context.Context, stage string) {
	if gateRejections != nil {
		gateRejections.Add(ctx, 1, metric.WithAttributes(AttrStage.String(stage)))
	}
}

// RecordSupervisorDecision counts one supervision outcome.
func RecordSupervisorDecision(ctx context.Context, decision string) {
	if supervisorOutcomes != nil {
		supervisorOutcomes.Add(ctx, 1, metric.WithAttributes(AttrDecision.String(decision)))
	}
}

// RecordAgentTurn counts one agent turn per stage.
func RecordAgentTurn(ctx context.Context, stage string) {
	if agentTurnsCounter != nil {
		agentTurnsCounter.Add(ctx, 1, metric.WithAttributes(AttrStage.String(stage)))
	}
}

// RecordStageDuration records how long one pipeline stage took.
func RecordStageDuration(ctx context.Context, stage string, d time.Duration) {
	if stageDuration != nil {
		stageDuration.Record(ctx, d.Seconds(), metric.WithAttributes(AttrStage.String(stage)))
	}
}

// RecordCheckDuration records how long one check took, with its outcome.
func RecordCheckDuration(ctx context.Context, check, status string, d time.Duration) {
	if checkDuration != nil {
		checkDuration.Record(ctx, d.Seconds(), metric.WithAttributes(AttrCheck.String(check), AttrStatus.String(status)))
	}
}
