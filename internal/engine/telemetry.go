package engine

import (
	"hash/fnv"
	"sync"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

type instruments struct {
	executionsStarted  metric.Int64Counter
	executionsFinished metric.Int64Counter
	stepsRun           metric.Int64Counter
	stepDuration       metric.Float64Histogram
}

func newInstruments(meter metric.Meter) (*instruments, error) {
	var (
		m   instruments
		err error
	)
	if m.executionsStarted, err = meter.Int64Counter("riskflow.executions.started",
		metric.WithDescription("Executions created")); err != nil {
		return nil, err
	}
	if m.executionsFinished, err = meter.Int64Counter("riskflow.executions.finished",
		metric.WithDescription("Executions that reached a terminal status")); err != nil {
		return nil, err
	}
	if m.stepsRun, err = meter.Int64Counter("riskflow.steps.run",
		metric.WithDescription("Step runs by kind and outcome")); err != nil {
		return nil, err
	}
	if m.stepDuration, err = meter.Float64Histogram("riskflow.steps.duration",
		metric.WithUnit("ms")); err != nil {
		return nil, err
	}
	return &m, nil
}

func withSpanError(span trace.Span, err error) error {
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

// stripedLock serializes engine work on one execution within this process.
// Cross-process safety comes from the status compare-and-set.
type stripedLock struct {
	stripes [64]sync.Mutex
}

func (l *stripedLock) lock(id string) func() {
	h := fnv.New32a()
	h.Write([]byte(id))
	m := &l.stripes[h.Sum32()%uint32(len(l.stripes))]
	m.Lock()
	return m.Unlock
}
