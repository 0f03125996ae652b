// internal/chaos/engine.go
package chaos

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const defaultSampleInterval = time.Second

// ErrSteadyStateInvalid aborts an experiment before any fault is injected.
var ErrSteadyStateInvalid = errors.New("steady state invalid - aborting experiment")

// Experiment defines a chaos engineering test.
type Experiment struct {
	Name           string
	Hypothesis     string
	SteadyState    []Probe
	Method         []Action
	Rollback       []Action
	Validation     []Assertion
	Duration       time.Duration
	SampleInterval time.Duration
}

// Probe is a measurable system property.
type Probe struct {
	Name      string
	Query     func(context.Context) (float64, error)
	Threshold Threshold
}

type Threshold struct {
	Operator string // >, <, >=, <=, ==
	Value    float64
}

func (t Threshold) Holds(value float64) bool {
	switch t.Operator {
	case ">":
		return value > t.Value
	case "<":
		return value < t.Value
	case ">=":
		return value >= t.Value
	case "<=":
		return value <= t.Value
	case "==":
		return value == t.Value
	default:
		return false
	}
}

// Action is a fault injection or recovery step.
type Action struct {
	Type    string
	Target  string
	Execute func(context.Context) error
}

// Assertion checks the last observation of a probe after the run.
type Assertion struct {
	Probe     string
	Condition func(float64) bool
	Message   string
}

// Result captures one experiment execution.
type Result struct {
	ExperimentName   string                 `json:"experiment_name"`
	StartTime        time.Time              `json:"start_time"`
	EndTime          time.Time              `json:"end_time"`
	Duration         time.Duration          `json:"duration"`
	HypothesisHeld   bool                   `json:"hypothesis_held"`
	SteadyStateValid bool                   `json:"steady_state_valid"`
	Violations       []Violation            `json:"violations"`
	Observations     map[string][]DataPoint `json:"observations"`
	ErrorEvents      []ErrorEvent           `json:"error_events"`
	FailedAssertions []string               `json:"failed_assertions,omitempty"`
	MTTR             *time.Duration         `json:"mttr,omitempty"`
}

type Violation struct {
	Probe     string    `json:"probe"`
	Expected  float64   `json:"expected"`
	Actual    float64   `json:"actual"`
	Timestamp time.Time `json:"timestamp"`
}

type DataPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

type ErrorEvent struct {
	Timestamp time.Time `json:"timestamp"`
	Error     string    `json:"error"`
	Component string    `json:"component"`
}

// Engine runs experiments and keeps their results.
type Engine struct {
	tracer      trace.Tracer
	log         *zap.Logger
	mu          sync.Mutex
	experiments []Experiment
	results     []Result
}

func NewEngine(log *zap.Logger) *Engine {
	return &Engine{
		tracer: otel.Tracer("libraryhub/chaos"),
		log:    log,
	}
}

func (e *Engine) Register(exp Experiment) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.experiments = append(e.experiments, exp)
}

func (e *Engine) Experiments() []Experiment {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Experiment(nil), e.experiments...)
}

func (e *Engine) Results() []Result {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Result(nil), e.results...)
}

// Run executes one experiment: verify the steady state, inject, observe for
// Duration, roll back, then check the assertions.
func (e *Engine) Run(ctx context.Context, exp Experiment) (*Result, error) {
	ctx, span := e.tracer.Start(ctx, "chaos.run_experiment",
		trace.WithAttributes(attribute.String("experiment.name", exp.Name)),
	)
	defer span.End()

	result := &Result{
		ExperimentName: exp.Name,
		StartTime:      time.Now(),
		Observations:   make(map[string][]DataPoint),
	}

	span.AddEvent("validating_steady_state")
	if violations := e.checkSteadyState(ctx, exp.SteadyState); len(violations) > 0 {
		result.Violations = violations
		return result, ErrSteadyStateInvalid
	}
	result.SteadyStateValid = true

	span.AddEvent("injecting_chaos")
	for _, action := range exp.Method {
		if err := action.Execute(ctx); err != nil {
			result.ErrorEvents = append(result.ErrorEvents, ErrorEvent{
				Timestamp: time.Now(),
				Error:     err.Error(),
				Component: action.Target,
			})
			span.RecordError(err)
		}
	}

	span.AddEvent("observing_system")
	e.observe(ctx, exp, result)

	span.AddEvent("rolling_back")
	for _, action := range exp.Rollback {
		if err := action.Execute(ctx); err != nil {
			span.RecordError(err)
			e.log.Warn("Rollback action failed", zap.String("target", action.Target), zap.Error(err))
		}
	}

	span.AddEvent("validating_assertions")
	result.FailedAssertions = validateAssertions(exp.Validation, result)
	result.HypothesisHeld = len(result.FailedAssertions) == 0
	result.EndTime = time.Now()
	result.Duration = result.EndTime.Sub(result.StartTime)

	e.mu.Lock()
	e.results = append(e.results, *result)
	e.mu.Unlock()

	span.SetAttributes(
		attribute.Bool("hypothesis_held", result.HypothesisHeld),
		attribute.Int("violations", len(result.Violations)),
	)
	return result, nil
}

// observe samples every probe once immediately and then each interval until
// Duration elapses.
func (e *Engine) observe(ctx context.Context, exp Experiment, result *Result) {
	interval := exp.SampleInterval
	if interval <= 0 {
		interval = defaultSampleInterval
	}
	observationCtx, cancel := context.WithTimeout(ctx, exp.Duration)
	defer cancel()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var recoveryStart time.Time
	recovered := false
	for {
		for _, probe := range exp.SteadyState {
			value, err := probe.Query(ctx)
			now := time.Now()
			if err != nil {
				result.ErrorEvents = append(result.ErrorEvents, ErrorEvent{Timestamp: now, Error: err.Error(), Component: probe.Name})
				continue
			}
			result.Observations[probe.Name] = append(result.Observations[probe.Name], DataPoint{Timestamp: now, Value: value})

			if !probe.Threshold.Holds(value) {
				if recoveryStart.IsZero() {
					recoveryStart = now
				}
				result.Violations = append(result.Violations, Violation{
					Probe:     probe.Name,
					Expected:  probe.Threshold.Value,
					Actual:    value,
					Timestamp: now,
				})
			} else if !recoveryStart.IsZero() && !recovered {
				mttr := now.Sub(recoveryStart)
				result.MTTR = &mttr
				recovered = true
			}
		}

		select {
		case <-observationCtx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (e *Engine) checkSteadyState(ctx context.Context, probes []Probe) []Violation {
	var violations []Violation
	for _, probe := range probes {
		value, err := probe.Query(ctx)
		if err != nil {
			e.log.Warn("Steady state probe failed", zap.String("probe", probe.Name), zap.Error(err))
			violations = append(violations, Violation{Probe: probe.Name, Expected: probe.Threshold.Value, Actual: -1, Timestamp: time.Now()})
			continue
		}
		if !probe.Threshold.Holds(value) {
			violations = append(violations, Violation{Probe: probe.Name, Expected: probe.Threshold.Value, Actual: value, Timestamp: time.Now()})
		}
	}
	return violations
}

// validateAssertions returns the messages of the assertions that failed.
// An assertion on a probe that was never observed fails.
func validateAssertions(assertions []Assertion, result *Result) []string {
	var failed []string
	for _, a := range assertions {
		observations := result.Observations[a.Probe]
		if len(observations) == 0 || !a.Condition(observations[len(observations)-1].Value) {
			failed = append(failed, a.Message)
		}
	}
	return failed
}

// GameDay is a series of experiments run back to back.
type GameDay struct {
	Name      string
	Date      time.Time
	Scenarios []Experiment
	Pause     time.Duration
}

// ExecuteGameDay runs every scenario and reports how many hypotheses held.
// A scenario whose steady state is invalid counts as not held.
func (e *Engine) ExecuteGameDay(ctx context.Context, gd GameDay) (held int, err error) {
	ctx, span := e.tracer.Start(ctx, "chaos.game_day",
		trace.WithAttributes(attribute.String("gameday.name", gd.Name)),
	)
	defer span.End()

	e.log.Info("Starting game day", zap.String("name", gd.Name), zap.Time("date", gd.Date), zap.Int("scenarios", len(gd.Scenarios)))

	for i, scenario := range gd.Scenarios {
		if i > 0 && gd.Pause > 0 {
			select {
			case <-ctx.Done():
				return held, ctx.Err()
			case <-time.After(gd.Pause):
			}
		}

		e.log.Info("Running experiment",
			zap.Int("index", i+1),
			zap.String("name", scenario.Name),
			zap.String("hypothesis", scenario.Hypothesis),
		)
		result, err := e.Run(ctx, scenario)
		if err != nil {
			e.log.Error("Experiment aborted", zap.String("name", scenario.Name), zap.Error(err))
			continue
		}
		e.report(result)
		if result.HypothesisHeld {
			held++
		}
	}
	return held, nil
}

func (e *Engine) report(result *Result) {
	fields := []zap.Field{
		zap.String("name", result.ExperimentName),
		zap.Bool("hypothesis_held", result.HypothesisHeld),
		zap.Int("violations", len(result.Violations)),
		zap.Int("errors", len(result.ErrorEvents)),
		zap.Duration("duration", result.Duration),
	}
	if result.MTTR != nil {
		fields = append(fields, zap.Duration("mttr", *result.MTTR))
	}
	if result.HypothesisHeld {
		e.log.Info("Hypothesis held", fields...)
		return
	}
	e.log.Warn("Hypothesis violated", append(fields, zap.Strings("failed_assertions", result.FailedAssertions))...)
}
