// Package runtime provides the Engine - the procurement workflow driver.
//
// The Engine walks a run through the fixed state machine
//
//	Pending -> Classifying -> Generating -> Approving -> (Approved | Rejected | Escalated)
//
// executing one stage per non-terminal state. Retryable stage failures are
// retried with exponential backoff; anything else, or running out of
// retries, moves the run to Failed. Execute always returns a terminal RunState.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jeeves-cluster-organization/procurement/commbus"
	"github.com/jeeves-cluster-organization/procurement/coreengine/agents"
	"github.com/jeeves-cluster-organization/procurement/coreengine/config"
	"github.com/jeeves-cluster-organization/procurement/coreengine/delivery"
	"github.com/jeeves-cluster-organization/procurement/coreengine/domain"
	"github.com/jeeves-cluster-organization/procurement/coreengine/envelope"
	"github.com/jeeves-cluster-organization/procurement/coreengine/errs"
	"github.com/jeeves-cluster-organization/procurement/coreengine/guardrails"
	"github.com/jeeves-cluster-organization/procurement/coreengine/kernel"
	"github.com/jeeves-cluster-organization/procurement/coreengine/observability"
)

var tracer = otel.Tracer("procurement/runtime")

// StepValidation names the log entry of a request rejected before any stage ran.
const StepValidation = "validation"

// Logger is the structured logger the engine writes to.
type Logger = observability.Logger

// Engine executes procurement runs. It is safe for concurrent use; runs
// share only the immutable configuration and guardrail policy.
type Engine struct {
	cfg       *config.EngineConfig
	stages    []agents.Stage
	bus       commbus.CommBus
	deliverer delivery.Deliverer
	logger    Logger
	now       func() time.Time
	newID     func() string
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger. Stages log through it too.
func WithLogger(l Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithBus publishes run events on bus.
func WithBus(bus commbus.CommBus) Option {
	return func(e *Engine) { e.bus = bus }
}

// WithDeliverer hands approved documents to d once a run terminates.
func WithDeliverer(d delivery.Deliverer) Option {
	return func(e *Engine) { e.deliverer = d }
}

// WithClock replaces time.Now for timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithIDGenerator replaces the run ID generator.
func WithIDGenerator(fn func() string) Option {
	return func(e *Engine) {
		if fn != nil {
			e.newID = fn
		}
	}
}

// NewEngine validates cfg and builds the stage pipeline. A nil cfg uses the
// defaults; a nil critic reviews documents through gen.
func NewEngine(cfg *config.EngineConfig, gen agents.Generator, critic agents.Critic, opts ...Option) (*Engine, error) {
	if cfg == nil {
		cfg = config.DefaultEngineConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if gen == nil {
		return nil, errors.New("runtime: a generator is required")
	}

	e := &Engine{
		cfg:    cfg.Clone(),
		logger: observability.NopLogger{},
		now:    time.Now,
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}

	stageOpts := []agents.Option{agents.WithLogger(e.logger), agents.WithClock(e.now)}
	if critic == nil {
		critic = agents.NewGeneratorCritic(gen, stageOpts...)
	}
	e.stages = []agents.Stage{
		agents.NewClassificationStage(gen, stageOpts...),
		agents.NewGenerationStage(gen, e.cfg, stageOpts...),
		agents.NewApprovalStage(guardrails.NewPolicy(e.cfg), critic, stageOpts...),
	}

	e.logger.Info("engine_ready",
		"stages", len(e.stages),
		"stage_timeout", e.cfg.StageTimeout.String(),
		"max_retries", e.cfg.MaxRetries,
		"auto_approval_ceiling", e.cfg.AutoApprovalCeiling,
	)
	return e, nil
}

// Config returns a copy of the engine configuration.
func (e *Engine) Config() *config.EngineConfig {
	return e.cfg.Clone()
}

// RegisterHandlers answers GetEngineConfig queries on bus.
func (e *Engine) RegisterHandlers(bus commbus.CommBus) error {
	return bus.RegisterHandler(commbus.TypeGetEngineConfig, func(ctx context.Context, msg commbus.Message) (any, error) {
		return &commbus.EngineConfigResponse{Config: e.cfg.ToMap()}, nil
	})
}

// =============================================================================
// EXECUTION
// =============================================================================

// run is the per-execution state that never leaves the driving goroutine.
type run struct {
	state  *envelope.RunState
	logger Logger
	span   trace.Span
}

// Execute runs req to a terminal state. It never returns a non-terminal
// RunState; failures are recorded on the state's Cause and log.
func (e *Engine) Execute(ctx context.Context, req domain.ProcurementRequest) *envelope.RunState {
	startedAt := e.now()
	runID := e.newID()

	req = req.Clone()
	req.Normalize(e.cfg.DefaultCurrency)
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.SubmittedAt.IsZero() {
		req.SubmittedAt = startedAt
	}

	ctx, span := tracer.Start(ctx, "workflow.run",
		trace.WithAttributes(
			attribute.String("run.id", runID),
			attribute.String("request.id", req.ID),
			attribute.Float64("request.budget", req.Budget),
		),
	)
	defer span.End()

	r := &run{
		state:  envelope.New(runID, req, startedAt),
		logger: e.logger.Bind("run_id", runID),
		span:   span,
	}

	observability.RunStarted()
	r.logger.Info("run_started",
		"request_id", req.ID,
		"requester", req.Requester,
		"budget", req.Budget,
		"currency", req.Currency,
	)
	e.publish(ctx, r, &commbus.RunStarted{
		RunID:     runID,
		RequestID: req.ID,
		Requester: req.Requester,
		Subject:   req.Subject(),
		Budget:    req.Budget,
		Currency:  req.Currency,
		At:        startedAt,
	})

	if err := req.Validate(); err != nil {
		serr := errs.Wrap(errs.KindInvalidRequest, err, "request rejected").WithStage(StepValidation)
		e.record(ctx, r, envelope.Transition{
			Stage:     StepValidation,
			Attempt:   1,
			State:     kernel.StatusPending,
			Next:      kernel.StatusFailed,
			Outcome:   envelope.OutcomeFailed,
			ErrorKind: serr.Kind,
			Error:     serr.Error(),
		})
		e.fail(r, serr)
	} else {
		e.drive(ctx, r)
	}

	e.complete(ctx, r)
	return r.state
}

// drive executes the stages in order until the run terminates.
func (e *Engine) drive(ctx context.Context, r *run) {
	for _, stage := range e.stages {
		if err := ctx.Err(); err != nil {
			e.cancel(r, stage, 1, 0, err)
			return
		}
		if err := r.state.Advance(stage.Status()); err != nil {
			e.fail(r, errs.Wrap(errs.KindInternal, err, "enter %s", stage.Status()).WithStage(stage.Name()))
			return
		}

		out, ok := e.runStage(ctx, r, stage)
		if !ok {
			return
		}

		if result, isApproval := out.(domain.ApprovalResult); isApproval {
			if err := r.state.Terminate(statusFor(result.Outcome), nil, e.now()); err != nil {
				e.fail(r, errs.Wrap(errs.KindInternal, err, "terminate").WithStage(stage.Name()))
			}
			return
		}
	}
	if !r.state.IsTerminal() {
		e.fail(r, errs.New(errs.KindInternal, "stages finished without a decision"))
	}
}

// runStage executes one stage with retries. It returns the merged output and
// true, or false once the run has been terminated.
func (e *Engine) runStage(ctx context.Context, r *run, stage agents.Stage) (any, bool) {
	policy := backoff.WithContext(backoff.WithMaxRetries(e.newBackOff(), uint64(e.cfg.MaxRetries)), ctx)

	for attempt := 1; ; attempt++ {
		began := e.now()
		out, err := e.attempt(ctx, r, stage, attempt)
		if err == nil {
			err = r.state.Merge(out)
		}
		elapsed := max(e.now().Sub(began), 0)

		if err == nil {
			e.record(ctx, r, envelope.Transition{
				Stage:    stage.Name(),
				Attempt:  attempt,
				State:    stage.Status(),
				Next:     nextStatus(stage, out),
				Outcome:  envelope.OutcomeSuccess,
				Duration: elapsed,
			})
			return out, true
		}

		serr := asStageError(err, stage.Name())
		if serr.Kind == errs.KindCancelled || ctx.Err() != nil {
			e.cancel(r, stage, attempt, elapsed, err)
			return nil, false
		}

		if serr.Kind.Retryable() {
			if wait := policy.NextBackOff(); wait != backoff.Stop {
				e.record(ctx, r, envelope.Transition{
					Stage:     stage.Name(),
					Attempt:   attempt,
					State:     stage.Status(),
					Next:      stage.Status(),
					Outcome:   envelope.OutcomeRetry,
					ErrorKind: serr.Kind,
					Error:     serr.Error(),
					Duration:  elapsed,
				})
				r.logger.Warn("stage_retry_scheduled",
					"stage", stage.Name(),
					"attempt", attempt,
					"backoff_ms", wait.Milliseconds(),
					"error", serr.Error(),
				)
				if err := sleep(ctx, wait); err != nil {
					e.cancel(r, stage, attempt+1, 0, err)
					return nil, false
				}
				continue
			}
			if ctx.Err() != nil {
				e.cancel(r, stage, attempt, elapsed, ctx.Err())
				return nil, false
			}
			serr = errs.RetriesExhausted(serr, attempt).WithStage(stage.Name())
		}

		e.record(ctx, r, envelope.Transition{
			Stage:     stage.Name(),
			Attempt:   attempt,
			State:     stage.Status(),
			Next:      kernel.StatusFailed,
			Outcome:   envelope.OutcomeFailed,
			ErrorKind: serr.Kind,
			Error:     serr.Error(),
			Duration:  elapsed,
		})
		e.fail(r, serr)
		return nil, false
	}
}

// attempt runs one stage attempt under the per-stage timeout. The stage runs
// on its own goroutine so that a stage ignoring its context still times out;
// a result that arrives late is dropped.
func (e *Engine) attempt(ctx context.Context, r *run, stage agents.Stage, attempt int) (any, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, e.cfg.StageTimeout)
	defer cancel()

	type result struct {
		out any
		err error
	}
	done := make(chan result, 1)
	view := r.state.View()

	r.logger.Debug("stage_attempt_started", "stage", stage.Name(), "attempt", attempt)

	kernel.SafeGo(r.logger, "stage."+stage.Name(), func() {
		out, err := stage.Execute(attemptCtx, view)
		done <- result{out: out, err: err}
	}, func(p *kernel.PanicError) {
		done <- result{err: errs.Wrap(errs.KindInternal, p, "stage panicked")}
	})

	select {
	case res := <-done:
		if res.err != nil && ctx.Err() != nil {
			return nil, errs.Cancelled(ctx.Err())
		}
		return res.out, res.err
	case <-attemptCtx.Done():
		if ctx.Err() != nil {
			return nil, errs.Cancelled(ctx.Err())
		}
		return nil, errs.UpstreamUnavailable(
			fmt.Errorf("attempt timed out after %s: %w", e.cfg.StageTimeout, attemptCtx.Err()),
		)
	}
}

// =============================================================================
// TERMINATION
// =============================================================================

// cancel appends a cancelled entry for stage and fails the run.
func (e *Engine) cancel(r *run, stage agents.Stage, attempt int, elapsed time.Duration, cause error) {
	serr := errs.Cancelled(cause).WithStage(stage.Name())
	if se, ok := errs.As(cause); ok && se.Kind == errs.KindCancelled {
		serr = se.WithStage(stage.Name())
	}
	e.record(context.Background(), r, envelope.Transition{
		Stage:     stage.Name(),
		Attempt:   attempt,
		State:     r.state.Status(),
		Next:      kernel.StatusFailed,
		Outcome:   envelope.OutcomeCancelled,
		ErrorKind: serr.Kind,
		Error:     serr.Error(),
		Duration:  elapsed,
	})
	r.logger.Info("run_cancelled", "stage", stage.Name(), "reason", cause.Error())
	e.fail(r, serr)
}

// fail moves the run to Failed with cause.
func (e *Engine) fail(r *run, cause *errs.StageError) {
	if err := r.state.Terminate(kernel.StatusFailed, cause, e.now()); err != nil {
		// Every non-terminal state may move to Failed, so this only fires
		// when the run already terminated.
		r.logger.Error("run_fail_rejected", "error", err, "cause", cause.Error())
		return
	}
	r.logger.Warn("run_failed", "error_kind", string(cause.Kind), "error", cause.Error())
}

// complete records metrics, publishes RunCompleted and delivers approved
// documents.
func (e *Engine) complete(ctx context.Context, r *run) {
	state := r.state
	status := state.Status()
	durationMS := state.CompletedAt().Sub(state.StartedAt()).Milliseconds()

	observability.RecordRun(string(status), int(durationMS))

	event := &commbus.RunCompleted{
		RunID:      state.RunID(),
		Status:     string(status),
		DurationMS: durationMS,
		At:         state.CompletedAt(),
	}
	if res, ok := state.Approval(); ok {
		event.Issues = res.Issues
	}
	if cause := state.Cause(); cause != nil {
		event.ErrorKind = string(cause.Kind)
		event.Error = cause.Error()
		r.span.SetStatus(codes.Error, cause.Error())
		r.span.RecordError(cause)
	}
	r.span.SetAttributes(attribute.String("run.status", string(status)), attribute.Int("run.transitions", len(state.Log())))

	r.logger.Info("run_completed",
		"status", string(status),
		"transitions", len(state.Log()),
		"issues", len(event.Issues),
		"duration_ms", durationMS,
	)
	e.publish(context.WithoutCancel(ctx), r, event)

	if status == kernel.StatusApproved && e.deliverer != nil {
		e.deliver(ctx, r)
	}
}

// deliver hands the approved document to the deliverer and records the
// outcome as a post-terminal event.
func (e *Engine) deliver(ctx context.Context, r *run) {
	doc, ok := r.state.Document()
	if !ok {
		return
	}
	ctx = delivery.WithRunID(ctx, r.state.RunID())
	name := e.deliverer.Name()

	err := kernel.SafeExecute(r.logger, "delivery."+name, func() error {
		return e.deliverer.Deliver(ctx, doc)
	})

	ev := envelope.PostTerminalEvent{
		Kind:      envelope.PostTerminalDelivery,
		Target:    name,
		Succeeded: err == nil,
		At:        e.now(),
	}
	status := "success"
	if err != nil {
		ev.Error = err.Error()
		status = "error"
		if delivery.IsCircuitOpen(err) {
			status = "circuit_open"
		}
		r.logger.Warn("delivery_failed", "deliverer", name, "error", err)
	} else {
		r.logger.Info("delivery_completed", "deliverer", name, "suppliers", len(doc.Suppliers))
	}
	observability.RecordDelivery(name, status)

	if recErr := r.state.RecordPostTerminal(ev); recErr != nil {
		r.logger.Error("post_terminal_rejected", "error", recErr)
		return
	}
	e.publish(context.WithoutCancel(ctx), r, &commbus.DeliveryCompleted{
		RunID:     r.state.RunID(),
		Deliverer: name,
		Succeeded: ev.Succeeded,
		Error:     ev.Error,
		At:        ev.At,
	})
}

// =============================================================================
// HELPERS
// =============================================================================

// record appends t to the log, then reports it to metrics and subscribers.
func (e *Engine) record(ctx context.Context, r *run, t envelope.Transition) {
	t.At = e.now()
	t = r.state.AppendTransition(t)

	observability.RecordStageAttempt(t.Stage, string(t.Outcome), int(t.Duration.Milliseconds()))
	r.span.AddEvent("transition", trace.WithAttributes(
		attribute.Int("seq", t.Seq),
		attribute.String("stage", t.Stage),
		attribute.String("outcome", string(t.Outcome)),
		attribute.String("next", string(t.Next)),
	))

	fields := []any{
		"seq", t.Seq,
		"stage", t.Stage,
		"attempt", t.Attempt,
		"state", string(t.State),
		"next", string(t.Next),
		"outcome", string(t.Outcome),
		"duration_ms", t.Duration.Milliseconds(),
	}
	if t.Error != "" {
		r.logger.Warn("stage_attempt_failed", append(fields, "error_kind", string(t.ErrorKind), "error", t.Error)...)
	} else {
		r.logger.Info("stage_attempt_completed", fields...)
	}

	e.publish(context.WithoutCancel(ctx), r, &commbus.TransitionRecorded{
		RunID:      r.state.RunID(),
		Seq:        t.Seq,
		Stage:      t.Stage,
		Attempt:    t.Attempt,
		State:      string(t.State),
		Next:       string(t.Next),
		Outcome:    string(t.Outcome),
		ErrorKind:  string(t.ErrorKind),
		Error:      t.Error,
		DurationMS: t.Duration.Milliseconds(),
		At:         t.At,
	})
}

func (e *Engine) publish(ctx context.Context, r *run, msg commbus.Message) {
	if e.bus == nil {
		return
	}
	if err := e.bus.Publish(ctx, msg); err != nil {
		r.logger.Warn("event_publish_failed", "type", commbus.GetMessageType(msg), "error", err)
	}
}

func (e *Engine) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = e.cfg.Backoff.Initial
	b.MaxInterval = e.cfg.Backoff.Max
	b.Multiplier = e.cfg.Backoff.Multiplier
	b.RandomizationFactor = e.cfg.Backoff.Jitter
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// nextStatus is the state a successful attempt hands the run to.
func nextStatus(stage agents.Stage, out any) kernel.Status {
	if res, ok := out.(domain.ApprovalResult); ok {
		return statusFor(res.Outcome)
	}
	if next := stage.Status().Next(); len(next) > 0 {
		return next[0]
	}
	return stage.Status()
}

func statusFor(outcome domain.ApprovalOutcome) kernel.Status {
	switch outcome {
	case domain.OutcomeApproved:
		return kernel.StatusApproved
	case domain.OutcomeEscalated:
		return kernel.StatusEscalated
	default:
		return kernel.StatusRejected
	}
}

// asStageError attributes err to stage, treating foreign errors as internal.
func asStageError(err error, stage string) *errs.StageError {
	if se, ok := errs.As(err); ok {
		return se.WithStage(stage)
	}
	return errs.Wrap(errs.KindInternal, err, "unexpected error").WithStage(stage)
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
