package executor

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/ppiankov/wastespectre/internal/model"
	"github.com/ppiankov/wastespectre/internal/risk"
	"github.com/ppiankov/wastespectre/internal/telemetry"
)

// CredentialResolver turns an account record into credentials for a region.
type CredentialResolver interface {
	Resolve(ctx context.Context, account model.Account, region string) (aws.CredentialsProvider, error)
}

// RunOptions are passed to every analyzer. Budget is replaced per task.
type RunOptions struct {
	Analyze model.AnalyzeOptions
}

// Executor runs execution plans. One Executor may run several plans, one at a time
// per progress callback.
type Executor struct {
	creds      CredentialResolver
	classifier *risk.Classifier
	metrics    *telemetry.Metrics
	logger     zerolog.Logger
	progressFn func(model.ExecutionProgress)
}

// Option customizes an Executor.
type Option func(*Executor)

// WithClassifier replaces the default-weight risk classifier.
func WithClassifier(c *risk.Classifier) Option {
	return func(e *Executor) { e.classifier = c }
}

// WithMetrics records task and execution outcomes.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(e *Executor) { e.metrics = m }
}

// New creates an executor. creds may be nil, in which case analyzers receive
// nil credentials and use their base configuration.
func New(creds CredentialResolver, logger zerolog.Logger, opts ...Option) *Executor {
	e := &Executor{
		creds:      creds,
		classifier: risk.New(risk.DefaultWeights()),
		logger:     logger.With().Str("component", "executor").Logger(),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// SetProgressFn sets a callback fired after every task transition.
// It is called serially and must not block.
func (e *Executor) SetProgressFn(fn func(model.ExecutionProgress)) {
	e.progressFn = fn
}

// Run executes plan for account. It always returns a result; degraded runs are
// signalled only through PartialResults and Errors.
//
// Tasks are dispatched in plan order while at least SafetyMargin of the
// deadline remains. Run returns once every dispatched task has finished or
// GracePeriod after the deadline, whichever comes first. Tasks still running
// at that point are abandoned: their context is cancelled and their output
// is discarded.
func (e *Executor) Run(ctx context.Context, plan ExecutionPlan, account model.Account, opts RunOptions) *model.ExecutionResult {
	cfg := plan.cfg
	tasks := plan.Tasks()
	start := time.Now()
	deadline := start.Add(cfg.Deadline)

	st := &runState{
		start:       start,
		deadline:    deadline,
		concurrency: cfg.MaxConcurrency,
		notify:      e.progressFn,
		findings:    []model.WasteFinding{},
		errors:      []model.TaskError{},
	}
	st.progress.TotalTasks = len(tasks)

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()
	dispatchCtx, cancelDispatch := context.WithDeadline(runCtx, deadline.Add(-cfg.SafetyMargin))
	defer cancelDispatch()

	e.logger.Info().
		Int("tasks", len(tasks)).
		Int("concurrency", cfg.MaxConcurrency).
		Dur("deadline", cfg.Deadline).
		Str("account", account.ID).
		Msg("Starting execution")

	done := make(chan struct{})
	go func() {
		defer close(done)
		sem := semaphore.NewWeighted(int64(cfg.MaxConcurrency))
		var g errgroup.Group
		for _, task := range tasks {
			if err := sem.Acquire(dispatchCtx, 1); err != nil {
				e.skip(st, task)
				continue
			}
			remaining := time.Until(deadline)
			if remaining < cfg.SafetyMargin {
				sem.Release(1)
				e.skip(st, task)
				continue
			}
			budget := cfg.taskBudget(task.Analyzer.EstimatedDuration(), remaining)
			task := task
			g.Go(func() error {
				defer sem.Release(1)
				e.runTask(runCtx, st, task, account, opts, budget)
				return nil
			})
		}
		_ = g.Wait()
	}()

	timer := time.NewTimer(time.Until(deadline.Add(cfg.GracePeriod)))
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
		e.logger.Warn().Dur("grace_period", cfg.GracePeriod).Msg("Grace period elapsed, abandoning running tasks")
	}

	result := st.close(account.ID)
	e.metrics.ObserveExecution(result.PartialResults)
	e.logger.Info().
		Str("execution_id", result.ExecutionID).
		Int("completed", result.Progress.CompletedTasks).
		Int("failed", result.Progress.FailedTasks).
		Int("skipped", result.Progress.SkippedTasks).
		Int("findings", len(result.Findings)).
		Bool("partial", result.PartialResults).
		Dur("elapsed", result.Progress.Elapsed).
		Msg("Execution finished")
	return result
}

func (e *Executor) skip(st *runState, t Task) {
	if !st.skip() {
		return
	}
	e.metrics.ObserveTask(t.Analyzer.Code(), telemetry.OutcomeSkipped, 0)
	e.logger.Info().Str("analyzer", t.Analyzer.Code()).Str("region", t.Region).Msg("Skipping task, deadline too close")
}

func (e *Executor) runTask(ctx context.Context, st *runState, t Task, account model.Account, opts RunOptions, budget time.Duration) {
	code := t.Analyzer.Code()
	st.begin(code, t.Region)
	started := time.Now()

	findings, err := e.invoke(ctx, t, account, opts, budget)
	elapsed := time.Since(started)
	logger := e.logger.With().Str("analyzer", code).Str("region", t.Region).Logger()

	if err != nil {
		if !st.fail(model.TaskError{Analyzer: code, Region: t.Region, Error: err.Error()}, elapsed) {
			e.abandoned(logger, code, elapsed)
			return
		}
		e.metrics.ObserveTask(code, telemetry.OutcomeFailed, elapsed)
		logger.Warn().Err(err).Dur("elapsed", elapsed).Msg("Task failed")
		return
	}

	for i := range findings {
		f := &findings[i]
		f.Risk = e.classifier.Classify(risk.Input{
			RecommendationType: f.RecommendationType,
			Utilization:        f.Utilization,
			Dependencies:       f.Dependencies,
			Metadata:           f.Metadata,
		})
	}
	if !st.complete(findings, elapsed) {
		e.abandoned(logger, code, elapsed)
		return
	}
	e.metrics.ObserveTask(code, telemetry.OutcomeCompleted, elapsed)
	logger.Debug().Int("findings", len(findings)).Dur("elapsed", elapsed).Dur("budget", budget).Msg("Task completed")
}

func (e *Executor) abandoned(logger zerolog.Logger, code string, elapsed time.Duration) {
	e.metrics.ObserveTask(code, telemetry.OutcomeAbandoned, elapsed)
	logger.Warn().Dur("elapsed", elapsed).Msg("Task finished after the run returned, output dropped")
}

// invoke resolves credentials and calls the analyzer, turning panics into errors.
func (e *Executor) invoke(ctx context.Context, t Task, account model.Account, opts RunOptions, budget time.Duration) (findings []model.WasteFinding, err error) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error().Str("analyzer", t.Analyzer.Code()).Bytes("stack", debug.Stack()).Msg("Analyzer panicked")
			findings, err = nil, fmt.Errorf("panic: %v", r)
		}
	}()

	var creds aws.CredentialsProvider
	if e.creds != nil {
		creds, err = e.creds.Resolve(ctx, account, t.Region)
		if err != nil {
			return nil, fmt.Errorf("resolve credentials: %w", err)
		}
	}

	o := opts.Analyze
	o.Budget = model.NewBudget(budget)
	return t.Analyzer.Analyze(ctx, creds, t.Region, account.ID, o)
}

// runState is the mutable state of one run. Once closed, late task results are rejected.
type runState struct {
	start       time.Time
	deadline    time.Time
	concurrency int
	notify      func(model.ExecutionProgress)

	mu       sync.Mutex
	closed   bool
	progress model.ExecutionProgress
	findings []model.WasteFinding
	errors   []model.TaskError
	busy     time.Duration
}

func (s *runState) begin(code, region string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.progress.CurrentAnalyzer = code
	s.progress.CurrentRegion = region
	s.publish()
}

func (s *runState) skip() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.progress.SkippedTasks++
	s.publish()
	return true
}

func (s *runState) fail(te model.TaskError, elapsed time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.progress.FailedTasks++
	s.errors = append(s.errors, te)
	s.busy += elapsed
	s.publish()
	return true
}

func (s *runState) complete(findings []model.WasteFinding, elapsed time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.progress.CompletedTasks++
	s.findings = append(s.findings, findings...)
	s.busy += elapsed
	s.publish()
	return true
}

// publish refreshes the time fields and fires the callback. Caller holds mu.
func (s *runState) publish() {
	now := time.Now()
	s.progress.Elapsed = now.Sub(s.start)

	finished := s.progress.CompletedTasks + s.progress.FailedTasks
	left := s.progress.TotalTasks - finished - s.progress.SkippedTasks
	var eta time.Duration
	if finished > 0 && left > 0 {
		eta = s.busy / time.Duration(finished) * time.Duration(left) / time.Duration(s.concurrency)
	}
	if untilDeadline := s.deadline.Sub(now); eta > untilDeadline {
		eta = untilDeadline
	}
	if eta < 0 {
		eta = 0
	}
	s.progress.EstimatedRemaining = eta

	if s.notify != nil {
		s.notify(s.progress)
	}
}

// close freezes the state into a result.
func (s *runState) close(accountID string) *model.ExecutionResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true

	p := s.progress
	p.Elapsed = time.Since(s.start)
	p.EstimatedRemaining = 0
	p.CurrentAnalyzer = ""
	p.CurrentRegion = ""

	return &model.ExecutionResult{
		ExecutionID:    uuid.NewString(),
		AccountID:      accountID,
		StartedAt:      s.start.UTC(),
		FinishedAt:     time.Now().UTC(),
		Findings:       s.findings,
		Progress:       p,
		Errors:         s.errors,
		PartialResults: p.FailedTasks > 0 || p.CompletedTasks < p.TotalTasks,
	}
}
