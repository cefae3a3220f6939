package services

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/findoc/backend/internal/events"
	"github.com/findoc/backend/internal/logger"
	"github.com/findoc/backend/internal/models"
)

const (
	progressDispatched  = 10
	progressExtracted   = 50
	progressAnalyzed    = 90
	eventPublishTimeout = 5 * time.Second
)

// stageError tags a collaborator failure with the step that produced it.
type stageError struct {
	kind models.ErrorKind
	err  error
}

func (e *stageError) Error() string { return e.err.Error() }
func (e *stageError) Unwrap() error { return e.err }

type panicError struct {
	value interface{}
	stack []byte
}

func (e *panicError) Error() string { return fmt.Sprintf("panic: %v", e.value) }

var errInterrupted = errors.New("analysis interrupted by shutdown")

// runTrace collects what a run produced so far. It stays readable after the
// run is abandoned on timeout.
type runTrace struct {
	mu      sync.Mutex
	text    string
	partial string
}

func (t *runTrace) setText(s string) {
	t.mu.Lock()
	t.text = s
	t.mu.Unlock()
}

func (t *runTrace) setPartial(s string) {
	t.mu.Lock()
	t.partial = s
	t.mu.Unlock()
}

func (t *runTrace) snapshot() (string, string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.text, t.partial
}

type outcome struct {
	text string
	err  error
}

// Executor runs analysis jobs on a bounded worker pool.
type Executor struct {
	store     *JobStore
	extractor TextExtractor
	analyzer  Analyzer
	fallback  FallbackSynthesizer
	history   *HistoryRecorder
	publisher events.Publisher

	workers         int
	queueDepth      int
	timeout         time.Duration
	minResultLength int
	now             func() time.Time

	slots chan struct{}
	queue chan string
	wg    sync.WaitGroup
	once  sync.Once

	mu     sync.Mutex
	closed bool

	baseCtx context.Context
	cancel  context.CancelFunc
}

type ExecutorOption func(*Executor)

func WithWorkers(n int) ExecutorOption {
	return func(e *Executor) {
		if n > 0 {
			e.workers = n
		}
	}
}

// WithQueueDepth sets how many accepted jobs may wait beyond the busy workers.
func WithQueueDepth(n int) ExecutorOption {
	return func(e *Executor) {
		if n >= 0 {
			e.queueDepth = n
		}
	}
}

func WithJobTimeout(d time.Duration) ExecutorOption {
	return func(e *Executor) {
		if d > 0 {
			e.timeout = d
		}
	}
}

func WithMinResultLength(n int) ExecutorOption {
	return func(e *Executor) {
		if n > 0 {
			e.minResultLength = n
		}
	}
}

func WithHistory(h *HistoryRecorder) ExecutorOption {
	return func(e *Executor) { e.history = h }
}

func WithPublisher(p events.Publisher) ExecutorOption {
	return func(e *Executor) {
		if p != nil {
			e.publisher = p
		}
	}
}

func NewExecutor(store *JobStore, extractor TextExtractor, analyzer Analyzer, fallback FallbackSynthesizer, opts ...ExecutorOption) *Executor {
	e := &Executor{
		store:           store,
		extractor:       extractor,
		analyzer:        analyzer,
		fallback:        fallback,
		publisher:       events.Noop{},
		workers:         4,
		queueDepth:      100,
		timeout:         5 * time.Minute,
		minResultLength: 1,
		now:             func() time.Time { return time.Now().UTC() },
	}
	for _, o := range opts {
		o(e)
	}
	capacity := e.workers + e.queueDepth
	e.slots = make(chan struct{}, capacity)
	e.queue = make(chan string, capacity)
	e.baseCtx, e.cancel = context.WithCancel(context.Background())
	return e
}

func (e *Executor) Timeout() time.Duration {
	return e.timeout
}

// Capacity is the number of jobs that may be accepted but not yet finished.
func (e *Executor) Capacity() int {
	return cap(e.slots)
}

// InFlight counts reserved slots, queued and running.
func (e *Executor) InFlight() int {
	return len(e.slots)
}

// Start launches the workers. Calling it more than once has no effect.
func (e *Executor) Start() {
	e.once.Do(func() {
		for i := 0; i < e.workers; i++ {
			e.wg.Add(1)
			go e.worker(i + 1)
		}
		logger.Info("Analysis executor started", map[string]interface{}{
			"workers":  e.workers,
			"capacity": cap(e.slots),
			"timeout":  e.timeout.String(),
		})
	})
}

func (e *Executor) worker(id int) {
	defer e.wg.Done()
	for jobID := range e.queue {
		logger.Debug("Worker processing job", map[string]interface{}{"worker_id": id, "job_id": jobID})
		e.process(jobID)
		<-e.slots
	}
	logger.Debug("Worker stopping", map[string]interface{}{"worker_id": id})
}

// Reservation holds one executor slot until it is dispatched or released.
type Reservation struct {
	e    *Executor
	once sync.Once
}

// Reserve takes a slot without blocking. It fails with ErrServiceBusy when the
// pool and its queue are full or the executor is stopping.
func (e *Executor) Reserve() (*Reservation, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, ErrServiceBusy
	}
	select {
	case e.slots <- struct{}{}:
		return &Reservation{e: e}, nil
	default:
		return nil, ErrServiceBusy
	}
}

// Dispatch hands the job to the workers. If the executor stopped in the
// meantime the job stays pending and the slot is returned.
func (r *Reservation) Dispatch(jobID string) error {
	err := ErrServiceBusy
	r.once.Do(func() {
		e := r.e
		e.mu.Lock()
		defer e.mu.Unlock()
		if e.closed {
			<-e.slots
			return
		}
		e.queue <- jobID // never blocks: queue capacity equals slot capacity
		err = nil
	})
	return err
}

// Release gives the slot back when the job was never created.
func (r *Reservation) Release() {
	r.once.Do(func() {
		<-r.e.slots
	})
}

// Stop refuses new work, lets workers drain until ctx expires, then cancels
// running analyses. Queued jobs that were not started stay pending.
func (e *Executor) Stop(ctx context.Context) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	close(e.queue)
	e.mu.Unlock()

	done := make(chan struct{})
	go func() { defer close(done); e.wg.Wait() }()

	select {
	case <-done:
		logger.Info("Analysis executor drained", nil)
	case <-ctx.Done():
		logger.Warn("Executor shutdown deadline reached, cancelling running analyses", nil)
		e.cancel()
		<-done
	}
	e.cancel()
}

// Resume recovers after a restart: jobs left processing by a previous process
// are failed as interrupted and pending jobs are dispatched while capacity lasts.
func (e *Executor) Resume(ctx context.Context) (resumed, interrupted int, err error) {
	stale, err := e.store.ListByStatus(ctx, models.JobStatusProcessing, 0)
	if err != nil {
		return 0, 0, err
	}
	for i := range stale {
		job := &stale[i]
		jobErr := &models.JobError{Kind: models.ErrorKindInterrupted, Message: "analysis was interrupted by a service restart"}
		failed, terr := e.store.Transition(ctx, job.ID, models.JobStatusProcessing, models.JobStatusFailed, TransitionFields{Error: jobErr, At: e.now()})
		if terr != nil {
			logger.WithJob(job.ID).WithError(terr).Warn("Could not mark interrupted job as failed")
			continue
		}
		interrupted++
		e.afterTerminal(ctx, failed)
	}

	pending, err := e.store.ListByStatus(ctx, models.JobStatusPending, cap(e.slots))
	if err != nil {
		return 0, interrupted, err
	}
	for _, job := range pending {
		res, rerr := e.Reserve()
		if rerr != nil {
			logger.Warn("Executor full, leaving remaining pending jobs queued in the database", map[string]interface{}{"remaining": len(pending) - resumed})
			break
		}
		if derr := res.Dispatch(job.ID); derr != nil {
			break
		}
		resumed++
	}

	logger.Info("Analysis jobs recovered", map[string]interface{}{"resumed": resumed, "interrupted": interrupted})
	return resumed, interrupted, nil
}

func (e *Executor) process(jobID string) {
	if e.baseCtx.Err() != nil {
		return
	}
	log := logger.WithJob(jobID)
	ctx := context.WithoutCancel(e.baseCtx)

	started, err := e.store.Transition(ctx, jobID, models.JobStatusPending, models.JobStatusProcessing, TransitionFields{
		Progress: intPtr(progressDispatched),
		At:       e.now(),
	})
	if errors.Is(err, ErrConflict) {
		log.Debug("Job no longer pending, skipping dispatch")
		return
	}
	if err != nil {
		log.WithError(err).Error("Failed to start job")
		return
	}
	e.history.Record(ctx, started, models.EventProcessing, "")

	e.execute(started)
}

func (e *Executor) execute(job *models.AnalysisJob) {
	runCtx, cancel := context.WithTimeout(e.baseCtx, e.timeout)
	defer cancel()

	trace := &runTrace{}
	done := make(chan outcome, 1)
	go func() {
		text, err := e.guard(func() (string, error) {
			return e.run(runCtx, job, trace)
		})
		done <- outcome{text: text, err: err}
	}()

	var out outcome
	select {
	case out = <-done:
	case <-runCtx.Done():
		if e.baseCtx.Err() != nil {
			out.err = errInterrupted
		} else {
			out.err = fmt.Errorf("analysis exceeded %s: %w", e.timeout, context.DeadlineExceeded)
		}
	}

	e.finish(job, out, trace)
}

// run is the collaborator pipeline. It may outlive execute after a timeout;
// its progress writes are then rejected because the job is no longer processing.
func (e *Executor) run(ctx context.Context, job *models.AnalysisJob, trace *runTrace) (string, error) {
	if job.Document == nil {
		return "", &stageError{kind: models.ErrorKindExtraction, err: errors.New("job has no staged document")}
	}

	text, err := e.extractor.Extract(ctx, job.Document.StorageKey)
	if err != nil {
		return "", &stageError{kind: models.ErrorKindExtraction, err: err}
	}
	trace.setText(text)
	e.progress(ctx, job.ID, progressExtracted)

	result, err := e.analyzer.Analyze(ctx, text, job.Query)
	if err != nil {
		if result != "" {
			trace.setPartial(result)
		}
		return "", &stageError{kind: models.ErrorKindAnalysis, err: err}
	}
	e.progress(ctx, job.ID, progressAnalyzed)
	return result, nil
}

func (e *Executor) progress(ctx context.Context, jobID string, pct int) {
	if err := e.store.UpdateProgress(ctx, jobID, pct); err != nil {
		logger.WithJob(jobID).WithError(err).Debug("Progress update skipped")
	}
}

// guard is the single recovery point for collaborator code.
func (e *Executor) guard(fn func() (string, error)) (s string, err error) {
	defer func() {
		if r := recover(); r != nil {
			s = ""
			err = &panicError{value: r, stack: debug.Stack()}
		}
	}()
	return fn()
}

func (e *Executor) classify(err error) *models.JobError {
	var pe *panicError
	var se *stageError
	switch {
	case errors.As(err, &pe):
		logger.Error("Recovered panic during analysis", map[string]interface{}{"panic": fmt.Sprint(pe.value), "stack": string(pe.stack)})
		return &models.JobError{Kind: models.ErrorKindPanic, Message: pe.Error()}
	case errors.Is(err, context.DeadlineExceeded):
		return &models.JobError{Kind: models.ErrorKindTimeout, Message: fmt.Sprintf("analysis did not finish within %s", e.timeout)}
	case errors.Is(err, errInterrupted), errors.Is(err, context.Canceled) && e.baseCtx.Err() != nil:
		return &models.JobError{Kind: models.ErrorKindInterrupted, Message: errInterrupted.Error()}
	case errors.As(err, &se):
		return &models.JobError{Kind: se.kind, Message: se.Error()}
	default:
		return &models.JobError{Kind: models.ErrorKindAnalysis, Message: err.Error()}
	}
}

func (e *Executor) finish(job *models.AnalysisJob, out outcome, trace *runTrace) {
	ctx := context.WithoutCancel(e.baseCtx)
	log := logger.WithJob(job.ID)

	if out.err == nil {
		result := strings.TrimSpace(out.text)
		if len([]rune(result)) >= e.minResultLength {
			e.complete(ctx, job, result, nil)
			return
		}
		trace.setPartial(result)
		out.err = &stageError{
			kind: models.ErrorKindIncompleteResult,
			err:  fmt.Errorf("analysis returned %d characters, expected at least %d", len([]rune(result)), e.minResultLength),
		}
	}

	jobErr := e.classify(out.err)
	log.WithField("error_kind", jobErr.Kind).WithField("cause", jobErr.Message).Warn("Analysis did not succeed")

	if jobErr.Kind == models.ErrorKindInterrupted {
		e.fail(ctx, job, jobErr)
		return
	}

	text, partial := trace.snapshot()
	req := FallbackRequest{
		Query:         job.Query,
		Cause:         jobErr.Error(),
		PartialOutput: partial,
		DocumentText:  text,
	}
	if job.Document != nil {
		req.Filename = job.Document.OriginalFilename
	}

	fb, ferr := e.guard(func() (string, error) {
		return e.fallback.Synthesize(ctx, req)
	})
	if ferr == nil && strings.TrimSpace(fb) == "" {
		ferr = errNoFallback
	}
	if ferr != nil {
		log.WithError(ferr).Warn("Fallback synthesis produced nothing")
		e.fail(ctx, job, jobErr)
		return
	}
	e.complete(ctx, job, strings.TrimSpace(fb), jobErr)
}

func (e *Executor) complete(ctx context.Context, job *models.AnalysisJob, result string, degradedBy *models.JobError) {
	done, err := e.store.Transition(ctx, job.ID, models.JobStatusProcessing, models.JobStatusCompleted, TransitionFields{
		ResultText: &result,
		IsDegraded: degradedBy != nil,
		Error:      degradedBy,
		At:         e.now(),
	})
	if err != nil {
		logger.WithJob(job.ID).WithError(err).Warn("Could not record completion")
		return
	}
	logger.WithJob(job.ID).WithField("degraded", done.IsDegraded).Info("Analysis completed")
	e.afterTerminal(ctx, done)
}

func (e *Executor) fail(ctx context.Context, job *models.AnalysisJob, jobErr *models.JobError) {
	failed, err := e.store.Transition(ctx, job.ID, models.JobStatusProcessing, models.JobStatusFailed, TransitionFields{
		Error: jobErr,
		At:    e.now(),
	})
	if err != nil {
		logger.WithJob(job.ID).WithError(err).Warn("Could not record failure")
		return
	}
	logger.WithJob(job.ID).WithField("error_kind", jobErr.Kind).Warn("Analysis failed")
	e.afterTerminal(ctx, failed)
}

func (e *Executor) afterTerminal(ctx context.Context, job *models.AnalysisJob) {
	action := models.EventFailed
	details := ""
	if job.Status == models.JobStatusCompleted {
		action = models.EventCompleted
		if job.IsDegraded {
			action = models.EventDegraded
		}
	}
	if d := job.ErrorDetail(); d != nil {
		details = d.Error()
	}
	e.history.Record(ctx, job, action, details)

	event := events.JobEvent{
		JobID:      job.ID,
		OwnerID:    job.OwnerID,
		DocumentID: job.DocumentID,
		Status:     string(job.Status),
		IsDegraded: job.IsDegraded,
		OccurredAt: e.now(),
	}
	if job.ErrorKind != nil {
		event.ErrorKind = string(*job.ErrorKind)
	}
	pubCtx, cancel := context.WithTimeout(ctx, eventPublishTimeout)
	defer cancel()
	if err := e.publisher.Publish(pubCtx, event); err != nil {
		logger.WithJob(job.ID).WithError(err).Warn("Failed to publish job event")
	}
}

func intPtr(v int) *int {
	return &v
}
