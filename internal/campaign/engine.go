package campaign

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"PulseCampaign/internal/email"
	"PulseCampaign/internal/metrics"
	"PulseCampaign/internal/models"
	"PulseCampaign/internal/render"
	"PulseCampaign/internal/worker"
)

// InitParams describes a new campaign.
type InitParams struct {
	ID                string
	Recipients        []models.Recipient
	SubjectTemplate   string
	BodyTemplate      string
	IntervalSeconds   int
	FromEmailTemplate string
	FromNameTemplate  string
	Attachments       []models.Attachment
}

// Engine owns the campaign state machine.
type Engine struct {
	repo    Repository
	sender  email.Dispatcher
	sched   Scheduler
	timers  *TimerScheduler
	from    email.Address
	timeout time.Duration
	log     *zap.Logger
	now     func() time.Time

	due      chan string
	stopped  chan struct{}
	stopOnce sync.Once

	warnMu sync.Mutex
	warned map[string]map[string]struct{}
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// WithDefaultSender sets the sender used when a job has no usable
// from-email template.
func WithDefaultSender(from email.Address) Option {
	return func(e *Engine) { e.from = from }
}

// WithDispatchTimeout bounds a single dispatch call.
func WithDispatchTimeout(d time.Duration) Option {
	return func(e *Engine) { e.timeout = d }
}

// WithScheduler replaces the built-in timer scheduler.
func WithScheduler(s Scheduler) Option {
	return func(e *Engine) { e.sched = s }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New creates an Engine. Ticks only run once Start has been called.
func New(repo Repository, sender email.Dispatcher, opts ...Option) *Engine {
	e := &Engine{
		repo:    repo,
		sender:  sender,
		timeout: 30 * time.Second,
		log:     zap.NewNop(),
		now:     time.Now,
		due:     make(chan string, 64),
		stopped: make(chan struct{}),
		warned:  make(map[string]map[string]struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.sched == nil {
		e.timers = NewTimerScheduler(e.enqueue)
		e.sched = e.timers
	}
	return e
}

// Start runs the tick workers until ctx is cancelled. Every dispatch waits
// on limiter first.
func (e *Engine) Start(ctx context.Context, wg *sync.WaitGroup, workers int, limiter *rate.Limiter) {
	worker.StartPool(ctx, wg, workers, e.due, e.tick, limiter, e.log)

	go func() {
		<-ctx.Done()
		e.stop()
	}()
}

func (e *Engine) stop() {
	e.stopOnce.Do(func() {
		if e.timers != nil {
			e.timers.Stop()
		}
		close(e.stopped)
	})
}

// enqueue hands a fired job to the workers.
func (e *Engine) enqueue(jobID string) {
	select {
	case e.due <- jobID:
	case <-e.stopped:
	}
}

// Init creates a job and arms its first tick.
func (e *Engine) Init(ctx context.Context, p InitParams) error {
	switch {
	case p.ID == "":
		return fmt.Errorf("%w: job id is required", models.ErrValidation)
	case len(p.Recipients) == 0:
		return fmt.Errorf("%w: recipients list is empty", models.ErrValidation)
	case p.SubjectTemplate == "":
		return fmt.Errorf("%w: subject template is required", models.ErrValidation)
	case p.BodyTemplate == "":
		return fmt.Errorf("%w: body template is required", models.ErrValidation)
	case p.IntervalSeconds < 1:
		return fmt.Errorf("%w: interval must be at least 1 second", models.ErrValidation)
	}
	for _, a := range p.Attachments {
		if a.Filename == "" {
			return fmt.Errorf("%w: attachment filename is required", models.ErrValidation)
		}
	}

	job := &models.Job{
		ID:                p.ID,
		Recipients:        append([]models.Recipient(nil), p.Recipients...),
		SubjectTemplate:   p.SubjectTemplate,
		BodyTemplate:      p.BodyTemplate,
		FromEmailTemplate: p.FromEmailTemplate,
		FromNameTemplate:  p.FromNameTemplate,
		Interval:          p.IntervalSeconds,
		Attachments:       append([]models.Attachment(nil), p.Attachments...),
		Total:             len(p.Recipients),
		Failures:          []models.Failure{},
		InProgress:        true,
		CurrentRecipient:  models.CurrentInitializing,
		CreatedAt:         e.now().UTC(),
	}

	if err := e.repo.Create(ctx, job); err != nil {
		return fmt.Errorf("create job %s: %w", p.ID, err)
	}

	e.sched.Arm(job.ID, intervalOf(job))
	metrics.CampaignsStarted.Inc()

	e.log.Info("bulk job initialized",
		zap.String("job_id", job.ID),
		zap.Int("total", job.Total),
		zap.Int("interval_seconds", job.Interval),
	)

	return nil
}

// Status returns the projected view of a job.
func (e *Engine) Status(ctx context.Context, id string) (models.StatusView, error) {
	job, err := e.repo.Load(ctx, id)
	if err != nil {
		return models.StatusView{}, fmt.Errorf("load job %s: %w", id, err)
	}
	return Project(job), nil
}

// Resume re-arms every job the store still reports as in progress. It is
// meant to run once at startup.
func (e *Engine) Resume(ctx context.Context) (int, error) {
	ids, err := e.repo.ListActive(ctx)
	if err != nil {
		return 0, fmt.Errorf("list active jobs: %w", err)
	}

	resumed := 0
	for _, id := range ids {
		job, err := e.repo.Load(ctx, id)
		if err != nil {
			e.log.Warn("skipping unreadable job on resume", zap.String("job_id", id), zap.Error(err))
			continue
		}
		if !job.InProgress {
			continue
		}
		e.sched.Arm(id, intervalOf(job))
		resumed++
	}

	if resumed > 0 {
		e.log.Info("resumed bulk jobs", zap.Int("count", resumed))
	}
	return resumed, nil
}

// tick processes exactly one recipient of job id. It runs only from the
// scheduler's workers.
func (e *Engine) tick(ctx context.Context, id string) error {
	started := e.now()
	defer func() {
		metrics.TickDuration.Observe(e.now().Sub(started).Seconds())
	}()

	job, err := e.repo.Load(ctx, id)
	if errors.Is(err, models.ErrNotFound) {
		e.log.Debug("stale tick for missing job", zap.String("job_id", id))
		return nil
	}
	if err != nil {
		return fmt.Errorf("load job %s: %w", id, err)
	}
	if !job.InProgress {
		return nil
	}

	if job.Processed >= job.Total {
		e.complete(job)
		if err := e.persist(ctx, job); err != nil {
			return err
		}
		e.completed(job)
		return nil
	}

	idx := job.Processed
	addr, ok := resolveEmail(job.Recipients[idx])

	if !ok {
		shown := addr
		if shown == "" {
			shown = missingEmail
		}
		job.Failed++
		job.Failures = append(job.Failures, models.Failure{Index: idx, Email: shown, Error: invalidEmailError})
		metrics.EmailFailures.Inc()
		e.log.Warn("invalid recipient email",
			zap.String("job_id", id),
			zap.Int("index", idx),
			zap.String("email", shown),
		)
	} else {
		sendErr := e.dispatch(ctx, job, idx, addr)
		if sendErr != nil && ctx.Err() != nil {
			// interrupted by shutdown: keep the cursor, retry on resume
			return ctx.Err()
		}
		if sendErr != nil {
			job.Failed++
			job.Failures = append(job.Failures, models.Failure{
				Index: idx,
				Email: addr,
				Error: truncate(sendErr.Error(), maxErrorLen),
			})
			metrics.EmailFailures.Inc()
			e.log.Warn("bulk email send failed",
				zap.String("job_id", id),
				zap.Int("index", idx),
				zap.String("to", addr),
				zap.Error(sendErr),
			)
		} else {
			job.Success++
			metrics.EmailsSent.Inc()
			e.log.Debug("bulk email sent",
				zap.String("job_id", id),
				zap.Int("index", idx),
				zap.Int("total", job.Total),
				zap.String("to", addr),
			)
		}
	}

	job.Processed++
	job.CurrentRecipient = models.CurrentUnknown
	if ok {
		job.CurrentRecipient = addr
	}
	if job.Processed >= job.Total {
		e.complete(job)
	}

	if err := e.persist(ctx, job); err != nil {
		return err
	}

	if job.InProgress {
		e.sched.Arm(id, intervalOf(job))
	} else {
		e.completed(job)
	}
	return nil
}

func (e *Engine) dispatch(ctx context.Context, job *models.Job, idx int, addr string) error {
	rctx := render.BuildContext(job.Recipients[idx])
	e.warnMissing(job, rctx)

	msg := &email.Message{
		To:      email.Address{Email: addr, Name: displayName(rctx)},
		From:    resolveSender(job, rctx, e.from),
		Subject: render.Render(job.SubjectTemplate, rctx),
		HTML:    render.Render(job.BodyTemplate, rctx),

		Attachments: job.Attachments,
	}

	dctx := ctx
	if e.timeout > 0 {
		var cancel context.CancelFunc
		dctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	return e.sender.Send(dctx, msg)
}

// persist writes the tick's outcome. It ignores shutdown cancellation so a
// dispatch that already happened is not lost.
func (e *Engine) persist(ctx context.Context, job *models.Job) error {
	if err := e.repo.Save(context.WithoutCancel(ctx), job); err != nil {
		metrics.PersistFailures.Inc()
		e.log.Error("failed to persist bulk job",
			zap.String("job_id", job.ID),
			zap.Int("processed", job.Processed),
			zap.Error(err),
		)
		return errors.Join(models.ErrPersistence, err)
	}
	return nil
}

// complete marks the job finished. It does not persist.
func (e *Engine) complete(job *models.Job) {
	finished := e.now().UTC()
	job.InProgress = false
	job.FinishedAt = &finished
	job.CurrentRecipient = models.CurrentCompleted
}

// completed runs once the finished record has been saved.
func (e *Engine) completed(job *models.Job) {
	e.warnMu.Lock()
	delete(e.warned, job.ID)
	e.warnMu.Unlock()

	metrics.CampaignsCompleted.Inc()

	var took time.Duration
	if job.FinishedAt != nil {
		took = job.FinishedAt.Sub(job.CreatedAt)
	}
	e.log.Info("bulk job completed",
		zap.String("job_id", job.ID),
		zap.Int("processed", job.Processed),
		zap.Int("success", job.Success),
		zap.Int("failed", job.Failed),
		zap.Duration("duration", took),
	)
}

// warnMissing logs each unresolved template variable once per job.
func (e *Engine) warnMissing(job *models.Job, rctx render.Context) {
	missing := render.Missing(rctx, job.SubjectTemplate, job.BodyTemplate)
	if len(missing) == 0 {
		return
	}

	e.warnMu.Lock()
	seen, ok := e.warned[job.ID]
	if !ok {
		seen = make(map[string]struct{})
		e.warned[job.ID] = seen
	}
	var fresh []string
	for _, k := range missing {
		if _, dup := seen[k]; !dup {
			seen[k] = struct{}{}
			fresh = append(fresh, k)
		}
	}
	e.warnMu.Unlock()

	if len(fresh) > 0 {
		e.log.Warn("template variables missing for recipient",
			zap.String("job_id", job.ID),
			zap.Strings("keys", fresh),
		)
	}
}

func intervalOf(job *models.Job) time.Duration {
	return time.Duration(job.Interval) * time.Second
}
