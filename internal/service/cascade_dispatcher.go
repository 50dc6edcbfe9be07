package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/school-portal-api/internal/workflow"
	"github.com/noah-isme/school-portal-api/pkg/config"
	appErrors "github.com/noah-isme/school-portal-api/pkg/errors"
	"github.com/noah-isme/school-portal-api/pkg/jobs"
)

// CascadeStep is one side effect of a committed transition. Steps run
// independently, may run more than once and must be idempotent.
type CascadeStep struct {
	Name    string
	Applies func(workflow.Event) bool
	Run     func(context.Context, workflow.Event) error
}

type transitionLedger interface {
	ListUncascaded(ctx context.Context, before time.Time, limit int) ([]workflow.Event, error)
	MarkCascaded(ctx context.Context, id string, at time.Time) error
}

type cascadeTask struct {
	event workflow.Event
	step  CascadeStep
}

type pendingCascade struct {
	remaining int
	failed    bool
}

// CascadeDispatcher turns committed transitions into queued step jobs. A
// transition is marked cascaded once all of its steps succeed; anything left
// unmarked is replayed by the recovery sweep.
type CascadeDispatcher struct {
	ledger  transitionLedger
	queue   *jobs.Queue
	metrics *MetricsService
	logger  *zap.Logger

	sweepInterval time.Duration
	sweepBatch    int
	sweepGrace    time.Duration

	steps   map[workflow.Type][]CascadeStep
	mu      sync.Mutex
	pending map[string]*pendingCascade
	ctx     context.Context
	now     func() time.Time
}

// NewCascadeDispatcher builds the dispatcher and its worker queue.
func NewCascadeDispatcher(ledger transitionLedger, cfg config.CascadeConfig, metrics *MetricsService, logger *zap.Logger) *CascadeDispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.SweepBatchSize <= 0 {
		cfg.SweepBatchSize = 100
	}
	d := &CascadeDispatcher{
		ledger:        ledger,
		metrics:       metrics,
		logger:        logger,
		sweepInterval: cfg.SweepInterval,
		sweepBatch:    cfg.SweepBatchSize,
		sweepGrace:    time.Minute,
		steps:         make(map[workflow.Type][]CascadeStep),
		pending:       make(map[string]*pendingCascade),
		ctx:           context.Background(),
		now:           func() time.Time { return time.Now().UTC() },
	}
	d.queue = jobs.NewQueue("cascade", d.handle, jobs.QueueConfig{
		Workers:     cfg.Workers,
		BufferSize:  cfg.BufferSize,
		MaxRetries:  cfg.MaxRetries,
		BaseBackoff: cfg.BaseBackoff,
		MaxBackoff:  cfg.MaxBackoff,
		OnExhausted: d.exhausted,
		Logger:      logger,
	})
	return d
}

// Register adds steps for a workflow type. Call before Start.
func (d *CascadeDispatcher) Register(typ workflow.Type, steps ...CascadeStep) {
	d.steps[typ] = append(d.steps[typ], steps...)
}

// Start launches the workers, replays unfinished cascades and schedules the
// periodic recovery sweep.
func (d *CascadeDispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	d.ctx = ctx
	d.mu.Unlock()

	d.queue.Start(ctx)
	d.Sweep(ctx)

	if d.sweepInterval <= 0 {
		return
	}
	ticker := time.NewTicker(d.sweepInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				d.Sweep(ctx)
			}
		}
	}()
}

// Stop drains the workers.
func (d *CascadeDispatcher) Stop() {
	d.queue.Stop()
}

// OnCommitted schedules every applicable step of evt. It never blocks the
// caller; when the buffer is full the enqueue continues in the background.
func (d *CascadeDispatcher) OnCommitted(evt workflow.Event) {
	var steps []CascadeStep
	for _, step := range d.steps[evt.Type] {
		if step.Applies == nil || step.Applies(evt) {
			steps = append(steps, step)
		}
	}

	if len(steps) == 0 {
		go d.markCascaded(evt)
		return
	}
	if !d.track(evt.ID, len(steps)) {
		return
	}

	for _, step := range steps {
		job := jobs.Job{
			ID:      evt.ID + ":" + step.Name,
			Type:    string(evt.Type) + "." + step.Name,
			Payload: cascadeTask{event: evt, step: step},
		}
		if d.queue.TryEnqueue(job) {
			continue
		}
		go func(j jobs.Job) {
			if err := d.queue.Enqueue(j); err != nil {
				d.logger.Warn("cascade enqueue failed", zap.String("job_id", j.ID), zap.Error(err))
				d.finish(evt, false)
			}
		}(job)
	}
}

// Sweep replays transitions committed before the grace window whose cascade
// never completed.
func (d *CascadeDispatcher) Sweep(ctx context.Context) {
	if d.ledger == nil {
		return
	}
	events, err := d.ledger.ListUncascaded(ctx, d.now().Add(-d.sweepGrace), d.sweepBatch)
	if err != nil {
		d.logger.Warn("cascade sweep failed", zap.Error(err))
		return
	}
	if len(events) > 0 {
		d.logger.Info("replaying unfinished cascades", zap.Int("count", len(events)))
	}
	for _, evt := range events {
		d.OnCommitted(evt)
	}
}

// Pending reports how many events still have steps outstanding.
func (d *CascadeDispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

func (d *CascadeDispatcher) handle(ctx context.Context, job jobs.Job) error {
	task, ok := job.Payload.(cascadeTask)
	if !ok {
		d.logger.Error("cascade job without task", zap.String("job_id", job.ID))
		return nil
	}
	err := task.step.Run(ctx, task.event)
	d.metrics.RecordCascadeStep(string(task.event.Type), task.step.Name, err == nil)
	if err != nil {
		return err
	}
	d.finish(task.event, true)
	return nil
}

func (d *CascadeDispatcher) exhausted(job jobs.Job, err error) {
	task, ok := job.Payload.(cascadeTask)
	if !ok {
		return
	}
	failure := appErrors.Wrap(err, appErrors.ErrCascadeFailure.Code, appErrors.ErrCascadeFailure.Status, appErrors.ErrCascadeFailure.Message)
	d.logger.Error("cascade step abandoned",
		zap.String("code", failure.Code),
		zap.String("transition_id", task.event.ID),
		zap.String("workflow", string(task.event.Type)),
		zap.String("entity_id", task.event.EntityID),
		zap.String("step", task.step.Name),
		zap.Int("attempts", job.Attempt),
		zap.Error(err),
	)
	d.metrics.RecordCascadeFailure(string(task.event.Type), task.step.Name)
	d.finish(task.event, false)
}

// track registers evt unless it is already in flight.
func (d *CascadeDispatcher) track(id string, steps int) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.pending[id]; ok {
		return false
	}
	d.pending[id] = &pendingCascade{remaining: steps}
	d.metrics.SetCascadePending(len(d.pending))
	return true
}

func (d *CascadeDispatcher) finish(evt workflow.Event, ok bool) {
	d.mu.Lock()
	p, found := d.pending[evt.ID]
	if !found {
		d.mu.Unlock()
		return
	}
	if !ok {
		p.failed = true
	}
	p.remaining--
	done := p.remaining <= 0
	failed := p.failed
	if done {
		delete(d.pending, evt.ID)
	}
	d.metrics.SetCascadePending(len(d.pending))
	d.mu.Unlock()

	if done && !failed {
		d.markCascaded(evt)
	}
}

func (d *CascadeDispatcher) markCascaded(evt workflow.Event) {
	if d.ledger == nil {
		return
	}
	d.mu.Lock()
	parent := d.ctx
	d.mu.Unlock()

	ctx, cancel := context.WithTimeout(parent, 5*time.Second)
	defer cancel()
	if err := d.ledger.MarkCascaded(ctx, evt.ID, d.now()); err != nil {
		d.logger.Warn("mark cascaded failed", zap.String("transition_id", evt.ID), zap.Error(err))
	}
}
