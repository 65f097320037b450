// Package scheduler drives background jobs: a polling loop claims
// eligible rows from the jobs table, dispatches each to its executor
// under a global concurrency cap, and settles the outcome with
// exponential-backoff retries.
package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"docsync/internal/domain"
	"docsync/internal/observability"
	"docsync/internal/store"
	"docsync/internal/util"
)

// Store is the persistence surface the scheduler needs.
type Store interface {
	SelectEligibleJobs(ctx context.Context, now time.Time, limit int) ([]domain.Job, error)
	ClaimJob(ctx context.Context, jobID string, now time.Time) (int, bool, error)
	CompleteJob(ctx context.Context, in store.JobComplete) error
	RescheduleJob(ctx context.Context, in store.JobReschedule) error
	FailJob(ctx context.Context, in store.JobFail) error
	InsertJobIfAbsent(ctx context.Context, in store.JobInsert) (bool, error)
	GetIntegration(ctx context.Context, id string) (domain.Integration, bool, error)
	ListExpiringTokenIntegrations(ctx context.Context, now time.Time, lead time.Duration) ([]domain.Integration, error)
}

// Executor runs one claimed job against its integration and returns a
// kind-specific result payload. A returned error wrapping
// domain.ErrTerminal fails the job immediately; any other error is
// retried until the attempts bound.
type Executor interface {
	Execute(ctx context.Context, job domain.Job, integ domain.Integration) (json.RawMessage, error)
}

type Options struct {
	Store     Store
	Executors map[domain.JobKind]Executor

	MaxConcurrent   int
	PollInterval    time.Duration
	JobTimeout      time.Duration
	RefreshLeadTime time.Duration

	Logger *slog.Logger
	Now    func() time.Time
}

type Scheduler struct {
	store     Store
	executors map[domain.JobKind]Executor

	cap             int
	interval        time.Duration
	jobTimeout      time.Duration
	refreshLeadTime time.Duration

	log *slog.Logger
	now func() time.Time

	mu       sync.Mutex
	inflight map[string]struct{} // job ids dispatched but not settled
	keys     map[string]struct{} // integrationID+kind pairs in flight

	wg sync.WaitGroup
}

// New builds a Scheduler, requiring exactly one executor per job kind.
// A kind without a handler is a wiring bug caught at startup.
func New(opts Options) (*Scheduler, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("scheduler: nil store")
	}
	for _, kind := range domain.Kinds() {
		if _, ok := opts.Executors[kind]; !ok {
			return nil, fmt.Errorf("scheduler: no executor for job kind %q", kind)
		}
	}
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 10
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 30 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = util.NowUTC
	}
	return &Scheduler{
		store:           opts.Store,
		executors:       opts.Executors,
		cap:             opts.MaxConcurrent,
		interval:        opts.PollInterval,
		jobTimeout:      opts.JobTimeout,
		refreshLeadTime: opts.RefreshLeadTime,
		log:             opts.Logger,
		now:             opts.Now,
		inflight:        map[string]struct{}{},
		keys:            map[string]struct{}{},
	}, nil
}

// Run polls until ctx is cancelled, then waits for in-flight jobs to
// settle before returning.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.Tick(ctx)
	for {
		select {
		case <-ctx.Done():
			s.wg.Wait()
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick runs one scheduling pass: queue refresh jobs for integrations
// whose tokens are about to expire, then claim and dispatch eligible
// jobs up to the remaining concurrency budget.
func (s *Scheduler) Tick(ctx context.Context) {
	now := s.now()
	s.sweepExpiringTokens(ctx, now)

	budget := s.cap - s.inflightCount()
	if budget <= 0 {
		return
	}

	// Headroom over the budget: rows already in flight (claimed by a
	// previous tick, not yet settled) still match the select and are
	// skipped below.
	jobs, err := s.store.SelectEligibleJobs(ctx, now, budget+s.cap)
	if err != nil {
		s.log.Error("select eligible jobs", "error", err)
		return
	}

	for _, job := range jobs {
		if budget <= 0 {
			return
		}
		if !s.track(job) {
			continue
		}
		attempts, ok, err := s.store.ClaimJob(ctx, job.ID, s.now())
		if err != nil {
			s.untrack(job)
			s.log.Error("claim job", "job_id", job.ID, "error", err)
			continue
		}
		if !ok {
			// Another scheduler instance won the row.
			s.untrack(job)
			continue
		}
		job.Attempts = attempts
		job.Status = domain.JobRunning
		budget--

		observability.JobsDispatched.WithLabelValues(string(job.Kind)).Inc()
		observability.JobsInFlight.Inc()
		s.wg.Add(1)
		go s.run(ctx, job)
	}
}

// inflightKey dedupes dispatch per (integration, kind) pair, matching
// the SQL-side running-job exclusion for claims this process holds.
func inflightKey(j domain.Job) string {
	return j.IntegrationID + "/" + string(j.Kind)
}

func (s *Scheduler) track(j domain.Job) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.inflight[j.ID]; dup {
		return false
	}
	key := inflightKey(j)
	if _, dup := s.keys[key]; dup {
		return false
	}
	s.inflight[j.ID] = struct{}{}
	s.keys[key] = struct{}{}
	return true
}

func (s *Scheduler) untrack(j domain.Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inflight, j.ID)
	delete(s.keys, inflightKey(j))
}

func (s *Scheduler) inflightCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.inflight)
}

func (s *Scheduler) run(ctx context.Context, job domain.Job) {
	defer s.wg.Done()
	defer observability.JobsInFlight.Dec()
	defer s.untrack(job)

	start := time.Now()
	result, err := s.execute(ctx, job)
	observability.JobDuration.Observe(time.Since(start).Seconds())

	s.settle(ctx, job, result, err)
}

func (s *Scheduler) execute(ctx context.Context, job domain.Job) (json.RawMessage, error) {
	integ, found, err := s.store.GetIntegration(ctx, job.IntegrationID)
	if err != nil {
		return nil, err
	}
	if !found || !integ.Active {
		return nil, domain.ErrIntegrationInactive
	}

	if s.jobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.jobTimeout)
		defer cancel()
	}
	return s.executors[job.Kind].Execute(ctx, job, integ)
}

// settle persists the job outcome. Settlement uses a fresh context so a
// shutting-down scheduler can still record results for jobs it started.
func (s *Scheduler) settle(ctx context.Context, job domain.Job, result json.RawMessage, err error) {
	sctx := context.WithoutCancel(ctx)
	now := s.now()

	switch {
	case err == nil:
		if serr := s.store.CompleteJob(sctx, store.JobComplete{ID: job.ID, Result: result, Now: now}); serr != nil {
			s.log.Error("complete job", "job_id", job.ID, "error", serr)
			return
		}
		observability.JobOutcomes.WithLabelValues(string(job.Kind), "completed").Inc()
		s.log.Info("job completed", "job_id", job.ID, "kind", job.Kind, "attempts", job.Attempts)

	case !domain.IsTerminal(err) && job.Attempts < job.MaxAttempts:
		runAt := now.Add(domain.RetryDelay(job.Attempts))
		serr := s.store.RescheduleJob(sctx, store.JobReschedule{
			ID: job.ID, LastError: err.Error(), RunAt: runAt, Now: now,
		})
		if serr != nil {
			s.log.Error("reschedule job", "job_id", job.ID, "error", serr)
			return
		}
		observability.JobOutcomes.WithLabelValues(string(job.Kind), "retried").Inc()
		s.log.Warn("job retrying", "job_id", job.ID, "kind", job.Kind,
			"attempts", job.Attempts, "run_at", runAt, "error", err)

	default:
		if serr := s.store.FailJob(sctx, store.JobFail{ID: job.ID, LastError: err.Error(), Now: now}); serr != nil {
			s.log.Error("fail job", "job_id", job.ID, "error", serr)
			return
		}
		observability.JobOutcomes.WithLabelValues(string(job.Kind), "failed").Inc()
		s.log.Error("job failed", "job_id", job.ID, "kind", job.Kind,
			"attempts", job.Attempts, "terminal", domain.IsTerminal(err), "error", err)
	}
}

// sweepExpiringTokens queues an OAUTH_REFRESH for every active
// integration whose token expires within the lead window. The
// absent-check in the insert keeps the sweep idempotent across ticks.
func (s *Scheduler) sweepExpiringTokens(ctx context.Context, now time.Time) {
	if s.refreshLeadTime <= 0 {
		return
	}
	integrations, err := s.store.ListExpiringTokenIntegrations(ctx, now, s.refreshLeadTime)
	if err != nil {
		s.log.Error("list expiring tokens", "error", err)
		return
	}
	for _, integ := range integrations {
		inserted, err := s.store.InsertJobIfAbsent(ctx, store.JobInsert{
			ID:            util.NewJobID(),
			IntegrationID: integ.ID,
			Kind:          domain.KindOAuthRefresh,
			Priority:      0, // refreshes outrank everything else
			ScheduledAt:   now,
			MaxAttempts:   domain.DefaultMaxAttempts,
			Now:           now,
		})
		if err != nil {
			s.log.Error("queue oauth refresh", "integration_id", integ.ID, "error", err)
			continue
		}
		if inserted {
			s.log.Info("queued oauth refresh", "integration_id", integ.ID, "provider", integ.Provider)
		}
	}
}
