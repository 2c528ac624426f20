// Package scheduler provides unified scheduler management using gocron v2.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/moguard-inc/moguard/internal/shared/biztime"
	"github.com/moguard-inc/moguard/internal/shared/logger"
)

// BatchJob defines the interface for a scheduled batch processing job.
// Each Execute call processes a batch and returns the number of items processed.
type BatchJob interface {
	Execute(ctx context.Context) (int, error)
}

// SchedulerManager manages all scheduled jobs on a single gocron v2
// scheduler instance.
type SchedulerManager struct {
	scheduler gocron.Scheduler
	logger    logger.Interface

	started   bool
	startedMu sync.RWMutex
}

// NewSchedulerManager creates a new SchedulerManager instance.
func NewSchedulerManager(log logger.Interface) (*SchedulerManager, error) {
	scheduler, err := gocron.NewScheduler(
		gocron.WithLocation(biztime.Location()),
	)
	if err != nil {
		return nil, err
	}

	return &SchedulerManager{
		scheduler: scheduler,
		logger:    log,
	}, nil
}

func (m *SchedulerManager) register(name string, interval, timeout time.Duration, job BatchJob, tags ...string) error {
	_, err := m.scheduler.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() {
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()
			m.run(ctx, name, job)
		}),
		gocron.WithStartAt(gocron.WithStartImmediately()),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithTags(tags...),
		gocron.WithName(name),
	)
	if err != nil {
		return err
	}
	m.logger.Infow("registered job", "name", name, "interval", interval)
	return nil
}

func (m *SchedulerManager) run(ctx context.Context, name string, job BatchJob) {
	start := biztime.NowUTC()
	count, err := job.Execute(ctx)
	if err != nil {
		m.logger.Errorw("job failed",
			"name", name,
			"error", err,
			"duration", time.Since(start),
		)
		return
	}
	if count > 0 {
		m.logger.Infow("job completed",
			"name", name,
			"count", count,
			"duration", time.Since(start),
		)
	}
}

// RegisterReconcilerJob registers the subscription tracker: fetch node
// inventories, ingest usage, and converge upstream state every minute.
func (m *SchedulerManager) RegisterReconcilerJob(reconciler BatchJob) error {
	return m.register("subscription-tracker", time.Minute, 10*time.Minute, reconciler, "tracker", "sync")
}

// RegisterGuardJobs registers the node-facing refresh jobs:
// - config inventory refresh every minute
// - guard-user link refresh every minute
// - panel access token refresh every 8 hours
func (m *SchedulerManager) RegisterGuardJobs(configsJob, linksJob, accessJob BatchJob) error {
	if err := m.register("configs-update", time.Minute, 5*time.Minute, configsJob, "guard", "configs"); err != nil {
		return err
	}
	if err := m.register("links-update", time.Minute, 5*time.Minute, linksJob, "guard", "links"); err != nil {
		return err
	}
	return m.register("node-access", 8*time.Hour, 5*time.Minute, accessJob, "guard", "access")
}

// RegisterAccountingJobs registers the quota bookkeeping jobs, each on a
// one minute cadence:
// - hourly usage log upsert plus owner usage accrual
// - reached/auto-renewal/auto-delete cycle
// - reseller quota enforcement and admin cache refresh
func (m *SchedulerManager) RegisterAccountingJobs(usageLogJob, reachedJob, resellerJob BatchJob) error {
	if err := m.register("usage-record", time.Minute, 5*time.Minute, usageLogJob, "accounting", "usage"); err != nil {
		return err
	}
	if err := m.register("reached-tracker", time.Minute, 5*time.Minute, reachedJob, "accounting", "reached"); err != nil {
		return err
	}
	return m.register("resellers-tracker", time.Minute, 5*time.Minute, resellerJob, "accounting", "resellers")
}

// RegisterSystemJobs registers host health checks.
func (m *SchedulerManager) RegisterSystemJobs(ramJob BatchJob) error {
	return m.register("ram-checker", 90*time.Second, time.Minute, ramJob, "system", "ram")
}

// Start starts the scheduler and all registered jobs.
func (m *SchedulerManager) Start() {
	m.startedMu.Lock()
	defer m.startedMu.Unlock()

	if m.started {
		return
	}

	m.scheduler.Start()
	m.started = true
	m.logger.Infow("scheduler manager started", "job_count", len(m.scheduler.Jobs()))
}

// Stop gracefully stops the scheduler.
// It waits for all running jobs to complete before returning.
func (m *SchedulerManager) Stop() error {
	m.startedMu.Lock()
	defer m.startedMu.Unlock()

	if !m.started {
		return nil
	}

	m.logger.Infow("stopping scheduler manager")

	err := m.scheduler.Shutdown()
	m.started = false

	if err != nil {
		m.logger.Errorw("scheduler manager shutdown with error", "error", err)
		return err
	}

	m.logger.Infow("scheduler manager stopped")
	return nil
}

// IsStarted returns whether the scheduler is running.
func (m *SchedulerManager) IsStarted() bool {
	m.startedMu.RLock()
	defer m.startedMu.RUnlock()
	return m.started
}

// Jobs returns all registered jobs for inspection.
func (m *SchedulerManager) Jobs() []gocron.Job {
	return m.scheduler.Jobs()
}
