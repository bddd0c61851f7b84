// Package scheduler runs periodic governance maintenance jobs (deliberation
// expiry sweeps, health-aggregator polls) on cron schedules. The teacher's
// own "cron" trigger type parsed expressions by hand ("Production would use
// a full cron parser" — see automation_triggers.go), a gap this package
// closes with the real library instead of copying that shortcut forward.
package scheduler

import (
	"context"
	"sync"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Job is a named unit of periodic work. An error returned from Run is
// logged, never propagated, since one bad tick must not take down the
// scheduler or any other job.
type Job struct {
	Name string
	Cron string
	Run  func(ctx context.Context) error
}

// Scheduler wraps a robfig/cron/v3 runner with second-level precision.
type Scheduler struct {
	mu   sync.Mutex
	cron *cron.Cron
	log  *logrus.Entry
}

// New constructs a Scheduler. log may be nil, in which case a default
// standard logger entry is used.
func New(log *logrus.Entry) *Scheduler {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Scheduler{
		cron: cron.New(cron.WithSeconds(), cron.WithChain(cron.Recover(cron.DefaultLogger))),
		log:  log,
	}
}

// AddJob registers job on its cron schedule. Must be called before Start to
// guarantee the job fires on its first scheduled tick.
func (s *Scheduler) AddJob(job Job) (cron.EntryID, error) {
	return s.cron.AddFunc(job.Cron, func() {
		if err := job.Run(context.Background()); err != nil {
			s.log.WithError(err).WithField("job", job.Name).Warn("scheduler: job returned an error")
		}
	})
}

// Start implements applications/system.Service.
func (s *Scheduler) Start(ctx context.Context) error {
	s.cron.Start()
	return nil
}

// Stop implements applications/system.Service. It waits for any in-flight
// job to finish or ctx to expire, whichever comes first.
func (s *Scheduler) Stop(ctx context.Context) error {
	stopCtx := s.cron.Stop()
	select {
	case <-stopCtx.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Name implements applications/system.Service.
func (s *Scheduler) Name() string { return "scheduler" }
