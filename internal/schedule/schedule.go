package schedule

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"

	appLog "ttcal/internal/log"
)

// Job is one scheduled unit of work.
type Job func(ctx context.Context) error

// Scheduler runs a Job on a cron spec until its context is cancelled.
// Overlapping runs are skipped rather than queued.
type Scheduler struct {
	cron *cron.Cron
	spec string
}

// New parses spec (standard 5-field cron, or descriptors like "@daily") and
// registers job. ctx is handed to every run.
func New(ctx context.Context, spec string, name string, job Job) (*Scheduler, error) {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	_, err := c.AddFunc(spec, func() {
		appLog.Info("scheduled run start", "job", name)
		if err := job(ctx); err != nil {
			appLog.Error("scheduled run failed", err, "job", name)
			return
		}
		appLog.Info("scheduled run done", "job", name)
	})
	if err != nil {
		return nil, fmt.Errorf("invalid refresh schedule %q: %w", spec, err)
	}
	return &Scheduler{cron: c, spec: spec}, nil
}

// Start begins running jobs in the background.
func (s *Scheduler) Start() {
	appLog.Info("scheduler started", "spec", s.spec)
	s.cron.Start()
}

// Stop halts scheduling and waits for a running job to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}
