// workers/scheduler.go
package workers

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"
)

// Job is one periodic unit of work. Durable state lives in the database; anything a
// job keeps in memory between runs is lost on restart.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// Scheduler runs jobs on gocron. A job never overlaps itself: a tick that
// arrives while the previous run is busy is rescheduled.
type Scheduler struct {
	sched  gocron.Scheduler
	ctx    context.Context
	logger *zap.Logger
}

func NewScheduler(ctx context.Context, logger *zap.Logger) (*Scheduler, error) {
	sched, err := gocron.NewScheduler(gocron.WithLocation(time.UTC))
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}
	return &Scheduler{sched: sched, ctx: ctx, logger: logger}, nil
}

// Every runs job at a fixed interval.
func (s *Scheduler) Every(interval time.Duration, job Job) error {
	return s.add(gocron.DurationJob(interval), job)
}

// Daily runs job once a day at hour:minute UTC.
func (s *Scheduler) Daily(hour, minute uint, job Job) error {
	return s.add(gocron.DailyJob(1, gocron.NewAtTimes(gocron.NewAtTime(hour, minute, 0))), job)
}

func (s *Scheduler) add(def gocron.JobDefinition, job Job) error {
	_, err := s.sched.NewJob(
		def,
		gocron.NewTask(func() { s.run(job) }),
		gocron.WithName(job.Name()),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("schedule %s: %w", job.Name(), err)
	}
	return nil
}

func (s *Scheduler) run(job Job) {
	start := time.Now()
	if err := job.Run(s.ctx); err != nil {
		s.logger.Error("[Scheduler] job failed", zap.String("job", job.Name()), zap.Error(err))
		return
	}
	s.logger.Debug("[Scheduler] job done", zap.String("job", job.Name()), zap.Duration("took", time.Since(start)))
}

func (s *Scheduler) Start() {
	s.sched.Start()
}

func (s *Scheduler) Shutdown() error {
	return s.sched.Shutdown()
}
