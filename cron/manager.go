package cron

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-turbo/types"
)

type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

// Scheduler runs named background jobs. Each name is scheduled at most once,
// which is what keeps the cache sweep a singleton.
type Scheduler struct {
	ctx             context.Context
	cancel          context.CancelFunc
	logger          types.Logger
	cron            *cron.Cron
	jobs            map[string]cron.EntryID
	state           atomic.Value
	mu              sync.Mutex
	shutdownTimeout time.Duration
}

func NewScheduler(ctx context.Context, logger types.Logger) *Scheduler {
	schedulerCtx, cancel := context.WithCancel(ctx)

	cronL := cronLogger{logger: logger}

	s := &Scheduler{
		ctx:    schedulerCtx,
		cancel: cancel,
		logger: logger,
		cron: cron.New(
			cron.WithLocation(time.UTC),
			cron.WithChain(cron.Recover(cronL), cron.SkipIfStillRunning(cronL)),
			cron.WithLogger(cronL),
		),
		jobs:            make(map[string]cron.EntryID),
		shutdownTimeout: 10 * time.Second,
	}

	s.state.Store(StateStopped)

	return s
}

func (s *Scheduler) Add(jobName, spec string, job func()) error {
	if spec == "" {
		return types.ErrSchedulerSpecEmpty
	}

	if job == nil {
		return types.ErrSchedulerJobIsNil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[jobName]; exists {
		return types.Errorf(types.ErrSchedulerJobInvalid, "job %q already scheduled", jobName)
	}

	entryID, err := s.cron.AddFunc(spec, s.wrapJob(jobName, job))
	if err != nil {
		return types.WrapError(types.Errorf(types.ErrSchedulerJobInvalid, "%v", err), "failed to add job")
	}

	s.jobs[jobName] = entryID

	s.logger.Debug("Scheduler job added",
		zap.String("job_name", jobName),
		zap.String("spec", spec))

	return nil
}

// Every schedules job at a fixed interval. Cron resolution is one second, so
// shorter intervals are rounded up.
func (s *Scheduler) Every(jobName string, interval time.Duration, job func()) error {
	if interval < time.Second {
		interval = time.Second
	}
	return s.Add(jobName, fmt.Sprintf("@every %s", interval), job)
}

func (s *Scheduler) Has(jobName string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, exists := s.jobs[jobName]
	return exists
}

func (s *Scheduler) Remove(jobName string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entryID, exists := s.jobs[jobName]; exists {
		s.cron.Remove(entryID)
		delete(s.jobs, jobName)
	}
}

func (s *Scheduler) Start() error {
	if !s.transitionState(StateStopped, StateStarting) {
		return types.ErrSchedulerIsRunning
	}

	s.cron.Start()
	s.setState(StateRunning)

	s.logger.Debug("Scheduler started")
	return nil
}

func (s *Scheduler) Stop() error {
	if !s.transitionState(StateRunning, StateStopping) {
		return nil
	}

	defer func() {
		s.cancel()
		s.setState(StateStopped)
	}()

	stopCtx := s.cron.Stop()

	timer := time.NewTimer(s.shutdownTimeout)
	defer timer.Stop()

	select {
	case <-stopCtx.Done():
		s.logger.Debug("Scheduler stopped")
		return nil
	case <-timer.C:
		s.logger.Warn("Scheduler stop timeout, running jobs were abandoned")
		return types.NewErrorf("scheduler stop timeout after %v", s.shutdownTimeout)
	}
}

func (s *Scheduler) IsRunning() bool {
	return s.getState() == StateRunning
}

func (s *Scheduler) getState() State {
	return s.state.Load().(State)
}

func (s *Scheduler) setState(newState State) {
	s.state.Store(newState)
}

func (s *Scheduler) transitionState(from, to State) bool {
	return s.state.CompareAndSwap(from, to)
}

func (s *Scheduler) wrapJob(jobName string, job func()) func() {
	return func() {
		select {
		case <-s.ctx.Done():
			return
		default:
		}

		startTime := time.Now()
		job()

		s.logger.Debug("Scheduler job completed",
			zap.String("job_name", jobName),
			zap.Duration("duration", time.Since(startTime)))
	}
}

type cronLogger struct {
	logger types.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg, fields(keysAndValues)...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, append(fields(keysAndValues), zap.Error(err))...)
}

func fields(keysAndValues []interface{}) []zap.Field {
	out := make([]zap.Field, 0, len(keysAndValues)/2)
	for i := 0; i < len(keysAndValues)-1; i += 2 {
		out = append(out, zap.Any(fmt.Sprintf("%v", keysAndValues[i]), keysAndValues[i+1]))
	}
	return out
}
