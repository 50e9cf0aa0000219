// Package scheduler fires crawl tasks on cron expressions or fixed intervals.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/JakeFAU/pt-crawler/internal/config"
	"github.com/JakeFAU/pt-crawler/internal/crawler"
	"github.com/JakeFAU/pt-crawler/internal/dispatcher"
)

// Submitter starts a run of a task.
type Submitter interface {
	Submit(ctx context.Context, task, trigger string) (crawler.Run, error)
}

// Scheduler registers every scheduled task with a cron runner.
type Scheduler struct {
	cron      *cron.Cron
	parser    cron.Parser
	submitter Submitter
	logger    *zap.Logger

	mu      sync.Mutex
	entries map[string]cron.EntryID
}

// New creates a Scheduler. Cron expressions use the five standard fields.
func New(submitter Submitter, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	return &Scheduler{
		cron:      cron.New(cron.WithParser(parser), cron.WithChain(cron.Recover(cron.DefaultLogger))),
		parser:    parser,
		submitter: submitter,
		logger:    logger.Named("scheduler"),
		entries:   make(map[string]cron.EntryID),
	}
}

// Register adds every cron and interval task. Manual tasks are ignored.
func (s *Scheduler) Register(tasks []config.TaskConfig) error {
	for _, task := range tasks {
		schedule, err := s.scheduleFor(task)
		if err != nil {
			return err
		}
		if schedule == nil {
			continue
		}
		name := task.Name
		id := s.cron.Schedule(schedule, cron.FuncJob(func() { s.fire(name) }))
		s.mu.Lock()
		s.entries[name] = id
		s.mu.Unlock()
		s.logger.Info("task scheduled",
			zap.String("task", name),
			zap.String("schedule_type", task.ScheduleType),
			zap.String("schedule_value", task.ScheduleValue),
		)
	}
	return nil
}

// Start runs the cron loop in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts scheduling and waits for running jobs to return, or for ctx to
// end. Runs already handed to the submitter are not affected.
func (s *Scheduler) Stop(ctx context.Context) error {
	stopped := s.cron.Stop()
	select {
	case <-stopped.Done():
		return nil
	case <-ctx.Done():
		return fmt.Errorf("stop scheduler: %w", ctx.Err())
	}
}

// Next reports when task fires next.
func (s *Scheduler) Next(task string) (time.Time, bool) {
	s.mu.Lock()
	id, ok := s.entries[task]
	s.mu.Unlock()
	if !ok {
		return time.Time{}, false
	}
	return s.cron.Entry(id).Next, true
}

func (s *Scheduler) scheduleFor(task config.TaskConfig) (cron.Schedule, error) {
	value := strings.TrimSpace(task.ScheduleValue)
	switch task.ScheduleType {
	case "", config.ScheduleManual:
		return nil, nil
	case config.ScheduleCron:
		schedule, err := s.parser.Parse(value)
		if err != nil {
			return nil, fmt.Errorf("task %s: parse cron %q: %w", task.Name, value, err)
		}
		return schedule, nil
	case config.ScheduleInterval:
		seconds, err := strconv.Atoi(value)
		if err != nil || seconds <= 0 {
			return nil, fmt.Errorf("task %s: interval %q must be a positive number of seconds", task.Name, value)
		}
		return cron.Every(time.Duration(seconds) * time.Second), nil
	default:
		return nil, fmt.Errorf("task %s: unsupported schedule type %q", task.Name, task.ScheduleType)
	}
}

func (s *Scheduler) fire(task string) {
	run, err := s.submitter.Submit(context.Background(), task, dispatcher.TriggerSchedule)
	switch {
	case errors.Is(err, dispatcher.ErrTaskRunning):
		s.logger.Info("task still running, skipping tick", zap.String("task", task))
	case err != nil:
		s.logger.Error("scheduled run failed to start", zap.String("task", task), zap.Error(err))
	default:
		s.logger.Info("scheduled run submitted", zap.String("task", task), zap.String("run_id", run.ID))
	}
}
