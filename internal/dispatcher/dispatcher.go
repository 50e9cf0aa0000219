// Package dispatcher turns task names into crawl runs: it resolves the task,
// builds a fresh fetcher, drives the engine and keeps the run store current.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/pt-crawler/internal/config"
	"github.com/JakeFAU/pt-crawler/internal/crawler"
	collyfetcher "github.com/JakeFAU/pt-crawler/internal/fetcher/colly"
	"github.com/JakeFAU/pt-crawler/internal/metrics"
)

// Trigger values recorded on runs.
const (
	TriggerAPI       = "api"
	TriggerSchedule  = "schedule"
	TriggerCLI       = "cli"
	defaultRunBudget = 6 * time.Hour
)

var (
	// ErrUnknownTask is returned for task names missing from the config.
	ErrUnknownTask = config.ErrUnknownTask
	// ErrTaskRunning is returned when the task already has a run in flight.
	ErrTaskRunning = errors.New("task already running")
)

// FetcherFactory builds the fetcher for one run.
type FetcherFactory func(cfg crawler.CrawlConfig) crawler.Fetcher

// Dependencies are the collaborators shared by every run.
type Dependencies struct {
	Records    crawler.RecordStore
	Blobs      crawler.BlobStore
	Publisher  crawler.Publisher
	Topic      string
	Runs       crawler.RunStore
	IDs        crawler.IDGenerator
	Clock      crawler.Clock
	NewFetcher FetcherFactory
	Logger     *zap.Logger
}

// Dispatcher runs crawl tasks, at most one in flight per task.
type Dispatcher struct {
	cfg    config.Config
	deps   Dependencies
	logger *zap.Logger

	mu       sync.Mutex
	inflight map[string]string
	wg       sync.WaitGroup

	baseCtx context.Context
	cancel  context.CancelFunc
}

// New creates a Dispatcher.
func New(cfg config.Config, deps Dependencies) *Dispatcher {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.IDs == nil {
		deps.IDs = uuidGenerator{}
	}
	if deps.Clock == nil {
		deps.Clock = systemClock{}
	}
	if deps.NewFetcher == nil {
		timeout, maxBody := cfg.FetchTimeout(), cfg.FetchMaxBody()
		deps.NewFetcher = func(cc crawler.CrawlConfig) crawler.Fetcher {
			return collyfetcher.New(collyfetcher.Config{UserAgent: cc.UserAgent, Timeout: timeout, MaxBodySize: maxBody})
		}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher{
		cfg:      cfg,
		deps:     deps,
		logger:   deps.Logger.Named("dispatcher"),
		inflight: make(map[string]string),
		baseCtx:  ctx,
		cancel:   cancel,
	}
}

// Tasks lists the configured tasks.
func (d *Dispatcher) Tasks() []config.TaskConfig {
	return append([]config.TaskConfig(nil), d.cfg.Tasks...)
}

// Submit queues a run of task and executes it in the background. The
// returned run is in the queued state.
func (d *Dispatcher) Submit(ctx context.Context, task, trigger string) (crawler.Run, error) {
	run, cc, err := d.begin(ctx, task, trigger)
	if err != nil {
		return crawler.Run{}, err
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		runCtx, cancel := context.WithTimeout(d.baseCtx, defaultRunBudget)
		defer cancel()
		_, _ = d.execute(runCtx, run, cc)
	}()
	return run, nil
}

// RunNow executes a run of task synchronously and returns its final state.
func (d *Dispatcher) RunNow(ctx context.Context, task, trigger string) (crawler.Run, error) {
	run, cc, err := d.begin(ctx, task, trigger)
	if err != nil {
		return crawler.Run{}, err
	}
	summary, runErr := d.execute(ctx, run, cc)
	final, err := d.deps.Runs.GetRun(ctx, run.ID)
	if err != nil {
		run.Summary = summary
		return run, runErr
	}
	return final, runErr
}

// Shutdown cancels in-flight runs and waits for them to record their state,
// or for ctx to end.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.cancel()
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for runs: %w", ctx.Err())
	}
}

// Running reports whether task has a run in flight.
func (d *Dispatcher) Running(task string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.inflight[task]
	return ok
}

func (d *Dispatcher) begin(ctx context.Context, task, trigger string) (crawler.Run, crawler.CrawlConfig, error) {
	cc, err := d.cfg.CrawlConfig(task)
	if err != nil {
		return crawler.Run{}, crawler.CrawlConfig{}, err
	}
	id, err := d.deps.IDs.NewID()
	if err != nil {
		return crawler.Run{}, crawler.CrawlConfig{}, fmt.Errorf("generate run id: %w", err)
	}

	d.mu.Lock()
	if current, busy := d.inflight[task]; busy {
		d.mu.Unlock()
		return crawler.Run{}, crawler.CrawlConfig{}, fmt.Errorf("%w: %s (run %s)", ErrTaskRunning, task, current)
	}
	d.inflight[task] = id
	d.mu.Unlock()

	run := crawler.Run{
		ID:        id,
		Task:      task,
		Trigger:   trigger,
		Status:    crawler.RunStatusQueued,
		Submitted: d.deps.Clock.Now(),
	}
	if err := d.deps.Runs.CreateRun(ctx, run); err != nil {
		d.release(task)
		return crawler.Run{}, crawler.CrawlConfig{}, fmt.Errorf("create run: %w", err)
	}
	return run, cc, nil
}

func (d *Dispatcher) release(task string) {
	d.mu.Lock()
	delete(d.inflight, task)
	d.mu.Unlock()
}

func (d *Dispatcher) execute(ctx context.Context, run crawler.Run, cc crawler.CrawlConfig) (crawler.Summary, error) {
	defer d.release(run.Task)
	metrics.IncActiveRuns()
	defer metrics.DecActiveRuns()

	log := d.logger.With(
		zap.String("run_id", run.ID),
		zap.String("task", run.Task),
		zap.String("trigger", run.Trigger),
	)
	// Status writes use a detached context so a cancelled run is still recorded.
	statusCtx := context.WithoutCancel(ctx)
	if err := d.deps.Runs.UpdateRun(statusCtx, run.ID, crawler.RunStatusRunning, "", crawler.Summary{}); err != nil {
		log.Error("update run status failed", zap.Error(err))
	}
	log.Info("run started", zap.String("site", cc.Site))

	engine := crawler.NewEngine(cc, crawler.Dependencies{
		Fetcher:   d.deps.NewFetcher(cc),
		Records:   d.deps.Records,
		Blobs:     d.deps.Blobs,
		Publisher: d.deps.Publisher,
		Topic:     d.deps.Topic,
		Clock:     d.deps.Clock,
		Logger:    d.deps.Logger,
	})
	summary, runErr := engine.Run(ctx)

	status := crawler.RunStatusSucceeded
	errText := ""
	if runErr != nil {
		status = crawler.RunStatusFailed
		errText = runErr.Error()
	}
	if err := d.deps.Runs.UpdateRun(statusCtx, run.ID, status, errText, summary); err != nil {
		log.Error("final run status update failed", zap.Error(err))
	}
	metrics.ObserveRun(string(status))

	fields := []zap.Field{
		zap.String("status", string(status)),
		zap.Int("created", summary.Created),
		zap.Int("skipped", summary.Skipped),
		zap.Int("duplicates", summary.Duplicates),
		zap.Int("pages", summary.Pages),
		zap.Bool("stopped_on_seen", summary.StoppedOnSeen),
	}
	if runErr != nil {
		log.Error("run failed", append(fields, zap.Error(runErr))...)
	} else {
		log.Info("run finished", fields...)
	}
	return summary, runErr
}

type uuidGenerator struct{}

// NewID returns a UUIDv7 string.
func (uuidGenerator) NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate uuid7: %w", err)
	}
	return id.String(), nil
}

type systemClock struct{}

func (systemClock) Now() time.Time {
	return time.Now().UTC()
}
