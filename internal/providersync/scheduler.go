package providersync

import (
	"context"
	"errors"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/provider-sync/internal/model"
)

// Runner is the part of the engine the scheduler drives.
type Runner interface {
	IsSyncNeeded(ctx context.Context, window time.Duration) (bool, *model.RunRecord, error)
	RunFull(ctx context.Context, opts FullOpts) (*model.SyncResult, error)
}

// Scheduler triggers full runs on a cron spec when the last successful run
// is older than the freshness window.
type Scheduler struct {
	runner Runner
	cron   *cron.Cron
	window time.Duration
	opts   FullOpts
	ctx    context.Context
}

// NewScheduler registers spec against runner. Overlapping ticks are
// skipped and panics in a tick are recovered.
func NewScheduler(ctx context.Context, runner Runner, spec string, window time.Duration, opts FullOpts) (*Scheduler, error) {
	logger := cronLogger{zap.L().With(zap.String("component", "scheduler")).Sugar()}
	s := &Scheduler{
		runner: runner,
		window: window,
		opts:   opts,
		ctx:    ctx,
		cron: cron.New(
			cron.WithLogger(logger),
			cron.WithChain(cron.SkipIfStillRunning(logger), cron.Recover(logger)),
		),
	}
	if _, err := s.cron.AddFunc(spec, s.Tick); err != nil {
		return nil, eris.Wrapf(err, "providersync: parse cron spec %q", spec)
	}
	return s, nil
}

// Start runs the cron loop in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts the loop and returns a context that is done once a running
// tick finishes.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

// Tick runs one scheduled check.
func (s *Scheduler) Tick() {
	log := zap.L().With(zap.String("component", "scheduler"))

	needed, last, err := s.runner.IsSyncNeeded(s.ctx, s.window)
	if err != nil {
		log.Error("staleness check failed", zap.Error(err))
		return
	}
	if !needed {
		if last != nil {
			log.Info("sync not needed", zap.Time("last_success", finishedAt(last)))
		}
		return
	}

	res, err := s.runner.RunFull(s.ctx, s.opts)
	switch {
	case errors.Is(err, ErrRunInProgress):
		log.Info("skipping tick, run in progress")
	case err != nil:
		log.Error("scheduled run failed", zap.Error(err))
	default:
		log.Info("scheduled run complete", zap.String("run_id", res.RunID), zap.Bool("success", res.Success))
	}
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}
