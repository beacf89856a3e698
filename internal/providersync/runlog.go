package providersync

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/provider-sync/internal/model"
)

// RunStore persists run history.
type RunStore interface {
	StartRun(ctx context.Context, mode model.SyncMode) (*model.RunRecord, error)
	CompleteRun(ctx context.Context, run *model.RunRecord) error
	ListRuns(ctx context.Context, limit int) ([]model.RunRecord, error)
	LastSuccessfulRun(ctx context.Context, mode model.SyncMode) (*model.RunRecord, error)
}

// RunLog records one history row per orchestrated run.
type RunLog struct {
	store RunStore
	now   func() time.Time
}

// NewRunLog creates a RunLog backed by st.
func NewRunLog(st RunStore) *RunLog {
	return &RunLog{store: st, now: time.Now}
}

// Start inserts a running row and returns it.
func (l *RunLog) Start(ctx context.Context, mode model.SyncMode) (*model.RunRecord, error) {
	run, err := l.store.StartRun(ctx, mode)
	if err != nil {
		return nil, eris.Wrapf(err, "providersync: start %s run", mode)
	}
	return run, nil
}

// Complete finalizes run. It writes on a detached context so a canceled
// run still leaves its history behind.
func (l *RunLog) Complete(ctx context.Context, run *model.RunRecord, success bool, summary map[string]int, errs []string) error {
	done := l.now().UTC()
	run.CompletedAt = &done
	run.DurationMS = done.Sub(run.StartedAt).Milliseconds()
	run.Success = success
	run.Summary = summary
	run.Errors = errs
	run.Status = model.RunStatusComplete
	if !success {
		run.Status = model.RunStatusFailed
	}
	if err := l.store.CompleteRun(context.WithoutCancel(ctx), run); err != nil {
		return eris.Wrapf(err, "providersync: complete run %s", run.ID)
	}
	return nil
}

// LastSuccessful returns the most recent successful run of mode, or nil.
func (l *RunLog) LastSuccessful(ctx context.Context, mode model.SyncMode) (*model.RunRecord, error) {
	run, err := l.store.LastSuccessfulRun(ctx, mode)
	if err != nil {
		return nil, eris.Wrapf(err, "providersync: last successful %s run", mode)
	}
	return run, nil
}

// Recent returns up to limit runs, newest first.
func (l *RunLog) Recent(ctx context.Context, limit int) ([]model.RunRecord, error) {
	runs, err := l.store.ListRuns(ctx, limit)
	if err != nil {
		return nil, eris.Wrap(err, "providersync: list runs")
	}
	return runs, nil
}

// finishedAt is when a run completed, falling back to its start.
func finishedAt(run *model.RunRecord) time.Time {
	if run.CompletedAt != nil {
		return *run.CompletedAt
	}
	return run.StartedAt
}
