package schedule

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"docqa/internal/domain"
	"docqa/internal/logutil"
	"docqa/internal/service"
)

// specParser accepts five-field expressions and descriptors such as @daily.
var specParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

type Reindexer interface {
	Reindex(ctx context.Context) (service.ReindexReport, error)
}

// Reindex rebuilds the index from the catalog on a cron schedule. A tick
// that fires while the previous rebuild is still going is dropped.
type Reindex struct {
	svc      Reindexer
	spec     string
	schedule cron.Schedule
	cron     *cron.Cron
	busy     atomic.Bool
	logger   *zap.Logger
}

// NewReindex parses spec and returns a stopped scheduler.
func NewReindex(svc Reindexer, spec string) (*Reindex, error) {
	sched, err := specParser.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("%w: schedule.reindex_cron %q: %v", domain.ErrConfiguration, spec, err)
	}
	return &Reindex{
		svc:      svc,
		spec:     spec,
		schedule: sched,
		cron:     cron.New(cron.WithParser(specParser)),
		logger:   logutil.GetLogger(context.Background()).With(zap.String("cron", spec)),
	}, nil
}

// Next returns the first tick after t.
func (r *Reindex) Next(t time.Time) time.Time { return r.schedule.Next(t) }

// Start fires reindexes with ctx until Stop.
func (r *Reindex) Start(ctx context.Context) {
	r.cron.Schedule(r.schedule, cron.FuncJob(func() { _, _ = r.RunOnce(ctx) }))
	r.cron.Start()
	r.logger.Info("reindex scheduled", zap.Time("next", r.Next(time.Now())))
}

// Stop halts the schedule and waits for a running reindex to finish.
func (r *Reindex) Stop() {
	<-r.cron.Stop().Done()
}

// RunOnce reindexes unless a rebuild is already in flight. ran is false when
// the call was dropped.
func (r *Reindex) RunOnce(ctx context.Context) (ran bool, err error) {
	if !r.busy.CompareAndSwap(false, true) {
		r.logger.Info("reindex tick dropped, previous rebuild still running")
		return false, nil
	}
	defer r.busy.Store(false)

	start := time.Now()
	report, err := r.svc.Reindex(ctx)
	if err != nil {
		r.logger.Error("scheduled reindex failed", zap.Duration("took", time.Since(start)), zap.Error(err))
		return true, err
	}
	r.logger.Info("scheduled reindex done",
		zap.Int("documents", report.Documents),
		zap.Int("fragments", report.Fragments),
		zap.Duration("took", time.Since(start)))
	return true, nil
}
