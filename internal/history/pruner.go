package history

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

const (
	DefaultRetention     = 30 * 24 * time.Hour
	DefaultPruneSchedule = "0 0 3 * * *"
)

// Pruner deletes history older than the retention on a cron schedule.
type Pruner struct {
	store     *Store
	retention time.Duration
	cron      *cron.Cron
}

func NewPruner(store *Store, retention time.Duration, schedule string) (*Pruner, error) {
	if retention <= 0 {
		retention = DefaultRetention
	}
	if schedule == "" {
		schedule = DefaultPruneSchedule
	}

	p := &Pruner{
		store:     store,
		retention: retention,
		cron:      cron.New(cron.WithSeconds()),
	}
	if _, err := p.cron.AddFunc(schedule, p.run); err != nil {
		return nil, fmt.Errorf("invalid prune schedule %q: %w", schedule, err)
	}
	return p, nil
}

func (p *Pruner) Start() {
	p.cron.Start()
}

// Stop halts the schedule and waits for a running prune to finish.
func (p *Pruner) Stop() {
	<-p.cron.Stop().Done()
}

func (p *Pruner) PruneNow(ctx context.Context) (int64, error) {
	return p.store.Prune(ctx, time.Now().UTC().Add(-p.retention))
}

func (p *Pruner) run() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	n, err := p.PruneNow(ctx)
	if err != nil {
		slog.Error("history prune failed", "error", err)
		return
	}
	slog.Info("history pruned", "rows", n, "retention", p.retention)
}
