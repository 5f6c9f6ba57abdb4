package worker

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Purger drops expired entries and reports how many it removed.
type Purger interface {
	Purge() int
}

// Janitor purges expired entries from in-memory stores on a schedule.
// Redis expires keys by itself, so only memory stores are registered.
type Janitor struct {
	cron    *cron.Cron
	purgers map[string]Purger
	logger  *zap.Logger
}

// NewJanitor parses schedule, a standard 5-field cron expression or a
// descriptor such as "@every 1m".
func NewJanitor(schedule string, purgers map[string]Purger, logger *zap.Logger) (*Janitor, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	sched, err := parser.Parse(schedule)
	if err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", schedule, err)
	}

	j := &Janitor{
		cron:    cron.New(cron.WithParser(parser)),
		purgers: purgers,
		logger:  logger,
	}
	j.cron.Schedule(sched, cron.FuncJob(func() { j.Sweep() }))
	return j, nil
}

// Sweep runs every purger once and returns the total removed.
func (j *Janitor) Sweep() int {
	total := 0
	for name, p := range j.purgers {
		n := p.Purge()
		if n > 0 {
			j.logger.Debug("purged expired entries", zap.String("store", name), zap.Int("count", n))
		}
		total += n
	}
	return total
}

// Start runs the schedule until ctx is done. Nothing is scheduled when no
// purger is registered.
func (j *Janitor) Start(ctx context.Context) {
	if len(j.purgers) == 0 {
		return
	}
	j.cron.Start()
	go func() {
		<-ctx.Done()
		<-j.cron.Stop().Done()
	}()
}
