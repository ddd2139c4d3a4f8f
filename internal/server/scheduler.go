package server

import (
	"context"
	"log"
	"time"

	"github.com/gorhill/cronexpr"
	"github.com/redis/go-redis/v9"

	"github.com/planforge/planforge/internal/runlog"
	"github.com/planforge/planforge/internal/store"
)

type schedulerStore interface {
	ListAllIntents(ctx context.Context) ([]store.Intent, error)
	LatestPlanForIntent(ctx context.Context, intentID string) (store.PlanRecord, bool, error)
	SavePlan(ctx context.Context, rec store.PlanRecord) error
}

// Scheduler periodically re-synthesizes plans for stored intents so
// long-lived intents pick up policy and model changes. A Redis lock
// keeps replicas from replanning the same intent twice.
type Scheduler struct {
	Store    schedulerStore
	Synth    planSynthesizer
	Rdb      *redis.Client
	CronSpec string
	LockTTL  time.Duration
	Logger   *log.Logger
	Stop     chan struct{}
}

func (s *Scheduler) Start() {
	if s.LockTTL <= 0 {
		s.LockTTL = 5 * time.Minute
	}
	ticker := time.NewTicker(time.Minute)
	go func() {
		for {
			select {
			case <-s.Stop:
				ticker.Stop()
				return
			case <-ticker.C:
				s.tick()
			}
		}
	}()
}

func (s *Scheduler) tick() {
	ctx := context.Background()
	intents, err := s.Store.ListAllIntents(ctx)
	if err != nil {
		s.logf("list intents failed: %v", err)
		return
	}
	for _, in := range intents {
		rec, ok, err := s.Store.LatestPlanForIntent(ctx, in.ID)
		if err != nil {
			s.logf("latest plan for intent %s failed: %v", in.ID, err)
			continue
		}
		var last *time.Time
		if ok {
			last = &rec.UpdatedAt
		}
		if !isDue(s.CronSpec, last) {
			continue
		}
		if s.Rdb != nil {
			lockKey := "planforge:sched:lock:" + in.ID
			ok, _ := s.Rdb.SetNX(ctx, lockKey, "1", s.LockTTL).Result()
			if !ok {
				continue
			}
		}
		s.replan(ctx, in)
	}
}

func (s *Scheduler) replan(ctx context.Context, in store.Intent) {
	trace := runlog.Trace{RunID: "sched-" + in.ID, IntentID: in.ID}
	plan, err := s.Synth.CreatePlan(ctx, trace, in.Text)
	if err != nil {
		s.logf("replan intent %s failed: %v", in.ID, err)
		return
	}
	rec, err := store.RecordFromPlan(plan)
	if err != nil {
		s.logf("replan intent %s failed: %v", in.ID, err)
		return
	}
	if err := s.Store.SavePlan(ctx, rec); err != nil {
		s.logf("replan intent %s save failed: %v", in.ID, err)
		return
	}
	s.logf("replanned intent %s into plan %s (%d tasks)", in.ID, plan.ID, len(plan.Tasks))
}

func (s *Scheduler) logf(format string, v ...interface{}) {
	if s.Logger == nil {
		s.Logger = log.New(log.Writer(), "[SCHED] ", log.LstdFlags)
	}
	s.Logger.Printf(format, v...)
}

// isDue reports whether a plan last updated at last should be
// refreshed now. Supports "@daily", "@hourly" and standard cron
// expressions.
func isDue(cronSpec string, last *time.Time) bool {
	now := time.Now()
	switch cronSpec {
	case "@daily":
		if last == nil {
			return true
		}
		return now.Sub(*last) >= 24*time.Hour
	case "@hourly":
		if last == nil {
			return true
		}
		return now.Sub(*last) >= time.Hour
	default:
		expr, err := cronexpr.Parse(cronSpec)
		if err != nil {
			if last == nil {
				return true
			}
			return now.Sub(*last) >= 24*time.Hour
		}
		if last == nil {
			return true
		}
		return !expr.Next(*last).After(now)
	}
}
