package server

import (
	"context"
	"io"
	"log"
	"testing"
	"time"

	"github.com/planforge/planforge/internal/store"
)

type schedStubStore struct {
	intents []store.Intent
	latest  map[string]store.PlanRecord
	saved   []store.PlanRecord
}

func (s *schedStubStore) ListAllIntents(_ context.Context) ([]store.Intent, error) {
	return s.intents, nil
}

func (s *schedStubStore) LatestPlanForIntent(_ context.Context, intentID string) (store.PlanRecord, bool, error) {
	rec, ok := s.latest[intentID]
	return rec, ok, nil
}

func (s *schedStubStore) SavePlan(_ context.Context, rec store.PlanRecord) error {
	s.saved = append(s.saved, rec)
	return nil
}

func TestSchedulerTickReplansStaleIntents(t *testing.T) {
	st := &schedStubStore{
		intents: []store.Intent{
			{ID: "stale", Text: "refresh me"},
			{ID: "fresh", Text: "leave me"},
		},
		latest: map[string]store.PlanRecord{
			"fresh": {PlanID: "p-fresh", IntentID: "fresh", UpdatedAt: time.Now()},
		},
	}
	sched := &Scheduler{
		Store:    st,
		Synth:    &stubSynth{plan: fixturePlan()},
		CronSpec: "@daily",
		Logger:   log.New(io.Discard, "", 0),
	}

	sched.tick()

	if len(st.saved) != 1 {
		t.Fatalf("want 1 replanned intent, got %d saves", len(st.saved))
	}
	if st.saved[0].Intent != "refresh me" {
		t.Fatalf("wrong intent replanned: %q", st.saved[0].Intent)
	}
}

func TestSchedulerTickSkipsFailedSynthesis(t *testing.T) {
	st := &schedStubStore{intents: []store.Intent{{ID: "i1", Text: "x"}}}
	sched := &Scheduler{
		Store:    st,
		Synth:    &stubSynth{err: context.DeadlineExceeded},
		CronSpec: "@daily",
		Logger:   log.New(io.Discard, "", 0),
	}

	sched.tick()

	if len(st.saved) != 0 {
		t.Fatalf("failed synthesis must not save a plan: %d saves", len(st.saved))
	}
}

func TestIsDue(t *testing.T) {
	now := time.Now()
	old := now.Add(-25 * time.Hour)
	recent := now.Add(-10 * time.Minute)

	if !isDue("@daily", nil) {
		t.Fatal("never-planned intent should be due")
	}
	if !isDue("@daily", &old) {
		t.Fatal("day-old plan should be due under @daily")
	}
	if isDue("@daily", &recent) {
		t.Fatal("fresh plan should not be due under @daily")
	}
	if isDue("@hourly", &recent) {
		t.Fatal("fresh plan should not be due under @hourly")
	}
	if !isDue("*/5 * * * *", &recent) {
		t.Fatal("10-minute-old plan should be due on a 5-minute cron")
	}
	// Invalid cron falls back to daily.
	if isDue("not-a-cron", &recent) {
		t.Fatal("invalid cron should fall back to @daily")
	}
}
