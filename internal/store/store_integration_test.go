package store_test

import (
	"context"
	"fmt"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/testcontainers/testcontainers-go"
	tcPostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/planforge/planforge/internal/store"
	"github.com/planforge/planforge/internal/task"
)

func migrationsDir(t *testing.T) string {
	t.Helper()
	_, file, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatal("cannot locate source file")
	}
	return "file://" + filepath.Join(filepath.Dir(file), "..", "..", "migrations")
}

func TestStorePlanLifecycle(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()

	pgC, err := tcPostgres.RunContainer(ctx,
		tcPostgres.WithDatabase("planforge"),
		tcPostgres.WithUsername("planforge"),
		tcPostgres.WithPassword("planforge"),
		testcontainers.WithWaitStrategy(wait.ForListeningPort("5432/tcp")),
	)
	if err != nil {
		t.Fatalf("postgres container: %v", err)
	}
	defer func() { _ = pgC.Terminate(ctx) }()

	host, err := pgC.Host(ctx)
	if err != nil {
		t.Fatalf("postgres host: %v", err)
	}
	port, err := pgC.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("postgres port: %v", err)
	}
	dsn := fmt.Sprintf("postgres://planforge:planforge@%s:%s/planforge?sslmode=disable", host, port.Port())

	if err := store.Migrate(migrationsDir(t), dsn, "up", 0); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	st, err := store.Open(ctx, dsn)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer st.DB.Close()

	if err := st.CreateUser(ctx, "dev@example.com", "hash"); err != nil {
		t.Fatalf("create user: %v", err)
	}
	userID, _, err := st.GetUserByEmail(ctx, "dev@example.com")
	if err != nil {
		t.Fatalf("get user: %v", err)
	}

	intentID, err := st.CreateIntent(ctx, userID, "build and test the project")
	if err != nil {
		t.Fatalf("create intent: %v", err)
	}

	plan := task.Plan{
		ID:       "11111111-1111-1111-1111-111111111111",
		IntentID: intentID,
		Intent:   "build and test the project",
		Tasks: []task.Task{
			{ID: "build", Intent: "compile", Tools: []string{"make"}, State: task.StatePlanned},
			{ID: "test", ParentID: "build", Intent: "run tests", Tools: []string{"make"}, State: task.StatePlanned},
		},
		CreatedAt: time.Now().UTC(),
	}
	rec, err := store.RecordFromPlan(plan)
	if err != nil {
		t.Fatalf("record from plan: %v", err)
	}
	if err := st.SavePlan(ctx, rec); err != nil {
		t.Fatalf("save plan: %v", err)
	}
	// Saving again must update, not duplicate.
	if err := st.SavePlan(ctx, rec); err != nil {
		t.Fatalf("second save: %v", err)
	}

	got, ok, err := st.GetPlan(ctx, plan.ID)
	if err != nil || !ok {
		t.Fatalf("get plan: ok=%v err=%v", ok, err)
	}
	back, err := got.Plan()
	if err != nil {
		t.Fatalf("decode plan: %v", err)
	}
	if len(back.Tasks) != 2 || back.Tasks[1].ParentID != "build" {
		t.Fatalf("plan round trip mismatch: %+v", back)
	}

	latest, ok, err := st.LatestPlanForIntent(ctx, intentID)
	if err != nil || !ok {
		t.Fatalf("latest plan: ok=%v err=%v", ok, err)
	}
	if latest.PlanID != plan.ID {
		t.Fatalf("latest plan mismatch: %s", latest.PlanID)
	}

	list, err := st.ListPlans(ctx, 10)
	if err != nil {
		t.Fatalf("list plans: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("want 1 plan, got %d", len(list))
	}
}
