package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/planforge/planforge/internal/task"
)

// Store persists users, intents and synthesized plans in Postgres.
type Store struct {
	DB *sql.DB
}

// Open connects to Postgres and verifies the connection.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Store{DB: db}, nil
}

// User operations
func (s *Store) CreateUser(ctx context.Context, email, hash string) error {
	_, err := s.DB.ExecContext(ctx, `INSERT INTO users (email, password_hash) VALUES ($1,$2)`, email, hash)
	return err
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (id string, hash string, err error) {
	err = s.DB.QueryRowContext(ctx, `SELECT id, password_hash FROM users WHERE email=$1`, email).Scan(&id, &hash)
	return
}

// Intent is a stored plan request.
type Intent struct {
	ID        string
	UserID    string
	Text      string
	CreatedAt time.Time
}

// Intent operations
func (s *Store) CreateIntent(ctx context.Context, userID, text string) (string, error) {
	var id string
	err := s.DB.QueryRowContext(ctx, `INSERT INTO intents (user_id, text) VALUES ($1,$2) RETURNING id`, userID, text).Scan(&id)
	return id, err
}

func (s *Store) GetIntent(ctx context.Context, id, userID string) (Intent, bool, error) {
	var in Intent
	err := s.DB.QueryRowContext(ctx, `SELECT id, user_id, text, created_at FROM intents WHERE id=$1 AND user_id=$2`, id, userID).
		Scan(&in.ID, &in.UserID, &in.Text, &in.CreatedAt)
	if err == sql.ErrNoRows {
		return Intent{}, false, nil
	}
	if err != nil {
		return Intent{}, false, err
	}
	return in, true, nil
}

func (s *Store) ListIntents(ctx context.Context, userID string) ([]Intent, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT id, user_id, text, created_at FROM intents WHERE user_id=$1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Intent
	for rows.Next() {
		var in Intent
		if err := rows.Scan(&in.ID, &in.UserID, &in.Text, &in.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, in)
	}
	return out, rows.Err()
}

func (s *Store) ListAllIntents(ctx context.Context) ([]Intent, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT id, user_id, text, created_at FROM intents ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Intent
	for rows.Next() {
		var in Intent
		if err := rows.Scan(&in.ID, &in.UserID, &in.Text, &in.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, in)
	}
	return out, rows.Err()
}

// PlanRecord is a stored plan document plus its derived execution order.
type PlanRecord struct {
	PlanID         string
	IntentID       string
	Intent         string
	TaskCount      int
	ExecutionOrder []string
	PlanJSON       []byte
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// RecordFromPlan serializes a synthesized plan for storage.
func RecordFromPlan(p task.Plan) (PlanRecord, error) {
	buf, err := json.Marshal(p)
	if err != nil {
		return PlanRecord{}, fmt.Errorf("marshal plan: %w", err)
	}
	return PlanRecord{
		PlanID:         p.ID,
		IntentID:       p.IntentID,
		Intent:         p.Intent,
		TaskCount:      len(p.Tasks),
		ExecutionOrder: p.TaskIDs(),
		PlanJSON:       buf,
		CreatedAt:      p.CreatedAt,
	}, nil
}

// Plan decodes the stored document back into a plan.
func (r PlanRecord) Plan() (task.Plan, error) {
	var p task.Plan
	if err := json.Unmarshal(r.PlanJSON, &p); err != nil {
		return task.Plan{}, fmt.Errorf("unmarshal plan: %w", err)
	}
	return p, nil
}

// SavePlan upserts a plan document by plan_id.
func (s *Store) SavePlan(ctx context.Context, rec PlanRecord) error {
	if rec.PlanID == "" {
		return fmt.Errorf("plan_id is required")
	}
	if len(rec.PlanJSON) == 0 {
		return fmt.Errorf("plan_json is required")
	}
	_, err := s.DB.ExecContext(ctx, `
INSERT INTO plans (plan_id, intent_id, intent, task_count, execution_order, plan_json, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,NOW(),NOW())
ON CONFLICT (plan_id) DO UPDATE SET
  intent_id = EXCLUDED.intent_id,
  intent = EXCLUDED.intent,
  task_count = EXCLUDED.task_count,
  execution_order = EXCLUDED.execution_order,
  plan_json = EXCLUDED.plan_json,
  updated_at = NOW();
`, rec.PlanID, nullable(rec.IntentID), rec.Intent, rec.TaskCount, pq.Array(rec.ExecutionOrder), rec.PlanJSON)
	return err
}

// GetPlan returns a stored plan by id.
func (s *Store) GetPlan(ctx context.Context, planID string) (PlanRecord, bool, error) {
	row := s.DB.QueryRowContext(ctx, `
SELECT plan_id, COALESCE(intent_id::text, ''), intent, task_count, execution_order, plan_json, created_at, updated_at
FROM plans
WHERE plan_id=$1
`, planID)
	return scanPlan(row)
}

// LatestPlanForIntent returns the most recently updated plan for an
// intent.
func (s *Store) LatestPlanForIntent(ctx context.Context, intentID string) (PlanRecord, bool, error) {
	row := s.DB.QueryRowContext(ctx, `
SELECT plan_id, COALESCE(intent_id::text, ''), intent, task_count, execution_order, plan_json, created_at, updated_at
FROM plans
WHERE intent_id=$1
ORDER BY updated_at DESC
LIMIT 1
`, intentID)
	return scanPlan(row)
}

// ListPlans returns plan headers, newest first.
func (s *Store) ListPlans(ctx context.Context, limit int) ([]PlanRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.DB.QueryContext(ctx, `
SELECT plan_id, COALESCE(intent_id::text, ''), intent, task_count, execution_order, plan_json, created_at, updated_at
FROM plans
ORDER BY updated_at DESC
LIMIT $1
`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []PlanRecord
	for rows.Next() {
		var (
			rec       PlanRecord
			execOrder pq.StringArray
		)
		if err := rows.Scan(&rec.PlanID, &rec.IntentID, &rec.Intent, &rec.TaskCount, &execOrder, &rec.PlanJSON, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, err
		}
		rec.ExecutionOrder = []string(execOrder)
		out = append(out, rec)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPlan(row rowScanner) (PlanRecord, bool, error) {
	var (
		rec       PlanRecord
		execOrder pq.StringArray
	)
	if err := row.Scan(&rec.PlanID, &rec.IntentID, &rec.Intent, &rec.TaskCount, &execOrder, &rec.PlanJSON, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return PlanRecord{}, false, nil
		}
		return PlanRecord{}, false, err
	}
	rec.ExecutionOrder = []string(execOrder)
	return rec, true, nil
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
