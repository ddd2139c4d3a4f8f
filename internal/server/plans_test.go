package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/planforge/planforge/internal/planner"
	"github.com/planforge/planforge/internal/runlog"
	"github.com/planforge/planforge/internal/store"
	"github.com/planforge/planforge/internal/task"
)

var testSecret = []byte("test-secret")

type stubSynth struct {
	plan task.Plan
	err  error
}

func (s *stubSynth) CreatePlan(_ context.Context, _ runlog.Trace, intent string) (task.Plan, error) {
	if s.err != nil {
		return task.Plan{}, s.err
	}
	p := s.plan
	p.Intent = intent
	return p, nil
}

func (s *stubSynth) ParallelBatches(p task.Plan) ([][]task.Task, error) {
	return planner.BuildGraph(p.Tasks).ParallelBatches()
}

type stubPlanStore struct {
	saved   []store.PlanRecord
	plans   map[string]store.PlanRecord
	intents []store.Intent
}

func (s *stubPlanStore) SavePlan(_ context.Context, rec store.PlanRecord) error {
	s.saved = append(s.saved, rec)
	if s.plans == nil {
		s.plans = map[string]store.PlanRecord{}
	}
	s.plans[rec.PlanID] = rec
	return nil
}

func (s *stubPlanStore) GetPlan(_ context.Context, planID string) (store.PlanRecord, bool, error) {
	rec, ok := s.plans[planID]
	return rec, ok, nil
}

func (s *stubPlanStore) LatestPlanForIntent(_ context.Context, intentID string) (store.PlanRecord, bool, error) {
	for _, rec := range s.plans {
		if rec.IntentID == intentID {
			return rec, true, nil
		}
	}
	return store.PlanRecord{}, false, nil
}

func (s *stubPlanStore) ListPlans(_ context.Context, _ int) ([]store.PlanRecord, error) {
	out := make([]store.PlanRecord, 0, len(s.plans))
	for _, rec := range s.plans {
		out = append(out, rec)
	}
	return out, nil
}

func (s *stubPlanStore) CreateIntent(_ context.Context, userID, text string) (string, error) {
	id := fmt.Sprintf("intent-%d", len(s.intents)+1)
	s.intents = append(s.intents, store.Intent{ID: id, UserID: userID, Text: text, CreatedAt: time.Now()})
	return id, nil
}

func (s *stubPlanStore) ListIntents(_ context.Context, userID string) ([]store.Intent, error) {
	var out []store.Intent
	for _, in := range s.intents {
		if in.UserID == userID {
			out = append(out, in)
		}
	}
	return out, nil
}

func fixturePlan() task.Plan {
	return task.Plan{
		ID: "plan-1",
		Tasks: []task.Task{
			{ID: "a", Intent: "first", Tools: []string{"echo"}, State: task.StatePlanned},
			{ID: "b", ParentID: "a", Intent: "second", Tools: []string{"ls"}, State: task.StatePlanned},
		},
		CreatedAt: time.Now().UTC(),
	}
}

func newTestAPI(t *testing.T, synth planSynthesizer, st planStore) (*echo.Echo, string) {
	t.Helper()
	e := newEcho()
	h := &PlansHandler{Synth: synth, Store: st, PolicyFingerprint: "test"}
	h.Register(e.Group("/api/plans"), testSecret)

	token, err := SignJWT("user-1", testSecret, time.Hour)
	if err != nil {
		t.Fatalf("sign jwt: %v", err)
	}
	return e, token
}

func doJSON(e *echo.Echo, method, path, token, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestCreatePlanEndpoint(t *testing.T) {
	st := &stubPlanStore{}
	e, token := newTestAPI(t, &stubSynth{plan: fixturePlan()}, st)

	rec := doJSON(e, http.MethodPost, "/api/plans", token, `{"intent":"do the thing"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	var plan task.Plan
	if err := json.Unmarshal(rec.Body.Bytes(), &plan); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if plan.Intent != "do the thing" || len(plan.Tasks) != 2 {
		t.Fatalf("unexpected plan: %+v", plan)
	}
	if len(st.saved) != 1 {
		t.Fatalf("plan not persisted: %d saves", len(st.saved))
	}
	if len(st.intents) != 1 {
		t.Fatalf("intent not recorded: %d", len(st.intents))
	}
}

func TestCreatePlanDryRun(t *testing.T) {
	st := &stubPlanStore{}
	e, token := newTestAPI(t, &stubSynth{plan: fixturePlan()}, st)

	rec := doJSON(e, http.MethodPost, "/api/plans", token, `{"intent":"x","dry_run":true}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	if len(st.saved) != 0 || len(st.intents) != 0 {
		t.Fatal("dry run must not persist anything")
	}
}

func TestCreatePlanSynthesisFailure(t *testing.T) {
	st := &stubPlanStore{}
	e, token := newTestAPI(t, &stubSynth{err: &planner.ExtractionError{Excerpt: "nope"}}, st)

	rec := doJSON(e, http.MethodPost, "/api/plans", token, `{"intent":"x"}`)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	if len(st.saved) != 0 {
		t.Fatal("failed synthesis must not persist a plan")
	}
}

func TestCreatePlanRequiresAuth(t *testing.T) {
	e, _ := newTestAPI(t, &stubSynth{plan: fixturePlan()}, &stubPlanStore{})
	rec := doJSON(e, http.MethodPost, "/api/plans", "", `{"intent":"x"}`)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status %d", rec.Code)
	}
}

func TestGetPlanEndpoints(t *testing.T) {
	st := &stubPlanStore{}
	synth := &stubSynth{plan: fixturePlan()}
	e, token := newTestAPI(t, synth, st)

	if rec := doJSON(e, http.MethodPost, "/api/plans", token, `{"intent":"x"}`); rec.Code != http.StatusCreated {
		t.Fatalf("seed plan: %d", rec.Code)
	}

	rec := doJSON(e, http.MethodGet, "/api/plans/plan-1", token, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("get status %d", rec.Code)
	}

	rec = doJSON(e, http.MethodGet, "/api/plans/plan-1/batches", token, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("batches status %d", rec.Code)
	}
	var batches struct {
		Batches [][]string `json:"batches"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &batches); err != nil {
		t.Fatalf("decode batches: %v", err)
	}
	if len(batches.Batches) != 2 || batches.Batches[0][0] != "a" {
		t.Fatalf("unexpected batches: %+v", batches)
	}

	rec = doJSON(e, http.MethodGet, "/api/plans/plan-1/report", token, "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "# Plan plan-1") {
		t.Fatalf("report status %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(e, http.MethodGet, "/api/plans/ghost", token, "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("missing plan status %d", rec.Code)
	}
}
