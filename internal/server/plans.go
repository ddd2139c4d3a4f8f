package server

import (
	"context"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/planforge/planforge/internal/report"
	"github.com/planforge/planforge/internal/runlog"
	"github.com/planforge/planforge/internal/store"
	"github.com/planforge/planforge/internal/task"
)

type planSynthesizer interface {
	CreatePlan(ctx context.Context, trace runlog.Trace, intent string) (task.Plan, error)
	ParallelBatches(p task.Plan) ([][]task.Task, error)
}

type planStore interface {
	SavePlan(ctx context.Context, rec store.PlanRecord) error
	GetPlan(ctx context.Context, planID string) (store.PlanRecord, bool, error)
	LatestPlanForIntent(ctx context.Context, intentID string) (store.PlanRecord, bool, error)
	ListPlans(ctx context.Context, limit int) ([]store.PlanRecord, error)
	CreateIntent(ctx context.Context, userID, text string) (string, error)
	ListIntents(ctx context.Context, userID string) ([]store.Intent, error)
}

type planCache interface {
	Get(ctx context.Context, key string) (task.Plan, bool, error)
	Put(ctx context.Context, key string, p task.Plan) error
}

type planIndex interface {
	Add(p task.Plan) error
	Search(q string, k int) ([]store.SearchHit, error)
}

// PlansHandler serves the plan synthesis API. Cache and Index are
// optional.
type PlansHandler struct {
	Synth             planSynthesizer
	Store             planStore
	Cache             planCache
	Index             planIndex
	PolicyFingerprint string
}

type CreatePlanRequest struct {
	Intent string `json:"intent"`
	DryRun bool   `json:"dry_run"`
}

func (h *PlansHandler) Register(g *echo.Group, secret []byte) {
	g.Use(func(next echo.HandlerFunc) echo.HandlerFunc { return withAuth(next, secret) })
	g.POST("", h.create)
	g.GET("", h.list)
	g.GET("/search", h.search)
	g.GET("/:id", h.get)
	g.GET("/:id/batches", h.batches)
	g.GET("/:id/report", h.report)
}

func (h *PlansHandler) create(c echo.Context) error {
	var req CreatePlanRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Intent == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "intent is required")
	}
	ctx := c.Request().Context()
	userID, _ := c.Get("user_id").(string)

	cacheKey := store.CacheKey(req.Intent, h.PolicyFingerprint)
	if h.Cache != nil {
		if cached, ok, err := h.Cache.Get(ctx, cacheKey); err == nil && ok {
			return c.JSON(http.StatusOK, cached)
		}
	}

	var intentID string
	if !req.DryRun {
		id, err := h.Store.CreateIntent(ctx, userID, req.Intent)
		if err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
		intentID = id
	}

	trace := runlog.Trace{RunID: uuid.New().String(), IntentID: intentID}
	plan, err := h.Synth.CreatePlan(ctx, trace, req.Intent)
	if err != nil {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	}

	if req.DryRun {
		return c.JSON(http.StatusOK, plan)
	}

	rec, err := store.RecordFromPlan(plan)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if err := h.Store.SavePlan(ctx, rec); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if h.Cache != nil {
		_ = h.Cache.Put(ctx, cacheKey, plan)
	}
	if h.Index != nil {
		_ = h.Index.Add(plan)
	}
	return c.JSON(http.StatusCreated, plan)
}

func (h *PlansHandler) list(c echo.Context) error {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	recs, err := h.Store.ListPlans(c.Request().Context(), limit)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	out := make([]map[string]interface{}, 0, len(recs))
	for _, r := range recs {
		out = append(out, map[string]interface{}{
			"plan_id":    r.PlanID,
			"intent":     r.Intent,
			"task_count": r.TaskCount,
			"created_at": r.CreatedAt,
			"updated_at": r.UpdatedAt,
		})
	}
	return c.JSON(http.StatusOK, out)
}

func (h *PlansHandler) get(c echo.Context) error {
	rec, ok, err := h.Store.GetPlan(c.Request().Context(), c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "plan not found")
	}
	plan, err := rec.Plan()
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, plan)
}

func (h *PlansHandler) batches(c echo.Context) error {
	plan, err := h.loadPlan(c)
	if err != nil {
		return err
	}
	batches, err := h.Synth.ParallelBatches(plan)
	if err != nil {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	}
	out := make([][]string, 0, len(batches))
	for _, batch := range batches {
		ids := make([]string, 0, len(batch))
		for _, t := range batch {
			ids = append(ids, t.ID)
		}
		out = append(out, ids)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"plan_id": plan.ID, "batches": out})
}

func (h *PlansHandler) report(c echo.Context) error {
	plan, err := h.loadPlan(c)
	if err != nil {
		return err
	}
	batches, err := h.Synth.ParallelBatches(plan)
	if err != nil {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	}
	return c.Blob(http.StatusOK, "text/markdown; charset=utf-8", []byte(report.Markdown(plan, batches)))
}

func (h *PlansHandler) search(c echo.Context) error {
	if h.Index == nil {
		return echo.NewHTTPError(http.StatusNotImplemented, "search index not configured")
	}
	q := c.QueryParam("q")
	if q == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "q is required")
	}
	k, _ := strconv.Atoi(c.QueryParam("limit"))
	hits, err := h.Index.Search(q, k)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, hits)
}

func (h *PlansHandler) loadPlan(c echo.Context) (task.Plan, error) {
	rec, ok, err := h.Store.GetPlan(c.Request().Context(), c.Param("id"))
	if err != nil {
		return task.Plan{}, echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if !ok {
		return task.Plan{}, echo.NewHTTPError(http.StatusNotFound, "plan not found")
	}
	plan, err := rec.Plan()
	if err != nil {
		return task.Plan{}, echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return plan, nil
}

// IntentsHandler serves stored intents.
type IntentsHandler struct {
	Store planStore
}

func (h *IntentsHandler) Register(g *echo.Group, secret []byte) {
	g.Use(func(next echo.HandlerFunc) echo.HandlerFunc { return withAuth(next, secret) })
	g.GET("", h.list)
}

func (h *IntentsHandler) list(c echo.Context) error {
	userID, _ := c.Get("user_id").(string)
	intents, err := h.Store.ListIntents(c.Request().Context(), userID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, intents)
}
