package server

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	appconfig "github.com/planforge/planforge/config"
	"github.com/planforge/planforge/internal/planner"
	"github.com/planforge/planforge/internal/provider"
	"github.com/planforge/planforge/internal/runlog"
	"github.com/planforge/planforge/internal/store"
)

// Run wires the full service and serves HTTP on cfg.Server.Address.
func Run(cfg *appconfig.Config) error {
	e := newEcho()

	pol, err := cfg.Policy()
	if err != nil {
		return err
	}

	ctx := context.Background()
	dsn := cfg.Storage.Postgres.DSN()
	if err := cfg.Storage.Postgres.Validate(); err != nil {
		return err
	}
	if err := store.Migrate("file://migrations", dsn, "up", 0); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	st, err := store.Open(ctx, dsn)
	if err != nil {
		return err
	}

	var rdb *redis.Client
	var cache *store.PlanCache
	if cfg.Storage.Redis.Host != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Storage.Redis.Addr(),
			Password: cfg.Storage.Redis.Password,
			DB:       cfg.Storage.Redis.DB,
		})
		cache = store.NewPlanCache(rdb, cfg.Storage.Redis.CacheTTL)
	}

	index, err := store.NewPlanIndex()
	if err != nil {
		return err
	}

	gen := provider.NewOpenAIClient(
		cfg.LLM.APIKey, cfg.LLM.Model, cfg.LLM.Temperature, cfg.LLM.MaxTokens, cfg.LLM.Timeout,
		openAIOptions(cfg)...,
	)
	coordLogger := log.New(log.Writer(), "[PLANNER] ", log.LstdFlags)
	coord, err := planner.NewCoordinator(pol, gen, runlog.LoggerSink{Logger: coordLogger}, coordLogger)
	if err != nil {
		return err
	}

	secret := []byte(cfg.Server.JWTSecret)
	auth := &AuthHandler{Store: st, Secret: secret}

	api := e.Group("/api")
	auth.Register(api.Group("/auth"))

	ph := &PlansHandler{
		Synth:             coord,
		Store:             st,
		Index:             index,
		PolicyFingerprint: policyFingerprint(pol.WhitelistTools, pol.MaxTaskDurationSec, pol.MaxRetries),
	}
	if cache != nil {
		ph.Cache = cache
	}
	ph.Register(api.Group("/plans"), secret)

	ih := &IntentsHandler{Store: st}
	ih.Register(api.Group("/intents"), secret)

	if cfg.Scheduler.Enabled {
		sched := &Scheduler{
			Store:    st,
			Synth:    coord,
			Rdb:      rdb,
			CronSpec: cfg.Scheduler.CronSpec,
			LockTTL:  cfg.Scheduler.LockTTL,
			Stop:     make(chan struct{}),
		}
		sched.Start()
		defer close(sched.Stop)
	}

	return e.Start(cfg.Server.Address)
}

func newEcho() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	// Unified HTTP error handler with structured JSON and logging
	baseLogger := log.New(log.Writer(), "[HTTP] ", log.LstdFlags)
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		}
		req := c.Request()
		baseLogger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
		if !c.Response().Committed {
			_ = c.JSON(code, map[string]interface{}{"error": msg})
		}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Cookie", "Authorization"},
		AllowCredentials: true,
	}))

	e.GET("/healthz", func(c echo.Context) error { return c.String(200, "ok") })
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	return e
}

func openAIOptions(cfg *appconfig.Config) []provider.OpenAIOption {
	var opts []provider.OpenAIOption
	if cfg.LLM.BaseURL != "" {
		opts = append(opts, provider.WithBaseURL(cfg.LLM.BaseURL))
	}
	return opts
}

func policyFingerprint(whitelist []string, maxDuration, maxRetries int) string {
	return fmt.Sprintf("%v|%d|%d", whitelist, maxDuration, maxRetries)
}
