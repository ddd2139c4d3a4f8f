package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/spf13/cobra"

	"github.com/planforge/planforge/config"
	"github.com/planforge/planforge/internal/executor"
	"github.com/planforge/planforge/internal/planner"
	"github.com/planforge/planforge/internal/provider"
	"github.com/planforge/planforge/internal/report"
	"github.com/planforge/planforge/internal/runlog"
)

func planCMD() *cobra.Command {
	var cfgPath string
	var execute bool

	var plan = &cobra.Command{
		Use:   "plan <intent>",
		Short: "Synthesize an execution plan for an intent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(cfgPath)
			if err != nil {
				return err
			}
			pol, err := cfg.Policy()
			if err != nil {
				return err
			}

			runDir, err := runlog.NewRunDir(cfg.General.DataDir)
			if err != nil {
				return err
			}
			events, err := runlog.NewJSONLSink(runDir.EventsPath())
			if err != nil {
				return err
			}
			defer events.Close()
			logger := log.New(log.Writer(), "[PLAN] ", log.LstdFlags)
			sink := runlog.MultiSink{events, runlog.LoggerSink{Logger: logger}}

			var opts []provider.OpenAIOption
			if cfg.LLM.BaseURL != "" {
				opts = append(opts, provider.WithBaseURL(cfg.LLM.BaseURL))
			}
			gen := provider.NewOpenAIClient(cfg.LLM.APIKey, cfg.LLM.Model, cfg.LLM.Temperature, cfg.LLM.MaxTokens, cfg.LLM.Timeout, opts...)
			coord, err := planner.NewCoordinator(pol, gen, sink, logger)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
			defer cancel()
			trace := runlog.Trace{RunID: runDir.ID}

			p, err := coord.CreatePlan(ctx, trace, args[0])
			if err != nil {
				return err
			}

			if execute {
				runner := executor.ShellRunner{Policy: pol, WorkDir: runDir.Path}
				exe, err := executor.New(runner, cfg.Executor.MaxConcurrent, sink, logger)
				if err != nil {
					return err
				}
				p, err = exe.Execute(ctx, trace, p)
				if err != nil {
					return err
				}
			}

			batches, err := coord.ParallelBatches(p)
			if err != nil {
				return err
			}
			if err := runDir.WritePlan(p); err != nil {
				return err
			}
			if err := runDir.WriteReport(report.Markdown(p, batches)); err != nil {
				return err
			}

			fmt.Printf("plan %s: %d tasks in %d batches\nrun dir: %s\n", p.ID, len(p.Tasks), len(batches), runDir.Path)
			return nil
		},
	}
	plan.Flags().BoolVar(&execute, "execute", false, "run the plan after synthesis")
	plan.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is .)")

	return plan
}
