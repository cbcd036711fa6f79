package orchestrator

import (
	"log/slog"

	"github.com/CDdanieldeng/excel-accelerator/pkg/backend"
	"github.com/CDdanieldeng/excel-accelerator/pkg/codegen"
	"github.com/CDdanieldeng/excel-accelerator/pkg/config"
	"github.com/CDdanieldeng/excel-accelerator/pkg/dataset"
	"github.com/CDdanieldeng/excel-accelerator/pkg/explain"
	"github.com/CDdanieldeng/excel-accelerator/pkg/intent"
	"github.com/CDdanieldeng/excel-accelerator/pkg/planner"
	"github.com/CDdanieldeng/excel-accelerator/pkg/resolver"
	"github.com/CDdanieldeng/excel-accelerator/pkg/sandbox"
	"github.com/CDdanieldeng/excel-accelerator/pkg/session"
)

// FromConfig wires the standard components around model backend b.
func FromConfig(cfg *config.Config, b backend.Backend, datasets dataset.Provider, store session.Store, logger *slog.Logger) (*Orchestrator, error) {
	retry := backend.RetryPolicy{
		MaxRetries: cfg.Orchestrator.MaxRetries,
		Delay:      cfg.Orchestrator.RetryDelay,
	}

	var gen codegen.Generator = codegen.NewLLM(b, retry, logger)
	if cfg.Codegen.Mode == "template" {
		gen = codegen.NewTemplate()
	}

	deps := Deps{
		Datasets:   datasets,
		Sessions:   store,
		Classifier: intent.New(b, retry, logger),
		Planner:    planner.New(b, retry, logger),
		Resolver:   resolver.New(cfg.Resolver.Threshold),
		Generator:  gen,
		Executor: sandbox.New(sandbox.Config{
			Timeout:     cfg.Sandbox.Timeout,
			PreviewRows: cfg.Sandbox.PreviewRows,
		}, logger),
		Explainer: explain.New(b, retry, logger),
	}
	return New(deps, Config{
		TurnDeadline: cfg.Orchestrator.TurnDeadline,
		HistoryTurns: cfg.Orchestrator.HistoryTurns,
		MaxHistory:   cfg.Session.MaxHistory,
	}, logger)
}
