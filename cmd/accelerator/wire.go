package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/CDdanieldeng/excel-accelerator/pkg/api"
	"github.com/CDdanieldeng/excel-accelerator/pkg/backend"
	"github.com/CDdanieldeng/excel-accelerator/pkg/config"
	"github.com/CDdanieldeng/excel-accelerator/pkg/dataset"
	"github.com/CDdanieldeng/excel-accelerator/pkg/export"
	"github.com/CDdanieldeng/excel-accelerator/pkg/logging"
	"github.com/CDdanieldeng/excel-accelerator/pkg/orchestrator"
	"github.com/CDdanieldeng/excel-accelerator/pkg/session"
)

// app holds the wired components shared by serve and chat.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	backends *backend.Registry
	registry *dataset.Registry
	provider dataset.Provider
	uploader api.Uploader
	store    *session.MemoryStore
	orch     *orchestrator.Orchestrator
}

func wireApp(ctx context.Context, cfg *config.Config) (*app, error) {
	logger := logging.New(logging.Options{Level: cfg.Logging.Level, Format: cfg.Logging.Format})

	backends, b, err := backend.Default(cfg.LLM)
	if err != nil {
		return nil, err
	}

	registry := dataset.NewRegistry(cfg.Datasets.SampleValues)
	a := &app{
		cfg:      cfg,
		logger:   logger,
		backends: backends,
		registry: registry,
		provider: registry,
		store:    session.NewMemoryStore(),
	}

	if oc := cfg.Datasets.ObjectStore; oc.Enabled {
		objects, err := dataset.NewObjectStore(dataset.ObjectStoreConfig{
			Endpoint:  oc.Endpoint,
			AccessKey: oc.AccessKey,
			SecretKey: oc.SecretKey,
			Bucket:    oc.Bucket,
			UseSSL:    oc.UseSSL,
			Region:    oc.Region,
		}, registry)
		if err != nil {
			return nil, fmt.Errorf("object store: %w", err)
		}
		if err := objects.EnsureBucket(ctx, oc.Region); err != nil {
			return nil, fmt.Errorf("object store: %w", err)
		}
		a.provider = dataset.Chain{registry, objects}
		a.uploader = objects
	}

	if cfg.Datasets.Dir != "" {
		if err := preloadDir(registry, cfg.Datasets.Dir, logger); err != nil {
			return nil, err
		}
	}

	a.orch, err = orchestrator.FromConfig(cfg, b, a.provider, a.store, logger)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// preloadDir registers every CSV and XLSX file in dir under its file name
// without the extension. Unreadable files are logged and skipped.
func preloadDir(registry *dataset.Registry, dir string, logger *slog.Logger) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read datasets dir: %w", err)
	}
	for _, e := range entries {
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if e.IsDir() || (ext != ".csv" && ext != ".xlsx") {
			continue
		}
		table, err := dataset.LoadFile(filepath.Join(dir, e.Name()), dataset.LoadOptions{})
		if err != nil {
			logger.Warn("skipping dataset", "file", e.Name(), "error", err)
			continue
		}
		table.Ref = strings.TrimSuffix(e.Name(), filepath.Ext(e.Name()))
		if _, err := registry.Add(table); err != nil {
			logger.Warn("skipping dataset", "file", e.Name(), "error", err)
			continue
		}
		logger.Info("dataset loaded", "ref", table.Ref, "rows", table.RowCount())
	}
	return nil
}

func exportOptions(cfg *config.Config) export.Options {
	return export.Options{
		ToolVersion: version,
		Parameters: map[string]string{
			"llm.backend":  cfg.LLM.Backend,
			"llm.model":    cfg.LLM.Model,
			"codegen.mode": cfg.Codegen.Mode,
		},
	}
}
