package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/CDdanieldeng/excel-accelerator/pkg/dataset"
	werrors "github.com/CDdanieldeng/excel-accelerator/pkg/errors"
	"github.com/CDdanieldeng/excel-accelerator/pkg/shell"
)

type chatOptions struct {
	dataset   string
	sheet     string
	headerRow int
	debug     bool
}

func newChatCmd(opts *rootOptions) *cobra.Command {
	co := &chatOptions{}

	cmd := &cobra.Command{
		Use:   "chat [file]",
		Short: "Ask questions about a CSV or XLSX file in the terminal",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				co.dataset = args[0]
			}
			if co.dataset == "" {
				return fmt.Errorf("chat needs a file: accelerator chat sales.xlsx")
			}
			cfg, err := opts.loadConfig(nil)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGTERM)
			defer stop()

			a, err := wireApp(ctx, cfg)
			if err != nil {
				return err
			}
			return chat(ctx, a, co)
		},
	}
	cmd.Flags().StringVar(&co.dataset, "dataset", "", "CSV/XLSX file, or the ref of a preloaded dataset")
	cmd.Flags().StringVar(&co.sheet, "sheet", "", "workbook sheet (default: first sheet)")
	cmd.Flags().IntVar(&co.headerRow, "header-row", 0, "1-based header row (default: detect)")
	cmd.Flags().BoolVar(&co.debug, "debug", false, "show the step trace after every answer")
	return cmd
}

func chat(ctx context.Context, a *app, co *chatOptions) error {
	loadOpts := dataset.LoadOptions{Sheet: co.sheet, HeaderRow: co.headerRow}

	ref, err := resolveDataset(ctx, a, co.dataset, loadOpts)
	if err != nil {
		return err
	}
	init, err := a.orch.Init(ctx, ref, userName())
	if err != nil {
		return err
	}

	home, _ := os.UserHomeDir()
	sh, err := shell.New(a.orch, a.registry, init, shell.Config{
		HistoryFile: filepath.Join(home, ".accelerator_history"),
		ExportDir:   a.cfg.Session.ExportDir,
		Export:      exportOptions(a.cfg),
		Debug:       co.debug,
		LoadOptions: loadOpts,
	})
	if err != nil {
		return fmt.Errorf("start shell: %w", err)
	}
	a.orch.Observe(sh.OnEvent)

	fmt.Printf("Model: %s (%s)\n\n", a.cfg.LLM.Model, a.cfg.LLM.Backend)
	if err := sh.Run(ctx); err != nil && err != context.Canceled {
		return err
	}
	fmt.Println("Goodbye!")
	return nil
}

// resolveDataset loads a file from disk, falling back to treating name as
// the ref of a preloaded or stored dataset.
func resolveDataset(ctx context.Context, a *app, name string, opts dataset.LoadOptions) (string, error) {
	if _, err := os.Stat(name); err == nil {
		table, err := dataset.LoadFile(name, opts)
		if err != nil {
			return "", werrors.DatasetLoadFailed(err, name)
		}
		b, err := a.registry.Add(table)
		if err != nil {
			return "", err
		}
		return b.Ref, nil
	}
	b, err := a.provider.Lookup(ctx, name)
	if err != nil {
		return "", werrors.DatasetNotFound(name)
	}
	return b.Ref, nil
}

func userName() string {
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "local"
}
