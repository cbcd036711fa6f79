package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/CDdanieldeng/excel-accelerator/pkg/api"
	"github.com/CDdanieldeng/excel-accelerator/pkg/config"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	var debug bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			v := config.NewViper()
			if err := v.BindPFlag("server.port", cmd.Flags().Lookup("port")); err != nil {
				return err
			}
			if err := v.BindPFlag("server.host", cmd.Flags().Lookup("host")); err != nil {
				return err
			}
			cfg, err := opts.loadConfig(v)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := wireApp(ctx, cfg)
			if err != nil {
				return err
			}
			return serve(ctx, a, debug)
		},
	}
	cmd.Flags().Int("port", 0, "override server.port")
	cmd.Flags().String("host", "", "override server.host")
	cmd.Flags().BoolVar(&debug, "debug", false, "include the internal trace in chat responses")
	return cmd
}

func serve(ctx context.Context, a *app, debug bool) error {
	srv := api.NewServer(a.cfg.Server)
	events := srv.Mount(api.Services{
		Engine:    a.orch,
		Sessions:  a.store,
		Registry:  a.registry,
		Datasets:  a.provider,
		Uploader:  a.uploader,
		Backends:  a.backends,
		Config:    a.cfg,
		ExportDir: a.cfg.Session.ExportDir,
		Version:   version,
		Debug:     debug,
	})
	a.orch.Observe(api.Observer(events))

	go a.store.Sweep(ctx, a.cfg.Session.SweepInterval, a.cfg.Session.IdleTTL, func(n int) {
		a.logger.Info("idle sessions evicted", "count", n, "remaining", a.store.Len())
		_ = events.BroadcastSessionEvicted(&api.SessionEvictedEvent{
			Count:     n,
			Remaining: a.store.Len(),
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		})
	})

	if err := srv.Start(); err != nil {
		return err
	}
	a.logger.Info("serving", "addr", srv.Address(), "datasets", len(a.registry.List()), "llm", a.cfg.LLM.Backend)
	fmt.Printf("Listening on http://%s\n", srv.Address())

	<-ctx.Done()
	fmt.Println("\nShutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
