package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/kolkov/devsv/internal/api"
	"github.com/kolkov/devsv/internal/logger"
	"github.com/kolkov/devsv/internal/metrics"
	"github.com/kolkov/devsv/internal/supervisor"
	"github.com/kolkov/devsv/internal/tui"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the supervisor with its control API until interrupted",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve(cmd.Context())
	},
}

func serve(ctx context.Context) error {
	log := logger.For(logger.ComponentSupervisor)

	sv, err := newSupervisor()
	if err != nil {
		return err
	}
	defer sv.Close()

	rec := metrics.NewRecorder(sv.Names()...)
	sub := sv.Subscribe(rec.Observe)
	defer sub.Unsubscribe()

	for _, s := range cfg.Services {
		if s.Autostart {
			sv.StartService(s.Name)
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	if cfg.Listen != "" {
		lis, err := net.Listen("tcp", cfg.Listen)
		if err != nil {
			return fmt.Errorf("listening on %s: %w", cfg.Listen, err)
		}
		g.Go(func() error {
			return api.Serve(gctx, lis, sv, logger.For(logger.ComponentAPI))
		})
	}

	if cfg.MetricsListen != "" {
		lis, err := net.Listen("tcp", cfg.MetricsListen)
		if err != nil {
			return fmt.Errorf("listening on %s: %w", cfg.MetricsListen, err)
		}
		g.Go(func() error {
			return rec.Serve(gctx, lis, logger.For(logger.ComponentMetrics))
		})
	}

	if flagTUI {
		g.Go(func() error {
			// Quitting the UI ends the whole serve command.
			if err := tui.New(sv, logger.For(logger.ComponentTUI)).Run(gctx); err != nil {
				return err
			}
			return context.Canceled
		})
	} else {
		g.Go(func() error {
			return printOnHangup(gctx, sv)
		})
	}

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}

	log.Info("Shutting down, stopping services")
	sv.Shutdown()
	return err
}

// printOnHangup prints the status table for every SIGHUP until ctx is done.
func printOnHangup(ctx context.Context, sv *supervisor.Supervisor) error {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-hup:
			sv.PrintStatus(os.Stdout)
		}
	}
}
