package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kolkov/devsv/internal/config"
	"github.com/kolkov/devsv/internal/lifecycle"
	"github.com/kolkov/devsv/internal/logger"
	"github.com/kolkov/devsv/internal/logtail"
	"github.com/kolkov/devsv/internal/registry"
	"github.com/kolkov/devsv/internal/supervisor"
)

var (
	cfg *config.Config

	flagConfig string // value of --config
	flagDebug  bool   // value of --debug
	flagTUI    bool   // value of serve --tui
)

func main() {
	rootCmd.PersistentFlags().StringVarP(&flagConfig, "config", "c", "devsv.yaml", "Path to configuration file (YAML or TOML)")
	rootCmd.PersistentFlags().BoolVar(&flagDebug, "debug", false, "Enable debug logging")
	rootCmd.PersistentPreRunE = initDevsv

	serveCmd.Flags().BoolVar(&flagTUI, "tui", false, "Run the terminal UI")

	rootCmd.AddCommand(serveCmd, startCmd, stopCmd, restartCmd, listCmd, logsCmd)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "devsv: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:           "devsv",
	Short:         "Supervisor for locally run development services",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var startCmd = &cobra.Command{
	Use:   "start [service...]",
	Short: "Start services (all when none given) and wait for the outcome",
	RunE: func(cmd *cobra.Command, args []string) error {
		return oneShot(args, (*supervisor.Supervisor).StartService, (*supervisor.Supervisor).StartAll)
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop [service...]",
	Short: "Stop services (all when none given) and wait for the outcome",
	RunE: func(cmd *cobra.Command, args []string) error {
		return oneShot(args, (*supervisor.Supervisor).StopService, stopEverything)
	},
}

var restartCmd = &cobra.Command{
	Use:   "restart [service...]",
	Short: "Restart services (all when none given) and wait for the outcome",
	RunE: func(cmd *cobra.Command, args []string) error {
		return oneShot(args, (*supervisor.Supervisor).RestartService, restartEverything)
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured services",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintln(out, "\nConfigured services:")
		for i, s := range cfg.Services {
			fmt.Fprintf(out, "%d. %s\n", i+1, s.Name)
			fmt.Fprintf(out, "   Command:   %s %s\n", s.Command, strings.Join(s.Args, " "))
			if s.StopCommand != "" {
				fmt.Fprintf(out, "   Stop:      %s %s\n", s.StopCommand, strings.Join(s.StopArgs, " "))
			}
			fmt.Fprintf(out, "   Process:   %s, Strategy: %s\n", s.ProcessName, s.Strategy)
			if s.LogPath != "" {
				fmt.Fprintf(out, "   Log:       %s\n", s.LogPath)
			}
			fmt.Fprintf(out, "   Autostart: %v\n\n", s.Autostart)
		}
	},
}

var logsCmd = &cobra.Command{
	Use:   "logs <service>",
	Short: "Print the end of a service log",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sv, err := newSupervisor()
		if err != nil {
			return err
		}
		defer sv.Close()

		content, err := sv.ReadLogTail(args[0])
		if errors.Is(err, logtail.ErrLogNotFound) {
			fmt.Fprintln(cmd.OutOrStdout(), "Log file not found.")
			return nil
		}
		if err != nil {
			return err
		}
		fmt.Fprint(cmd.OutOrStdout(), content)
		return nil
	},
}

func initDevsv(cmd *cobra.Command, _ []string) error {
	created, err := config.WriteDefault(flagConfig)
	if err != nil {
		return err
	}

	cfg, err = config.Load(flagConfig)
	if err != nil {
		return fmt.Errorf("loading %s: %w", flagConfig, err)
	}

	level := cfg.LogLevel
	if flagDebug {
		level = "debug"
	}
	format := cfg.LogFormat
	if env, ok := os.LookupEnv("LOG_FORMAT"); ok {
		format = env
	}

	var out io.Writer = os.Stderr
	if cmd == serveCmd && flagTUI {
		// The terminal belongs to the UI; log next to the config instead.
		path := filepath.Join(filepath.Dir(flagConfig), "devsv.log")
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("opening log file: %w", err)
		}
		out = f
	}
	logger.Init(logger.NewTo(out, level, logger.ParseFormat(format)))

	if created {
		logger.For(logger.ComponentSupervisor).Infof("Created default config at %s", flagConfig)
	}
	return nil
}

func newSupervisor() (*supervisor.Supervisor, error) {
	reg, err := registry.FromConfig(cfg)
	if err != nil {
		return nil, err
	}
	return supervisor.New(reg,
		supervisor.WithLogger(logger.For(logger.ComponentSupervisor)),
		supervisor.WithTiming(cfg.Timing),
	), nil
}

// oneShot runs an operation in this process and waits for it to finish.
// Without names, all runs instead. Services the operation leaves in a failed
// state make the command fail.
func oneShot(names []string, one func(*supervisor.Supervisor, string), all func(*supervisor.Supervisor)) error {
	sv, err := newSupervisor()
	if err != nil {
		return err
	}
	defer sv.Close()

	for _, name := range names {
		if _, err := sv.GetState(name); err != nil {
			return err
		}
	}

	if len(names) == 0 {
		all(sv)
	} else {
		for _, name := range names {
			one(sv, name)
		}
	}
	sv.Wait()
	sv.PrintStatus(os.Stdout)

	var failed []string
	for _, st := range sv.Status() {
		switch st.State {
		case lifecycle.FailedToStart, lifecycle.FailedToStop, lifecycle.StopIncomplete:
			failed = append(failed, st.Name)
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("failed: %s", strings.Join(failed, ", "))
	}
	return nil
}

// stopEverything stops every configured service. A fresh process has an empty
// running set, so StopAll alone would have nothing to do.
func stopEverything(sv *supervisor.Supervisor) {
	for _, name := range sv.Names() {
		sv.StopService(name)
	}
}

func restartEverything(sv *supervisor.Supervisor) {
	for _, name := range sv.Names() {
		sv.RestartService(name)
	}
}
