package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/kolkov/devsv/internal/api"
	"github.com/kolkov/devsv/internal/supervisor"
)

var (
	client *api.Client

	flagAddr    string        // value of --addr
	flagTimeout time.Duration // value of --timeout
)

func main() {
	rootCmd.PersistentFlags().StringVar(&flagAddr, "addr", "127.0.0.1:50051", "Address of the devsv control API")
	rootCmd.PersistentFlags().DurationVar(&flagTimeout, "timeout", 5*time.Second, "Timeout for single requests")

	rootCmd.AddCommand(
		statusCmd, stateCmd, logsCmd, watchCmd,
		namedCmd("start", "Start a service", (*api.Client).StartService),
		namedCmd("stop", "Stop a service", (*api.Client).StopService),
		namedCmd("restart", "Restart a service", (*api.Client).RestartService),
		allCmd("start-all", "Start every service", (*api.Client).StartAll),
		allCmd("stop-all", "Stop every running service", (*api.Client).StopAll),
		allCmd("restart-all", "Restart every running service", (*api.Client).RestartAll),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := rootCmd.ExecuteContext(ctx)
	if client != nil {
		_ = client.Close()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "devsvctl: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:               "devsvctl",
	Short:             "Control a running devsv over its gRPC API",
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: connect,
}

func connect(*cobra.Command, []string) error {
	c, err := api.Dial(flagAddr)
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", flagAddr, err)
	}
	client = c
	return nil
}

func request(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), flagTimeout)
}

// namedCmd builds a command that sends one operation for one service.
func namedCmd(use, short string, call func(*api.Client, context.Context, string) error) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <service>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := request(cmd)
			defer cancel()
			if err := call(client, ctx, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s requested for %s\n", use, args[0])
			return nil
		},
	}
}

func allCmd(use, short string, call func(*api.Client, context.Context) error) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := request(cmd)
			defer cancel()
			if err := call(client, ctx); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s requested\n", use)
			return nil
		},
	}
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the status of every service",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := request(cmd)
		defer cancel()
		statuses, err := client.GetStatus(ctx)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%-20s %-8s %-16s %s\n", "SERVICE", "PID", "STATE", "MESSAGE")
		for _, st := range statuses {
			pid := "N/A"
			if st.PID > 0 {
				pid = strconv.Itoa(st.PID)
			}
			state := supervisor.StateColor(st.State).Sprintf("%-16s", st.State)
			fmt.Fprintf(out, "%-20s %-8s %s %s\n", st.Name, pid, state, st.Message)
		}
		return nil
	},
}

var stateCmd = &cobra.Command{
	Use:   "state <service>",
	Short: "Print the lifecycle state of a service",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := request(cmd)
		defer cancel()
		st, err := client.GetState(ctx, args[0])
		if err != nil {
			return err
		}
		supervisor.StateColor(st).Fprintln(cmd.OutOrStdout(), st)
		return nil
	},
}

var logsCmd = &cobra.Command{
	Use:   "logs <service>",
	Short: "Print the end of a service log",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := request(cmd)
		defer cancel()
		content, err := client.ReadLogTail(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Fprint(cmd.OutOrStdout(), content)
		return nil
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream status events until interrupted",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		gray := color.New(color.FgHiBlack)
		err := client.Subscribe(cmd.Context(), func(ev supervisor.StatusEvent) {
			gray.Fprint(out, ev.Time.Local().Format("15:04:05"), " ")
			fmt.Fprintf(out, "%s %s", ev.Service, ev.Message)
			if ev.State != "" {
				supervisor.StateColor(ev.State).Fprintf(out, " (%s)", ev.State)
			}
			fmt.Fprintln(out)
		})
		if cmd.Context().Err() != nil {
			return nil
		}
		return err
	},
}
