package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

type options struct {
	withAPI  bool
	seedFile string
}

func main() {
	opts := &options{}

	rootCmd := &cobra.Command{
		Use:   "reacher",
		Short: "Distributed service health monitor and alert escalator",
		Long: "Runs the monitor fleet member, the alerter fleet member and the control API " +
			"in a single process. Use the subcommands to run a single role.",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRoles(cmd.Context(), roleMonitor, roleAlerter, roleAPI)
		},
	}

	monitorCmd := &cobra.Command{
		Use:   "monitor",
		Short: "Probe the services leased to this monitor",
		RunE: func(cmd *cobra.Command, args []string) error {
			roles := []role{roleMonitor}
			if opts.withAPI {
				roles = append(roles, roleAPI)
			}
			return runRoles(cmd.Context(), roles...)
		},
	}
	monitorCmd.Flags().BoolVar(&opts.withAPI, "with-api", false, "Also serve the control API")

	alerterCmd := &cobra.Command{
		Use:   "alerter",
		Short: "Escalate alerts in the shards covered by this alerter",
		RunE: func(cmd *cobra.Command, args []string) error {
			roles := []role{roleAlerter}
			if opts.withAPI {
				roles = append(roles, roleAPI)
			}
			return runRoles(cmd.Context(), roles...)
		},
	}
	alerterCmd.Flags().BoolVar(&opts.withAPI, "with-api", false, "Also serve the control API")

	apiCmd := &cobra.Command{
		Use:   "api",
		Short: "Serve the control API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRoles(cmd.Context(), roleAPI)
		},
	}

	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create the lease store schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate(cmd.Context())
		},
	}

	seedCmd := &cobra.Command{
		Use:   "seed",
		Short: "Register the services listed in a YAML file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSeed(cmd.Context(), opts.seedFile)
		},
	}
	seedCmd.Flags().StringVarP(&opts.seedFile, "file", "f", "./services.yaml", "Path to the services file")

	rootCmd.AddCommand(monitorCmd, alerterCmd, apiCmd, migrateCmd, seedCmd)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}
