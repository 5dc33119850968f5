package main

import (
	"fmt"

	"github.com/privatix/dapp-installer/lib/provision"
	"github.com/privatix/dapp-installer/lib/services"
	"github.com/spf13/cobra"
)

var serviceActions = []string{"start", "stop", "restart"}

func newRootCommand() *cobra.Command {
	var opts provision.Options

	cmd := &cobra.Command{
		Use:   "installer",
		Short: "Provision this host for the VPN agent",
		Long: `Provision this host for the VPN agent.

Without a subcommand the installer runs the full provisioning pipeline. A host
that already completed provisioning only has its services' readiness checked.
On failure the process exits with a code identifying the failed step.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), func(app *application) error {
				return app.Orchestrator.Run(app.Ctx, opts)
			})
		},
	}

	cmd.Flags().BoolVar(&opts.TestData, "test", false, "Seed the database with test data instead of running the deferred install")
	cmd.Flags().BoolVar(&opts.GUI, "gui", false, "Install the GUI components after the services start")

	cmd.AddCommand(newBuildCommand())
	cmd.AddCommand(newServiceCommand(services.VPN))
	cmd.AddCommand(newServiceCommand(services.Common))
	cmd.AddCommand(newResetCommand())

	return cmd
}

func newBuildCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "build",
		Short: "Generate the deferred install command and print it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), func(app *application) error {
				command, err := app.ControlPlane.BuildDeferredCommand(app.Ctx)
				if err != nil {
					return &provision.StepError{Step: "build_deferred_command", Code: provision.CodeDBConfig, Err: err}
				}
				fmt.Fprintln(cmd.OutOrStdout(), command)
				return nil
			})
		},
	}
}

func newServiceCommand(svc services.Service) *cobra.Command {
	return &cobra.Command{
		Use:       fmt.Sprintf("%s <start|stop|restart>", svc),
		Short:     fmt.Sprintf("Control the %s service", svc),
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: serviceActions,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(app *application) error {
				return app.Services.Control(app.Ctx, svc, args[0])
			})
		},
	}
}

func newResetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Clear the provisioning marker so the next run starts from scratch",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd.Context(), func(app *application) error {
				if err := app.Guard.Reset(); err != nil {
					return err
				}
				app.Logger.InfoContext(app.Ctx, "provisioning marker cleared", "path", app.Guard.Path())
				return nil
			})
		},
	}
}
