package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"shopmgr/internal/app"
	"shopmgr/internal/config"
	"shopmgr/internal/infrastructure"
	"shopmgr/pkg/contracts"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		slog.Error("Application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "shopmgr",
		Short:         "Shop management server with trial and license entitlement",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}

			application, err := app.NewApplication(cmd.Context(), cfg)
			if err != nil {
				return fmt.Errorf("failed to initialize application: %w", err)
			}
			defer func() { _ = infrastructure.CloseLogFile() }()

			return application.Run(cmd.Context())
		},
	}
	root.Flags().StringVarP(&configPath, "config", "c", "", "path to config.yaml (default: search next to the executable)")

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), contracts.GetFullVersionString())
		},
	})

	root.SetContext(context.Background())
	return root
}
