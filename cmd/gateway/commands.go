package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aman-churiwal/admission-gateway/internal/config"
	"github.com/aman-churiwal/admission-gateway/internal/repository"
	"github.com/aman-churiwal/admission-gateway/internal/service"
	"github.com/aman-churiwal/admission-gateway/internal/storage"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// Prints the effective configuration after file and environment overrides
func checkConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check-config",
		Short: "Validate and print the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}

			redacted := *cfg
			if redacted.Auth.JWTSecret != "" {
				redacted.Auth.JWTSecret = "<redacted>"
			}
			if redacted.Redis.Password != "" {
				redacted.Redis.Password = "<redacted>"
			}
			if redacted.Database.URL != "" {
				redacted.Database.URL = "<redacted>"
			}

			out, err := yaml.Marshal(redacted)
			if err != nil {
				return err
			}

			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}
}

// Deletes persisted admission logs past the retention period
func cleanupCmd() *cobra.Command {
	var retention time.Duration

	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete admission logs older than the retention period",
		RunE: func(cmd *cobra.Command, args []string) error {
			if retention <= 0 {
				return errors.New("--retention must be positive")
			}

			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if !cfg.Database.Enabled() {
				return service.ErrHistoryDisabled
			}

			postgres, err := storage.NewPostgres(cfg.Database.URL)
			if err != nil {
				return err
			}
			defer postgres.Close()

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}

			analytics := service.NewAnalyticsService(repository.NewAdmissionLogRepository(postgres))
			deleted, err := analytics.CleanupOldLogs(ctx, retention)
			if err != nil {
				return fmt.Errorf("cleanup failed: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "deleted %d admission logs older than %s\n", deleted, retention)
			return nil
		},
	}

	cmd.Flags().DurationVar(&retention, "retention", 30*24*time.Hour, "keep logs newer than this")

	return cmd
}
