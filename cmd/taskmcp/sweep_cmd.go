package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"taskmcp-go/internal/config"
	"taskmcp-go/internal/logs"
	"taskmcp-go/internal/storage"
)

// GetSweepCommand returns the one-shot cleanup command. It works directly
// against the database, so the server does not need to be running; it
// also does not need provider credentials.
func GetSweepCommand() *cobra.Command {
	var pruneActivity time.Duration

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Remove expired sessions and client registrations from the database",
		RunE: func(_ *cobra.Command, _ []string) error {
			logger, err := logs.SetupCommandLogger(false, logLevel, logToFile, logDir)
			if err != nil {
				return fmt.Errorf("failed to setup logger: %w", err)
			}
			defer func() {
				_ = logger.Sync()
			}()

			cfg, err := config.Load(configFile)
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			if dataDir != "" {
				cfg.DataDir = dataDir
			}

			store, err := storage.NewManager(cfg.DataDir, logger.Sugar())
			if err != nil {
				return fmt.Errorf("failed to open database: %w", err)
			}
			defer store.Close()

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			now := time.Now().UTC()
			removedSessions, err := store.DeleteExpiredSessions(ctx, now)
			if err != nil {
				return fmt.Errorf("failed to sweep sessions: %w", err)
			}
			removedClients, err := store.DeleteExpiredClients(ctx, now)
			if err != nil {
				return fmt.Errorf("failed to sweep clients: %w", err)
			}

			fmt.Printf("Removed %d expired sessions and %d expired clients\n", removedSessions, removedClients)

			if pruneActivity > 0 {
				pruned, err := store.PruneOldActivities(pruneActivity)
				if err != nil {
					return fmt.Errorf("failed to prune activity records: %w", err)
				}
				fmt.Printf("Pruned %d activity records older than %v\n", pruned, pruneActivity)
			}

			// Synchronous write: the process exits right after this.
			if removedSessions > 0 || removedClients > 0 {
				if err := store.SaveActivity(&storage.ActivityRecord{
					Type:   storage.ActivityTypeCleanup,
					Status: storage.ActivityStatusSuccess,
					Detail: fmt.Sprintf("sessions=%d clients=%d", removedSessions, removedClients),
				}); err != nil {
					return fmt.Errorf("failed to record cleanup activity: %w", err)
				}
			}

			return nil
		},
	}

	cmd.Flags().DurationVar(&pruneActivity, "prune-activity", 0, "Also prune activity records older than this duration (e.g. 720h)")

	return cmd
}
