package main

import (
	"errors"
	"fmt"

	"github.com/kiranshivaraju/mediaforge/internal/cache"
	"github.com/kiranshivaraju/mediaforge/internal/config"
	"github.com/kiranshivaraju/mediaforge/internal/store"
	"github.com/spf13/cobra"
)

var errNoEventBackend = errors.New("events needs DATABASE_URL or REDIS_URL")

func newEventsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "events <prompt-id>",
		Short: "Show a job's journaled status changes and its mirrored status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if cfg.Database.URL == "" && cfg.Redis.URL == "" {
				return errNoEventBackend
			}

			ctx := cmd.Context()
			out := cmd.OutOrStdout()
			id := args[0]

			if cfg.Redis.URL != "" {
				rc, err := cache.NewRedisCache(cfg.Redis.URL)
				if err != nil {
					return fmt.Errorf("create redis cache: %w", err)
				}
				defer rc.Close()

				status, found, err := rc.GetJobStatus(ctx, id)
				if err != nil {
					return fmt.Errorf("read mirrored status: %w", err)
				}
				if found {
					fmt.Fprintf(out, "mirrored status: %s\n", status)
				} else {
					fmt.Fprintln(out, "mirrored status: none")
				}
			}

			if cfg.Database.URL != "" {
				pool, err := store.Connect(ctx, cfg.Database)
				if err != nil {
					return fmt.Errorf("connect database: %w", err)
				}
				defer pool.Close()

				events, err := store.NewPostgresJournal(pool).History(ctx, id)
				if err != nil {
					return err
				}
				if len(events) == 0 {
					fmt.Fprintf(out, "no journal events for %s\n", id)
					return nil
				}
				fmt.Fprintln(out, renderEvents(events))
			}
			return nil
		},
	}
}
