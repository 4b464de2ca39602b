package cli

import (
	"context"
	"log"
	"time"

	"github.com/spf13/cobra"

	"quizroom-service/internal/app"
	"quizroom-service/internal/config"
)

// NewCleanupCmd runs one reaper sweep and exits. With --force it removes
// every room that is currently empty regardless of how long it has been so.
func NewCleanupCmd(configPath *string) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Sweep expired empty rooms once",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCleanup(cmd.Context(), *configPath, force)
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "remove all currently empty rooms")
	return cmd
}

func runCleanup(ctx context.Context, configPath string, force bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	d, err := buildDeps(ctx, cfg)
	if err != nil {
		return err
	}
	defer d.close()

	presenceTTL := config.TTLDuration(cfg.Presence.TTL, 30*time.Second)
	presence := app.NewPresenceTracker(d.rooms, d.realtime, presenceTTL)
	reaper := app.NewReaper(d.rooms, d.realtime, presence, app.ReaperPolicy{
		EmptyTTL:        config.TTLDuration(cfg.Reaper.EmptyTTL, 30*time.Minute),
		ArchiveFinished: cfg.Reaper.ArchiveFinished,
	})

	removed, err := reaper.RunOnce(ctx, force)
	if err != nil {
		return err
	}
	log.Printf("cleanup removed %d room(s)", removed)
	return nil
}
