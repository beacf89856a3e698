package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/provider-sync/internal/providersync"
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Run full syncs on a cron schedule when data goes stale",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initSync(ctx, "schedule")
		if err != nil {
			return err
		}
		defer env.Close()

		startMonitoring(ctx, cfg, env.Store)

		spec, _ := cmd.Flags().GetString("cron")
		if spec == "" {
			spec = cfg.Schedule.Cron
		}
		opts := providersync.FullOpts{}
		opts.Ingest.Categories = cfg.Sync.Categories

		sched, err := providersync.NewScheduler(ctx, env.Engine, spec, freshness(cfg), opts)
		if err != nil {
			return err
		}
		if now, _ := cmd.Flags().GetBool("now"); now {
			sched.Tick()
		}
		sched.Start()
		zap.L().Info("scheduler started", zap.String("cron", spec))

		<-ctx.Done()
		zap.L().Info("stopping scheduler, waiting for a running sync")
		<-sched.Stop().Done()
		return nil
	},
}

func init() {
	scheduleCmd.Flags().String("cron", "", "cron spec (default schedule.cron)")
	scheduleCmd.Flags().Bool("now", false, "run the staleness check once before the first tick")
	rootCmd.AddCommand(scheduleCmd)
}
