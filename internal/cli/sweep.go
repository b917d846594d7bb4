package cli

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var sweepOnce bool

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Delete expired conversations and their records",
	Long: `Delete conversations idle longer than retention.ttl, with their source
and image records, and records left without a conversation. Runs until
interrupted unless --once is given.`,
	RunE: runSweep,
}

func init() {
	sweepCmd.Flags().BoolVar(&sweepOnce, "once", false, "run a single pass and exit")
	rootCmd.AddCommand(sweepCmd)
}

func runSweep(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	lg, err := setupLogging(cfg.Logging, true)
	if err != nil {
		return err
	}
	defer lg.Close()

	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	sweeper := a.sweeper()
	if sweepOnce {
		report, err := sweeper.RunOnce()
		fmt.Fprintf(cmd.OutOrStdout(), "Scanned %d conversations: %d expired, %d sibling records, %d orphans removed\n",
			report.Scanned, report.Expired, report.Siblings, report.Orphans)
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := sweeper.Start(ctx); err != nil {
		return err
	}
	log.Info().Dur("ttl", cfg.Retention.TTL).Dur("interval", cfg.Retention.Interval).Msg("Retention sweeper running")
	<-ctx.Done()
	return sweeper.Stop()
}
