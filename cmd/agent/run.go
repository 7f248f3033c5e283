package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/herbtrace/herbtrace/internal/ingest"
	"github.com/herbtrace/herbtrace/internal/localstore"
	"github.com/herbtrace/herbtrace/internal/record"
	"github.com/herbtrace/herbtrace/internal/syncer"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the sync engine until interrupted",
	Long: `Watches connectivity to the ingest server and drains pending
observations whenever the server is reachable, on reconnect and on a
periodic timer.`,
	RunE: runDaemon,
}

func init() {
	f := runCmd.Flags()
	f.Duration("interval", 30*time.Second, "periodic sync trigger while online")
	f.Duration("probe-interval", 10*time.Second, "connectivity probe period")
	f.Duration("timeout", 30*time.Second, "per-request ingest timeout")
	for _, key := range []string{"interval", "probe-interval", "timeout"} {
		_ = viper.BindPFlag(key, f.Lookup(key))
	}

	rootCmd.AddCommand(runCmd)
}

func runDaemon(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := localstore.Open(viper.GetString("db"))
	if err != nil {
		return err
	}
	defer store.Close()
	if err := store.Init(ctx); err != nil {
		return err
	}

	client := ingest.NewClient(
		viper.GetString("api-url"),
		viper.GetString("token"),
		viper.GetDuration("timeout"),
	)

	coord := syncer.New(syncer.Config{
		Store:    store,
		Remote:   client,
		Interval: viper.GetDuration("interval"),
	})

	unsubscribe := coord.Subscribe(ctx, func(st record.SyncStatus) {
		ev := log.Info().
			Bool("online", st.IsOnline).
			Bool("syncing", st.IsSyncing).
			Int("pending", st.PendingCount)
		if st.LastSyncAt != nil {
			ev = ev.Time("lastSyncAt", *st.LastSyncAt)
		}
		if st.Error != "" {
			ev = ev.Str("error", st.Error)
		}
		ev.Msg("sync status")
	})
	defer unsubscribe()

	// Connectivity probe: the device has no link-state signal worth
	// trusting, so reachability of the ingest server is the signal.
	go probeConnectivity(ctx, client, coord, viper.GetDuration("probe-interval"))

	log.Info().
		Str("apiUrl", viper.GetString("api-url")).
		Str("db", viper.GetString("db")).
		Msg("sync engine started")

	coord.Run(ctx)

	log.Info().Msg("sync engine stopped")
	return nil
}

func probeConnectivity(ctx context.Context, client *ingest.Client, coord *syncer.Coordinator, every time.Duration) {
	if every <= 0 {
		every = 10 * time.Second
	}

	probe := func() {
		probeCtx, cancel := context.WithTimeout(ctx, every)
		defer cancel()
		coord.SetOnline(ctx, client.Health(probeCtx) == nil)
	}

	probe()
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			probe()
		}
	}
}
