package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"fundrate-collector/internal/config"
	"fundrate-collector/internal/coordinator"
	"fundrate-collector/internal/exchange"
	"fundrate-collector/internal/exchange/registry"
	"fundrate-collector/internal/fetch"
	"fundrate-collector/internal/logging"
	"fundrate-collector/internal/metrics"
	"fundrate-collector/internal/orchestrator"
	"fundrate-collector/internal/publisher"
	"fundrate-collector/internal/refresher"
	"fundrate-collector/internal/schedule"
	"fundrate-collector/internal/sharding"
	"fundrate-collector/internal/store/postgres"
)

// shutdownGrace is how long running jobs get to finish after the first
// termination signal.
const shutdownGrace = 30 * time.Second

func main() {
	rootCmd := &cobra.Command{
		Use:           "collector",
		Short:         "Perpetual futures funding rate collector",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	flags := config.Register(rootCmd)
	rootCmd.RunE = func(cmd *cobra.Command, _ []string) error {
		return run(cmd, flags)
	}

	if err := rootCmd.Execute(); err != nil {
		log.Fatal().Err(err).Msg("Collector failed")
	}
}

func run(cmd *cobra.Command, flags *config.Flags) error {
	// Every schedule and settlement timestamp in this system is UTC.
	time.Local = time.UTC

	cfg, err := config.Load(cmd, flags)
	if err != nil {
		return err
	}
	logging.Setup(cfg.InstanceID, cfg.TotalInstances)
	if err := sharding.Validate(cfg.InstanceID, cfg.TotalInstances); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := fetch.NewClient(fetch.WithLogger(log.Logger))
	adapters := registry.Build(client)
	assigned, err := assignedIDs(cfg, adapters)
	if err != nil {
		return err
	}
	if len(assigned) == 0 {
		log.Warn().Msg("No exchanges assigned to this instance; idling")
	}

	st, err := postgres.Open(ctx, cfg.DBConnection)
	if err != nil {
		return err
	}
	defer st.Close()
	if err := st.Ping(ctx); err != nil {
		return fmt.Errorf("database unreachable: %w", err)
	}

	metricsServer := metrics.NewServer(cfg.MetricsAddr)
	go func() {
		if err := metricsServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("Metrics server error")
		}
	}()
	defer metricsServer.Stop()

	var pub coordinator.LivePublisher
	if cfg.RedisAddr != "" {
		rp, err := publisher.NewRedisPublisher(cfg.RedisAddr)
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer rp.Close()
		pub = rp
		log.Info().Str("addr", cfg.RedisAddr).Msg("Live rate fan-out enabled")
	}

	refr := refresher.New(st, log.Logger)
	scopes := logging.NewScopes(cfg.DebugExchanges, cfg.DebugLiveExchanges)

	sched := schedule.New(log.Logger)
	if err := sched.AddTick(func() { refr.Tick(ctx) }); err != nil {
		return err
	}
	for idx, id := range assigned {
		adapter := adapters[id]
		exLog := scopes.ForExchange(string(id))
		liveLog := scopes.ForExchangeLive(string(id))
		coord := coordinator.New(st, adapter, refr, pub, exLog, liveLog)
		orch := orchestrator.New(id, st, coord, exLog, liveLog)

		update := func() { orch.Update(ctx) }
		updateLive := func() { orch.UpdateLive(ctx) }
		if err := sched.AddExchange(string(id), update, updateLive, idx, len(assigned)); err != nil {
			return err
		}
	}

	log.Info().
		Str("exchanges", joinIDs(assigned)).
		Str("metrics", cfg.MetricsAddr).
		Msg("Starting funding rate collector")
	sched.Start()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info().Str("signal", sig.String()).Msg("Shutting down...")

	stopCtx := sched.Stop()
	select {
	case <-stopCtx.Done():
	case <-time.After(shutdownGrace):
		log.Warn().Msg("Grace period elapsed; aborting running jobs")
	}
	cancel()
	return nil
}

// assignedIDs resolves the configured exchange list against the registry
// and slices out this instance's shard.
func assignedIDs(cfg *config.Config, adapters map[exchange.ID]exchange.Adapter) ([]exchange.ID, error) {
	all := registry.SortedIDs(adapters)

	selected := all
	if len(cfg.Exchanges) > 0 {
		want := make(map[exchange.ID]bool, len(cfg.Exchanges))
		for _, raw := range cfg.Exchanges {
			id := exchange.ID(raw)
			if _, ok := adapters[id]; !ok {
				return nil, fmt.Errorf("unknown exchange %q", raw)
			}
			want[id] = true
		}
		selected = make([]exchange.ID, 0, len(want))
		for _, id := range all {
			if want[id] {
				selected = append(selected, id)
			}
		}
	}
	return sharding.Slice(selected, cfg.InstanceID, cfg.TotalInstances), nil
}

func joinIDs(ids []exchange.ID) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = string(id)
	}
	return strings.Join(parts, ",")
}
