package commands

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/statekeep/statekeep/pkg/bootstrap"
	"github.com/statekeep/statekeep/pkg/store"
)

func newRunCommand() *cobra.Command {
	var (
		stores          int
		shutdownTimeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Host stores until interrupted",
		Long: `Bootstrap one or more stores and keep them running until interrupted.

Stores started by one process share an in-process hub, so an action
dispatched to one is replayed into the others. The metrics endpoint is
served when telemetry.metrics.enabled is set. On shutdown pending writes
are flushed.`,
		Example: `  # Host a single store
  statekeep run

  # Host three synchronized stores
  statekeep run --stores 3`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			first, err := openSession(ctx)
			if err != nil {
				return err
			}
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
				defer cancel()
				if err := first.tel.Metrics.StopMetricsServer(shutdownCtx); err != nil {
					log.Warn().Err(err).Msg("Failed to stop metrics server")
				}
				if err := first.Close(shutdownCtx); err != nil {
					log.Error().Err(err).Msg("Shutdown failed")
				}
			}()

			if err := first.app.HealthCheck(ctx); err != nil {
				return err
			}
			if err := first.tel.StartMetricsServer(); err != nil {
				return err
			}

			watch(first.handle, first.store)
			for i := 1; i < stores; i++ {
				h, err := first.app.Bootstrap(ctx, func(err error, s *store.Store) {
					if err != nil {
						log.Warn().Err(err).Msg("Store restored with errors")
					}
				})
				if err != nil {
					return err
				}
				<-h.Done()
				watch(h, h.Store)
			}

			log.Info().
				Int("stores", stores).
				Strs("persisted", bootstrap.Whitelist()).
				Msg("Stores running")

			<-ctx.Done()
			return nil
		},
	}

	cmd.Flags().IntVar(&stores, "stores", 1, "number of synchronized stores to host")
	cmd.Flags().DurationVar(&shutdownTimeout, "shutdown-timeout", 10*time.Second, "time allowed for flushing on shutdown")

	return cmd
}

// watch logs the whitelisted slices of s whenever they change.
func watch(h *bootstrap.Handle, s *store.Store) {
	origin := h.Sync.Origin()
	prev := s.GetState()
	log.Info().Str("origin", origin).Interface("state", prev).Msg("Store ready")

	// Listeners run on the relay goroutine as well as local dispatchers.
	var mu sync.Mutex
	s.Subscribe(func(state store.State) {
		mu.Lock()
		defer mu.Unlock()
		for _, name := range bootstrap.Whitelist() {
			if store.Equal(prev[name], state[name]) {
				continue
			}
			log.Info().
				Str("origin", origin).
				Str("slice", name).
				Interface("value", state[name]).
				Msg("Slice changed")
		}
		prev = state
	})
}
