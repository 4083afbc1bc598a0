package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/statekeep/statekeep/pkg/persist"
)

func newStateCommand() *cobra.Command {
	var stored bool

	cmd := &cobra.Command{
		Use:   "state",
		Short: "Show the rehydrated state",
		Long: `Bootstrap a store and print its state once rehydration has finished.

With --stored the raw persisted slices are printed instead, read directly
from the storage backend. Backends that track write times also report when
each slice was last written.`,
		Example: `  # Print the current state
  statekeep state

  # Print what is stored, as JSON
  statekeep state --stored --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd.Context())
			if err != nil {
				return err
			}
			defer func() {
				if err := s.Close(context.WithoutCancel(cmd.Context())); err != nil {
					log.Error().Err(err).Msg("Shutdown failed")
				}
			}()

			if !stored {
				return printValue(cmd.OutOrStdout(), s.store.GetState())
			}

			op := s.operation(cmd.Context(), "cli.state")
			out, err := storedSlices(op.Ctx, s.app.Backend, s.handle.Persistor.KeyPrefix())
			op.End(err)
			if err != nil {
				return err
			}
			return printValue(cmd.OutOrStdout(), out)
		},
	}

	cmd.Flags().BoolVar(&stored, "stored", false, "print persisted slices instead of the live state")

	return cmd
}

// timestamped is implemented by backends that record write times.
type timestamped interface {
	UpdatedAt(ctx context.Context, key string) (time.Time, error)
}

// storedSlices decodes every persisted slice under prefix.
func storedSlices(ctx context.Context, backend persist.Backend, prefix string) (map[string]any, error) {
	snapshot, err := persist.Snapshot(ctx, backend, prefix)
	if err != nil {
		return nil, fmt.Errorf("failed to read storage: %w", err)
	}
	ts, _ := backend.(timestamped)

	out := make(map[string]any, len(snapshot))
	for name, raw := range snapshot {
		var v any
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("stored slice %s: %w", name, err)
		}
		entry := map[string]any{"value": v}
		if ts != nil {
			updated, err := ts.UpdatedAt(ctx, prefix+name)
			switch {
			case errors.Is(err, persist.ErrNotFound):
				// Removed between the snapshot and this read.
			case err != nil:
				return nil, fmt.Errorf("stored slice %s: %w", name, err)
			default:
				entry["updated_at"] = updated.UTC().Format(time.RFC3339)
			}
		}
		out[name] = entry
	}
	return out, nil
}
