package commands

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/statekeep/statekeep/pkg/bootstrap"
	"github.com/statekeep/statekeep/pkg/telemetry"
)

func newPurgeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "purge [slice...]",
		Short: "Remove persisted slices",
		Long: `Remove persisted slices from storage. With no arguments every persisted
slice is removed, so the next start uses initial values.`,
		Example: `  # Forget everything
  statekeep purge

  # Forget only the selected tab
  statekeep purge currentTab`,
		RunE: func(cmd *cobra.Command, args []string) error {
			allowed := make(map[string]bool)
			for _, name := range bootstrap.Whitelist() {
				allowed[name] = true
			}
			for _, name := range args {
				if !allowed[name] {
					return fmt.Errorf("slice %s is not persisted", name)
				}
			}

			s, err := openSession(cmd.Context())
			if err != nil {
				return err
			}
			defer func() {
				if err := s.Close(context.WithoutCancel(cmd.Context())); err != nil {
					log.Error().Err(err).Msg("Shutdown failed")
				}
			}()

			op := s.operation(cmd.Context(), "cli.purge", telemetry.AttrPersistKey.StringSlice(args))
			// Writes queued by rehydration must land before removal.
			err = s.handle.Persistor.Flush(op.Ctx)
			if err == nil {
				err = s.handle.Persistor.Purge(op.Ctx, args...)
			}
			op.End(err)
			if err != nil {
				return err
			}

			purged := args
			if len(purged) == 0 {
				purged = bootstrap.Whitelist()
			}
			if jsonOutput {
				return printValue(cmd.OutOrStdout(), map[string]any{"purged": purged})
			}
			for _, name := range purged {
				fmt.Fprintf(cmd.OutOrStdout(), "✓ Purged %s\n", name)
			}
			return nil
		},
	}

	return cmd
}
