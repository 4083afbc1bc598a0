package commands

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/statekeep/statekeep/pkg/store"
	"github.com/statekeep/statekeep/pkg/telemetry"
)

func newDispatchCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dispatch <type> [payload]",
		Short: "Dispatch an action and persist the result",
		Long: `Bootstrap a store, dispatch one action and print the resulting state.

The payload is parsed as JSON. Anything that is not valid JSON is sent as a
plain string. Changes to persisted slices are written before the command exits.`,
		Example: `  # Switch tabs
  statekeep dispatch navigation/SELECT_TAB settings

  # Select a component
  statekeep dispatch navigation/SELECT_COMPONENT '"api-gateway"'

  # Clear the search query
  statekeep dispatch search/CLEAR`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			action := store.Action{Type: args[0]}
			if len(args) == 2 {
				action.Payload = parsePayload(args[1])
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

			op := s.operation(cmd.Context(), "cli.dispatch", telemetry.AttrActionType.String(action.Type))
			result, err := s.store.Dispatch(op.Ctx, action)
			op.End(err)
			if err != nil {
				return fmt.Errorf("dispatch %s: %w", action.Type, err)
			}
			op.Logger.WithFields(map[string]interface{}{
				"id":       result.Meta.ID,
				"seq":      result.Meta.Seq,
				"duration": op.Timer.Duration().String(),
			}).Debug("Action dispatched")

			return printValue(cmd.OutOrStdout(), s.store.GetState())
		},
	}

	return cmd
}

func parsePayload(arg string) any {
	var v any
	if err := json.Unmarshal([]byte(arg), &v); err != nil {
		return arg
	}
	return v
}
