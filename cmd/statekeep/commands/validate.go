package commands

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/statekeep/statekeep/pkg/bootstrap"
	"github.com/statekeep/statekeep/pkg/telemetry"
)

func newValidateCommand() *cobra.Command {
	var policyName string

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate configuration, policies, scripts and seed state",
		Long: `Validate the configuration file and everything it references.

This command checks:
  - Config structure and values
  - Rego policy compilation
  - Starlark reducer script loading
  - Seed state against its CUE schema
  - Storage backend availability`,
		Example: `  # Validate statekeep.yaml
  statekeep validate

  # Validate another config
  statekeep validate --config ./staging.yaml

  # Show one compiled policy
  statekeep validate --policy builtin-action-shape`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			log.Info().
				Str("driver", string(cfg.Storage.Driver)).
				Int("policy_paths", len(cfg.Policy.Paths)).
				Str("script", cfg.Reducers.Script).
				Str("seed", cfg.Seed.Path).
				Msg("Validating configuration")

			// Watching is irrelevant for a one-shot check.
			cfg.Policy.Watch = false
			app, err := bootstrap.NewApp(cmd.Context(), cfg, telemetry.Nop())
			if err != nil {
				return err
			}
			defer app.Shutdown(context.WithoutCancel(cmd.Context()))

			if err := app.HealthCheck(cmd.Context()); err != nil {
				return err
			}

			if policyName != "" {
				if app.Engine == nil {
					return fmt.Errorf("policies are disabled")
				}
				p, err := app.Engine.GetPolicy(policyName)
				if err != nil {
					return err
				}
				return printValue(cmd.OutOrStdout(), map[string]any{
					"name":        p.Name,
					"description": p.Description,
					"severity":    p.Severity,
					"enabled":     p.Enabled,
					"source":      p.Source,
					"rego":        p.Rego,
				})
			}

			r, err := app.Registry()
			if err != nil {
				return err
			}

			summary := map[string]any{
				"valid":   true,
				"slices":  r.Names(),
				"persist": bootstrap.Whitelist(),
			}
			if app.Engine != nil {
				var names []string
				for _, p := range app.Engine.ListPolicies() {
					names = append(names, p.Name)
				}
				summary["policies"] = names
			}
			if len(app.Seed) > 0 {
				summary["seed"] = app.Seed
			}

			if !jsonOutput {
				fmt.Fprintln(cmd.OutOrStdout(), "✓ Configuration is valid")
			}
			return printValue(cmd.OutOrStdout(), summary)
		},
	}

	cmd.Flags().StringVar(&policyName, "policy", "", "print one compiled policy instead of the summary")

	return cmd
}
