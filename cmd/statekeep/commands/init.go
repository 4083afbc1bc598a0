package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"gopkg.in/yaml.v3"

	"github.com/statekeep/statekeep/pkg/config"
	"github.com/statekeep/statekeep/pkg/stores"
	"github.com/statekeep/statekeep/pkg/telemetry"
)

const defaultConfig = `# statekeep configuration

storage:
  driver: sqlite
  path: %s

persist:
  key_prefix: "statekeep:"
  debounce: 100ms
  rehydrate_timeout: 5s
  strict: false

%s
policy:
  enabled: true
  paths: []
  watch: false

sync:
  origin: ""
`

func newInitCommand() *cobra.Command {
	var (
		dataDir string
		force   bool
		profile string
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize a statekeep workspace",
		Long: `Initialize a workspace with a config file and a migrated SQLite database.

The config file is written to --config, or statekeep.yaml in the current directory.`,
		Example: `  # Initialize in the current directory
  statekeep init

  # Production logging and OTLP tracing
  statekeep init --profile production

  # Custom config and data locations
  statekeep init --config /etc/statekeep/statekeep.yaml --data-dir /var/lib/statekeep`,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := configPath
			if path == "" {
				path = config.DefaultPath
			}
			if dataDir == "" {
				dataDir = filepath.Join(filepath.Dir(path), "data")
			}

			tel, err := telemetry.ConfigForProfile(profile)
			if err != nil {
				return err
			}
			telemetryBlock, err := yaml.Marshal(map[string]any{"telemetry": tel})
			if err != nil {
				return fmt.Errorf("failed to render telemetry config: %w", err)
			}

			log.Info().
				Str("config", path).
				Str("data_dir", dataDir).
				Str("profile", profile).
				Msg("Initializing workspace")

			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("config file %s already exists (use --force to overwrite)", path)
			}

			if err := os.MkdirAll(dataDir, 0o700); err != nil {
				return fmt.Errorf("failed to create directory %s: %w", dataDir, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Created directory: %s\n", dataDir)

			dbPath := filepath.Join(dataDir, "statekeep.db")
			backend, err := stores.Open(cmd.Context(), stores.DriverSQLite, dbPath)
			if err != nil {
				return fmt.Errorf("failed to initialize database: %w", err)
			}
			if err := backend.Close(); err != nil {
				return fmt.Errorf("failed to close database: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Initialized SQLite database: %s\n", dbPath)

			// Paths in the config are relative to the config file.
			rel, err := filepath.Rel(filepath.Dir(path), dbPath)
			if err != nil {
				rel = dbPath
			}
			if err := os.WriteFile(path, []byte(fmt.Sprintf(defaultConfig, rel, telemetryBlock)), 0o644); err != nil {
				return fmt.Errorf("failed to write config file: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Created config file: %s\n", path)

			fmt.Fprintf(cmd.OutOrStdout(), "\nNext steps:\n")
			fmt.Fprintf(cmd.OutOrStdout(), "  statekeep dispatch navigation/SELECT_TAB '\"settings\"'\n")
			fmt.Fprintf(cmd.OutOrStdout(), "  statekeep state\n")
			return nil
		},
	}

	cmd.Flags().StringVar(&dataDir, "data-dir", "", "data directory (default: data/ next to the config file)")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config file")
	cmd.Flags().StringVar(&profile, "profile", "default", "telemetry preset (default, development, production)")

	return cmd
}
