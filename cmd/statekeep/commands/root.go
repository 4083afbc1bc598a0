package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/attribute"
	"gopkg.in/yaml.v3"

	"github.com/statekeep/statekeep/pkg/bootstrap"
	"github.com/statekeep/statekeep/pkg/config"
	"github.com/statekeep/statekeep/pkg/store"
	"github.com/statekeep/statekeep/pkg/telemetry"
)

var (
	// Global flags
	configPath string
	jsonOutput bool
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "statekeep",
		Short: "statekeep - persisted application state container",
		Long: `statekeep hosts an application state store whose navigation slices
(currentComponent and currentTab) survive restarts.

Features:
  - Reducers in Go or Starlark
  - SQLite, file or in-memory persistence
  - Action metadata and in-process synchronization
  - Action policies in Rego
  - Seed state validated with CUE`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path (default "+config.DefaultPath+" if present)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	rootCmd.AddCommand(newInitCommand())
	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newRunCommand())
	rootCmd.AddCommand(newStateCommand())
	rootCmd.AddCommand(newDispatchCommand())
	rootCmd.AddCommand(newPurgeCommand())

	return rootCmd
}

// loadConfig reads --config, falling back to statekeep.yaml in the working
// directory and then to defaults.
func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		if _, err := os.Stat(config.DefaultPath); err != nil {
			log.Debug().Msg("No config file, using defaults")
			return config.Default(), nil
		}
		path = config.DefaultPath
	}
	log.Debug().Str("config", path).Msg("Loading config")
	return config.Load(path)
}

// session is one bootstrapped store plus everything needed to tear it down.
type session struct {
	app    *bootstrap.App
	tel    *telemetry.Telemetry
	handle *bootstrap.Handle
	store  *store.Store
}

// openSession loads the config, assembles the app and waits for the first
// store to be rehydrated.
func openSession(ctx context.Context) (*session, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	tel, err := telemetry.NewTelemetry(&cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	app, err := bootstrap.NewApp(ctx, cfg, tel)
	if err != nil {
		_ = tel.Shutdown(context.Background())
		return nil, err
	}

	type ready struct {
		err error
		s   *store.Store
	}
	done := make(chan ready, 1)
	h, err := app.Bootstrap(ctx, func(err error, s *store.Store) {
		done <- ready{err: err, s: s}
	})
	if err != nil {
		_ = app.Close()
		_ = tel.Shutdown(context.Background())
		return nil, err
	}

	var r ready
	select {
	case r = <-done:
	case <-ctx.Done():
		_ = app.Close()
		_ = tel.Shutdown(context.Background())
		return nil, ctx.Err()
	}
	if r.err != nil {
		_ = app.Close()
		_ = tel.Shutdown(context.Background())
		return nil, r.err
	}

	return &session{app: app, tel: tel, handle: h, store: r.s}, nil
}

// operation starts a traced CLI operation. Its logger carries the trace and
// span IDs when tracing is enabled.
func (s *session) operation(ctx context.Context, name string, attrs ...attribute.KeyValue) *telemetry.InstrumentedContext {
	return telemetry.StartOperation(s.tel.WithContext(ctx), name, attrs...)
}

// Close stops the store, flushing pending writes, and releases the app.
func (s *session) Close(ctx context.Context) error {
	return errors.Join(
		s.app.Shutdown(ctx),
		s.tel.Shutdown(ctx),
	)
}

// printValue writes v as YAML, or JSON with --json.
func printValue(w io.Writer, v any) error {
	if jsonOutput {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}
