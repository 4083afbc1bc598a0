// Package config loads the statekeep configuration file and seed state.
//
// # Configuration file
//
// The configuration is YAML decoded over Default and validated with struct
// tags. Unknown keys are rejected. Relative paths are resolved against the
// directory of the file.
//
//	storage:
//	  driver: sqlite          # memory | sqlite | file
//	  path: state.db
//	persist:
//	  key_prefix: "statekeep:"
//	  debounce: 50ms
//	  rehydrate_timeout: 5s
//	  strict: false
//	telemetry:
//	  logging:
//	    level: info
//	    format: console
//	policy:
//	  enabled: true
//	  paths: [policies]
//	  watch: true
//	sync:
//	  origin: desktop-1
//	reducers:
//	  script: reducers.star
//	seed:
//	  path: seed.yaml
//
// # Seed state
//
// A seed file gives initial slice values. It may be JSON, YAML or CUE and is
// checked against the #Seed CUE schema before use:
//
//	loader := config.NewSeedLoader()
//	seed, err := loader.Load(ctx, cfg.Seed.Path)
//
// Seed.Schema replaces the built-in #Seed definition with one read from a
// .cue file.
package config
