// Package config handles configuration loading for coven-groups.
//
// # Overview
//
// Configuration is loaded from a YAML (or TOML) file, environment variables
// referenced inside the file are expanded, COVEN_GROUPS_* variables override
// individual settings, and the result is validated. Every setting has a
// default so the file is optional.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. The --config flag
//  2. Path from COVEN_GROUPS_CONFIG environment variable
//  3. $XDG_CONFIG_HOME/coven/groups.yaml
//  4. ~/.config/coven/groups.yaml
//
// Files ending in .toml are decoded as TOML, everything else as YAML.
//
// # Environment Variable Expansion
//
//	auth:
//	  token: "${COVEN_TOKEN}"
//
// # Environment Overrides
//
// Each section can be overridden with COVEN_GROUPS_<SECTION>_<KEY>:
//
//	COVEN_GROUPS_SERVER_BASE_URL=http://backend:8000/api/v1
//	COVEN_GROUPS_SYNC_MAX_RETRIES=0
//	COVEN_GROUPS_LOGGING_LEVEL=debug
//
// # Configuration Sections
//
//	server:
//	  base_url: "http://localhost:8000/api/v1"
//	  request_timeout: "30s"
//
//	auth:
//	  token: ""
//	  token_file: "~/.config/coven/token"
//
//	sync:
//	  sender: "user"
//	  backoff_base: "1s"
//	  backoff_max: "30s"
//	  max_retries: 10            # 0 retries forever
//	  chain_debounce: "500ms"
//	  send_refetch_delay: "1s"
//	  refetch_rate: 4            # refetches per second
//	  refetch_burst: 2
//	  reconcile_skew: "30s"
//	  pending_stale_after: "2m"
//	  dedupe_ttl: "10s"
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
// # Usage
//
//	cfg, err := config.LoadOrDefault(config.ResolvePath(flagValue))
//	if err != nil {
//	    return err
//	}
package config
