// Package config handles configuration loading for entity-gateway.
//
// # Overview
//
// Configuration is loaded from a YAML or TOML file (chosen by extension) with
// environment variable expansion, defaults and validation.
//
// # Configuration File
//
// The CLI resolves the path in order:
//
//  1. Path from ENTITY_GATEWAY_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/entity-gateway/gateway.yaml
//  3. ~/.config/entity-gateway/gateway.yaml
//
// A .env file in the working directory is loaded into the environment first.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	tailscale:
//	  auth_key: "${TS_AUTHKEY}"
//
// Unset variables expand to an empty string.
//
// # Configuration Sections
//
//	server:
//	  http_addr: "0.0.0.0:8080"
//	  grpc_addr: "0.0.0.0:50051"   # grpc.health.v1 only; empty disables
//
//	database:
//	  driver: "sqlite"              # sqlite (pure Go) or sqlite3 (cgo)
//	  path: "/var/lib/entity-gateway/entities.db"
//	  blob_dir: ""                  # defaults to <dir of path>/blobs
//
//	store:
//	  types: ["User", "Order"]      # registered at startup
//
//	search:
//	  default_page_size: 50
//	  max_page_size: 1000
//
//	blobs:
//	  chunk_size: 32768
//
//	idempotency:
//	  ttl: "10m"
//	  max_entries: 10000
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
//	metrics:
//	  enabled: true
//	  path: "/metrics"
//
// # Validation
//
// Load() applies defaults and then validates:
//
//   - server.http_addr present unless tailscale is enabled
//   - database.path present and database.driver known
//   - page sizes positive with the default not above the maximum
//   - chunk size within bounds
//   - duration format validity
package config
