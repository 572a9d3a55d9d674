// Package config handles configuration loading for support-gateway.
//
// # Overview
//
// Configuration is loaded from YAML or TOML files with environment variable
// expansion. The package fills defaults and validates the result.
//
// # Configuration File
//
// Default location:
//
//  1. Path from SUPPORT_GATEWAY_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/support-gateway/gateway.yaml
//     (~/.config/support-gateway/gateway.yaml when XDG_CONFIG_HOME is unset)
//
// Files ending in .toml are decoded as TOML; everything else as YAML.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	auth:
//	  jwt_secret: "${SUPPORT_GATEWAY_JWT_SECRET}"
//
// Unset variables expand to the empty string.
//
// # Duration Parsing
//
// auth.token_ttl and chat.dedupe_ttl use time.ParseDuration syntax ("24h",
// "10m").
//
// # Configuration Sections
//
//	server:
//	  http_addr: "0.0.0.0:8080"
//	  allowed_origins: ["https://shop.example.com"]
//
//	database:
//	  driver: "sqlite"            # or "postgres"
//	  path: "./data/support.db"
//	  dsn: "postgres://..."       # postgres only
//
//	auth:
//	  jwt_secret: "${JWT_SECRET}" # at least 32 bytes
//	  token_ttl: "24h"
//	  denylist_redis_url: ""      # revoked tokens, optional
//
//	chat:
//	  join_policy: "open"         # or "participant"
//	  rate_limit: 5               # messages per second per connection
//	  burst: 10
//	  send_buffer: 128
//	  max_frame_size: 65536
//	  history_limit: 200
//	  dedupe_ttl: "10m"
//	  dedupe_size: 10000
//
//	relay:
//	  redis_url: ""               # enables multi-instance fan-out
//	  channel: "support-gateway:fanout"
//
//	jobs:
//	  redis_url: ""               # asynq; empty runs jobs in-process
//	  concurrency: 4
//
//	mail:
//	  smtp_host: ""               # empty logs emails instead of sending
//	  smtp_port: 587
//	  from: "Home Decor <shop@example.com>"
//	  admin_email: "admin@example.com"
//
//	logging:
//	  level: "info"               # debug, info, warn, error
//	  format: "text"              # or "json"
//
//	metrics:
//	  enabled: true
//	  path: "/metrics"
package config
