// Package config handles configuration loading for dispatch-gateway.
//
// # Overview
//
// Configuration is loaded from YAML (or TOML, by file extension) with
// environment variable expansion, defaults and validation.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from DISPATCH_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/dispatch/gateway.yaml
//  3. ~/.config/dispatch/gateway.yaml
//
// # Environment Variable Expansion
//
//	auth:
//	  jwt_secret: "${DISPATCH_JWT_SECRET}"
//
// # Configuration Sections
//
//	server:
//	  http_addr: "0.0.0.0:5000"
//
//	database:
//	  path: "/var/lib/dispatch/gateway.db"   # operator accounts
//
//	auth:
//	  jwt_secret: "${DISPATCH_JWT_SECRET}"   # empty disables operator auth
//	  token_ttl: "24h"
//	  login_attempts: 100
//	  login_window: "15m"
//
//	classes: ["58.0.6", "58.1.1"]           # allow-list, defaults to DefaultClasses
//
//	agents:
//	  ping_interval: "30s"
//	  pong_timeout: "60s"
//	  write_timeout: "10s"
//	  long_poll_timeout: "0s"               # 0 holds until a command arrives
//
//	activity:
//	  capacity: 100
//	  correlation_lookback: 20
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
package config
