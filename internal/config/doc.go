// Package config provides configuration management for the valkey-http gateway.
// It loads configuration from defaults, an optional YAML file and the environment,
// validates it, and exposes a typed Config to the rest of the application.
//
// # Configuration Sources
//
// Configuration is layered in the following order of precedence:
//
//	1. Environment variables (highest priority)
//	2. YAML configuration file
//	3. Default values (lowest priority)
//
// The file is taken from the --config flag, from VALKEYHTTP_CONFIG_FILE, or from
// valkey-http.yaml in the working directory, whichever is found first.
//
// # Environment Variables
//
// All environment variables follow the pattern VALKEYHTTP_<SECTION>_<FIELD>:
//
//	VALKEYHTTP_SERVER_PORT=8080
//	VALKEYHTTP_ENGINE_KIND=valkey
//	VALKEYHTTP_ENGINE_URL=redis://localhost:6379/0
//	VALKEYHTTP_ENGINE_USERS=alice:secret,bob:hunter2
//	VALKEYHTTP_MONITOR_OVERFLOW=disconnect
//	VALKEYHTTP_LOGGING_LEVEL=debug
//
// # Example File
//
//	server:
//	  port: 8080
//	  auth_realm: acl
//	engine:
//	  kind: memory
//	  users: ["alice:secret"]
//	monitor:
//	  queue_size: 1024
//	  overflow: drop_oldest
//	telemetry:
//	  metrics_addr: ":9090"
//
// # Usage
//
//	cfg, err := config.Load("")
//	if err != nil {
//	    return fmt.Errorf("failed to load config: %w", err)
//	}
//	addr := cfg.Server.Addr()
package config
