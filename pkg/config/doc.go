// Package config loads the endstate process settings.
//
// Settings come from an optional YAML file, then ENDSTATE_* environment
// variables, and are validated with struct tags:
//
//	stateDir: /var/lib/endstate
//	packageManager: apt
//	policyDir: /etc/endstate/policies
//	history:
//	  enabled: true
//	logging:
//	  level: info
//	  format: console
//	  output: stderr
//	metrics:
//	  textfile: /var/lib/node_exporter/endstate.prom
//	tracing:
//	  enabled: true
//	  exporter: otlp
//	  endpoint: localhost:4317
//
// The settings are read once at process start. EngineConfig and
// TelemetryConfig turn them into the explicit configuration values the
// engine and telemetry packages take; nothing in pkg/ reads the environment
// on its own.
package config
