// Package config loads and validates monitor configuration.
//
// Configuration is YAML with ${ENV_VAR} expansion. Missing optional
// fields receive defaults; missing required fields fail validation at
// startup, which is the only fatal error surface in the monitor.
package config
