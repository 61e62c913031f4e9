// Package config loads gateway configuration with the precedence
// defaults, then YAML file, then environment variables prefixed with
// AGENTGATE.
package config
