// ABOUTME: Configuration loading for courier-gateway.
// ABOUTME: YAML with ${ENV} expansion and post-parse duration handling.

// Package config loads and validates the gateway configuration file.
package config
