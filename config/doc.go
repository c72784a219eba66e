// Package config loads pipeline configuration.
//
// Values come from an optional YAML file, then TRANSITSTATS_* environment variables (a .env file
// in the working directory is honoured), and are validated using struct tags.
package config
