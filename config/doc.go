// Package config loads perch configuration from YAML files with environment
// variable expansion and duration parsing.
package config
