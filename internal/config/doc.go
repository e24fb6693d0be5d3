// Package config handles YAML configuration loading with environment variable substitution.
//
// Configuration files support ${VAR} syntax for environment variable interpolation.
// Unset optional fields take the values in defaults.go; Validate reports the
// first problem as a dotted path such as "feed.endpoint is required".
package config
