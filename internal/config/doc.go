// Package config handles YAML configuration loading with environment variable substitution.
//
// Configuration files support ${VAR} syntax for environment variable interpolation.
// Defaults cover every optional field; only instance identity and database
// credentials are required.
package config
