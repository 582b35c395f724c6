// Package config loads farmvoice configuration from an optional YAML file,
// a .env file and the process environment.
package config
