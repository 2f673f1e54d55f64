// Package config provides configuration loading and validation for signstream.
// It reads a YAML file over built-in defaults and lets SIGNSTREAM_ENDPOINT,
// from the environment or a .env file, override the backend address.
package config
