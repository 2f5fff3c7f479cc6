// Package config loads crane's settings from the environment, an optional
// .env file and command line flags.
package config
