// Package logger builds the zap logger used by crane's command line and
// handed to the engine through core.Config.
package logger
