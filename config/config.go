package config

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/searchktools/crane/core"
	"github.com/searchktools/crane/core/logger"
	"github.com/searchktools/crane/core/observability"
)

// Config holds all application configuration.
type Config struct {
	// Server holds configuration for the crane engine.
	Server Server `mapstructure:"server"`
	// Log holds configuration for the logger.
	Log logger.Config `mapstructure:"log"`
	// Metrics holds configuration for the Prometheus collectors.
	Metrics Metrics `mapstructure:"metrics"`
}

// Server holds configuration for the listening engine.
type Server struct {
	// Addr is the host:port to bind.
	Addr string `mapstructure:"addr" default:"127.0.0.1:8888"`
	// ReadTimeout bounds the single request read; 0 disables it.
	ReadTimeout time.Duration `mapstructure:"read_timeout" default:"0s"`
	// Workers is the number of connections served concurrently.
	Workers int `mapstructure:"workers" default:"4"`
	// BufferSize is the size of the single request read.
	BufferSize int `mapstructure:"buffer_size" default:"1024"`
	// MaxConnections caps open connections; 0 disables the cap.
	MaxConnections int `mapstructure:"max_connections" default:"0"`
}

// Metrics holds configuration for metrics exposure.
type Metrics struct {
	// Enabled registers the collectors and serves them on Path.
	Enabled bool `mapstructure:"enabled" default:"true"`
	// Path is the route the metrics are served on.
	Path string `mapstructure:"path" default:"/metrics"`
	// Namespace prefixes every metric name.
	Namespace string `mapstructure:"namespace" default:"crane"`
}

// Load loads configuration from environment variables, a .env file in path
// and, when flags is non-nil, command line flags named after the config keys
// (for example --server.addr).
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	envPath := path + "/.env"
	if path == "." {
		envPath = ".env"
	}

	// Ignore error if file doesn't exist
	_ = godotenv.Load(envPath)

	v := viper.New()

	// Register every key with its default so AutomaticEnv can see it
	bindValues(v, Config{}, "")

	// SERVER_ADDR -> server.addr
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, fmt.Errorf("bind flags: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	return &cfg, nil
}

// bindValues sets viper defaults from the 'default' and 'mapstructure' tags.
func bindValues(v *viper.Viper, iface any, prefix string) {
	t := reflect.TypeOf(iface)
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		tag := field.Tag.Get("mapstructure")
		if tag == "" {
			continue
		}

		key := tag
		if prefix != "" {
			key = prefix + "." + tag
		}

		// time.Duration is an int64, only real structs recurse
		if field.Type.Kind() == reflect.Struct {
			bindValues(v, reflect.New(field.Type).Elem().Interface(), key)
			continue
		}

		v.SetDefault(key, field.Tag.Get("default"))
	}
}

// EngineConfig converts the server section into a core.Config.
func (c *Config) EngineConfig(log *zap.Logger, metrics *observability.Metrics) core.Config {
	return core.Config{
		Addr:           c.Server.Addr,
		ReadTimeout:    c.Server.ReadTimeout,
		Workers:        c.Server.Workers,
		BufferSize:     c.Server.BufferSize,
		MaxConnections: c.Server.MaxConnections,
		Logger:         log,
		Metrics:        metrics,
	}
}

// RegisterFlags declares the command line flags Load understands.
func RegisterFlags(flags *pflag.FlagSet) {
	flags.String("server.addr", "127.0.0.1:8888", "address to listen on")
	flags.Duration("server.read_timeout", 0, "timeout for the single request read (0 disables)")
	flags.Int("server.workers", core.DefaultWorkers, "number of connections served concurrently")
	flags.Int("server.buffer_size", core.DefaultBufferSize, "request read buffer size in bytes")
	flags.Int("server.max_connections", 0, "maximum open connections (0 disables)")
	flags.String("log.level", "info", "log level (debug, info, warn, error)")
	flags.String("log.format", "console", "log format (console, json)")
}
