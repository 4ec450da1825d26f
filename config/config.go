package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const envPrefix = "RELAY"

type Config struct {
	Port            int           `mapstructure:"port"`
	DBPath          string        `mapstructure:"db_path"`
	UploadDir       string        `mapstructure:"upload_dir"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
	AllowedTypes    []string      `mapstructure:"allowed_types"`
	MaxUploadSize   int64         `mapstructure:"max_upload_size"`
	MaxMessageSize  int64         `mapstructure:"max_message_size"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	SendBuffer      int           `mapstructure:"send_buffer"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	ControlSocket   string        `mapstructure:"control_socket"`
	LogLevel        string        `mapstructure:"log_level"`
	LogFormat       string        `mapstructure:"log_format"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", 8888)
	v.SetDefault("db_path", "uploads.db")
	v.SetDefault("upload_dir", "uploads")
	v.SetDefault("allowed_origins", []string{"http://localhost:5173"})
	v.SetDefault("allowed_types", []string{
		"image/", "video/", "audio/", "text/plain", "application/pdf", "application/zip",
	})
	v.SetDefault("max_upload_size", 10<<20)
	v.SetDefault("max_message_size", 64<<10)
	v.SetDefault("read_timeout", 60*time.Second)
	v.SetDefault("write_timeout", 10*time.Second)
	v.SetDefault("send_buffer", 256)
	v.SetDefault("shutdown_timeout", 5*time.Second)
	v.SetDefault("control_socket", "/tmp/relay.sock")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
}

// Flags returns the command line flags understood by Load.
func Flags() *pflag.FlagSet {
	flags := pflag.NewFlagSet("relay", pflag.ContinueOnError)
	flags.String("config", "", "path to a config file (yaml, toml or json)")
	flags.Int("port", 8888, "HTTP listen port")
	flags.String("db-path", "uploads.db", "SQLite database for upload metadata")
	flags.String("upload-dir", "uploads", "directory for uploaded files")
	flags.StringSlice("allowed-origins", []string{"http://localhost:5173"}, "allowed browser origins, * for any")
	flags.String("control-socket", "/tmp/relay.sock", "unix control socket path, empty disables it")
	flags.String("log-level", "info", "log level")
	flags.String("log-format", "text", "log format: text or json")
	return flags
}

// Load builds the configuration from defaults, an optional config file,
// RELAY_* environment variables (a .env file is loaded into the environment
// first) and flags, in increasing order of precedence. flags may be nil.
func Load(flags *pflag.FlagSet) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		var bindErr error
		flags.VisitAll(func(f *pflag.Flag) {
			if f.Name == "config" || !f.Changed {
				return
			}
			if err := v.BindPFlag(strings.ReplaceAll(f.Name, "-", "_"), f); err != nil {
				bindErr = err
			}
		})
		if bindErr != nil {
			return nil, fmt.Errorf("bind flags: %w", bindErr)
		}
	}

	if file := configFile(v, flags); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", file, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return sanitize(&cfg)
}

func configFile(v *viper.Viper, flags *pflag.FlagSet) string {
	if flags != nil {
		if file, err := flags.GetString("config"); err == nil && file != "" {
			return file
		}
	}
	return v.GetString("config")
}

func sanitize(cfg *Config) (*Config, error) {
	if cfg.Port < 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("invalid port %d", cfg.Port)
	}
	if cfg.UploadDir == "" {
		cfg.UploadDir = "uploads"
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = 64 << 10
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 60 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = 256
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 5 * time.Second
	}
	cfg.AllowedOrigins = splitList(cfg.AllowedOrigins)
	cfg.AllowedTypes = splitList(cfg.AllowedTypes)
	return cfg, nil
}

// splitList flattens comma separated entries coming from env variables.
func splitList(items []string) []string {
	var out []string
	for _, item := range items {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
