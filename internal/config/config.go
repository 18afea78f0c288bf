// Package config provides configuration management for playpen using Viper
// for loading from files, environment variables, and command-line flags.
//
// The configuration is read from .playpen.yml, with PLAYPEN_ prefixed
// environment overrides. It covers the editor server, the remote project API
// the editor persists to, authentication, preview timing, the reference
// project store and logging.
package config

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/conneroisu/playpen/internal/errors"
	"github.com/conneroisu/playpen/internal/logging"
)

// FileName is the config file looked up in the working directory.
const FileName = ".playpen.yml"

type Config struct {
	Server  ServerConfig  `mapstructure:"server" yaml:"server"`
	API     APIConfig     `mapstructure:"api" yaml:"api"`
	Auth    AuthConfig    `mapstructure:"auth" yaml:"auth"`
	Editor  EditorConfig  `mapstructure:"editor" yaml:"editor"`
	Preview PreviewConfig `mapstructure:"preview" yaml:"preview"`
	Store   StoreConfig   `mapstructure:"store" yaml:"store"`
	Log     LogConfig     `mapstructure:"log" yaml:"log"`
}

type ServerConfig struct {
	Port           int      `mapstructure:"port" yaml:"port"`
	Host           string   `mapstructure:"host" yaml:"host"`
	Open           bool     `mapstructure:"open" yaml:"open"`
	AllowedOrigins []string `mapstructure:"allowed_origins" yaml:"allowed_origins"`
	Environment    string   `mapstructure:"environment" yaml:"environment"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// APIConfig points at the project API the editor loads from and saves to.
type APIConfig struct {
	BaseURL     string        `mapstructure:"base_url" yaml:"base_url"`
	Timeout     time.Duration `mapstructure:"timeout" yaml:"timeout"`
	LoadRetries int           `mapstructure:"load_retries" yaml:"load_retries"`
}

type AuthConfig struct {
	// Token is a static bearer token used when the browser supplies none.
	Token string `mapstructure:"token" yaml:"token"`
	// Secret signs and verifies tokens of the reference project API.
	Secret   string        `mapstructure:"secret" yaml:"secret"`
	TokenTTL time.Duration `mapstructure:"token_ttl" yaml:"token_ttl"`
}

type EditorConfig struct {
	SavePolicy string `mapstructure:"save_policy" yaml:"save_policy"`
	// ProjectDir switches persistence to a local directory project.
	ProjectDir string `mapstructure:"project_dir" yaml:"project_dir"`
}

type PreviewConfig struct {
	Debounce     time.Duration `mapstructure:"debounce" yaml:"debounce"`
	MaxDelay     time.Duration `mapstructure:"max_delay" yaml:"max_delay"`
	ConsoleProbe bool          `mapstructure:"console_probe" yaml:"console_probe"`
	ProbeTimeout time.Duration `mapstructure:"probe_timeout" yaml:"probe_timeout"`
}

// StoreConfig configures the reference project API (playpen api).
type StoreConfig struct {
	Listen string `mapstructure:"listen" yaml:"listen"`
	DBPath string `mapstructure:"db_path" yaml:"db_path"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// NewLogger builds the process logger. An unparsable level falls back to
// info; Load has already rejected it.
func (l LogConfig) NewLogger(out io.Writer) *logging.PlaypenLogger {
	level, _ := logging.ParseLevel(l.Level)
	return logging.NewLogger(&logging.LoggerConfig{
		Level:  level,
		Format: l.Format,
		Output: out,
	})
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:        8080,
			Host:        "localhost",
			Environment: "development",
		},
		API: APIConfig{
			BaseURL:     "http://localhost:8081",
			Timeout:     10 * time.Second,
			LoadRetries: 2,
		},
		Auth: AuthConfig{
			TokenTTL: 24 * time.Hour,
		},
		Editor: EditorConfig{
			SavePolicy: "queue",
		},
		Preview: PreviewConfig{
			Debounce:     75 * time.Millisecond,
			MaxDelay:     250 * time.Millisecond,
			ProbeTimeout: time.Second,
		},
		Store: StoreConfig{
			Listen: "localhost:8081",
			DBPath: "playpen.db",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// SetDefaults registers every key with v so environment overrides apply to
// keys that are absent from the config file.
func SetDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.host", d.Server.Host)
	v.SetDefault("server.open", d.Server.Open)
	v.SetDefault("server.allowed_origins", d.Server.AllowedOrigins)
	v.SetDefault("server.environment", d.Server.Environment)
	v.SetDefault("api.base_url", d.API.BaseURL)
	v.SetDefault("api.timeout", d.API.Timeout)
	v.SetDefault("api.load_retries", d.API.LoadRetries)
	v.SetDefault("auth.token", d.Auth.Token)
	v.SetDefault("auth.secret", d.Auth.Secret)
	v.SetDefault("auth.token_ttl", d.Auth.TokenTTL)
	v.SetDefault("editor.save_policy", d.Editor.SavePolicy)
	v.SetDefault("editor.project_dir", d.Editor.ProjectDir)
	v.SetDefault("preview.debounce", d.Preview.Debounce)
	v.SetDefault("preview.max_delay", d.Preview.MaxDelay)
	v.SetDefault("preview.console_probe", d.Preview.ConsoleProbe)
	v.SetDefault("preview.probe_timeout", d.Preview.ProbeTimeout)
	v.SetDefault("store.listen", d.Store.Listen)
	v.SetDefault("store.db_path", d.Store.DBPath)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
}

// Load reads the configuration from the global viper instance.
func Load() (*Config, error) {
	return LoadFrom(viper.GetViper())
}

// LoadFrom unmarshals and validates the configuration held by v.
func LoadFrom(v *viper.Viper) (*Config, error) {
	SetDefaults(v)

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, errors.NewConfigError(errors.ErrCodeConfigInvalid,
			"cannot decode configuration").WithContext("cause", err.Error())
	}

	// Lists from the environment arrive comma separated.
	config.Server.AllowedOrigins = splitList(config.Server.AllowedOrigins)

	if result := ValidateConfigWithDetails(&config); result.HasErrors() {
		return nil, errors.NewConfigError(errors.ErrCodeConfigInvalid,
			fmt.Sprintf("invalid configuration: %s", result.Errors[0].Error()))
	}

	return &config, nil
}

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
