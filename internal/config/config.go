// Package config loads settings from config.yaml and ENSEEK_* environment
// variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"enseek/internal/kv"
)

const envPrefix = "ENSEEK"

type Config struct {
	Storage struct {
		Backend string `mapstructure:"backend"`
		Path    string `mapstructure:"path"`
	} `mapstructure:"storage"`
	Recognizer struct {
		Endpoint      string `mapstructure:"endpoint"`
		Language      string `mapstructure:"language"`
		Country       string `mapstructure:"country"`
		WindowSeconds int    `mapstructure:"window_seconds"`
		MaxSeconds    int    `mapstructure:"max_seconds"`
	} `mapstructure:"recognizer"`
	Capture struct {
		SampleRate   int `mapstructure:"sample_rate"`
		BufferFrames int `mapstructure:"buffer_frames"`
	} `mapstructure:"capture"`
	Artwork struct {
		// Timeout of 0 leaves artwork downloads unbounded.
		Timeout time.Duration `mapstructure:"timeout"`
	} `mapstructure:"artwork"`
	Notify struct {
		Enabled bool `mapstructure:"enabled"`
	} `mapstructure:"notify"`
	Server struct {
		Addr string `mapstructure:"addr"`
	} `mapstructure:"server"`
	Log struct {
		Level string `mapstructure:"level"`
	} `mapstructure:"log"`
}

// Window is the amount of new audio between recognizer queries.
func (c *Config) Window() time.Duration {
	return time.Duration(c.Recognizer.WindowSeconds) * time.Second
}

// MaxWindow is the longest stretch of audio sent in one query.
func (c *Config) MaxWindow() time.Duration {
	return time.Duration(c.Recognizer.MaxSeconds) * time.Second
}

// Dir is the per-user data directory, $HOME/.enseek.
func Dir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".enseek"
	}
	return filepath.Join(home, ".enseek")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("storage.backend", kv.BackendFile)
	v.SetDefault("storage.path", "")
	v.SetDefault("recognizer.endpoint", "")
	v.SetDefault("recognizer.language", "en")
	v.SetDefault("recognizer.country", "US")
	v.SetDefault("recognizer.window_seconds", 4)
	v.SetDefault("recognizer.max_seconds", 12)
	v.SetDefault("capture.sample_rate", 16000)
	v.SetDefault("capture.buffer_frames", 2048)
	v.SetDefault("artwork.timeout", "0s")
	v.SetDefault("notify.enabled", false)
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("log.level", "info")
}

// Load reads file if given, otherwise config.yaml from the working
// directory or Dir(). A missing config file is not an error.
func Load(file string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath(Dir())
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if err := cfg.resolve(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) resolve() error {
	switch c.Storage.Backend {
	case kv.BackendFile:
		if c.Storage.Path == "" {
			c.Storage.Path = filepath.Join(Dir(), "preferences.json")
		}
	case kv.BackendSQLite:
		if c.Storage.Path == "" {
			c.Storage.Path = filepath.Join(Dir(), "preferences.db")
		}
	case kv.BackendMemory:
	default:
		return fmt.Errorf("config: unknown storage backend %q", c.Storage.Backend)
	}

	if c.Recognizer.WindowSeconds <= 0 {
		return fmt.Errorf("config: recognizer.window_seconds must be positive, got %d", c.Recognizer.WindowSeconds)
	}
	if c.Recognizer.MaxSeconds < c.Recognizer.WindowSeconds {
		return fmt.Errorf("config: recognizer.max_seconds (%d) is shorter than the window (%d)",
			c.Recognizer.MaxSeconds, c.Recognizer.WindowSeconds)
	}
	if c.Capture.SampleRate <= 0 || c.Capture.BufferFrames <= 0 {
		return errors.New("config: capture.sample_rate and capture.buffer_frames must be positive")
	}
	return nil
}
