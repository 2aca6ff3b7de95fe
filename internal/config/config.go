package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type Rendezvous struct {
	URL        string        `mapstructure:"url"`
	Port       int           `mapstructure:"port"`
	ReadLimit  int64         `mapstructure:"read_limit"`
	PingPeriod time.Duration `mapstructure:"ping_period"`
	RatePerSec float64       `mapstructure:"rate_per_sec"`
	Burst      int           `mapstructure:"burst"`
}

type Media struct {
	MaxWidth     int `mapstructure:"max_width"`
	MaxHeight    int `mapstructure:"max_height"`
	VideoBitrate int `mapstructure:"video_bitrate"`
}

type Config struct {
	Mode         string     `mapstructure:"mode"`
	LogLevel     string     `mapstructure:"log_level"`
	Port         int        `mapstructure:"port"`
	StaticPath   string     `mapstructure:"static_path"`
	DataDir      string     `mapstructure:"data_dir"`
	Secret       string     `mapstructure:"secret"`
	Rendezvous   Rendezvous `mapstructure:"rendezvous"`
	ICEServers   []string   `mapstructure:"ice_servers"`
	Loopback     bool       `mapstructure:"loopback"`
	Media        Media      `mapstructure:"media"`
	OutputVolume float64    `mapstructure:"output_volume"`
}

var (
	ErrBadPort       = errors.New("port out of range")
	ErrBadVolume     = errors.New("output_volume must be in (0, 1]")
	ErrNoRendezvous  = errors.New("rendezvous.url is required")
	ErrSecretMissing = errors.New("secret is required in release mode")
)

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.SetEnvPrefix("MESH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	log.Info().
		Str("module", "config").
		Str("mode", cfg.Mode).
		Int("port", cfg.Port).
		Str("rendezvous", cfg.Rendezvous.URL).
		Msg("config ready")
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("log_level", "info")
	v.SetDefault("port", 8080)
	v.SetDefault("static_path", "./web")
	v.SetDefault("data_dir", "./data")
	v.SetDefault("rendezvous.url", "ws://127.0.0.1:9000/ws")
	v.SetDefault("rendezvous.port", 9000)
	v.SetDefault("rendezvous.read_limit", 65536)
	v.SetDefault("rendezvous.ping_period", "15s")
	v.SetDefault("rendezvous.rate_per_sec", 50)
	v.SetDefault("rendezvous.burst", 100)
	v.SetDefault("ice_servers", []string{"stun:stun.l.google.com:19302"})
	v.SetDefault("media.max_width", 640)
	v.SetDefault("media.max_height", 480)
	v.SetDefault("media.video_bitrate", 1_500_000)
	v.SetDefault("output_volume", 1.0)
}

func validPort(p int) bool { return p > 0 && p < 65536 }

func (c *Config) Validate() error {
	var errs []error
	if !validPort(c.Port) {
		errs = append(errs, fmt.Errorf("%w: port=%d", ErrBadPort, c.Port))
	}
	if !validPort(c.Rendezvous.Port) {
		errs = append(errs, fmt.Errorf("%w: rendezvous.port=%d", ErrBadPort, c.Rendezvous.Port))
	}
	if c.OutputVolume <= 0 || c.OutputVolume > 1 {
		errs = append(errs, ErrBadVolume)
	}
	if c.Rendezvous.URL == "" {
		errs = append(errs, ErrNoRendezvous)
	}
	if c.Mode == "release" && c.Secret == "" {
		errs = append(errs, ErrSecretMissing)
	}
	return errors.Join(errs...)
}

// ValidateRendezvous checks only what the rendezvous server reads.
func (c *Config) ValidateRendezvous() error {
	if !validPort(c.Rendezvous.Port) {
		return fmt.Errorf("%w: rendezvous.port=%d", ErrBadPort, c.Rendezvous.Port)
	}
	return nil
}
