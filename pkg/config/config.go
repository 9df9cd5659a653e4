// Package config provides configuration loading and validation for the
// scanmc command line client.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Sentinel validation errors.
var (
	ErrInvalidChains    = errors.New("sampling chains must be positive")
	ErrInvalidChunkSize = errors.New("chunk size must be positive")
	ErrInvalidChunks    = errors.New("chunk count must be positive")
	ErrInvalidThreshold = errors.New("scale-reduction threshold must exceed 1")
	ErrInvalidBackend   = errors.New("store backend must be file or sqlite")
)

// Default configuration values, matching the original scanner's quick
// configuration.
const (
	defaultChains       = 4
	defaultChunkSize    = 1000
	defaultChunks       = 100
	defaultPrerunMin    = 1000
	defaultPrerunMax    = 100000
	defaultPrerunUpdate = 500
	defaultThreshold    = 1.1
)

// Config holds the command line client's configuration.
type Config struct {
	Sampling SamplingConfig `mapstructure:"sampling"`
	Store    StoreConfig    `mapstructure:"store"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

// SamplingConfig holds the sampler run parameters.
type SamplingConfig struct {
	Chains         int     `mapstructure:"chains"`
	ChunkSize      int     `mapstructure:"chunk_size"`
	Chunks         int     `mapstructure:"chunks"`
	Seed           uint64  `mapstructure:"seed"`
	Parallelize    bool    `mapstructure:"parallelize"`
	NeedPrerun     bool    `mapstructure:"need_prerun"`
	PrerunMin      int     `mapstructure:"prerun_min"`
	PrerunMax      int     `mapstructure:"prerun_max"`
	PrerunUpdate   int     `mapstructure:"prerun_update"`
	ScaleReduction float64 `mapstructure:"scale_reduction"`
	Proposal       string  `mapstructure:"proposal"`
	StudentTDoF    float64 `mapstructure:"student_t_dof"`
}

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	Backend string `mapstructure:"backend"`
	Path    string `mapstructure:"path"`
}

// LoggingConfig holds logging-specific configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// MetricsConfig controls the optional prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// Load reads configuration from an optional file and SCANMC_*
// environment variables.
func Load(configPath string) (*Config, error) {
	viperCfg := viper.New()

	setDefaults(viperCfg)

	if configPath != "" {
		viperCfg.SetConfigFile(configPath)
	} else {
		viperCfg.SetConfigName("scanmc")
		viperCfg.SetConfigType("yaml")
		viperCfg.AddConfigPath(".")
		viperCfg.AddConfigPath("/etc/scanmc")
	}

	viperCfg.SetEnvPrefix("SCANMC")
	viperCfg.AutomaticEnv()
	viperCfg.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	readErr := viperCfg.ReadInConfig()
	if readErr != nil {
		var notFoundErr viper.ConfigFileNotFoundError
		if !errors.As(readErr, &notFoundErr) {
			return nil, fmt.Errorf("failed to read config file: %w", readErr)
		}
	}

	var config Config

	unmarshalErr := viperCfg.Unmarshal(&config)
	if unmarshalErr != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", unmarshalErr)
	}

	validateErr := validate(&config)
	if validateErr != nil {
		return nil, fmt.Errorf("invalid configuration: %w", validateErr)
	}

	return &config, nil
}

func setDefaults(viperCfg *viper.Viper) {
	viperCfg.SetDefault("sampling.chains", defaultChains)
	viperCfg.SetDefault("sampling.chunk_size", defaultChunkSize)
	viperCfg.SetDefault("sampling.chunks", defaultChunks)
	viperCfg.SetDefault("sampling.seed", 0)
	viperCfg.SetDefault("sampling.parallelize", true)
	viperCfg.SetDefault("sampling.need_prerun", true)
	viperCfg.SetDefault("sampling.prerun_min", defaultPrerunMin)
	viperCfg.SetDefault("sampling.prerun_max", defaultPrerunMax)
	viperCfg.SetDefault("sampling.prerun_update", defaultPrerunUpdate)
	viperCfg.SetDefault("sampling.scale_reduction", defaultThreshold)
	viperCfg.SetDefault("sampling.proposal", "MultivariateGaussian")

	viperCfg.SetDefault("store.backend", "file")
	viperCfg.SetDefault("store.path", "scanmc-out")

	viperCfg.SetDefault("logging.level", "info")
	viperCfg.SetDefault("logging.format", "console")

	viperCfg.SetDefault("metrics.enabled", false)
	viperCfg.SetDefault("metrics.addr", "127.0.0.1:9464")
}

func validate(config *Config) error {
	if config.Sampling.Chains <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidChains, config.Sampling.Chains)
	}

	if config.Sampling.ChunkSize <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidChunkSize, config.Sampling.ChunkSize)
	}

	if config.Sampling.Chunks <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidChunks, config.Sampling.Chunks)
	}

	if config.Sampling.NeedPrerun && config.Sampling.ScaleReduction <= 1 {
		return fmt.Errorf("%w: %g", ErrInvalidThreshold, config.Sampling.ScaleReduction)
	}

	switch config.Store.Backend {
	case "file", "sqlite":
	default:
		return fmt.Errorf("%w: %q", ErrInvalidBackend, config.Store.Backend)
	}

	return nil
}
