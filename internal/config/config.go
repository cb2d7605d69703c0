// Package config loads the service configuration from an optional YAML file,
// a .env file and DETECTOR_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Model    ModelConfig    `mapstructure:"model"`
	Saliency SaliencyConfig `mapstructure:"saliency"`
	Log      LogConfig      `mapstructure:"log"`
}

type ServerConfig struct {
	Port              int           `mapstructure:"port"`
	MaxUploadMB       int           `mapstructure:"max_upload_mb"`
	MaxPixels         int64         `mapstructure:"max_pixels"`
	AllowedExtensions []string      `mapstructure:"allowed_extensions"`
	CORSOrigins       []string      `mapstructure:"cors_origins"`
	ReadTimeout       time.Duration `mapstructure:"read_timeout"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout"`
}

type ModelConfig struct {
	// Backend is "onnx" for exported graphs or "reference" for the built-in
	// pure Go encoder.
	Backend           string   `mapstructure:"backend"`
	Strategy          string   `mapstructure:"strategy"`
	Dir               string   `mapstructure:"dir"`
	MetadataFile      string   `mapstructure:"metadata_file"`
	SharedLibraryPath string   `mapstructure:"shared_library_path"`
	IntraOpThreads    int      `mapstructure:"intra_op_threads"`
	InterOpThreads    int      `mapstructure:"inter_op_threads"`
	PoolSize          int      `mapstructure:"pool_size"`
	Labels            []string `mapstructure:"labels"`
	EagerLoad         bool     `mapstructure:"eager_load"`
}

type SaliencyConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	TargetLayer string  `mapstructure:"target_layer"`
	TargetClass int     `mapstructure:"target_class"`
	JPEGQuality int     `mapstructure:"jpeg_quality"`
	ImageWeight float64 `mapstructure:"image_weight"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
}

// MaxUploadBytes is the upload limit in bytes.
func (s ServerConfig) MaxUploadBytes() int64 { return int64(s.MaxUploadMB) << 20 }

const envPrefix = "DETECTOR"

// DefaultMaxPixels bounds the decoded size of an upload, matching PIL's
// decompression bomb threshold.
const DefaultMaxPixels = 89478485

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.max_upload_mb", 10)
	v.SetDefault("server.max_pixels", DefaultMaxPixels)
	v.SetDefault("server.allowed_extensions", []string{"jpg", "jpeg", "png", "webp"})
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 60*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("model.backend", "onnx")
	v.SetDefault("model.strategy", "zero_shot")
	v.SetDefault("model.dir", "models")
	v.SetDefault("model.metadata_file", "model_metadata.json")
	v.SetDefault("model.shared_library_path", "")
	v.SetDefault("model.intra_op_threads", 0)
	v.SetDefault("model.inter_op_threads", 0)
	v.SetDefault("model.pool_size", 2)
	v.SetDefault("model.labels", []string{"a real photo", "an ai generated image"})
	v.SetDefault("model.eager_load", true)

	v.SetDefault("saliency.enabled", true)
	v.SetDefault("saliency.target_layer", "vision_model.encoder.layers.11.layer_norm1")
	v.SetDefault("saliency.target_class", 1)
	v.SetDefault("saliency.jpeg_quality", 90)
	v.SetDefault("saliency.image_weight", 0.5)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")
}

// Load reads config.yaml from configPath, ./config or the working directory
// when present, then applies the environment. A missing file is not an error.
func Load(configPath string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath("./config")
	v.AddConfigPath(".")

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("server.port", envPrefix+"_SERVER_PORT", "PORT"); err != nil {
		return nil, err
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) normalize() {
	for i, ext := range c.Server.AllowedExtensions {
		c.Server.AllowedExtensions[i] = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
	}
	for i, l := range c.Model.Labels {
		c.Model.Labels[i] = strings.TrimSpace(l)
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Server.MaxUploadMB <= 0 {
		return errors.New("server.max_upload_mb must be positive")
	}
	if c.Server.MaxPixels <= 0 {
		return errors.New("server.max_pixels must be positive")
	}
	if len(c.Server.AllowedExtensions) == 0 {
		return errors.New("server.allowed_extensions is empty")
	}
	if !slices.Contains([]string{"onnx", "reference"}, c.Model.Backend) {
		return fmt.Errorf("model.backend %q must be onnx or reference", c.Model.Backend)
	}
	if !slices.Contains([]string{"zero_shot", "fine_tuned"}, c.Model.Strategy) {
		return fmt.Errorf("model.strategy %q must be zero_shot or fine_tuned", c.Model.Strategy)
	}
	if len(c.Model.Labels) != 2 {
		return fmt.Errorf("model.labels needs exactly 2 prompts, got %d", len(c.Model.Labels))
	}
	for i, l := range c.Model.Labels {
		if l == "" {
			return fmt.Errorf("model.labels[%d] is empty", i)
		}
	}
	if c.Model.PoolSize <= 0 {
		return errors.New("model.pool_size must be positive")
	}
	if c.Saliency.Enabled && c.Saliency.TargetLayer == "" {
		return errors.New("saliency.target_layer is required when saliency is enabled")
	}
	if c.Saliency.TargetClass < 0 || c.Saliency.TargetClass > 1 {
		return fmt.Errorf("saliency.target_class %d must be 0 or 1", c.Saliency.TargetClass)
	}
	if c.Saliency.JPEGQuality < 1 || c.Saliency.JPEGQuality > 100 {
		return fmt.Errorf("saliency.jpeg_quality %d must be in 1..100", c.Saliency.JPEGQuality)
	}
	if c.Saliency.ImageWeight < 0 || c.Saliency.ImageWeight > 1 {
		return fmt.Errorf("saliency.image_weight %v must be in [0, 1]", c.Saliency.ImageWeight)
	}
	if c.Log.Level != "" {
		if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
			return fmt.Errorf("log.level: %w", err)
		}
	}
	return nil
}
