package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server  ServerConfig
	Model   ModelConfig
	Image   ImageConfig
	Upload  UploadConfig
	Assets  AssetsConfig
	Logger  LoggerConfig
	Metrics MetricsConfig
}

type ServerConfig struct {
	Host            string
	Port            int
	Mode            string
	ShutdownTimeout time.Duration
}

type ModelConfig struct {
	Backend      string
	WeightsPath  string
	TopologyPath string
	ONNXLibrary  string
}

type ImageConfig struct {
	Interpolation string
	MaxPixels     int64
}

type UploadConfig struct {
	MaxBytes int64
}

type AssetsConfig struct {
	TemplatesDir string
	StaticDir    string
}

type LoggerConfig struct {
	Level     string
	Format    string
	Dir       string
	Stdout    bool
	Retention time.Duration
}

type MetricsConfig struct {
	Enabled bool
}

// DefaultWeightsPath is the weights file used when MODEL_WEIGHTS_PATH is unset.
func DefaultWeightsPath(backend string) string {
	if backend == "onnx" {
		return "models/rafdb_model.onnx"
	}
	return "models/rafdb_model.safetensors"
}

func Load() (*Config, error) {
	v := viper.New()

	// Defaults
	v.SetDefault("SERVER_HOST", "0.0.0.0")
	v.SetDefault("SERVER_PORT", 8000)
	v.SetDefault("SERVER_MODE", "release")
	v.SetDefault("SERVER_SHUTDOWN_TIMEOUT", "10s")
	v.SetDefault("MODEL_BACKEND", "native")
	v.SetDefault("MODEL_WEIGHTS_PATH", "")
	v.SetDefault("MODEL_TOPOLOGY_PATH", "")
	v.SetDefault("MODEL_ONNX_LIBRARY", "")
	v.SetDefault("IMAGE_INTERPOLATION", "bicubic")
	v.SetDefault("IMAGE_MAX_PIXELS", 178956970)
	v.SetDefault("UPLOAD_MAX_BYTES", 10<<20)
	v.SetDefault("ASSETS_TEMPLATES_DIR", "web/templates")
	v.SetDefault("ASSETS_STATIC_DIR", "web/static")
	v.SetDefault("LOGGER_LEVEL", "info")
	v.SetDefault("LOGGER_FORMAT", "text")
	v.SetDefault("LOGGER_DIR", ".")
	v.SetDefault("LOGGER_STDOUT", true)
	v.SetDefault("LOGGER_RETENTION", "168h")
	v.SetDefault("METRICS_ENABLED", true)

	// Env
	v.AutomaticEnv()

	cfg := &Config{
		Server: ServerConfig{
			Host:            v.GetString("SERVER_HOST"),
			Port:            v.GetInt("SERVER_PORT"),
			Mode:            v.GetString("SERVER_MODE"),
			ShutdownTimeout: v.GetDuration("SERVER_SHUTDOWN_TIMEOUT"),
		},
		Model: ModelConfig{
			Backend:      v.GetString("MODEL_BACKEND"),
			WeightsPath:  v.GetString("MODEL_WEIGHTS_PATH"),
			TopologyPath: v.GetString("MODEL_TOPOLOGY_PATH"),
			ONNXLibrary:  v.GetString("MODEL_ONNX_LIBRARY"),
		},
		Image: ImageConfig{
			Interpolation: v.GetString("IMAGE_INTERPOLATION"),
			MaxPixels:     v.GetInt64("IMAGE_MAX_PIXELS"),
		},
		Upload: UploadConfig{
			MaxBytes: v.GetInt64("UPLOAD_MAX_BYTES"),
		},
		Assets: AssetsConfig{
			TemplatesDir: v.GetString("ASSETS_TEMPLATES_DIR"),
			StaticDir:    v.GetString("ASSETS_STATIC_DIR"),
		},
		Logger: LoggerConfig{
			Level:     v.GetString("LOGGER_LEVEL"),
			Format:    v.GetString("LOGGER_FORMAT"),
			Dir:       v.GetString("LOGGER_DIR"),
			Stdout:    v.GetBool("LOGGER_STDOUT"),
			Retention: v.GetDuration("LOGGER_RETENTION"),
		},
		Metrics: MetricsConfig{
			Enabled: v.GetBool("METRICS_ENABLED"),
		},
	}

	if cfg.Model.WeightsPath == "" {
		cfg.Model.WeightsPath = DefaultWeightsPath(cfg.Model.Backend)
	}
	if cfg.Server.ShutdownTimeout <= 0 {
		cfg.Server.ShutdownTimeout = 10 * time.Second
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Model.Backend {
	case "native", "onnx":
	default:
		return fmt.Errorf("MODEL_BACKEND must be native or onnx, got %q", c.Model.Backend)
	}
	switch c.Server.Mode {
	case "debug", "release", "test":
	default:
		return fmt.Errorf("SERVER_MODE must be debug, release or test, got %q", c.Server.Mode)
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("SERVER_PORT out of range: %d", c.Server.Port)
	}
	if c.Upload.MaxBytes < 0 {
		return fmt.Errorf("UPLOAD_MAX_BYTES must not be negative")
	}
	if c.Image.MaxPixels < 0 {
		return fmt.Errorf("IMAGE_MAX_PIXELS must not be negative")
	}
	return nil
}

func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}
