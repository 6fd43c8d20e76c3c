package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	NATS     NATSConfig     `yaml:"nats"`
	MinIO    MinIOConfig    `yaml:"minio"`
	Model    ModelConfig    `yaml:"model"`
	Video    VideoConfig    `yaml:"video"`
	Explain  ExplainConfig  `yaml:"explain"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type ServerConfig struct {
	Port           int           `yaml:"port"`
	APIKey         string        `yaml:"api_key"`
	MaxImageMB     int           `yaml:"max_image_mb"`
	MaxVideoMB     int           `yaml:"max_video_mb"`
	MaxBatch       int           `yaml:"max_batch"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

func (s ServerConfig) MaxImageBytes() int64 { return int64(s.MaxImageMB) << 20 }
func (s ServerConfig) MaxVideoBytes() int64 { return int64(s.MaxVideoMB) << 20 }

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"sslmode"`
	MaxConns int    `yaml:"max_conns"`
}

// Enabled reports whether analysis history is persisted.
func (d DatabaseConfig) Enabled() bool { return d.Host != "" }

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Name, d.SSLMode)
}

type NATSConfig struct {
	URL     string `yaml:"url"`
	Workers int    `yaml:"workers"`
}

func (n NATSConfig) Enabled() bool { return n.URL != "" }

type MinIOConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
}

func (m MinIOConfig) Enabled() bool { return m.Endpoint != "" }

type ModelConfig struct {
	ModelsDir          string  `yaml:"models_dir"`
	ONNXRuntimeLib     string  `yaml:"onnxruntime_lib"`
	ClassifierFile     string  `yaml:"classifier_file"`
	DetectorFile       string  `yaml:"detector_file"`
	Name               string  `yaml:"name"`
	InputSize          int     `yaml:"input_size"`
	FeatureChannels    int     `yaml:"feature_channels"`
	FeatureSize        int     `yaml:"feature_size"`
	DetectionThreshold float64 `yaml:"detection_threshold"`
	MinFaceSize        int     `yaml:"min_face_size"`
	FaceMargin         float64 `yaml:"face_margin"`
}

func (m ModelConfig) ClassifierPath() string { return filepath.Join(m.ModelsDir, m.ClassifierFile) }
func (m ModelConfig) DetectorPath() string   { return filepath.Join(m.ModelsDir, m.DetectorFile) }

type VideoConfig struct {
	MaxFrames               int           `yaml:"max_frames"`
	Workers                 int           `yaml:"workers"`
	Thumbnails              *bool         `yaml:"thumbnails"`
	ThumbnailSize           int           `yaml:"thumbnail_size"`
	SuspiciousThumbnailSize int           `yaml:"suspicious_thumbnail_size"`
	TopK                    int           `yaml:"top_k"`
	ExplainSuspicious       bool          `yaml:"explain_suspicious"`
	JobTimeout              time.Duration `yaml:"job_timeout"`
	Retention               time.Duration `yaml:"retention"`
}

// ThumbnailsEnabled defaults to true when the key is absent.
func (v VideoConfig) ThumbnailsEnabled() bool { return v.Thumbnails == nil || *v.Thumbnails }

type ExplainConfig struct {
	RegionThreshold float64 `yaml:"region_threshold"`
	MinRegionArea   int     `yaml:"min_region_area"`
	MaxRegions      int     `yaml:"max_regions"`
	OverlayAlpha    float64 `yaml:"overlay_alpha"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads config from an optional .env file, an optional YAML file and
// DG_* environment variables, in that order of increasing precedence.
func Load(path string) (*Config, error) {
	// .env is optional; real environment variables are never overwritten.
	_ = godotenv.Load()

	cfg := &Config{}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("read config file: %w", err)
	}

	applyEnvOverrides(cfg)
	setDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks ranges that defaults cannot repair.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", c.Server.Port)
	}
	if c.Video.MaxFrames < 1 {
		return fmt.Errorf("video.max_frames must be >= 1, got %d", c.Video.MaxFrames)
	}
	if c.Video.Workers < 1 {
		return fmt.Errorf("video.workers must be >= 1, got %d", c.Video.Workers)
	}
	if c.Explain.RegionThreshold <= 0 || c.Explain.RegionThreshold >= 1 {
		return fmt.Errorf("explain.region_threshold must be in (0,1), got %v", c.Explain.RegionThreshold)
	}
	if c.Explain.OverlayAlpha < 0 || c.Explain.OverlayAlpha > 1 {
		return fmt.Errorf("explain.overlay_alpha must be in [0,1], got %v", c.Explain.OverlayAlpha)
	}
	if c.MinIO.Enabled() && c.MinIO.Bucket == "" {
		return errors.New("minio.bucket is required when minio.endpoint is set")
	}
	return nil
}

func setDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.MaxImageMB == 0 {
		cfg.Server.MaxImageMB = 10
	}
	if cfg.Server.MaxVideoMB == 0 {
		cfg.Server.MaxVideoMB = 50
	}
	if cfg.Server.MaxBatch == 0 {
		cfg.Server.MaxBatch = 10
	}
	if cfg.Server.RequestTimeout == 0 {
		cfg.Server.RequestTimeout = 2 * time.Minute
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.Database.MaxConns == 0 {
		cfg.Database.MaxConns = 10
	}
	if cfg.NATS.Workers == 0 {
		cfg.NATS.Workers = 2
	}
	if cfg.Model.ModelsDir == "" {
		cfg.Model.ModelsDir = "models"
	}
	if cfg.Model.ClassifierFile == "" {
		cfg.Model.ClassifierFile = "convnext_deepfake.onnx"
	}
	if cfg.Model.DetectorFile == "" {
		cfg.Model.DetectorFile = "det_10g.onnx"
	}
	if cfg.Model.Name == "" {
		cfg.Model.Name = "ConvNeXt-Base"
	}
	if cfg.Model.InputSize == 0 {
		cfg.Model.InputSize = 224
	}
	if cfg.Model.FeatureChannels == 0 {
		cfg.Model.FeatureChannels = 1024
	}
	if cfg.Model.FeatureSize == 0 {
		cfg.Model.FeatureSize = 7
	}
	if cfg.Model.DetectionThreshold == 0 {
		cfg.Model.DetectionThreshold = 0.5
	}
	if cfg.Model.MinFaceSize == 0 {
		cfg.Model.MinFaceSize = 40
	}
	if cfg.Model.FaceMargin == 0 {
		cfg.Model.FaceMargin = 0.1
	}
	if cfg.Video.MaxFrames == 0 {
		cfg.Video.MaxFrames = 20
	}
	if cfg.Video.Workers == 0 {
		cfg.Video.Workers = 4
	}
	if cfg.Video.ThumbnailSize == 0 {
		cfg.Video.ThumbnailSize = 200
	}
	if cfg.Video.SuspiciousThumbnailSize == 0 {
		cfg.Video.SuspiciousThumbnailSize = 300
	}
	if cfg.Video.TopK == 0 {
		cfg.Video.TopK = 5
	}
	if cfg.Video.JobTimeout == 0 {
		cfg.Video.JobTimeout = 10 * time.Minute
	}
	if cfg.Video.Retention == 0 {
		cfg.Video.Retention = 24 * time.Hour
	}
	if cfg.Explain.RegionThreshold == 0 {
		cfg.Explain.RegionThreshold = 0.6
	}
	if cfg.Explain.MinRegionArea == 0 {
		cfg.Explain.MinRegionArea = 100
	}
	if cfg.Explain.MaxRegions == 0 {
		cfg.Explain.MaxRegions = 5
	}
	if cfg.Explain.OverlayAlpha == 0 {
		cfg.Explain.OverlayAlpha = 0.5
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

func applyEnvOverrides(cfg *Config) {
	envInt("DG_SERVER_PORT", &cfg.Server.Port)
	envString("DG_API_KEY", &cfg.Server.APIKey)
	envInt("DG_MAX_IMAGE_MB", &cfg.Server.MaxImageMB)
	envInt("DG_MAX_VIDEO_MB", &cfg.Server.MaxVideoMB)
	envDuration("DG_REQUEST_TIMEOUT", &cfg.Server.RequestTimeout)

	envString("DG_DB_HOST", &cfg.Database.Host)
	envInt("DG_DB_PORT", &cfg.Database.Port)
	envString("DG_DB_NAME", &cfg.Database.Name)
	envString("DG_DB_USER", &cfg.Database.User)
	envString("DG_DB_PASSWORD", &cfg.Database.Password)
	envString("DG_DB_SSLMODE", &cfg.Database.SSLMode)

	envString("DG_NATS_URL", &cfg.NATS.URL)
	envInt("DG_NATS_WORKERS", &cfg.NATS.Workers)

	envString("DG_MINIO_ENDPOINT", &cfg.MinIO.Endpoint)
	envString("DG_MINIO_ACCESS_KEY", &cfg.MinIO.AccessKey)
	envString("DG_MINIO_SECRET_KEY", &cfg.MinIO.SecretKey)
	envString("DG_MINIO_BUCKET", &cfg.MinIO.Bucket)

	envString("DG_MODELS_DIR", &cfg.Model.ModelsDir)
	envString("DG_ONNXRUNTIME_LIB", &cfg.Model.ONNXRuntimeLib)

	envInt("DG_VIDEO_MAX_FRAMES", &cfg.Video.MaxFrames)
	envInt("DG_VIDEO_WORKERS", &cfg.Video.Workers)
	envDuration("DG_JOB_TIMEOUT", &cfg.Video.JobTimeout)

	envString("DG_LOG_LEVEL", &cfg.Logging.Level)
	envString("DG_LOG_FORMAT", &cfg.Logging.Format)
}

func envString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envDuration(key string, dst *time.Duration) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
