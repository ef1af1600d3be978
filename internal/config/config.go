package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Port     int
	Password string

	ModelPath        string
	ModelConfigPath  string
	ModelClassesPath string
	ModelFormat      string // "yolov8" or "ssd"
	ModelInputSize   int

	OutputDirectory     string
	DatabasePath        string
	LogDirectory        string
	LogLevel            string // "debug" or "info"
	// LogToStderr sends console output to stderr, keeping stdout for command output.
	LogToStderr         bool
	StaticDirectory     string
	MaxUploadMB         int64
	MaxOutputDirGB      float64
	RetentionInterval   time.Duration
	ArchiveWebcamFrames bool

	RecentLogCapacity int
	SessionTTL        time.Duration
	SessionSecret     string

	// SessionSecretGenerated is set when no secret was configured and a random
	// one was made; sessions then do not survive a restart.
	SessionSecretGenerated bool

	VideoWorkers          int // concurrent video jobs
	VideoFrameParallelism int // frames detected at once inside one job
	VideoQueueSize        int

	WebcamFPS float64

	DefaultConfidence     float64
	DefaultIOU            float64
	DefaultAlertThreshold int

	MQTTBroker   string
	MQTTTopic    string
	MQTTClientID string
}

// setDefaults registers every key with its default so AutomaticEnv can see it.
func setDefaults(v *viper.Viper) {
	v.SetDefault("port", 8080)
	v.SetDefault("password", "")
	v.SetDefault("model_path", filepath.Join(".", "models", "best.onnx"))
	v.SetDefault("model_config_path", "")
	v.SetDefault("model_classes_path", filepath.Join(".", "models", "coco.names"))
	v.SetDefault("model_format", "yolov8")
	v.SetDefault("model_input_size", 640)
	v.SetDefault("output_dir", filepath.Join(".", "outputs"))
	v.SetDefault("db_path", filepath.Join(".", "data", "results.db"))
	v.SetDefault("log_dir", filepath.Join(".", "logs"))
	v.SetDefault("log_level", "info")
	v.SetDefault("static_dir", "static")
	v.SetDefault("max_upload_mb", 200)
	v.SetDefault("max_output_dir_gb", 4)
	v.SetDefault("retention_interval", "10m")
	v.SetDefault("archive_webcam_frames", false)
	v.SetDefault("recent_log_capacity", 100)
	v.SetDefault("session_ttl", "12h")
	v.SetDefault("session_secret", "")
	v.SetDefault("video_workers", 2)
	v.SetDefault("video_frame_parallelism", 4)
	v.SetDefault("video_queue_size", 16)
	v.SetDefault("webcam_fps", 5)
	v.SetDefault("default_confidence", 0.25)
	v.SetDefault("default_iou", 0.45)
	v.SetDefault("default_alert_threshold", 10)
	v.SetDefault("mqtt_broker", "")
	v.SetDefault("mqtt_topic", "queuewatch/alerts")
	v.SetDefault("mqtt_client_id", "queuewatch")
}

// Load reads configuration from an optional .env file, an optional config
// file and the environment, in increasing order of precedence.
func Load(configFile string) (*Config, error) {
	// A missing .env is the normal case.
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
		}
	}

	cfg := &Config{
		Port:                  v.GetInt("port"),
		Password:              v.GetString("password"),
		ModelPath:             v.GetString("model_path"),
		ModelConfigPath:       v.GetString("model_config_path"),
		ModelClassesPath:      v.GetString("model_classes_path"),
		ModelFormat:           strings.ToLower(v.GetString("model_format")),
		ModelInputSize:        v.GetInt("model_input_size"),
		OutputDirectory:       v.GetString("output_dir"),
		DatabasePath:          v.GetString("db_path"),
		LogDirectory:          v.GetString("log_dir"),
		LogLevel:              strings.ToLower(v.GetString("log_level")),
		StaticDirectory:       v.GetString("static_dir"),
		MaxUploadMB:           v.GetInt64("max_upload_mb"),
		MaxOutputDirGB:        v.GetFloat64("max_output_dir_gb"),
		RetentionInterval:     v.GetDuration("retention_interval"),
		ArchiveWebcamFrames:   v.GetBool("archive_webcam_frames"),
		RecentLogCapacity:     v.GetInt("recent_log_capacity"),
		SessionTTL:            v.GetDuration("session_ttl"),
		SessionSecret:         v.GetString("session_secret"),
		VideoWorkers:          v.GetInt("video_workers"),
		VideoFrameParallelism: v.GetInt("video_frame_parallelism"),
		VideoQueueSize:        v.GetInt("video_queue_size"),
		WebcamFPS:             v.GetFloat64("webcam_fps"),
		DefaultConfidence:     v.GetFloat64("default_confidence"),
		DefaultIOU:            v.GetFloat64("default_iou"),
		DefaultAlertThreshold: v.GetInt("default_alert_threshold"),
		MQTTBroker:            v.GetString("mqtt_broker"),
		MQTTTopic:             v.GetString("mqtt_topic"),
		MQTTClientID:          v.GetString("mqtt_client_id"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.SessionSecret == "" {
		secret, err := randomSecret()
		if err != nil {
			return nil, err
		}
		cfg.SessionSecret = secret
		cfg.SessionSecretGenerated = true
	}
	return cfg, nil
}

func randomSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate session secret: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// Validate rejects values the rest of the service cannot work with.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.ModelFormat != "yolov8" && c.ModelFormat != "ssd" {
		return fmt.Errorf("unknown model format %q", c.ModelFormat)
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogLevel != "debug" && c.LogLevel != "info" {
		return fmt.Errorf("unknown log level %q", c.LogLevel)
	}
	if c.RecentLogCapacity < 1 {
		return fmt.Errorf("recent log capacity must be at least 1, got %d", c.RecentLogCapacity)
	}
	if c.DefaultConfidence < 0 || c.DefaultConfidence > 1 {
		return fmt.Errorf("default confidence %.2f out of range [0,1]", c.DefaultConfidence)
	}
	if c.DefaultIOU < 0 || c.DefaultIOU > 1 {
		return fmt.Errorf("default iou %.2f out of range [0,1]", c.DefaultIOU)
	}
	if c.DefaultAlertThreshold < 1 {
		return fmt.Errorf("default alert threshold must be at least 1, got %d", c.DefaultAlertThreshold)
	}
	if c.VideoWorkers < 1 {
		c.VideoWorkers = 1
	}
	if c.VideoFrameParallelism < 1 {
		c.VideoFrameParallelism = 1
	}
	if c.VideoQueueSize < 1 {
		c.VideoQueueSize = 1
	}
	return nil
}

// Debug reports whether debug lines are logged.
func (c *Config) Debug() bool {
	return c.LogLevel == "debug"
}

// MaxUploadBytes is the request body limit for uploads.
func (c *Config) MaxUploadBytes() int64 {
	return c.MaxUploadMB << 20
}

// MaxOutputDirBytes is the retention budget of the output directory.
func (c *Config) MaxOutputDirBytes() int64 {
	return int64(c.MaxOutputDirGB * float64(1<<30))
}
