package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	JWT       JWTConfig
	Storage   StorageConfig
	Tracing   TracingConfig `mapstructure:"tracing"`
	Redis     RedisConfig
	AI        AIConfig
	Pipeline  PipelineConfig  `mapstructure:"pipeline"`
	CORS      CORSConfig      `mapstructure:"cors"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Log       LogConfig       `mapstructure:"log"`

	// 运行时标志（非配置文件，通过命令行参数设置）
	ForceMigrate bool   `mapstructure:"-"` // 强制执行数据库迁移
	FilePath     string `mapstructure:"-"` // 实际加载的配置文件路径，供热更新监听
}

type LogConfig struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
}

type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type RateLimitConfig struct {
	MaxRequests   int `mapstructure:"max_requests"`
	WindowMinutes int `mapstructure:"window_minutes"`
}

// AIConfig 推理服务配置，provider 取值 openai（兼容 OpenAI 的视觉接口）或 vertex
type AIConfig struct {
	Provider          string `mapstructure:"provider"`
	BaseURL           string `mapstructure:"base_url"`
	APIKey            string `mapstructure:"api_key"`
	Model             string `mapstructure:"model"`
	ProjectID         string `mapstructure:"project_id"`
	Region            string `mapstructure:"region"`
	RequestsPerMinute int    `mapstructure:"requests_per_minute"`
	MaxRetries        int    `mapstructure:"max_retries"`
	TimeoutSeconds    int    `mapstructure:"timeout_seconds"`
}

// PipelineConfig 后台评阅流水线配置
type PipelineConfig struct {
	WorkDir           string `mapstructure:"work_dir"`
	RenderDPI         int    `mapstructure:"render_dpi"`
	Workers           int    `mapstructure:"workers"`
	QueueSize         int    `mapstructure:"queue_size"`
	StartupDelayMs    int    `mapstructure:"startup_delay_ms"`
	LeaseBackend      string `mapstructure:"lease_backend"`
	LeaseTTLMinutes   int    `mapstructure:"lease_ttl_minutes"`
	MaxUploadSizeMB   int    `mapstructure:"max_upload_size_mb"`
	ShutdownTimeoutMs int    `mapstructure:"shutdown_timeout_ms"`
}

func (p PipelineConfig) StartupDelay() time.Duration {
	return time.Duration(p.StartupDelayMs) * time.Millisecond
}

func (p PipelineConfig) LeaseTTL() time.Duration {
	return time.Duration(p.LeaseTTLMinutes) * time.Minute
}

type ServerConfig struct {
	Port string
	Mode string
}

type DatabaseConfig struct {
	Host      string
	Port      int
	User      string
	Password  string
	DBName    string
	Charset   string
	ParseTime bool
}

type JWTConfig struct {
	Secret string `mapstructure:"secret"`
}

type StorageConfig struct {
	Type          string `mapstructure:"type"`
	LocalPath     string `mapstructure:"local_path"`
	MinioEndpoint string `mapstructure:"minio_endpoint"`
	MinioAccessID string `mapstructure:"minio_access_key"`
	MinioSecret   string `mapstructure:"minio_secret_key"`
	MinioBucket   string `mapstructure:"minio_bucket"`
	OSSEndpoint   string `mapstructure:"oss_endpoint"`
	OSSAccessKey  string `mapstructure:"oss_access_key"`
	OSSSecretKey  string `mapstructure:"oss_secret_key"`
	OSSBucket     string `mapstructure:"oss_bucket"`
	GCSBucket     string `mapstructure:"gcs_bucket"`
}

type TracingConfig struct {
	Enabled           bool   `mapstructure:"enabled"`
	CollectorEndpoint string `mapstructure:"collector_endpoint"`
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.mode", "debug")
	v.SetDefault("database.charset", "utf8mb4")
	v.SetDefault("database.parsetime", true)
	v.SetDefault("storage.type", "local")
	v.SetDefault("storage.local_path", "uploads")
	v.SetDefault("ai.provider", "openai")
	v.SetDefault("ai.requests_per_minute", 60)
	v.SetDefault("ai.max_retries", 2)
	v.SetDefault("pipeline.work_dir", "uploads")
	v.SetDefault("pipeline.render_dpi", 150)
	v.SetDefault("pipeline.workers", 2)
	v.SetDefault("pipeline.queue_size", 32)
	v.SetDefault("pipeline.startup_delay_ms", 1000)
	v.SetDefault("pipeline.lease_backend", "memory")
	v.SetDefault("pipeline.lease_ttl_minutes", 120)
	v.SetDefault("pipeline.max_upload_size_mb", 64)
	v.SetDefault("pipeline.shutdown_timeout_ms", 30000)
	v.SetDefault("rate_limit.max_requests", 600)
	v.SetDefault("rate_limit.window_minutes", 1)
	v.SetDefault("log.file", "logs/app.log")
}

func LoadConfig(path string) (*Config, error) {
	// .env 仅用于本地开发，文件不存在时忽略
	_ = godotenv.Load()

	v := viper.New()
	v.AddConfigPath(path)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	setDefaults(v)

	v.SetEnvPrefix("EXAM_EVAL")
	v.AutomaticEnv()

	// Database
	v.BindEnv("database.host", "DATABASE_HOST")
	v.BindEnv("database.port", "DATABASE_PORT")
	v.BindEnv("database.user", "DATABASE_USER")
	v.BindEnv("database.password", "DATABASE_PASSWORD")
	v.BindEnv("database.dbname", "DATABASE_NAME")

	// JWT
	v.BindEnv("jwt.secret", "JWT_SECRET")

	// Redis
	v.BindEnv("redis.host", "REDIS_HOST")
	v.BindEnv("redis.port", "REDIS_PORT")
	v.BindEnv("redis.password", "REDIS_PASSWORD")

	// Server
	v.BindEnv("server.mode", "SERVER_MODE")

	// AI
	v.BindEnv("ai.provider", "AI_PROVIDER")
	v.BindEnv("ai.base_url", "AI_BASE_URL")
	v.BindEnv("ai.api_key", "AI_API_KEY")
	v.BindEnv("ai.model", "AI_MODEL")
	v.BindEnv("ai.project_id", "GCP_PROJECT_ID")
	v.BindEnv("ai.region", "GCP_REGION")

	// Storage
	v.BindEnv("storage.type", "STORAGE_TYPE")
	v.BindEnv("storage.oss_endpoint", "OSS_ENDPOINT")
	v.BindEnv("storage.oss_access_key", "OSS_ACCESS_KEY")
	v.BindEnv("storage.oss_secret_key", "OSS_SECRET_KEY")
	v.BindEnv("storage.oss_bucket", "OSS_BUCKET")
	v.BindEnv("storage.minio_endpoint", "MINIO_ENDPOINT")
	v.BindEnv("storage.minio_access_key", "MINIO_ACCESS_KEY")
	v.BindEnv("storage.minio_secret_key", "MINIO_SECRET_KEY")
	v.BindEnv("storage.minio_bucket", "MINIO_BUCKET")
	v.BindEnv("storage.gcs_bucket", "GCS_BUCKET")

	// Tracing
	v.BindEnv("tracing.enabled", "TRACING_ENABLED")
	v.BindEnv("tracing.collector_endpoint", "TRACING_COLLECTOR_ENDPOINT")

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	cfg.FilePath = v.ConfigFileUsed()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	for _, dir := range []string{cfg.Pipeline.WorkDir, cfg.Storage.LocalPath} {
		if cfg.Storage.Type == "local" || dir == cfg.Pipeline.WorkDir {
			if _, err := os.Stat(dir); os.IsNotExist(err) {
				os.MkdirAll(dir, 0755)
			}
		}
	}

	return &cfg, nil
}

// Validate 校验会导致运行期异常的配置组合
func (c *Config) Validate() error {
	// 生产环境校验 JWT Secret 强度
	if c.Server.Mode == "release" && len(c.JWT.Secret) < 32 {
		return fmt.Errorf("JWT secret is too short (%d chars), must be at least 32 characters in release mode", len(c.JWT.Secret))
	}

	switch c.AI.Provider {
	case "openai":
		if c.AI.BaseURL == "" {
			return fmt.Errorf("ai.base_url is required for the openai provider")
		}
	case "vertex":
		if c.AI.ProjectID == "" || c.AI.Region == "" {
			return fmt.Errorf("ai.project_id and ai.region are required for the vertex provider")
		}
	default:
		return fmt.Errorf("unknown ai.provider %q", c.AI.Provider)
	}

	switch c.Pipeline.LeaseBackend {
	case "memory", "redis":
	default:
		return fmt.Errorf("unknown pipeline.lease_backend %q", c.Pipeline.LeaseBackend)
	}

	if c.Pipeline.Workers < 1 || c.Pipeline.QueueSize < 1 {
		return fmt.Errorf("pipeline.workers and pipeline.queue_size must be positive")
	}

	if c.Storage.Type == "local" && c.Storage.LocalPath != "" {
		// 本地存储时渲染目录与存储根目录一致，避免重复拷贝
		if filepath.Clean(c.Pipeline.WorkDir) != filepath.Clean(c.Storage.LocalPath) {
			c.Pipeline.WorkDir = c.Storage.LocalPath
		}
	}

	return nil
}
