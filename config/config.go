package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// PipelineConfig 下载流水线参数，环境变量前缀 PIPELINE_
type PipelineConfig struct {
	DownloadDir       string        `envconfig:"DOWNLOAD_DIR" default:"/tmp/vk_downloads"`
	Concurrency       int           `envconfig:"CONCURRENCY" default:"8"`
	ChunkThreshold    int64         `envconfig:"CHUNK_THRESHOLD" default:"1073741824"`
	UploadCeiling     int64         `envconfig:"UPLOAD_CEILING" default:"2147483648"`
	FetchTimeout      time.Duration `envconfig:"FETCH_TIMEOUT" default:"60s"`
	CoverTimeout      time.Duration `envconfig:"COVER_TIMEOUT" default:"15s"`
	UploadTimeout     time.Duration `envconfig:"UPLOAD_TIMEOUT" default:"600s"`
	ShareDurationDays int           `envconfig:"SHARE_DURATION_DAYS" default:"7"`
}

// XrayConfig 隧道进程参数，环境变量前缀 XRAY_
type XrayConfig struct {
	Binary      string        `envconfig:"BINARY" default:"/usr/local/bin/xray"`
	ConfigDir   string        `envconfig:"CONFIG_DIR" default:"/tmp/xray_configs"`
	SettleDelay time.Duration `envconfig:"SETTLE_DELAY" default:"1500ms"`
	StopGrace   time.Duration `envconfig:"STOP_GRACE" default:"5s"`
}

// Config stores the application configuration.
type Config struct {
	ServerPort  string
	CORSOrigins string
	LogLevel    string
	LogFile     string

	Pipeline PipelineConfig
	Xray     XrayConfig

	// 数据库配置
	DBDriver   string // mysql | sqlite
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	SQLitePath string

	// 会话与取消标记的存储后端: memory | redis
	StoreBackend  string
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int

	// 上传目标: tempshare | minio
	UploadTarget   string
	TempshareURL   string
	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioUseSSL    bool
	MinioRegion    string
	ArchiveBaseURL string // 非空时 MinIO 归档链接经由本服务下载

	JWTSecret  string
	SessionTTL time.Duration

	VKAPIURL       string
	VKAPIVersion   string
	VKRateInterval time.Duration
	GeoIPPath      string
	FFmpegPath     string
}

// getEnv gets an environment variable or returns a default value.
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

// getEnvInt gets an environment variable as int or returns a default value.
func getEnvInt(key string, fallback int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}

// Load loads configuration from environment variables (via .env file) or defaults.
func Load() *Config {
	// godotenv.Load() will not override existing env vars.
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found or error loading .env, relying on existing environment variables and defaults.")
	}

	cfg := &Config{
		ServerPort:  getEnv("SERVER_PORT", "8080"),
		CORSOrigins: getEnv("CORS_ORIGINS", "*"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		LogFile:     getEnv("LOG_FILE", ""),

		DBDriver:   getEnv("DB_DRIVER", "sqlite"),
		DBHost:     getEnv("DB_HOST", "127.0.0.1"),
		DBPort:     getEnv("DB_PORT", "3306"),
		DBUser:     getEnv("DB_USER", "root"),
		DBPassword: os.Getenv("DB_PASSWORD"),
		DBName:     getEnv("DB_NAME", "vksaver"),
		SQLitePath: getEnv("SQLITE_PATH", "vksaver.db"),

		StoreBackend:  getEnv("STORE_BACKEND", "memory"),
		RedisHost:     getEnv("REDIS_HOST", "127.0.0.1"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		UploadTarget:   getEnv("UPLOAD_TARGET", "tempshare"),
		TempshareURL:   getEnv("TEMPSHARE_URL", "https://api.tempshare.su/upload"),
		MinioEndpoint:  getEnv("MINIO_ENDPOINT", "127.0.0.1:9000"),
		MinioAccessKey: os.Getenv("MINIO_ACCESS_KEY"),
		MinioSecretKey: os.Getenv("MINIO_SECRET_KEY"),
		MinioBucket:    getEnv("MINIO_BUCKET", "vksaver"),
		MinioUseSSL:    getEnvBool("MINIO_USE_SSL", false),
		MinioRegion:    getEnv("MINIO_REGION", "us-east-1"),
		ArchiveBaseURL: os.Getenv("ARCHIVE_BASE_URL"),

		JWTSecret:  getEnv("JWT_SECRET", "change-me"),
		SessionTTL: getEnvDuration("SESSION_TTL", 30*24*time.Hour),

		VKAPIURL:       getEnv("VK_API_URL", "https://api.vk.com/method"),
		VKAPIVersion:   getEnv("VK_API_VERSION", "5.131"),
		VKRateInterval: getEnvDuration("VK_RATE_INTERVAL", 350*time.Millisecond),
		GeoIPPath:      getEnv("GEOIP_DB", ""),
		FFmpegPath:     getEnv("FFMPEG_PATH", "ffmpeg"),
	}

	if err := envconfig.Process("PIPELINE", &cfg.Pipeline); err != nil {
		log.Printf("Invalid PIPELINE_* settings: %v", err)
	}
	if err := envconfig.Process("XRAY", &cfg.Xray); err != nil {
		log.Printf("Invalid XRAY_* settings: %v", err)
	}
	return cfg
}
