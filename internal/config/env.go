package config

import (
	"errors"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

type Config struct {
	DatabaseURL string
	SslCertPath string

	StorageBackend string // s3 | minio
	AwsAccessKey   string
	AwsSecretKey   string
	AwsRegion      string
	BucketName     string
	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioUseSSL    bool

	EmbedProvider string // gemini | openai
	AIAPIKey      string
	OpenAIAPIKey  string
	EmbedModel    string
	EmbedDim      int
	GenModel      string

	QdrantAddr    string
	QdrantAPIKey  string
	BedrockRegion string

	QueueBackend   string // memory | redis
	RedisURL       string
	IngestWorkers  int
	QueueName      string
	GitlabBaseURL  string
	GitlabToken    string
	JWTSecret      string
	Port           string
	LogLevel       string
	LogFormat      string
	PolicyFile     string
	AllowedOrigins []string
}

// LoadConfig loads the environment variables and return config
func LoadConfig() *Config {

	_ = godotenv.Load()

	cfg := &Config{
		DatabaseURL:    getEnv("DATABASE_URL", ""),
		SslCertPath:    getEnv("SSL_CERT_PATH", ""),
		StorageBackend: getEnv("STORAGE_BACKEND", "s3"),
		AwsAccessKey:   getEnv("AWS_ACCESS_KEY", ""),
		AwsSecretKey:   getEnv("AWS_SECRET_KEY", ""),
		AwsRegion:      getEnv("AWS_REGION", "us-east-2"),
		BucketName:     getEnv("BUCKET_NAME", "contexta-docs"),
		MinioEndpoint:  getEnv("MINIO_ENDPOINT", "localhost:9000"),
		MinioAccessKey: getEnv("MINIO_ACCESS_KEY", ""),
		MinioSecretKey: getEnv("MINIO_SECRET_KEY", ""),
		MinioUseSSL:    getEnvBool("MINIO_USE_SSL", false),
		EmbedProvider:  getEnv("EMBED_PROVIDER", "gemini"),
		AIAPIKey:       getEnv("GEMINI_API_KEY", ""),
		OpenAIAPIKey:   getEnv("OPENAI_API_KEY", ""),
		EmbedModel:     getEnv("EMBED_MODEL", ""),
		EmbedDim:       getEnvInt("EMBED_DIM", 768),
		GenModel:       getEnv("GEN_MODEL", "gemini-1.5-flash"),
		QdrantAddr:     getEnv("QDRANT_ADDR", ""),
		QdrantAPIKey:   getEnv("QDRANT_API_KEY", ""),
		BedrockRegion:  getEnv("BEDROCK_REGION", ""),
		QueueBackend:   getEnv("QUEUE_BACKEND", "memory"),
		RedisURL:       getEnv("REDIS_URL", ""),
		IngestWorkers:  getEnvInt("INGEST_WORKERS", 4),
		QueueName:      getEnv("QUEUE_NAME", "contexta:ingest"),
		GitlabBaseURL:  getEnv("GITLAB_BASE_URL", "https://gitlab.com/api/v4"),
		GitlabToken:    getEnv("GITLAB_TOKEN", ""),
		JWTSecret:      getEnv("JWT_SECRET", ""),
		Port:           getEnv("PORT", "8080"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		LogFormat:      getEnv("LOG_FORMAT", "json"),
		PolicyFile:     getEnv("POLICY_FILE", "ingest_policy.yaml"),
		AllowedOrigins: getEnvList("ALLOWED_ORIGINS", []string{"http://localhost:5173", "http://localhost:8888"}),
	}

	return cfg
}

// Validate checks the settings the API server cannot start without.
func (c *Config) Validate() error {
	var errs []error
	if c.DatabaseURL == "" {
		errs = append(errs, errors.New("DATABASE_URL not set"))
	}
	if c.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET not set"))
	}
	switch c.StorageBackend {
	case "s3", "minio":
	default:
		errs = append(errs, errors.New("STORAGE_BACKEND must be s3 or minio"))
	}
	switch c.QueueBackend {
	case "memory":
	case "redis":
		if c.RedisURL == "" {
			errs = append(errs, errors.New("REDIS_URL required when QUEUE_BACKEND=redis"))
		}
	default:
		errs = append(errs, errors.New("QUEUE_BACKEND must be memory or redis"))
	}
	if c.IngestWorkers <= 0 {
		errs = append(errs, errors.New("INGEST_WORKERS must be positive"))
	}
	return errors.Join(errs...)
}

// Helper to read environment variables with a default fallback
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvInt(key string, def int) int {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Warn().Str("key", key).Str("value", v).Int("default", def).Msg("not an int, using default")
		return def
	}
	return n
}

func getEnvBool(key string, def bool) bool {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		log.Warn().Str("key", key).Str("value", v).Bool("default", def).Msg("not a bool, using default")
		return def
	}
	return b
}

func getEnvList(key string, def []string) []string {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
