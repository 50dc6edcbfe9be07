package config

import (
	"errors"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database      DatabaseConfig
	Redis         RedisConfig
	JWT           JWTConfig
	CORS          CORSConfig
	Log           LogConfig
	Workflow      WorkflowConfig
	Cascade       CascadeConfig
	Notifications NotificationConfig
	Cache         CacheConfig
	Documents     DocumentsConfig
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type JWTConfig struct {
	Secret     string
	Expiration time.Duration
	Issuer     string
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// WorkflowConfig tunes transition locking and the handler-side conflict retry.
type WorkflowConfig struct {
	LockTimeout     time.Duration
	ConflictRetries int
	ConflictBackoff time.Duration
}

// CascadeConfig sizes the side-effect worker pool.
type CascadeConfig struct {
	Workers        int
	BufferSize     int
	MaxRetries     int
	BaseBackoff    time.Duration
	MaxBackoff     time.Duration
	SweepInterval  time.Duration
	SweepBatchSize int
}

// NotificationConfig selects the email provider and its template identifiers.
type NotificationConfig struct {
	Enabled        bool
	Provider       string
	SendGridAPIKey string
	FromName       string
	FromEmail      string
	Templates      map[string]string
}

// CacheConfig governs the read-model cache used by the access and grade views.
type CacheConfig struct {
	Enabled bool
	TTL     time.Duration
}

// DocumentsConfig controls storage for uploaded enrollment documents and transcripts.
type DocumentsConfig struct {
	StorageDir       string
	SignedURLSecret  string
	SignedURLTTL     time.Duration
	MaxFileSizeBytes int64
	AllowedMIMEs     []string
}

// Template keys used by the notification gateway.
const (
	TemplateEnrollmentStatus     = "enrollment_status"
	TemplateClassApprovalStatus  = "class_approval_status"
	TemplateCreditTransferStatus = "credit_transfer_status"
)

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !isMissingFile(err) {
			return nil, err
		}
	}

	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
	}

	cfg.Redis = RedisConfig{
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.JWT = JWTConfig{
		Secret:     v.GetString("JWT_SECRET"),
		Expiration: parseDuration(v.GetString("JWT_EXPIRATION"), 24*time.Hour),
		Issuer:     v.GetString("JWT_ISSUER"),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	retries := v.GetInt("WORKFLOW_CONFLICT_RETRIES")
	if retries < 0 {
		retries = 0
	}
	cfg.Workflow = WorkflowConfig{
		LockTimeout:     parseDuration(v.GetString("WORKFLOW_LOCK_TIMEOUT"), 3*time.Second),
		ConflictRetries: retries,
		ConflictBackoff: parseDuration(v.GetString("WORKFLOW_CONFLICT_BACKOFF"), 50*time.Millisecond),
	}

	cfg.Cascade = CascadeConfig{
		Workers:        v.GetInt("CASCADE_WORKERS"),
		BufferSize:     v.GetInt("CASCADE_BUFFER_SIZE"),
		MaxRetries:     v.GetInt("CASCADE_MAX_RETRIES"),
		BaseBackoff:    parseDuration(v.GetString("CASCADE_BASE_BACKOFF"), time.Second),
		MaxBackoff:     parseDuration(v.GetString("CASCADE_MAX_BACKOFF"), time.Minute),
		SweepInterval:  parseDuration(v.GetString("CASCADE_SWEEP_INTERVAL"), 5*time.Minute),
		SweepBatchSize: v.GetInt("CASCADE_SWEEP_BATCH_SIZE"),
	}

	cfg.Notifications = NotificationConfig{
		Enabled:        v.GetBool("ENABLE_NOTIFICATIONS"),
		Provider:       strings.ToLower(v.GetString("NOTIFICATION_PROVIDER")),
		SendGridAPIKey: v.GetString("SENDGRID_API_KEY"),
		FromName:       v.GetString("NOTIFICATION_FROM_NAME"),
		FromEmail:      v.GetString("NOTIFICATION_FROM_EMAIL"),
		Templates: map[string]string{
			TemplateEnrollmentStatus:     v.GetString("SENDGRID_TEMPLATE_ENROLLMENT"),
			TemplateClassApprovalStatus:  v.GetString("SENDGRID_TEMPLATE_CLASS_APPROVAL"),
			TemplateCreditTransferStatus: v.GetString("SENDGRID_TEMPLATE_CREDIT_TRANSFER"),
		},
	}

	cfg.Cache = CacheConfig{
		Enabled: v.GetBool("ENABLE_CACHE"),
		TTL:     parseDuration(v.GetString("CACHE_TTL"), 5*time.Minute),
	}

	maxDocSize := v.GetInt64("DOCUMENTS_MAX_FILE_SIZE")
	if maxDocSize <= 0 {
		maxDocSize = 5 * 1024 * 1024
	}
	cfg.Documents = DocumentsConfig{
		StorageDir:       v.GetString("DOCUMENTS_STORAGE_DIR"),
		SignedURLSecret:  v.GetString("DOCUMENTS_SIGNED_URL_SECRET"),
		SignedURLTTL:     parseDuration(v.GetString("DOCUMENTS_SIGNED_URL_TTL"), 15*time.Minute),
		MaxFileSizeBytes: maxDocSize,
		AllowedMIMEs:     splitAndTrim(v.GetString("DOCUMENTS_ALLOWED_MIME_TYPES")),
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "school_portal")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 20)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("JWT_EXPIRATION", "24h")
	v.SetDefault("JWT_ISSUER", "school-portal-api")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("WORKFLOW_LOCK_TIMEOUT", "3s")
	v.SetDefault("WORKFLOW_CONFLICT_RETRIES", 1)
	v.SetDefault("WORKFLOW_CONFLICT_BACKOFF", "50ms")

	v.SetDefault("CASCADE_WORKERS", 4)
	v.SetDefault("CASCADE_BUFFER_SIZE", 256)
	v.SetDefault("CASCADE_MAX_RETRIES", 5)
	v.SetDefault("CASCADE_BASE_BACKOFF", "1s")
	v.SetDefault("CASCADE_MAX_BACKOFF", "1m")
	v.SetDefault("CASCADE_SWEEP_INTERVAL", "5m")
	v.SetDefault("CASCADE_SWEEP_BATCH_SIZE", 100)

	v.SetDefault("ENABLE_NOTIFICATIONS", false)
	v.SetDefault("NOTIFICATION_PROVIDER", "log")
	v.SetDefault("SENDGRID_API_KEY", "")
	v.SetDefault("NOTIFICATION_FROM_NAME", "School Portal")
	v.SetDefault("NOTIFICATION_FROM_EMAIL", "no-reply@school.local")
	v.SetDefault("SENDGRID_TEMPLATE_ENROLLMENT", "")
	v.SetDefault("SENDGRID_TEMPLATE_CLASS_APPROVAL", "")
	v.SetDefault("SENDGRID_TEMPLATE_CREDIT_TRANSFER", "")

	v.SetDefault("ENABLE_CACHE", true)
	v.SetDefault("CACHE_TTL", "5m")

	v.SetDefault("DOCUMENTS_STORAGE_DIR", "./documents")
	v.SetDefault("DOCUMENTS_SIGNED_URL_SECRET", "dev_documents_secret")
	v.SetDefault("DOCUMENTS_SIGNED_URL_TTL", "15m")
	v.SetDefault("DOCUMENTS_MAX_FILE_SIZE", 5*1024*1024)
	v.SetDefault("DOCUMENTS_ALLOWED_MIME_TYPES", "application/pdf,image/jpeg,image/png")
}

func isMissingFile(err error) bool {
	return err != nil && strings.Contains(err.Error(), "no such file or directory")
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
