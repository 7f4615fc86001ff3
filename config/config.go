package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Port      string `envconfig:"PORT" default:"8081"`
	PublicURL string `envconfig:"PUBLIC_URL" default:"http://localhost:8081"`
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"json"`

	// País usado para completar números nacionais
	DefaultCountryCode string `envconfig:"WA_DEFAULT_COUNTRY_CODE" default:"55"`

	Database DatabaseConfig `ignored:"true"`
	Store    StoreConfig    `ignored:"true"`
	Session  SessionConfig  `ignored:"true"`
	S3Config S3Config       `ignored:"true"`
	SQS      SQSConfig      `ignored:"true"`
	Redis    RedisConfig    `ignored:"true"`
}

type DatabaseConfig struct {
	Type          string        `envconfig:"DB_TYPE" default:"mysql"`
	DSN           string        `envconfig:"DB_DSN"`
	Host          string        `envconfig:"DB_HOST" default:"localhost"`
	Port          string        `envconfig:"DB_PORT" default:"3306"`
	User          string        `envconfig:"DB_USER" default:"root"`
	Password      string        `envconfig:"DB_PASSWORD"`
	Name          string        `envconfig:"DB_NAME" default:"whatsapp_hub"`
	Debug         bool          `envconfig:"DB_DEBUG" default:"false"`
	MaxOpenConns  int           `envconfig:"DB_MAX_OPEN_CONNS" default:"25"`
	MaxIdleConns  int           `envconfig:"DB_MAX_IDLE_CONNS" default:"5"`
	RetryAttempts int           `envconfig:"DB_RETRY_ATTEMPTS" default:"3"`
	RetryDelay    time.Duration `envconfig:"DB_RETRY_DELAY" default:"100ms"`
}

// StoreConfig controla onde o whatsmeow guarda as chaves de dispositivo.
type StoreConfig struct {
	Driver string `envconfig:"WA_STORE_DRIVER" default:"sqlite"`
	DSN    string `envconfig:"WA_STORE_DSN" default:"file:whatsmeow.db?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(10000)"`
}

type SessionConfig struct {
	DefaultMaxSessions   int           `envconfig:"WA_DEFAULT_MAX_SESSIONS" default:"3"`
	ConnectTimeout       time.Duration `envconfig:"WA_CONNECT_TIMEOUT" default:"30s"`
	SendTimeout          time.Duration `envconfig:"WA_SEND_TIMEOUT" default:"20s"`
	MirrorTimeout        time.Duration `envconfig:"WA_MIRROR_TIMEOUT" default:"10s"`
	ReconnectMaxAttempts int           `envconfig:"WA_RECONNECT_MAX_ATTEMPTS" default:"5"`
	ReconnectBaseDelay   time.Duration `envconfig:"WA_RECONNECT_BASE_DELAY" default:"2s"`
	ReconnectMaxDelay    time.Duration `envconfig:"WA_RECONNECT_MAX_DELAY" default:"60s"`
	InboundQueueSize     int           `envconfig:"WA_INBOUND_QUEUE_SIZE" default:"256"`
	SendRate             float64       `envconfig:"WA_SEND_RATE" default:"5"`
	SendBurst            int           `envconfig:"WA_SEND_BURST" default:"10"`
	ActiveThreadTTL      time.Duration `envconfig:"WA_ACTIVE_THREAD_TTL" default:"2m"`
	LegacyAuthDir        string        `envconfig:"WA_LEGACY_AUTH_DIR" default:"auth_info"`
	DevicePlatform       string        `envconfig:"WA_DEVICE_PLATFORM" default:"WhatsApp Hub"`
}

type S3Config struct {
	AccessKey  string `envconfig:"S3_ACCESS_KEY"`
	SecretKey  string `envconfig:"S3_SECRET_KEY"`
	Region     string `envconfig:"S3_REGION" default:"us-east-1"`
	BucketName string `envconfig:"S3_BUCKET"`
	ServiceUrl string `envconfig:"S3_ENDPOINT" default:"https://s3.amazonaws.com"`
	BucketUrl  string `envconfig:"S3_BUCKET_URL"`
}

// Enabled indica se há bucket configurado para guardar mídias.
func (c S3Config) Enabled() bool {
	return c.BucketName != "" && c.AccessKey != ""
}

type SQSConfig struct {
	QueueURL           string `envconfig:"SQS_EVENTS_QUEUE_URL"`
	Region             string `envconfig:"AWS_REGION" default:"us-east-1"`
	LocalstackEndpoint string `envconfig:"LOCALSTACK_ENDPOINT"`
}

type RedisConfig struct {
	Addr     string `envconfig:"REDIS_ADDR"`
	Password string `envconfig:"REDIS_PASSWORD"`
	Channel  string `envconfig:"REDIS_EVENTS_CHANNEL" default:"whatsapp-hub:events"`
}

// Load lê o .env (quando existir) e depois as variáveis de ambiente.
func Load() (*Config, error) {
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			return nil, fmt.Errorf("erro ao carregar .env: %w", err)
		}
	}

	var cfg Config
	sections := []interface{}{&cfg, &cfg.Database, &cfg.Store, &cfg.Session, &cfg.S3Config, &cfg.SQS, &cfg.Redis}
	for _, section := range sections {
		if err := envconfig.Process("", section); err != nil {
			return nil, fmt.Errorf("erro ao ler configuração: %w", err)
		}
	}
	return &cfg, nil
}
