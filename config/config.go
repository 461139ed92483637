package config

import (
	"fmt"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config enthält alle Konfigurationsparameter aus Umgebungsvariablen.
type Config struct {
	DBHost     string `envconfig:"DB_HOST" required:"true"`
	DBPort     int    `envconfig:"DB_PORT" default:"5432"`
	DBUser     string `envconfig:"DB_USER" required:"true"`
	DBPassword string `envconfig:"DB_PASSWORD" required:"true"`
	DBName     string `envconfig:"DB_NAME" required:"true"`

	HTTPPort string `envconfig:"HTTP_PORT" default:"4343"`

	// LLM-Konfiguration für die Extraktion
	LLMProvider    string  `envconfig:"LLM_PROVIDER" default:"openai"`
	LLMModel       string  `envconfig:"LLM_MODEL" default:"gpt-4o-mini"`
	LLMAPIKey      string  `envconfig:"LLM_API_KEY"`
	OllamaHost     string  `envconfig:"OLLAMA_HOST" default:"http://localhost:11434"`
	LLMMaxTokens   int     `envconfig:"LLM_MAX_TOKENS" default:"1024"`
	LLMTemperature float64 `envconfig:"LLM_TEMPERATURE" default:"0.1"`
	LLMMaxRetries  int     `envconfig:"LLM_MAX_RETRIES" default:"4"`

	CaseS3Key    string `envconfig:"CASE_S3_KEY" required:"true"`
	CaseS3Secret string `envconfig:"CASE_S3_SECRET" required:"true"`
	CaseS3URL    string `envconfig:"CASE_S3_URL" required:"true"`
	CaseS3Region string `envconfig:"CASE_S3_REGION" required:"true"`
	CaseS3Bucket string `envconfig:"CASE_S3_BUCKET" required:"true"`

	// Worker-Verhalten
	MinWaitSeconds   int    `envconfig:"MIN_WAIT_SECONDS" default:"5"`
	MaxWaitSeconds   int    `envconfig:"MAX_WAIT_SECONDS" default:"20"`
	ErrorWaitSeconds int    `envconfig:"ERROR_WAIT_SECONDS" default:"60"`
	MaxCycles        int    `envconfig:"MAX_CYCLES" default:"0"`
	BatchSize        int    `envconfig:"BATCH_SIZE" default:"1"`
	DaemonMode       bool   `envconfig:"DAEMON_MODE" default:"false"`
	CronSchedule     string `envconfig:"CRON_SCHEDULE" default:"0 */4 * * *"`

	// Media-Pipeline
	JPEGQuality      int    `envconfig:"JPEG_QUALITY" default:"85"`
	DownloadRetries  int    `envconfig:"DOWNLOAD_RETRIES" default:"3"`
	AssetDelayMinMs  int    `envconfig:"ASSET_DELAY_MIN_MS" default:"800"`
	AssetDelayMaxMs  int    `envconfig:"ASSET_DELAY_MAX_MS" default:"2500"`
	MediaTempDir     string `envconfig:"MEDIA_TEMP_DIR" default:"/tmp/casefile"`
	MaxImagesPerCase int    `envconfig:"MAX_IMAGES_PER_CASE" default:"8"`
}

// DSN gibt den Data Source Name für die PostgreSQL-Verbindung zurück.
func (c *Config) DSN() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=disable",
		c.DBHost, c.DBUser, c.DBPassword, c.DBName, c.DBPort)
}

// Load lädt die Konfiguration aus den Umgebungsvariablen.
func Load() (*Config, error) {
	_ = godotenv.Load()
	var c Config
	err := envconfig.Process("", &c)
	return &c, err
}
