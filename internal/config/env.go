package config

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Env holds process settings that come from the environment rather than marketplace.yml.
type Env struct {
	JWTSecret string `env:"TRADELINE_JWT_SECRET"`
	LogLevel  string `env:"TRADELINE_LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"TRADELINE_LOG_FORMAT" envDefault:"console"`
	// AllowActorHeader enables the unauthenticated X-Actor-Id/X-Actor-Role headers.
	AllowActorHeader bool `env:"TRADELINE_ALLOW_ACTOR_HEADER" envDefault:"false"`
	DB               DBEnv
	Storage          StorageEnv
}

// DBEnv overrides where the SQLite file lives and how long a locked write waits.
type DBEnv struct {
	Path        string        `env:"TRADELINE_DB_PATH"`
	BusyTimeout time.Duration `env:"TRADELINE_DB_BUSY_TIMEOUT" envDefault:"5s"`
}

type StorageEnv struct {
	Provider    string `env:"TRADELINE_STORAGE_PROVIDER" envDefault:"fs"`
	Dir         string `env:"TRADELINE_STORAGE_DIR"`
	Bucket      string `env:"TRADELINE_S3_BUCKET"`
	Region      string `env:"TRADELINE_S3_REGION" envDefault:"us-east-1"`
	Endpoint    string `env:"TRADELINE_S3_ENDPOINT"`
	AccessKey   string `env:"TRADELINE_S3_ACCESS_KEY"`
	SecretKey   string `env:"TRADELINE_S3_SECRET_KEY"`
	PathStyle   bool   `env:"TRADELINE_S3_PATH_STYLE" envDefault:"false"`
	URLTTLHours int    `env:"TRADELINE_S3_URL_TTL_HOURS" envDefault:"24"`
}

// LoadDotEnv loads .env from the workspace, if present. Existing variables win.
func LoadDotEnv(workspace string) error {
	if workspace == "" {
		workspace = "."
	}
	err := godotenv.Load(filepath.Join(workspace, ".env"))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}
	return nil
}

// ParseEnv loads Env from environment variables.
func ParseEnv() (Env, error) {
	var e Env
	if err := env.Parse(&e); err != nil {
		return Env{}, fmt.Errorf("parse env: %w", err)
	}
	return e, nil
}
