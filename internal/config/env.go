package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/kazz187/fieldguild/pkg/clog"
)

type BaseEnv struct {
	Env         string        `envconfig:"ENV" default:"local"`
	LogLevel    string        `envconfig:"LOG_LEVEL" default:"info"`
	APIBaseURL  string        `envconfig:"API_BASE_URL" default:"http://localhost:3000"`
	HTTPTimeout time.Duration `envconfig:"HTTP_TIMEOUT" default:"30s"`
}

type StorageEnv struct {
	Type    string `envconfig:"STORAGE_TYPE" default:"local"`
	BaseDir string `envconfig:"STORAGE_BASE_DIR" default:".fieldguild/data"`
	// S3 settings (used when Type == "s3")
	S3Bucket string `envconfig:"S3_BUCKET"`
	S3Prefix string `envconfig:"S3_PREFIX" default:"fieldguild/"`
	S3Region string `envconfig:"S3_REGION" default:"ap-northeast-1"`
	// SQLite settings (used when Type == "sqlite")
	SQLitePath string `envconfig:"SQLITE_PATH" default:".fieldguild/fieldguild.db"`
}

// LocationEnv configures a fixed device position. Both coordinates have to be
// set for the static provider to be used.
type LocationEnv struct {
	Latitude  *float64 `envconfig:"LOCATION_LATITUDE"`
	Longitude *float64 `envconfig:"LOCATION_LONGITUDE"`
	Address   string   `envconfig:"LOCATION_ADDRESS"`
}

type PushEnv struct {
	InboxDir    string `envconfig:"PUSH_INBOX_DIR"`
	DeviceToken string `envconfig:"PUSH_DEVICE_TOKEN"`
}

type EvidenceEnv struct {
	Archive bool `envconfig:"EVIDENCE_ARCHIVE" default:"true"`
}

type LocaleEnv struct {
	Language string `envconfig:"LANGUAGE" default:"en"`
}

type Env struct {
	BaseEnv
	StorageEnv
	LocationEnv
	PushEnv
	EvidenceEnv
	LocaleEnv
}

const namespace = "FIELDGUILD"

func LoadEnv() (*Env, error) {
	var env Env
	if err := envconfig.Process(namespace, &env); err != nil {
		return nil, fmt.Errorf("failed to load env: %w", err)
	}
	return &env, nil
}

func (e *BaseEnv) SlogLevel() slog.Level {
	if e == nil {
		return slog.LevelInfo
	}
	return clog.ParseLevel(e.LogLevel)
}

func (e *LocationEnv) HasFix() bool {
	return e != nil && e.Latitude != nil && e.Longitude != nil
}
