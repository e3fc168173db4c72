package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the resolved process configuration. Values come from, in order of
// increasing precedence: built-in defaults, an optional YAML file, a .env
// file and the process environment.
type Config struct {
	Addr             string        `yaml:"addr"`
	StorageDSN       string        `yaml:"storage"`
	AutosaveInterval time.Duration `yaml:"autosave_interval"`
	CORSOrigin       string        `yaml:"cors_origin"`
	LogLevel         string        `yaml:"log_level"`
	LogFormat        string        `yaml:"log_format"`
	// Redis holds sealed cloud tokens; empty keeps them in memory.
	RedisURL    string        `yaml:"redis_url"`
	TokenSecret string        `yaml:"token_secret"`
	StateTTL    time.Duration `yaml:"state_ttl"`

	SyncProvider        string `yaml:"sync_provider"`
	SyncPath            string `yaml:"sync_path"`
	DropboxClientSecret string `yaml:"dropbox_client_secret"`
	DropboxRedirectURL  string `yaml:"dropbox_redirect_url"`
	DropboxAuthURL      string `yaml:"dropbox_auth_url"`
	DropboxTokenURL     string `yaml:"dropbox_token_url"`
	DropboxContentURL   string `yaml:"dropbox_content_url"`

	MinioEndpoint  string `yaml:"minio_endpoint"`
	MinioBucket    string `yaml:"minio_bucket"`
	MinioAccessKey string `yaml:"minio_access_key"`
	MinioSecretKey string `yaml:"minio_secret_key"`
	MinioUseSSL    bool   `yaml:"minio_use_ssl"`

	MeiliURL       string `yaml:"meili_url"`
	MeiliMasterKey string `yaml:"meili_master_key"`
	HistoryDir     string `yaml:"history_dir"`

	EnablePDF  bool   `yaml:"enable_pdf"`
	PandocPath string `yaml:"pandoc_path"`
}

// DefaultTokenSecret keys state signing and token sealing when nothing else is
// configured. It is fine for local use only.
const DefaultTokenSecret = "noteforge-dev-secret"

func defaults() Config {
	return Config{
		Addr:               ":8787",
		StorageDSN:         "file://./data",
		AutosaveInterval:   30 * time.Second,
		CORSOrigin:         "*",
		LogLevel:           "info",
		LogFormat:          "text",
		TokenSecret:        DefaultTokenSecret,
		StateTTL:           10 * time.Minute,
		SyncProvider:       "dropbox",
		SyncPath:           "/noteforge-documents.json",
		DropboxRedirectURL: "http://localhost:8787/api/dropbox/callback",
		DropboxAuthURL:     "https://www.dropbox.com/oauth2/authorize",
		DropboxTokenURL:    "https://api.dropboxapi.com/oauth2/token",
		DropboxContentURL:  "https://content.dropboxapi.com",
		MinioBucket:        "noteforge",
		EnablePDF:          true,
		PandocPath:         "pandoc",
	}
}

// Load resolves configuration. path names an optional YAML file; when empty,
// NOTEFORGE_CONFIG is consulted. A missing .env file is not an error.
func Load(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	base := defaults()
	if path == "" {
		path = os.Getenv("NOTEFORGE_CONFIG")
	}
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &base); err != nil {
			return Config{}, fmt.Errorf("decode config %s: %w", path, err)
		}
	}

	return Config{
		Addr:             getenv("API_ADDR", base.Addr),
		StorageDSN:       getenv("NOTEFORGE_STORAGE", base.StorageDSN),
		AutosaveInterval: getenvDuration("NOTEFORGE_AUTOSAVE_INTERVAL", base.AutosaveInterval),
		CORSOrigin:       getenv("NOTEFORGE_CORS_ORIGIN", base.CORSOrigin),
		LogLevel:         getenv("LOG_LEVEL", base.LogLevel),
		LogFormat:        getenv("LOG_FORMAT", base.LogFormat),
		RedisURL:         getenv("REDIS_URL", base.RedisURL),
		TokenSecret:      getenv("NOTEFORGE_TOKEN_SECRET", base.TokenSecret),
		StateTTL:         time.Duration(getenvInt("NOTEFORGE_STATE_TTL_SECONDS", int(base.StateTTL/time.Second))) * time.Second,

		SyncProvider:        strings.ToLower(getenv("NOTEFORGE_SYNC_PROVIDER", base.SyncProvider)),
		SyncPath:            getenv("NOTEFORGE_SYNC_PATH", base.SyncPath),
		DropboxClientSecret: getenv("DROPBOX_CLIENT_SECRET", base.DropboxClientSecret),
		DropboxRedirectURL:  getenv("DROPBOX_REDIRECT_URL", base.DropboxRedirectURL),
		DropboxAuthURL:      getenv("DROPBOX_AUTH_URL", base.DropboxAuthURL),
		DropboxTokenURL:     getenv("DROPBOX_TOKEN_URL", base.DropboxTokenURL),
		DropboxContentURL:   getenv("DROPBOX_CONTENT_URL", base.DropboxContentURL),

		MinioEndpoint:  getenv("MINIO_ENDPOINT", base.MinioEndpoint),
		MinioBucket:    getenv("MINIO_BUCKET", base.MinioBucket),
		MinioAccessKey: getenv("MINIO_ACCESS_KEY", base.MinioAccessKey),
		MinioSecretKey: getenv("MINIO_SECRET_KEY", base.MinioSecretKey),
		MinioUseSSL:    getenvBool("MINIO_USE_SSL", base.MinioUseSSL),

		MeiliURL:       getenv("MEILI_URL", base.MeiliURL),
		MeiliMasterKey: getenv("MEILI_MASTER_KEY", base.MeiliMasterKey),
		HistoryDir:     getenv("NOTEFORGE_HISTORY_DIR", base.HistoryDir),

		EnablePDF:  getenvBool("NOTEFORGE_ENABLE_PDF", base.EnablePDF),
		PandocPath: getenv("NOTEFORGE_PANDOC", base.PandocPath),
	}, nil
}

// Warnings lists settings that are unsafe outside a single-user machine.
func (c Config) Warnings() []string {
	var out []string
	if c.TokenSecret == "" || c.TokenSecret == DefaultTokenSecret {
		out = append(out, "token secret is the built-in default; set NOTEFORGE_TOKEN_SECRET")
	}
	if origin := strings.TrimSpace(c.CORSOrigin); origin == "" || origin == "*" {
		out = append(out, "cors origin is \"*\"; any site may call the API and open the event stream")
	}
	return out
}

func getenv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	if parsed, err := time.ParseDuration(value); err == nil {
		return parsed
	}
	// Bare integers are seconds.
	if seconds, err := strconv.Atoi(value); err == nil {
		return time.Duration(seconds) * time.Second
	}
	return fallback
}
