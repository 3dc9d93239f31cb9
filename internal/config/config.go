package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix                 = "MARKME"
	defaultHTTPAddress        = "0.0.0.0:8080"
	defaultDatabasePath       = "markme.db"
	defaultLogLevel           = "info"
	defaultLogFormat          = "json"
	defaultCookieName         = "markme_session"
	defaultSessionIssuer      = "markme"
	defaultSessionTTLMinutes  = 60 * 24
	defaultAutocompleteLimit  = 10
	defaultImportBatchSize    = 200
	defaultImportMaxUpload    = 10 << 20
	defaultImportRatePerMin   = 6
	defaultImportBurst        = 2
	defaultCORSAllowedOrigins = "http://localhost:8000"
)

// AppConfig captures runtime configuration for the API server and CLI.
type AppConfig struct {
	HTTPAddress  string
	DatabasePath string
	LogLevel     string
	LogFormat    string

	SessionSigningKey string
	SessionCookieName string
	SessionIssuer     string
	SessionTTL        time.Duration

	AutocompleteLimit int

	ImportBatchSize      int
	ImportMaxUploadBytes int64
	ImportRatePerMinute  float64
	ImportBurst          int

	CORSAllowedOrigins []string
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("log.format", defaultLogFormat)
	configViper.SetDefault("session.cookie_name", defaultCookieName)
	configViper.SetDefault("session.issuer", defaultSessionIssuer)
	configViper.SetDefault("session.ttl_minutes", defaultSessionTTLMinutes)
	configViper.SetDefault("tags.autocomplete_limit", defaultAutocompleteLimit)
	configViper.SetDefault("import.batch_size", defaultImportBatchSize)
	configViper.SetDefault("import.max_upload_bytes", defaultImportMaxUpload)
	configViper.SetDefault("import.rate_per_minute", defaultImportRatePerMin)
	configViper.SetDefault("import.burst", defaultImportBurst)
	configViper.SetDefault("cors.allowed_origins", defaultCORSAllowedOrigins)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:          configViper.GetString("http.address"),
		DatabasePath:         configViper.GetString("database.path"),
		LogLevel:             configViper.GetString("log.level"),
		LogFormat:            configViper.GetString("log.format"),
		SessionSigningKey:    configViper.GetString("session.signing_secret"),
		SessionCookieName:    configViper.GetString("session.cookie_name"),
		SessionIssuer:        configViper.GetString("session.issuer"),
		SessionTTL:           time.Duration(configViper.GetInt("session.ttl_minutes")) * time.Minute,
		AutocompleteLimit:    configViper.GetInt("tags.autocomplete_limit"),
		ImportBatchSize:      configViper.GetInt("import.batch_size"),
		ImportMaxUploadBytes: configViper.GetInt64("import.max_upload_bytes"),
		ImportRatePerMinute:  configViper.GetFloat64("import.rate_per_minute"),
		ImportBurst:          configViper.GetInt("import.burst"),
		CORSAllowedOrigins:   splitList(configViper.GetString("cors.allowed_origins")),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.SessionSigningKey) == "" {
		return fmt.Errorf("session.signing_secret is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if strings.TrimSpace(c.SessionCookieName) == "" {
		return fmt.Errorf("session.cookie_name is required")
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("session.ttl_minutes must be positive")
	}
	if c.ImportBatchSize <= 0 {
		return fmt.Errorf("import.batch_size must be positive")
	}
	if c.ImportMaxUploadBytes <= 0 {
		return fmt.Errorf("import.max_upload_bytes must be positive")
	}
	if c.ImportRatePerMinute <= 0 {
		return fmt.Errorf("import.rate_per_minute must be positive")
	}
	return nil
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	values := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			values = append(values, trimmed)
		}
	}
	return values
}
