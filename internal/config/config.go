package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix              = "QRNOTES"
	defaultHTTPAddress     = "0.0.0.0:8080"
	defaultDatabasePath    = "qrnotes.db"
	defaultRedisAddress    = "127.0.0.1:6379"
	defaultLogLevel        = "info"
	defaultIssuer          = "qrnotes-api"
	defaultCookieName      = "qr_session"
	defaultClaimTTLMinutes = 20
	defaultSessionTTLHours = 12
	defaultCacheTTLSeconds = 600
	defaultScanCapacity    = 60
	defaultScanWindowSec   = 60
	defaultEditCapacity    = 10
	defaultEditWindowSec   = 60
	defaultAppBaseURL      = "http://localhost:8080"
	defaultFrontendBaseURL = "http://localhost:3000"
	defaultMailFrom        = "QR Notes <no-reply@localhost>"
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress     string
	DatabasePath    string
	RedisAddress    string
	RedisPassword   string
	RedisDB         int
	SigningSecret   string
	Issuer          string
	CookieName      string
	ClaimTokenTTL   time.Duration
	SessionTTL      time.Duration
	CacheTTL        time.Duration
	ScanCapacity    int
	ScanWindow      time.Duration
	EditCapacity    int
	EditWindow      time.Duration
	AppBaseURL      string
	FrontendBaseURL string
	ResendAPIKey    string
	MailFrom        string
	LogLevel        string
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
	configViper.SetDefault("redis.address", defaultRedisAddress)
	configViper.SetDefault("redis.password", "")
	configViper.SetDefault("redis.db", 0)
	configViper.SetDefault("auth.issuer", defaultIssuer)
	configViper.SetDefault("auth.cookie_name", defaultCookieName)
	configViper.SetDefault("auth.claim_token_ttl_minutes", defaultClaimTTLMinutes)
	configViper.SetDefault("auth.session_ttl_hours", defaultSessionTTLHours)
	configViper.SetDefault("cache.ttl_seconds", defaultCacheTTLSeconds)
	configViper.SetDefault("limits.scan_capacity", defaultScanCapacity)
	configViper.SetDefault("limits.scan_window_seconds", defaultScanWindowSec)
	configViper.SetDefault("limits.edit_capacity", defaultEditCapacity)
	configViper.SetDefault("limits.edit_window_seconds", defaultEditWindowSec)
	configViper.SetDefault("urls.app_base", defaultAppBaseURL)
	configViper.SetDefault("urls.frontend_base", defaultFrontendBaseURL)
	configViper.SetDefault("mail.resend_api_key", "")
	configViper.SetDefault("mail.from", defaultMailFrom)
	configViper.SetDefault("log.level", defaultLogLevel)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:     configViper.GetString("http.address"),
		DatabasePath:    configViper.GetString("database.path"),
		RedisAddress:    configViper.GetString("redis.address"),
		RedisPassword:   configViper.GetString("redis.password"),
		RedisDB:         configViper.GetInt("redis.db"),
		SigningSecret:   configViper.GetString("auth.signing_secret"),
		Issuer:          configViper.GetString("auth.issuer"),
		CookieName:      configViper.GetString("auth.cookie_name"),
		ClaimTokenTTL:   time.Duration(configViper.GetInt("auth.claim_token_ttl_minutes")) * time.Minute,
		SessionTTL:      time.Duration(configViper.GetInt("auth.session_ttl_hours")) * time.Hour,
		CacheTTL:        time.Duration(configViper.GetInt("cache.ttl_seconds")) * time.Second,
		ScanCapacity:    configViper.GetInt("limits.scan_capacity"),
		ScanWindow:      time.Duration(configViper.GetInt("limits.scan_window_seconds")) * time.Second,
		EditCapacity:    configViper.GetInt("limits.edit_capacity"),
		EditWindow:      time.Duration(configViper.GetInt("limits.edit_window_seconds")) * time.Second,
		AppBaseURL:      strings.TrimRight(configViper.GetString("urls.app_base"), "/"),
		FrontendBaseURL: strings.TrimRight(configViper.GetString("urls.frontend_base"), "/"),
		ResendAPIKey:    configViper.GetString("mail.resend_api_key"),
		MailFrom:        configViper.GetString("mail.from"),
		LogLevel:        configViper.GetString("log.level"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.SigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if strings.TrimSpace(c.RedisAddress) == "" {
		return fmt.Errorf("redis.address is required")
	}
	if strings.TrimSpace(c.CookieName) == "" {
		return fmt.Errorf("auth.cookie_name is required")
	}
	if c.ClaimTokenTTL <= 0 || c.SessionTTL <= 0 || c.CacheTTL <= 0 {
		return fmt.Errorf("token and cache TTLs must be positive")
	}
	if c.ScanCapacity <= 0 || c.EditCapacity <= 0 || c.ScanWindow <= 0 || c.EditWindow <= 0 {
		return fmt.Errorf("rate limit capacities and windows must be positive")
	}
	return nil
}
