package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type RuntimeConfig struct {
	Dev bool
}

type LogConfig struct {
	Level    string `yaml:"level"`    // trace|debug|info|warn|error
	Format   string `yaml:"format"`   // json|console
	Sampling bool   `yaml:"sampling"` // enable sampling in prod
}

type DatabaseConfig struct {
	URL string `yaml:"url"`
}

type RedisConfig struct {
	URL      string `yaml:"url"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// DarajaConfig holds the platform-level gateway credential set used for
// subscription billing. Per-business credentials live encrypted in the DB.
type DarajaConfig struct {
	BaseURL        string        `yaml:"base_url"` // sandbox or production API root
	ConsumerKey    string        `yaml:"consumer_key"`
	ConsumerSecret string        `yaml:"consumer_secret"`
	Shortcode      string        `yaml:"shortcode"`
	StoreNumber    string        `yaml:"store_number"` // optional aggregator store shortcode
	Passkey        string        `yaml:"passkey"`
	CallbackURL    string        `yaml:"callback_url"`
	Timeout        time.Duration `yaml:"timeout"`
	// Simulate synthesizes SIM- prefixed responses instead of calling the
	// gateway. Never triggered implicitly; the debug fallback additionally
	// requires runtime dev mode.
	Simulate bool `yaml:"simulate"`
}

type WebConfig struct {
	Port         int           `yaml:"port"`
	AdminSecret  string        `yaml:"admin_secret"` // HMAC secret for admin JWTs
	SessionTTL   time.Duration `yaml:"session_ttl"`
	SecureCookie bool          `yaml:"secure_cookie"`
}

type MailConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
}

type TelegramConfig struct {
	Token        string  `yaml:"token"`
	AdminChatIDs []int64 `yaml:"admin_chat_ids"`
}

type ReconcilerConfig struct {
	Interval   time.Duration `yaml:"interval"`
	StaleAfter time.Duration `yaml:"stale_after"`
}

type SecurityConfig struct {
	EncryptionKey string `yaml:"encryption_key"` // 32 bytes, AES-256-GCM
}

type Config struct {
	Log        LogConfig        `yaml:"log"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Daraja     DarajaConfig     `yaml:"daraja"`
	Web        WebConfig        `yaml:"web"`
	Mail       MailConfig       `yaml:"mail"`
	Telegram   TelegramConfig   `yaml:"telegram"`
	Reconciler ReconcilerConfig `yaml:"reconciler"`
	Security   SecurityConfig   `yaml:"security"`

	Runtime RuntimeConfig `yaml:"-"`
}

func LoadConfig(path string, dev bool) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	// defaults
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.Daraja.BaseURL == "" {
		cfg.Daraja.BaseURL = "https://sandbox.safaricom.co.ke"
	}
	if cfg.Daraja.Timeout <= 0 {
		cfg.Daraja.Timeout = 30 * time.Second
	}
	if cfg.Web.Port == 0 {
		cfg.Web.Port = 8080
	}
	if cfg.Web.SessionTTL <= 0 {
		cfg.Web.SessionTTL = 30 * time.Minute
	}
	if cfg.Reconciler.Interval <= 0 {
		cfg.Reconciler.Interval = time.Minute
	}
	if cfg.Reconciler.StaleAfter <= 0 {
		cfg.Reconciler.StaleAfter = 10 * time.Minute
	}

	// Minimal validation
	if cfg.Database.URL == "" {
		return nil, errors.New("database.url is required")
	}
	if cfg.Redis.URL == "" {
		return nil, errors.New("redis.url is required")
	}
	if !cfg.Daraja.Simulate {
		if cfg.Daraja.ConsumerKey == "" || cfg.Daraja.ConsumerSecret == "" {
			return nil, errors.New("daraja.consumer_key and daraja.consumer_secret are required unless daraja.simulate is set")
		}
		if cfg.Daraja.Shortcode == "" || cfg.Daraja.Passkey == "" {
			return nil, errors.New("daraja.shortcode and daraja.passkey are required unless daraja.simulate is set")
		}
	}

	cfg.Runtime.Dev = dev
	return &cfg, nil
}
