package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config application configuration structure
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Log      LogConfig      `yaml:"log"`
	NATS     NATSConfig     `yaml:"nats"`
	CORS     CORSConfig     `yaml:"cors"`
	Auth     AuthConfig     `yaml:"auth"`
	Admin    AdminConfig    `yaml:"admin"`
	Payment  PaymentConfig  `yaml:"payment"`
	Sources  SourcesConfig  `yaml:"sources"`
}

// ServerConfig server configuration
type ServerConfig struct {
	Host           string   `yaml:"host"`
	Port           int      `yaml:"port"`
	TrustedProxies []string `yaml:"trustedProxies"` // empty = use the socket address only
}

// DatabaseConfig Database configuration
type DatabaseConfig struct {
	DSN                string `yaml:"dsn"`
	Driver             string `yaml:"driver"`             // postgres | memory
	MaxOpenConns       int    `yaml:"maxOpenConns"`       // pool size
	MaxIdleConns       int    `yaml:"maxIdleConns"`       // idle pool size
	LockTimeoutMs      int    `yaml:"lockTimeoutMs"`      // bounded wait on row locks
	StatementTimeoutMs int    `yaml:"statementTimeoutMs"` // bounded statement time
}

// LogConfig logging configuration
type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// NATSConfig NATS message server configuration
type NATSConfig struct {
	URL             string `yaml:"url"`
	Timeout         int    `yaml:"timeout"`
	ReconnectWait   int    `yaml:"reconnect_wait"`
	MaxReconnects   int    `yaml:"max_reconnects"`
	EnableJetStream bool   `yaml:"enable_jetstream"`
	Stream          string `yaml:"stream"`
	SubjectPrefix   string `yaml:"subject_prefix"`
}

// CORSConfig CORS configuration
type CORSConfig struct {
	AllowedOrigins   []string `yaml:"allowedOrigins"`
	AllowCredentials bool     `yaml:"allowCredentials"`
	MaxAge           int      `yaml:"maxAge"`
}

// AuthConfig user token validation
type AuthConfig struct {
	JWTSecret string `yaml:"jwtSecret"` // HS256 secret shared with the upstream token issuer
	Issuer    string `yaml:"issuer"`
}

// AdminConfig Admin API access control configuration
type AdminConfig struct {
	AllowedIPs   []string `yaml:"allowedIPs"`
	Username     string   `yaml:"username"`
	PasswordHash string   `yaml:"passwordHash"` // bcrypt
	TOTPSecret   string   `yaml:"totpSecret"`
	JWTSecret    string   `yaml:"jwtSecret"`
	TokenTTLMin  int      `yaml:"tokenTtlMinutes"`
}

// PaymentConfig scheduler and matching configuration
type PaymentConfig struct {
	ExpirySweepIntervalSec int      `yaml:"expirySweepIntervalSec"`
	PollIntervalSec        int      `yaml:"pollIntervalSec"`
	CreditRetryIntervalSec int      `yaml:"creditRetryIntervalSec"`
	JobTimeoutSec          int      `yaml:"jobTimeoutSec"`
	HTTPTimeoutSec         int      `yaml:"httpTimeoutSec"`
	ActiveWindowHours      int      `yaml:"activeWindowHours"`
	PollMethods            []string `yaml:"pollMethods"` // methods polled by the scheduler, empty = all
	OrderIDPrefix          string   `yaml:"orderIdPrefix"`
}

// SourcesConfig deposit source endpoints
type SourcesConfig struct {
	CoinEx      CoinExConfig      `yaml:"coinex"`
	BscScan     BscScanConfig     `yaml:"bscscan"`
	BlockCypher BlockCypherConfig `yaml:"blockcypher"`
}

// CoinExConfig exchange API endpoint
type CoinExConfig struct {
	BaseURL   string `yaml:"baseUrl"`
	PageLimit int    `yaml:"pageLimit"`
}

// BscScanConfig EVM explorer endpoint
type BscScanConfig struct {
	BaseURL               string `yaml:"baseUrl"`
	TokenContract         string `yaml:"tokenContract"`
	TokenDecimals         int    `yaml:"tokenDecimals"`
	RequiredConfirmations int64  `yaml:"requiredConfirmations"`
}

// BlockCypherConfig UTXO explorer endpoint
type BlockCypherConfig struct {
	BaseURL               string `yaml:"baseUrl"`
	RequiredConfirmations int64  `yaml:"requiredConfirmations"`
}

var AppConfig *Config

// Default returns a configuration with every default applied
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// LoadConfig Load configuration file
func LoadConfig(configPath string) error {
	if configPath == "" {
		configPath = "config.yaml"
		if _, err := os.Stat("config.local.yaml"); err == nil {
			configPath = "config.local.yaml"
			log.Printf("🔧 Using local configuration file: config.local.yaml")
		}
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return err
	}
	fmt.Printf("✅ [%s] Loading configuration from config file: %s\n", time.Now().Format("2006-01-02 15:04:05"), configPath)

	if len(cfg.Admin.AllowedIPs) > 0 {
		fmt.Printf("📋 [Config] Admin IP whitelist loaded: %d IPs/CIDRs configured\n", len(cfg.Admin.AllowedIPs))
	} else {
		fmt.Printf("📋 [Config] Admin IP whitelist: not configured (localhost-only mode)\n")
	}
	fmt.Printf("📋 [Config] Payment scheduler: expiry sweep %ds, poll %ds, job timeout %ds\n",
		cfg.Payment.ExpirySweepIntervalSec, cfg.Payment.PollIntervalSec, cfg.Payment.JobTimeoutSec)

	AppConfig = cfg
	return nil
}

// Parse decodes yaml, applies environment overrides and fills defaults
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	overrideFromEnv(&cfg)
	applyDefaults(&cfg)
	return &cfg, nil
}

// overrideFromEnv Override configuration
func overrideFromEnv(config *Config) {
	if dsn := os.Getenv("DATABASE_DSN"); dsn != "" {
		config.Database.DSN = dsn
	}
	if driver := os.Getenv("DATABASE_DRIVER"); driver != "" {
		config.Database.Driver = driver
	}

	if host := os.Getenv("SERVER_HOST"); host != "" {
		config.Server.Host = host
	}
	if port := os.Getenv("SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}

	if proxies := os.Getenv("TRUSTED_PROXIES"); proxies != "" {
		config.Server.TrustedProxies = splitList(proxies)
	}
	if origins := os.Getenv("CORS_ALLOWED_ORIGINS"); origins != "" {
		config.CORS.AllowedOrigins = splitList(origins)
	}

	if level := os.Getenv("LOG_LEVEL"); level != "" {
		config.Log.Level = level
	}
	if format := os.Getenv("LOG_FORMAT"); format != "" {
		config.Log.Format = format
	}

	if natsURL := os.Getenv("NATS_URL"); natsURL != "" {
		config.NATS.URL = natsURL
	}
	if natsTimeout := os.Getenv("NATS_TIMEOUT"); natsTimeout != "" {
		if t, err := strconv.Atoi(natsTimeout); err == nil {
			config.NATS.Timeout = t
		}
	}

	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		config.Auth.JWTSecret = secret
	}
	if secret := os.Getenv("ADMIN_JWT_SECRET"); secret != "" {
		config.Admin.JWTSecret = secret
	}
	if secret := os.Getenv("ADMIN_TOTP_SECRET"); secret != "" {
		config.Admin.TOTPSecret = secret
	}
	if hash := os.Getenv("ADMIN_PASSWORD_HASH"); hash != "" {
		config.Admin.PasswordHash = hash
	}
	if username := os.Getenv("ADMIN_USERNAME"); username != "" {
		config.Admin.Username = username
	}
	if ips := os.Getenv("ADMIN_ALLOWED_IPS"); ips != "" {
		config.Admin.AllowedIPs = splitList(ips)
	}

	if url := os.Getenv("COINEX_BASE_URL"); url != "" {
		config.Sources.CoinEx.BaseURL = url
	}
	if url := os.Getenv("BSCSCAN_BASE_URL"); url != "" {
		config.Sources.BscScan.BaseURL = url
	}
	if url := os.Getenv("BLOCKCYPHER_BASE_URL"); url != "" {
		config.Sources.BlockCypher.BaseURL = url
	}
	if interval := os.Getenv("PAYMENT_POLL_INTERVAL_SEC"); interval != "" {
		if v, err := strconv.Atoi(interval); err == nil {
			config.Payment.PollIntervalSec = v
		}
	}
}

// splitList splits a comma separated env value, dropping blanks
func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func applyDefaults(config *Config) {
	if config.Server.Host == "" {
		config.Server.Host = "0.0.0.0"
	}
	if config.Server.Port == 0 {
		config.Server.Port = 8080
	}
	if config.Database.Driver == "" {
		config.Database.Driver = "postgres"
	}
	if config.Database.MaxOpenConns == 0 {
		config.Database.MaxOpenConns = 20
	}
	if config.Database.MaxIdleConns == 0 {
		config.Database.MaxIdleConns = 5
	}
	if config.Database.LockTimeoutMs == 0 {
		config.Database.LockTimeoutMs = 5000
	}
	if config.Database.StatementTimeoutMs == 0 {
		config.Database.StatementTimeoutMs = 30000
	}
	if config.CORS.MaxAge == 0 {
		config.CORS.MaxAge = 3600
	}
	if config.Log.Level == "" {
		config.Log.Level = "info"
	}
	if config.NATS.Timeout == 0 {
		config.NATS.Timeout = 10
	}
	if config.NATS.ReconnectWait == 0 {
		config.NATS.ReconnectWait = 2
	}
	if config.NATS.MaxReconnects == 0 {
		config.NATS.MaxReconnects = 60
	}
	if config.NATS.Stream == "" {
		config.NATS.Stream = "AUTOPAY_EVENTS"
	}
	if config.NATS.SubjectPrefix == "" {
		config.NATS.SubjectPrefix = "autopay"
	}
	if config.Admin.Username == "" {
		config.Admin.Username = "admin"
	}
	if config.Admin.TokenTTLMin == 0 {
		config.Admin.TokenTTLMin = 60
	}

	p := &config.Payment
	if p.ExpirySweepIntervalSec == 0 {
		p.ExpirySweepIntervalSec = 60
	}
	if p.PollIntervalSec == 0 {
		p.PollIntervalSec = 120
	}
	if p.CreditRetryIntervalSec == 0 {
		p.CreditRetryIntervalSec = 300
	}
	if p.JobTimeoutSec == 0 {
		p.JobTimeoutSec = 90
	}
	if p.HTTPTimeoutSec == 0 {
		p.HTTPTimeoutSec = 20
	}
	if p.ActiveWindowHours == 0 {
		p.ActiveWindowHours = 2
	}
	if p.OrderIDPrefix == "" {
		p.OrderIDPrefix = "AP"
	}

	s := &config.Sources
	if s.CoinEx.BaseURL == "" {
		s.CoinEx.BaseURL = "https://api.coinex.com/v2"
	}
	if s.CoinEx.PageLimit == 0 || s.CoinEx.PageLimit > 100 {
		s.CoinEx.PageLimit = 100
	}
	if s.BscScan.BaseURL == "" {
		s.BscScan.BaseURL = "https://api.bscscan.com/api"
	}
	if s.BscScan.TokenContract == "" {
		s.BscScan.TokenContract = "0x55d398326f99059ff775485246999027b3197955"
	}
	if s.BscScan.TokenDecimals == 0 {
		s.BscScan.TokenDecimals = 18
	}
	if s.BscScan.RequiredConfirmations == 0 {
		s.BscScan.RequiredConfirmations = 15
	}
	if s.BlockCypher.BaseURL == "" {
		s.BlockCypher.BaseURL = "https://api.blockcypher.com/v1/ltc/main"
	}
	if s.BlockCypher.RequiredConfirmations == 0 {
		s.BlockCypher.RequiredConfirmations = 6
	}
}

// Duration helpers

func (p PaymentConfig) ExpirySweepInterval() time.Duration {
	return time.Duration(p.ExpirySweepIntervalSec) * time.Second
}

func (p PaymentConfig) PollInterval() time.Duration {
	return time.Duration(p.PollIntervalSec) * time.Second
}

func (p PaymentConfig) CreditRetryInterval() time.Duration {
	return time.Duration(p.CreditRetryIntervalSec) * time.Second
}

func (p PaymentConfig) JobTimeout() time.Duration {
	return time.Duration(p.JobTimeoutSec) * time.Second
}

func (p PaymentConfig) HTTPTimeout() time.Duration {
	return time.Duration(p.HTTPTimeoutSec) * time.Second
}

func (p PaymentConfig) ActiveWindow() time.Duration {
	return time.Duration(p.ActiveWindowHours) * time.Hour
}
