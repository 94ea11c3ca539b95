package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"
)

// =============================================================================
// Bouncer Configuration with Environment Overrides
// =============================================================================

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Redis      RedisConfig      `yaml:"redis"`
	Postgres   PostgresConfig   `yaml:"postgres"`
	Chat       ChatConfig       `yaml:"chat"`
	Classifier ClassifierConfig `yaml:"classifier"`
	Trust      TrustConfig      `yaml:"trust"`
	Grant      GrantConfig      `yaml:"grant"`
	Approval   ApprovalConfig   `yaml:"approval"`
	Upload     UploadConfig     `yaml:"upload"`
	Accounts   []AccountSeed    `yaml:"accounts"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

type ServerConfig struct {
	Port             string   `yaml:"port"`
	Env              string   `yaml:"env"`
	Interface        string   `yaml:"interface"`
	ReadTimeoutSec   int      `yaml:"read_timeout_sec"`
	WriteTimeoutSec  int      `yaml:"write_timeout_sec"`
	IdleTimeoutSec   int      `yaml:"idle_timeout_sec"`
	ShutdownTimeout  int      `yaml:"shutdown_timeout_sec"`
	CORSAllowOrigins []string `yaml:"cors_allow_origins"`
	// SharedSecret authenticates every Agent->Broker RPC call (§6); the
	// transport looks it up case-insensitively off the request headers.
	SharedSecret string `yaml:"shared_secret"`
}

// RedisConfig backs the State Store (C4). Enabled has no default and is
// false unless set; when false the server starts on the in-memory store
// with a warning. Bouncer has no durable in-memory mode, so that store
// loses every row on restart.
type RedisConfig struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	Enabled   bool   `yaml:"enabled"`
	KeyPrefix string `yaml:"key_prefix"`
}

// PostgresConfig backs the durable AuditLog archive.
type PostgresConfig struct {
	DSN     string `yaml:"dsn"`
	Enabled bool   `yaml:"enabled"`
}

// ChatConfig configures the Chat Channel (C5).
type ChatConfig struct {
	BotToken           string  `yaml:"bot_token"`
	ApproverChatIDs    []int64 `yaml:"approver_chat_ids"`
	LongPollTimeoutSec int     `yaml:"long_poll_timeout_sec"`
}

// ClassifierConfig points at the Command Classifier's (C1) table files.
type ClassifierConfig struct {
	SafelistPath         string `yaml:"safelist_path"`
	BlocklistPath        string `yaml:"blocklist_path"`
	DangerousPatternPath string `yaml:"dangerous_pattern_path"`
	TrustExclusionsPath  string `yaml:"trust_exclusions_path"`
}

type TrustConfig struct {
	DefaultWindowSec    int    `yaml:"default_window_sec"`
	DefaultMaxCommands  int    `yaml:"default_max_commands"`
	RateLimitFailClosed bool   `yaml:"rate_limit_fail_closed"`
	MaxPendingPerSource int    `yaml:"max_pending_per_source"`
	RateLimitWindowSec  int    `yaml:"rate_limit_window_sec"`
	// HashKey seeds the HMAC trust.Manager uses to derive deterministic
	// trust-session IDs from scope+account. Rotating it invalidates every
	// outstanding trust session.
	HashKey string `yaml:"hash_key"`
}

type GrantConfig struct {
	MaxCommandsPerBatch int `yaml:"max_commands_per_batch"`
	DefaultTTLSec       int `yaml:"default_ttl_sec"`
}

type ApprovalConfig struct {
	TimeoutSec int `yaml:"timeout_sec"`
	MaxWaitSec int `yaml:"max_wait_sec"`
}

type UploadConfig struct {
	StagingBucket   string `yaml:"staging_bucket"`
	MinURLExpirySec int    `yaml:"min_url_expiry_sec"`
	MaxURLExpirySec int    `yaml:"max_url_expiry_sec"`
	SigningSecret   string `yaml:"signing_secret"`
}

// AccountSeed is a statically configured target account, merged into
// internal/account's store at startup.
type AccountSeed struct {
	AccountID string `yaml:"account_id"`
	Name      string `yaml:"name"`
	Region    string `yaml:"region"`
}

type MetricsConfig struct {
	ListenAddr string `yaml:"listen_addr"`
	Enabled    bool   `yaml:"enabled"`
}

// =============================================================================
// Singleton Pattern with Environment Overrides
// =============================================================================

var (
	instance *Config
	once     sync.Once
)

// Get returns the singleton config instance
func Get() *Config {
	once.Do(func() {
		if err := godotenv.Load(); err != nil {
			slog.Debug("config: no .env file loaded", "error", err)
		}
		cfg, err := LoadConfig(getEnv("CONFIG_PATH", "config.yaml"))
		if err != nil {
			slog.Warn("config: failed to load config file, using defaults", "error", err)
		}
		if cfg == nil {
			cfg = &Config{}
		}
		cfg.applyEnvOverrides()
		instance = cfg
	})
	return instance
}

// LoadConfig loads config from YAML file
func LoadConfig(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// applyEnvOverrides applies environment variable overrides
func (c *Config) applyEnvOverrides() {
	// Server
	c.Server.Port = getEnv("PORT", c.Server.Port)
	c.Server.Env = getEnv("BOUNCER_ENV", c.Server.Env)
	c.Server.Interface = getEnv("BOUNCER_INTERFACE", c.Server.Interface)
	if v := getEnvInt("SERVER_READ_TIMEOUT_SEC", 0); v > 0 {
		c.Server.ReadTimeoutSec = v
	}
	if v := getEnvInt("SERVER_WRITE_TIMEOUT_SEC", 0); v > 0 {
		c.Server.WriteTimeoutSec = v
	}
	if v := getEnvInt("SERVER_IDLE_TIMEOUT_SEC", 0); v > 0 {
		c.Server.IdleTimeoutSec = v
	}
	if v := getEnvInt("SERVER_SHUTDOWN_TIMEOUT_SEC", 0); v > 0 {
		c.Server.ShutdownTimeout = v
	}
	if origins := getEnv("CORS_ALLOW_ORIGINS", ""); origins != "" {
		c.Server.CORSAllowOrigins = splitCSV(origins)
	}
	c.Server.SharedSecret = getEnv("BOUNCER_SHARED_SECRET", c.Server.SharedSecret)

	// Redis
	c.Redis.Addr = getEnv("REDIS_ADDR", c.Redis.Addr)
	c.Redis.Password = getEnv("REDIS_PASSWORD", c.Redis.Password)
	if v := getEnvInt("REDIS_DB", -1); v >= 0 {
		c.Redis.DB = v
	}
	c.Redis.Enabled = getEnvBool("REDIS_ENABLED", c.Redis.Enabled)
	c.Redis.KeyPrefix = getEnv("REDIS_KEY_PREFIX", c.Redis.KeyPrefix)

	// Postgres
	c.Postgres.DSN = getEnv("POSTGRES_DSN", c.Postgres.DSN)
	c.Postgres.Enabled = getEnvBool("POSTGRES_ENABLED", c.Postgres.Enabled)

	// Chat
	c.Chat.BotToken = getEnv("TELEGRAM_BOT_TOKEN", c.Chat.BotToken)
	if ids := getEnv("TELEGRAM_APPROVER_CHAT_IDS", ""); ids != "" {
		c.Chat.ApproverChatIDs = splitCSVInt64(ids)
	}
	if v := getEnvInt("TELEGRAM_LONG_POLL_TIMEOUT_SEC", 0); v > 0 {
		c.Chat.LongPollTimeoutSec = v
	}

	// Classifier
	c.Classifier.SafelistPath = getEnv("CLASSIFIER_SAFELIST_PATH", c.Classifier.SafelistPath)
	c.Classifier.BlocklistPath = getEnv("CLASSIFIER_BLOCKLIST_PATH", c.Classifier.BlocklistPath)
	c.Classifier.DangerousPatternPath = getEnv("CLASSIFIER_DANGEROUS_PATTERN_PATH", c.Classifier.DangerousPatternPath)
	c.Classifier.TrustExclusionsPath = getEnv("CLASSIFIER_TRUST_EXCLUSIONS_PATH", c.Classifier.TrustExclusionsPath)

	// Trust
	if v := getEnvInt("TRUST_DEFAULT_WINDOW_SEC", 0); v > 0 {
		c.Trust.DefaultWindowSec = v
	}
	if v := getEnvInt("TRUST_DEFAULT_MAX_COMMANDS", 0); v > 0 {
		c.Trust.DefaultMaxCommands = v
	}
	c.Trust.RateLimitFailClosed = getEnvBool("TRUST_RATE_LIMIT_FAIL_CLOSED", c.Trust.RateLimitFailClosed)
	if v := getEnvInt("TRUST_MAX_PENDING_PER_SOURCE", 0); v > 0 {
		c.Trust.MaxPendingPerSource = v
	}
	if v := getEnvInt("TRUST_RATE_LIMIT_WINDOW_SEC", 0); v > 0 {
		c.Trust.RateLimitWindowSec = v
	}
	c.Trust.HashKey = getEnv("TRUST_HASH_KEY", c.Trust.HashKey)

	// Grant
	if v := getEnvInt("GRANT_MAX_COMMANDS_PER_BATCH", 0); v > 0 {
		c.Grant.MaxCommandsPerBatch = v
	}
	if v := getEnvInt("GRANT_DEFAULT_TTL_SEC", 0); v > 0 {
		c.Grant.DefaultTTLSec = v
	}

	// Approval
	if v := getEnvInt("APPROVAL_TIMEOUT_SEC", 0); v > 0 {
		c.Approval.TimeoutSec = v
	}
	if v := getEnvInt("MCP_MAX_WAIT", 0); v > 0 {
		c.Approval.MaxWaitSec = v
	}

	// Upload
	c.Upload.StagingBucket = getEnv("UPLOAD_STAGING_BUCKET", c.Upload.StagingBucket)
	c.Upload.SigningSecret = getEnv("UPLOAD_SIGNING_SECRET", c.Upload.SigningSecret)
	if v := getEnvInt("UPLOAD_MIN_URL_EXPIRY_SEC", 0); v > 0 {
		c.Upload.MinURLExpirySec = v
	}
	if v := getEnvInt("UPLOAD_MAX_URL_EXPIRY_SEC", 0); v > 0 {
		c.Upload.MaxURLExpirySec = v
	}

	// Metrics
	c.Metrics.ListenAddr = getEnv("METRICS_LISTEN_ADDR", c.Metrics.ListenAddr)
	c.Metrics.Enabled = getEnvBool("METRICS_ENABLED", c.Metrics.Enabled)

	c.applyDefaults()
}

// applyDefaults sets sensible defaults for zero-valued config fields
func (c *Config) applyDefaults() {
	if c.Server.Port == "" {
		c.Server.Port = "8080"
	}
	if c.Server.ReadTimeoutSec == 0 {
		c.Server.ReadTimeoutSec = 15
	}
	if c.Server.WriteTimeoutSec == 0 {
		c.Server.WriteTimeoutSec = 15
	}
	if c.Server.IdleTimeoutSec == 0 {
		c.Server.IdleTimeoutSec = 60
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 30
	}
	if len(c.Server.CORSAllowOrigins) == 0 {
		c.Server.CORSAllowOrigins = []string{"*"}
	}
	if c.Redis.Addr == "" {
		c.Redis.Addr = "localhost:6379"
	}
	if c.Redis.KeyPrefix == "" {
		c.Redis.KeyPrefix = "bouncer:"
	}
	if c.Chat.LongPollTimeoutSec == 0 {
		c.Chat.LongPollTimeoutSec = 30
	}
	if c.Trust.DefaultWindowSec == 0 {
		c.Trust.DefaultWindowSec = 3600
	}
	if c.Trust.DefaultMaxCommands == 0 {
		c.Trust.DefaultMaxCommands = 10
	}
	if c.Trust.MaxPendingPerSource == 0 {
		c.Trust.MaxPendingPerSource = 5
	}
	if c.Trust.RateLimitWindowSec == 0 {
		c.Trust.RateLimitWindowSec = 60
	}
	if c.Grant.MaxCommandsPerBatch == 0 {
		c.Grant.MaxCommandsPerBatch = 20
	}
	if c.Grant.DefaultTTLSec == 0 {
		c.Grant.DefaultTTLSec = 3600
	}
	if c.Approval.TimeoutSec == 0 {
		c.Approval.TimeoutSec = 300
	}
	if c.Approval.MaxWaitSec == 0 {
		c.Approval.MaxWaitSec = 290
	}
	if c.Upload.MinURLExpirySec == 0 {
		c.Upload.MinURLExpirySec = 60
	}
	if c.Upload.MaxURLExpirySec == 0 {
		c.Upload.MaxURLExpirySec = 900
	}
	if c.Metrics.ListenAddr == "" {
		c.Metrics.ListenAddr = ":9090"
	}
}

// =============================================================================
// Helper Functions
// =============================================================================

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		return val == "true" || val == "1"
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func splitCSV(s string) []string {
	parts := make([]string, 0)
	for _, p := range strings.Split(s, ",") {
		trimmed := strings.TrimSpace(p)
		if trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return parts
}

func splitCSVInt64(s string) []int64 {
	out := make([]int64, 0)
	for _, p := range splitCSV(s) {
		if v, err := strconv.ParseInt(p, 10, 64); err == nil {
			out = append(out, v)
		}
	}
	return out
}

// =============================================================================
// Convenience Methods
// =============================================================================

func (c *Config) IsProduction() bool {
	return c.Server.Env == "production"
}

func (c *Config) IsDevelopment() bool {
	return c.Server.Env == "development"
}

func (c *Config) GetPort() string {
	if c.Server.Port == "" {
		return "8080"
	}
	return c.Server.Port
}
