package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const envPrefix = "PLI"

type AppConfig struct {
	App        AppSettings        `mapstructure:"app"`
	HTTP       HTTPSettings       `mapstructure:"http"`
	Postgres   PostgresSettings   `mapstructure:"postgres"`
	Redis      RedisSettings      `mapstructure:"redis"`
	Kafka      KafkaSettings      `mapstructure:"kafka"`
	JWT        JWTSettings        `mapstructure:"jwt"`
	Argon2     Argon2Settings     `mapstructure:"argon2"`
	Auth       AuthSettings       `mapstructure:"auth"`
	Session    SessionSettings    `mapstructure:"session"`
	RateLimit  RateLimitSettings  `mapstructure:"rate_limit"`
	BruteForce BruteForceSettings `mapstructure:"brute_force"`
	Audit      AuditSettings      `mapstructure:"audit"`
	CORS       CORSSettings       `mapstructure:"cors"`
	Telemetry  TelemetrySettings  `mapstructure:"telemetry"`
}

type AppSettings struct {
	Name string `mapstructure:"name"`
	Env  string `mapstructure:"env"`
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// IsProduction reports whether error details must be hidden from clients.
func (a AppSettings) IsProduction() bool {
	return strings.EqualFold(a.Env, "production")
}

type HTTPSettings struct {
	RequestTimeout    time.Duration `mapstructure:"request_timeout"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout"`
	TrustedProxies    []string      `mapstructure:"trusted_proxies"`
}

type PostgresSettings struct {
	Host              string        `mapstructure:"host"`
	Port              int           `mapstructure:"port"`
	User              string        `mapstructure:"user"`
	Password          string        `mapstructure:"password"`
	Database          string        `mapstructure:"database"`
	SSLMode           string        `mapstructure:"ssl_mode"`
	Schema            string        `mapstructure:"schema"`
	MaxConns          int32         `mapstructure:"max_conns"`
	MinConns          int32         `mapstructure:"min_conns"`
	MaxConnLifetime   time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime   time.Duration `mapstructure:"max_conn_idle_time"`
	HealthCheckPeriod time.Duration `mapstructure:"health_check_period"`
}

// RedisSettings configures the optional shared counter store.
type RedisSettings struct {
	Enabled    bool   `mapstructure:"enabled"`
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	DB         int    `mapstructure:"db"`
	Password   string `mapstructure:"password"`
	TLSEnabled bool   `mapstructure:"tls_enabled"`
	KeyPrefix  string `mapstructure:"key_prefix"`
}

// KafkaSettings configures the audit and notification producer.
type KafkaSettings struct {
	Brokers           []string `mapstructure:"brokers"`
	TopicPrefix       string   `mapstructure:"topic_prefix"`
	AuditTopic        string   `mapstructure:"audit_topic"`
	NotificationTopic string   `mapstructure:"notification_topic"`
}

type JWTSettings struct {
	Secret   string        `mapstructure:"secret"`
	Issuer   string        `mapstructure:"issuer"`
	Audience string        `mapstructure:"audience"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// Argon2Settings configures Argon2id password hashing parameters
type Argon2Settings struct {
	Memory      uint32 `mapstructure:"memory"`
	Iterations  uint32 `mapstructure:"iterations"`
	Parallelism uint8  `mapstructure:"parallelism"`
	SaltLength  uint32 `mapstructure:"salt_length"`
	KeyLength   uint32 `mapstructure:"key_length"`
}

// AuthSettings configures lockout and password reset.
type AuthSettings struct {
	MaxFailedAttempts int           `mapstructure:"max_failed_attempts"`
	LockoutDuration   time.Duration `mapstructure:"lockout_duration"`
	ResetTokenTTL     time.Duration `mapstructure:"reset_token_ttl"`
}

type SessionSettings struct {
	TTL           time.Duration `mapstructure:"ttl"`
	IdleTimeout   time.Duration `mapstructure:"idle_timeout"`
	MaxConcurrent int           `mapstructure:"max_concurrent"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
	Retention     time.Duration `mapstructure:"retention"`
}

// RateLimitSettings configures the per-IP sliding windows.
type RateLimitSettings struct {
	Window           time.Duration `mapstructure:"window"`
	GeneralLimit     int           `mapstructure:"general_limit"`
	LoginLimit       int           `mapstructure:"login_limit"`
	SensitiveLimit   int           `mapstructure:"sensitive_limit"`
	CounterRetention time.Duration `mapstructure:"counter_retention"`
}

type BruteForceSettings struct {
	Threshold int           `mapstructure:"threshold"`
	Window    time.Duration `mapstructure:"window"`
}

type AuditSettings struct {
	FilePath   string `mapstructure:"file_path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	BufferSize int    `mapstructure:"buffer_size"`
	DropIfFull bool   `mapstructure:"drop_if_full"`
}

type CORSSettings struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// TelemetrySettings configures optional OTLP trace export.
type TelemetrySettings struct {
	Enabled      bool    `mapstructure:"enabled"`
	OTLPEndpoint string  `mapstructure:"otlp_endpoint"`
	ServiceName  string  `mapstructure:"service_name"`
	SamplingRate float64 `mapstructure:"sampling_rate"`
}

var (
	// ErrJWTSecretMissing is returned when no signing secret is configured in production.
	ErrJWTSecretMissing = errors.New("config: jwt secret must be at least 32 bytes")
)

func Load() (*AppConfig, error) {
	v := viper.New()

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetEnvPrefix(envPrefix)

	setDefaults(v)

	if err := bindEnvs(v, []string{
		"app.name",
		"app.env",
		"app.host",
		"app.port",
		"http.request_timeout",
		"http.read_header_timeout",
		"http.shutdown_timeout",
		"http.trusted_proxies",
		"postgres.host",
		"postgres.port",
		"postgres.user",
		"postgres.password",
		"postgres.database",
		"postgres.ssl_mode",
		"postgres.schema",
		"postgres.max_conns",
		"postgres.min_conns",
		"postgres.max_conn_lifetime",
		"postgres.max_conn_idle_time",
		"postgres.health_check_period",
		"redis.enabled",
		"redis.host",
		"redis.port",
		"redis.db",
		"redis.password",
		"redis.tls_enabled",
		"redis.key_prefix",
		"kafka.brokers",
		"kafka.topic_prefix",
		"kafka.audit_topic",
		"kafka.notification_topic",
		"jwt.secret",
		"jwt.issuer",
		"jwt.audience",
		"jwt.ttl",
		"argon2.memory",
		"argon2.iterations",
		"argon2.parallelism",
		"argon2.salt_length",
		"argon2.key_length",
		"auth.max_failed_attempts",
		"auth.lockout_duration",
		"auth.reset_token_ttl",
		"session.ttl",
		"session.idle_timeout",
		"session.max_concurrent",
		"session.sweep_interval",
		"session.retention",
		"rate_limit.window",
		"rate_limit.general_limit",
		"rate_limit.login_limit",
		"rate_limit.sensitive_limit",
		"rate_limit.counter_retention",
		"brute_force.threshold",
		"brute_force.window",
		"audit.file_path",
		"audit.max_size_mb",
		"audit.max_backups",
		"audit.buffer_size",
		"audit.drop_if_full",
		"cors.allowed_origins",
		"telemetry.enabled",
		"telemetry.otlp_endpoint",
		"telemetry.service_name",
		"telemetry.sampling_rate",
	}); err != nil {
		return nil, err
	}

	v.AutomaticEnv()

	var cfg AppConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate rejects configurations that would weaken token signing in production.
func (c *AppConfig) Validate() error {
	if c.App.IsProduction() && len(c.JWT.Secret) < 32 {
		return ErrJWTSecretMissing
	}
	if c.Auth.MaxFailedAttempts <= 0 {
		return fmt.Errorf("config: auth.max_failed_attempts must be positive")
	}
	if c.Telemetry.Enabled && (c.Telemetry.SamplingRate < 0 || c.Telemetry.SamplingRate > 1) {
		return fmt.Errorf("config: telemetry.sampling_rate must be within [0,1]")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "cadastro-auth")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.host", "0.0.0.0")
	v.SetDefault("app.port", 3000)

	v.SetDefault("http.request_timeout", "30s")
	v.SetDefault("http.read_header_timeout", "10s")
	v.SetDefault("http.shutdown_timeout", "10s")
	v.SetDefault("http.trusted_proxies", []string{})

	v.SetDefault("postgres.host", "localhost")
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.user", "pli")
	v.SetDefault("postgres.password", "pli_password")
	v.SetDefault("postgres.database", "pli_cadastro")
	v.SetDefault("postgres.ssl_mode", "disable")
	v.SetDefault("postgres.schema", "usuarios")
	v.SetDefault("postgres.max_conns", 10)
	v.SetDefault("postgres.min_conns", 2)
	v.SetDefault("postgres.max_conn_lifetime", "60m")
	v.SetDefault("postgres.max_conn_idle_time", "15m")
	v.SetDefault("postgres.health_check_period", "30s")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.tls_enabled", false)
	v.SetDefault("redis.key_prefix", "pli:counter")

	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic_prefix", "pli")
	v.SetDefault("kafka.audit_topic", "security.audit")
	v.SetDefault("kafka.notification_topic", "auth.password.reset_requested")

	v.SetDefault("jwt.secret", "")
	v.SetDefault("jwt.issuer", "PLI-Sistema")
	v.SetDefault("jwt.audience", "PLI-Users")
	v.SetDefault("jwt.ttl", "24h")

	v.SetDefault("argon2.memory", 65536) // 64 MB
	v.SetDefault("argon2.iterations", 3)
	v.SetDefault("argon2.parallelism", 4)
	v.SetDefault("argon2.salt_length", 16)
	v.SetDefault("argon2.key_length", 32)

	v.SetDefault("auth.max_failed_attempts", 5)
	v.SetDefault("auth.lockout_duration", "30m")
	v.SetDefault("auth.reset_token_ttl", "1h")

	v.SetDefault("session.ttl", "24h")
	v.SetDefault("session.idle_timeout", "2h")
	v.SetDefault("session.max_concurrent", 0)
	v.SetDefault("session.sweep_interval", "30m")
	v.SetDefault("session.retention", "2160h") // 90 days

	v.SetDefault("rate_limit.window", "15m")
	v.SetDefault("rate_limit.general_limit", 100)
	v.SetDefault("rate_limit.login_limit", 5)
	v.SetDefault("rate_limit.sensitive_limit", 20)
	v.SetDefault("rate_limit.counter_retention", "24h")

	v.SetDefault("brute_force.threshold", 5)
	v.SetDefault("brute_force.window", "15m")

	v.SetDefault("audit.file_path", "logs/security-audit.log")
	v.SetDefault("audit.max_size_mb", 5)
	v.SetDefault("audit.max_backups", 10)
	v.SetDefault("audit.buffer_size", 1024)
	v.SetDefault("audit.drop_if_full", true)

	v.SetDefault("cors.allowed_origins", []string{"http://localhost:3000"})

	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.otlp_endpoint", "localhost:4318")
	v.SetDefault("telemetry.service_name", "cadastro-auth")
	v.SetDefault("telemetry.sampling_rate", 0.1)
}

func bindEnvs(v *viper.Viper, keys []string) error {
	for _, key := range keys {
		envKey := strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, envPrefix+"_"+envKey, envKey); err != nil {
			return fmt.Errorf("bind env for %s: %w", key, err)
		}
	}
	return nil
}
