package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const envPrefix = "TRACKING"

type AppConfig struct {
	App          AppSettings          `mapstructure:"app"`
	Postgres     PostgresSettings     `mapstructure:"postgres"`
	Redis        RedisSettings        `mapstructure:"redis"`
	Kafka        KafkaSettings        `mapstructure:"kafka"`
	Telemetry    TelemetrySettings    `mapstructure:"telemetry"`
	RateLimit    RateLimitSettings    `mapstructure:"rate_limit"`
	Tracking     TrackingSettings     `mapstructure:"tracking"`
	GeoIP        GeoIPSettings        `mapstructure:"geoip"`
	BotDetection BotDetectionSettings `mapstructure:"bot_detection"`
	Auth         AuthSettings         `mapstructure:"auth"`
	CORS         CORSSettings         `mapstructure:"cors"`
}

type AppSettings struct {
	Name  string `mapstructure:"name"`
	Env   string `mapstructure:"env"`
	Host  string `mapstructure:"host"`
	Port  int    `mapstructure:"port"`
	Debug bool   `mapstructure:"debug"`
}

type PostgresSettings struct {
	Host              string        `mapstructure:"host"`
	Port              int           `mapstructure:"port"`
	User              string        `mapstructure:"user"`
	Password          string        `mapstructure:"password"`
	Database          string        `mapstructure:"database"`
	SSLMode           string        `mapstructure:"ssl_mode"`
	MaxConns          int32         `mapstructure:"max_conns"`
	MinConns          int32         `mapstructure:"min_conns"`
	MaxConnLifetime   time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime   time.Duration `mapstructure:"max_conn_idle_time"`
	HealthCheckPeriod time.Duration `mapstructure:"health_check_period"`
}

// RedisSettings configures Redis connection and TLS
type RedisSettings struct {
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	DB              int    `mapstructure:"db"`
	Password        string `mapstructure:"password"`
	TLSEnabled      bool   `mapstructure:"tls_enabled"`
	RateLimitPrefix string `mapstructure:"rate_limit_prefix"`
}

// KafkaSettings configures Kafka producer
type KafkaSettings struct {
	Brokers     []string `mapstructure:"brokers"`
	TopicPrefix string   `mapstructure:"topic_prefix"`
	Async       bool     `mapstructure:"async"`
	Enabled     bool     `mapstructure:"enabled"`
}

type TelemetrySettings struct {
	OTLPEndpoint string  `mapstructure:"otlp_endpoint"`
	ServiceName  string  `mapstructure:"service_name"`
	SamplingRate float64 `mapstructure:"sampling_rate"`
	Environment  string  `mapstructure:"environment"`
}

// RateLimitSettings configures the per-IP fixed window.
type RateLimitSettings struct {
	Enabled     bool          `mapstructure:"enabled"`
	Window      time.Duration `mapstructure:"window"`
	MaxRequests int           `mapstructure:"max_requests"`
}

// TrackingSettings drives request classification and the tracking cookies.
type TrackingSettings struct {
	IgnoredPrefixes     []string      `mapstructure:"ignored_prefixes"`
	APIPrefixes         []string      `mapstructure:"api_prefixes"`
	AuthPrefixes        []string      `mapstructure:"auth_prefixes"`
	VisitorCookieName   string        `mapstructure:"visitor_cookie_name"`
	VisitorCookieMaxAge time.Duration `mapstructure:"visitor_cookie_max_age"`
	SessionCookieName   string        `mapstructure:"session_cookie_name"`
	SessionCookieMaxAge time.Duration `mapstructure:"session_cookie_max_age"`
}

// GeoIPSettings configures the IP geolocation providers and their cache.
type GeoIPSettings struct {
	Enabled     bool          `mapstructure:"enabled"`
	Timeout     time.Duration `mapstructure:"timeout"`
	CacheSize   int           `mapstructure:"cache_size"`
	CacheTTL    time.Duration `mapstructure:"cache_ttl"`
	IPAPIURL    string        `mapstructure:"ip_api_url"`
	IPAPICoURL  string        `mapstructure:"ipapi_co_url"`
	FallbackURL string        `mapstructure:"fallback_url"`
}

type BotDetectionSettings struct {
	Enabled            bool     `mapstructure:"enabled"`
	UserAgents         []string `mapstructure:"user_agents"`
	SuspiciousPatterns []string `mapstructure:"suspicious_patterns"`
}

type AuthSettings struct {
	JWTSecret  string `mapstructure:"jwt_secret"`
	CookieName string `mapstructure:"cookie_name"`
}

type CORSSettings struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

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
		"app.debug",
		"postgres.host",
		"postgres.port",
		"postgres.user",
		"postgres.password",
		"postgres.database",
		"postgres.ssl_mode",
		"postgres.max_conns",
		"postgres.min_conns",
		"postgres.max_conn_lifetime",
		"postgres.max_conn_idle_time",
		"postgres.health_check_period",
		"redis.host",
		"redis.port",
		"redis.db",
		"redis.password",
		"redis.tls_enabled",
		"redis.rate_limit_prefix",
		"kafka.brokers",
		"kafka.topic_prefix",
		"kafka.async",
		"kafka.enabled",
		"telemetry.otlp_endpoint",
		"telemetry.service_name",
		"telemetry.sampling_rate",
		"telemetry.environment",
		"rate_limit.enabled",
		"rate_limit.window",
		"rate_limit.max_requests",
		"tracking.ignored_prefixes",
		"tracking.api_prefixes",
		"tracking.auth_prefixes",
		"tracking.visitor_cookie_name",
		"tracking.visitor_cookie_max_age",
		"tracking.session_cookie_name",
		"tracking.session_cookie_max_age",
		"geoip.enabled",
		"geoip.timeout",
		"geoip.cache_size",
		"geoip.cache_ttl",
		"geoip.ip_api_url",
		"geoip.ipapi_co_url",
		"geoip.fallback_url",
		"bot_detection.enabled",
		"bot_detection.user_agents",
		"bot_detection.suspicious_patterns",
		"auth.jwt_secret",
		"auth.cookie_name",
		"cors.allowed_origins",
	}); err != nil {
		return nil, err
	}

	v.AutomaticEnv()

	var cfg AppConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "visitor-tracking")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.host", "0.0.0.0")
	v.SetDefault("app.port", 8080)
	v.SetDefault("app.debug", false)

	v.SetDefault("postgres.host", "localhost")
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.user", "tracking")
	v.SetDefault("postgres.password", "tracking_password")
	v.SetDefault("postgres.database", "tickets")
	v.SetDefault("postgres.ssl_mode", "disable")
	v.SetDefault("postgres.max_conns", 10)
	v.SetDefault("postgres.min_conns", 2)
	v.SetDefault("postgres.max_conn_lifetime", "60m")
	v.SetDefault("postgres.max_conn_idle_time", "15m")
	v.SetDefault("postgres.health_check_period", "30s")

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.tls_enabled", false)
	v.SetDefault("redis.rate_limit_prefix", "tracking:rate_limit")

	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic_prefix", "tracking")
	v.SetDefault("kafka.async", true)
	v.SetDefault("kafka.enabled", true)

	v.SetDefault("telemetry.otlp_endpoint", "http://localhost:4318")
	v.SetDefault("telemetry.service_name", "visitor-tracking")
	v.SetDefault("telemetry.sampling_rate", 1.0)
	v.SetDefault("telemetry.environment", "development")

	v.SetDefault("rate_limit.enabled", true)
	v.SetDefault("rate_limit.window", "1h")
	v.SetDefault("rate_limit.max_requests", 500)

	v.SetDefault("tracking.ignored_prefixes", []string{"/static/", "/media/", "/healthz", "/readyz", "/metrics"})
	v.SetDefault("tracking.api_prefixes", []string{"/api/"})
	v.SetDefault("tracking.auth_prefixes", []string{"/user/login", "/user/register", "/user/logout", "/accounts/"})
	v.SetDefault("tracking.visitor_cookie_name", "gov_visitor_id")
	v.SetDefault("tracking.visitor_cookie_max_age", "8760h")
	v.SetDefault("tracking.session_cookie_name", "sessionid")
	v.SetDefault("tracking.session_cookie_max_age", "336h")

	v.SetDefault("geoip.enabled", true)
	v.SetDefault("geoip.timeout", "3s")
	v.SetDefault("geoip.cache_size", 512)
	v.SetDefault("geoip.cache_ttl", "24h")
	v.SetDefault("geoip.ip_api_url", "http://ip-api.com/json")
	v.SetDefault("geoip.ipapi_co_url", "https://ipapi.co")
	v.SetDefault("geoip.fallback_url", "http://ip-api.com/json")

	v.SetDefault("bot_detection.enabled", true)
	v.SetDefault("bot_detection.user_agents", []string{"bot", "crawler", "spider", "scraper", "headless"})
	v.SetDefault("bot_detection.suspicious_patterns", []string{"wp-admin", "wp-login", ".env", "phpmyadmin", "<script", "union select", "/etc/passwd"})

	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.cookie_name", "access_token")

	v.SetDefault("cors.allowed_origins", []string{"http://localhost:3000"})
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
