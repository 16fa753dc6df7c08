// Package config provides configuration management for Aegis.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Environment represents the deployment environment.
type Environment string

const (
	// EnvDevelopment is the default local development environment.
	EnvDevelopment Environment = "development"
	// EnvStaging is the staging/pre-production environment.
	EnvStaging Environment = "staging"
	// EnvProduction is the production environment.
	EnvProduction Environment = "production"
)

// DefaultExportAsyncThreshold is the estimated row count above which exports run asynchronously.
const DefaultExportAsyncThreshold = 250000

// ProxyConfig routes outbound HTTP calls (LLM, playbook webhooks) through a proxy.
type ProxyConfig struct {
	HTTPProxy   string
	HTTPSProxy  string
	NoProxy     string
	SOCKS5Proxy string
}

// HasProxy reports whether any proxy is configured.
func (p *ProxyConfig) HasProxy() bool {
	return p != nil && (p.HTTPProxy != "" || p.HTTPSProxy != "" || p.SOCKS5Proxy != "")
}

// ServerConfig holds server-level configuration loaded from environment variables.
type ServerConfig struct {
	Environment Environment
	DatabaseURL string
	ListenAddr  string

	JWTSecret string
	JWTIssuer string

	AllowedOrigins    []string
	RateLimitRequests int64
	RateLimitPeriod   string
	RedisURL          string

	AMQPURL string

	OpenAIAPIKey         string
	OpenAIModel          string
	LLMRequestsPerMinute int

	S3Bucket          string
	S3Region          string
	S3Endpoint        string
	S3AccessKeyID     string
	S3SecretAccessKey string

	ExportAsyncThreshold int64
	SchedulerEnabled     bool
	DetectionInterval    time.Duration
	CorrelationWindow    time.Duration
	TracingEnabled       bool

	OutboundProxy ProxyConfig
}

// LoadServerConfig reads server configuration from environment variables.
func LoadServerConfig() ServerConfig {
	env := Environment(os.Getenv("ENV"))
	switch env {
	case EnvDevelopment, EnvStaging, EnvProduction:
		// valid
	default:
		env = EnvDevelopment
	}

	listenAddr := os.Getenv("LISTEN_ADDR")
	if listenAddr == "" {
		listenAddr = ":" + getEnvString("PORT", "8080")
	}

	var origins []string
	for _, o := range strings.Split(os.Getenv("CORS_ORIGINS"), ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}

	rateLimitRequests := int64(getEnvInt("RATE_LIMIT_REQUESTS", 100))
	if rateLimitRequests <= 0 {
		rateLimitRequests = 100
	}

	threshold := int64(getEnvInt("EXPORT_ASYNC_THRESHOLD", DefaultExportAsyncThreshold))
	if threshold <= 0 {
		threshold = DefaultExportAsyncThreshold
	}

	llmRPM := getEnvInt("LLM_REQUESTS_PER_MINUTE", 30)
	if llmRPM <= 0 {
		llmRPM = 30
	}

	return ServerConfig{
		Environment:          env,
		DatabaseURL:          os.Getenv("DATABASE_URL"),
		ListenAddr:           listenAddr,
		JWTSecret:            os.Getenv("JWT_SECRET"),
		JWTIssuer:            os.Getenv("JWT_ISSUER"),
		AllowedOrigins:       origins,
		RateLimitRequests:    rateLimitRequests,
		RateLimitPeriod:      getEnvString("RATE_LIMIT_PERIOD", "1m"),
		RedisURL:             os.Getenv("REDIS_URL"),
		AMQPURL:              os.Getenv("AMQP_URL"),
		OpenAIAPIKey:         os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:          getEnvString("OPENAI_MODEL", "gpt-4o-mini"),
		LLMRequestsPerMinute: llmRPM,
		S3Bucket:             os.Getenv("S3_BUCKET"),
		S3Region:             getEnvString("S3_REGION", "us-east-1"),
		S3Endpoint:           os.Getenv("S3_ENDPOINT"),
		S3AccessKeyID:        os.Getenv("S3_ACCESS_KEY_ID"),
		S3SecretAccessKey:    os.Getenv("S3_SECRET_ACCESS_KEY"),
		ExportAsyncThreshold: threshold,
		SchedulerEnabled:     getEnvBool("SCHEDULER_ENABLED", true),
		DetectionInterval:    getEnvDuration("DETECTION_INTERVAL", 5*time.Minute),
		CorrelationWindow:    getEnvDuration("CORRELATION_WINDOW", 15*time.Minute),
		TracingEnabled:       getEnvBool("OTEL_TRACING", false),
		OutboundProxy: ProxyConfig{
			HTTPProxy:   os.Getenv("OUTBOUND_HTTP_PROXY"),
			HTTPSProxy:  os.Getenv("OUTBOUND_HTTPS_PROXY"),
			NoProxy:     os.Getenv("OUTBOUND_NO_PROXY"),
			SOCKS5Proxy: os.Getenv("OUTBOUND_SOCKS5_PROXY"),
		},
	}
}

func getEnvString(key, defaultVal string) string {
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		return val
	}
	return defaultVal
}

// getEnvBool reads a boolean from an environment variable, returning the default if unset or invalid.
func getEnvBool(key string, defaultVal bool) bool {
	val := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	switch val {
	case "true", "1", "yes":
		return true
	case "false", "0", "no":
		return false
	default:
		return defaultVal
	}
}

// getEnvInt reads an integer from an environment variable, returning the default if unset or invalid.
func getEnvInt(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return n
}

// getEnvDuration reads a positive duration, returning the default if unset or invalid.
func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(val)
	if err != nil || d <= 0 {
		return defaultVal
	}
	return d
}
