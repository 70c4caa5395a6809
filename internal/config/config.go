package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config carries everything the service needs at startup. Connection strings
// are opaque here; each backend validates its own on first use.
type Config struct {
	Addr     string
	DemoMode bool

	DatabaseURL string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	SQSRegion   string
	SQSEndpoint string
	QueuePrefix string

	KafkaBrokers    []string
	KafkaAuditTopic string

	AuditBucket string
	AuditPrefix string

	JWTSecret  string
	SessionTTL time.Duration
}

const (
	defaultAddr       = ":8070"
	defaultSessionTTL = time.Hour
	defaultAuditTopic = "cloudidp.audit-events"
)

func Load() (Config, error) {
	cfg := Config{
		Addr:            getEnv("CLOUDIDP_ADDR", defaultAddr),
		DemoMode:        getBool("CLOUDIDP_DEMO_MODE", true),
		DatabaseURL:     firstNonEmpty(os.Getenv("CLOUDIDP_DATABASE_URL"), os.Getenv("DATABASE_URL")),
		RedisAddr:       os.Getenv("CLOUDIDP_REDIS_ADDR"),
		RedisPassword:   os.Getenv("CLOUDIDP_REDIS_PASSWORD"),
		RedisDB:         getInt("CLOUDIDP_REDIS_DB", 0),
		SQSRegion:       getEnv("CLOUDIDP_SQS_REGION", getEnv("AWS_REGION", "us-east-1")),
		SQSEndpoint:     os.Getenv("CLOUDIDP_SQS_ENDPOINT"),
		QueuePrefix:     getEnv("CLOUDIDP_QUEUE_PREFIX", "cloudidp"),
		KafkaBrokers:    splitList(os.Getenv("CLOUDIDP_KAFKA_BROKERS")),
		KafkaAuditTopic: getEnv("CLOUDIDP_KAFKA_AUDIT_TOPIC", defaultAuditTopic),
		AuditBucket:     os.Getenv("CLOUDIDP_AUDIT_BUCKET"),
		AuditPrefix:     getEnv("CLOUDIDP_AUDIT_PREFIX", "cloudidp"),
		JWTSecret:       os.Getenv("CLOUDIDP_JWT_SECRET"),
		SessionTTL:      getDuration("CLOUDIDP_SESSION_TTL", defaultSessionTTL),
	}

	if !cfg.DemoMode {
		if cfg.DatabaseURL == "" {
			return Config{}, fmt.Errorf("DATABASE_URL or CLOUDIDP_DATABASE_URL required outside demo mode")
		}
		if cfg.RedisAddr == "" {
			return Config{}, fmt.Errorf("CLOUDIDP_REDIS_ADDR required outside demo mode")
		}
	}
	if cfg.JWTSecret == "" {
		if !cfg.DemoMode {
			return Config{}, fmt.Errorf("CLOUDIDP_JWT_SECRET required outside demo mode")
		}
		cfg.JWTSecret = "cloudidp-demo-secret"
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func getBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func splitList(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
