package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all environment-derived configuration values. Site topology
// (databases, equipment mapping, activation) lives in the YAML documents
// loaded by LoadSiteDocument, not here.
type Config struct {
	// Poll engine
	PollInterval time.Duration
	FetchTimeout time.Duration

	// Site configuration document
	SitesConfigPath     string
	SitesReloadInterval time.Duration

	// HTTP / websocket
	ListenAddr       string
	WSJWTSecret      string
	KeepAliveTimeout time.Duration

	// Postgres TLS (optional, shared CA across sites)
	DBCACert string

	// Kafka delta mirror (optional)
	KafkaBrokers []string
	KafkaTopic   string
	KafkaCACert  string
	KafkaCert    string // optional client cert
	KafkaKey     string // optional client key
}

func LoadConfig() *Config {
	// Load .env if exists
	_ = godotenv.Load() // ignore error, fallback to env vars

	cfg := &Config{
		PollInterval:        envDuration("POLL_INTERVAL", 10*time.Second),
		FetchTimeout:        envDuration("FETCH_TIMEOUT", 5*time.Second),
		SitesConfigPath:     envDefault("SITES_CONFIG", "config/sites.yaml"),
		SitesReloadInterval: envDuration("SITES_RELOAD_INTERVAL", 30*time.Second),
		ListenAddr:          envDefault("LISTEN_ADDR", ":8080"),
		WSJWTSecret:         os.Getenv("WS_JWT_SECRET"),
		KeepAliveTimeout:    envDuration("KEEPALIVE_TIMEOUT", 60*time.Second),
		DBCACert:            os.Getenv("DB_CA_CERT"),
		KafkaTopic:          os.Getenv("KAFKA_TOPIC"),
		KafkaCACert:         os.Getenv("KAFKA_CA_CERT"),
		KafkaCert:           os.Getenv("KAFKA_CLIENT_CERT"),
		KafkaKey:            os.Getenv("KAFKA_CLIENT_KEY"),
	}

	if brokers := os.Getenv("KAFKA_BROKER"); brokers != "" {
		cfg.KafkaBrokers = strings.Split(brokers, ",")
	}

	return cfg
}

// MirrorEnabled reports whether the Kafka delta mirror is configured.
func (c *Config) MirrorEnabled() bool {
	return len(c.KafkaBrokers) > 0 && c.KafkaTopic != ""
}

func envDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	// plain integer means seconds
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second
	}
	return fallback
}
