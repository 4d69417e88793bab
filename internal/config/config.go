package config

import (
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	HTTPAddr    string
	ServiceName string
	Env         string

	// Empty GatewayURL selects the in-process simulated gateway.
	GatewayURL     string
	GatewayTimeout time.Duration

	// Empty PostgresDSN / RedisAddr / KafkaBrokers select the in-memory
	// equivalents, which is how tests and local runs operate.
	PostgresDSN  string
	RedisAddr    string
	KafkaBrokers []string
	KafkaTopic   string

	HoldWindow    time.Duration
	SweepInterval time.Duration
	AttemptTTL    time.Duration
}

// Load reads configuration from the environment, after loading .env if one
// exists in the working directory.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		HTTPAddr:       getenv("HTTP_ADDR", ":8080"),
		ServiceName:    getenv("SERVICE_NAME", "checkout-core"),
		Env:            getenv("ENV", "dev"),
		GatewayURL:     os.Getenv("GATEWAY_URL"),
		GatewayTimeout: getduration("GATEWAY_TIMEOUT", 10*time.Second),
		PostgresDSN:    os.Getenv("POSTGRES_DSN"),
		RedisAddr:      os.Getenv("REDIS_ADDR"),
		KafkaBrokers:   splitCSV(os.Getenv("KAFKA_BROKERS")),
		KafkaTopic:     getenv("KAFKA_TOPIC", "checkout.events"),
		HoldWindow:     getduration("HOLD_WINDOW", 15*time.Minute),
		SweepInterval:  getduration("SWEEP_INTERVAL", time.Minute),
		AttemptTTL:     getduration("ATTEMPT_TTL", 24*time.Hour),
	}
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getduration(k string, def time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}
