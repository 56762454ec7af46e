package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	HTTPAddr string

	DBDriver string
	DBDSN    string

	AuthSecret string

	// PassThreshold is the system-wide default pass percentage; an exam can
	// carry its own override.
	PassThreshold float64

	// ShuffleQuestions randomizes question and choice order per attempt.
	ShuffleQuestions bool

	// SweepInterval enables the background expiry sweep when > 0. Lazy expiry
	// on request paths works regardless.
	SweepInterval time.Duration

	CORSOrigins []string

	// AssetDir is the filesystem root for question images.
	AssetDir string

	AdminUser     string
	AdminPassHash string // bcrypt
}

func FromEnv() Config {
	addr := os.Getenv("HTTP_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	return Config{
		HTTPAddr:         addr,
		DBDriver:         envOr("DB_DRIVER", "sqlite"),
		DBDSN:            envOr("DB_DSN", ""),
		AuthSecret:       envOr("AUTH_HMAC_SECRET", "supersecret-dev-key"),
		PassThreshold:    envFloat("PASS_THRESHOLD", 70),
		ShuffleQuestions: envBool("SHUFFLE_QUESTIONS", false),
		SweepInterval:    envDuration("SWEEP_INTERVAL", 0),
		CORSOrigins:      csvOr("CORS_ORIGINS", "http://localhost:3000"),
		AssetDir:         envOr("ASSET_DIR", "./assets"),
		AdminUser:        envOr("ADMIN_USER", "admin"),
		AdminPassHash:    envOr("ADMIN_PASS_HASH", ""),
	}
}

func envOr(k, def string) string {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	return v
}

func envBool(k string, def bool) bool {
	switch os.Getenv(k) {
	case "1", "true", "TRUE", "yes", "YES":
		return true
	case "0", "false", "FALSE", "no", "NO":
		return false
	default:
		return def
	}
}

func envFloat(k string, def float64) float64 {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func envDuration(k string, def time.Duration) time.Duration {
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

func csvOr(k, def string) []string {
	v := envOr(k, def)
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
