// Package config loads service configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
)

// Config holds all service configuration.
type Config struct {
	// Server
	Port      string
	Env       string // development, staging, production
	LogLevel  string
	LogFormat string // text or json

	// PostgreSQL connection string. Empty selects in-memory stores.
	DatabaseURL string

	// Escrow roles. Fixed for the life of the process.
	RegistryAddr  string // identity of the deed registry
	EscrowAddr    string // custody identity of the escrow ledger itself
	SellerAddr    string
	InspectorAddr string
	LenderAddr    string

	// Security
	AdminSecret  string // guards the account funding endpoint
	RateLimitRPS int
	CORSOrigins  []string // browser origins allowed to call the API; "*" allows any

	// Tracing
	OTLPEndpoint string
}

const (
	DefaultPort         = "8080"
	DefaultEnv          = "development"
	DefaultLogLevel     = "info"
	DefaultLogFormat    = "json"
	DefaultRateLimitRPS = 100

	// DefaultRegistryAddr and DefaultEscrowAddr are placeholder identities for
	// development setups that do not bind to a deployed registry.
	DefaultRegistryAddr = "0x00000000000000000000000000000000000d3ed5"
	DefaultEscrowAddr   = "0x00000000000000000000000000000000000e5c20"
)

// Load reads configuration from the environment, loading a .env file first
// when one is present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:          getEnv("PORT", DefaultPort),
		Env:           getEnv("ENV", DefaultEnv),
		LogLevel:      getEnv("LOG_LEVEL", DefaultLogLevel),
		LogFormat:     getEnv("LOG_FORMAT", DefaultLogFormat),
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		RegistryAddr:  normalizeAddr(getEnv("REGISTRY_ADDR", DefaultRegistryAddr)),
		EscrowAddr:    normalizeAddr(getEnv("ESCROW_ADDR", DefaultEscrowAddr)),
		SellerAddr:    normalizeAddr(os.Getenv("SELLER_ADDR")),
		InspectorAddr: normalizeAddr(os.Getenv("INSPECTOR_ADDR")),
		LenderAddr:    normalizeAddr(os.Getenv("LENDER_ADDR")),
		AdminSecret:   os.Getenv("ADMIN_SECRET"),
		RateLimitRPS:  getEnvInt("RATE_LIMIT_RPS", DefaultRateLimitRPS),
		CORSOrigins:   getEnvList("CORS_ORIGINS"),
		OTLPEndpoint:  os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that every role address is present, well formed and
// distinct from the others.
func (c *Config) Validate() error {
	roles := []struct {
		env  string
		addr string
	}{
		{"REGISTRY_ADDR", c.RegistryAddr},
		{"ESCROW_ADDR", c.EscrowAddr},
		{"SELLER_ADDR", c.SellerAddr},
		{"INSPECTOR_ADDR", c.InspectorAddr},
		{"LENDER_ADDR", c.LenderAddr},
	}

	seen := make(map[string]string, len(roles))
	for _, r := range roles {
		if r.addr == "" {
			return fmt.Errorf("%s is required", r.env)
		}
		if !common.IsHexAddress(r.addr) {
			return fmt.Errorf("%s must be a 0x-prefixed 20-byte hex address", r.env)
		}
		if other, dup := seen[r.addr]; dup {
			return fmt.Errorf("%s must differ from %s", r.env, other)
		}
		seen[r.addr] = r.env
	}

	if c.IsProduction() && c.AdminSecret == "" {
		return fmt.Errorf("ADMIN_SECRET is required in production")
	}
	return nil
}

// IsDevelopment reports whether ENV is development.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction reports whether ENV is production.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

func normalizeAddr(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

// getEnvList splits a comma separated variable, dropping empty items.
func getEnvList(key string) []string {
	var out []string
	for _, item := range strings.Split(os.Getenv(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
