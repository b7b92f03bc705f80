package confs

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const devJWTSecret = "qubix-dev-secret-change-me"

// Config holds runtime settings sourced from the environment.
type Config struct {
	Port        string `env:"PORT" envDefault:"3005"`
	Environment string `env:"NODE_ENV" envDefault:"development"`
	FrontendURL string `env:"FRONTEND_URL" envDefault:"https://qubix.io"`
	FrontendDir string `env:"FRONTEND_DIST" envDefault:"frontend/dist"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	DBURL      string `env:"DB_URL"`
	DBHost     string `env:"DB_HOST"`
	DBPort     string `env:"DB_PORT"`
	DBUser     string `env:"DB_USER"`
	DBPassword string `env:"DB_PASSWORD"`
	DBName     string `env:"DB_NAME"`

	JWTSecret string        `env:"JWT_SECRET"`
	JWTTTL    time.Duration `env:"JWT_TTL" envDefault:"24h"`

	QubicNetwork         string `env:"QUBIC_NETWORK" envDefault:"testnet"`
	QubicRPCURL          string `env:"QUBIC_RPC_URL"`
	QubicPlatformAddress string `env:"QUBIC_PLATFORM_ADDRESS"`
	QubicPlatformSeed    string `env:"QUBIC_PLATFORM_SEED"`

	HeartbeatTimeout  time.Duration `env:"HEARTBEAT_TIMEOUT" envDefault:"60s"`
	HeartbeatInterval time.Duration `env:"HEARTBEAT_INTERVAL" envDefault:"15s"`
	EarningsInterval  time.Duration `env:"EARNINGS_INTERVAL" envDefault:"5s"`
	HealthInterval    time.Duration `env:"HEALTH_INTERVAL" envDefault:"30s"`
	DispatchInterval  time.Duration `env:"DISPATCH_INTERVAL" envDefault:"2s"`

	RateLimitRPS   float64 `env:"RATE_LIMIT_RPS" envDefault:"10"`
	RateLimitBurst int     `env:"RATE_LIMIT_BURST" envDefault:"30"`

	// Proxies whose X-Forwarded-For is honoured when resolving client IPs. Empty trusts none.
	TrustedProxies []string `env:"TRUSTED_PROXIES" envSeparator:","`

	PlatformFeePercent float64 `env:"PLATFORM_FEE_PERCENT" envDefault:"10"`
	InitialBalance     float64 `env:"INITIAL_BALANCE" envDefault:"1000"`

	OTELEndpoint string `env:"OTEL_ENDPOINT"`
}

// LoadConfig loads environment variables from a .env file if present
// and parses them into a Config.
func LoadConfig() (*Config, error) {
	// Load .env if it exists; ignore error if file not found
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			log.Printf("warning: could not load .env: %v", err)
		}
	}
	return Parse()
}

// Parse reads the Config from the current environment and validates it.
func Parse() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if cfg.QubicRPCURL == "" {
		cfg.QubicRPCURL = RPCURLForNetwork(cfg.QubicNetwork)
	}
	if cfg.JWTSecret == "" {
		if cfg.IsProduction() {
			return nil, errors.New("JWT_SECRET is required in production")
		}
		cfg.JWTSecret = devJWTSecret
	}
	if cfg.PlatformFeePercent < 0 || cfg.PlatformFeePercent > 100 {
		return nil, fmt.Errorf("PLATFORM_FEE_PERCENT must be within 0..100, got %v", cfg.PlatformFeePercent)
	}
	return cfg, nil
}

// RPCURLForNetwork maps a Qubic network name to its public RPC endpoint.
func RPCURLForNetwork(network string) string {
	if strings.EqualFold(network, "mainnet") {
		return "https://rpc.qubic.org"
	}
	return "https://testnet-rpc.qubic.org"
}

func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}

// UsesDevSecret reports whether tokens are signed with the built-in development key.
func (c *Config) UsesDevSecret() bool {
	return c.JWTSecret == devJWTSecret
}

// Addr returns the host:port pair for the HTTP server to bind to.
func (c *Config) Addr() string {
	return "0.0.0.0:" + c.Port
}

// CORSOrigins returns the browser origins allowed to call the API.
func (c *Config) CORSOrigins() []string {
	if c.IsProduction() {
		return []string{c.FrontendURL}
	}
	return []string{"http://localhost:3000", "http://127.0.0.1:3000", "http://localhost:5173"}
}

// HasDatabase reports whether any database settings were provided.
func (c *Config) HasDatabase() bool {
	return c.DBURL != "" || c.DBHost != ""
}
