/*
Package config loads server configuration.

PRECEDENCE (lowest to highest):
  1. Built-in defaults
  2. .env file in the working directory (optional)
  3. Process environment
  4. Command-line flags

ENVIRONMENT:
  PORT                        HTTP port (8080)
  DB_DRIVER                   memory | sqlite | postgres (sqlite)
  DB_PATH                     SQLite file, ":memory:" allowed (ledger.db)
  DATABASE_URL                PostgreSQL connection string
  LOG_LEVEL                   debug | info | warn | error (info)
  JWT_SECRET                  HMAC secret; empty trusts X-Actor-* headers
  RECEIPT_PREFIX              Receipt number prefix (RCT-)
  REGISTRATION_CUTOFF_YEAR    First academic year billed a registration fee (2025)
  MAX_RETRIES                 Retries on concurrency conflicts (3)
  LEGACY_UNLINKED_CLASS_FEES  Record unpinned Class Fees unlinked (false)
*/
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/warp/tuition-ledger/ledger"
)

const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

type Config struct {
	Port        int
	DBDriver    string
	DBPath      string
	DatabaseURL string
	LogLevel    string
	Dev         bool

	JWTSecret string

	ReceiptPrefix           string
	RegistrationCutoffYear  int
	MaxRetries              int
	LegacyUnlinkedClassFees bool
}

func Default() Config {
	return Config{
		Port:                   8080,
		DBDriver:               DriverSQLite,
		DBPath:                 "ledger.db",
		LogLevel:               "info",
		ReceiptPrefix:          ledger.DefaultReceiptPrefix,
		RegistrationCutoffYear: 2025,
		MaxRetries:             3,
	}
}

// Load builds the configuration from defaults, .env, the environment and
// args (normally os.Args[1:]).
func Load(args []string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("failed to read .env: %w", err)
	}

	cfg := Default()
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}

	fs := flag.NewFlagSet("server", flag.ContinueOnError)
	fs.IntVar(&cfg.Port, "port", cfg.Port, "HTTP server port")
	fs.StringVar(&cfg.DBDriver, "driver", cfg.DBDriver, "storage driver: memory, sqlite or postgres")
	fs.StringVar(&cfg.DBPath, "db", cfg.DBPath, "SQLite database path")
	fs.StringVar(&cfg.DatabaseURL, "database-url", cfg.DatabaseURL, "PostgreSQL connection string")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level")
	fs.BoolVar(&cfg.Dev, "dev", cfg.Dev, "human-readable development logging")
	fs.StringVar(&cfg.ReceiptPrefix, "receipt-prefix", cfg.ReceiptPrefix, "receipt number prefix")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	return cfg, cfg.Validate()
}

type lookupFunc func(string) (string, bool)

func (c *Config) applyEnv(lookup lookupFunc) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	integer := func(key string, dst *int) error {
		v, ok := lookup(key)
		if !ok || v == "" {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s=%q: not an integer", key, v)
		}
		*dst = n
		return nil
	}

	str("DB_DRIVER", &c.DBDriver)
	str("DB_PATH", &c.DBPath)
	str("DATABASE_URL", &c.DatabaseURL)
	str("LOG_LEVEL", &c.LogLevel)
	str("JWT_SECRET", &c.JWTSecret)
	str("RECEIPT_PREFIX", &c.ReceiptPrefix)

	if err := integer("PORT", &c.Port); err != nil {
		return err
	}
	if err := integer("REGISTRATION_CUTOFF_YEAR", &c.RegistrationCutoffYear); err != nil {
		return err
	}
	if err := integer("MAX_RETRIES", &c.MaxRetries); err != nil {
		return err
	}
	if v, ok := lookup("LEGACY_UNLINKED_CLASS_FEES"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("LEGACY_UNLINKED_CLASS_FEES=%q: not a boolean", v)
		}
		c.LegacyUnlinkedClassFees = b
	}
	return nil
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	switch c.DBDriver {
	case DriverMemory, DriverSQLite:
	case DriverPostgres:
		if c.DatabaseURL == "" {
			return errors.New("DATABASE_URL is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unknown DB_DRIVER %q", c.DBDriver)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("MAX_RETRIES must not be negative")
	}
	if strings.TrimSpace(c.ReceiptPrefix) == "" {
		return errors.New("RECEIPT_PREFIX must not be empty")
	}
	if _, err := zapcore.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid LOG_LEVEL: %w", err)
	}
	return nil
}

// Logger builds the process logger.
func (c Config) Logger() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(c.LogLevel)
	if err != nil {
		return nil, err
	}
	zc := zap.NewProductionConfig()
	if c.Dev {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}

// LedgerOptions turns the ledger-related settings into facade options.
func (c Config) LedgerOptions() []ledger.Option {
	return []ledger.Option{
		ledger.WithReceiptPrefix(c.ReceiptPrefix),
		ledger.WithMaxRetries(c.MaxRetries),
		ledger.WithLegacyUnlinkedClassFees(c.LegacyUnlinkedClassFees),
	}
}
