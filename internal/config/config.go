// Package config handles configuration loading and validation.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/params"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/jeongkyun-oh/arbitrum-load-test/internal/account"
)

// Validation errors.
var (
	ErrInvalidRPCURL         = errors.New("invalid RPC URL")
	ErrInvalidPrivateKey     = errors.New("invalid private key")
	ErrInvalidLogLevel       = errors.New("invalid log level")
	ErrInvalidLogFormat      = errors.New("invalid log format")
	ErrInvalidConfirmTimeout = errors.New("confirm timeout must be positive")
	ErrInvalidRPCRate        = errors.New("rpc rate cannot be negative")
	ErrInvalidAmount         = errors.New("invalid ether amount")
)

// Config holds settings shared by every command.
type Config struct {
	RPCURL             string
	PrivateKey         string
	LogLevel           string // debug, info, warn, error
	LogFormat          string // json or text
	OutDir             string // directory for results files
	DatabasePath       string // SQLite history database; empty disables history
	ListenAddr         string // metrics/progress server; empty disables it
	CORSAllowedOrigins string
	ConfirmTimeout     time.Duration
	RPCRequestsPerSec  float64 // 0 = unlimited
	UseLegacyTx        bool
	ShowProgress       bool
}

// Defaults
const (
	DefaultRPCURL             = "http://127.0.0.1:8547"
	DefaultLogLevel           = "info"
	DefaultLogFormat          = "json"
	DefaultOutDir             = "."
	DefaultCORSAllowedOrigins = "*"
	DefaultConfirmTimeout     = 2 * time.Minute
	DefaultEnvFile            = ".env"
)

// Defaults returns a Config populated with default values.
func Defaults() *Config {
	return &Config{
		RPCURL:             DefaultRPCURL,
		PrivateKey:         account.DevPrivateKey,
		LogLevel:           DefaultLogLevel,
		LogFormat:          DefaultLogFormat,
		OutDir:             DefaultOutDir,
		CORSAllowedOrigins: DefaultCORSAllowedOrigins,
		ConfirmTimeout:     DefaultConfirmTimeout,
		ShowProgress:       true,
	}
}

// Load returns the defaults overlaid with envFile (if it exists) and then the
// process environment. Variables already set in the environment win over the
// file. Flags bound with BindFlags are applied on top by the caller.
func Load(envFile string) (*Config, error) {
	if err := loadDotEnv(envFile); err != nil {
		return nil, fmt.Errorf("load %s: %w", envFile, err)
	}

	cfg := Defaults()
	if v := os.Getenv("RPC_URL"); v != "" {
		cfg.RPCURL = v
	}
	if v := os.Getenv("PRIVATE_KEY"); v != "" {
		cfg.PrivateKey = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}
	if v := os.Getenv("OUT_DIR"); v != "" {
		cfg.OutDir = v
	}
	if v := os.Getenv("DATABASE_PATH"); v != "" {
		cfg.DatabasePath = v
	}
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("CORS_ALLOWED_ORIGINS"); v != "" {
		cfg.CORSAllowedOrigins = v
	}
	if v := os.Getenv("CONFIRM_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("CONFIRM_TIMEOUT: %w", err)
		}
		cfg.ConfirmTimeout = d
	}
	if v := os.Getenv("RPC_RPS"); v != "" {
		rps, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("RPC_RPS: %w", err)
		}
		cfg.RPCRequestsPerSec = rps
	}
	if v := os.Getenv("USE_LEGACY_TX"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("USE_LEGACY_TX: %w", err)
		}
		cfg.UseLegacyTx = b
	}
	if v := os.Getenv("SHOW_PROGRESS"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("SHOW_PROGRESS: %w", err)
		}
		cfg.ShowProgress = b
	}

	return cfg, nil
}

func loadDotEnv(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return godotenv.Load(path)
}

// BindFlags registers the shared flags on fs, using the current values as
// defaults.
func (c *Config) BindFlags(fs *pflag.FlagSet) {
	fs.StringVar(&c.RPCURL, "rpc", c.RPCURL, "JSON-RPC endpoint of the node under test")
	fs.StringVar(&c.PrivateKey, "private-key", c.PrivateKey, "hex private key of the funded sender")
	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "log level (debug, info, warn, error)")
	fs.StringVar(&c.LogFormat, "log-format", c.LogFormat, "log format (json, text)")
	fs.StringVar(&c.OutDir, "out-dir", c.OutDir, "directory for the results file")
	fs.StringVar(&c.DatabasePath, "db", c.DatabasePath, "SQLite run history database (empty disables history)")
	fs.StringVar(&c.ListenAddr, "listen", c.ListenAddr, "address for /metrics, /health and /ws (empty disables the server)")
	fs.DurationVar(&c.ConfirmTimeout, "confirm-timeout", c.ConfirmTimeout, "how long to wait for each receipt")
	fs.Float64Var(&c.RPCRequestsPerSec, "rpc-rps", c.RPCRequestsPerSec, "cap on JSON-RPC requests per second (0 = unlimited)")
	fs.BoolVar(&c.UseLegacyTx, "legacy", c.UseLegacyTx, "send legacy (type 0) transactions")
	fs.BoolVar(&c.ShowProgress, "progress", c.ShowProgress, "show a progress bar while submitting")
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	u, err := url.Parse(c.RPCURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: %q", ErrInvalidRPCURL, c.RPCURL)
	}
	if _, err := account.NewAccountFromHex(c.PrivateKey); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPrivateKey, err)
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return err
	}
	switch c.LogFormat {
	case "json", "text":
	default:
		return fmt.Errorf("%w: %q", ErrInvalidLogFormat, c.LogFormat)
	}
	if c.ConfirmTimeout <= 0 {
		return ErrInvalidConfirmTimeout
	}
	if c.RPCRequestsPerSec < 0 {
		return ErrInvalidRPCRate
	}
	return nil
}

// ParseLogLevel maps a level name to a slog.Level.
func ParseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("%w: %q", ErrInvalidLogLevel, s)
	}
}

// Logger builds the structured logger described by the config.
// Unknown levels fall back to info.
func (c *Config) Logger(w io.Writer) *slog.Logger {
	level, _ := ParseLogLevel(c.LogLevel)
	opts := &slog.HandlerOptions{Level: level}
	if c.LogFormat == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

// ParseEther converts a decimal ether amount such as "0.001" to wei.
func ParseEther(s string) (*big.Int, error) {
	r, ok := new(big.Rat).SetString(strings.TrimSpace(s))
	if !ok || r.Sign() < 0 {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	r.Mul(r, new(big.Rat).SetInt64(params.Ether))
	if !r.IsInt() {
		return nil, fmt.Errorf("%w: %q has more than 18 decimals", ErrInvalidAmount, s)
	}
	return new(big.Int).Set(r.Num()), nil
}

// FormatEther renders wei as a decimal ether amount.
func FormatEther(wei *big.Int) string {
	if wei == nil {
		return "0"
	}
	r := new(big.Rat).SetFrac(wei, big.NewInt(params.Ether))
	s := r.FloatString(18)
	s = strings.TrimRight(s, "0")
	return strings.TrimSuffix(s, ".")
}
