// Package config provides application configuration loaded from environment variables.
// Use the package-level Get() function to obtain the singleton Config instance.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

// ──────────────────────────────────────────────────────────────────────────────
// Sub-config structs
// ──────────────────────────────────────────────────────────────────────────────

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port           string        // e.g. "8080"
	Env            string        // "development" | "production"
	ReadTimeout    time.Duration // default 10s
	WriteTimeout   time.Duration // default 10s
	ExternalAPIKey string        // X-API-Key for /api/external routes
}

// RedisConfig holds bet queue connection settings.
type RedisConfig struct {
	URL string // e.g. "redis://localhost:6379"
}

// DBConfig holds PostgreSQL settings for the audit log. An empty DSN
// disables auditing.
type DBConfig struct {
	DSN             string
	MaxOpenConns    int           // default 25
	MaxIdleConns    int           // default 10
	ConnMaxLifetime time.Duration // default 5m
}

// ProcessorConfig holds the bet worker fleet settings.
type ProcessorConfig struct {
	WorkerCount   int           // bet workers, default 10
	BatchInterval time.Duration // claim tick, default 30s
	BatchSize     int           // bets claimed per tick, default 100
	MaxBetsPerTx  int           // chunking bound, default 5
	MaxRetries    int           // bet retry budget, default 5
	KeypairPath   string        // processor keypair file
	MaxStuckTime  time.Duration // reconciler threshold, default 120s
	SweepInterval time.Duration // reconciler cadence, default 60s
	MetricsPort   int           // default 9091
	BackendURL    string        // claim/report endpoint base URL
	BackendAPIKey string
}

// SettlementsConfig holds the external settlements service settings and the
// settlement worker fleet shape.
type SettlementsConfig struct {
	BaseURL            string
	APIKey             string
	WorkerCount        int           // default 4
	CoordinatorEnabled bool          // default true
	PollInterval       time.Duration // default 10s
	BatchSize          int           // total fetch per cycle, default 50
	BatchMinSize       int           // default 3
	BatchMaxSize       int           // default 12
	ChannelCapacity    int           // per-worker batch channel, default 4
}

// SolanaConfig holds RPC and vault program settings.
type SolanaConfig struct {
	RPCURLs        []string // primary plus fallback
	Commitment     string   // default "confirmed"
	VaultProgramID string
	Simulate       bool // no RPC traffic, SIM_ signatures
}

// BetConfig holds stake validation bounds in lamports and the bet retry
// policy shared by the server's requeue script and the reconciler.
type BetConfig struct {
	MinStakeLamports int64
	MaxStakeLamports int64
	MaxRetries       int           // retry budget, default 5
	RetryBackoffBase time.Duration // default 2s
	RetryBackoffMax  time.Duration // default 60s
}

// ──────────────────────────────────────────────────────────────────────────────
// Top-level Config
// ──────────────────────────────────────────────────────────────────────────────

// Config is the root configuration object for the entire application.
type Config struct {
	Server      ServerConfig
	Redis       RedisConfig
	DB          DBConfig
	Processor   ProcessorConfig
	Settlements SettlementsConfig
	Solana      SolanaConfig
	Bet         BetConfig
}

// IsProd returns true when running in the production environment.
func (c *Config) IsProd() bool {
	return c.Server.Env == "production"
}

// Validate checks that all required configuration values are present and valid.
// Returns the first validation error encountered.
func (c *Config) Validate() error {
	var errs []error

	if c.Redis.URL == "" {
		errs = append(errs, errors.New("REDIS_URL must be set"))
	}
	if c.Processor.MaxBetsPerTx < 1 {
		errs = append(errs, fmt.Errorf("PROCESSOR_MAX_BETS_PER_TX must be at least 1, got %d", c.Processor.MaxBetsPerTx))
	}
	if c.Processor.WorkerCount < 1 {
		errs = append(errs, fmt.Errorf("PROCESSOR_WORKER_COUNT must be at least 1, got %d", c.Processor.WorkerCount))
	}
	if c.Settlements.BatchMinSize > c.Settlements.BatchMaxSize {
		errs = append(errs, fmt.Errorf(
			"SETTLEMENT_BATCH_MIN_SIZE (%d) must not exceed SETTLEMENT_BATCH_MAX_SIZE (%d)",
			c.Settlements.BatchMinSize, c.Settlements.BatchMaxSize,
		))
	}
	if c.Bet.MinStakeLamports <= 0 || c.Bet.MaxStakeLamports <= c.Bet.MinStakeLamports {
		errs = append(errs, fmt.Errorf(
			"stake bounds invalid: min=%d max=%d", c.Bet.MinStakeLamports, c.Bet.MaxStakeLamports,
		))
	}
	if c.Bet.RetryBackoffBase > c.Bet.RetryBackoffMax {
		errs = append(errs, fmt.Errorf(
			"BET_RETRY_BACKOFF_BASE_MS (%s) must not exceed BET_RETRY_BACKOFF_MAX_MS (%s)",
			c.Bet.RetryBackoffBase, c.Bet.RetryBackoffMax,
		))
	}

	// Simulation mode needs neither RPC endpoints nor a keypair; a live
	// deployment needs both plus the program id.
	if !c.Solana.Simulate {
		if len(c.Solana.RPCURLs) == 0 {
			errs = append(errs, errors.New("SOLANA_RPC_URL must be set when simulation is off"))
		}
		if c.Solana.VaultProgramID == "" {
			errs = append(errs, errors.New("VAULT_PROGRAM_ID must be set when simulation is off"))
		}
		if c.Processor.KeypairPath == "" {
			errs = append(errs, errors.New("PROCESSOR_KEYPAIR must be set when simulation is off"))
		}
	}

	if c.IsProd() {
		if c.Server.ExternalAPIKey == "" {
			errs = append(errs, errors.New("EXTERNAL_API_KEY must be set in production"))
		}
		if c.Settlements.WorkerCount > 0 && c.Settlements.BaseURL == "" {
			errs = append(errs, errors.New("SETTLEMENTS_API_URL must be set in production"))
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Singleton
// ──────────────────────────────────────────────────────────────────────────────

var (
	instance *Config
	once     sync.Once
	loadErr  error
)

// Get returns the singleton Config, loading it once from environment variables.
// Panics if loading fails; call this early in main() to catch misconfigurations
// at startup.
func Get() *Config {
	once.Do(func() {
		instance, loadErr = load()
	})
	if loadErr != nil {
		panic(fmt.Sprintf("config: failed to load: %v", loadErr))
	}
	return instance
}

// MustLoad loads and validates configuration. Intended for use in main().
// Panics on any error so misconfiguration is caught immediately at boot.
func MustLoad() *Config {
	cfg := Get()
	if err := cfg.Validate(); err != nil {
		panic(fmt.Sprintf("config: validation failed: %v", err))
	}
	return cfg
}

// ──────────────────────────────────────────────────────────────────────────────
// Internal loader
// ──────────────────────────────────────────────────────────────────────────────

func load() (*Config, error) {
	cfg := &Config{}

	// ── Server ────────────────────────────────────────────────────────────────
	cfg.Server = ServerConfig{
		Port:           getEnv("SERVER_PORT", "8080"),
		Env:            getEnv("ENVIRONMENT", "development"),
		ReadTimeout:    getDuration("SERVER_READ_TIMEOUT", 10*time.Second),
		WriteTimeout:   getDuration("SERVER_WRITE_TIMEOUT", 10*time.Second),
		ExternalAPIKey: getEnv("EXTERNAL_API_KEY", ""),
	}

	// ── Redis ─────────────────────────────────────────────────────────────────
	cfg.Redis = RedisConfig{
		URL: getEnv("REDIS_URL", "redis://localhost:6379"),
	}

	// ── Database (audit log) ──────────────────────────────────────────────────
	maxOpen, err := getInt("DB_MAX_OPEN_CONNS", 25)
	if err != nil {
		return nil, fmt.Errorf("DB_MAX_OPEN_CONNS: %w", err)
	}
	maxIdle, err := getInt("DB_MAX_IDLE_CONNS", 10)
	if err != nil {
		return nil, fmt.Errorf("DB_MAX_IDLE_CONNS: %w", err)
	}
	cfg.DB = DBConfig{
		DSN:             getEnv("AUDIT_DB_DSN", ""),
		MaxOpenConns:    maxOpen,
		MaxIdleConns:    maxIdle,
		ConnMaxLifetime: getDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
	}

	// ── Processor ─────────────────────────────────────────────────────────────
	workerCount, err := getInt("PROCESSOR_WORKER_COUNT", 10)
	if err != nil {
		return nil, fmt.Errorf("PROCESSOR_WORKER_COUNT: %w", err)
	}
	batchSize, err := getInt("PROCESSOR_BATCH_SIZE", 100)
	if err != nil {
		return nil, fmt.Errorf("PROCESSOR_BATCH_SIZE: %w", err)
	}
	maxBetsPerTx, err := getInt("PROCESSOR_MAX_BETS_PER_TX", 5)
	if err != nil {
		return nil, fmt.Errorf("PROCESSOR_MAX_BETS_PER_TX: %w", err)
	}
	maxRetries, err := getInt("PROCESSOR_MAX_RETRIES", 5)
	if err != nil {
		return nil, fmt.Errorf("PROCESSOR_MAX_RETRIES: %w", err)
	}
	metricsPort, err := getInt("PROCESSOR_METRICS_PORT", 9091)
	if err != nil {
		return nil, fmt.Errorf("PROCESSOR_METRICS_PORT: %w", err)
	}
	cfg.Processor = ProcessorConfig{
		WorkerCount:   workerCount,
		BatchInterval: getDuration("PROCESSOR_BATCH_INTERVAL", 30*time.Second),
		BatchSize:     batchSize,
		MaxBetsPerTx:  maxBetsPerTx,
		MaxRetries:    maxRetries,
		KeypairPath:   getEnv("PROCESSOR_KEYPAIR", ""),
		MaxStuckTime:  getDuration("PROCESSOR_MAX_STUCK_TIME", 120*time.Second),
		SweepInterval: getDuration("PROCESSOR_SWEEP_INTERVAL", 60*time.Second),
		MetricsPort:   metricsPort,
		BackendURL:    getEnv("BACKEND_URL", "http://localhost:8080"),
		BackendAPIKey: getEnv("BACKEND_API_KEY", getEnv("EXTERNAL_API_KEY", "")),
	}

	// ── Settlements ───────────────────────────────────────────────────────────
	settlementWorkers, err := getInt("SETTLEMENT_WORKER_COUNT", 4)
	if err != nil {
		return nil, fmt.Errorf("SETTLEMENT_WORKER_COUNT: %w", err)
	}
	settlementBatch, err := getInt("SETTLEMENT_BATCH_SIZE", 50)
	if err != nil {
		return nil, fmt.Errorf("SETTLEMENT_BATCH_SIZE: %w", err)
	}
	batchMin, err := getInt("SETTLEMENT_BATCH_MIN_SIZE", 3)
	if err != nil {
		return nil, fmt.Errorf("SETTLEMENT_BATCH_MIN_SIZE: %w", err)
	}
	batchMax, err := getInt("SETTLEMENT_BATCH_MAX_SIZE", 12)
	if err != nil {
		return nil, fmt.Errorf("SETTLEMENT_BATCH_MAX_SIZE: %w", err)
	}
	channelCap, err := getInt("SETTLEMENT_CHANNEL_CAPACITY", 4)
	if err != nil {
		return nil, fmt.Errorf("SETTLEMENT_CHANNEL_CAPACITY: %w", err)
	}
	cfg.Settlements = SettlementsConfig{
		BaseURL:            getEnv("SETTLEMENTS_API_URL", ""),
		APIKey:             getEnv("SETTLEMENTS_API_KEY", ""),
		WorkerCount:        settlementWorkers,
		CoordinatorEnabled: getBool("COORDINATOR_ENABLED", true),
		PollInterval:       getDuration("SETTLEMENT_POLL_INTERVAL", 10*time.Second),
		BatchSize:          settlementBatch,
		BatchMinSize:       batchMin,
		BatchMaxSize:       batchMax,
		ChannelCapacity:    channelCap,
	}

	// ── Solana ────────────────────────────────────────────────────────────────
	var rpcURLs []string
	if primary := getEnv("SOLANA_RPC_URL", ""); primary != "" {
		rpcURLs = append(rpcURLs, primary)
		if fallback := getEnv("SOLANA_RPC_FALLBACK_URL", ""); fallback != "" && fallback != primary {
			rpcURLs = append(rpcURLs, fallback)
		}
	}
	cfg.Solana = SolanaConfig{
		RPCURLs:        rpcURLs,
		Commitment:     getEnv("SOLANA_COMMITMENT", "confirmed"),
		VaultProgramID: getEnv("VAULT_PROGRAM_ID", ""),
		Simulate:       getBool("SOLANA_SIMULATE", true),
	}

	// ── Bet bounds ────────────────────────────────────────────────────────────
	minStake, err := getInt64("BET_MIN_STAKE_LAMPORTS", 10_000_000)
	if err != nil {
		return nil, fmt.Errorf("BET_MIN_STAKE_LAMPORTS: %w", err)
	}
	maxStake, err := getInt64("BET_MAX_STAKE_LAMPORTS", 1_000_000_000_000)
	if err != nil {
		return nil, fmt.Errorf("BET_MAX_STAKE_LAMPORTS: %w", err)
	}
	betMaxRetries, err := getInt("BET_MAX_RETRIES", maxRetries)
	if err != nil {
		return nil, fmt.Errorf("BET_MAX_RETRIES: %w", err)
	}
	backoffBaseMS, err := getInt("BET_RETRY_BACKOFF_BASE_MS", 2000)
	if err != nil {
		return nil, fmt.Errorf("BET_RETRY_BACKOFF_BASE_MS: %w", err)
	}
	backoffMaxMS, err := getInt("BET_RETRY_BACKOFF_MAX_MS", 60000)
	if err != nil {
		return nil, fmt.Errorf("BET_RETRY_BACKOFF_MAX_MS: %w", err)
	}
	cfg.Bet = BetConfig{
		MinStakeLamports: minStake,
		MaxStakeLamports: maxStake,
		MaxRetries:       betMaxRetries,
		RetryBackoffBase: time.Duration(backoffBaseMS) * time.Millisecond,
		RetryBackoffMax:  time.Duration(backoffMaxMS) * time.Millisecond,
	}

	return cfg, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Helper functions
// ──────────────────────────────────────────────────────────────────────────────

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getInt(key string, defaultVal int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid integer %q", v)
	}
	return n, nil
}

func getInt64(key string, defaultVal int64) (int64, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid integer %q", v)
	}
	return n, nil
}

// getBool accepts the strconv.ParseBool forms; anything else falls back to
// the default.
func getBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		return defaultVal
	}
	return b
}

// getDuration parses an env var as a Go duration string (e.g. "15m", "2s").
// Falls back to defaultVal if the variable is unset or empty.
func getDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
