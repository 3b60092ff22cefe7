package cfg

import (
	"cmp"
	"fmt"
	"time"

	"github.com/jessevdk/go-flags"
)

// Version is set at build time via -ldflags
var Version = "dev"

func GetVersion() string {
	return cmp.Or(Version, "unknown")
}

type rawCfg struct {
	// Storage configuration
	DBPath string `long:"db-path" env:"DB_PATH" default:"./silentfeed.db" description:"Path to the SQLite database file"`

	// Application configuration
	FeedsDir          string `long:"feeds-dir" env:"FEEDS_DIR" default:"./feeds" description:"Directory containing feed configuration files"`
	ProvidersFile     string `long:"providers-file" env:"PROVIDERS_FILE" default:"./providers.yml" description:"AI provider configuration file"`
	Port              string `long:"port" env:"PORT" default:"8080" description:"HTTP server port"`
	WorkerCount       int    `long:"worker-count" env:"WORKER_COUNT" default:"5" description:"Number of background workers for task processing"`
	SchedulerInterval int    `long:"scheduler-interval" env:"SCHEDULER_INTERVAL" default:"60" description:"Scheduler interval in seconds"`
	APIAccessKey      string `long:"api-key" env:"API_ACCESS_KEY" description:"API access key for authentication (optional)"`

	// Budget configuration
	MonthlyBudgetUSD float64 `long:"monthly-budget" env:"MONTHLY_BUDGET_USD" default:"5" description:"Monthly AI spend ceiling in USD"`
	USDCNYRate       float64 `long:"usd-cny-rate" env:"USD_CNY_RATE" default:"7.2" description:"CNY per USD conversion rate for budget normalization"`

	// Executor configuration
	MaxConcurrentRequests int `long:"max-concurrent" env:"MAX_CONCURRENT_REQUESTS" default:"3" description:"Maximum in-flight AI requests"`
	QueueSize             int `long:"queue-size" env:"QUEUE_SIZE" default:"100" description:"AI request queue capacity"`
	QueueTimeoutSec       int `long:"queue-timeout" env:"QUEUE_TIMEOUT" default:"60" description:"Queued request timeout in seconds"`
	CacheSize             int `long:"cache-size" env:"CACHE_SIZE" default:"200" description:"AI response cache capacity"`
	CacheTTLSec           int `long:"cache-ttl" env:"CACHE_TTL" default:"3600" description:"AI response cache TTL in seconds"`
	RatePerMinute         int `long:"rate-per-minute" env:"RATE_PER_MINUTE" default:"10" description:"AI call rate limit per minute"`
	RatePerHour           int `long:"rate-per-hour" env:"RATE_PER_HOUR" default:"100" description:"AI call rate limit per hour"`
	RatePerDay            int `long:"rate-per-day" env:"RATE_PER_DAY" default:"500" description:"AI call rate limit per day"`
	CallTimeoutSec        int `long:"call-timeout" env:"CALL_TIMEOUT" default:"30" description:"Per-call AI timeout in seconds"`
	ReasoningTimeoutSec   int `long:"reasoning-timeout" env:"REASONING_TIMEOUT" default:"120" description:"Per-call AI timeout in reasoning mode, in seconds"`

	// Application metadata
	UserAgent string `long:"user-agent" env:"USER_AGENT" default:"SilentFeed/1.0" description:"User agent string for HTTP requests"`
	Timezone  string `long:"timezone" env:"TZ" default:"UTC" description:"Timezone for timestamps (e.g., UTC, America/New_York)"`
	Debug     bool   `long:"debug" env:"DEBUG" description:"Enable debug logging"`
}

var globalCfg *Cfg

func Load() (*Cfg, error) {
	var raw rawCfg

	parser := flags.NewParser(&raw, flags.Default)

	if _, err := parser.Parse(); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok {
			if flagsErr.Type == flags.ErrHelp {
				return nil, nil
			}
		}
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	cfg := &Cfg{
		DBPath:                raw.DBPath,
		FeedsDir:              raw.FeedsDir,
		ProvidersFile:         raw.ProvidersFile,
		Port:                  raw.Port,
		WorkerCount:           raw.WorkerCount,
		SchedulerInterval:     raw.SchedulerInterval,
		APIAccessKey:          raw.APIAccessKey,
		MonthlyBudgetUSD:      raw.MonthlyBudgetUSD,
		USDCNYRate:            raw.USDCNYRate,
		MaxConcurrentRequests: raw.MaxConcurrentRequests,
		QueueSize:             raw.QueueSize,
		QueueTimeoutSec:       raw.QueueTimeoutSec,
		CacheSize:             raw.CacheSize,
		CacheTTLSec:           raw.CacheTTLSec,
		RatePerMinute:         raw.RatePerMinute,
		RatePerHour:           raw.RatePerHour,
		RatePerDay:            raw.RatePerDay,
		CallTimeoutSec:        raw.CallTimeoutSec,
		ReasoningTimeoutSec:   raw.ReasoningTimeoutSec,
		UserAgent:             raw.UserAgent,
		Timezone:              raw.Timezone,
		Debug:                 raw.Debug,
		Version:               GetVersion(),
	}

	if err := applyTimezone(cfg.Timezone); err != nil {
		fmt.Printf("Warning: Invalid timezone '%s', using system default: %v\n", cfg.Timezone, err)
	}

	globalCfg = cfg

	return cfg, nil
}

func Get() *Cfg {
	if globalCfg == nil {
		panic("configuration not loaded - call cfg.Load() first")
	}
	return globalCfg
}

func applyTimezone(timezone string) error {
	if timezone != "" {
		if loc, err := time.LoadLocation(timezone); err != nil {
			return err
		} else {
			time.Local = loc
		}
	}
	return nil
}
