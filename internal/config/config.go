package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"quotekeeper/internal/model"
)

// Schedule modes for the backfill checks.
const (
	ModeBoth    = "both"
	ModeStartup = "startup"
	ModeDaily   = "daily"
	ModeOff     = "off"
)

// Config holds all application configuration.
type Config struct {
	Provider struct {
		Name          string `yaml:"name"` // "yahoo" or "alpaca"; empty selects by credentials
		AlpacaKey     string `yaml:"alpaca_key"`
		AlpacaSecret  string `yaml:"alpaca_secret"`
		AlpacaBaseURL string `yaml:"alpaca_base_url"`
		AlpacaFeed    string `yaml:"alpaca_feed"`
	} `yaml:"provider"`
	Portfolio struct {
		Positions []model.Position `yaml:"positions"`
		StateFile string           `yaml:"state_file"`
	} `yaml:"portfolio"`
	Cache struct {
		IntervalSeconds       int   `yaml:"interval_seconds"`
		RetryLadderSeconds    []int `yaml:"retry_ladder_seconds"`
		BreakerThreshold      int   `yaml:"breaker_threshold"`
		BreakerTimeoutSeconds int   `yaml:"breaker_timeout_seconds"`
	} `yaml:"cache"`
	Refresh struct {
		Strategy       string `yaml:"strategy"` // batch | staggered
		BatchCron      string `yaml:"batch_cron"`
		StaggerSeconds int    `yaml:"stagger_seconds"`
		RecomputeCron  string `yaml:"recompute_cron"`
	} `yaml:"refresh"`
	Backfill struct {
		Mode                string  `yaml:"mode"` // both | startup | daily | off
		DailyCron           string  `yaml:"daily_cron"`
		StartupDelayMinutes int     `yaml:"startup_delay_minutes"`
		YearsToFetch        int     `yaml:"years_to_fetch"`
		StandardWindowDays  int     `yaml:"standard_window_days"`
		ComprehensiveYears  int     `yaml:"comprehensive_years"`
		TriggerThreshold    float64 `yaml:"trigger_threshold"`
		SkipThreshold       float64 `yaml:"skip_threshold"`
		CooldownHours       int     `yaml:"cooldown_hours"`
		ChunkDelaySeconds   int     `yaml:"chunk_delay_seconds"`
		SymbolDelaySeconds  int     `yaml:"symbol_delay_seconds"`
		MarkerFile          string  `yaml:"marker_file"`
		Notify              bool    `yaml:"notify"`
	} `yaml:"backfill"`
	Database struct {
		SQLitePath string `yaml:"sqlite_path"`
	} `yaml:"database"`
	Status struct {
		Enabled bool   `yaml:"enabled"`
		Addr    string `yaml:"addr"`
	} `yaml:"status"`
	Telegram struct {
		BotToken string `yaml:"bot_token"`
		ChatID   string `yaml:"chat_id"`
	} `yaml:"telegram"`
	Log struct {
		Level      string `yaml:"level"`
		Format     string `yaml:"format"`
		Output     string `yaml:"output"`
		MaxAgeDays int    `yaml:"max_age_days"`
	} `yaml:"log"`
	Proxy string `yaml:"proxy"`
}

// Load reads config from a YAML file, then applies environment variable
// overrides and defaults. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	// Environment variable overrides
	if v := os.Getenv("QUOTE_PROVIDER"); v != "" {
		cfg.Provider.Name = v
	}
	if v := os.Getenv("ALPACA_API_KEY"); v != "" {
		cfg.Provider.AlpacaKey = v
	}
	if v := os.Getenv("ALPACA_API_SECRET"); v != "" {
		cfg.Provider.AlpacaSecret = v
	}
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		cfg.Telegram.BotToken = v
	}
	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		cfg.Telegram.ChatID = v
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Database.SQLitePath = v
	}
	if v := os.Getenv("STATUS_ADDR"); v != "" {
		cfg.Status.Addr = v
		cfg.Status.Enabled = true
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("HTTPS_PROXY"); v != "" {
		cfg.Proxy = v
	}
	if v := os.Getenv("BACKFILL_MODE"); v != "" {
		cfg.Backfill.Mode = v
	}
	if v := os.Getenv("BACKFILL_YEARS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Backfill.YearsToFetch = n
		}
	}

	applyDefaults(cfg)
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Portfolio.StateFile == "" {
		cfg.Portfolio.StateFile = "data/portfolio_state.json"
	}
	if cfg.Cache.IntervalSeconds == 0 {
		cfg.Cache.IntervalSeconds = 900
	}
	if len(cfg.Cache.RetryLadderSeconds) == 0 {
		cfg.Cache.RetryLadderSeconds = []int{60, 120, 300, 600}
	}
	if cfg.Cache.BreakerThreshold == 0 {
		cfg.Cache.BreakerThreshold = 5
	}
	if cfg.Cache.BreakerTimeoutSeconds == 0 {
		cfg.Cache.BreakerTimeoutSeconds = 3600
	}
	if cfg.Refresh.BatchCron == "" {
		cfg.Refresh.BatchCron = "0 */5 * * * *"
	}
	if cfg.Refresh.StaggerSeconds == 0 {
		cfg.Refresh.StaggerSeconds = 30
	}
	if cfg.Refresh.RecomputeCron == "" {
		cfg.Refresh.RecomputeCron = "0 10 15 * * *"
	}
	if cfg.Refresh.Strategy == "" {
		cfg.Refresh.Strategy = "batch"
	}
	if cfg.Backfill.Mode == "" {
		cfg.Backfill.Mode = ModeBoth
	}
	if cfg.Backfill.DailyCron == "" {
		cfg.Backfill.DailyCron = "0 0 15 * * *"
	}
	if cfg.Backfill.StartupDelayMinutes == 0 {
		cfg.Backfill.StartupDelayMinutes = 20
	}
	if cfg.Backfill.YearsToFetch == 0 {
		cfg.Backfill.YearsToFetch = 5
	}
	if cfg.Backfill.StandardWindowDays == 0 {
		cfg.Backfill.StandardWindowDays = 30
	}
	if cfg.Backfill.ComprehensiveYears == 0 {
		cfg.Backfill.ComprehensiveYears = 5
	}
	if cfg.Backfill.TriggerThreshold == 0 {
		cfg.Backfill.TriggerThreshold = 0.10
	}
	if cfg.Backfill.SkipThreshold == 0 {
		cfg.Backfill.SkipThreshold = 0.90
	}
	if cfg.Backfill.CooldownHours == 0 {
		cfg.Backfill.CooldownHours = 1
	}
	if cfg.Backfill.ChunkDelaySeconds == 0 {
		cfg.Backfill.ChunkDelaySeconds = 2
	}
	if cfg.Backfill.SymbolDelaySeconds == 0 {
		cfg.Backfill.SymbolDelaySeconds = 20
	}
	if cfg.Backfill.MarkerFile == "" {
		cfg.Backfill.MarkerFile = "data/backfill_run.json"
	}
	if cfg.Database.SQLitePath == "" {
		cfg.Database.SQLitePath = "data/quotekeeper.db"
	}
	if cfg.Status.Addr == "" {
		cfg.Status.Addr = "127.0.0.1:8790"
	}
	if cfg.Provider.AlpacaFeed == "" {
		cfg.Provider.AlpacaFeed = "iex"
	}
	for i := range cfg.Portfolio.Positions {
		cfg.Portfolio.Positions[i].Symbol = model.NormalizeSymbol(cfg.Portfolio.Positions[i].Symbol)
	}
}

// Validate checks cross-field requirements that defaults can't repair.
func (c *Config) Validate() error {
	if c.Provider.Name == "alpaca" && (c.Provider.AlpacaKey == "" || c.Provider.AlpacaSecret == "") {
		return fmt.Errorf("provider.alpaca_key and provider.alpaca_secret are required for the alpaca provider")
	}
	switch c.Backfill.Mode {
	case ModeBoth, ModeStartup, ModeDaily, ModeOff:
	default:
		return fmt.Errorf("backfill.mode must be one of both|startup|daily|off, got %q", c.Backfill.Mode)
	}
	switch c.Refresh.Strategy {
	case "batch", "staggered":
	default:
		return fmt.Errorf("refresh.strategy must be batch or staggered, got %q", c.Refresh.Strategy)
	}
	if c.Backfill.TriggerThreshold >= c.Backfill.SkipThreshold {
		return fmt.Errorf("backfill.trigger_threshold must stay below backfill.skip_threshold")
	}
	if c.Backfill.YearsToFetch < 1 {
		return fmt.Errorf("backfill.years_to_fetch must be at least 1")
	}
	for _, sec := range c.Cache.RetryLadderSeconds {
		if sec <= 0 {
			return fmt.Errorf("cache.retry_ladder_seconds entries must be positive")
		}
	}
	if c.Backfill.Notify && (c.Telegram.BotToken == "" || c.Telegram.ChatID == "") {
		return fmt.Errorf("telegram.bot_token and telegram.chat_id are required when backfill.notify is on")
	}
	return nil
}
