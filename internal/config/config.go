package config

import (
	"strings"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	Environment string     `mapstructure:"environment"` // "prod" or "dev"
	Telegram    Telegram   `mapstructure:"telegram"`
	Accounts    []Account  `mapstructure:"accounts"`
	Reconciler  Reconciler `mapstructure:"reconciler"`
	Logger      Logger     `mapstructure:"logger"`
	Server      Server     `mapstructure:"server"`
	Database    Database   `mapstructure:"database"`
}

// Telegram holds the chat transport configuration.
type Telegram struct {
	BotToken    string  `mapstructure:"bot_token"`
	SourceChats []int64 `mapstructure:"source_chats"`
	// Routes maps a source channel display name to the destination channel
	// every signal from it is forwarded to. Signals from unlisted channels
	// go to DefaultDestChat.
	Routes          map[string]int64 `mapstructure:"routes"`
	DefaultDestChat int64            `mapstructure:"default_dest_chat"`
	PollTimeout     int              `mapstructure:"poll_timeout"`    // seconds
	ReconnectDelay  int              `mapstructure:"reconnect_delay"` // seconds
}

// Account holds one broker account identity and its trade management table.
type Account struct {
	ID             int64   `mapstructure:"id"`
	Password       string  `mapstructure:"password"`
	Server         string  `mapstructure:"server"`
	Broker         string  `mapstructure:"broker"`
	BridgeURL      string  `mapstructure:"bridge_url"`
	RateLimit      float64 `mapstructure:"rate_limit"`
	RateLimitBurst int     `mapstructure:"rate_limit_burst"`
	// TradeManagement maps a logical signal symbol (e.g. "US30") to its
	// broker-native order parameters.
	TradeManagement map[string]SymbolTradeConfig `mapstructure:"trade_management"`
}

// SymbolTradeConfig maps a signal symbol onto broker-native order parameters.
type SymbolTradeConfig struct {
	Symbol     string    `mapstructure:"symbol"` // broker-native spelling, e.g. "DJ30"
	TradeCount int       `mapstructure:"trade_count"`
	LotSize    float64   `mapstructure:"lot_size"`
	LotTiers   []LotTier `mapstructure:"lot_tiers"`
}

// LotTier selects a lot size by account balance. Tiers are evaluated in
// order; the last tier whose MinBalance is at or below the balance wins.
type LotTier struct {
	MinBalance float64 `mapstructure:"min_balance"`
	LotSize    float64 `mapstructure:"lot_size"`
}

// Lot returns the lot size for the given account balance. It falls back to
// the flat LotSize when no tier table is configured.
func (s SymbolTradeConfig) Lot(balance float64) float64 {
	lot := s.LotSize
	for _, tier := range s.LotTiers {
		if balance >= tier.MinBalance {
			lot = tier.LotSize
		}
	}
	return lot
}

// Reconciler holds the reconciliation loop configuration.
type Reconciler struct {
	Interval int `mapstructure:"interval"` // seconds
}

// Server holds the configuration for the monitoring web server.
type Server struct {
	Port int `mapstructure:"port"`
}

// Database holds the configuration for the database.
type Database struct {
	DSN    string `mapstructure:"dsn"`
	DevDSN string `mapstructure:"dev_dsn"`
}

// Logger holds the configuration for the logger.
type Logger struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// ActiveDSN returns the database DSN for the selected environment.
func (c *Config) ActiveDSN() string {
	if c.Environment != "prod" && c.Database.DevDSN != "" {
		return c.Database.DevDSN
	}
	return c.Database.DSN
}

// LoadConfig reads configuration from file or environment variables.
func LoadConfig(path string) (config Config, err error) {
	viper.AddConfigPath(path)
	viper.SetConfigName("config") // name of config file (without extension)
	viper.SetConfigType("yml")    // or yaml, json

	// Allow environment variables to override config file
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set default values
	viper.SetDefault("environment", "dev")
	viper.SetDefault("telegram.poll_timeout", 30)
	viper.SetDefault("telegram.reconnect_delay", 5)
	viper.SetDefault("reconciler.interval", 2)

	err = viper.ReadInConfig()
	if err != nil {
		return
	}

	err = viper.Unmarshal(&config)
	return
}
