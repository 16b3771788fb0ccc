// Package config loads the engine configuration from a YAML file with
// HATI_* environment overrides. The symbol table defined here is the
// single source of tick sizes, lot sizes, and fee rates.
package config

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"hati/internal/common"
	"hati/internal/fees"
)

type Config struct {
	Server  ServerConfig   `mapstructure:"server"`
	Engine  EngineConfig   `mapstructure:"engine"`
	Feed    FeedConfig     `mapstructure:"feed"`
	Journal JournalConfig  `mapstructure:"journal"`
	Logging LoggingConfig  `mapstructure:"logging"`
	Symbols []SymbolConfig `mapstructure:"symbols"`
}

// ServerConfig is the TCP command gateway listener.
type ServerConfig struct {
	Address string `mapstructure:"address"`
	Port    int    `mapstructure:"port"`
	Workers int    `mapstructure:"workers"`
}

type EngineConfig struct {
	InboxSize int `mapstructure:"inbox_size"`
}

// FeedConfig is the websocket market-data listener and fanout sizing.
type FeedConfig struct {
	Address         string `mapstructure:"address"`
	Port            int    `mapstructure:"port"`
	SubscriberQueue int    `mapstructure:"subscriber_queue"`
	SnapshotEvery   int    `mapstructure:"snapshot_every"`
}

// JournalConfig points at the command replay log consumed on startup and
// the event journal written while running. Both optional.
type JournalConfig struct {
	ReplayPath string `mapstructure:"replay_path"`
	EventPath  string `mapstructure:"event_path"`
}

type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

// SymbolConfig defines one hosted instrument. Numeric fields are decimal
// strings so the grid is exact.
type SymbolConfig struct {
	Name        string `mapstructure:"name"`
	TickSize    string `mapstructure:"tick_size"`
	LotSize     string `mapstructure:"lot_size"`
	MakerFee    string `mapstructure:"maker_fee"`
	TakerFee    string `mapstructure:"taker_fee"`
	FeeCurrency string `mapstructure:"fee_currency"`
}

// Load reads the config file at path, applying defaults and HATI_*
// environment overrides (HATI_SERVER_PORT=9001 overrides server.port).
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	v.SetDefault("server.address", "0.0.0.0")
	v.SetDefault("server.port", 9001)
	v.SetDefault("server.workers", 10)
	v.SetDefault("engine.inbox_size", 1024)
	v.SetDefault("feed.address", "0.0.0.0")
	v.SetDefault("feed.port", 9002)
	v.SetDefault("feed.subscriber_queue", 256)
	v.SetDefault("feed.snapshot_every", 100)
	v.SetDefault("logging.level", "info")

	v.SetEnvPrefix("HATI")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if len(cfg.Symbols) == 0 {
		return nil, fmt.Errorf("config defines no symbols")
	}
	return &cfg, nil
}

// SymbolTable parses the symbol definitions into engine form.
func (c *Config) SymbolTable() ([]*common.Symbol, error) {
	out := make([]*common.Symbol, 0, len(c.Symbols))
	for _, sc := range c.Symbols {
		sym, err := sc.parse()
		if err != nil {
			return nil, err
		}
		out = append(out, sym)
	}
	return out, nil
}

// FeeSchedule builds the fee table from the symbol definitions.
func (c *Config) FeeSchedule() (*fees.Schedule, error) {
	table, err := c.SymbolTable()
	if err != nil {
		return nil, err
	}
	sched := fees.NewSchedule()
	for _, sym := range table {
		sched.Set(sym.Name, fees.Rates{
			Maker:    sym.MakerFee,
			Taker:    sym.TakerFee,
			Currency: sym.FeeCurrency,
		})
	}
	return sched, nil
}

func (sc SymbolConfig) parse() (*common.Symbol, error) {
	if sc.Name == "" {
		return nil, fmt.Errorf("symbol with empty name")
	}
	tick, err := positiveDecimal(sc.Name, "tick_size", sc.TickSize)
	if err != nil {
		return nil, err
	}
	lot, err := positiveDecimal(sc.Name, "lot_size", sc.LotSize)
	if err != nil {
		return nil, err
	}
	maker, err := feeDecimal(sc.Name, "maker_fee", sc.MakerFee)
	if err != nil {
		return nil, err
	}
	taker, err := feeDecimal(sc.Name, "taker_fee", sc.TakerFee)
	if err != nil {
		return nil, err
	}
	return &common.Symbol{
		Name:        sc.Name,
		TickSize:    tick,
		LotSize:     lot,
		MakerFee:    maker,
		TakerFee:    taker,
		FeeCurrency: sc.FeeCurrency,
	}, nil
}

func positiveDecimal(symbol, field, s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("symbol %s: %s %q: %w", symbol, field, s, err)
	}
	if !d.IsPositive() {
		return decimal.Decimal{}, fmt.Errorf("symbol %s: %s must be positive, got %s", symbol, field, s)
	}
	return d, nil
}

func feeDecimal(symbol, field, s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("symbol %s: %s %q: %w", symbol, field, s, err)
	}
	if d.IsNegative() {
		return decimal.Decimal{}, fmt.Errorf("symbol %s: %s must not be negative, got %s", symbol, field, s)
	}
	return d, nil
}
