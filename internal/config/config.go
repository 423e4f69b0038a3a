package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Server    ServerConfig    `toml:"server"`
	World     WorldConfig     `toml:"world"`
	Txn       TxnConfig       `toml:"txn"`
	Save      SaveConfig      `toml:"save"`
	Data      DataConfig      `toml:"data"`
	Scripting ScriptingConfig `toml:"scripting"`
	Database  DatabaseConfig  `toml:"database"`
	Metrics   MetricsConfig   `toml:"metrics"`
	Tick      TickConfig      `toml:"tick"`
	Logging   LoggingConfig   `toml:"logging"`
}

type ServerConfig struct {
	Name      string `toml:"name"`
	ID        int    `toml:"id"`
	StartTime int64  // set at boot, not from config
}

type WorldConfig struct {
	MaxNestingDepth  int    `toml:"max_nesting_depth"`
	DefaultMaxAmount int    `toml:"default_max_amount"`
	StartPoint       string `toml:"start_point"` // "(x,y,z,m)" for players loaded without a position
	Eviction         string `toml:"eviction"`    // "backpack" or "ground"
	FakeUIDBase      int64  `toml:"fake_uid_base"`
	PasswordCost     int    `toml:"password_cost"` // bcrypt cost for new account passwords
	AdminAccess      int    `toml:"admin_access"`  // access level needed to block accounts, 0 = anyone
}

type TxnConfig struct {
	MaxRetries int `toml:"max_retries"` // 0 = unbounded
}

type SaveConfig struct {
	Dir              string        `toml:"dir"`
	BackupDir        string        `toml:"backup_dir"`
	BackupsKeep      int           `toml:"backups_keep"`
	Encoding         string        `toml:"encoding"` // any WHATWG label, e.g. "utf-8", "big5", "windows-1252"
	AutosaveInterval time.Duration `toml:"autosave_interval"`
}

type DataConfig struct {
	Definitions string `toml:"definitions"`
}

type ScriptingConfig struct {
	Dir       string `toml:"dir"`
	HotReload bool   `toml:"hot_reload"`
}

// DatabaseConfig configures the optional save catalog. An empty DSN disables it.
type DatabaseConfig struct {
	DSN             string        `toml:"dsn"`
	MaxOpenConns    int           `toml:"max_open_conns"`
	MaxIdleConns    int           `toml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `toml:"conn_max_lifetime"`
}

type MetricsConfig struct {
	Listen string `toml:"listen"` // empty = disabled
}

type TickConfig struct {
	Rate time.Duration `toml:"rate"`
}

type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"` // "json" or "console"
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse overlays TOML data on the defaults.
func Parse(data []byte) (*Config, error) {
	cfg := Defaults()
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	cfg.Server.StartTime = time.Now().Unix()
	return cfg, nil
}

// AutosaveTicks converts the autosave interval into runner ticks.
func (c *Config) AutosaveTicks() int {
	if c.Tick.Rate <= 0 || c.Save.AutosaveInterval <= 0 {
		return 0
	}
	n := int(c.Save.AutosaveInterval / c.Tick.Rate)
	if n < 1 {
		n = 1
	}
	return n
}

func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Name: "worldcore",
			ID:   1,
		},
		World: WorldConfig{
			MaxNestingDepth:  32,
			DefaultMaxAmount: 65535,
			StartPoint:       "(1500,1500,0,0)",
			Eviction:         "backpack",
			FakeUIDBase:      1 << 40,
			PasswordCost:     10,
			AdminAccess:      200,
		},
		Txn: TxnConfig{
			MaxRetries: 1000,
		},
		Save: SaveConfig{
			Dir:              "save",
			BackupDir:        "save/backup",
			BackupsKeep:      10,
			Encoding:         "utf-8",
			AutosaveInterval: 15 * time.Minute,
		},
		Data: DataConfig{
			Definitions: "data/yaml/definitions.yaml",
		},
		Scripting: ScriptingConfig{
			Dir:       "scripts",
			HotReload: true,
		},
		Database: DatabaseConfig{
			MaxOpenConns:    4,
			MaxIdleConns:    1,
			ConnMaxLifetime: 30 * time.Minute,
		},
		Tick: TickConfig{
			Rate: 200 * time.Millisecond,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}
