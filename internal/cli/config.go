// Package cli implements the paydirt command-line interface.
//
// The CLI wraps the paydirt library in a single cobra command. A TOML
// config file can preset everything the flags cover, plus the column
// toggles; flags that are set explicitly win over the file.
package cli

import (
	"os"

	"github.com/BurntSushi/toml"
)

// Config is the TOML file layout. All fields are optional; zero values
// fall back to the library defaults.
type Config struct {
	AllAccounts  bool          `toml:"all_accounts"`
	RoleName     string        `toml:"role_name"`
	LookbackDays int           `toml:"lookback_days"`
	Outfile      string        `toml:"outfile"`
	StorageTypes []string      `toml:"storage_types"`
	Columns      ColumnsConfig `toml:"columns"`
}

// ColumnsConfig toggles report columns by name on top of the library's
// default column set.
type ColumnsConfig struct {
	Enable  []string `toml:"enable"`
	Disable []string `toml:"disable"`
}

func loadConfig(path string) (Config, error) {
	var cfg Config
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}
