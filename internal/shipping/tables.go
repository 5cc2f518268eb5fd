package shipping

import (
	"encoding/json"
	"fmt"
	"os"

	_ "embed"
)

//go:embed tables.json
var defaultTables []byte

// DefaultConfig returns the built-in Greek zone and rate tables.
func DefaultConfig() Config {
	var cfg Config
	if err := json.Unmarshal(defaultTables, &cfg); err != nil {
		panic(fmt.Sprintf("shipping: embedded tables invalid: %v", err))
	}
	return cfg
}

// LoadConfig reads tables from path, or the embedded defaults when path is empty.
func LoadConfig(path string) (Config, error) {
	if path == "" {
		return DefaultConfig(), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read shipping tables: %w", err)
	}
	var cfg Config
	if err := json.Unmarshal(b, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse shipping tables: %w", err)
	}
	return cfg, nil
}
