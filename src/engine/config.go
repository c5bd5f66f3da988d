package engine

import (
	"fmt"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config carries everything the storage core needs at startup. Values
// come from the environment (SILTDB_* variables), optionally seeded from
// a .env file.
type Config struct {
	DataDir   string `split_words:"true" default:"./data"`
	BlockSize int32  `split_words:"true" default:"4096"`
	PoolSize  int    `split_words:"true" default:"64"`
	LogFile   string `split_words:"true" default:"siltdb.log"`
}

func LoadConfig() (Config, error) {
	// A missing .env is fine; the environment alone is enough.
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("siltdb", &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if c.PoolSize <= 0 {
		return fmt.Errorf("pool size must be positive, got %d", c.PoolSize)
	}
	if c.BlockSize < 64 {
		return fmt.Errorf("block size %d is too small", c.BlockSize)
	}
	if c.LogFile == "" {
		return fmt.Errorf("log file name must not be empty")
	}
	return nil
}
