package config

import (
	"os"

	"github.com/BurntSushi/toml"
)

// Config is the host-process configuration: where receipts land, how
// the ops surface is exposed, and the kernel parameter set for new
// episodes.
type Config struct {
	DataDir     string `toml:"DataDir"`
	OpsAddress  string `toml:"OpsAddress"`
	LogService  string `toml:"LogService"`
	LogEnv      string `toml:"LogEnv"`
	ScenarioYML string `toml:"ScenarioYML"` // optional gridworld scenario file

	Params Params `toml:"Params"`
}

// Load loads the configuration from the given path, creating a default
// file when none exists.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}

	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := &Config{
		DataDir:    "./gmk-data",
		OpsAddress: ":8080",
		LogService: "gmkrun",
		LogEnv:     "dev",
		Params:     defaultParams(),
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}
