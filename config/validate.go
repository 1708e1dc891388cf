package config

import "fmt"

// ValidateConfig checks host-level fields and delegates parameter
// validation to the kernel's own Parameters.Validate.
func ValidateConfig(cfg *Config) error {
	if cfg.DataDir == "" {
		return fmt.Errorf("config: DataDir must not be empty")
	}
	if cfg.LogService == "" {
		return fmt.Errorf("config: LogService must not be empty")
	}
	if err := cfg.Params.ToKernel().Validate(); err != nil {
		return fmt.Errorf("config: params: %w", err)
	}
	return nil
}
