package config

// Config is the frozen v1 global schema.
type Config struct {
	Version  int            `toml:"version"`
	Storage  StorageConfig  `toml:"storage"`
	Registry RegistryConfig `toml:"registry"`
	Network  NetworkConfig  `toml:"network"`
	Logging  LoggingConfig  `toml:"logging"`
}

type StorageConfig struct {
	Root string `toml:"root"`
}

// RegistryConfig points at the online registry document. Empty URL disables
// the online registry; lookups then serve from the built-in table only.
type RegistryConfig struct {
	URL string `toml:"url"`
}

// NetworkConfig bounds retry behavior around git and HTTP calls.
type NetworkConfig struct {
	MaxRetries  int    `toml:"max_retries"`
	RetryDelay  string `toml:"retry_delay"`
	HTTPTimeout string `toml:"http_timeout"`
}

type LoggingConfig struct {
	Level string `toml:"level"`
}
