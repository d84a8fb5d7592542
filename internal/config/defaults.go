package config

const (
	SchemaVersion = 1

	// DefaultRegistryURL serves the typhoon registry document.
	DefaultRegistryURL = "https://raw.githubusercontent.com/sigilante/typhoon/master/registry.toml"
)

// DefaultConfig returns a fully-populated v1 config document.
func DefaultConfig() Config {
	return Config{
		Version: SchemaVersion,
		Storage: StorageConfig{
			Root: "~/.hoonpm",
		},
		Registry: RegistryConfig{
			URL: DefaultRegistryURL,
		},
		Network: NetworkConfig{
			MaxRetries:  3,
			RetryDelay:  "500ms",
			HTTPTimeout: "30s",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}
