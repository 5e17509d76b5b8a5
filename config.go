package bantutrack

import "github.com/guetchou/bantudelice-tracking/config"

// AppConfig re-exports the configuration root for library callers.
type AppConfig = config.AppConfig

// LoadAppConfig loads and validates config.yml into the global
// configuration.
func LoadAppConfig() error { return config.LoadAppConfig() }

// CurrentConfig returns the loaded global configuration.
func CurrentConfig() AppConfig { return config.Config }
