package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Deploy holds the environment toggles shared by the binaries. Empty
// strings mean "use the flag value".
type Deploy struct {
	Addr            string `env:"VW_ADDR"`
	DataDir         string `env:"VW_DATA_DIR"`
	ConfigDir       string `env:"VW_CONFIG_DIR"`
	EnableAdminHTTP bool   `env:"VW_ENABLE_ADMIN_HTTP" envDefault:"false"`
	DisableDB       bool   `env:"VW_DISABLE_DB" envDefault:"false"`
}

func LoadDeploy() (Deploy, error) {
	var d Deploy
	err := ParseEnv(&d)
	return d, err
}

// Or returns v unless it is empty.
func Or(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
