package shared

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
)

// Environment variables that override config values.
const (
	EnvBaseURL        = "COLLECTX_BASE_URL"
	EnvAccessToken    = "COLLECTX_ACCESS_TOKEN"
	EnvRefreshToken   = "COLLECTX_REFRESH_TOKEN"
	EnvLogLevel       = "COLLECTX_LOG_LEVEL"
	EnvDatabasePath   = "COLLECTX_DB_PATH"
	EnvBitableBaseURL = "BITABLE_BASE_URL"
	EnvBitableApp     = "BITABLE_APP_TOKEN"
	EnvBitableTable   = "BITABLE_TABLE_ID"
	EnvBitableToken   = "BITABLE_ACCESS_TOKEN"
)

// LoadEnv loads a .env file into the process environment.
//
// A missing file is not an error; variables already set in the environment win.
func LoadEnv(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load .env file: %w", err)
	}
	return nil
}

// ApplyEnv overrides config values with any non-empty environment variables.
func (c *Config) ApplyEnv() {
	setString(&c.Backend.BaseURL, EnvBaseURL)
	setString(&c.Logging.Level, EnvLogLevel)
	setString(&c.Database.Path, EnvDatabasePath)
	setString(&c.Bitable.BaseURL, EnvBitableBaseURL)
	setString(&c.Bitable.AppToken, EnvBitableApp)
	setString(&c.Bitable.TableID, EnvBitableTable)
	setString(&c.Bitable.AccessToken, EnvBitableToken)
}

// EnvTokens returns the access and refresh tokens seeded through the environment, if any.
func EnvTokens() (access, refresh string) {
	return os.Getenv(EnvAccessToken), os.Getenv(EnvRefreshToken)
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}
