package config

import (
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
)

// LoadEnvFile loads the first .env file found in the working directory or
// the config directory. Variables already set in the environment are kept.
// It returns the path that was loaded, or "" when none was found.
func LoadEnvFile(extra ...string) (string, error) {
	candidates := append([]string{".env", filepath.Join(DefaultConfigDir(), ".env")}, extra...)
	for _, path := range candidates {
		if path == "" {
			continue
		}
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := godotenv.Load(path); err != nil {
			return "", err
		}
		return path, nil
	}
	return "", nil
}
