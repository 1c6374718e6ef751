package config

import (
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
)

// LoadDotEnv walks up from dir looking for a .env file and loads the first one
// found. Variables already present in the environment are not overridden.
// It returns the path loaded, or "" when none was found.
func LoadDotEnv(dir string) string {
	for {
		envPath := filepath.Join(dir, ".env")
		if _, err := os.Stat(envPath); err == nil {
			if err := godotenv.Load(envPath); err != nil {
				return ""
			}
			return envPath
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}
