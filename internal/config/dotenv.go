package config

import (
	"os"

	"github.com/joho/godotenv"
)

// EnvFileVar names a single env file that replaces the lookup below
const EnvFileVar = "DM_ENV_FILE"

// LoadDotEnv loads the messenger env files and returns the ones applied.
//
// Priority: .env.<APP_ENV>.local > .env.<APP_ENV> > .env.local > .env.
// APP_ENV comes from the OS or, failing that, from .env.local / .env.
// Variables already set are never overwritten, so the OS always wins.
// Files that fail to parse are skipped.
func LoadDotEnv() []string {
	if f := os.Getenv(EnvFileVar); f != "" {
		if godotenv.Load(f) != nil {
			return nil
		}
		return []string{f}
	}

	env := os.Getenv("APP_ENV")
	if env == "" {
		env = appEnvFromFiles(".env.local", ".env")
	}

	var candidates []string
	if env != "" {
		candidates = append(candidates, ".env."+env+".local", ".env."+env)
	}
	candidates = append(candidates, ".env.local", ".env")

	var loaded []string
	for _, f := range candidates {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if godotenv.Load(f) == nil {
			loaded = append(loaded, f)
		}
	}
	return loaded
}

// appEnvFromFiles reads APP_ENV without touching the process environment
func appEnvFromFiles(files ...string) string {
	for _, f := range files {
		vars, err := godotenv.Read(f)
		if err != nil {
			continue
		}
		if env := vars["APP_ENV"]; env != "" {
			return env
		}
	}
	return ""
}
