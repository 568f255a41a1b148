package config

import (
	"errors"
	"io/fs"
	"os"
	"regexp"
	"strings"

	"github.com/joho/godotenv"
)

// LoadEnvFiles loads environment variables from ENV_FILE (if set), then
// .env.local, then .env. Missing files are skipped. Variables already present
// in the process environment win.
func LoadEnvFiles() error {
	files := make([]string, 0, 3)
	if p := strings.TrimSpace(os.Getenv("ENV_FILE")); p != "" {
		files = append(files, p)
	}
	files = append(files, ".env.local", ".env")

	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return err
		}
	}
	return nil
}

var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnv replaces ${VAR} references in raw config bytes. Bare $ is left
// alone so message templates can carry currency amounts.
func expandEnv(b []byte) []byte {
	return envRef.ReplaceAllFunc(b, func(m []byte) []byte {
		name := string(m[2 : len(m)-1])
		return []byte(os.Getenv(name))
	})
}
