package env

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
)

// Load reads KEY=VALUE files into the process environment. Variables that are
// already set win over file values; missing files are skipped. It returns the
// files that were actually read.
func Load(paths ...string) ([]string, error) {
	var loaded []string
	for _, p := range paths {
		if p == "" {
			continue
		}
		if _, err := os.Stat(p); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return loaded, fmt.Errorf("stat %s: %w", p, err)
		}
		if err := godotenv.Load(p); err != nil {
			return loaded, fmt.Errorf("load %s: %w", p, err)
		}
		loaded = append(loaded, p)
	}
	return loaded, nil
}

// Masked hides a secret for logging while still showing whether it is set.
func Masked(v string) string {
	if v == "" {
		return "not set"
	}
	return "****"
}
