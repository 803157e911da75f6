package config

import (
	"os"

	"github.com/joho/godotenv"
)

// LoadDotEnv overlays a .env file (if present) onto the process environment
// before Load reads GATEWAY_* variables, so a developer's local .env can
// supply provider keys without exporting them in the shell. A missing file
// is not an error; any other read/parse error is returned.
func LoadDotEnv(path string) error {
	if path == "" {
		path = ".env"
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	return godotenv.Overload(path)
}
