package config

import (
	"os"

	"github.com/joho/godotenv"
)

// LoadDotEnv loads path into the environment. A missing file is not an
// error; variables already set win.
func LoadDotEnv(path string) error {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return godotenv.Load(path)
}
