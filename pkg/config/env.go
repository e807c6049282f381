package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Environment variables that override config values.
const (
	EnvSocket      = "REQLOG_SOCKET"
	EnvCapacity    = "REQLOG_CAPACITY"
	EnvStoreDriver = "REQLOG_STORE_DRIVER"
	EnvStorePath   = "REQLOG_STORE_PATH"
	EnvHTTPListen  = "REQLOG_HTTP_LISTEN"
	EnvLogLevel    = "REQLOG_LOG_LEVEL"
)

// LoadDotEnv loads the given .env files into the process environment.
// Missing files are ignored; variables already set are not overwritten.
func LoadDotEnv(files ...string) error {
	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

// ApplyEnv overrides fields of c from lookup (usually os.LookupEnv).
func ApplyEnv(c *Config, lookup func(string) (string, bool)) error {
	if v, ok := lookup(EnvSocket); ok && v != "" {
		c.Socket = expandPath(v)
	}
	if v, ok := lookup(EnvCapacity); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvCapacity, err)
		}
		c.Capacity = n
	}
	if v, ok := lookup(EnvStoreDriver); ok && v != "" {
		c.Store.Driver = v
	}
	if v, ok := lookup(EnvStorePath); ok && v != "" {
		c.Store.Path = expandPath(v)
	}
	if v, ok := lookup(EnvHTTPListen); ok {
		c.HTTP.Listen = v
	}
	if v, ok := lookup(EnvLogLevel); ok && v != "" {
		c.Log.Level = v
	}
	return nil
}

// Resolve loads path (falling back to defaults when it does not exist),
// then applies .env and process environment overrides.
func Resolve(path string) (*Config, error) {
	c, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		c = Default()
	} else if err != nil {
		return nil, err
	}
	if err := LoadDotEnv(".env"); err != nil {
		return nil, err
	}
	if err := ApplyEnv(c, os.LookupEnv); err != nil {
		return nil, err
	}
	return c, nil
}
