package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Addr       string
	CORSOrigin string
	// Registry staleness window
	Staleness time.Duration
	// Scroll placement
	NarrowWidth    int
	DesktopDivisor int
	NarrowDivisor  int
	// Redis toggle relay, disabled when empty
	RedisURL string
	// Git document store
	ReposDir string
	Author   string
	LogLevel slog.Level
}

func Load() Config {
	return Config{
		Addr:           getenv("OUTLINE_ADDR", ":8080"),
		CORSOrigin:     getenv("OUTLINE_CORS_ORIGIN", "*"),
		Staleness:      time.Duration(getenvInt("OUTLINE_STALENESS_MS", 250)) * time.Millisecond,
		NarrowWidth:    getenvInt("OUTLINE_NARROW_WIDTH", 768),
		DesktopDivisor: getenvInt("OUTLINE_DESKTOP_DIVISOR", 7),
		NarrowDivisor:  getenvInt("OUTLINE_NARROW_DIVISOR", 5),
		RedisURL:       getenv("OUTLINE_REDIS_URL", ""),
		ReposDir:       getenv("OUTLINE_REPOS_DIR", "./data/repos"),
		Author:         getenv("OUTLINE_AUTHOR", "Outline"),
		LogLevel:       getenvLevel("OUTLINE_LOG_LEVEL", slog.LevelInfo),
	}
}

// Default is the configuration with every variable unset.
func Default() Config {
	return Config{
		Addr:           ":8080",
		CORSOrigin:     "*",
		Staleness:      250 * time.Millisecond,
		NarrowWidth:    768,
		DesktopDivisor: 7,
		NarrowDivisor:  5,
		ReposDir:       "./data/repos",
		Author:         "Outline",
		LogLevel:       slog.LevelInfo,
	}
}

func (c Config) Validate() error {
	var errs []error
	if c.Staleness <= 0 {
		errs = append(errs, fmt.Errorf("OUTLINE_STALENESS_MS must be positive, got %s", c.Staleness))
	}
	if c.NarrowWidth <= 0 {
		errs = append(errs, fmt.Errorf("OUTLINE_NARROW_WIDTH must be positive, got %d", c.NarrowWidth))
	}
	if c.DesktopDivisor <= 0 {
		errs = append(errs, fmt.Errorf("OUTLINE_DESKTOP_DIVISOR must be positive, got %d", c.DesktopDivisor))
	}
	if c.NarrowDivisor <= 0 {
		errs = append(errs, fmt.Errorf("OUTLINE_NARROW_DIVISOR must be positive, got %d", c.NarrowDivisor))
	}
	if strings.TrimSpace(c.Addr) == "" {
		errs = append(errs, errors.New("OUTLINE_ADDR must not be empty"))
	}
	if strings.TrimSpace(c.ReposDir) == "" {
		errs = append(errs, errors.New("OUTLINE_REPOS_DIR must not be empty"))
	}
	return errors.Join(errs...)
}

func getenv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvLevel(key string, fallback slog.Level) slog.Level {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(value)); err != nil {
		return fallback
	}
	return level
}
