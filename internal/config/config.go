// Package config holds the engine's small set of operational knobs:
// external-tool timeouts, the external-tool discovery search paths, and
// whether backups are created by default. Unlike a server config, nothing
// here is a secret, so there is no encryption layer — just environment
// variables with defaults.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the engine's operational settings.
type Config struct {
	// DetectTimeout bounds a single external-tool detect() invocation.
	DetectTimeout time.Duration
	// CleanTimeout bounds a single external-tool clean() invocation.
	CleanTimeout time.Duration
	// ExtraToolPaths are additional candidate paths to probe for the
	// external metadata tool, checked before the built-in discovery order.
	ExtraToolPaths []string
	// BackupByDefault controls clean_file_metadata's backup flag when the
	// caller does not specify one explicitly.
	BackupByDefault bool
}

const (
	envDetectTimeout   = "METACLEAN_DETECT_TIMEOUT_SECONDS"
	envCleanTimeout    = "METACLEAN_CLEAN_TIMEOUT_SECONDS"
	envExtraToolPaths  = "METACLEAN_TOOL_PATHS" // os.PathListSeparator-separated (':' on Unix)
	envBackupByDefault = "METACLEAN_BACKUP_BY_DEFAULT"
)

// Default returns the baseline configuration: 20s detect / 120s clean
// timeouts (spec recommendation), no extra tool paths, backups off unless
// the caller opts in.
func Default() *Config {
	return &Config{
		DetectTimeout:   20 * time.Second,
		CleanTimeout:    120 * time.Second,
		BackupByDefault: false,
	}
}

// FromEnv builds a Config starting from Default and overriding with any
// recognised environment variables.
func FromEnv() *Config {
	c := Default()

	if v := os.Getenv(envDetectTimeout); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			c.DetectTimeout = time.Duration(secs) * time.Second
		}
	}
	if v := os.Getenv(envCleanTimeout); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			c.CleanTimeout = time.Duration(secs) * time.Second
		}
	}
	if v := os.Getenv(envExtraToolPaths); v != "" {
		for _, p := range strings.Split(v, string(os.PathListSeparator)) {
			p = strings.TrimSpace(p)
			if p != "" {
				c.ExtraToolPaths = append(c.ExtraToolPaths, p)
			}
		}
	}
	if v := os.Getenv(envBackupByDefault); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			c.BackupByDefault = b
		}
	}
	return c
}
