package main

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/agentworkforce/relaydiff/internal/relaydiff"
)

const defaultAddr = "127.0.0.1:0"

type settings struct {
	Config relaydiff.Config
	DSN    string
	Addr   string
}

// loadSettings layers defaults, the rc file, the environment and flags, in
// that order.
func loadSettings() (settings, error) {
	s := settings{Config: relaydiff.DefaultConfig()}

	rcPath, err := rcFilePath(configFlag)
	if err != nil {
		return s, err
	}
	var fc relaydiff.FileConfig
	if rcPath != "" {
		fc, err = relaydiff.LoadFileConfig(rcPath)
		if err != nil {
			return s, err
		}
	}
	s.Config = fc.Apply(s.Config)
	s.Config = applyEnv(s.Config)

	rcDSN := ""
	if fc.StoreDSN != nil {
		rcDSN = *fc.StoreDSN
	}
	s.DSN, err = resolveDSN(storeFlag, os.Getenv("RELAYDIFF_STORE_DSN"), rcDSN)
	if err != nil {
		return s, err
	}
	s.Addr = stringEnv("RELAYDIFF_ADDR", defaultAddr)
	return s, nil
}

func applyEnv(c relaydiff.Config) relaydiff.Config {
	c.GroupingWindow = durationEnv("RELAYDIFF_GROUPING_WINDOW", c.GroupingWindow)
	c.PollInterval = durationEnv("RELAYDIFF_POLL_INTERVAL", c.PollInterval)
	c.PollTimeout = durationEnv("RELAYDIFF_POLL_TIMEOUT", c.PollTimeout)
	c.TTL = durationEnv("RELAYDIFF_TTL", c.TTL)
	c.ShouldCollapseIntoGroups = boolEnv("RELAYDIFF_COLLAPSE_GROUPS", c.ShouldCollapseIntoGroups)
	c.RegisterAttempts = intEnv("RELAYDIFF_REGISTER_ATTEMPTS", c.RegisterAttempts)
	return c
}

func rcFilePath(flagValue string) (string, error) {
	if strings.TrimSpace(flagValue) != "" {
		return flagValue, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		// no home directory means no rc file
		return "", nil
	}
	return filepath.Join(home, ".relaydiffrc"), nil
}

// resolveDSN picks the first non-empty of flag, env and rc values, falling
// back to a SQLite database in the state directory.
func resolveDSN(flagValue, envValue, rcValue string) (string, error) {
	for _, candidate := range []string{flagValue, envValue, rcValue} {
		if trimmed := strings.TrimSpace(candidate); trimmed != "" {
			return trimmed, nil
		}
	}
	dir, err := stateDir()
	if err != nil {
		return "", err
	}
	return "sqlite://" + filepath.ToSlash(filepath.Join(dir, "sessions.db")), nil
}

// stateDir is the per-user directory holding the default store, the address
// of the latest viewer, pending payloads and the background viewer log.
func stateDir() (string, error) {
	cacheDir, err := os.UserCacheDir()
	if err != nil {
		cacheDir = os.TempDir()
	}
	dir := filepath.Join(cacheDir, "relaydiff")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return dir, nil
}
