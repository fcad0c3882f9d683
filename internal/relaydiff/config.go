package relaydiff

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"
)

const (
	DefaultGroupingWindow     = 5 * time.Second
	DefaultPollInterval       = 20 * time.Millisecond
	DefaultPollTimeout        = 2 * time.Second
	DefaultTTL                = 5 * time.Minute
	DefaultRegisterAttempts   = 3
	DefaultRegisterRetryDelay = 25 * time.Millisecond
)

type Config struct {
	GroupingWindow           time.Duration
	PollInterval             time.Duration
	PollTimeout              time.Duration
	TTL                      time.Duration
	ShouldCollapseIntoGroups bool
	RegisterAttempts         int
	RegisterRetryDelay       time.Duration
}

func DefaultConfig() Config {
	return Config{
		GroupingWindow:           DefaultGroupingWindow,
		PollInterval:             DefaultPollInterval,
		PollTimeout:              DefaultPollTimeout,
		TTL:                      DefaultTTL,
		ShouldCollapseIntoGroups: true,
		RegisterAttempts:         DefaultRegisterAttempts,
		RegisterRetryDelay:       DefaultRegisterRetryDelay,
	}
}

// Normalize replaces non-positive values with defaults.
func (c Config) Normalize() Config {
	d := DefaultConfig()
	if c.GroupingWindow <= 0 {
		c.GroupingWindow = d.GroupingWindow
	}
	if c.PollInterval <= 0 {
		c.PollInterval = d.PollInterval
	}
	if c.PollTimeout <= 0 {
		c.PollTimeout = d.PollTimeout
	}
	if c.TTL <= 0 {
		c.TTL = d.TTL
	}
	if c.RegisterAttempts <= 0 {
		c.RegisterAttempts = d.RegisterAttempts
	}
	if c.RegisterRetryDelay <= 0 {
		c.RegisterRetryDelay = d.RegisterRetryDelay
	}
	return c
}

// FileConfig is the user rc file. Unset fields keep their defaults.
type FileConfig struct {
	GroupingWindowMs         *int64  `json:"groupingWindowMs"`
	PollIntervalMs           *int64  `json:"pollIntervalMs"`
	PollTimeoutMs            *int64  `json:"pollTimeoutMs"`
	TTLMs                    *int64  `json:"ttlMs"`
	ShouldCollapseIntoGroups *bool   `json:"shouldCollapseIntoGroups"`
	StoreDSN                 *string `json:"storeDsn"`
}

// LoadFileConfig reads path. A missing file yields an empty FileConfig.
func LoadFileConfig(path string) (FileConfig, error) {
	var fc FileConfig
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fc, nil
		}
		return fc, err
	}
	if err := json.Unmarshal(data, &fc); err != nil {
		return fc, fmt.Errorf("parse %s: %w", path, err)
	}
	return fc, nil
}

func (fc FileConfig) Apply(c Config) Config {
	if fc.GroupingWindowMs != nil {
		c.GroupingWindow = time.Duration(*fc.GroupingWindowMs) * time.Millisecond
	}
	if fc.PollIntervalMs != nil {
		c.PollInterval = time.Duration(*fc.PollIntervalMs) * time.Millisecond
	}
	if fc.PollTimeoutMs != nil {
		c.PollTimeout = time.Duration(*fc.PollTimeoutMs) * time.Millisecond
	}
	if fc.TTLMs != nil {
		c.TTL = time.Duration(*fc.TTLMs) * time.Millisecond
	}
	if fc.ShouldCollapseIntoGroups != nil {
		c.ShouldCollapseIntoGroups = *fc.ShouldCollapseIntoGroups
	}
	return c
}
