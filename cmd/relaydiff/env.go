package main

import (
	"os"
	"strconv"
	"strings"
	"time"
)

func stringEnv(name, fallback string) string {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	return raw
}

func intEnv(name string, fallback int) int {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		logger.Warn().Str("name", name).Str("value", raw).Int("fallback", fallback).Msg("invalid integer env, using fallback")
		return fallback
	}
	return value
}

// durationEnv accepts Go durations ("750ms") and bare integers in milliseconds.
func durationEnv(name string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		logger.Warn().Str("name", name).Str("value", raw).Dur("fallback", fallback).Msg("invalid duration env, using fallback")
		return fallback
	}
	return value
}

func boolEnv(name string, fallback bool) bool {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		logger.Warn().Str("name", name).Str("value", raw).Bool("fallback", fallback).Msg("invalid boolean env, using fallback")
		return fallback
	}
	return value
}
