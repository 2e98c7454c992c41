package main

import (
	"os"
	"strconv"
	"time"
)

// DefaultLogFile receives logs while a TUI owns the terminal
const DefaultLogFile = "goflash-debug.log"

// Config holds the command line configuration of every subcommand
type Config struct {
	Debug   bool
	LogFile string

	// control
	Relay      string
	Key        string
	Username   string
	BridgeAddr string

	// viewer
	RelayBase string

	// relay
	Port          int
	JWTSecret     string
	PublicURL     string
	ImageTTL      time.Duration
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	Announce      bool
	Name          string

	// discover
	BrowseTimeout time.Duration
}

// getEnv returns the environment variable or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt returns the environment variable as an int or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvDuration returns the environment variable as a duration or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
