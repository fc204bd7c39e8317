package config

import (
	"os"
	"strconv"
)

type Config struct {
	Port         int
	MaxUsers     int
	MaxRooms     int
	MaxRoomUsers int
	WriteTimeout int // seconds
}

func Load() *Config {
	cfg := &Config{
		Port:         12345,
		MaxUsers:     10,
		MaxRooms:     10,
		MaxRoomUsers: 10,
		WriteTimeout: 10,
	}

	if portStr := os.Getenv("MCHAT_PORT"); portStr != "" {
		if port, err := strconv.Atoi(portStr); err == nil {
			cfg.Port = port
		}
	}

	if limitStr := os.Getenv("MCHAT_MAX_USERS"); limitStr != "" {
		if limit, err := strconv.Atoi(limitStr); err == nil && limit > 0 {
			cfg.MaxUsers = limit
		}
	}

	if limitStr := os.Getenv("MCHAT_MAX_ROOMS"); limitStr != "" {
		if limit, err := strconv.Atoi(limitStr); err == nil && limit > 0 {
			cfg.MaxRooms = limit
		}
	}

	if limitStr := os.Getenv("MCHAT_MAX_ROOM_USERS"); limitStr != "" {
		if limit, err := strconv.Atoi(limitStr); err == nil && limit > 0 {
			cfg.MaxRoomUsers = limit
		}
	}

	if timeoutStr := os.Getenv("MCHAT_WRITE_TIMEOUT"); timeoutStr != "" {
		if timeout, err := strconv.Atoi(timeoutStr); err == nil && timeout > 0 {
			cfg.WriteTimeout = timeout
		}
	}

	return cfg
}
