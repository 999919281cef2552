package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

// Environment variables
const (
	EnvNetwork             = "NETWORK" // mainnet, sepolia
	EnvExchangeAddress     = "EXCHANGE_ADDRESS"
	EnvFlashRepayerAddress = "FLASH_REPAYER_ADDRESS"
	EnvUserAddress         = "USER_ADDRESS"
	EnvDebug               = "DEBUG" // any non-empty value enables debug logging
)

// LoadEnv loads environment variables from .env file
func LoadEnv() error {
	return godotenv.Load()
}

// GetEnvWithDefault gets an environment variable with a default value
func GetEnvWithDefault(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// GetRequiredEnv gets an environment variable or fails if it is unset
func GetRequiredEnv(key string) (string, error) {
	value := os.Getenv(key)
	if value == "" {
		return "", fmt.Errorf("required environment variable %s is not set", key)
	}
	return value, nil
}
