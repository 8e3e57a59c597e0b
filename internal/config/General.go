package config

import (
	"errors"
	"os"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog/log"
)

// Engine run modes.
const (
	ModeLive = "live"
	ModeSim  = "sim"
)

// Application configuration loaded from environment variables.
// These are populated at startup by the LoadConfig function.
var (
	// Mode selects the engine backend: "live" or "sim".
	Mode string

	// FundName is the display name of the share token.
	FundName string
	// FundSymbol is the ticker of the share token.
	FundSymbol string

	// GovernanceAddress holds the governance capability.
	GovernanceAddress common.Address
	// StrategistAddress holds the strategist capability. Falls back to
	// governance when unset.
	StrategistAddress common.Address
	// RewardsAddress receives all fee shares. Falls back to governance
	// when unset.
	RewardsAddress common.Address
	// FundAddress is the share-issuer identity.
	FundAddress common.Address
	// ManagerAddress is the treasury identity holding tokens and positions.
	ManagerAddress common.Address
	// ReserveToken is the settlement token deposits and exits are priced in.
	ReserveToken common.Address

	// WebServerPort is the port for the status and query API.
	WebServerPort uint64
)

// LoadConfig loads configuration from environment variables and sets the global config vars.
func LoadConfig() error {
	log.Info().Msg("Loading application configuration from environment variables...")

	var err error

	Mode, err = getEnv("ENGINE_MODE")
	if err != nil {
		return err
	}
	if Mode != ModeLive && Mode != ModeSim {
		return errors.New("ENGINE_MODE must be \"live\" or \"sim\", got: " + Mode)
	}

	FundName, err = getEnv("FUND_NAME")
	if err != nil {
		return err
	}
	FundSymbol, err = getEnv("FUND_SYMBOL")
	if err != nil {
		return err
	}

	GovernanceAddress, err = getEnvAsAddress("GOVERNANCE_ADDRESS")
	if err != nil {
		return err
	}
	StrategistAddress = getEnvAsAddressOr("STRATEGIST_ADDRESS", GovernanceAddress)
	RewardsAddress = getEnvAsAddressOr("REWARDS_ADDRESS", GovernanceAddress)

	FundAddress, err = getEnvAsAddress("FUND_ADDRESS")
	if err != nil {
		return err
	}
	ManagerAddress, err = getEnvAsAddress("MANAGER_ADDRESS")
	if err != nil {
		return err
	}
	ReserveToken, err = getEnvAsAddress("RESERVE_TOKEN")
	if err != nil {
		return err
	}

	WebServerPort, err = getEnvAsUint64("WEB_SERVER_PORT")
	if err != nil {
		return err
	}

	if err := loadDatabaseConfig(); err != nil {
		return err
	}

	log.Debug().
		Str("Mode", Mode).
		Str("FundSymbol", FundSymbol).
		Str("Governance", GovernanceAddress.Hex()).
		Str("Reserve", ReserveToken.Hex()).
		Msg("Configuration loaded successfully.")

	return nil
}

// getEnv retrieves a string environment variable. Returns error if not set.
func getEnv(key string) (string, error) {
	if value, exists := os.LookupEnv(key); exists {
		return value, nil
	}
	return "", errors.New("environment variable " + key + " is required but not set")
}

// getEnvAsUint64 retrieves an environment variable as a uint64. Returns error if not set or invalid.
func getEnvAsUint64(key string) (uint64, error) {
	valueStr, err := getEnv(key)
	if err != nil {
		return 0, err
	}
	value, err := strconv.ParseUint(valueStr, 10, 64)
	if err != nil {
		return 0, errors.New("environment variable " + key + " must be a valid uint64, got: " + valueStr)
	}
	return value, nil
}

// getEnvAsAddress retrieves an environment variable as a 20-byte hex address.
func getEnvAsAddress(key string) (common.Address, error) {
	valueStr, err := getEnv(key)
	if err != nil {
		return common.Address{}, err
	}
	if !common.IsHexAddress(valueStr) {
		return common.Address{}, errors.New("environment variable " + key + " must be a valid hex address, got: " + valueStr)
	}
	return common.HexToAddress(valueStr), nil
}

// getEnvAsAddressOr retrieves an optional address variable, returning the
// fallback when unset.
func getEnvAsAddressOr(key string, fallback common.Address) common.Address {
	valueStr, exists := os.LookupEnv(key)
	if !exists || !common.IsHexAddress(valueStr) {
		return fallback
	}
	return common.HexToAddress(valueStr)
}
