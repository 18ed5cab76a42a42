// Package config loads gateway settings from config.toml and the process
// environment. Secrets (the payment address, AWS credentials) come from the
// environment, optionally seeded from a .env file; everything else lives in
// the TOML file.
package config

import (
	"errors"
	"fmt"
	"math/big"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"

	"github.com/BlockchainCap/bcap-x402-payment-middleware/x402"
)

// Ledger backend names accepted in database.backend.
const (
	BackendPebble   = "pebble"
	BackendDynamoDB = "dynamodb"
)

const microPerUnit = 1_000_000

var (
	ErrMissingPaymentAddress = errors.New("missing environment variable: PAYMENT_ADDRESS")
	ErrInvalidPaymentAddress = errors.New("PAYMENT_ADDRESS must be a valid EVM address (0x... with 42 characters)")
)

// DatabaseConfig selects and parameterizes the ledger backend.
type DatabaseConfig struct {
	Backend string `toml:"backend"`
	Path    string `toml:"path"`
	Table   string `toml:"table"`
}

// fileConfig is the raw shape of config.toml.
type fileConfig struct {
	NodeURL         string         `toml:"node_url"`
	PricePerRequest string         `toml:"price_per_request"`
	Port            int            `toml:"port"`
	FacilitatorURL  string         `toml:"facilitator_url"`
	Network         string         `toml:"network"`
	Database        DatabaseConfig `toml:"database"`
}

// Config is the resolved gateway configuration.
type Config struct {
	// NodeURL is the upstream RPC node requests are relayed to.
	NodeURL string

	// PricePerRequest is the cost of one relayed request in micro-units.
	PricePerRequest uint64

	// Port the gateway listens on.
	Port int

	// FacilitatorURL is the x402 facilitator endpoint.
	FacilitatorURL string

	// Network names the chain payments settle on.
	Network string

	Database DatabaseConfig

	// PaymentAddress receives top-up payments.
	PaymentAddress string
}

// Load resolves the full configuration. The file path argument wins when
// non-empty, then the CONFIG_PATH variable, then "config.toml". A .env file
// in the working directory is folded into the environment first, without
// overriding variables already set.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	paymentAddress := os.Getenv("PAYMENT_ADDRESS")
	if paymentAddress == "" {
		return nil, ErrMissingPaymentAddress
	}
	if !strings.HasPrefix(paymentAddress, "0x") || !common.IsHexAddress(paymentAddress) {
		return nil, ErrInvalidPaymentAddress
	}

	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	if path == "" {
		path = "config.toml"
	}

	contents, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var raw fileConfig
	if _, err := toml.Decode(string(contents), &raw); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return resolve(raw, paymentAddress)
}

func resolve(raw fileConfig, paymentAddress string) (*Config, error) {
	if raw.NodeURL == "" {
		return nil, errors.New("node_url cannot be empty")
	}
	if raw.FacilitatorURL == "" {
		return nil, errors.New("facilitator_url cannot be empty")
	}
	if raw.Port < 1 || raw.Port > 65535 {
		return nil, fmt.Errorf("port must be between 1 and 65535, got %d", raw.Port)
	}

	price, err := parsePrice(raw.PricePerRequest)
	if err != nil {
		return nil, err
	}

	if raw.Network == "" {
		raw.Network = "base-sepolia"
	}
	if _, ok := x402.Networks[raw.Network]; !ok {
		return nil, fmt.Errorf("unsupported network: %q", raw.Network)
	}

	switch raw.Database.Backend {
	case "":
		raw.Database.Backend = BackendPebble
	case BackendPebble, BackendDynamoDB:
	default:
		return nil, fmt.Errorf("unsupported database backend: %q", raw.Database.Backend)
	}
	if raw.Database.Backend == BackendPebble && raw.Database.Path == "" {
		return nil, errors.New("database.path is required for the pebble backend")
	}
	if raw.Database.Backend == BackendDynamoDB && raw.Database.Table == "" {
		return nil, errors.New("database.table is required for the dynamodb backend")
	}

	return &Config{
		NodeURL:         raw.NodeURL,
		PricePerRequest: price,
		Port:            raw.Port,
		FacilitatorURL:  raw.FacilitatorURL,
		Network:         raw.Network,
		Database:        raw.Database,
		PaymentAddress:  paymentAddress,
	}, nil
}

// parsePrice converts a decimal amount to micro-units. Rational arithmetic
// keeps prices like "0.001" exact; a price finer than one micro-unit is a
// configuration mistake, not something to round.
func parsePrice(price string) (uint64, error) {
	if price == "" {
		return 0, errors.New("price_per_request cannot be empty")
	}

	rat, ok := new(big.Rat).SetString(price)
	if !ok {
		return 0, fmt.Errorf("invalid price_per_request: %q", price)
	}
	if rat.Sign() < 0 {
		return 0, errors.New("price_per_request cannot be negative")
	}

	rat.Mul(rat, big.NewRat(microPerUnit, 1))
	if !rat.IsInt() {
		return 0, fmt.Errorf("price_per_request %q is finer than one micro-unit", price)
	}
	if !rat.Num().IsUint64() {
		return 0, fmt.Errorf("price_per_request %q is out of range", price)
	}

	return rat.Num().Uint64(), nil
}
