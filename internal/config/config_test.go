package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testPaymentAddress = "0x1234567890abcdef1234567890abcdef12345678"

const testConfigTOML = `
node_url = "http://localhost:8545"
price_per_request = "0.001"
port = 8080
facilitator_url = "https://x402.org/facilitator"
network = "base-sepolia"

[database]
backend = "pebble"
path = "data/balances"
`

func writeConfig(t *testing.T, contents string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestLoadResolvesConfig(t *testing.T) {
	t.Setenv("PAYMENT_ADDRESS", testPaymentAddress)

	cfg, err := Load(writeConfig(t, testConfigTOML))
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:8545", cfg.NodeURL)
	assert.Equal(t, uint64(1000), cfg.PricePerRequest)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "https://x402.org/facilitator", cfg.FacilitatorURL)
	assert.Equal(t, "base-sepolia", cfg.Network)
	assert.Equal(t, BackendPebble, cfg.Database.Backend)
	assert.Equal(t, "data/balances", cfg.Database.Path)
	assert.Equal(t, testPaymentAddress, cfg.PaymentAddress)
}

func TestLoadDefaultsNetworkAndBackend(t *testing.T) {
	t.Setenv("PAYMENT_ADDRESS", testPaymentAddress)

	path := writeConfig(t, `
node_url = "http://localhost:8545"
price_per_request = "0.001"
port = 8080
facilitator_url = "https://x402.org/facilitator"

[database]
path = "data/balances"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "base-sepolia", cfg.Network)
	assert.Equal(t, BackendPebble, cfg.Database.Backend)
}

func TestLoadMissingPaymentAddress(t *testing.T) {
	t.Setenv("PAYMENT_ADDRESS", "")

	_, err := Load(writeConfig(t, testConfigTOML))
	assert.ErrorIs(t, err, ErrMissingPaymentAddress)
}

func TestLoadInvalidPaymentAddress(t *testing.T) {
	for _, address := range []string{
		"abc",
		"0x123",
		"1234567890abcdef1234567890abcdef12345678",
		"0x" + strings.Repeat("z", 40),
	} {
		t.Setenv("PAYMENT_ADDRESS", address)

		_, err := Load(writeConfig(t, testConfigTOML))
		assert.ErrorIs(t, err, ErrInvalidPaymentAddress, "address %q", address)
	}
}

func TestLoadConfigPathFromEnv(t *testing.T) {
	t.Setenv("PAYMENT_ADDRESS", testPaymentAddress)
	t.Setenv("CONFIG_PATH", writeConfig(t, testConfigTOML))

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Port)
}

func TestLoadExplicitPathWinsOverEnv(t *testing.T) {
	t.Setenv("PAYMENT_ADDRESS", testPaymentAddress)
	t.Setenv("CONFIG_PATH", filepath.Join(t.TempDir(), "does-not-exist.toml"))

	cfg, err := Load(writeConfig(t, testConfigTOML))
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Port)
}

func TestLoadMissingFile(t *testing.T) {
	t.Setenv("PAYMENT_ADDRESS", testPaymentAddress)

	_, err := Load(filepath.Join(t.TempDir(), "does-not-exist.toml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config file")
}

func TestLoadMalformedFile(t *testing.T) {
	t.Setenv("PAYMENT_ADDRESS", testPaymentAddress)

	_, err := Load(writeConfig(t, "node_url = [unclosed"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse config file")
}

func TestLoadValidation(t *testing.T) {
	cases := []struct {
		name string
		toml string
		want string
	}{
		{
			name: "empty node_url",
			toml: `
node_url = ""
price_per_request = "0.001"
port = 8080
facilitator_url = "https://x402.org/facilitator"
[database]
path = "data/balances"
`,
			want: "node_url cannot be empty",
		},
		{
			name: "empty facilitator_url",
			toml: `
node_url = "http://localhost:8545"
price_per_request = "0.001"
port = 8080
facilitator_url = ""
[database]
path = "data/balances"
`,
			want: "facilitator_url cannot be empty",
		},
		{
			name: "missing port",
			toml: `
node_url = "http://localhost:8545"
price_per_request = "0.001"
facilitator_url = "https://x402.org/facilitator"
[database]
path = "data/balances"
`,
			want: "port must be between 1 and 65535",
		},
		{
			name: "unknown network",
			toml: `
node_url = "http://localhost:8545"
price_per_request = "0.001"
port = 8080
facilitator_url = "https://x402.org/facilitator"
network = "mainnet-classic"
[database]
path = "data/balances"
`,
			want: "unsupported network",
		},
		{
			name: "unknown backend",
			toml: `
node_url = "http://localhost:8545"
price_per_request = "0.001"
port = 8080
facilitator_url = "https://x402.org/facilitator"
[database]
backend = "leveldb"
path = "data/balances"
`,
			want: "unsupported database backend",
		},
		{
			name: "pebble without path",
			toml: `
node_url = "http://localhost:8545"
price_per_request = "0.001"
port = 8080
facilitator_url = "https://x402.org/facilitator"
[database]
backend = "pebble"
`,
			want: "database.path is required",
		},
		{
			name: "dynamodb without table",
			toml: `
node_url = "http://localhost:8545"
price_per_request = "0.001"
port = 8080
facilitator_url = "https://x402.org/facilitator"
[database]
backend = "dynamodb"
`,
			want: "database.table is required",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv("PAYMENT_ADDRESS", testPaymentAddress)

			_, err := Load(writeConfig(t, tc.toml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestParsePrice(t *testing.T) {
	valid := []struct {
		in   string
		want uint64
	}{
		{"0.001", 1_000},
		{"0.000001", 1},
		{"0", 0},
		{"1", 1_000_000},
		{"1.5", 1_500_000},
		{"1000", 1_000_000_000},
	}
	for _, tc := range valid {
		got, err := parsePrice(tc.in)
		require.NoError(t, err, "price %q", tc.in)
		assert.Equal(t, tc.want, got, "price %q", tc.in)
	}

	invalid := []struct {
		in   string
		want string
	}{
		{"", "cannot be empty"},
		{"abc", "invalid price_per_request"},
		{"-0.001", "cannot be negative"},
		{"0.0000001", "finer than one micro-unit"},
	}
	for _, tc := range invalid {
		_, err := parsePrice(tc.in)
		require.Error(t, err, "price %q", tc.in)
		assert.Contains(t, err.Error(), tc.want, "price %q", tc.in)
	}
}
