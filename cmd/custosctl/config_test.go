package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iov-one/custos/errors"
)

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "custos.yaml")
	raw := `
rpc: http://localhost:8545
custodian: "0x1111111111111111111111111111111111111111"
keyfile: /tmp/key
store: /tmp/store.json
safe:
  service: http://localhost:8000
  address: "0x2222222222222222222222222222222222222222"
  owners:
    - "0x3333333333333333333333333333333333333333"
    - "0x4444444444444444444444444444444444444444"
`
	require.NoError(t, os.WriteFile(path, []byte(raw), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8545", cfg.RPC)
	assert.Equal(t, "file", cfg.StoreDriver, "driver must default to file")
	assert.Equal(t, "0x1111111111111111111111111111111111111111", cfg.CustodianAddress().Hex())
	require.Len(t, cfg.SafeOwners(), 2)
	assert.Equal(t, "0x3333333333333333333333333333333333333333", cfg.SafeOwners()[0].Hex())
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.True(t, errors.ErrInput.Is(err))
}

func TestConfigValidate(t *testing.T) {
	valid := Config{
		RPC:         "http://localhost:8545",
		Custodian:   "0x1111111111111111111111111111111111111111",
		KeyFile:     "/tmp/key",
		Store:       "/tmp/store.json",
		StoreDriver: "file",
	}
	require.NoError(t, valid.Validate())

	cases := map[string]func(*Config){
		"missing rpc":          func(c *Config) { c.RPC = "" },
		"bad custodian":        func(c *Config) { c.Custodian = "not an address" },
		"missing keyfile":      func(c *Config) { c.KeyFile = "" },
		"missing store":        func(c *Config) { c.Store = "" },
		"unknown store driver": func(c *Config) { c.StoreDriver = "redis" },
		"safe without address": func(c *Config) {
			c.Safe = SafeConfig{Service: "http://localhost:8000"}
		},
		"safe without owners": func(c *Config) {
			c.Safe = SafeConfig{
				Service: "http://localhost:8000",
				Address: "0x2222222222222222222222222222222222222222",
			}
		},
		"safe with bad owner": func(c *Config) {
			c.Safe = SafeConfig{
				Service: "http://localhost:8000",
				Address: "0x2222222222222222222222222222222222222222",
				Owners:  []string{"nope"},
			}
		},
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := valid
			mutate(&cfg)
			assert.True(t, errors.ErrInput.Is(cfg.Validate()))
		})
	}
}
