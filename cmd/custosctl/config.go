package main

import (
	"os"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"

	"github.com/iov-one/custos/errors"
)

// SafeConfig describes the external multisig wallet and its
// coordination service.
type SafeConfig struct {
	// Service is the base URL of the transaction service.
	Service string `yaml:"service"`
	// Address is the wallet contract address.
	Address string `yaml:"address"`
	// Owners is the wallet's owner list in the wallet's own order.
	// Signature assembly depends on this order.
	Owners []string `yaml:"owners"`
}

// Config is the operator configuration file.
type Config struct {
	// RPC is the node endpoint.
	RPC string `yaml:"rpc"`
	// Custodian is the custody contract address.
	Custodian string `yaml:"custodian"`
	// KeyFile holds the hex encoded private key used for signing and
	// broadcasting.
	KeyFile string `yaml:"keyfile"`
	// Store is where signed transactions are persisted.
	Store string `yaml:"store"`
	// StoreDriver selects the persistence backend, "file" (default) or
	// "leveldb".
	StoreDriver string `yaml:"storeDriver"`

	Safe SafeConfig `yaml:"safe"`
}

// LoadConfig reads and validates the configuration file.
func LoadConfig(path string) (Config, error) {
	var cfg Config
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.Wrap(errors.ErrInput, err.Error())
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, errors.Wrapf(errors.ErrInput, "parse config: %s", err)
	}
	if cfg.StoreDriver == "" {
		cfg.StoreDriver = "file"
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate returns an error if the configuration is incomplete.
func (c Config) Validate() error {
	if c.RPC == "" {
		return errors.Wrap(errors.ErrInput, "rpc endpoint is required")
	}
	if !common.IsHexAddress(c.Custodian) {
		return errors.Wrapf(errors.ErrInput, "custodian address %q", c.Custodian)
	}
	if c.KeyFile == "" {
		return errors.Wrap(errors.ErrInput, "keyfile is required")
	}
	if c.Store == "" {
		return errors.Wrap(errors.ErrInput, "store path is required")
	}
	switch c.StoreDriver {
	case "file", "leveldb":
	default:
		return errors.Wrapf(errors.ErrInput, "store driver %q", c.StoreDriver)
	}
	if c.Safe.Service != "" {
		if !common.IsHexAddress(c.Safe.Address) {
			return errors.Wrapf(errors.ErrInput, "safe address %q", c.Safe.Address)
		}
		if len(c.Safe.Owners) == 0 {
			return errors.Wrap(errors.ErrInput, "safe owner list is required")
		}
		for _, o := range c.Safe.Owners {
			if !common.IsHexAddress(o) {
				return errors.Wrapf(errors.ErrInput, "safe owner %q", o)
			}
		}
	}
	return nil
}

// CustodianAddress returns the parsed custodian address.
func (c Config) CustodianAddress() common.Address {
	return common.HexToAddress(c.Custodian)
}

// SafeOwners returns the parsed owner list.
func (c Config) SafeOwners() []common.Address {
	out := make([]common.Address, 0, len(c.Safe.Owners))
	for _, o := range c.Safe.Owners {
		out = append(out, common.HexToAddress(o))
	}
	return out
}
