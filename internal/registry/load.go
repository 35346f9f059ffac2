package registry

import (
	"bytes"
	_ "embed"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	imalierr "github.com/IMALI-DEFI/Imali-sub000/pkg/errors"
)

//go:embed default.yaml
var defaultRegistry []byte

// File is the on-disk registry document.
type File struct {
	Chains    []ChainEntry    `yaml:"chains" validate:"min=1,dive"`
	Contracts []ContractEntry `yaml:"contracts" validate:"dive"`
}

// ChainEntry is one chain in a registry file.
type ChainEntry struct {
	ID       uint64        `yaml:"id" validate:"gt=0"`
	Name     string        `yaml:"name" validate:"required"`
	Key      string        `yaml:"key" validate:"required,lowercase,excludesall= "`
	Currency CurrencyEntry `yaml:"currency"`
	RPC      []string      `yaml:"rpc" validate:"min=1,dive,url"`
	Explorer string        `yaml:"explorer" validate:"omitempty,url"`
	Testnet  bool          `yaml:"testnet,omitempty"`
}

// CurrencyEntry is a chain's native currency in a registry file.
type CurrencyEntry struct {
	Name     string `yaml:"name" validate:"required"`
	Symbol   string `yaml:"symbol" validate:"required,max=8"`
	Decimals uint8  `yaml:"decimals" validate:"lte=36"`
}

// ContractEntry is one logical contract in a registry file.
type ContractEntry struct {
	Name        string            `yaml:"name" validate:"required,excludesall= "`
	Chain       uint64            `yaml:"chain,omitempty"`
	ABI         string            `yaml:"abi" validate:"required"`
	Deployments map[uint64]string `yaml:"deployments" validate:"min=1,dive,eth_addr"`
}

// Default returns the registry compiled into the binary.
func Default() (*Registry, error) {
	return Parse(bytes.NewReader(defaultRegistry))
}

// LoadFile reads and builds a registry from a YAML file.
func LoadFile(path string) (*Registry, error) {
	// #nosec G304 -- registry path comes from config or flags
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, imalierr.WithDetails(imalierr.WithCause(imalierr.ErrNotFound, err),
				map[string]string{"registry": path})
		}
		return nil, err
	}
	defer func() { _ = f.Close() }()

	return Parse(f)
}

// Parse decodes a YAML registry document and builds it.
func Parse(r io.Reader) (*Registry, error) {
	var doc File
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, imalierr.WithCause(imalierr.ErrRegistryInvalid, err)
	}
	return Build(doc)
}

// Build validates a registry document and indexes it.
//
//nolint:gocognit,gocyclo // Validation is a flat sequence of checks
func Build(doc File) (*Registry, error) {
	if err := validator.New(validator.WithRequiredStructEnabled()).Struct(doc); err != nil {
		return nil, invalid(err.Error())
	}

	reg := &Registry{
		chains:      make(map[uint64]ChainDescriptor, len(doc.Chains)),
		chainsByKey: make(map[string]uint64, len(doc.Chains)*2),
		contracts:   make(map[string]*contractEntry, len(doc.Contracts)),
	}

	for _, c := range doc.Chains {
		if _, dup := reg.chains[c.ID]; dup {
			return nil, invalid(fmt.Sprintf("duplicate chain id %d", c.ID))
		}
		key := normalizeKey(c.Key)
		if _, dup := reg.chainsByKey[key]; dup {
			return nil, invalid(fmt.Sprintf("duplicate chain key %q", c.Key))
		}

		rpc := make([]string, len(c.RPC))
		copy(rpc, c.RPC)

		reg.chains[c.ID] = ChainDescriptor{
			ID:   c.ID,
			Name: c.Name,
			Key:  key,
			Currency: NativeCurrency{
				Name:     c.Currency.Name,
				Symbol:   c.Currency.Symbol,
				Decimals: c.Currency.Decimals,
			},
			RPCURLs:     rpc,
			ExplorerURL: strings.TrimSuffix(c.Explorer, "/"),
			Testnet:     c.Testnet,
		}
		reg.chainsByKey[key] = c.ID
		if name := normalizeKey(c.Name); name != key {
			reg.chainsByKey[name] = c.ID
		}
		reg.chainOrder = append(reg.chainOrder, c.ID)
	}

	for _, c := range doc.Contracts {
		key := normalizeKey(c.Name)
		if _, dup := reg.contracts[key]; dup {
			return nil, invalid(fmt.Sprintf("duplicate contract %q", c.Name))
		}

		parsed, err := abi.JSON(strings.NewReader(c.ABI))
		if err != nil {
			return nil, invalid(fmt.Sprintf("contract %s: parsing abi: %v", c.Name, err))
		}

		deployments := make(map[uint64]common.Address, len(c.Deployments))
		for chainID, addr := range c.Deployments {
			if _, ok := reg.chains[chainID]; !ok {
				return nil, invalid(fmt.Sprintf("contract %s: deployment on unknown chain %d", c.Name, chainID))
			}
			a := common.HexToAddress(addr)
			if a == (common.Address{}) {
				return nil, invalid(fmt.Sprintf("contract %s: zero address on chain %d", c.Name, chainID))
			}
			deployments[chainID] = a
		}

		if c.Chain != 0 {
			if _, ok := deployments[c.Chain]; !ok {
				return nil, invalid(fmt.Sprintf("contract %s: pinned to chain %d without a deployment there", c.Name, c.Chain))
			}
		}

		reg.contracts[key] = &contractEntry{
			name:        c.Name,
			chain:       c.Chain,
			abi:         parsed,
			deployments: deployments,
		}
		reg.contractKeys = append(reg.contractKeys, key)
	}

	sort.Slice(reg.chainOrder, func(i, j int) bool { return reg.chainOrder[i] < reg.chainOrder[j] })
	sort.Strings(reg.contractKeys)

	return reg, nil
}

// WithRPCOverrides returns a copy of the registry whose chains use the
// given RPC lists in place of their configured ones.
func (r *Registry) WithRPCOverrides(overrides map[uint64][]string) *Registry {
	if len(overrides) == 0 {
		return r
	}

	out := &Registry{
		chains:       make(map[uint64]ChainDescriptor, len(r.chains)),
		chainsByKey:  r.chainsByKey,
		contracts:    r.contracts,
		chainOrder:   r.chainOrder,
		contractKeys: r.contractKeys,
	}
	for id, c := range r.chains {
		if urls, ok := overrides[id]; ok && len(urls) > 0 {
			c.RPCURLs = append([]string(nil), urls...)
		}
		out.chains[id] = c
	}
	return out
}

func invalid(reason string) error {
	return imalierr.WithDetails(imalierr.ErrRegistryInvalid, map[string]string{"reason": reason})
}

