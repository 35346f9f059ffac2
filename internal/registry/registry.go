// Package registry maps chain ids to network metadata and logical contract
// names to their per-chain deployments. A Registry is immutable once built
// and safe for concurrent use.
package registry

import (
	"fmt"
	"math/big"
	"sort"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/shopspring/decimal"

	imalierr "github.com/IMALI-DEFI/Imali-sub000/pkg/errors"
)

// NativeCurrency describes a chain's gas token.
type NativeCurrency struct {
	Name     string
	Symbol   string
	Decimals uint8
}

// ChainDescriptor describes one network.
type ChainDescriptor struct {
	ID       uint64
	Name     string
	Key      string
	Currency NativeCurrency
	// RPCURLs is ordered: the first entry is preferred, the rest are fallbacks.
	RPCURLs     []string
	ExplorerURL string
	Testnet     bool
}

// HexID returns the chain id in the 0x-prefixed form wallets expect.
func (c ChainDescriptor) HexID() string {
	return hexutil.EncodeUint64(c.ID)
}

// PreferredRPC returns the first RPC URL, or "" if none are configured.
func (c ChainDescriptor) PreferredRPC() string {
	if len(c.RPCURLs) == 0 {
		return ""
	}
	return c.RPCURLs[0]
}

// FormatNative renders a base-unit amount in whole native currency units.
func (c ChainDescriptor) FormatNative(amount *big.Int) string {
	if amount == nil {
		amount = new(big.Int)
	}
	d := decimal.NewFromBigInt(amount, -int32(c.Currency.Decimals))
	return d.StringFixed(int32(min(c.Currency.Decimals, 6))) + " " + c.Currency.Symbol
}

// String implements fmt.Stringer.
func (c ChainDescriptor) String() string {
	return fmt.Sprintf("%s (%d)", c.Name, c.ID)
}

// ContractDescriptor is the address and interface of a contract on one chain.
type ContractDescriptor struct {
	Name    string
	ChainID uint64
	Address common.Address
	ABI     abi.ABI
}

// ContractInfo summarizes a registered contract across all chains.
type ContractInfo struct {
	Name string
	// Chain is the chain the contract must be used on, or 0 when it follows
	// the wallet's active chain.
	Chain       uint64
	Deployments map[uint64]common.Address
	Methods     []string
}

type contractEntry struct {
	name        string
	chain       uint64
	abi         abi.ABI
	deployments map[uint64]common.Address
}

// Registry is the chain and contract lookup table.
type Registry struct {
	chains       map[uint64]ChainDescriptor
	chainsByKey  map[string]uint64
	contracts    map[string]*contractEntry
	chainOrder   []uint64
	contractKeys []string
}

// Describe returns the descriptor for chainID.
func (r *Registry) Describe(chainID uint64) (ChainDescriptor, error) {
	c, ok := r.chains[chainID]
	if !ok {
		return ChainDescriptor{}, imalierr.WithDetails(imalierr.ErrChainNotFound,
			map[string]string{"chain": strconv.FormatUint(chainID, 10)})
	}
	return c, nil
}

// ResolveContract returns the deployment of name on chainID. A missing
// contract or a missing deployment both surface as
// ErrUnsupportedChainForContract.
func (r *Registry) ResolveContract(name string, chainID uint64) (ContractDescriptor, error) {
	e, err := r.entry(name)
	if err != nil {
		return ContractDescriptor{}, err
	}

	addr, ok := e.deployments[chainID]
	if !ok {
		err := imalierr.WithDetails(imalierr.ErrUnsupportedChainForContract, map[string]string{
			"contract": e.name,
			"chain":    strconv.FormatUint(chainID, 10),
		})
		return ContractDescriptor{}, imalierr.WithSuggestion(err,
			fmt.Sprintf("%s is deployed on: %s", e.name, r.describeChains(e.deploymentChains())))
	}

	return ContractDescriptor{
		Name:    e.name,
		ChainID: chainID,
		Address: addr,
		ABI:     e.abi,
	}, nil
}

// ContractChain returns the chain name is pinned to, or 0 when the
// contract follows the wallet's active chain.
func (r *Registry) ContractChain(name string) (uint64, error) {
	e, err := r.entry(name)
	if err != nil {
		return 0, err
	}
	return e.chain, nil
}

// Contract returns the summary of a registered contract.
func (r *Registry) Contract(name string) (ContractInfo, error) {
	e, err := r.entry(name)
	if err != nil {
		return ContractInfo{}, err
	}
	return e.info(), nil
}

// Chains returns all chains ordered by id.
func (r *Registry) Chains() []ChainDescriptor {
	out := make([]ChainDescriptor, 0, len(r.chainOrder))
	for _, id := range r.chainOrder {
		out = append(out, r.chains[id])
	}
	return out
}

// Contracts returns all contracts ordered by name.
func (r *Registry) Contracts() []ContractInfo {
	out := make([]ContractInfo, 0, len(r.contractKeys))
	for _, k := range r.contractKeys {
		out = append(out, r.contracts[k].info())
	}
	return out
}

// LookupChain resolves a user supplied chain reference: a decimal id,
// a 0x-prefixed hex id, or a chain key or name.
func (r *Registry) LookupChain(ref string) (ChainDescriptor, error) {
	ref = strings.TrimSpace(ref)
	if id, err := ParseChainID(ref); err == nil {
		return r.Describe(id)
	}

	if id, ok := r.chainsByKey[normalizeKey(ref)]; ok {
		return r.chains[id], nil
	}

	err := imalierr.WithDetails(imalierr.ErrChainNotFound, map[string]string{"chain": ref})
	if s := r.SuggestChain(ref); s != "" {
		err = imalierr.WithSuggestion(err, fmt.Sprintf("Did you mean '%s'?", s))
	}
	return ChainDescriptor{}, err
}

func (r *Registry) entry(name string) (*contractEntry, error) {
	e, ok := r.contracts[normalizeKey(name)]
	if ok {
		return e, nil
	}

	notFound := imalierr.WithDetails(imalierr.ErrContractNotFound, map[string]string{"contract": name})
	err := imalierr.WithCause(imalierr.ErrUnsupportedChainForContract, notFound)
	err = imalierr.WithDetails(err, map[string]string{"contract": name})
	if s := r.SuggestContract(name); s != "" {
		err = imalierr.WithSuggestion(err, fmt.Sprintf("Did you mean '%s'?", s))
	}
	return nil, err
}

func (r *Registry) describeChains(ids []uint64) string {
	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		if c, ok := r.chains[id]; ok {
			parts = append(parts, c.String())
		}
	}
	return strings.Join(parts, ", ")
}

func (e *contractEntry) deploymentChains() []uint64 {
	ids := make([]uint64, 0, len(e.deployments))
	for id := range e.deployments {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (e *contractEntry) info() ContractInfo {
	deployments := make(map[uint64]common.Address, len(e.deployments))
	for id, addr := range e.deployments {
		deployments[id] = addr
	}

	methods := make([]string, 0, len(e.abi.Methods))
	for name := range e.abi.Methods {
		methods = append(methods, name)
	}
	sort.Strings(methods)

	return ContractInfo{
		Name:        e.name,
		Chain:       e.chain,
		Deployments: deployments,
		Methods:     methods,
	}
}

// ParseChainID parses "137", "0x89" or "0X89".
func ParseChainID(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		return strconv.ParseUint(s[2:], 16, 64)
	}
	return strconv.ParseUint(s, 10, 64)
}

func normalizeKey(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
