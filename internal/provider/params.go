package provider

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/IMALI-DEFI/Imali-sub000/internal/registry"
)

var (
	errBadChainID       = errors.New("unrecognized chain id payload")
	errBadAccount       = errors.New("invalid account address")
	errBadSignedPayload = errors.New("unrecognized signed transaction payload")
)

// SwitchChainParams is the wallet_switchEthereumChain parameter object.
type SwitchChainParams struct {
	ChainID string `json:"chainId"`
}

// CurrencyParams is the nativeCurrency object of wallet_addEthereumChain.
type CurrencyParams struct {
	Name     string `json:"name"`
	Symbol   string `json:"symbol"`
	Decimals uint8  `json:"decimals"`
}

// AddChainParams is the wallet_addEthereumChain parameter object.
type AddChainParams struct {
	ChainID           string         `json:"chainId"`
	ChainName         string         `json:"chainName"`
	NativeCurrency    CurrencyParams `json:"nativeCurrency"`
	RPCURLs           []string       `json:"rpcUrls"`
	BlockExplorerURLs []string       `json:"blockExplorerUrls,omitempty"`
}

// AddChainParamsFor builds the full add-chain request for a registry chain.
func AddChainParamsFor(c registry.ChainDescriptor) AddChainParams {
	p := AddChainParams{
		ChainID:   c.HexID(),
		ChainName: c.Name,
		NativeCurrency: CurrencyParams{
			Name:     c.Currency.Name,
			Symbol:   c.Currency.Symbol,
			Decimals: c.Currency.Decimals,
		},
		RPCURLs: append([]string(nil), c.RPCURLs...),
	}
	if c.ExplorerURL != "" {
		p.BlockExplorerURLs = []string{c.ExplorerURL}
	}
	return p
}

// TransactionArgs is the eth_signTransaction parameter object.
type TransactionArgs struct {
	From                 common.Address  `json:"from"`
	To                   *common.Address `json:"to,omitempty"`
	Gas                  hexutil.Uint64  `json:"gas"`
	GasPrice             *hexutil.Big    `json:"gasPrice,omitempty"`
	MaxFeePerGas         *hexutil.Big    `json:"maxFeePerGas,omitempty"`
	MaxPriorityFeePerGas *hexutil.Big    `json:"maxPriorityFeePerGas,omitempty"`
	Value                *hexutil.Big    `json:"value,omitempty"`
	Nonce                hexutil.Uint64  `json:"nonce"`
	Data                 hexutil.Bytes   `json:"data,omitempty"`
	ChainID              *hexutil.Big    `json:"chainId,omitempty"`
}

// ArgsFromTransaction converts an unsigned transaction into signing args.
func ArgsFromTransaction(from common.Address, tx *types.Transaction, chainID *big.Int) TransactionArgs {
	args := TransactionArgs{
		From:  from,
		To:    tx.To(),
		Gas:   hexutil.Uint64(tx.Gas()),
		Value: (*hexutil.Big)(tx.Value()),
		Nonce: hexutil.Uint64(tx.Nonce()),
		Data:  tx.Data(),
	}
	if chainID != nil {
		args.ChainID = (*hexutil.Big)(chainID)
	}
	if tx.Type() == types.DynamicFeeTxType {
		args.MaxFeePerGas = (*hexutil.Big)(tx.GasFeeCap())
		args.MaxPriorityFeePerGas = (*hexutil.Big)(tx.GasTipCap())
	} else {
		args.GasPrice = (*hexutil.Big)(tx.GasPrice())
	}
	return args
}

// ToTransaction builds the unsigned transaction described by args.
func (a TransactionArgs) ToTransaction() *types.Transaction {
	value := new(big.Int)
	if a.Value != nil {
		value = a.Value.ToInt()
	}

	if a.MaxFeePerGas != nil {
		tip := new(big.Int)
		if a.MaxPriorityFeePerGas != nil {
			tip = a.MaxPriorityFeePerGas.ToInt()
		}
		var chainID *big.Int
		if a.ChainID != nil {
			chainID = a.ChainID.ToInt()
		}
		return types.NewTx(&types.DynamicFeeTx{
			ChainID:   chainID,
			Nonce:     uint64(a.Nonce),
			GasTipCap: tip,
			GasFeeCap: a.MaxFeePerGas.ToInt(),
			Gas:       uint64(a.Gas),
			To:        a.To,
			Value:     value,
			Data:      a.Data,
		})
	}

	gasPrice := new(big.Int)
	if a.GasPrice != nil {
		gasPrice = a.GasPrice.ToInt()
	}
	return types.NewTx(&types.LegacyTx{
		Nonce:    uint64(a.Nonce),
		GasPrice: gasPrice,
		Gas:      uint64(a.Gas),
		To:       a.To,
		Value:    value,
		Data:     a.Data,
	})
}

// decodeChainID accepts "0x89", "137" or a bare JSON number.
func decodeChainID(raw json.RawMessage) (uint64, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return parseChainIDString(s)
	}

	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return parseChainIDString(n.String())
	}

	return 0, fmt.Errorf("%w: %s", errBadChainID, string(raw))
}

func parseChainIDString(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	var (
		id  uint64
		err error
	)
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		id, err = strconv.ParseUint(s[2:], 16, 64)
	} else {
		id, err = strconv.ParseUint(s, 10, 64)
	}
	if err != nil || id == 0 {
		return 0, fmt.Errorf("%w: %q", errBadChainID, s)
	}
	return id, nil
}

// decodeAccounts decodes an account list and normalizes each entry to its
// checksummed form.
func decodeAccounts(raw json.RawMessage) ([]common.Address, error) {
	var list []string
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, fmt.Errorf("decoding accounts: %w", err)
	}

	out := make([]common.Address, 0, len(list))
	for _, s := range list {
		if !common.IsHexAddress(s) {
			return nil, fmt.Errorf("%w: %q", errBadAccount, s)
		}
		out = append(out, common.HexToAddress(s))
	}
	return out, nil
}

// decodeSignedTransaction accepts a raw hex string or a {raw, tx} object.
func decodeSignedTransaction(raw json.RawMessage) (*types.Transaction, error) {
	var encoded hexutil.Bytes
	if err := json.Unmarshal(raw, &encoded); err != nil {
		var obj struct {
			Raw hexutil.Bytes `json:"raw"`
		}
		if err := json.Unmarshal(raw, &obj); err != nil || len(obj.Raw) == 0 {
			return nil, errBadSignedPayload
		}
		encoded = obj.Raw
	}

	tx := new(types.Transaction)
	if err := tx.UnmarshalBinary(encoded); err != nil {
		return nil, fmt.Errorf("decoding signed transaction: %w", err)
	}
	return tx, nil
}
