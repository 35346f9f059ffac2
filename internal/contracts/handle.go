package contracts

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/IMALI-DEFI/Imali-sub000/internal/registry"
	imalierr "github.com/IMALI-DEFI/Imali-sub000/pkg/errors"
)

var errWrongSigner = errors.New("transaction sender is not the handle account")

// TxSigner signs transactions on behalf of the connected account.
// *provider.Adapter satisfies it.
type TxSigner interface {
	SignTransaction(ctx context.Context, from common.Address, tx *types.Transaction, chainID *big.Int) (*types.Transaction, error)
}

// Handle is a contract bound to one chain and one signing account.
// Handles are immutable; a session change produces new handles rather
// than rebinding old ones.
type Handle struct {
	name     string
	chainID  uint64
	address  common.Address
	account  common.Address
	abi      abi.ABI
	contract *bind.BoundContract
	signer   TxSigner
}

func newHandle(desc registry.ContractDescriptor, account common.Address, backend bind.ContractBackend, signer TxSigner) *Handle {
	return &Handle{
		name:     desc.Name,
		chainID:  desc.ChainID,
		address:  desc.Address,
		account:  account,
		abi:      desc.ABI,
		contract: bind.NewBoundContract(desc.Address, desc.ABI, backend, backend, backend),
		signer:   signer,
	}
}

// Name returns the registry name of the contract.
func (h *Handle) Name() string { return h.name }

// ChainID returns the chain the handle is bound to.
func (h *Handle) ChainID() uint64 { return h.chainID }

// Address returns the contract address.
func (h *Handle) Address() common.Address { return h.address }

// Account returns the signer address the handle was bound to.
func (h *Handle) Account() common.Address { return h.account }

// ABI returns the contract interface.
func (h *Handle) ABI() abi.ABI { return h.abi }

// Call invokes a read-only method and returns its decoded outputs.
func (h *Handle) Call(ctx context.Context, method string, args ...any) ([]any, error) {
	if _, ok := h.abi.Methods[method]; !ok {
		return nil, h.unknownMethod(method)
	}

	var out []any
	opts := &bind.CallOpts{Context: ctx, From: h.account}
	if err := h.contract.Call(opts, &out, method, args...); err != nil {
		return nil, fmt.Errorf("calling %s.%s: %w", h.name, method, err)
	}
	return out, nil
}

// Transact signs method with the wallet and broadcasts it.
func (h *Handle) Transact(ctx context.Context, method string, args ...any) (*types.Transaction, error) {
	if _, ok := h.abi.Methods[method]; !ok {
		return nil, h.unknownMethod(method)
	}

	tx, err := h.contract.Transact(h.TransactOpts(ctx), method, args...)
	if err != nil {
		return nil, fmt.Errorf("sending %s.%s: %w", h.name, method, err)
	}
	return tx, nil
}

// TransactOpts returns transaction options that sign through the wallet as
// the handle's account on the handle's chain.
func (h *Handle) TransactOpts(ctx context.Context) *bind.TransactOpts {
	chainID := new(big.Int).SetUint64(h.chainID)
	return &bind.TransactOpts{
		From:    h.account,
		Context: ctx,
		Signer: func(from common.Address, tx *types.Transaction) (*types.Transaction, error) {
			if from != h.account {
				return nil, fmt.Errorf("%w: %s", errWrongSigner, from.Hex())
			}
			return h.signer.SignTransaction(ctx, from, tx, chainID)
		},
	}
}

func (h *Handle) unknownMethod(method string) error {
	return imalierr.WithDetails(imalierr.ErrInvalidInput, map[string]string{
		"contract": h.name,
		"method":   method,
	})
}
