package local

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// PromptKind identifies what the user is asked to approve.
type PromptKind int

// Prompt kinds.
const (
	PromptConnect PromptKind = iota + 1
	PromptSwitchChain
	PromptAddChain
	PromptSignTransaction
)

func (k PromptKind) String() string {
	switch k {
	case PromptConnect:
		return "connect"
	case PromptSwitchChain:
		return "switch-chain"
	case PromptAddChain:
		return "add-chain"
	case PromptSignTransaction:
		return "sign-transaction"
	default:
		return fmt.Sprintf("prompt(%d)", int(k))
	}
}

// Prompt is one approval request.
type Prompt struct {
	Kind      PromptKind
	Origin    string
	Account   common.Address
	ChainID   uint64
	ChainName string
	Tx        *types.Transaction // set for PromptSignTransaction
}

// Summary renders the prompt as a single line for a terminal.
func (p Prompt) Summary() string {
	chain := fmt.Sprintf("chain %d", p.ChainID)
	if p.ChainName != "" {
		chain = fmt.Sprintf("%s (%d)", p.ChainName, p.ChainID)
	}

	switch p.Kind {
	case PromptConnect:
		return fmt.Sprintf("%s wants to connect to %s", p.Origin, p.Account.Hex())
	case PromptSwitchChain:
		return fmt.Sprintf("%s wants to switch the network to %s", p.Origin, chain)
	case PromptAddChain:
		return fmt.Sprintf("%s wants to add the network %s", p.Origin, chain)
	case PromptSignTransaction:
		to := "contract creation"
		if p.Tx != nil && p.Tx.To() != nil {
			to = p.Tx.To().Hex()
		}
		if p.Tx == nil {
			return fmt.Sprintf("%s wants %s to sign a transaction on %s", p.Origin, p.Account.Hex(), chain)
		}
		return fmt.Sprintf("%s wants %s to sign a transaction to %s on %s (value %s wei, gas %d)",
			p.Origin, p.Account.Hex(), to, chain, p.Tx.Value(), p.Tx.Gas())
	default:
		return fmt.Sprintf("%s: %s", p.Origin, p.Kind)
	}
}

// Approver decides prompts on the user's behalf. Approve may block until
// the user answers; returning false rejects the request.
type Approver interface {
	Approve(ctx context.Context, p Prompt) (bool, error)
}

// ApproverFunc adapts a function to an Approver.
type ApproverFunc func(ctx context.Context, p Prompt) (bool, error)

// Approve calls f.
func (f ApproverFunc) Approve(ctx context.Context, p Prompt) (bool, error) {
	return f(ctx, p)
}

// AutoApprove approves every prompt.
var AutoApprove Approver = ApproverFunc(func(context.Context, Prompt) (bool, error) {
	return true, nil
})
