package cli

import (
	"fmt"
	"io"
	"math/big"
	"reflect"
	"sort"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/IMALI-DEFI/Imali-sub000/internal/contracts"
	"github.com/IMALI-DEFI/Imali-sub000/internal/output"
	"github.com/IMALI-DEFI/Imali-sub000/internal/registry"
	imalierr "github.com/IMALI-DEFI/Imali-sub000/pkg/errors"
)

//nolint:gochecknoglobals // Cobra CLI pattern requires package-level flag variables
var contractSend bool

//nolint:gochecknoglobals // Reflection target for big integer ABI types
var bigIntType = reflect.TypeOf((*big.Int)(nil))

// contractCmd resolves a contract for the connected wallet and optionally
// invokes one of its methods.
//
//nolint:gochecknoglobals // Cobra CLI pattern requires package-level command variables
var contractCmd = &cobra.Command{
	Use:   "contract <name> [method [args...]]",
	Short: "Resolve a contract for the connected wallet and call it",
	Long: `Resolve a contract bound to the connected account. When the contract is
pinned to another network the wallet is asked to switch first.

With a method, read-only methods are called directly. State-changing methods
need --send; the wallet signs them and the transaction is broadcast.

Integer arguments accept decimal, 0x-hex or exponent notation (1.5e18).
Byte arguments are 0x-hex.`,
	Example: `  imali contract Staking
  imali contract Token balanceOf 0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266
  imali contract Token approve 0x70997970C51812dc3A010C7d01b50e0d17dc79C8 1e18 --send`,
	Args: cobra.MinimumNArgs(1),
	RunE: runContract,
}

//nolint:gochecknoinits // Cobra CLI pattern requires init for command registration
func init() {
	rootCmd.AddCommand(contractCmd)
	contractCmd.GroupID = "contracts"
	contractCmd.Flags().BoolVar(&contractSend, "send", false, "sign and broadcast a state-changing method")
}

func runContract(cmd *cobra.Command, args []string) error {
	return withCommandContext(func(cc *CommandContext) error {
		ctx, cancel := commandContext(cmd, 3*cfg.ApprovalTimeout()+cfg.RPCTimeout())
		defer cancel()

		if _, err := ensureSession(ctx, cc); err != nil {
			return err
		}

		done := cc.Activity.start("Resolving " + args[0])
		h, err := cc.Cache.Get(ctx, args[0])
		done()
		if err != nil {
			return err
		}

		w := cmd.OutOrStdout()
		if len(args) == 1 {
			return displayHandle(w, cc.Registry, h)
		}
		return invoke(cmd, cc, h, args[1], args[2:])
	})
}

func invoke(cmd *cobra.Command, cc *CommandContext, h *contracts.Handle, method string, raw []string) error {
	contractABI := h.ABI()
	m, ok := contractABI.Methods[method]
	if !ok {
		return imalierr.WithSuggestion(
			imalierr.WithDetails(imalierr.ErrInvalidInput, map[string]string{"contract": h.Name(), "method": method}),
			"run 'imali contract "+h.Name()+"' to list its methods",
		)
	}

	values, err := parseArgs(m, raw)
	if err != nil {
		return err
	}

	ctx, cancel := commandContext(cmd, cfg.ApprovalTimeout()+cfg.RPCTimeout())
	defer cancel()
	w := cmd.OutOrStdout()

	if m.IsConstant() {
		results, err := h.Call(ctx, method, values...)
		if err != nil {
			return err
		}
		return displayResults(w, m, results)
	}

	if !contractSend {
		return imalierr.WithSuggestion(
			imalierr.WithDetails(imalierr.ErrInvalidInput, map[string]string{"method": method, "mutability": m.StateMutability}),
			"this method changes state; pass --send to sign and broadcast it",
		)
	}

	done := cc.Activity.start("Waiting for the wallet to sign")
	tx, err := h.Transact(ctx, method, values...)
	done()
	if err != nil {
		return err
	}

	if formatter.Format() == output.FormatJSON {
		return output.WriteJSON(w, map[string]any{"hash": tx.Hash().Hex(), "chain_id": h.ChainID(), "nonce": tx.Nonce()})
	}
	out(w, "Transaction sent: %s\n", tx.Hash().Hex())
	if chain, err := cc.Registry.Describe(h.ChainID()); err == nil && chain.ExplorerURL != "" {
		out(w, "Explorer: %s/tx/%s\n", strings.TrimRight(chain.ExplorerURL, "/"), tx.Hash().Hex())
	}
	return nil
}

func displayHandle(w io.Writer, reg *registry.Registry, h *contracts.Handle) error {
	contractABI := h.ABI()
	methods := make([]string, 0, len(contractABI.Methods))
	for _, m := range contractABI.Methods {
		methods = append(methods, m.Sig)
	}
	sort.Strings(methods)

	if formatter.Format() == output.FormatJSON {
		return output.WriteJSON(w, struct {
			Name    string   `json:"name"`
			ChainID uint64   `json:"chain_id"`
			Address string   `json:"address"`
			Account string   `json:"account"`
			Methods []string `json:"methods"`
		}{h.Name(), h.ChainID(), h.Address().Hex(), h.Account().Hex(), methods})
	}

	out(w, "Contract: %s\n", h.Name())
	out(w, "Network:  %s\n", describeChainID(reg, h.ChainID()))
	out(w, "Address:  %s\n", h.Address().Hex())
	out(w, "Account:  %s\n", h.Account().Hex())
	outln(w, "Methods:")
	for _, sig := range methods {
		out(w, "  %s\n", sig)
	}
	return nil
}

func displayResults(w io.Writer, m abi.Method, results []any) error {
	if formatter.Format() == output.FormatJSON {
		named := make(map[string]string, len(results))
		for i, r := range results {
			named[outputName(m, i)] = formatValue(r)
		}
		return output.WriteJSON(w, named)
	}

	if len(results) == 1 {
		outln(w, formatValue(results[0]))
		return nil
	}
	for i, r := range results {
		out(w, "%s: %s\n", outputName(m, i), formatValue(r))
	}
	return nil
}

func outputName(m abi.Method, i int) string {
	if i < len(m.Outputs) && m.Outputs[i].Name != "" {
		return m.Outputs[i].Name
	}
	return strconv.Itoa(i)
}

// parseArgs converts command-line strings into the Go values the method's
// inputs are packed from.
func parseArgs(m abi.Method, raw []string) ([]any, error) {
	if len(raw) != len(m.Inputs) {
		return nil, imalierr.WithSuggestion(
			imalierr.WithDetails(imalierr.ErrInvalidInput, map[string]string{
				"method": m.Name,
				"want":   strconv.Itoa(len(m.Inputs)),
				"got":    strconv.Itoa(len(raw)),
			}),
			"usage: "+m.Sig,
		)
	}

	values := make([]any, len(raw))
	for i, in := range m.Inputs {
		v, err := parseArg(in.Type, raw[i])
		if err != nil {
			name := in.Name
			if name == "" {
				name = strconv.Itoa(i)
			}
			return nil, imalierr.WithDetails(imalierr.WithCause(imalierr.ErrInvalidInput, err), map[string]string{
				"argument": name,
				"type":     in.Type.String(),
			})
		}
		values[i] = v
	}
	return values, nil
}

func parseArg(t abi.Type, s string) (any, error) {
	s = strings.TrimSpace(s)
	switch t.T {
	case abi.AddressTy:
		if !common.IsHexAddress(s) {
			return nil, fmt.Errorf("%q is not an address", s)
		}
		return common.HexToAddress(s), nil
	case abi.BoolTy:
		return strconv.ParseBool(s)
	case abi.StringTy:
		return s, nil
	case abi.IntTy, abi.UintTy:
		return parseInteger(t, s)
	case abi.BytesTy:
		return hexutil.Decode(s)
	case abi.FixedBytesTy:
		b, err := hexutil.Decode(s)
		if err != nil {
			return nil, err
		}
		if len(b) != t.Size {
			return nil, fmt.Errorf("want %d bytes, got %d", t.Size, len(b))
		}
		v := reflect.New(t.GetType()).Elem()
		reflect.Copy(v, reflect.ValueOf(b))
		return v.Interface(), nil
	default:
		return nil, fmt.Errorf("type %s is not supported on the command line", t)
	}
}

func parseInteger(t abi.Type, s string) (any, error) {
	var n *big.Int
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		v, ok := new(big.Int).SetString(s[2:], 16)
		if !ok {
			return nil, fmt.Errorf("%q is not a hex integer", s)
		}
		n = v
	} else {
		d, err := decimal.NewFromString(s)
		if err != nil {
			return nil, fmt.Errorf("%q is not a number", s)
		}
		if !d.IsInteger() {
			return nil, fmt.Errorf("%q is not a whole number", s)
		}
		n = d.BigInt()
	}

	if t.T == abi.UintTy {
		if n.Sign() < 0 || n.BitLen() > t.Size {
			return nil, fmt.Errorf("%s out of range for %s", n, t)
		}
	} else if n.BitLen() >= t.Size {
		return nil, fmt.Errorf("%s out of range for %s", n, t)
	}

	typ := t.GetType()
	if typ == bigIntType {
		return n, nil
	}
	v := reflect.New(typ).Elem()
	if t.T == abi.UintTy {
		v.SetUint(n.Uint64())
	} else {
		v.SetInt(n.Int64())
	}
	return v.Interface(), nil
}

// formatValue renders one decoded ABI value.
func formatValue(v any) string {
	switch x := v.(type) {
	case *big.Int:
		return x.String()
	case common.Address:
		return x.Hex()
	case []byte:
		return hexutil.Encode(x)
	case string:
		return x
	case bool:
		return strconv.FormatBool(x)
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Array && rv.Type().Elem().Kind() == reflect.Uint8 {
		b := make([]byte, rv.Len())
		reflect.Copy(reflect.ValueOf(b), rv)
		return hexutil.Encode(b)
	}
	return fmt.Sprint(v)
}

// contractChainRequired reports an unpinned contract resolved without a
// chain.
func contractChainRequired(reg *registry.Registry, name string) error {
	info, err := reg.Contract(name)
	if err != nil {
		return err
	}
	ids := make([]uint64, 0, len(info.Deployments))
	for id := range info.Deployments {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = describeChainID(reg, id)
	}
	return imalierr.WithSuggestion(
		imalierr.WithDetails(imalierr.ErrInvalidInput, map[string]string{"contract": info.Name}),
		fmt.Sprintf("%s follows the wallet's network; pass --chain (one of %s)", info.Name, strings.Join(keys, ", ")),
	)
}
