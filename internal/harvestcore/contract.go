package harvestcore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"os"
	"reflect"
	"sort"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// ChainClient is the subset of *ethclient.Client the pipeline talks to.
type ChainClient interface {
	ethereum.ContractCaller
	ethereum.GasEstimator
	ethereum.GasPricer
	ethereum.TransactionSender
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	ChainID(ctx context.Context) (*big.Int, error)
}

// Contract answers capability queries about one deployed contract.
type Contract interface {
	Address() common.Address
	// HasMethod reports whether a callable named name taking arity inputs exists.
	HasMethod(name string, arity int) bool
	Pack(name string, args ...any) ([]byte, error)
	Call(ctx context.Context, from common.Address, name string, args ...any) ([]any, error)
}

// BoundContract implements Contract on top of a parsed ABI.
type BoundContract struct {
	addr   common.Address
	abi    abi.ABI
	caller ethereum.ContractCaller
}

func NewBoundContract(addr common.Address, parsed abi.ABI, caller ethereum.ContractCaller) *BoundContract {
	return &BoundContract{addr: addr, abi: parsed, caller: caller}
}

// LoadContract parses the ABI stored in abiFile. Both a bare ABI array and a
// build artifact with an "abi" field are accepted.
func LoadContract(addr common.Address, abiFile string, caller ethereum.ContractCaller) (*BoundContract, error) {
	raw, err := os.ReadFile(abiFile)
	if err != nil {
		return nil, fmt.Errorf("could not read abi file %q: %w", abiFile, err)
	}
	parsed, err := ParseABI(raw)
	if err != nil {
		return nil, fmt.Errorf("could not parse abi file %q: %w", abiFile, err)
	}
	return NewBoundContract(addr, parsed, caller), nil
}

func ParseABI(raw []byte) (abi.ABI, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '{' {
		var artifact struct {
			ABI json.RawMessage `json:"abi"`
		}
		if err := json.Unmarshal(raw, &artifact); err != nil {
			return abi.ABI{}, err
		}
		if len(artifact.ABI) == 0 {
			return abi.ABI{}, errors.New("artifact has no abi field")
		}
		raw = artifact.ABI
	}
	return abi.JSON(bytes.NewReader(raw))
}

func (c *BoundContract) Address() common.Address { return c.addr }

// method resolves an overloaded name by arity. Overloads are stored by the
// abi package under suffixed keys, so match on RawName.
func (c *BoundContract) method(name string, arity int) (abi.Method, bool) {
	keys := make([]string, 0, len(c.abi.Methods))
	for k := range c.abi.Methods {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		m := c.abi.Methods[k]
		if m.RawName == name && len(m.Inputs) == arity {
			return m, true
		}
	}
	return abi.Method{}, false
}

func (c *BoundContract) HasMethod(name string, arity int) bool {
	_, ok := c.method(name, arity)
	return ok
}

func (c *BoundContract) Pack(name string, args ...any) ([]byte, error) {
	m, ok := c.method(name, len(args))
	if !ok {
		return nil, fmt.Errorf("contract %s has no %s with %d inputs", c.addr.Hex(), name, len(args))
	}
	coerced, err := coerceArgs(m.Inputs, args)
	if err != nil {
		return nil, fmt.Errorf("could not convert args for %s: %w", m.Sig, err)
	}
	return c.abi.Pack(m.Name, coerced...)
}

func (c *BoundContract) Call(ctx context.Context, from common.Address, name string, args ...any) ([]any, error) {
	m, ok := c.method(name, len(args))
	if !ok {
		return nil, fmt.Errorf("contract %s has no %s with %d inputs", c.addr.Hex(), name, len(args))
	}
	data, err := c.Pack(name, args...)
	if err != nil {
		return nil, err
	}
	ret, err := callWithRetry(ctx, c.caller, ethereum.CallMsg{From: from, To: &c.addr, Data: data})
	if err != nil {
		return nil, fmt.Errorf("eth_call %s: %s", m.Sig, revertReason(err))
	}
	if len(ret) == 0 {
		return nil, fmt.Errorf("eth_call %s: empty return data", m.Sig)
	}
	return m.Outputs.Unpack(ret)
}

// coerceArgs converts *big.Int arguments into the exact Go types the abi
// packer expects for small integer widths.
func coerceArgs(inputs abi.Arguments, args []any) ([]any, error) {
	out := make([]any, len(args))
	for i, a := range args {
		out[i] = a
		x, ok := a.(*big.Int)
		if !ok {
			continue
		}
		want := inputs[i].Type.GetType()
		switch want.Kind() {
		case reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			if x.Sign() < 0 || !x.IsUint64() {
				return nil, fmt.Errorf("arg %d: %s does not fit %s", i, x, inputs[i].Type)
			}
			out[i] = reflect.ValueOf(x.Uint64()).Convert(want).Interface()
		case reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			if !x.IsInt64() {
				return nil, fmt.Errorf("arg %d: %s does not fit %s", i, x, inputs[i].Type)
			}
			out[i] = reflect.ValueOf(x.Int64()).Convert(want).Interface()
		}
	}
	return out, nil
}

// firstNumber returns the first integer found in unpacked outputs. Arrays
// contribute their first element.
func firstNumber(vals []any) (*big.Int, bool) {
	for _, v := range vals {
		switch x := v.(type) {
		case *big.Int:
			if x != nil {
				return new(big.Int).Set(x), true
			}
		case []*big.Int:
			if len(x) > 0 && x[0] != nil {
				return new(big.Int).Set(x[0]), true
			}
		case uint8:
			return new(big.Int).SetUint64(uint64(x)), true
		case uint16:
			return new(big.Int).SetUint64(uint64(x)), true
		case uint32:
			return new(big.Int).SetUint64(uint64(x)), true
		case uint64:
			return new(big.Int).SetUint64(x), true
		case int8:
			return big.NewInt(int64(x)), true
		case int16:
			return big.NewInt(int64(x)), true
		case int32:
			return big.NewInt(int64(x)), true
		case int64:
			return big.NewInt(x), true
		}
	}
	return nil, false
}
