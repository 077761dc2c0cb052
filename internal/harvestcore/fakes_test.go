package harvestcore

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"
)

// fakeContract answers capability queries from a fixed method table. Pack
// encodes "name/arity" so fakeChain can tell calls apart.
type fakeContract struct {
	addr    common.Address
	methods map[string]bool
	results map[string][]any
	errs    map[string]error
	calls   []string
}

func newFakeContract(methods ...string) *fakeContract {
	c := &fakeContract{
		addr:    common.HexToAddress("0x00000000000000000000000000000000000000aa"),
		methods: make(map[string]bool),
		results: make(map[string][]any),
		errs:    make(map[string]error),
	}
	for _, m := range methods {
		c.methods[m] = true
	}
	return c
}

func methodKey(name string, arity int) string { return fmt.Sprintf("%s/%d", name, arity) }

func (c *fakeContract) Address() common.Address { return c.addr }

func (c *fakeContract) HasMethod(name string, arity int) bool {
	return c.methods[methodKey(name, arity)]
}

func (c *fakeContract) Pack(name string, args ...any) ([]byte, error) {
	k := methodKey(name, len(args))
	if !c.methods[k] {
		return nil, errors.New("no such method " + k)
	}
	return []byte(k), nil
}

func (c *fakeContract) Call(_ context.Context, _ common.Address, name string, args ...any) ([]any, error) {
	k := methodKey(name, len(args))
	c.calls = append(c.calls, k)
	if err := c.errs[k]; err != nil {
		return nil, err
	}
	return c.results[k], nil
}

// fakeChain is an in-memory ChainClient.
type fakeChain struct {
	call        func(msg ethereum.CallMsg) ([]byte, error)
	estimate    uint64
	estimateErr error
	nonce       uint64
	gasPrice    *big.Int
	gasPriceErr error
	chainID     *big.Int

	sendErrs []error
	sent     []*types.Transaction
}

func (f *fakeChain) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	if f.call == nil {
		return nil, nil
	}
	return f.call(msg)
}

func (f *fakeChain) EstimateGas(context.Context, ethereum.CallMsg) (uint64, error) {
	return f.estimate, f.estimateErr
}

func (f *fakeChain) SuggestGasPrice(context.Context) (*big.Int, error) {
	if f.gasPriceErr != nil {
		return nil, f.gasPriceErr
	}
	return new(big.Int).Set(f.gasPrice), nil
}

func (f *fakeChain) SendTransaction(_ context.Context, tx *types.Transaction) error {
	f.sent = append(f.sent, tx)
	if i := len(f.sent) - 1; i < len(f.sendErrs) {
		return f.sendErrs[i]
	}
	return nil
}

func (f *fakeChain) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	return f.nonce, nil
}

func (f *fakeChain) ChainID(context.Context) (*big.Int, error) {
	return f.chainID, nil
}

type fakePrices map[string]decimal.Decimal

func (p fakePrices) Price(_ context.Context, symbol string) (decimal.Decimal, error) {
	v, ok := p[symbol]
	if !ok {
		return decimal.Zero, errors.New("no price for " + symbol)
	}
	return v, nil
}

type sleepRecorder struct{ slept []time.Duration }

func (s *sleepRecorder) sleep(_ context.Context, d time.Duration) error {
	s.slept = append(s.slept, d)
	return nil
}

func gwei(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), big.NewInt(1_000_000_000))
}
