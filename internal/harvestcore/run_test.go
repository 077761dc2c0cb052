package harvestcore

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ligun0805/vault-harvester/internal/watchers"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

// revertsUnless simulates successfully only for the listed packed calls.
func revertsUnless(ok ...string) func(ethereum.CallMsg) ([]byte, error) {
	return func(msg ethereum.CallMsg) ([]byte, error) {
		for _, k := range ok {
			if string(msg.Data) == k {
				return nil, nil
			}
		}
		return nil, errors.New("execution reverted: wrong pid")
	}
}

func TestBuildZeroArgs(t *testing.T) {
	chain := &fakeChain{call: revertsUnless("harvest/0"), estimate: 100_000, nonce: 9}
	c := newFakeContract("harvest/0", "harvest/1")

	tmpl, err := NewBuilder(chain).Build(context.Background(), c, "harvest", pid(2), wallet)
	require.NoError(t, err)
	require.Empty(t, tmpl.Args)
	require.Equal(t, uint64(120_000), tmpl.GasLimit)
	require.True(t, tmpl.Estimated)
	require.Equal(t, uint64(9), tmpl.Nonce)
	require.Equal(t, c.Address(), tmpl.To)
}

func TestBuildFallsBackToPid(t *testing.T) {
	chain := &fakeChain{call: revertsUnless("harvest/1"), estimateErr: errors.New("gas required exceeds allowance")}
	c := newFakeContract("harvest/0", "harvest/1")

	tmpl, err := NewBuilder(chain).Build(context.Background(), c, "harvest", pid(2), wallet)
	require.NoError(t, err)
	require.Equal(t, []any{big.NewInt(2)}, tmpl.Args)
	require.Equal(t, DefaultGasLimit, tmpl.GasLimit)
	require.False(t, tmpl.Estimated)
}

func TestBuildUnbuildable(t *testing.T) {
	chain := &fakeChain{call: revertsUnless()}
	c := newFakeContract("harvest/0", "harvest/1")

	_, err := NewBuilder(chain).Build(context.Background(), c, "harvest", pid(2), wallet)
	require.ErrorIs(t, err, ErrUnbuildableTx)

	_, err = NewBuilder(chain).Build(context.Background(), c, "harvest", nil, wallet)
	require.ErrorIs(t, err, ErrUnbuildableTx)
}

func testParams(t *testing.T, chain *fakeChain) Params {
	s, _ := newTestSender(t, chain)
	return Params{
		Client:   chain,
		From:     wallet,
		Prober:   NewProber("MATIC"),
		Builder:  NewBuilder(chain),
		Sender:   s,
		Prices:   fakePrices{"MATIC": decimal.RequireFromString("0.80")},
		Decision: DefaultDecisionConfig(),
	}
}

func staticWatcher() *watchers.Watcher {
	amount := decimal.RequireFromString("5.0")
	return &watchers.Watcher{Name: "static", Protocol: "oracle", RewardToken: "MATIC", RewardAmount: &amount}
}

func TestAnalyzeSuccess(t *testing.T) {
	chain := &fakeChain{call: revertsUnless("getReward/0"), estimate: 175_000, gasPrice: gwei(30)}
	c := newFakeContract("getReward/0")

	out := Analyze(context.Background(), staticWatcher(), c, testParams(t, chain))
	require.NoError(t, out.Err)
	require.Equal(t, StateSuccess, out.State)
	require.Equal(t, []State{
		StateIdle, StateProbingReward, StateProbingHarvestFn, StateBuildingTx,
		StateDeciding, StateSending, StateSuccess,
	}, out.Trace)
	require.Len(t, chain.sent, 1)
	require.Equal(t, chain.sent[0].Hash().Hex(), out.TxHash)
	require.Equal(t, uint64(210_000), chain.sent[0].Gas())
	require.Equal(t, ReasonOK, out.Decision.Reason)
}

func TestAnalyzeHarvestNotFound(t *testing.T) {
	chain := &fakeChain{gasPrice: gwei(30)}
	out := Analyze(context.Background(), staticWatcher(), newFakeContract("deposit/1"), testParams(t, chain))
	require.Equal(t, StateFailed, out.State)
	require.Equal(t, StateProbingHarvestFn, out.FailedAt)
	require.ErrorIs(t, out.Err, ErrHarvestFunctionNotFound)
	require.Equal(t, "no_harvest_function_found", out.LastError())
	require.Empty(t, chain.sent)
}

func TestAnalyzeSkipsUnprofitable(t *testing.T) {
	chain := &fakeChain{call: revertsUnless("claim/0"), estimate: 100_000, gasPrice: gwei(30)}
	w := &watchers.Watcher{Name: "empty"}

	out := Analyze(context.Background(), w, newFakeContract("claim/0"), testParams(t, chain))
	require.Equal(t, StateSkipped, out.State)
	require.Equal(t, MethodNone, out.Reward.Method)
	require.Equal(t, ReasonRewardBelowMinimum, out.Decision.Reason)
	require.NotEmpty(t, out.Diagnostics)
	require.Empty(t, chain.sent)
}

func TestAnalyzeDryRunNeverSends(t *testing.T) {
	chain := &fakeChain{call: revertsUnless("harvest/0"), estimate: 100_000, gasPrice: gwei(30)}
	p := testParams(t, chain)
	p.DryRun = true
	p.Sender = nil

	out := Analyze(context.Background(), staticWatcher(), newFakeContract("harvest/0"), p)
	require.Equal(t, StateSkipped, out.State)
	require.True(t, out.DryRun)
	require.True(t, out.Decision.Should)
	require.Empty(t, chain.sent)
}

func TestAnalyzeSendFailure(t *testing.T) {
	chain := &fakeChain{
		call:     revertsUnless("harvest/0"),
		estimate: 100_000,
		gasPrice: gwei(30),
		sendErrs: []error{errors.New("nonce too low")},
	}
	out := Analyze(context.Background(), staticWatcher(), newFakeContract("harvest/0"), testParams(t, chain))
	require.Equal(t, StateFailed, out.State)
	require.Equal(t, StateSending, out.FailedAt)
	require.Contains(t, out.LastError(), "send_tx_failed: ")
}

func TestAnalyzeNeedsNativePrice(t *testing.T) {
	chain := &fakeChain{call: revertsUnless("harvest/0"), estimate: 100_000, gasPrice: gwei(30)}
	p := testParams(t, chain)
	p.Prices = fakePrices{}

	out := Analyze(context.Background(), staticWatcher(), newFakeContract("harvest/0"), p)
	require.Equal(t, StateFailed, out.State)
	require.Equal(t, StateDeciding, out.FailedAt)
	require.ErrorIs(t, out.Err, ErrNoNativePrice)
}
