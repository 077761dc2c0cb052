package harvestcore

import (
	"bytes"
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ligun0805/vault-harvester/internal/watchers"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

const chefABI = `[
  {"type":"function","name":"pendingReward","stateMutability":"view",
   "inputs":[{"name":"_pid","type":"uint256"},{"name":"_user","type":"address"}],
   "outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"pendingReward","stateMutability":"view",
   "inputs":[],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"pendingTokens","stateMutability":"view",
   "inputs":[],"outputs":[{"name":"","type":"uint256[]"}]},
  {"type":"function","name":"harvest","stateMutability":"nonpayable",
   "inputs":[{"name":"_pid","type":"uint256"}],"outputs":[]}
]`

var wallet = common.HexToAddress("0x00000000000000000000000000000000000000bb")

func selector(sig string) []byte { return gethcrypto.Keccak256([]byte(sig))[:4] }

func word(x *big.Int) []byte { return common.LeftPadBytes(x.Bytes(), 32) }

func pid(n int64) *int64 { return &n }

func TestBoundContractOverloads(t *testing.T) {
	parsed, err := ParseABI([]byte(chefABI))
	require.NoError(t, err)
	c := NewBoundContract(common.HexToAddress("0xaa"), parsed, &fakeChain{})

	require.True(t, c.HasMethod("pendingReward", 2))
	require.True(t, c.HasMethod("pendingReward", 0))
	require.False(t, c.HasMethod("pendingReward", 1))
	require.True(t, c.HasMethod("harvest", 1))
	require.False(t, c.HasMethod("harvest", 0))

	data, err := c.Pack("harvest", big.NewInt(3))
	require.NoError(t, err)
	require.Equal(t, selector("harvest(uint256)"), data[:4])
}

func TestParseABIArtifact(t *testing.T) {
	parsed, err := ParseABI([]byte(`{"contractName":"Chef","abi":` + chefABI + `}`))
	require.NoError(t, err)
	require.Len(t, parsed.Methods, 4)

	_, err = ParseABI([]byte(`{"contractName":"Chef"}`))
	require.Error(t, err)
}

func TestPendingRewardScalesRawResult(t *testing.T) {
	parsed, err := ParseABI([]byte(chefABI))
	require.NoError(t, err)

	withArgs := selector("pendingReward(uint256,address)")
	raw := new(big.Int).Mul(big.NewInt(15), big.NewInt(100_000_000_000_000_000)) // 1.5e18
	chain := &fakeChain{call: func(msg ethereum.CallMsg) ([]byte, error) {
		if bytes.Equal(msg.Data[:4], withArgs) {
			return word(raw), nil
		}
		return nil, errors.New("execution reverted")
	}}
	c := NewBoundContract(common.HexToAddress("0xaa"), parsed, chain)

	w := &watchers.Watcher{Name: "chef", RewardToken: "quick", PID: pid(7)}
	got := NewProber("MATIC").PendingReward(context.Background(), c, w, wallet)
	require.Equal(t, "pendingReward", got.Method)
	require.Equal(t, "QUICK", got.Symbol)
	require.True(t, got.Amount.Equal(decimal.RequireFromString("1.5")), got.Amount.String())
	require.Equal(t, []any{big.NewInt(7), wallet}, got.Args)
}

func TestPendingRewardFallsThroughReverts(t *testing.T) {
	c := newFakeContract("pendingReward/2", "pendingReward/0", "earned/0")
	c.errs["pendingReward/2"] = errors.New("execution reverted")
	c.results["pendingReward/0"] = []any{"not a number"}
	c.results["earned/0"] = []any{big.NewInt(2_000_000)}

	six := 6
	w := &watchers.Watcher{Name: "usdc vault", RewardToken: "USDC", RewardDecimals: &six}
	got := NewProber("MATIC").PendingReward(context.Background(), c, w, wallet)
	require.Equal(t, "earned", got.Method)
	require.True(t, got.Amount.Equal(decimal.NewFromInt(2)))
	require.Equal(t, []string{"pendingReward/2", "pendingReward/0", "earned/0"}, c.calls)
}

func TestPendingRewardStaticOverrideWins(t *testing.T) {
	c := newFakeContract("pendingReward/0")
	c.results["pendingReward/0"] = []any{big.NewInt(9)}

	amount := decimal.RequireFromString("5.0")
	w := &watchers.Watcher{Name: "static", RewardToken: "MATIC", RewardAmount: &amount}
	got := NewProber("MATIC").PendingReward(context.Background(), c, w, wallet)
	require.Equal(t, MethodStatic, got.Method)
	require.True(t, got.Amount.Equal(amount))
	require.Equal(t, "MATIC", got.Symbol)
	require.Empty(t, c.calls, "static override must skip probing")
}

func TestPendingRewardStaticOverrideKeepsTokenAsWritten(t *testing.T) {
	amount := decimal.RequireFromString("2.5")
	w := &watchers.Watcher{Name: "static", RewardToken: "matic", RewardAmount: &amount}
	got := NewProber("MATIC").PendingReward(context.Background(), newFakeContract(), w, wallet)
	require.Equal(t, MethodStatic, got.Method)
	require.Equal(t, "matic", got.Symbol)
	require.True(t, got.Amount.Equal(amount))
}

func TestPendingRewardZeroStaticAmountStillProbes(t *testing.T) {
	c := newFakeContract("earned/0")
	c.results["earned/0"] = []any{big.NewInt(7)}

	zero := decimal.Zero
	decimals := 0
	w := &watchers.Watcher{Name: "zero", RewardToken: "QUICK", RewardAmount: &zero, RewardDecimals: &decimals}
	got := NewProber("MATIC").PendingReward(context.Background(), c, w, wallet)
	require.Equal(t, "earned", got.Method)
	require.True(t, got.Amount.Equal(decimal.NewFromInt(7)))
	require.Equal(t, "QUICK", got.Symbol)
}

func TestPendingRewardNoneMatched(t *testing.T) {
	c := newFakeContract("deposit/1", "withdraw/1")
	w := &watchers.Watcher{Name: "bare"}
	got := NewProber("MATIC").PendingReward(context.Background(), c, w, wallet)
	require.Equal(t, MethodNone, got.Method)
	require.True(t, got.Amount.IsZero())
	require.Equal(t, "MATIC", got.Symbol)
}

func TestHarvestFunctionPriority(t *testing.T) {
	p := NewProber("MATIC")

	got, err := p.HarvestFunction(newFakeContract("claim/0", "getReward/0", "harvest/1"))
	require.NoError(t, err)
	require.Equal(t, Candidate{"harvest", ArgsPid}, got)

	got, err = p.HarvestFunction(newFakeContract("claim/0", "claimRewards/0"))
	require.NoError(t, err)
	require.Equal(t, "claimRewards", got.Name)

	_, err = p.HarvestFunction(newFakeContract("deposit/1"))
	require.ErrorIs(t, err, ErrHarvestFunctionNotFound)
}

func TestFirstNumber(t *testing.T) {
	n, ok := firstNumber([]any{common.Address{}, []*big.Int{big.NewInt(4), big.NewInt(5)}})
	require.True(t, ok)
	require.Equal(t, int64(4), n.Int64())

	n, ok = firstNumber([]any{uint64(12)})
	require.True(t, ok)
	require.Equal(t, int64(12), n.Int64())

	_, ok = firstNumber([]any{"x", []*big.Int{}})
	require.False(t, ok)
}

func TestCoerceArgs(t *testing.T) {
	u64, err := abi.NewType("uint64", "", nil)
	require.NoError(t, err)
	u256, err := abi.NewType("uint256", "", nil)
	require.NoError(t, err)
	inputs := abi.Arguments{{Type: u64}, {Type: u256}}

	out, err := coerceArgs(inputs, []any{big.NewInt(5), big.NewInt(6)})
	require.NoError(t, err)
	require.Equal(t, uint64(5), out[0])
	require.Equal(t, big.NewInt(6), out[1])

	_, err = coerceArgs(inputs, []any{big.NewInt(-1), big.NewInt(6)})
	require.Error(t, err)
}
