package harvestcore

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/shopspring/decimal"
)

var weiPerGwei = decimal.New(1, 9)

// GasPrice returns the node's suggested legacy gas price in wei and gwei.
func GasPrice(ctx context.Context, gp ethereum.GasPricer) (*big.Int, decimal.Decimal, error) {
	wei, err := gp.SuggestGasPrice(ctx)
	if err != nil {
		return nil, decimal.Zero, fmt.Errorf("could not get gas price: %w", err)
	}
	return wei, WeiToGwei(wei), nil
}

func WeiToGwei(wei *big.Int) decimal.Decimal {
	if wei == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(wei, -9)
}

func GweiToWei(g decimal.Decimal) *big.Int {
	return g.Mul(weiPerGwei).Truncate(0).BigInt()
}

// mulFrac returns x*num/den rounded down.
func mulFrac(x *big.Int, num, den int64) *big.Int {
	if x == nil {
		return big.NewInt(0)
	}
	r := new(big.Int).Mul(x, big.NewInt(num))
	return r.Quo(r, big.NewInt(den))
}

// Human-readable helpers (native/gwei).
func FormatNative(x *big.Int) string {
	if x == nil {
		return "0"
	}
	r := new(big.Rat).SetFrac(new(big.Int).Set(x), big.NewInt(1_000_000_000_000_000_000))
	return r.FloatString(6)
}

func FormatGwei(x *big.Int) string {
	if x == nil {
		return "0"
	}
	r := new(big.Rat).SetFrac(new(big.Int).Set(x), big.NewInt(1_000_000_000))
	return r.FloatString(2)
}
