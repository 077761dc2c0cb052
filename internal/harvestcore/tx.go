package harvestcore

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

const DefaultGasLimit uint64 = 210_000

// Estimates are padded by 20%.
const (
	gasBufferNum = 120
	gasBufferDen = 100
)

// TxTemplate is an unsigned harvest call. Gas price is chosen at send time.
type TxTemplate struct {
	To        common.Address
	From      common.Address
	Method    string
	Args      []any
	Data      []byte
	Nonce     uint64
	GasLimit  uint64
	Estimated bool // false when GasLimit is the fallback
}

// Builder resolves the argument shape of a harvest function and prepares the
// transaction template.
type Builder struct {
	Client          ChainClient
	DefaultGasLimit uint64
	Logf            func(string, ...any)
}

func NewBuilder(client ChainClient) *Builder {
	return &Builder{Client: client, DefaultGasLimit: DefaultGasLimit}
}

func (b *Builder) logf(format string, a ...any) {
	if b.Logf != nil {
		b.Logf(format, a...)
	}
}

// Build packs method with no arguments and simulates it. When that fails and
// pid is set, it retries with (pid). ErrUnbuildableTx is returned when no
// shape works.
func (b *Builder) Build(ctx context.Context, c Contract, method string, pid *int64, from common.Address) (*TxTemplate, error) {
	shapes := [][]any{nil}
	if pid != nil {
		shapes = append(shapes, []any{big.NewInt(*pid)})
	}

	to := c.Address()
	var lastErr error
	for _, args := range shapes {
		if !c.HasMethod(method, len(args)) {
			lastErr = fmt.Errorf("no %s with %d inputs", method, len(args))
			continue
		}
		data, err := c.Pack(method, args...)
		if err != nil {
			lastErr = err
			continue
		}
		msg := ethereum.CallMsg{From: from, To: &to, Data: data, Value: big.NewInt(0)}
		if _, err := callWithRetry(ctx, b.Client, msg); err != nil {
			lastErr = fmt.Errorf("simulation of %s with %d args: %s", method, len(args), revertReason(err))
			b.logf("[build] %v", lastErr)
			continue
		}

		nonce, err := b.Client.PendingNonceAt(ctx, from)
		if err != nil {
			return nil, fmt.Errorf("could not get pending nonce for %s: %w", from.Hex(), err)
		}
		tmpl := &TxTemplate{
			To:     to,
			From:   from,
			Method: method,
			Args:   args,
			Data:   data,
			Nonce:  nonce,
		}
		tmpl.GasLimit, tmpl.Estimated = b.gasLimit(ctx, msg)
		return tmpl, nil
	}
	return nil, fmt.Errorf("%w for %s: %w", ErrUnbuildableTx, method, lastErr)
}

func (b *Builder) gasLimit(ctx context.Context, msg ethereum.CallMsg) (uint64, bool) {
	est, err := b.Client.EstimateGas(ctx, msg)
	if err != nil || est == 0 {
		fallback := b.DefaultGasLimit
		if fallback == 0 {
			fallback = DefaultGasLimit
		}
		b.logf("[build] gas estimate failed (%v) => fallback %d", err, fallback)
		return fallback, false
	}
	return est * gasBufferNum / gasBufferDen, true
}

func buildLegacyTx(t *TxTemplate, gasPrice *big.Int, gasLimit uint64) *types.Transaction {
	to := t.To
	return types.NewTx(&types.LegacyTx{
		Nonce:    t.Nonce,
		GasPrice: new(big.Int).Set(gasPrice),
		Gas:      gasLimit,
		To:       &to,
		Value:    big.NewInt(0),
		Data:     t.Data,
	})
}

// Sign transaction with latest signer for given chain ID.
func signTx(tx *types.Transaction, chain *big.Int, prv *ecdsa.PrivateKey) (*types.Transaction, error) {
	signer := types.LatestSignerForChainID(chain)
	return types.SignTx(tx, signer, prv)
}
