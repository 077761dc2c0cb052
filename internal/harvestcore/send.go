package harvestcore

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
)

const (
	DefaultMaxAttempts = 3

	// Replacement conflicts bump gas price by 25% and gas limit by 5%.
	priceBumpNum = 125
	priceBumpDen = 100
	limitBumpNum = 105
	limitBumpDen = 100
)

// Sender signs and submits harvest transactions.
type Sender struct {
	client  ethereum.TransactionSender
	key     *ecdsa.PrivateKey
	chainID *big.Int

	// Classify decides which submission errors are retried. Defaults to
	// DefaultClassifier.
	Classify    ErrorClassifier
	MaxAttempts int
	Sleep       func(context.Context, time.Duration) error
	Logf        func(string, ...any)
}

func NewSender(client ethereum.TransactionSender, key *ecdsa.PrivateKey, chainID *big.Int) *Sender {
	return &Sender{
		client:      client,
		key:         key,
		chainID:     new(big.Int).Set(chainID),
		Classify:    DefaultClassifier,
		MaxAttempts: DefaultMaxAttempts,
		Sleep:       sleepCtx,
	}
}

func (s *Sender) logf(format string, a ...any) {
	if s.Logf != nil {
		s.Logf(format, a...)
	}
}

// Send submits tmpl at gasPrice/gasLimit and returns the transaction hash.
// Replacement conflicts are retried with bumped gas; any other failure
// returns a *SendError at once.
func (s *Sender) Send(ctx context.Context, tmpl *TxTemplate, gasPrice *big.Int, gasLimit uint64) (string, error) {
	if tmpl == nil {
		return "", errors.New("nil transaction template")
	}
	if gasPrice == nil || gasPrice.Sign() <= 0 {
		return "", fmt.Errorf("invalid gas price %v", gasPrice)
	}
	classify := s.Classify
	if classify == nil {
		classify = DefaultClassifier
	}
	maxAttempts := s.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	sleep := s.Sleep
	if sleep == nil {
		sleep = sleepCtx
	}

	price := new(big.Int).Set(gasPrice)
	limit := gasLimit
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		signed, err := signTx(buildLegacyTx(tmpl, price, limit), s.chainID, s.key)
		if err != nil {
			return "", fmt.Errorf("could not sign tx: %w", err)
		}
		s.logf("[send] attempt %d/%d %s nonce=%d gasPrice=%s gwei gas=%d", attempt, maxAttempts, tmpl.Method, tmpl.Nonce, FormatGwei(price), limit)

		err = s.client.SendTransaction(ctx, signed)
		if err == nil {
			return signed.Hash().Hex(), nil
		}
		serr := &SendError{Kind: classify(err), Attempt: attempt, Err: err}
		if serr.Kind != KindReplacementConflict {
			return "", serr
		}
		lastErr = serr
		if attempt == maxAttempts {
			break
		}

		price = mulFrac(price, priceBumpNum, priceBumpDen)
		limit = limit * limitBumpNum / limitBumpDen
		s.logf("[send] replacement conflict => bump gasPrice=%s gwei gas=%d", FormatGwei(price), limit)
		if err := sleep(ctx, time.Duration(attempt+1)*time.Second); err != nil {
			return "", err
		}
	}
	return "", fmt.Errorf("%w: %w", ErrMaxRetries, lastErr)
}
