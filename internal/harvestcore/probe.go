package harvestcore

import (
	"context"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ligun0805/vault-harvester/internal/watchers"
	"github.com/shopspring/decimal"
)

// ArgShape is the argument list a candidate function is expected to take.
type ArgShape int

const (
	ArgsNone ArgShape = iota
	ArgsPid
	ArgsPidAddress
)

func (s ArgShape) Arity() int {
	switch s {
	case ArgsPid:
		return 1
	case ArgsPidAddress:
		return 2
	}
	return 0
}

func (s ArgShape) String() string {
	switch s {
	case ArgsPid:
		return "(pid)"
	case ArgsPidAddress:
		return "(pid,address)"
	}
	return "()"
}

type Candidate struct {
	Name  string
	Shape ArgShape
}

func (c Candidate) String() string { return c.Name + c.Shape.String() }

// Priority order; first match wins.
var RewardCandidates = []Candidate{
	{"pendingReward", ArgsPidAddress},
	{"pendingReward", ArgsNone},
	{"pendingTokens", ArgsNone},
	{"earned", ArgsNone},
}

// Priority order; first match wins.
var HarvestCandidates = []Candidate{
	{"harvest", ArgsNone},
	{"harvest", ArgsPid},
	{"getReward", ArgsNone},
	{"claimRewards", ArgsNone},
	{"claim", ArgsNone},
}

const (
	MethodStatic = "watcher_static"
	MethodNone   = "none"

	defaultRewardDecimals = 18
)

// PendingReward is the result of one reward probe.
type PendingReward struct {
	Amount decimal.Decimal
	Symbol string
	Method string
	Args   []any
}

// Prober locates reward and harvest functions on contracts without a fixed ABI.
type Prober struct {
	// DefaultSymbol prices rewards of watchers that name no rewardToken.
	DefaultSymbol string
	Logf          func(string, ...any)
}

func NewProber(defaultSymbol string) *Prober {
	return &Prober{DefaultSymbol: strings.ToUpper(defaultSymbol)}
}

func (p *Prober) logf(format string, a ...any) {
	if p.Logf != nil {
		p.Logf(format, a...)
	}
}

func (p *Prober) symbolFor(w *watchers.Watcher) string {
	if s := strings.TrimSpace(w.RewardToken); s != "" {
		return strings.ToUpper(s)
	}
	return p.DefaultSymbol
}

// PendingReward returns the claimable reward for from. A static override on
// the watcher wins over probing and is returned as written. When nothing answers, the result has method
// "none" and the watcher's rewardAmount (or zero).
func (p *Prober) PendingReward(ctx context.Context, c Contract, w *watchers.Watcher, from common.Address) PendingReward {
	if w.HasStaticReward() {
		return PendingReward{Amount: *w.RewardAmount, Symbol: w.RewardToken, Method: MethodStatic}
	}
	sym := p.symbolFor(w)

	decimals := defaultRewardDecimals
	if w.RewardDecimals != nil {
		decimals = *w.RewardDecimals
	}
	pid := big.NewInt(0)
	if w.PID != nil {
		pid = big.NewInt(*w.PID)
	}

	for _, cand := range RewardCandidates {
		if !c.HasMethod(cand.Name, cand.Shape.Arity()) {
			continue
		}
		var args []any
		switch cand.Shape {
		case ArgsPidAddress:
			args = []any{pid, from}
		case ArgsPid:
			args = []any{pid}
		}
		vals, err := c.Call(ctx, from, cand.Name, args...)
		if err != nil {
			p.logf("[probe] %s %s failed: %v", w.DisplayName(), cand, err)
			continue
		}
		n, ok := firstNumber(vals)
		if !ok {
			p.logf("[probe] %s %s returned no integer", w.DisplayName(), cand)
			continue
		}
		return PendingReward{
			Amount: decimal.NewFromBigInt(n, int32(-decimals)),
			Symbol: sym,
			Method: cand.Name,
			Args:   args,
		}
	}

	amount := decimal.Zero
	if w.RewardAmount != nil {
		amount = *w.RewardAmount
	}
	return PendingReward{Amount: amount, Symbol: sym, Method: MethodNone}
}

// HarvestFunction returns the first harvest candidate the contract exposes.
// Argument shape is resolved later by the Builder.
func (p *Prober) HarvestFunction(c Contract) (Candidate, error) {
	for _, cand := range HarvestCandidates {
		if c.HasMethod(cand.Name, cand.Shape.Arity()) {
			return cand, nil
		}
	}
	return Candidate{}, ErrHarvestFunctionNotFound
}
