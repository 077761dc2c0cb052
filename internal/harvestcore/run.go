package harvestcore

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ligun0805/vault-harvester/internal/watchers"
	"github.com/shopspring/decimal"
)

// State is a step of the per-watcher pipeline.
type State string

const (
	StateIdle             State = "IDLE"
	StateProbingReward    State = "PROBING_REWARD"
	StateProbingHarvestFn State = "PROBING_HARVEST_FN"
	StateBuildingTx       State = "BUILDING_TX"
	StateDeciding         State = "DECIDING"
	StateSending          State = "SENDING"
	StateSuccess          State = "SUCCESS"
	StateSkipped          State = "SKIPPED"
	StateFailed           State = "FAILED"
)

// PriceSource returns USD prices; *prices.Cache implements it.
type PriceSource interface {
	Price(ctx context.Context, symbol string) (decimal.Decimal, error)
}

type Params struct {
	Client   ChainClient
	From     common.Address
	Prober   *Prober
	Builder  *Builder
	Sender   *Sender // may be nil when DryRun
	Prices   PriceSource
	Decision DecisionConfig
	DryRun   bool
	Logf     func(string, ...any)
}

func (p *Params) logf(format string, a ...any) {
	if p.Logf != nil {
		p.Logf(format, a...)
	}
}

// Outcome is what one pass of the pipeline did for one watcher.
type Outcome struct {
	State    State   // SUCCESS, SKIPPED or FAILED
	FailedAt State   // set when State is FAILED
	Trace    []State // states entered, in order

	Reward   PendingReward
	Harvest  Candidate
	Template *TxTemplate
	GasPrice *big.Int
	Decision Decision
	TxHash   string
	DryRun   bool

	// Non-fatal notes, e.g. no reward function matched.
	Diagnostics []string
	Err         error
}

func (o *Outcome) enter(s State) { o.Trace = append(o.Trace, s) }

func (o *Outcome) fail(at State, err error) Outcome {
	o.FailedAt = at
	o.State = StateFailed
	o.Err = err
	o.enter(StateFailed)
	return *o
}

// ErrorCode is the short prefix stored in a watcher's last_error.
func (o *Outcome) ErrorCode() string {
	switch {
	case o.FailedAt == StateIdle:
		return "load_contract_failed"
	case errors.Is(o.Err, ErrHarvestFunctionNotFound):
		return "no_harvest_function_found"
	case o.FailedAt == StateBuildingTx:
		return "build_tx_error"
	case o.FailedAt == StateDeciding:
		return "decide_error"
	case o.FailedAt == StateSending:
		return "send_tx_failed"
	}
	return "error"
}

// LastError renders the outcome error for a watcher's last_error field.
func (o *Outcome) LastError() string {
	if o.Err == nil {
		return ""
	}
	if errors.Is(o.Err, ErrHarvestFunctionNotFound) {
		return o.ErrorCode()
	}
	return o.ErrorCode() + ": " + o.Err.Error()
}

// LoadFailed builds the outcome for a watcher whose contract could not be loaded.
func LoadFailed(err error) Outcome {
	o := Outcome{}
	o.enter(StateIdle)
	return o.fail(StateIdle, err)
}

// Analyze runs probe, build, decide and send for w against c. It does not
// mutate w; the caller applies the outcome.
func Analyze(ctx context.Context, w *watchers.Watcher, c Contract, p Params) Outcome {
	o := Outcome{DryRun: p.DryRun}
	o.enter(StateIdle)

	o.enter(StateProbingReward)
	o.Reward = p.Prober.PendingReward(ctx, c, w, p.From)
	if o.Reward.Method == MethodNone {
		o.Diagnostics = append(o.Diagnostics, "no pending reward function matched")
	}
	p.logf("[probe] %s reward=%s %s via %s", w.DisplayName(), o.Reward.Amount, o.Reward.Symbol, o.Reward.Method)

	o.enter(StateProbingHarvestFn)
	cand, err := p.Prober.HarvestFunction(c)
	if err != nil {
		return o.fail(StateProbingHarvestFn, err)
	}
	o.Harvest = cand

	o.enter(StateBuildingTx)
	tmpl, err := p.Builder.Build(ctx, c, cand.Name, w.PID, p.From)
	if err != nil {
		return o.fail(StateBuildingTx, err)
	}
	o.Template = tmpl

	o.enter(StateDeciding)
	gasWei, gasGwei, err := GasPrice(ctx, p.Client)
	if err != nil {
		return o.fail(StateDeciding, err)
	}
	o.GasPrice = gasWei
	snap, err := p.snapshot(ctx, o.Reward.Symbol)
	if err != nil {
		return o.fail(StateDeciding, err)
	}
	o.Decision = Decide(o.Reward, gasGwei, tmpl.GasLimit, snap, p.Decision)
	p.logf("[decide] %s %s", w.DisplayName(), o.Decision)
	if !o.Decision.Should || p.DryRun {
		o.State = StateSkipped
		o.enter(StateSkipped)
		return o
	}

	o.enter(StateSending)
	if p.Sender == nil {
		return o.fail(StateSending, errors.New("no sender configured"))
	}
	hash, err := p.Sender.Send(ctx, tmpl, gasWei, tmpl.GasLimit)
	if err != nil {
		return o.fail(StateSending, err)
	}
	o.TxHash = hash
	o.State = StateSuccess
	o.enter(StateSuccess)
	return o
}

// snapshot prices the reward token and the native token. A missing reward
// price counts as zero; a missing native price is an error because gas cost
// would read as free.
func (p *Params) snapshot(ctx context.Context, rewardSymbol string) (Prices, error) {
	native := strings.ToUpper(p.Decision.NativeSymbol)
	if native == "" {
		native = "MATIC"
	}
	snap := Prices{}
	np, err := p.Prices.Price(ctx, native)
	if err != nil || !np.IsPositive() {
		return nil, fmt.Errorf("%w (%s): %v", ErrNoNativePrice, native, err)
	}
	snap[native] = np

	sym := strings.ToUpper(rewardSymbol)
	if sym == "" || sym == native {
		return snap, nil
	}
	rp, err := p.Prices.Price(ctx, sym)
	if err != nil {
		p.logf("[decide] no price for %s (using 0): %v", sym, err)
		rp = decimal.Zero
	}
	snap[sym] = rp
	return snap, nil
}
