package harvester

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/ligun0805/vault-harvester/internal/harvestcore"
	"github.com/ligun0805/vault-harvester/internal/ledger"
	"github.com/ligun0805/vault-harvester/internal/notify"
	"github.com/ligun0805/vault-harvester/internal/watchers"
)

type Config struct {
	From    common.Address
	Key     *ecdsa.PrivateKey
	ChainID *big.Int // nil means ask the node once

	Decision harvestcore.DecisionConfig
	DryRun   bool

	FailThreshold int
	FailPause     time.Duration
	LoopSleep     time.Duration

	// ProtocolEnabled filters watchers by protocol; nil enables all.
	ProtocolEnabled func(protocol string) bool
}

// Saver persists the whole watcher list.
type Saver interface {
	Save([]*watchers.Watcher) error
}

// Recorder appends completed harvests to a ledger.
type Recorder interface {
	Append(ledger.Entry) error
}

type Deps struct {
	Acquire  func(ctx context.Context) (harvestcore.ChainClient, error)
	Store    Saver
	Ledger   Recorder
	Notifier notify.Notifier
	Prices   harvestcore.PriceSource

	// LoadContract defaults to reading the watcher's abi_file.
	LoadContract func(w *watchers.Watcher, client harvestcore.ChainClient) (harvestcore.Contract, error)
	Now          func() time.Time
	Sleep        func(ctx context.Context, d time.Duration) error
}

// Harvester owns the watcher list and runs the polling loop. It is not safe
// for concurrent use.
type Harvester struct {
	cfg      Config
	deps     Deps
	watchers []*watchers.Watcher

	chainID   *big.Int
	failCount int
}

func New(cfg Config, deps Deps, ws []*watchers.Watcher) (*Harvester, error) {
	if deps.Acquire == nil {
		return nil, fmt.Errorf("harvester needs an rpc acquire function")
	}
	if deps.Prices == nil {
		return nil, fmt.Errorf("harvester needs a price source")
	}
	if !cfg.DryRun && cfg.Key == nil {
		return nil, fmt.Errorf("harvester needs a signing key unless in dry-run mode")
	}
	if cfg.FailThreshold <= 0 {
		cfg.FailThreshold = 2
	}
	if cfg.FailPause <= 0 {
		cfg.FailPause = 10 * time.Minute
	}
	if cfg.LoopSleep <= 0 {
		cfg.LoopSleep = 60 * time.Second
	}
	if deps.Notifier == nil {
		deps.Notifier = notify.Nop{}
	}
	if deps.LoadContract == nil {
		deps.LoadContract = loadFromABIFile
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Sleep == nil {
		deps.Sleep = sleepCtx
	}
	h := &Harvester{cfg: cfg, deps: deps, watchers: ws}
	if cfg.ChainID != nil {
		h.chainID = new(big.Int).Set(cfg.ChainID)
	}
	return h, nil
}

func loadFromABIFile(w *watchers.Watcher, client harvestcore.ChainClient) (harvestcore.Contract, error) {
	if !common.IsHexAddress(w.ContractAddress) {
		return nil, fmt.Errorf("invalid contract_address %q", w.ContractAddress)
	}
	if strings.TrimSpace(w.ABIFile) == "" {
		return nil, fmt.Errorf("abi_file is empty")
	}
	c, err := harvestcore.LoadContract(common.HexToAddress(w.ContractAddress), w.ABIFile, client)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (h *Harvester) Watchers() []*watchers.Watcher { return h.watchers }

// Run executes cycles until ctx is cancelled. Errors inside a cycle are
// logged and never end the loop.
func (h *Harvester) Run(ctx context.Context) error {
	slog.Info("harvester started", "watchers", len(h.watchers), "from", h.cfg.From.Hex(), "dry_run", h.cfg.DryRun)
	for {
		h.RunOnce(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if err := h.deps.Sleep(ctx, h.cfg.LoopSleep); err != nil {
			return nil
		}
	}
}

// Summary counts outcomes of one cycle.
type Summary struct {
	ID       string
	Success  int
	Skipped  int
	Failed   int
	Filtered int // disabled protocol or inside min_idle_minutes
}

// RunOnce makes a single pass over all watchers.
func (h *Harvester) RunOnce(ctx context.Context) Summary {
	sum := Summary{ID: uuid.NewString()}
	log := slog.With("cycle", sum.ID)
	cyclesTotal.Inc()

	client, err := h.deps.Acquire(ctx)
	if err != nil {
		log.Error("could not acquire rpc client", "err", err)
		return sum
	}
	params, err := h.params(ctx, log, client)
	if err != nil {
		log.Error("could not prepare cycle", "err", err)
		return sum
	}

	for _, w := range h.watchers {
		if ctx.Err() != nil {
			return sum
		}
		if h.cfg.ProtocolEnabled != nil && !h.cfg.ProtocolEnabled(w.Protocol) {
			sum.Filtered++
			continue
		}
		if w.Idle(h.deps.Now()) {
			log.Debug("watcher inside min idle window", "watcher", w.DisplayName(), "last_harvest", w.LastHarvestTime().Format(time.RFC3339))
			sum.Filtered++
			continue
		}

		var out harvestcore.Outcome
		c, err := h.deps.LoadContract(w, client)
		if err != nil {
			out = harvestcore.LoadFailed(err)
		} else {
			out = harvestcore.Analyze(ctx, w, c, params)
		}
		h.apply(ctx, log, w, out)

		switch out.State {
		case harvestcore.StateSuccess:
			sum.Success++
		case harvestcore.StateSkipped:
			sum.Skipped++
		case harvestcore.StateFailed:
			sum.Failed++
			h.countFailure(ctx, log)
		}
	}
	log.Info("cycle done", "success", sum.Success, "skipped", sum.Skipped, "failed", sum.Failed, "filtered", sum.Filtered)
	return sum
}

func (h *Harvester) params(ctx context.Context, log *slog.Logger, client harvestcore.ChainClient) (harvestcore.Params, error) {
	if h.chainID == nil {
		id, err := client.ChainID(ctx)
		if err != nil {
			return harvestcore.Params{}, fmt.Errorf("could not get chain id: %w", err)
		}
		h.chainID = id
		log.Info("using chain id from node", "chain_id", id.String())
	}
	logf := func(format string, a ...any) {
		log.Debug(fmt.Sprintf(format, a...))
	}

	prober := harvestcore.NewProber(h.cfg.Decision.NativeSymbol)
	prober.Logf = logf
	builder := harvestcore.NewBuilder(client)
	builder.Logf = logf
	p := harvestcore.Params{
		Client:   client,
		From:     h.cfg.From,
		Prober:   prober,
		Builder:  builder,
		Prices:   h.deps.Prices,
		Decision: h.cfg.Decision,
		DryRun:   h.cfg.DryRun,
		Logf:     logf,
	}
	if !h.cfg.DryRun {
		sender := harvestcore.NewSender(client, h.cfg.Key, h.chainID)
		sender.Logf = logf
		p.Sender = sender
	}
	return p, nil
}

// apply mutates w from the outcome. last_harvest changes only after a
// transaction hash came back.
func (h *Harvester) apply(ctx context.Context, log *slog.Logger, w *watchers.Watcher, out harvestcore.Outcome) {
	now := h.deps.Now()
	name := w.DisplayName()
	outcomesTotal.WithLabelValues(strings.ToLower(w.Protocol), string(out.State)).Inc()

	switch out.State {
	case harvestcore.StateSuccess:
		w.SetLastHarvest(now)
		w.LastError = ""
		w.LastDecision = nil
		h.failCount = 0
		log.Info("harvested", "watcher", name, "tx", out.TxHash, "method", out.Template.Method,
			"reward", out.Reward.Amount.String(), "symbol", out.Reward.Symbol,
			"profit_usd", out.Decision.ExpectedProfitUSD.StringFixed(4), "gas_cost_usd", out.Decision.GasCostUSD.StringFixed(6))

		if h.deps.Store != nil {
			if err := h.deps.Store.Save(h.watchers); err != nil {
				log.Warn("could not persist watchers (ignored)", "err", err)
			}
		}
		if h.deps.Ledger != nil {
			entry := ledger.Entry{
				Time:         now,
				Protocol:     w.Protocol,
				Name:         name,
				ProfitUSD:    out.Decision.ExpectedProfitUSD,
				GasCostUSD:   out.Decision.GasCostUSD,
				TxHash:       out.TxHash,
				RewardToken:  out.Reward.Symbol,
				RewardAmount: out.Reward.Amount,
			}
			if err := h.deps.Ledger.Append(entry); err != nil {
				log.Warn("could not append ledger entry (ignored)", "err", err)
			}
		}
		notify.Send(ctx, h.deps.Notifier, fmt.Sprintf("✅ %s harvested: %s", name, out.TxHash))

	case harvestcore.StateSkipped:
		rec := out.Decision.Record(now)
		if len(out.Diagnostics) > 0 {
			rec.Note = strings.Join(out.Diagnostics, "; ")
		}
		w.LastDecision = rec
		if out.DryRun && out.Decision.Should {
			log.Info("dry run: would harvest", "watcher", name, "method", out.Harvest.Name, "decision", out.Decision.String())
		} else {
			log.Info("skipped", "watcher", name, "reason", out.Decision.Reason, "decision", out.Decision.String())
		}

	case harvestcore.StateFailed:
		w.LastError = out.LastError()
		log.Warn("watcher failed", "watcher", name, "at", string(out.FailedAt), "err", out.Err)
		if out.FailedAt == harvestcore.StateSending {
			notify.Send(ctx, h.deps.Notifier, fmt.Sprintf("❌ %s send_tx failed: %v", name, out.Err))
		}
	}
}

func (h *Harvester) countFailure(ctx context.Context, log *slog.Logger) {
	h.failCount++
	if h.failCount < h.cfg.FailThreshold {
		return
	}
	mins := int(h.cfg.FailPause.Round(time.Minute) / time.Minute)
	log.Warn("pausing after consecutive failures", "fails", h.failCount, "pause", h.cfg.FailPause)
	notify.Send(ctx, h.deps.Notifier, fmt.Sprintf("Bot paused for %d mins after %d fails.", mins, h.failCount))
	failPauses.Inc()
	if err := h.deps.Sleep(ctx, h.cfg.FailPause); err != nil {
		log.Info("fail pause interrupted", "err", err)
	}
	h.failCount = 0
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
