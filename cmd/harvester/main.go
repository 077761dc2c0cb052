package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/joho/godotenv"
	"github.com/visvasity/sglog"

	"github.com/ligun0805/vault-harvester/internal/config"
	"github.com/ligun0805/vault-harvester/internal/harvestcore"
	"github.com/ligun0805/vault-harvester/internal/harvester"
	"github.com/ligun0805/vault-harvester/internal/health"
	"github.com/ligun0805/vault-harvester/internal/ledger"
	"github.com/ligun0805/vault-harvester/internal/notify"
	"github.com/ligun0805/vault-harvester/internal/prices"
	"github.com/ligun0805/vault-harvester/internal/rpcpool"
	"github.com/ligun0805/vault-harvester/internal/watchers"
)

func main() {
	_ = godotenv.Load()
	_ = godotenv.Overload(".env.local")

	st := config.Load()
	closeLog := setupLogging(st)
	defer closeLog()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	notifier := newNotifier(st)
	if !st.BotEnabled {
		slog.Warn("bot disabled by BOT_ENABLED, exiting")
		notify.Send(ctx, notifier, "Bot is disabled (BOT_ENABLED=false).")
		return
	}
	must(st.Check(), "invalid configuration")

	key, from, err := harvestcore.ParsePrivateKey(st.PrivateKeyHex)
	must(err, "parse PRIVATE_KEY")
	if st.PublicAddress != "" {
		if !common.IsHexAddress(st.PublicAddress) || common.HexToAddress(st.PublicAddress) != from {
			die(fmt.Sprintf("PUBLIC_ADDRESS %s does not match PRIVATE_KEY address %s", st.PublicAddress, from.Hex()))
		}
	}
	var chainID *big.Int
	if st.ChainID != "" {
		chainID = mustBig(st.ChainID)
	}

	store, err := watchers.Open(st.WatchersFile)
	if errors.Is(err, watchers.ErrLocked) {
		die("another harvester already owns " + st.WatchersFile)
	}
	must(err, "open watchers file")
	defer store.Close()
	ws, err := store.Load()
	must(err, "load watchers")

	pool, err := rpcpool.New[*ethclient.Client](st.RPCURLs, rpcpool.Dial, &rpcpool.Options{
		Cooldown:     st.RPCCooldown,
		ProbeTimeout: st.RPCProbeTimeout,
		OnAllDown: func(ctx context.Context, downFor time.Duration) {
			notify.Send(ctx, notifier, fmt.Sprintf("⚠️ All RPC endpoints down for %s", downFor.Round(time.Second)))
		},
	})
	must(err, "rpc pool")
	defer pool.Close()

	go func() {
		addr := fmt.Sprintf(":%d", st.Port)
		if err := health.Serve(ctx, addr); err != nil {
			slog.Error("health server stopped", "addr", addr, "err", err)
		}
	}()

	h, err := harvester.New(harvester.Config{
		From:    from,
		Key:     key,
		ChainID: chainID,
		Decision: harvestcore.DecisionConfig{
			MinRewardUSD:       st.MinRewardUSD,
			ProfitMultiplier:   st.ProfitMultiplier,
			MaxGasGwei:         st.MaxGasGwei,
			AbsoluteMaxGasGwei: st.AbsoluteMaxGasGwei,
			EnforceMinReward:   st.EnforceMinReward,
			SkipAboveMaxGas:    st.SkipAboveMaxGas,
			NativeSymbol:       st.NativeSymbol,
		},
		DryRun:          st.DryRun,
		FailPause:       st.FailPause,
		LoopSleep:       st.LoopSleep,
		ProtocolEnabled: st.ProtocolEnabled,
	}, harvester.Deps{
		Acquire: func(ctx context.Context) (harvestcore.ChainClient, error) {
			c, err := pool.Acquire(ctx)
			if err != nil {
				return nil, err
			}
			return c, nil
		},
		Store:    store,
		Ledger:   ledger.New(st.ProfitLogFile),
		Notifier: notifier,
		Prices:   prices.NewCache(prices.NewClient(st.PriceAPIURL, prices.DefaultIDs), st.PriceTTL),
	}, ws)
	must(err, "harvester")

	slog.Info("starting",
		"watchers_file", store.Path(), "watchers", len(ws), "rpc_endpoints", len(st.RPCURLs),
		"dry_run", st.DryRun, "disabled_protocols", strings.Join(st.DisabledProtocols(), ","),
		"max_gas_gwei", st.MaxGasGwei, "min_reward_usd", st.MinRewardUSD, "profit_multiplier", st.ProfitMultiplier)
	notify.Send(ctx, notifier, fmt.Sprintf("Harvester started for %s (%d watchers)", from.Hex(), len(ws)))

	if err := h.Run(ctx); err != nil {
		slog.Error("harvester stopped", "err", err)
	}
	slog.Info("shutdown")
}

// setupLogging installs the default slog handler. With LOG_DIR set, logs go
// to per-level files there instead of stderr.
func setupLogging(st config.Settings) func() {
	var level slog.Level
	if err := level.UnmarshalText([]byte(st.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	if st.LogDir == "" {
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
		return func() {}
	}
	backend := sglog.NewBackend(&sglog.Options{LogDirs: []string{st.LogDir}})
	if level <= slog.LevelDebug {
		backend.EnableDebugLog()
	}
	slog.SetDefault(slog.New(backend.Handler()))
	return backend.Close
}

func newNotifier(st config.Settings) notify.Notifier {
	if !st.TelegramEnabled {
		return notify.Nop{}
	}
	tg, err := notify.NewTelegram(st.TelegramBotToken, st.TelegramChatID, "")
	if err != nil {
		slog.Warn("telegram disabled (ignored)", "err", err)
		return notify.Nop{}
	}
	return tg
}

func must(err error, msg string) {
	if err != nil {
		die(msg + ": " + err.Error())
	}
}

func die(msg string) {
	slog.Error(msg)
	fmt.Fprintln(os.Stderr, msg)
	os.Exit(1)
}

func mustBig(s string) *big.Int {
	s = strings.TrimSpace(s)
	z, ok := new(big.Int), false
	if strings.HasPrefix(s, "0x") {
		z, ok = z.SetString(s[2:], 16)
	} else {
		z, ok = z.SetString(s, 10)
	}
	if !ok || z.Sign() <= 0 {
		die("invalid CHAIN_ID " + s)
	}
	return z
}
