// Command harvestcheck runs one dry-run pass over the watcher list and prints
// what the harvester would do for every watcher. It never signs or sends and
// never writes the watchers file.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/joho/godotenv"
	"golang.org/x/term"

	"github.com/ligun0805/vault-harvester/internal/config"
	"github.com/ligun0805/vault-harvester/internal/harvestcore"
	"github.com/ligun0805/vault-harvester/internal/ledger"
	"github.com/ligun0805/vault-harvester/internal/prices"
	"github.com/ligun0805/vault-harvester/internal/rpcpool"
	"github.com/ligun0805/vault-harvester/internal/watchers"
)

func main() {
	_ = godotenv.Load()
	_ = godotenv.Overload(".env.local")
	st := config.Load()

	watchersFile := flag.String("watchers", st.WatchersFile, "watchers JSON file")
	only := flag.String("name", "", "only check watchers whose name contains this")
	fromFlag := flag.String("from", "", "address to probe rewards for (default: PUBLIC_ADDRESS or the PRIVATE_KEY address)")
	verbose := flag.Bool("v", false, "print probe and build details")
	timeout := flag.Duration("timeout", 2*time.Minute, "overall timeout")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	from := resolveFrom(st, *fromFlag)
	if len(st.RPCURLs) == 0 {
		die("no RPC endpoints found in env (RPC_URL, RPC_URL_1...RPC_URL_9, RPC_URLS)")
	}

	pool, err := rpcpool.New[*ethclient.Client](st.RPCURLs, rpcpool.Dial, &rpcpool.Options{
		ProbeTimeout: st.RPCProbeTimeout,
		FailLimit:    1,
	})
	must(err, "rpc pool")
	defer pool.Close()
	ec, err := pool.Acquire(ctx)
	must(err, "acquire rpc")

	chainID, err := ec.ChainID(ctx)
	must(err, "chain id")
	printConfig(st, *watchersFile, chainID, from)
	printNetworkState(ctx, ec, from, st.NativeSymbol)

	ws, err := watchers.Load(*watchersFile)
	must(err, "load watchers")

	cache := prices.NewCache(prices.NewClient(st.PriceAPIURL, prices.DefaultIDs), st.PriceTTL)
	logf := func(string, ...any) {}
	if *verbose {
		logf = func(f string, a ...any) { fmt.Printf("    "+f+"\n", a...) }
	}
	prober := harvestcore.NewProber(st.NativeSymbol)
	prober.Logf = logf
	builder := harvestcore.NewBuilder(ec)
	builder.Logf = logf
	params := harvestcore.Params{
		Client:  ec,
		From:    from,
		Prober:  prober,
		Builder: builder,
		Prices:  cache,
		Decision: harvestcore.DecisionConfig{
			MinRewardUSD:       st.MinRewardUSD,
			ProfitMultiplier:   st.ProfitMultiplier,
			MaxGasGwei:         st.MaxGasGwei,
			AbsoluteMaxGasGwei: st.AbsoluteMaxGasGwei,
			EnforceMinReward:   st.EnforceMinReward,
			SkipAboveMaxGas:    st.SkipAboveMaxGas,
			NativeSymbol:       st.NativeSymbol,
		},
		DryRun: true,
		Logf:   logf,
	}

	var counts report
	for i, w := range ws {
		if *only != "" && !strings.Contains(strings.ToLower(w.Name), strings.ToLower(*only)) {
			continue
		}
		fmt.Printf("\n[%d/%d] %s (%s) %s\n", i+1, len(ws), w.DisplayName(), w.Protocol, w.ContractAddress)
		if !st.ProtocolEnabled(w.Protocol) {
			fmt.Println("  protocol disabled, skipped")
			counts.filtered++
			continue
		}
		if w.Idle(time.Now()) {
			fmt.Println("  inside min_idle_minutes, last harvest", w.LastHarvestTime().Format(time.RFC3339))
			counts.filtered++
			continue
		}
		var out harvestcore.Outcome
		if !common.IsHexAddress(w.ContractAddress) {
			out = harvestcore.LoadFailed(fmt.Errorf("invalid contract_address %q", w.ContractAddress))
		} else if c, err := harvestcore.LoadContract(common.HexToAddress(w.ContractAddress), w.ABIFile, ec); err != nil {
			out = harvestcore.LoadFailed(err)
		} else {
			out = harvestcore.Analyze(ctx, w, c, params)
		}
		printOutcome(out)
		counts.add(out)
	}
	fmt.Println()
	fmt.Println(counts.String())

	if entries, err := ledger.New(st.ProfitLogFile).ReadAll(); err != nil {
		fmt.Println("[ledger] error:", err)
	} else if len(entries) > 0 {
		profit, gas := ledger.Totals(entries)
		fmt.Printf("[ledger] %d harvests, profit=%s USD, gas=%s USD\n", len(entries), profit.StringFixed(4), gas.StringFixed(4))
	}
}

// resolveFrom picks the probing address. Without one configured it falls back
// to asking for the key on the terminal.
func resolveFrom(st config.Settings, flagFrom string) common.Address {
	for _, s := range []string{flagFrom, st.PublicAddress} {
		if s = strings.TrimSpace(s); s != "" {
			if !common.IsHexAddress(s) {
				die("invalid address " + s)
			}
			return common.HexToAddress(s)
		}
	}
	pk := st.PrivateKeyHex
	if strings.TrimSpace(pk) == "" {
		if !term.IsTerminal(int(syscall.Stdin)) {
			die("no PUBLIC_ADDRESS or PRIVATE_KEY configured and stdin is not a terminal")
		}
		pk = readPassword("Private key (only used to derive the address): ")
	}
	_, addr, err := harvestcore.ParsePrivateKey(pk)
	must(err, "parse private key")
	return addr
}

func readPassword(prompt string) string {
	fmt.Print(prompt)
	b, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		die("failed to read password: " + err.Error())
	}
	return strings.TrimSpace(string(b))
}

func must(err error, msg string) {
	if err != nil {
		die(msg + ": " + err.Error())
	}
}

func die(msg string) {
	fmt.Fprintln(os.Stderr, "Error:", msg)
	os.Exit(1)
}
