package main

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/ligun0805/vault-harvester/internal/config"
	"github.com/ligun0805/vault-harvester/internal/harvestcore"
)

func printConfig(st config.Settings, watchersFile string, chainID *big.Int, from common.Address) {
	fmt.Println("=== CONFIG (.env) ===")
	fmt.Println("RPC endpoints     :", len(st.RPCURLs))
	for _, u := range st.RPCURLs {
		fmt.Println("  -", maskURL(u))
	}
	fmt.Println("CHAIN_ID          :", chainID.String())
	fmt.Println("PRIVATE_KEY       :", maskHex(st.PrivateKeyHex))
	fmt.Println("  -> address      :", from.Hex())
	fmt.Println("WATCHERS_FILE     :", watchersFile)
	fmt.Println("MAX_GAS_GWEI      :", st.MaxGasGwei, "(absolute", st.AbsoluteMaxGasGwei, ")")
	fmt.Println("MIN_REWARD_USD    :", st.MinRewardUSD, "enforced:", st.EnforceMinReward)
	fmt.Println("PROFIT_MULTIPLIER :", st.ProfitMultiplier)
	if d := st.DisabledProtocols(); len(d) > 0 {
		fmt.Println("Disabled          :", strings.Join(d, ", "))
	}
	fmt.Println("=====================")
}

func printNetworkState(ctx context.Context, ec *ethclient.Client, from common.Address, native string) {
	if gp, err := ec.SuggestGasPrice(ctx); err != nil {
		fmt.Println("[net] gas price error:", err)
	} else {
		fmt.Printf("[net] gas price: %s gwei\n", harvestcore.FormatGwei(gp))
	}
	if bal, err := ec.BalanceAt(ctx, from, nil); err != nil {
		fmt.Println("[net] balance error:", err)
	} else {
		fmt.Printf("[net] balance(from): %s %s\n", harvestcore.FormatNative(bal), native)
	}
}

func printOutcome(o harvestcore.Outcome) {
	trace := make([]string, len(o.Trace))
	for i, s := range o.Trace {
		trace[i] = string(s)
	}
	fmt.Println("  trace   :", strings.Join(trace, " -> "))
	if o.Reward.Method != "" {
		fmt.Printf("  reward  : %s %s via %s\n", o.Reward.Amount.String(), o.Reward.Symbol, o.Reward.Method)
	}
	if o.Harvest.Name != "" {
		fmt.Println("  harvest :", o.Harvest.String())
	}
	if o.Template != nil {
		est := "estimated"
		if !o.Template.Estimated {
			est = "fallback"
		}
		fmt.Printf("  tx      : %s with %d args, gas limit %d (%s)\n", o.Template.Method, len(o.Template.Args), o.Template.GasLimit, est)
	}
	for _, d := range o.Diagnostics {
		fmt.Println("  note    :", d)
	}
	switch o.State {
	case harvestcore.StateFailed:
		fmt.Printf("  [X] %s: %s\n", o.ErrorCode(), friendlyErr(o.Err))
	case harvestcore.StateSkipped:
		verdict := "would skip"
		if o.Decision.Should {
			verdict = "would harvest"
		}
		fmt.Printf("  [%s] %s\n", verdict, o.Decision)
	}
}

// friendlyErr shortens the node errors operators see most often.
func friendlyErr(err error) string {
	if err == nil {
		return ""
	}
	s := err.Error()
	ls := strings.ToLower(s)
	switch {
	case strings.Contains(ls, "insufficient funds"):
		return "insufficient native balance for gas"
	case strings.Contains(ls, "invalid character '<'"):
		return "non-JSON/HTML response (proxy/cf?)"
	case strings.Contains(ls, "dial tcp"), strings.Contains(ls, "lookup "):
		return "network/DNS error"
	case strings.Contains(ls, "no such file or directory"):
		return "abi file not found: " + s
	}
	return s
}

type report struct {
	harvest, skip, failed, filtered int
}

func (r *report) add(o harvestcore.Outcome) {
	switch {
	case o.State == harvestcore.StateFailed:
		r.failed++
	case o.Decision.Should:
		r.harvest++
	default:
		r.skip++
	}
}

func (r report) String() string {
	return fmt.Sprintf("would harvest: %d | would skip: %d | failed: %d | filtered: %d", r.harvest, r.skip, r.failed, r.filtered)
}

func maskHex(h string) string {
	h = strings.TrimSpace(h)
	if h == "" {
		return "(not set)"
	}
	if len(h) <= 10 {
		return "***"
	}
	return h[:6] + "…" + h[len(h)-4:]
}

// maskURL hides path segments, where hosted RPC providers put API keys.
func maskURL(u string) string {
	scheme, rest, ok := strings.Cut(u, "://")
	if !ok {
		return maskHex(u)
	}
	host, path, _ := strings.Cut(rest, "/")
	if path == "" {
		return scheme + "://" + host
	}
	return scheme + "://" + host + "/***"
}
