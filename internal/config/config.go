package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Settings keeps all configuration options.
// Key names follow the .env used by the deployed bot.
type Settings struct {
	BotEnabled bool
	DryRun     bool

	PrivateKeyHex string
	PublicAddress string
	ChainID       string // keep as string; empty means ask the node
	RPCURLs       []string

	MaxGasGwei         float64
	AbsoluteMaxGasGwei float64
	MinRewardUSD       float64
	ProfitMultiplier   float64
	EnforceMinReward   bool
	SkipAboveMaxGas    bool

	FailPause time.Duration
	LoopSleep time.Duration

	WatchersFile  string
	ProfitLogFile string

	NativeSymbol string
	PriceAPIURL  string
	PriceTTL     time.Duration

	TelegramEnabled  bool
	TelegramBotToken string
	TelegramChatID   int64

	Port     int
	LogLevel string
	LogDir   string

	RPCCooldown     time.Duration
	RPCProbeTimeout time.Duration

	// Protocols holds explicit ENABLE_<PROTOCOL> toggles, keyed by lower-case protocol.
	Protocols map[string]bool
}

// defaultProtocols are toggles that differ from "enabled".
var defaultProtocols = map[string]bool{
	"balancer": false,
}

// Load reads settings from environment supporting both UPPER_CASE and lower_case keys.
func Load() Settings {
	get := func(keys []string, def string) string {
		for _, k := range keys {
			if v := strings.TrimSpace(os.Getenv(k)); v != "" {
				return v
			}
		}
		return def
	}
	getInt := func(keys []string, def int) int {
		s := get(keys, "")
		if s == "" {
			return def
		}
		if n, err := strconv.Atoi(s); err == nil {
			return n
		}
		return def
	}
	getInt64 := func(keys []string, def int64) int64 {
		s := get(keys, "")
		if s == "" {
			return def
		}
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return n
		}
		return def
	}
	getFloat := func(keys []string, def float64) float64 {
		s := get(keys, "")
		if s == "" {
			return def
		}
		if n, err := strconv.ParseFloat(s, 64); err == nil {
			return n
		}
		return def
	}
	getBool := func(keys []string, def bool) bool {
		s := strings.ToLower(get(keys, ""))
		if s == "" {
			return def
		}
		return s == "1" || s == "true" || s == "yes" || s == "on"
	}
	seconds := func(keys []string, def int) time.Duration {
		return time.Duration(getInt(keys, def)) * time.Second
	}

	st := Settings{}
	st.BotEnabled = getBool([]string{"bot_enabled", "BOT_ENABLED"}, true)
	st.DryRun = getBool([]string{"dry_run", "DRY_RUN"}, false)

	st.PrivateKeyHex = get([]string{"private_key", "PRIVATE_KEY"}, "")
	st.PublicAddress = get([]string{"public_address", "PUBLIC_ADDRESS"}, "")
	st.ChainID = get([]string{"chain_id", "CHAIN_ID"}, "")
	st.RPCURLs = rpcURLs(get)

	st.MaxGasGwei = getFloat([]string{"max_gas_gwei", "MAX_GAS_GWEI"}, 40)
	st.AbsoluteMaxGasGwei = getFloat([]string{"absolute_max_gas_gwei", "ABSOLUTE_MAX_GAS_GWEI"}, 600)
	st.MinRewardUSD = getFloat([]string{"min_reward_usd", "MIN_REWARD_USD", "min_profit_usd", "MIN_PROFIT_USD"}, 1.0)
	st.ProfitMultiplier = getFloat([]string{"profit_multiplier", "PROFIT_MULTIPLIER"}, 2.0)
	st.EnforceMinReward = getBool([]string{"enforce_min_reward", "ENFORCE_MIN_REWARD"}, true)
	st.SkipAboveMaxGas = getBool([]string{"skip_above_max_gas", "SKIP_ABOVE_MAX_GAS"}, false)

	st.FailPause = time.Duration(getInt([]string{"fail_pause_mins", "FAIL_PAUSE_MINS", "fail_pause_minutes", "FAIL_PAUSE_MINUTES"}, 10)) * time.Minute
	st.LoopSleep = seconds([]string{"main_loop_sleep_s", "MAIN_LOOP_SLEEP_S"}, 60)

	st.WatchersFile = get([]string{"watchers_file", "WATCHERS_FILE"}, "watchers.json")
	st.ProfitLogFile = get([]string{"profit_log_file", "PROFIT_LOG_FILE"}, "logs/profit_log.csv")

	st.NativeSymbol = strings.ToUpper(get([]string{"native_symbol", "NATIVE_SYMBOL"}, "MATIC"))
	st.PriceAPIURL = get([]string{"price_api_url", "PRICE_API_URL"}, "https://api.coingecko.com/api/v3/simple/price")
	st.PriceTTL = seconds([]string{"price_ttl_s", "PRICE_TTL_S"}, 300)

	st.TelegramBotToken = get([]string{"telegram_bot_token", "TELEGRAM_BOT_TOKEN"}, "")
	st.TelegramChatID = getInt64([]string{"telegram_chat_id", "TELEGRAM_CHAT_ID"}, 0)
	st.TelegramEnabled = getBool([]string{"telegram_enabled", "TELEGRAM_ENABLED"}, st.TelegramBotToken != "")

	st.Port = getInt([]string{"port", "PORT"}, 10000)
	st.LogLevel = get([]string{"log_level", "LOG_LEVEL"}, "info")
	st.LogDir = get([]string{"log_dir", "LOG_DIR"}, "")

	st.RPCCooldown = seconds([]string{"rpc_cooldown_s", "RPC_COOLDOWN_S"}, 120)
	st.RPCProbeTimeout = seconds([]string{"rpc_probe_timeout_s", "RPC_PROBE_TIMEOUT_S"}, 10)

	st.Protocols = protocolToggles(os.Environ())
	return st
}

// rpcURLs collects RPC_URLS (csv), RPC_URL and the numbered RPC_URL_1..RPC_URL_9 keys, deduplicated in that order.
func rpcURLs(get func([]string, string) string) []string {
	var out []string
	seen := make(map[string]bool)
	add := func(u string) {
		u = strings.TrimSpace(u)
		if u == "" || seen[u] {
			return
		}
		seen[u] = true
		out = append(out, u)
	}
	for _, u := range strings.Split(get([]string{"rpc_urls", "RPC_URLS"}, ""), ",") {
		add(u)
	}
	add(get([]string{"rpc_url", "RPC_URL"}, ""))
	for i := 1; i <= 9; i++ {
		add(get([]string{fmt.Sprintf("rpc_url_%d", i), fmt.Sprintf("RPC_URL_%d", i)}, ""))
	}
	return out
}

func protocolToggles(environ []string) map[string]bool {
	toggles := make(map[string]bool, len(defaultProtocols))
	for k, v := range defaultProtocols {
		toggles[k] = v
	}
	for _, kv := range environ {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(strings.ToUpper(k), "ENABLE_") {
			continue
		}
		name := strings.ToLower(k[len("ENABLE_"):])
		if name == "" {
			continue
		}
		v = strings.ToLower(strings.TrimSpace(v))
		toggles[name] = v == "1" || v == "true" || v == "yes" || v == "on"
	}
	return toggles
}

// ProtocolEnabled reports whether watchers of the given protocol should run.
// Protocols without a toggle are enabled.
func (s Settings) ProtocolEnabled(protocol string) bool {
	if v, ok := s.Protocols[strings.ToLower(strings.TrimSpace(protocol))]; ok {
		return v
	}
	return true
}

// DisabledProtocols returns the sorted names of protocols turned off.
func (s Settings) DisabledProtocols() []string {
	var out []string
	for k, v := range s.Protocols {
		if !v {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

// Check validates settings that the daemon cannot start without.
func (s Settings) Check() error {
	if strings.TrimSpace(strings.TrimPrefix(s.PrivateKeyHex, "0x")) == "" {
		return errors.New("PRIVATE_KEY is empty in env")
	}
	if len(s.RPCURLs) == 0 {
		return errors.New("no RPC endpoints found in env (RPC_URL, RPC_URL_1...RPC_URL_9, RPC_URLS)")
	}
	if s.ProfitMultiplier < 1 {
		return fmt.Errorf("PROFIT_MULTIPLIER must be >= 1, got %v", s.ProfitMultiplier)
	}
	if s.AbsoluteMaxGasGwei <= 0 {
		return fmt.Errorf("ABSOLUTE_MAX_GAS_GWEI must be > 0, got %v", s.AbsoluteMaxGasGwei)
	}
	if s.TelegramEnabled && (s.TelegramBotToken == "" || s.TelegramChatID == 0) {
		return errors.New("telegram is enabled but TELEGRAM_BOT_TOKEN or TELEGRAM_CHAT_ID is empty")
	}
	return nil
}
