package watchers

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// DecisionRecord is the diagnostic left on a watcher when a cycle was skipped.
type DecisionRecord struct {
	Should            bool    `json:"should"`
	Reason            string  `json:"reason"`
	ExpectedProfitUSD float64 `json:"expected_profit_usd"`
	GasCostUSD        float64 `json:"gas_cost_usd"`
	RewardUSD         float64 `json:"reward_usd,omitempty"`
	GasGwei           float64 `json:"gas_gwei,omitempty"`
	At                float64 `json:"at,omitempty"`
	Note              string  `json:"note,omitempty"`
}

// Watcher is one configured vault position.
type Watcher struct {
	Name            string
	Protocol        string
	ContractAddress string
	ABIFile         string

	PID            *int64
	RewardToken    string
	RewardAmount   *decimal.Decimal
	RewardDecimals *int

	MinIdleMinutes float64

	// Maintained by the bot.
	LastHarvest  float64 // unix seconds
	LastError    string
	LastDecision *DecisionRecord

	// Keys we do not know about, kept so hand-edited files survive a rewrite.
	extra map[string]json.RawMessage
}

type wireWatcher struct {
	Name            string          `json:"name"`
	Protocol        string          `json:"protocol,omitempty"`
	ContractAddress string          `json:"contract_address"`
	ABIFile         string          `json:"abi_file,omitempty"`
	PID             *int64          `json:"pid,omitempty"`
	RewardToken     string          `json:"rewardToken,omitempty"`
	RewardAmount    *json.Number    `json:"rewardAmount,omitempty"`
	RewardDecimals  *int            `json:"rewardDecimals,omitempty"`
	MinIdleMinutes  float64         `json:"min_idle_minutes,omitempty"`
	LastHarvest     float64         `json:"last_harvest,omitempty"`
	LastError       string          `json:"last_error,omitempty"`
	LastDecision    *DecisionRecord `json:"last_decision,omitempty"`
}

var knownKeys = map[string]bool{
	"name": true, "protocol": true, "contract_address": true, "abi_file": true,
	"pid": true, "rewardToken": true, "rewardAmount": true, "rewardDecimals": true,
	"min_idle_minutes": true, "last_harvest": true, "last_error": true, "last_decision": true,
}

func (w *Watcher) UnmarshalJSON(b []byte) error {
	var ww wireWatcher
	if err := json.Unmarshal(b, &ww); err != nil {
		return err
	}
	var all map[string]json.RawMessage
	if err := json.Unmarshal(b, &all); err != nil {
		return err
	}

	*w = Watcher{
		Name:            ww.Name,
		Protocol:        ww.Protocol,
		ContractAddress: ww.ContractAddress,
		ABIFile:         ww.ABIFile,
		PID:             ww.PID,
		RewardToken:     ww.RewardToken,
		RewardDecimals:  ww.RewardDecimals,
		MinIdleMinutes:  ww.MinIdleMinutes,
		LastHarvest:     ww.LastHarvest,
		LastError:       ww.LastError,
		LastDecision:    ww.LastDecision,
	}
	if ww.RewardAmount != nil {
		d, err := decimal.NewFromString(ww.RewardAmount.String())
		if err != nil {
			return fmt.Errorf("watcher %q: bad rewardAmount %q: %w", ww.Name, ww.RewardAmount.String(), err)
		}
		w.RewardAmount = &d
	}
	for k, v := range all {
		if knownKeys[k] {
			continue
		}
		if w.extra == nil {
			w.extra = make(map[string]json.RawMessage)
		}
		w.extra[k] = v
	}
	return nil
}

func (w Watcher) MarshalJSON() ([]byte, error) {
	ww := wireWatcher{
		Name:            w.Name,
		Protocol:        w.Protocol,
		ContractAddress: w.ContractAddress,
		ABIFile:         w.ABIFile,
		PID:             w.PID,
		RewardToken:     w.RewardToken,
		RewardDecimals:  w.RewardDecimals,
		MinIdleMinutes:  w.MinIdleMinutes,
		LastHarvest:     w.LastHarvest,
		LastError:       w.LastError,
		LastDecision:    w.LastDecision,
	}
	if w.RewardAmount != nil {
		n := json.Number(w.RewardAmount.String())
		ww.RewardAmount = &n
	}
	if len(w.extra) == 0 {
		return json.Marshal(ww)
	}

	b, err := json.Marshal(ww)
	if err != nil {
		return nil, err
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	for k, v := range w.extra {
		if _, ok := m[k]; !ok {
			m[k] = v
		}
	}
	return json.Marshal(m)
}

// Key identifies a watcher inside a list.
func (w *Watcher) Key() string {
	return strings.ToLower(strings.TrimSpace(w.ContractAddress)) + "/" + w.Name
}

func (w *Watcher) DisplayName() string {
	if w.Name == "" {
		return "Unnamed"
	}
	return w.Name
}

// HasStaticReward reports whether both static reward hints are present. A
// zero rewardAmount counts as absent.
func (w *Watcher) HasStaticReward() bool {
	return w.RewardAmount != nil && !w.RewardAmount.IsZero() && strings.TrimSpace(w.RewardToken) != ""
}

func (w *Watcher) LastHarvestTime() time.Time {
	if w.LastHarvest <= 0 {
		return time.Time{}
	}
	sec, frac := math.Modf(w.LastHarvest)
	return time.Unix(int64(sec), int64(frac*1e9))
}

func (w *Watcher) SetLastHarvest(t time.Time) {
	w.LastHarvest = float64(t.UnixNano()) / 1e9
}

// Idle reports whether the watcher is still inside its min_idle_minutes window.
func (w *Watcher) Idle(now time.Time) bool {
	if w.MinIdleMinutes <= 0 || w.LastHarvest <= 0 {
		return false
	}
	window := time.Duration(w.MinIdleMinutes * float64(time.Minute))
	return now.Sub(w.LastHarvestTime()) < window
}
