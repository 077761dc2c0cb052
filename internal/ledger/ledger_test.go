package ledger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestAppendWritesHeaderOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "profit_log.csv")
	l := New(path)

	at := time.Date(2024, 5, 1, 12, 30, 0, 0, time.UTC)
	e := Entry{
		Time:         at,
		Protocol:     "quickswap",
		Name:         "WMATIC-USDC",
		ProfitUSD:    decimal.RequireFromString("3.99496"),
		GasCostUSD:   decimal.RequireFromString("0.00504"),
		TxHash:       "0xabc",
		RewardToken:  "MATIC",
		RewardAmount: decimal.RequireFromString("5"),
	}
	require.NoError(t, l.Append(e))
	e.Name = "second, with comma"
	require.NoError(t, l.Append(e))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	require.Len(t, lines, 3)
	require.Equal(t, "timestamp,protocol,name,profit_usd,gas_cost_usd,tx_hash,reward_token,reward_amount", lines[0])
	require.Equal(t, "2024-05-01 12:30:00,quickswap,WMATIC-USDC,3.994960,0.005040,0xabc,MATIC,5.00000000", lines[1])

	got, err := l.ReadAll()
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "second, with comma", got[1].Name)
	require.True(t, got[0].Time.Equal(at))

	profit, gas := Totals(got)
	require.Equal(t, "7.98992", profit.String())
	require.Equal(t, "0.01008", gas.String())
}

func TestReadAllMissingFile(t *testing.T) {
	got, err := New(filepath.Join(t.TempDir(), "nope.csv")).ReadAll()
	require.NoError(t, err)
	require.Empty(t, got)
}
