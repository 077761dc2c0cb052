package ledger

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

const timeLayout = "2006-01-02 15:04:05"

var header = []string{
	"timestamp",
	"protocol",
	"name",
	"profit_usd",
	"gas_cost_usd",
	"tx_hash",
	"reward_token",
	"reward_amount",
}

// Entry is one completed harvest.
type Entry struct {
	Time         time.Time
	Protocol     string
	Name         string
	ProfitUSD    decimal.Decimal
	GasCostUSD   decimal.Decimal
	TxHash       string
	RewardToken  string
	RewardAmount decimal.Decimal
}

func (e Entry) record() []string {
	return []string{
		e.Time.UTC().Format(timeLayout),
		e.Protocol,
		e.Name,
		e.ProfitUSD.StringFixed(6),
		e.GasCostUSD.StringFixed(6),
		e.TxHash,
		e.RewardToken,
		e.RewardAmount.StringFixed(8),
	}
}

// Ledger is an append-only CSV file of harvests.
type Ledger struct {
	mu   sync.Mutex
	path string
}

func New(path string) *Ledger {
	return &Ledger{path: path}
}

func (l *Ledger) Path() string { return l.path }

// Append writes e, creating the file and its header on first use.
func (l *Ledger) Append(e Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if dir := filepath.Dir(l.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("could not create ledger dir %q: %w", dir, err)
		}
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("could not open ledger %q: %w", l.path, err)
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return fmt.Errorf("could not stat ledger %q: %w", l.path, err)
	}
	w := csv.NewWriter(f)
	if fi.Size() == 0 {
		if err := w.Write(header); err != nil {
			return err
		}
	}
	if err := w.Write(e.record()); err != nil {
		return err
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("could not write ledger %q: %w", l.path, err)
	}
	return nil
}

// ReadAll returns every entry in the ledger. A missing file has no entries.
func (l *Ledger) ReadAll() ([]Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.Open(l.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = len(header)
	var out []Entry
	for line := 1; ; line++ {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("could not read ledger %q: %w", l.path, err)
		}
		if line == 1 && rec[0] == header[0] {
			continue
		}
		e, err := parseRecord(rec)
		if err != nil {
			return nil, fmt.Errorf("ledger %q line %d: %w", l.path, line, err)
		}
		out = append(out, e)
	}
	return out, nil
}

func parseRecord(rec []string) (Entry, error) {
	ts, err := time.ParseInLocation(timeLayout, rec[0], time.UTC)
	if err != nil {
		return Entry{}, err
	}
	profit, err := decimal.NewFromString(rec[3])
	if err != nil {
		return Entry{}, err
	}
	gas, err := decimal.NewFromString(rec[4])
	if err != nil {
		return Entry{}, err
	}
	amount, err := decimal.NewFromString(rec[7])
	if err != nil {
		return Entry{}, err
	}
	return Entry{
		Time:         ts,
		Protocol:     rec[1],
		Name:         rec[2],
		ProfitUSD:    profit,
		GasCostUSD:   gas,
		TxHash:       rec[5],
		RewardToken:  rec[6],
		RewardAmount: amount,
	}, nil
}

// Totals sums profit and gas over entries.
func Totals(entries []Entry) (profit, gas decimal.Decimal) {
	for _, e := range entries {
		profit = profit.Add(e.ProfitUSD)
		gas = gas.Add(e.GasCostUSD)
	}
	return profit, gas
}
