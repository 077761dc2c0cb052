package prices

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

const DefaultAPIURL = "https://api.coingecko.com/api/v3/simple/price"

// DefaultIDs maps token symbols to CoinGecko ids.
var DefaultIDs = map[string]string{
	"AUTO":  "auto",
	"QUICK": "quick",
	"MATIC": "matic-network",
	"POL":   "polygon-ecosystem-token",
	"USDC":  "usd-coin",
	"DAI":   "dai",
	"USDT":  "tether",
	"ETH":   "ethereum",
	"WETH":  "weth",
	"WBTC":  "wrapped-bitcoin",
	"BAL":   "balancer",
}

// Client fetches USD spot prices from a CoinGecko-compatible simple price API.
type Client struct {
	apiURL  string
	ids     map[string]string
	httpc   *http.Client
	limiter *rate.Limiter
}

// NewClient returns a client for apiURL. Empty apiURL means DefaultAPIURL and
// nil ids means DefaultIDs.
func NewClient(apiURL string, ids map[string]string) *Client {
	if apiURL == "" {
		apiURL = DefaultAPIURL
	}
	if ids == nil {
		ids = DefaultIDs
	}
	norm := make(map[string]string, len(ids))
	for sym, id := range ids {
		norm[strings.ToUpper(sym)] = id
	}
	return &Client{
		apiURL: apiURL,
		ids:    norm,
		httpc:  &http.Client{Timeout: 10 * time.Second},
		// Public tier allows ~30 calls per minute.
		limiter: rate.NewLimiter(rate.Every(2*time.Second), 3),
	}
}

// Fetch returns USD prices for the symbols it knows about. Unknown symbols and
// symbols missing from the response are absent in the result.
func (c *Client) Fetch(ctx context.Context, symbols []string) (map[string]decimal.Decimal, error) {
	idToSym := make(map[string]string)
	var ids []string
	for _, s := range symbols {
		s = strings.ToUpper(strings.TrimSpace(s))
		id, ok := c.ids[s]
		if !ok {
			continue
		}
		if _, dup := idToSym[id]; !dup {
			ids = append(ids, id)
		}
		idToSym[id] = s
	}
	out := make(map[string]decimal.Decimal, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	q := url.Values{}
	q.Set("ids", strings.Join(ids, ","))
	q.Set("vs_currencies", "usd")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("could not create price request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("could not fetch prices: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("could not read price response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("price api returned http %d: %s", resp.StatusCode, truncate(string(body), 200))
	}

	var data map[string]map[string]decimal.Decimal
	if err := json.Unmarshal(body, &data); err != nil {
		return nil, fmt.Errorf("could not json-decode price response: %w", err)
	}
	for id, sym := range idToSym {
		if v, ok := data[id]["usd"]; ok {
			out[sym] = v
		}
	}
	return out, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…(truncated)"
}
