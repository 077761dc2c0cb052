package rpcpool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"math/rand"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"
)

// Conn is a chain connection the pool can probe and close.
type Conn interface {
	ChainID(ctx context.Context) (*big.Int, error)
	Close()
}

type DialFunc[C Conn] func(ctx context.Context, url string) (C, error)

// Dial opens a go-ethereum client.
func Dial(ctx context.Context, url string) (*ethclient.Client, error) {
	return ethclient.DialContext(ctx, url)
}

type Options struct {
	FailLimit    int           // consecutive failures before cooldown
	Cooldown     time.Duration // how long a failing endpoint is skipped
	RetryDelay   time.Duration // wait between full scans when all fail
	AlertAfter   time.Duration // all-down duration that triggers OnAllDown
	ProbeTimeout time.Duration

	// OnAllDown is called once per all-down episode.
	OnAllDown func(ctx context.Context, downFor time.Duration)

	Now     func() time.Time
	Sleep   func(ctx context.Context, d time.Duration) error
	Shuffle func([]string)
}

func (o *Options) setDefaults() {
	if o.FailLimit <= 0 {
		o.FailLimit = 3
	}
	if o.Cooldown <= 0 {
		o.Cooldown = 120 * time.Second
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = 5 * time.Second
	}
	if o.AlertAfter <= 0 {
		o.AlertAfter = 5 * time.Minute
	}
	if o.ProbeTimeout <= 0 {
		o.ProbeTimeout = 10 * time.Second
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Sleep == nil {
		o.Sleep = sleepCtx
	}
	if o.Shuffle == nil {
		o.Shuffle = func(s []string) {
			rand.Shuffle(len(s), func(i, j int) { s[i], s[j] = s[j], s[i] })
		}
	}
}

type endpointStatus struct {
	fails         int
	cooldownUntil time.Time
	lastOK        time.Time
	wasDead       bool
}

// EndpointStatus is a read-only copy of an endpoint's health counters.
type EndpointStatus struct {
	URL           string
	Fails         int
	CooldownUntil time.Time
	LastOK        time.Time
	WasDead       bool
}

// Pool hands out a live connection from a fixed set of endpoints.
type Pool[C Conn] struct {
	mu     sync.Mutex
	opts   Options
	dial   DialFunc[C]
	urls   []string
	status map[string]*endpointStatus

	cur    C
	curURL string

	downSince time.Time
	alerted   bool
}

func New[C Conn](urls []string, dial DialFunc[C], opts *Options) (*Pool[C], error) {
	if len(urls) == 0 {
		return nil, errors.New("no rpc endpoints configured")
	}
	var o Options
	if opts != nil {
		o = *opts
	}
	o.setDefaults()

	p := &Pool[C]{
		opts:   o,
		dial:   dial,
		status: make(map[string]*endpointStatus, len(urls)),
	}
	for _, u := range urls {
		if _, dup := p.status[u]; dup {
			continue
		}
		p.urls = append(p.urls, u)
		p.status[u] = &endpointStatus{}
	}
	return p, nil
}

// Acquire blocks until some endpoint answers a liveness probe, or ctx ends.
// Endpoints in cooldown are never returned.
func (p *Pool[C]) Acquire(ctx context.Context) (C, error) {
	var zero C
	for {
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		if c, ok := p.scan(ctx); ok {
			return c, nil
		}
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		p.markAllDown(ctx)
		slog.Warn("all rpc endpoints failed; retrying", "delay", p.opts.RetryDelay)
		if err := p.opts.Sleep(ctx, p.opts.RetryDelay); err != nil {
			return zero, err
		}
	}
}

func (p *Pool[C]) scan(ctx context.Context) (C, bool) {
	var zero C
	p.mu.Lock()
	order := append([]string(nil), p.urls...)
	p.mu.Unlock()
	p.opts.Shuffle(order)

	for _, u := range order {
		p.mu.Lock()
		st := p.status[u]
		cooling := p.opts.Now().Before(st.cooldownUntil)
		p.mu.Unlock()
		if cooling {
			continue
		}

		c, err := p.probe(ctx, u)
		if err == nil {
			p.markOK(u, c)
			return c, true
		}
		if ctx.Err() != nil {
			return zero, false
		}
		p.markFailed(u, err)
	}
	return zero, false
}

// probe reuses the current connection when u is the active endpoint.
func (p *Pool[C]) probe(ctx context.Context, u string) (C, error) {
	var zero C
	pctx, cancel := context.WithTimeout(ctx, p.opts.ProbeTimeout)
	defer cancel()

	p.mu.Lock()
	reuse := p.curURL == u
	cur := p.cur
	p.mu.Unlock()
	if reuse {
		if _, err := cur.ChainID(pctx); err == nil {
			return cur, nil
		}
		p.mu.Lock()
		p.dropCurrentLocked()
		p.mu.Unlock()
	}

	c, err := p.dial(pctx, u)
	if err != nil {
		return zero, fmt.Errorf("could not dial: %w", err)
	}
	if _, err := c.ChainID(pctx); err != nil {
		c.Close()
		return zero, fmt.Errorf("chain id probe failed: %w", err)
	}
	return c, nil
}

func (p *Pool[C]) markOK(u string, c C) {
	p.mu.Lock()
	defer p.mu.Unlock()

	st := p.status[u]
	if st.wasDead {
		slog.Info("rpc endpoint recovered", "host", hostLabel(u))
	}
	st.fails = 0
	st.cooldownUntil = time.Time{}
	st.lastOK = p.opts.Now()
	st.wasDead = false

	p.downSince = time.Time{}
	p.alerted = false
	allDown.Set(0)

	if p.curURL != u {
		p.dropCurrentLocked()
		p.cur, p.curURL = c, u
		slog.Info("connected to rpc", "host", hostLabel(u))
	}
	for _, other := range p.urls {
		activeEndpoint.WithLabelValues(hostLabel(other)).Set(0)
	}
	activeEndpoint.WithLabelValues(hostLabel(u)).Set(1)
}

func (p *Pool[C]) markFailed(u string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	st := p.status[u]
	st.fails++
	endpointFailures.WithLabelValues(hostLabel(u)).Inc()
	slog.Warn("rpc endpoint failed", "host", hostLabel(u), "fails", st.fails, "err", err)
	if st.fails >= p.opts.FailLimit {
		st.cooldownUntil = p.opts.Now().Add(p.opts.Cooldown)
		st.wasDead = true
		cooldownTrips.WithLabelValues(hostLabel(u)).Inc()
		slog.Warn("rpc endpoint in cooldown", "host", hostLabel(u), "until", st.cooldownUntil.Format(time.RFC3339))
	}
}

// markAllDown tracks the all-down episode and fires OnAllDown once per episode.
func (p *Pool[C]) markAllDown(ctx context.Context) {
	p.mu.Lock()
	now := p.opts.Now()
	if p.downSince.IsZero() {
		p.downSince = now
	}
	downFor := now.Sub(p.downSince)
	fire := !p.alerted && downFor > p.opts.AlertAfter
	if fire {
		p.alerted = true
	}
	allDown.Set(1)
	p.mu.Unlock()

	if fire {
		slog.Error("all rpc endpoints down", "for", downFor.Round(time.Second))
		if p.opts.OnAllDown != nil {
			p.opts.OnAllDown(ctx, downFor)
		}
	}
}

func (p *Pool[C]) dropCurrentLocked() {
	if p.curURL == "" {
		return
	}
	p.cur.Close()
	var zero C
	p.cur, p.curURL = zero, ""
}

// Status returns a copy of the counters for url.
func (p *Pool[C]) Status(url string) (EndpointStatus, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	st, ok := p.status[url]
	if !ok {
		return EndpointStatus{}, false
	}
	return EndpointStatus{
		URL:           url,
		Fails:         st.fails,
		CooldownUntil: st.cooldownUntil,
		LastOK:        st.lastOK,
		WasDead:       st.wasDead,
	}, true
}

// Close closes the active connection, if any.
func (p *Pool[C]) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dropCurrentLocked()
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
