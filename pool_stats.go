package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// PoolStats is the account summary a pool's public API reports for our
// identity.
type PoolStats struct {
	Balance            float64            `json:"balance"`
	UnconfirmedBalance float64            `json:"unconfirmed_balance"`
	Hashrate           float64            `json:"hashrate"`
	AvgHashrate        map[string]float64 `json:"avg_hashrate,omitempty"`
	FetchedAt          time.Time          `json:"fetched_at"`
}

// flexFloat accepts both JSON numbers and numeric strings; account APIs are
// inconsistent about which they send.
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*f = 0
		return nil
	}
	s := strings.Trim(string(b), `"`)
	if s == "" {
		*f = 0
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("parse number %q: %w", s, err)
	}
	*f = flexFloat(v)
	return nil
}

type poolStatsResponse struct {
	Status bool   `json:"status"`
	Error  string `json:"error"`
	Data   struct {
		Balance            flexFloat            `json:"balance"`
		UnconfirmedBalance flexFloat            `json:"unconfirmed_balance"`
		Hashrate           flexFloat            `json:"hashrate"`
		AvgHashrate        map[string]flexFloat `json:"avgHashrate"`
	} `json:"data"`
}

// PoolStatsService polls the account endpoint with a small cache so that
// the status API can ask as often as it likes.
type PoolStatsService struct {
	urlTemplate string
	identity    string
	ttl         time.Duration
	client      *http.Client

	// refresh collapses concurrent fetches into one request; mu only guards
	// the cached result and is never held across the network.
	refresh singleflight.Group

	mu        sync.Mutex
	lastFetch time.Time
	last      *PoolStats
	lastErr   error
}

// NewPoolStatsService returns nil when no URL is configured. {identity} in
// the template is replaced with the path-escaped identity.
func NewPoolStatsService(urlTemplate, identity string, ttl time.Duration) *PoolStatsService {
	urlTemplate = strings.TrimSpace(urlTemplate)
	if urlTemplate == "" {
		return nil
	}
	if ttl <= 0 {
		ttl = defaultPoolStatsRefresh
	}
	return &PoolStatsService{
		urlTemplate: urlTemplate,
		identity:    identity,
		ttl:         ttl,
		client:      &http.Client{Timeout: poolStatsTimeout},
	}
}

func (p *PoolStatsService) endpoint() string {
	return strings.ReplaceAll(p.urlTemplate, "{identity}", url.PathEscape(p.identity))
}

// Stats returns the cached summary, refreshing it when older than the TTL.
func (p *PoolStatsService) Stats(ctx context.Context) (*PoolStats, error) {
	if p == nil {
		return nil, fmt.Errorf("pool stats not configured")
	}
	p.mu.Lock()
	if !p.lastFetch.IsZero() && time.Since(p.lastFetch) < p.ttl {
		last, lastErr := p.last, p.lastErr
		p.mu.Unlock()
		return last, lastErr
	}
	p.mu.Unlock()

	v, err, _ := p.refresh.Do("stats", func() (any, error) {
		// A caller that missed the previous flight finds its result here.
		p.mu.Lock()
		if !p.lastFetch.IsZero() && time.Since(p.lastFetch) < p.ttl {
			defer p.mu.Unlock()
			return p.last, p.lastErr
		}
		p.mu.Unlock()

		stats, err := p.fetch(ctx)
		now := time.Now()
		p.mu.Lock()
		defer p.mu.Unlock()
		p.lastFetch = now
		p.lastErr = err
		if err == nil {
			stats.FetchedAt = now
			p.last = stats
		}
		return p.last, err
	})
	stats, _ := v.(*PoolStats)
	return stats, err
}

func (p *PoolStatsService) fetch(ctx context.Context) (*PoolStats, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.endpoint(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", minerAgent)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("pool stats http status %s", resp.Status)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	var body poolStatsResponse
	if err := fastJSONUnmarshal(data, &body); err != nil {
		return nil, fmt.Errorf("decode pool stats: %w", err)
	}
	if !body.Status {
		if body.Error != "" {
			return nil, fmt.Errorf("pool stats: %s", body.Error)
		}
		return nil, fmt.Errorf("pool stats: unsuccessful response")
	}
	stats := &PoolStats{
		Balance:            float64(body.Data.Balance),
		UnconfirmedBalance: float64(body.Data.UnconfirmedBalance),
		Hashrate:           float64(body.Data.Hashrate),
	}
	if len(body.Data.AvgHashrate) > 0 {
		stats.AvgHashrate = make(map[string]float64, len(body.Data.AvgHashrate))
		for k, v := range body.Data.AvgHashrate {
			stats.AvgHashrate[k] = float64(v)
		}
	}
	return stats, nil
}

// LastUpdate is the time of the last fetch attempt.
func (p *PoolStatsService) LastUpdate() time.Time {
	if p == nil {
		return time.Time{}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastFetch
}

// Run refreshes the stats every TTL and logs them.
func (p *PoolStatsService) Run(ctx context.Context) {
	if p == nil {
		return
	}
	ticker := time.NewTicker(p.ttl)
	defer ticker.Stop()
	for {
		if stats, err := p.Stats(ctx); err != nil {
			logger.Warn("pool stats fetch failed", "error", err)
		} else if stats != nil {
			logger.Info("pool stats",
				"balance", stats.Balance,
				"unconfirmed", stats.UnconfirmedBalance,
				"hashrate", formatHashrate(stats.Hashrate))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
