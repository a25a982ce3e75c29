// Package price keeps a periodically refreshed ETH/USD quote for alert
// formatting. Lookups never block and fall back to a configured price.
package price

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/tidwall/gjson"

	"github.com/marko911/presale-pulse/internal/config"
	"github.com/marko911/presale-pulse/internal/metrics"
)

// ErrNoPrice is returned when the response carries no usable quote.
var ErrNoPrice = errors.New("price missing from response")

// pricePath locates the quote in a CoinGecko simple/price response.
const pricePath = "ethereum.usd"

// Source provides the current ETH/USD price.
type Source interface {
	ETHPrice() float64
}

// Static is a fixed price, used when the feed is disabled.
type Static float64

func (s Static) ETHPrice() float64 { return float64(s) }

// NewSource returns a polling Feed, or the fallback as a Static price when
// cfg.Enabled is false. run blocks until ctx is done.
func NewSource(cfg config.PriceConfig, logger *slog.Logger) (src Source, run func(context.Context) error) {
	if !cfg.Enabled {
		metrics.ETHPrice.Set(cfg.Fallback)
		return Static(cfg.Fallback), func(ctx context.Context) error {
			<-ctx.Done()
			return nil
		}
	}
	f := NewFeed(cfg, logger)
	return f, f.Run
}

// Feed polls a price endpoint and caches the last good quote.
type Feed struct {
	url      string
	interval time.Duration
	client   *http.Client
	logger   *slog.Logger

	bits atomic.Uint64
}

// NewFeed creates a feed seeded with the fallback price.
func NewFeed(cfg config.PriceConfig, logger *slog.Logger) *Feed {
	if logger == nil {
		logger = slog.Default()
	}
	f := &Feed{
		url:      cfg.URL,
		interval: cfg.RefreshInterval,
		client:   &http.Client{Timeout: 10 * time.Second},
		logger:   logger.With("component", "price-feed"),
	}
	f.set(cfg.Fallback)
	return f
}

// ETHPrice returns the last good quote, or the fallback if none was fetched.
func (f *Feed) ETHPrice() float64 {
	return math.Float64frombits(f.bits.Load())
}

// Refresh fetches a new quote. On failure the previous price is kept.
func (f *Feed) Refresh(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return fmt.Errorf("fetch price: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch price: unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	if err != nil {
		return fmt.Errorf("read price response: %w", err)
	}

	p, err := parsePrice(body)
	if err != nil {
		return err
	}

	f.set(p)
	f.logger.Info("ETH price updated", "usd", p)
	return nil
}

// Run refreshes immediately and then on every interval until ctx is done.
func (f *Feed) Run(ctx context.Context) error {
	if err := f.Refresh(ctx); err != nil {
		f.logger.Warn("using fallback ETH price", "usd", f.ETHPrice(), "error", err)
	}
	if f.interval <= 0 {
		<-ctx.Done()
		return nil
	}

	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := f.Refresh(ctx); err != nil {
				f.logger.Warn("price refresh failed, keeping last price", "usd", f.ETHPrice(), "error", err)
			}
		}
	}
}

func (f *Feed) set(p float64) {
	f.bits.Store(math.Float64bits(p))
	metrics.ETHPrice.Set(p)
}

func parsePrice(body []byte) (float64, error) {
	if !gjson.ValidBytes(body) {
		return 0, fmt.Errorf("parse price: invalid json")
	}
	r := gjson.GetBytes(body, pricePath)
	if !r.Exists() || r.Type != gjson.Number || r.Float() <= 0 {
		return 0, ErrNoPrice
	}
	return r.Float(), nil
}
