package feeds

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"
)

// ═══════════════════════════════════════════════════════════════════════════════
// PRICE FEED - Live pair prices over WebSocket
// ═══════════════════════════════════════════════════════════════════════════════
//
// Accepts single updates {"type":"price","pair":"BTC_USD","price":"..."} and
// batches {"type":"prices","prices":[{"pair":..,"price":..}, ...]}.
// Reconnects with a fixed delay until the context is cancelled.
//
// ═══════════════════════════════════════════════════════════════════════════════

const (
	defaultReconnectDelay = 5 * time.Second
	defaultMaxAge         = 2 * time.Minute
)

// PairPrice is the latest price seen for a pair
type PairPrice struct {
	Pair      string
	Price     decimal.Decimal
	UpdatedAt time.Time
}

// PriceFeed keeps the latest price per pair
type PriceFeed struct {
	url            string
	pairs          []string
	reconnectDelay time.Duration
	maxAge         time.Duration

	mu          sync.RWMutex
	isConnected bool
	prices      map[string]PairPrice
}

// NewPriceFeed creates a feed for url. pairs, if set, are sent in the
// subscribe message; otherwise all pairs are accepted.
func NewPriceFeed(url string, pairs ...string) *PriceFeed {
	return &PriceFeed{
		url:            url,
		pairs:          pairs,
		reconnectDelay: defaultReconnectDelay,
		maxAge:         defaultMaxAge,
		prices:         make(map[string]PairPrice),
	}
}

// Run connects and reads until ctx is cancelled
func (f *PriceFeed) Run(ctx context.Context) error {
	for {
		if err := f.session(ctx); err != nil && ctx.Err() == nil {
			log.Warn().Err(err).Dur("retry_in", f.reconnectDelay).Msg("Price feed disconnected, reconnecting...")
		}
		f.setConnected(false)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(f.reconnectDelay):
		}
	}
}

func (f *PriceFeed) session(ctx context.Context) error {
	log.Info().Str("url", f.url).Msg("Connecting to price feed WebSocket...")

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return fmt.Errorf("websocket dial failed: %w", err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	if err := conn.WriteJSON(map[string]interface{}{
		"type":  "subscribe",
		"topic": "prices",
		"pairs": f.pairs,
	}); err != nil {
		return fmt.Errorf("subscribe failed: %w", err)
	}

	f.setConnected(true)
	log.Info().Msg("✅ Connected to price feed")

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		f.handleMessage(message)
	}
}

func (f *PriceFeed) handleMessage(data []byte) {
	if !gjson.ValidBytes(data) {
		return
	}
	msg := gjson.ParseBytes(data)

	switch msg.Get("type").String() {
	case "price":
		f.update(msg.Get("pair").String(), msg.Get("price").String())
	case "prices":
		msg.Get("prices").ForEach(func(_, item gjson.Result) bool {
			f.update(item.Get("pair").String(), item.Get("price").String())
			return true
		})
	}
}

func (f *PriceFeed) update(pair, raw string) {
	if pair == "" {
		return
	}
	price, err := decimal.NewFromString(raw)
	if err != nil || !price.IsPositive() {
		return
	}

	f.mu.Lock()
	f.prices[pair] = PairPrice{Pair: pair, Price: price, UpdatedAt: time.Now()}
	f.mu.Unlock()
}

// Price returns the latest fresh price for pair
func (f *PriceFeed) Price(pair string) (decimal.Decimal, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	p, ok := f.prices[pair]
	if !ok || time.Since(p.UpdatedAt) > f.maxAge {
		return decimal.Zero, false
	}
	return p.Price, true
}

// Snapshot returns all fresh prices
func (f *PriceFeed) Snapshot() map[string]decimal.Decimal {
	f.mu.RLock()
	defer f.mu.RUnlock()

	out := make(map[string]decimal.Decimal, len(f.prices))
	for pair, p := range f.prices {
		if time.Since(p.UpdatedAt) <= f.maxAge {
			out[pair] = p.Price
		}
	}
	return out
}

func (f *PriceFeed) setConnected(v bool) {
	f.mu.Lock()
	f.isConnected = v
	f.mu.Unlock()
}

// IsConnected returns connection status
func (f *PriceFeed) IsConnected() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.isConnected
}
