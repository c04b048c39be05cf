// Package exec places perpetuals orders and reads positions.
//
// Live mode speaks to an order gateway in front of Merkle, not to the venue
// itself: Merkle settles on Aptos with Ed25519 accounts, while this client
// posts secp256k1-signed JSON orders to {MERKLE_API_URL}/v1/trade/orders.
// Point MERKLE_API_URL at a gateway that accepts that format. Position reads
// use the public indexer. Dry-run mode needs neither.
package exec

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/merklemind/risk"
	"github.com/web3guy0/merklemind/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// MERKLE EXECUTION CLIENT
// ═══════════════════════════════════════════════════════════════════════════════
//
// Places market orders through the order gateway and reads open positions
// from the venue indexer. Orders are signed (keccak256 over the JSON payload, secp256k1) with the
// account key. Sizes are sent in USDC base units (6 decimals).
//
// ═══════════════════════════════════════════════════════════════════════════════

const (
	MerkleAPI = "https://api.merkle.trade"

	usdcDecimals = 6

	ordersPath    = "/v1/trade/orders"
	positionsPath = "/v1/indexer/trading/position/"
)

// ErrPositionNotFound is returned when closing a pair with no open position
var ErrPositionNotFound = errors.New("position not found")

// Config for the venue client
type Config struct {
	BaseURL    string
	PrivateKey string
	DryRun     bool
	OrderSize  decimal.Decimal // USDC notional per leg
	Collateral decimal.Decimal // USDC collateral per leg
	Timeout    time.Duration
	Breaker    *risk.CircuitBreaker
}

// MarketOrder is a single increase or decrease on one pair
type MarketOrder struct {
	Pair       string
	IsLong     bool
	IsIncrease bool
	Size       decimal.Decimal
	Collateral decimal.Decimal
}

type Client struct {
	baseURL    string
	privateKey *ecdsa.PrivateKey
	address    string
	dryRun     bool
	size       decimal.Decimal
	collateral decimal.Decimal
	breaker    *risk.CircuitBreaker
	httpClient *http.Client

	// paper book for dry runs
	mu    sync.Mutex
	paper map[string]types.Position
}

// NewClient creates a new execution client
func NewClient(cfg Config) (*Client, error) {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = MerkleAPI
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	client := &Client{
		baseURL:    baseURL,
		dryRun:     cfg.DryRun,
		size:       cfg.OrderSize,
		collateral: cfg.Collateral,
		breaker:    cfg.Breaker,
		httpClient: &http.Client{Timeout: timeout},
		paper:      make(map[string]types.Position),
	}

	if pkHex := strings.TrimPrefix(strings.TrimSpace(cfg.PrivateKey), "0x"); pkHex != "" {
		pk, err := crypto.HexToECDSA(pkHex)
		if err != nil {
			return nil, fmt.Errorf("invalid private key: %w", err)
		}
		client.privateKey = pk
		client.address = crypto.PubkeyToAddress(pk.PublicKey).Hex()
	} else if !cfg.DryRun {
		return nil, fmt.Errorf("private key required for live trading")
	}

	mode := "DRY RUN"
	if !cfg.DryRun {
		mode = "LIVE"
	}
	log.Info().
		Str("mode", mode).
		Str("address", client.address).
		Str("size", client.size.String()).
		Str("collateral", client.collateral.String()).
		Msg("🚀 Execution client initialized")

	return client, nil
}

// ═══════════════════════════════════════════════════════════════════════════════
// ORDERS
// ═══════════════════════════════════════════════════════════════════════════════

type orderPayload struct {
	Pair            string `json:"pair"`
	UserAddress     string `json:"userAddress"`
	SizeDelta       string `json:"sizeDelta"`
	CollateralDelta string `json:"collateralDelta"`
	IsLong          bool   `json:"isLong"`
	IsIncrease      bool   `json:"isIncrease"`
	Timestamp       int64  `json:"timestamp"`
}

type signedOrder struct {
	orderPayload
	Signature string `json:"signature"`
}

// PlaceMarketOrder submits a market order and returns the transaction hash
func (c *Client) PlaceMarketOrder(ctx context.Context, o MarketOrder) (string, error) {
	if o.Pair == "" {
		return "", fmt.Errorf("pair is required")
	}

	if c.dryRun {
		hash := fmt.Sprintf("DRY_%d", time.Now().UnixNano())
		c.applyPaper(o)
		log.Info().
			Str("tx", hash).
			Str("pair", o.Pair).
			Bool("long", o.IsLong).
			Bool("increase", o.IsIncrease).
			Str("size", o.Size.StringFixed(2)).
			Msg("📝 DRY RUN: Order would be placed")
		return hash, nil
	}

	payload := orderPayload{
		Pair:            o.Pair,
		UserAddress:     c.address,
		SizeDelta:       toBaseUnits(o.Size),
		CollateralDelta: toBaseUnits(o.Collateral),
		IsLong:          o.IsLong,
		IsIncrease:      o.IsIncrease,
		Timestamp:       time.Now().Unix(),
	}

	signature, err := c.signPayload(payload)
	if err != nil {
		return "", fmt.Errorf("signing failed: %w", err)
	}

	resp, err := c.post(ctx, ordersPath, signedOrder{orderPayload: payload, Signature: signature})
	if err != nil {
		return "", err
	}

	var result struct {
		Hash  string `json:"hash"`
		Error string `json:"error"`
	}
	if err := json.Unmarshal(resp, &result); err != nil {
		return "", fmt.Errorf("parse response: %w", err)
	}
	if result.Error != "" {
		return "", fmt.Errorf("API error: %s", result.Error)
	}
	if result.Hash == "" {
		return "", fmt.Errorf("API returned no transaction hash")
	}

	log.Info().
		Str("tx", result.Hash).
		Str("pair", o.Pair).
		Bool("long", o.IsLong).
		Bool("increase", o.IsIncrease).
		Msg("✅ Order placed")

	return result.Hash, nil
}

// OpenPosition opens one leg with the configured size and collateral
func (c *Client) OpenPosition(ctx context.Context, pair string, action types.Action) (string, error) {
	return c.PlaceMarketOrder(ctx, MarketOrder{
		Pair:       pair,
		IsLong:     action.IsLong(),
		IsIncrease: true,
		Size:       c.size,
		Collateral: c.collateral,
	})
}

// OpenPair opens the long leg, then the short leg. A failed short leaves the
// long open; the hashes placed so far are returned with the error.
func (c *Client) OpenPair(ctx context.Context, long, short string) ([]string, error) {
	var hashes []string

	hash, err := c.OpenPosition(ctx, long, types.ActionLong)
	if err != nil {
		return hashes, fmt.Errorf("open long %s: %w", long, err)
	}
	hashes = append(hashes, hash)
	log.Info().Str("pair", long).Msg("Successfully placed open long order")

	hash, err = c.OpenPosition(ctx, short, types.ActionShort)
	if err != nil {
		return hashes, fmt.Errorf("open short %s: %w", short, err)
	}
	hashes = append(hashes, hash)
	log.Info().Str("pair", short).Msg("Successfully placed open short order")

	return hashes, nil
}

// ClosePosition closes the first open position whose pair type ends with symbol
func (c *Client) ClosePosition(ctx context.Context, symbol string) (string, error) {
	positions, err := c.GetPositions(ctx, c.address)
	if err != nil {
		return "", err
	}

	for _, p := range positions {
		if !strings.HasSuffix(p.PairType, symbol) {
			continue
		}
		hash, err := c.PlaceMarketOrder(ctx, MarketOrder{
			Pair:       symbol,
			IsLong:     p.IsLong,
			IsIncrease: false,
			Size:       p.Size,
			Collateral: p.Collateral,
		})
		if err != nil {
			return "", err
		}
		log.Info().Str("pair", symbol).Msg("Successfully placed close order")
		return hash, nil
	}

	return "", fmt.Errorf("%s %w", symbol, ErrPositionNotFound)
}

// ClosePair closes the long leg, then the short leg
func (c *Client) ClosePair(ctx context.Context, long, short string) ([]string, error) {
	var hashes []string
	for _, symbol := range []string{long, short} {
		hash, err := c.ClosePosition(ctx, symbol)
		if err != nil {
			return hashes, err
		}
		hashes = append(hashes, hash)
	}
	return hashes, nil
}

// ═══════════════════════════════════════════════════════════════════════════════
// POSITIONS
// ═══════════════════════════════════════════════════════════════════════════════

// GetPositions returns open positions for address, sizes in USDC
func (c *Client) GetPositions(ctx context.Context, address string) ([]types.Position, error) {
	if c.dryRun {
		return c.paperPositions(), nil
	}
	if address == "" {
		return nil, fmt.Errorf("address is required")
	}

	resp, err := c.get(ctx, positionsPath+url.PathEscape(address))
	if err != nil {
		return nil, err
	}

	var raw []types.Position
	if err := json.Unmarshal(resp, &raw); err != nil {
		return nil, fmt.Errorf("parse positions: %w", err)
	}

	positions := make([]types.Position, 0, len(raw))
	for _, p := range raw {
		p.Size = p.Size.Shift(-usdcDecimals)
		p.Collateral = p.Collateral.Shift(-usdcDecimals)
		positions = append(positions, p)
	}
	return positions, nil
}

func (c *Client) applyPaper(o MarketOrder) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := paperKey(o.Pair, o.IsLong)
	if !o.IsIncrease {
		delete(c.paper, key)
		return
	}
	p := c.paper[key]
	p.PairType = "paper::pair_types::" + o.Pair
	p.IsLong = o.IsLong
	p.Size = p.Size.Add(o.Size)
	p.Collateral = p.Collateral.Add(o.Collateral)
	c.paper[key] = p
}

func (c *Client) paperPositions() []types.Position {
	c.mu.Lock()
	defer c.mu.Unlock()

	positions := make([]types.Position, 0, len(c.paper))
	for _, p := range c.paper {
		positions = append(positions, p)
	}
	return positions
}

func paperKey(pair string, long bool) string {
	if long {
		return pair + "/long"
	}
	return pair + "/short"
}

func toBaseUnits(usdc decimal.Decimal) string {
	return usdc.Shift(usdcDecimals).Truncate(0).String()
}

// ═══════════════════════════════════════════════════════════════════════════════
// HTTP HELPERS
// ═══════════════════════════════════════════════════════════════════════════════

func (c *Client) get(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	return c.doRequest(req)
}

func (c *Client) post(ctx context.Context, path string, body interface{}) ([]byte, error) {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewBuffer(jsonBody))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.doRequest(req)
}

func (c *Client) doRequest(req *http.Request) ([]byte, error) {
	if c.breaker != nil {
		if err := c.breaker.Allow(); err != nil {
			return nil, err
		}
	}

	body, err := c.roundTrip(req)
	if c.breaker != nil {
		if err != nil {
			c.breaker.RecordFailure(err)
		} else {
			c.breaker.RecordSuccess()
		}
	}
	return body, err
}

func (c *Client) roundTrip(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	return body, nil
}

// ═══════════════════════════════════════════════════════════════════════════════
// SIGNING
// ═══════════════════════════════════════════════════════════════════════════════

func (c *Client) signPayload(payload orderPayload) (string, error) {
	if c.privateKey == nil {
		return "", fmt.Errorf("private key not loaded")
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	hash := crypto.Keccak256(data)

	sig, err := crypto.Sign(hash, c.privateKey)
	if err != nil {
		return "", err
	}

	return hexutil.Encode(sig), nil
}

// Address returns the trading account address
func (c *Client) Address() string {
	return c.address
}

// IsDryRun returns true if in dry run mode
func (c *Client) IsDryRun() bool {
	return c.dryRun
}
