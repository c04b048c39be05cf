package advisor

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"
	"golang.org/x/sync/errgroup"
)

const pairTypeMarker = "::pair_types::"

// MarketSnapshot is the per-pair data handed to the LLM
type MarketSnapshot struct {
	ID          string          `json:"id"`
	PairType    string          `json:"pairType,omitempty"`
	FundingRate decimal.Decimal `json:"fundingRate"`
	Price       decimal.Decimal `json:"price"`
	Price24Ago  decimal.Decimal `json:"price24ago"`
	PriceDiff1D decimal.Decimal `json:"priceDiff1D"`
}

// MarketData reads pair state and price summary from the venue indexer
type MarketData struct {
	baseURL    string
	httpClient *http.Client
}

// NewMarketData creates a reader for baseURL
func NewMarketData(baseURL string) *MarketData {
	return &MarketData{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{},
	}
}

// Snapshot fetches pair state and prices concurrently and merges them by id.
// Pairs missing from either source keep zero values for the missing fields.
func (m *MarketData) Snapshot(ctx context.Context) ([]MarketSnapshot, error) {
	var pairState, summary gjson.Result

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		pairState, err = m.get(gctx, "/v1/indexer/trading/pairstate")
		return err
	})
	g.Go(func() error {
		var err error
		summary, err = m.get(gctx, "/v1/summary")
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := make(map[string]*MarketSnapshot)
	entry := func(id string) *MarketSnapshot {
		s, ok := merged[id]
		if !ok {
			s = &MarketSnapshot{ID: id}
			merged[id] = s
		}
		return s
	}

	pairState.ForEach(func(_, item gjson.Result) bool {
		pairType := item.Get("pairType").String()
		_, id, ok := strings.Cut(pairType, pairTypeMarker)
		if !ok || id == "" {
			return true
		}
		s := entry(id)
		s.PairType = pairType
		s.FundingRate = parseDecimal(item.Get("fundingRate"))
		return true
	})

	summary.Get("prices").ForEach(func(_, item gjson.Result) bool {
		id := item.Get("id").String()
		if id == "" {
			return true
		}
		s := entry(id)
		s.Price = parseDecimal(item.Get("price"))
		s.Price24Ago = parseDecimal(item.Get("price24ago"))
		s.PriceDiff1D = s.Price.Sub(s.Price24Ago)
		return true
	})

	out := make([]MarketSnapshot, 0, len(merged))
	for _, s := range merged {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MarketData) get(ctx context.Context, path string) (gjson.Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.baseURL+path, nil)
	if err != nil {
		return gjson.Result{}, err
	}
	resp, err := m.httpClient.Do(req)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("GET %s: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return gjson.Result{}, err
	}
	if resp.StatusCode != http.StatusOK {
		return gjson.Result{}, fmt.Errorf("GET %s: status %d", path, resp.StatusCode)
	}
	if !gjson.ValidBytes(body) {
		return gjson.Result{}, fmt.Errorf("GET %s: invalid JSON", path)
	}
	return gjson.ParseBytes(body), nil
}

func parseDecimal(r gjson.Result) decimal.Decimal {
	d, err := decimal.NewFromString(r.String())
	if err != nil {
		return decimal.Zero
	}
	return d
}
