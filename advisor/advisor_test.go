package advisor

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/web3guy0/merklemind/types"
)

const pairStateJSON = `[
  {"pairType":"0x5ae::pair_types::BTC_USD","fundingRate":"0.0001"},
  {"pairType":"0x5ae::pair_types::ETH_USD","fundingRate":"-0.0002"},
  {"pairType":"garbage"}
]`

const summaryJSON = `{"prices":[
  {"id":"BTC_USD","price":65000,"price24ago":64000},
  {"id":"ETH_USD","price":"3000","price24ago":"3100"},
  {"id":"SOL_USD","price":150,"price24ago":140}
]}`

type venueLLM struct {
	chatCalls  atomic.Int32
	failFirst  bool
	buyReply   string
	sellReply  string
	lastPrompt atomic.Value
}

func completion(content string) []byte {
	b, _ := json.Marshal(map[string]any{
		"choices": []any{map[string]any{"message": map[string]any{"content": content}}},
	})
	return b
}

func (v *venueLLM) server(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/indexer/trading/pairstate":
			io.WriteString(w, pairStateJSON)
		case "/v1/summary":
			io.WriteString(w, summaryJSON)
		case "/chat/completions":
			n := v.chatCalls.Add(1)
			if v.failFirst && n == 1 {
				w.Header().Set("Retry-After", "0")
				w.WriteHeader(http.StatusTooManyRequests)
				io.WriteString(w, `{"error":{"message":"slow down"}}`)
				return
			}
			body, _ := io.ReadAll(r.Body)
			prompt := gjson.GetBytes(body, "messages.1.content").String()
			v.lastPrompt.Store(prompt)
			if strings.Contains(prompt, "should sell") {
				w.Write(completion(v.sellReply))
				return
			}
			w.Write(completion(v.buyReply))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

type staticPrices map[string]decimal.Decimal

func (s staticPrices) Snapshot() map[string]decimal.Decimal { return s }

func TestMarketSnapshotMerges(t *testing.T) {
	v := &venueLLM{}
	srv := v.server(t)

	snap, err := NewMarketData(srv.URL).Snapshot(context.Background())
	require.NoError(t, err)
	require.Len(t, snap, 3)

	assert.Equal(t, "BTC_USD", snap[0].ID)
	assert.Equal(t, "0.0001", snap[0].FundingRate.String())
	assert.Equal(t, "1000", snap[0].PriceDiff1D.String())
	assert.Equal(t, "-100", snap[1].PriceDiff1D.String())
	// summary only
	assert.Equal(t, "SOL_USD", snap[2].ID)
	assert.True(t, snap[2].FundingRate.IsZero())
}

func TestMarketSnapshotFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := NewMarketData(srv.URL).Snapshot(context.Background())
	assert.Error(t, err)
}

func TestProposeLongAndShort(t *testing.T) {
	v := &venueLLM{
		buyReply:  `{"id":"BTC_USD","explanation":"strong momentum"}`,
		sellReply: `{"id":"ETH_USD","explanation":"negative funding"}`,
	}
	srv := v.server(t)

	a := New(NewMarketData(srv.URL), NewChatClient(srv.URL, "sk-test", ""), staticPrices{"BTC_USD": decimal.NewFromInt(66000)})
	proposals, err := a.Propose(context.Background())
	require.NoError(t, err)
	require.Len(t, proposals, 2)

	assert.Equal(t, types.Proposal{ID: "BTC_USD", Explanation: "strong momentum", Side: types.ActionLong}, proposals[0])
	assert.Equal(t, types.Proposal{ID: "ETH_USD", Explanation: "negative funding", Side: types.ActionShort}, proposals[1])

	prompt := v.lastPrompt.Load().(string)
	assert.Contains(t, prompt, "exclude BTC_USD")
	assert.Contains(t, prompt, `"66000"`)
}

func TestProposeRetriesRateLimit(t *testing.T) {
	v := &venueLLM{
		failFirst: true,
		buyReply:  `{"id":"BTC_USD","explanation":"a"}`,
		sellReply: `{"id":"SOL_USD","explanation":"b"}`,
	}
	srv := v.server(t)

	a := New(NewMarketData(srv.URL), NewChatClient(srv.URL+"/chat/completions", "", ""), nil)
	proposals, err := a.Propose(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "SOL_USD", proposals[1].ID)
	assert.Equal(t, int32(3), v.chatCalls.Load())
}

func TestProposeRejectsBadPicks(t *testing.T) {
	cases := map[string]struct {
		buy, sell string
		want      error
	}{
		"unknown pair": {buy: `{"id":"XRP_USD","explanation":"x"}`, want: ErrUnknownPair},
		"not json":     {buy: `BTC_USD is best`, want: ErrBadCompletion},
		"missing id":   {buy: `{"explanation":"x"}`, want: ErrBadCompletion},
		"same pick":    {buy: `{"id":"BTC_USD","explanation":"x"}`, sell: `{"id":"BTC_USD","explanation":"y"}`, want: ErrBadCompletion},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			v := &venueLLM{buyReply: tc.buy, sellReply: tc.sell}
			srv := v.server(t)

			_, err := New(NewMarketData(srv.URL), NewChatClient(srv.URL, "", ""), nil).Propose(context.Background())
			assert.True(t, errors.Is(err, tc.want), "got %v", err)
		})
	}
}
