package derive

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fundrate-collector/internal/fetch"
	"fundrate-collector/internal/model"
)

type rewriteTransport struct{ host string }

func (t rewriteTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req.URL.Scheme = "http"
	req.URL.Host = t.host
	return http.DefaultTransport.RoundTrip(req)
}

func testClient(t *testing.T, server *httptest.Server) *fetch.Client {
	t.Helper()
	u, err := url.Parse(server.URL)
	require.NoError(t, err)
	return fetch.NewClient(fetch.WithHTTPClient(&http.Client{Transport: rewriteTransport{host: u.Host}}))
}

func instrumentsPage(n int, active bool) []map[string]any {
	page := make([]map[string]any, n)
	for i := range page {
		page[i] = map[string]any{
			"instrument_name": fmt.Sprintf("AST%d-PERP", i),
			"base_currency":   fmt.Sprintf("AST%d", i),
			"quote_currency":  "USDC",
			"is_active":       active,
		}
	}
	return page
}

func writeInstruments(w http.ResponseWriter, instruments []map[string]any) {
	resp := map[string]any{"result": map[string]any{"instruments": instruments}}
	_ = json.NewEncoder(w).Encode(resp)
}

func TestGetContractsPagesUntilShortPage(t *testing.T) {
	var pages []int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, instrumentsEndpoint, r.URL.Path)
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "perp", body["instrument_type"])
		require.Equal(t, false, body["expired"])
		require.EqualValues(t, instrumentPage, body["page_size"])

		page := int(body["page"].(float64))
		pages = append(pages, page)
		if page == 1 {
			writeInstruments(w, instrumentsPage(instrumentPage, true))
			return
		}
		short := instrumentsPage(1, true)
		short = append(short, map[string]any{
			"instrument_name": "DEAD-PERP",
			"base_currency":   "DEAD",
			"quote_currency":  "USDC",
			"is_active":       false,
		})
		writeInstruments(w, short)
	}))
	defer server.Close()

	adapter := New(testClient(t, server))
	infos, err := adapter.GetContracts(context.Background())

	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, pages)
	assert.Len(t, infos, instrumentPage+1, "inactive instruments are skipped")
	assert.Equal(t, "USDC", infos[0].Quote)
	assert.Equal(t, 1, infos[0].FundingInterval)
}

func TestFetchHistoryAfterBindsWindowAndPeriod(t *testing.T) {
	var body map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, fundingEndpoint, r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Write([]byte(`{"result": {"funding_rate_history": [
			{"timestamp": 1700028000000, "funding_rate": "0.0000125"},
			{"timestamp": 1700031600000, "funding_rate": "-0.0000042"}
		]}}`))
	}))
	defer server.Close()

	adapter := New(testClient(t, server))
	contract := &model.Contract{ID: uuid.New(), AssetName: "ETH", QuoteName: "USDC"}
	after := time.Date(2023, 11, 15, 0, 0, 0, 0, time.UTC)

	points, err := adapter.FetchHistoryAfter(context.Background(), contract, after)

	require.NoError(t, err)
	assert.Equal(t, "ETH-PERP", body["instrument_name"])
	assert.EqualValues(t, after.UnixMilli(), body["start_timestamp"])
	assert.EqualValues(t, after.Add(720*time.Hour).UnixMilli(), body["end_timestamp"])
	assert.EqualValues(t, historyPeriod, body["period"])

	require.Len(t, points, 2)
	assert.Equal(t, "0.0000125", points[0].Rate.String())
	assert.Equal(t, time.UnixMilli(1700028000000).UTC(), points[0].Timestamp)
	assert.Equal(t, "-0.0000042", points[1].Rate.String())
}

func TestFetchLiveSkipsInstrumentsWithoutRates(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeInstruments(w, []map[string]any{
			{"instrument_name": "BTC-PERP", "base_currency": "BTC", "quote_currency": "USDC",
				"is_active": true, "perp_details": map[string]any{"funding_rate": "0.0000375"}},
			{"instrument_name": "ETH-PERP", "base_currency": "ETH", "quote_currency": "USDC",
				"is_active": true, "perp_details": map[string]any{"funding_rate": ""}},
			{"instrument_name": "SOL-PERP", "base_currency": "SOL", "quote_currency": "USDC",
				"is_active": true, "perp_details": map[string]any{"funding_rate": "bogus"}},
		})
	}))
	defer server.Close()

	adapter := New(testClient(t, server))
	btc := &model.Contract{ID: uuid.New(), AssetName: "BTC", QuoteName: "USDC"}
	eth := &model.Contract{ID: uuid.New(), AssetName: "ETH", QuoteName: "USDC"}
	sol := &model.Contract{ID: uuid.New(), AssetName: "SOL", QuoteName: "USDC"}

	rates, err := adapter.FetchLive(context.Background(), []*model.Contract{btc, eth, sol})

	require.NoError(t, err)
	require.Len(t, rates, 1, "blank and unparseable rates are dropped")
	assert.Equal(t, "0.0000375", rates[btc.ID].Rate.String())
}
