package bybit

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
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

func TestGetContractsFollowsCursor(t *testing.T) {
	var cursors []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, instrumentsEndpoint, r.URL.Path)
		require.Equal(t, "linear", r.URL.Query().Get("category"))
		cursor := r.URL.Query().Get("cursor")
		cursors = append(cursors, cursor)

		if cursor == "" {
			w.Write([]byte(`{"retCode": 0, "retMsg": "OK", "result": {
				"nextPageCursor": "page2",
				"list": [
					{"symbol": "BTCUSDT", "contractType": "LinearPerpetual", "status": "Trading",
					 "baseCoin": "BTC", "quoteCoin": "USDT", "fundingInterval": 480},
					{"symbol": "ETHUSDT", "contractType": "LinearFutures", "status": "Trading",
					 "baseCoin": "ETH", "quoteCoin": "USDT", "fundingInterval": 480},
					{"symbol": "DOGEUSDT", "contractType": "LinearPerpetual", "status": "Delivering",
					 "baseCoin": "DOGE", "quoteCoin": "USDT", "fundingInterval": 480}
				]}}`))
			return
		}
		w.Write([]byte(`{"retCode": 0, "retMsg": "OK", "result": {
			"nextPageCursor": "",
			"list": [
				{"symbol": "SOLPERP", "contractType": "LinearPerpetual", "status": "Trading",
				 "baseCoin": "SOL", "quoteCoin": "USDC", "fundingInterval": 60},
				{"symbol": "PEPEUSDT", "contractType": "LinearPerpetual", "status": "Trading",
				 "baseCoin": "PEPE", "quoteCoin": "USDT", "fundingInterval": 30}
			]}}`))
	}))
	defer server.Close()

	adapter := New(testClient(t, server))
	infos, err := adapter.GetContracts(context.Background())

	require.NoError(t, err)
	assert.Equal(t, []string{"", "page2"}, cursors)

	require.Len(t, infos, 3, "futures and non-trading listings are skipped")
	assert.Equal(t, "BTC", infos[0].AssetName)
	assert.Equal(t, 8, infos[0].FundingInterval)
	assert.Equal(t, "SOL", infos[1].AssetName)
	assert.Equal(t, "USDC", infos[1].Quote)
	assert.Equal(t, 1, infos[1].FundingInterval)
	assert.Equal(t, 1, infos[2].FundingInterval, "sub-hourly settlement rounds up to one hour")
}

func TestGetContractsSurfacesVenueError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"retCode": 10001, "retMsg": "params error", "result": {}}`))
	}))
	defer server.Close()

	adapter := New(testClient(t, server))
	_, err := adapter.GetContracts(context.Background())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "10001")
	assert.Contains(t, err.Error(), "params error")
}

func TestFetchHistoryAfterRequestsSymbolAndWindow(t *testing.T) {
	var query url.Values
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, fundingEndpoint, r.URL.Path)
		query = r.URL.Query()
		w.Write([]byte(`{"retCode": 0, "retMsg": "OK", "result": {"list": [
			{"fundingRate": "0.0001", "fundingRateTimestamp": "1700028000000"},
			{"fundingRate": "-0.00005", "fundingRateTimestamp": "1700000000000"}
		]}}`))
	}))
	defer server.Close()

	adapter := New(testClient(t, server))
	contract := &model.Contract{ID: uuid.New(), AssetName: "BTC", QuoteName: "USDT"}
	after := time.Date(2023, 11, 15, 0, 0, 0, 0, time.UTC)

	points, err := adapter.FetchHistoryAfter(context.Background(), contract, after)

	require.NoError(t, err)
	assert.Equal(t, "BTCUSDT", query.Get("symbol"))
	assert.Equal(t, after.UnixMilli(), mustInt(t, query.Get("startTime")))
	assert.Equal(t, after.Add(198*time.Hour).UnixMilli(), mustInt(t, query.Get("endTime")))

	require.Len(t, points, 2)
	assert.Equal(t, "0.0001", points[0].Rate.String())
	assert.Equal(t, time.UnixMilli(1700028000000).UTC(), points[0].Timestamp)
}

func TestFetchLiveProjectsTickers(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, tickersEndpoint, r.URL.Path)
		w.Write([]byte(`{"retCode": 0, "retMsg": "OK", "result": {"list": [
			{"symbol": "BTCUSDT", "fundingRate": "0.00012"},
			{"symbol": "SOLPERP", "fundingRate": "-0.00003"},
			{"symbol": "XRPUSDT", "fundingRate": ""}
		]}}`))
	}))
	defer server.Close()

	adapter := New(testClient(t, server))
	btc := &model.Contract{ID: uuid.New(), AssetName: "BTC", QuoteName: "USDT"}
	sol := &model.Contract{ID: uuid.New(), AssetName: "SOL", QuoteName: "USDC"}
	xrp := &model.Contract{ID: uuid.New(), AssetName: "XRP", QuoteName: "USDT"}

	rates, err := adapter.FetchLive(context.Background(), []*model.Contract{btc, sol, xrp})

	require.NoError(t, err)
	require.Len(t, rates, 2, "tickers with unparseable rates are dropped")
	assert.Equal(t, "0.00012", rates[btc.ID].Rate.String())
	assert.Equal(t, "-0.00003", rates[sol.ID].Rate.String())
}

func mustInt(t *testing.T, s string) int64 {
	t.Helper()
	n, err := strconv.ParseInt(s, 10, 64)
	require.NoError(t, err)
	return n
}
