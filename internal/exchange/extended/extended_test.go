package extended

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

func TestGetContractsParsesMarketNames(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, marketsEndpoint, r.URL.Path)
		w.Write([]byte(`{"status": "OK", "data": [
			{"name": "BTC-USD", "assetName": "BTC", "status": "ACTIVE"},
			{"name": "ETH-USD", "assetName": "", "status": "ACTIVE"},
			{"name": "DOGE-USD", "assetName": "DOGE", "status": "DISABLED"},
			{"name": "NODASH", "assetName": "", "status": "ACTIVE"}
		]}`))
	}))
	defer server.Close()

	adapter := New(testClient(t, server))
	infos, err := adapter.GetContracts(context.Background())

	require.NoError(t, err)
	require.Len(t, infos, 2, "inactive and unparseable markets are skipped")
	assert.Equal(t, "BTC", infos[0].AssetName)
	assert.Equal(t, "USD", infos[0].Quote)
	assert.Equal(t, 1, infos[0].FundingInterval)
	assert.Equal(t, "ETH", infos[1].AssetName, "asset falls back to the market name")
	assert.Equal(t, "USD", infos[1].Quote)
}

func TestGetContractsRejectsErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status": "ERROR", "data": []}`))
	}))
	defer server.Close()

	adapter := New(testClient(t, server))
	_, err := adapter.GetContracts(context.Background())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "ERROR")
}

func TestFetchHistoryBeforeUsesMarketPath(t *testing.T) {
	var path string
	var query url.Values
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		query = r.URL.Query()
		w.Write([]byte(`{"status": "OK", "data": [
			{"T": 1700028000000, "f": "0.0000210"},
			{"T": 1700024400000, "f": "-0.0000007"}
		]}`))
	}))
	defer server.Close()

	adapter := New(testClient(t, server))
	contract := &model.Contract{ID: uuid.New(), AssetName: "BTC", QuoteName: "USD"}
	cutoff := time.Date(2023, 11, 15, 6, 0, 0, 0, time.UTC)

	points, err := adapter.FetchHistoryBefore(context.Background(), contract, &cutoff)

	require.NoError(t, err)
	assert.Equal(t, "/api/v1/info/BTC-USD/funding", path)
	assert.Equal(t, strconv.FormatInt(cutoff.Add(-2160*time.Hour).UnixMilli(), 10), query.Get("startTime"))
	assert.Equal(t, strconv.FormatInt(cutoff.UnixMilli(), 10), query.Get("endTime"))

	require.Len(t, points, 2)
	assert.Equal(t, "0.000021", points[0].Rate.String())
	assert.Equal(t, time.UnixMilli(1700028000000).UTC(), points[0].Timestamp)
}

func TestFetchLiveProjectsMarketStats(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status": "OK", "data": [
			{"name": "BTC-USD", "assetName": "BTC", "status": "ACTIVE",
			 "marketStats": {"fundingRate": "0.0000180"}},
			{"name": "ETH-USD", "assetName": "ETH", "status": "ACTIVE",
			 "marketStats": {"fundingRate": ""}}
		]}`))
	}))
	defer server.Close()

	adapter := New(testClient(t, server))
	btc := &model.Contract{ID: uuid.New(), AssetName: "BTC", QuoteName: "USD"}
	eth := &model.Contract{ID: uuid.New(), AssetName: "ETH", QuoteName: "USD"}

	rates, err := adapter.FetchLive(context.Background(), []*model.Contract{btc, eth})

	require.NoError(t, err)
	require.Len(t, rates, 1, "markets without a parseable rate are dropped")
	assert.Equal(t, "0.000018", rates[btc.ID].Rate.String())
}
