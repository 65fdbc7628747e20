package lighter

import (
	"context"
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

const orderBooksBody = `{"code": 200, "order_books": [
	{"symbol": "BTC", "market_id": 1, "status": "active"},
	{"symbol": "ETH", "market_id": 2, "status": "active"},
	{"symbol": "OLD", "market_id": 3, "status": "frozen"}
]}`

func TestGetContractsCachesMarketIDs(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, orderBooksEndpoint, r.URL.Path)
		w.Write([]byte(orderBooksBody))
	}))
	defer server.Close()

	adapter := New(testClient(t, server))
	infos, err := adapter.GetContracts(context.Background())

	require.NoError(t, err)
	require.Len(t, infos, 2, "non-active order books are not listed")
	assert.Equal(t, "BTC", infos[0].AssetName)
	assert.Equal(t, "USD", infos[0].Quote)

	// Ids are memorized for frozen markets too, so history for a
	// deprecated contract still resolves.
	old := &model.Contract{AssetName: "OLD"}
	assert.Equal(t, "3", adapter.FormatSymbol(old))
}

func TestFormatSymbolFallsBackBeforeDiscovery(t *testing.T) {
	adapter := New(nil)
	assert.Equal(t, "BTC", adapter.FormatSymbol(&model.Contract{AssetName: "BTC"}))
}

func TestFetchWindowConvertsPercentAndDirection(t *testing.T) {
	var fundingQuery url.Values
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case orderBooksEndpoint:
			w.Write([]byte(orderBooksBody))
		case fundingsEndpoint:
			fundingQuery = r.URL.Query()
			w.Write([]byte(`{"code": 200, "fundings": [
				{"timestamp": 1700000000, "value": "0.0012", "direction": "long"},
				{"timestamp": 1700003600, "value": "0.0034", "direction": "short"}
			]}`))
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	defer server.Close()

	adapter := New(testClient(t, server))
	contract := &model.Contract{ID: uuid.New(), AssetName: "ETH", QuoteName: "USD"}
	after := time.Unix(1699999999, 0).UTC()

	points, err := adapter.FetchHistoryAfter(context.Background(), contract, after)

	require.NoError(t, err)
	assert.Equal(t, "2", fundingQuery.Get("market_id"), "the market id is loaded on demand")
	assert.Equal(t, "1h", fundingQuery.Get("resolution"))
	assert.Equal(t, "1699999999", fundingQuery.Get("start_timestamp"))

	require.Len(t, points, 2)
	assert.Equal(t, "0.000012", points[0].Rate.String())
	assert.Equal(t, time.Unix(1700000000, 0).UTC(), points[0].Timestamp)
	assert.Equal(t, "-0.000034", points[1].Rate.String(), "short direction flips the sign")
}

func TestFetchWindowRejectsUnknownMarket(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(orderBooksBody))
	}))
	defer server.Close()

	adapter := New(testClient(t, server))
	contract := &model.Contract{ID: uuid.New(), AssetName: "NOPE", QuoteName: "USD"}

	_, err := adapter.FetchHistoryAfter(context.Background(), contract, time.Now().UTC())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown lighter market NOPE")
}
