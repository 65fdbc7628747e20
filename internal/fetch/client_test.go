package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetJSONRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`{"value": 42}`))
	}))
	defer server.Close()

	client := NewClient()
	var out struct {
		Value int `json:"value"`
	}
	err := client.GetJSON(context.Background(), server.URL, nil, &out)

	require.NoError(t, err)
	assert.Equal(t, 42, out.Value)
	assert.Equal(t, int32(2), calls.Load())
}

func TestGetJSONDoesNotRetryDecodeErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write([]byte(`{"value": `))
	}))
	defer server.Close()

	client := NewClient()
	var out struct {
		Value int `json:"value"`
	}
	err := client.GetJSON(context.Background(), server.URL, nil, &out)

	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load(), "malformed bodies must not burn the retry budget")
}

func TestGetJSONSurfacesStatusError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		w.Write([]byte("short and stout"))
	}))
	defer server.Close()

	// A tiny budget means the first failure is also the last.
	client := NewClient(WithRetryBudget(50 * time.Millisecond))
	err := client.GetJSON(context.Background(), server.URL, nil, nil)

	require.Error(t, err)
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusTeapot, statusErr.Status)
	assert.Contains(t, statusErr.Body, "short and stout")
}

func TestGetJSONEncodesQueryParams(t *testing.T) {
	var gotQuery url.Values
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query()
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	client := NewClient()
	params := url.Values{}
	params.Set("symbol", "BTCUSDT")
	params.Set("limit", "200")
	err := client.GetJSON(context.Background(), server.URL, params, nil)

	require.NoError(t, err)
	assert.Equal(t, "BTCUSDT", gotQuery.Get("symbol"))
	assert.Equal(t, "200", gotQuery.Get("limit"))
}

func TestPostJSONSendsBody(t *testing.T) {
	var gotContentType string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotContentType = r.Header.Get("Content-Type")
		w.Write([]byte(`{"ok": true}`))
	}))
	defer server.Close()

	client := NewClient()
	var out struct {
		OK bool `json:"ok"`
	}
	err := client.PostJSON(context.Background(), server.URL, map[string]any{"type": "meta"}, &out)

	require.NoError(t, err)
	assert.True(t, out.OK)
	assert.Equal(t, "application/json", gotContentType)
}
