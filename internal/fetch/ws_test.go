package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetchWSOnceReturnsSecondFrame(t *testing.T) {
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()

		var subscribe map[string]string
		require.NoError(t, conn.ReadJSON(&subscribe))
		assert.Equal(t, "subscribe", subscribe["type"])

		// Ack first, payload second.
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"subscribed"}`)))
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"update","value":7}`)))
	}))
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	client := NewClient()
	var out struct {
		Type  string `json:"type"`
		Value int    `json:"value"`
	}
	err := client.FetchWSOnce(context.Background(), wsURL, map[string]string{"type": "subscribe"}, &out)

	require.NoError(t, err)
	assert.Equal(t, "update", out.Type, "the ack frame must be discarded")
	assert.Equal(t, 7, out.Value)
}

func TestFetchWSOnceDialFailure(t *testing.T) {
	client := NewClient()
	err := client.FetchWSOnce(context.Background(), "ws://127.0.0.1:1/nope", nil, &struct{}{})
	require.Error(t, err)
}
