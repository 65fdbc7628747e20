package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
)

// FetchWSOnce opens a websocket, sends a single subscribe frame, discards
// the first inbound frame (the subscription ack), decodes the second frame
// into out, and closes the socket. There is no reconnect and no streaming;
// this is a one-shot snapshot primitive.
func (c *Client) FetchWSOnce(ctx context.Context, wsURL string, subscribe any, out any) error {
	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("websocket dial failed: %w", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(c.timeout)
	if err := conn.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}
	if err := conn.SetReadDeadline(deadline); err != nil {
		return fmt.Errorf("set read deadline: %w", err)
	}

	if err := conn.WriteJSON(subscribe); err != nil {
		return fmt.Errorf("send subscribe frame: %w", err)
	}

	// First frame acknowledges the subscription.
	if _, _, err := conn.ReadMessage(); err != nil {
		return fmt.Errorf("read ack frame: %w", err)
	}

	_, data, err := conn.ReadMessage()
	if err != nil {
		return fmt.Errorf("read data frame: %w", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode data frame: %w", err)
	}
	return nil
}
