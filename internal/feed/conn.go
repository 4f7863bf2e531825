package feed

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
)

// Conn is the slice of a websocket connection the session uses.
// *websocket.Conn satisfies it; tests substitute scripted fakes.
type Conn interface {
	ReadMessage() (messageType int, payload []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetReadDeadline(t time.Time) error
	SetPingHandler(h func(appData string) error)
	Close() error
}

// DialFunc opens a websocket connection to url.
type DialFunc func(ctx context.Context, url string) (Conn, error)

// GorillaDial dials over the network with the given handshake timeout.
func GorillaDial(handshakeTimeout time.Duration) DialFunc {
	return func(ctx context.Context, url string) (Conn, error) {
		dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
		conn, _, err := dialer.DialContext(ctx, url, nil)
		if err != nil {
			return nil, err
		}
		return conn, nil
	}
}
