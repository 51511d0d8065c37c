package analysis

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
)

// DefaultEndpoint is where the analysis backend listens by default.
const DefaultEndpoint = "ws://localhost:8000/ws/analyze"

// Request is the single frame sent after the connection opens.
type Request struct {
	Input        string `json:"input"`
	StoreInNeo4j bool   `json:"store_in_neo4j"`
}

// Conn is the part of a websocket connection a session uses. *websocket.Conn
// satisfies it.
type Conn interface {
	WriteJSON(v interface{}) error
	ReadMessage() (messageType int, p []byte, err error)
	SetReadDeadline(t time.Time) error
	Close() error
}

// Dialer opens a connection to the analysis backend.
type Dialer func(ctx context.Context, endpoint string) (Conn, error)

// WebSocketDialer dials with d, or websocket.DefaultDialer when d is nil.
func WebSocketDialer(d *websocket.Dialer) Dialer {
	if d == nil {
		d = websocket.DefaultDialer
	}
	return func(ctx context.Context, endpoint string) (Conn, error) {
		conn, resp, err := d.DialContext(ctx, endpoint, nil)
		if resp != nil && resp.Body != nil {
			resp.Body.Close()
		}
		if err != nil {
			return nil, err
		}
		return conn, nil
	}
}
