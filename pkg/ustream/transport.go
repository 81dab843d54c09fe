package ustream

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"golang.org/x/net/websocket"
)

const DefaultOrigin = "https://www.ustream.tv"

// Conn is an established control channel carrying JSON text frames.
type Conn interface {
	Send(ctx context.Context, frame []byte) error
	Receive(ctx context.Context) ([]byte, error)
	Close() error
}

// Dialer opens a control channel, it is called again with a new URL on every
// reconnect.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

type WebsocketDialer struct {
	Origin string
	Header http.Header
}

func (d WebsocketDialer) Dial(ctx context.Context, url string) (Conn, error) {
	origin := d.Origin
	if origin == "" {
		origin = DefaultOrigin
	}

	config, err := websocket.NewConfig(url, origin)
	if err != nil {
		return nil, fmt.Errorf("websocket config: %w", err)
	}

	for name, values := range d.Header {
		for _, value := range values {
			config.Header.Add(name, value)
		}
	}

	ws, err := config.DialContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("websocket dial: %w", err)
	}

	return &websocketConn{ws: ws}, nil
}

type websocketConn struct {
	ws     *websocket.Conn
	sendMu sync.Mutex
}

func (c *websocketConn) Send(ctx context.Context, frame []byte) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	if deadline, ok := ctx.Deadline(); ok {
		_ = c.ws.SetWriteDeadline(deadline)
		defer c.ws.SetWriteDeadline(time.Time{})
	}

	return websocket.Message.Send(c.ws, string(frame))
}

func (c *websocketConn) Receive(ctx context.Context) ([]byte, error) {
	// unblock pending read once the context is done
	stop := context.AfterFunc(ctx, func() {
		_ = c.ws.SetReadDeadline(time.Now())
	})
	defer stop()

	var frame string
	if err := websocket.Message.Receive(c.ws, &frame); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, err
	}

	return []byte(frame), nil
}

func (c *websocketConn) Close() error {
	return c.ws.Close()
}
