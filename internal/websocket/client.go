package websocket

import (
	"context"
	"time"

	ws "github.com/coder/websocket"
)

const (
	sendBufferSize = 16
	keepaliveEvery = 30 * time.Second
	writeTimeout   = 5 * time.Second
)

// Client is one connected UI shell. The feed is one-way: the daemon pushes
// notifications and the shell never sends application data, so the read side
// exists only to notice the peer going away.
type Client struct {
	hub  *Hub
	conn *ws.Conn
	send chan []byte
}

// NewClient creates a Client tied to the given hub and connection.
func NewClient(hub *Hub, conn *ws.Conn) *Client {
	return &Client{
		hub:  hub,
		conn: conn,
		send: make(chan []byte, sendBufferSize),
	}
}

// Run registers the client with the hub and serves the connection until it
// closes or ctx is cancelled, then unregisters.
func (c *Client) Run(ctx context.Context) {
	c.hub.Register(c)
	defer c.hub.Unregister(c)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		defer cancel()
		c.watchClose(ctx)
	}()
	c.push(ctx)
}

// watchClose consumes incoming frames until the connection errors. Any
// payload the shell sends is ignored.
func (c *Client) watchClose(ctx context.Context) {
	for {
		if _, _, err := c.conn.Read(ctx); err != nil {
			return
		}
	}
}

// push writes queued notifications to the socket and pings on an interval so
// half-dead loopback connections get reaped.
func (c *Client) push(ctx context.Context) {
	keepalive := time.NewTicker(keepaliveEvery)
	defer keepalive.Stop()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				// Hub unregistered us and closed the channel.
				return
			}
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := c.conn.Write(wctx, ws.MessageText, msg)
			cancel()
			if err != nil {
				return
			}
		case <-keepalive.C:
			if err := c.conn.Ping(ctx); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}
