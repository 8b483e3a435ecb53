package rustplus

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// Options configures a connection.
type Options struct {
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	// OnBroadcast receives unsolicited server frames. Called from the read loop.
	OnBroadcast func(raw []byte)
}

// Conn is one companion-protocol connection to one server.
type Conn struct {
	address     string
	playerID    uint64
	playerToken int32
	ws          *websocket.Conn
	opts        Options

	writeMu sync.Mutex

	mu      sync.Mutex
	seq     uint32
	pending map[uint32]chan AppResponse
	err     error

	done      chan struct{}
	closeOnce sync.Once
}

// Dial connects to the companion endpoint at address (host:port) and starts
// the read loop.
func Dial(ctx context.Context, address string, playerID uint64, playerToken int32, opts Options) (*Conn, error) {
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 10 * time.Second
	}
	dialer := websocket.Dialer{HandshakeTimeout: opts.HandshakeTimeout}
	u := url.URL{Scheme: "ws", Host: address, Path: "/"}

	ws, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, &TransportError{Op: "connect", Address: address, Err: err}
	}

	c := &Conn{
		address:     address,
		playerID:    playerID,
		playerToken: playerToken,
		ws:          ws,
		opts:        opts,
		pending:     make(map[uint32]chan AppResponse),
		done:        make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// Done is closed when the connection has stopped.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Err returns why the connection stopped, or nil while it is open or after
// a local Close.
func (c *Conn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Close shuts the connection down. Pending requests fail with ErrClosed.
func (c *Conn) Close() error {
	c.shutdown(nil)
	return nil
}

func (c *Conn) shutdown(cause error) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.err = cause
		c.pending = make(map[uint32]chan AppResponse)
		c.mu.Unlock()

		c.writeMu.Lock()
		c.ws.SetWriteDeadline(time.Now().Add(time.Second))
		c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.writeMu.Unlock()
		c.ws.Close()
		close(c.done)
	})
}

// readLoop dispatches responses to waiting requests. A frame that fails to
// decode ends the connection with a decode TransportError.
func (c *Conn) readLoop() {
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
				return
			default:
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug().Str("address", c.address).Err(err).Msg("rustplus read failed")
			}
			c.shutdown(&TransportError{Op: "read", Address: c.address, Err: err})
			return
		}

		msg, err := UnmarshalMessage(data)
		if err != nil {
			c.shutdown(&TransportError{Op: "decode", Address: c.address, Err: err})
			return
		}

		if msg.Response != nil {
			c.mu.Lock()
			ch, ok := c.pending[msg.Response.Seq]
			delete(c.pending, msg.Response.Seq)
			c.mu.Unlock()
			if ok {
				ch <- *msg.Response
			}
		}
		if msg.Broadcast != nil && c.opts.OnBroadcast != nil {
			c.opts.OnBroadcast(msg.Broadcast)
		}
	}
}

// Request sends one query and waits for its response.
func (c *Conn) Request(ctx context.Context, query Query) (AppResponse, error) {
	ch := make(chan AppResponse, 1)

	c.mu.Lock()
	select {
	case <-c.done:
		c.mu.Unlock()
		return AppResponse{}, ErrClosed
	default:
	}
	c.seq++
	seq := c.seq
	c.pending[seq] = ch
	c.mu.Unlock()

	frame := MarshalRequest(AppRequest{
		Seq:         seq,
		PlayerID:    c.playerID,
		PlayerToken: c.playerToken,
		Query:       query,
	})

	c.writeMu.Lock()
	c.ws.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
	err := c.ws.WriteMessage(websocket.BinaryMessage, frame)
	c.writeMu.Unlock()
	if err != nil {
		c.forget(seq)
		return AppResponse{}, &TransportError{Op: "write", Address: c.address, Err: err}
	}

	select {
	case resp := <-ch:
		if resp.Error != nil {
			return resp, resp.Error
		}
		return resp, nil
	case <-c.done:
		return AppResponse{}, ErrClosed
	case <-ctx.Done():
		c.forget(seq)
		return AppResponse{}, ctx.Err()
	}
}

func (c *Conn) forget(seq uint32) {
	c.mu.Lock()
	delete(c.pending, seq)
	c.mu.Unlock()
}

// GetInfo fetches the server metadata.
func (c *Conn) GetInfo(ctx context.Context) (*AppInfo, error) {
	resp, err := c.Request(ctx, QueryInfo)
	if err != nil {
		return nil, err
	}
	if resp.Info == nil {
		return nil, fmt.Errorf("rustplus: info response without info body")
	}
	return resp.Info, nil
}
