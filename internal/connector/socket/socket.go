// Package socket is a Connector that multiplexes queries over a single
// WebSocket connection to an xfilter server's /ws endpoint.
//
// Each request carries a connection-unique ID; responses may arrive in any
// order and are routed back to the waiting Execute call by that ID.
package socket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/roach88/xfilter/internal/connector"
	"github.com/roach88/xfilter/internal/ir"
	"github.com/roach88/xfilter/internal/querysql"
)

const writeTimeout = 10 * time.Second

// Connector is a WebSocket client connection.
//
// Thread-safety: Execute may be called concurrently. Writes are serialized
// by writeMu as gorilla/websocket allows one concurrent writer; a single
// read loop owns the read side.
type Connector struct {
	conn   *websocket.Conn
	logger *slog.Logger

	writeMu sync.Mutex
	nextID  atomic.Int64

	mu      sync.Mutex
	pending map[string]chan connector.Response
	closed  bool
	err     error // why the read loop ended

	done chan struct{}
}

// Option configures Dial.
type Option func(*dialConfig)

type dialConfig struct {
	dialer *websocket.Dialer
	header http.Header
	logger *slog.Logger
}

// WithDialer replaces websocket.DefaultDialer.
func WithDialer(d *websocket.Dialer) Option {
	return func(c *dialConfig) {
		if d != nil {
			c.dialer = d
		}
	}
}

// WithHeader adds a header to the handshake request.
func WithHeader(key, value string) Option {
	return func(c *dialConfig) { c.header.Add(key, value) }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *dialConfig) {
		if l != nil {
			c.logger = l
		}
	}
}

// Dial connects to url (ws:// or wss://) and starts the read loop.
func Dial(ctx context.Context, url string, opts ...Option) (*Connector, error) {
	cfg := dialConfig{
		dialer: websocket.DefaultDialer,
		header: http.Header{},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	wc, resp, err := cfg.dialer.DialContext(ctx, url, cfg.header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: status %d: %w", url, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}

	c := &Connector{
		conn:    wc,
		logger:  cfg.logger,
		pending: make(map[string]chan connector.Response),
		done:    make(chan struct{}),
	}
	go c.readLoop()

	cfg.logger.Debug("socket connector connected", "url", url)
	return c, nil
}

// Execute sends the query and waits for its response, the context, or the
// connection to end, whichever comes first.
func (c *Connector) Execute(ctx context.Context, q querysql.PhysicalQuery) (*ir.Table, error) {
	id := strconv.FormatInt(c.nextID.Add(1), 10)
	ch := make(chan connector.Response, 1)

	c.mu.Lock()
	if c.closed {
		err := c.closeErrLocked()
		c.mu.Unlock()
		return nil, err
	}
	c.pending[id] = ch
	c.mu.Unlock()

	if err := c.write(connector.NewRequest(id, q)); err != nil {
		c.forget(id)
		return nil, fmt.Errorf("send request %s: %w", id, err)
	}

	select {
	case resp := <-ch:
		return resp.Result()
	case <-ctx.Done():
		// A late response for id is dropped by the read loop.
		c.forget(id)
		return nil, ctx.Err()
	case <-c.done:
		// The response may have raced the shutdown.
		select {
		case resp := <-ch:
			return resp.Result()
		default:
		}
		c.mu.Lock()
		err := c.closeErrLocked()
		c.mu.Unlock()
		return nil, err
	}
}

// Close closes the connection. Requests still waiting fail with
// connector.ErrClosed.
func (c *Connector) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		<-c.done
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.writeMu.Lock()
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeTimeout))
	c.writeMu.Unlock()

	err := c.conn.Close()
	<-c.done
	if err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}

// Pending returns the number of requests awaiting a response.
func (c *Connector) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

func (c *Connector) write(req connector.Request) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteJSON(req)
}

func (c *Connector) forget(id string) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

func (c *Connector) closeErrLocked() error {
	if c.err != nil {
		return fmt.Errorf("%w: %v", connector.ErrClosed, c.err)
	}
	return connector.ErrClosed
}

func (c *Connector) readLoop() {
	var loopErr error
	defer func() {
		c.mu.Lock()
		c.closed = true
		c.err = loopErr
		c.pending = make(map[string]chan connector.Response)
		c.mu.Unlock()
		c.conn.Close()
		close(c.done)
	}()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if !isNormalClose(err) {
				c.mu.Lock()
				closing := c.closed
				c.mu.Unlock()
				if !closing {
					loopErr = err
					c.logger.Warn("socket connector read failed", "error", err)
				}
			}
			return
		}

		var resp connector.Response
		if err := json.Unmarshal(data, &resp); err != nil {
			c.logger.Warn("socket connector dropped malformed response", "error", err)
			continue
		}

		c.mu.Lock()
		ch, ok := c.pending[resp.ID]
		delete(c.pending, resp.ID)
		c.mu.Unlock()

		if !ok {
			c.logger.Debug("socket response without waiter", "id", resp.ID)
			continue
		}
		ch <- resp
	}
}

func isNormalClose(err error) bool {
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return true
	}
	return errors.Is(err, net.ErrClosed)
}
