// Package client is a TCP client for the rail server. Requests are sent one
// at a time and matched with the next frame the server writes; frames that
// arrive while no request is outstanding are observer pushes and are queued
// for Next.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/cyberinferno/railserver/logger"
	"github.com/cyberinferno/railserver/protocol"
)

// ErrClosed is returned by calls made after the connection went away.
var ErrClosed = errors.New("client closed")

// ConnectionState represents the current state of the TCP connection.
type ConnectionState int

const (
	Disconnected ConnectionState = iota
	Connecting
	Connected
	Closed
)

func (cs ConnectionState) String() string {
	switch cs {
	case Disconnected:
		return "Disconnected"
	case Connecting:
		return "Connecting"
	case Connected:
		return "Connected"
	case Closed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// ConnectionStateEvent is emitted when the connection state changes.
type ConnectionStateEvent struct {
	State     ConnectionState
	Address   string
	Timestamp time.Time
	Error     error
}

// ConnectionStateHandler is called from its own goroutine on every state
// change.
type ConnectionStateHandler func(event ConnectionStateEvent)

// ResultError is returned by Call when the server answers with a result
// other than OKEY.
type ResultError struct {
	Result  protocol.Result
	Message string
}

func (e *ResultError) Error() string {
	if e.Message == "" {
		return e.Result.String()
	}

	return fmt.Sprintf("%s: %s", e.Result, e.Message)
}

// Config holds configuration for the client.
type Config struct {
	// Address is the "host:port" of the server.
	Address string
	// ConnectionTimeout bounds the dial.
	ConnectionTimeout time.Duration
	// WriteTimeout bounds a single request write; 0 means no timeout.
	WriteTimeout time.Duration
	// ReadBufferSize is the size of each socket read.
	ReadBufferSize int
	// MaxPayloadSize rejects frames declaring a larger payload; 0 disables
	// the check.
	MaxPayloadSize int
	// PushBuffer is the number of unread pushes kept before new ones are
	// dropped.
	PushBuffer int
}

// DefaultConfig returns a Config with default values for the given address.
func DefaultConfig(address string) Config {
	return Config{
		Address:           address,
		ConnectionTimeout: 10 * time.Second,
		WriteTimeout:      10 * time.Second,
		ReadBufferSize:    4096,
		MaxPayloadSize:    16 * 1024 * 1024,
		PushBuffer:        64,
	}
}

// Client is one connection to the server. It is safe for concurrent use;
// concurrent Do calls are serialised.
type Client struct {
	config Config
	conn   net.Conn
	logger logger.Logger

	onConnectionState ConnectionStateHandler

	reqMu   sync.Mutex
	mu      sync.Mutex
	state   ConnectionState
	pending chan protocol.Frame
	pushes  chan protocol.Frame
	err     error

	done chan struct{}
	wg   sync.WaitGroup
}

// Dial connects to config.Address and starts the read loop.
//
// Parameters:
//   - ctx: Bounds the dial together with ConnectionTimeout
//   - config: Connection settings, usually from DefaultConfig
//   - log: Logger for transport events
//   - onState: Optional handler for connection state changes
//
// Returns:
//   - A connected client; call Close when done
//   - The dial error
func Dial(ctx context.Context, config Config, log logger.Logger, onState ConnectionStateHandler) (*Client, error) {
	if config.ReadBufferSize <= 0 {
		config.ReadBufferSize = 4096
	}

	if config.PushBuffer <= 0 {
		config.PushBuffer = 64
	}

	c := &Client{
		config:            config,
		logger:            log.With(logger.F("component", "client"), logger.F("addr", config.Address)),
		onConnectionState: onState,
		pushes:            make(chan protocol.Frame, config.PushBuffer),
		done:              make(chan struct{}),
	}

	c.setState(Connecting, nil)

	dialer := net.Dialer{Timeout: config.ConnectionTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", config.Address)
	if err != nil {
		c.setState(Disconnected, err)
		return nil, err
	}

	c.conn = conn
	c.setState(Connected, nil)

	c.wg.Add(1)
	go c.readLoop()

	return c, nil
}

// State returns the current connection state.
func (c *Client) State() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Do sends one request and waits for its response frame.
//
// Parameters:
//   - ctx: Cancels the wait; the connection is closed in that case because
//     the late response could no longer be matched
//   - action: The request code
//   - payload: Marshalled to JSON; nil sends an empty payload
//
// Returns:
//   - The response frame, whatever its result code
//   - A transport, encoding or context error
func (c *Client) Do(ctx context.Context, action protocol.Action, payload any) (protocol.Frame, error) {
	var raw []byte
	if payload != nil {
		var err error
		if raw, err = json.Marshal(payload); err != nil {
			return protocol.Frame{}, fmt.Errorf("encode %s payload: %w", action, err)
		}
	}

	if err := ctx.Err(); err != nil {
		return protocol.Frame{}, err
	}

	c.reqMu.Lock()
	defer c.reqMu.Unlock()

	reply := make(chan protocol.Frame, 1)

	c.mu.Lock()
	if c.state != Connected {
		err := c.closedErrLocked()
		c.mu.Unlock()
		return protocol.Frame{}, err
	}
	c.pending = reply
	c.mu.Unlock()

	if err := c.write(protocol.Encode(uint32(action), raw)); err != nil {
		c.shutdown(err)
		return protocol.Frame{}, fmt.Errorf("%w: %v", ErrClosed, err)
	}

	select {
	case f := <-reply:
		return f, nil
	case <-c.done:
		select {
		case f := <-reply:
			return f, nil
		default:
		}

		c.mu.Lock()
		defer c.mu.Unlock()
		return protocol.Frame{}, c.closedErrLocked()
	case <-ctx.Done():
		c.shutdown(ctx.Err())
		return protocol.Frame{}, ctx.Err()
	}
}

// Call is Do for JSON request/response pairs. A non-OKEY result is
// returned as *ResultError; out may be nil to discard the payload.
func (c *Client) Call(ctx context.Context, action protocol.Action, payload, out any) error {
	f, err := c.Do(ctx, action, payload)
	if err != nil {
		return err
	}

	if f.Result() != protocol.Okey {
		var body struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(f.Payload, &body)
		return &ResultError{Result: f.Result(), Message: body.Error}
	}

	if out == nil || len(f.Payload) == 0 {
		return nil
	}

	return json.Unmarshal(f.Payload, out)
}

// Next returns the next pushed frame.
//
// Returns:
//   - ErrClosed once the connection is gone and no push is left
//   - ctx.Err() when ctx ends first
func (c *Client) Next(ctx context.Context) (protocol.Frame, error) {
	select {
	case f, ok := <-c.pushes:
		if !ok {
			return protocol.Frame{}, ErrClosed
		}

		return f, nil
	case <-ctx.Done():
		return protocol.Frame{}, ctx.Err()
	}
}

// Close shuts the connection down and waits for the read loop. Idempotent.
func (c *Client) Close() error {
	c.shutdown(nil)
	c.wg.Wait()
	return nil
}

func (c *Client) write(data []byte) error {
	if c.config.WriteTimeout > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout)); err != nil {
			return err
		}
	}

	_, err := c.conn.Write(data)
	return err
}

func (c *Client) readLoop() {
	defer c.wg.Done()
	defer close(c.pushes)

	dec := protocol.NewDecoder(c.config.MaxPayloadSize)
	buf := make([]byte, c.config.ReadBufferSize)

	for {
		n, err := c.conn.Read(buf)
		if n > 0 {
			dec.Feed(buf[:n])
			if derr := c.deliver(dec); derr != nil {
				c.shutdown(derr)
				return
			}
		}

		if err != nil {
			c.shutdown(err)
			return
		}
	}
}

func (c *Client) deliver(dec *protocol.Decoder) error {
	for {
		f, ok, err := dec.Next()
		if err != nil {
			return err
		}

		if !ok {
			return nil
		}

		c.mu.Lock()
		reply := c.pending
		c.pending = nil
		c.mu.Unlock()

		if reply != nil {
			reply <- f
			continue
		}

		select {
		case c.pushes <- f:
		default:
			c.logger.Warn("push buffer full, dropping frame", logger.F("result", f.Result().String()))
		}
	}
}

// shutdown closes the socket once and records why.
func (c *Client) shutdown(cause error) {
	c.mu.Lock()
	if c.state == Closed {
		c.mu.Unlock()
		return
	}

	c.state = Closed
	c.err = cause
	c.pending = nil
	c.mu.Unlock()

	_ = c.conn.Close()
	close(c.done)

	if cause != nil {
		c.logger.Debug("connection closed", logger.Err(cause))
	}

	c.emitConnectionState(Closed, cause)
}

func (c *Client) closedErrLocked() error {
	if c.err != nil {
		return fmt.Errorf("%w: %v", ErrClosed, c.err)
	}

	return ErrClosed
}

func (c *Client) setState(state ConnectionState, err error) {
	c.mu.Lock()
	c.state = state
	c.mu.Unlock()

	c.emitConnectionState(state, err)
}

func (c *Client) emitConnectionState(state ConnectionState, err error) {
	if c.onConnectionState == nil {
		return
	}

	go c.onConnectionState(ConnectionStateEvent{
		State:     state,
		Address:   c.config.Address,
		Timestamp: time.Now(),
		Error:     err,
	})
}
