// Package session runs one client connection: it decodes frames from the
// socket, hands them to the session's role and writes exactly one response
// per frame.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cyberinferno/railserver/apperror"
	"github.com/cyberinferno/railserver/logger"
	"github.com/cyberinferno/railserver/protocol"
	"github.com/cyberinferno/railserver/replay"
	"github.com/cyberinferno/railserver/role"
)

// Config holds the per-connection limits and timeouts.
type Config struct {
	ReceiveChunkSize    int
	MaxPayloadSize      int
	WriteTimeout        time.Duration
	ObserverWaitTimeout time.Duration
	NotifierStopTimeout time.Duration
}

// Recorder accepts replay records without blocking.
type Recorder interface {
	Enqueue(rec replay.Record) bool
}

// Conn is the handler of one client connection. Frames are processed in
// receipt order on the goroutine running Handle; only the notifier of an
// observer session writes from another goroutine, and all writes go through
// Send.
type Conn struct {
	id       uint32
	conn     net.Conn
	cfg      Config
	table    *role.Table
	recorder Recorder
	logger   logger.Logger

	writeMu sync.Mutex

	role     role.Role
	notifier *Notifier

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	closed    atomic.Bool
	closeErr  error
}

// New creates the handler for conn. recorder may be nil, in which case
// nothing is written to the replay log.
func New(id uint32, conn net.Conn, table *role.Table, recorder Recorder, cfg Config, log logger.Logger) *Conn {
	if cfg.ReceiveChunkSize <= 0 {
		cfg.ReceiveChunkSize = 4096
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Conn{
		id:       id,
		conn:     conn,
		cfg:      cfg,
		table:    table,
		recorder: recorder,
		logger:   log.With(logger.F("session_id", id), logger.F("remote", conn.RemoteAddr().String())),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// ID returns the id the server assigned to the connection.
func (c *Conn) ID() uint32 {
	return c.id
}

// Handle runs the receive loop until the peer goes away, a logout is
// answered, a transport error occurs or Close is called.
func (c *Conn) Handle() {
	c.logger.Info("session opened")
	defer c.teardown()

	dec := protocol.NewDecoder(c.cfg.MaxPayloadSize)
	buf := make([]byte, c.cfg.ReceiveChunkSize)

	for {
		n, err := c.conn.Read(buf)
		if n > 0 {
			dec.Feed(buf[:n])
			if !c.drain(dec) {
				return
			}
		}

		if err != nil {
			if errors.Is(err, io.EOF) || c.closed.Load() {
				c.logger.Debug("peer disconnected")
			} else {
				c.logger.Warn("receive failed", logger.Err(err))
			}

			return
		}
	}
}

// drain processes every complete frame in the decoder. It reports false
// when the connection must close.
func (c *Conn) drain(dec *protocol.Decoder) bool {
	for {
		frame, ok, err := dec.Next()
		if err != nil {
			c.logger.Warn("protocol violation, closing", logger.Err(err))
			return false
		}

		if !ok {
			return true
		}

		if !c.process(frame) {
			return false
		}
	}
}

func (c *Conn) process(frame protocol.Frame) bool {
	start := time.Now()
	action := frame.Action()

	var resp []byte
	payload, err := frame.Object()
	if err != nil {
		err = apperror.NewBadCommand("Payload is not a valid JSON object")
	} else {
		resp, err = c.dispatch(action, payload)
	}

	result := resultOf(err)
	if err != nil {
		resp = errorPayload(err)
		c.logFailure(action, result, err)
	}

	if werr := c.writeFrame(result, resp); werr != nil {
		c.logger.Warn("failed to write response", logger.F("action", action.String()), logger.Err(werr))
		return false
	}

	c.logger.Debug("action processed",
		logger.F("action", action.String()),
		logger.F("result", result.String()),
		logger.F("elapsed", time.Since(start).String()),
	)

	if err == nil {
		c.record(action, frame.Payload, payload)
	}

	return c.role == nil || !c.role.CloseConnection()
}

// dispatch resolves the role on the first successful login and forwards
// everything else to it.
func (c *Conn) dispatch(action protocol.Action, payload map[string]any) (resp []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = apperror.Wrap(fmt.Errorf("panic: %v", r), "handler panicked")
		}
	}()

	if c.role != nil {
		return c.role.Dispatch(c.ctx, action, payload)
	}

	factory, err := c.table.Resolve(action)
	if err != nil {
		return nil, err
	}

	r := factory()
	resp, err = r.Dispatch(c.ctx, action, payload)
	if err != nil {
		return nil, err
	}

	c.role = r
	c.logger = c.logger.With(logger.F("role", r.Kind()), logger.F("actor", r.Actor()))

	if _, ok := r.(*role.Observer); ok {
		c.notifier = NewNotifier(r.Game(), func(msg []byte) error {
			return c.writeFrame(protocol.Okey, msg)
		}, c.cfg.ObserverWaitTimeout, c.logger)
		c.notifier.Start()
	}

	return resp, nil
}

func (c *Conn) record(action protocol.Action, raw []byte, payload map[string]any) {
	if c.recorder == nil || c.role == nil || !c.role.Persist(action) {
		return
	}

	g := c.role.Game()
	if g == nil || g.ReplayID() == 0 {
		return
	}

	logged, err := loggedPayload(raw, payload)
	if err != nil {
		c.logger.Warn("replay payload dropped", logger.F("action", action.String()), logger.Err(err))
		return
	}

	c.recorder.Enqueue(replay.Record{
		GameID:  g.ReplayID(),
		Code:    action,
		Payload: logged,
		Actor:   c.role.Actor(),
	})
}

// secretKeys never reach the replay log; observers can read it back.
var secretKeys = []string{"password"}

// loggedPayload returns the bytes to record for a request. raw is kept as
// is unless the decoded payload carries a secret.
func loggedPayload(raw []byte, payload map[string]any) ([]byte, error) {
	if len(payload) == 0 {
		return nil, nil
	}

	var scrubbed map[string]any
	for _, k := range secretKeys {
		if _, ok := payload[k]; !ok {
			continue
		}

		if scrubbed == nil {
			scrubbed = maps.Clone(payload)
		}
		delete(scrubbed, k)
	}

	if scrubbed == nil {
		return raw, nil
	}

	return json.Marshal(scrubbed)
}

func (c *Conn) writeFrame(result protocol.Result, payload []byte) error {
	return c.Send(protocol.EncodeHeader(uint32(result), len(payload)), payload)
}

// Send writes parts back to back under the connection's write lock.
func (c *Conn) Send(parts ...[]byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.cfg.WriteTimeout > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	}

	bufs := make(net.Buffers, 0, len(parts))
	for _, p := range parts {
		if len(p) > 0 {
			bufs = append(bufs, p)
		}
	}

	_, err := bufs.WriteTo(c.conn)
	return err
}

// Close force-closes the transport. A blocked receive loop returns and
// tears the session down.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.cancel()
		c.closeErr = c.conn.Close()
	})

	return c.closeErr
}

func (c *Conn) teardown() {
	if c.role != nil {
		c.role.Detach()
	}

	if c.notifier != nil {
		c.notifier.Stop(c.cfg.NotifierStopTimeout)
	}

	_ = c.Close()
	c.logger.Info("session closed")
}

func (c *Conn) logFailure(action protocol.Action, result protocol.Result, err error) {
	fields := []logger.Field{
		logger.F("action", action.String()),
		logger.F("result", result.String()),
		logger.Err(err),
	}

	if result == protocol.InternalServerError {
		c.logger.Error("action failed", fields...)
		return
	}

	c.logger.Info("action rejected", fields...)
}
