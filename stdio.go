package toolwire

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// StdIOConn is a Connection over a newline-delimited JSON stream pair,
// typically the stdin/stdout of a subprocess. It satisfies the correlated
// request/response contract: a background read loop matches incoming responses
// to in-flight requests by ID, so multiple requests may be suspended
// concurrently and responses may arrive in any order.
type StdIOConn struct {
	r io.Reader
	w io.Writer

	identity    string
	logger      *slog.Logger
	readTimeout time.Duration

	writeMu sync.Mutex

	// pending maps request ID to a result channel of capacity one, so the read
	// loop never blocks delivering a response.
	pending sync.Map

	connected atomic.Bool
	states    chan ConnState
	done      chan struct{}
	closeOnce sync.Once
}

type stdioResult struct {
	msg Message
	err error
}

// StdIOConnOption is a function that configures a StdIOConn.
type StdIOConnOption func(*StdIOConn)

// WithStdIOLogger sets the logger the connection uses for read-loop
// diagnostics.
func WithStdIOLogger(logger *slog.Logger) StdIOConnOption {
	return func(c *StdIOConn) {
		c.logger = logger
	}
}

// WithStdIOReadTimeout bounds the time SendRequest waits for the correlated
// response.
func WithStdIOReadTimeout(timeout time.Duration) StdIOConnOption {
	return func(c *StdIOConn) {
		c.readTimeout = timeout
	}
}

var defaultStdIOReadTimeout = 30 * time.Second

// NewStdIOConn creates a connection reading responses from r and writing
// requests to w. The read loop starts immediately and runs until the stream
// ends or Close is called.
func NewStdIOConn(r io.Reader, w io.Writer, options ...StdIOConnOption) *StdIOConn {
	c := &StdIOConn{
		r:        r,
		w:        w,
		identity: "stdio:" + uuid.New().String(),
		logger:   slog.Default(),
		states:   make(chan ConnState, 4),
		done:     make(chan struct{}),
	}
	for _, opt := range options {
		opt(c)
	}

	if c.readTimeout == 0 {
		c.readTimeout = defaultStdIOReadTimeout
	}

	c.connected.Store(true)
	go c.listen()

	return c
}

func (c *StdIOConn) listen() {
	scanner := bufio.NewReader(c.r)
	for {
		line, err := scanner.ReadBytes('\n')
		if err != nil {
			c.onStreamBroken(err)
			return
		}

		var msg Message
		if err := json.Unmarshal(line, &msg); err != nil {
			c.logger.Error("failed to unmarshal incoming message", "err", err)
			continue
		}

		// Requests and notifications carry a method; only responses are
		// correlated back to a waiter.
		if msg.Method != "" || msg.ID == "" {
			c.logger.Warn("ignoring uncorrelated incoming message", "method", msg.Method)
			continue
		}

		ch, ok := c.pending.Load(string(msg.ID))
		if !ok {
			c.logger.Warn("no waiter for incoming response", "id", string(msg.ID))
			continue
		}
		ch.(chan stdioResult) <- stdioResult{msg: msg}
	}
}

// onStreamBroken fails every in-flight request and flips the connection to
// disconnected. Reaching the end of the stream while requests are still
// suspended is a transport failure for each of them.
func (c *StdIOConn) onStreamBroken(cause error) {
	if !c.connected.CompareAndSwap(true, false) {
		return
	}
	c.emitState(ConnStateDisconnected)

	err := &TransportError{Op: "read", Err: fmt.Errorf("stream ended: %w", cause)}
	c.pending.Range(func(key, value any) bool {
		select {
		case value.(chan stdioResult) <- stdioResult{err: err}:
		default:
		}
		return true
	})
}

// SendRequest writes the request and suspends until the correlated response
// arrives, ctx is done, the read timeout elapses, or the stream breaks.
func (c *StdIOConn) SendRequest(ctx context.Context, msg Message) (Message, error) {
	if msg.ID == "" {
		return Message{}, errors.New("request requires an ID")
	}
	if !c.connected.Load() {
		return Message{}, &TransportError{Op: msg.Method, Err: errors.New("connection is closed")}
	}

	ch := make(chan stdioResult, 1)
	c.pending.Store(string(msg.ID), ch)
	defer c.pending.Delete(string(msg.ID))

	if err := c.write(msg); err != nil {
		return Message{}, &TransportError{Op: msg.Method, Err: err}
	}

	timer := time.NewTimer(c.readTimeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return Message{}, ctx.Err()
	case <-timer.C:
		return Message{}, &TransportError{Op: msg.Method, Err: errors.New("response timeout")}
	case <-c.done:
		return Message{}, &TransportError{Op: msg.Method, Err: errors.New("connection is closed")}
	case res := <-ch:
		if res.err != nil {
			return Message{}, res.err
		}
		return res.msg, nil
	}
}

// Notify writes a notification. No response is awaited.
func (c *StdIOConn) Notify(_ context.Context, msg Message) error {
	if !c.connected.Load() {
		return &TransportError{Op: msg.Method, Err: errors.New("connection is closed")}
	}
	if err := c.write(msg); err != nil {
		return &TransportError{Op: msg.Method, Err: err}
	}
	return nil
}

func (c *StdIOConn) write(msg Message) error {
	bs, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	bs = append(bs, '\n')

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if _, err := c.w.Write(bs); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	return nil
}

// Connected reports whether the stream is still usable.
func (c *StdIOConn) Connected() bool {
	return c.connected.Load()
}

// Identity returns a stable identifier for this connection.
func (c *StdIOConn) Identity() string {
	return c.identity
}

// StateChanges returns an iterator over the connection's state transitions.
// The iterator ends after the closed state is delivered.
func (c *StdIOConn) StateChanges() iter.Seq[ConnState] {
	return func(yield func(ConnState) bool) {
		for {
			select {
			case state := <-c.states:
				if !yield(state) {
					return
				}
				if state == ConnStateClosed {
					return
				}
			case <-c.done:
				// Drain transitions emitted just before shutdown.
				for {
					select {
					case state := <-c.states:
						if !yield(state) {
							return
						}
						if state == ConnStateClosed {
							return
						}
					default:
						return
					}
				}
			}
		}
	}
}

func (c *StdIOConn) emitState(state ConnState) {
	select {
	case c.states <- state:
	default:
	}
}

// Close shuts the connection down, failing any in-flight requests. It closes
// the underlying reader and writer when they support it. Close is idempotent.
func (c *StdIOConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.connected.Store(false)
		c.emitState(ConnStateClosed)
		close(c.done)

		if closer, ok := c.r.(io.Closer); ok {
			if cErr := closer.Close(); cErr != nil {
				err = cErr
			}
		}
		if closer, ok := c.w.(io.Closer); ok {
			if cErr := closer.Close(); cErr != nil && err == nil {
				err = cErr
			}
		}
	})
	return err
}

// ServeStdIO runs the server over a newline-delimited JSON stream pair until
// the stream ends or ctx is cancelled. Each request is dispatched on its own
// goroutine so a slow tool call does not stall the read loop.
func (s *Server) ServeStdIO(ctx context.Context, r io.Reader, w io.Writer) error {
	sess := &serverSession{}
	var writeMu sync.Mutex

	scanner := bufio.NewReader(r)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		line, err := scanner.ReadBytes('\n')
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("failed to read message: %w", err)
		}

		writeResponse := func(res *Message) {
			if res == nil {
				return
			}

			bs, err := json.Marshal(res)
			if err != nil {
				s.logger.Error("failed to marshal response", "err", err)
				return
			}
			bs = append(bs, '\n')

			writeMu.Lock()
			defer writeMu.Unlock()
			if _, err := w.Write(bs); err != nil {
				s.logger.Error("failed to write response", "err", err)
			}
		}

		var msg Message
		if err := json.Unmarshal(line, &msg); err != nil {
			s.logger.Error("failed to unmarshal incoming message", "err", err)
			writeResponse(errorResponse("", jsonRPCParseErrorCode, errMsgParseError))
			continue
		}

		go func() {
			writeResponse(s.handle(ctx, sess, msg))
		}()
	}
}
