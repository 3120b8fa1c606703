package toolwire

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/tmaxmax/go-sse"
)

// SSEConn is a Connection over Server-Sent Events. The endpoint streams
// responses through an SSE event stream while requests travel as HTTP POSTs to
// a per-session message URL the endpoint announces when the stream opens.
//
// Instances are created with NewSSEConn and are not usable until Start
// establishes the event stream.
type SSEConn struct {
	httpClient *http.Client
	connectURL string
	messageURL string

	logger       *slog.Logger
	readTimeout  time.Duration
	maxEventSize int

	// pending maps request ID to a result channel of capacity one.
	pending sync.Map

	connected atomic.Bool
	started   atomic.Bool
	states    chan ConnState
	done      chan struct{}
	closeOnce sync.Once

	bodyMu sync.Mutex
	body   io.ReadCloser
}

// SSEConnOption is a function that configures an SSEConn.
type SSEConnOption func(*SSEConn)

// WithSSELogger sets the logger the connection uses for stream diagnostics.
func WithSSELogger(logger *slog.Logger) SSEConnOption {
	return func(c *SSEConn) {
		c.logger = logger
	}
}

// WithSSEReadTimeout bounds the time SendRequest waits for the correlated
// response.
func WithSSEReadTimeout(timeout time.Duration) SSEConnOption {
	return func(c *SSEConn) {
		c.readTimeout = timeout
	}
}

// WithSSEMaxEventSize sets the maximum size of a single event accepted from
// the stream. Oversized events break the stream.
func WithSSEMaxEventSize(size int) SSEConnOption {
	return func(c *SSEConn) {
		c.maxEventSize = size
	}
}

// NewSSEConn creates a connection that will establish its event stream against
// connectURL. If httpClient is nil the default HTTP client is used. Call Start
// before sending.
func NewSSEConn(connectURL string, httpClient *http.Client, options ...SSEConnOption) *SSEConn {
	cli := httpClient
	if cli == nil {
		cli = http.DefaultClient
	}
	c := &SSEConn{
		httpClient: cli,
		connectURL: connectURL,
		logger:     slog.Default(),
		states:     make(chan ConnState, 4),
		done:       make(chan struct{}),
	}
	for _, opt := range options {
		opt(c)
	}

	if c.readTimeout == 0 {
		c.readTimeout = defaultStdIOReadTimeout
	}

	return c
}

// Start opens the event stream and waits for the endpoint to announce the
// message URL. It must be called once before SendRequest or Notify.
func (c *SSEConn) Start(ctx context.Context) error {
	if !c.started.CompareAndSwap(false, true) {
		return errors.New("connection already started")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.connectURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req) //nolint:bodyclose // closed by listen or Close
	if err != nil {
		return &TransportError{Op: "connect", Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return &TransportError{Op: "connect", Err: fmt.Errorf("unexpected status code: %d", resp.StatusCode)}
	}

	c.bodyMu.Lock()
	c.body = resp.Body
	c.bodyMu.Unlock()

	ready := make(chan error, 1)
	go c.listen(resp.Body, ready)

	select {
	case <-ctx.Done():
		c.closeBody()
		return ctx.Err()
	case err := <-ready:
		if err != nil {
			c.closeBody()
			return &TransportError{Op: "connect", Err: err}
		}
	}

	c.connected.Store(true)
	c.emitState(ConnStateConnected)
	return nil
}

func (c *SSEConn) listen(body io.ReadCloser, ready chan<- error) {
	defer body.Close()

	var config *sse.ReadConfig
	if c.maxEventSize > 0 {
		config = &sse.ReadConfig{
			MaxEventSize: c.maxEventSize,
		}
	}

	announced := false
	for ev, err := range sse.Read(body, config) {
		if err != nil {
			if !announced {
				ready <- fmt.Errorf("stream ended before endpoint event: %w", err)
				return
			}
			c.onStreamBroken(err)
			return
		}

		switch ev.Type {
		case "endpoint":
			u, err := url.Parse(ev.Data)
			if err != nil {
				ready <- fmt.Errorf("failed to parse endpoint URL: %w", err)
				return
			}
			if u.String() == "" {
				ready <- errors.New("empty endpoint URL")
				return
			}
			c.messageURL = u.String()
			announced = true
			ready <- nil
		case "message":
			if !announced {
				c.logger.Error("received message before endpoint URL")
				continue
			}

			var msg Message
			if err := json.Unmarshal([]byte(ev.Data), &msg); err != nil {
				c.logger.Error("failed to unmarshal message", "err", err)
				continue
			}

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
		default:
			c.logger.Error("unhandled event type", "type", ev.Type)
		}
	}

	if !announced {
		ready <- errors.New("stream ended before endpoint event")
		return
	}
	c.onStreamBroken(errors.New("event stream ended"))
}

func (c *SSEConn) onStreamBroken(cause error) {
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

// SendRequest posts the request to the message URL and suspends until the
// correlated response arrives on the event stream, ctx is done, the read
// timeout elapses, or the stream breaks.
func (c *SSEConn) SendRequest(ctx context.Context, msg Message) (Message, error) {
	if msg.ID == "" {
		return Message{}, errors.New("request requires an ID")
	}
	if !c.connected.Load() {
		return Message{}, &TransportError{Op: msg.Method, Err: errors.New("connection is closed")}
	}

	ch := make(chan stdioResult, 1)
	c.pending.Store(string(msg.ID), ch)
	defer c.pending.Delete(string(msg.ID))

	if err := c.post(ctx, msg); err != nil {
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

// Notify posts a notification to the message URL. No response is awaited.
func (c *SSEConn) Notify(ctx context.Context, msg Message) error {
	if !c.connected.Load() {
		return &TransportError{Op: msg.Method, Err: errors.New("connection is closed")}
	}
	if err := c.post(ctx, msg); err != nil {
		return &TransportError{Op: msg.Method, Err: err}
	}
	return nil
}

func (c *SSEConn) post(ctx context.Context, msg Message) error {
	msgBs, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.messageURL, bytes.NewReader(msgBs))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	return nil
}

// Connected reports whether the event stream is established and usable.
func (c *SSEConn) Connected() bool {
	return c.connected.Load()
}

// Identity returns a stable identifier for this connection.
func (c *SSEConn) Identity() string {
	return "sse:" + c.connectURL
}

// StateChanges returns an iterator over the connection's state transitions.
// The iterator ends after the closed state is delivered.
func (c *SSEConn) StateChanges() iter.Seq[ConnState] {
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

func (c *SSEConn) emitState(state ConnState) {
	select {
	case c.states <- state:
	default:
	}
}

func (c *SSEConn) closeBody() {
	c.bodyMu.Lock()
	defer c.bodyMu.Unlock()
	if c.body != nil {
		c.body.Close()
		c.body = nil
	}
}

// Close tears the event stream down, failing any in-flight requests. Close is
// idempotent.
func (c *SSEConn) Close() error {
	c.closeOnce.Do(func() {
		c.connected.Store(false)
		c.emitState(ConnStateClosed)
		close(c.done)
		c.closeBody()
	})
	return nil
}

// SSEServer binds a Server to Server-Sent Events transport. Clients open the
// event stream through the HandleSSE handler and post their messages to the
// HandleMessage handler; responses travel back over the stream. Both handlers
// integrate with any HTTP framework.
type SSEServer struct {
	srv        *Server
	messageURL string
	logger     *slog.Logger

	mu       sync.Mutex
	sessions map[string]*sseSession
}

type sseSession struct {
	state *serverSession

	// sendMu serializes writers on the shared SSE session and synchronizes
	// them with handler teardown: HandleSSE marks the session closed under
	// this mutex before returning, so no write can race the response
	// finalization.
	sendMu sync.Mutex
	sess   *sse.Session
	closed bool
}

// sendMessage writes one message as an SSE event. Once the session is marked
// closed the underlying response writer is gone and the message is refused.
func (s *sseSession) sendMessage(msg *Message) error {
	bs, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	sseMsg := &sse.Message{
		Type: sse.Type("message"),
	}
	sseMsg.AppendData(string(bs))

	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	if s.closed {
		return fmt.Errorf("session is closed")
	}

	if err := s.sess.Send(sseMsg); err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	if err := s.sess.Flush(); err != nil {
		return fmt.Errorf("failed to flush message: %w", err)
	}
	return nil
}

// close marks the session unusable for sends. It blocks until any in-flight
// send completes.
func (s *sseSession) close() {
	s.sendMu.Lock()
	s.closed = true
	s.sendMu.Unlock()
}

// NewSSEServer creates an SSE binding for srv. The messageURL is the absolute
// URL where HandleMessage is mounted; it is announced to each connecting
// client with its session ID appended.
func NewSSEServer(srv *Server, messageURL string) *SSEServer {
	return &SSEServer{
		srv:        srv,
		messageURL: messageURL,
		logger:     srv.logger,
		sessions:   make(map[string]*sseSession),
	}
}

// HandleSSE returns an http.Handler for establishing SSE sessions over GET
// requests. The handler upgrades the connection, assigns a session ID, and
// announces the per-session message URL as the first event. The connection
// stays open until the client disconnects.
func (s *SSEServer) HandleSSE() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess, err := sse.Upgrade(w, r)
		if err != nil {
			nErr := fmt.Errorf("failed to upgrade session: %w", err)
			s.logger.Error("failed to upgrade session", "err", nErr)
			http.Error(w, nErr.Error(), http.StatusInternalServerError)
			return
		}

		sessID := uuid.New().String()

		url := fmt.Sprintf("%s?sessionID=%s", s.messageURL, sessID)

		msg := sse.Message{
			Type: sse.Type("endpoint"),
		}
		msg.AppendData(url)
		if err := sess.Send(&msg); err != nil {
			nErr := fmt.Errorf("failed to write endpoint URL: %w", err)
			s.logger.Error("failed to write endpoint URL", "err", nErr)
			http.Error(w, nErr.Error(), http.StatusInternalServerError)
			return
		}
		if err := sess.Flush(); err != nil {
			nErr := fmt.Errorf("failed to flush endpoint URL: %w", err)
			s.logger.Error("failed to flush endpoint URL", "err", nErr)
			http.Error(w, nErr.Error(), http.StatusInternalServerError)
			return
		}

		session := &sseSession{
			state: &serverSession{},
			sess:  sess,
		}
		s.mu.Lock()
		s.sessions[sessID] = session
		s.mu.Unlock()

		// Keep the stream open until the client goes away.
		<-r.Context().Done()

		s.mu.Lock()
		delete(s.sessions, sessID)
		s.mu.Unlock()

		// Wait out any in-flight send before the response writer is
		// finalized; later sends are refused.
		session.close()
	})
}

// HandleMessage returns an http.Handler for processing client messages sent
// via POST requests. The handler expects a sessionID query parameter and a
// JSON-encoded message body; the response to a request travels back over the
// session's event stream.
func (s *SSEServer) HandleMessage() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sessID := r.URL.Query().Get("sessionID")
		if sessID == "" {
			s.logger.Warn("missing sessionID query parameter")
			http.Error(w, "missing sessionID query parameter", http.StatusBadRequest)
			return
		}

		s.mu.Lock()
		session, ok := s.sessions[sessID]
		s.mu.Unlock()
		if !ok {
			s.logger.Warn("unknown session", "sessionID", sessID)
			http.Error(w, "unknown session", http.StatusNotFound)
			return
		}

		var msg Message
		if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
			nErr := fmt.Errorf("failed to decode message: %w", err)
			s.logger.Warn("failed to decode message", "err", nErr)
			http.Error(w, nErr.Error(), http.StatusBadRequest)
			return
		}

		// Dispatch detached from the POST's lifetime; the response goes over
		// the event stream, not this HTTP exchange.
		go func() {
			res := s.srv.handle(context.Background(), session.state, msg)
			if res == nil {
				return
			}
			if err := session.sendMessage(res); err != nil {
				s.logger.Error("failed to send response", "sessionID", sessID, "err", err)
			}
		}()
	})
}
