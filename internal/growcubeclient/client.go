package growcubeclient

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// Default timeouts for device communication.
const (
	// DefaultPort is the TCP port Growcube controllers listen on.
	DefaultPort = 8800

	// defaultDialTimeout bounds the TCP connect.
	defaultDialTimeout = 5 * time.Second

	// defaultWriteTimeout bounds a single command write.
	defaultWriteTimeout = 5 * time.Second

	// defaultKeepAlive is the TCP keepalive period used to detect dead peers.
	defaultKeepAlive = 30 * time.Second

	// readBufferSize is the size of the socket read buffer.
	readBufferSize = 512
)

// Handlers are the callbacks a client invokes.
//
// All callbacks for one connection run on that connection's read goroutine,
// one at a time and in arrival order. Any of them may be nil.
type Handlers struct {
	// OnMessage receives every decoded report, including UnknownReport.
	OnMessage func(Report)

	// OnConnected is called once the TCP connection is open.
	OnConnected func(host string)

	// OnDisconnected is called when the connection drops without Disconnect
	// having been called.
	OnDisconnected func(host string)
}

// Client is the device connection consumed by the bridge.
type Client interface {
	// Connect opens the connection. Reports start flowing to OnMessage.
	Connect(ctx context.Context) error

	// Disconnect closes the connection. OnDisconnected is not invoked.
	// Safe to call when not connected.
	Disconnect() error

	// Send writes a command to the device.
	Send(ctx context.Context, cmd Command) error

	// IsConnected reports whether a connection is open.
	IsConnected() bool

	// Host returns the address the client connects to.
	Host() string
}

// Factory creates a client for a device address with the given callbacks.
type Factory func(host string, handlers Handlers) Client

// Config holds TCP client settings.
type Config struct {
	// Address is host:port of the device.
	Address string

	// DialTimeout bounds the TCP connect. Default: 5 seconds.
	DialTimeout time.Duration

	// WriteTimeout bounds a command write when the context has no deadline.
	// Default: 5 seconds.
	WriteTimeout time.Duration

	// IdleTimeout drops the connection when nothing is received for this
	// long. Zero disables it.
	IdleTimeout time.Duration
}

// Stats holds client counters.
type Stats struct {
	FramesRx     uint64
	FramesTx     uint64
	UnknownRx    uint64
	BytesDropped uint64
	Connected    bool
}

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Ensure TCPClient implements Client.
var _ Client = (*TCPClient)(nil)

// session is one TCP connection and its read loop.
type session struct {
	conn    net.Conn
	closing atomic.Bool
	done    chan struct{}
}

// TCPClient is a Client over a plain TCP socket.
//
// A TCPClient can be connected again after it has been disconnected or the
// connection dropped; each Connect starts a fresh session.
//
// Thread Safety: all methods are safe for concurrent use.
type TCPClient struct {
	cfg      Config
	handlers Handlers

	mu      sync.Mutex
	session *session

	writeMu sync.Mutex

	framesRx     atomic.Uint64
	framesTx     atomic.Uint64
	unknownRx    atomic.Uint64
	bytesDropped atomic.Uint64

	logger   Logger
	loggerMu sync.RWMutex
}

// NewTCPClient creates an unconnected client.
func NewTCPClient(cfg Config, handlers Handlers) *TCPClient {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = defaultDialTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	return &TCPClient{cfg: cfg, handlers: handlers}
}

// TCPFactory returns a Factory producing TCP clients that share base settings.
// The host passed to the factory becomes the client address.
func TCPFactory(base Config, logger Logger) Factory {
	return func(host string, handlers Handlers) Client {
		cfg := base
		cfg.Address = Address(host)
		c := NewTCPClient(cfg, handlers)
		if logger != nil {
			c.SetLogger(logger)
		}
		return c
	}
}

// Address appends DefaultPort to a host given without a port.
func Address(host string) string {
	if _, _, err := net.SplitHostPort(host); err == nil {
		return host
	}
	return net.JoinHostPort(host, strconv.Itoa(DefaultPort))
}

// Host implements Client.
func (c *TCPClient) Host() string {
	return c.cfg.Address
}

// SetLogger sets the logger for this client.
func (c *TCPClient) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
}

// Connect dials the device and starts the read loop.
//
// The dial holds the client lock, so a concurrent Disconnect waits for it
// and then closes the new session.
//
// Parameters:
//   - ctx: Cancels the dial; it does not bound the session afterwards
//
// Returns:
//   - nil once the socket is open; reports arrive later through
//     Handlers.OnMessage on the read goroutine
//   - ErrAlreadyConnected if a session is open
//   - ErrConnectionFailed if the dial fails or times out (Config.DialTimeout)
//
// OnConnected runs before Connect returns. OnDisconnected fires once when
// the peer closes the socket or a read fails, never after Disconnect.
func (c *TCPClient) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.session != nil {
		c.mu.Unlock()
		return ErrAlreadyConnected
	}

	dialer := net.Dialer{Timeout: c.cfg.DialTimeout, KeepAlive: defaultKeepAlive}
	conn, err := dialer.DialContext(ctx, "tcp", c.cfg.Address)
	if err != nil {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s: %w", ErrConnectionFailed, c.cfg.Address, err)
	}

	sess := &session{conn: conn, done: make(chan struct{})}
	c.session = sess
	c.mu.Unlock()

	c.logDebug("connected", "address", c.cfg.Address)
	if cb := c.handlers.OnConnected; cb != nil {
		c.safeCall(func() { cb(c.cfg.Address) })
	}

	go c.readLoop(sess)
	return nil
}

// Disconnect closes the current session, if any. The read loop exits
// without calling OnDisconnected. Safe to call when not connected.
func (c *TCPClient) Disconnect() error {
	c.mu.Lock()
	sess := c.session
	c.session = nil
	c.mu.Unlock()

	if sess == nil {
		return nil
	}

	sess.closing.Store(true)
	if err := sess.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		return fmt.Errorf("closing connection: %w", err)
	}
	return nil
}

// Send writes one command frame. Writes are serialised; the deadline is the
// ctx deadline or Config.WriteTimeout when ctx has none.
func (c *TCPClient) Send(ctx context.Context, cmd Command) error {
	c.mu.Lock()
	sess := c.session
	c.mu.Unlock()

	if sess == nil {
		return ErrNotConnected
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(c.cfg.WriteTimeout)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := sess.conn.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("%w: %w", ErrWriteFailed, err)
	}
	if _, err := sess.conn.Write(Encode(cmd)); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrWriteFailed, cmd.Name(), err)
	}

	c.framesTx.Add(1)
	c.logDebug("command sent", "command", cmd.Name(), "address", c.cfg.Address)
	return nil
}

// IsConnected implements Client.
func (c *TCPClient) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session != nil
}

// Stats returns a snapshot of the client counters.
func (c *TCPClient) Stats() Stats {
	return Stats{
		FramesRx:     c.framesRx.Load(),
		FramesTx:     c.framesTx.Load(),
		UnknownRx:    c.unknownRx.Load(),
		BytesDropped: c.bytesDropped.Load(),
		Connected:    c.IsConnected(),
	}
}

// readLoop decodes frames until the connection fails or is closed.
func (c *TCPClient) readLoop(sess *session) {
	defer close(sess.done)

	var dec Decoder
	buf := make([]byte, readBufferSize)

	var readErr error
	for {
		if c.cfg.IdleTimeout > 0 {
			//nolint:errcheck // Read error surfaces the failure
			sess.conn.SetReadDeadline(time.Now().Add(c.cfg.IdleTimeout))
		}

		n, err := sess.conn.Read(buf)
		if n > 0 {
			dropped := dec.Dropped()
			for _, f := range dec.Feed(buf[:n]) {
				c.deliver(f)
			}
			if d := dec.Dropped() - dropped; d > 0 {
				c.bytesDropped.Add(d)
			}
		}
		if err != nil {
			readErr = err
			break
		}
	}

	c.mu.Lock()
	if c.session == sess {
		c.session = nil
	}
	c.mu.Unlock()
	sess.conn.Close() //nolint:errcheck // Already failed or closing

	if sess.closing.Load() {
		return
	}

	c.logInfo("connection lost", "address", c.cfg.Address, "error", readErr)
	if cb := c.handlers.OnDisconnected; cb != nil {
		c.safeCall(func() { cb(c.cfg.Address) })
	}
}

// deliver decodes a frame and hands the report to OnMessage.
func (c *TCPClient) deliver(f Frame) {
	c.framesRx.Add(1)

	report := DecodeReport(f)
	if u, ok := report.(UnknownReport); ok {
		c.unknownRx.Add(1)
		c.logDebug("unrecognised frame", "command", u.Cmd, "payload", u.Payload, "error", u.Err)
	}

	if cb := c.handlers.OnMessage; cb != nil {
		c.safeCall(func() { cb(report) })
	}
}

// safeCall runs a handler, recovering from panics so one bad handler
// cannot kill the read loop.
func (c *TCPClient) safeCall(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			c.loggerMu.RLock()
			logger := c.logger
			c.loggerMu.RUnlock()
			if logger != nil {
				logger.Error("growcube handler panic recovered", "panic", r, "address", c.cfg.Address)
			}
		}
	}()
	fn()
}

func (c *TCPClient) logDebug(msg string, keysAndValues ...any) {
	c.loggerMu.RLock()
	logger := c.logger
	c.loggerMu.RUnlock()

	if logger != nil {
		logger.Debug(msg, keysAndValues...)
	}
}

func (c *TCPClient) logInfo(msg string, keysAndValues ...any) {
	c.loggerMu.RLock()
	logger := c.logger
	c.loggerMu.RUnlock()

	if logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}
