package growcube

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/growcube-bridge/internal/growcubeclient"
)

// Default coordinator timing.
const (
	// DefaultIdentityTimeout bounds the wait for the identity report after connect.
	DefaultIdentityTimeout = 5 * time.Second

	// DefaultReconnectInterval is the fixed delay between reconnect attempts.
	DefaultReconnectInterval = 10 * time.Second

	// DefaultCommandTimeout bounds a single command write.
	DefaultCommandTimeout = 5 * time.Second
)

// ConnState is the connection lifecycle state of a coordinator.
type ConnState int

// Connection states.
const (
	StateDisconnected ConnState = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateShuttingDown
)

// String implements fmt.Stringer.
func (s ConnState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateShuttingDown:
		return "shutting_down"
	default:
		return "unknown"
	}
}

// Logger interface for optional logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// CoordinatorConfig configures a Coordinator.
type CoordinatorConfig struct {
	// Host is the device address (host or host:port).
	Host string

	// Name overrides the generated display name.
	Name string

	// Factory creates the device client. Required.
	Factory growcubeclient.Factory

	// IdentityTimeout bounds Connect's wait for the identity report.
	// Default: 5 seconds.
	IdentityTimeout time.Duration

	// ReconnectInterval is the delay between reconnect attempts.
	// Default: 10 seconds.
	ReconnectInterval time.Duration

	// CommandTimeout bounds a command write when the caller's context has
	// no deadline. Default: 5 seconds.
	CommandTimeout time.Duration

	// Logger is optional.
	Logger Logger

	// Now returns the wall clock used for time sync. Default: time.Now.
	Now func() time.Time
}

// CoordinatorStats holds coordinator counters.
type CoordinatorStats struct {
	State               string    `json:"state"`
	ReportsHandled      uint64    `json:"reports_handled"`
	ReportsIgnored      uint64    `json:"reports_ignored"`
	Resets              uint64    `json:"resets"`
	ReconnectsScheduled uint64    `json:"reconnects_scheduled"`
	ReconnectAttempts   uint64    `json:"reconnect_attempts"`
	Reconnects          uint64    `json:"reconnects"`
	CommandsSent        uint64    `json:"commands_sent"`
	CommandErrors       uint64    `json:"command_errors"`
	LastReport          time.Time `json:"last_report,omitzero"`
}

// Snapshot is a consistent copy of a coordinator's records.
type Snapshot struct {
	Identity  Identity `json:"identity"`
	State     State    `json:"state"`
	Available bool     `json:"available"`
	ConnState string   `json:"connection"`
}

// pendingConnect is the identity wait of one Connect call.
type pendingConnect struct {
	identity *closeOnce
	lost     *closeOnce
}

// closeOnce wraps a channel with sync.Once to prevent double-close panics.
type closeOnce struct {
	ch   chan struct{}
	once sync.Once
}

func newCloseOnce() *closeOnce {
	return &closeOnce{ch: make(chan struct{})}
}

func (c *closeOnce) Close() {
	c.once.Do(func() { close(c.ch) })
}

func (c *closeOnce) Done() <-chan struct{} {
	return c.ch
}

// Closed reports whether Close has been called.
func (c *closeOnce) Closed() bool {
	select {
	case <-c.ch:
		return true
	default:
		return false
	}
}

// Coordinator maintains one logical connection to one Growcube.
//
// Reports and client callbacks arrive on the client's read goroutine, which
// is the only writer of the identity and live state. Readers on other
// goroutines get copies.
//
// Thread Safety: all exported methods are safe for concurrent use.
type Coordinator struct {
	cfg    CoordinatorConfig
	client growcubeclient.Client

	mu        sync.RWMutex
	identity  Identity
	state     State
	connState ConnState
	pending   *pendingConnect

	// connectMu serialises Connect calls, explicit and from the reconnect loop.
	connectMu sync.Mutex

	shutdown     atomic.Bool
	reconnecting atomic.Bool
	done         *closeOnce
	wg           sync.WaitGroup

	subsMu    sync.RWMutex
	subs      map[uint64]subscription
	nextSubID uint64

	timersMu sync.Mutex
	timers   map[growcubeclient.Channel]*time.Timer

	reportsHandled      atomic.Uint64
	reportsIgnored      atomic.Uint64
	resets              atomic.Uint64
	reconnectsScheduled atomic.Uint64
	reconnectAttempts   atomic.Uint64
	reconnects          atomic.Uint64
	commandsSent        atomic.Uint64
	commandErrors       atomic.Uint64
	lastReport          atomic.Int64

	logger   Logger
	loggerMu sync.RWMutex
}

// NewCoordinator creates a coordinator for one device. The client is created
// immediately but not connected.
func NewCoordinator(cfg CoordinatorConfig) (*Coordinator, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("%w: host is required", ErrInvalidArgument)
	}
	if cfg.Factory == nil {
		return nil, fmt.Errorf("%w: client factory is required", ErrInvalidArgument)
	}
	if cfg.IdentityTimeout <= 0 {
		cfg.IdentityTimeout = DefaultIdentityTimeout
	}
	if cfg.ReconnectInterval <= 0 {
		cfg.ReconnectInterval = DefaultReconnectInterval
	}
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = DefaultCommandTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	c := &Coordinator{
		cfg:      cfg,
		identity: Identity{Host: cfg.Host, Name: cfg.Name},
		done:     newCloseOnce(),
		subs:     make(map[uint64]subscription),
		timers:   make(map[growcubeclient.Channel]*time.Timer),
		logger:   cfg.Logger,
	}
	c.client = cfg.Factory(cfg.Host, growcubeclient.Handlers{
		OnMessage:      c.HandleReport,
		OnConnected:    c.handleConnected,
		OnDisconnected: c.HandleDisconnected,
	})
	if c.client == nil {
		return nil, fmt.Errorf("%w: client factory returned nil", ErrInvalidArgument)
	}
	return c, nil
}

// Host returns the configured device address.
func (c *Coordinator) Host() string {
	return c.cfg.Host
}

// SetLogger sets the logger for the coordinator.
func (c *Coordinator) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
}

// Connect opens the device connection and waits for the identity report.
//
// The wait is signal-based: the identity report closes a channel that
// Connect selects on together with IdentityTimeout and ctx. After the
// identity arrives the device clock is synchronised and subscribers are
// told the device is available.
//
// Parameters:
//   - ctx: Bounds the whole attempt, including the identity wait
//
// Returns:
//   - nil when connected (or already connected)
//   - ErrConnectFailed when the socket cannot be opened or drops before
//     the identity report
//   - ErrConnectTimeout when no identity report arrives in time
//   - ErrShutdown after Disconnect; the client is left closed
//
// On failure the client is closed and the coordinator is back in
// Disconnected; the caller may retry. A connection lost after the identity
// report is handled like any other drop: the reconnect loop takes over.
//
// Thread Safety: safe for concurrent use; concurrent calls are serialised.
func (c *Coordinator) Connect(ctx context.Context) error {
	if c.shutdown.Load() {
		return ErrShutdown
	}
	c.connectMu.Lock()
	defer c.connectMu.Unlock()

	if c.ConnState() == StateConnected {
		return nil
	}
	if err := c.connect(ctx, StateConnecting); err != nil {
		if !c.shutdown.Load() {
			c.setConnState(StateDisconnected)
		}
		return err
	}
	return nil
}

// connect performs one connection attempt. Callers hold connectMu.
func (c *Coordinator) connect(ctx context.Context, during ConnState) error {
	p := &pendingConnect{identity: newCloseOnce(), lost: newCloseOnce()}
	c.mu.Lock()
	if c.shutdown.Load() {
		c.mu.Unlock()
		return ErrShutdown
	}
	c.pending = p
	c.connState = during
	c.mu.Unlock()
	defer c.clearPending(p)

	if err := c.client.Connect(ctx); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrConnectFailed, c.cfg.Host, err)
	}

	timer := time.NewTimer(c.cfg.IdentityTimeout)
	defer timer.Stop()

	select {
	case <-p.identity.Done():
	case <-p.lost.Done():
		if !p.identity.Closed() {
			return fmt.Errorf("%w: %s: connection lost before identity report", ErrConnectFailed, c.cfg.Host)
		}
	case <-timer.C:
		c.closeClient()
		return fmt.Errorf("%w: %s after %s", ErrConnectTimeout, c.cfg.Host, c.cfg.IdentityTimeout)
	case <-ctx.Done():
		c.closeClient()
		return fmt.Errorf("%w: %s: %w", ErrConnectFailed, c.cfg.Host, ctx.Err())
	case <-c.done.Done():
		c.closeClient()
		return ErrShutdown
	}

	// The identity wait is over: from here a drop goes through
	// HandleDisconnected's reset-and-reconnect path. If the drop already
	// happened, HandleDisconnected took pending over and owns the reconnect.
	c.mu.Lock()
	handedOver := c.pending != p
	if !handedOver {
		c.pending = nil
	}
	switch {
	case c.shutdown.Load():
		c.mu.Unlock()
		c.closeClient()
		return ErrShutdown
	case handedOver:
		c.mu.Unlock()
		c.logWarn("connection lost during setup", "host", c.cfg.Host)
		return nil
	case p.lost.Closed():
		c.mu.Unlock()
		return fmt.Errorf("%w: %s: connection lost before identity report", ErrConnectFailed, c.cfg.Host)
	}
	c.connState = StateConnected
	identity := c.identity
	c.mu.Unlock()

	c.syncTime(ctx)

	if c.ConnState() != StateConnected {
		c.logWarn("connection lost during setup", "host", c.cfg.Host)
		return nil
	}
	c.logInfo("device connected",
		"host", c.cfg.Host,
		"device_id", identity.DeviceID,
		"version", identity.Version,
	)
	c.notify([]Change{{Field: FieldAvailable, Value: true}})

	// HandleDisconnected moves the state before notifying, so a drop racing
	// the notification above is either seen here or notified after it.
	if c.ConnState() != StateConnected && !c.shutdown.Load() {
		c.notify([]Change{{Field: FieldAvailable, Value: false}})
	}
	return nil
}

func (c *Coordinator) clearPending(p *pendingConnect) {
	c.mu.Lock()
	if c.pending == p {
		c.pending = nil
	}
	c.mu.Unlock()
}

// syncTime sets the device clock. Failure is logged, not fatal.
func (c *Coordinator) syncTime(ctx context.Context) {
	cmd := growcubeclient.SyncTimeCommand{Time: c.cfg.Now()}
	if err := c.send(ctx, cmd); err != nil {
		c.logWarn("time sync failed", "host", c.cfg.Host, "error", err.Error())
	}
}

// Disconnect stops the coordinator.
//
// It sets the shutdown flag, stops the reconnect loop and any pending pump
// timers, closes the client and marks the device unavailable. A Connect
// still dialing when Disconnect runs closes the client itself before
// returning ErrShutdown, so no session outlives Disconnect.
//
// The coordinator cannot be connected again. Call Wait to block until the
// reconnect goroutine has exited.
//
// Thread Safety: safe for concurrent use. Idempotent.
func (c *Coordinator) Disconnect() {
	if !c.shutdown.CompareAndSwap(false, true) {
		return
	}

	c.setConnState(StateShuttingDown)
	c.done.Close()

	c.stopWatering()
	c.closeClient()

	changes := c.resetState()
	c.setConnState(StateDisconnected)
	changes = append(changes, Change{Field: FieldAvailable, Value: false})
	c.notify(changes)

	c.logInfo("coordinator stopped", "host", c.cfg.Host)
}

// HandleDisconnected is invoked when the connection drops without Disconnect
// having been called. It resets the live state, notifies subscribers and,
// unless a shutdown is in progress, schedules the reconnect loop.
func (c *Coordinator) HandleDisconnected(host string) {
	c.mu.Lock()
	if p := c.pending; p != nil {
		p.lost.Close()
		if !p.identity.Closed() {
			// A Connect is waiting for the identity; it reports the
			// failure to its caller.
			c.mu.Unlock()
			return
		}
		c.pending = nil
	}
	c.mu.Unlock()

	shuttingDown := c.shutdown.Load()
	if !shuttingDown {
		c.setConnState(StateReconnecting)
	}

	changes := c.resetState()
	changes = append(changes, Change{Field: FieldAvailable, Value: false})
	c.notify(changes)

	if shuttingDown {
		c.logDebug("disconnected during shutdown", "host", host)
		return
	}
	c.logWarn("device connection lost", "host", host)
	c.scheduleReconnect(false)
}

func (c *Coordinator) handleConnected(host string) {
	c.logDebug("socket connected, waiting for identity", "host", host)
}

// scheduleReconnect starts the reconnect loop unless one is already running.
// When restart is true the current session is closed first.
func (c *Coordinator) scheduleReconnect(restart bool) bool {
	if c.shutdown.Load() {
		return false
	}
	if !c.reconnecting.CompareAndSwap(false, true) {
		c.logDebug("reconnect already in progress", "host", c.cfg.Host)
		return false
	}
	c.reconnectsScheduled.Add(1)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.reconnectLoop(restart)
	}()
	return true
}

// reconnectLoop retries Connect with a fixed delay until it succeeds or the
// coordinator shuts down.
func (c *Coordinator) reconnectLoop(restart bool) {
	if restart {
		c.closeClient()
		c.setConnState(StateReconnecting)
		c.notify([]Change{{Field: FieldAvailable, Value: false}})
	}

	for {
		if c.shutdown.Load() {
			c.reconnecting.Store(false)
			return
		}

		attempt := c.reconnectAttempts.Add(1)
		c.logInfo("attempting reconnection", "host", c.cfg.Host, "attempt", attempt)

		err := c.attemptReconnect()
		if err == nil {
			c.reconnects.Add(1)
			c.reconnecting.Store(false)
			c.logInfo("reconnection successful", "host", c.cfg.Host, "total_reconnects", c.reconnects.Load())

			// A drop between connect and the flag reset found the loop
			// still marked running; pick it up here.
			if !c.shutdown.Load() && c.ConnState() != StateConnected {
				c.scheduleReconnect(false)
			}
			return
		}
		if errors.Is(err, ErrShutdown) {
			c.reconnecting.Store(false)
			return
		}

		c.logError("reconnect failed", err, "host", c.cfg.Host, "retry_in", c.cfg.ReconnectInterval.String())

		select {
		case <-c.done.Done():
			c.reconnecting.Store(false)
			return
		case <-time.After(c.cfg.ReconnectInterval):
		}
	}
}

func (c *Coordinator) attemptReconnect() error {
	c.connectMu.Lock()
	defer c.connectMu.Unlock()

	if c.ConnState() == StateConnected {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.IdentityTimeout*2)
	defer cancel()

	err := c.connect(ctx, StateReconnecting)
	if err != nil && !c.shutdown.Load() {
		c.setConnState(StateReconnecting)
	}
	return err
}

// closeClient closes the device session, logging any error.
func (c *Coordinator) closeClient() {
	if err := c.client.Disconnect(); err != nil {
		c.logDebug("client disconnect", "host", c.cfg.Host, "error", err.Error())
	}
}

// HandleReport applies one device report to the live state.
//
// Only the fields the report addresses are touched and subscribers hear
// only about values that changed. Unknown reports are ignored.
//
// Parameters:
//   - report: One decoded report; nil is ignored
//
// Special cases:
//   - DeviceVersionReport sets the identity and completes a pending Connect
//   - A LockStateReport moving from locked to unlocked resets the live
//     state and schedules a reconnect for a fresh read of the fault flags
//
// Thread Safety: called from the client read goroutine, the only writer of
// the live state. Subscribers run on that goroutine after the lock is
// released.
func (c *Coordinator) HandleReport(report growcubeclient.Report) {
	if report == nil {
		return
	}
	c.lastReport.Store(c.cfg.Now().UnixNano())

	if r, ok := report.(growcubeclient.DeviceVersionReport); ok {
		c.reportsHandled.Add(1)
		c.handleIdentity(r)
		return
	}

	c.mu.Lock()
	old := c.state.Clone()
	updated := old.Clone()
	handled := applyReport(&updated, report)
	if !handled {
		c.mu.Unlock()
		c.reportsIgnored.Add(1)
		c.logDebug("ignoring report", "host", c.cfg.Host, "command", report.Command())
		return
	}
	c.state = updated
	unlocked := old.DeviceLocked && !updated.DeviceLocked
	connected := c.connState == StateConnected
	c.mu.Unlock()

	c.reportsHandled.Add(1)
	c.notify(diff(old, updated))

	if unlocked {
		c.handleUnlock(connected)
	}
}

// handleUnlock resets the state after the lock is released on the device and
// reconnects to get a fresh read of the fault flags.
func (c *Coordinator) handleUnlock(connected bool) {
	c.logInfo("device unlocked, refreshing state", "host", c.cfg.Host)
	c.notify(c.resetState())
	if connected {
		c.scheduleReconnect(true)
	}
}

func (c *Coordinator) handleIdentity(r growcubeclient.DeviceVersionReport) {
	id := DeviceIDFromReported(r.DeviceID)

	c.mu.Lock()
	before := c.identity
	switch {
	case c.identity.DeviceID == "":
		c.identity.DeviceID = id
	case c.identity.DeviceID != id:
		c.logWarn("device reported a different id, keeping the original",
			"host", c.cfg.Host,
			"device_id", c.identity.DeviceID,
			"reported", id,
		)
	}
	c.identity.Version = r.Version
	after := c.identity
	c.mu.Unlock()

	if before != after {
		c.notify([]Change{{Field: FieldIdentity, Value: after}})
	}

	// Closed under mu so HandleDisconnected sees a consistent pending state.
	c.mu.Lock()
	if c.pending != nil {
		c.pending.identity.Close()
	}
	c.mu.Unlock()
}

// applyReport mutates s for one report. Returns false for reports that
// carry no state.
func applyReport(s *State, report growcubeclient.Report) bool {
	switch r := report.(type) {
	case growcubeclient.WaterStateReport:
		s.WaterWarning = r.WaterWarning
	case growcubeclient.MoistureHumidityReport:
		if !r.Channel.Valid() {
			return false
		}
		s.Moisture[r.Channel.Index()] = intPtr(r.Moisture)
		s.Humidity = intPtr(r.Humidity)
		s.Temperature = intPtr(r.Temperature)
	case growcubeclient.PumpOpenReport:
		return setFlag(&s.PumpOpen, r.Channel, true)
	case growcubeclient.PumpCloseReport:
		return setFlag(&s.PumpOpen, r.Channel, false)
	case growcubeclient.SensorAbnormalReport:
		return setFlag(&s.SensorAbnormal, r.Channel, true)
	case growcubeclient.SensorDisconnectedReport:
		return setFlag(&s.SensorDisconnected, r.Channel, true)
	case growcubeclient.OutletBlockedReport:
		return setFlag(&s.OutletBlocked, r.Channel, true)
	case growcubeclient.OutletLockedReport:
		return setFlag(&s.OutletLocked, r.Channel, true)
	case growcubeclient.LockStateReport:
		s.DeviceLocked = r.Locked
	default:
		return false
	}
	return true
}

func setFlag(flags *[growcubeclient.ChannelCount]bool, ch growcubeclient.Channel, v bool) bool {
	if !ch.Valid() {
		return false
	}
	flags[ch.Index()] = v
	return true
}

// resetState clears the live state and returns the resulting changes.
func (c *Coordinator) resetState() []Change {
	c.mu.Lock()
	old := c.state
	c.state = State{}
	c.mu.Unlock()

	c.resets.Add(1)
	changes := diff(old, State{})
	for i := range changes {
		changes[i].Reset = true
	}
	return changes
}

// Snapshot returns a copy of the identity and live state.
func (c *Coordinator) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Snapshot{
		Identity:  c.identity,
		State:     c.state.Clone(),
		Available: c.connState == StateConnected,
		ConnState: c.connState.String(),
	}
}

// Identity returns a copy of the identity record.
func (c *Coordinator) Identity() Identity {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.identity
}

// DeviceID returns the device id, empty until the identity report arrives.
func (c *Coordinator) DeviceID() string {
	return c.Identity().DeviceID
}

// State returns a copy of the live state record.
func (c *Coordinator) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state.Clone()
}

// Available reports whether the device is connected.
func (c *Coordinator) Available() bool {
	return c.ConnState() == StateConnected
}

// ConnState returns the current connection state.
func (c *Coordinator) ConnState() ConnState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connState
}

func (c *Coordinator) setConnState(s ConnState) {
	c.mu.Lock()
	c.connState = s
	c.mu.Unlock()
}

// Stats returns coordinator counters.
func (c *Coordinator) Stats() CoordinatorStats {
	stats := CoordinatorStats{
		State:               c.ConnState().String(),
		ReportsHandled:      c.reportsHandled.Load(),
		ReportsIgnored:      c.reportsIgnored.Load(),
		Resets:              c.resets.Load(),
		ReconnectsScheduled: c.reconnectsScheduled.Load(),
		ReconnectAttempts:   c.reconnectAttempts.Load(),
		Reconnects:          c.reconnects.Load(),
		CommandsSent:        c.commandsSent.Load(),
		CommandErrors:       c.commandErrors.Load(),
	}
	if ns := c.lastReport.Load(); ns != 0 {
		stats.LastReport = time.Unix(0, ns)
	}
	return stats
}

// Wait blocks until a running reconnect loop has exited. Call after Disconnect.
func (c *Coordinator) Wait() {
	c.wg.Wait()
}

// IsReconnecting reports whether the reconnect loop is running.
func (c *Coordinator) IsReconnecting() bool {
	return c.reconnecting.Load()
}

func (c *Coordinator) logDebug(msg string, keysAndValues ...any) {
	c.loggerMu.RLock()
	logger := c.logger
	c.loggerMu.RUnlock()
	if logger != nil {
		logger.Debug(msg, keysAndValues...)
	}
}

func (c *Coordinator) logInfo(msg string, keysAndValues ...any) {
	c.loggerMu.RLock()
	logger := c.logger
	c.loggerMu.RUnlock()
	if logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

func (c *Coordinator) logWarn(msg string, keysAndValues ...any) {
	c.loggerMu.RLock()
	logger := c.logger
	c.loggerMu.RUnlock()
	if logger != nil {
		logger.Warn(msg, keysAndValues...)
	}
}

func (c *Coordinator) logError(msg string, err error, keysAndValues ...any) {
	c.loggerMu.RLock()
	logger := c.logger
	c.loggerMu.RUnlock()
	if logger != nil {
		args := append([]any{"error", err.Error()}, keysAndValues...)
		logger.Error(msg, args...)
	}
}
