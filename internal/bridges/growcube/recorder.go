package growcube

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Recorder defaults.
const (
	DefaultRecorderQueueSize = 256
	DefaultRecorderTimeout   = 5 * time.Second
)

// History sources recorded with each change.
const (
	HistorySourceReport     = "report"
	HistorySourceReset      = "reset"
	HistorySourceConnection = "connection"
)

// TelemetryWriter receives time-series points. Writes must not block.
type TelemetryWriter interface {
	WriteReading(deviceID, channel, field string, value int, ts time.Time)
	WriteFlag(deviceID, channel, field string, value bool, ts time.Time)
	WriteAvailability(deviceID string, available bool, ts time.Time)
}

// HistoryRecorder persists individual field transitions.
type HistoryRecorder interface {
	RecordChange(ctx context.Context, deviceID, field, channel string, value any, source string) error
}

// DeviceStore persists the device registry.
type DeviceStore interface {
	RegisterDevice(ctx context.Context, identity Identity) error
	SetAvailability(ctx context.Context, deviceID string, available bool) error
	SetDeviceState(ctx context.Context, deviceID string, state map[string]any) error
}

// RecorderConfig configures a Recorder. Every sink is optional.
type RecorderConfig struct {
	Telemetry TelemetryWriter
	History   HistoryRecorder
	Devices   DeviceStore

	// QueueSize bounds pending records. Default: 256.
	QueueSize int

	// Timeout bounds each store write. Default: 5 seconds.
	Timeout time.Duration

	Logger Logger
	Now    func() time.Time
}

// RecorderStats holds recorder counters.
type RecorderStats struct {
	Recorded uint64 `json:"recorded"`
	Dropped  uint64 `json:"dropped"`
	Errors   uint64 `json:"errors"`
}

// record is one queued change with the values resolved at observation time.
type record struct {
	change   Change
	identity Identity
	state    map[string]any
	at       time.Time
}

// Recorder writes device changes to the registry, state history and
// time-series sinks. Observe runs on the device read goroutine, so it only
// enqueues; a single worker performs the writes in order.
//
// Thread Safety: all exported methods are safe for concurrent use.
type Recorder struct {
	cfg   RecorderConfig
	queue chan record

	done      chan struct{}
	wg        sync.WaitGroup
	startOnce sync.Once
	stopOnce  sync.Once
	stopped   atomic.Bool

	recorded atomic.Uint64
	dropped  atomic.Uint64
	errors   atomic.Uint64
}

// NewRecorder creates a recorder. Call Start before observing changes.
func NewRecorder(cfg RecorderConfig) *Recorder {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultRecorderQueueSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultRecorderTimeout
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Recorder{
		cfg:   cfg,
		queue: make(chan record, cfg.QueueSize),
		done:  make(chan struct{}),
	}
}

// Start launches the worker.
func (r *Recorder) Start() {
	r.startOnce.Do(func() {
		r.wg.Add(1)
		go r.run()
	})
}

// Stop drains queued records and stops the worker.
func (r *Recorder) Stop() {
	r.stopOnce.Do(func() {
		r.stopped.Store(true)
		close(r.done)
	})
	r.wg.Wait()
}

// Observe queues a change. It matches the Observer signature so it can be
// registered with Manager.Observe. Changes of devices that have not yet
// identified are ignored.
func (r *Recorder) Observe(c *Coordinator, ch Change) {
	if r.stopped.Load() || ch.DeviceID == "" {
		return
	}

	rec := record{change: ch, at: r.cfg.Now()}
	switch ch.Field {
	case FieldIdentity:
		rec.identity, _ = ch.Value.(Identity) //nolint:errcheck // zero identity is skipped by the worker
	case FieldAvailable:
	default:
		snap := c.Snapshot()
		rec.state = make(map[string]any)
		for _, e := range EntitiesFor(ch) {
			rec.state[e.Key] = e.Value(snap.State)
		}
	}

	select {
	case r.queue <- rec:
	default:
		r.dropped.Add(1)
		r.logWarn("recorder queue full, dropping change",
			"device_id", ch.DeviceID, "field", string(ch.Field))
	}
}

// Stats returns recorder counters.
func (r *Recorder) Stats() RecorderStats {
	return RecorderStats{
		Recorded: r.recorded.Load(),
		Dropped:  r.dropped.Load(),
		Errors:   r.errors.Load(),
	}
}

func (r *Recorder) run() {
	defer r.wg.Done()
	for {
		select {
		case rec := <-r.queue:
			r.write(rec)
		case <-r.done:
			for {
				select {
				case rec := <-r.queue:
					r.write(rec)
				default:
					return
				}
			}
		}
	}
}

func (r *Recorder) write(rec record) {
	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.Timeout)
	defer cancel()

	ch := rec.change
	switch ch.Field {
	case FieldIdentity:
		r.writeIdentity(ctx, rec)
	case FieldAvailable:
		r.writeAvailability(ctx, rec)
	default:
		r.writeState(ctx, rec)
	}
	r.recorded.Add(1)
}

func (r *Recorder) writeIdentity(ctx context.Context, rec record) {
	if r.cfg.Devices == nil || !rec.identity.Known() {
		return
	}
	if err := r.cfg.Devices.RegisterDevice(ctx, rec.identity); err != nil {
		r.fail("registering device", err, rec.change)
	}
}

func (r *Recorder) writeAvailability(ctx context.Context, rec record) {
	ch := rec.change
	available, _ := ch.Value.(bool) //nolint:errcheck // availability changes always carry a bool

	if r.cfg.Telemetry != nil {
		r.cfg.Telemetry.WriteAvailability(ch.DeviceID, available, rec.at)
	}
	if r.cfg.Devices != nil {
		if err := r.cfg.Devices.SetAvailability(ctx, ch.DeviceID, available); err != nil {
			r.fail("updating availability", err, ch)
		}
	}
	if r.cfg.History != nil {
		if err := r.cfg.History.RecordChange(ctx, ch.DeviceID, string(ch.Field), "", available, HistorySourceConnection); err != nil {
			r.fail("recording history", err, ch)
		}
	}
}

func (r *Recorder) writeState(ctx context.Context, rec record) {
	ch := rec.change
	channel := ""
	if ch.Field.PerChannel() {
		channel = ch.Channel.Suffix()
	}

	if r.cfg.Telemetry != nil {
		switch v := ch.Value.(type) {
		case int:
			r.cfg.Telemetry.WriteReading(ch.DeviceID, channel, string(ch.Field), v, rec.at)
		case bool:
			r.cfg.Telemetry.WriteFlag(ch.DeviceID, channel, string(ch.Field), v, rec.at)
		}
	}

	if r.cfg.History != nil {
		source := HistorySourceReport
		if ch.Reset {
			source = HistorySourceReset
		}
		if err := r.cfg.History.RecordChange(ctx, ch.DeviceID, string(ch.Field), channel, ch.Value, source); err != nil {
			r.fail("recording history", err, ch)
		}
	}

	if r.cfg.Devices != nil && len(rec.state) > 0 {
		if err := r.cfg.Devices.SetDeviceState(ctx, ch.DeviceID, rec.state); err != nil {
			r.fail("updating device state", err, ch)
		}
	}
}

func (r *Recorder) fail(msg string, err error, ch Change) {
	r.errors.Add(1)
	r.logError(msg, err, "device_id", ch.DeviceID, "field", string(ch.Field))
}

func (r *Recorder) logWarn(msg string, keysAndValues ...any) {
	if r.cfg.Logger != nil {
		r.cfg.Logger.Warn(msg, keysAndValues...)
	}
}

func (r *Recorder) logError(msg string, err error, keysAndValues ...any) {
	if r.cfg.Logger != nil {
		args := append([]any{"error", err.Error()}, keysAndValues...)
		r.cfg.Logger.Error(msg, args...)
	}
}
