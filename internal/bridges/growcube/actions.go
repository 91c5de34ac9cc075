package growcube

import (
	"context"
	"fmt"
	"time"

	"github.com/nerrad567/growcube-bridge/internal/growcubeclient"
)

// WaterPlant runs the pump on a channel for duration seconds.
//
// The pump is started immediately and stopped by a timer. A second request
// for the same channel replaces the pending stop.
func (c *Coordinator) WaterPlant(ctx context.Context, channel string, duration int) error {
	ch, err := ValidateWaterPlant(channel, duration)
	if err != nil {
		return err
	}
	if err := c.requireConnected(); err != nil {
		return err
	}

	if err := c.send(ctx, growcubeclient.WaterCommand{Channel: ch, Start: true}); err != nil {
		return err
	}
	c.logInfo("watering started", "host", c.cfg.Host, "channel", ch.Letter(), "duration_s", duration)

	c.scheduleStop(ch, time.Duration(duration)*time.Second)
	return nil
}

// SetSmartWatering switches a channel to moisture-driven watering between
// minValue and maxValue percent.
func (c *Coordinator) SetSmartWatering(ctx context.Context, channel string, minValue, maxValue int) error {
	ch, err := ValidateWateringRange(channel, minValue, maxValue)
	if err != nil {
		return err
	}
	if err := c.requireConnected(); err != nil {
		return err
	}
	return c.send(ctx, growcubeclient.WateringModeCommand{
		Channel: ch,
		Mode:    growcubeclient.WateringSmart,
		Min:     minValue,
		Max:     maxValue,
	})
}

// SetManualWatering switches a channel to manual watering.
func (c *Coordinator) SetManualWatering(ctx context.Context, channel string) error {
	ch, err := ValidateChannel(channel)
	if err != nil {
		return err
	}
	if err := c.requireConnected(); err != nil {
		return err
	}
	return c.send(ctx, growcubeclient.WateringModeCommand{Channel: ch, Mode: growcubeclient.WateringManual})
}

// DeleteWatering clears the watering schedule of a channel.
func (c *Coordinator) DeleteWatering(ctx context.Context, channel string) error {
	ch, err := ValidateChannel(channel)
	if err != nil {
		return err
	}
	if err := c.requireConnected(); err != nil {
		return err
	}
	return c.send(ctx, growcubeclient.PlantEndCommand{Channel: ch})
}

func (c *Coordinator) requireConnected() error {
	if c.shutdown.Load() {
		return ErrShutdown
	}
	if !c.Available() {
		return fmt.Errorf("%w: %s", ErrNotConnected, c.cfg.Host)
	}
	return nil
}

// send writes a command, applying CommandTimeout when ctx has no deadline.
func (c *Coordinator) send(ctx context.Context, cmd growcubeclient.Command) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.CommandTimeout)
		defer cancel()
	}

	if err := c.client.Send(ctx, cmd); err != nil {
		c.commandErrors.Add(1)
		return fmt.Errorf("%w: %s to %s: %w", ErrCommandFailed, cmd.Name(), c.cfg.Host, err)
	}
	c.commandsSent.Add(1)
	c.logDebug("command sent", "host", c.cfg.Host, "command", cmd.Name())
	return nil
}

// scheduleStop arms the pump-stop timer for a channel.
func (c *Coordinator) scheduleStop(ch growcubeclient.Channel, after time.Duration) {
	c.timersMu.Lock()
	defer c.timersMu.Unlock()

	if t, ok := c.timers[ch]; ok {
		t.Stop()
	}
	var t *time.Timer
	t = time.AfterFunc(after, func() {
		c.timersMu.Lock()
		if c.timers[ch] == t {
			delete(c.timers, ch)
		}
		c.timersMu.Unlock()
		c.stopPump(ch)
	})
	c.timers[ch] = t
}

func (c *Coordinator) stopPump(ch growcubeclient.Channel) {
	if err := c.send(context.Background(), growcubeclient.WaterCommand{Channel: ch, Start: false}); err != nil {
		c.logWarn("watering stop failed", "host", c.cfg.Host, "channel", ch.Letter(), "error", err.Error())
		return
	}
	c.logInfo("watering stopped", "host", c.cfg.Host, "channel", ch.Letter())
}

// stopWatering cancels pending stop timers and stops those pumps now.
func (c *Coordinator) stopWatering() {
	c.timersMu.Lock()
	pending := make([]growcubeclient.Channel, 0, len(c.timers))
	for ch, t := range c.timers {
		if t.Stop() {
			pending = append(pending, ch)
		}
		delete(c.timers, ch)
	}
	c.timersMu.Unlock()

	if !c.client.IsConnected() {
		return
	}
	for _, ch := range pending {
		c.stopPump(ch)
	}
}
