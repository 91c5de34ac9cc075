package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurements written by the bridge. Every point is tagged with
// device_id; per-channel points also carry channel ("a".."d").
const (
	// MeasurementReading holds temperature, humidity and moisture values.
	MeasurementReading = "growcube_reading"

	// MeasurementFlag holds boolean states such as pump_open or
	// outlet_blocked.
	MeasurementFlag = "growcube_flag"

	// MeasurementAvailability holds device connectivity.
	MeasurementAvailability = "growcube_availability"
)

// WriteReading records a numeric reading. channel is empty for
// device-wide readings like temperature.
//
//	client.WriteReading("4d2", "a", "moisture", 37, time.Now())
func (c *Client) WriteReading(deviceID, channel, field string, value int, ts time.Time) {
	c.write(devicePoint(MeasurementReading, deviceID, channel).
		AddTag("field", field).
		AddField("value", value).
		SetTime(ts))
}

// WriteFlag records a boolean state of a device or channel.
func (c *Client) WriteFlag(deviceID, channel, field string, value bool, ts time.Time) {
	c.write(devicePoint(MeasurementFlag, deviceID, channel).
		AddTag("field", field).
		AddField("value", value).
		SetTime(ts))
}

// WriteAvailability records a device going online or offline.
func (c *Client) WriteAvailability(deviceID string, available bool, ts time.Time) {
	c.write(devicePoint(MeasurementAvailability, deviceID, "").
		AddField("available", available).
		SetTime(ts))
}

func devicePoint(measurement, deviceID, channel string) *write.Point {
	p := write.NewPointWithMeasurement(measurement).AddTag("device_id", deviceID)
	if channel != "" {
		p.AddTag("channel", channel)
	}
	return p
}

// write queues p unless the client is closed.
func (c *Client) write(p *write.Point) {
	if c.closed.Load() {
		return
	}
	c.writeAPI.WritePoint(p)
	c.written.Add(1)
}
