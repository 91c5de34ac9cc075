// Package influxdb writes Growcube telemetry to InfluxDB 2.x.
//
// Three measurements are written, all tagged with device_id:
//
//	growcube_reading       temperature, humidity, moisture (field tag, int value)
//	growcube_flag          pump, sensor and outlet states (field tag, bool value)
//	growcube_availability  device connectivity
//
// Per-channel points also carry a channel tag ("a".."d"). Timestamps are
// written at second precision.
//
// Writes go through the library's buffered write API and never block;
// batch_size and flush_interval in the influxdb config section control
// batching. Rejected batches are counted and passed to SetOnError.
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WriteReading("4d2", "a", "moisture", 37, time.Now())
package influxdb
