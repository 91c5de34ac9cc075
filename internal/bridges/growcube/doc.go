// Package growcube bridges Growcube irrigation controllers to MQTT, Home
// Assistant discovery and the bridge API.
//
// The central type is the Coordinator, which owns one device connection:
//
//	Disconnected → Connect → Connecting → (identity report) → Connected
//	Connected → (socket lost) → Reconnecting → Connected
//	any → Disconnect → ShuttingDown → Disconnected (terminal)
//
// The coordinator is the only writer of the device's Identity and State.
// Everything else (MQTT publisher, API, telemetry, history) reads snapshots
// and receives Change notifications through Subscribe. A Change is emitted
// only when a value actually transitions.
//
// After an unexpected disconnect the live state is reset, subscribers are
// told, and a single background loop retries every ReconnectInterval until
// it succeeds or Disconnect is called.
//
// # Components
//
//   - Coordinator: connection lifecycle, report handling, actions
//   - Entities: the sensor/binary sensor/button catalogue and unique ids
//   - Publisher: MQTT state, availability and Home Assistant discovery
//   - CommandHandler: MQTT command topic → coordinator actions, with acks
//   - Manager: owns one coordinator per configured device
//   - HealthReporter: periodic bridge health message
package growcube
