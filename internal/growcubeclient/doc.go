// Package growcubeclient talks to an Elecrow Growcube irrigation controller.
//
// The controller speaks a line-less ASCII framing over TCP (port 8800):
//
//	elea<cmd>#<len>#<payload>#
//
// where cmd is a two digit command id and payload fields are separated by
// "@". The device pushes reports (sensor readings, pump events, fault flags)
// and accepts a handful of commands (watering mode, manual watering, time
// sync, plant end).
//
// The package exposes:
//   - Typed reports forming a closed set (see Report)
//   - Typed commands (see Command)
//   - A Client interface plus a TCP implementation that delivers reports on a
//     single goroutine per connection
//
// Callers never see raw frames unless they use the Decoder directly.
package growcubeclient
