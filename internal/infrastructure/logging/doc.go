// Package logging builds the bridge's structured logger on log/slog.
//
// Entries are JSON by default and text when logging.format is "text".
// Every entry carries service=growcube-bridge and the build version;
// subsystems add component=<name> through Component.
//
//	log := logging.New(cfg.Logging, version)
//	log.Component("mqtt").Info("connected", "broker", addr)
//
// Device tokens, MQTT passwords and JWT secrets are never logged.
package logging
