// Package config handles loading and validating the Growcube bridge configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with GROWCUBE_* environment variables
//   - Validation of required fields
//   - Default value handling
//
// Sensitive values (MQTT password, InfluxDB token, JWT secret) should be
// supplied through the environment rather than the file.
//
// Usage:
//
//	cfg, err := config.Load("configs/growcube.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	for _, d := range cfg.Devices {
//	    fmt.Println(cfg.DeviceAddress(d.Host))
//	}
package config
