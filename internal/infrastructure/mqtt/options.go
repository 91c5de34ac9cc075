package mqtt

import (
	"crypto/tls"
	"net"
	"net/url"
	"strconv"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/nerrad567/growcube-bridge/internal/infrastructure/config"
)

const (
	connectTimeout   = 10 * time.Second
	operationTimeout = 5 * time.Second
	keepAlive        = 30 * time.Second

	// quiesceMillis is how long Disconnect waits for in-flight work.
	quiesceMillis = 250

	// maxPayloadSize caps a single publish. Snapshots and discovery configs
	// are a few KB.
	maxPayloadSize = 256 << 10

	// statusQoS is used for the bridge status topic and its LWT.
	statusQoS = 1

	defaultInitialDelay = 1 * time.Second
	defaultMaxDelay     = 60 * time.Second
)

// brokerURL returns tcp://host:port, or ssl:// when TLS is enabled.
func brokerURL(b config.MQTTBrokerConfig) string {
	scheme := "tcp"
	if b.TLS {
		scheme = "ssl"
	}
	u := url.URL{Scheme: scheme, Host: net.JoinHostPort(b.Host, strconv.Itoa(b.Port))}
	return u.String()
}

// clientID returns the configured id, or a random one so that two bridges
// without explicit ids do not kick each other off the broker.
func clientID(cfg config.MQTTConfig) string {
	if cfg.Broker.ClientID != "" {
		return cfg.Broker.ClientID
	}
	return "growcube-bridge-" + uuid.NewString()[:8]
}

// seconds converts a config value, falling back to def when unset.
func seconds(v int, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return time.Duration(v) * time.Second
}

// newOptions builds the paho options. The will marks the bridge offline on
// the status topic if the connection drops without Close.
func newOptions(cfg config.MQTTConfig, id string) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions().
		AddBroker(brokerURL(cfg.Broker)).
		SetClientID(id).
		SetCleanSession(true).
		SetOrderMatters(false).
		SetKeepAlive(keepAlive).
		SetConnectTimeout(connectTimeout).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(seconds(cfg.Reconnect.InitialDelay, defaultInitialDelay)).
		SetMaxReconnectInterval(seconds(cfg.Reconnect.MaxDelay, defaultMaxDelay)).
		SetWill(Topics{}.BridgeStatus(), PayloadOffline, statusQoS, true)

	if cfg.Auth.Username != "" {
		opts.SetUsername(cfg.Auth.Username)
		opts.SetPassword(cfg.Auth.Password)
	}
	if cfg.Broker.TLS {
		opts.SetTLSConfig(&tls.Config{
			MinVersion: tls.VersionTLS12,
			ServerName: cfg.Broker.Host,
		})
	}
	return opts
}
