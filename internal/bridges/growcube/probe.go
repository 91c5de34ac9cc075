package growcube

import (
	"context"
	"fmt"
	"time"

	"github.com/nerrad567/growcube-bridge/internal/growcubeclient"
)

// DefaultProbeTimeout bounds ProbeDeviceID.
const DefaultProbeTimeout = 2 * time.Second

// ProbeDeviceID connects to a device, waits for its identity report and
// disconnects. It is used to validate an address before adding it.
func ProbeDeviceID(ctx context.Context, factory growcubeclient.Factory, host string, timeout time.Duration) (Identity, error) {
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	found := make(chan growcubeclient.DeviceVersionReport, 1)
	lost := make(chan struct{}, 1)

	client := factory(host, growcubeclient.Handlers{
		OnMessage: func(r growcubeclient.Report) {
			if v, ok := r.(growcubeclient.DeviceVersionReport); ok {
				select {
				case found <- v:
				default:
				}
			}
		},
		OnDisconnected: func(string) {
			select {
			case lost <- struct{}{}:
			default:
			}
		},
	})

	if err := client.Connect(ctx); err != nil {
		return Identity{}, fmt.Errorf("%w: %s: %w", ErrConnectFailed, host, err)
	}
	defer client.Disconnect() //nolint:errcheck // best-effort close of the probe session

	select {
	case v := <-found:
		return Identity{
			Host:     host,
			DeviceID: DeviceIDFromReported(v.DeviceID),
			Version:  v.Version,
		}, nil
	case <-lost:
		return Identity{}, fmt.Errorf("%w: %s: connection closed before identity report", ErrConnectFailed, host)
	case <-ctx.Done():
		return Identity{}, fmt.Errorf("%w: %s after %s", ErrConnectTimeout, host, timeout)
	}
}
