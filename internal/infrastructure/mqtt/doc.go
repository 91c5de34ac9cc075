// Package mqtt is the bridge's broker connection.
//
// Device state, availability and Home Assistant discovery configs are
// published retained; commands arrive on growcube/{device_id}/command and
// button presses on growcube/{device_id}/button/{key}.
//
//	Growcube <-TCP-> growcube-bridge <-MQTT-> broker <-> Home Assistant
//
// The bridge's own availability lives on growcube/bridge/status: "online"
// after every connect, "offline" on Close, and "offline" from the broker
// via the last will when the bridge vanishes. Discovery configs list that
// topic next to the device's availability topic.
//
// Subscriptions survive reconnects:
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe(mqtt.Topics{}.AllDeviceCommands(), 1, handleCommand)
package mqtt
