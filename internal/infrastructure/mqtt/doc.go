// Package mqtt connects the sync server to the Mosquitto broker that the
// protocol bridges publish device state to.
//
// The server subscribes to bridge state topics, publishes its own retained
// online/offline status (with a matching Last Will) and optionally the
// retained list of live sessions:
//
//	bridges ──graylogic/state/{protocol}/{address}──▶ broker ──▶ sync server
//	sync server ──graylogic/system/status, graylogic/system/sessions──▶ broker
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe(mqtt.Topics{}.AllBridgeStates(), 1, ingestor.HandleMessage)
//
// # Security Considerations
//
// Use TLS (cfg.Broker.TLS) outside development; anonymous access is for
// local brokers only.
package mqtt
