// Package device provides field devices as namespace objects, and the
// plumbing that keeps them in sync with the protocol bridges.
//
// A Device lives in the namespace under "device/<id>". Its attributes are
// name, type, domain, protocol, room_id, state, state_updated_at and
// health_status. Devices are room-scoped, so panels and users only see
// devices in the rooms they are assigned to.
//
// # Architecture
//
//	   MQTT bridges                 task processor               observers
//	graylogic/state/{p}/{id}
//	         │                   ┌──────────────────┐
//	         ▼                   │                  │──▶ Ingestor  (known devices)
//	┌──────────────────┐ store / │  namespace       │──▶ History   (state_history)
//	│     Ingestor     │───────▶ │  mutation +      │──▶ Telemetry (InfluxDB)
//	│  (ingestor.go)   │  set    │  fan-out         │
//	└──────────────────┘         └──────────────────┘──▶ WebSocket clients
//
// A device seen for the first time is stored synchronously; later updates
// are merged into its state asynchronously. Every applied change flows to
// the observers registered with the processor.
//
// # Usage
//
//	ns.RegisterType(device.Spec(namespace.NewSQLiteStore(db)))
//
//	ingestor := device.NewIngestor(processor)
//	processor.AddObserver(ingestor)
//	processor.AddObserver(device.NewTelemetry(influx))
//	processor.AddObserver(history)
//
//	if err := ingestor.Start(mqttClient); err != nil {
//	    return err
//	}
//
// # Thread Safety
//
// Device values are owned by the processor's worker. The Ingestor, History
// and Telemetry observers are safe to use from the worker and from MQTT
// callbacks at the same time.
package device
