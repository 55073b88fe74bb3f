// Package influxdb writes device telemetry to InfluxDB v2 using the official
// influxdb-client-go library.
//
// Each numeric or boolean device state field becomes a point in the
// device_state measurement, tagged with device_id and field:
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	switch {
//	case errors.Is(err, influxdb.ErrDisabled):
//	    // telemetry off
//	case err != nil:
//	    return err
//	}
//	defer client.Close()
//	processor.AddObserver(device.NewTelemetry(client))
//
// Writes never block the caller. Points are batched according to
// batch_size and flush_interval, and failures arrive through SetOnError.
package influxdb
