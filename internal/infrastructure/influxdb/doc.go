// Package influxdb records firmware activity in InfluxDB.
//
// It wraps the official influxdb-client-go v2 library for connection
// management, batched writes and health monitoring, and provides
// Telemetry, a firmware.Observer that turns install progress, update
// checks and install outcomes into points.
//
// # Measurements
//
//	firmware_progress  tags: site, device_id, phase
//	                   fields: percent, file, total_files, in_progress
//	firmware_check     tags: site, device_id, outcome
//	                   fields: duration_ms, advertised, candidate_version, error
//	firmware_install   tags: site, device_id, status
//	                   fields: from_version, to_version, files, duration_s, error
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	observers = append(observers, influxdb.NewTelemetry(client, cfg.Site.ID))
//
// # Error Handling
//
// Writes are non-blocking; batch failures are delivered to the SetOnError
// callback. Connection and health check errors are returned directly.
package influxdb
