// Package influxdb mirrors committed numeric samples into an InfluxDB
// v2 bucket, using the official influxdb-client-go library.
//
// SQLite remains the system of record; the mirror is optional and
// best-effort, aimed at dashboarding and long-range queries. Only
// numeric values are mirrored, since boolean and string history has no
// use in a time-series dashboard.
//
// Usage:
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WriteMetricValue("press7", "temperature", 21.5, ts)
//
// Writes go through the client library's non-blocking batched
// WriteAPI, sized by batch_size and flush_interval in config.yaml, so
// the ingestion pipeline never waits on the mirror. Asynchronous write
// failures are delivered to the SetOnError callback; connection and
// health check errors are returned directly. All methods are safe for
// concurrent use.
package influxdb
