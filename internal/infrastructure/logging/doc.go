// Package logging wraps log/slog with the historian's conventions.
//
// Every record carries service and version attributes, and each
// subsystem tags its records with a component attribute:
//
//	log := logging.New(cfg.Logging, version)
//	ingestLog := log.With("component", "ingest")
//	ingestLog.Info("batch committed", "values", n)
//
// Format, level and destination come from the logging section of
// config.yaml. JSON to stdout is the production shape; text is for
// reading locally. Unknown levels fall back to info rather than
// failing startup.
//
// Secrets never go through the logger. Broker passwords and InfluxDB
// tokens are config-only values; log the URL or host, not the
// credential.
package logging
