// Package ingest turns decoded wire messages into durable history.
//
// The pipeline has three stages. The Normalizer flattens a topic plus
// payload into an Event carrying canonical metric tuples, unwrapping the
// recognised status template shape and excluding values that cannot be
// recorded. The Scheduler buffers events in two FIFO queues, definitions
// ahead of updates, and drains them in size- or time-triggered batches.
// The StoreCommitter writes each batch in a single transaction; a failed
// batch rolls back whole and is captured as a dead letter rather than
// retried.
package ingest
