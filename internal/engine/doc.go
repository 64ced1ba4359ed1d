// Package engine runs outlet status batches. It records each run in the
// store, drives the scheduler over the outlets supplied by the source,
// persists the results, hands the report to the delivery pipeline and streams
// progress events to subscribers.
package engine
