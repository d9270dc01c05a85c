// Package pipeline keeps a downstream sink in sync with a versioned
// definition source through three long-running stages:
//
//	sync | ingest | publish
//
// SyncStage fetches the source once and then updates it on a fixed
// interval. IngestStage parses the checkout whenever sync becomes available
// and accepts the result only if every entry is valid. PublishStage sends
// each newly available definition set to the sink.
//
// Stages communicate through a Cell holding the latest StageState. A cell
// has one writer and any number of readers; readers block in Wait and see
// the newest state, possibly skipping intermediate ones. Availability is the
// gate: a stage marks itself unavailable before it starts work that would
// invalidate its value and available only after that work succeeded.
//
// Every capability call (fetch, update, connect, publish) runs under a
// RetryPolicy: a fixed number of retries at a fixed interval, then either a
// Soft give-up (log and keep the last known-good state) or a Fatal one. A
// FatalError is returned from Pipeline.Run, which cancels the other stages;
// the caller decides how to exit.
//
// Delivery is at-least-once and latest-wins. Message ids are derived from
// the version and content digest, so a repeated publication of the same set
// is harmless for the consumer.
package pipeline
