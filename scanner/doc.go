// Package scanner detects inbound stealth payments.
//
// A single driver (Run) triggers ScanAllAgents on a fixed interval. Within a
// cycle, agents are scanned concurrently by a bounded worker pool; a
// per-agent in-flight flag keeps two scans of one agent from overlapping.
// Each agent scan reads the watermark, asks the cryptography provider for
// payments after it, stores them idempotently, advances the watermark by
// compare-and-set and only then emits notifications. Transient failures are
// retried with exponential backoff up to a per-cycle cap; exhausting the
// cap is logged, counted and emitted as a scan failure event.
package scanner
