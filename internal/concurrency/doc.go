// File: internal/concurrency/doc.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Concurrency primitives for completion pollers: a bounded ring for
// completion entries, an unbounded task queue, adaptive idle backoff and
// CPU pinning of poller threads.
package concurrency
