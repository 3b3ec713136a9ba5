// Package pool
// Author: momentics <momentics@gmail.com>
//
// Fixed-size buffer pools carved from one registered memory region.
// Buffers are addressed by a 16-bit id so completions can hand them back
// without a lookup; see registered.go.
package pool
