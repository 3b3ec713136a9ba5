// Package control
// Author: momentics <momentics@gmail.com>
//
// Sizing limits, runtime metrics and debug introspection for the transport.
//
// Provides:
//   - Limits with YAML loading and validation
//   - A metrics registry of counters and gauges
//   - Named debug probes, including platform probes
package control
