// control/limits.go
// Author: momentics <momentics@gmail.com>
//
// Queue and buffer sizing for a transport service, loadable from YAML.

package control

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// maxBufferLength bounds a single pooled buffer.
const maxBufferLength = 1 << 24

// Limits sizes the queues and buffer pools of a service. Values are fixed for
// the lifetime of the service.
type Limits struct {
	// Receive buffers shared by all sockets of one completion context.
	ReceiveBufferCount int `yaml:"receive_buffer_count"`
	// Send buffers handed out by AcquireSendBuffer on one completion context.
	SendBufferCount int `yaml:"send_buffer_count"`
	// Length of every send and receive buffer.
	BufferLength int `yaml:"buffer_length"`
	// Outstanding send queue work requests per socket.
	SendQueueLength int `yaml:"send_queue_length"`
	// Completion queue depth per completion context.
	CompletionQueueLength int `yaml:"completion_queue_length"`
	// Empty polls before a completion context backs off.
	PollCycles int `yaml:"poll_cycles"`

	ContextCount   int           `yaml:"context_count"`
	ResolveTimeout time.Duration `yaml:"resolve_timeout"`
	// CPUs to pin completion context i to, cycled when shorter than ContextCount.
	PinCPUs []int `yaml:"pin_cpus"`
}

// DefaultLimits returns the stock sizing.
func DefaultLimits() Limits {
	return Limits{
		ReceiveBufferCount:    64,
		SendBufferCount:       64,
		BufferLength:          256,
		SendQueueLength:       64,
		CompletionQueueLength: 128,
		PollCycles:            1000000,
		ContextCount:          1,
		ResolveTimeout:        2 * time.Second,
	}
}

// ParseLimits decodes YAML over DefaultLimits, so absent keys keep defaults.
func ParseLimits(data []byte) (Limits, error) {
	l := DefaultLimits()
	if err := yaml.Unmarshal(data, &l); err != nil {
		return Limits{}, fmt.Errorf("control: parse limits: %w", err)
	}
	if err := l.Validate(); err != nil {
		return Limits{}, err
	}
	return l, nil
}

// LoadLimits reads and parses a YAML limits file.
func LoadLimits(path string) (Limits, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Limits{}, fmt.Errorf("control: read limits: %w", err)
	}
	return ParseLimits(data)
}

// Validate rejects sizings the service cannot be built with.
func (l Limits) Validate() error {
	positive := []struct {
		name  string
		value int
	}{
		{"receive_buffer_count", l.ReceiveBufferCount},
		{"send_buffer_count", l.SendBufferCount},
		{"buffer_length", l.BufferLength},
		{"send_queue_length", l.SendQueueLength},
		{"completion_queue_length", l.CompletionQueueLength},
		{"context_count", l.ContextCount},
	}
	for _, p := range positive {
		if p.value <= 0 {
			return fmt.Errorf("control: %s must be positive, got %d", p.name, p.value)
		}
	}
	if l.BufferLength > maxBufferLength {
		return fmt.Errorf("control: buffer_length %d exceeds %d", l.BufferLength, maxBufferLength)
	}
	if l.ReceiveBufferCount >= 0xFFFF || l.SendBufferCount >= 0xFFFF {
		return fmt.Errorf("control: buffer counts must stay below %d", 0xFFFF)
	}
	if l.PollCycles < 0 {
		return fmt.Errorf("control: poll_cycles must not be negative")
	}
	if l.ResolveTimeout <= 0 {
		return fmt.Errorf("control: resolve_timeout must be positive")
	}
	return nil
}

// PinCPU returns the CPU for completion context i, or -1 when unpinned.
func (l Limits) PinCPU(i int) int {
	if len(l.PinCPUs) == 0 {
		return -1
	}
	return l.PinCPUs[i%len(l.PinCPUs)]
}
