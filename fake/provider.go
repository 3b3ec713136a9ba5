// Author: momentics <momentics@gmail.com>

package fake

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/momentics/hioload-verbs/verbs/soft"
)

// NewProvider returns a software provider on n with timeouts short enough
// for tests.
func NewProvider(n *Network, log zerolog.Logger) *soft.Provider {
	return soft.New(
		soft.WithNetwork(n),
		soft.WithLogger(log),
		soft.WithTimewait(200*time.Millisecond),
		soft.WithConnectTimeout(time.Second),
	)
}
