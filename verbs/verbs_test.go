package verbs

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWCStatusString(t *testing.T) {
	assert.Equal(t, "success", WCSuccess.String())
	assert.Equal(t, "Work Request Flushed Error", WCWRFlushErr.String())
	assert.Equal(t, "remote access error", WCRemoteAccessErr.String())
	assert.Equal(t, "unknown status 99", WCStatus(99).String())
}

func TestAccessFlagsHas(t *testing.T) {
	a := AccessLocalWrite | AccessRemoteRead
	assert.True(t, a.Has(AccessLocalWrite))
	assert.True(t, a.Has(AccessLocalWrite|AccessRemoteRead))
	assert.False(t, a.Has(AccessRemoteWrite))
}

func TestSendWRLength(t *testing.T) {
	wr := &SendWR{SGL: []SGE{{Data: make([]byte, 3)}, {Data: make([]byte, 5)}}}
	assert.Equal(t, 8, wr.Length())
	assert.Equal(t, "TIMEWAIT_EXIT", EventTimewaitExit.String())
}
