package soft

import "github.com/momentics/hioload-verbs/verbs"

// Finished reports whether the connection goroutines of id have exited and
// its queue pair is flushed.
func Finished(id verbs.ConnID) bool {
	c := id.(*connID)
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == idClosed && c.torn.Load()
}
