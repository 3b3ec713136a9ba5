//go:build !linux && !darwin && !freebsd

package memory

func mapAnonymous(length int) ([]byte, bool) {
	return make([]byte, length), false
}

func unmapAnonymous([]byte) error { return nil }
