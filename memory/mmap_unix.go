//go:build linux || darwin || freebsd

package memory

import "golang.org/x/sys/unix"

// mapAnonymous maps private anonymous memory. On failure it falls back to the
// Go heap and reports mapped=false.
func mapAnonymous(length int) ([]byte, bool) {
	data, err := unix.Mmap(-1, 0, length,
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return make([]byte, length), false
	}
	return data, true
}

func unmapAnonymous(data []byte) error {
	return unix.Munmap(data)
}
