//go:build !unix

package physmem

// mapAnon falls back to a heap slice when mmap is not available.
func mapAnon(size int) ([]byte, func() error, error) {
	return make([]byte, size), func() error { return nil }, nil
}
