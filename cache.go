package ndsp

import (
	"fmt"
	"os"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Cache provides the data cache maintenance primitives needed to share memory with the DSP.
type Cache interface {
	// Flush writes cached CPU stores for p back to memory, so the hardware observes them.
	Flush(p []byte) error
	// Invalidate discards cached CPU copies of p, so later reads fetch memory contents.
	Invalidate(p []byte) error
}

// msyncCache implements Cache with msync(2) on the region mapping.
// msync operates on whole pages, so each span is widened to the pages containing it.
type msyncCache struct {
	mem []byte
}

func newMsyncCache(mem []byte) *msyncCache {
	return &msyncCache{mem: mem}
}

// Flush synchronously writes the pages holding p.
func (c *msyncCache) Flush(p []byte) error {
	span, err := c.pages(p)
	if err != nil || len(span) == 0 {
		return err
	}

	if err := unix.Msync(span, unix.MS_SYNC); err != nil {
		return fmt.Errorf("msync MS_SYNC failed: %w", err)
	}

	return nil
}

// Invalidate invalidates the pages holding p.
func (c *msyncCache) Invalidate(p []byte) error {
	span, err := c.pages(p)
	if err != nil || len(span) == 0 {
		return err
	}

	if err := unix.Msync(span, unix.MS_INVALIDATE); err != nil {
		return fmt.Errorf("msync MS_INVALIDATE failed: %w", err)
	}

	return nil
}

// pages returns the page-aligned sub-slice of the mapping covering p.
func (c *msyncCache) pages(p []byte) ([]byte, error) {
	if len(p) == 0 {
		return nil, nil
	}

	base := uintptr(unsafe.Pointer(&c.mem[0]))
	start := uintptr(unsafe.Pointer(&p[0]))
	if start < base || start+uintptr(len(p)) > base+uintptr(len(c.mem)) {
		return nil, fmt.Errorf("span %#x+%d is outside the region mapping", start, len(p))
	}

	pageSize := uintptr(os.Getpagesize())
	off := (start - base) &^ (pageSize - 1)
	end := start - base + uintptr(len(p))
	end = (end + pageSize - 1) &^ (pageSize - 1)
	if end > uintptr(len(c.mem)) {
		end = uintptr(len(c.mem))
	}

	return c.mem[off:end], nil
}
