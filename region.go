package ndsp

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"unsafe"

	"github.com/charmbracelet/log"
	"github.com/dustin/go-humanize"
	"golang.org/x/sys/unix"
)

// RegionKind identifies the memory pool a region models.
type RegionKind int

const (
	// RegionLinear is the DMA-linear pool. It supports growing blocks in place.
	RegionLinear RegionKind = iota
	// RegionVRAM is the GPU-visible pool. It has no native reallocation.
	RegionVRAM
)

// RegionKindNames provides human-readable names for region kinds.
var RegionKindNames = map[RegionKind]string{
	RegionLinear: "linear",
	RegionVRAM:   "vram",
}

// String returns the name of the region kind.
func (k RegionKind) String() string {
	if name, ok := RegionKindNames[k]; ok {
		return name
	}

	return fmt.Sprintf("RegionKind(%d)", int(k))
}

const (
	// DefaultAlignment is the alignment used when Alloc is called with align 0.
	DefaultAlignment = 0x80

	DefaultLinearSize = 32 << 20
	DefaultVRAMSize   = 6 << 20
)

// RegionConfig describes a memory pool.
type RegionConfig struct {
	Kind RegionKind
	Size int // In bytes. 0 selects the default size for Kind.
	// Cache performs flush and invalidate for buffers built on this region.
	// If nil, msync(2) on the region mapping is used.
	Cache  Cache
	Logger *log.Logger
}

// RegionStats is a snapshot of a region's accounting.
type RegionStats struct {
	Kind        RegionKind
	Size        int
	Free        int
	LargestFree int
	Blocks      int
	Allocs      uint64
	Frees       uint64
	Failures    uint64
}

// String returns a human-readable representation of the stats.
func (s RegionStats) String() string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("Region:        %s\n", s.Kind))
	sb.WriteString(fmt.Sprintf("Size:          %d bytes (%s)\n", s.Size, humanize.IBytes(uint64(s.Size))))
	sb.WriteString(fmt.Sprintf("Free:          %d bytes (%s)\n", s.Free, humanize.IBytes(uint64(s.Free))))
	sb.WriteString(fmt.Sprintf("Largest free:  %d bytes (%s)\n", s.LargestFree, humanize.IBytes(uint64(s.LargestFree))))
	sb.WriteString(fmt.Sprintf("Live blocks:   %d\n", s.Blocks))
	sb.WriteString(fmt.Sprintf("Allocs/Frees:  %d/%d (%d failed)\n", s.Allocs, s.Frees, s.Failures))

	return sb.String()
}

// span is a free range of the mapping.
type span struct {
	off  int
	size int
}

// Region is a fixed-capacity memory pool that wave buffers are allocated from.
// A Region is safe for concurrent use.
type Region struct {
	mu     sync.Mutex
	kind   RegionKind
	mem    []byte
	base   uintptr
	free   []span // sorted by offset, never adjacent
	blocks map[*Block]struct{}
	cache  Cache
	logger *log.Logger
	closed bool

	allocs   uint64
	frees    uint64
	failures uint64
}

// Block is a live allocation inside a Region.
// While a WaveBuffer owns the block it can only be released by closing that buffer.
type Block struct {
	region *Region
	off    int
	align  int
	data   []byte
	owned  bool
}

// munmap is replaced in tests.
var munmap = unix.Munmap

// NewRegion maps an anonymous memory pool according to config.
// A nil config selects a default linear region.
func NewRegion(config *RegionConfig) (*Region, error) {
	cfg := RegionConfig{Kind: RegionLinear}
	if config != nil {
		cfg = *config
	}

	if cfg.Size == 0 {
		if cfg.Kind == RegionVRAM {
			cfg.Size = DefaultVRAMSize
		} else {
			cfg.Size = DefaultLinearSize
		}
	}

	if cfg.Size < 0 {
		return nil, fmt.Errorf("invalid region size %d", cfg.Size)
	}

	if _, ok := RegionKindNames[cfg.Kind]; !ok {
		return nil, fmt.Errorf("invalid region kind %d", int(cfg.Kind))
	}

	mem, err := unix.Mmap(-1, 0, cfg.Size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, fmt.Errorf("mmap %s region failed: %w", cfg.Kind, err)
	}

	r := &Region{
		kind:   cfg.Kind,
		mem:    mem,
		base:   uintptr(unsafe.Pointer(&mem[0])),
		free:   []span{{off: 0, size: len(mem)}},
		blocks: make(map[*Block]struct{}),
		cache:  cfg.Cache,
		logger: cfg.Logger,
	}

	if r.cache == nil {
		r.cache = newMsyncCache(mem)
	}

	if r.logger == nil {
		r.logger = NewLogger()
	}

	return r, nil
}

// Close unmaps the pool. It fails with ErrRegionBusy while blocks are outstanding.
func (r *Region) Close() error {
	if r == nil {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}

	if len(r.blocks) > 0 {
		return fmt.Errorf("%w: %d live", ErrRegionBusy, len(r.blocks))
	}

	// A failed unmap leaves the region open and usable.
	if err := munmap(r.mem); err != nil {
		return fmt.Errorf("munmap %s region failed, region left open: %w", r.kind, err)
	}

	r.closed = true
	r.free = nil
	r.mem = nil

	return nil
}

// Kind returns the pool kind.
func (r *Region) Kind() RegionKind {
	return r.kind
}

// Size returns the capacity of the pool in bytes.
func (r *Region) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.mem)
}

// Cache returns the cache primitives of the region.
func (r *Region) Cache() Cache {
	return r.cache
}

// Logger returns the logger of the region.
func (r *Region) Logger() *log.Logger {
	return r.logger
}

// FreeSpace returns the number of unallocated bytes left in the pool.
// Fragmentation and alignment may prevent a single allocation of that size.
func (r *Region) FreeSpace() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.freeLocked()
}

// Stats returns a snapshot of the region accounting.
func (r *Region) Stats() RegionStats {
	r.mu.Lock()
	defer r.mu.Unlock()

	st := RegionStats{
		Kind:     r.kind,
		Size:     len(r.mem),
		Blocks:   len(r.blocks),
		Allocs:   r.allocs,
		Frees:    r.frees,
		Failures: r.failures,
	}

	for _, s := range r.free {
		st.Free += s.size
		if s.size > st.LargestFree {
			st.LargestFree = s.size
		}
	}

	return st
}

// Alloc allocates size bytes whose address is a multiple of align.
// An align of 0 selects DefaultAlignment. On failure the pool is left unchanged and the error wraps ErrAllocation.
func (r *Region) Alloc(size, align int) (*Block, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.alloc(size, align)
}

func (r *Region) alloc(size, align int) (*Block, error) {
	if r.closed {
		return nil, fmt.Errorf("alloc on %s region: %w", r.kind, ErrClosed)
	}

	if align == 0 {
		align = DefaultAlignment
	}

	if size <= 0 {
		r.failures++

		return nil, fmt.Errorf("%w: invalid size %d", ErrAllocation, size)
	}

	if align < 0 || align&(align-1) != 0 {
		r.failures++

		return nil, fmt.Errorf("%w: alignment %d is not a power of two", ErrAllocation, align)
	}

	for i, s := range r.free {
		addr := r.base + uintptr(s.off)
		pad := int(alignUp(addr, uintptr(align)) - addr)
		if pad+size > s.size {
			continue
		}

		off := s.off + pad
		r.takeSpan(i, off, size)

		b := &Block{
			region: r,
			off:    off,
			align:  align,
			data:   r.mem[off : off+size : off+size],
		}
		r.blocks[b] = struct{}{}
		r.allocs++

		return b, nil
	}

	r.failures++

	return nil, fmt.Errorf("%w: %s region cannot fit %d bytes aligned to %d (%d bytes free)",
		ErrAllocation, r.kind, size, align, r.freeLocked())
}

// takeSpan removes [off, off+size) from the free span at index i.
func (r *Region) takeSpan(i, off, size int) {
	s := r.free[i]
	var rest []span

	if lead := off - s.off; lead > 0 {
		rest = append(rest, span{off: s.off, size: lead})
	}

	if tail := s.off + s.size - (off + size); tail > 0 {
		rest = append(rest, span{off: off + size, size: tail})
	}

	r.free = append(r.free[:i], append(rest, r.free[i+1:]...)...)
}

// Free returns a block to the pool. Freeing a block twice, or into another region, fails with ErrInvalidBlock.
// A block owned by a WaveBuffer fails with ErrBlockOwned.
func (r *Region) Free(b *Block) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if b != nil && b.owned {
		return fmt.Errorf("free of %s region block: %w", r.kind, ErrBlockOwned)
	}

	return r.release(b)
}

// claim marks a live block as owned by a wave buffer.
func (r *Region) claim(b *Block) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.blocks[b]; !ok || b.region != r {
		return fmt.Errorf("%w: block is not live", ErrInvalidBlock)
	}

	if b.owned {
		return fmt.Errorf("claim of %s region block: %w", r.kind, ErrBlockOwned)
	}

	b.owned = true

	return nil
}

// unclaim drops the ownership mark without freeing the block.
func (r *Region) unclaim(b *Block) {
	r.mu.Lock()
	defer r.mu.Unlock()

	b.owned = false
}

// releaseOwned clears the ownership mark and returns the block to the pool.
func (r *Region) releaseOwned(b *Block) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	b.owned = false

	return r.release(b)
}

func (r *Region) release(b *Block) error {
	if b == nil || b.region != r {
		return fmt.Errorf("%w: block does not belong to this %s region", ErrInvalidBlock, r.kind)
	}

	if _, ok := r.blocks[b]; !ok {
		return fmt.Errorf("%w: block at offset %d is not live", ErrInvalidBlock, b.off)
	}

	delete(r.blocks, b)
	r.insertSpan(span{off: b.off, size: len(b.data)})
	r.frees++
	b.data = nil

	return nil
}

// insertSpan adds a free range, merging it with adjacent ranges.
func (r *Region) insertSpan(n span) {
	i := sort.Search(len(r.free), func(i int) bool { return r.free[i].off > n.off })

	r.free = append(r.free, span{})
	copy(r.free[i+1:], r.free[i:])
	r.free[i] = n

	if i+1 < len(r.free) && r.free[i].off+r.free[i].size == r.free[i+1].off {
		r.free[i].size += r.free[i+1].size
		r.free = append(r.free[:i+1], r.free[i+2:]...)
	}

	if i > 0 && r.free[i-1].off+r.free[i-1].size == r.free[i].off {
		r.free[i-1].size += r.free[i].size
		r.free = append(r.free[:i], r.free[i+1:]...)
	}
}

// Realloc resizes a block, preserving its contents up to the smaller of the two sizes.
// Linear regions shrink or grow in place when the following memory is free. VRAM regions have no native
// reallocation, so for them and for linear blocks that cannot grow in place, a new block is allocated, the
// data copied and the old block freed. The returned block replaces b, which must not be used afterwards
// unless it is the same block.
func (r *Region) Realloc(b *Block, size int) (*Block, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, fmt.Errorf("realloc on %s region: %w", r.kind, ErrClosed)
	}

	if _, ok := r.blocks[b]; !ok || b.region != r {
		return nil, fmt.Errorf("%w: realloc of a block that is not live", ErrInvalidBlock)
	}

	if b.owned {
		return nil, fmt.Errorf("realloc of %s region block: %w", r.kind, ErrBlockOwned)
	}

	if size <= 0 {
		r.failures++

		return nil, fmt.Errorf("%w: invalid size %d", ErrAllocation, size)
	}

	if r.kind == RegionLinear && r.resizeInPlace(b, size) {
		return b, nil
	}

	nb, err := r.alloc(size, b.align)
	if err != nil {
		return nil, err
	}

	copy(nb.data, b.data)

	if err := r.release(b); err != nil {
		return nil, err
	}

	return nb, nil
}

// resizeInPlace shrinks b, or grows it into the free span directly after it.
func (r *Region) resizeInPlace(b *Block, size int) bool {
	cur := len(b.data)
	end := b.off + cur

	if size <= cur {
		if size < cur {
			r.insertSpan(span{off: b.off + size, size: cur - size})
		}
		b.data = r.mem[b.off : b.off+size : b.off+size]

		return true
	}

	i := sort.Search(len(r.free), func(i int) bool { return r.free[i].off >= end })
	if i == len(r.free) || r.free[i].off != end || r.free[i].size < size-cur {
		return false
	}

	r.takeSpan(i, end, size-cur)
	b.data = r.mem[b.off : b.off+size : b.off+size]

	return true
}

func (r *Region) freeLocked() int {
	total := 0
	for _, s := range r.free {
		total += s.size
	}

	return total
}

// Bytes returns the memory of the block. It is nil once the block is freed.
func (b *Block) Bytes() []byte {
	return b.data
}

// Len returns the size of the block in bytes.
func (b *Block) Len() int {
	return len(b.data)
}

// Addr returns the address of the first byte of the block.
func (b *Block) Addr() uintptr {
	if len(b.data) == 0 {
		return 0
	}

	return uintptr(unsafe.Pointer(&b.data[0]))
}

// Region returns the region the block was allocated from.
func (b *Block) Region() *Region {
	return b.region
}

// Free returns the block to its region.
func (b *Block) Free() error {
	if b == nil || b.region == nil {
		return fmt.Errorf("%w: nil block", ErrInvalidBlock)
	}

	return b.region.Free(b)
}

func alignUp(v, align uintptr) uintptr {
	return (v + align - 1) &^ (align - 1)
}
