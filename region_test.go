package ndsp_test

import (
	"bytes"
	"errors"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gen2brain/ndsp"
)

func newRegion(t *testing.T, kind ndsp.RegionKind, size int) *ndsp.Region {
	t.Helper()

	region, err := ndsp.NewRegion(&ndsp.RegionConfig{Kind: kind, Size: size, Logger: log.New(&bytes.Buffer{})})
	require.NoError(t, err)

	return region
}

func TestRegionDefaults(t *testing.T) {
	linear, err := ndsp.NewRegion(nil)
	require.NoError(t, err)
	defer linear.Close()

	assert.Equal(t, ndsp.RegionLinear, linear.Kind())
	assert.Equal(t, ndsp.DefaultLinearSize, linear.Size())
	assert.Equal(t, ndsp.DefaultLinearSize, linear.FreeSpace())
	assert.NotNil(t, linear.Cache())
	assert.NotNil(t, linear.Logger())

	vram, err := ndsp.NewRegion(&ndsp.RegionConfig{Kind: ndsp.RegionVRAM})
	require.NoError(t, err)
	defer vram.Close()

	assert.Equal(t, ndsp.DefaultVRAMSize, vram.Size())
	assert.Equal(t, "vram", vram.Kind().String())

	_, err = ndsp.NewRegion(&ndsp.RegionConfig{Kind: ndsp.RegionKind(9)})
	assert.Error(t, err)

	_, err = ndsp.NewRegion(&ndsp.RegionConfig{Size: -1})
	assert.Error(t, err)
}

func TestRegionAllocFree(t *testing.T) {
	region := newRegion(t, ndsp.RegionLinear, 64<<10)
	defer region.Close()

	before := region.FreeSpace()

	block, err := region.Alloc(1000, 4)
	require.NoError(t, err)
	assert.Equal(t, 1000, block.Len())
	assert.Len(t, block.Bytes(), 1000)
	assert.Same(t, region, block.Region())
	assert.LessOrEqual(t, region.FreeSpace(), before-1000)

	require.NoError(t, region.Free(block))
	assert.Equal(t, before, region.FreeSpace())
	assert.Nil(t, block.Bytes())

	st := region.Stats()
	assert.Equal(t, uint64(1), st.Allocs)
	assert.Equal(t, uint64(1), st.Frees)
	assert.Equal(t, 0, st.Blocks)
	assert.Equal(t, before, st.LargestFree, "freed spans must coalesce")
}

func TestRegionAlignment(t *testing.T) {
	region := newRegion(t, ndsp.RegionLinear, 64<<10)
	defer region.Close()

	// Misalign the next free span first.
	odd, err := region.Alloc(3, 1)
	require.NoError(t, err)

	for _, align := range []int{1, 2, 4, 8, 16, 0x80, 0x1000} {
		before := region.FreeSpace()

		block, err := region.Alloc(100, align)
		require.NoError(t, err, "align %d", align)
		assert.Zero(t, block.Addr()%uintptr(align), "align %d", align)
		assert.GreaterOrEqual(t, before-region.FreeSpace(), 100)

		require.NoError(t, block.Free())
	}

	block, err := region.Alloc(100, 0)
	require.NoError(t, err)
	assert.Zero(t, block.Addr()%ndsp.DefaultAlignment)
	require.NoError(t, block.Free())

	require.NoError(t, odd.Free())
}

func TestRegionAllocFailure(t *testing.T) {
	region := newRegion(t, ndsp.RegionLinear, 4096)
	defer region.Close()

	before := region.FreeSpace()
	testCases := []struct {
		name  string
		size  int
		align int
	}{
		{"TooLarge", before + 1, 4},
		{"ZeroSize", 0, 4},
		{"NegativeSize", -5, 4},
		{"AlignNotPowerOfTwo", 16, 3},
		{"NegativeAlign", 16, -4},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			block, err := region.Alloc(tc.size, tc.align)
			assert.Nil(t, block)
			assert.ErrorIs(t, err, ndsp.ErrAllocation)
			assert.Equal(t, before, region.FreeSpace(), "a failed allocation must not change the pool")
		})
	}

	assert.Equal(t, uint64(len(testCases)), region.Stats().Failures)

	// Exhaust the pool exactly.
	block, err := region.Alloc(before, 1)
	require.NoError(t, err)
	assert.Zero(t, region.FreeSpace())

	_, err = region.Alloc(1, 1)
	assert.ErrorIs(t, err, ndsp.ErrAllocation)

	require.NoError(t, block.Free())
}

func TestRegionInvalidFree(t *testing.T) {
	a := newRegion(t, ndsp.RegionLinear, 4096)
	defer a.Close()
	b := newRegion(t, ndsp.RegionLinear, 4096)
	defer b.Close()

	block, err := a.Alloc(64, 4)
	require.NoError(t, err)

	assert.ErrorIs(t, b.Free(block), ndsp.ErrInvalidBlock, "free into a foreign region")
	assert.ErrorIs(t, a.Free(nil), ndsp.ErrInvalidBlock)

	require.NoError(t, a.Free(block))
	assert.ErrorIs(t, a.Free(block), ndsp.ErrInvalidBlock, "double free")
	assert.ErrorIs(t, (*ndsp.Block)(nil).Free(), ndsp.ErrInvalidBlock)
}

func TestRegionFragmentation(t *testing.T) {
	region := newRegion(t, ndsp.RegionLinear, 4096)
	defer region.Close()

	blocks := make([]*ndsp.Block, 4)
	for i := range blocks {
		var err error
		blocks[i], err = region.Alloc(1024, 1)
		require.NoError(t, err)
	}

	require.NoError(t, blocks[0].Free())
	require.NoError(t, blocks[2].Free())
	assert.Equal(t, 2048, region.FreeSpace())

	_, err := region.Alloc(2048, 1)
	assert.ErrorIs(t, err, ndsp.ErrAllocation, "free space is split in two spans")

	require.NoError(t, blocks[1].Free())
	assert.Equal(t, 3072, region.Stats().LargestFree)

	big, err := region.Alloc(3072, 1)
	require.NoError(t, err)

	require.NoError(t, big.Free())
	require.NoError(t, blocks[3].Free())
	assert.Equal(t, 4096, region.Stats().LargestFree)
}

func TestRegionRealloc(t *testing.T) {
	t.Run("LinearInPlace", func(t *testing.T) {
		region := newRegion(t, ndsp.RegionLinear, 4096)
		defer region.Close()

		block, err := region.Alloc(100, 4)
		require.NoError(t, err)
		copy(block.Bytes(), "sample data")
		addr := block.Addr()

		grown, err := region.Realloc(block, 400)
		require.NoError(t, err)
		assert.Same(t, block, grown)
		assert.Equal(t, addr, grown.Addr())
		assert.Equal(t, 400, grown.Len())
		assert.Equal(t, "sample data", string(grown.Bytes()[:11]))
		assert.Equal(t, 4096-400, region.FreeSpace())

		shrunk, err := region.Realloc(grown, 50)
		require.NoError(t, err)
		assert.Same(t, block, shrunk)
		assert.Equal(t, 4096-50, region.FreeSpace())

		require.NoError(t, shrunk.Free())
		assert.Equal(t, 4096, region.FreeSpace())
	})

	t.Run("LinearFallback", func(t *testing.T) {
		region := newRegion(t, ndsp.RegionLinear, 4096)
		defer region.Close()

		block, err := region.Alloc(100, 4)
		require.NoError(t, err)
		copy(block.Bytes(), "sample data")

		// Pin the memory right after block so it cannot grow in place.
		pin, err := region.Alloc(16, 1)
		require.NoError(t, err)

		moved, err := region.Realloc(block, 200)
		require.NoError(t, err)
		assert.NotSame(t, block, moved)
		assert.Equal(t, "sample data", string(moved.Bytes()[:11]))
		assert.ErrorIs(t, block.Free(), ndsp.ErrInvalidBlock, "the old block is released")

		require.NoError(t, moved.Free())
		require.NoError(t, pin.Free())
	})

	t.Run("VRAMAlwaysCopies", func(t *testing.T) {
		region := newRegion(t, ndsp.RegionVRAM, 4096)
		defer region.Close()

		block, err := region.Alloc(100, 4)
		require.NoError(t, err)
		copy(block.Bytes(), "texture")

		moved, err := region.Realloc(block, 200)
		require.NoError(t, err)
		assert.NotSame(t, block, moved)
		assert.Equal(t, "texture", string(moved.Bytes()[:7]))
		assert.Equal(t, 1, region.Stats().Blocks)

		require.NoError(t, moved.Free())
	})

	t.Run("FailureKeepsBlock", func(t *testing.T) {
		region := newRegion(t, ndsp.RegionVRAM, 4096)
		defer region.Close()

		block, err := region.Alloc(3000, 4)
		require.NoError(t, err)

		_, err = region.Realloc(block, 3500)
		assert.ErrorIs(t, err, ndsp.ErrAllocation)
		assert.Equal(t, 3000, block.Len())

		_, err = region.Realloc(block, 0)
		assert.ErrorIs(t, err, ndsp.ErrAllocation)

		require.NoError(t, block.Free())

		_, err = region.Realloc(block, 10)
		assert.ErrorIs(t, err, ndsp.ErrInvalidBlock)
	})
}

func TestRegionClose(t *testing.T) {
	region := newRegion(t, ndsp.RegionLinear, 4096)

	block, err := region.Alloc(64, 4)
	require.NoError(t, err)

	err = region.Close()
	assert.ErrorIs(t, err, ndsp.ErrRegionBusy)

	require.NoError(t, block.Free())
	require.NoError(t, region.Close())
	require.NoError(t, region.Close(), "closing twice is a no-op")

	_, err = region.Alloc(64, 4)
	assert.True(t, errors.Is(err, ndsp.ErrClosed))

	assert.NoError(t, (*ndsp.Region)(nil).Close())
}

func TestRegionCloseUnmapFailure(t *testing.T) {
	region := newRegion(t, ndsp.RegionLinear, 4096)

	restore := ndsp.SetMunmap(func([]byte) error { return errors.New("munmap error") })
	err := region.Close()
	restore()

	require.Error(t, err)
	assert.Contains(t, err.Error(), "region left open")

	// The region is still mapped and usable.
	block, err := region.Alloc(64, 4)
	require.NoError(t, err)
	block.Bytes()[0] = 1
	require.NoError(t, block.Free())
	assert.Equal(t, 4096, region.FreeSpace())

	require.NoError(t, region.Close())
	_, err = region.Alloc(64, 4)
	assert.ErrorIs(t, err, ndsp.ErrClosed)
}

func TestRegionStatsString(t *testing.T) {
	region := newRegion(t, ndsp.RegionLinear, 4096)
	defer region.Close()

	s := region.Stats().String()
	assert.Contains(t, s, "Region:        linear")
	assert.Contains(t, s, "Free:          4096 bytes (4.0 KiB)")
	assert.Contains(t, s, "Live blocks:   0")
}

func TestRegionDefaultCache(t *testing.T) {
	region := newRegion(t, ndsp.RegionLinear, 64<<10)
	defer region.Close()

	block, err := region.Alloc(5000, 1)
	require.NoError(t, err)
	defer block.Free()

	cache := region.Cache()
	assert.NoError(t, cache.Flush(block.Bytes()))
	assert.NoError(t, cache.Invalidate(block.Bytes()))
	assert.NoError(t, cache.Flush(nil))

	assert.Error(t, cache.Flush(make([]byte, 16)), "memory outside the region mapping")
}
