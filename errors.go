package ndsp

import "errors"

var (
	// ErrAllocation reports that a region could not satisfy an allocation request.
	ErrAllocation = errors.New("region allocation failed")
	// ErrInvalidBlock reports a block that is not live in the region it was passed to.
	ErrInvalidBlock = errors.New("invalid region block")
	// ErrBlockOwned reports a free or realloc of a block owned by a WaveBuffer.
	ErrBlockOwned = errors.New("block is owned by a wave buffer")
	// ErrRegionBusy reports an attempt to close a region with outstanding blocks.
	ErrRegionBusy = errors.New("region has outstanding blocks")
	// ErrCacheOperation reports a failed cache flush or invalidate.
	ErrCacheOperation = errors.New("cache operation failed")

	// ErrInvalidStatus reports a status code outside the four known descriptor states.
	ErrInvalidStatus = errors.New("invalid wave buffer status")
	// ErrInvalidFormat reports an unknown audio format.
	ErrInvalidFormat = errors.New("invalid audio format")

	// ErrBufferBorrowed reports that a wave buffer is still referenced by a live WaveInfo.
	ErrBufferBorrowed = errors.New("wave buffer is borrowed")
	// ErrBufferBusy reports a mutation attempt while the hardware may be reading the buffer.
	ErrBufferBusy = errors.New("wave buffer is in use by the hardware")
	// ErrInFlight reports an operation that requires a Free or Done descriptor.
	ErrInFlight = errors.New("descriptor is queued or playing")
	// ErrClosed reports use of a closed buffer, handle or region.
	ErrClosed = errors.New("already closed")

	// ErrInvalidChannel reports a channel id outside the mixer's range.
	ErrInvalidChannel = errors.New("invalid channel")

	// ErrUnsupportedAudio reports decoded audio that cannot be represented by any AudioFormat.
	ErrUnsupportedAudio = errors.New("unsupported audio stream")
)
