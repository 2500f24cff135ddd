package ndsp

import (
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

// WaveBuffer owns a block of sample data and its audio format.
// The data is flushed to memory when the buffer is created, so the hardware observes it, and invalidated when
// the buffer is closed.
//
// A WaveBuffer may be borrowed by at most one live WaveInfo at a time, and cannot be closed while borrowed.
type WaveBuffer struct {
	mu     sync.Mutex
	block  *Block
	format AudioFormat
	cache  Cache
	logger *log.Logger
	info   *WaveInfo // live borrower
	closed bool
}

// NewWaveBuffer wraps a block allocated from a Region. The buffer takes ownership of the block and frees it on Close;
// until then freeing or reallocating the block directly fails with ErrBlockOwned.
// The block memory is flushed before NewWaveBuffer returns; a flush failure is returned and the block is left to
// the caller.
func NewWaveBuffer(block *Block, format AudioFormat) (*WaveBuffer, error) {
	if block == nil || block.region == nil || block.Bytes() == nil {
		return nil, fmt.Errorf("%w: nil or freed block", ErrInvalidBlock)
	}

	if FormatToBits(format) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrInvalidFormat, format)
	}

	if err := block.region.claim(block); err != nil {
		return nil, err
	}

	w := &WaveBuffer{
		block:  block,
		format: format,
		cache:  block.region.Cache(),
		logger: block.region.Logger(),
	}

	if err := w.cache.Flush(block.Bytes()); err != nil {
		block.region.unclaim(block)

		return nil, fmt.Errorf("%w: flush of %d bytes: %v", ErrCacheOperation, block.Len(), err)
	}

	return w, nil
}

// AllocWaveBuffer allocates size bytes from r with DefaultAlignment and wraps them in a WaveBuffer.
// The memory is zeroed.
func AllocWaveBuffer(r *Region, size int, format AudioFormat) (*WaveBuffer, error) {
	block, err := r.Alloc(size, DefaultAlignment)
	if err != nil {
		return nil, err
	}

	clear(block.Bytes())

	w, err := NewWaveBuffer(block, format)
	if err != nil {
		_ = block.Free()

		return nil, err
	}

	return w, nil
}

// Format returns the audio format of the samples.
func (w *WaveBuffer) Format() AudioFormat {
	return w.format
}

// SampleCount returns the number of samples in the buffer, derived from its length and format.
func (w *WaveBuffer) SampleCount() int {
	return BytesToSamples(w.format, len(w.block.Bytes()))
}

// Len returns the size of the sample data in bytes.
func (w *WaveBuffer) Len() int {
	return len(w.block.Bytes())
}

// Duration returns the playback time of the buffer at the given sample rate.
func (w *WaveBuffer) Duration(rate uint32) time.Duration {
	if rate == 0 {
		return 0
	}

	ns := (1e9 * float64(w.SampleCount())) / float64(rate)

	return time.Duration(ns)
}

// Bytes returns the sample data.
// Writes through the returned slice are not flushed and race with the hardware while the buffer is queued or
// playing; use Update to modify the samples.
func (w *WaveBuffer) Bytes() []byte {
	return w.block.Bytes()
}

// Update calls fn with the sample data and flushes it afterwards.
// It fails with ErrBufferBusy while the borrowing WaveInfo is queued or playing.
func (w *WaveBuffer) Update(fn func(data []byte)) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return fmt.Errorf("update of wave buffer: %w", ErrClosed)
	}

	if w.info != nil {
		if s, err := DecodeStatus(w.info.desc.RawStatus()); err != nil || s.InFlight() {
			return fmt.Errorf("%w: status %s", ErrBufferBusy, Status(w.info.desc.RawStatus()))
		}
	}

	fn(w.block.Bytes())

	if err := w.cache.Flush(w.block.Bytes()); err != nil {
		return fmt.Errorf("%w: flush of %d bytes: %v", ErrCacheOperation, w.block.Len(), err)
	}

	return nil
}

// Close invalidates the sample data and frees it back to its region.
// It fails with ErrBufferBorrowed, leaving the buffer intact, while a WaveInfo still borrows it.
// Invalidate and free failures are logged.
func (w *WaveBuffer) Close() error {
	if w == nil {
		return nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}

	if w.info != nil {
		return fmt.Errorf("close of wave buffer: %w", ErrBufferBorrowed)
	}

	w.closed = true

	if err := w.cache.Invalidate(w.block.Bytes()); err != nil {
		w.logger.Error("wave buffer invalidate failed", "bytes", w.block.Len(), "error", err)
	}

	if err := w.block.region.releaseOwned(w.block); err != nil {
		w.logger.Error("wave buffer free failed", "error", err)
	}

	return nil
}

// borrow registers info as the live borrower.
func (w *WaveBuffer) borrow(info *WaveInfo) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return fmt.Errorf("borrow of wave buffer: %w", ErrClosed)
	}

	if w.info != nil {
		return fmt.Errorf("%w: already referenced by a live wave info", ErrBufferBorrowed)
	}

	w.info = info

	return nil
}

func (w *WaveBuffer) release(info *WaveInfo) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.info == info {
		w.info = nil
	}
}
