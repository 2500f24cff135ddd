package ndsp

import (
	"fmt"

	"github.com/charmbracelet/log"
)

// Mixer is the channel subsystem that consumes descriptors.
type Mixer interface {
	// Submit appends d to the queue of the channel. The hardware then advances the descriptor status
	// Free -> Queued -> Playing -> Done.
	Submit(channel int, d *Descriptor) error
	// Clear stops the channel and drops every descriptor queued on it.
	Clear(channel int) error
}

// WaveInfo binds a borrowed WaveBuffer to one hardware submission.
// It holds the descriptor the hardware reads and records the channel it was queued on.
//
// Close must be called before the borrowed buffer can be closed. If the hardware still owns the descriptor,
// Close clears the channel first.
type WaveInfo struct {
	buffer  *WaveBuffer
	desc    Descriptor
	looping bool
	mixer   Mixer
	channel int
	bound   bool
	logger  *log.Logger
	closed  bool
}

// NewWaveInfo builds a descriptor for buffer in the Free state. Nothing is submitted.
// It fails with ErrBufferBorrowed if another live WaveInfo references the buffer.
func NewWaveInfo(buffer *WaveBuffer, looping bool) (*WaveInfo, error) {
	if buffer == nil {
		return nil, fmt.Errorf("%w: nil wave buffer", ErrInvalidBlock)
	}

	info := &WaveInfo{
		buffer:  buffer,
		looping: looping,
		logger:  buffer.logger,
	}

	if err := buffer.borrow(info); err != nil {
		return nil, err
	}

	info.desc = newDescriptor(buffer.Bytes(), buffer.SampleCount(), looping)

	return info, nil
}

// Buffer returns the borrowed wave buffer.
func (w *WaveInfo) Buffer() *WaveBuffer {
	return w.buffer
}

// Descriptor returns the hardware-visible descriptor.
func (w *WaveInfo) Descriptor() *Descriptor {
	return &w.desc
}

// Status returns the descriptor status as written by the hardware.
// It panics with an error wrapping ErrInvalidStatus if the status byte holds an unknown code, since that means
// the descriptor memory is corrupt or the hardware uses a different layout.
func (w *WaveInfo) Status() Status {
	s, err := DecodeStatus(w.desc.RawStatus())
	if err != nil {
		panic(fmt.Errorf("ndsp: wave info status: %w", err))
	}

	return s
}

// Channel returns the channel the descriptor was last queued on.
func (w *WaveInfo) Channel() (int, bool) {
	return w.channel, w.bound
}

// Queue submits the descriptor to a mixer channel and records the channel for teardown.
// The buffer data was flushed when the WaveBuffer was created or last updated, so it is visible to the hardware
// before the submission. A Done descriptor is rebuilt first, so the mixer never sees hardware fields left from
// the previous cycle. It fails with ErrInFlight if the descriptor is already queued or playing.
func (w *WaveInfo) Queue(m Mixer, channel int) error {
	if w.closed {
		return fmt.Errorf("queue of wave info: %w", ErrClosed)
	}

	switch s := w.Status(); {
	case s.InFlight():
		return fmt.Errorf("%w: status %s", ErrInFlight, s)
	case s == STATUS_DONE:
		w.desc = newDescriptor(w.buffer.Bytes(), w.buffer.SampleCount(), w.looping)
	}

	if err := m.Submit(channel, &w.desc); err != nil {
		return fmt.Errorf("submit to channel %d failed: %w", channel, err)
	}

	w.bindChannel(m, channel)

	return nil
}

// bindChannel records which mixer channel holds the descriptor.
func (w *WaveInfo) bindChannel(m Mixer, channel int) {
	w.mixer = m
	w.channel = channel
	w.bound = true
}

// Reset rebuilds the descriptor for another submission, zeroing the hardware-owned fields.
// The sample count is recomputed from the buffer. It fails with ErrInFlight while the descriptor is queued or playing.
func (w *WaveInfo) Reset() error {
	if w.closed {
		return fmt.Errorf("reset of wave info: %w", ErrClosed)
	}

	if s := w.Status(); s.InFlight() {
		return fmt.Errorf("%w: status %s", ErrInFlight, s)
	}

	w.desc = newDescriptor(w.buffer.Bytes(), w.buffer.SampleCount(), w.looping)

	return nil
}

// Close releases the borrowed buffer.
// A Free or Done descriptor is simply dropped. A queued or playing one is first cleared from its channel so the
// hardware stops reading the buffer memory. Clear failures are logged, never returned.
func (w *WaveInfo) Close() {
	if w == nil || w.closed {
		return
	}

	w.closed = true

	raw := w.desc.RawStatus()
	s, err := DecodeStatus(raw)
	if err != nil {
		w.logger.Error("wave info closed with corrupt status", "status", raw, "error", err)
	}

	if err != nil || s.InFlight() {
		w.clear(s)
	}

	w.buffer.release(w)
}

func (w *WaveInfo) clear(s Status) {
	if !w.bound {
		w.logger.Error("wave info closed while in flight on no known channel", "status", s)

		return
	}

	if err := w.mixer.Clear(w.channel); err != nil {
		w.logger.Error("clearing channel of in-flight wave info failed", "channel", w.channel, "status", s, "error", err)
	}
}
