package ndsp

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

const (
	// DefaultChannels is the number of channels of the DSP mixer.
	DefaultChannels = 24
	// DefaultSampleRate is the native output rate of the DSP in Hz.
	DefaultSampleRate = 32728
)

// EmulatorConfig describes an emulated mixer.
type EmulatorConfig struct {
	Channels   int    // 0 selects DefaultChannels.
	SampleRate uint32 // Initial rate of every channel. 0 selects DefaultSampleRate.
	Logger     *log.Logger
}

type emuChannel struct {
	queue []*Descriptor
	pos   uint32 // samples consumed from the head descriptor
	rate  uint32
}

// Emulator is a Mixer that plays descriptors in software.
// It advances descriptor status the way the DSP does, either on demand with Step and Tick or in real time with Run.
// Sample data is never read. An Emulator is safe for concurrent use.
type Emulator struct {
	mu       sync.Mutex
	channels []emuChannel
	seq      uint16
	logger   *log.Logger
}

// NewEmulator creates an emulated mixer. A nil config selects the defaults.
func NewEmulator(config *EmulatorConfig) *Emulator {
	var cfg EmulatorConfig
	if config != nil {
		cfg = *config
	}

	if cfg.Channels <= 0 {
		cfg.Channels = DefaultChannels
	}

	if cfg.SampleRate == 0 {
		cfg.SampleRate = DefaultSampleRate
	}

	if cfg.Logger == nil {
		cfg.Logger = NewLogger()
	}

	e := &Emulator{
		channels: make([]emuChannel, cfg.Channels),
		logger:   cfg.Logger,
	}

	for i := range e.channels {
		e.channels[i].rate = cfg.SampleRate
	}

	return e
}

// NumChannels returns the number of mixer channels.
func (e *Emulator) NumChannels() int {
	return len(e.channels)
}

// Submit appends d to the channel queue and marks it queued with a new sequence id.
func (e *Emulator) Submit(channel int, d *Descriptor) error {
	if d == nil {
		return errors.New("submit of nil descriptor")
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	c, err := e.channel(channel)
	if err != nil {
		return err
	}

	s, err := DecodeStatus(d.RawStatus())
	if err != nil {
		return err
	}

	if s.InFlight() {
		return fmt.Errorf("%w: status %s", ErrInFlight, s)
	}

	e.seq++
	d.setHardwareNext(nil)
	d.setHardwareQueued(e.seq)

	if n := len(c.queue); n > 0 {
		c.queue[n-1].setHardwareNext(d)
	}

	c.queue = append(c.queue, d)

	e.logger.Debug("descriptor queued", "channel", channel, "seq", e.seq, "samples", d.SampleCount(), "looping", d.Looping())

	return nil
}

// Clear stops the channel and drops its queue. Dropped descriptors return to the Free state.
func (e *Emulator) Clear(channel int) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	c, err := e.channel(channel)
	if err != nil {
		return err
	}

	for _, d := range c.queue {
		d.setHardwareNext(nil)
		d.setHardwareStatus(uint8(STATUS_FREE))
	}

	e.logger.Debug("channel cleared", "channel", channel, "dropped", len(c.queue))

	c.queue = nil
	c.pos = 0

	return nil
}

// Step plays samples on a channel. The head descriptor becomes Playing, and Done once all its samples are
// consumed, at which point the next queued descriptor starts. Looping descriptors restart instead of finishing.
func (e *Emulator) Step(channel int, samples uint32) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	c, err := e.channel(channel)
	if err != nil {
		return err
	}

	c.step(samples)

	return nil
}

// Tick plays samples on every channel.
func (e *Emulator) Tick(samples uint32) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for i := range e.channels {
		e.channels[i].step(samples)
	}
}

// Run advances every channel in real time at its sample rate until ctx is done.
// It returns the context error.
func (e *Emulator) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("invalid emulator interval %v", interval)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			e.mu.Lock()
			for i := range e.channels {
				c := &e.channels[i]
				c.step(uint32(uint64(c.rate) * uint64(interval) / uint64(time.Second)))
			}
			e.mu.Unlock()
		}
	}
}

// SetRate sets the playback rate of a channel in Hz.
func (e *Emulator) SetRate(channel int, rate uint32) error {
	if rate == 0 {
		return fmt.Errorf("invalid sample rate %d", rate)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	c, err := e.channel(channel)
	if err != nil {
		return err
	}

	c.rate = rate

	return nil
}

// Rate returns the playback rate of a channel in Hz, or 0 for an invalid channel.
func (e *Emulator) Rate(channel int) uint32 {
	e.mu.Lock()
	defer e.mu.Unlock()

	c, err := e.channel(channel)
	if err != nil {
		return 0
	}

	return c.rate
}

// IsPlaying reports whether the head of the channel queue is playing.
func (e *Emulator) IsPlaying(channel int) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	c, err := e.channel(channel)
	if err != nil || len(c.queue) == 0 {
		return false
	}

	return Status(c.queue[0].RawStatus()) == STATUS_PLAYING
}

// SamplePos returns the number of samples played from the head descriptor of the channel.
func (e *Emulator) SamplePos(channel int) uint32 {
	e.mu.Lock()
	defer e.mu.Unlock()

	c, err := e.channel(channel)
	if err != nil {
		return 0
	}

	return c.pos
}

// QueueLen returns the number of queued or playing descriptors on the channel.
func (e *Emulator) QueueLen(channel int) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	c, err := e.channel(channel)
	if err != nil {
		return 0
	}

	return len(c.queue)
}

func (e *Emulator) channel(id int) (*emuChannel, error) {
	if id < 0 || id >= len(e.channels) {
		return nil, fmt.Errorf("%w: %d (mixer has %d)", ErrInvalidChannel, id, len(e.channels))
	}

	return &e.channels[id], nil
}

func (c *emuChannel) step(samples uint32) {
	for len(c.queue) > 0 {
		head := c.queue[0]

		if Status(head.RawStatus()) == STATUS_QUEUED {
			head.setHardwareStatus(uint8(STATUS_PLAYING))
			c.pos = head.Offset()
		}

		if samples == 0 {
			return
		}

		remaining := uint32(0)
		if n := head.SampleCount(); n > c.pos {
			remaining = n - c.pos
		}

		if samples < remaining {
			c.pos += samples

			return
		}

		samples -= remaining

		if head.Looping() && head.SampleCount() > 0 {
			c.pos = 0

			continue
		}

		head.setHardwareStatus(uint8(STATUS_DONE))
		c.queue = c.queue[1:]
		c.pos = 0
	}
}
