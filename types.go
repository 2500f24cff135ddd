package ndsp

import (
	"sync/atomic"
	"unsafe"
)

// Descriptor is the fixed-layout record handed to the hardware for one wave buffer submission.
// It mirrors ndspWaveBuf: data address, sample count, ADPCM state, offset, then the looping flag, status and
// sequence id, then the queue link.
//
// The address, sample count, offset and looping flag are written once when the owning WaveInfo is built.
// Status, sequence id and link belong to the hardware and are only exposed through read accessors.
type Descriptor struct {
	data     uintptr
	nsamples uint32
	adpcm    uintptr // ADPCM predictor state, unused
	offset   uint32
	// ctrl packs looping (bits 0-7), status (bits 8-15) and sequence id (bits 16-31).
	// On little-endian this is the byte layout of `bool looping; u8 status; u16 sequence_id`.
	ctrl uint32
	next *Descriptor
}

const (
	ctrlLoopMask   = 0x000000ff
	ctrlStatusMask = 0x0000ff00
	ctrlSeqMask    = 0xffff0000

	ctrlStatusShift = 8
	ctrlSeqShift    = 16
)

// Addr returns the address of the sample data.
func (d *Descriptor) Addr() uintptr {
	return d.data
}

// SampleCount returns the number of samples the hardware plays from Addr.
func (d *Descriptor) SampleCount() uint32 {
	return d.nsamples
}

// Offset returns the sample offset playback starts at.
func (d *Descriptor) Offset() uint32 {
	return d.offset
}

// Looping reports whether the hardware restarts the buffer when it finishes.
func (d *Descriptor) Looping() bool {
	return atomic.LoadUint32(&d.ctrl)&ctrlLoopMask != 0
}

// RawStatus returns the undecoded status byte as last written by the hardware.
func (d *Descriptor) RawStatus() uint8 {
	return uint8((atomic.LoadUint32(&d.ctrl) & ctrlStatusMask) >> ctrlStatusShift)
}

// SequenceID returns the id the hardware assigned when the descriptor was queued.
func (d *Descriptor) SequenceID() uint16 {
	return uint16((atomic.LoadUint32(&d.ctrl) & ctrlSeqMask) >> ctrlSeqShift)
}

// Next returns the descriptor queued after this one, if any.
func (d *Descriptor) Next() *Descriptor {
	return (*Descriptor)(atomic.LoadPointer((*unsafe.Pointer)(unsafe.Pointer(&d.next))))
}

// setHardwareStatus stores a status code, keeping the other ctrl fields.
// Only the hardware side (the Mixer implementation) writes the status.
func (d *Descriptor) setHardwareStatus(s uint8) {
	for {
		old := atomic.LoadUint32(&d.ctrl)
		v := (old &^ ctrlStatusMask) | uint32(s)<<ctrlStatusShift
		if atomic.CompareAndSwapUint32(&d.ctrl, old, v) {
			return
		}
	}
}

// setHardwareQueued marks the descriptor queued with the given sequence id.
func (d *Descriptor) setHardwareQueued(seq uint16) {
	for {
		old := atomic.LoadUint32(&d.ctrl)
		v := (old & ctrlLoopMask) | uint32(STATUS_QUEUED)<<ctrlStatusShift | uint32(seq)<<ctrlSeqShift
		if atomic.CompareAndSwapUint32(&d.ctrl, old, v) {
			return
		}
	}
}

func (d *Descriptor) setHardwareNext(n *Descriptor) {
	atomic.StorePointer((*unsafe.Pointer)(unsafe.Pointer(&d.next)), unsafe.Pointer(n))
}

// newDescriptor builds a descriptor with all hardware fields zeroed, i.e. in the Free state.
func newDescriptor(data []byte, nsamples int, looping bool) Descriptor {
	d := Descriptor{
		nsamples: uint32(nsamples),
	}

	if len(data) > 0 {
		d.data = uintptr(unsafe.Pointer(&data[0]))
	}

	if looping {
		d.ctrl = 1
	}

	return d
}
