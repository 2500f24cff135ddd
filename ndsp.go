// Package ndsp manages audio wave buffers handed to an asynchronous DSP channel mixer, and the memory regions they are built from.
//
// A WaveBuffer owns sample data allocated from a Region. A WaveInfo borrows a WaveBuffer and carries the
// hardware-visible Descriptor for one submission to a Mixer channel. The hardware advances the descriptor status
// Free -> Queued -> Playing -> Done; software only reads it.
package ndsp

import "fmt"

// AudioFormat defines the sample format of a wave buffer.
// These values use the DSP encoding: the channel count in bits 0-1 and the sample encoding in bits 2-3.
type AudioFormat uint16

const (
	FORMAT_INVALID      AudioFormat = 0
	FORMAT_PCM8_MONO    AudioFormat = 1 | encodingPCM8<<2
	FORMAT_PCM16_MONO   AudioFormat = 1 | encodingPCM16<<2
	FORMAT_ADPCM_MONO   AudioFormat = 1 | encodingADPCM<<2
	FORMAT_PCM8_STEREO  AudioFormat = 2 | encodingPCM8<<2
	FORMAT_PCM16_STEREO AudioFormat = 2 | encodingPCM16<<2
)

const (
	encodingPCM8  = 0
	encodingPCM16 = 1
	encodingADPCM = 2
)

// AudioFormatNames provides human-readable names for audio formats.
var AudioFormatNames = map[AudioFormat]string{
	FORMAT_PCM8_MONO:    "PCM8_MONO",
	FORMAT_PCM16_MONO:   "PCM16_MONO",
	FORMAT_ADPCM_MONO:   "ADPCM_MONO",
	FORMAT_PCM8_STEREO:  "PCM8_STEREO",
	FORMAT_PCM16_STEREO: "PCM16_STEREO",
}

// String returns the name of the format.
func (f AudioFormat) String() string {
	if name, ok := AudioFormatNames[f]; ok {
		return name
	}

	return fmt.Sprintf("AudioFormat(%#x)", uint16(f))
}

// Channels returns the number of interleaved channels of the format.
func (f AudioFormat) Channels() int {
	if FormatToBits(f) == 0 {
		return 0
	}

	return int(f & 3)
}

// Status defines the state of a descriptor as written by the hardware.
// These values correspond to the NDSP_WBUF_* constants.
type Status uint8

const (
	STATUS_FREE    Status = 0 // Not queued on any channel.
	STATUS_QUEUED  Status = 1 // Accepted into the channel queue, not started.
	STATUS_PLAYING Status = 2 // Being consumed by the mixer.
	STATUS_DONE    Status = 3 // Finished. The hardware will not touch the memory again.
)

// StatusNames provides human-readable names for descriptor states.
// The index corresponds to the Status value.
var StatusNames = []string{
	"FREE",
	"QUEUED",
	"PLAYING",
	"DONE",
}

// String returns the name of the status.
func (s Status) String() string {
	if int(s) < len(StatusNames) {
		return StatusNames[s]
	}

	return fmt.Sprintf("Status(%d)", uint8(s))
}

// InFlight reports whether the hardware may still read the memory behind a descriptor in this state.
func (s Status) InFlight() bool {
	return s == STATUS_QUEUED || s == STATUS_PLAYING
}

// DecodeStatus converts a raw status code to a Status.
// Any value outside the four known states indicates a corrupted descriptor or an incompatible layout.
func DecodeStatus(v uint8) (Status, error) {
	switch Status(v) {
	case STATUS_FREE, STATUS_QUEUED, STATUS_PLAYING, STATUS_DONE:
		return Status(v), nil
	default:
		return 0, fmt.Errorf("%w: code %d", ErrInvalidStatus, v)
	}
}

// FormatToBits returns the number of bits occupied by one frame (one sample for each channel) of the format.
// ADPCM packs a sample into a nibble, so it returns 4.
func FormatToBits(f AudioFormat) uint32 {
	switch f {
	case FORMAT_PCM8_MONO:
		return 8
	case FORMAT_PCM16_MONO, FORMAT_PCM8_STEREO:
		return 16
	case FORMAT_PCM16_STEREO:
		return 32
	case FORMAT_ADPCM_MONO:
		return 4
	default:
		return 0
	}
}

// FrameSize returns the size of a single frame in bytes.
// It returns 0 for unknown formats and for ADPCM, whose frames are smaller than a byte.
func FrameSize(f AudioFormat) uint32 {
	return FormatToBits(f) / 8
}

// BytesToSamples converts a number of bytes to the corresponding number of samples (frames) for the format.
func BytesToSamples(f AudioFormat, bytes int) int {
	bits := FormatToBits(f)
	if bits == 0 {
		return 0
	}

	return bytes * 8 / int(bits)
}

// SamplesToBytes converts a number of samples (frames) to the corresponding number of bytes for the format.
func SamplesToBytes(f AudioFormat, samples int) int {
	bits := FormatToBits(f)
	if bits == 0 {
		return 0
	}

	return (samples*int(bits) + 7) / 8
}
