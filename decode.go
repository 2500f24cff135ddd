package ndsp

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-audio/wav"
	"github.com/hajimehoshi/go-mp3"
	"github.com/jfreymuth/oggvorbis"
)

// LoadFile decodes the file at path into a WaveBuffer allocated from r, choosing the decoder by extension.
func LoadFile(r *Region, path string) (*WaveBuffer, uint32, error) {
	var load func(*Region, *os.File) (*WaveBuffer, uint32, error)

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".wav", ".wave":
		load = func(r *Region, f *os.File) (*WaveBuffer, uint32, error) { return LoadWAV(r, f) }
	case ".mp3":
		load = func(r *Region, f *os.File) (*WaveBuffer, uint32, error) { return LoadMP3(r, f) }
	case ".ogg", ".oga":
		load = func(r *Region, f *os.File) (*WaveBuffer, uint32, error) { return LoadVorbis(r, f) }
	default:
		return nil, 0, fmt.Errorf("%w: unknown file extension %q", ErrUnsupportedAudio, ext)
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer file.Close()

	return load(r, file)
}

// LoadWAV decodes an integer PCM WAV stream into a WaveBuffer allocated from r.
// 8-bit files produce PCM8 buffers, deeper files are reduced to PCM16. It returns the buffer and its sample rate.
func LoadWAV(r *Region, rs io.ReadSeeker) (*WaveBuffer, uint32, error) {
	decoder := wav.NewDecoder(rs)
	if !decoder.IsValidFile() {
		return nil, 0, fmt.Errorf("%w: invalid WAV file", ErrUnsupportedAudio)
	}

	// Format 1 is integer PCM, 3 is IEEE float.
	if decoder.WavAudioFormat != 1 {
		return nil, 0, fmt.Errorf("%w: WAV audio format %d is not integer PCM", ErrUnsupportedAudio, decoder.WavAudioFormat)
	}

	buf, err := decoder.FullPCMBuffer()
	if err != nil {
		return nil, 0, fmt.Errorf("failed to decode WAV: %w", err)
	}

	depth := int(decoder.BitDepth)
	format, err := pcmFormat(int(decoder.NumChans), depth)
	if err != nil {
		return nil, 0, err
	}

	samples := buf.Data
	size := len(samples) * int(FormatToBits(format)) / 8 / format.Channels()

	w, err := fillWaveBuffer(r, format, size, func(dst []byte) {
		if depth == 8 {
			// WAV stores 8-bit samples unsigned, the DSP expects them signed.
			for i, s := range samples {
				dst[i] = byte(int8(s - 128))
			}

			return
		}

		for i, s := range samples {
			if depth > 16 {
				s >>= depth - 16
			}
			binary.LittleEndian.PutUint16(dst[i*2:], uint16(clamp16(s)))
		}
	})
	if err != nil {
		return nil, 0, err
	}

	return w, decoder.SampleRate, nil
}

// LoadMP3 decodes an MP3 stream into a PCM16 stereo WaveBuffer allocated from r.
// It returns the buffer and its sample rate.
func LoadMP3(r *Region, rd io.Reader) (*WaveBuffer, uint32, error) {
	decoder, err := mp3.NewDecoder(rd)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrUnsupportedAudio, err)
	}

	// The decoder always produces 16-bit little-endian stereo.
	pcm, err := io.ReadAll(decoder)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to decode MP3: %w", err)
	}

	size := len(pcm) / int(FrameSize(FORMAT_PCM16_STEREO)) * int(FrameSize(FORMAT_PCM16_STEREO))

	w, err := fillWaveBuffer(r, FORMAT_PCM16_STEREO, size, func(dst []byte) {
		copy(dst, pcm)
	})
	if err != nil {
		return nil, 0, err
	}

	return w, uint32(decoder.SampleRate()), nil
}

// LoadVorbis decodes an Ogg Vorbis stream into a PCM16 WaveBuffer allocated from r.
// It returns the buffer and its sample rate.
func LoadVorbis(r *Region, rd io.Reader) (*WaveBuffer, uint32, error) {
	samples, info, err := oggvorbis.ReadAll(rd)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to decode Ogg Vorbis: %w", err)
	}

	format, err := pcmFormat(info.Channels, 16)
	if err != nil {
		return nil, 0, err
	}

	w, err := fillWaveBuffer(r, format, len(samples)*2, func(dst []byte) {
		for i, s := range samples {
			v := int(math.Round(float64(s) * math.MaxInt16))
			binary.LittleEndian.PutUint16(dst[i*2:], uint16(clamp16(v)))
		}
	})
	if err != nil {
		return nil, 0, err
	}

	return w, uint32(info.SampleRate), nil
}

// pcmFormat selects the PCM format for a channel count and source bit depth.
func pcmFormat(channels, depth int) (AudioFormat, error) {
	if depth <= 0 || depth > 32 {
		return FORMAT_INVALID, fmt.Errorf("%w: %d-bit samples", ErrUnsupportedAudio, depth)
	}

	switch {
	case channels == 1 && depth == 8:
		return FORMAT_PCM8_MONO, nil
	case channels == 2 && depth == 8:
		return FORMAT_PCM8_STEREO, nil
	case channels == 1:
		return FORMAT_PCM16_MONO, nil
	case channels == 2:
		return FORMAT_PCM16_STEREO, nil
	default:
		return FORMAT_INVALID, fmt.Errorf("%w: %d channels", ErrUnsupportedAudio, channels)
	}
}

// fillWaveBuffer allocates size bytes from r, lets fill write the samples and wraps the block.
func fillWaveBuffer(r *Region, format AudioFormat, size int, fill func(dst []byte)) (*WaveBuffer, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: no samples", ErrUnsupportedAudio)
	}

	block, err := r.Alloc(size, DefaultAlignment)
	if err != nil {
		return nil, err
	}

	fill(block.Bytes())

	w, err := NewWaveBuffer(block, format)
	if err != nil {
		_ = block.Free()

		return nil, err
	}

	return w, nil
}

func clamp16(v int) int16 {
	if v > math.MaxInt16 {
		return math.MaxInt16
	}

	if v < math.MinInt16 {
		return math.MinInt16
	}

	return int16(v)
}
