// Package audio decodes tracks and plays them through a rate-controlled
// player that the deck engine drives as its audio device.
package audio

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/hajimehoshi/go-mp3"
)

// Channels is the channel count of every decoded track and of the output.
const Channels = 2

var (
	ErrUnsupportedFormat = errors.New("unsupported track format")
	ErrEmptyTrack        = errors.New("track has no samples")
)

// Track is a fully decoded track held in memory.
type Track struct {
	Name       string
	SampleRate int
	// Samples are interleaved stereo frames in [-1, 1].
	Samples []float32
}

// Frames returns the number of stereo frames.
func (t *Track) Frames() int { return len(t.Samples) / Channels }

// Duration returns the track length in seconds.
func (t *Track) Duration() float64 {
	if t == nil || t.SampleRate <= 0 {
		return 0
	}
	return float64(t.Frames()) / float64(t.SampleRate)
}

// LoadTrack decodes the WAV or MP3 file at path.
func LoadTrack(path string) (*Track, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("load track: %w", err)
	}
	defer f.Close()

	var t *Track
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".wav":
		t, err = DecodeWAV(f)
	case ".mp3":
		t, err = DecodeMP3(f)
	default:
		return nil, fmt.Errorf("load track %s: %w: %q", path, ErrUnsupportedFormat, ext)
	}
	if err != nil {
		return nil, fmt.Errorf("load track %s: %w", path, err)
	}
	t.Name = filepath.Base(path)
	return t, nil
}

// DecodeWAV decodes a PCM WAV stream. Mono is duplicated to both channels
// and channels past the second are dropped.
func DecodeWAV(r io.ReadSeeker) (*Track, error) {
	d := wav.NewDecoder(r)
	if !d.IsValidFile() {
		return nil, fmt.Errorf("decode wav: %w: invalid file", ErrUnsupportedFormat)
	}
	buf, err := d.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("decode wav: %w", err)
	}
	bitDepth := int(d.SampleBitDepth())
	if bitDepth == 0 {
		return nil, fmt.Errorf("decode wav: %w: unknown bit depth", ErrUnsupportedFormat)
	}
	format := buf.Format
	if format == nil || format.NumChannels <= 0 || format.SampleRate <= 0 {
		return nil, fmt.Errorf("decode wav: %w: missing format", ErrUnsupportedFormat)
	}
	samples := interleave(buf, bitDepth)
	if len(samples) == 0 {
		return nil, fmt.Errorf("decode wav: %w", ErrEmptyTrack)
	}
	return &Track{SampleRate: format.SampleRate, Samples: samples}, nil
}

func interleave(buf *goaudio.IntBuffer, bitDepth int) []float32 {
	nch := buf.Format.NumChannels
	frames := len(buf.Data) / nch
	out := make([]float32, frames*Channels)

	scale := math.Pow(2, float64(bitDepth-1))
	conv := func(v int) float32 {
		if bitDepth == 8 {
			// 8-bit PCM is unsigned.
			return float32(float64(v-128) / 128)
		}
		return float32(float64(v) / scale)
	}
	for i := 0; i < frames; i++ {
		l := conv(buf.Data[i*nch])
		r := l
		if nch > 1 {
			r = conv(buf.Data[i*nch+1])
		}
		out[i*Channels] = l
		out[i*Channels+1] = r
	}
	return out
}

// DecodeMP3 decodes an MP3 stream. The decoder always yields 16-bit
// little-endian stereo.
func DecodeMP3(r io.Reader) (*Track, error) {
	d, err := mp3.NewDecoder(r)
	if err != nil {
		return nil, fmt.Errorf("decode mp3: %w", err)
	}
	raw, err := io.ReadAll(d)
	if err != nil {
		return nil, fmt.Errorf("decode mp3: %w", err)
	}
	n := len(raw) / 2
	if n < Channels {
		return nil, fmt.Errorf("decode mp3: %w", ErrEmptyTrack)
	}
	samples := make([]float32, n-n%Channels)
	for i := range samples {
		s := int16(uint16(raw[2*i]) | uint16(raw[2*i+1])<<8)
		samples[i] = float32(s) / 32768
	}
	return &Track{SampleRate: d.SampleRate(), Samples: samples}, nil
}
